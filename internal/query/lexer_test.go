package query

import "testing"

func TestLexerTokenizesComparisonsAndBooleanOps(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []TokenType
		values   []string
	}{
		{
			name:     "simple equality",
			input:    "status == \"open\"",
			expected: []TokenType{TokenIdent, TokenEquals, TokenString, TokenEOF},
			values:   []string{"status", "==", "open", ""},
		},
		{
			name:     "not equals with number",
			input:    "age != 30",
			expected: []TokenType{TokenIdent, TokenNotEquals, TokenNumber, TokenEOF},
			values:   []string{"age", "!=", "30", ""},
		},
		{
			name:     "and/or/not keywords",
			input:    "a > 1 and b < 2 or not c == 3",
			expected: []TokenType{
				TokenIdent, TokenGreater, TokenNumber,
				TokenAnd,
				TokenIdent, TokenLess, TokenNumber,
				TokenOr,
				TokenNot,
				TokenIdent, TokenEquals, TokenNumber,
				TokenEOF,
			},
		},
		{
			name:     "dotted field path",
			input:    "author.id == 1",
			expected: []TokenType{TokenIdent, TokenDot, TokenIdent, TokenEquals, TokenNumber, TokenEOF},
		},
		{
			name:     "parenthesized in list",
			input:    "status in (\"open\", \"closed\")",
			expected: []TokenType{TokenIdent, TokenIn, TokenLParen, TokenString, TokenComma, TokenString, TokenRParen, TokenEOF},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l := NewLexer(tc.input)
			for i, want := range tc.expected {
				tok, err := l.NextToken()
				if err != nil {
					t.Fatalf("token %d: unexpected error: %v", i, err)
				}
				if tok.Type != want {
					t.Fatalf("token %d: got %s, want %s", i, tok.Type, want)
				}
				if tc.values != nil && tc.values[i] != "" && tok.Value != tc.values[i] {
					t.Fatalf("token %d: got value %q, want %q", i, tok.Value, tc.values[i])
				}
			}
		})
	}
}

func TestLexerRejectsBareBang(t *testing.T) {
	l := NewLexer("a ! b")
	if _, err := l.NextToken(); err != nil {
		t.Fatalf("unexpected error on 'a': %v", err)
	}
	if _, err := l.NextToken(); err == nil {
		t.Fatalf("expected an error for a bare '!'")
	}
}
