package schemafile_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cormdev/corm/internal/schema"
	"github.com/cormdev/corm/internal/schemafile"
)

func TestParseBuildsEntitiesWithRelationships(t *testing.T) {
	doc := `
schema = "library"

[[entities]]
name = "Author"
table = "author"

[[entities.attributes]]
name = "id"
kind = "primary_key"
scalar = "int"

[[entities.attributes]]
name = "name"
kind = "required"
scalar = "string"

[[entities.attributes]]
name = "books"
kind = "set"
ref = "Book"

[[entities]]
name = "Book"
table = "book"

[[entities.attributes]]
name = "id"
kind = "primary_key"
scalar = "int"

[[entities.attributes]]
name = "title"
kind = "required"
scalar = "string"

[[entities.attributes]]
name = "author"
kind = "required"
ref = "Author"

[[entities.secondary_keys]]
name = "book_title_idx"
attributes = ["title"]
`

	s, err := schemafile.Parse(strings.NewReader(doc))
	require.NoError(t, err)

	author, ok := s.EntityByName("Author")
	require.True(t, ok)
	require.NotNil(t, author)
	book, ok := s.EntityByName("Book")
	require.True(t, ok)
	require.NotNil(t, book)

	authorAttr := book.MustAttribute("author")
	require.NotNil(t, authorAttr.Reverse)
	require.Equal(t, "books", authorAttr.Reverse.Name)

	titleKeys := book.Secondary
	require.Len(t, titleKeys, 1)
	require.Equal(t, "book_title_idx", titleKeys[0].Name)
}

func TestParseOrdersBasesBeforeSubclasses(t *testing.T) {
	doc := `
[[entities]]
name = "Employee"
table = "employee"
bases = ["Person"]

[[entities.attributes]]
name = "salary"
kind = "required"
scalar = "float"

[[entities]]
name = "Person"
table = "person"

[[entities.attributes]]
name = "id"
kind = "primary_key"
scalar = "int"
`

	s, err := schemafile.Parse(strings.NewReader(doc))
	require.NoError(t, err)

	employee, ok := s.EntityByName("Employee")
	require.True(t, ok)
	require.NotNil(t, employee)
	require.Len(t, employee.Bases, 1)
	require.Equal(t, "Person", employee.Bases[0].Name)
}

func TestParseRejectsUnknownKind(t *testing.T) {
	doc := `
[[entities]]
name = "Widget"
table = "widget"

[[entities.attributes]]
name = "id"
kind = "primary_key"
scalar = "int"

[[entities.attributes]]
name = "weird"
kind = "bogus"
scalar = "string"
`

	_, err := schemafile.Parse(strings.NewReader(doc))
	require.Error(t, err)
	require.ErrorIs(t, err, schema.ErrSchema)
}

func TestParseRejectsUnknownBase(t *testing.T) {
	doc := `
[[entities]]
name = "Employee"
table = "employee"
bases = ["Ghost"]

[[entities.attributes]]
name = "id"
kind = "primary_key"
scalar = "int"
`

	_, err := schemafile.Parse(strings.NewReader(doc))
	require.Error(t, err)
}
