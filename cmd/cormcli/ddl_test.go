package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cormdev/corm/internal/schema"
)

func TestCreateTableSQLRendersScalarAndRefColumns(t *testing.T) {
	s := schema.New("test")
	author, err := s.Entity("Author", "author", nil, []schema.AttributeSpec{
		{Name: "id", Kind: schema.KindPrimaryKey, Scalar: schema.ScalarInt},
		{Name: "books", Kind: schema.KindSet, RefName: "Book"},
	})
	require.NoError(t, err)
	book, err := s.Entity("Book", "book", nil, []schema.AttributeSpec{
		{Name: "id", Kind: schema.KindPrimaryKey, Scalar: schema.ScalarInt},
		{Name: "title", Kind: schema.KindRequired, Scalar: schema.ScalarString},
		{Name: "author", Kind: schema.KindRequired, RefName: "Author"},
	})
	require.NoError(t, err)
	require.NoError(t, s.Generate())
	_ = author

	sqlText, err := createTableSQL(book)
	require.NoError(t, err)
	require.Contains(t, sqlText, "CREATE TABLE IF NOT EXISTS book")
	require.Contains(t, sqlText, "title TEXT NOT NULL")
	require.Contains(t, sqlText, "INTEGER")
}

func TestM2MLinkTablesCoversSymmetricSet(t *testing.T) {
	s := schema.New("test")
	_, err := s.Entity("Student", "student", nil, []schema.AttributeSpec{
		{Name: "id", Kind: schema.KindPrimaryKey, Scalar: schema.ScalarInt},
		{Name: "courses", Kind: schema.KindSet, RefName: "Course"},
	})
	require.NoError(t, err)
	_, err = s.Entity("Course", "course", nil, []schema.AttributeSpec{
		{Name: "id", Kind: schema.KindPrimaryKey, Scalar: schema.ScalarInt},
		{Name: "students", Kind: schema.KindSet, RefName: "Student", Reverse: "courses"},
	})
	require.NoError(t, err)
	require.NoError(t, s.Generate())

	stmts := m2mLinkTables(s, func(left, right string) string { return left + "_" + right })
	require.Len(t, stmts, 1)
	require.Contains(t, stmts[0], "CREATE TABLE IF NOT EXISTS")
}

func TestBenchFieldsFillsRequiredScalarsOnly(t *testing.T) {
	s := schema.New("test")
	widget, err := s.Entity("Widget", "widget", nil, []schema.AttributeSpec{
		{Name: "id", Kind: schema.KindPrimaryKey, Scalar: schema.ScalarInt},
		{Name: "name", Kind: schema.KindRequired, Scalar: schema.ScalarString},
		{Name: "nickname", Kind: schema.KindOptional, Scalar: schema.ScalarString},
	})
	require.NoError(t, err)
	require.NoError(t, s.Generate())

	fields, err := benchFields(widget, 7)
	require.NoError(t, err)
	require.Equal(t, "name-7", fields["name"])
	_, hasNickname := fields["nickname"]
	require.False(t, hasNickname)
	_, hasID := fields["id"]
	require.False(t, hasID)
}
