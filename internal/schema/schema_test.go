package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func personSchema(t *testing.T) (*Schema, *Entity) {
	t.Helper()
	s := New("test")
	person, err := s.Entity("Person", "person", nil, []AttributeSpec{
		{Name: "id", Kind: KindPrimaryKey, Scalar: ScalarInt},
		{Name: "name", Kind: KindRequired, Scalar: ScalarString},
		{Name: "spouse", Kind: KindOptional, RefName: "Person", Reverse: "spouse"},
	})
	require.NoError(t, err)
	return s, person
}

func TestGenerateResolvesSelfReverse(t *testing.T) {
	s, person := personSchema(t)
	require.NoError(t, s.Generate())

	spouse := person.MustAttribute("spouse")
	require.NotNil(t, spouse.Reverse)
	require.Same(t, spouse, spouse.Reverse) // symmetric self-reverse
	require.Equal(t, []string{"spouse-id"}, spouse.Columns)
}

func TestGenerateInfersUniqueReverse(t *testing.T) {
	s := New("test")
	_, err := s.Entity("Author", "author", nil, []AttributeSpec{
		{Name: "id", Kind: KindPrimaryKey, Scalar: ScalarInt},
		{Name: "books", Kind: KindSet, RefName: "Book"},
	})
	require.NoError(t, err)
	book, err := s.Entity("Book", "book", nil, []AttributeSpec{
		{Name: "id", Kind: KindPrimaryKey, Scalar: ScalarInt},
		{Name: "author", Kind: KindRequired, RefName: "Author"},
	})
	require.NoError(t, err)

	require.NoError(t, s.Generate())
	authorAttr := book.MustAttribute("author")
	require.NotNil(t, authorAttr.Reverse)
	require.Equal(t, "Author", authorAttr.Reverse.Entity.Name)
	require.Equal(t, "books", authorAttr.Reverse.Name)
}

func TestGenerateRejectsMissingPrimaryKey(t *testing.T) {
	s := New("test")
	_, err := s.Entity("Widget", "widget", nil, []AttributeSpec{
		{Name: "name", Kind: KindRequired, Scalar: ScalarString},
	})
	require.NoError(t, err)

	err = s.Generate()
	require.Error(t, err)
	var schemaErrs SchemaErrors
	require.ErrorAs(t, err, &schemaErrs)
	require.Len(t, schemaErrs, 1)
	require.Equal(t, "Widget", schemaErrs[0].Entity)
}

func TestGenerateRejectsAmbiguousReverse(t *testing.T) {
	s := New("test")
	_, err := s.Entity("A", "a", nil, []AttributeSpec{
		{Name: "id", Kind: KindPrimaryKey, Scalar: ScalarInt},
		{Name: "z", Kind: KindOptional, RefName: "B"},
	})
	require.NoError(t, err)
	_, err = s.Entity("B", "b", nil, []AttributeSpec{
		{Name: "id", Kind: KindPrimaryKey, Scalar: ScalarInt},
		{Name: "x", Kind: KindOptional, RefName: "A"},
		{Name: "y", Kind: KindOptional, RefName: "A"},
	})
	require.NoError(t, err)

	err = s.Generate()
	require.Error(t, err)
}

func TestSecondaryCompositeKey(t *testing.T) {
	s := New("test")
	e, err := s.Entity("Membership", "membership", nil, []AttributeSpec{
		{Name: "id", Kind: KindPrimaryKey, Scalar: ScalarInt},
		{Name: "team_id", Kind: KindRequired, Scalar: ScalarInt},
		{Name: "user_id", Kind: KindRequired, Scalar: ScalarInt},
	})
	require.NoError(t, err)
	require.NoError(t, s.SecondaryKey(e, "team_user", "team_id", "user_id"))
	require.NoError(t, s.Generate())

	teamID := e.MustAttribute("team_id")
	require.Len(t, teamID.CompositeKeys, 1)
	require.Equal(t, 0, teamID.CompositeKeys[0].Position)
}

func TestGenerateTwiceFails(t *testing.T) {
	s, _ := personSchema(t)
	require.NoError(t, s.Generate())
	require.Error(t, s.Generate())
}

func TestCheckRejectsRequiredNil(t *testing.T) {
	s, person := personSchema(t)
	require.NoError(t, s.Generate())
	name := person.MustAttribute("name")
	_, err := name.Check(nil)
	require.Error(t, err)
}

func TestInheritanceDiscriminatorDispatch(t *testing.T) {
	s := New("test")
	person, err := s.Entity("Person", "person", nil, []AttributeSpec{
		{Name: "id", Kind: KindPrimaryKey, Scalar: ScalarInt},
		{Name: "name", Kind: KindRequired, Scalar: ScalarString},
	})
	require.NoError(t, err)
	employee, err := s.Entity("Employee", "person", []*Entity{person}, []AttributeSpec{
		{Name: "salary", Kind: KindRequired, Scalar: ScalarInt},
	})
	require.NoError(t, err)
	require.NoError(t, s.SetDiscriminatorValue(employee, "employee"))

	require.NoError(t, s.Generate())
	require.NotNil(t, person.Discriminator)
	require.Same(t, person.Discriminator, employee.MustAttribute("discriminator"))

	found, ok := person.SubByDiscriminator("employee")
	require.True(t, ok)
	require.Same(t, employee, found)

	_, ok = person.SubByDiscriminator("contractor")
	require.False(t, ok)
}

func TestSetDiscriminatorValueRejectsRoot(t *testing.T) {
	s, person := personSchema(t)
	require.Error(t, s.SetDiscriminatorValue(person, "x"))
}

func TestCheckCoercesInt(t *testing.T) {
	s := New("test")
	e, err := s.Entity("Counter", "counter", nil, []AttributeSpec{
		{Name: "id", Kind: KindPrimaryKey, Scalar: ScalarInt},
		{Name: "count", Kind: KindRequired, Scalar: ScalarInt},
	})
	require.NoError(t, err)
	require.NoError(t, s.Generate())

	count := e.MustAttribute("count")
	v, err := count.Check(5)
	require.NoError(t, err)
	require.Equal(t, int64(5), v)
}
