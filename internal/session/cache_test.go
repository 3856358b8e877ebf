package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cormdev/corm/internal/provider/sqliteprovider"
	"github.com/cormdev/corm/internal/query"
	"github.com/cormdev/corm/internal/schema"
	"github.com/cormdev/corm/internal/session"
)

func personSchema(t *testing.T) (*schema.Schema, *schema.Entity) {
	t.Helper()
	s := schema.New("test")
	person, err := s.Entity("Person", "person", nil, []schema.AttributeSpec{
		{Name: "id", Kind: schema.KindPrimaryKey, Scalar: schema.ScalarInt},
		{Name: "name", Kind: schema.KindRequired, Scalar: schema.ScalarString},
		{Name: "spouse", Kind: schema.KindOptional, RefName: "Person", Reverse: "spouse"},
	})
	require.NoError(t, err)
	require.NoError(t, s.Generate())
	return s, person
}

func openSQLite(t *testing.T) *sqliteprovider.Provider {
	t.Helper()
	p, err := sqliteprovider.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestCreateWithAutopkAndReverseSymmetry(t *testing.T) {
	ctx := context.Background()
	s, person := personSchema(t)
	p := openSQLite(t)

	conn, err := p.Connect(ctx)
	require.NoError(t, err)
	_, err = conn.Execute(ctx, `CREATE TABLE person (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, "spouse-id" INTEGER)`, nil)
	require.NoError(t, err)
	require.NoError(t, conn.Release())

	c := session.New(s, p)
	a, err := c.New(ctx, person, map[string]any{"name": "A"})
	require.NoError(t, err)
	b, err := c.New(ctx, person, map[string]any{"name": "B"})
	require.NoError(t, err)
	require.NoError(t, b.Set(ctx, person.MustAttribute("spouse"), a))

	// Reverse symmetry before commit: setting b.spouse = a must also set a.spouse = b.
	av, err := a.Get(ctx, person.MustAttribute("spouse"))
	require.NoError(t, err)
	require.Same(t, b, av)

	require.NoError(t, c.Commit(ctx))

	require.NotNil(t, a.PKValue())
	require.NotNil(t, b.PKValue())
	require.NotEqual(t, a.PKValue(), b.PKValue())
}

func TestUniqueCollisionLeavesExactlyOneInstance(t *testing.T) {
	ctx := context.Background()
	s := schema.New("test")
	user, err := s.Entity("User", "user", nil, []schema.AttributeSpec{
		{Name: "id", Kind: schema.KindPrimaryKey, Scalar: schema.ScalarInt},
		{Name: "email", Kind: schema.KindUnique, Scalar: schema.ScalarString},
	})
	require.NoError(t, err)
	require.NoError(t, s.Generate())
	p := openSQLite(t)

	c := session.New(s, p)
	_, err = c.New(ctx, user, map[string]any{"email": "x@x"})
	require.NoError(t, err)

	_, err = c.New(ctx, user, map[string]any{"email": "x@x"})
	require.Error(t, err)
	require.True(t, errors.Is(err, session.ErrCacheIndexCollision))
}

func TestCyclicRequiredReferencesAreUnresolvable(t *testing.T) {
	ctx := context.Background()
	s := schema.New("test")
	_, err := s.Entity("A", "a", nil, []schema.AttributeSpec{
		{Name: "id", Kind: schema.KindPrimaryKey, Scalar: schema.ScalarInt},
		{Name: "b", Kind: schema.KindRequired, RefName: "B", Reverse: "a"},
	})
	require.NoError(t, err)
	bEntity, err := s.Entity("B", "b", nil, []schema.AttributeSpec{
		{Name: "id", Kind: schema.KindPrimaryKey, Scalar: schema.ScalarInt},
		{Name: "a", Kind: schema.KindRequired, RefName: "A"},
	})
	require.NoError(t, err)
	require.NoError(t, s.Generate())

	aEntity, _ := s.EntityByName("A")
	p := openSQLite(t)
	c := session.New(s, p)

	oa, err := c.New(ctx, aEntity, nil)
	require.NoError(t, err)
	ob, err := c.New(ctx, bEntity, nil)
	require.NoError(t, err)
	require.NoError(t, oa.Set(ctx, aEntity.MustAttribute("b"), ob))
	require.NoError(t, ob.Set(ctx, bEntity.MustAttribute("a"), oa))

	err = c.Flush(ctx)
	require.Error(t, err)
	require.True(t, errors.Is(err, session.ErrUnresolvableCyclicDependency))
}

func TestInheritanceDiscriminatorDispatchOnFetch(t *testing.T) {
	ctx := context.Background()
	s := schema.New("test")
	person, err := s.Entity("Person", "person", nil, []schema.AttributeSpec{
		{Name: "id", Kind: schema.KindPrimaryKey, Scalar: schema.ScalarInt},
		{Name: "name", Kind: schema.KindRequired, Scalar: schema.ScalarString},
	})
	require.NoError(t, err)
	employee, err := s.Entity("Employee", "person", []*schema.Entity{person}, []schema.AttributeSpec{
		{Name: "salary", Kind: schema.KindRequired, Scalar: schema.ScalarInt},
	})
	require.NoError(t, err)
	require.NoError(t, s.SetDiscriminatorValue(employee, "employee"))
	require.NoError(t, s.Generate())

	p := openSQLite(t)
	conn, err := p.Connect(ctx)
	require.NoError(t, err)
	_, err = conn.Execute(ctx, `CREATE TABLE person (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, discriminator TEXT)`, nil)
	require.NoError(t, err)
	require.NoError(t, conn.Release())

	c := session.New(s, p)
	plain, err := c.New(ctx, person, map[string]any{"name": "Plain"})
	require.NoError(t, err)
	emp, err := c.New(ctx, employee, map[string]any{"name": "Boss"})
	require.NoError(t, err)
	require.NoError(t, c.Commit(ctx))
	_ = plain
	_ = emp

	rows, err := query.On(person).Fetch(ctx, c)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	byName := make(map[string]*session.Instance, 2)
	for _, r := range rows {
		name, gerr := r.Get(ctx, person.MustAttribute("name"))
		require.NoError(t, gerr)
		byName[name.(string)] = r
	}
	require.Equal(t, person, byName["Plain"].Entity)
	require.Equal(t, employee, byName["Boss"].Entity)
}

func TestSetRejectsInstanceFromDifferentSession(t *testing.T) {
	ctx := context.Background()
	s, person := personSchema(t)
	p := openSQLite(t)

	conn, err := p.Connect(ctx)
	require.NoError(t, err)
	_, err = conn.Execute(ctx, `CREATE TABLE person (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, "spouse-id" INTEGER)`, nil)
	require.NoError(t, err)
	require.NoError(t, conn.Release())

	c1 := session.New(s, p)
	c2 := session.New(s, p)

	a, err := c1.New(ctx, person, map[string]any{"name": "A"})
	require.NoError(t, err)
	b, err := c2.New(ctx, person, map[string]any{"name": "B"})
	require.NoError(t, err)

	err = a.Set(ctx, person.MustAttribute("spouse"), b)
	require.ErrorIs(t, err, session.ErrObjectMixing)
}

func TestGetReturnsSameInstanceFromIdentityMap(t *testing.T) {
	ctx := context.Background()
	s, person := personSchema(t)
	p := openSQLite(t)

	conn, err := p.Connect(ctx)
	require.NoError(t, err)
	_, err = conn.Execute(ctx, `CREATE TABLE person (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, "spouse-id" INTEGER)`, nil)
	require.NoError(t, err)
	_, err = conn.ExecuteReturningID(ctx, `INSERT INTO person (name) VALUES (?)`, []any{"A"})
	require.NoError(t, err)
	require.NoError(t, conn.Release())

	c := session.New(s, p)
	o1, err := c.Get(ctx, person, int64(1))
	require.NoError(t, err)
	o2, err := c.Get(ctx, person, int64(1))
	require.NoError(t, err)
	require.Same(t, o1, o2)
}
