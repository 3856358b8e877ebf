package query_test

import (
	"context"
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
		{Name: "age", Kind: schema.KindRequired, Scalar: schema.ScalarInt},
	})
	require.NoError(t, err)
	require.NoError(t, s.Generate())
	return s, person
}

func seedPeople(t *testing.T, ctx context.Context, p *sqliteprovider.Provider) {
	t.Helper()
	conn, err := p.Connect(ctx)
	require.NoError(t, err)
	defer conn.Release()
	_, err = conn.Execute(ctx, `CREATE TABLE person (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, age INTEGER)`, nil)
	require.NoError(t, err)
	for _, row := range []struct {
		name string
		age  int
	}{
		{"Alice", 35}, {"Bob", 22}, {"Carol", 41}, {"Dave", 19},
	} {
		_, err := conn.ExecuteReturningID(ctx, `INSERT INTO person (name, age) VALUES (?, ?)`, []any{row.name, row.age})
		require.NoError(t, err)
	}
}

func TestFetchWithPredicateOrderAndSlice(t *testing.T) {
	ctx := context.Background()
	s, person := personSchema(t)
	p, err := sqliteprovider.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	defer p.Close()
	seedPeople(t, ctx, p)

	c := session.New(s, p)
	q, err := query.On(person).Where("age > 30").OrderBy("name").Slice(0, 2)
	require.NoError(t, err)

	results, err := q.Fetch(ctx, c)
	require.NoError(t, err)
	require.Len(t, results, 2)

	names := make([]string, len(results))
	for i, inst := range results {
		v, err := inst.Get(ctx, person.MustAttribute("name"))
		require.NoError(t, err)
		names[i] = v.(string)
	}
	require.Equal(t, []string{"Alice", "Carol"}, names)
}

func TestFetchSamePKReturnsIdentityMappedInstance(t *testing.T) {
	ctx := context.Background()
	s, person := personSchema(t)
	p, err := sqliteprovider.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	defer p.Close()
	seedPeople(t, ctx, p)

	c := session.New(s, p)
	fromQuery, err := query.On(person).Where("name == \"Bob\"").Fetch(ctx, c)
	require.NoError(t, err)
	require.Len(t, fromQuery, 1)

	fromGet, err := c.Get(ctx, person, fromQuery[0].PKValue())
	require.NoError(t, err)
	require.Same(t, fromQuery[0], fromGet)
}

func TestAggregateZeroLaw(t *testing.T) {
	ctx := context.Background()
	s, person := personSchema(t)
	p, err := sqliteprovider.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	defer p.Close()
	seedPeople(t, ctx, p)
	c := session.New(s, p)

	count, err := query.On(person).Where("age > 1000").Count().Aggregate(ctx, c)
	require.NoError(t, err)
	require.Equal(t, int64(0), count)

	sum, err := query.On(person).Where("age > 1000").Sum("age").Aggregate(ctx, c)
	require.NoError(t, err)
	require.Equal(t, int64(0), sum)

	max, err := query.On(person).Where("age > 1000").Max("age").Aggregate(ctx, c)
	require.NoError(t, err)
	require.Nil(t, max)

	total, err := query.On(person).Count().Aggregate(ctx, c)
	require.NoError(t, err)
	require.Equal(t, int64(4), total)
}

func TestExists(t *testing.T) {
	ctx := context.Background()
	s, person := personSchema(t)
	p, err := sqliteprovider.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	defer p.Close()
	seedPeople(t, ctx, p)
	c := session.New(s, p)

	ok, err := query.On(person).Where("name == \"Carol\"").Exists(ctx, c)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = query.On(person).Where("name == \"Nobody\"").Exists(ctx, c)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSliceRejectsNegativeIndices(t *testing.T) {
	_, person := personSchema(t)
	_, err := query.On(person).Slice(-1, 2)
	require.Error(t, err)
}

func TestOneReturnsSingleMatch(t *testing.T) {
	ctx := context.Background()
	s, person := personSchema(t)
	p, err := sqliteprovider.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	defer p.Close()
	seedPeople(t, ctx, p)

	c := session.New(s, p)
	inst, err := query.On(person).Where("name == \"Bob\"").One(ctx, c)
	require.NoError(t, err)
	v, err := inst.Get(ctx, person.MustAttribute("age"))
	require.NoError(t, err)
	require.Equal(t, int64(22), v)
}

func TestOneRaisesObjectNotFound(t *testing.T) {
	ctx := context.Background()
	s, person := personSchema(t)
	p, err := sqliteprovider.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	defer p.Close()
	seedPeople(t, ctx, p)

	c := session.New(s, p)
	_, err = query.On(person).Where("name == \"Zach\"").One(ctx, c)
	require.ErrorIs(t, err, session.ErrObjectNotFound)
}

func TestOneRaisesMultipleObjectsFound(t *testing.T) {
	ctx := context.Background()
	s, person := personSchema(t)
	p, err := sqliteprovider.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	defer p.Close()
	seedPeople(t, ctx, p)

	c := session.New(s, p)
	_, err = query.On(person).Where("age > 18").One(ctx, c)
	require.ErrorIs(t, err, session.ErrMultipleObjectsFound)
}

func TestFetchRespectsMaxFetchCount(t *testing.T) {
	ctx := context.Background()
	s, person := personSchema(t)
	p, err := sqliteprovider.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	defer p.Close()
	seedPeople(t, ctx, p)

	c := session.New(s, p, session.WithMaxFetchCount(2))
	_, err = query.On(person).Fetch(ctx, c)
	require.ErrorIs(t, err, session.ErrTooManyObjectsFound)

	// An explicit Slice is a deliberate bound and is not re-capped.
	q, err := query.On(person).Slice(0, 3)
	require.NoError(t, err)
	rows, err := q.Fetch(ctx, c)
	require.NoError(t, err)
	require.Len(t, rows, 3)
}
