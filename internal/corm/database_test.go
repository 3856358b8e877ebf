package corm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cormdev/corm/internal/corm"
	"github.com/cormdev/corm/internal/provider/sqliteprovider"
	"github.com/cormdev/corm/internal/registry"
	"github.com/cormdev/corm/internal/schema"
)

func openPersonDB(t *testing.T, ctx context.Context, opts corm.MappingOptions) (*corm.Database, *schema.Entity) {
	t.Helper()
	db := corm.NewDatabase("people")
	person, err := db.Entity("Person", "person", nil, []schema.AttributeSpec{
		{Name: "id", Kind: schema.KindPrimaryKey, Scalar: schema.ScalarInt},
		{Name: "name", Kind: schema.KindRequired, Scalar: schema.ScalarString},
	})
	require.NoError(t, err)

	p, err := sqliteprovider.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	conn, err := p.Connect(ctx)
	require.NoError(t, err)
	_, err = conn.Execute(ctx, `CREATE TABLE person (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT)`, nil)
	require.NoError(t, err)
	require.NoError(t, conn.Release())

	require.NoError(t, db.GenerateMapping(ctx, p, opts))
	return db, person
}

func TestGenerateMappingChecksTables(t *testing.T) {
	ctx := context.Background()
	db, _ := openPersonDB(t, ctx, corm.MappingOptions{CheckTables: true})
	require.True(t, db.Schema().Generated())
}

func TestGenerateMappingCheckTablesFailsOnMissingTable(t *testing.T) {
	ctx := context.Background()
	db := corm.NewDatabase("ghosts")
	_, err := db.Entity("Ghost", "ghost", nil, []schema.AttributeSpec{
		{Name: "id", Kind: schema.KindPrimaryKey, Scalar: schema.ScalarInt},
	})
	require.NoError(t, err)

	p, err := sqliteprovider.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	err = db.GenerateMapping(ctx, p, corm.MappingOptions{CheckTables: true})
	require.Error(t, err)
}

func TestOpenSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, person := openPersonDB(t, ctx, corm.MappingOptions{})

	c := db.OpenSession()
	inst, err := c.New(ctx, person, map[string]any{"name": "Ada"})
	require.NoError(t, err)
	require.NoError(t, c.Commit(ctx))
	require.NotNil(t, inst.PKValue())
}

func TestAsRegistryEntryCarriesPriority(t *testing.T) {
	ctx := context.Background()
	db, _ := openPersonDB(t, ctx, corm.MappingOptions{Priority: 5})

	entry := db.AsRegistryEntry()
	require.Equal(t, 5, entry.Priority)
	require.Equal(t, "people", entry.Name)
	require.Same(t, db.Schema(), entry.Schema)

	r := registry.New()
	r.Register(entry, db.OpenSession())
	_, ok := r.Session(entry)
	require.True(t, ok)
}

func TestFromSchemaBindsAlreadyGeneratedSchema(t *testing.T) {
	ctx := context.Background()
	s := schema.New("widgets")
	_, err := s.Entity("Widget", "widget", nil, []schema.AttributeSpec{
		{Name: "id", Kind: schema.KindPrimaryKey, Scalar: schema.ScalarInt},
	})
	require.NoError(t, err)
	require.NoError(t, s.Generate())

	p, err := sqliteprovider.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	db, err := corm.FromSchema(ctx, "widgets", s, p, corm.MappingOptions{})
	require.NoError(t, err)
	require.Same(t, s, db.Schema())
}
