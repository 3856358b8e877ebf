package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cormdev/corm/internal/provider/sqliteprovider"
	"github.com/cormdev/corm/internal/query"
	"github.com/cormdev/corm/internal/registry"
	"github.com/cormdev/corm/internal/schema"
	"github.com/cormdev/corm/internal/session"
)

func widgetSchema(t *testing.T) (*schema.Schema, *schema.Entity) {
	t.Helper()
	s := schema.New("test")
	widget, err := s.Entity("Widget", "widget", nil, []schema.AttributeSpec{
		{Name: "id", Kind: schema.KindPrimaryKey, Scalar: schema.ScalarInt},
		{Name: "name", Kind: schema.KindRequired, Scalar: schema.ScalarString},
	})
	require.NoError(t, err)
	require.NoError(t, s.Generate())
	return s, widget
}

func openWidgetDB(t *testing.T, ctx context.Context) *sqliteprovider.Provider {
	t.Helper()
	p, err := sqliteprovider.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	conn, err := p.Connect(ctx)
	require.NoError(t, err)
	_, err = conn.Execute(ctx, `CREATE TABLE widget (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT)`, nil)
	require.NoError(t, err)
	require.NoError(t, conn.Release())
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestCommitAllCommitsPrimaryAndSecondary(t *testing.T) {
	ctx := context.Background()
	s, widget := widgetSchema(t)

	primaryDB := &registry.Database{Name: "primary", Priority: 10, Schema: s}
	secondaryDB := &registry.Database{Name: "secondary", Priority: 1, Schema: s}

	primaryProvider := openWidgetDB(t, ctx)
	secondaryProvider := openWidgetDB(t, ctx)

	r := registry.New()
	primary := session.New(s, primaryProvider)
	secondary := session.New(s, secondaryProvider)
	r.Register(primaryDB, primary)
	r.Register(secondaryDB, secondary)

	_, err := primary.New(ctx, widget, map[string]any{"name": "A"})
	require.NoError(t, err)
	_, err = secondary.New(ctx, widget, map[string]any{"name": "B"})
	require.NoError(t, err)

	require.NoError(t, r.CommitAll(ctx))
}

// openWidgetDBNoTable opens a sqlite provider without creating the widget
// table, so any statement flushed against it fails — used to force a
// primary-database commit failure deterministically.
func openWidgetDBNoTable(t *testing.T, dsn string) *sqliteprovider.Provider {
	t.Helper()
	p, err := sqliteprovider.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestCommitAllRollsBackSecondariesOnPrimaryFailure(t *testing.T) {
	ctx := context.Background()
	s, widget := widgetSchema(t)

	primaryDB := &registry.Database{Name: "primary", Priority: 10, Schema: s}
	secondaryDB := &registry.Database{Name: "secondary", Priority: 1, Schema: s}

	// primary has no widget table, so its commit fails; secondary is a
	// real, working database whose session must observe a Rollback call.
	primaryProvider := openWidgetDBNoTable(t, "file:commitall-primary?mode=memory&cache=shared")
	secondaryProvider := openWidgetDB(t, ctx)

	r := registry.New()
	primary := session.New(s, primaryProvider)
	secondary := session.New(s, secondaryProvider)
	r.Register(primaryDB, primary)
	r.Register(secondaryDB, secondary)

	_, err := primary.New(ctx, widget, map[string]any{"name": "A"})
	require.NoError(t, err)
	_, err = secondary.New(ctx, widget, map[string]any{"name": "B"})
	require.NoError(t, err)

	err = r.CommitAll(ctx)
	require.Error(t, err)
	var commitErr *registry.CommitException
	require.ErrorAs(t, err, &commitErr)
	require.Len(t, commitErr.Errors, 1) // only the primary failure: the secondary's rollback itself succeeded

	// the secondary session was rolled back, not committed: a fresh
	// session against the same database must not see row "B".
	verify := session.New(s, secondaryProvider)
	rows, ferr := query.On(widget).Fetch(ctx, verify)
	require.NoError(t, ferr)
	require.Empty(t, rows)
}

func TestWithTransactionRollsBackAndRetriesOnRetryableError(t *testing.T) {
	ctx := context.Background()
	s, widget := widgetSchema(t)
	p := openWidgetDB(t, ctx)
	c := session.New(s, p)

	errTransient := errors.New("transient")
	attempts := 0
	err := registry.WithTransaction(ctx, c, registry.TxOptions{
		Retry:   2,
		RetryIf: func(err error) bool { return errors.Is(err, errTransient) },
	}, func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return errTransient
		}
		_, err := c.New(ctx, widget, map[string]any{"name": "retried"})
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
}

func TestWithTransactionCommitsOnAllowedException(t *testing.T) {
	ctx := context.Background()
	s, widget := widgetSchema(t)
	p := openWidgetDB(t, ctx)
	c := session.New(s, p)

	errAllowed := errors.New("allowed")
	err := registry.WithTransaction(ctx, c, registry.TxOptions{
		AllowedExceptions: []error{errAllowed},
	}, func(ctx context.Context) error {
		_, cerr := c.New(ctx, widget, map[string]any{"name": "ok"})
		require.NoError(t, cerr)
		return errAllowed
	})
	require.NoError(t, err)
}
