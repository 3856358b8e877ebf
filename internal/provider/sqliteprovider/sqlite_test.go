package sqliteprovider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenAndConnect(t *testing.T) {
	p, err := Open("file::memory:?cache=shared")
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	conn, err := p.Connect(context.Background())
	require.NoError(t, err)
	defer func() { _ = conn.Release() }()

	_, err = conn.Execute(context.Background(), `CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)`, nil)
	require.NoError(t, err)

	id, err := conn.ExecuteReturningID(context.Background(), `INSERT INTO t (name) VALUES (?)`, []any{"a"})
	require.NoError(t, err)
	require.Equal(t, int64(1), id)
}

func TestDefaultNaming(t *testing.T) {
	p := &Provider{}
	require.Equal(t, "order_item", p.DefaultEntityTableName("OrderItem"))
	require.Equal(t, "course_student", p.DefaultM2MTableName("Student", "Course"))
	require.Equal(t, sqlMaxParams, p.MaxParamsCount())
}

const sqlMaxParams = 999
