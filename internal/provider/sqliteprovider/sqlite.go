// Package sqliteprovider implements internal/provider.Provider backed by
// modernc.org/sqlite, the default in-process backend used by unit tests and
// the cormcli demo.
package sqliteprovider

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/cormdev/corm/internal/provider"
	"github.com/cormdev/corm/internal/schema"
	"github.com/cormdev/corm/internal/sqlast"
)

// Provider is a provider.Provider backed by an in-process SQLite database.
type Provider struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at dsn, e.g. "file::memory:?cache=shared".
func Open(dsn string) (*Provider, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqliteprovider: open %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; matches the teacher's sqlite storage layer
	return &Provider{db: db}, nil
}

func (p *Provider) Connect(ctx context.Context) (provider.Conn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqliteprovider: connect: %w", err)
	}
	return provider.NewConn(conn), nil
}

func (p *Provider) ParamStyle() sqlast.ParamStyle { return sqlast.ParamQmark }

func (p *Provider) MaxParamsCount() int { return 999 } // SQLITE_MAX_VARIABLE_NUMBER default

func (p *Provider) DefaultColumnName(attrName string) string { return attrName }

func (p *Provider) DefaultEntityTableName(entityName string) string {
	return toSnakeCase(entityName)
}

func (p *Provider) DefaultM2MTableName(leftEntity, rightEntity string) string {
	a, b := toSnakeCase(leftEntity), toSnakeCase(rightEntity)
	if a > b {
		a, b = b, a
	}
	return a + "_" + b
}

func (p *Provider) GetConverter(scalar schema.ScalarType) sqlast.Converter {
	return sqlast.IdentityConverter
}

// Close releases the underlying pool. Not part of provider.Provider since
// spec.md's Provider interface has no shutdown hook; callers that opened a
// Provider directly (as opposed to through a registry) call this themselves.
func (p *Provider) Close() error { return p.db.Close() }

func toSnakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
