// Package doltprovider implements internal/provider.Provider backed by
// github.com/dolthub/driver, giving the session's optimistic-concurrency
// path a backend with real MVCC semantics distinct from MySQL's
// locking reads — exercised by the commit-ordering integration test (see
// SPEC_FULL.md §3 "Test tooling").
package doltprovider

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/dolthub/driver"

	"github.com/cormdev/corm/internal/mysqlshared"
	"github.com/cormdev/corm/internal/provider"
	"github.com/cormdev/corm/internal/schema"
	"github.com/cormdev/corm/internal/sqlast"
)

// Provider is a provider.Provider backed by an embedded Dolt database,
// addressed the way dolthub/driver expects: "file:///path/to/dir?commitname=...&commitemail=...&database=dbname".
type Provider struct {
	db *sql.DB
}

func Open(dsn string) (*Provider, error) {
	db, err := sql.Open("dolt", dsn)
	if err != nil {
		return nil, fmt.Errorf("doltprovider: open: %w", err)
	}
	return &Provider{db: db}, nil
}

func (p *Provider) Connect(ctx context.Context) (provider.Conn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("doltprovider: connect: %w", err)
	}
	return provider.NewConn(conn), nil
}

// ParamStyle, column/table naming, and converters reuse the MySQL-dialect
// helpers since Dolt speaks the MySQL wire protocol and SQL dialect.
func (p *Provider) ParamStyle() sqlast.ParamStyle            { return sqlast.ParamQmark }
func (p *Provider) MaxParamsCount() int                      { return 65535 }
func (p *Provider) DefaultColumnName(attrName string) string { return attrName }
func (p *Provider) DefaultEntityTableName(entityName string) string {
	return mysqlshared.ToSnakeCase(entityName)
}
func (p *Provider) DefaultM2MTableName(leftEntity, rightEntity string) string {
	return mysqlshared.M2MTableName(leftEntity, rightEntity)
}
func (p *Provider) GetConverter(scalar schema.ScalarType) sqlast.Converter {
	return mysqlshared.Converter(scalar)
}

func (p *Provider) Close() error { return p.db.Close() }
