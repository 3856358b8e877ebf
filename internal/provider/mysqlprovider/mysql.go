// Package mysqlprovider implements internal/provider.Provider backed by
// github.com/go-sql-driver/mysql.
package mysqlprovider

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/cormdev/corm/internal/mysqlshared"
	"github.com/cormdev/corm/internal/provider"
	"github.com/cormdev/corm/internal/schema"
	"github.com/cormdev/corm/internal/sqlast"
)

// Provider is a provider.Provider backed by a MySQL/MariaDB server.
type Provider struct {
	db *sql.DB
}

// Open opens a connection pool against dsn (the go-sql-driver/mysql DSN
// format, e.g. "user:pass@tcp(host:3306)/dbname?parseTime=true").
func Open(dsn string) (*Provider, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysqlprovider: open: %w", err)
	}
	return &Provider{db: db}, nil
}

func (p *Provider) Connect(ctx context.Context) (provider.Conn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("mysqlprovider: connect: %w", err)
	}
	return provider.NewConn(conn), nil
}

func (p *Provider) ParamStyle() sqlast.ParamStyle { return sqlast.ParamQmark }

// MaxParamsCount mirrors a conservative practical limit for a single
// prepared statement; the entity runtime's batch loader treats this as
// advisory, not a hard server-enforced cap.
func (p *Provider) MaxParamsCount() int { return 65535 }

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
