package main

import (
	"fmt"
	"strings"

	"github.com/cormdev/corm/internal/schema"
)

// createTableSQL renders a CREATE TABLE IF NOT EXISTS for e's root table:
// its primary key columns, every scalar attribute, and the local foreign
// key column(s) for every to-one reference. Collection (Set) attributes
// never get a column here — one-to-many is a foreign key on the "many"
// side's own row, and many-to-many is a separate link table (see
// m2mLinkTableSQL).
func createTableSQL(e *schema.Entity) (string, error) {
	var cols []string
	for _, a := range e.Attributes() {
		if a.IsCollection {
			continue
		}
		colType, err := columnSQLType(a)
		if err != nil {
			return "", err
		}
		for _, col := range a.Columns {
			def := fmt.Sprintf("%s %s", col, colType)
			if a.IsPK && len(e.PrimaryKey) == 1 {
				def += " PRIMARY KEY AUTOINCREMENT"
			} else if a.IsRequired {
				def += " NOT NULL"
			}
			cols = append(cols, def)
		}
	}
	if len(e.PrimaryKey) > 1 {
		pkCols := make([]string, 0, len(e.PrimaryKey))
		for _, a := range e.PrimaryKey {
			pkCols = append(pkCols, a.Columns...)
		}
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pkCols, ", ")))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", e.Table, strings.Join(cols, ", ")), nil
}

func columnSQLType(a *schema.Attribute) (string, error) {
	if a.IsRef {
		return "INTEGER", nil // FK columns mirror the target's integer-keyed pk
	}
	switch a.Type.Scalar {
	case schema.ScalarString:
		return "TEXT", nil
	case schema.ScalarInt:
		return "INTEGER", nil
	case schema.ScalarFloat:
		return "REAL", nil
	case schema.ScalarBool:
		return "INTEGER", nil
	case schema.ScalarTime:
		return "TEXT", nil
	case schema.ScalarBytes:
		return "BLOB", nil
	default:
		return "", fmt.Errorf("ddl: %s.%s: unsupported scalar type", a.Entity.Name, a.Name)
	}
}

// m2mLinkTables returns a CREATE TABLE statement for every distinct
// symmetric many-to-many relationship in s, named the way the provider
// would name it at flush time (provider.DefaultM2MTableName), so migrate
// and the session's runtime flush agree on where link rows live.
func m2mLinkTables(s *schema.Schema, m2mTableName func(left, right string) string) []string {
	seen := make(map[*schema.Attribute]bool)
	var stmts []string
	for _, e := range s.Entities() {
		for _, a := range e.Attributes() {
			if !a.IsCollection || a.Reverse == nil || !a.Reverse.IsCollection {
				continue
			}
			if seen[a] {
				continue
			}
			seen[a] = true
			seen[a.Reverse] = true
			table := m2mTableName(a.Entity.Name, a.Reverse.Entity.Name)
			leftCol := strings.ToLower(a.Entity.Name) + "_id"
			rightCol := strings.ToLower(a.Reverse.Entity.Name) + "_id"
			stmts = append(stmts, fmt.Sprintf(
				"CREATE TABLE IF NOT EXISTS %s (%s INTEGER NOT NULL, %s INTEGER NOT NULL, PRIMARY KEY (%s, %s))",
				table, leftCol, rightCol, leftCol, rightCol,
			))
		}
	}
	return stmts
}
