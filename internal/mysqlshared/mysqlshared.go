// Package mysqlshared holds naming and type-conversion rules common to any
// provider that speaks MySQL's SQL dialect (mysqlprovider and
// doltprovider, the latter since Dolt is wire- and dialect-compatible with
// MySQL).
package mysqlshared

import (
	"strings"

	"github.com/cormdev/corm/internal/schema"
	"github.com/cormdev/corm/internal/sqlast"
)

// ToSnakeCase derives a default table/column name from a CamelCase entity name.
func ToSnakeCase(name string) string {
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

// M2MTableName picks the lexicographically smaller endpoint to own a
// symmetric many-to-many link table's declaration (spec.md §4.1).
func M2MTableName(leftEntity, rightEntity string) string {
	a, b := ToSnakeCase(leftEntity), ToSnakeCase(rightEntity)
	if a > b {
		a, b = b, a
	}
	return a + "_" + b
}

// Converter returns the scalar converter for MySQL-dialect backends: bools
// round-trip through TINYINT(1).
func Converter(scalar schema.ScalarType) sqlast.Converter {
	if scalar == schema.ScalarBool {
		return boolAsTinyint{}
	}
	return sqlast.IdentityConverter
}

type boolAsTinyint struct{}

func (boolAsTinyint) ToDB(v any) (any, error) {
	b, ok := v.(bool)
	if !ok {
		return v, nil
	}
	if b {
		return int64(1), nil
	}
	return int64(0), nil
}

func (boolAsTinyint) FromDB(v any) (any, error) {
	switch n := v.(type) {
	case int64:
		return n != 0, nil
	case []byte:
		return len(n) == 1 && n[0] != 0, nil
	default:
		return v, nil
	}
}
