package query

import "errors"

// ErrQuery is the sentinel for every predicate parse/compile failure:
// unsupported shape, unknown field, wrong literal type for the attribute's
// declared scalar (spec.md §7 "Query/translation errors").
var ErrQuery = errors.New("query error")
