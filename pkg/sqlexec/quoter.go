// Package sqlexec implements the parameter-safe quoter and the batched
// executor that the Upserter and Resync Engine write through: single and
// batched writes with transactional grouping, and the periodic handle
// liveness test that drives automatic reader failover.
package sqlexec

import (
	"fmt"
	"strings"
)

// Quote renders v as a SQL literal for call sites that must build SQL text
// rather than bind a parameter. The Upserter and the Resync Engine bind
// every value through pgx's native parameter binding and do not call it.
//
// The literal string "NULL" is rendered as the bare SQL keyword, not the
// quoted string "'NULL'" — callers that mean the SQL NULL keyword pass the
// sentinel NullLiteral rather than a Go nil, since nil already binds
// correctly as a parameter.
func Quote(v any) string {
	if v == nil {
		return "NULL"
	}
	s, ok := v.(string)
	if !ok {
		return quoteNonString(v)
	}
	if s == NullLiteral {
		return "NULL"
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// NullLiteral is the sentinel string value that Quote renders as the SQL
// NULL keyword instead of the quoted string "NULL".
const NullLiteral = "NULL"

func quoteNonString(v any) string {
	switch t := v.(type) {
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	default:
		return strings.ReplaceAll(fmt.Sprintf("%v", t), "'", "''")
	}
}
