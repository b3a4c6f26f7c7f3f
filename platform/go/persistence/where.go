package persistence

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/collabridge/rapport-tracker/platform/go/softdelete"
)

// Operator is a comparison allowed in list conditions.
type Operator string

const (
	OpEq    Operator = "="
	OpNotEq Operator = "<>"
	OpGTE   Operator = ">="
	OpLT    Operator = "<"
	OpILike Operator = "ILIKE"
)

// Condition is a single column predicate with a bound value.
type Condition struct {
	Column string
	Op     Operator
	Value  any
}

// Eq matches column = value.
func Eq(column string, value any) Condition {
	return Condition{Column: column, Op: OpEq, Value: value}
}

// Contains matches a case-insensitive substring.
func Contains(column, value string) Condition {
	return Condition{Column: column, Op: OpILike, Value: "%" + strings.TrimSpace(value) + "%"}
}

// whereBuilder accumulates predicates and their positional arguments.
type whereBuilder struct {
	parts []string
	args  []any
}

func (w *whereBuilder) arg(v any) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *whereBuilder) add(conditions ...Condition) error {
	for _, c := range conditions {
		column, err := sqlIdentifier(c.Column)
		if err != nil {
			return fmt.Errorf("invalid condition column: %w", err)
		}
		switch c.Op {
		case OpEq, OpNotEq, OpGTE, OpLT, OpILike:
		default:
			return fmt.Errorf("unsupported operator %q", c.Op)
		}
		w.parts = append(w.parts, fmt.Sprintf("%s %s %s", quoteIdent(column), c.Op, w.arg(c.Value)))
	}
	return nil
}

// sql renders the predicates under the given scope. Tables without the
// soft-delete capability ignore the scope.
func (w *whereBuilder) sql(table Table, scope softdelete.Scope) string {
	if !table.SoftDelete {
		return softdelete.WithDeleted(w.parts...)
	}
	return scope.Filter(w.parts...)
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
