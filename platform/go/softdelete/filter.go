package softdelete

import (
	"fmt"
	"strings"
)

// Scope selects which rows a query should see.
type Scope string

const (
	ScopeActive  Scope = "active"
	ScopeDeleted Scope = "deleted"
	ScopeAll     Scope = "all"
)

// ParseScope maps user input onto a Scope, defaulting to active rows.
func ParseScope(raw string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ScopeActive:
		return ScopeActive, nil
	case ScopeDeleted:
		return ScopeDeleted, nil
	case ScopeAll:
		return ScopeAll, nil
	default:
		return "", fmt.Errorf("unknown scope %q", raw)
	}
}

// Filter returns the scope predicate AND-ed with the extra predicates.
func (s Scope) Filter(preds ...string) string {
	switch s {
	case ScopeDeleted:
		return DeletedFilter(preds...)
	case ScopeAll:
		return WithDeleted(preds...)
	default:
		return ActiveFilter(preds...)
	}
}

// ActiveFilter matches live rows.
func ActiveFilter(preds ...string) string {
	return join(append([]string{ColumnIsDeleted + " = FALSE"}, preds...))
}

// DeletedFilter matches tombstoned rows.
func DeletedFilter(preds ...string) string {
	return join(append([]string{ColumnIsDeleted + " = TRUE"}, preds...))
}

// WithDeleted applies no deletion predicate; only the extra predicates are kept.
func WithDeleted(preds ...string) string {
	return join(preds)
}

func join(preds []string) string {
	parts := make([]string, 0, len(preds))
	for _, p := range preds {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts = append(parts, "("+p+")")
	}
	if len(parts) == 0 {
		return "TRUE"
	}
	return strings.Join(parts, " AND ")
}
