package persistence

import (
	"fmt"
	"sort"
	"strings"

	"github.com/collabridge/rapport-tracker/platform/go/softdelete"
)

// ColumnID is the primary key column shared by every table.
const ColumnID = "id"

// RelationKind describes how a related row is located.
type RelationKind int

const (
	// HasMany rows in Target carry ForeignKey = this.id.
	HasMany RelationKind = iota
	// HasOne is HasMany limited to a single row.
	HasOne
	// BelongsTo this row carries ForeignKey pointing at Target.id.
	BelongsTo
)

func (k RelationKind) String() string {
	switch k {
	case HasMany:
		return "has_many"
	case HasOne:
		return "has_one"
	case BelongsTo:
		return "belongs_to"
	default:
		return fmt.Sprintf("relation(%d)", int(k))
	}
}

// Relation is a statically declared edge of the cascade graph.
type Relation struct {
	Name       string
	Kind       RelationKind
	Target     string
	ForeignKey string
}

// Model is implemented by every persisted record type.
type Model interface {
	EntityName() string
	TableName() string
}

// Relational records declare the relations a cascade should follow.
type Relational interface {
	Relations() []Relation
}

// CreatorTracked records expose the column that stores the creating actor.
type CreatorTracked interface {
	CreatedByColumn() string
}

// Table describes a persisted entity type: where it lives, what it can do and
// how it relates to other entity types.
type Table struct {
	Entity          string
	Name            string
	SoftDelete      bool
	CreatedByColumn string
	Relations       []Relation
}

// Describe builds the Table for a record type from the interfaces it implements.
func Describe[T any, PT interface {
	*T
	Model
}]() Table {
	var zero T
	ptr := PT(&zero)

	table := Table{
		Entity: ptr.EntityName(),
		Name:   ptr.TableName(),
	}

	if _, ok := any(ptr).(softdelete.Deletable); ok {
		table.SoftDelete = true
	}
	if rel, ok := any(ptr).(Relational); ok {
		table.Relations = append([]Relation(nil), rel.Relations()...)
	}
	if ct, ok := any(ptr).(CreatorTracked); ok {
		table.CreatedByColumn = ct.CreatedByColumn()
	}

	return table
}

// ident returns the sanitized table identifier for SQL.
func (t Table) ident() string {
	return quoteIdent(t.Name)
}

// requireSoftDelete fails fast for tables without the soft-delete capability.
func (t Table) requireSoftDelete() error {
	if !t.SoftDelete {
		return fmt.Errorf("%w: %s", ErrNotSoftDeletable, t.Entity)
	}
	return nil
}

// Registry indexes tables by entity name so relations can be resolved.
type Registry struct {
	byEntity map[string]Table
	order    []string
}

// NewRegistry validates table names and relation targets.
func NewRegistry(tables ...Table) (*Registry, error) {
	r := &Registry{byEntity: make(map[string]Table, len(tables))}

	for _, t := range tables {
		if strings.TrimSpace(t.Entity) == "" {
			return nil, fmt.Errorf("entity name is required for table %q", t.Name)
		}
		name, err := sqlIdentifier(t.Name)
		if err != nil {
			return nil, fmt.Errorf("entity %s: invalid table name: %w", t.Entity, err)
		}
		t.Name = name
		if _, exists := r.byEntity[t.Entity]; exists {
			return nil, fmt.Errorf("entity %s registered twice", t.Entity)
		}
		r.byEntity[t.Entity] = t
		r.order = append(r.order, t.Entity)
	}

	for _, t := range r.byEntity {
		for _, rel := range t.Relations {
			if _, ok := r.byEntity[rel.Target]; !ok {
				return nil, fmt.Errorf("entity %s relation %s targets unknown entity %s", t.Entity, rel.Name, rel.Target)
			}
			if _, err := sqlIdentifier(rel.ForeignKey); err != nil {
				return nil, fmt.Errorf("entity %s relation %s: invalid foreign key: %w", t.Entity, rel.Name, err)
			}
		}
	}

	sort.Strings(r.order)
	return r, nil
}

// MustRegistry panics when the tables are inconsistent; intended for static wiring.
func MustRegistry(tables ...Table) *Registry {
	r, err := NewRegistry(tables...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the table registered for an entity name.
func (r *Registry) Lookup(entity string) (Table, bool) {
	t, ok := r.byEntity[entity]
	return t, ok
}

// Resolve accepts an entity name or table name, case-insensitively.
func (r *Registry) Resolve(name string) (Table, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, entity := range r.order {
		t := r.byEntity[entity]
		if strings.ToLower(t.Entity) == needle || t.Name == needle {
			return t, nil
		}
	}
	return Table{}, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
}

// Tables returns every registered table ordered by entity name.
func (r *Registry) Tables() []Table {
	out := make([]Table, 0, len(r.order))
	for _, entity := range r.order {
		out = append(out, r.byEntity[entity])
	}
	return out
}

// SoftDeletable returns the registered tables that support soft delete.
func (r *Registry) SoftDeletable() []Table {
	out := make([]Table, 0, len(r.order))
	for _, t := range r.Tables() {
		if t.SoftDelete {
			out = append(out, t)
		}
	}
	return out
}

// Dependents returns a copy of the registry without BelongsTo relations, so a
// cascade only walks from parents to children and never reaches an owner.
func (r *Registry) Dependents() *Registry {
	out := &Registry{byEntity: make(map[string]Table, len(r.byEntity)), order: append([]string(nil), r.order...)}
	for entity, t := range r.byEntity {
		rels := make([]Relation, 0, len(t.Relations))
		for _, rel := range t.Relations {
			if rel.Kind == BelongsTo {
				continue
			}
			rels = append(rels, rel)
		}
		t.Relations = rels
		out.byEntity[entity] = t
	}
	return out
}
