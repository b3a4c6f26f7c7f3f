package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/collabridge/rapport-tracker/platform/go/softdelete"
)

// CascadeObserver receives per-entity counts after a successful cascade.
type CascadeObserver interface {
	ObserveCascade(root string, counts map[string]int)
}

// CascadeDeleter soft-deletes a root row and everything reachable through the
// declared relations, within one transaction.
type CascadeDeleter struct {
	db       *DB
	registry *Registry
	logger   *zap.Logger
	now      func() time.Time
	observer CascadeObserver
}

// CascadeOption customizes a CascadeDeleter.
type CascadeOption func(*CascadeDeleter)

// WithCascadeLogger sets the logger.
func WithCascadeLogger(logger *zap.Logger) CascadeOption {
	return func(c *CascadeDeleter) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCascadeClock overrides the clock used for deletion timestamps.
func WithCascadeClock(now func() time.Time) CascadeOption {
	return func(c *CascadeDeleter) {
		c.now = now
	}
}

// WithCascadeObserver registers an observer, typically the metrics recorder.
func WithCascadeObserver(o CascadeObserver) CascadeOption {
	return func(c *CascadeDeleter) {
		c.observer = o
	}
}

// NewCascadeDeleter builds a deleter resolving relations through registry.
func NewCascadeDeleter(db *DB, registry *Registry, opts ...CascadeOption) *CascadeDeleter {
	if db == nil || registry == nil {
		panic("CascadeDeleter requires db and registry")
	}

	c := &CascadeDeleter{db: db, registry: registry, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CascadeSoftDelete soft-deletes the root and its dependents and returns the
// number of rows tombstoned per entity during this call. maxDepth bounds how
// many relation hops are followed; reaching it with active rows still pending
// fails the whole call.
func (c *CascadeDeleter) CascadeSoftDelete(ctx context.Context, entity string, id uuid.UUID, actor, reason *string, maxDepth int) (map[string]int, error) {
	if maxDepth <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCascadeDepth, maxDepth)
	}

	root, err := c.registry.Resolve(entity)
	if err != nil {
		return nil, err
	}
	if err := root.requireSoftDelete(); err != nil {
		return nil, err
	}

	var counts map[string]int
	err = c.db.WithTx(ctx, func(tx pgx.Tx) error {
		w := newCascadeWalk(pgCascadeNodes{q: tx}, c.registry, c.now().UTC(), actor, reason)
		if err := w.run(ctx, root, id, maxDepth); err != nil {
			return err
		}
		counts = w.counts
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cascade soft delete %s %s: %w", root.Entity, id, err)
	}

	if c.observer != nil {
		c.observer.ObserveCascade(root.Entity, counts)
	}
	c.logger.Info("cascade soft delete completed",
		zap.String("entity", root.Entity),
		zap.String("id", id.String()),
		zap.Int("max_depth", maxDepth),
		zap.Any("counts", counts),
	)
	return counts, nil
}

// cascadeNodes is the storage surface the walk needs.
type cascadeNodes interface {
	load(ctx context.Context, table Table, id uuid.UUID) (softdelete.Fields, error)
	save(ctx context.Context, table Table, id uuid.UUID, f softdelete.Fields) error
	related(ctx context.Context, table Table, id uuid.UUID, rel Relation, target Table) ([]uuid.UUID, error)
}

type nodeKey struct {
	entity string
	id     uuid.UUID
}

type cascadeWalk struct {
	nodes    cascadeNodes
	registry *Registry
	now      time.Time
	actor    *string
	reason   *string
	visited  map[nodeKey]struct{}
	counts   map[string]int
}

func newCascadeWalk(nodes cascadeNodes, registry *Registry, now time.Time, actor, reason *string) *cascadeWalk {
	return &cascadeWalk{
		nodes:    nodes,
		registry: registry,
		now:      now,
		actor:    actor,
		reason:   reason,
		visited:  map[nodeKey]struct{}{},
		counts:   map[string]int{},
	}
}

func (w *cascadeWalk) run(ctx context.Context, root Table, id uuid.UUID, maxDepth int) error {
	if maxDepth <= 0 {
		return ErrInvalidCascadeDepth
	}
	if _, err := w.nodes.load(ctx, root, id); err != nil {
		return err
	}

	// Level order: a node is expanded from its shortest path, so it always
	// gets the largest remaining budget any path could give it.
	queue := []cascadeStep{{table: root, id: id, remaining: maxDepth}}
	w.visited[nodeKey{entity: root.Entity, id: id}] = struct{}{}
	for len(queue) > 0 {
		step := queue[0]
		queue = queue[1:]

		next, err := w.visit(ctx, step)
		if err != nil {
			return err
		}
		queue = append(queue, next...)
	}
	return nil
}

type cascadeStep struct {
	table     Table
	id        uuid.UUID
	remaining int
}

// visit tombstones one node and returns the unvisited related nodes to expand.
func (w *cascadeWalk) visit(ctx context.Context, step cascadeStep) ([]cascadeStep, error) {
	fields, err := w.nodes.load(ctx, step.table, step.id)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if !fields.IsDeleted {
		if err := fields.SoftDelete(w.now, w.actor, w.reason); err != nil {
			return nil, err
		}
		if err := w.nodes.save(ctx, step.table, step.id, fields); err != nil {
			return nil, err
		}
		w.counts[step.table.Entity]++
	}

	var next []cascadeStep
	for _, rel := range step.table.Relations {
		target, ok := w.registry.Lookup(rel.Target)
		if !ok || !target.SoftDelete {
			continue
		}

		ids, err := w.nodes.related(ctx, step.table, step.id, rel, target)
		if err != nil {
			return nil, err
		}

		for _, rid := range ids {
			key := nodeKey{entity: target.Entity, id: rid}
			if _, seen := w.visited[key]; seen {
				continue
			}
			if step.remaining == 0 {
				if err := w.ensureSettled(ctx, target, rid); err != nil {
					return nil, err
				}
				continue
			}
			w.visited[key] = struct{}{}
			next = append(next, cascadeStep{table: target, id: rid, remaining: step.remaining - 1})
		}
	}
	return next, nil
}

// ensureSettled fails when a node past the depth budget would still need work.
func (w *cascadeWalk) ensureSettled(ctx context.Context, table Table, id uuid.UUID) error {
	if _, seen := w.visited[nodeKey{entity: table.Entity, id: id}]; seen {
		return nil
	}

	fields, err := w.nodes.load(ctx, table, id)
	if errors.Is(err, ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !fields.IsDeleted {
		return fmt.Errorf("%w: %s %s still active", ErrCascadeDepthExceeded, table.Entity, id)
	}
	return nil
}

type pgCascadeNodes struct {
	q Querier
}

func (n pgCascadeNodes) load(ctx context.Context, table Table, id uuid.UUID) (softdelete.Fields, error) {
	return loadDeletionState(ctx, n.q, table, id, true)
}

func (n pgCascadeNodes) save(ctx context.Context, table Table, id uuid.UUID, f softdelete.Fields) error {
	return writeDeletionState(ctx, n.q, table, id, f, false)
}

func (n pgCascadeNodes) related(ctx context.Context, table Table, id uuid.UUID, rel Relation, target Table) ([]uuid.UUID, error) {
	var query string
	switch rel.Kind {
	case HasMany:
		query = fmt.Sprintf(`SELECT id FROM %s WHERE %s = $1 ORDER BY id`, target.ident(), quoteIdent(rel.ForeignKey))
	case HasOne:
		query = fmt.Sprintf(`SELECT id FROM %s WHERE %s = $1 ORDER BY id LIMIT 1`, target.ident(), quoteIdent(rel.ForeignKey))
	case BelongsTo:
		query = fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 AND %s IS NOT NULL`, quoteIdent(rel.ForeignKey), table.ident(), quoteIdent(rel.ForeignKey))
	default:
		return nil, fmt.Errorf("relation %s: unsupported kind %s", rel.Name, rel.Kind)
	}

	rows, err := n.q.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("load %s.%s: %w", table.Entity, rel.Name, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan %s.%s: %w", table.Entity, rel.Name, err)
	}
	return ids, nil
}
