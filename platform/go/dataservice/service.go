// Package dataservice layers request actors, the deletion policy and
// pagination over a persistence.Store.
package dataservice

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/collabridge/rapport-tracker/platform/go/persistence"
	"github.com/collabridge/rapport-tracker/platform/go/policy"
	"github.com/collabridge/rapport-tracker/platform/go/requesttrace"
	"github.com/collabridge/rapport-tracker/platform/go/softdelete"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Store is the persistence surface a Service needs; *persistence.Store[T] satisfies it.
type Store[T any] interface {
	Table() persistence.Table
	Insert(ctx context.Context, values persistence.Values) (T, error)
	InsertMany(ctx context.Context, rows []persistence.Values) ([]T, error)
	Get(ctx context.Context, id uuid.UUID, scope softdelete.Scope) (T, error)
	List(ctx context.Context, params persistence.ListParams) (persistence.ListResult[T], error)
	Update(ctx context.Context, id uuid.UUID, values persistence.Values) (T, error)
	SoftDelete(ctx context.Context, id uuid.UUID, actor, reason *string) (softdelete.Fields, error)
	Restore(ctx context.Context, id uuid.UUID) (softdelete.Fields, error)
	Statistics(ctx context.Context, since time.Time) (persistence.Statistics, error)
}

var _ Store[persistence.User] = (*persistence.Store[persistence.User])(nil)

// Cascader walks declared relations; *persistence.CascadeDeleter satisfies it.
type Cascader interface {
	CascadeSoftDelete(ctx context.Context, entity string, id uuid.UUID, actor, reason *string, maxDepth int) (map[string]int, error)
}

var _ Cascader = (*persistence.CascadeDeleter)(nil)

// Preloader attaches related data to a loaded record.
type Preloader[T any] func(ctx context.Context, record *T) error

// ValidationError reports rejected input such as an unknown preload hint.
type ValidationError struct {
	Fields map[string][]string
}

func (v *ValidationError) Error() string {
	if len(v.Fields) == 0 {
		return "validation error"
	}
	keys := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(v.Fields[k], "; ")))
	}
	return "validation error: " + strings.Join(parts, ", ")
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string][]string{field: {message}}}
}

// GetOptions controls a single-record lookup.
type GetOptions struct {
	IncludeDeleted bool
	Preload        []string
}

// ListQuery controls a paginated listing.
type ListQuery struct {
	Filters        []persistence.Condition
	Sort           *string
	Page           int
	PageSize       int
	IncludeDeleted bool
	OnlyDeleted    bool
}

// Page is one page of records plus navigation metadata.
type Page[T any] struct {
	Items    []T  `json:"items"`
	Total    int  `json:"total"`
	Page     int  `json:"page"`
	PageSize int  `json:"pageSize"`
	Pages    int  `json:"pages"`
	HasNext  bool `json:"hasNext"`
	HasPrev  bool `json:"hasPrev"`
}

// DeleteOptions controls a soft delete. A nil Actor falls back to the request actor.
type DeleteOptions struct {
	Actor   *string
	Reason  *string
	Cascade bool
}

// DeleteResult reports what a soft delete changed.
type DeleteResult struct {
	Deleted bool           `json:"deleted"`
	Counts  map[string]int `json:"counts,omitempty"`
}

// Statistics summarises a table.
type Statistics struct {
	Entity        string  `json:"entity"`
	Total         int     `json:"total"`
	Active        int     `json:"active"`
	Deleted       int     `json:"deleted"`
	DeletionRatio float64 `json:"deletionRatioPercent"`
	CreatedToday  int     `json:"createdToday"`
}

// Service is the generic data-access service for one table.
type Service[T any] struct {
	store      Store[T]
	cascader   Cascader
	policy     *policy.Holder
	logger     *zap.Logger
	now        func() time.Time
	preloaders map[string]Preloader[T]
}

// Option customizes a Service.
type Option[T any] func(*Service[T])

// WithCascader enables cascading soft deletes.
func WithCascader[T any](c Cascader) Option[T] {
	return func(s *Service[T]) {
		s.cascader = c
	}
}

// WithLogger sets the logger.
func WithLogger[T any](logger *zap.Logger) Option[T] {
	return func(s *Service[T]) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the clock used for "created today".
func WithClock[T any](now func() time.Time) Option[T] {
	return func(s *Service[T]) {
		s.now = now
	}
}

// WithPreloader registers a named relation loader usable from GetOptions.Preload.
func WithPreloader[T any](name string, fn Preloader[T]) Option[T] {
	return func(s *Service[T]) {
		s.preloaders[name] = fn
	}
}

// New builds a Service. The policy holder is required.
func New[T any](store Store[T], holder *policy.Holder, opts ...Option[T]) *Service[T] {
	if store == nil {
		panic("dataservice requires store")
	}
	if holder == nil {
		panic("dataservice requires policy holder")
	}

	s := &Service[T]{
		store:      store,
		policy:     holder,
		logger:     zap.NewNop(),
		now:        time.Now,
		preloaders: map[string]Preloader[T]{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Table returns the descriptor of the underlying table.
func (s *Service[T]) Table() persistence.Table {
	return s.store.Table()
}

// Create inserts a row, stamping created_by from the request actor when the
// table tracks creators and the caller did not set it.
func (s *Service[T]) Create(ctx context.Context, values persistence.Values) (T, error) {
	return s.store.Insert(ctx, s.withCreator(ctx, values))
}

// CreateMany inserts all rows in one transaction.
func (s *Service[T]) CreateMany(ctx context.Context, rows []persistence.Values) ([]T, error) {
	stamped := make([]persistence.Values, 0, len(rows))
	for _, values := range rows {
		stamped = append(stamped, s.withCreator(ctx, values))
	}
	return s.store.InsertMany(ctx, stamped)
}

// Get loads one row and runs the requested preloaders in order.
func (s *Service[T]) Get(ctx context.Context, id uuid.UUID, opts GetOptions) (T, error) {
	var zero T

	loaders := make([]Preloader[T], 0, len(opts.Preload))
	for _, name := range opts.Preload {
		fn, ok := s.preloaders[name]
		if !ok {
			return zero, newValidationError("with", fmt.Sprintf("unknown relation %q", name))
		}
		loaders = append(loaders, fn)
	}

	scope := softdelete.ScopeActive
	if opts.IncludeDeleted || !s.policy.Current().AutoFilter {
		scope = softdelete.ScopeAll
	}

	record, err := s.store.Get(ctx, id, scope)
	if err != nil {
		return zero, err
	}

	for i, fn := range loaders {
		if err := fn(ctx, &record); err != nil {
			return zero, fmt.Errorf("preload %s: %w", opts.Preload[i], err)
		}
	}
	return record, nil
}

// List returns one page of rows.
func (s *Service[T]) List(ctx context.Context, q ListQuery) (Page[T], error) {
	page, size := normalizePage(q.Page, q.PageSize)

	scope := softdelete.ScopeActive
	switch {
	case q.OnlyDeleted:
		scope = softdelete.ScopeDeleted
	case q.IncludeDeleted, !s.policy.Current().AutoFilter:
		scope = softdelete.ScopeAll
	}

	result, err := s.store.List(ctx, persistence.ListParams{
		Scope:      scope,
		Conditions: q.Filters,
		Sort:       q.Sort,
		Page:       page,
		PageSize:   size,
	})
	if err != nil {
		return Page[T]{}, err
	}

	pages := 0
	if result.TotalItems > 0 {
		pages = int(math.Ceil(float64(result.TotalItems) / float64(size)))
	}

	items := result.Items
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:    items,
		Total:    result.TotalItems,
		Page:     page,
		PageSize: size,
		Pages:    pages,
		HasNext:  page < pages,
		HasPrev:  page > 1,
	}, nil
}

// Update merges the provided columns into an active row.
func (s *Service[T]) Update(ctx context.Context, id uuid.UUID, values persistence.Values) (T, error) {
	return s.store.Update(ctx, id, values)
}

// SoftDelete tombstones a row, optionally cascading through its relations.
// Deleted is false when no active row matched.
func (s *Service[T]) SoftDelete(ctx context.Context, id uuid.UUID, opts DeleteOptions) (DeleteResult, error) {
	table := s.store.Table()
	if !table.SoftDelete {
		return DeleteResult{}, fmt.Errorf("%w: %s", persistence.ErrNotSoftDeletable, table.Entity)
	}

	actor := opts.Actor
	if actor == nil {
		actor = requesttrace.FromContextOrAnonymous(ctx).Actor()
	}

	current := s.policy.Current()
	if err := current.ValidateOperation("delete", actor, opts.Reason); err != nil {
		return DeleteResult{}, err
	}

	if opts.Cascade {
		return s.cascade(ctx, current, table, id, actor, opts.Reason)
	}

	if _, err := s.store.SoftDelete(ctx, id, actor, opts.Reason); err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) || errors.Is(err, softdelete.ErrAlreadyDeleted) {
			return DeleteResult{Deleted: false}, nil
		}
		return DeleteResult{}, err
	}

	s.logger.Info("record soft deleted",
		zap.String("entity", table.Entity),
		zap.String("id", id.String()),
	)
	return DeleteResult{Deleted: true, Counts: map[string]int{table.Entity: 1}}, nil
}

func (s *Service[T]) cascade(ctx context.Context, current policy.Policy, table persistence.Table, id uuid.UUID, actor, reason *string) (DeleteResult, error) {
	if !current.CascadeSoftDelete {
		return DeleteResult{}, &policy.ValidationError{Fields: policy.FieldErrors{
			"cascade": {"cascading soft delete is disabled by policy"},
		}}
	}
	if s.cascader == nil {
		return DeleteResult{}, errors.New("cascading soft delete is not configured")
	}

	if _, err := s.store.Get(ctx, id, softdelete.ScopeActive); err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return DeleteResult{Deleted: false}, nil
		}
		return DeleteResult{}, err
	}

	counts, err := s.cascader.CascadeSoftDelete(ctx, table.Entity, id, actor, reason, current.MaxCascadeDepth)
	if err != nil {
		return DeleteResult{}, err
	}
	return DeleteResult{Deleted: counts[table.Entity] > 0, Counts: counts}, nil
}

// Restore clears the deletion state. It reports false when the row is missing
// or not deleted.
func (s *Service[T]) Restore(ctx context.Context, id uuid.UUID) (bool, error) {
	if _, err := s.store.Restore(ctx, id); err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) || errors.Is(err, softdelete.ErrNotDeleted) {
			return false, nil
		}
		return false, err
	}

	s.logger.Info("record restored",
		zap.String("entity", s.store.Table().Entity),
		zap.String("id", id.String()),
	)
	return true, nil
}

// Statistics reports row counts and how many rows were created since
// midnight in the policy timezone.
func (s *Service[T]) Statistics(ctx context.Context) (Statistics, error) {
	loc := s.policy.Current().Location()
	now := s.now().In(loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	raw, err := s.store.Statistics(ctx, midnight)
	if err != nil {
		return Statistics{}, err
	}

	stats := Statistics{
		Entity:       s.store.Table().Entity,
		Total:        raw.Total,
		Active:       raw.Active,
		Deleted:      raw.Deleted,
		CreatedToday: raw.CreatedSince,
	}
	if raw.Total > 0 {
		stats.DeletionRatio = math.Round(float64(raw.Deleted)/float64(raw.Total)*10000) / 100
	}
	return stats, nil
}

// StampCreator returns values with the created-by column filled from the
// request actor, for callers that insert through the store directly.
func (s *Service[T]) StampCreator(ctx context.Context, values persistence.Values) persistence.Values {
	return s.withCreator(ctx, values)
}

func (s *Service[T]) withCreator(ctx context.Context, values persistence.Values) persistence.Values {
	column := s.store.Table().CreatedByColumn
	if column == "" {
		return values
	}
	if _, set := values[column]; set {
		return values
	}
	actor := requesttrace.FromContextOrAnonymous(ctx).Actor()
	if actor == nil {
		return values
	}

	out := make(persistence.Values, len(values)+1)
	for k, v := range values {
		out[k] = v
	}
	out[column] = *actor
	return out
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}
