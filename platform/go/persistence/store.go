package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/collabridge/rapport-tracker/platform/go/softdelete"
)

// Values maps column names to values for inserts and partial updates.
type Values map[string]any

// Schema tells a Store how to read and write one record type.
type Schema[T any] struct {
	Table Table
	// Columns are selected in this order and handed to Scan.
	Columns []string
	Scan    func(row pgx.Row) (T, error)
	// Writable lists the columns accepted by Insert and Update.
	Writable []string
	// SortFields maps API sort keys to columns.
	SortFields  map[string]string
	DefaultSort string
	// Timestamps marks tables carrying created_at/updated_at.
	Timestamps bool
}

// ListParams captures scope, filters and pagination for List.
type ListParams struct {
	Scope      softdelete.Scope
	Conditions []Condition
	Sort       *string
	Page       int
	PageSize   int
}

// ListResult includes the rows and the total count for pagination metadata.
type ListResult[T any] struct {
	Items      []T
	TotalItems int
}

// Statistics summarises the rows of a table.
type Statistics struct {
	Total        int
	Active       int
	Deleted      int
	CreatedSince int
}

// Store implements generic CRUD and single-row soft delete for one table.
type Store[T any] struct {
	db       *DB
	schema   Schema[T]
	selectSQ string
	writable map[string]struct{}
	now      func() time.Time
}

// StoreOption customizes a Store.
type StoreOption func(*storeOptions)

type storeOptions struct {
	now func() time.Time
}

// WithStoreClock overrides the clock used for deletion timestamps.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(o *storeOptions) {
		o.now = now
	}
}

// NewStore validates the schema and returns a store instance.
func NewStore[T any](db *DB, schema Schema[T], opts ...StoreOption) (*Store[T], error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if schema.Scan == nil {
		return nil, fmt.Errorf("%s: scan func is required", schema.Table.Entity)
	}
	if _, err := sqlIdentifier(schema.Table.Name); err != nil {
		return nil, fmt.Errorf("%s: %w", schema.Table.Entity, err)
	}
	if len(schema.Columns) == 0 {
		return nil, fmt.Errorf("%s: at least one column is required", schema.Table.Entity)
	}

	quoted := make([]string, 0, len(schema.Columns))
	for _, c := range schema.Columns {
		if _, err := sqlIdentifier(c); err != nil {
			return nil, fmt.Errorf("%s: invalid column: %w", schema.Table.Entity, err)
		}
		quoted = append(quoted, quoteIdent(c))
	}

	writable := make(map[string]struct{}, len(schema.Writable))
	for _, c := range schema.Writable {
		if _, err := sqlIdentifier(c); err != nil {
			return nil, fmt.Errorf("%s: invalid writable column: %w", schema.Table.Entity, err)
		}
		writable[c] = struct{}{}
	}

	o := storeOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &Store[T]{
		db:       db,
		schema:   schema,
		selectSQ: strings.Join(quoted, ", "),
		writable: writable,
		now:      o.now,
	}, nil
}

// MustStore panics when the schema is invalid; intended for static wiring.
func MustStore[T any](db *DB, schema Schema[T], opts ...StoreOption) *Store[T] {
	s, err := NewStore(db, schema, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// Table returns the table descriptor.
func (s *Store[T]) Table() Table {
	return s.schema.Table
}

// DB returns the underlying DB.
func (s *Store[T]) DB() *DB {
	return s.db
}

// Insert adds a row and returns the persisted record.
func (s *Store[T]) Insert(ctx context.Context, values Values) (T, error) {
	return s.insert(ctx, s.db.Querier(), values)
}

// InsertTx adds a row within the caller's transaction.
func (s *Store[T]) InsertTx(ctx context.Context, tx pgx.Tx, values Values) (T, error) {
	return s.insert(ctx, tx, values)
}

// InsertMany adds all rows in a single transaction.
func (s *Store[T]) InsertMany(ctx context.Context, rows []Values) ([]T, error) {
	out := make([]T, 0, len(rows))
	if len(rows) == 0 {
		return out, nil
	}

	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		for i, values := range rows {
			record, err := s.insert(ctx, tx, values)
			if err != nil {
				return fmt.Errorf("insert row %d: %w", i, err)
			}
			out = append(out, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store[T]) insert(ctx context.Context, q Querier, values Values) (T, error) {
	var zero T

	columns, err := s.columnsOf(values)
	if err != nil {
		return zero, err
	}
	if _, ok := values[ColumnID]; !ok {
		columns = append([]string{ColumnID}, columns...)
		values = withID(values)
	}

	quoted := make([]string, 0, len(columns))
	placeholders := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns))
	for i, c := range columns {
		quoted = append(quoted, quoteIdent(c))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, values[c])
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (%s)
        VALUES (%s)
        RETURNING %s
    `, s.schema.Table.ident(), strings.Join(quoted, ", "), strings.Join(placeholders, ", "), s.selectSQ)

	record, err := s.schema.Scan(q.QueryRow(ctx, query, args...))
	if err != nil {
		return zero, mapWriteError(s.schema.Table, "insert", err)
	}
	return record, nil
}

// Get returns one row by id within the given scope.
func (s *Store[T]) Get(ctx context.Context, id uuid.UUID, scope softdelete.Scope) (T, error) {
	var zero T
	if id == uuid.Nil {
		return zero, ErrRecordNotFound
	}

	w := &whereBuilder{}
	if err := w.add(Eq(ColumnID, id)); err != nil {
		return zero, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s`, s.selectSQ, s.schema.Table.ident(), w.sql(s.schema.Table, scope))
	record, err := s.schema.Scan(s.db.Querier().QueryRow(ctx, query, w.args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, ErrRecordNotFound
		}
		return zero, fmt.Errorf("get %s: %w", s.schema.Table.Entity, err)
	}
	return record, nil
}

// List returns rows matching the filters with pagination applied.
func (s *Store[T]) List(ctx context.Context, params ListParams) (ListResult[T], error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize <= 0 {
		params.PageSize = 20
	}
	if params.PageSize > 100 {
		params.PageSize = 100
	}

	w := &whereBuilder{}
	if err := w.add(params.Conditions...); err != nil {
		return ListResult[T]{}, err
	}
	whereSQL := w.sql(s.schema.Table, params.Scope)

	orderSQL, err := s.buildOrderBy(params.Sort)
	if err != nil {
		return ListResult[T]{}, err
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", s.schema.Table.ident(), whereSQL)
	var total int
	if err := s.db.Querier().QueryRow(ctx, countQuery, w.args...).Scan(&total); err != nil {
		return ListResult[T]{}, fmt.Errorf("count %s: %w", s.schema.Table.Name, err)
	}

	result := ListResult[T]{Items: []T{}, TotalItems: total}
	if total == 0 {
		return result, nil
	}

	dataArgs := append([]any{}, w.args...)
	dataArgs = append(dataArgs, params.PageSize, (params.Page-1)*params.PageSize)

	query := fmt.Sprintf(`
        SELECT %s
        FROM %s
        WHERE %s
        %s
        LIMIT $%d OFFSET $%d
    `, s.selectSQ, s.schema.Table.ident(), whereSQL, orderSQL, len(dataArgs)-1, len(dataArgs))

	rows, err := s.db.Querier().Query(ctx, query, dataArgs...)
	if err != nil {
		return ListResult[T]{}, fmt.Errorf("list %s: %w", s.schema.Table.Name, err)
	}
	defer rows.Close()

	for rows.Next() {
		record, scanErr := s.schema.Scan(rows)
		if scanErr != nil {
			return ListResult[T]{}, fmt.Errorf("scan %s: %w", s.schema.Table.Entity, scanErr)
		}
		result.Items = append(result.Items, record)
	}
	if err := rows.Err(); err != nil {
		return ListResult[T]{}, fmt.Errorf("iterate %s: %w", s.schema.Table.Name, err)
	}

	return result, nil
}

func (s *Store[T]) buildOrderBy(sort *string) (string, error) {
	defaultOrder := ""
	if s.schema.DefaultSort != "" {
		defaultOrder = "ORDER BY " + s.schema.DefaultSort
	}
	if sort == nil || strings.TrimSpace(*sort) == "" {
		return defaultOrder, nil
	}

	fields := strings.Split(strings.TrimSpace(*sort), ",")
	orderClauses := make([]string, 0, len(fields))

	for _, raw := range fields {
		f := strings.TrimSpace(raw)
		if f == "" {
			continue
		}

		direction := "ASC"
		if strings.HasPrefix(f, "-") {
			direction = "DESC"
			f = strings.TrimPrefix(f, "-")
		}

		column, ok := s.schema.SortFields[f]
		if !ok {
			return "", fmt.Errorf("unsupported sort field %q", f)
		}

		orderClauses = append(orderClauses, fmt.Sprintf("%s %s", quoteIdent(column), direction))
	}

	if len(orderClauses) == 0 {
		return defaultOrder, nil
	}

	return "ORDER BY " + strings.Join(orderClauses, ", "), nil
}

// Update applies the provided columns to an active row and returns the updated record.
func (s *Store[T]) Update(ctx context.Context, id uuid.UUID, values Values) (T, error) {
	var zero T
	if id == uuid.Nil {
		return zero, ErrRecordNotFound
	}

	columns, err := s.columnsOf(values)
	if err != nil {
		return zero, err
	}
	if len(columns) == 0 {
		return zero, ErrNoFieldsToUpdate
	}

	setParts := make([]string, 0, len(columns)+1)
	args := make([]any, 0, len(columns)+1)
	for _, c := range columns {
		args = append(args, values[c])
		setParts = append(setParts, fmt.Sprintf("%s = $%d", quoteIdent(c), len(args)))
	}
	if s.schema.Timestamps {
		setParts = append(setParts, "updated_at = NOW()")
	}

	w := &whereBuilder{args: args}
	if err := w.add(Eq(ColumnID, id)); err != nil {
		return zero, err
	}

	query := fmt.Sprintf(`
        UPDATE %s
        SET %s
        WHERE %s
        RETURNING %s
    `, s.schema.Table.ident(), strings.Join(setParts, ", "), w.sql(s.schema.Table, softdelete.ScopeActive), s.selectSQ)

	record, err := s.schema.Scan(s.db.Querier().QueryRow(ctx, query, w.args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, ErrRecordNotFound
		}
		return zero, mapWriteError(s.schema.Table, "update", err)
	}
	return record, nil
}

// Delete physically removes a row. Soft-deletable tables should use SoftDelete.
func (s *Store[T]) Delete(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return ErrRecordNotFound
	}

	tag, err := s.db.Querier().Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.schema.Table.ident()), id)
	if err != nil {
		return mapWriteError(s.schema.Table, "delete", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// SoftDelete locks the row, applies the deletion state transition and persists it.
func (s *Store[T]) SoftDelete(ctx context.Context, id uuid.UUID, actor, reason *string) (softdelete.Fields, error) {
	return s.transition(ctx, id, func(f *softdelete.Fields) error {
		return f.SoftDelete(s.now(), actor, reason)
	})
}

// Restore locks the row, clears its deletion state and persists it.
func (s *Store[T]) Restore(ctx context.Context, id uuid.UUID) (softdelete.Fields, error) {
	return s.transition(ctx, id, func(f *softdelete.Fields) error {
		return f.Restore()
	})
}

func (s *Store[T]) transition(ctx context.Context, id uuid.UUID, apply func(f *softdelete.Fields) error) (softdelete.Fields, error) {
	if err := s.schema.Table.requireSoftDelete(); err != nil {
		return softdelete.Fields{}, err
	}
	if id == uuid.Nil {
		return softdelete.Fields{}, ErrRecordNotFound
	}

	var fields softdelete.Fields
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		fields, err = loadDeletionState(ctx, tx, s.schema.Table, id, true)
		if err != nil {
			return err
		}
		if err := apply(&fields); err != nil {
			return err
		}
		return writeDeletionState(ctx, tx, s.schema.Table, id, fields, s.schema.Timestamps)
	})
	if err != nil {
		return softdelete.Fields{}, err
	}
	return fields, nil
}

// Statistics counts total, active and deleted rows plus rows created since the given instant.
func (s *Store[T]) Statistics(ctx context.Context, since time.Time) (Statistics, error) {
	deletedExpr := "0"
	if s.schema.Table.SoftDelete {
		deletedExpr = "COUNT(*) FILTER (WHERE is_deleted)"
	}
	createdExpr := "0"
	args := []any{}
	if s.schema.Timestamps {
		createdExpr = "COUNT(*) FILTER (WHERE created_at >= $1)"
		args = append(args, since)
	}

	query := fmt.Sprintf(`SELECT COUNT(*), %s, %s FROM %s`, deletedExpr, createdExpr, s.schema.Table.ident())

	var stats Statistics
	if err := s.db.Querier().QueryRow(ctx, query, args...).Scan(&stats.Total, &stats.Deleted, &stats.CreatedSince); err != nil {
		return Statistics{}, fmt.Errorf("statistics %s: %w", s.schema.Table.Name, err)
	}
	stats.Active = stats.Total - stats.Deleted
	return stats, nil
}

func (s *Store[T]) columnsOf(values Values) ([]string, error) {
	columns := make([]string, 0, len(values))
	for c := range values {
		if c == ColumnID {
			columns = append(columns, c)
			continue
		}
		if _, ok := s.writable[c]; !ok {
			return nil, fmt.Errorf("%s: column %q is not writable", s.schema.Table.Entity, c)
		}
		columns = append(columns, c)
	}
	sort.Strings(columns)
	return columns, nil
}

func withID(values Values) Values {
	out := make(Values, len(values)+1)
	for k, v := range values {
		out[k] = v
	}
	out[ColumnID] = uuid.New()
	return out
}

func loadDeletionState(ctx context.Context, q Querier, table Table, id uuid.UUID, lock bool) (softdelete.Fields, error) {
	query := fmt.Sprintf(`
        SELECT deleted_at, deleted_by, deletion_reason, is_deleted
        FROM %s WHERE id = $1`, table.ident())
	if lock {
		query += " FOR UPDATE"
	}

	var f softdelete.Fields
	if err := q.QueryRow(ctx, query, id).Scan(&f.DeletedAt, &f.DeletedBy, &f.DeletionReason, &f.IsDeleted); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return softdelete.Fields{}, ErrRecordNotFound
		}
		return softdelete.Fields{}, fmt.Errorf("load %s deletion state: %w", table.Entity, err)
	}
	return f, nil
}

func writeDeletionState(ctx context.Context, q Querier, table Table, id uuid.UUID, f softdelete.Fields, touch bool) error {
	set := "deleted_at = $2, deleted_by = $3, deletion_reason = $4, is_deleted = $5"
	if touch {
		set += ", updated_at = NOW()"
	}

	tag, err := q.Exec(ctx, fmt.Sprintf(`UPDATE %s SET %s WHERE id = $1`, table.ident(), set),
		id, f.DeletedAt, f.DeletedBy, f.DeletionReason, f.IsDeleted)
	if err != nil {
		return fmt.Errorf("write %s deletion state: %w", table.Entity, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func mapWriteError(table Table, op string, err error) error {
	switch {
	case isUniqueViolation(err), isForeignKeyViolation(err):
		return fmt.Errorf("%s %s: %w: %v", op, table.Entity, ErrConflict, err)
	default:
		return fmt.Errorf("%s %s: %w", op, table.Entity, err)
	}
}
