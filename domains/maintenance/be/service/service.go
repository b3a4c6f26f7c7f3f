package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/collabridge/rapport-tracker/domains/maintenance/be/repo"
	"github.com/collabridge/rapport-tracker/platform/go/persistence"
	"github.com/collabridge/rapport-tracker/platform/go/policy"
	"github.com/collabridge/rapport-tracker/platform/go/requesttrace"
)

// MaxBulkIDs caps the identifiers accepted by one bulk request.
const MaxBulkIDs = 10000

// FieldErrors maps request fields to validation issues.
type FieldErrors map[string][]string

// ValidationError is returned when the input payload is invalid.
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	return "validation error"
}

// Domain sentinel errors.
var (
	ErrNotFound         = errors.New("maintenance target not found")
	ErrConflict         = errors.New("maintenance conflict")
	ErrNotSoftDeletable = errors.New("entity does not support soft delete")
)

// HealthObserver receives every health report; the metrics recorder implements it.
type HealthObserver interface {
	ObserveHealth(report persistence.HealthReport)
}

// BulkInput selects the rows of a bulk delete. Actor defaults to the caller
// recorded on the request context.
type BulkInput struct {
	IDs    []uuid.UUID
	Reason *string
	Actor  *string
}

// BulkResult reports a finished bulk operation. Affected is also set when an
// error interrupts the operation after some batches committed.
type BulkResult struct {
	Entity    string
	Requested int
	Affected  int64
}

// CascadeInput controls an administrative cascade. Without IncludeOwners the
// walk never climbs BelongsTo relations to the owning rows.
type CascadeInput struct {
	Actor         *string
	Reason        *string
	IncludeOwners bool
}

// CleanupResult reports a retention cleanup on one entity.
type CleanupResult struct {
	Entity        string
	RetentionDays int
	Removed       int64
}

// Service defines the administrative soft-delete operations.
type Service interface {
	Health(ctx context.Context) persistence.HealthReport
	Stats(ctx context.Context, entity string) (persistence.TableStats, error)
	Indexes(ctx context.Context, entity string) (persistence.IndexStatus, error)
	BulkDelete(ctx context.Context, entity string, input BulkInput) (BulkResult, error)
	BulkRestore(ctx context.Context, entity string, ids []uuid.UUID) (BulkResult, error)
	// Cleanup hard deletes stale rows; a nil retention uses the policy value.
	Cleanup(ctx context.Context, entity string, retentionDays *int) (CleanupResult, error)
	CascadeDelete(ctx context.Context, entity string, id uuid.UUID, input CascadeInput) (map[string]int, error)
	Policy() policy.Policy
	UpdatePolicy(next policy.Policy) (policy.Policy, error)
}

type service struct {
	repo     repo.Repository
	policy   *policy.Holder
	observer HealthObserver
}

// New constructs a maintenance Service. observer may be nil.
func New(r repo.Repository, holder *policy.Holder, observer HealthObserver) Service {
	if r == nil {
		panic("maintenance repository is required")
	}
	if holder == nil {
		panic("policy holder is required")
	}
	return &service{repo: r, policy: holder, observer: observer}
}

func healthConfig(p policy.Policy) persistence.HealthConfig {
	cfg := persistence.HealthConfig{
		SlowThreshold: p.SlowQueryThreshold(),
		StaleAfter:    p.StaleAfter(),
	}
	if p.EnableMonitoring && p.AlertOnHighDeletionRatio {
		cfg.RatioAlert = p.DeletionRatioAlertThreshold
	}
	return cfg
}

func (s *service) Health(ctx context.Context) persistence.HealthReport {
	p := s.policy.Current()
	ctx, cancel := context.WithTimeout(ctx, p.QueryTimeout())
	defer cancel()

	report := s.repo.Health(ctx, healthConfig(p), s.repo.SoftDeletable())
	if s.observer != nil {
		s.observer.ObserveHealth(report)
	}
	return report
}

func (s *service) Stats(ctx context.Context, entity string) (persistence.TableStats, error) {
	table, err := s.resolve(entity)
	if err != nil {
		return persistence.TableStats{}, err
	}

	p := s.policy.Current()
	ctx, cancel := context.WithTimeout(ctx, p.QueryTimeout())
	defer cancel()

	stats, err := s.repo.TableStatistics(ctx, healthConfig(p), table)
	if err != nil {
		return persistence.TableStats{}, mapPersistenceError(err)
	}
	return stats, nil
}

func (s *service) Indexes(ctx context.Context, entity string) (persistence.IndexStatus, error) {
	table, err := s.resolve(entity)
	if err != nil {
		return persistence.IndexStatus{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.policy.Current().QueryTimeout())
	defer cancel()
	return s.repo.CheckIndexes(ctx, table), nil
}

func (s *service) BulkDelete(ctx context.Context, entity string, input BulkInput) (BulkResult, error) {
	table, err := s.resolve(entity)
	if err != nil {
		return BulkResult{}, err
	}
	if err := validateIDs(input.IDs); err != nil {
		return BulkResult{}, err
	}

	actor := trimmed(input.Actor)
	if actor == nil {
		actor = requesttrace.FromContextOrAnonymous(ctx).Actor()
	}
	reason := trimmed(input.Reason)

	p := s.policy.Current()
	if err := p.ValidateOperation("bulk delete", actor, reason); err != nil {
		return BulkResult{}, mapPersistenceError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.QueryTimeout())
	defer cancel()

	result := BulkResult{Entity: table.Entity, Requested: len(input.IDs)}
	result.Affected, err = s.repo.BulkSoftDelete(ctx, table, input.IDs, actor, reason, p.BulkOperationBatchSize)
	if err != nil {
		return result, mapPersistenceError(err)
	}
	return result, nil
}

func (s *service) BulkRestore(ctx context.Context, entity string, ids []uuid.UUID) (BulkResult, error) {
	table, err := s.resolve(entity)
	if err != nil {
		return BulkResult{}, err
	}
	if err := validateIDs(ids); err != nil {
		return BulkResult{}, err
	}

	p := s.policy.Current()
	ctx, cancel := context.WithTimeout(ctx, p.QueryTimeout())
	defer cancel()

	result := BulkResult{Entity: table.Entity, Requested: len(ids)}
	result.Affected, err = s.repo.BulkRestore(ctx, table, ids, p.BulkOperationBatchSize)
	if err != nil {
		return result, mapPersistenceError(err)
	}
	return result, nil
}

func (s *service) Cleanup(ctx context.Context, entity string, retentionDays *int) (CleanupResult, error) {
	table, err := s.resolve(entity)
	if err != nil {
		return CleanupResult{}, err
	}

	p := s.policy.Current()
	days := p.EffectiveRetentionDays()
	if retentionDays != nil {
		if *retentionDays < 1 {
			return CleanupResult{}, &ValidationError{Fields: FieldErrors{"retentionDays": {"must be at least 1"}}}
		}
		days = *retentionDays
	}

	ctx, cancel := context.WithTimeout(ctx, p.QueryTimeout())
	defer cancel()

	result := CleanupResult{Entity: table.Entity, RetentionDays: days}
	result.Removed, err = s.repo.CleanupOldDeleted(ctx, table, days, p.CleanupBatchSize)
	if err != nil {
		return result, mapPersistenceError(err)
	}
	return result, nil
}

func (s *service) CascadeDelete(ctx context.Context, entity string, id uuid.UUID, input CascadeInput) (map[string]int, error) {
	table, err := s.resolve(entity)
	if err != nil {
		return nil, err
	}
	if id == uuid.Nil {
		return nil, &ValidationError{Fields: FieldErrors{"id": {"must not be the nil uuid"}}}
	}

	actor := trimmed(input.Actor)
	if actor == nil {
		actor = requesttrace.FromContextOrAnonymous(ctx).Actor()
	}
	reason := trimmed(input.Reason)

	p := s.policy.Current()
	if err := p.ValidateOperation("cascade delete", actor, reason); err != nil {
		return nil, mapPersistenceError(err)
	}
	if !p.CascadeSoftDelete {
		return nil, &ValidationError{Fields: FieldErrors{"cascade": {"cascading soft delete is disabled by policy"}}}
	}

	ctx, cancel := context.WithTimeout(ctx, p.QueryTimeout())
	defer cancel()

	counts, err := s.repo.CascadeSoftDelete(ctx, table.Entity, id, actor, reason, p.MaxCascadeDepth, input.IncludeOwners)
	if err != nil {
		return nil, mapPersistenceError(err)
	}
	return counts, nil
}

func (s *service) Policy() policy.Policy {
	return s.policy.Current()
}

func (s *service) UpdatePolicy(next policy.Policy) (policy.Policy, error) {
	updated, err := s.policy.Swap(next)
	if err != nil {
		return policy.Policy{}, mapPersistenceError(err)
	}
	return updated, nil
}

func (s *service) resolve(entity string) (persistence.Table, error) {
	table, err := s.repo.Resolve(entity)
	if err != nil {
		return persistence.Table{}, mapPersistenceError(err)
	}
	return table, nil
}

func validateIDs(ids []uuid.UUID) error {
	switch {
	case len(ids) == 0:
		return &ValidationError{Fields: FieldErrors{"ids": {"at least one id is required"}}}
	case len(ids) > MaxBulkIDs:
		return &ValidationError{Fields: FieldErrors{"ids": {fmt.Sprintf("at most %d ids are accepted per request", MaxBulkIDs)}}}
	}
	for i, id := range ids {
		if id == uuid.Nil {
			return &ValidationError{Fields: FieldErrors{fmt.Sprintf("ids[%d]", i): {"must not be the nil uuid"}}}
		}
	}
	return nil
}

func mapPersistenceError(err error) error {
	var policyErr *policy.ValidationError
	switch {
	case errors.As(err, &policyErr):
		return &ValidationError{Fields: FieldErrors(policyErr.Fields)}
	case errors.Is(err, persistence.ErrUnknownEntity):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, persistence.ErrRecordNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, persistence.ErrNotSoftDeletable):
		return fmt.Errorf("%w: %v", ErrNotSoftDeletable, err)
	case errors.Is(err, persistence.ErrInvalidCascadeDepth):
		return &ValidationError{Fields: FieldErrors{"maxCascadeDepth": {err.Error()}}}
	case errors.Is(err, persistence.ErrCascadeDepthExceeded):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}
