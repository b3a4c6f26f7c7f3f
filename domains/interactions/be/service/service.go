package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/collabridge/rapport-tracker/domains/interactions/be/repo"
	"github.com/collabridge/rapport-tracker/platform/go/dataservice"
	"github.com/collabridge/rapport-tracker/platform/go/persistence"
	"github.com/collabridge/rapport-tracker/platform/go/policy"
	"github.com/collabridge/rapport-tracker/platform/go/softdelete"
)

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
	ErrNotFound  = errors.New("interaction not found")
	ErrConflict  = errors.New("interaction conflict")
	ErrForbidden = errors.New("you can only log interactions with your own contacts")
)

// Deletion is the audit trail of a soft-deleted interaction.
type Deletion struct {
	At     time.Time
	By     *string
	Reason *string
}

// TacticLog is a tactic applied during an interaction.
type TacticLog struct {
	ID                 uuid.UUID
	TacticID           uuid.UUID
	EffectivenessScore *int
	Notes              *string
}

// Interaction is the domain view of a logged interaction.
type Interaction struct {
	ID                  uuid.UUID
	UserID              uuid.UUID
	ContactID           uuid.UUID
	InteractionDatetime time.Time
	Medium              string
	Topic               string
	UserNotes           *string
	RapportScorePost    int
	ObservedNonVerbal   *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	Deletion            *Deletion
	// TacticLogs is nil unless requested.
	TacticLogs []TacticLog
}

// TacticLogInput is one tactic log submitted with a new interaction.
type TacticLogInput struct {
	TacticID           uuid.UUID `json:"tacticId" validate:"required"`
	EffectivenessScore *int      `json:"effectivenessScore" validate:"omitempty,min=1,max=5"`
	Notes              *string   `json:"notes" validate:"omitempty,max=2000"`
}

// CreateInput is the payload of a new interaction.
type CreateInput struct {
	ContactID           uuid.UUID        `json:"contactId" validate:"required"`
	InteractionDatetime time.Time        `json:"interactionDatetime" validate:"required"`
	Medium              string           `json:"medium" validate:"required,interaction_medium"`
	Topic               string           `json:"topic" validate:"required,max=255"`
	UserNotes           *string          `json:"userNotes" validate:"omitempty,max=5000"`
	RapportScorePost    int              `json:"rapportScorePost" validate:"min=1,max=10"`
	ObservedNonVerbal   *string          `json:"observedNonVerbal" validate:"omitempty,max=5000"`
	TacticLogs          []TacticLogInput `json:"tacticLogs" validate:"dive"`
}

// UpdateInput carries the fields to change; nil leaves a field untouched.
type UpdateInput struct {
	InteractionDatetime *time.Time `json:"interactionDatetime"`
	Medium              *string    `json:"medium" validate:"omitempty,interaction_medium"`
	Topic               *string    `json:"topic" validate:"omitempty,min=1,max=255"`
	UserNotes           *string    `json:"userNotes" validate:"omitempty,max=5000"`
	RapportScorePost    *int       `json:"rapportScorePost" validate:"omitempty,min=1,max=10"`
	ObservedNonVerbal   *string    `json:"observedNonVerbal" validate:"omitempty,max=5000"`
}

// GetOptions controls a single lookup.
type GetOptions struct {
	IncludeDeleted bool
	With           []string
}

// ListOptions controls filtering and pagination.
type ListOptions struct {
	ContactID      *uuid.UUID
	Medium         *string
	Page           int
	PageSize       int
	Sort           *string
	IncludeDeleted bool
	OnlyDeleted    bool
}

// ListResult wraps a page of interactions with pagination metadata.
type ListResult struct {
	Interactions []Interaction
	Page         int
	PageSize     int
	TotalItems   int
	TotalPages   int
}

// DeleteInput controls a soft delete.
type DeleteInput struct {
	Reason *string
}

// Service defines the business operations for the interactions domain.
type Service interface {
	Create(ctx context.Context, ownerID uuid.UUID, input CreateInput) (Interaction, error)
	List(ctx context.Context, ownerID uuid.UUID, opts ListOptions) (ListResult, error)
	Get(ctx context.Context, ownerID, id uuid.UUID, opts GetOptions) (Interaction, error)
	Update(ctx context.Context, ownerID, id uuid.UUID, input UpdateInput) (Interaction, error)
	Delete(ctx context.Context, ownerID, id uuid.UUID, input DeleteInput) error
	Restore(ctx context.Context, ownerID, id uuid.UUID) (Interaction, error)
}

type service struct {
	repo     repo.Repository
	validate *validator.Validate
}

// New constructs an interactions Service instance backed by the provided repository.
func New(r repo.Repository) Service {
	if r == nil {
		panic("interactions repository is required")
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("interaction_medium", func(fl validator.FieldLevel) bool {
		return validMedium(fl.Field().String())
	}); err != nil {
		panic(err)
	}

	return &service{repo: r, validate: v}
}

func (s *service) Create(ctx context.Context, ownerID uuid.UUID, input CreateInput) (Interaction, error) {
	input.Topic = strings.TrimSpace(input.Topic)
	input.UserNotes = trimmed(input.UserNotes)
	input.ObservedNonVerbal = trimmed(input.ObservedNonVerbal)

	if err := s.validateStruct(input); err != nil {
		return Interaction{}, err
	}

	seen := make(map[uuid.UUID]struct{}, len(input.TacticLogs))
	logs := make([]persistence.TacticLogValues, 0, len(input.TacticLogs))
	for _, l := range input.TacticLogs {
		if _, dup := seen[l.TacticID]; dup {
			return Interaction{}, newValidationError(map[string]string{
				"tacticLogs": fmt.Sprintf("tactic %s is logged more than once", l.TacticID),
			})
		}
		seen[l.TacticID] = struct{}{}
		logs = append(logs, persistence.TacticLogValues{
			TacticID:           l.TacticID,
			EffectivenessScore: l.EffectivenessScore,
			Notes:              trimmed(l.Notes),
		})
	}

	contact, err := s.repo.GetContact(ctx, input.ContactID)
	if err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return Interaction{}, newValidationError(map[string]string{"contactId": "contact does not exist"})
		}
		return Interaction{}, mapPersistenceError(err)
	}
	if contact.UserID != ownerID {
		return Interaction{}, ErrForbidden
	}

	record, err := s.repo.CreateWithTacticLogs(ctx, persistence.Values{
		"user_id":              ownerID,
		"contact_id":           input.ContactID,
		"interaction_datetime": input.InteractionDatetime.UTC(),
		"medium":               input.Medium,
		"topic":                input.Topic,
		"user_notes":           input.UserNotes,
		"rapport_score_post":   input.RapportScorePost,
		"observed_non_verbal":  input.ObservedNonVerbal,
	}, logs)
	if err != nil {
		if errors.Is(err, persistence.ErrConflict) && len(logs) > 0 {
			return Interaction{}, newValidationError(map[string]string{"tacticLogs": "references an unknown tactic"})
		}
		return Interaction{}, mapPersistenceError(err)
	}

	return mapInteraction(record), nil
}

func (s *service) List(ctx context.Context, ownerID uuid.UUID, opts ListOptions) (ListResult, error) {
	sortValue, err := sanitizeSort(opts.Sort)
	if err != nil {
		return ListResult{}, err
	}

	query := dataservice.ListQuery{
		Filters:        []persistence.Condition{persistence.Eq("user_id", ownerID)},
		Page:           opts.Page,
		PageSize:       opts.PageSize,
		Sort:           sortValue,
		IncludeDeleted: opts.IncludeDeleted,
		OnlyDeleted:    opts.OnlyDeleted,
	}
	if opts.ContactID != nil {
		query.Filters = append(query.Filters, persistence.Eq("contact_id", *opts.ContactID))
	}
	if medium := trimmed(opts.Medium); medium != nil {
		if !validMedium(*medium) {
			return ListResult{}, newValidationError(map[string]string{"medium": mediumMessage()})
		}
		query.Filters = append(query.Filters, persistence.Eq("medium", *medium))
	}

	page, err := s.repo.List(ctx, query)
	if err != nil {
		return ListResult{}, mapPersistenceError(err)
	}

	items := make([]Interaction, 0, len(page.Items))
	for _, record := range page.Items {
		items = append(items, mapInteraction(record))
	}

	return ListResult{
		Interactions: items,
		Page:         page.Page,
		PageSize:     page.PageSize,
		TotalItems:   page.Total,
		TotalPages:   page.Pages,
	}, nil
}

func (s *service) Get(ctx context.Context, ownerID, id uuid.UUID, opts GetOptions) (Interaction, error) {
	record, err := s.owned(ctx, ownerID, id, dataservice.GetOptions{IncludeDeleted: opts.IncludeDeleted, Preload: opts.With})
	if err != nil {
		return Interaction{}, err
	}
	return mapInteraction(record), nil
}

func (s *service) Update(ctx context.Context, ownerID, id uuid.UUID, input UpdateInput) (Interaction, error) {
	if input.Topic != nil {
		t := strings.TrimSpace(*input.Topic)
		input.Topic = &t
	}

	if err := s.validateStruct(input); err != nil {
		return Interaction{}, err
	}

	values := persistence.Values{}
	if input.InteractionDatetime != nil {
		if input.InteractionDatetime.IsZero() {
			return Interaction{}, newValidationError(map[string]string{"interactionDatetime": "is required"})
		}
		values["interaction_datetime"] = input.InteractionDatetime.UTC()
	}
	if input.Medium != nil {
		values["medium"] = *input.Medium
	}
	if input.Topic != nil {
		values["topic"] = *input.Topic
	}
	if input.UserNotes != nil {
		values["user_notes"] = trimmed(input.UserNotes)
	}
	if input.RapportScorePost != nil {
		values["rapport_score_post"] = *input.RapportScorePost
	}
	if input.ObservedNonVerbal != nil {
		values["observed_non_verbal"] = trimmed(input.ObservedNonVerbal)
	}
	if len(values) == 0 {
		return Interaction{}, newValidationError(map[string]string{"payload": "at least one field must be provided"})
	}

	if _, err := s.owned(ctx, ownerID, id, dataservice.GetOptions{}); err != nil {
		return Interaction{}, err
	}

	record, err := s.repo.Update(ctx, id, values)
	if err != nil {
		return Interaction{}, mapPersistenceError(err)
	}

	return mapInteraction(record), nil
}

func (s *service) Delete(ctx context.Context, ownerID, id uuid.UUID, input DeleteInput) error {
	if _, err := s.owned(ctx, ownerID, id, dataservice.GetOptions{}); err != nil {
		return err
	}

	res, err := s.repo.SoftDelete(ctx, id, dataservice.DeleteOptions{Reason: trimmed(input.Reason)})
	if err != nil {
		return mapPersistenceError(err)
	}
	if !res.Deleted {
		return ErrNotFound
	}
	return nil
}

func (s *service) Restore(ctx context.Context, ownerID, id uuid.UUID) (Interaction, error) {
	record, err := s.owned(ctx, ownerID, id, dataservice.GetOptions{IncludeDeleted: true})
	if err != nil {
		return Interaction{}, err
	}
	if !record.IsSoftDeleted() {
		return Interaction{}, fmt.Errorf("%w: interaction is not deleted", ErrConflict)
	}

	restored, err := s.repo.Restore(ctx, id)
	if err != nil {
		return Interaction{}, mapPersistenceError(err)
	}
	if !restored {
		return Interaction{}, ErrNotFound
	}

	return s.Get(ctx, ownerID, id, GetOptions{})
}

func (s *service) owned(ctx context.Context, ownerID, id uuid.UUID, opts dataservice.GetOptions) (persistence.Interaction, error) {
	if id == uuid.Nil || ownerID == uuid.Nil {
		return persistence.Interaction{}, ErrNotFound
	}

	record, err := s.repo.Get(ctx, id, opts)
	if err != nil {
		return persistence.Interaction{}, mapPersistenceError(err)
	}
	if record.UserID != ownerID {
		return persistence.Interaction{}, ErrNotFound
	}
	return record, nil
}

func (s *service) validateStruct(input any) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fieldErrors := FieldErrors{}
	for _, fe := range verrs {
		fieldErrors.add(fieldPath(fe.Namespace()), describeTag(fe))
	}
	return &ValidationError{Fields: fieldErrors}
}

// fieldPath drops the struct name from a validator namespace such as
// "CreateInput.tacticLogs[0].tacticId".
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func validMedium(v string) bool {
	return slices.Contains(persistence.InteractionMediums, persistence.InteractionMedium(v))
}

func mediumMessage() string {
	mediums := make([]string, 0, len(persistence.InteractionMediums))
	for _, m := range persistence.InteractionMediums {
		mediums = append(mediums, string(m))
	}
	return "must be one of: " + strings.Join(mediums, ", ")
}

func sanitizeSort(sort *string) (*string, error) {
	if sort == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*sort)
	if trimmed == "" {
		return nil, nil
	}

	allowed := map[string]struct{}{
		"interactionDatetime": {},
		"rapportScorePost":    {},
		"createdAt":           {},
	}

	for _, raw := range strings.Split(trimmed, ",") {
		field := strings.TrimPrefix(strings.TrimSpace(raw), "-")
		if field == "" {
			continue
		}
		if _, ok := allowed[field]; !ok {
			return nil, newValidationError(map[string]string{"sort": fmt.Sprintf("unsupported sort field %q", field)})
		}
	}

	return &trimmed, nil
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "interaction_medium":
		return mediumMessage()
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

func mapInteraction(record persistence.Interaction) Interaction {
	out := Interaction{
		ID:                  record.ID,
		UserID:              record.UserID,
		ContactID:           record.ContactID,
		InteractionDatetime: record.InteractionDatetime,
		Medium:              string(record.Medium),
		Topic:               record.Topic,
		UserNotes:           record.UserNotes,
		RapportScorePost:    record.RapportScorePost,
		ObservedNonVerbal:   record.ObservedNonVerbal,
		CreatedAt:           record.CreatedAt,
		UpdatedAt:           record.UpdatedAt,
	}
	if record.IsSoftDeleted() {
		out.Deletion = &Deletion{At: *record.DeletedAt, By: record.DeletedBy, Reason: record.DeletionReason}
	}
	if record.TacticLogs != nil {
		out.TacticLogs = make([]TacticLog, 0, len(record.TacticLogs))
		for _, l := range record.TacticLogs {
			out.TacticLogs = append(out.TacticLogs, TacticLog{
				ID:                 l.ID,
				TacticID:           l.TacticID,
				EffectivenessScore: l.EffectivenessScore,
				Notes:              l.Notes,
			})
		}
	}
	return out
}

func mapPersistenceError(err error) error {
	var policyErr *policy.ValidationError
	var dataErr *dataservice.ValidationError
	switch {
	case errors.As(err, &policyErr):
		return &ValidationError{Fields: FieldErrors(policyErr.Fields)}
	case errors.As(err, &dataErr):
		return &ValidationError{Fields: FieldErrors(dataErr.Fields)}
	case errors.Is(err, persistence.ErrNoFieldsToUpdate):
		return newValidationError(map[string]string{"payload": "at least one field must be provided"})
	case errors.Is(err, persistence.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrConflict),
		errors.Is(err, softdelete.ErrAlreadyDeleted),
		errors.Is(err, softdelete.ErrNotDeleted):
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

func newValidationError(fields map[string]string) error {
	fe := FieldErrors{}
	for key, message := range fields {
		fe.add(key, message)
	}
	return &ValidationError{Fields: fe}
}

func (f FieldErrors) add(field, message string) {
	if f == nil {
		return
	}
	f[field] = append(f[field], message)
}
