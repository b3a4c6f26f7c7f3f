package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/collabridge/rapport-tracker/domains/contacts/be/repo"
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
	ErrNotFound = errors.New("contact not found")
	ErrConflict = errors.New("contact conflict")
)

// Deletion is the audit trail of a soft-deleted contact.
type Deletion struct {
	At     time.Time
	By     *string
	Reason *string
}

// Contact is the domain view of a contact owned by a user.
type Contact struct {
	ID                      uuid.UUID
	UserID                  uuid.UUID
	Name                    string
	Title                   *string
	Level                   string
	CommonGroundNotes       *string
	CommunicationStyleNotes *string
	CreatedAt               time.Time
	UpdatedAt               time.Time
	Deletion                *Deletion
}

// Interaction is the summary of an interaction shown on a contact timeline.
type Interaction struct {
	ID                  uuid.UUID
	InteractionDatetime time.Time
	Medium              string
	Topic               string
	UserNotes           *string
	RapportScorePost    int
	ObservedNonVerbal   *string
	CreatedAt           time.Time
}

// CreateInput is the payload of a new contact.
type CreateInput struct {
	Name                    string  `validate:"required,max=200"`
	Title                   *string `validate:"omitempty,max=200"`
	Level                   string  `validate:"required,contact_level"`
	CommonGroundNotes       *string `validate:"omitempty,max=5000"`
	CommunicationStyleNotes *string `validate:"omitempty,max=5000"`
}

// UpdateInput carries the fields to change; nil leaves a field untouched.
type UpdateInput struct {
	Name                    *string `validate:"omitempty,min=1,max=200"`
	Title                   *string `validate:"omitempty,max=200"`
	Level                   *string `validate:"omitempty,contact_level"`
	CommonGroundNotes       *string `validate:"omitempty,max=5000"`
	CommunicationStyleNotes *string `validate:"omitempty,max=5000"`
}

// ListOptions controls filtering and pagination.
type ListOptions struct {
	Name           *string
	Level          *string
	Page           int
	PageSize       int
	Sort           *string
	IncludeDeleted bool
	OnlyDeleted    bool
}

// ListResult wraps a page of contacts with pagination metadata.
type ListResult struct {
	Contacts   []Contact
	Page       int
	PageSize   int
	TotalItems int
	TotalPages int
}

// InteractionList is one page of a contact's interactions, newest first.
type InteractionList struct {
	Interactions []Interaction
	Page         int
	PageSize     int
	TotalItems   int
	TotalPages   int
}

// DeleteInput controls a soft delete.
type DeleteInput struct {
	Reason  *string
	Cascade bool
}

// DeleteResult reports the rows tombstoned per entity.
type DeleteResult struct {
	Counts map[string]int
}

// Service defines the business operations for the contacts domain. Every
// operation is scoped to the owner; contacts of other users are reported as
// not found.
type Service interface {
	Create(ctx context.Context, ownerID uuid.UUID, input CreateInput) (Contact, error)
	List(ctx context.Context, ownerID uuid.UUID, opts ListOptions) (ListResult, error)
	Get(ctx context.Context, ownerID, id uuid.UUID, includeDeleted bool) (Contact, error)
	Update(ctx context.Context, ownerID, id uuid.UUID, input UpdateInput) (Contact, error)
	Delete(ctx context.Context, ownerID, id uuid.UUID, input DeleteInput) (DeleteResult, error)
	Restore(ctx context.Context, ownerID, id uuid.UUID) (Contact, error)
	ListInteractions(ctx context.Context, ownerID, id uuid.UUID, page, pageSize int) (InteractionList, error)
}

type service struct {
	repo     repo.Repository
	validate *validator.Validate
}

var fieldNames = map[string]string{
	"Name":                    "name",
	"Title":                   "title",
	"Level":                   "level",
	"CommonGroundNotes":       "commonGroundNotes",
	"CommunicationStyleNotes": "communicationStyleNotes",
}

// New constructs a contacts Service instance backed by the provided repository.
func New(r repo.Repository) Service {
	if r == nil {
		panic("contacts repository is required")
	}

	v := validator.New()
	if err := v.RegisterValidation("contact_level", func(fl validator.FieldLevel) bool {
		return slices.Contains(persistence.ContactLevels, persistence.ContactLevel(fl.Field().String()))
	}); err != nil {
		panic(err)
	}

	return &service{repo: r, validate: v}
}

func (s *service) Create(ctx context.Context, ownerID uuid.UUID, input CreateInput) (Contact, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Title = trimmed(input.Title)
	input.CommonGroundNotes = trimmed(input.CommonGroundNotes)
	input.CommunicationStyleNotes = trimmed(input.CommunicationStyleNotes)

	if err := s.validateStruct(input); err != nil {
		return Contact{}, err
	}

	record, err := s.repo.Create(ctx, persistence.Values{
		"user_id":                   ownerID,
		"name":                      input.Name,
		"title":                     input.Title,
		"level":                     input.Level,
		"common_ground_notes":       input.CommonGroundNotes,
		"communication_style_notes": input.CommunicationStyleNotes,
	})
	if err != nil {
		return Contact{}, mapPersistenceError(err)
	}

	return mapContact(record), nil
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
	if name := trimmed(opts.Name); name != nil {
		query.Filters = append(query.Filters, persistence.Contains("name", *name))
	}
	if level := trimmed(opts.Level); level != nil {
		if !slices.Contains(persistence.ContactLevels, persistence.ContactLevel(*level)) {
			return ListResult{}, newValidationError(map[string]string{"level": levelMessage()})
		}
		query.Filters = append(query.Filters, persistence.Eq("level", *level))
	}

	page, err := s.repo.List(ctx, query)
	if err != nil {
		return ListResult{}, mapPersistenceError(err)
	}

	contacts := make([]Contact, 0, len(page.Items))
	for _, record := range page.Items {
		contacts = append(contacts, mapContact(record))
	}

	return ListResult{
		Contacts:   contacts,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalItems: page.Total,
		TotalPages: page.Pages,
	}, nil
}

func (s *service) Get(ctx context.Context, ownerID, id uuid.UUID, includeDeleted bool) (Contact, error) {
	record, err := s.owned(ctx, ownerID, id, includeDeleted)
	if err != nil {
		return Contact{}, err
	}
	return mapContact(record), nil
}

func (s *service) Update(ctx context.Context, ownerID, id uuid.UUID, input UpdateInput) (Contact, error) {
	input.Name = trimmedKeepEmpty(input.Name)
	input.Title = trimmedKeepEmpty(input.Title)
	input.CommonGroundNotes = trimmedKeepEmpty(input.CommonGroundNotes)
	input.CommunicationStyleNotes = trimmedKeepEmpty(input.CommunicationStyleNotes)

	if err := s.validateStruct(input); err != nil {
		return Contact{}, err
	}

	values := persistence.Values{}
	if input.Name != nil {
		values["name"] = *input.Name
	}
	if input.Title != nil {
		values["title"] = nullIfEmpty(*input.Title)
	}
	if input.Level != nil {
		values["level"] = *input.Level
	}
	if input.CommonGroundNotes != nil {
		values["common_ground_notes"] = nullIfEmpty(*input.CommonGroundNotes)
	}
	if input.CommunicationStyleNotes != nil {
		values["communication_style_notes"] = nullIfEmpty(*input.CommunicationStyleNotes)
	}
	if len(values) == 0 {
		return Contact{}, newValidationError(map[string]string{"payload": "at least one field must be provided"})
	}

	if _, err := s.owned(ctx, ownerID, id, false); err != nil {
		return Contact{}, err
	}

	record, err := s.repo.Update(ctx, id, values)
	if err != nil {
		return Contact{}, mapPersistenceError(err)
	}

	return mapContact(record), nil
}

func (s *service) Delete(ctx context.Context, ownerID, id uuid.UUID, input DeleteInput) (DeleteResult, error) {
	if _, err := s.owned(ctx, ownerID, id, false); err != nil {
		return DeleteResult{}, err
	}

	res, err := s.repo.SoftDelete(ctx, id, dataservice.DeleteOptions{Reason: trimmed(input.Reason), Cascade: input.Cascade})
	if err != nil {
		return DeleteResult{}, mapPersistenceError(err)
	}
	if !res.Deleted {
		return DeleteResult{}, ErrNotFound
	}

	return DeleteResult{Counts: res.Counts}, nil
}

func (s *service) Restore(ctx context.Context, ownerID, id uuid.UUID) (Contact, error) {
	record, err := s.owned(ctx, ownerID, id, true)
	if err != nil {
		return Contact{}, err
	}
	if !record.IsSoftDeleted() {
		return Contact{}, fmt.Errorf("%w: contact is not deleted", ErrConflict)
	}

	restored, err := s.repo.Restore(ctx, id)
	if err != nil {
		return Contact{}, mapPersistenceError(err)
	}
	if !restored {
		return Contact{}, ErrNotFound
	}

	return s.Get(ctx, ownerID, id, false)
}

func (s *service) ListInteractions(ctx context.Context, ownerID, id uuid.UUID, page, pageSize int) (InteractionList, error) {
	if _, err := s.owned(ctx, ownerID, id, false); err != nil {
		return InteractionList{}, err
	}

	result, err := s.repo.ListInteractions(ctx, dataservice.ListQuery{
		Filters: []persistence.Condition{
			persistence.Eq("contact_id", id),
			persistence.Eq("user_id", ownerID),
		},
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		return InteractionList{}, mapPersistenceError(err)
	}

	items := make([]Interaction, 0, len(result.Items))
	for _, record := range result.Items {
		items = append(items, Interaction{
			ID:                  record.ID,
			InteractionDatetime: record.InteractionDatetime,
			Medium:              string(record.Medium),
			Topic:               record.Topic,
			UserNotes:           record.UserNotes,
			RapportScorePost:    record.RapportScorePost,
			ObservedNonVerbal:   record.ObservedNonVerbal,
			CreatedAt:           record.CreatedAt,
		})
	}

	return InteractionList{
		Interactions: items,
		Page:         result.Page,
		PageSize:     result.PageSize,
		TotalItems:   result.Total,
		TotalPages:   result.Pages,
	}, nil
}

// owned loads a contact and hides it unless ownerID owns it.
func (s *service) owned(ctx context.Context, ownerID, id uuid.UUID, includeDeleted bool) (persistence.Contact, error) {
	if id == uuid.Nil || ownerID == uuid.Nil {
		return persistence.Contact{}, ErrNotFound
	}

	record, err := s.repo.Get(ctx, id, includeDeleted)
	if err != nil {
		return persistence.Contact{}, mapPersistenceError(err)
	}
	if record.UserID != ownerID {
		return persistence.Contact{}, ErrNotFound
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
		fieldErrors.add(fieldNames[fe.Field()], describeTag(fe))
	}
	return &ValidationError{Fields: fieldErrors}
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
		"name":      {},
		"level":     {},
		"createdAt": {},
		"updatedAt": {},
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

func levelMessage() string {
	levels := make([]string, 0, len(persistence.ContactLevels))
	for _, l := range persistence.ContactLevels {
		levels = append(levels, string(l))
	}
	return "must be one of: " + strings.Join(levels, ", ")
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "contact_level":
		return levelMessage()
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

func mapContact(record persistence.Contact) Contact {
	contact := Contact{
		ID:                      record.ID,
		UserID:                  record.UserID,
		Name:                    record.Name,
		Title:                   record.Title,
		Level:                   string(record.Level),
		CommonGroundNotes:       record.CommonGroundNotes,
		CommunicationStyleNotes: record.CommunicationStyleNotes,
		CreatedAt:               record.CreatedAt,
		UpdatedAt:               record.UpdatedAt,
	}
	if record.IsSoftDeleted() {
		contact.Deletion = &Deletion{At: *record.DeletedAt, By: record.DeletedBy, Reason: record.DeletionReason}
	}
	return contact
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
		errors.Is(err, persistence.ErrCascadeDepthExceeded),
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

// trimmedKeepEmpty trims but keeps an explicit empty string, which clears
// optional columns and fails validation on required ones.
func trimmedKeepEmpty(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	return &t
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
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
