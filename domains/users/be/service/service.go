package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/collabridge/rapport-tracker/domains/users/be/repo"
	platformauth "github.com/collabridge/rapport-tracker/platform/go/auth"
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
	ErrNotFound           = errors.New("user not found")
	ErrConflict           = errors.New("user conflict")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// DefaultOnboardingStatus is stored for new registrations.
const DefaultOnboardingStatus = "not_started"

// Deletion is the audit trail of a soft-deleted user.
type Deletion struct {
	At     time.Time
	By     *string
	Reason *string
}

// User represents the domain view of a user record.
type User struct {
	ID               uuid.UUID
	Email            string
	FullName         string
	IsActive         bool
	IsAdmin          bool
	OnboardingStatus string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Deletion         *Deletion
}

// ListOptions controls filtering and pagination.
type ListOptions struct {
	Email          *string
	Page           int
	PageSize       int
	Sort           *string
	IncludeDeleted bool
	OnlyDeleted    bool
}

// ListResult wraps a page of users with pagination metadata.
type ListResult struct {
	Users      []User
	Page       int
	PageSize   int
	TotalItems int
	TotalPages int
}

// RegisterInput is the self-service signup payload.
type RegisterInput struct {
	Email    string `validate:"required,email,max=254"`
	FullName string `validate:"required,max=200"`
	Password string `validate:"required,min=8,max=72"`
}

// LoginInput is the password login payload.
type LoginInput struct {
	Email    string
	Password string
}

// UpdateInput encapsulates fields that can be modified by administrators.
type UpdateInput struct {
	FullName *string
	IsActive *bool
	IsAdmin  *bool
}

// UpdateSelfInput encapsulates fields that the authenticated user can modify.
type UpdateSelfInput struct {
	FullName *string
}

// DeleteInput controls an administrative soft delete.
type DeleteInput struct {
	Reason  *string
	Cascade bool
}

// DeleteResult reports the rows tombstoned per entity.
type DeleteResult struct {
	Counts map[string]int
}

// TokenIssuer mints access tokens; *platformauth.Signer satisfies it.
type TokenIssuer interface {
	Issue(sub platformauth.Subject) (platformauth.Token, error)
}

// Service defines the business operations for the users domain.
type Service interface {
	Register(ctx context.Context, input RegisterInput) (User, error)
	Login(ctx context.Context, input LoginInput) (platformauth.Token, error)
	List(ctx context.Context, opts ListOptions) (ListResult, error)
	Get(ctx context.Context, id uuid.UUID, includeDeleted bool) (User, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateInput) (User, error)
	UpdateSelf(ctx context.Context, id uuid.UUID, input UpdateSelfInput) (User, error)
	Delete(ctx context.Context, id uuid.UUID, input DeleteInput) (DeleteResult, error)
	DeleteSelf(ctx context.Context, id uuid.UUID) (DeleteResult, error)
	Restore(ctx context.Context, id uuid.UUID) error
}

type service struct {
	repo     repo.Repository
	issuer   TokenIssuer
	policy   *policy.Holder
	validate *validator.Validate
}

// New constructs a users Service instance backed by the provided repository.
func New(r repo.Repository, issuer TokenIssuer, holder *policy.Holder) Service {
	if r == nil {
		panic("users repository is required")
	}
	if issuer == nil {
		panic("token issuer is required")
	}
	if holder == nil {
		panic("policy holder is required")
	}
	return &service{repo: r, issuer: issuer, policy: holder, validate: validator.New()}
}

var registerFieldNames = map[string]string{
	"Email":    "email",
	"FullName": "fullName",
	"Password": "password",
}

func (s *service) Register(ctx context.Context, input RegisterInput) (User, error) {
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.FullName = strings.TrimSpace(input.FullName)

	if err := s.validate.Struct(input); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return User{}, err
		}
		fieldErrors := FieldErrors{}
		for _, fe := range verrs {
			fieldErrors.add(registerFieldNames[fe.Field()], describeTag(fe))
		}
		return User{}, &ValidationError{Fields: fieldErrors}
	}

	hash, err := platformauth.HashPassword(input.Password)
	if err != nil {
		return User{}, err
	}

	record, err := s.repo.Create(ctx, persistence.Values{
		"email":             input.Email,
		"full_name":         input.FullName,
		"hashed_password":   hash,
		"is_active":         true,
		"is_admin":          false,
		"onboarding_status": DefaultOnboardingStatus,
	})
	if err != nil {
		return User{}, mapPersistenceError(err)
	}

	return mapUser(record), nil
}

func (s *service) Login(ctx context.Context, input LoginInput) (platformauth.Token, error) {
	email := strings.TrimSpace(input.Email)
	if email == "" || input.Password == "" {
		return platformauth.Token{}, ErrInvalidCredentials
	}

	record, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return platformauth.Token{}, ErrInvalidCredentials
		}
		return platformauth.Token{}, err
	}
	if !record.IsActive {
		return platformauth.Token{}, ErrInvalidCredentials
	}
	if err := platformauth.CheckPassword(record.HashedPassword, input.Password); err != nil {
		return platformauth.Token{}, ErrInvalidCredentials
	}

	return s.issuer.Issue(platformauth.Subject{
		UserID:  record.ID.String(),
		Email:   record.Email,
		Name:    record.FullName,
		IsAdmin: record.IsAdmin,
	})
}

func (s *service) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	sortValue, sortErr := sanitizeSort(opts.Sort)
	if sortErr != nil {
		return ListResult{}, sortErr
	}

	query := dataservice.ListQuery{
		Page:           opts.Page,
		PageSize:       opts.PageSize,
		Sort:           sortValue,
		IncludeDeleted: opts.IncludeDeleted,
		OnlyDeleted:    opts.OnlyDeleted,
	}
	if opts.Email != nil && strings.TrimSpace(*opts.Email) != "" {
		query.Filters = append(query.Filters, persistence.Contains("email", *opts.Email))
	}

	page, err := s.repo.List(ctx, query)
	if err != nil {
		return ListResult{}, mapPersistenceError(err)
	}

	users := make([]User, 0, len(page.Items))
	for _, record := range page.Items {
		users = append(users, mapUser(record))
	}

	return ListResult{
		Users:      users,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalItems: page.Total,
		TotalPages: page.Pages,
	}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID, includeDeleted bool) (User, error) {
	if id == uuid.Nil {
		return User{}, ErrNotFound
	}

	record, err := s.repo.Get(ctx, id, includeDeleted)
	if err != nil {
		return User{}, mapPersistenceError(err)
	}

	return mapUser(record), nil
}

func (s *service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (User, error) {
	if id == uuid.Nil {
		return User{}, ErrNotFound
	}

	values, err := buildUpdateValues(input)
	if err != nil {
		return User{}, err
	}

	record, repoErr := s.repo.Update(ctx, id, values)
	if repoErr != nil {
		return User{}, mapPersistenceError(repoErr)
	}

	return mapUser(record), nil
}

func (s *service) UpdateSelf(ctx context.Context, id uuid.UUID, input UpdateSelfInput) (User, error) {
	if id == uuid.Nil {
		return User{}, ErrNotFound
	}

	if input.FullName == nil {
		return User{}, newValidationError(map[string]string{"fullName": "fullName is required"})
	}

	fullName := strings.TrimSpace(*input.FullName)
	if fullName == "" {
		return User{}, newValidationError(map[string]string{"fullName": "fullName cannot be empty"})
	}

	record, err := s.repo.Update(ctx, id, persistence.Values{"full_name": fullName})
	if err != nil {
		return User{}, mapPersistenceError(err)
	}

	return mapUser(record), nil
}

func (s *service) Delete(ctx context.Context, id uuid.UUID, input DeleteInput) (DeleteResult, error) {
	if id == uuid.Nil {
		return DeleteResult{}, ErrNotFound
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

// DeleteSelf closes the caller's account, cascading to their contacts and
// interactions when the policy allows it.
func (s *service) DeleteSelf(ctx context.Context, id uuid.UUID) (DeleteResult, error) {
	reason := "account closed by owner"
	return s.Delete(ctx, id, DeleteInput{Reason: &reason, Cascade: s.policy.Current().CascadeSoftDelete})
}

func (s *service) Restore(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return ErrNotFound
	}

	restored, err := s.repo.Restore(ctx, id)
	if err != nil {
		return mapPersistenceError(err)
	}
	if !restored {
		return ErrNotFound
	}
	return nil
}

func buildUpdateValues(input UpdateInput) (persistence.Values, error) {
	fieldErrors := FieldErrors{}
	values := persistence.Values{}

	if input.FullName != nil {
		name := strings.TrimSpace(*input.FullName)
		if name == "" {
			fieldErrors.add("fullName", "fullName cannot be empty")
		} else {
			values["full_name"] = name
		}
	}
	if input.IsActive != nil {
		values["is_active"] = *input.IsActive
	}
	if input.IsAdmin != nil {
		values["is_admin"] = *input.IsAdmin
	}

	if len(values) == 0 && len(fieldErrors) == 0 {
		fieldErrors.add("payload", "at least one field must be provided")
	}

	if len(fieldErrors) > 0 {
		return nil, &ValidationError{Fields: fieldErrors}
	}

	return values, nil
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
		"email":     {},
		"fullName":  {},
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

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

func mapUser(record persistence.User) User {
	user := User{
		ID:               record.ID,
		Email:            record.Email,
		FullName:         record.FullName,
		IsActive:         record.IsActive,
		IsAdmin:          record.IsAdmin,
		OnboardingStatus: record.OnboardingStatus,
		CreatedAt:        record.CreatedAt,
		UpdatedAt:        record.UpdatedAt,
	}
	if record.IsSoftDeleted() {
		user.Deletion = &Deletion{At: *record.DeletedAt, By: record.DeletedBy, Reason: record.DeletionReason}
	}
	return user
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
	case errors.Is(err, persistence.ErrConflict):
		return ErrConflict
	case errors.Is(err, persistence.ErrCascadeDepthExceeded),
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
