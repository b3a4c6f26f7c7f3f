package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/collabridge/rapport-tracker/platform/go/softdelete"
)

const UsersTable = "users"

// User represents a row in the users table.
type User struct {
	ID               uuid.UUID `db:"id" json:"id"`
	Email            string    `db:"email" json:"email"`
	FullName         string    `db:"full_name" json:"fullName"`
	HashedPassword   string    `db:"hashed_password" json:"-"`
	IsActive         bool      `db:"is_active" json:"isActive"`
	IsAdmin          bool      `db:"is_admin" json:"isAdmin"`
	OnboardingStatus string    `db:"onboarding_status" json:"onboardingStatus"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time `db:"updated_at" json:"updatedAt"`
	softdelete.Fields
}

func (User) EntityName() string { return "User" }
func (User) TableName() string  { return UsersTable }

func (User) Relations() []Relation {
	return []Relation{
		{Name: "contacts", Kind: HasMany, Target: "Contact", ForeignKey: "user_id"},
		{Name: "interactions", Kind: HasMany, Target: "Interaction", ForeignKey: "user_id"},
	}
}

var userColumns = []string{
	"id", "email", "full_name", "hashed_password", "is_active", "is_admin", "onboarding_status",
	"created_at", "updated_at", "deleted_at", "deleted_by", "deletion_reason", "is_deleted",
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Email, &u.FullName, &u.HashedPassword, &u.IsActive, &u.IsAdmin, &u.OnboardingStatus,
		&u.CreatedAt, &u.UpdatedAt, &u.DeletedAt, &u.DeletedBy, &u.DeletionReason, &u.IsDeleted,
	)
	return u, err
}

// UserSchema describes the users table for a generic Store.
func UserSchema() Schema[User] {
	return Schema[User]{
		Table:    Describe[User](),
		Columns:  userColumns,
		Scan:     scanUser,
		Writable: []string{"email", "full_name", "hashed_password", "is_active", "is_admin", "onboarding_status"},
		SortFields: map[string]string{
			"email":     "email",
			"fullName":  "full_name",
			"createdAt": "created_at",
			"updatedAt": "updated_at",
		},
		DefaultSort: "created_at DESC",
		Timestamps:  true,
	}
}

// UserStore adds email lookups to the generic user store.
type UserStore struct {
	*Store[User]
}

// NewUserStore returns a store over the users table.
func NewUserStore(db *DB) (*UserStore, error) {
	store, err := NewStore(db, UserSchema())
	if err != nil {
		return nil, err
	}
	return &UserStore{Store: store}, nil
}

// GetByEmail returns the active user with the given email, case-insensitively.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return User{}, ErrRecordNotFound
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE LOWER(email) = LOWER($1) AND is_deleted = FALSE`, s.selectSQ, s.schema.Table.ident())
	user, err := scanUser(s.db.Querier().QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrRecordNotFound
		}
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}
