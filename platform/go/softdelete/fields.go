package softdelete

import (
	"errors"
	"time"
)

// Column names shared by every soft-deletable table.
const (
	ColumnDeletedAt      = "deleted_at"
	ColumnDeletedBy      = "deleted_by"
	ColumnDeletionReason = "deletion_reason"
	ColumnIsDeleted      = "is_deleted"
)

var (
	// ErrAlreadyDeleted is returned when soft-deleting a row that is already tombstoned.
	ErrAlreadyDeleted = errors.New("record is already deleted")
	// ErrNotDeleted is returned when restoring a row that is still active.
	ErrNotDeleted = errors.New("record is not deleted")
)

// Fields carries the per-row deletion state. Embed it in a record to make the
// record soft-deletable.
type Fields struct {
	DeletedAt      *time.Time `db:"deleted_at" json:"deletedAt,omitempty"`
	DeletedBy      *string    `db:"deleted_by" json:"deletedBy,omitempty"`
	DeletionReason *string    `db:"deletion_reason" json:"deletionReason,omitempty"`
	IsDeleted      bool       `db:"is_deleted" json:"isDeleted"`
}

// Deletable is the capability implemented by records that embed Fields.
type Deletable interface {
	DeletionState() *Fields
}

// DeletionState exposes the embedded state so that *T satisfies Deletable.
func (f *Fields) DeletionState() *Fields {
	return f
}

// SoftDelete tombstones the row with the given actor and reason.
func (f *Fields) SoftDelete(now time.Time, actor, reason *string) error {
	if f.IsDeleted {
		return ErrAlreadyDeleted
	}

	deletedAt := now.UTC()
	f.DeletedAt = &deletedAt
	f.DeletedBy = copyString(actor)
	f.DeletionReason = copyString(reason)
	f.IsDeleted = true
	return nil
}

// Restore clears all deletion fields.
func (f *Fields) Restore() error {
	if !f.IsDeleted {
		return ErrNotDeleted
	}

	f.DeletedAt = nil
	f.DeletedBy = nil
	f.DeletionReason = nil
	f.IsDeleted = false
	return nil
}

// IsSoftDeleted reports whether both the flag and the timestamp are set, so a
// partially updated row never reads as deleted.
func (f Fields) IsSoftDeleted() bool {
	return f.IsDeleted && f.DeletedAt != nil
}

func copyString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
