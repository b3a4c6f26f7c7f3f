package persistence

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/collabridge/rapport-tracker/platform/go/softdelete"
)

const ContactsTable = "contacts"

// ContactLevel is the organisational relation of a contact to the user.
type ContactLevel string

const (
	ContactLevelDirectManager    ContactLevel = "Direct Manager"
	ContactLevelSkipLevelManager ContactLevel = "Skip-Level Manager"
	ContactLevelSeniorLeadership ContactLevel = "Senior Leadership"
	ContactLevelMentor           ContactLevel = "Mentor"
)

// ContactLevels lists the accepted levels.
var ContactLevels = []ContactLevel{
	ContactLevelDirectManager,
	ContactLevelSkipLevelManager,
	ContactLevelSeniorLeadership,
	ContactLevelMentor,
}

// Contact represents a row in the contacts table.
type Contact struct {
	ID                      uuid.UUID    `db:"id" json:"id"`
	UserID                  uuid.UUID    `db:"user_id" json:"userId"`
	Name                    string       `db:"name" json:"name"`
	Title                   *string      `db:"title" json:"title,omitempty"`
	Level                   ContactLevel `db:"level" json:"level"`
	CommonGroundNotes       *string      `db:"common_ground_notes" json:"commonGroundNotes,omitempty"`
	CommunicationStyleNotes *string      `db:"communication_style_notes" json:"communicationStyleNotes,omitempty"`
	CreatedBy               *string      `db:"created_by" json:"createdBy,omitempty"`
	CreatedAt               time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt               time.Time    `db:"updated_at" json:"updatedAt"`
	softdelete.Fields
}

func (Contact) EntityName() string      { return "Contact" }
func (Contact) TableName() string       { return ContactsTable }
func (Contact) CreatedByColumn() string { return "created_by" }

func (Contact) Relations() []Relation {
	return []Relation{
		{Name: "user", Kind: BelongsTo, Target: "User", ForeignKey: "user_id"},
		{Name: "interactions", Kind: HasMany, Target: "Interaction", ForeignKey: "contact_id"},
	}
}

var contactColumns = []string{
	"id", "user_id", "name", "title", "level", "common_ground_notes", "communication_style_notes",
	"created_by", "created_at", "updated_at", "deleted_at", "deleted_by", "deletion_reason", "is_deleted",
}

func scanContact(row pgx.Row) (Contact, error) {
	var c Contact
	var level string
	err := row.Scan(
		&c.ID, &c.UserID, &c.Name, &c.Title, &level, &c.CommonGroundNotes, &c.CommunicationStyleNotes,
		&c.CreatedBy, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt, &c.DeletedBy, &c.DeletionReason, &c.IsDeleted,
	)
	c.Level = ContactLevel(level)
	return c, err
}

// ContactSchema describes the contacts table for a generic Store.
func ContactSchema() Schema[Contact] {
	return Schema[Contact]{
		Table:    Describe[Contact](),
		Columns:  contactColumns,
		Scan:     scanContact,
		Writable: []string{"user_id", "name", "title", "level", "common_ground_notes", "communication_style_notes", "created_by"},
		SortFields: map[string]string{
			"name":      "name",
			"level":     "level",
			"createdAt": "created_at",
			"updatedAt": "updated_at",
		},
		DefaultSort: "name ASC",
		Timestamps:  true,
	}
}
