package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/collabridge/rapport-tracker/platform/go/softdelete"
)

const (
	InteractionsTable          = "interactions"
	InteractionTacticLogsTable = "interaction_tactic_logs"
)

// InteractionMedium is how an interaction took place.
type InteractionMedium string

const (
	MediumInPerson  InteractionMedium = "In-person"
	MediumVideoCall InteractionMedium = "Video Call"
	MediumVoiceCall InteractionMedium = "Voice Call"
	MediumEmailChat InteractionMedium = "Email/Chat"
)

// InteractionMediums lists the accepted mediums.
var InteractionMediums = []InteractionMedium{MediumInPerson, MediumVideoCall, MediumVoiceCall, MediumEmailChat}

// Interaction represents a row in the interactions table.
type Interaction struct {
	ID                  uuid.UUID         `db:"id" json:"id"`
	UserID              uuid.UUID         `db:"user_id" json:"userId"`
	ContactID           uuid.UUID         `db:"contact_id" json:"contactId"`
	InteractionDatetime time.Time         `db:"interaction_datetime" json:"interactionDatetime"`
	Medium              InteractionMedium `db:"medium" json:"medium"`
	Topic               string            `db:"topic" json:"topic"`
	UserNotes           *string           `db:"user_notes" json:"userNotes,omitempty"`
	RapportScorePost    int               `db:"rapport_score_post" json:"rapportScorePost"`
	ObservedNonVerbal   *string           `db:"observed_non_verbal" json:"observedNonVerbal,omitempty"`
	CreatedBy           *string           `db:"created_by" json:"createdBy,omitempty"`
	CreatedAt           time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time         `db:"updated_at" json:"updatedAt"`
	softdelete.Fields
	TacticLogs []InteractionTacticLog `db:"-" json:"tacticLogs,omitempty"`
}

func (Interaction) EntityName() string      { return "Interaction" }
func (Interaction) TableName() string       { return InteractionsTable }
func (Interaction) CreatedByColumn() string { return "created_by" }

func (Interaction) Relations() []Relation {
	return []Relation{
		{Name: "contact", Kind: BelongsTo, Target: "Contact", ForeignKey: "contact_id"},
	}
}

// InteractionTacticLog records a tactic used during an interaction.
type InteractionTacticLog struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	InteractionID      uuid.UUID `db:"interaction_id" json:"interactionId"`
	TacticID           uuid.UUID `db:"tactic_id" json:"tacticId"`
	EffectivenessScore *int      `db:"effectiveness_score" json:"effectivenessScore,omitempty"`
	Notes              *string   `db:"notes" json:"notes,omitempty"`
}

func (InteractionTacticLog) EntityName() string { return "InteractionTacticLog" }
func (InteractionTacticLog) TableName() string  { return InteractionTacticLogsTable }

var interactionColumns = []string{
	"id", "user_id", "contact_id", "interaction_datetime", "medium", "topic", "user_notes",
	"rapport_score_post", "observed_non_verbal", "created_by", "created_at", "updated_at",
	"deleted_at", "deleted_by", "deletion_reason", "is_deleted",
}

func scanInteraction(row pgx.Row) (Interaction, error) {
	var i Interaction
	var medium string
	err := row.Scan(
		&i.ID, &i.UserID, &i.ContactID, &i.InteractionDatetime, &medium, &i.Topic, &i.UserNotes,
		&i.RapportScorePost, &i.ObservedNonVerbal, &i.CreatedBy, &i.CreatedAt, &i.UpdatedAt,
		&i.DeletedAt, &i.DeletedBy, &i.DeletionReason, &i.IsDeleted,
	)
	i.Medium = InteractionMedium(medium)
	return i, err
}

func scanTacticLog(row pgx.Row) (InteractionTacticLog, error) {
	var l InteractionTacticLog
	err := row.Scan(&l.ID, &l.InteractionID, &l.TacticID, &l.EffectivenessScore, &l.Notes)
	return l, err
}

// InteractionSchema describes the interactions table for a generic Store.
func InteractionSchema() Schema[Interaction] {
	return Schema[Interaction]{
		Table:   Describe[Interaction](),
		Columns: interactionColumns,
		Scan:    scanInteraction,
		Writable: []string{
			"user_id", "contact_id", "interaction_datetime", "medium", "topic", "user_notes",
			"rapport_score_post", "observed_non_verbal", "created_by",
		},
		SortFields: map[string]string{
			"interactionDatetime": "interaction_datetime",
			"rapportScorePost":    "rapport_score_post",
			"createdAt":           "created_at",
		},
		DefaultSort: "interaction_datetime DESC",
		Timestamps:  true,
	}
}

// TacticLogValues carries one tactic log to insert alongside an interaction.
type TacticLogValues struct {
	TacticID           uuid.UUID
	EffectivenessScore *int
	Notes              *string
}

// InteractionStore adds tactic log handling to the generic interaction store.
type InteractionStore struct {
	*Store[Interaction]
}

// NewInteractionStore returns a store over the interactions table.
func NewInteractionStore(db *DB) (*InteractionStore, error) {
	store, err := NewStore(db, InteractionSchema())
	if err != nil {
		return nil, err
	}
	return &InteractionStore{Store: store}, nil
}

// CreateWithTacticLogs inserts the interaction and its tactic logs in one transaction.
func (s *InteractionStore) CreateWithTacticLogs(ctx context.Context, values Values, logs []TacticLogValues) (Interaction, error) {
	var created Interaction
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		created, err = s.InsertTx(ctx, tx, values)
		if err != nil {
			return err
		}

		created.TacticLogs = make([]InteractionTacticLog, 0, len(logs))
		for _, l := range logs {
			row := tx.QueryRow(ctx, fmt.Sprintf(`
                INSERT INTO %s (id, interaction_id, tactic_id, effectiveness_score, notes)
                VALUES ($1, $2, $3, $4, $5)
                RETURNING id, interaction_id, tactic_id, effectiveness_score, notes
            `, quoteIdent(InteractionTacticLogsTable)), uuid.New(), created.ID, l.TacticID, l.EffectivenessScore, l.Notes)

			log, err := scanTacticLog(row)
			if err != nil {
				return fmt.Errorf("insert tactic log %s: %w", l.TacticID, mapWriteError(Describe[InteractionTacticLog](), "insert", err))
			}
			created.TacticLogs = append(created.TacticLogs, log)
		}
		return nil
	})
	if err != nil {
		return Interaction{}, err
	}
	return created, nil
}

// ListTacticLogs returns the tactic logs of an interaction.
func (s *InteractionStore) ListTacticLogs(ctx context.Context, interactionID uuid.UUID) ([]InteractionTacticLog, error) {
	rows, err := s.db.Querier().Query(ctx, fmt.Sprintf(`
        SELECT id, interaction_id, tactic_id, effectiveness_score, notes
        FROM %s
        WHERE interaction_id = $1
        ORDER BY id
    `, quoteIdent(InteractionTacticLogsTable)), interactionID)
	if err != nil {
		return nil, fmt.Errorf("list tactic logs: %w", err)
	}
	defer rows.Close()

	logs := []InteractionTacticLog{}
	for rows.Next() {
		l, err := scanTacticLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tactic log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
