package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const RapportTacticsTable = "rapport_tactics"

// ScientificDomain classifies the research a tactic comes from.
type ScientificDomain string

const (
	DomainCommunication    ScientificDomain = "Communication Studies"
	DomainSocialPsychology ScientificDomain = "Social Psychology"
	DomainInfluence        ScientificDomain = "Persuasion and Influence"
)

// RapportTactic represents a row in the rapport_tactics table. Tactics are
// reference data and are never soft-deleted.
type RapportTactic struct {
	ID          uuid.UUID        `db:"id" json:"id"`
	Name        string           `db:"name" json:"name"`
	Description string           `db:"description" json:"description"`
	Domain      ScientificDomain `db:"domain" json:"domain"`
	CreatedAt   time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updatedAt"`
}

func (RapportTactic) EntityName() string { return "RapportTactic" }
func (RapportTactic) TableName() string  { return RapportTacticsTable }

var tacticColumns = []string{"id", "name", "description", "domain", "created_at", "updated_at"}

func scanTactic(row pgx.Row) (RapportTactic, error) {
	var t RapportTactic
	var domain string
	err := row.Scan(&t.ID, &t.Name, &t.Description, &domain, &t.CreatedAt, &t.UpdatedAt)
	t.Domain = ScientificDomain(domain)
	return t, err
}

// TacticSchema describes the rapport_tactics table for a generic Store.
func TacticSchema() Schema[RapportTactic] {
	return Schema[RapportTactic]{
		Table:    Describe[RapportTactic](),
		Columns:  tacticColumns,
		Scan:     scanTactic,
		Writable: []string{"name", "description", "domain"},
		SortFields: map[string]string{
			"name":   "name",
			"domain": "domain",
		},
		DefaultSort: "name ASC",
		Timestamps:  true,
	}
}

// TacticStore adds seeding to the generic tactic store.
type TacticStore struct {
	*Store[RapportTactic]
}

// NewTacticStore returns a store over the rapport_tactics table.
func NewTacticStore(db *DB) (*TacticStore, error) {
	store, err := NewStore(db, TacticSchema())
	if err != nil {
		return nil, err
	}
	return &TacticStore{Store: store}, nil
}

// Seed inserts the given tactics, skipping names that already exist, and
// returns how many rows were added.
func (s *TacticStore) Seed(ctx context.Context, tactics []RapportTactic) (int, error) {
	inserted := 0
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		for _, t := range tactics {
			tag, err := tx.Exec(ctx, fmt.Sprintf(`
                INSERT INTO %s (id, name, description, domain)
                VALUES ($1, $2, $3, $4)
                ON CONFLICT (name) DO NOTHING
            `, s.schema.Table.ident()), uuid.New(), t.Name, t.Description, string(t.Domain))
			if err != nil {
				return fmt.Errorf("seed tactic %q: %w", t.Name, err)
			}
			inserted += int(tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// SeedTactics is the built-in catalogue of research-backed tactics.
var SeedTactics = []RapportTactic{
	{
		Name:        "Active Listening (Validation/Paraphrasing)",
		Description: "Restating the speaker's message and reflecting their feelings to show understanding and validation. (Based on Carl Rogers' client-centered therapy, 1951).",
		Domain:      DomainCommunication,
	},
	{
		Name:        "Behavioral Mimicry (Chameleon Effect)",
		Description: "Subtly mirroring the contact's posture, gestures, or vocal tone. Increases liking and affiliation. (Chartrand & Bargh, 1999).",
		Domain:      DomainSocialPsychology,
	},
	{
		Name:        "Finding Similarity (Liking Principle)",
		Description: "Identifying and highlighting shared interests, backgrounds, or values. People are more inclined to agree with those they like and perceive as similar. (Cialdini, Influence, 1984).",
		Domain:      DomainInfluence,
	},
	{
		Name:        "Genuine Praise/Compliments",
		Description: "Offering specific, sincere compliments. A powerful driver of liking, though effectiveness increases significantly with sincerity.",
		Domain:      DomainInfluence,
	},
	{
		Name:        "Reciprocity Norm Activation",
		Description: "Providing assistance, information, or concessions first. Creates a psychological sense of obligation to give back. (Cialdini, 1984).",
		Domain:      DomainInfluence,
	},
	{
		Name:        "Pacing and Leading",
		Description: "Aligning with the contact's current emotional state or perspective (pacing) before attempting to shift them toward a new idea or outcome (leading).",
		Domain:      DomainCommunication,
	},
	{
		Name:        "Gradual Self-Disclosure",
		Description: "Revealing appropriate personal information to build trust and intimacy. Based on Social Penetration Theory (Altman & Taylor, 1973).",
		Domain:      DomainSocialPsychology,
	},
}
