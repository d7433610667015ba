package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/croftbawn/wartable/internal/engine"
	"github.com/croftbawn/wartable/internal/game/encounter"
)

// EncounterRepository provides encounter lifecycle persistence. Turn-machine
// mutations go through TxStore instead; this repository only creates, lists,
// and resolves encounters.
type EncounterRepository struct {
	db *pgxpool.Pool
}

// NewEncounterRepository creates an EncounterRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewEncounterRepository(db *pgxpool.Pool) *EncounterRepository {
	return &EncounterRepository{db: db}
}

const encounterColumns = `id, campaign_id, status, round_number,
	active_participant_id, last_active_participant_id, effects_ticked_round,
	created_at, updated_at`

func scanEncounter(row pgx.Row) (*encounter.Encounter, error) {
	var e encounter.Encounter
	var status string
	err := row.Scan(
		&e.ID, &e.CampaignID, &status, &e.RoundNumber,
		&e.ActiveParticipantID, &e.LastActiveParticipantID, &e.EffectsTickedRound,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = encounter.Status(status)
	return &e, nil
}

// Create inserts a new encounter in setup state and seeds its participants
// from the campaign's permanent player characters, snapshotting each one's
// initiative modifier.
//
// Postcondition: Returns the created encounter, or ErrCampaignNotFound when
// the campaign does not exist. The seeded participants have no rolls yet.
func (r *EncounterRepository) Create(ctx context.Context, campaignID int64) (*encounter.Encounter, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM campaigns WHERE id = $1)`, campaignID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking campaign: %w", err)
	}
	if !exists {
		return nil, ErrCampaignNotFound
	}

	e, err := scanEncounter(tx.QueryRow(ctx,
		`INSERT INTO encounters (campaign_id) VALUES ($1) RETURNING `+encounterColumns,
		campaignID,
	))
	if err != nil {
		return nil, fmt.Errorf("inserting encounter: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO encounter_participants (encounter_id, character_id, initiative_mod)
		SELECT $1, id, initiative_mod FROM characters
		WHERE campaign_id = $2 AND pc AND NOT temporary`,
		e.ID, campaignID,
	); err != nil {
		return nil, fmt.Errorf("seeding participants: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing encounter: %w", err)
	}
	return e, nil
}

// GetByID retrieves an encounter scoped to its campaign.
//
// Postcondition: Returns the encounter or engine.ErrEncounterNotFound.
func (r *EncounterRepository) GetByID(ctx context.Context, campaignID, id int64) (*encounter.Encounter, error) {
	e, err := scanEncounter(r.db.QueryRow(ctx,
		`SELECT `+encounterColumns+` FROM encounters WHERE id = $1 AND campaign_id = $2`,
		id, campaignID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, engine.ErrEncounterNotFound
		}
		return nil, fmt.Errorf("querying encounter: %w", err)
	}
	return e, nil
}

// ListByCampaign returns the campaign's encounters, newest first.
func (r *EncounterRepository) ListByCampaign(ctx context.Context, campaignID int64) ([]*encounter.Encounter, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+encounterColumns+` FROM encounters WHERE campaign_id = $1 ORDER BY created_at DESC, id DESC`,
		campaignID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing encounters: %w", err)
	}
	defer rows.Close()

	encounters := make([]*encounter.Encounter, 0)
	for rows.Next() {
		e, err := scanEncounter(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning encounter row: %w", err)
		}
		encounters = append(encounters, e)
	}
	return encounters, rows.Err()
}
