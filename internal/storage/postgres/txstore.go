package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/croftbawn/wartable/internal/engine"
	"github.com/croftbawn/wartable/internal/game/encounter"
)

// defaultLockTimeout bounds how long an update waits on the encounter row
// lock before giving up with engine.ErrContention.
const defaultLockTimeout = 2 * time.Second

// TxStore implements engine.Store over pgx transactions. Updates serialize
// on a SELECT ... FOR UPDATE of the encounter row, so at most one turn
// mutation runs per encounter at a time.
type TxStore struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewTxStore creates a TxStore backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewTxStore(db *pgxpool.Pool) *TxStore {
	return &TxStore{db: db, lockTimeout: defaultLockTimeout}
}

// View runs fn in a read-only transaction without locking the encounter row.
func (s *TxStore) View(ctx context.Context, encounterID int64, fn func(ctx context.Context, tx engine.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("beginning read transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &encounterTx{tx: tx, id: encounterID}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Update runs fn in a transaction holding an exclusive lock on the encounter
// row.
//
// Postcondition: All of fn's writes commit when it returns nil and roll back
// when it returns an error. Returns engine.ErrEncounterNotFound for an
// unknown encounter and engine.ErrContention when the lock cannot be
// acquired within the configured timeout.
func (s *TxStore) Update(ctx context.Context, encounterID int64, fn func(ctx context.Context, tx engine.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// SET LOCAL does not accept bind parameters.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("setting lock timeout: %w", err)
	}

	var locked int64
	err = tx.QueryRow(ctx, `SELECT id FROM encounters WHERE id = $1 FOR UPDATE`, encounterID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return engine.ErrEncounterNotFound
		}
		if isLockTimeoutError(err) {
			return engine.ErrContention
		}
		return fmt.Errorf("locking encounter: %w", err)
	}

	if err := fn(ctx, &encounterTx{tx: tx, id: encounterID}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing encounter update: %w", err)
	}
	return nil
}

// encounterTx scopes all reads and writes to one encounter inside one
// transaction.
type encounterTx struct {
	tx pgx.Tx
	id int64
}

func (t *encounterTx) Encounter(ctx context.Context) (*encounter.Encounter, error) {
	e, err := scanEncounter(t.tx.QueryRow(ctx,
		`SELECT `+encounterColumns+` FROM encounters WHERE id = $1`, t.id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, engine.ErrEncounterNotFound
		}
		return nil, fmt.Errorf("querying encounter: %w", err)
	}
	return e, nil
}

const participantColumns = `p.id, p.encounter_id, p.character_id, c.name, c.pc, c.avatar_url,
	p.initiative_roll, p.initiative_mod, p.initiative_total, p.state, p.added_in_round,
	p.created_at, p.updated_at`

func scanParticipant(row pgx.Row) (*encounter.Participant, error) {
	var p encounter.Participant
	var state string
	err := row.Scan(
		&p.ID, &p.EncounterID, &p.CharacterID, &p.Name, &p.PC, &p.AvatarURL,
		&p.InitiativeRoll, &p.InitiativeMod, &p.InitiativeTotal, &state, &p.AddedInRound,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.State = encounter.ParticipantState(state)
	return &p, nil
}

func (t *encounterTx) Participants(ctx context.Context) ([]*encounter.Participant, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+participantColumns+`
		FROM encounter_participants p
		JOIN characters c ON c.id = p.character_id
		WHERE p.encounter_id = $1
		ORDER BY p.id ASC`,
		t.id,
	)
	if err != nil {
		return nil, fmt.Errorf("listing participants: %w", err)
	}
	defer rows.Close()

	ps := make([]*encounter.Participant, 0)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning participant row: %w", err)
		}
		ps = append(ps, p)
	}
	return ps, rows.Err()
}

const effectColumns = `id, encounter_id, kind, name, note, duration_type,
	duration_rounds, expires_on_round, expires_on_participant_id, save_ability,
	hp_delta, ended_at, created_at, updated_at`

func scanEffect(row pgx.Row) (*encounter.Effect, error) {
	var e encounter.Effect
	var kind, duration string
	var save *string
	err := row.Scan(
		&e.ID, &e.EncounterID, &kind, &e.Name, &e.Note, &duration,
		&e.DurationRounds, &e.ExpiresOnRound, &e.ExpiresOnParticipantID, &save,
		&e.HPDelta, &e.EndedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Kind = encounter.EffectKind(kind)
	e.Duration = encounter.DurationType(duration)
	if save != nil {
		a := encounter.SaveAbility(*save)
		e.SaveAbility = &a
	}
	return &e, nil
}

const targetColumns = `id, effect_id, participant_id, timing, active, ended_at,
	death_save_successes, death_save_failures, last_prompted_round,
	created_at, updated_at`

func scanTarget(row pgx.Row) (*encounter.Target, error) {
	var tgt encounter.Target
	var timing string
	err := row.Scan(
		&tgt.ID, &tgt.EffectID, &tgt.ParticipantID, &timing, &tgt.Active, &tgt.EndedAt,
		&tgt.DeathSaveSuccesses, &tgt.DeathSaveFailures, &tgt.LastPromptedRound,
		&tgt.CreatedAt, &tgt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	tgt.Timing = encounter.TriggerTiming(timing)
	return &tgt, nil
}

func (t *encounterTx) ActiveEffects(ctx context.Context) ([]*encounter.Effect, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+effectColumns+`
		FROM encounter_effects
		WHERE encounter_id = $1 AND ended_at IS NULL
		ORDER BY id ASC`,
		t.id,
	)
	if err != nil {
		return nil, fmt.Errorf("listing effects: %w", err)
	}
	defer rows.Close()

	effects := make([]*encounter.Effect, 0)
	byID := make(map[int64]*encounter.Effect)
	for rows.Next() {
		e, err := scanEffect(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning effect row: %w", err)
		}
		effects = append(effects, e)
		byID[e.ID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	trows, err := t.tx.Query(ctx, `
		SELECT t.id, t.effect_id, t.participant_id, t.timing, t.active, t.ended_at,
		       t.death_save_successes, t.death_save_failures, t.last_prompted_round,
		       t.created_at, t.updated_at
		FROM encounter_effect_targets t
		JOIN encounter_effects e ON e.id = t.effect_id
		WHERE e.encounter_id = $1 AND e.ended_at IS NULL
		ORDER BY t.id ASC`,
		t.id,
	)
	if err != nil {
		return nil, fmt.Errorf("listing effect targets: %w", err)
	}
	defer trows.Close()

	for trows.Next() {
		tgt, err := scanTarget(trows)
		if err != nil {
			return nil, fmt.Errorf("scanning effect target row: %w", err)
		}
		if e, ok := byID[tgt.EffectID]; ok {
			e.Targets = append(e.Targets, tgt)
		}
	}
	return effects, trows.Err()
}

func (t *encounterTx) Target(ctx context.Context, targetID int64) (*encounter.Target, *encounter.Effect, error) {
	tgt, err := scanTarget(t.tx.QueryRow(ctx, `
		SELECT t.id, t.effect_id, t.participant_id, t.timing, t.active, t.ended_at,
		       t.death_save_successes, t.death_save_failures, t.last_prompted_round,
		       t.created_at, t.updated_at
		FROM encounter_effect_targets t
		JOIN encounter_effects e ON e.id = t.effect_id
		WHERE e.encounter_id = $1 AND t.id = $2`,
		t.id, targetID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, engine.ErrTargetNotFound
		}
		return nil, nil, fmt.Errorf("querying effect target: %w", err)
	}

	eff, err := scanEffect(t.tx.QueryRow(ctx,
		`SELECT `+effectColumns+` FROM encounter_effects WHERE id = $1`, tgt.EffectID,
	))
	if err != nil {
		return nil, nil, fmt.Errorf("querying parent effect: %w", err)
	}
	eff.Targets = append(eff.Targets, tgt)
	return tgt, eff, nil
}

func (t *encounterTx) HasOtherActiveEncounter(ctx context.Context) (bool, error) {
	var busy bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM encounters other
			JOIN encounters self ON self.id = $1
			WHERE other.campaign_id = self.campaign_id
			  AND other.id <> self.id
			  AND other.status = 'active'
		)`,
		t.id,
	).Scan(&busy)
	if err != nil {
		return false, fmt.Errorf("checking campaign encounters: %w", err)
	}
	return busy, nil
}

func (t *encounterTx) SetTurn(ctx context.Context, activeParticipantID int64, round int, status encounter.Status) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE encounters
		SET active_participant_id = $2, round_number = $3, status = $4, updated_at = NOW()
		WHERE id = $1`,
		t.id, activeParticipantID, round, string(status),
	)
	if err != nil {
		return fmt.Errorf("updating turn pointer: %w", err)
	}
	return nil
}

func (t *encounterTx) SetActiveParticipant(ctx context.Context, participantID *int64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE encounters SET active_participant_id = $2, updated_at = NOW() WHERE id = $1`,
		t.id, participantID,
	)
	if err != nil {
		return fmt.Errorf("updating active participant: %w", err)
	}
	return nil
}

func (t *encounterTx) SetEnded(ctx context.Context, lastActiveParticipantID *int64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE encounters
		SET status = 'ended', last_active_participant_id = $2,
		    active_participant_id = NULL, updated_at = NOW()
		WHERE id = $1`,
		t.id, lastActiveParticipantID,
	)
	if err != nil {
		return fmt.Errorf("ending encounter: %w", err)
	}
	return nil
}

func (t *encounterTx) SetRestored(ctx context.Context, activeParticipantID *int64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE encounters
		SET status = 'active', active_participant_id = $2,
		    last_active_participant_id = NULL, updated_at = NOW()
		WHERE id = $1`,
		t.id, activeParticipantID,
	)
	if err != nil {
		return fmt.Errorf("restoring encounter: %w", err)
	}
	return nil
}

func (t *encounterTx) EndEffect(ctx context.Context, effectID int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE encounter_effects
		SET ended_at = COALESCE(ended_at, NOW()), updated_at = NOW()
		WHERE id = $2 AND encounter_id = $1`,
		t.id, effectID,
	)
	if err != nil {
		return fmt.Errorf("ending effect: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrEffectNotFound
	}

	_, err = t.tx.Exec(ctx, `
		UPDATE encounter_effect_targets
		SET active = FALSE, ended_at = NOW(), updated_at = NOW()
		WHERE effect_id = $1 AND ended_at IS NULL`,
		effectID,
	)
	if err != nil {
		return fmt.Errorf("ending effect targets: %w", err)
	}
	return nil
}

func (t *encounterTx) SetEffectRounds(ctx context.Context, effectID int64, rounds int) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE encounter_effects SET duration_rounds = $3, updated_at = NOW()
		WHERE id = $2 AND encounter_id = $1`,
		t.id, effectID, rounds,
	)
	if err != nil {
		return fmt.Errorf("updating effect rounds: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrEffectNotFound
	}
	return nil
}

func (t *encounterTx) EndTarget(ctx context.Context, targetID int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE encounter_effect_targets t
		SET active = FALSE, ended_at = NOW(), updated_at = NOW()
		FROM encounter_effects e
		WHERE t.effect_id = e.id AND e.encounter_id = $1 AND t.id = $2`,
		t.id, targetID,
	)
	if err != nil {
		return fmt.Errorf("ending effect target: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrTargetNotFound
	}
	return nil
}

func (t *encounterTx) MarkTargetPrompted(ctx context.Context, targetID int64, round int) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE encounter_effect_targets t
		SET last_prompted_round = $3, updated_at = NOW()
		FROM encounter_effects e
		WHERE t.effect_id = e.id AND e.encounter_id = $1 AND t.id = $2`,
		t.id, targetID, round,
	)
	if err != nil {
		return fmt.Errorf("marking target prompted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrTargetNotFound
	}
	return nil
}

func (t *encounterTx) SetEffectsTicked(ctx context.Context, round int) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE encounters SET effects_ticked_round = $2, updated_at = NOW() WHERE id = $1`,
		t.id, round,
	)
	if err != nil {
		return fmt.Errorf("recording effects tick: %w", err)
	}
	return nil
}

func (t *encounterTx) SetDeathSaves(ctx context.Context, targetID int64, successes, failures int) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE encounter_effect_targets t
		SET death_save_successes = $3, death_save_failures = $4, updated_at = NOW()
		FROM encounter_effects e
		WHERE t.effect_id = e.id AND e.encounter_id = $1 AND t.id = $2`,
		t.id, targetID, successes, failures,
	)
	if err != nil {
		return fmt.Errorf("updating death saves: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrTargetNotFound
	}
	return nil
}

func (t *encounterTx) InsertEffect(ctx context.Context, e *encounter.Effect) (*encounter.Effect, error) {
	var save *string
	if e.SaveAbility != nil {
		s := string(*e.SaveAbility)
		save = &s
	}

	out, err := scanEffect(t.tx.QueryRow(ctx, `
		INSERT INTO encounter_effects
			(encounter_id, kind, name, note, duration_type, duration_rounds,
			 expires_on_round, expires_on_participant_id, save_ability, hp_delta)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING `+effectColumns,
		t.id, string(e.Kind), e.Name, e.Note, string(e.Duration), e.DurationRounds,
		e.ExpiresOnRound, e.ExpiresOnParticipantID, save, e.HPDelta,
	))
	if err != nil {
		return nil, fmt.Errorf("inserting effect: %w", err)
	}

	for _, tgt := range e.Targets {
		stored, err := scanTarget(t.tx.QueryRow(ctx, `
			INSERT INTO encounter_effect_targets (effect_id, participant_id, timing)
			VALUES ($1,$2,$3)
			RETURNING `+targetColumns,
			out.ID, tgt.ParticipantID, string(tgt.Timing),
		))
		if err != nil {
			return nil, fmt.Errorf("inserting effect target: %w", err)
		}
		out.Targets = append(out.Targets, stored)
	}
	return out, nil
}

func (t *encounterTx) SetParticipantState(ctx context.Context, participantID int64, state encounter.ParticipantState) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE encounter_participants SET state = $3, updated_at = NOW()
		WHERE id = $2 AND encounter_id = $1`,
		t.id, participantID, string(state),
	)
	if err != nil {
		return fmt.Errorf("updating participant state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrParticipantNotFound
	}
	return nil
}

func (t *encounterTx) SetInitiative(ctx context.Context, participantID int64, roll, total int) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE encounter_participants
		SET initiative_roll = $3, initiative_total = $4, updated_at = NOW()
		WHERE id = $2 AND encounter_id = $1`,
		t.id, participantID, roll, total,
	)
	if err != nil {
		return fmt.Errorf("updating initiative: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrParticipantNotFound
	}
	return nil
}

func (t *encounterTx) InsertParticipant(ctx context.Context, p *encounter.Participant) (*encounter.Participant, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO encounter_participants
			(encounter_id, character_id, initiative_mod, initiative_roll, initiative_total, added_in_round)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id`,
		t.id, p.CharacterID, p.InitiativeMod, p.InitiativeRoll, p.InitiativeTotal, p.AddedInRound,
	).Scan(&id)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, engine.ErrParticipantExists
		}
		return nil, fmt.Errorf("inserting participant: %w", err)
	}

	out, err := scanParticipant(t.tx.QueryRow(ctx, `
		SELECT `+participantColumns+`
		FROM encounter_participants p
		JOIN characters c ON c.id = p.character_id
		WHERE p.id = $1`,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("reloading participant: %w", err)
	}
	return out, nil
}

func (t *encounterTx) DeleteParticipant(ctx context.Context, participantID int64) error {
	tag, err := t.tx.Exec(ctx, `
		DELETE FROM encounter_participants WHERE id = $2 AND encounter_id = $1`,
		t.id, participantID,
	)
	if err != nil {
		return fmt.Errorf("deleting participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrParticipantNotFound
	}
	return nil
}
