// Package engine orchestrates the encounter turn state machine: turn
// advancement, interrupt resolution, activation, and effect ledger mutations.
// All mutations run inside one transaction holding an exclusive lock on the
// encounter row, so concurrent callers are strictly serialized per encounter.
package engine

import (
	"context"
	"errors"

	"github.com/croftbawn/wartable/internal/game/encounter"
)

// Sentinel errors shared by the engine and its Store implementations.
var (
	// ErrEncounterNotFound is returned when the encounter does not resolve
	// under the caller's scope.
	ErrEncounterNotFound = errors.New("encounter not found")
	// ErrEncounterEnded is returned when a mutation targets an ended
	// encounter. Ended is terminal; nothing is mutated.
	ErrEncounterEnded = errors.New("encounter has ended")
	// ErrParticipantNotFound is returned when a participant reference does
	// not resolve within the encounter.
	ErrParticipantNotFound = errors.New("participant not found")
	// ErrParticipantExists is returned when the character already has a
	// participant row in the encounter.
	ErrParticipantExists = errors.New("character is already in the encounter")
	// ErrEffectNotFound is returned when an effect reference does not
	// resolve within the encounter.
	ErrEffectNotFound = errors.New("effect not found")
	// ErrTargetNotFound is returned when an effect target reference does
	// not resolve within the encounter.
	ErrTargetNotFound = errors.New("effect target not found")
	// ErrTargetEnded is returned when resolving a target that has already
	// been ended.
	ErrTargetEnded = errors.New("effect target already ended")
	// ErrMissingRolls is returned when an initiative submission omits a
	// combatant who still needs a roll.
	ErrMissingRolls = errors.New("all combatants must have an initiative roll")
	// ErrDeathSavesActive is returned when starting death saves for a
	// participant who already has an active death-save effect.
	ErrDeathSavesActive = errors.New("participant is already rolling death saves")
	// ErrCampaignBusy is returned when restoring an encounter while another
	// encounter in the campaign is active.
	ErrCampaignBusy = errors.New("campaign already has an active encounter")
	// ErrContention is returned when the encounter row lock could not be
	// acquired in time. The caller should retry the whole operation; no
	// partial state is visible.
	ErrContention = errors.New("encounter is busy, retry")
)

// Tx is the set of reads and writes available inside one encounter-scoped
// transaction. Every reference is resolved within the locked encounter;
// implementations return the package sentinels on missing rows.
type Tx interface {
	// Encounter returns the locked encounter row.
	Encounter(ctx context.Context) (*encounter.Encounter, error)
	// Participants returns every participant row, including dead and
	// removed ones, in ID order, with character display fields attached.
	Participants(ctx context.Context) ([]*encounter.Participant, error)
	// ActiveEffects returns every non-ended effect with all of its targets
	// attached, in ID order.
	ActiveEffects(ctx context.Context) ([]*encounter.Effect, error)
	// Target resolves one effect target and its parent effect.
	Target(ctx context.Context, targetID int64) (*encounter.Target, *encounter.Effect, error)
	// HasOtherActiveEncounter reports whether another encounter in the same
	// campaign is currently active.
	HasOtherActiveEncounter(ctx context.Context) (bool, error)

	// SetTurn commits the turn pointer: active participant, round number,
	// and status in one write.
	SetTurn(ctx context.Context, activeParticipantID int64, round int, status encounter.Status) error
	// SetActiveParticipant moves only the pointer, leaving round and status.
	SetActiveParticipant(ctx context.Context, participantID *int64) error
	// SetEnded marks the encounter ended, recording where the pointer was.
	SetEnded(ctx context.Context, lastActiveParticipantID *int64) error
	// SetRestored reactivates an ended encounter at the given pointer.
	SetRestored(ctx context.Context, activeParticipantID *int64) error

	// EndEffect unconditionally ends an effect and cascades to its still
	// active targets. It bypasses validation: expiry must always succeed
	// once decided.
	EndEffect(ctx context.Context, effectID int64) error
	// SetEffectRounds persists a time effect's remaining round count.
	SetEffectRounds(ctx context.Context, effectID int64, rounds int) error
	// EndTarget ends one target, leaving the parent effect live.
	EndTarget(ctx context.Context, targetID int64) error
	// MarkTargetPrompted records that the target raised an interrupt in the
	// given round.
	MarkTargetPrompted(ctx context.Context, targetID int64, round int) error
	// SetEffectsTicked records that round-boundary expiry has been applied
	// for the given round.
	SetEffectsTicked(ctx context.Context, round int) error
	// SetDeathSaves persists a death-save target's counters.
	SetDeathSaves(ctx context.Context, targetID int64, successes, failures int) error
	// InsertEffect inserts an effect and its target rows.
	InsertEffect(ctx context.Context, e *encounter.Effect) (*encounter.Effect, error)

	// SetParticipantState updates one participant's combat state.
	SetParticipantState(ctx context.Context, participantID int64, state encounter.ParticipantState) error
	// SetInitiative records a participant's roll and total.
	SetInitiative(ctx context.Context, participantID int64, roll, total int) error
	// InsertParticipant adds a combatant to the encounter.
	InsertParticipant(ctx context.Context, p *encounter.Participant) (*encounter.Participant, error)
	// DeleteParticipant hard-deletes a participant row. Only used before
	// the encounter becomes active.
	DeleteParticipant(ctx context.Context, participantID int64) error
}

// Store provides transactional access to one encounter's rows.
type Store interface {
	// View runs fn inside a read-only transaction without taking the
	// encounter lock. Readers may observe state between a writer's partial
	// commit and its response.
	View(ctx context.Context, encounterID int64, fn func(ctx context.Context, tx Tx) error) error
	// Update runs fn inside a transaction holding an exclusive lock on the
	// encounter row. Writes commit when fn returns nil and roll back
	// entirely when it returns an error.
	Update(ctx context.Context, encounterID int64, fn func(ctx context.Context, tx Tx) error) error
}
