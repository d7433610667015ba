package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/croftbawn/wartable/internal/game/encounter"
)

// Engine runs the encounter turn state machine over a Store.
type Engine struct {
	store  Store
	logger *zap.Logger
}

// New creates an Engine.
//
// Precondition: store and logger must be non-nil.
func New(store Store, logger *zap.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// Snapshot builds the read-only client projection from live state. It caches
// nothing; two calls with no intervening mutation yield identical snapshots.
func (e *Engine) Snapshot(ctx context.Context, encounterID int64) (encounter.Snapshot, error) {
	var snap encounter.Snapshot
	err := e.store.View(ctx, encounterID, func(ctx context.Context, tx Tx) error {
		enc, err := tx.Encounter(ctx)
		if err != nil {
			return err
		}
		ps, err := tx.Participants(ctx)
		if err != nil {
			return err
		}
		effects, err := tx.ActiveEffects(ctx)
		if err != nil {
			return err
		}
		snap = encounter.BuildSnapshot(enc, ps, effects)
		return nil
	})
	return snap, err
}

// AdvanceTurn performs one advancement transaction:
//
//  1. Lock the encounter row; refuse ended encounters.
//  2. Compute the initiative order for the current round; an empty order is
//     a no-op "ok".
//  3. Determine the next participant and round. Wrapping past the last
//     participant enters a new round and runs round-boundary expiry first.
//  4. Run turn-boundary expiry for the outgoing participant, then halt with
//     an interrupt if one of their end_of_turn targets triggers. A halt
//     commits everything applied so far; the pointer has not moved yet.
//  5. Commit the new pointer and round (activating the encounter on the
//     first call).
//  6. Run turn-boundary expiry for the incoming participant, then halt with
//     an interrupt if one of their start_of_turn targets triggers.
//  7. Otherwise return "ok".
//
// Postcondition: On StatusInterrupt, the returned info identifies the target
// awaiting resolution; the caller resolves it and calls AdvanceTurn again
// until StatusOK.
func (e *Engine) AdvanceTurn(ctx context.Context, encounterID int64) (Result, error) {
	var result Result
	err := e.store.Update(ctx, encounterID, func(ctx context.Context, tx Tx) error {
		enc, err := tx.Encounter(ctx)
		if err != nil {
			return err
		}
		if enc.Ended() {
			return ErrEncounterEnded
		}

		ps, err := tx.Participants(ctx)
		if err != nil {
			return err
		}
		order := encounter.OrderedParticipants(ps, enc.RoundNumber)
		if len(order) == 0 {
			result = Result{Status: StatusOK}
			return nil
		}

		var current *encounter.Participant
		if enc.ActiveParticipantID != nil {
			current = findParticipant(ps, *enc.ActiveParticipantID)
		}

		next, newRound := nextUp(order, current, enc.RoundNumber)
		if newRound > enc.RoundNumber && enc.EffectsTickedRound < newRound {
			// Applied at most once per boundary: an interrupt halt commits
			// this pass and the marker together, so resuming the machine
			// does not decrement time effects again.
			if err := e.applyRoundExpiry(ctx, tx, newRound); err != nil {
				return err
			}
		}

		if current != nil {
			if err := e.applyTurnExpiry(ctx, tx, current.ID, enc.RoundNumber); err != nil {
				return err
			}
			effects, err := tx.ActiveEffects(ctx)
			if err != nil {
				return err
			}
			if eff, tgt := encounter.FindTrigger(effects, current.ID, encounter.TimingEndOfTurn, enc.RoundNumber); tgt != nil {
				if err := tx.MarkTargetPrompted(ctx, tgt.ID, enc.RoundNumber); err != nil {
					return err
				}
				result = interruptFor(eff, tgt, current)
				return nil
			}
		}

		if current == nil {
			// Initial activation: the first participant in order becomes
			// active and the round counter starts at 1.
			newRound = 1
			if err := tx.SetTurn(ctx, next.ID, 1, encounter.StatusActive); err != nil {
				return err
			}
		} else if err := tx.SetTurn(ctx, next.ID, newRound, encounter.StatusActive); err != nil {
			return err
		}

		if err := e.applyTurnExpiry(ctx, tx, next.ID, newRound); err != nil {
			return err
		}
		effects, err := tx.ActiveEffects(ctx)
		if err != nil {
			return err
		}
		if eff, tgt := encounter.FindTrigger(effects, next.ID, encounter.TimingStartOfTurn, newRound); tgt != nil {
			if err := tx.MarkTargetPrompted(ctx, tgt.ID, newRound); err != nil {
				return err
			}
			result = interruptFor(eff, tgt, next)
			return nil
		}

		result = Result{Status: StatusOK}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if result.Status == StatusInterrupt {
		e.logger.Info("turn advancement interrupted",
			zap.Int64("encounter_id", encounterID),
			zap.Int64("target_id", result.Interrupt.TargetID),
			zap.String("effect", result.Interrupt.EffectName),
			zap.Bool("death_save", result.Interrupt.DeathSave),
		)
	}
	return result, nil
}

// nextUp determines who acts next and which round that turn belongs to.
// When current is absent from the order (just died or removed), advancement
// restarts at the top of the order without changing the round.
func nextUp(order []*encounter.Participant, current *encounter.Participant, round int) (*encounter.Participant, int) {
	if current == nil {
		return order[0], round
	}
	idx := -1
	for i, p := range order {
		if p.ID == current.ID {
			idx = i
			break
		}
	}
	switch {
	case idx < 0:
		return order[0], round
	case idx == len(order)-1:
		return order[0], round + 1
	default:
		return order[idx+1], round
	}
}

// applyRoundExpiry evaluates end_of_round and time effects against the round
// being entered and applies the resulting ends and decrements. The decision
// is computed over a consistent snapshot before any mutation.
func (e *Engine) applyRoundExpiry(ctx context.Context, tx Tx, newRound int) error {
	effects, err := tx.ActiveEffects(ctx)
	if err != nil {
		return err
	}
	pass := encounter.RoundBoundaryExpiry(effects, newRound)
	for _, id := range pass.EndEffects {
		if err := tx.EndEffect(ctx, id); err != nil {
			return fmt.Errorf("ending expired effect %d: %w", id, err)
		}
	}
	for id, rounds := range pass.Decrements {
		if err := tx.SetEffectRounds(ctx, id, rounds); err != nil {
			return fmt.Errorf("decrementing effect %d: %w", id, err)
		}
	}
	return tx.SetEffectsTicked(ctx, newRound)
}

// applyTurnExpiry ends the end_of_turn effects whose boundary belongs to the
// given participant.
func (e *Engine) applyTurnExpiry(ctx context.Context, tx Tx, participantID int64, round int) error {
	effects, err := tx.ActiveEffects(ctx)
	if err != nil {
		return err
	}
	for _, id := range encounter.TurnBoundaryExpiry(effects, participantID, round) {
		if err := tx.EndEffect(ctx, id); err != nil {
			return fmt.Errorf("ending expired effect %d: %w", id, err)
		}
	}
	return nil
}

// ResolveInterrupt consumes the narrator's save outcome for one target.
//
// Ordinary save targets: a pass ends just that target (the effect may keep
// affecting others); a fail leaves the target live for duration expiry (the
// HP delta is reserved and a no-op today).
//
// Death-save targets: the roll feeds the three-strike counters. Stabilizing
// ends the effect with the participant unchanged; dying marks the
// participant dead, ends the effect, and, when the participant held the
// turn pointer, immediately advances once to move off the corpse.
//
// Postcondition: The caller re-invokes AdvanceTurn in a loop until it
// returns StatusOK; one interrupt can chain into another.
func (e *Engine) ResolveInterrupt(ctx context.Context, encounterID, targetID int64, outcome Outcome) error {
	var advanceAfter bool
	err := e.store.Update(ctx, encounterID, func(ctx context.Context, tx Tx) error {
		enc, err := tx.Encounter(ctx)
		if err != nil {
			return err
		}
		if enc.Ended() {
			return ErrEncounterEnded
		}

		tgt, eff, err := tx.Target(ctx, targetID)
		if err != nil {
			return err
		}
		if !tgt.IsActive() || eff.Ended() {
			return ErrTargetEnded
		}

		if eff.Kind == encounter.KindDeathSave {
			res := encounter.RecordDeathSave(tgt, outcome.Passed, outcome.Critical)
			if err := tx.SetDeathSaves(ctx, targetID, res.Successes, res.Failures); err != nil {
				return err
			}
			switch {
			case res.Stabilized:
				e.logger.Info("participant stabilized",
					zap.Int64("encounter_id", encounterID),
					zap.Int64("participant_id", tgt.ParticipantID),
				)
				return tx.EndEffect(ctx, eff.ID)
			case res.Died:
				if err := tx.SetParticipantState(ctx, tgt.ParticipantID, encounter.StateDead); err != nil {
					return err
				}
				if err := tx.EndEffect(ctx, eff.ID); err != nil {
					return err
				}
				advanceAfter = enc.Status == encounter.StatusActive &&
					enc.ActiveParticipantID != nil && *enc.ActiveParticipantID == tgt.ParticipantID
				e.logger.Info("participant died",
					zap.Int64("encounter_id", encounterID),
					zap.Int64("participant_id", tgt.ParticipantID),
				)
				return nil
			default:
				return nil
			}
		}

		if outcome.Passed && eff.RequiresSave() {
			return tx.EndTarget(ctx, targetID)
		}
		// Failed (or informational): the effect's HP delta is reserved for
		// a future rules engine. The target stays live so duration-based
		// expiry eventually clears it.
		return nil
	})
	if err != nil {
		return err
	}
	if advanceAfter {
		if _, err := e.AdvanceTurn(ctx, encounterID); err != nil {
			return fmt.Errorf("advancing off dead participant: %w", err)
		}
	}
	return nil
}

// ActivateIfReady transitions a setup encounter to active once every present
// combatant has an initiative roll, pointing the turn at the first
// participant in order. Re-run after every roll submission and on every
// view. A no-op for encounters that are not ready, already running, or
// ended.
func (e *Engine) ActivateIfReady(ctx context.Context, encounterID int64) error {
	return e.store.Update(ctx, encounterID, func(ctx context.Context, tx Tx) error {
		enc, err := tx.Encounter(ctx)
		if err != nil {
			return err
		}
		if enc.Ended() {
			return nil
		}
		ps, err := tx.Participants(ctx)
		if err != nil {
			return err
		}
		return e.activateLocked(ctx, tx, enc, ps)
	})
}

func (e *Engine) activateLocked(ctx context.Context, tx Tx, enc *encounter.Encounter, ps []*encounter.Participant) error {
	first, ready := encounter.ActivationReady(ps, enc.RoundNumber)
	if !ready {
		return nil
	}
	switch {
	case enc.Status == encounter.StatusSetup:
		e.logger.Info("encounter activated",
			zap.Int64("encounter_id", enc.ID),
			zap.Int64("first_up", first.ID),
		)
		return tx.SetTurn(ctx, first.ID, 1, encounter.StatusActive)
	case enc.Status == encounter.StatusActive && enc.ActiveParticipantID == nil:
		return tx.SetActiveParticipant(ctx, &first.ID)
	}
	return nil
}

// SubmitRolls records initiative rolls for the encounter's combatants.
// Every non-removed participant must be present in rolls; partial
// submissions are rejected before any row is written. Activation readiness
// re-runs after the rolls land.
func (e *Engine) SubmitRolls(ctx context.Context, encounterID int64, rolls map[int64]int) error {
	return e.store.Update(ctx, encounterID, func(ctx context.Context, tx Tx) error {
		enc, err := tx.Encounter(ctx)
		if err != nil {
			return err
		}
		if enc.Ended() {
			return ErrEncounterEnded
		}
		ps, err := tx.Participants(ctx)
		if err != nil {
			return err
		}
		for _, p := range ps {
			if p.State == encounter.StateRemoved {
				continue
			}
			if _, ok := rolls[p.ID]; !ok {
				return ErrMissingRolls
			}
		}
		for _, p := range ps {
			if p.State == encounter.StateRemoved {
				continue
			}
			roll := rolls[p.ID]
			total := roll + p.InitiativeMod
			if err := tx.SetInitiative(ctx, p.ID, roll, total); err != nil {
				return err
			}
			r, t := roll, total
			p.InitiativeRoll, p.InitiativeTotal = &r, &t
		}
		return e.activateLocked(ctx, tx, enc, ps)
	})
}

// AddCombatant adds a character to the encounter. While the encounter is
// active the newcomer joins the initiative order at the start of the next
// round; before activation they are present from the start. A roll, when
// supplied, is recorded immediately.
//
// Postcondition: Returns the created participant or ErrParticipantExists
// when the character already fights in this encounter.
func (e *Engine) AddCombatant(ctx context.Context, encounterID, characterID int64, initiativeMod int, roll *int) (*encounter.Participant, error) {
	var created *encounter.Participant
	err := e.store.Update(ctx, encounterID, func(ctx context.Context, tx Tx) error {
		enc, err := tx.Encounter(ctx)
		if err != nil {
			return err
		}
		if enc.Ended() {
			return ErrEncounterEnded
		}

		p := &encounter.Participant{
			EncounterID:   encounterID,
			CharacterID:   characterID,
			InitiativeMod: initiativeMod,
			State:         encounter.StateAlive,
		}
		if enc.Status == encounter.StatusActive {
			joins := enc.RoundNumber + 1
			p.AddedInRound = &joins
		}
		if roll != nil {
			total := *roll + initiativeMod
			p.InitiativeRoll, p.InitiativeTotal = roll, &total
		}

		created, err = tx.InsertParticipant(ctx, p)
		return err
	})
	return created, err
}

// SetParticipantState is the narrator's direct override (manual kill,
// revive, removal). Killing the currently active participant of a running
// encounter immediately triggers one advancement to move the pointer off
// them.
func (e *Engine) SetParticipantState(ctx context.Context, encounterID, participantID int64, state encounter.ParticipantState) error {
	if !encounter.ValidParticipantState(state) {
		return &encounter.ValidationError{Problems: []string{fmt.Sprintf("unknown participant state %q", state)}}
	}
	var advanceAfter bool
	err := e.store.Update(ctx, encounterID, func(ctx context.Context, tx Tx) error {
		enc, err := tx.Encounter(ctx)
		if err != nil {
			return err
		}
		if enc.Ended() {
			return ErrEncounterEnded
		}
		ps, err := tx.Participants(ctx)
		if err != nil {
			return err
		}
		if findParticipant(ps, participantID) == nil {
			return ErrParticipantNotFound
		}
		if err := tx.SetParticipantState(ctx, participantID, state); err != nil {
			return err
		}
		advanceAfter = state == encounter.StateDead &&
			enc.Status == encounter.StatusActive &&
			enc.ActiveParticipantID != nil && *enc.ActiveParticipantID == participantID
		return nil
	})
	if err != nil {
		return err
	}
	if advanceAfter {
		if _, err := e.AdvanceTurn(ctx, encounterID); err != nil {
			return fmt.Errorf("advancing off dead participant: %w", err)
		}
	}
	return nil
}

// RemoveParticipant takes a combatant out of the fight. Before the encounter
// is active the row is hard-deleted; afterwards it is soft-removed so
// history survives.
func (e *Engine) RemoveParticipant(ctx context.Context, encounterID, participantID int64) error {
	return e.store.Update(ctx, encounterID, func(ctx context.Context, tx Tx) error {
		enc, err := tx.Encounter(ctx)
		if err != nil {
			return err
		}
		ps, err := tx.Participants(ctx)
		if err != nil {
			return err
		}
		if findParticipant(ps, participantID) == nil {
			return ErrParticipantNotFound
		}
		if enc.Status != encounter.StatusActive {
			return tx.DeleteParticipant(ctx, participantID)
		}
		return tx.SetParticipantState(ctx, participantID, encounter.StateRemoved)
	})
}

// RestoreParticipant returns a removed (or dead) combatant to the fight.
func (e *Engine) RestoreParticipant(ctx context.Context, encounterID, participantID int64) error {
	return e.store.Update(ctx, encounterID, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Encounter(ctx); err != nil {
			return err
		}
		ps, err := tx.Participants(ctx)
		if err != nil {
			return err
		}
		if findParticipant(ps, participantID) == nil {
			return ErrParticipantNotFound
		}
		return tx.SetParticipantState(ctx, participantID, encounter.StateAlive)
	})
}

// EndEncounter terminates the encounter, remembering where the turn pointer
// was so a later restore can resume there. Terminal: the engine refuses all
// further mutation.
func (e *Engine) EndEncounter(ctx context.Context, encounterID int64) error {
	return e.store.Update(ctx, encounterID, func(ctx context.Context, tx Tx) error {
		enc, err := tx.Encounter(ctx)
		if err != nil {
			return err
		}
		if enc.Ended() {
			return ErrEncounterEnded
		}
		return tx.SetEnded(ctx, enc.ActiveParticipantID)
	})
}

// RestoreEncounter reactivates an ended encounter, resuming at the last
// active participant or, when none was recorded, at the first rolled
// participant in initiative order. Refused while any encounter in the
// campaign is running, this one included.
func (e *Engine) RestoreEncounter(ctx context.Context, encounterID int64) error {
	return e.store.Update(ctx, encounterID, func(ctx context.Context, tx Tx) error {
		enc, err := tx.Encounter(ctx)
		if err != nil {
			return err
		}
		if !enc.Ended() {
			return ErrCampaignBusy
		}
		busy, err := tx.HasOtherActiveEncounter(ctx)
		if err != nil {
			return err
		}
		if busy {
			return ErrCampaignBusy
		}

		activeID := enc.LastActiveParticipantID
		if activeID == nil {
			ps, err := tx.Participants(ctx)
			if err != nil {
				return err
			}
			for _, p := range encounter.OrderedParticipants(ps, enc.RoundNumber) {
				if p.InitiativeRoll != nil {
					id := p.ID
					activeID = &id
					break
				}
			}
		}
		return tx.SetRestored(ctx, activeID)
	})
}

func findParticipant(ps []*encounter.Participant, id int64) *encounter.Participant {
	for _, p := range ps {
		if p.ID == id {
			return p
		}
	}
	return nil
}
