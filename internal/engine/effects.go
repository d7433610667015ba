package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/croftbawn/wartable/internal/game/encounter"
)

// TargetSpec selects one participant an effect applies to and when that
// participant is prompted.
type TargetSpec struct {
	ParticipantID int64
	// Timing defaults to no_trigger when empty.
	Timing encounter.TriggerTiming
}

// CreateEffectParams describes a new effect. Duration fields are derived
// from the duration spec against the encounter's state at creation time.
type CreateEffectParams struct {
	Name        string
	Note        string
	Kind        encounter.EffectKind
	SaveAbility *encounter.SaveAbility
	HPDelta     int
	Duration    encounter.DurationSpec
	Targets     []TargetSpec
}

// CreateEffect validates and persists a new effect with its targets inside
// the encounter lock. When every target is no_trigger the save ability is
// cleared: nothing would ever prompt for it.
//
// Postcondition: Returns the stored effect with IDs assigned, or a
// *encounter.ValidationError / sentinel before any row is written.
func (e *Engine) CreateEffect(ctx context.Context, encounterID int64, params CreateEffectParams) (*encounter.Effect, error) {
	if len(params.Targets) == 0 {
		return nil, &encounter.ValidationError{Problems: []string{"select at least one participant to affect"}}
	}

	var created *encounter.Effect
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

		kind := params.Kind
		if kind == "" {
			kind = encounter.KindStandard
		}
		eff := &encounter.Effect{
			EncounterID: encounterID,
			Kind:        kind,
			Name:        params.Name,
			Note:        params.Note,
			SaveAbility: params.SaveAbility,
			HPDelta:     params.HPDelta,
		}
		if err := encounter.ApplyDurationSpec(eff, enc, params.Duration); err != nil {
			return err
		}

		allNone := true
		for _, spec := range params.Targets {
			if findParticipant(ps, spec.ParticipantID) == nil {
				return ErrParticipantNotFound
			}
			timing := spec.Timing
			if timing == "" {
				timing = encounter.TimingNone
			}
			if !encounter.ValidTiming(timing) {
				return &encounter.ValidationError{Problems: []string{fmt.Sprintf("unknown trigger timing %q", spec.Timing)}}
			}
			if timing != encounter.TimingNone {
				allNone = false
			}
			eff.Targets = append(eff.Targets, &encounter.Target{
				ParticipantID: spec.ParticipantID,
				Timing:        timing,
				Active:        true,
			})
		}
		if allNone && eff.SaveAbility != nil && kind != encounter.KindDeathSave {
			eff.SaveAbility = nil
		}

		if err := eff.Validate(); err != nil {
			return err
		}
		created, err = tx.InsertEffect(ctx, eff)
		if err != nil {
			return err
		}
		e.logger.Info("effect created",
			zap.Int64("encounter_id", encounterID),
			zap.Int64("effect_id", created.ID),
			zap.String("name", created.Name),
			zap.Int("targets", len(created.Targets)),
		)
		return nil
	})
	return created, err
}

// EndEffect unconditionally ends an effect, cascading to all of its still
// active targets. Ending bypasses validation so that expiry and explicit
// removal can never fail on transient field state.
func (e *Engine) EndEffect(ctx context.Context, encounterID, effectID int64) error {
	return e.store.Update(ctx, encounterID, func(ctx context.Context, tx Tx) error {
		enc, err := tx.Encounter(ctx)
		if err != nil {
			return err
		}
		if enc.Ended() {
			return ErrEncounterEnded
		}
		return tx.EndEffect(ctx, effectID)
	})
}

// ActiveEffects lists the encounter's non-ended effects with their targets.
func (e *Engine) ActiveEffects(ctx context.Context, encounterID int64) ([]*encounter.Effect, error) {
	var effects []*encounter.Effect
	err := e.store.View(ctx, encounterID, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Encounter(ctx); err != nil {
			return err
		}
		var err error
		effects, err = tx.ActiveEffects(ctx)
		return err
	})
	return effects, err
}

// StartDeathSaves begins the three-strike sub-protocol for a downed
// participant: a death-save effect with a single start_of_turn target and no
// duration bookkeeping. Refused while the participant already has one
// running.
func (e *Engine) StartDeathSaves(ctx context.Context, encounterID, participantID int64) (*encounter.Effect, error) {
	var created *encounter.Effect
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
		p := findParticipant(ps, participantID)
		if p == nil || p.State == encounter.StateRemoved {
			return ErrParticipantNotFound
		}

		effects, err := tx.ActiveEffects(ctx)
		if err != nil {
			return err
		}
		for _, eff := range effects {
			if eff.Kind == encounter.KindDeathSave && eff.ActiveTargetFor(participantID) != nil {
				return ErrDeathSavesActive
			}
		}

		eff := &encounter.Effect{
			EncounterID: encounterID,
			Kind:        encounter.KindDeathSave,
			Name:        "Death Saves",
			Duration:    encounter.DurationNone,
			Targets: []*encounter.Target{{
				ParticipantID: participantID,
				Timing:        encounter.TimingStartOfTurn,
				Active:        true,
			}},
		}
		created, err = tx.InsertEffect(ctx, eff)
		if err != nil {
			return err
		}
		e.logger.Info("death saves started",
			zap.Int64("encounter_id", encounterID),
			zap.Int64("participant_id", participantID),
		)
		return nil
	})
	return created, err
}
