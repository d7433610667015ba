package encounter

import (
	"fmt"
	"strings"
	"time"
)

// EffectKind distinguishes ordinary timed effects from the death-save
// sub-protocol. The kind is decided once at creation; branch logic never
// re-detects it from the display name.
type EffectKind string

const (
	// KindStandard is an ordinary timed effect.
	KindStandard EffectKind = "standard"
	// KindDeathSave carries the three-strike stabilize-or-die counters on
	// its targets. Death-save effects never expire by duration; they end
	// only via resolution or explicit removal.
	KindDeathSave EffectKind = "death_save"
)

// DurationType selects the expiry rule for an effect.
type DurationType string

const (
	// DurationEndOfRound expires once the round being entered exceeds
	// ExpiresOnRound.
	DurationEndOfRound DurationType = "end_of_round"
	// DurationEndOfTurn expires at the turn boundary of
	// ExpiresOnParticipantID once ExpiresOnRound is reached.
	DurationEndOfTurn DurationType = "end_of_turn"
	// DurationTime counts DurationRounds down by one per round boundary.
	DurationTime DurationType = "time"
	// DurationNone is reserved for death-save effects, which have no
	// duration bookkeeping at all.
	DurationNone DurationType = "none"
)

// TriggerTiming selects when an effect target prompts the narrator.
type TriggerTiming string

const (
	TimingStartOfTurn TriggerTiming = "start_of_turn"
	TimingEndOfTurn   TriggerTiming = "end_of_turn"
	// TimingNone never raises an interrupt; the target exists purely to
	// scope which participants the effect concerns for display.
	TimingNone TriggerTiming = "no_trigger"
)

// ValidTiming reports whether t is a recognised trigger timing.
func ValidTiming(t TriggerTiming) bool {
	switch t {
	case TimingStartOfTurn, TimingEndOfTurn, TimingNone:
		return true
	}
	return false
}

// SaveAbility names the ability score a saving throw is rolled against.
type SaveAbility string

const (
	SaveStr SaveAbility = "str"
	SaveDex SaveAbility = "dex"
	SaveCon SaveAbility = "con"
	SaveInt SaveAbility = "int"
	SaveWis SaveAbility = "wis"
	SaveCha SaveAbility = "cha"
)

// ValidSaveAbility reports whether a is a recognised save ability.
func ValidSaveAbility(a SaveAbility) bool {
	switch a {
	case SaveStr, SaveDex, SaveCon, SaveInt, SaveWis, SaveCha:
		return true
	}
	return false
}

// Effect is a timed status applied by the narrator, scoped to one encounter.
type Effect struct {
	ID          int64
	EncounterID int64
	Kind        EffectKind
	Name        string
	Note        string
	Duration    DurationType
	// DurationRounds counts down to zero for DurationTime effects.
	DurationRounds *int
	// ExpiresOnRound is the round at/after which an end_of_round or
	// end_of_turn effect is stale.
	ExpiresOnRound *int
	// ExpiresOnParticipantID names whose turn boundary triggers expiry for
	// end_of_turn effects.
	ExpiresOnParticipantID *int64
	// SaveAbility is nil when no save is owed; triggered targets then
	// surface a notification-only interrupt.
	SaveAbility *SaveAbility
	// HPDelta is reserved for a future rules engine and is a no-op today.
	HPDelta int
	// EndedAt non-nil means the effect is inactive.
	EndedAt   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time

	// Targets are the participants this effect concerns. Always loaded
	// alongside the effect.
	Targets []*Target
}

// Ended reports whether the effect has been ended.
func (e *Effect) Ended() bool { return e.EndedAt != nil }

// RequiresSave reports whether a saving throw is owed when a target triggers.
func (e *Effect) RequiresSave() bool { return e.SaveAbility != nil }

// ActiveTargetFor returns the active target row for the given participant,
// or nil when the participant is not (or no longer) affected.
func (e *Effect) ActiveTargetFor(participantID int64) *Target {
	for _, t := range e.Targets {
		if t.ParticipantID == participantID && t.IsActive() {
			return t
		}
	}
	return nil
}

// Target joins one effect to one participant it affects. A target can end
// independently of its parent effect: a passed save removes just this row
// while the effect continues affecting others.
type Target struct {
	ID            int64
	EffectID      int64
	ParticipantID int64
	Timing        TriggerTiming
	Active        bool
	EndedAt       *time.Time
	// DeathSaveSuccesses and DeathSaveFailures are 0-3 and only meaningful
	// on targets of a death-save effect.
	DeathSaveSuccesses int
	DeathSaveFailures  int
	// LastPromptedRound records the round in which this target last raised
	// an interrupt. A target prompts at most once per round: a failed save
	// leaves the target live but must not stall the turn machine by
	// re-prompting at the same boundary.
	LastPromptedRound *int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PromptedIn reports whether the target already raised an interrupt in the
// given round.
func (t *Target) PromptedIn(round int) bool {
	return t.LastPromptedRound != nil && *t.LastPromptedRound >= round
}

// IsActive reports whether the target is still live. Active=false implies
// EndedAt is set.
func (t *Target) IsActive() bool { return t.Active && t.EndedAt == nil }

// ValidationError collects field-level validation failures for one entity.
type ValidationError struct {
	Problems []string
}

// Error joins all collected problems into one message.
func (v *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(v.Problems, "; "))
}

// Validate checks that the duration fields are internally consistent with the
// duration type. Validation is skipped once the effect has ended: ending may
// leave transient values (e.g. DurationRounds == 0) that would otherwise fail.
//
// Postcondition: Returns nil or a *ValidationError listing every violation.
func (e *Effect) Validate() error {
	if e.Ended() {
		return nil
	}

	var problems []string
	if e.Name == "" {
		problems = append(problems, "name is required")
	}
	if e.SaveAbility != nil && !ValidSaveAbility(*e.SaveAbility) {
		problems = append(problems, fmt.Sprintf("unknown save ability %q", *e.SaveAbility))
	}

	switch e.Duration {
	case DurationEndOfRound:
		if e.ExpiresOnRound == nil {
			problems = append(problems, "expires_on_round is required for end_of_round effects")
		}
	case DurationEndOfTurn:
		if e.ExpiresOnParticipantID == nil {
			problems = append(problems, "expires_on_participant is required for end_of_turn effects")
		}
		if e.ExpiresOnRound == nil {
			problems = append(problems, "expires_on_round is required for end_of_turn effects")
		}
	case DurationTime:
		if e.DurationRounds == nil || *e.DurationRounds <= 0 {
			problems = append(problems, "duration_rounds must be > 0 for time effects")
		}
	case DurationNone:
		if e.Kind != KindDeathSave {
			problems = append(problems, "duration none is reserved for death-save effects")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown duration type %q", e.Duration))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
