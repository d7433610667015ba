package engine

import "github.com/croftbawn/wartable/internal/game/encounter"

// ResultStatus distinguishes a completed advancement from a halt.
type ResultStatus string

const (
	// StatusOK means the turn machine finished its unit of work.
	StatusOK ResultStatus = "ok"
	// StatusInterrupt means the machine halted mid-advancement and needs an
	// external save outcome before it may proceed. State mutated before the
	// halt is already committed.
	StatusInterrupt ResultStatus = "interrupt"
)

// Result is the outcome of one AdvanceTurn call.
type Result struct {
	Status    ResultStatus   `json:"status"`
	Interrupt *InterruptInfo `json:"interrupt,omitempty"`
}

// InterruptInfo carries everything the client needs to prompt the narrator
// for a save or death-save resolution.
type InterruptInfo struct {
	TargetID   int64  `json:"target_id"`
	EffectID   int64  `json:"effect_id"`
	EffectName string `json:"effect_name"`
	// SaveAbility is nil when no save is owed.
	SaveAbility     *string `json:"save_ability"`
	ParticipantID   int64   `json:"participant_id"`
	ParticipantName string  `json:"participant_name"`
	// NotificationOnly means the interrupt only informs the narrator; the
	// client dismisses it and re-invokes advancement.
	NotificationOnly bool `json:"notification_only"`
	// DeathSave marks the three-strike sub-protocol.
	DeathSave bool `json:"death_save"`
}

// Outcome is the narrator's answer to an interrupt.
type Outcome struct {
	Passed bool
	// Critical doubles the weight of a death-save roll (natural 20 or 1).
	Critical bool
}

func interruptFor(eff *encounter.Effect, tgt *encounter.Target, p *encounter.Participant) Result {
	var save *string
	if eff.SaveAbility != nil {
		s := string(*eff.SaveAbility)
		save = &s
	}
	return Result{
		Status: StatusInterrupt,
		Interrupt: &InterruptInfo{
			TargetID:         tgt.ID,
			EffectID:         eff.ID,
			EffectName:       eff.Name,
			SaveAbility:      save,
			ParticipantID:    p.ID,
			ParticipantName:  p.Name,
			NotificationOnly: eff.Kind != encounter.KindDeathSave && !eff.RequiresSave(),
			DeathSave:        eff.Kind == encounter.KindDeathSave,
		},
	}
}
