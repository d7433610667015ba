package encounter

import "sort"

// Snapshot is the read-only projection of an encounter's live state served to
// clients. It is recomputed from scratch on every call and caches nothing:
// two builds over the same rows produce identical snapshots.
type Snapshot struct {
	Encounter        EncounterSummary  `json:"encounter"`
	Participants     []ParticipantView `json:"participants"`
	DeadParticipants []ParticipantView `json:"dead_participants"`
}

// EncounterSummary is the encounter header portion of a snapshot.
type EncounterSummary struct {
	ID                  int64  `json:"id"`
	Status              Status `json:"status"`
	Round               int    `json:"round"`
	ActiveParticipantID *int64 `json:"active_participant_id"`
}

// ParticipantView is one participant row in a snapshot.
type ParticipantView struct {
	ID              int64            `json:"id"`
	Name            string           `json:"name"`
	Kind            string           `json:"kind"`
	InitiativeTotal *int             `json:"initiative_total"`
	State           ParticipantState `json:"state"`
	AvatarURL       *string          `json:"avatar_url"`
	ActiveEffects   []EffectBadge    `json:"active_effects"`
}

// EffectBadge annotates a participant with one effect currently affecting
// them. Death-save counters are present only for death-save effects.
type EffectBadge struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	DeathSaveSuccesses *int   `json:"death_save_successes,omitempty"`
	DeathSaveFailures  *int   `json:"death_save_failures,omitempty"`
}

// BuildSnapshot projects the given rows into the client wire format. Living
// eligible participants appear in initiative order; dead participants appear
// separately in ID order for the graveyard view. Effect badges list only
// non-ended effects with an active target on the participant, in effect ID
// order.
//
// Postcondition: No input is modified; repeated calls over the same inputs
// yield equal snapshots.
func BuildSnapshot(enc *Encounter, ps []*Participant, effects []*Effect) Snapshot {
	snap := Snapshot{
		Encounter: EncounterSummary{
			ID:                  enc.ID,
			Status:              enc.Status,
			Round:               enc.RoundNumber,
			ActiveParticipantID: enc.ActiveParticipantID,
		},
		Participants:     []ParticipantView{},
		DeadParticipants: []ParticipantView{},
	}

	for _, p := range OrderedParticipants(ps, enc.RoundNumber) {
		snap.Participants = append(snap.Participants, participantView(p, effects))
	}

	var dead []*Participant
	for _, p := range ps {
		if p.State == StateDead {
			dead = append(dead, p)
		}
	}
	sort.Slice(dead, func(i, j int) bool { return dead[i].ID < dead[j].ID })
	for _, p := range dead {
		snap.DeadParticipants = append(snap.DeadParticipants, participantView(p, effects))
	}

	return snap
}

func participantView(p *Participant, effects []*Effect) ParticipantView {
	view := ParticipantView{
		ID:              p.ID,
		Name:            p.Name,
		Kind:            p.Kind(),
		InitiativeTotal: p.InitiativeTotal,
		State:           p.State,
		AvatarURL:       p.AvatarURL,
		ActiveEffects:   []EffectBadge{},
	}
	for _, e := range effects {
		if e.Ended() {
			continue
		}
		t := e.ActiveTargetFor(p.ID)
		if t == nil {
			continue
		}
		badge := EffectBadge{ID: e.ID, Name: e.Name}
		if e.Kind == KindDeathSave {
			successes, failures := t.DeathSaveSuccesses, t.DeathSaveFailures
			badge.DeathSaveSuccesses = &successes
			badge.DeathSaveFailures = &failures
		}
		view.ActiveEffects = append(view.ActiveEffects, badge)
	}
	return view
}
