// Package encounter implements the turn-based encounter domain: initiative
// ordering, the effect ledger with its duration bookkeeping, the death-save
// sub-protocol, and the read-only state snapshot served to clients.
//
// Everything in this package is pure in-memory logic. Persistence and
// transaction boundaries live in internal/storage/postgres; orchestration
// lives in internal/engine.
package encounter

import "time"

// Status is the lifecycle state of an encounter.
type Status string

const (
	// StatusSetup means the encounter is collecting participants and
	// initiative rolls and has no active turn pointer yet.
	StatusSetup Status = "setup"
	// StatusActive means the turn machine is running.
	StatusActive Status = "active"
	// StatusEnded is terminal; the engine refuses further advancement.
	StatusEnded Status = "ended"
)

// ValidStatus reports whether s is a recognised encounter status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusSetup, StatusActive, StatusEnded:
		return true
	}
	return false
}

// ParticipantState is the combat state of one participant.
type ParticipantState string

const (
	StateAlive   ParticipantState = "alive"
	StateDead    ParticipantState = "dead"
	StateRemoved ParticipantState = "removed"
)

// ValidParticipantState reports whether s is a recognised participant state.
func ValidParticipantState(s ParticipantState) bool {
	switch s {
	case StateAlive, StateDead, StateRemoved:
		return true
	}
	return false
}

// Encounter is one combat session within a campaign.
type Encounter struct {
	ID         int64
	CampaignID int64
	Status     Status
	// RoundNumber starts at 1 and only ever increases.
	RoundNumber int
	// ActiveParticipantID, when non-nil, references a participant belonging
	// to this encounter.
	ActiveParticipantID *int64
	// LastActiveParticipantID records where the turn pointer was when the
	// encounter ended, so a restore can resume there.
	LastActiveParticipantID *int64
	// EffectsTickedRound is the highest round for which round-boundary
	// expiry has already been applied. It makes advancement resumable: an
	// interrupt halt commits the expiry pass, and the re-invoked engine
	// must not decrement time effects a second time for the same boundary.
	EffectsTickedRound int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Ended reports whether the encounter has reached its terminal state.
func (e *Encounter) Ended() bool { return e.Status == StatusEnded }

// Participant is a character's membership and combat state within one
// encounter. Name, PC, and AvatarURL are snapshots of the referenced
// character taken when the row is loaded.
type Participant struct {
	ID          int64
	EncounterID int64
	CharacterID int64
	Name        string
	PC          bool
	AvatarURL   *string
	// InitiativeRoll is nil until the narrator submits a roll.
	InitiativeRoll *int
	// InitiativeMod is snapshotted from the character at creation.
	InitiativeMod int
	// InitiativeTotal is roll + mod; only meaningful when InitiativeRoll is set.
	InitiativeTotal *int
	State           ParticipantState
	// AddedInRound is nil for participants present from the start. A round
	// number means the participant joined mid-combat and is excluded from
	// ordering until that round begins.
	AddedInRound *int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Eligible reports whether the participant takes part in ordering for the
// given round: not removed, not dead, and already joined.
func (p *Participant) Eligible(round int) bool {
	if p.State == StateRemoved || p.State == StateDead {
		return false
	}
	if p.AddedInRound != nil && *p.AddedInRound > round {
		return false
	}
	return true
}

// Kind returns the display kind of the participant's character.
func (p *Participant) Kind() string {
	if p.PC {
		return "pc"
	}
	return "npc"
}
