package encounter

// Rounds last six seconds of in-world time; narrated durations given in
// seconds or minutes are converted at that rate, rounding up.
const secondsPerRound = 6

// DurationSpec is the narrator-facing description of how long an effect
// lasts. TimeAmount/TimeUnit are only read for DurationTime.
type DurationSpec struct {
	Type       DurationType
	TimeAmount int
	// TimeUnit is "seconds" or "minutes"; anything else reads as seconds.
	TimeUnit string
}

// RoundsFor converts the spec's narrated time into whole rounds.
func (s DurationSpec) RoundsFor() int {
	seconds := s.TimeAmount
	if s.TimeUnit == "minutes" {
		seconds = s.TimeAmount * 60
	}
	rounds := (seconds + secondsPerRound - 1) / secondsPerRound
	return rounds
}

// ApplyDurationSpec fills the effect's duration fields from the spec,
// anchored to the encounter's current state:
//
//   - end_of_round pins expiry to the current round (the effect survives
//     through it and ends when the next round is entered);
//   - end_of_turn pins expiry to the currently active participant's turn in
//     the following round, and requires an active participant;
//   - time converts the narrated amount into a round countdown.
//
// Postcondition: Returns nil and mutates e on success; on failure e is
// unchanged and a *ValidationError is returned.
func ApplyDurationSpec(e *Effect, enc *Encounter, spec DurationSpec) error {
	switch spec.Type {
	case DurationEndOfRound:
		round := enc.RoundNumber
		e.Duration = DurationEndOfRound
		e.ExpiresOnRound = &round
	case DurationEndOfTurn:
		if enc.ActiveParticipantID == nil {
			return &ValidationError{Problems: []string{
				"cannot anchor an end_of_turn effect: the encounter has no active participant",
			}}
		}
		pid := *enc.ActiveParticipantID
		round := enc.RoundNumber + 1
		e.Duration = DurationEndOfTurn
		e.ExpiresOnParticipantID = &pid
		e.ExpiresOnRound = &round
	case DurationTime:
		rounds := spec.RoundsFor()
		if rounds <= 0 {
			return &ValidationError{Problems: []string{"time duration must be at least one round"}}
		}
		e.Duration = DurationTime
		e.DurationRounds = &rounds
	case DurationNone:
		if e.Kind != KindDeathSave {
			return &ValidationError{Problems: []string{"duration none is reserved for death-save effects"}}
		}
		e.Duration = DurationNone
	default:
		return &ValidationError{Problems: []string{"unknown duration type"}}
	}
	return nil
}
