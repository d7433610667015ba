package encounter

// ExpiryPass is the outcome of evaluating the effect ledger at a round
// boundary. It is computed from a consistent snapshot of the active effects
// and applied afterwards; the ledger is never mutated mid-iteration.
type ExpiryPass struct {
	// EndEffects lists effects whose duration has run out. Ending is
	// unconditional: no pending save keeps an expired effect alive.
	EndEffects []int64
	// Decrements maps time-based effects to their new remaining round
	// count. Effects that reached zero appear in EndEffects instead.
	Decrements map[int64]int
}

// RoundBoundaryExpiry evaluates end_of_round and time effects against the
// round being entered. An end_of_round effect expires once newRound exceeds
// its ExpiresOnRound, so it stays live through its named round. A time effect
// loses exactly one round per boundary, regardless of participant count, and
// expires at zero.
//
// Precondition: effects must contain only non-ended effects.
// Postcondition: effects is not modified.
func RoundBoundaryExpiry(effects []*Effect, newRound int) ExpiryPass {
	pass := ExpiryPass{Decrements: make(map[int64]int)}
	for _, e := range effects {
		switch e.Duration {
		case DurationEndOfRound:
			if e.ExpiresOnRound != nil && newRound > *e.ExpiresOnRound {
				pass.EndEffects = append(pass.EndEffects, e.ID)
			}
		case DurationTime:
			if e.DurationRounds == nil {
				continue
			}
			remaining := *e.DurationRounds - 1
			if remaining <= 0 {
				pass.EndEffects = append(pass.EndEffects, e.ID)
			} else {
				pass.Decrements[e.ID] = remaining
			}
		}
	}
	return pass
}

// TurnBoundaryExpiry returns the end_of_turn effects that expire at a turn
// boundary belonging to the given participant: the boundary participant must
// be the effect's ExpiresOnParticipantID and the current round must have
// reached ExpiresOnRound. The same rule runs when leaving and when entering a
// turn, so an expired effect cannot linger past a skipped boundary.
//
// Postcondition: effects is not modified.
func TurnBoundaryExpiry(effects []*Effect, participantID int64, round int) []int64 {
	var ended []int64
	for _, e := range effects {
		if e.Duration != DurationEndOfTurn {
			continue
		}
		if e.ExpiresOnParticipantID == nil || *e.ExpiresOnParticipantID != participantID {
			continue
		}
		if e.ExpiresOnRound != nil && round >= *e.ExpiresOnRound {
			ended = append(ended, e.ID)
		}
	}
	return ended
}

// FindTrigger scans the active effects for the first one holding an active
// target on the given participant with the given timing that has not already
// prompted in the given round. Targets with no_trigger timing never match.
// Effects are scanned in slice order, which callers keep in creation (ID)
// order for determinism.
//
// Postcondition: Returns (nil, nil) when nothing triggers.
func FindTrigger(effects []*Effect, participantID int64, timing TriggerTiming, round int) (*Effect, *Target) {
	for _, e := range effects {
		if e.Ended() {
			continue
		}
		for _, t := range e.Targets {
			if !t.IsActive() || t.ParticipantID != participantID {
				continue
			}
			if t.PromptedIn(round) {
				continue
			}
			if t.Timing == timing && t.Timing != TimingNone {
				return e, t
			}
		}
	}
	return nil, nil
}
