package encounter

import "sort"

// OrderedParticipants returns the participants eligible to act in the given
// round, in initiative order: initiative total descending, then initiative
// roll descending, then participant ID ascending. Participants without a roll
// sort after everyone who has one. IDs are unique, so the order is total and
// deterministic.
//
// Postcondition: The input slice is not modified; the result is a new slice.
func OrderedParticipants(ps []*Participant, round int) []*Participant {
	ordered := make([]*Participant, 0, len(ps))
	for _, p := range ps {
		if p.Eligible(round) {
			ordered = append(ordered, p)
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		return initiativeLess(ordered[i], ordered[j])
	})
	return ordered
}

// initiativeLess reports whether a acts before b.
func initiativeLess(a, b *Participant) bool {
	at, bt := derefOrMin(a.InitiativeTotal), derefOrMin(b.InitiativeTotal)
	if at != bt {
		return at > bt
	}
	ar, br := derefOrMin(a.InitiativeRoll), derefOrMin(b.InitiativeRoll)
	if ar != br {
		return ar > br
	}
	return a.ID < b.ID
}

// derefOrMin treats a missing value as lower than any real one.
func derefOrMin(v *int) int {
	if v == nil {
		return -1 << 30
	}
	return *v
}

// ActivationReady reports whether an encounter in setup may become active:
// every non-removed participant who has already joined must have an
// initiative roll, and at least one such participant must exist. When ready,
// the first participant in initiative order is returned.
//
// Postcondition: first is non-nil iff ready is true.
func ActivationReady(ps []*Participant, round int) (first *Participant, ready bool) {
	var present []*Participant
	for _, p := range ps {
		if p.State == StateRemoved {
			continue
		}
		if p.AddedInRound != nil && *p.AddedInRound > round {
			continue
		}
		present = append(present, p)
	}
	if len(present) == 0 {
		return nil, false
	}
	for _, p := range present {
		if p.InitiativeRoll == nil {
			return nil, false
		}
	}
	ordered := OrderedParticipants(ps, round)
	if len(ordered) == 0 {
		return nil, false
	}
	return ordered[0], true
}
