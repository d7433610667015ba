package encounter

// Death-save thresholds. Two accumulated successes stabilize; three
// accumulated failures kill. A critical roll counts double on either side.
const (
	deathSaveStabilizeAt = 2
	deathSaveDieAt       = 3
	deathSaveCounterMax  = 3
)

// DeathSaveResult describes the consequence of recording one death-save roll.
type DeathSaveResult struct {
	// Successes and Failures are the updated counters, clamped to 0-3.
	Successes int
	Failures  int
	// Stabilized means the target and its parent effect should end with the
	// participant's state unchanged.
	Stabilized bool
	// Died means the participant's state becomes dead and the target and
	// effect both end.
	Died bool
}

// RecordDeathSave computes the next death-save state for a target given one
// roll outcome. critical doubles the weight of the roll (a natural 20 or 1);
// it still resolves through the same counters rather than as an instant
// outcome.
//
// Precondition: t must be an active target of a death-save effect.
// Postcondition: t is not modified; the caller persists the returned counters.
func RecordDeathSave(t *Target, passed, critical bool) DeathSaveResult {
	weight := 1
	if critical {
		weight = 2
	}

	res := DeathSaveResult{
		Successes: t.DeathSaveSuccesses,
		Failures:  t.DeathSaveFailures,
	}
	if passed {
		res.Successes = clampCounter(res.Successes + weight)
		res.Stabilized = res.Successes >= deathSaveStabilizeAt
	} else {
		res.Failures = clampCounter(res.Failures + weight)
		res.Died = res.Failures >= deathSaveDieAt
	}
	return res
}

func clampCounter(n int) int {
	if n > deathSaveCounterMax {
		return deathSaveCounterMax
	}
	return n
}
