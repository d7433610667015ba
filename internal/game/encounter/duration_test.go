package encounter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRoundsFor(t *testing.T) {
	cases := []struct {
		amount int
		unit   string
		want   int
	}{
		{6, "seconds", 1},
		{7, "seconds", 2},
		{12, "seconds", 2},
		{1, "minutes", 10},
		{1, "", 1},
		{0, "seconds", 0},
	}
	for _, tc := range cases {
		spec := DurationSpec{Type: DurationTime, TimeAmount: tc.amount, TimeUnit: tc.unit}
		assert.Equal(t, tc.want, spec.RoundsFor(), "%d %s", tc.amount, tc.unit)
	}
}

func TestApplyDurationSpec_EndOfRound(t *testing.T) {
	enc := &Encounter{RoundNumber: 4}
	e := &Effect{Kind: KindStandard, Name: "x"}
	require.NoError(t, ApplyDurationSpec(e, enc, DurationSpec{Type: DurationEndOfRound}))
	assert.Equal(t, DurationEndOfRound, e.Duration)
	require.NotNil(t, e.ExpiresOnRound)
	assert.Equal(t, 4, *e.ExpiresOnRound)
}

func TestApplyDurationSpec_EndOfTurn(t *testing.T) {
	enc := &Encounter{RoundNumber: 4, ActiveParticipantID: i64p(7)}
	e := &Effect{Kind: KindStandard, Name: "x"}
	require.NoError(t, ApplyDurationSpec(e, enc, DurationSpec{Type: DurationEndOfTurn}))
	assert.Equal(t, DurationEndOfTurn, e.Duration)
	require.NotNil(t, e.ExpiresOnParticipantID)
	assert.Equal(t, int64(7), *e.ExpiresOnParticipantID)
	require.NotNil(t, e.ExpiresOnRound)
	assert.Equal(t, 5, *e.ExpiresOnRound, "anchored to the caster's turn next round")
}

func TestApplyDurationSpec_EndOfTurnNeedsActiveParticipant(t *testing.T) {
	enc := &Encounter{RoundNumber: 1}
	e := &Effect{Kind: KindStandard, Name: "x"}
	err := ApplyDurationSpec(e, enc, DurationSpec{Type: DurationEndOfTurn})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, e.Duration, "failed application leaves the effect untouched")
}

func TestApplyDurationSpec_Time(t *testing.T) {
	enc := &Encounter{RoundNumber: 1}
	e := &Effect{Kind: KindStandard, Name: "x"}
	require.NoError(t, ApplyDurationSpec(e, enc, DurationSpec{Type: DurationTime, TimeAmount: 30, TimeUnit: "seconds"}))
	require.NotNil(t, e.DurationRounds)
	assert.Equal(t, 5, *e.DurationRounds)

	zero := &Effect{Kind: KindStandard, Name: "x"}
	err := ApplyDurationSpec(zero, enc, DurationSpec{Type: DurationTime, TimeAmount: 0})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestApplyDurationSpec_NoneReservedForDeathSaves(t *testing.T) {
	enc := &Encounter{RoundNumber: 1}

	standard := &Effect{Kind: KindStandard, Name: "x"}
	var verr *ValidationError
	require.ErrorAs(t, ApplyDurationSpec(standard, enc, DurationSpec{Type: DurationNone}), &verr)

	saves := &Effect{Kind: KindDeathSave, Name: "Death Saves"}
	require.NoError(t, ApplyDurationSpec(saves, enc, DurationSpec{Type: DurationNone}))
	assert.Equal(t, DurationNone, saves.Duration)
}

func TestEffectValidate(t *testing.T) {
	con := SaveCon
	valid := &Effect{Kind: KindStandard, Name: "Poisoned", Duration: DurationEndOfRound, ExpiresOnRound: ip(1), SaveAbility: &con}
	assert.NoError(t, valid.Validate())

	var verr *ValidationError

	missing := &Effect{Kind: KindStandard, Duration: DurationTime}
	require.ErrorAs(t, missing.Validate(), &verr)
	assert.Len(t, verr.Problems, 2, "collects name and duration_rounds problems together")

	badSave := SaveAbility("luck")
	invalid := &Effect{Kind: KindStandard, Name: "x", Duration: DurationEndOfRound, ExpiresOnRound: ip(1), SaveAbility: &badSave}
	require.ErrorAs(t, invalid.Validate(), &verr)
}

func TestEffectValidate_SkippedOnceEnded(t *testing.T) {
	e := &Effect{Kind: KindStandard, Duration: DurationTime, DurationRounds: ip(0)}
	now := e.CreatedAt
	e.EndedAt = &now
	assert.NoError(t, e.Validate(), "ending bypasses validation")
}

// Property-based tests

func TestPropertyRoundsForRoundsUp(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		seconds := rapid.IntRange(1, 600).Draw(t, "seconds")
		spec := DurationSpec{Type: DurationTime, TimeAmount: seconds, TimeUnit: "seconds"}
		rounds := spec.RoundsFor()
		assert.GreaterOrEqual(t, rounds*6, seconds, "never shorter than narrated")
		assert.Less(t, (rounds-1)*6, seconds, "never a full spare round")
	})
}
