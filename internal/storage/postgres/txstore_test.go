package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/croftbawn/wartable/internal/engine"
	"github.com/croftbawn/wartable/internal/game/encounter"
	"github.com/croftbawn/wartable/internal/storage/postgres"
	"github.com/croftbawn/wartable/internal/testutil"
)

type txStoreFixture struct {
	pool        *postgres.Pool
	store       *postgres.TxStore
	encounters  *postgres.EncounterRepository
	campaignID  int64
	encounterID int64
	// participants holds the seeded participant rows in ID order.
	participants []*encounter.Participant
}

func setupTxStore(t *testing.T, pcNames ...string) *txStoreFixture {
	t.Helper()
	ctx := context.Background()
	pool := testutil.NewPool(t)
	db := pool.DB()

	campaign, err := postgres.NewCampaignRepository(db).Create(ctx, uniqueName("campaign"))
	require.NoError(t, err)

	chars := postgres.NewCharacterRepository(db)
	for _, name := range pcNames {
		_, err := chars.Create(ctx, &postgres.Character{
			CampaignID: campaign.ID, Name: name, PC: true, InitiativeMod: 1,
		})
		require.NoError(t, err)
	}

	f := &txStoreFixture{
		pool:       pool,
		store:      postgres.NewTxStore(db),
		encounters: postgres.NewEncounterRepository(db),
		campaignID: campaign.ID,
	}
	enc, err := f.encounters.Create(ctx, campaign.ID)
	require.NoError(t, err)
	f.encounterID = enc.ID

	require.NoError(t, f.store.View(ctx, enc.ID, func(ctx context.Context, tx engine.Tx) error {
		f.participants, err = tx.Participants(ctx)
		return err
	}))
	require.Len(t, f.participants, len(pcNames))
	return f
}

func (f *txStoreFixture) update(t *testing.T, fn func(ctx context.Context, tx engine.Tx) error) {
	t.Helper()
	require.NoError(t, f.store.Update(context.Background(), f.encounterID, fn))
}

func (f *txStoreFixture) reload(t *testing.T) *encounter.Encounter {
	t.Helper()
	enc, err := f.encounters.GetByID(context.Background(), f.campaignID, f.encounterID)
	require.NoError(t, err)
	return enc
}

func conSave() *encounter.SaveAbility {
	a := encounter.SaveCon
	return &a
}

func TestTxStore_Update_UnknownEncounter(t *testing.T) {
	f := setupTxStore(t, "Sela")
	err := f.store.Update(context.Background(), 99999999, func(ctx context.Context, tx engine.Tx) error {
		return nil
	})
	assert.ErrorIs(t, err, engine.ErrEncounterNotFound)
}

func TestTxStore_Update_RollsBackOnError(t *testing.T) {
	f := setupTxStore(t, "Sela")
	boom := errors.New("boom")

	err := f.store.Update(context.Background(), f.encounterID, func(ctx context.Context, tx engine.Tx) error {
		if err := tx.SetTurn(ctx, f.participants[0].ID, 5, encounter.StatusActive); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	enc := f.reload(t)
	assert.Equal(t, encounter.StatusSetup, enc.Status, "failed updates leave no trace")
	assert.Equal(t, 1, enc.RoundNumber)
	assert.Nil(t, enc.ActiveParticipantID)
}

func TestTxStore_Update_Contention(t *testing.T) {
	f := setupTxStore(t, "Sela")
	ctx := context.Background()

	// Hold the row lock in a raw transaction so the store's own lock attempt
	// times out.
	blocker, err := f.pool.DB().Begin(ctx)
	require.NoError(t, err)
	defer blocker.Rollback(ctx)
	var id int64
	require.NoError(t, blocker.QueryRow(ctx,
		`SELECT id FROM encounters WHERE id = $1 FOR UPDATE`, f.encounterID,
	).Scan(&id))

	err = f.store.Update(ctx, f.encounterID, func(ctx context.Context, tx engine.Tx) error {
		return nil
	})
	assert.ErrorIs(t, err, engine.ErrContention)
}

func TestTxStore_TurnPointerWrites(t *testing.T) {
	f := setupTxStore(t, "Sela")
	ctx := context.Background()
	pid := f.participants[0].ID

	f.update(t, func(ctx context.Context, tx engine.Tx) error {
		if err := tx.SetTurn(ctx, pid, 3, encounter.StatusActive); err != nil {
			return err
		}
		return tx.SetEffectsTicked(ctx, 3)
	})
	enc := f.reload(t)
	assert.Equal(t, encounter.StatusActive, enc.Status)
	assert.Equal(t, 3, enc.RoundNumber)
	require.NotNil(t, enc.ActiveParticipantID)
	assert.Equal(t, pid, *enc.ActiveParticipantID)
	assert.Equal(t, 3, enc.EffectsTickedRound)

	f.update(t, func(ctx context.Context, tx engine.Tx) error {
		return tx.SetEnded(ctx, &pid)
	})
	enc = f.reload(t)
	assert.Equal(t, encounter.StatusEnded, enc.Status)
	assert.Nil(t, enc.ActiveParticipantID)
	require.NotNil(t, enc.LastActiveParticipantID)
	assert.Equal(t, pid, *enc.LastActiveParticipantID)

	f.update(t, func(ctx context.Context, tx engine.Tx) error {
		return tx.SetRestored(ctx, &pid)
	})
	enc = f.reload(t)
	assert.Equal(t, encounter.StatusActive, enc.Status)
	require.NotNil(t, enc.ActiveParticipantID)
	assert.Equal(t, pid, *enc.ActiveParticipantID)
	assert.Nil(t, enc.LastActiveParticipantID)

	_, err := f.encounters.GetByID(ctx, f.campaignID, f.encounterID)
	require.NoError(t, err)
}

func TestTxStore_EffectRoundTrip(t *testing.T) {
	f := setupTxStore(t, "Sela", "Zara")
	a, b := f.participants[0], f.participants[1]

	var created *encounter.Effect
	f.update(t, func(ctx context.Context, tx engine.Tx) error {
		var err error
		created, err = tx.InsertEffect(ctx, &encounter.Effect{
			Kind:           encounter.KindStandard,
			Name:           "Poisoned",
			Note:           "spider bite",
			Duration:       encounter.DurationTime,
			DurationRounds: intPtr(5),
			SaveAbility:    conSave(),
			HPDelta:        -2,
			Targets: []*encounter.Target{
				{ParticipantID: a.ID, Timing: encounter.TimingStartOfTurn},
				{ParticipantID: b.ID, Timing: encounter.TimingNone},
			},
		})
		return err
	})

	assert.Greater(t, created.ID, int64(0))
	assert.Equal(t, encounter.KindStandard, created.Kind)
	assert.Equal(t, "spider bite", created.Note)
	assert.Equal(t, encounter.DurationTime, created.Duration)
	require.NotNil(t, created.DurationRounds)
	assert.Equal(t, 5, *created.DurationRounds)
	require.NotNil(t, created.SaveAbility)
	assert.Equal(t, encounter.SaveCon, *created.SaveAbility)
	assert.Equal(t, -2, created.HPDelta)
	require.Len(t, created.Targets, 2)
	assert.Equal(t, encounter.TimingStartOfTurn, created.Targets[0].Timing)
	assert.True(t, created.Targets[0].IsActive())

	var effects []*encounter.Effect
	require.NoError(t, f.store.View(context.Background(), f.encounterID, func(ctx context.Context, tx engine.Tx) error {
		var err error
		effects, err = tx.ActiveEffects(ctx)
		return err
	}))
	require.Len(t, effects, 1)
	assert.Equal(t, created.ID, effects[0].ID)
	require.Len(t, effects[0].Targets, 2, "targets load alongside the effect")
}

func TestTxStore_EndEffectCascades(t *testing.T) {
	f := setupTxStore(t, "Sela")
	a := f.participants[0]

	var created *encounter.Effect
	f.update(t, func(ctx context.Context, tx engine.Tx) error {
		var err error
		created, err = tx.InsertEffect(ctx, &encounter.Effect{
			Kind:           encounter.KindStandard,
			Name:           "Burning",
			Duration:       encounter.DurationEndOfRound,
			ExpiresOnRound: intPtr(2),
			Targets:        []*encounter.Target{{ParticipantID: a.ID, Timing: encounter.TimingNone}},
		})
		return err
	})

	f.update(t, func(ctx context.Context, tx engine.Tx) error {
		return tx.EndEffect(ctx, created.ID)
	})

	require.NoError(t, f.store.View(context.Background(), f.encounterID, func(ctx context.Context, tx engine.Tx) error {
		effects, err := tx.ActiveEffects(ctx)
		if err != nil {
			return err
		}
		assert.Empty(t, effects)

		// An ended target must still resolve so stale interrupt resolutions
		// get a precise rejection.
		tgt, eff, err := tx.Target(ctx, created.Targets[0].ID)
		if err != nil {
			return err
		}
		assert.False(t, tgt.IsActive())
		assert.True(t, eff.Ended())
		return nil
	}))

	err := f.store.Update(context.Background(), f.encounterID, func(ctx context.Context, tx engine.Tx) error {
		return tx.EndEffect(ctx, 99999999)
	})
	assert.ErrorIs(t, err, engine.ErrEffectNotFound)
}

func TestTxStore_TargetWritesAndScoping(t *testing.T) {
	f := setupTxStore(t, "Sela")
	ctx := context.Background()
	a := f.participants[0]

	var created *encounter.Effect
	f.update(t, func(ctx context.Context, tx engine.Tx) error {
		var err error
		created, err = tx.InsertEffect(ctx, &encounter.Effect{
			Kind:     encounter.KindDeathSave,
			Name:     "Death Saves",
			Duration: encounter.DurationNone,
			Targets:  []*encounter.Target{{ParticipantID: a.ID, Timing: encounter.TimingStartOfTurn}},
		})
		return err
	})
	targetID := created.Targets[0].ID

	f.update(t, func(ctx context.Context, tx engine.Tx) error {
		if err := tx.MarkTargetPrompted(ctx, targetID, 2); err != nil {
			return err
		}
		return tx.SetDeathSaves(ctx, targetID, 1, 2)
	})

	require.NoError(t, f.store.View(ctx, f.encounterID, func(ctx context.Context, tx engine.Tx) error {
		tgt, _, err := tx.Target(ctx, targetID)
		if err != nil {
			return err
		}
		require.NotNil(t, tgt.LastPromptedRound)
		assert.Equal(t, 2, *tgt.LastPromptedRound)
		assert.Equal(t, 1, tgt.DeathSaveSuccesses)
		assert.Equal(t, 2, tgt.DeathSaveFailures)
		return nil
	}))

	// The target is invisible from a different encounter in the same campaign.
	other, err := f.encounters.Create(ctx, f.campaignID)
	require.NoError(t, err)
	err = f.store.View(ctx, other.ID, func(ctx context.Context, tx engine.Tx) error {
		_, _, err := tx.Target(ctx, targetID)
		return err
	})
	assert.ErrorIs(t, err, engine.ErrTargetNotFound)

	f.update(t, func(ctx context.Context, tx engine.Tx) error {
		return tx.EndTarget(ctx, targetID)
	})
	require.NoError(t, f.store.View(ctx, f.encounterID, func(ctx context.Context, tx engine.Tx) error {
		tgt, _, err := tx.Target(ctx, targetID)
		if err != nil {
			return err
		}
		assert.False(t, tgt.IsActive())
		return nil
	}))
}

func TestTxStore_ParticipantWrites(t *testing.T) {
	f := setupTxStore(t, "Sela", "Zara")
	ctx := context.Background()
	a := f.participants[0]

	f.update(t, func(ctx context.Context, tx engine.Tx) error {
		if err := tx.SetInitiative(ctx, a.ID, 17, 18); err != nil {
			return err
		}
		return tx.SetParticipantState(ctx, a.ID, encounter.StateDead)
	})

	require.NoError(t, f.store.View(ctx, f.encounterID, func(ctx context.Context, tx engine.Tx) error {
		ps, err := tx.Participants(ctx)
		if err != nil {
			return err
		}
		require.Len(t, ps, 2)
		require.NotNil(t, ps[0].InitiativeRoll)
		assert.Equal(t, 17, *ps[0].InitiativeRoll)
		require.NotNil(t, ps[0].InitiativeTotal)
		assert.Equal(t, 18, *ps[0].InitiativeTotal)
		assert.Equal(t, encounter.StateDead, ps[0].State)
		return nil
	}))

	err := f.store.Update(ctx, f.encounterID, func(ctx context.Context, tx engine.Tx) error {
		return tx.SetInitiative(ctx, 99999999, 10, 10)
	})
	assert.ErrorIs(t, err, engine.ErrParticipantNotFound)

	// The seeded character cannot join the same encounter twice.
	err = f.store.Update(ctx, f.encounterID, func(ctx context.Context, tx engine.Tx) error {
		_, err := tx.InsertParticipant(ctx, &encounter.Participant{
			CharacterID: a.CharacterID, State: encounter.StateAlive,
		})
		return err
	})
	assert.ErrorIs(t, err, engine.ErrParticipantExists)

	f.update(t, func(ctx context.Context, tx engine.Tx) error {
		return tx.DeleteParticipant(ctx, a.ID)
	})
	require.NoError(t, f.store.View(ctx, f.encounterID, func(ctx context.Context, tx engine.Tx) error {
		ps, err := tx.Participants(ctx)
		if err != nil {
			return err
		}
		assert.Len(t, ps, 1)
		return nil
	}))
}

func TestTxStore_HasOtherActiveEncounter(t *testing.T) {
	f := setupTxStore(t, "Sela")
	ctx := context.Background()

	check := func() bool {
		var busy bool
		require.NoError(t, f.store.View(ctx, f.encounterID, func(ctx context.Context, tx engine.Tx) error {
			var err error
			busy, err = tx.HasOtherActiveEncounter(ctx)
			return err
		}))
		return busy
	}
	assert.False(t, check())

	other, err := f.encounters.Create(ctx, f.campaignID)
	require.NoError(t, err)
	assert.False(t, check(), "a setup encounter does not block")

	require.NoError(t, f.store.Update(ctx, other.ID, func(ctx context.Context, tx engine.Tx) error {
		ps, err := tx.Participants(ctx)
		if err != nil {
			return err
		}
		return tx.SetTurn(ctx, ps[0].ID, 1, encounter.StatusActive)
	}))
	assert.True(t, check())
}

// TestEngineOverTxStore drives one full combat beat through the real storage
// layer: roll submission, activation, an interrupting save, and resolution.
func TestEngineOverTxStore(t *testing.T) {
	f := setupTxStore(t, "Sela", "Zara")
	ctx := context.Background()
	eng := engine.New(f.store, zap.NewNop())

	rolls := map[int64]int{
		f.participants[0].ID: 20,
		f.participants[1].ID: 5,
	}
	require.NoError(t, eng.SubmitRolls(ctx, f.encounterID, rolls))

	enc := f.reload(t)
	assert.Equal(t, encounter.StatusActive, enc.Status)
	require.NotNil(t, enc.ActiveParticipantID)
	assert.Equal(t, f.participants[0].ID, *enc.ActiveParticipantID)

	_, err := eng.CreateEffect(ctx, f.encounterID, engine.CreateEffectParams{
		Name:        "Poisoned",
		SaveAbility: conSave(),
		Duration:    encounter.DurationSpec{Type: encounter.DurationTime, TimeAmount: 60, TimeUnit: "seconds"},
		Targets: []engine.TargetSpec{
			{ParticipantID: f.participants[1].ID, Timing: encounter.TimingStartOfTurn},
		},
	})
	require.NoError(t, err)

	res, err := eng.AdvanceTurn(ctx, f.encounterID)
	require.NoError(t, err)
	require.Equal(t, engine.StatusInterrupt, res.Status)
	assert.Equal(t, f.participants[1].ID, res.Interrupt.ParticipantID)

	require.NoError(t, eng.ResolveInterrupt(ctx, f.encounterID, res.Interrupt.TargetID, engine.Outcome{Passed: true}))

	res, err = eng.AdvanceTurn(ctx, f.encounterID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusOK, res.Status)

	snap, err := eng.Snapshot(ctx, f.encounterID)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Encounter.Round)
	require.Len(t, snap.Participants, 2)
	assert.Empty(t, snap.Participants[1].ActiveEffects, "the passed save cleared the badge")
}

func intPtr(v int) *int { return &v }
