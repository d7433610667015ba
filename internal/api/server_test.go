package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/croftbawn/wartable/internal/api"
	"github.com/croftbawn/wartable/internal/config"
	"github.com/croftbawn/wartable/internal/engine"
	"github.com/croftbawn/wartable/internal/game/encounter"
	"github.com/croftbawn/wartable/internal/storage/postgres"
	"github.com/croftbawn/wartable/internal/testutil"
)

type apiFixture struct {
	t   *testing.T
	srv *httptest.Server
}

func setupAPI(t *testing.T) *apiFixture {
	t.Helper()
	db := testutil.NewPool(t).DB()
	logger := zap.NewNop()
	eng := engine.New(postgres.NewTxStore(db), logger)

	presets := encounter.NewPresetRegistry()
	presets.Register(&encounter.Preset{
		ID: "poisoned", Name: "Poisoned", SaveAbility: "con", DefaultTiming: "start_of_turn",
	})

	server := api.NewServer(
		config.HTTPConfig{ShutdownTimeout: time.Second},
		logger,
		eng,
		postgres.NewCampaignRepository(db),
		postgres.NewCharacterRepository(db),
		postgres.NewEncounterRepository(db),
		presets,
	)

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return &apiFixture{t: t, srv: srv}
}

// do sends a JSON request and decodes the response body into out when out is
// non-nil, returning the status code.
func (f *apiFixture) do(method, path string, body, out any) int {
	f.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	require.NoError(f.t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(f.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(f.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type stateResponse struct {
	Encounter struct {
		ID                  int64  `json:"id"`
		Status              string `json:"status"`
		Round               int    `json:"round"`
		ActiveParticipantID *int64 `json:"active_participant_id"`
	} `json:"encounter"`
	Participants []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
		Kind string `json:"kind"`
	} `json:"participants"`
	DeadParticipants []struct {
		ID int64 `json:"id"`
	} `json:"dead_participants"`
}

func TestAPI_FullCombatFlow(t *testing.T) {
	f := setupAPI(t)

	var campaign struct {
		ID int64 `json:"id"`
	}
	status := f.do("POST", "/campaigns", map[string]string{"name": "Iron Keep"}, &campaign)
	require.Equal(t, http.StatusCreated, status)

	base := fmt.Sprintf("/campaigns/%d", campaign.ID)
	for _, name := range []string{"Sela", "Zara"} {
		status = f.do("POST", base+"/characters", map[string]any{
			"name": name, "pc": true, "initiative_mod": 1,
		}, nil)
		require.Equal(t, http.StatusCreated, status)
	}

	var enc struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	status = f.do("POST", base+"/encounters", nil, &enc)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "setup", enc.Status)
	encBase := fmt.Sprintf("%s/encounters/%d", base, enc.ID)

	var state stateResponse
	status = f.do("GET", encBase+"/state", nil, &state)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "setup", state.Encounter.Status)
	require.Len(t, state.Participants, 2, "campaign PCs are seeded")

	// Submitting every roll activates the encounter.
	rolls := map[string]any{
		"rolls": []map[string]any{
			{"participant_id": state.Participants[0].ID, "roll": 20},
			{"participant_id": state.Participants[1].ID, "roll": 5},
		},
	}
	status = f.do("PATCH", encBase+"/rolls", rolls, &state)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "active", state.Encounter.Status)
	assert.Equal(t, 1, state.Encounter.Round)
	require.NotNil(t, state.Encounter.ActiveParticipantID)
	secondUp := state.Participants[1].ID

	// Preset-backed effect on the participant acting second.
	var effect struct {
		ID      int64 `json:"id"`
		Targets []struct {
			ID     int64  `json:"id"`
			Timing string `json:"timing"`
		} `json:"targets"`
	}
	status = f.do("POST", encBase+"/effects", map[string]any{
		"preset_id": "poisoned",
		"duration":  map[string]any{"type": "time", "time_amount": 1, "time_unit": "minutes"},
		"targets":   []map[string]any{{"participant_id": secondUp}},
	}, &effect)
	require.Equal(t, http.StatusCreated, status)
	require.Len(t, effect.Targets, 1)
	assert.Equal(t, "start_of_turn", effect.Targets[0].Timing, "preset supplies the default timing")

	var result struct {
		Status    string `json:"status"`
		Interrupt *struct {
			TargetID    int64   `json:"target_id"`
			EffectName  string  `json:"effect_name"`
			SaveAbility *string `json:"save_ability"`
		} `json:"interrupt"`
		Snapshot stateResponse `json:"snapshot"`
	}
	status = f.do("POST", encBase+"/advance", nil, &result)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "interrupt", result.Status)
	require.NotNil(t, result.Interrupt)
	assert.Equal(t, "Poisoned", result.Interrupt.EffectName)
	require.NotNil(t, result.Interrupt.SaveAbility)
	assert.Equal(t, "con", *result.Interrupt.SaveAbility)
	// Mutating calls carry a fresh snapshot in the response.
	assert.Equal(t, "active", result.Snapshot.Encounter.Status)
	require.NotNil(t, result.Snapshot.Encounter.ActiveParticipantID)
	assert.Equal(t, secondUp, *result.Snapshot.Encounter.ActiveParticipantID)

	var resolved stateResponse
	resolvePath := fmt.Sprintf("%s/targets/%d/resolve", encBase, result.Interrupt.TargetID)
	status = f.do("POST", resolvePath, map[string]any{"result": "passed"}, &resolved)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "active", resolved.Encounter.Status)
	assert.Equal(t, 1, resolved.Encounter.Round)

	status = f.do("POST", encBase+"/advance", nil, &result)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", result.Status)
	assert.Equal(t, 2, result.Snapshot.Encounter.Round)

	// Inline temporary combatant joins at the next round.
	var joined struct {
		ID           int64  `json:"id"`
		Kind         string `json:"kind"`
		AddedInRound *int   `json:"added_in_round"`
	}
	status = f.do("POST", encBase+"/combatants", map[string]any{
		"name": "Bandit", "initiative_mod": 0, "roll": 11,
	}, &joined)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "npc", joined.Kind)
	require.NotNil(t, joined.AddedInRound)
	assert.Equal(t, 3, *joined.AddedInRound)

	status = f.do("POST", encBase+"/end", nil, nil)
	require.Equal(t, http.StatusOK, status)

	var envelope struct {
		Error string `json:"error"`
	}
	status = f.do("POST", encBase+"/advance", nil, &envelope)
	assert.Equal(t, http.StatusConflict, status, "an ended encounter refuses mutation")
	assert.NotEmpty(t, envelope.Error)

	status = f.do("POST", encBase+"/restore", nil, nil)
	require.Equal(t, http.StatusOK, status)
	status = f.do("GET", encBase+"/state", nil, &state)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "active", state.Encounter.Status)
}

func TestAPI_ErrorEnvelopes(t *testing.T) {
	f := setupAPI(t)

	var campaign struct {
		ID int64 `json:"id"`
	}
	require.Equal(t, http.StatusCreated, f.do("POST", "/campaigns", map[string]string{"name": "Iron Keep"}, &campaign))
	base := fmt.Sprintf("/campaigns/%d", campaign.ID)

	var envelope struct {
		Error   string   `json:"error"`
		Details []string `json:"details"`
	}

	status := f.do("GET", base+"/encounters/99999999/state", nil, &envelope)
	assert.Equal(t, http.StatusNotFound, status)
	assert.NotEmpty(t, envelope.Error)

	status = f.do("GET", "/campaigns/99999999", nil, &envelope)
	assert.Equal(t, http.StatusNotFound, status)

	status = f.do("POST", base+"/characters", map[string]any{"name": "Ab", "pc": true}, &envelope)
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status = f.do("POST", "/campaigns", map[string]any{"name": "X", "bogus": true}, &envelope)
	assert.Equal(t, http.StatusBadRequest, status, "unknown fields are rejected")

	// Validation problems surface as a detail list.
	var enc struct {
		ID int64 `json:"id"`
	}
	require.Equal(t, http.StatusCreated, f.do("POST", base+"/encounters", nil, &enc))
	status = f.do("POST", fmt.Sprintf("%s/encounters/%d/effects", base, enc.ID), map[string]any{
		"name":     "Poisoned",
		"duration": map[string]any{"type": "end_of_round"},
		"targets":  []map[string]any{},
	}, &envelope)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.NotEmpty(t, envelope.Details)
}

func TestAPI_UpdateCharacter(t *testing.T) {
	f := setupAPI(t)

	var campaign struct {
		ID int64 `json:"id"`
	}
	require.Equal(t, http.StatusCreated, f.do("POST", "/campaigns", map[string]string{"name": "Iron Keep"}, &campaign))
	base := fmt.Sprintf("/campaigns/%d", campaign.ID)

	var created struct {
		ID int64 `json:"id"`
	}
	status := f.do("POST", base+"/characters", map[string]any{
		"name": "Sela", "pc": true, "initiative_mod": 1,
	}, &created)
	require.Equal(t, http.StatusCreated, status)

	var updated struct {
		Name          string  `json:"name"`
		AvatarURL     *string `json:"avatar_url"`
		InitiativeMod int     `json:"initiative_mod"`
	}
	charPath := fmt.Sprintf("%s/characters/%d", base, created.ID)
	status = f.do("PATCH", charPath, map[string]any{
		"name": "Sela the Bold", "initiative_mod": 3,
	}, &updated)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Sela the Bold", updated.Name)
	assert.Equal(t, 3, updated.InitiativeMod)
	assert.Nil(t, updated.AvatarURL, "absent fields keep their stored values")

	var envelope struct {
		Error string `json:"error"`
	}
	status = f.do("PATCH", charPath, map[string]any{"initiative_mod": 16}, &envelope)
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status = f.do("PATCH", base+"/characters/99999999", map[string]any{"name": "Nobody Here"}, &envelope)
	assert.Equal(t, http.StatusNotFound, status)

	// A character from a sibling campaign is invisible on this path.
	var other struct {
		ID int64 `json:"id"`
	}
	require.Equal(t, http.StatusCreated, f.do("POST", "/campaigns", map[string]string{"name": "Sunken Vault"}, &other))
	status = f.do("PATCH", fmt.Sprintf("/campaigns/%d/characters/%d", other.ID, created.ID),
		map[string]any{"name": "Stolen Name"}, &envelope)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_Health(t *testing.T) {
	f := setupAPI(t)
	var body map[string]string
	status := f.do("GET", "/healthz", nil, &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestAPI_Presets(t *testing.T) {
	f := setupAPI(t)
	var presets []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Kind        string `json:"kind"`
		SaveAbility string `json:"save_ability"`
	}
	status := f.do("GET", "/presets", nil, &presets)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, presets, 1)
	assert.Equal(t, "poisoned", presets[0].ID)
	assert.Equal(t, "standard", presets[0].Kind)
	assert.Equal(t, "con", presets[0].SaveAbility)
}
