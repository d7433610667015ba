package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/croftbawn/wartable/internal/engine"
	"github.com/croftbawn/wartable/internal/game/encounter"
	"github.com/croftbawn/wartable/internal/storage/postgres"
)

// handleState serves the read-only snapshot. Activation readiness is
// re-checked first so a fully rolled setup encounter goes live on the next
// view without a dedicated call. A contended activation is skipped rather
// than failing the read.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	enc, ok := s.scopedEncounter(w, r)
	if !ok {
		return
	}
	if err := s.engine.ActivateIfReady(r.Context(), enc.ID); err != nil && !errors.Is(err, engine.ErrContention) {
		writeError(w, s.logger, err)
		return
	}
	snap, err := s.engine.Snapshot(r.Context(), enc.ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// advanceResponse pairs the advancement outcome with a fresh snapshot so
// clients never need a follow-up read after mutating.
type advanceResponse struct {
	Status    engine.ResultStatus   `json:"status"`
	Interrupt *engine.InterruptInfo `json:"interrupt,omitempty"`
	Snapshot  encounter.Snapshot    `json:"snapshot"`
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	enc, ok := s.scopedEncounter(w, r)
	if !ok {
		return
	}
	result, err := s.engine.AdvanceTurn(r.Context(), enc.ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	snap, err := s.engine.Snapshot(r.Context(), enc.ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, advanceResponse{
		Status:    result.Status,
		Interrupt: result.Interrupt,
		Snapshot:  snap,
	})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	enc, ok := s.scopedEncounter(w, r)
	if !ok {
		return
	}
	targetID, ok := pathID(r, "targetID")
	if !ok {
		badRequest(w, "invalid target id")
		return
	}
	var body struct {
		Result   string `json:"result"`
		Critical bool   `json:"critical"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Result != "passed" && body.Result != "failed" {
		badRequest(w, `result must be "passed" or "failed"`)
		return
	}
	outcome := engine.Outcome{Passed: body.Result == "passed", Critical: body.Critical}
	if err := s.engine.ResolveInterrupt(r.Context(), enc.ID, targetID, outcome); err != nil {
		writeError(w, s.logger, err)
		return
	}
	snap, err := s.engine.Snapshot(r.Context(), enc.ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSubmitRolls(w http.ResponseWriter, r *http.Request) {
	enc, ok := s.scopedEncounter(w, r)
	if !ok {
		return
	}
	var body struct {
		Rolls []struct {
			ParticipantID int64 `json:"participant_id"`
			Roll          int   `json:"roll"`
		} `json:"rolls"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	rolls := make(map[int64]int, len(body.Rolls))
	for _, e := range body.Rolls {
		rolls[e.ParticipantID] = e.Roll
	}
	if err := s.engine.SubmitRolls(r.Context(), enc.ID, rolls); err != nil {
		writeError(w, s.logger, err)
		return
	}
	snap, err := s.engine.Snapshot(r.Context(), enc.ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleAddCombatant joins a character mid-setup or mid-combat. A temporary
// NPC can be created inline by supplying a name instead of a character id.
func (s *Server) handleAddCombatant(w http.ResponseWriter, r *http.Request) {
	enc, ok := s.scopedEncounter(w, r)
	if !ok {
		return
	}
	var body struct {
		CharacterID   *int64  `json:"character_id"`
		Name          string  `json:"name"`
		InitiativeMod *int    `json:"initiative_mod"`
		AvatarURL     *string `json:"avatar_url"`
		Roll          *int    `json:"roll"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	var characterID int64
	var initiativeMod int
	switch {
	case body.CharacterID != nil:
		c, err := s.characters.GetByID(r.Context(), *body.CharacterID)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		if c.CampaignID != enc.CampaignID {
			writeError(w, s.logger, engine.ErrParticipantNotFound)
			return
		}
		characterID = c.ID
		initiativeMod = c.InitiativeMod
		if body.InitiativeMod != nil {
			initiativeMod = *body.InitiativeMod
		}
	case body.Name != "":
		if body.InitiativeMod != nil {
			initiativeMod = *body.InitiativeMod
		}
		c, err := s.characters.Create(r.Context(), &postgres.Character{
			CampaignID:    enc.CampaignID,
			Name:          body.Name,
			Temporary:     true,
			AvatarURL:     body.AvatarURL,
			InitiativeMod: initiativeMod,
		})
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		characterID = c.ID
	default:
		badRequest(w, "provide character_id or a name for a temporary combatant")
		return
	}

	p, err := s.engine.AddCombatant(r.Context(), enc.ID, characterID, initiativeMod, body.Roll)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, participantJSON(p))
}

type participantResponse struct {
	ID              int64   `json:"id"`
	CharacterID     int64   `json:"character_id"`
	Name            string  `json:"name"`
	Kind            string  `json:"kind"`
	InitiativeRoll  *int    `json:"initiative_roll"`
	InitiativeMod   int     `json:"initiative_mod"`
	InitiativeTotal *int    `json:"initiative_total"`
	State           string  `json:"state"`
	AddedInRound    *int    `json:"added_in_round"`
	AvatarURL       *string `json:"avatar_url"`
}

func participantJSON(p *encounter.Participant) participantResponse {
	return participantResponse{
		ID:              p.ID,
		CharacterID:     p.CharacterID,
		Name:            p.Name,
		Kind:            p.Kind(),
		InitiativeRoll:  p.InitiativeRoll,
		InitiativeMod:   p.InitiativeMod,
		InitiativeTotal: p.InitiativeTotal,
		State:           string(p.State),
		AddedInRound:    p.AddedInRound,
		AvatarURL:       p.AvatarURL,
	}
}

func (s *Server) handleSetParticipantState(w http.ResponseWriter, r *http.Request) {
	enc, ok := s.scopedEncounter(w, r)
	if !ok {
		return
	}
	participantID, ok := pathID(r, "participantID")
	if !ok {
		badRequest(w, "invalid participant id")
		return
	}
	var body struct {
		State string `json:"state"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	err := s.engine.SetParticipantState(r.Context(), enc.ID, participantID, encounter.ParticipantState(body.State))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleRemoveParticipant(w http.ResponseWriter, r *http.Request) {
	enc, ok := s.scopedEncounter(w, r)
	if !ok {
		return
	}
	participantID, ok := pathID(r, "participantID")
	if !ok {
		badRequest(w, "invalid participant id")
		return
	}
	if err := s.engine.RemoveParticipant(r.Context(), enc.ID, participantID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestoreParticipant(w http.ResponseWriter, r *http.Request) {
	enc, ok := s.scopedEncounter(w, r)
	if !ok {
		return
	}
	participantID, ok := pathID(r, "participantID")
	if !ok {
		badRequest(w, "invalid participant id")
		return
	}
	if err := s.engine.RestoreParticipant(r.Context(), enc.ID, participantID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}

func (s *Server) handleStartDeathSaves(w http.ResponseWriter, r *http.Request) {
	enc, ok := s.scopedEncounter(w, r)
	if !ok {
		return
	}
	participantID, ok := pathID(r, "participantID")
	if !ok {
		badRequest(w, "invalid participant id")
		return
	}
	eff, err := s.engine.StartDeathSaves(r.Context(), enc.ID, participantID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, effectJSON(eff))
}

type effectResponse struct {
	ID             int64                  `json:"id"`
	Kind           string                 `json:"kind"`
	Name           string                 `json:"name"`
	Note           string                 `json:"note,omitempty"`
	Duration       string                 `json:"duration"`
	DurationRounds *int                   `json:"duration_rounds,omitempty"`
	ExpiresOnRound *int                   `json:"expires_on_round,omitempty"`
	SaveAbility    *string                `json:"save_ability"`
	HPDelta        int                    `json:"hp_delta"`
	EndedAt        *time.Time             `json:"ended_at,omitempty"`
	Targets        []effectTargetResponse `json:"targets"`
}

type effectTargetResponse struct {
	ID            int64  `json:"id"`
	ParticipantID int64  `json:"participant_id"`
	Timing        string `json:"timing"`
	Active        bool   `json:"active"`
}

func effectJSON(e *encounter.Effect) effectResponse {
	var save *string
	if e.SaveAbility != nil {
		v := string(*e.SaveAbility)
		save = &v
	}
	out := effectResponse{
		ID:             e.ID,
		Kind:           string(e.Kind),
		Name:           e.Name,
		Note:           e.Note,
		Duration:       string(e.Duration),
		DurationRounds: e.DurationRounds,
		ExpiresOnRound: e.ExpiresOnRound,
		SaveAbility:    save,
		HPDelta:        e.HPDelta,
		EndedAt:        e.EndedAt,
		Targets:        []effectTargetResponse{},
	}
	for _, t := range e.Targets {
		out.Targets = append(out.Targets, effectTargetResponse{
			ID:            t.ID,
			ParticipantID: t.ParticipantID,
			Timing:        string(t.Timing),
			Active:        t.IsActive(),
		})
	}
	return out
}

// handleCreateEffect applies a new effect. Presets fill in name, kind, save
// ability, and note; explicit body fields win over preset defaults.
func (s *Server) handleCreateEffect(w http.ResponseWriter, r *http.Request) {
	enc, ok := s.scopedEncounter(w, r)
	if !ok {
		return
	}
	var body struct {
		PresetID    string `json:"preset_id"`
		Name        string `json:"name"`
		Note        string `json:"note"`
		SaveAbility string `json:"save_ability"`
		HPDelta     int    `json:"hp_delta"`
		Duration    struct {
			Type       string `json:"type"`
			TimeAmount int    `json:"time_amount"`
			TimeUnit   string `json:"time_unit"`
		} `json:"duration"`
		Targets []struct {
			ParticipantID int64  `json:"participant_id"`
			Timing        string `json:"timing"`
		} `json:"targets"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	params := engine.CreateEffectParams{
		Name:    body.Name,
		Note:    body.Note,
		Kind:    encounter.KindStandard,
		HPDelta: body.HPDelta,
		Duration: encounter.DurationSpec{
			Type:       encounter.DurationType(body.Duration.Type),
			TimeAmount: body.Duration.TimeAmount,
			TimeUnit:   body.Duration.TimeUnit,
		},
	}
	defaultTiming := ""
	if body.PresetID != "" {
		preset, found := s.presets.Get(body.PresetID)
		if !found {
			badRequest(w, "unknown effect preset")
			return
		}
		params.Kind = preset.EffectKind()
		defaultTiming = preset.DefaultTiming
		if params.Name == "" {
			params.Name = preset.Name
		}
		if params.Note == "" {
			params.Note = preset.Note
		}
		if params.HPDelta == 0 {
			params.HPDelta = preset.HPDelta
		}
		if body.SaveAbility == "" {
			body.SaveAbility = preset.SaveAbility
		}
	}
	if body.SaveAbility != "" {
		a := encounter.SaveAbility(body.SaveAbility)
		params.SaveAbility = &a
	}
	for _, t := range body.Targets {
		timing := t.Timing
		if timing == "" {
			timing = defaultTiming
		}
		params.Targets = append(params.Targets, engine.TargetSpec{
			ParticipantID: t.ParticipantID,
			Timing:        encounter.TriggerTiming(timing),
		})
	}

	eff, err := s.engine.CreateEffect(r.Context(), enc.ID, params)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, effectJSON(eff))
}

func (s *Server) handleListEffects(w http.ResponseWriter, r *http.Request) {
	enc, ok := s.scopedEncounter(w, r)
	if !ok {
		return
	}
	effects, err := s.engine.ActiveEffects(r.Context(), enc.ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	out := make([]effectResponse, 0, len(effects))
	for _, e := range effects {
		out = append(out, effectJSON(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEndEffect(w http.ResponseWriter, r *http.Request) {
	enc, ok := s.scopedEncounter(w, r)
	if !ok {
		return
	}
	effectID, ok := pathID(r, "effectID")
	if !ok {
		badRequest(w, "invalid effect id")
		return
	}
	if err := s.engine.EndEffect(r.Context(), enc.ID, effectID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEndEncounter(w http.ResponseWriter, r *http.Request) {
	enc, ok := s.scopedEncounter(w, r)
	if !ok {
		return
	}
	if err := s.engine.EndEncounter(r.Context(), enc.ID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

func (s *Server) handleRestoreEncounter(w http.ResponseWriter, r *http.Request) {
	enc, ok := s.scopedEncounter(w, r)
	if !ok {
		return
	}
	if err := s.engine.RestoreEncounter(r.Context(), enc.ID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}
