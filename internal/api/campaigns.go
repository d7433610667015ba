package api

import (
	"net/http"
	"sort"

	"github.com/croftbawn/wartable/internal/game/encounter"
	"github.com/croftbawn/wartable/internal/storage/postgres"
)

type campaignResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func campaignJSON(c *postgres.Campaign) campaignResponse {
	return campaignResponse{ID: c.ID, Name: c.Name}
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	c, err := s.campaigns.Create(r.Context(), body.Name)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, campaignJSON(c))
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	cs, err := s.campaigns.List(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	out := make([]campaignResponse, 0, len(cs))
	for _, c := range cs {
		out = append(out, campaignJSON(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "campaignID")
	if !ok {
		badRequest(w, "invalid campaign id")
		return
	}
	c, err := s.campaigns.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, campaignJSON(c))
}

type characterResponse struct {
	ID            int64   `json:"id"`
	CampaignID    int64   `json:"campaign_id"`
	Name          string  `json:"name"`
	PC            bool    `json:"pc"`
	Temporary     bool    `json:"temporary"`
	AvatarURL     *string `json:"avatar_url"`
	InitiativeMod int     `json:"initiative_mod"`
}

func characterJSON(c *postgres.Character) characterResponse {
	return characterResponse{
		ID:            c.ID,
		CampaignID:    c.CampaignID,
		Name:          c.Name,
		PC:            c.PC,
		Temporary:     c.Temporary,
		AvatarURL:     c.AvatarURL,
		InitiativeMod: c.InitiativeMod,
	}
}

func (s *Server) handleCreateCharacter(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := pathID(r, "campaignID")
	if !ok {
		badRequest(w, "invalid campaign id")
		return
	}
	var body struct {
		Name          string  `json:"name"`
		PC            bool    `json:"pc"`
		Temporary     bool    `json:"temporary"`
		AvatarURL     *string `json:"avatar_url"`
		InitiativeMod int     `json:"initiative_mod"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if _, err := s.campaigns.GetByID(r.Context(), campaignID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	c, err := s.characters.Create(r.Context(), &postgres.Character{
		CampaignID:    campaignID,
		Name:          body.Name,
		PC:            body.PC,
		Temporary:     body.Temporary,
		AvatarURL:     body.AvatarURL,
		InitiativeMod: body.InitiativeMod,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, characterJSON(c))
}

// handleUpdateCharacter edits name, avatar, or initiative modifier; absent
// fields keep their stored values.
func (s *Server) handleUpdateCharacter(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := pathID(r, "campaignID")
	if !ok {
		badRequest(w, "invalid campaign id")
		return
	}
	characterID, ok := pathID(r, "characterID")
	if !ok {
		badRequest(w, "invalid character id")
		return
	}
	var body struct {
		Name          *string `json:"name"`
		AvatarURL     *string `json:"avatar_url"`
		InitiativeMod *int    `json:"initiative_mod"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	c, err := s.characters.GetByID(r.Context(), characterID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if c.CampaignID != campaignID {
		writeError(w, s.logger, postgres.ErrCharacterNotFound)
		return
	}
	if body.Name != nil {
		c.Name = *body.Name
	}
	if body.AvatarURL != nil {
		c.AvatarURL = body.AvatarURL
	}
	if body.InitiativeMod != nil {
		c.InitiativeMod = *body.InitiativeMod
	}
	if err := s.characters.Update(r.Context(), c); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, characterJSON(c))
}

func (s *Server) handleListCharacters(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := pathID(r, "campaignID")
	if !ok {
		badRequest(w, "invalid campaign id")
		return
	}
	cs, err := s.characters.ListByCampaign(r.Context(), campaignID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	out := make([]characterResponse, 0, len(cs))
	for _, c := range cs {
		out = append(out, characterJSON(c))
	}
	writeJSON(w, http.StatusOK, out)
}

type encounterResponse struct {
	ID                  int64  `json:"id"`
	CampaignID          int64  `json:"campaign_id"`
	Status              string `json:"status"`
	Round               int    `json:"round"`
	ActiveParticipantID *int64 `json:"active_participant_id"`
}

func encounterJSON(e *encounter.Encounter) encounterResponse {
	return encounterResponse{
		ID:                  e.ID,
		CampaignID:          e.CampaignID,
		Status:              string(e.Status),
		Round:               e.RoundNumber,
		ActiveParticipantID: e.ActiveParticipantID,
	}
}

func (s *Server) handleCreateEncounter(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := pathID(r, "campaignID")
	if !ok {
		badRequest(w, "invalid campaign id")
		return
	}
	e, err := s.encounters.Create(r.Context(), campaignID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, encounterJSON(e))
}

func (s *Server) handleListEncounters(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := pathID(r, "campaignID")
	if !ok {
		badRequest(w, "invalid campaign id")
		return
	}
	es, err := s.encounters.ListByCampaign(r.Context(), campaignID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	out := make([]encounterResponse, 0, len(es))
	for _, e := range es {
		out = append(out, encounterJSON(e))
	}
	writeJSON(w, http.StatusOK, out)
}

type presetResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Note          string `json:"note"`
	Kind          string `json:"kind"`
	SaveAbility   string `json:"save_ability,omitempty"`
	DefaultTiming string `json:"default_timing,omitempty"`
	HPDelta       int    `json:"hp_delta"`
}

func (s *Server) handleListPresets(w http.ResponseWriter, _ *http.Request) {
	presets := s.presets.All()
	sort.Slice(presets, func(i, j int) bool { return presets[i].ID < presets[j].ID })
	out := make([]presetResponse, 0, len(presets))
	for _, p := range presets {
		out = append(out, presetResponse{
			ID:            p.ID,
			Name:          p.Name,
			Note:          p.Note,
			Kind:          string(p.EffectKind()),
			SaveAbility:   p.SaveAbility,
			DefaultTiming: p.DefaultTiming,
			HPDelta:       p.HPDelta,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
