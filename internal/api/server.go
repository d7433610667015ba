// Package api exposes the encounter tracker over a JSON HTTP interface.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/croftbawn/wartable/internal/config"
	"github.com/croftbawn/wartable/internal/engine"
	"github.com/croftbawn/wartable/internal/game/encounter"
	"github.com/croftbawn/wartable/internal/storage/postgres"
)

// Server is the HTTP API surface. It satisfies the lifecycle Service
// interface: Start blocks until Stop drains and closes the listener.
type Server struct {
	cfg        config.HTTPConfig
	logger     *zap.Logger
	engine     *engine.Engine
	campaigns  *postgres.CampaignRepository
	characters *postgres.CharacterRepository
	encounters *postgres.EncounterRepository
	presets    *encounter.PresetRegistry

	httpServer *http.Server
}

// NewServer wires the API over its collaborators.
//
// Precondition: All collaborators must be non-nil.
func NewServer(
	cfg config.HTTPConfig,
	logger *zap.Logger,
	eng *engine.Engine,
	campaigns *postgres.CampaignRepository,
	characters *postgres.CharacterRepository,
	encounters *postgres.EncounterRepository,
	presets *encounter.PresetRegistry,
) *Server {
	s := &Server{
		cfg:        cfg,
		logger:     logger,
		engine:     eng,
		campaigns:  campaigns,
		characters: characters,
		encounters: encounters,
		presets:    presets,
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      withRequestID(withAccessLog(logger, s.routes())),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the fully wired handler, for tests driving the API with
// httptest instead of a real listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /presets", s.handleListPresets)

	mux.HandleFunc("POST /campaigns", s.handleCreateCampaign)
	mux.HandleFunc("GET /campaigns", s.handleListCampaigns)
	mux.HandleFunc("GET /campaigns/{campaignID}", s.handleGetCampaign)
	mux.HandleFunc("POST /campaigns/{campaignID}/characters", s.handleCreateCharacter)
	mux.HandleFunc("GET /campaigns/{campaignID}/characters", s.handleListCharacters)
	mux.HandleFunc("PATCH /campaigns/{campaignID}/characters/{characterID}", s.handleUpdateCharacter)

	mux.HandleFunc("POST /campaigns/{campaignID}/encounters", s.handleCreateEncounter)
	mux.HandleFunc("GET /campaigns/{campaignID}/encounters", s.handleListEncounters)

	enc := "/campaigns/{campaignID}/encounters/{encounterID}"
	mux.HandleFunc("GET "+enc+"/state", s.handleState)
	mux.HandleFunc("POST "+enc+"/advance", s.handleAdvance)
	mux.HandleFunc("POST "+enc+"/targets/{targetID}/resolve", s.handleResolve)
	mux.HandleFunc("PATCH "+enc+"/rolls", s.handleSubmitRolls)
	mux.HandleFunc("POST "+enc+"/combatants", s.handleAddCombatant)
	mux.HandleFunc("PATCH "+enc+"/participants/{participantID}", s.handleSetParticipantState)
	mux.HandleFunc("DELETE "+enc+"/participants/{participantID}", s.handleRemoveParticipant)
	mux.HandleFunc("POST "+enc+"/participants/{participantID}/restore", s.handleRestoreParticipant)
	mux.HandleFunc("POST "+enc+"/participants/{participantID}/death-saves", s.handleStartDeathSaves)
	mux.HandleFunc("POST "+enc+"/effects", s.handleCreateEffect)
	mux.HandleFunc("GET "+enc+"/effects", s.handleListEffects)
	mux.HandleFunc("DELETE "+enc+"/effects/{effectID}", s.handleEndEffect)
	mux.HandleFunc("POST "+enc+"/end", s.handleEndEncounter)
	mux.HandleFunc("POST "+enc+"/restore", s.handleRestoreEncounter)

	return mux
}

// Start begins serving and blocks until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("http api listening", zap.String("addr", s.cfg.Addr()))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown incomplete", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// pathID parses one numeric path segment.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id, err == nil && id > 0
}

// scopedEncounter resolves the {campaignID}/{encounterID} pair, writing the
// error response itself on failure.
func (s *Server) scopedEncounter(w http.ResponseWriter, r *http.Request) (*encounter.Encounter, bool) {
	campaignID, ok := pathID(r, "campaignID")
	if !ok {
		badRequest(w, "invalid campaign id")
		return nil, false
	}
	encounterID, ok := pathID(r, "encounterID")
	if !ok {
		badRequest(w, "invalid encounter id")
		return nil, false
	}
	enc, err := s.encounters.GetByID(r.Context(), campaignID, encounterID)
	if err != nil {
		writeError(w, s.logger, err)
		return nil, false
	}
	return enc, true
}
