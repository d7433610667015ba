package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/croftbawn/wartable/internal/engine"
	"github.com/croftbawn/wartable/internal/game/encounter"
	"github.com/croftbawn/wartable/internal/storage/postgres"
)

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
	// Details lists individual validation problems when present.
	Details []string `json:"details,omitempty"`
	// Retryable marks transient failures the client should retry.
	Retryable bool `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto the HTTP error taxonomy: unknown
// references are 404, state conflicts are 409, bad input is 422, and lock
// contention is a retryable 503.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var verr *encounter.ValidationError
	switch {
	case errors.Is(err, engine.ErrEncounterNotFound),
		errors.Is(err, engine.ErrParticipantNotFound),
		errors.Is(err, engine.ErrEffectNotFound),
		errors.Is(err, engine.ErrTargetNotFound),
		errors.Is(err, postgres.ErrCampaignNotFound),
		errors.Is(err, postgres.ErrCharacterNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, engine.ErrEncounterEnded),
		errors.Is(err, engine.ErrTargetEnded),
		errors.Is(err, engine.ErrParticipantExists),
		errors.Is(err, engine.ErrDeathSavesActive),
		errors.Is(err, engine.ErrCampaignBusy),
		errors.Is(err, postgres.ErrCharacterNameTaken):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:   "validation failed",
			Details: verr.Problems,
		})
	case errors.Is(err, engine.ErrMissingRolls),
		errors.Is(err, postgres.ErrInvalidCampaign),
		errors.Is(err, postgres.ErrInvalidCharacter):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	case errors.Is(err, engine.ErrContention):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Retryable: true})
	default:
		logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// badRequest reports a malformed request (unparsable body or path segment).
func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, "malformed request body: "+err.Error())
		return false
	}
	return true
}
