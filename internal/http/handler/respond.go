package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"roadcall/internal/auth"
	"roadcall/internal/job"
	"roadcall/internal/provider"
)

type errorBody struct {
	Error         string `json:"error"`
	Field         string `json:"field,omitempty"`
	CurrentStatus string `json:"current_status,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors to HTTP responses. Anything unrecognised is
// logged and reported as a 500.
func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	var ve *job.ValidationError
	var ite *job.IllegalTransitionError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ve.Error(), Field: ve.Field})
	case errors.As(err, &ite):
		writeJSON(w, http.StatusConflict, errorBody{Error: ite.Error(), CurrentStatus: string(ite.Current)})
	case errors.Is(err, job.ErrNoProviders):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error()})
	case errors.Is(err, job.ErrNotFound), errors.Is(err, provider.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, job.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error()})
	case errors.Is(err, job.ErrAssignmentConflict),
		errors.Is(err, job.ErrNotOffered),
		errors.Is(err, job.ErrNotAssigned),
		errors.Is(err, auth.ErrEmailTaken):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	default:
		log.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "server error"})
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// actor maps the caller's token identity onto a state machine actor.
func actor(r *http.Request) (job.Actor, bool) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return job.Actor{}, false
	}
	a := job.Actor{ID: id.UserID}
	switch {
	case id.Role == auth.RoleCustomer:
		a.Kind = job.ActorCustomer
	case id.Role.IsProvider():
		a.Kind = job.ActorProvider
	case id.Role == auth.RoleAdmin:
		a.Kind = job.ActorAdmin
	default:
		return job.Actor{}, false
	}
	return a, true
}

func userID(r *http.Request) string {
	id, _ := auth.IdentityFromContext(r.Context())
	return id.UserID
}
