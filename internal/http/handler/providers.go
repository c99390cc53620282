package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"roadcall/internal/dispatch"
	"roadcall/internal/geo"
	"roadcall/internal/provider"
)

type ProviderHandler struct {
	Svc      *dispatch.Service
	Presence provider.PresenceWriter
	Log      zerolog.Logger
	Now      func() time.Time
}

// CancelJob releases the caller's assignment. The caller is excluded from
// the job for good and a new round starts at once.
func (h *ProviderHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCancel(r)
	if !ok {
		badRequest(w, "bad json")
		return
	}
	out, err := h.Svc.ProviderCancel(r.Context(), userID(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeResp(out))
}

type presenceReq struct {
	IsOnline bool     `json:"is_online"`
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
}

func (h *ProviderHandler) UpdatePresence(w http.ResponseWriter, r *http.Request) {
	var req presenceReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "bad json")
		return
	}
	if (req.Lat == nil) != (req.Lng == nil) {
		badRequest(w, "lat and lng must be sent together")
		return
	}

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	p := provider.Presence{IsOnline: req.IsOnline, At: now()}
	if req.Lat != nil {
		loc := geo.Point{Lat: *req.Lat, Lng: *req.Lng}
		if !loc.Valid() {
			badRequest(w, "invalid coordinates")
			return
		}
		p.Location = &loc
	}

	if err := h.Presence.UpdatePresence(r.Context(), userID(r), p); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
