package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"roadcall/internal/auth"
	"roadcall/internal/config"
	"roadcall/internal/dispatch"
	"roadcall/internal/http/handler"
	mw "roadcall/internal/http/middleware"
	"roadcall/internal/provider"
)

type Deps struct {
	Config   config.Config
	Dispatch *dispatch.Service
	Users    auth.Users
	Presence provider.PresenceWriter
	JWT      *auth.JWT
	Gatherer prometheus.Gatherer
	Log      zerolog.Logger
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.AccessLog(d.Log))
	r.Use(chimw.Recoverer)

	r.Use(mw.CORS(d.Config.CORSAllowedOrigins, d.Config.CORSAllowCredentials))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	ah := &handler.AuthHandler{Users: d.Users, JWT: d.JWT, Log: d.Log}
	r.Post("/auth/register", ah.Register)
	r.Post("/auth/login", ah.Login)

	r.With(auth.RequireAuth(d.JWT)).Get("/me", ah.Me)

	customer := auth.RequireRole(auth.RoleCustomer)
	providers := auth.RequireRole(auth.RoleTowTruck, auth.RoleMechanic)

	jh := &handler.JobHandler{Svc: d.Dispatch, Log: d.Log}
	r.Route("/jobs", func(r chi.Router) {
		r.Use(auth.RequireAuth(d.JWT))

		r.With(customer).Post("/", jh.Create)
		r.With(customer).Get("/", jh.List)
		r.With(providers).Get("/available", jh.Available)

		r.Get("/{id}", jh.Get)
		r.Patch("/{id}/status", jh.UpdateStatus)
		r.With(customer).Post("/{id}/dispatch", jh.Dispatch)
		r.With(customer).Patch("/{id}/cancel", jh.Cancel)
		r.With(providers).Patch("/{id}/accept", jh.Accept)
		r.With(providers).Patch("/{id}/reject", jh.Reject)
	})

	ph := &handler.ProviderHandler{Svc: d.Dispatch, Presence: d.Presence, Log: d.Log}
	r.Route("/providers", func(r chi.Router) {
		r.Use(auth.RequireAuth(d.JWT))
		r.Use(providers)

		r.Patch("/jobs/{id}/cancel", ph.CancelJob)
		r.Patch("/me/presence", ph.UpdatePresence)
	})

	return r
}
