package http

import (
	"net/http"

	"nudge/internal/config"
	"nudge/internal/dispatch"
	"nudge/internal/http/handler"
	mw "nudge/internal/http/middleware"
	"nudge/internal/identity"
	"nudge/internal/prefs"
	"nudge/internal/schedule"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

func NewRouter(cfg config.Config, db *gorm.DB, jwtSvc *identity.JWT) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	schedSvc := &schedule.Service{DB: db, Prefs: &prefs.Resolver{DB: db}}
	dispatchRepo := &dispatch.Repo{DB: db}

	sh := &handler.ScheduleHandler{Svc: schedSvc, Log: dispatchRepo}
	rh := &handler.ReceiptHandler{Log: dispatchRepo}

	r.Route("/schedules", func(r chi.Router) {
		r.Use(identity.Require(jwtSvc))

		r.Post("/", sh.Upsert)
		r.Get("/", sh.List)
		r.Get("/{id}", sh.Get)
		r.Patch("/{id}", sh.SetStatus)
		r.Get("/{id}/history", sh.History)
	})

	r.With(identity.Require(jwtSvc)).Post("/receipts", rh.MarkRead)

	return r
}
