package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/marathon-draft/internal/ws"
)

func SetupRoutes(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	h := &handlers{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(d.Log))

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(d.Drafts, d.Sessions, d.AllowedOrigins, d.Log))

	r.Route("/api", func(r chi.Router) {
		r.Get("/athletes", h.Athletes)

		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions/{kind}", h.GetSession)
		r.Delete("/sessions/{kind}", h.ClearSession)

		r.Post("/draft/open", h.OpenDraft)

		r.Post("/commissioner/login", h.CommissionerLogin)
		r.Group(func(r chi.Router) {
			r.Use(h.RequireCommissioner)
			r.Put("/commissioner/roster-lock", h.SetRosterLock)
			r.Post("/commissioner/results/refresh", h.RefreshResults)
			r.Get("/commissioner/invite.png", h.InviteQR)
		})
	})
	return r
}

func urlParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
