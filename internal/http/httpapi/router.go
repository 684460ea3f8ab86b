package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"

	"asyncgen/internal/http/handlers"
	"asyncgen/internal/infra"
	"asyncgen/internal/middleware"
)

type RouterOptions struct {
	Logger infra.Logger
	// TokenAuth enables bearer authentication on /v1/jobs when set.
	TokenAuth          *jwtauth.JWTAuth
	RateLimitPerMinute int
}

func NewRouter(app *handlers.App, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	r.Route("/v1", func(r chi.Router) {
		if opts.TokenAuth != nil {
			r.Use(jwtauth.Verifier(opts.TokenAuth), middleware.Authenticator)
		}
		r.Get("/stats", app.Stats)
		r.Route("/jobs", func(r chi.Router) {
			r.With(middleware.RateLimit(opts.RateLimitPerMinute, time.Minute)).Post("/", app.SubmitJob)
			r.Get("/{job_id}", app.JobStatus)
			r.Post("/{job_id}/resume", app.ResumeJob)
			r.Get("/{job_id}/events", app.JobEvents)
		})
	})

	return r
}
