package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi"
	chi_middleware "github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	api_v1_deployments "github.com/postqode/agentdeploy/pkg/api/v1/deployments"
	api_v1_platforms "github.com/postqode/agentdeploy/pkg/api/v1/platforms"
	"github.com/postqode/agentdeploy/pkg/middleware"
	"github.com/postqode/agentdeploy/pkg/orchestrator"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Stopping or deleting a deployment mid-flight waits for the attempt to unwind.
var requestTimeout = time.Minute

type Config struct {
	Orchestrator orchestrator.Interface
	MetricsPath  string
	// Authenticator identifies the caller. Requests are rejected when it is nil.
	Authenticator func(http.Handler) http.Handler
}

func New(cfg Config) chi.Router {
	deploymentsHandler := &api_v1_deployments.Handler{
		Orchestrator: cfg.Orchestrator,
	}

	platformsHandler := &api_v1_platforms.Handler{
		Orchestrator: cfg.Orchestrator,
	}

	authenticator := cfg.Authenticator
	if authenticator == nil {
		log.Error("Refusing to serve the deployment API without an authenticator; configure --auth.jwks-url or --auth.hmac-secret")
		authenticator = func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			})
		}
	}

	// Base settings for all requests
	router := chi.NewRouter()
	router.Use(
		middleware.RequestLogger(),
		middleware.Prometheus,
		chi_middleware.StripSlashes,
	)

	// Mount /metrics and health endpoints with no authentication
	router.Get(cfg.MetricsPath, promhttp.Handler().ServeHTTP)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(
			render.SetContentType(render.ContentTypeJSON),
			chi_middleware.Timeout(requestTimeout),
			authenticator,
		)

		r.Route("/deployments", func(r chi.Router) {
			r.Post("/", deploymentsHandler.Submit)
			r.Get("/", deploymentsHandler.List)
			r.Get("/summary", deploymentsHandler.Summary)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", deploymentsHandler.Get)
				r.Delete("/", deploymentsHandler.Delete)
				r.Get("/progress", deploymentsHandler.Progress)
				r.Get("/status", deploymentsHandler.Status)
				r.Get("/logs", deploymentsHandler.Logs)
				r.Post("/start", deploymentsHandler.Start)
				r.Post("/stop", deploymentsHandler.Stop)
				r.Post("/invocations", deploymentsHandler.RecordInvocation)
			})
		})

		r.Route("/platforms", func(r chi.Router) {
			r.Get("/", platformsHandler.List)
			r.Get("/{platform}/schema", platformsHandler.Schema)
			r.Post("/{platform}/validate", platformsHandler.Validate)
		})
	})

	return router
}
