package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/repassist-platform/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/repassist-platform/internal/http/middleware"
	"github.com/wolfman30/repassist-platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	AssistHandler      *handlers.AssistHandler
	AdminHandler       *handlers.AdminHandler
	WebSocketHandler   http.HandlerFunc
	MetricsHandler     http.Handler
	AdminAuthSecret    string
	CORSAllowedOrigins []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}
	if cfg.WebSocketHandler != nil {
		r.Get("/ws", cfg.WebSocketHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.AssistHandler != nil {
			r.Post("/conversations", cfg.AssistHandler.CreateConversation)
			r.Get("/conversations/{conversationID}", cfg.AssistHandler.GetConversation)
			r.Post("/conversations/{conversationID}/messages", cfg.AssistHandler.AppendMessage)
			r.Post("/conversations/{conversationID}/assist", cfg.AssistHandler.TriggerRun)
			r.Delete("/conversations/{conversationID}/assist", cfg.AssistHandler.CancelRun)
			r.Get("/runs/{runID}", cfg.AssistHandler.GetRun)
			r.Post("/resolutions/{resolutionID}/review", cfg.AssistHandler.ReviewResolution)
		}

		if cfg.AdminHandler != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
				r.Post("/knowledge", cfg.AdminHandler.IngestKnowledge)
				r.Post("/runs/{runID}/archive", cfg.AdminHandler.ArchiveRun)
			})
		}
	})

	return r
}
