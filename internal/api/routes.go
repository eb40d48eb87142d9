package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/scoutware/scanrelay/internal/config"
	"github.com/scoutware/scanrelay/internal/relay"
	"github.com/scoutware/scanrelay/internal/settings"
	"github.com/scoutware/scanrelay/internal/websocket"
	"github.com/scoutware/scanrelay/pkg/logger"
)

// Router is the API router
type Router struct {
	handler    *Handler
	middleware *Middleware
	config     *config.Config
	logger     *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(relayService *relay.Service, settingsService *settings.Service, config *config.Config, logger *logger.Logger, wsServer *websocket.Server) *Router {
	return &Router{
		handler:    NewHandler(relayService, settingsService, wsServer, logger),
		middleware: NewMiddleware(logger),
		config:     config,
		logger:     logger.Named("api-router"),
	}
}

// Routes returns the API routes
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	// Middleware
	router.Use(r.middleware.RequestID)
	router.Use(r.middleware.Logger)
	router.Use(r.middleware.Recoverer)
	router.Use(r.middleware.CORS(r.config.Server.CORSAllowedOrigins))

	// API routes
	router.Route("/api/v1", func(router chi.Router) {
		// Scan routes
		router.Post("/scans", r.handler.IngestScan)
		router.Get("/scans", r.handler.GetAllScans)
		router.Delete("/scans", r.handler.ClearScans)
		router.Post("/scans/retry", r.handler.RetryScans)
		router.Get("/scans/{id}", r.handler.GetScanByID)
		router.Post("/scans/{id}/resend", r.handler.ResendScan)
		router.Patch("/scans/{id}/comment", r.handler.UpdateScanComment)

		// Settings
		router.Get("/settings", r.handler.GetSettings)
		router.Put("/settings", r.handler.UpdateSettings)

		// WebSocket route
		router.Get("/ws", r.handler.HandleWebSocket)

		// Health check
		router.Get("/health", r.handler.GetHealth)
	})

	return router
}
