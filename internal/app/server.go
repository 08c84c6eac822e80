package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/markdave123-py/ToolSuite/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/ToolSuite/internal/api/middlewares"
	"github.com/markdave123-py/ToolSuite/internal/config"
)

// Extraction of a converted PDF can take most of a minute.
const requestTimeout = 120 * time.Second

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, svcs *Services, logger *zap.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           NewRouter(cfg, svcs),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func NewRouter(cfg *config.Config, svcs *Services) http.Handler {
	authHandler := handlers.NewAuthHandler(svcs.Users)
	docHandler := handlers.NewDocumentHandler(svcs.Documents, cfg.MaxUploadBytes)
	exportHandler := handlers.NewExportHandler(svcs.Exports)
	stubHandler := handlers.NewPayStubHandler(svcs.PayStubs)
	billingHandler := handlers.NewBillingHandler(svcs.Billing)
	googleHandler := handlers.NewGoogleHandler(svcs.Google, cfg.AppURL)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api", func(api chi.Router) {
		// public endpoints
		api.Post("/signup", authHandler.Signup)
		api.Post("/login", authHandler.Login)
		api.Post("/billing/webhook", billingHandler.Webhook)
		api.Get("/google/oauth/callback", googleHandler.Callback)

		// protected endpoints
		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWTMiddleware(cfg.JWTSecret))

			protected.Get("/me", authHandler.Me)

			protected.Route("/documents", func(d chi.Router) {
				d.Post("/", docHandler.Upload)
				d.Get("/", docHandler.List)
				d.Post("/trash/empty", docHandler.EmptyTrash)
				d.Get("/{id}", docHandler.Get)
				d.Patch("/{id}", docHandler.UpdateFields)
				d.Delete("/{id}", docHandler.Delete)
				d.Post("/{id}/extract", docHandler.Extract)
				d.Post("/{id}/retry", docHandler.Retry)
				d.Post("/{id}/archive", docHandler.Archive)
				d.Post("/{id}/unarchive", docHandler.Unarchive)
				d.Post("/{id}/trash", docHandler.Trash)
				d.Post("/{id}/restore", docHandler.Restore)
			})

			protected.Route("/exports", func(e chi.Router) {
				e.Post("/", exportHandler.Export)
				e.Get("/", exportHandler.ListBatches)
				e.Get("/{id}", exportHandler.GetBatch)
				e.Post("/{id}/reopen", exportHandler.Reopen)
				e.Post("/{id}/unarchive", exportHandler.Unarchive)
			})

			protected.Route("/paystubs", func(p chi.Router) {
				p.Post("/", stubHandler.Create)
				p.Get("/", stubHandler.List)
				p.Get("/ytd", stubHandler.YTD)
				p.Get("/{id}", stubHandler.Get)
				p.Put("/{id}", stubHandler.Update)
				p.Delete("/{id}", stubHandler.Delete)
				p.Post("/{id}/pdf", stubHandler.GeneratePDF)
				p.Get("/{id}/pdf", stubHandler.PDFURL)
			})

			protected.Get("/billing/subscription", billingHandler.Subscription)
			protected.Get("/billing/access/{tool}", billingHandler.Access)
			protected.Post("/billing/checkout", billingHandler.Checkout)

			protected.Get("/google/oauth/start", googleHandler.Start)
			protected.Get("/google/status", googleHandler.Status)
		})
	})

	return r
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
