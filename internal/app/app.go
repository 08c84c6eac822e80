package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/ToolSuite/internal/config"
	"github.com/markdave123-py/ToolSuite/internal/core"
	db "github.com/markdave123-py/ToolSuite/internal/core/database"
	"github.com/markdave123-py/ToolSuite/internal/core/llm"
	objectclient "github.com/markdave123-py/ToolSuite/internal/core/object-client"
	"github.com/markdave123-py/ToolSuite/internal/core/pdfconvert"
	"github.com/markdave123-py/ToolSuite/internal/core/sheets"
	"github.com/markdave123-py/ToolSuite/internal/services"
)

// Services is everything the HTTP layer calls into.
type Services struct {
	Users     *services.UserService
	Documents *services.DocumentService
	Exports   *services.ExportService
	PayStubs  *services.PayStubService
	Billing   *services.BillingService
	Google    *services.GoogleService
}

type App struct {
	DBClient db.DbClient
	Vision   *llm.GeminiVision
	Services *Services
	Server   *Server
	logger   *zap.Logger
}

func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET not set")
	}

	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("database initialized and ready")

	objClient, err := objectclient.NewS3Client(appCtx, cfg, logger)
	if err != nil {
		_ = dbClient.Close()
		return nil, err
	}
	logger.Info("object client initialized and ready", zap.String("bucket", cfg.BucketName))

	vision, err := llm.NewGeminiVision(appCtx, cfg.AIAPIKey, cfg.VisionModel)
	if err != nil {
		_ = dbClient.Close()
		return nil, fmt.Errorf("couldn't initialize the vision model, %w", err)
	}

	// PDFs fail extraction with a clear message when no converter is configured.
	var converter core.PDFConverter
	if cfg.CloudConvertAPIKey != "" {
		cc, err := pdfconvert.NewCloudConvert(cfg.CloudConvertAPIKey, cfg.PDFConvertTimeout, logger)
		if err != nil {
			_ = dbClient.Close()
			_ = vision.Close()
			return nil, err
		}
		converter = cc
	} else {
		logger.Warn("CLOUDCONVERT_API_KEY not set, PDF uploads cannot be extracted")
	}

	oauth := sheets.OAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURI)
	var sheetProvider core.SpreadsheetProvider
	if cfg.GoogleClientID != "" {
		sheetProvider = sheets.NewProvider(oauth, dbClient, logger)
	} else {
		logger.Warn("GOOGLE_CLIENT_ID not set, sheets export disabled")
	}

	var gateway services.StripeGateway
	if cfg.StripeSecretKey != "" {
		gateway = services.NewStripeGateway(cfg.StripeSecretKey)
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, checkout disabled")
	}

	billing := services.NewBillingService(dbClient, gateway, cfg.StripeWebhookSecret, cfg.StripePriceBundle, cfg.AppURL, logger)
	svcs := &Services{
		Users:     services.NewUserService(dbClient, cfg.JWTSecret),
		Documents: services.NewDocumentService(dbClient, objClient, vision, converter, cfg.BucketName, cfg.MaxUploadBytes, logger),
		Exports:   services.NewExportService(dbClient, sheetProvider, logger),
		PayStubs:  services.NewPayStubService(dbClient, objClient, billing, services.GoFPDFRenderer{}, cfg.BucketName, logger),
		Billing:   billing,
		Google:    services.NewGoogleService(oauth, dbClient, cfg.JWTSecret, logger),
	}

	return &App{
		DBClient: dbClient,
		Vision:   vision,
		Services: svcs,
		Server:   NewServer(cfg, svcs, logger),
		logger:   logger,
	}, nil
}

func (a *App) Close() {
	if a.Vision != nil {
		_ = a.Vision.Close()
	}
	if a.DBClient != nil {
		if err := a.DBClient.Close(); err != nil {
			a.logger.Warn("database close failed", zap.Error(err))
		}
	}
}
