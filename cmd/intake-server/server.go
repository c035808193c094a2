package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/jbp/intake/internal/config"
	"github.com/jbp/intake/internal/domain/registration"
	"github.com/jbp/intake/internal/platform/auth"
	"github.com/jbp/intake/internal/platform/blobstore"
	"github.com/jbp/intake/internal/platform/db"
	"github.com/jbp/intake/internal/platform/events"
	"github.com/jbp/intake/internal/platform/middleware"
	"github.com/jbp/intake/internal/platform/ocr"
)

func runServer() error {
	// Logger
	logger := newLogger(os.Getenv("ENV"))

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	loc, _ := cfg.Location()

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Collaborators
	publisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up event publisher")
	}
	defer publisher.Close()

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up upload store")
	}

	svc := registration.NewService(registration.NewStorePG(pool), registration.ServiceConfig{
		MaxAttempts: cfg.AllocationMaxAttempts,
		Location:    loc,
		Publisher:   publisher,
		Logger:      logger,
	})
	handler := registration.NewHandler(svc, newRecognizer(cfg), blobs, logger)

	e := newRouter(cfg, logger, handler, db.ReadyHandler(pool))

	logger.Info().
		Str("timezone", loc.String()).
		Str("ocr", cfg.OCREngine).
		Str("uploads", cfg.UploadStore).
		Str("events", cfg.EventsSink).
		Msg("registration service configured")

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// newRouter builds the echo instance. Health and readiness probes are public;
// everything else under /api requires authentication.
func newRouter(cfg *config.Config, logger zerolog.Logger, h *registration.Handler, ready echo.HandlerFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.IPExtractor = newIPExtractor(cfg)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.UploadLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	h.RegisterHealthRoutes(e)
	if ready != nil {
		e.GET("/api/ready", ready)
	}

	api := e.Group("/api", newAuthMiddleware(cfg))

	// Rate limiting applies to the routes that create data.
	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}
	h.RegisterRoutes(api, middleware.RateLimit(rateLimitCfg))

	return e
}

// newIPExtractor decides which address identifies the client for rate
// limiting and logs. X-Forwarded-For is only read from TRUSTED_PROXIES.
func newIPExtractor(cfg *config.Config) echo.IPExtractor {
	nets, _ := cfg.TrustedProxyNets()
	if len(nets) == 0 {
		return echo.ExtractIPDirect()
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, n := range nets {
		opts = append(opts, echo.TrustIPRange(n))
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

func newAuthMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	var jwtMW echo.MiddlewareFunc
	if key := cfg.SigningKey(); key != nil {
		jwtMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: key,
			Skipper:    auth.AuthSkipper,
		})
	}
	if cfg.IsDev() {
		return auth.DevAuthMiddleware(jwtMW)
	}
	return jwtMW
}

func newRecognizer(cfg *config.Config) ocr.Recognizer {
	switch cfg.OCREngine {
	case "tesseract":
		return ocr.NewTesseract(cfg.TesseractPath)
	case "gemini":
		return ocr.NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel)
	}
	return ocr.Disabled{}
}

// newBlobStore returns nil when card images are not retained.
func newBlobStore(ctx context.Context, cfg *config.Config) (blobstore.BlobStore, error) {
	switch cfg.UploadStore {
	case "memory":
		return blobstore.NewInMemoryBlobStore(), nil
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return blobstore.NewS3Store(s3.NewFromConfig(awsCfg), cfg.UploadBucket, "id-cards/"), nil
	}
	return nil, nil
}

func newPublisher(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (events.Publisher, error) {
	switch cfg.EventsSink {
	case "log":
		return events.NewLogPublisher(logger), nil
	case "kafka":
		return events.NewKafkaPublisher(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)), nil
	case "sqs":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		pub, err := events.NewSQSPublisher(ctx, sqs.NewFromConfig(awsCfg), cfg.SQSQueueName)
		if err != nil {
			return nil, err
		}
		return pub, nil
	}
	return events.Nop{}, nil
}
