package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/visionai/drscreen/internal/config"
	"github.com/visionai/drscreen/internal/domain/account"
	"github.com/visionai/drscreen/internal/domain/encounter"
	"github.com/visionai/drscreen/internal/domain/screening"
	"github.com/visionai/drscreen/internal/platform/auth"
	"github.com/visionai/drscreen/internal/platform/classifier"
	"github.com/visionai/drscreen/internal/platform/db"
	"github.com/visionai/drscreen/internal/platform/middleware"
)

const version = "0.1.0"

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		l := newLogger(nil)
		l.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.UsesDevSigningKey() {
		logger.Warn().Msg("JWT_SIGNING_KEY not set, using the development signing key")
	}

	ctx := context.Background()
	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open storage")
	}
	defer st.Close()
	logger.Info().Str("artifact_root", st.store.Root()).Msg("connected to database")

	issuer, err := auth.NewIssuer([]byte(cfg.JWTSigningKey), cfg.JWTIssuer, cfg.TokenTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create token issuer")
	}
	revoked := auth.NewRevocationList(time.Minute)
	defer revoked.Close()

	clf := loadClassifier(ctx, cfg, logger)

	accounts := account.NewService(st.accounts, issuer, revoked, logger.With().Str("component", "account").Logger())
	screeningLog := logger.With().Str("component", "screening").Logger()
	e := newServer(cfg, logger, routes{
		accounts:   account.NewHandler(accounts),
		encounters: encounter.NewHandler(st.encounters),
		screening: screening.NewHandler(
			screening.NewWorkflow(st.encounters, accounts, clf, st.compiler, st.store, screeningLog),
			screening.NewRetriever(st.encounters, st.store),
			screening.NewRegenerator(st.encounters, accounts, st.compiler, st.store, screeningLog),
		),
		db:  st.pool,
		jwt: issuer.Config(revoked),
	})

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
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
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// loadClassifier never fails: when the label map or model cannot be
// loaded the server still starts and submissions answer 503.
func loadClassifier(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *classifier.Classifier {
	log := logger.With().Str("component", "classifier").Logger()

	labels, err := classifier.LoadLabelMap(cfg.ClassIndicesPath)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.ClassIndicesPath).Msg("failed to load class indices")
		return classifier.Unavailable(err)
	}
	if len(cfg.ClassSeverityOrder) > 0 {
		if err := labels.CheckSeverityOrder(cfg.ClassSeverityOrder); err != nil {
			log.Error().Err(err).Strs("labels", labels.Labels()).Msg("class indices do not follow CLASS_SEVERITY_ORDER")
			return classifier.Unavailable(err)
		}
	} else {
		log.Warn().Strs("labels", labels.Labels()).Msg("CLASS_SEVERITY_ORDER not set, assuming class indices are ordered by severity")
	}

	model, err := classifier.NewHTTPModel(classifier.HTTPOptions{
		BaseURL: cfg.ClassifierURL,
		Model:   cfg.ClassifierModel,
		Timeout: cfg.ClassifierTimeout,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to configure model client")
		return classifier.Unavailable(err)
	}
	clf, err := classifier.New(model, labels, classifier.WithInputSize(cfg.ClassifierInputSize))
	if err != nil {
		log.Error().Err(err).Msg("failed to create classifier")
		return classifier.Unavailable(err)
	}
	// The model server may come up after us; predictions are retried per request.
	if err := model.Ready(ctx); err != nil {
		log.Warn().Err(err).Str("url", cfg.ClassifierURL).Msg("model server not ready")
	} else {
		log.Info().Str("model", cfg.ClassifierModel).Int("classes", labels.Len()).Msg("classifier ready")
	}
	return clf
}

type routes struct {
	accounts   *account.Handler
	encounters *encounter.Handler
	screening  *screening.Handler
	db         db.Pinger
	jwt        auth.JWTConfig
}

func newServer(cfg *config.Config, logger zerolog.Logger, r routes) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost},
		AllowHeaders:  []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
		ExposeHeaders: []string{echo.HeaderContentDisposition, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.MaxUploadSize))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	if r.db != nil {
		e.GET("/health/db", db.HealthHandler(r.db))
	}

	public := e.Group("/api/v1")
	r.accounts.RegisterPublicRoutes(public, middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.LoginRate,
		BurstSize:         cfg.LoginBurst,
		IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
	}))

	api := e.Group("/api/v1", auth.JWTMiddleware(r.jwt))
	r.accounts.RegisterRoutes(api)
	r.encounters.RegisterRoutes(api)
	r.screening.RegisterRoutes(api, middleware.Audit(logger.With().Str("component", "audit").Logger()))

	return e
}
