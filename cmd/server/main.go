package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/croptimal/blend-service/config"
	"github.com/croptimal/blend-service/internal/blend"
	"github.com/croptimal/blend-service/internal/catalog"
	"github.com/croptimal/blend-service/internal/database"
	"github.com/croptimal/blend-service/internal/handlers"
	"github.com/croptimal/blend-service/internal/middleware"
	"github.com/croptimal/blend-service/internal/pricing"
	"github.com/croptimal/blend-service/internal/providers"
	"github.com/croptimal/blend-service/internal/sweepers"
	"github.com/croptimal/blend-service/internal/telemetry"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := initLogger(cfg.Logging)

	logger.Info().Msg("Starting blend service")

	ctx := context.Background()

	telemetryCleanup, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:  cfg.Telemetry.Enabled,
		Endpoint: cfg.Telemetry.Endpoint,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize telemetry")
	}

	cat, err := catalog.LoadFile(cfg.Catalog.Path)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.Catalog.Path).Msg("Failed to load product catalog")
	}
	logger.Info().Int("products", cat.Len()).Msg("Product catalog loaded")

	var store pricing.ObservationStore
	dbURL := config.GetDatabaseURL()
	if dbURL != "" {
		if err := database.Connect(
			ctx,
			dbURL,
			cfg.Database.MaxConnections,
			cfg.Database.MinConnections,
			cfg.Database.MaxConnLifetime,
			cfg.Database.MaxConnIdleTime,
		); err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer database.Close()

		dbStore := database.NewObservationStore(database.Pool())
		if err := dbStore.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to ensure observation schema")
		}
		store = dbStore
		logger.Info().Msg("Database connected")
	} else {
		store = pricing.NewMemStore()
		logger.Warn().Msg("DATABASE_URL not set, using in-memory observation store")
	}

	repo := pricing.NewRepository(store, buildProviders(cfg, logger), cfg.PricingConfig())

	blendCfg := cfg.BlendConfig()
	engine := blend.NewEngine(blendCfg)
	ranker := blend.NewRanker(engine, repo, blendCfg)

	handlers.InitPrices(repo)
	handlers.InitBlend(ranker, cat)

	priceSweeper := sweepers.NewPriceRefreshSweeper(repo, cat, logger, cfg.Pricing.SweepInterval)
	go priceSweeper.Start(ctx)

	if cfg.Logging.Level == "info" || cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	setupMiddleware(router, logger)

	router.GET("/health", handlers.HealthCheck)

	internal := router.Group("/internal")
	internal.Use(middleware.InternalAuthMiddleware())
	internal.Use(middleware.ServiceRateLimitMiddleware(50, 100))
	{
		internal.GET("/health", handlers.HealthCheck)

		blendGroup := internal.Group("/blend")
		{
			blendGroup.POST("/strategies", handlers.RankStrategies)
		}

		prices := internal.Group("/prices")
		{
			prices.POST("/refresh", handlers.RefreshAllPrices)
			prices.GET("/:productCode", handlers.GetPrice)
			prices.POST("/:productCode/refresh", handlers.RefreshPrice)
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")
	priceSweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := telemetryCleanup(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to shutdown telemetry")
	}

	logger.Info().Msg("Server exited")
}

// buildProviders assembles the price provider chain from configuration, in
// fallback priority order.
func buildProviders(cfg *config.Config, logger *zerolog.Logger) []pricing.Provider {
	registry := providers.NewRegistry()

	if cfg.Providers.AgMarket.BaseURL != "" {
		registry.Register(providers.NewAgMarketProvider(providers.AgMarketConfig{
			BaseURL: cfg.Providers.AgMarket.BaseURL,
			APIKey:  cfg.Providers.AgMarket.APIKey,
		}), 10)
	}
	if cfg.Providers.PriceSheet.Source != "" {
		registry.Register(providers.NewPriceSheetProvider(providers.PriceSheetConfig{
			Source:         cfg.Providers.PriceSheet.Source,
			ReloadInterval: cfg.Providers.PriceSheet.ReloadInterval,
		}), 20)
	}
	if cfg.Providers.Static.Enabled {
		registry.Register(providers.NewStaticProvider("static", nil), 30)
	}

	if registry.Len() == 0 {
		logger.Warn().Msg("No price providers configured, serving stored observations only")
	}
	return registry.Providers()
}

func initLogger(cfg config.LoggingConfig) *zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var output io.Writer
	if cfg.Format == "json" {
		output = os.Stdout
	} else {
		output = zerolog.ConsoleWriter{Out: os.Stdout, NoColor: cfg.NoColor}
	}

	logger := zerolog.New(output).Level(level).With().Timestamp().Str("service", "blend-service").Logger()
	return &logger
}

func setupMiddleware(router *gin.Engine, logger *zerolog.Logger) {
	router.Use(func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		end := time.Now()
		latency := end.Sub(start)

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", c.Writer.Status()).
			Dur("latency", latency).
			Str("ip", c.ClientIP()).
			Msg("HTTP request")
	})
}
