package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"hairgen/internal/hairgen"
	"hairgen/internal/http/handlers"
	httpapi "hairgen/internal/http/httpapi"
	"hairgen/internal/infra"
	"hairgen/internal/infra/geoip"
	"hairgen/internal/middleware"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}

	replicate := hairgen.NewReplicateClient(hairgen.ReplicateOptions{
		BaseURL:    cfg.ReplicateBaseURL,
		APIToken:   cfg.ReplicateAPIToken,
		Model:      cfg.ReplicateModel,
		Version:    cfg.ReplicateVersion,
		HTTPClient: httpClient,
		Logger:     logger,
	})
	promptEdit := hairgen.NewPromptEditClient(hairgen.PromptEditOptions{
		BaseURL:    cfg.PromptEditBaseURL,
		APIKey:     cfg.PromptEditAPIKey,
		Model:      cfg.PromptEditModel,
		HTTPClient: httpClient,
		Logger:     logger,
	})

	orch := hairgen.New(hairgen.Options{
		Schema:         hairgen.NewSchemaCache(replicate, cfg.SchemaMaxAge, logger),
		PresetProvider: replicate,
		PromptProvider: promptEdit,
		Classifier:     hairgen.NewClassifier(cfg.ReplicateAPIToken, cfg.PromptEditAPIKey),
		Defaults: hairgen.Defaults{
			Gender:    cfg.DefaultGender,
			HairColor: cfg.DefaultHairColor,
		},
		Logger: logger,
	})

	var lookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip unavailable, locale falls back to headers")
	} else if resolver != nil {
		lookup = resolver.CountryCode
	}

	app := handlers.NewApp(orch, logger)
	router := httpapi.NewRouter(app, logger, cfg.DefaultLocale, lookup)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
