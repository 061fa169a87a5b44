package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/shjeon-96/ideatoprd-sub001/internal/api"
	"github.com/shjeon-96/ideatoprd-sub001/internal/auth"
	"github.com/shjeon-96/ideatoprd-sub001/internal/config"
	"github.com/shjeon-96/ideatoprd-sub001/internal/genai"
	"github.com/shjeon-96/ideatoprd-sub001/internal/logging"
	"github.com/shjeon-96/ideatoprd-sub001/internal/service"
	"github.com/shjeon-96/ideatoprd-sub001/internal/store"
)

func main() {
	// Missing .env is fine; real deployments set env vars directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration error")
	}

	logging.Init(cfg.LogLevel, cfg.LogFormat, cfg.Env)

	ledger, err := store.NewPostgres(cfg.DBSource)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to connect to database")
	}
	defer ledger.Close()

	generator := genai.NewClient(cfg.GenerationAPIKey, cfg.GenerationModel, cfg.GenerationBaseURL)
	verifier := auth.NewHTTPVerifier(cfg.AuthIntrospectURL)

	accounts := service.NewAccountService(ledger)
	orch := service.NewOrchestrator(ledger, generator,
		cfg.GenerationCost, cfg.GenerationMaxRetries, cfg.GenerationRetryDelay, cfg.GenerationCallBudget)
	recon := service.NewReconciler(ledger, []byte(cfg.BillingWebhookSecret))
	docs := service.NewDocumentService(ledger)

	handler := api.NewHandler(accounts, orch, recon, docs, verifier)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	handler.Register(r)

	// Authorizations that never resolved (crash, lost client) must not
	// hold credits forever.
	go sweepStaleAuthorizations(orch, cfg.StaleAuthSweep, cfg.StaleAuthMaxAge)

	log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func sweepStaleAuthorizations(orch *service.Orchestrator, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := orch.ExpireStale(ctx, maxAge); err != nil {
			log.Error().Err(err).Msg("stale authorization sweep failed")
		}
		cancel()
	}
}
