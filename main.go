package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "mailcore-backend/cmd/api"
	accountdomain "mailcore-backend/internal/account/domain"
	accountRepo "mailcore-backend/internal/account/repository"
	emailDelivery "mailcore-backend/internal/email/delivery"
	emaildomain "mailcore-backend/internal/email/domain"
	emailRepo "mailcore-backend/internal/email/repository"
	"mailcore-backend/internal/email/scheduler"
	emailUsecase "mailcore-backend/internal/email/usecase"
	"mailcore-backend/pkg/ai"
	"mailcore-backend/pkg/chroma"
	"mailcore-backend/pkg/config"
	"mailcore-backend/pkg/crypto"
	"mailcore-backend/pkg/database"
	"mailcore-backend/pkg/gmail"
	"mailcore-backend/pkg/logger"
	"mailcore-backend/pkg/provider"

	"github.com/amikos-tech/chroma-go/pkg/embeddings"
)

func main() {
	// Load configuration
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	// Initialize database
	db, err := database.NewPostgresConnection(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	if err := database.Migrate(db,
		&accountdomain.Account{},
		&emaildomain.EmailAddress{},
		&emaildomain.Thread{},
		&emaildomain.Email{},
		&emaildomain.Attachment{},
		&emaildomain.SyncRun{},
	); err != nil {
		log.WithError(err).Fatal("Failed to migrate database")
	}

	var sealer accountRepo.TokenSealer
	if cfg.EncryptionKey != "" {
		box, err := crypto.NewBox(cfg.EncryptionKey)
		if err != nil {
			log.WithError(err).Fatal("Invalid ENCRYPTION_KEY")
		}
		sealer = box
	} else {
		log.Warn("ENCRYPTION_KEY not set, provider tokens are stored unencrypted")
	}

	// Initialize repositories (dependency injection)
	accountRepository := accountRepo.NewAccountRepository(db, sealer)
	addressRepository := emailRepo.NewAddressRepository(db)
	threadRepository := emailRepo.NewThreadRepository(db)
	emailRepository := emailRepo.NewEmailRepository(db)
	syncRunRepository := emailRepo.NewSyncRunRepository(db)

	// Runtime settings feed the Ollama getters so the settings API can repoint them
	settingsHandler := api.NewSettingsHandler(api.RuntimeConfig{
		OllamaBaseURL:        cfg.OllamaBaseURL,
		OllamaModel:          cfg.OllamaModel,
		OllamaEmbeddingModel: cfg.OllamaEmbeddingModel,
	})
	aiCfg := ai.Config{
		Provider:             ai.ProviderType(cfg.AIProvider),
		GeminiAPIKey:         cfg.GeminiAPIKey,
		GeminiModel:          cfg.GeminiModel,
		GeminiEmbeddingModel: cfg.GeminiEmbeddingModel,
		OllamaBaseURL:        settingsHandler.OllamaBaseURL,
		OllamaModel:          settingsHandler.OllamaModel,
		OllamaEmbeddingModel: settingsHandler.OllamaEmbeddingModel,
	}
	summarizer, err := ai.NewSummarizer(aiCfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize summarizer")
	}
	embedder, err := ai.NewEmbedder(aiCfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize embedder")
	}
	log.WithField("provider", cfg.AIProvider).Info("AI services initialized")
	pipeline := emailUsecase.NewEmbeddingPipeline(summarizer, embedder, log)

	// pgvector answers searches unless Chroma is configured as the backend
	var index emailUsecase.VectorIndex = emailRepo.NewPGVectorIndex(db)
	var mirror emailUsecase.VectorMirror
	if cfg.ChromaURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		// Gemini collections carry their embedding function so Chroma can embed text queries itself
		var ef embeddings.EmbeddingFunction
		if g, ok := embedder.(*ai.GeminiEmbedder); ok {
			ef = g.EmbeddingFunction()
		}
		store, err := chroma.NewVectorStore(ctx, cfg, ef, log)
		cancel()
		if err != nil {
			log.WithError(err).Warn("Failed to initialize Chroma, continuing with pgvector only")
		} else {
			mirror = store
			if cfg.VectorBackend == "chroma" {
				index = store
			}
		}
	}

	embeddingWorker := emailUsecase.NewEmbeddingWorkerService(
		emailRepository, addressRepository, pipeline, mirror,
		cfg.EmbeddingWorkers, cfg.EmbeddingQueueSize, cfg.BackfillBatchSize, log,
	)
	embeddingWorker.Start()

	registry := emailUsecase.NewAddressRegistry(addressRepository, log)
	persistence := emailUsecase.NewPersistence(registry, emailRepository, threadRepository, embeddingWorker, cfg.SyncConcurrency, log)

	providers := map[accountdomain.ProviderKind]emaildomain.SyncProvider{
		accountdomain.ProviderREST:  provider.NewRESTProvider(cfg.ProviderBaseURL, cfg.ProviderTimeout, log),
		accountdomain.ProviderGmail: gmail.NewService(log),
	}
	syncClient := emailUsecase.NewSyncClient(providers, accountRepository, emailUsecase.SyncClientConfig{
		PollInterval:    cfg.SyncPollInterval,
		MaxPollAttempts: cfg.SyncPollMaxAttempts,
		DaysWithin:      cfg.SyncDaysWithin,
		FolderPageSize:  cfg.FolderPageSize,
	}, log)

	// Initialize use cases (dependency injection)
	syncUsecase := emailUsecase.NewSyncService(syncClient, persistence, accountRepository, syncRunRepository, emailUsecase.NewSyncLocker(), log)
	searchUsecase := emailUsecase.NewSearchService(pipeline, index, emailRepository, log)

	syncScheduler := scheduler.NewSyncScheduler(syncUsecase, embeddingWorker, cfg.SyncInterval, log)
	syncScheduler.Start()

	// Initialize HTTP handler
	emailHandler := emailDelivery.NewEmailHandler(syncUsecase, searchUsecase, embeddingWorker, log)
	handler := api.NewHandler(cfg, emailHandler, settingsHandler, map[string]api.HealthCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}, log)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", httpSrv.Addr).Info("Server starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown
	log.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("HTTP shutdown failed")
	}
	syncScheduler.Stop()
	embeddingWorker.Stop()
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
