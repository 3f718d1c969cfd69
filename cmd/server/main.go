// Command server runs the PII-discovery scan engine: it wires Redis,
// the KMIP-backed field-encryption service, the content-platform
// accessor, the remote detection client, and the event/checkpoint/
// counter stores together behind the engine and exposes them over
// the REST/SSE API.
package main

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/api"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/archive"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/audit"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/bus"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/checkpoint"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/config"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/content"
	_ "github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/content/httpplatform"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/counters"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/crypto"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/debug"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/detection"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/engine"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/eventstore"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/extraction"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/metrics"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/middleware"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/orchestrator"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/pconfig"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/redisx"
	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/tracing"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	debug.InitFromLogLevel(os.Getenv("LOG_LEVEL"))
	if debug.Enabled() {
		logger.SetLevel(logrus.DebugLevel)
	}

	cfgPath := os.Getenv("AI_SENTINEL_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.WithError(err).Fatal("server: failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing.Exporter, cfg.Tracing.Endpoint)
	if err != nil {
		logger.WithError(err).Fatal("server: failed to set up tracing")
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.WithError(err).Warn("server: tracing shutdown error")
		}
	}()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Fatal("server: failed to connect to redis")
	}

	cryptoSvc, err := loadCryptoService(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("server: failed to provision the field-encryption key")
	}
	defer cryptoSvc.Zero()

	platformClient, err := content.New(cfg.Content.Platform, cfg.Content.Endpoint)
	if err != nil {
		logger.WithError(err).Fatal("server: failed to construct the content platform client")
	}
	contentAccessor, err := content.NewAccessor(ctx, platformClient, logger, content.RefreshOptions{
		InitialDelay: cfg.Cache.InitialDelay(),
		Interval:     cfg.Cache.Interval(),
	})
	if err != nil {
		logger.WithError(err).Fatal("server: failed to build the content accessor")
	}
	defer contentAccessor.Close()

	detectionClient, err := detection.Dial(ctx, cfg.Detection.Target,
		[]detection.Option{detection.WithLogger(logger)},
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		logger.WithError(err).Fatal("server: failed to dial the detection engine")
	}

	pconfigStore, err := pconfig.Load(cfg.PConfigPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("server: failed to load pii-detection config")
	}
	defer pconfigStore.Close()

	extractionRegistry := extraction.NewRegistry(extraction.QualityThresholds{
		MinLength:         cfg.TextQuality.MinLength,
		MinAlnumRatio:     cfg.TextQuality.MinAlnumRatio,
		MinPrintableRatio: cfg.TextQuality.MinPrintableRatio,
	})
	extractionRegistry.Register(extraction.PlainTextStrategy{})

	eventBus := bus.New(cfg.EventBus.BufferCapacity)
	commitStore := redisx.New(redisClient)
	checkpointStore := checkpoint.New(redisClient)
	eventStore := eventstore.New(redisClient)
	counterStore := counters.New(redisClient)
	orch := orchestrator.New(commitStore, cryptoSvc, eventBus)

	var archiver engine.Archiver
	if cfg.Archive.Enabled {
		a, err := archive.New(archive.Config{
			Provider:  cfg.Archive.Provider,
			Endpoint:  cfg.Archive.Endpoint,
			Region:    cfg.Archive.Region,
			Bucket:    cfg.Archive.Bucket,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
		}, eventStore, logger)
		if err != nil {
			logger.WithError(err).Fatal("server: failed to construct the cold-storage archiver")
		}
		archiver = a
	}

	scanEngine := engine.New(engine.Deps{
		Redis:            redisClient,
		Content:          contentAccessor,
		Extraction:       extractionRegistry,
		Detection:        detectionClient,
		Orchestrator:     orch,
		Checkpoints:      checkpointStore,
		Events:           eventStore,
		Counters:         counterStore,
		PConfig:          pconfigStore,
		Bus:              eventBus,
		Logger:           logger,
		Archiver:         archiver,
		Parallelism:      cfg.Scan.Parallelism,
		DetectionTimeout: cfg.Scan.PiiDetectionTimeout(),
	})
	if err := scanEngine.SweepOrphanedRunning(ctx); err != nil {
		logger.WithError(err).Fatal("server: failed to sweep orphaned RUNNING checkpoints")
	}

	auditLogger := audit.NewLogger(10000, audit.NewBatchSink(&audit.StdoutSink{}, 50, 5*time.Second, 3, time.Second))

	metricsRegistry := metrics.NewMetrics()

	handler := api.NewHandler(api.Config{
		Engine:             scanEngine,
		Bus:                eventBus,
		Checkpoints:        checkpointStore,
		Counters:           counterStore,
		Events:             eventStore,
		Crypto:             cryptoSvc,
		Audit:              auditLogger,
		PConfig:            pconfigStore,
		Logger:             logger,
		Metrics:            metricsRegistry,
		AllowSecretReveal:  cfg.Pii.AllowSecretReveal,
		AuditRetentionDays: cfg.Pii.AuditRetentionDays,
	})

	router := mux.NewRouter()
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("server: graceful shutdown error")
		}
		if err := detectionClient.Close(); err != nil {
			logger.WithError(err).Warn("server: detection client close error")
		}
	}()

	logger.WithField("addr", cfg.Server.Addr).Info("server: listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Fatal("server: fatal error")
	}
}

// loadCryptoService resolves the 256-bit field-encryption KEK, either by
// unwrapping it through the configured KMIP key manager or, when no KMIP
// endpoint is configured, from a hex-encoded development key — never both.
func loadCryptoService(ctx context.Context, cfg *config.Config) (*crypto.Service, error) {
	if cfg.KMIP.Endpoint == "" {
		kek, err := hex.DecodeString(cfg.DevKEKHex)
		if err != nil {
			return nil, fmt.Errorf("decode devKekHex: %w", err)
		}
		return crypto.NewService(kek), nil
	}

	manager, err := crypto.NewCosmianKMIPManager(crypto.CosmianKMIPOptions{
		Endpoint:       cfg.KMIP.Endpoint,
		Keys:           []crypto.KMIPKeyReference{{ID: cfg.KMIP.KeyID, Version: cfg.KMIP.KeyVersion}},
		TLSConfig:      &tls.Config{MinVersion: tls.VersionTLS12},
		Timeout:        time.Duration(cfg.KMIP.TimeoutSeconds) * time.Second,
		DualReadWindow: cfg.KMIP.DualReadWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("construct kmip manager: %w", err)
	}
	defer manager.Close(ctx)

	wrapped, err := hex.DecodeString(cfg.KMIP.WrappedKEKHex)
	if err != nil {
		return nil, fmt.Errorf("decode wrappedKekHex: %w", err)
	}
	kek, err := manager.UnwrapKey(ctx, &crypto.KeyEnvelope{
		KeyID:      cfg.KMIP.KeyID,
		KeyVersion: cfg.KMIP.KeyVersion,
		Ciphertext: wrapped,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("unwrap kek: %w", err)
	}
	return crypto.NewService(kek), nil
}
