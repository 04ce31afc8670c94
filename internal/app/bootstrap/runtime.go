package bootstrap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/repassist-platform/internal/archive"
	appconfig "github.com/wolfman30/repassist-platform/internal/config"
	"github.com/wolfman30/repassist-platform/internal/events"
	"github.com/wolfman30/repassist-platform/internal/llm"
	"github.com/wolfman30/repassist-platform/internal/notify"
	"github.com/wolfman30/repassist-platform/internal/observability/metrics"
	"github.com/wolfman30/repassist-platform/internal/source"
	"github.com/wolfman30/repassist-platform/internal/store"
	"github.com/wolfman30/repassist-platform/internal/workflow"
	"github.com/wolfman30/repassist-platform/pkg/logging"
)

// Runtime bundles the wired core so the API server and the queue worker
// share one construction path.
type Runtime struct {
	Config      *appconfig.Config
	Logger      *logging.Logger
	Pool        *pgxpool.Pool
	Store       *store.PostgresStore
	Redis       *redis.Client
	Broadcaster *events.Broadcaster
	Hub         *events.Hub
	Engine      *workflow.Engine
	Metrics     *metrics.WorkflowMetrics
	Semantic    *source.SemanticAdapter
	Exporter    *archive.Exporter
}

// Build wires the engine and its collaborators from configuration. The
// startup sweep for abandoned runs happens here, before the engine can accept
// work.
func Build(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger, reg prometheus.Registerer) (*Runtime, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("bootstrap: DATABASE_URL is required")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	pgStore := store.NewPostgresStore(pool, logger)

	swept, err := pgStore.MarkAbandonedRunsAborted(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: abandoned-run sweep: %w", err)
	}
	if swept > 0 {
		logger.Warn("marked abandoned runs aborted", "count", swept)
	}

	workflowMetrics := metrics.NewWorkflowMetrics(reg)
	broadcaster := events.NewBroadcaster(logger,
		events.WithDropHook(func(string) { workflowMetrics.ObserveEventDropped() }),
	)
	hub := events.NewHub(broadcaster, logger)

	bedrockClient := bedrockruntime.NewFromConfig(awsCfg)
	var modelClient llm.Client = llm.NewBedrockClient(bedrockClient)
	if cfg.GeminiAPIKey != "" {
		gemini, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			logger.Warn("gemini fallback unavailable", "error", err)
		} else {
			modelClient = llm.NewFallbackClient(modelClient, gemini, logger)
		}
	}

	var redisClient *redis.Client
	var semantic *source.SemanticAdapter
	if cfg.RedisAddr != "" && cfg.BedrockEmbeddingModelID != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient = redis.NewClient(opts)
		embedder := llm.NewBedrockEmbedder(bedrockClient, cfg.BedrockEmbeddingModelID)
		semantic = source.NewSemanticAdapter(redisClient, embedder, cfg.SemanticIndexName, logger)
	}

	httpClient := &http.Client{Timeout: cfg.SearchDeadline + 2*time.Second}
	registry := source.NewRegistry(
		source.NewFidelityAdapter(httpClient, cfg.PublicSearchBaseURL, logger),
		source.NewMyGPSAdapter(httpClient, cfg.KnowledgeAPIURL, cfg.KnowledgeAPIKey, logger),
	)
	if semantic != nil {
		registry.Register(semantic)
	}

	var notifier workflow.Notifier
	if cfg.EscalationsEnabled && cfg.SupervisorEmail != "" {
		sender := emailSender(cfg, awsCfg, logger)
		if sender != nil {
			notifier = notify.NewEscalator(sender, cfg.SupervisorEmail, logger)
		} else {
			logger.Warn("escalations enabled but no email sender configured")
		}
	}

	engine := workflow.NewEngine(workflow.Deps{
		Detector:   workflow.NewPhraseDetector(cfg.TriggerPhrases),
		Formulator: workflow.NewQueryFormulator(modelClient, cfg.BedrockModelID, logger),
		Searcher: workflow.NewSearcher(registry, workflow.SearcherConfig{
			TopK:          cfg.SearchTopK,
			Deadline:      cfg.SearchDeadline,
			SnippetBudget: cfg.SnippetByteBudget,
		}, logger),
		Generator: workflow.NewGenerator(modelClient, cfg.BedrockModelID, cfg.RequireGrounding, logger),
		Evaluator: workflow.NewEvaluator(modelClient, evaluatorModel(cfg), cfg.EvalMinScore, logger),
		Store:     pgStore,
		Sink:      broadcaster,
		Observer: workflow.MultiObserver{
			workflow.OTelObserver{},
			workflow.MetricsObserver{Metrics: workflowMetrics},
		},
		Notifier: notifier,
	}, workflow.Config{
		MaxAttempts:      cfg.MaxAttempts,
		OverallDeadline:  cfg.OverallRunDeadline,
		QueryDeadline:    cfg.QueryStageDeadline,
		GenerateDeadline: cfg.GenerateDeadline,
		EvaluateDeadline: cfg.EvaluateDeadline,
	}, logger)

	var exporter *archive.Exporter
	if cfg.ArchiveBucket != "" {
		exporter = archive.NewExporter(archive.ExporterConfig{
			Store:  pgStore,
			S3:     s3.NewFromConfig(awsCfg),
			Bucket: cfg.ArchiveBucket,
			Logger: logger,
		})
	}

	return &Runtime{
		Config:      cfg,
		Logger:      logger,
		Pool:        pool,
		Store:       pgStore,
		Redis:       redisClient,
		Broadcaster: broadcaster,
		Hub:         hub,
		Engine:      engine,
		Metrics:     workflowMetrics,
		Semantic:    semantic,
		Exporter:    exporter,
	}, nil
}

// Close winds down the engine and releases connections.
func (r *Runtime) Close(ctx context.Context) {
	if err := r.Engine.Shutdown(ctx); err != nil {
		r.Logger.Error("engine shutdown timed out", "error", err)
	}
	if r.Redis != nil {
		_ = r.Redis.Close()
	}
	r.Pool.Close()
}

func evaluatorModel(cfg *appconfig.Config) string {
	if cfg.BedrockEvaluatorModelID != "" {
		return cfg.BedrockEvaluatorModelID
	}
	return cfg.BedrockModelID
}

func emailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	switch cfg.EmailProvider {
	case "sendgrid":
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sender != nil {
			return sender
		}
	default:
		if cfg.SESFromEmail != "" {
			if sender := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
				FromEmail: cfg.SESFromEmail,
			}, logger); sender != nil {
				return sender
			}
		}
	}
	return nil
}
