package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/ai"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/blob"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/cancel"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/config"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/database"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/logger"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/queue"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/telemetry"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/vector"
	"github.com/DaZeTw/LOL-PaperReader-sub000/services"
)

// Standalone queue consumer for split API/worker deployments. The API
// process embeds the same consumers; run exactly one ingest consumer
// per deployment so documents keep processing FIFO.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	if cfg.TracingEnabled {
		shutdownTracer, err := telemetry.InitTracer("paperreader-worker", cfg.OTLPEndpoint)
		if err != nil {
			logger.Warn("tracing disabled", "error", err)
		} else {
			defer shutdownTracer()
		}
	}
	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to initialize metrics:", err)
	}

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer mongoClient.Disconnect(context.Background())
	stores := database.NewStores(mongoClient, cfg.DBName)

	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	blobs, err := blob.NewStore(cfg)
	if err != nil {
		log.Fatal("Failed to connect to blob store:", err)
	}

	vectors, err := vector.NewIndex(cfg)
	if err != nil {
		log.Fatal("Failed to connect to vector index:", err)
	}
	defer vectors.Close()

	embedder, err := ai.GetEmbedder(cfg)
	if err != nil {
		log.Fatal("Failed to initialize embedder:", err)
	}

	generators := make(map[string]ai.Generator)
	if cfg.GeminiAPIKey != "" {
		if gem, err := ai.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel); err == nil {
			generators["gemini"] = gem
		} else {
			logger.Warn("gemini client unavailable", "error", err)
		}
	}
	if cfg.OpenAIAPIKey != "" {
		if oai, err := ai.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel); err == nil {
			generators["openai"] = oai
		} else {
			logger.Warn("openai client unavailable", "error", err)
		}
	}

	gate := cancel.NewGate()
	agg := services.NewStatusAggregator(stores, rdb)
	keywords := services.NewKeywordIndex(stores)

	ingestor := services.NewIngestor(cfg, stores, blobs, vectors, embedder, keywords, agg, gate, metrics)
	enricher := services.NewEnricher(cfg, stores, blobs, generators, agg)

	redisOpt := config.AsynqRedisOpt(cfg)
	queueClient := asynq.NewClient(redisOpt)
	defer queueClient.Close()

	processor := queue.NewTaskProcessor(ingestor, enricher, queueClient)
	mux := asynq.NewServeMux()
	processor.Register(mux)

	ingestSrv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{queue.QueueIngest: 1},
	})
	enrichSrv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 4,
		Queues:      map[string]int{queue.QueueEnrich: 1},
	})

	if err := ingestSrv.Start(mux); err != nil {
		log.Fatal("Failed to start ingest consumer:", err)
	}
	if err := enrichSrv.Start(mux); err != nil {
		log.Fatal("Failed to start enrich consumer:", err)
	}
	logger.Info("worker started", "ingest_concurrency", 1, "enrich_concurrency", 4)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("worker shutting down")
	ingestSrv.Shutdown()
	enrichSrv.Shutdown()
	logger.Info("worker stopped")
}
