package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
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
	"github.com/DaZeTw/LOL-PaperReader-sub000/middleware"
	"github.com/DaZeTw/LOL-PaperReader-sub000/routes"
	"github.com/DaZeTw/LOL-PaperReader-sub000/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	if cfg.TracingEnabled {
		shutdownTracer, err := telemetry.InitTracer("paperreader-api", cfg.OTLPEndpoint)
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

	generators := buildGenerators(cfg)
	if len(generators) == 0 {
		logger.Warn("no generator configured; answers fall back to extractive mode")
	}

	// Shared pipeline state.
	gate := cancel.NewGate()
	agg := services.NewStatusAggregator(stores, rdb)
	keywords := services.NewKeywordIndex(stores)

	retriever := services.NewRetriever(cfg, stores, vectors, embedder, keywords, generators[cfg.DefaultGenerator], metrics)
	answerSvc := services.NewAnswerService(cfg, stores, blobs, retriever, generators, agg, metrics)
	ingestor := services.NewIngestor(cfg, stores, blobs, vectors, embedder, keywords, agg, gate, metrics)
	enricher := services.NewEnricher(cfg, stores, blobs, generators, agg)
	exportSvc := services.NewExportService(stores)

	maintenance := services.NewMaintenance(cfg, stores, blobs, vectors, keywords, embedder, ingestor, gate)
	if err := maintenance.StartScheduler(); err != nil {
		log.Fatal("Failed to start maintenance scheduler:", err)
	}
	defer maintenance.StopScheduler()

	broadcaster := services.NewBroadcaster(rdb, stores)
	broadcaster.Start(context.Background())
	defer broadcaster.Stop()

	// Queue client for enqueuing, plus embedded consumers. Ingestion runs
	// at concurrency 1 so documents process strictly FIFO; enrichment
	// tasks are independent. cmd/worker runs the same consumers standalone
	// for split deployments.
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

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.CORSMiddlewareWithOrigins(cfg.CORSOrigins))
	if cfg.TracingEnabled {
		router.Use(middleware.TracingMiddleware())
		router.Use(middleware.EnrichTrace())
	}
	router.Use(middleware.MetricsMiddleware(metrics))
	router.Use(middleware.RateLimitMiddleware(rdb, cfg))

	router.GET("/health", routes.HealthCheck())
	router.GET("/ready", routes.ReadyCheck(mongoClient, rdb, blobs, vectors))
	routes.SetupAuthRoutes(router, cfg, rdb)

	authMW := middleware.NewAuthMiddleware(cfg, rdb)
	app := router.Group("/", authMW.OptionalAuth())

	app.POST("/documents", middleware.RequestSizeLimit(cfg.MaxFileSize), routes.UploadDocument(cfg, stores, blobs, queueClient))
	app.POST("/documents/delete", routes.DeleteDocuments(maintenance))
	app.GET("/documents", routes.ListDocuments(stores))
	app.GET("/documents/download", routes.DownloadDocument(stores, blobs))
	app.GET("/documents/:id", routes.GetDocument(stores))
	app.GET("/documents/:id/file", routes.GetDocumentFile(stores, blobs))

	app.GET("/qa/status", routes.QAStatus(stores))
	app.GET("/ws/status/:document_id", routes.WSStatus(stores, broadcaster))
	app.POST("/pdf/clear-output/", routes.ClearOutput(maintenance))

	app.POST("/chat/sessions", routes.CreateSession(stores))
	app.GET("/chat/sessions/:id", routes.GetSession(stores))
	app.GET("/chat/sessions/:id/export", routes.ExportSession(exportSvc))
	app.POST("/chat/ask", routes.Ask(answerSvc))
	app.POST("/chat/ask-with-upload", middleware.RequestSizeLimit(cfg.MaxFileSize), routes.AskWithUpload(cfg, answerSvc))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "mode", cfg.GinMode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	// Stop queue consumers first so in-flight jobs drain, then the HTTP
	// server, then the deferred fan-out and connection teardown.
	ingestSrv.Shutdown()
	enrichSrv.Shutdown()

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
	}
	logger.Info("server stopped")
}

// buildGenerators wires every LLM backend with credentials configured.
// Keys match the generator names accepted by /chat/ask.
func buildGenerators(cfg *config.Config) map[string]ai.Generator {
	generators := make(map[string]ai.Generator)
	if cfg.GeminiAPIKey != "" {
		gem, err := ai.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Warn("gemini client unavailable", "error", err)
		} else {
			generators["gemini"] = gem
		}
	}
	if cfg.OpenAIAPIKey != "" {
		oai, err := ai.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
		if err != nil {
			logger.Warn("openai client unavailable", "error", err)
		} else {
			generators["openai"] = oai
		}
	}
	return generators
}
