package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/cancel"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/logger"
	"github.com/DaZeTw/LOL-PaperReader-sub000/models"
	"github.com/DaZeTw/LOL-PaperReader-sub000/services"
)

// Task type names.
const (
	TaskIngestProcess  = "ingest:process"
	TaskEnrichSummary  = "enrich:summary"
	TaskEnrichRefs     = "enrich:references"
	TaskEnrichSkimming = "enrich:skimming"
)

// Queue names. Ingestion runs at concurrency 1 so documents process
// FIFO; enrichment tasks are independent and run concurrently.
const (
	QueueIngest = "ingest"
	QueueEnrich = "enrich"
)

// IngestPayload identifies the document an ingest task processes.
type IngestPayload struct {
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id"`
	BlobPath   string `json:"blob_path"`
	Filename   string `json:"filename"`
}

// EnrichPayload identifies the document an enrichment task targets.
type EnrichPayload struct {
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id"`
}

// NewIngestTask queues a full pipeline run for one document. Ingest has
// no wall clock; cancellation goes through the gate, so the timeout is
// generous.
func NewIngestTask(p IngestPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskIngestProcess,
		payload,
		asynq.MaxRetry(0),
		asynq.Timeout(2*time.Hour),
		asynq.Queue(QueueIngest),
	), nil
}

func newEnrichTask(taskType string, p EnrichPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		taskType,
		payload,
		asynq.MaxRetry(2),
		asynq.Timeout(10*time.Minute),
		asynq.Queue(QueueEnrich),
	), nil
}

func NewSummaryTask(p EnrichPayload) (*asynq.Task, error)    { return newEnrichTask(TaskEnrichSummary, p) }
func NewReferencesTask(p EnrichPayload) (*asynq.Task, error) { return newEnrichTask(TaskEnrichRefs, p) }
func NewSkimmingTask(p EnrichPayload) (*asynq.Task, error)   { return newEnrichTask(TaskEnrichSkimming, p) }

// TaskProcessor executes queue tasks against the service layer. It also
// owns the follow-up scheduling: a successful ingest enqueues the three
// enrichment tasks.
type TaskProcessor struct {
	ingestor *services.Ingestor
	enricher *services.Enricher
	client   *asynq.Client
}

func NewTaskProcessor(ingestor *services.Ingestor, enricher *services.Enricher, client *asynq.Client) *TaskProcessor {
	return &TaskProcessor{
		ingestor: ingestor,
		enricher: enricher,
		client:   client,
	}
}

// Register binds all task types onto the mux.
func (p *TaskProcessor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskIngestProcess, p.HandleIngest)
	mux.HandleFunc(TaskEnrichSummary, p.HandleSummary)
	mux.HandleFunc(TaskEnrichRefs, p.HandleReferences)
	mux.HandleFunc(TaskEnrichSkimming, p.HandleSkimming)
}

func (p *TaskProcessor) HandleIngest(ctx context.Context, t *asynq.Task) error {
	var payload IngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("bad ingest payload: %v: %w", err, asynq.SkipRetry)
	}
	logger.Info("ingest task started", "document_id", payload.DocumentID, "filename", payload.Filename)

	if err := p.ingestor.Process(ctx, payload.DocumentID); err != nil {
		if errors.Is(err, cancel.ErrCancelled) {
			logger.Info("ingest task cancelled", "document_id", payload.DocumentID)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	p.enqueueEnrichment(payload.DocumentID, payload.UserID)
	return nil
}

// enqueueEnrichment schedules the post-ingest features. Failures are
// logged, not fatal: the document is already ready for Q&A.
func (p *TaskProcessor) enqueueEnrichment(docID, userID string) {
	if p.client == nil {
		return
	}
	payload := EnrichPayload{DocumentID: docID, UserID: userID}
	for _, mk := range []func(EnrichPayload) (*asynq.Task, error){
		NewSummaryTask, NewReferencesTask, NewSkimmingTask,
	} {
		task, err := mk(payload)
		if err != nil {
			logger.Error("enrich task build failed", "document_id", docID, "error", err)
			continue
		}
		if _, err := p.client.Enqueue(task); err != nil {
			logger.Error("enrich task enqueue failed", "document_id", docID, "type", task.Type(), "error", err)
		}
	}
}

func (p *TaskProcessor) HandleSummary(ctx context.Context, t *asynq.Task) error {
	return p.runEnrich(ctx, t, models.FeatureSummary, p.enricher.Summarize)
}

func (p *TaskProcessor) HandleReferences(ctx context.Context, t *asynq.Task) error {
	return p.runEnrich(ctx, t, models.FeatureReferences, p.enricher.ExtractReferences)
}

func (p *TaskProcessor) HandleSkimming(ctx context.Context, t *asynq.Task) error {
	return p.runEnrich(ctx, t, models.FeatureSkimming, p.enricher.Skim)
}

func (p *TaskProcessor) runEnrich(ctx context.Context, t *asynq.Task, feature string, fn func(context.Context, string) error) error {
	var payload EnrichPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("bad enrich payload: %v: %w", err, asynq.SkipRetry)
	}
	logger.Info("enrich task started", "document_id", payload.DocumentID, "feature", feature)
	return fn(ctx, payload.DocumentID)
}
