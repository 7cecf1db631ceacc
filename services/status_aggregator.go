package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/database"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/logger"
	"github.com/DaZeTw/LOL-PaperReader-sub000/models"
	"github.com/DaZeTw/LOL-PaperReader-sub000/utils"
)

const statusDebounce = 500 * time.Millisecond

// StatusChannel is the Redis pub/sub channel carrying events for one document.
func StatusChannel(docID string) string {
	return "status:" + docID
}

// StatusAggregator coalesces per-task status transitions into unified
// per-document snapshots. Pipeline stages call NotifyTaskStatus fire-and-
// forget; rapid transitions within the debounce window collapse into one
// publish. The snapshot is always rebuilt from the document record, never
// from the notification itself, so late or out-of-order notifications
// cannot publish stale state.
type StatusAggregator struct {
	stores *database.Stores
	rdb    *redis.Client

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewStatusAggregator(stores *database.Stores, rdb *redis.Client) *StatusAggregator {
	return &StatusAggregator{
		stores: stores,
		rdb:    rdb,
		timers: make(map[string]*time.Timer),
	}
}

// NotifyTaskStatus records that a task for the document changed state and
// schedules a debounced snapshot publish. Safe to call from any goroutine.
func (a *StatusAggregator) NotifyTaskStatus(docID, task, status string) {
	logger.Debug("status transition", "document_id", docID, "task", task, "status", status)

	a.mu.Lock()
	defer a.mu.Unlock()

	if t, ok := a.timers[docID]; ok {
		t.Reset(statusDebounce)
		return
	}
	a.timers[docID] = time.AfterFunc(statusDebounce, func() {
		a.mu.Lock()
		delete(a.timers, docID)
		a.mu.Unlock()
		a.flush(docID)
	})
}

// Flush publishes the current snapshot immediately, bypassing the debounce.
// Used on terminal transitions where promptness matters more than coalescing.
func (a *StatusAggregator) Flush(docID string) {
	a.mu.Lock()
	if t, ok := a.timers[docID]; ok {
		t.Stop()
		delete(a.timers, docID)
	}
	a.mu.Unlock()
	a.flush(docID)
}

func (a *StatusAggregator) flush(docID string) {
	ctx, cancel := utils.WithTimeout()
	defer cancel()

	doc, err := a.stores.GetDocument(ctx, docID)
	if err != nil {
		logger.Error("status flush: load document", "document_id", docID, "error", err)
		return
	}

	snap := models.BuildSnapshot(doc)
	a.publish(ctx, docID, statusWireMessage{
		Type:           models.EventKindStatus,
		StatusSnapshot: snap,
	})
}

// PublishChatEvent pushes a chat lifecycle event onto the document's stream.
// Chat events are not debounced; each one matters.
func (a *StatusAggregator) PublishChatEvent(docID, sessionID, status string) {
	ctx, cancel := utils.WithShortTimeout()
	defer cancel()

	a.publish(ctx, docID, chatWireMessage{
		Type:       models.EventKindChat,
		SessionID:  sessionID,
		Status:     status,
		DocumentID: docID,
	})
}

func (a *StatusAggregator) publish(ctx context.Context, docID string, msg any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Error("status publish: marshal", "document_id", docID, "error", err)
		return
	}
	if err := a.rdb.Publish(ctx, StatusChannel(docID), payload).Err(); err != nil {
		logger.Error("status publish", "document_id", docID, "error", err)
	}
}

// statusWireMessage is the snapshot envelope sent to WebSocket clients.
type statusWireMessage struct {
	Type string `json:"type"`
	models.StatusSnapshot
}

// chatWireMessage announces chat answer lifecycle over the same stream.
type chatWireMessage struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	Status     string `json:"status"`
	DocumentID string `json:"document_id"`
}
