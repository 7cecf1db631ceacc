package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document is the canonical record for an uploaded paper. It tracks the
// blob location of the source PDF, the derived markdown, and the lifecycle
// of every enrichment feature computed from it.
type Document struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID       string             `bson:"user_id" json:"user_id"`
	WorkspaceID  primitive.ObjectID `bson:"workspace_id,omitempty" json:"workspace_id,omitempty"`
	Filename     string             `bson:"filename" json:"filename"`
	OriginalName string             `bson:"original_name" json:"original_name"`
	BlobPath     string             `bson:"blob_path" json:"blob_path"` // object key of the source PDF
	MarkdownPath string             `bson:"markdown_path,omitempty" json:"markdown_path,omitempty"`
	FileHash     string             `bson:"file_hash" json:"file_hash"` // SHA-256 of the PDF bytes, for deduplication
	Size         int64              `bson:"size" json:"size"`
	Pages        int                `bson:"pages,omitempty" json:"pages,omitempty"`
	ChunkCount   int                `bson:"chunk_count,omitempty" json:"chunk_count,omitempty"`
	Status       string             `bson:"status" json:"status"` // uploading, parsing, chunking, embedding, ready, error
	Features     FeatureStatuses    `bson:"features" json:"features"`
	Summary      string             `bson:"summary,omitempty" json:"summary,omitempty"`
	References   []string           `bson:"references,omitempty" json:"references,omitempty"`
	Skimming     []string           `bson:"skimming,omitempty" json:"skimming,omitempty"`
	ErrorMessage string             `bson:"error_message,omitempty" json:"error_message,omitempty"`
	UploadedAt   time.Time          `bson:"uploaded_at" json:"uploaded_at"`
	ProcessedAt  *time.Time         `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
}

// FeatureStatuses holds the independent pipelines derived from one document.
// Embedding is produced by ingestion; the rest are produced by enrichment
// tasks and may complete in any order.
type FeatureStatuses struct {
	Embedding  string `bson:"embedding" json:"embedding"`
	Summary    string `bson:"summary" json:"summary"`
	References string `bson:"references" json:"references"`
	Skimming   string `bson:"skimming" json:"skimming"`
}

// Document lifecycle states. A cancelled job leaves the document at its
// last successful state; cancellation is not a status of its own.
const (
	DocStatusUploading = "uploading"
	DocStatusParsing   = "parsing"
	DocStatusChunking  = "chunking"
	DocStatusEmbedding = "embedding"
	DocStatusReady     = "ready"
	DocStatusError     = "error"
)

// Per-feature states. Skipped means the feature cannot run in this
// deployment (no generator configured); it counts as settled.
const (
	FeaturePending   = "pending"
	FeatureRunning   = "running"
	FeatureCompleted = "completed"
	FeatureFailed    = "failed"
	FeatureSkipped   = "skipped"
)

// Feature names as they appear in status snapshots and task payloads.
const (
	FeatureEmbedding  = "embedding"
	FeatureSummary    = "summary"
	FeatureReferences = "references"
	FeatureSkimming   = "skimming"
)

// NewFeatureStatuses returns the initial state for a freshly uploaded document.
func NewFeatureStatuses() FeatureStatuses {
	return FeatureStatuses{
		Embedding:  FeaturePending,
		Summary:    FeaturePending,
		References: FeaturePending,
		Skimming:   FeaturePending,
	}
}

// Get returns the status of the named feature, or empty string for an
// unknown name.
func (f FeatureStatuses) Get(feature string) string {
	switch feature {
	case FeatureEmbedding:
		return f.Embedding
	case FeatureSummary:
		return f.Summary
	case FeatureReferences:
		return f.References
	case FeatureSkimming:
		return f.Skimming
	}
	return ""
}

// UploadResponse is returned by the upload endpoint once the document has
// been accepted and queued.
type UploadResponse struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	Status     string `json:"status"`
	TaskID     string `json:"task_id,omitempty"`
	Duplicate  bool   `json:"duplicate,omitempty"` // true when an identical PDF was already ingested
	Message    string `json:"message"`
	UploadedAt string `json:"uploaded_at,omitempty"`
}
