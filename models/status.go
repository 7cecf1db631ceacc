package models

// StatusSnapshot is the unified per-document status pushed over WebSocket
// and returned by the status endpoint. AvailableFeatures lists the features
// whose status is completed; AllReady is true once every feature is settled
// (completed or skipped).
type StatusSnapshot struct {
	DocumentID        string   `json:"document_id"`
	EmbeddingStatus   string   `json:"embedding_status"`
	SummaryStatus     string   `json:"summary_status"`
	ReferenceStatus   string   `json:"reference_status"`
	SkimmingStatus    string   `json:"skimming_status"`
	AvailableFeatures []string `json:"available_features"`
	AllReady          bool     `json:"all_ready"`
}

// StatusEvent is what pipeline stages publish when a feature transitions.
// The aggregator debounces these and re-reads the authoritative record
// before composing the snapshot it broadcasts.
type StatusEvent struct {
	DocumentID string `json:"document_id"`
	Feature    string `json:"feature,omitempty"` // embedding, summary, references, skimming
	Status     string `json:"status,omitempty"`
	Kind       string `json:"kind,omitempty"` // "status" (default) or "chat"
	Payload    any    `json:"payload,omitempty"`
}

// Event kinds carried on the per-document stream.
const (
	EventKindStatus = "status"
	EventKindChat   = "chat"
)

// BuildSnapshot composes the wire snapshot from a document record.
func BuildSnapshot(doc *Document) StatusSnapshot {
	snap := StatusSnapshot{
		DocumentID:      doc.ID.Hex(),
		EmbeddingStatus: doc.Features.Embedding,
		SummaryStatus:   doc.Features.Summary,
		ReferenceStatus: doc.Features.References,
		SkimmingStatus:  doc.Features.Skimming,
	}
	snap.AllReady = true
	for _, f := range []string{FeatureEmbedding, FeatureSummary, FeatureReferences, FeatureSkimming} {
		switch doc.Features.Get(f) {
		case FeatureCompleted:
			snap.AvailableFeatures = append(snap.AvailableFeatures, f)
		case FeatureSkipped:
			// Settled, but not available.
		default:
			snap.AllReady = false
		}
	}
	if snap.AvailableFeatures == nil {
		snap.AvailableFeatures = []string{}
	}
	return snap
}
