package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIngestTask(t *testing.T) {
	task, err := NewIngestTask(IngestPayload{
		DocumentID: "doc1",
		UserID:     "u1",
		BlobPath:   "users/u1/doc1.pdf",
		Filename:   "paper.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, TaskIngestProcess, task.Type())

	var payload IngestPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "doc1", payload.DocumentID)
	assert.Equal(t, "paper.pdf", payload.Filename)
}

func TestEnrichTaskTypes(t *testing.T) {
	p := EnrichPayload{DocumentID: "doc1", UserID: "u1"}

	summary, err := NewSummaryTask(p)
	require.NoError(t, err)
	assert.Equal(t, TaskEnrichSummary, summary.Type())

	refs, err := NewReferencesTask(p)
	require.NoError(t, err)
	assert.Equal(t, TaskEnrichRefs, refs.Type())

	skim, err := NewSkimmingTask(p)
	require.NoError(t, err)
	assert.Equal(t, TaskEnrichSkimming, skim.Type())

	var payload EnrichPayload
	require.NoError(t, json.Unmarshal(skim.Payload(), &payload))
	assert.Equal(t, "doc1", payload.DocumentID)
}
