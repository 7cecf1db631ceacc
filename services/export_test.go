package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DaZeTw/LOL-PaperReader-sub000/models"
)

func sampleTranscript() *SessionTranscript {
	return &SessionTranscript{
		SessionID:  "abc123",
		Title:      "Chat: paper.pdf",
		DocumentID: "doc456",
		ExportedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Messages: []TranscriptEntry{
			{Role: models.RoleUser, Content: "What is the main finding?", CreatedAt: time.Now()},
			{
				Role:       models.RoleAssistant,
				Content:    "The main finding is X [c1].",
				Confidence: 0.82,
				Citations: []models.Citation{{
					Label: "c1", Number: 1, Section: "Results", Page: 5,
					Excerpt: "finding X holds", Score: 0.9,
				}},
				TokenCost: 42,
				CreatedAt: time.Now(),
			},
		},
	}
}

func TestRenderJSON(t *testing.T) {
	es := NewExportService(nil)
	file, err := es.renderJSON(sampleTranscript())
	require.NoError(t, err)

	assert.Equal(t, "session_abc123.json", file.Filename)
	assert.Equal(t, "application/json", file.ContentType)

	var decoded SessionTranscript
	require.NoError(t, json.Unmarshal(file.Data, &decoded))
	assert.Equal(t, "Chat: paper.pdf", decoded.Title)
	require.Len(t, decoded.Messages, 2)
	assert.Equal(t, 0.82, decoded.Messages[1].Confidence)
}

func TestRenderExcel(t *testing.T) {
	es := NewExportService(nil)
	file, err := es.renderExcel(sampleTranscript())
	require.NoError(t, err)

	assert.Equal(t, "session_abc123.xlsx", file.Filename)
	assert.NotEmpty(t, file.Data)
	// XLSX container is a zip archive.
	assert.Equal(t, []byte{'P', 'K'}, file.Data[:2])
}

func TestCitationSummary(t *testing.T) {
	assert.Equal(t, "", citationSummary(nil))

	out := citationSummary([]models.Citation{
		{Label: "c1", Section: "Results", Page: 5},
		{Label: "c2", Section: "Methods", Page: 2},
	})
	assert.Equal(t, "[c1] Results p.5; [c2] Methods p.2", out)
}
