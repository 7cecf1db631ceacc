package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/database"
	"github.com/DaZeTw/LOL-PaperReader-sub000/models"
)

// Export formats.
const (
	ExportFormatJSON  = "json"
	ExportFormatExcel = "excel"
)

// ExportFile is a rendered transcript ready to stream to the client.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// SessionTranscript is the JSON export shape.
type SessionTranscript struct {
	SessionID  string            `json:"session_id"`
	Title      string            `json:"title"`
	DocumentID string            `json:"document_id,omitempty"`
	ExportedAt time.Time         `json:"exported_at"`
	Messages   []TranscriptEntry `json:"messages"`
}

type TranscriptEntry struct {
	Role       string            `json:"role"`
	Content    string            `json:"content"`
	Confidence float64           `json:"confidence,omitempty"`
	Citations  []models.Citation `json:"citations,omitempty"`
	TokenCost  int               `json:"token_cost,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ExportService renders chat session transcripts for download.
type ExportService struct {
	stores *database.Stores
}

func NewExportService(stores *database.Stores) *ExportService {
	return &ExportService{stores: stores}
}

// ExportSession renders the full transcript of one session in the
// requested format. The session must belong to the requesting user.
func (es *ExportService) ExportSession(ctx context.Context, userID, sessionID, format string) (*ExportFile, error) {
	sess, err := es.stores.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, database.ErrNotFound
	}

	msgs, err := es.stores.GetSessionMessages(ctx, sess.ID, 0)
	if err != nil {
		return nil, err
	}

	transcript := SessionTranscript{
		SessionID:  sess.ID.Hex(),
		Title:      sess.Title,
		ExportedAt: time.Now(),
	}
	if !sess.DocumentID.IsZero() {
		transcript.DocumentID = sess.DocumentID.Hex()
	}
	for _, m := range msgs {
		transcript.Messages = append(transcript.Messages, TranscriptEntry{
			Role:       m.Role,
			Content:    m.Content,
			Confidence: m.Confidence,
			Citations:  m.Citations,
			TokenCost:  m.TokenCost,
			CreatedAt:  m.CreatedAt,
		})
	}

	switch format {
	case ExportFormatJSON, "":
		return es.renderJSON(&transcript)
	case ExportFormatExcel:
		return es.renderExcel(&transcript)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

func (es *ExportService) renderJSON(t *SessionTranscript) (*ExportFile, error) {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transcript: %w", err)
	}
	return &ExportFile{
		Filename:    fmt.Sprintf("session_%s.json", t.SessionID),
		ContentType: "application/json",
		Data:        data,
	}, nil
}

func (es *ExportService) renderExcel(t *SessionTranscript) (*ExportFile, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Transcript"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	headers := []string{"Role", "Content", "Confidence", "Citations", "Token Cost", "Created At"}
	for i, h := range headers {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(sheet, cell, h)
	}

	for i, m := range t.Messages {
		row := i + 2
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), m.Role)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), m.Content)
		if m.Role == models.RoleAssistant {
			f.SetCellValue(sheet, fmt.Sprintf("C%d", row), m.Confidence)
		}
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), citationSummary(m.Citations))
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), m.TokenCost)
		f.SetCellValue(sheet, fmt.Sprintf("F%d", row), m.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	f.SetColWidth(sheet, "B", "B", 80)
	f.SetColWidth(sheet, "D", "D", 40)

	// One row per citation on a second sheet so excerpts stay readable.
	citSheet := "Citations"
	if _, err := f.NewSheet(citSheet); err != nil {
		return nil, fmt.Errorf("failed to create citations sheet: %w", err)
	}
	citHeaders := []string{"Message #", "Label", "Section", "Page", "Excerpt", "Score"}
	for i, h := range citHeaders {
		f.SetCellValue(citSheet, fmt.Sprintf("%c1", 'A'+i), h)
	}
	row := 2
	for mi, m := range t.Messages {
		for _, c := range m.Citations {
			f.SetCellValue(citSheet, fmt.Sprintf("A%d", row), mi+1)
			f.SetCellValue(citSheet, fmt.Sprintf("B%d", row), c.Label)
			f.SetCellValue(citSheet, fmt.Sprintf("C%d", row), c.Section)
			f.SetCellValue(citSheet, fmt.Sprintf("D%d", row), c.Page)
			f.SetCellValue(citSheet, fmt.Sprintf("E%d", row), c.Excerpt)
			f.SetCellValue(citSheet, fmt.Sprintf("F%d", row), c.Score)
			row++
		}
	}
	f.SetColWidth(citSheet, "E", "E", 80)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write Excel file: %w", err)
	}
	return &ExportFile{
		Filename:    fmt.Sprintf("session_%s.xlsx", t.SessionID),
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Data:        buf.Bytes(),
	}, nil
}

func citationSummary(citations []models.Citation) string {
	if len(citations) == 0 {
		return ""
	}
	parts := make([]string, 0, len(citations))
	for _, c := range citations {
		parts = append(parts, fmt.Sprintf("[%s] %s p.%d", c.Label, c.Section, c.Page))
	}
	return strings.Join(parts, "; ")
}
