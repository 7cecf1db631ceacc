package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/ai"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/blob"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/config"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/database"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/logger"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/telemetry"
	"github.com/DaZeTw/LOL-PaperReader-sub000/models"
	"github.com/DaZeTw/LOL-PaperReader-sub000/utils"
)

// ErrNoContext is returned when retrieval finds nothing to ground an
// answer on. The caller surfaces it; the orchestrator never answers
// from thin air.
var ErrNoContext = errors.New("no relevant document context found")

// ErrSessionMismatch is returned when the session does not belong to the
// requesting user or lacks a document binding.
var ErrSessionMismatch = errors.New("session does not match request")

const (
	promptTokenBudget = 8000
	historyWindow     = 10
)

const systemPromptTemplate = `You are a research assistant answering questions about an academic paper.

Rules:
- Prefer the conversation history when the question refers to something already discussed; otherwise ground every claim in the provided [Context i] blocks.
- When the user attaches images, describe and analyze what is actually visible before relating it to the paper.
- Cite document context with [cN] markers where N is the context number. Use markers only for the provided contexts, never invent them.
- End your answer with a confidence token on its own: [CONFIDENCE:x.xx] with x.xx between 0.00 and 1.00.`

// AnswerService orchestrates retrieval, generation and citation
// bookkeeping for one question.
type AnswerService struct {
	cfg        *config.Config
	stores     *database.Stores
	blobs      *blob.Store
	retriever  *Retriever
	generators map[string]ai.Generator
	agg        *StatusAggregator
	metrics    *telemetry.Metrics
}

func NewAnswerService(
	cfg *config.Config,
	stores *database.Stores,
	blobs *blob.Store,
	retriever *Retriever,
	generators map[string]ai.Generator,
	agg *StatusAggregator,
	metrics *telemetry.Metrics,
) *AnswerService {
	return &AnswerService{
		cfg:        cfg,
		stores:     stores,
		blobs:      blobs,
		retriever:  retriever,
		generators: generators,
		agg:        agg,
		metrics:    metrics,
	}
}

// Answer runs the full question pipeline for a session turn.
func (a *AnswerService) Answer(ctx context.Context, userID string, req *models.AskRequest) (*models.AskResponse, error) {
	// 1. Session lookup and ownership.
	sess, err := a.stores.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, ErrSessionMismatch
	}
	if sess.DocumentID.IsZero() {
		return nil, fmt.Errorf("%w: session has no document", ErrSessionMismatch)
	}
	docID := sess.DocumentID.Hex()

	// 2. Recent history, excluding a user turn identical to this question
	// (double-submit race guard).
	history, priorCitations, err := a.loadHistory(ctx, sess.ID, req.Question)
	if err != nil {
		return nil, err
	}

	// 3. User images: paths are persisted, data URLs only feed the model.
	dataURLs, persistPaths := a.resolveUserImages(ctx, req.UserImages)

	// Retrieval.
	hits, err := a.retriever.Retrieve(ctx, docID, req.Question, firstImagePayload(dataURLs), req.Retriever, req.TopK)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, ErrNoContext
	}
	if len(hits) > a.cfg.ContextChunks {
		hits = hits[:a.cfg.ContextChunks]
	}
	scores := make([]float64, len(hits))
	for i, h := range hits {
		scores[i] = h.Score
	}

	// Daily quota, estimated on the composed prompt.
	prompt, refImages := a.buildPrompt(ctx, req.Question, hits)
	estTokens := ai.CountTokens(prompt) + req.MaxTokens
	if err := ai.CheckAndConsume(ctx, a.stores.Quotas, userID, estTokens, a.cfg.DailyTokenLimit); err != nil {
		return nil, err
	}

	// 4. Trim history to the token budget, dropping oldest turns first.
	turns := fitHistory(history, prompt, promptTokenBudget)

	// 5. Persist the user turn before calling the model.
	userMsg := &models.ChatMessage{
		SessionID: sess.ID,
		UserID:    userID,
		Role:      models.RoleUser,
		Content:   req.Question,
		Images:    persistPaths,
		CreatedAt: time.Now(),
	}
	if err := a.stores.InsertMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("persist question: %w", err)
	}

	// 6. Generate, falling back to extractive on any model failure.
	genReq := &ai.GenRequest{
		System:    systemPromptTemplate,
		History:   turns,
		Prompt:    prompt,
		Images:    append(dataURLs, refImages...),
		MaxTokens: req.MaxTokens,
	}
	raw, genName := a.generate(ctx, req.Generator, genReq, req.Question, hits)

	// 7-8. Confidence token, then citation renumbering.
	cleaned, confidence := ParseConfidence(raw, scores)
	answer, citations := RewriteCitations(cleaned, docID, hits, priorCitations)

	// 9. Persist the assistant turn.
	assistantMsg := &models.ChatMessage{
		SessionID:  sess.ID,
		UserID:     userID,
		Role:       models.RoleAssistant,
		Content:    answer,
		Citations:  citations,
		Confidence: confidence,
		Scores:     scores,
		TokenCost:  ai.CountTokens(raw),
		CreatedAt:  time.Now(),
	}
	if err := a.stores.InsertMessage(ctx, assistantMsg); err != nil {
		return nil, fmt.Errorf("persist answer: %w", err)
	}
	if err := a.stores.TouchSession(ctx, sess.ID); err != nil {
		logger.Warn("touch session failed", "session_id", req.SessionID, "error", err)
	}

	if a.metrics != nil {
		a.metrics.RecordTokensUsed(int64(assistantMsg.TokenCost), genName)
	}

	// 10. Announce on the document's event stream.
	a.agg.PublishChatEvent(docID, req.SessionID, "answer_ready")

	return &models.AskResponse{
		SessionID:      req.SessionID,
		Question:       req.Question,
		Answer:         answer,
		CitedSections:  citations,
		RetrieverScore: scores,
		MessageID:      assistantMsg.ID.Hex(),
		Confidence:     confidence,
		Timestamp:      assistantMsg.CreatedAt,
	}, nil
}

// loadHistory returns the last turns as generator history plus the
// citations carried by prior assistant messages, newest first.
func (a *AnswerService) loadHistory(ctx context.Context, sessionID primitive.ObjectID, question string) ([]ai.Turn, []models.Citation, error) {
	msgs, err := a.stores.GetSessionMessages(ctx, sessionID, 0)
	if err != nil {
		return nil, nil, err
	}

	var kept []models.ChatMessage
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			continue
		}
		if m.Role == models.RoleUser && strings.TrimSpace(m.Content) == strings.TrimSpace(question) {
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) > historyWindow {
		kept = kept[len(kept)-historyWindow:]
	}

	turns := make([]ai.Turn, 0, len(kept))
	var priorCitations []models.Citation
	for _, m := range kept {
		turns = append(turns, ai.Turn{Role: m.Role, Content: m.Content})
	}
	for i := len(kept) - 1; i >= 0; i-- {
		if kept[i].Role == models.RoleAssistant && len(kept[i].Citations) > 0 {
			priorCitations = append(priorCitations, kept[i].Citations...)
		}
	}
	return turns, priorCitations, nil
}

// resolveUserImages turns each input into a data URL for the model call.
// Plain paths are loaded from temp disk or the blob store and kept for
// persistence; inputs that are already data URLs are call-only.
func (a *AnswerService) resolveUserImages(ctx context.Context, inputs []string) (dataURLs, persistPaths []string) {
	for _, in := range inputs {
		if utils.IsDataURL(in) {
			dataURLs = append(dataURLs, in)
			continue
		}
		data, err := a.loadImage(ctx, in)
		if err != nil {
			logger.Warn("user image load failed", "path", in, "error", err)
			continue
		}
		dataURLs = append(dataURLs, imageDataURL(in, data))
		persistPaths = append(persistPaths, in)
	}
	return dataURLs, persistPaths
}

func (a *AnswerService) loadImage(ctx context.Context, path string) ([]byte, error) {
	local := filepath.Join(a.cfg.TempChatImageDir, filepath.Base(path))
	if data, err := os.ReadFile(local); err == nil {
		return data, nil
	}
	return a.blobs.Get(ctx, path)
}

func imageDataURL(path string, data []byte) string {
	mime := "image/png"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		mime = "image/jpeg"
	case ".webp":
		mime = "image/webp"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// firstImagePayload extracts the raw base64 of the first user image for
// query encoding.
func firstImagePayload(dataURLs []string) string {
	if len(dataURLs) == 0 {
		return ""
	}
	return utils.DataURLBase64(dataURLs[0])
}

// buildPrompt renders the question plus [Context i] blocks and collects
// up to MaxRefImages reference figures, most relevant contexts first.
func (a *AnswerService) buildPrompt(ctx context.Context, question string, hits []RetrievedChunk) (string, []string) {
	var b strings.Builder
	b.WriteString(question)
	b.WriteString("\n")

	var refImages []string
	for i, hit := range hits {
		fmt.Fprintf(&b, "\n[Context %d] (section: %s, page %d)\n%s\n", i+1, hit.Section, hit.Page, hit.Text)
		for _, img := range hit.Images {
			if len(refImages) >= a.cfg.MaxRefImages || img.BlobPath == "" {
				continue
			}
			data, err := a.blobs.Get(ctx, img.BlobPath)
			if err != nil {
				logger.Warn("reference image load failed", "path", img.BlobPath, "error", err)
				continue
			}
			refImages = append(refImages, imageDataURL(img.BlobPath, data))
		}
	}
	return b.String(), refImages
}

// fitHistory drops the oldest turns until system+history+prompt fits the
// token budget.
func fitHistory(turns []ai.Turn, prompt string, budget int) []ai.Turn {
	for len(turns) > 0 {
		pieces := make([]string, 0, len(turns)+2)
		pieces = append(pieces, systemPromptTemplate, prompt)
		for _, t := range turns {
			pieces = append(pieces, t.Content)
		}
		if ai.FitsBudget(budget, pieces...) {
			break
		}
		turns = turns[1:]
	}
	return turns
}

// generate dispatches to the requested backend and falls back to the
// extractive answer on any error, including timeout.
func (a *AnswerService) generate(ctx context.Context, name string, req *ai.GenRequest, question string, hits []RetrievedChunk) (string, string) {
	if name == "" {
		name = a.cfg.DefaultGenerator
	}
	if name != "extractive" {
		gen, ok := a.generators[name]
		if !ok {
			gen, ok = a.generators[a.cfg.DefaultGenerator]
		}
		if ok {
			genCtx, cancelFn := context.WithTimeout(ctx, time.Duration(a.cfg.LLMTimeout)*time.Second)
			defer cancelFn()
			out, err := gen.Generate(genCtx, req)
			if err == nil && strings.TrimSpace(out) != "" {
				return out, gen.Name()
			}
			logger.Warn("generator failed, using extractive fallback", "generator", name, "error", err)
		}
	}
	return extractiveAnswer(question, hits), "extractive"
}

// extractiveAnswer returns the sentence from the retrieved contexts with
// the highest TF-IDF similarity to the question, tagged with its source
// context marker.
func extractiveAnswer(question string, hits []RetrievedChunk) string {
	type candidate struct {
		text string
		hit  int
	}
	var candidates []candidate
	for hi, hit := range hits {
		for _, s := range splitSentences(hit.Text) {
			candidates = append(candidates, candidate{text: s, hit: hi})
		}
	}
	if len(candidates) == 0 {
		return "I could not find relevant content in the document to answer that."
	}

	df := make(map[string]int)
	tokensOf := make([][]string, len(candidates))
	for i, c := range candidates {
		toks := filterStopWords(tokenize(c.text))
		tokensOf[i] = toks
		seen := make(map[string]bool)
		for _, t := range toks {
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}
	idf := func(t string) float64 {
		return math.Log(float64(len(candidates))/(1+float64(df[t]))) + 1
	}

	qVec := make(map[string]float64)
	for _, t := range filterStopWords(tokenize(question)) {
		qVec[t] += idf(t)
	}

	best, bestScore := 0, -1.0
	for i := range candidates {
		vec := make(map[string]float64)
		for _, t := range tokensOf[i] {
			vec[t] += idf(t)
		}
		if s := sparseCosine(qVec, vec); s > bestScore {
			best, bestScore = i, s
		}
	}

	c := candidates[best]
	return fmt.Sprintf("%s [c%d]", strings.TrimSpace(c.text), c.hit+1)
}
