package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/ai"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/blob"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/config"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/database"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/logger"
	"github.com/DaZeTw/LOL-PaperReader-sub000/models"
	"go.mongodb.org/mongo-driver/bson"
)

// Enricher computes the post-ingestion features of a document: summary,
// reference list and skim highlights. Each runs as its own queue task
// and reports through the status aggregator independently.
type Enricher struct {
	cfg        *config.Config
	stores     *database.Stores
	blobs      *blob.Store
	generators map[string]ai.Generator
	agg        *StatusAggregator
	httpClient *http.Client
}

func NewEnricher(
	cfg *config.Config,
	stores *database.Stores,
	blobs *blob.Store,
	generators map[string]ai.Generator,
	agg *StatusAggregator,
) *Enricher {
	return &Enricher{
		cfg:        cfg,
		stores:     stores,
		blobs:      blobs,
		generators: generators,
		agg:        agg,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// summaryCharBudget bounds how much markdown goes into the summary
// prompt; roughly promptTokenBudget worth of text.
const summaryCharBudget = 24000

// errSkipFeature marks a feature that cannot run in this deployment.
// runFeature records it as skipped rather than failed.
var errSkipFeature = fmt.Errorf("feature not available")

// Summarize produces a short abstract-style summary via the configured
// LLM and stores it on the document. Without any generator configured
// the feature is marked skipped.
func (e *Enricher) Summarize(ctx context.Context, docID string) error {
	return e.runFeature(ctx, docID, models.FeatureSummary, func(markdown string) (bson.M, error) {
		gen, ok := e.generators[e.cfg.DefaultGenerator]
		if !ok {
			return nil, fmt.Errorf("no generator for summaries: %w", errSkipFeature)
		}
		if len(markdown) > summaryCharBudget {
			markdown = markdown[:summaryCharBudget]
		}
		out, err := gen.Generate(ctx, &ai.GenRequest{
			System: "You summarize academic papers. Write a concise summary in 4-6 sentences covering the problem, approach and key findings. Plain prose, no headings.",
			Prompt: markdown,
		})
		if err != nil {
			return nil, err
		}
		return bson.M{"summary": strings.TrimSpace(out)}, nil
	})
}

var referenceEntryRe = regexp.MustCompile(`^\s*(\[\d+\]|\d+\.)\s+`)

// ExtractReferences pulls the bibliography out of the markdown. The
// references section is located by heading; entries are recognized by
// their numbering and hanging lines are merged into the previous entry.
func (e *Enricher) ExtractReferences(ctx context.Context, docID string) error {
	return e.runFeature(ctx, docID, models.FeatureReferences, func(markdown string) (bson.M, error) {
		refs := parseReferences(markdown)
		if len(refs) == 0 {
			return nil, fmt.Errorf("no references section found")
		}
		return bson.M{"references": refs}, nil
	})
}

func parseReferences(markdown string) []string {
	lines := strings.Split(markdown, "\n")
	inRefs := false
	var refs []string

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if m := headingRe.FindStringSubmatch(trimmed); m != nil {
			title := strings.ToLower(strings.TrimSpace(m[2]))
			if pageMarkerRe.MatchString(trimmed) {
				continue // page markers don't end the section
			}
			inRefs = title == "references" || title == "bibliography"
			continue
		}
		if !inRefs || trimmed == "" {
			continue
		}
		if referenceEntryRe.MatchString(trimmed) {
			refs = append(refs, referenceEntryRe.ReplaceAllString(trimmed, ""))
		} else if len(refs) > 0 {
			refs[len(refs)-1] += " " + trimmed
		}
	}
	return refs
}

// Skim asks the external skimming service for highlight sentences. With
// no service configured it falls back to the first sentence of every
// section, which keeps the feature usable offline.
func (e *Enricher) Skim(ctx context.Context, docID string) error {
	return e.runFeature(ctx, docID, models.FeatureSkimming, func(markdown string) (bson.M, error) {
		var highlights []string
		if e.cfg.SkimServiceURL != "" {
			var err error
			highlights, err = e.skimRemote(ctx, markdown)
			if err != nil {
				logger.Warn("skim service failed, using fallback", "document_id", docID, "error", err)
			}
		}
		if len(highlights) == 0 {
			highlights = sectionLeads(markdown)
		}
		if len(highlights) == 0 {
			return nil, fmt.Errorf("document produced no skim highlights")
		}
		return bson.M{"skimming": highlights}, nil
	})
}

func (e *Enricher) skimRemote(ctx context.Context, markdown string) ([]string, error) {
	body, err := json.Marshal(map[string]string{"text": markdown})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.SkimServiceURL+"/skim", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("skim service returned %d", resp.StatusCode)
	}

	var out struct {
		Highlights []string `json:"highlights"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Highlights, nil
}

// sectionLeads returns the first sentence of each non-trivial section.
func sectionLeads(markdown string) []string {
	var leads []string
	for _, sec := range splitSections(markdown) {
		body := strings.TrimSpace(strings.Join(sec.body, " "))
		sentences := splitSentences(body)
		if len(sentences) == 0 {
			continue
		}
		lead := sentences[0]
		if len(lead) < 30 {
			continue // heading echoes and stray fragments
		}
		leads = append(leads, lead)
	}
	return leads
}

// runFeature wraps the shared lifecycle: mark running, load markdown,
// compute, persist, mark completed; any failure marks the feature failed.
func (e *Enricher) runFeature(ctx context.Context, docID, feature string, compute func(markdown string) (bson.M, error)) error {
	doc, err := e.stores.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	if doc.MarkdownPath == "" {
		return fmt.Errorf("document %s has no markdown yet", docID)
	}

	e.setFeature(ctx, docID, feature, models.FeatureRunning)

	fail := func(err error) error {
		if errors.Is(err, errSkipFeature) {
			logger.Info("enrichment skipped", "document_id", docID, "feature", feature, "reason", err)
			e.setFeature(ctx, docID, feature, models.FeatureSkipped)
			return nil
		}
		logger.Error("enrichment failed", "document_id", docID, "feature", feature, "error", err)
		e.setFeature(ctx, docID, feature, models.FeatureFailed)
		return fmt.Errorf("%s: %w", feature, err)
	}

	md, err := e.blobs.Get(ctx, doc.MarkdownPath)
	if err != nil {
		return fail(err)
	}

	fields, err := compute(string(md))
	if err != nil {
		return fail(err)
	}
	if err := e.stores.SetDocumentFields(ctx, docID, fields); err != nil {
		return fail(err)
	}

	e.setFeature(ctx, docID, feature, models.FeatureCompleted)
	logger.Info("enrichment complete", "document_id", docID, "feature", feature)
	return nil
}

func (e *Enricher) setFeature(ctx context.Context, docID, feature, status string) {
	if err := e.stores.UpdateFeatureStatus(ctx, docID, feature, status); err != nil {
		logger.Error("feature update failed", "document_id", docID, "feature", feature, "error", err)
	}
	e.agg.NotifyTaskStatus(docID, feature, status)
}
