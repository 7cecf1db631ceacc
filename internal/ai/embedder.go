package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/cancel"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/config"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/logger"
)

// Embedder talks to the remote visual-text embedding service. The model
// loads lazily on the remote side, so the first caller waits for warm-up
// while later callers block on the same cond instead of hammering /health.
//
// One Embedder exists per process; the service itself serializes GPU work,
// so extra client instances would only add connection churn.
type Embedder struct {
	baseURL    string
	httpClient *http.Client
	cache      *EmbedCache
	batchSize  int
	warmupMax  time.Duration
	queryMax   time.Duration
	tableMax   int
	dim        int

	mu     sync.Mutex
	cond   *sync.Cond
	ready  bool
	warmup bool // a goroutine is already polling /health
}

// EmbedInput is one chunk headed for embedding. Text should already have
// table renderings appended by the caller; Images carry the raw bytes of
// the chunk's figures. Each image is embedded jointly with the text and
// the resulting vectors are fused by arithmetic mean.
type EmbedInput struct {
	CacheKey string
	Text     string
	Images   [][]byte
}

type embedHealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Dim         int    `json:"dim"`
}

type embedItem struct {
	Text     string `json:"text"`
	ImageB64 string `json:"image_b64,omitempty"`
}

type embedRequest struct {
	Items []embedItem `json:"items"`
}

type embedResponse struct {
	Vectors [][]float32 `json:"vectors"`
	Error   string      `json:"error,omitempty"`
}

var (
	embedderOnce sync.Once
	embedderInst *Embedder
	embedderErr  error
)

// GetEmbedder returns the process-wide embedder.
func GetEmbedder(cfg *config.Config) (*Embedder, error) {
	embedderOnce.Do(func() {
		cache, err := NewEmbedCache(cfg.EmbedCacheDir)
		if err != nil {
			embedderErr = fmt.Errorf("failed to init embed cache: %w", err)
			return
		}
		e := &Embedder{
			baseURL:    cfg.EmbedServiceURL,
			httpClient: &http.Client{Timeout: 10 * time.Minute},
			cache:      cache,
			batchSize:  cfg.EmbedBatchSize,
			warmupMax:  time.Duration(cfg.EmbedWarmupTimeout) * time.Second,
			queryMax:   time.Duration(cfg.QueryEncodeTimeout) * time.Second,
			tableMax:   cfg.TableEmbedMaxChars,
			dim:        cfg.VectorDim,
		}
		e.cond = sync.NewCond(&e.mu)
		embedderInst = e
	})
	return embedderInst, embedderErr
}

// batchTimeout scales with batch size: base 60s plus 5s per item,
// clamped to [120s, 600s]. Cold GPU batches are slow; runaway requests
// still get cut off.
func (e *Embedder) batchTimeout(batch int) time.Duration {
	secs := 60 + 5*batch
	if secs < 120 {
		secs = 120
	}
	if secs > 600 {
		secs = 600
	}
	return time.Duration(secs) * time.Second
}

// WaitReady blocks until the remote model is loaded or the warm-up
// window expires. Only one goroutine polls; the rest wait on the cond.
func (e *Embedder) WaitReady(ctx context.Context) error {
	e.mu.Lock()
	if e.ready {
		e.mu.Unlock()
		return nil
	}

	if !e.warmup {
		e.warmup = true
		e.mu.Unlock()
		err := e.pollHealth(ctx)
		e.mu.Lock()
		e.warmup = false
		if err == nil {
			e.ready = true
		}
		e.cond.Broadcast()
		e.mu.Unlock()
		return err
	}

	// Another goroutine is warming up; wait for it.
	for !e.ready && e.warmup {
		e.cond.Wait()
	}
	ready := e.ready
	e.mu.Unlock()
	if !ready {
		return fmt.Errorf("embedding service failed to become ready")
	}
	return nil
}

func (e *Embedder) pollHealth(ctx context.Context) error {
	deadline := time.Now().Add(e.warmupMax)
	interval := 2 * time.Second

	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("embedding service warm-up timed out after %s", e.warmupMax)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		healthy, dim := e.checkHealth(ctx)
		if healthy {
			if dim > 0 && dim != e.dim {
				logger.Warn("Embedding service reports different dim", "service_dim", dim, "configured_dim", e.dim)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		if interval < 10*time.Second {
			interval += time.Second
		}
	}
}

func (e *Embedder) checkHealth(ctx context.Context) (bool, int) {
	reqCtx, cancelFn := context.WithTimeout(ctx, 10*time.Second)
	defer cancelFn()

	req, err := http.NewRequestWithContext(reqCtx, "GET", e.baseURL+"/health", nil)
	if err != nil {
		return false, 0
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return false, 0
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, 0
	}

	var health embedHealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, 0
	}
	return health.Status == "healthy" && health.ModelLoaded, health.Dim
}

// Healthy reports whether the service answers and has its model loaded.
func (e *Embedder) Healthy(ctx context.Context) bool {
	ok, _ := e.checkHealth(ctx)
	return ok
}

// EmbedChunks embeds inputs, consulting the disk cache first. Text-only
// inputs are batched; inputs with images get one joint text+image encode
// per image, fused by arithmetic mean. The gate is checked before each
// batch and each per-image encode so a clear request aborts promptly.
// Vector order matches input order.
func (e *Embedder) EmbedChunks(ctx context.Context, gate *cancel.Gate, inputs []EmbedInput) ([][]float32, error) {
	tracer := otel.Tracer("embedder")
	ctx, span := tracer.Start(ctx, "embed.chunks")
	defer span.End()
	span.SetAttributes(attribute.Int("embed.inputs", len(inputs)))

	if err := e.WaitReady(ctx); err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(inputs))

	// Cache pass
	var textOnly, withImages []int
	for i, in := range inputs {
		if vec := e.cache.Get(in.CacheKey); vec != nil {
			vectors[i] = vec
			continue
		}
		if len(in.Images) > 0 {
			withImages = append(withImages, i)
		} else {
			textOnly = append(textOnly, i)
		}
	}
	span.SetAttributes(attribute.Int("embed.cache_hits", len(inputs)-len(textOnly)-len(withImages)))

	// Text-only chunks go through in batches of batchSize.
	for start := 0; start < len(textOnly); start += e.batchSize {
		if err := gate.Err(); err != nil {
			return nil, err
		}

		end := start + e.batchSize
		if end > len(textOnly) {
			end = len(textOnly)
		}
		batch := textOnly[start:end]

		items := make([]embedItem, len(batch))
		for j, idx := range batch {
			items[j] = embedItem{Text: inputs[idx].Text}
		}

		batchCtx, cancelFn := context.WithTimeout(ctx, e.batchTimeout(len(batch)))
		vecs, err := e.embed(batchCtx, items)
		cancelFn()
		if err != nil {
			return nil, fmt.Errorf("embedding batch failed: %w", err)
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("embedding service returned %d vectors for %d items", len(vecs), len(batch))
		}

		for j, idx := range batch {
			vectors[idx] = vecs[j]
			e.cache.Put(inputs[idx].CacheKey, vecs[j])
		}
	}

	// Image chunks: one joint encode per image, mean across images.
	for _, idx := range withImages {
		in := inputs[idx]
		var imgVecs [][]float32

		for _, img := range in.Images {
			if err := gate.Err(); err != nil {
				return nil, err
			}

			item := embedItem{
				Text:     in.Text,
				ImageB64: base64.StdEncoding.EncodeToString(img),
			}
			imgCtx, cancelFn := context.WithTimeout(ctx, e.batchTimeout(1))
			vecs, err := e.embed(imgCtx, []embedItem{item})
			cancelFn()
			if err != nil || len(vecs) != 1 {
				logger.Warn("Joint text+image encode failed", "error", err)
				continue
			}
			imgVecs = append(imgVecs, vecs[0])
		}

		var vec []float32
		if len(imgVecs) > 0 {
			vec = fuseVectors(imgVecs)
		} else {
			// All image encodes failed; fall back to text-only.
			txtCtx, cancelFn := context.WithTimeout(ctx, e.batchTimeout(1))
			vecs, err := e.embed(txtCtx, []embedItem{{Text: in.Text}})
			cancelFn()
			if err == nil && len(vecs) == 1 {
				vec = vecs[0]
			} else {
				logger.Error("Text fallback encode failed, emitting zero vector", "error", err)
				vec = make([]float32, e.dim)
			}
		}

		vectors[idx] = vec
		e.cache.Put(in.CacheKey, vec)
	}

	return vectors, nil
}

// EncodeQuery embeds a single query (optionally with an attached image)
// under a short timeout. Queries never hit the disk cache; they are
// cheap and rarely repeat.
func (e *Embedder) EncodeQuery(ctx context.Context, query, imageB64 string) ([]float32, error) {
	if err := e.WaitReady(ctx); err != nil {
		return nil, err
	}

	qCtx, cancelFn := context.WithTimeout(ctx, e.queryMax)
	defer cancelFn()

	vecs, err := e.embed(qCtx, []embedItem{{Text: query, ImageB64: imageB64}})
	if err != nil {
		return nil, fmt.Errorf("query encode failed: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("query encode returned %d vectors", len(vecs))
	}
	return vecs[0], nil
}

func (e *Embedder) embed(ctx context.Context, items []embedItem) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Items: items})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/embed", bytes.NewReader(body))
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
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, string(data))
	}

	var embResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if embResp.Error != "" {
		return nil, fmt.Errorf("embedding service error: %s", embResp.Error)
	}
	return embResp.Vectors, nil
}

// fuseVectors averages element-wise. Mismatched lengths fall back to the
// first vector.
func fuseVectors(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	if len(vecs) == 1 {
		return vecs[0]
	}
	dim := len(vecs[0])
	for _, v := range vecs[1:] {
		if len(v) != dim {
			return vecs[0]
		}
	}
	out := make([]float32, dim)
	for _, v := range vecs {
		for i, x := range v {
			out[i] += x
		}
	}
	n := float32(len(vecs))
	for i := range out {
		out[i] /= n
	}
	return out
}

// TableTextLimit is the per-table character cap applied when callers
// append table renderings to chunk text before embedding.
func (e *Embedder) TableTextLimit() int {
	return e.tableMax
}

// Cache exposes the disk cache for the cleanup job.
func (e *Embedder) Cache() *EmbedCache {
	return e.cache
}
