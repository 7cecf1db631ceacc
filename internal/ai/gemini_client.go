package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"

	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/logger"
	"github.com/DaZeTw/LOL-PaperReader-sub000/utils"
)

// GeminiClient wraps the Gemini API behind a circuit breaker and rate
// limiter. It implements Generator.
type GeminiClient struct {
	model        string
	breaker      *gobreaker.CircuitBreaker
	rateLimiter  *rate.Limiter
	tokenCounter *TokenCounter
	client       *genai.Client
}

type TokenCounter struct {
	mu              sync.Mutex
	minuteTokens    int
	dailyTokens     int
	minuteRequests  int
	dailyRequests   int
	lastMinuteReset time.Time
	lastDayReset    time.Time
}

type RateLimits struct {
	RPM int // Requests per minute
	TPM int // Tokens per minute
	RPD int // Requests per day
}

// Free-tier limits; the breaker protects against the rest.
var geminiLimits = RateLimits{RPM: 10, TPM: 250000, RPD: 250}

func NewGeminiClient(apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key not configured")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	// RPM limit with some buffer
	rateLimiter := rate.NewLimiter(rate.Limit(float64(geminiLimits.RPM)*0.9/60.0), 2)

	return &GeminiClient{
		model:        model,
		breaker:      breaker,
		rateLimiter:  rateLimiter,
		tokenCounter: &TokenCounter{},
		client:       client,
	}, nil
}

func (gc *GeminiClient) Name() string {
	return "gemini"
}

func (gc *GeminiClient) Generate(ctx context.Context, req *GenRequest) (string, error) {
	tracer := otel.Tracer("gemini-client")
	ctx, span := tracer.Start(ctx, "gemini.generate")
	defer span.End()

	estimatedTokens := estimateRequestTokens(req)
	span.SetAttributes(
		attribute.Int("gemini.estimated_tokens", estimatedTokens),
		attribute.Int("gemini.history_turns", len(req.History)),
		attribute.Int("gemini.images", len(req.Images)),
		attribute.String("gemini.model", gc.model),
	)

	if !gc.tokenCounter.CanConsume(estimatedTokens, 1) {
		span.SetAttributes(attribute.Bool("gemini.rate_limited", true))
		return "", errors.New("rate limit exceeded: wait before retry")
	}

	if err := gc.rateLimiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("gemini.rate_limited", true))
		return "", err
	}

	result, err := gc.breaker.Execute(func() (interface{}, error) {
		model := gc.client.GenerativeModel(gc.model)
		model.SetTemperature(0.3)
		maxTokens := int32(2048)
		if req.MaxTokens > 0 {
			maxTokens = int32(req.MaxTokens)
		}
		model.SetMaxOutputTokens(maxTokens)

		if req.System != "" {
			model.SystemInstruction = &genai.Content{
				Parts: []genai.Part{genai.Text(req.System)},
			}
		}

		parts := buildGeminiParts(req)

		resp, err := model.GenerateContent(ctx, parts...)
		if err != nil {
			span.SetAttributes(attribute.Bool("gemini.error", true))
			return nil, err
		}

		actualTokens := extractTokenUsage(resp)
		gc.tokenCounter.RecordUsage(actualTokens, 1)
		span.SetAttributes(attribute.Int("gemini.actual_tokens", actualTokens))

		return resp, nil
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			span.SetAttributes(attribute.Bool("gemini.circuit_breaker_open", true))
			return "", fmt.Errorf("gemini unavailable: %w", err)
		}
		return "", err
	}

	text := extractTextFromResponse(result.(*genai.GenerateContentResponse))
	if text == "" {
		return "", errors.New("gemini returned an empty response")
	}
	span.SetAttributes(attribute.Bool("gemini.success", true))
	return text, nil
}

// buildGeminiParts flattens history into the prompt text (the REST chat
// session API is avoided to keep one request per ask) and appends any
// user images as inline data parts.
func buildGeminiParts(req *GenRequest) []genai.Part {
	var sb strings.Builder
	for _, turn := range req.History {
		switch turn.Role {
		case "assistant":
			sb.WriteString("Assistant: ")
		default:
			sb.WriteString("User: ")
		}
		sb.WriteString(turn.Content)
		sb.WriteString("\n\n")
	}
	sb.WriteString(req.Prompt)

	parts := []genai.Part{genai.Text(sb.String())}

	for _, img := range req.Images {
		data, format, err := decodeImageRef(img)
		if err != nil {
			logger.Warn("Skipping undecodable image", "error", err)
			continue
		}
		parts = append(parts, genai.ImageData(format, data))
	}
	return parts
}

// decodeImageRef turns a data URL (or bare base64) into raw bytes plus a
// format hint for the genai SDK.
func decodeImageRef(ref string) ([]byte, string, error) {
	format := "png"
	if utils.IsDataURL(ref) {
		if strings.Contains(ref, "image/jpeg") || strings.Contains(ref, "image/jpg") {
			format = "jpeg"
		} else if strings.Contains(ref, "image/webp") {
			format = "webp"
		}
		ref = utils.DataURLBase64(ref)
	}
	data, err := base64.StdEncoding.DecodeString(ref)
	if err != nil {
		return nil, "", err
	}
	return data, format, nil
}

func (tc *TokenCounter) CanConsume(tokens, requests int) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	now := time.Now()

	// Reset counters if time windows expired
	if now.Sub(tc.lastMinuteReset) >= time.Minute {
		tc.minuteTokens = 0
		tc.minuteRequests = 0
		tc.lastMinuteReset = now
	}

	if now.Sub(tc.lastDayReset) >= 24*time.Hour {
		tc.dailyTokens = 0
		tc.dailyRequests = 0
		tc.lastDayReset = now
	}

	if tc.minuteRequests+requests > geminiLimits.RPM {
		return false
	}
	if tc.minuteTokens+tokens > geminiLimits.TPM {
		return false
	}
	if tc.dailyRequests+requests > geminiLimits.RPD {
		return false
	}

	return true
}

func (tc *TokenCounter) RecordUsage(tokens, requests int) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.minuteTokens += tokens
	tc.minuteRequests += requests
	tc.dailyTokens += tokens
	tc.dailyRequests += requests
}

func estimateRequestTokens(req *GenRequest) int {
	total := len(req.System) + len(req.Prompt)
	for _, t := range req.History {
		total += len(t.Content)
	}
	// ~4 characters per token
	est := total / 4
	if est < 1 {
		est = 1
	}
	return est
}

// Extract token usage from Gemini response
func extractTokenUsage(resp *genai.GenerateContentResponse) int {
	if resp.UsageMetadata != nil {
		return int(resp.UsageMetadata.TotalTokenCount)
	}

	estimated := len(extractTextFromResponse(resp)) / 4
	if estimated < 1 {
		estimated = 1
	}
	return estimated
}

func extractTextFromResponse(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	return sb.String()
}

// Close the client
func (gc *GeminiClient) Close() error {
	if gc.client != nil {
		return gc.client.Close()
	}
	return nil
}
