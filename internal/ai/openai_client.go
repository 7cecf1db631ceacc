package ai

import (
	"context"
	"errors"
	"time"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/logger"
)

// OpenAIClient implements Generator against the OpenAI chat API (or any
// compatible endpoint via base URL override). Shares the same breaker
// discipline as the Gemini client.
type OpenAIClient struct {
	client  openai.Client
	model   string
	breaker *gobreaker.CircuitBreaker
}

func NewOpenAIClient(apiKey, baseURL, model string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key not configured")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "OpenAIAPI",
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

	return &OpenAIClient{
		client:  openai.NewClient(opts...),
		model:   model,
		breaker: breaker,
	}, nil
}

func (oc *OpenAIClient) Name() string {
	return "openai"
}

func (oc *OpenAIClient) Generate(ctx context.Context, req *GenRequest) (string, error) {
	tracer := otel.Tracer("openai-client")
	ctx, span := tracer.Start(ctx, "openai.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("openai.model", oc.model),
		attribute.Int("openai.history_turns", len(req.History)),
		attribute.Int("openai.images", len(req.Images)),
	)

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, turn := range req.History {
		if turn.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(turn.Content))
		} else {
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}

	if len(req.Images) > 0 {
		parts := []openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(req.Prompt),
		}
		for _, img := range req.Images {
			parts = append(parts, openai.ImageContentPart(
				openai.ChatCompletionContentPartImageImageURLParam{URL: img}))
		}
		messages = append(messages, openai.UserMessage(parts))
	} else {
		messages = append(messages, openai.UserMessage(req.Prompt))
	}

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(oc.model),
		Messages:    messages,
		Temperature: openai.Float(0.3),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	result, err := oc.breaker.Execute(func() (interface{}, error) {
		return oc.client.Chat.Completions.New(ctx, params)
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("openai.error", true))
		return "", err
	}

	completion := result.(*openai.ChatCompletion)
	if len(completion.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}

	span.SetAttributes(attribute.Bool("openai.success", true))
	return completion.Choices[0].Message.Content, nil
}
