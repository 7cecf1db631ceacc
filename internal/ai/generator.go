package ai

import "context"

// Turn is one prior exchange replayed to the model.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}

// GenRequest carries everything a generation backend needs: the system
// prompt, conversation history, the composed user prompt (question plus
// retrieved context), and any user-attached images as data URLs.
type GenRequest struct {
	System    string
	History   []Turn
	Prompt    string
	Images    []string
	MaxTokens int
}

// Generator is a pluggable LLM backend. The orchestrator picks one per
// request and falls back to extractive answering when none is available.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req *GenRequest) (string, error)
}
