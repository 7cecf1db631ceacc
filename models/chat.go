package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ChatSession groups a multi-turn conversation about one document. The
// document id lives on the session so every ask is scoped to that paper.
type ChatSession struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID     string             `bson:"user_id" json:"user_id"`
	DocumentID primitive.ObjectID `bson:"document_id,omitempty" json:"document_id,omitempty"`
	Title      string             `bson:"title" json:"title"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time          `bson:"updated_at" json:"updated_at"`
}

// ChatMessage is a single turn. User turns may carry image paths; assistant
// turns carry citations, confidence and the raw retriever scores.
type ChatMessage struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID  primitive.ObjectID `bson:"session_id" json:"session_id"`
	UserID     string             `bson:"user_id" json:"user_id"`
	Role       string             `bson:"role" json:"role"` // system, user, assistant
	Content    string             `bson:"content" json:"content"`
	Images     []string           `bson:"images,omitempty" json:"images,omitempty"` // blob or temp paths of user-attached images
	Citations  []Citation         `bson:"citations,omitempty" json:"citations,omitempty"`
	Confidence float64            `bson:"confidence,omitempty" json:"confidence,omitempty"`
	Scores     []float64          `bson:"scores,omitempty" json:"scores,omitempty"`
	TokenCost  int                `bson:"token_cost,omitempty" json:"token_cost,omitempty"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Citation ties a [cN] marker in an answer back to its source chunk.
// Labels are assigned in order of first appearance in the rewritten answer.
type Citation struct {
	Label      string   `bson:"label" json:"label"` // "c1", "c2", ...
	Number     int      `bson:"number" json:"number"`
	ChunkID    string   `bson:"chunk_id" json:"chunk_id"`
	DocumentID string   `bson:"document_id" json:"document_id"`
	Section    string   `bson:"section,omitempty" json:"section,omitempty"`
	Page       int      `bson:"page,omitempty" json:"page,omitempty"`
	Excerpt    string   `bson:"excerpt" json:"excerpt"` // shortened source text, <= ~950 chars
	Summary    string   `bson:"summary,omitempty" json:"summary,omitempty"`
	FullText   string   `bson:"full_text,omitempty" json:"full_text,omitempty"`
	Score      float64  `bson:"score,omitempty" json:"score,omitempty"`
	Images     []string `bson:"images,omitempty" json:"images,omitempty"`
}

// CreateSessionRequest creates or reuses a session. Unless ForceNew is set,
// an existing session with the same title for the same user is reused.
type CreateSessionRequest struct {
	UserID         string `json:"user_id,omitempty"`
	Title          string `json:"title" binding:"required,min=1,max=300"`
	DocumentID     string `json:"document_id,omitempty"`
	InitialMessage string `json:"initial_message,omitempty"`
	ForceNew       bool   `json:"force_new,omitempty"`
}

// SessionResponse is returned on session creation or lookup.
type SessionResponse struct {
	SessionID  string    `json:"session_id"`
	Title      string    `json:"title"`
	DocumentID string    `json:"document_id,omitempty"`
	Reused     bool      `json:"reused,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AskRequest is the JSON body of POST /chat/ask. UserImages carry data URLs
// or previously persisted paths; the multipart variant fills them from the
// uploaded files instead.
type AskRequest struct {
	SessionID  string   `json:"session_id" binding:"required"`
	Question   string   `json:"question" binding:"required,min=1,max=4000"`
	Retriever  string   `json:"retriever,omitempty"` // dense, keyword, hybrid
	Generator  string   `json:"generator,omitempty"` // openai, gemini, extractive
	TopK       int      `json:"top_k,omitempty"`
	MaxTokens  int      `json:"max_tokens,omitempty"`
	UserImages []string `json:"user_images,omitempty"`
}

// AskResponse mirrors the orchestrator result.
type AskResponse struct {
	SessionID      string     `json:"session_id"`
	Question       string     `json:"question"`
	Answer         string     `json:"answer"`
	CitedSections  []Citation `json:"cited_sections"`
	RetrieverScore []float64  `json:"retriever_scores"`
	MessageID      string     `json:"message_id"`
	Confidence     float64    `json:"confidence"`
	Timestamp      time.Time  `json:"timestamp"`
}
