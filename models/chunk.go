package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Chunk is one retrievable unit of a parsed document. Chunks live in their
// own collection keyed by ChunkID so the vector index can reference them
// without loading the whole document.
type Chunk struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ChunkID    string             `bson:"chunk_id" json:"chunk_id"` // content-derived stable id, see utils.ChunkID
	DocumentID primitive.ObjectID `bson:"document_id" json:"document_id"`
	UserID     string             `bson:"user_id" json:"user_id"`
	Ordinal    int                `bson:"ordinal" json:"ordinal"`
	Text       string             `bson:"text,omitempty" json:"text,omitempty"`
	TextEnc    []byte             `bson:"text_enc,omitempty" json:"-"` // brotli-compressed text for large chunks
	Section    string             `bson:"section,omitempty" json:"section,omitempty"`
	Heading    string             `bson:"heading,omitempty" json:"heading,omitempty"`
	Page       int                `bson:"page,omitempty" json:"page,omitempty"`
	CharCount  int                `bson:"char_count" json:"char_count"`
	TokenCount int                `bson:"token_count,omitempty" json:"token_count,omitempty"`
	Images     []ChunkImage       `bson:"images,omitempty" json:"images,omitempty"`
	Tables     []ChunkTable       `bson:"tables,omitempty" json:"tables,omitempty"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
}

// ChunkImage points at a figure stored in the blob store.
type ChunkImage struct {
	Label    string `bson:"label,omitempty" json:"label,omitempty"`
	BlobPath string `bson:"blob_path" json:"blob_path"`
	Page     int    `bson:"page" json:"page"`
}

// ChunkTable points at an extracted table. Text holds a flattened rendering
// used when embedding the chunk; the CSV lives in the blob store.
type ChunkTable struct {
	Label    string `bson:"label,omitempty" json:"label,omitempty"`
	BlobPath string `bson:"blob_path" json:"blob_path"`
	Page     int    `bson:"page" json:"page"`
	Text     string `bson:"text,omitempty" json:"text,omitempty"`
}
