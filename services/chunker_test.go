package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/DaZeTw/LOL-PaperReader-sub000/models"
)

const sampleMarkdown = `# A Study of Things

## Page 1

# Introduction

This paper studies things in considerable depth. Prior work only studied
some of the things. We study all of them.

![Figure 1](figures/fig1.png)

## Page 2

# Methods

We describe the methods in detail. The methods involve several careful
steps. Evaluation follows the standard protocol.
`

func sampleAssets() []ParsedAsset {
	return []ParsedAsset{{
		Kind:      "figure",
		Label:     "Figure 1",
		LocalPath: "figures/fig1.png",
		BlobPath:  "users/u1/doc1/figures/fig1.png",
		Page:      1,
	}}
}

func TestChunkMarkdownBasic(t *testing.T) {
	chunker := NewChunker()
	docID := primitive.NewObjectID()

	chunks := chunker.ChunkMarkdown(docID, "u1", sampleMarkdown, sampleAssets())
	require.NotEmpty(t, chunks)

	for i, c := range chunks {
		assert.Equal(t, i, c.Ordinal)
		assert.Equal(t, docID, c.DocumentID)
		assert.Equal(t, "u1", c.UserID)
		assert.NotEmpty(t, c.ChunkID)
		assert.NotEmpty(t, c.Text)
		assert.Equal(t, len(c.Text), c.CharCount)
		assert.Greater(t, c.TokenCount, 0)
		// Sentinel bytes never leak into stored text.
		assert.NotContains(t, c.Text, "\x01")
	}

	sections := make(map[string]bool)
	for _, c := range chunks {
		sections[c.Section] = true
	}
	assert.True(t, sections["Introduction"])
	assert.True(t, sections["Methods"])
}

func TestChunkMarkdownPagesFromMarkers(t *testing.T) {
	chunker := NewChunker()
	chunks := chunker.ChunkMarkdown(primitive.NewObjectID(), "u1", sampleMarkdown, nil)
	require.NotEmpty(t, chunks)

	for _, c := range chunks {
		switch c.Section {
		case "Introduction":
			assert.Equal(t, 1, c.Page)
		case "Methods":
			assert.Equal(t, 2, c.Page)
		}
	}
}

func TestChunkMarkdownDeterministic(t *testing.T) {
	chunker := NewChunker()
	docID := primitive.NewObjectID()

	first := chunker.ChunkMarkdown(docID, "u1", sampleMarkdown, sampleAssets())
	second := chunker.ChunkMarkdown(docID, "u1", sampleMarkdown, sampleAssets())

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ChunkID, second[i].ChunkID)
		assert.Equal(t, first[i].Text, second[i].Text)
	}
}

func TestChunkMarkdownEmptyYieldsPlaceholder(t *testing.T) {
	chunker := NewChunker()
	docID := primitive.NewObjectID()

	for _, md := range []string{"", "   \n  \n"} {
		chunks := chunker.ChunkMarkdown(docID, "u1", md, nil)
		require.Len(t, chunks, 1)
		assert.Empty(t, chunks[0].Text)
		assert.Equal(t, 0, chunks[0].Ordinal)
		assert.Equal(t, docID, chunks[0].DocumentID)
		assert.NotEmpty(t, chunks[0].ChunkID)
	}
}

func TestChunkMarkdownAttachesFigureByPath(t *testing.T) {
	chunker := NewChunker()
	chunks := chunker.ChunkMarkdown(primitive.NewObjectID(), "u1", sampleMarkdown, sampleAssets())
	require.NotEmpty(t, chunks)

	var attached *models.Chunk
	for i := range chunks {
		if len(chunks[i].Images) > 0 {
			attached = &chunks[i]
			break
		}
	}
	require.NotNil(t, attached, "figure should attach to some chunk")
	assert.Equal(t, "users/u1/doc1/figures/fig1.png", attached.Images[0].BlobPath)
	assert.Equal(t, "Figure 1", attached.Images[0].Label)
	// The figure was referenced from the introduction.
	assert.Equal(t, "Introduction", attached.Section)
}

func TestChunkMarkdownTableFallsBackToSectionEnd(t *testing.T) {
	md := "## Page 1\n\n# Results\n\nNumbers improved across the board.\n"
	assets := []ParsedAsset{{
		Kind:     "table",
		Label:    "Table 3",
		BlobPath: "users/u1/doc1/tables/t3.csv",
		Page:     1,
		Text:     "col_a,col_b\n1,2",
	}}

	chunker := NewChunker()
	chunks := chunker.ChunkMarkdown(primitive.NewObjectID(), "u1", md, assets)
	require.NotEmpty(t, chunks)

	last := chunks[len(chunks)-1]
	require.Len(t, last.Tables, 1)
	assert.Equal(t, "Table 3", last.Tables[0].Label)
	assert.Equal(t, "col_a,col_b\n1,2", last.Tables[0].Text)
}

func TestPackSegmentsOversized(t *testing.T) {
	long := strings.TrimSpace(strings.Repeat("word ", 600)) // ~3000 chars
	packed := packSegments([]string{long})

	require.Greater(t, len(packed), 1)
	for _, p := range packed {
		assert.LessOrEqual(t, len(p), chunkTargetMax)
	}
	assert.Equal(t, long, strings.Join(packed, " "))
}

func TestPackSegmentsMergesSmall(t *testing.T) {
	segs := []string{"short one.", "short two.", "short three."}
	packed := packSegments(segs)
	require.Len(t, packed, 1)
	assert.Equal(t, "short one. short two. short three.", packed[0])
}

func TestEncodeDecodeChunkText(t *testing.T) {
	long := strings.Repeat("compressible research text ", 40)
	chunk := models.Chunk{Text: long}

	require.NoError(t, EncodeChunkText(&chunk))
	assert.Empty(t, chunk.Text)
	assert.NotEmpty(t, chunk.TextEnc)
	assert.Less(t, len(chunk.TextEnc), len(long))

	out, err := DecodeChunkText(&chunk)
	require.NoError(t, err)
	assert.Equal(t, long, out)
}

func TestEncodeForStorageKeepsWorkingSetPlain(t *testing.T) {
	long := strings.Repeat("the method improves recall on every benchmark. ", 30)
	chunks := []models.Chunk{
		{ChunkID: "a", Text: long},
		{ChunkID: "b", Text: "short"},
	}

	stored, err := encodeForStorage(chunks)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	// Large text goes to the store compressed; the in-memory set keeps
	// its plaintext for the embedding step.
	assert.Empty(t, stored[0].Text)
	assert.NotEmpty(t, stored[0].TextEnc)
	assert.Equal(t, long, chunks[0].Text)
	assert.Empty(t, chunks[0].TextEnc)

	assert.Equal(t, "short", stored[1].Text)
	assert.Empty(t, stored[1].TextEnc)

	out, err := DecodeChunkText(&stored[0])
	require.NoError(t, err)
	assert.Equal(t, long, out)
}

func TestEncodeChunkTextSmallStaysPlain(t *testing.T) {
	chunk := models.Chunk{Text: "tiny"}
	require.NoError(t, EncodeChunkText(&chunk))
	assert.Equal(t, "tiny", chunk.Text)
	assert.Empty(t, chunk.TextEnc)
}
