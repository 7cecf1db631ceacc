package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/ai"
	"github.com/DaZeTw/LOL-PaperReader-sub000/models"
	"github.com/DaZeTw/LOL-PaperReader-sub000/utils"
)

const (
	chunkTargetMin = 800
	chunkTargetMax = 1500
)

// Chunker turns parsed markdown into retrievable chunks. Sections are cut
// at headings, long bodies are split semantically, and figure/table
// assets are re-attached to the chunks that mention them.
type Chunker struct {
	splitter *semanticSplitter
}

func NewChunker() *Chunker {
	return &Chunker{splitter: newSemanticSplitter()}
}

var (
	headingRe    = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	pageMarkerRe = regexp.MustCompile(`^## Page (\d+)$`)
	inlineImgRe  = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`)
	assetPathRe  = regexp.MustCompile(`\b[^\s\x01]*(?:figures|tables)/[^\s\x01]+\b`)
)

type section struct {
	title  string
	page   int
	body   []string
	chunks []int // indexes into the output slice, filled while packing
}

// ChunkMarkdown produces the chunk set for one document. Asset blob paths
// must already be final; they are copied into the chunk records. A document
// with no extractable text yields a single chunk with empty text, so the
// pipeline can still drive it to ready (with zero vectors).
func (c *Chunker) ChunkMarkdown(docID primitive.ObjectID, userID, markdown string, assets []ParsedAsset) []models.Chunk {
	// Step 1: replace inline asset references with sentinel tokens so the
	// path survives splitting and can be matched back to a chunk. Image
	// alt text is kept; it usually carries the figure label.
	cleaned := inlineImgRe.ReplaceAllStringFunc(markdown, func(m string) string {
		sub := inlineImgRe.FindStringSubmatch(m)
		return sub[1] + " " + refToken(sub[2])
	})
	cleaned = assetPathRe.ReplaceAllStringFunc(cleaned, func(m string) string {
		return refToken(m)
	})

	// Step 2: split into sections on headings.
	sections := splitSections(cleaned)

	// Steps 3+5: semantic split and pack into sized chunks.
	docHex := docID.Hex()
	var chunks []models.Chunk
	var chunkRefs []map[string]bool
	for si := range sections {
		sec := &sections[si]
		body := strings.TrimSpace(strings.Join(sec.body, "\n"))
		if body == "" {
			continue
		}

		segments := c.splitter.Split(body)
		for _, text := range packSegments(segments) {
			text, refs := extractRefTokens(text)
			if text == "" {
				continue
			}
			ordinal := len(chunks)
			chunks = append(chunks, models.Chunk{
				ChunkID:    utils.ChunkID(docHex, ordinal, text),
				DocumentID: docID,
				UserID:     userID,
				Ordinal:    ordinal,
				Text:       text,
				Section:    sec.title,
				Heading:    sec.title,
				Page:       sec.page,
				CharCount:  len(text),
				TokenCount: ai.CountTokens(text),
				CreatedAt:  time.Now(),
			})
			chunkRefs = append(chunkRefs, refs)
			sec.chunks = append(sec.chunks, ordinal)
		}
	}

	if len(chunks) == 0 {
		chunks = append(chunks, models.Chunk{
			ChunkID:    utils.ChunkID(docHex, 0, ""),
			DocumentID: docID,
			UserID:     userID,
			Ordinal:    0,
			CreatedAt:  time.Now(),
		})
		chunkRefs = append(chunkRefs, nil)
	}

	// Step 4: attach assets.
	attachAssets(chunks, chunkRefs, sections, assets)

	return chunks
}

// refToken wraps a normalized asset path in sentinel bytes so it can be
// located after chunking and stripped from the stored text.
func refToken(path string) string {
	return "\x01" + normalizeAssetPath(path) + "\x01"
}

var refTokenRe = regexp.MustCompile(`\x01([^\x01]*)\x01`)

func extractRefTokens(text string) (string, map[string]bool) {
	refs := make(map[string]bool)
	out := refTokenRe.ReplaceAllStringFunc(text, func(m string) string {
		refs[refTokenRe.FindStringSubmatch(m)[1]] = true
		return ""
	})
	return strings.TrimSpace(out), refs
}

func splitSections(markdown string) []section {
	var sections []section
	current := section{title: ""}
	page := 0

	flush := func() {
		if len(current.body) > 0 || current.title != "" {
			sections = append(sections, current)
		}
	}

	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimRight(line, " \t")

		if m := pageMarkerRe.FindStringSubmatch(trimmed); m != nil {
			page, _ = strconv.Atoi(m[1])
			continue
		}

		if m := headingRe.FindStringSubmatch(trimmed); m != nil {
			flush()
			level := len(m[1])
			title := strings.TrimSpace(m[2])
			current = section{title: title, page: page}
			if level >= 2 {
				// Keep subsection titles searchable inside the body.
				current.body = append(current.body, title)
			}
			continue
		}

		current.body = append(current.body, line)
		if current.page == 0 {
			current.page = page
		}
	}
	flush()
	return sections
}

// packSegments greedily merges semantic segments toward the target size.
// A single oversized segment is hard-split at word boundaries.
func packSegments(segments []string) []string {
	var out []string
	var buf strings.Builder

	emit := func() {
		if text := strings.TrimSpace(buf.String()); text != "" {
			out = append(out, text)
		}
		buf.Reset()
	}

	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}

		if len(seg) > chunkTargetMax {
			emit()
			for _, piece := range hardSplit(seg, chunkTargetMax) {
				out = append(out, piece)
			}
			continue
		}

		if buf.Len() > 0 && buf.Len()+len(seg)+1 > chunkTargetMax {
			emit()
		}
		if buf.Len() > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(seg)
		if buf.Len() >= chunkTargetMin {
			emit()
		}
	}
	emit()
	return out
}

func hardSplit(text string, max int) []string {
	words := strings.Fields(text)
	var out []string
	var buf strings.Builder
	for _, w := range words {
		if buf.Len() > 0 && buf.Len()+len(w)+1 > max {
			out = append(out, buf.String())
			buf.Reset()
		}
		if buf.Len() > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(w)
	}
	if buf.Len() > 0 {
		out = append(out, buf.String())
	}
	return out
}

// attachAssets binds each asset to the chunk that referenced its path or
// mentions its label, then falls back to the final chunk of the section
// covering its page, then to the document's last chunk.
func attachAssets(chunks []models.Chunk, chunkRefs []map[string]bool, sections []section, assets []ParsedAsset) {
	if len(chunks) == 0 {
		return
	}

	for _, asset := range assets {
		target := -1
		path := normalizeAssetPath(asset.LocalPath)

		for i := range chunks {
			if path != "" && chunkRefs[i][path] {
				target = i
				break
			}
			if asset.Label != "" && strings.Contains(chunks[i].Text, asset.Label) {
				target = i
				break
			}
		}

		if target < 0 && asset.Page > 0 {
			for si := len(sections) - 1; si >= 0; si-- {
				if sections[si].page <= asset.Page && len(sections[si].chunks) > 0 {
					target = sections[si].chunks[len(sections[si].chunks)-1]
					break
				}
			}
		}

		if target < 0 {
			target = len(chunks) - 1
		}

		switch asset.Kind {
		case "figure":
			chunks[target].Images = append(chunks[target].Images, models.ChunkImage{
				Label:    asset.Label,
				BlobPath: asset.BlobPath,
				Page:     asset.Page,
			})
		case "table":
			chunks[target].Tables = append(chunks[target].Tables, models.ChunkTable{
				Label:    asset.Label,
				BlobPath: asset.BlobPath,
				Page:     asset.Page,
				Text:     asset.Text,
			})
		}
	}
}

func normalizeAssetPath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "./")
	return strings.ToLower(p)
}

// EncodeChunkText compresses large chunk text for storage. Small chunks
// stay as plain text.
func EncodeChunkText(chunk *models.Chunk) error {
	enc, alg, err := utils.CompressText(chunk.Text)
	if err != nil {
		return err
	}
	if alg == utils.CompressionNone {
		return nil
	}
	chunk.TextEnc = enc
	chunk.Text = ""
	return nil
}

// DecodeChunkText returns the plain text of a chunk regardless of how it
// was stored.
func DecodeChunkText(chunk *models.Chunk) (string, error) {
	if chunk.Text != "" || len(chunk.TextEnc) == 0 {
		return chunk.Text, nil
	}
	return utils.DecompressText(chunk.TextEnc, utils.CompressionBrotli)
}

// encodeForStorage returns a copy of the chunk set with large texts
// compressed into TextEnc. The input chunks are left plain; the embedding
// step still needs their text in the clear.
func encodeForStorage(chunks []models.Chunk) ([]models.Chunk, error) {
	stored := make([]models.Chunk, len(chunks))
	copy(stored, chunks)
	for i := range stored {
		if err := EncodeChunkText(&stored[i]); err != nil {
			return nil, err
		}
	}
	return stored, nil
}
