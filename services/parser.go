package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/logger"
)

// ParsedAsset is one figure or table extracted alongside the markdown.
// LocalPath points into the scratch dir; BlobPath is filled once the
// ingestion pipeline persists the asset.
type ParsedAsset struct {
	Kind      string // "figure" or "table"
	Label     string // "Figure 1", "Table 2"
	LocalPath string
	BlobPath  string
	Page      int
	Text      string // table preview rows, empty for figures
}

// ParseResult is the parser output: markdown with `## Page N` breaks and
// heading structure, plus asset descriptors.
type ParseResult struct {
	Markdown string
	Pages    int
	Assets   []ParsedAsset
}

// PDFParser turns PDF bytes into structured markdown. Heading levels are
// inferred per document from font-size clusters, never from absolute
// sizes, so it holds up across templates.
type PDFParser struct{}

func NewPDFParser() *PDFParser {
	return &PDFParser{}
}

// textLine is one visual line reassembled from positioned glyph runs.
type textLine struct {
	text     string
	fontSize float64
	spans    int
	bold     bool
	minX     float64
	y        float64
	gapAbove float64
	page     int
	pageW    float64
}

var academicSections = map[string]bool{
	"abstract": true, "introduction": true, "background": true,
	"related work": true, "method": true, "methods": true,
	"methodology": true, "approach": true, "experiments": true,
	"evaluation": true, "results": true, "discussion": true,
	"conclusion": true, "conclusions": true, "references": true,
	"acknowledgements": true, "acknowledgments": true, "appendix": true,
	"limitations": true, "future work": true,
}

var (
	numberedHeadingRe = regexp.MustCompile(`^(\d+(\.\d+)*\.?|[IVXLC]+\.|[A-Z]\.)\s+\S`)
	figureCaptionRe   = regexp.MustCompile(`(?i)^(figure|fig\.?)\s+(\d+)`)
	trailingNumRe     = regexp.MustCompile(`\s+\d+$`)
)

// Parse extracts text, headings, figures and tables. Figures require the
// poppler pdfimages binary; when it is absent the document simply has no
// figure assets.
func (p *PDFParser) Parse(ctx context.Context, content []byte, scratchDir string) (*ParseResult, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	pages := reader.NumPage()
	var allLines []textLine
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		allLines = append(allLines, extractLines(page, i)...)
	}

	// Degenerate input: too little text to infer structure.
	usable := 0
	for _, l := range allLines {
		if len(strings.TrimSpace(l.text)) > 0 {
			usable++
		}
	}
	if usable < 10 {
		var sb strings.Builder
		sb.WriteString("# Document\n\n")
		for _, l := range allLines {
			sb.WriteString(l.text)
			sb.WriteString("\n")
		}
		return &ParseResult{Markdown: sb.String(), Pages: pages}, nil
	}

	levels := headingLevels(allLines)
	markdown := renderMarkdown(allLines, levels)

	result := &ParseResult{Markdown: markdown, Pages: pages}

	figures, err := p.extractFigures(ctx, content, scratchDir, allLines)
	if err != nil {
		logger.Warn("Figure extraction failed", "error", err)
	} else {
		result.Assets = append(result.Assets, figures...)
	}

	tables, err := extractTables(allLines, scratchDir)
	if err != nil {
		logger.Warn("Table extraction failed", "error", err)
	} else {
		result.Assets = append(result.Assets, tables...)
	}

	return result, nil
}

// extractLines groups positioned glyph runs into visual lines, keyed by
// rounded Y, and computes the layout attributes the heading scorer needs.
func extractLines(page pdf.Page, pageNum int) []textLine {
	content := page.Content()
	if len(content.Text) == 0 {
		return nil
	}

	type lineAcc struct {
		runs     []pdf.Text
		sizeSum  float64
		minX     float64
		maxX     float64
		boldRuns int
		fonts    map[string]bool
	}

	byY := make(map[int]*lineAcc)
	var pageW float64
	for _, t := range content.Text {
		if t.S == "" {
			continue
		}
		key := int(math.Round(t.Y))
		acc, ok := byY[key]
		if !ok {
			acc = &lineAcc{minX: t.X, maxX: t.X, fonts: make(map[string]bool)}
			byY[key] = acc
		}
		acc.runs = append(acc.runs, t)
		acc.sizeSum += t.FontSize
		if t.X < acc.minX {
			acc.minX = t.X
		}
		if right := t.X + t.W; right > acc.maxX {
			acc.maxX = right
		}
		if strings.Contains(strings.ToLower(t.Font), "bold") {
			acc.boldRuns++
		}
		acc.fonts[t.Font] = true
		if t.X+t.W > pageW {
			pageW = t.X + t.W
		}
	}

	keys := make([]int, 0, len(byY))
	for k := range byY {
		keys = append(keys, k)
	}
	// PDF Y grows upward; top of page first.
	sort.Sort(sort.Reverse(sort.IntSlice(keys)))

	lines := make([]textLine, 0, len(keys))
	prevY := math.Inf(1)
	for _, k := range keys {
		acc := byY[k]
		sort.Slice(acc.runs, func(i, j int) bool { return acc.runs[i].X < acc.runs[j].X })

		var sb strings.Builder
		for _, r := range acc.runs {
			sb.WriteString(r.S)
		}
		text := strings.TrimSpace(sb.String())
		if text == "" {
			continue
		}

		size := acc.sizeSum / float64(len(acc.runs))
		gap := 0.0
		if !math.IsInf(prevY, 1) {
			gap = prevY - float64(k)
		}
		prevY = float64(k)

		lines = append(lines, textLine{
			text:     text,
			fontSize: size,
			spans:    len(acc.fonts),
			bold:     acc.boldRuns*2 > len(acc.runs),
			minX:     acc.minX,
			y:        float64(k),
			gapAbove: gap,
			page:     pageNum,
			pageW:    pageW,
		})
	}
	return lines
}

// headingLevels runs pass 1: cluster line font sizes above the body
// median into up to three heading bands, largest first. Returns the band
// lower bounds; index 0 = H1.
func headingLevels(lines []textLine) []float64 {
	sizes := make([]float64, 0, len(lines))
	for _, l := range lines {
		sizes = append(sizes, l.fontSize)
	}
	body := median(sizes)

	var above []float64
	for _, s := range sizes {
		if s > body+0.5 {
			above = append(above, s)
		}
	}
	if len(above) == 0 {
		return nil
	}

	k := 3
	if len(above) < k {
		k = len(above)
	}
	return kmeans1D(above, k, 50)
}

// headingLevel assigns a line to the nearest heading centroid, or 0 when
// its layout score falls below the threshold.
func headingLevel(l textLine, centroids []float64, bodySize float64) int {
	if len(centroids) == 0 || l.fontSize <= bodySize+0.5 {
		return 0
	}

	best := 0
	bestDist := math.Inf(1)
	for i, c := range centroids {
		if d := math.Abs(l.fontSize - c); d < bestDist {
			best = i
			bestDist = d
		}
	}

	if layoutScore(l) < 3 {
		return 0
	}
	return best + 1
}

// layoutScore accumulates heading evidence beyond font size. Threshold
// is 3; size alone never promotes a line.
func layoutScore(l textLine) int {
	score := 0
	text := l.text

	if len(text) < 60 {
		score += 2
	}
	if l.spans <= 2 {
		score++
	}
	if l.bold {
		score += 2
	}
	if l.fontSize > 0 && l.gapAbove > 1.5*l.fontSize {
		score++
	}
	if l.pageW > 0 && l.minX <= 0.2*l.pageW {
		score++
	}
	if !strings.HasSuffix(text, ".") {
		score++
	}
	if strings.HasSuffix(text, ":") {
		score -= 2
	}
	if isAllCaps(text) {
		score += 2
	}
	if isAcademicSection(text) {
		score += 4
	}
	if numberedHeadingRe.MatchString(text) {
		score += 2
	}
	return score
}

func isAllCaps(s string) bool {
	hasLetter := false
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			return false
		}
		if r >= 'A' && r <= 'Z' {
			hasLetter = true
		}
	}
	return hasLetter
}

func isAcademicSection(s string) bool {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = trailingNumRe.ReplaceAllString(norm, "")
	norm = strings.TrimRight(norm, ".:")
	// Strip a leading section number
	if m := numberedHeadingRe.FindString(norm); m != "" {
		norm = strings.TrimSpace(norm[strings.IndexAny(norm, " \t"):])
	}
	return academicSections[norm]
}

// renderMarkdown runs pass 2: emit page markers, headings and body text.
func renderMarkdown(lines []textLine, centroids []float64) string {
	sizes := make([]float64, 0, len(lines))
	for _, l := range lines {
		sizes = append(sizes, l.fontSize)
	}
	body := median(sizes)

	var sb strings.Builder
	currentPage := 0
	inParagraph := false

	for _, l := range lines {
		if l.page != currentPage {
			currentPage = l.page
			if inParagraph {
				sb.WriteString("\n")
				inParagraph = false
			}
			sb.WriteString(fmt.Sprintf("\n## Page %d\n\n", currentPage))
		}

		if level := headingLevel(l, centroids, body); level > 0 {
			if inParagraph {
				sb.WriteString("\n\n")
				inParagraph = false
			}
			sb.WriteString(strings.Repeat("#", level))
			sb.WriteString(" ")
			sb.WriteString(l.text)
			sb.WriteString("\n\n")
			continue
		}

		// Large vertical gap starts a new paragraph.
		if inParagraph && l.fontSize > 0 && l.gapAbove > 1.8*l.fontSize {
			sb.WriteString("\n\n")
			inParagraph = false
		}

		if inParagraph {
			sb.WriteString(" ")
		}
		sb.WriteString(l.text)
		inParagraph = true
	}
	if inParagraph {
		sb.WriteString("\n")
	}
	return sb.String()
}

// extractFigures shells out to poppler's pdfimages when present. Captions
// found in the text are bound to the extracted files in order.
func (p *PDFParser) extractFigures(ctx context.Context, content []byte, scratchDir string, lines []textLine) ([]ParsedAsset, error) {
	if _, err := exec.LookPath("pdfimages"); err != nil {
		// Optional dependency; no figures without it.
		return nil, nil
	}

	figDir := filepath.Join(scratchDir, "figures")
	if err := os.MkdirAll(figDir, 0o755); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(scratchDir, "src-*.pdf")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return nil, err
	}
	tmp.Close()

	extractCtx, cancelFn := context.WithTimeout(ctx, 60*time.Second)
	defer cancelFn()

	cmd := exec.CommandContext(extractCtx, "pdfimages", "-png", "-p", tmp.Name(), filepath.Join(figDir, "fig"))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdfimages failed: %v, stderr: %s", err, stderr.String())
	}

	matches, err := filepath.Glob(filepath.Join(figDir, "fig-*.png"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	// Collect captions in reading order.
	type caption struct {
		label string
		page  int
	}
	var captions []caption
	for _, l := range lines {
		if m := figureCaptionRe.FindStringSubmatch(l.text); m != nil {
			captions = append(captions, caption{label: "Figure " + m[2], page: l.page})
		}
	}

	assets := make([]ParsedAsset, 0, len(matches))
	for i, path := range matches {
		asset := ParsedAsset{
			Kind:      "figure",
			Label:     fmt.Sprintf("Figure %d", i+1),
			LocalPath: path,
			Page:      figurePageFromName(path),
		}
		if i < len(captions) {
			asset.Label = captions[i].label
			if asset.Page == 0 {
				asset.Page = captions[i].page
			}
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

// figurePageFromName parses the page number out of pdfimages' -p naming
// (fig-NNN-MMM.png, NNN = page).
func figurePageFromName(path string) int {
	base := filepath.Base(path)
	parts := strings.Split(strings.TrimSuffix(base, filepath.Ext(base)), "-")
	if len(parts) < 3 {
		return 0
	}
	var page int
	fmt.Sscanf(parts[1], "%d", &page)
	return page
}

// extractTables finds runs of column-aligned lines and writes each as CSV.
func extractTables(lines []textLine, scratchDir string) ([]ParsedAsset, error) {
	tableDir := filepath.Join(scratchDir, "tables")

	var assets []ParsedAsset
	var current [][]string
	currentPage := 0
	tableNum := 0

	flush := func() error {
		if len(current) < 2 {
			current = nil
			return nil
		}
		cols := len(current[0])
		if cols < 2 {
			current = nil
			return nil
		}

		if err := os.MkdirAll(tableDir, 0o755); err != nil {
			return err
		}
		tableNum++
		path := filepath.Join(tableDir, fmt.Sprintf("table-%d.csv", tableNum))
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		w := csv.NewWriter(f)
		for _, row := range current {
			if err := w.Write(row); err != nil {
				f.Close()
				return err
			}
		}
		w.Flush()
		if err := f.Close(); err != nil {
			return err
		}

		preview := previewRows(current, 3)
		assets = append(assets, ParsedAsset{
			Kind:      "table",
			Label:     fmt.Sprintf("Table %d", tableNum),
			LocalPath: path,
			Page:      currentPage,
			Text:      preview,
		})
		current = nil
		return nil
	}

	for _, l := range lines {
		cells := splitColumns(l.text)
		if len(cells) >= 2 {
			if len(current) == 0 {
				currentPage = l.page
			}
			current = append(current, cells)
			continue
		}
		if err := flush(); err != nil {
			return assets, err
		}
	}
	if err := flush(); err != nil {
		return assets, err
	}
	return assets, nil
}

var columnSplitRe = regexp.MustCompile(`\t|\s{2,}`)

func splitColumns(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	parts := columnSplitRe.Split(line, -1)
	var cells []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cells = append(cells, p)
		}
	}
	return cells
}

func previewRows(rows [][]string, n int) string {
	if n > len(rows) {
		n = len(rows)
	}
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteString(strings.Join(rows[i], " | "))
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}
