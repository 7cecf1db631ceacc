package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAllCaps(t *testing.T) {
	assert.True(t, isAllCaps("ABSTRACT"))
	assert.True(t, isAllCaps("RELATED WORK"))
	assert.False(t, isAllCaps("Abstract"))
	assert.False(t, isAllCaps("1234"))
	assert.False(t, isAllCaps(""))
}

func TestIsAcademicSection(t *testing.T) {
	assert.True(t, isAcademicSection("Introduction"))
	assert.True(t, isAcademicSection("3. Methods"))
	assert.True(t, isAcademicSection("REFERENCES"))
	assert.True(t, isAcademicSection("Related Work 7")) // trailing page number
	assert.False(t, isAcademicSection("The quick brown fox"))
}

func TestLayoutScoreFavorsHeadings(t *testing.T) {
	heading := textLine{
		text:     "3. Experiments",
		fontSize: 14,
		spans:    1,
		bold:     true,
		gapAbove: 30,
		minX:     50,
		pageW:    600,
	}
	body := textLine{
		text:     "We trained the model for twelve epochs on the full corpus and report the mean of three runs.",
		fontSize: 10,
		spans:    6,
		gapAbove: 2,
		minX:     50,
		pageW:    600,
	}

	assert.GreaterOrEqual(t, layoutScore(heading), 3)
	assert.Less(t, layoutScore(body), 3)
	assert.Greater(t, layoutScore(heading), layoutScore(body))
}

func TestLayoutScorePenalizesColonEndings(t *testing.T) {
	label := textLine{text: "Definition:", fontSize: 10, spans: 1}
	plain := textLine{text: "Definition", fontSize: 10, spans: 1}
	assert.Less(t, layoutScore(label), layoutScore(plain))
}

func TestHeadingLevelRequiresLayoutEvidence(t *testing.T) {
	centroids := []float64{16, 13}

	big := textLine{text: "Results", fontSize: 16, spans: 1, bold: true, gapAbove: 40}
	assert.Equal(t, 1, headingLevel(big, centroids, 10))

	// Large font but body-like layout stays body text.
	bigBody := textLine{
		text:     "This is a long sentence pulled out in large type that still reads like running prose and ends with a period.",
		fontSize: 16,
		spans:    8,
	}
	assert.Equal(t, 0, headingLevel(bigBody, centroids, 10))

	// Body-sized font never promotes.
	small := textLine{text: "Results", fontSize: 10, bold: true}
	assert.Equal(t, 0, headingLevel(small, centroids, 10))
}

func TestFigurePageFromName(t *testing.T) {
	assert.Equal(t, 3, figurePageFromName("/tmp/scratch/fig-003-000.png"))
	assert.Equal(t, 12, figurePageFromName("fig-012-001.png"))
	assert.Equal(t, 0, figurePageFromName("figure.png"))
}

func TestSplitColumns(t *testing.T) {
	assert.Equal(t, []string{"model", "accuracy", "f1"}, splitColumns("model   accuracy\tf1"))
	assert.Equal(t, []string{"one two"}, splitColumns("one two"))
	assert.Nil(t, splitColumns("   "))
}
