package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const refsMarkdown = `# Methods

Some method text.

# References

[1] Smith, J. A study of things. Journal of Things, 2020.
[2] Jones, K. Another study,
    spanning two lines. 2021.
3. Brown, L. Numbered differently. 2022.

# Appendix

Not a reference.
`

func TestParseReferences(t *testing.T) {
	refs := parseReferences(refsMarkdown)
	require.Len(t, refs, 3)
	assert.Equal(t, "Smith, J. A study of things. Journal of Things, 2020.", refs[0])
	assert.Equal(t, "Jones, K. Another study, spanning two lines. 2021.", refs[1])
	assert.Equal(t, "Brown, L. Numbered differently. 2022.", refs[2])
}

func TestParseReferencesBibliographyHeading(t *testing.T) {
	md := "# Bibliography\n\n[1] Only entry. 2019.\n"
	refs := parseReferences(md)
	require.Len(t, refs, 1)
	assert.Equal(t, "Only entry. 2019.", refs[0])
}

func TestParseReferencesNone(t *testing.T) {
	assert.Empty(t, parseReferences("# Introduction\n\nNo references section here.\n"))
}

func TestSectionLeads(t *testing.T) {
	md := `# Introduction

This opening sentence is certainly long enough to keep. A second sentence follows.

# Methods

Short. Another sentence that would have been long enough to keep here.
`
	leads := sectionLeads(md)
	require.Len(t, leads, 1)
	assert.Equal(t, "This opening sentence is certainly long enough to keep.", leads[0])
}
