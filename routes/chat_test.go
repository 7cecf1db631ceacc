package routes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocumentNameFromTitle(t *testing.T) {
	cases := []struct {
		title string
		want  string
	}{
		{"Chat: transformer.pdf", "transformer.pdf"},
		{"Chat: transformer.pdf - 2026-08-26T10:00:00Z - a1b2c3", "transformer.pdf"},
		// The filename itself may contain the separator.
		{"Chat: attention - is all you need.pdf - 2026-08-26 - xyz", "attention - is all you need.pdf"},
		{"Chat:nospace.pdf", "nospace.pdf"},
		{"  Chat: padded.pdf  ", "padded.pdf"},
		// No prefix means no document binding.
		{"My reading notes", ""},
		{"chat: lowercase.pdf", ""},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, documentNameFromTitle(tc.title), "title %q", tc.title)
	}
}
