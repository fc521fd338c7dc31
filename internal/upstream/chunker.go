package upstream

import (
	"strings"
	"unicode"
)

// defaultChunkCap is the soft length cap for natural chunks. Segments are
// accumulated greedily up to this many characters; a single segment longer
// than the cap stays whole rather than being cut mid-word.
const defaultChunkCap = 100

// naturalChunks splits text at linguistically meaningful boundaries
// (sentence terminators and paragraph breaks) and greedily groups the
// resulting segments up to the soft cap. The chunks concatenate back to the
// input exactly, so downstream accumulation reproduces the original text.
func naturalChunks(text string, softCap int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if softCap <= 0 {
		softCap = defaultChunkCap
	}

	segments := splitSegments(text)

	var chunks []string
	var current strings.Builder
	for _, seg := range segments {
		if current.Len() > 0 && current.Len()+len(seg) > softCap {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		current.WriteString(seg)
		if strings.Contains(seg, "\n\n") || current.Len() >= softCap {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// splitSegments cuts text after sentence terminators (., !, ?) followed by
// whitespace, and after paragraph breaks. Each segment keeps its trailing
// whitespace so the segments concatenate back to the input byte-for-byte.
func splitSegments(text string) []string {
	var segments []string
	runes := []rune(text)
	start := 0

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		boundary := false
		switch {
		case r == '.' || r == '!' || r == '?':
			next := i + 1
			if next >= len(runes) || unicode.IsSpace(runes[next]) {
				if !isAbbreviation(string(runes[start : i+1])) {
					boundary = true
				}
			}
		case r == '\n' && i+1 < len(runes) && runes[i+1] == '\n':
			i++ // consume the second newline into this segment
			boundary = true
		}

		if boundary {
			// Fold the trailing whitespace run into this segment.
			end := i + 1
			for end < len(runes) && unicode.IsSpace(runes[end]) {
				end++
			}
			segments = append(segments, string(runes[start:end]))
			start = end
			i = end - 1
		}
	}

	if start < len(runes) {
		segments = append(segments, string(runes[start:]))
	}
	return segments
}

// isAbbreviation checks if a segment ends with a common abbreviation that
// should not terminate a sentence.
func isAbbreviation(text string) bool {
	abbreviations := []string{
		"mr.", "mrs.", "ms.", "dr.", "prof.",
		"inc.", "ltd.", "corp.",
		"etc.", "e.g.", "i.e.",
		"vs.", "v.",
		"no.", "vol.", "pg.",
	}

	lower := strings.ToLower(strings.TrimRight(text, " \t"))
	for _, abbr := range abbreviations {
		if strings.HasSuffix(lower, abbr) {
			return true
		}
	}
	return false
}
