package workflow

import (
	"regexp"
	"strings"
)

var (
	bulletMarker   = regexp.MustCompile(`^\s*[-•*]\s*`)
	numberedMarker = regexp.MustCompile(`^\s*\d+\.\s*`)
)

// headerPrefixes are line openers that mark section headers rather than
// bullet content in the line-split fallback.
var headerPrefixes = []string{"experience", "job", "position"}

// Extract parses raw generation output into exactly n bullet strings. It
// never fails: marker-prefixed lines are tried first, then numbered lists,
// then a plain line split with headers dropped. The result is truncated or
// right-padded with empty strings to length n; empty entries mean the bullet
// was not generated.
func Extract(raw string, n int) []string {
	if n < 1 {
		n = 1
	}

	segments := markerSegments(raw, bulletMarker)
	if len(segments) != n {
		segments = markerSegments(raw, numberedMarker)
	}
	if len(segments) != n {
		segments = lineSegments(raw)
	}

	cleaned := make([]string, 0, len(segments))
	for _, seg := range segments {
		if trimmed := strings.TrimSpace(seg); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}

	if len(cleaned) > n {
		cleaned = cleaned[:n]
	}
	for len(cleaned) < n {
		cleaned = append(cleaned, "")
	}
	return cleaned
}

// markerSegments splits text into segments that start at a marker line. A
// segment runs until the next marker line or a blank line; continuation
// lines are joined with a space.
func markerSegments(text string, marker *regexp.Regexp) []string {
	var segments []string
	var current *strings.Builder

	flush := func() {
		if current != nil {
			if seg := strings.TrimSpace(current.String()); seg != "" {
				segments = append(segments, seg)
			}
			current = nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		if loc := marker.FindStringIndex(line); loc != nil {
			flush()
			current = &strings.Builder{}
			current.WriteString(line[loc[1]:])
			continue
		}
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if current != nil {
			current.WriteString(" ")
			current.WriteString(strings.TrimSpace(line))
		}
	}
	flush()
	return segments
}

// lineSegments is the last-resort split: every non-empty line that is not a
// recognized header becomes a segment.
func lineSegments(text string) []string {
	var segments []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || isHeaderLine(trimmed) {
			continue
		}
		segments = append(segments, trimmed)
	}
	return segments
}

func isHeaderLine(line string) bool {
	lower := strings.ToLower(line)
	for _, prefix := range headerPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
