package textfilter

import "strings"

// Segment splits filtered text on SplitMarker. Parts are trimmed and blank
// parts are dropped; order is preserved.
func Segment(text string) []string {
	if !HasMarker(text) {
		if s := strings.TrimSpace(text); s != "" {
			return []string{s}
		}
		return nil
	}

	var segments []string
	for _, part := range strings.Split(text, SplitMarker) {
		if s := strings.TrimSpace(part); s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}
