// Package textfilter reduces chat text to the parts that should be spoken and
// splits the result into independently synthesizable segments.
package textfilter

import (
	"regexp"
	"strings"
)

// SplitMarker delimits segments inside filtered text. It must never occur in
// natural chat content.
const SplitMarker = "###SPLIT###"

var (
	bracketPattern  = regexp.MustCompile(`「([^」]*)」`)
	emphasisPattern = regexp.MustCompile(`\*[^*]*\*`)
)

// Config selects which filtering rules apply.
type Config struct {
	// OnlyBracketed keeps only text quoted with 「 and 」.
	OnlyBracketed bool `yaml:"only_bracketed" json:"only_bracketed"`
	// StripEmphasis drops text wrapped in asterisks, even inside brackets.
	StripEmphasis bool `yaml:"strip_emphasis" json:"strip_emphasis"`
}

// Apply filters text according to cfg. An empty result means there is nothing
// to speak; it is not an error.
func Apply(text string, cfg Config) string {
	out := text

	if cfg.OnlyBracketed {
		matches := bracketPattern.FindAllStringSubmatch(text, -1)
		if len(matches) == 0 {
			return ""
		}
		quoted := make([]string, 0, len(matches))
		for _, m := range matches {
			quoted = append(quoted, m[1])
		}
		out = strings.Join(quoted, SplitMarker)
	}

	if cfg.StripEmphasis {
		if !HasMarker(out) {
			return stripEmphasis(out)
		}
		parts := strings.Split(out, SplitMarker)
		kept := parts[:0]
		for _, p := range parts {
			if p = stripEmphasis(p); p != "" {
				kept = append(kept, p)
			}
		}
		out = strings.Join(kept, SplitMarker)
	}

	return out
}

// HasMarker reports whether text carries more than one segment candidate.
func HasMarker(text string) bool {
	return strings.Contains(text, SplitMarker)
}

func stripEmphasis(s string) string {
	return strings.TrimSpace(emphasisPattern.ReplaceAllString(s, ""))
}
