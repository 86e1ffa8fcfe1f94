package textfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyNoRules(t *testing.T) {
	in := "  「hi」 *wave* there  "
	assert.Equal(t, in, Apply(in, Config{}))
}

func TestApplyOnlyBracketed(t *testing.T) {
	cfg := Config{OnlyBracketed: true}

	assert.Equal(t, "a"+SplitMarker+"b", Apply("「a」x「b」", cfg))
	assert.Equal(t, "only", Apply("she said 「only」 once", cfg))
	assert.Equal(t, "", Apply("no quotes at all", cfg))
	assert.Equal(t, "", Apply("", cfg))
}

func TestApplyOnlyBracketedIsNotNested(t *testing.T) {
	got := Apply("「outer「inner」tail」", Config{OnlyBracketed: true})
	assert.Equal(t, "outer「inner", got)
}

func TestApplyStripEmphasis(t *testing.T) {
	cfg := Config{StripEmphasis: true}

	assert.Equal(t, "hi", Apply("*loud* hi *ignored*", cfg))
	assert.Equal(t, "", Apply("*all of it*", cfg))
	assert.Equal(t, "dangling * star", Apply("dangling * star", cfg))
}

func TestApplyBothRules(t *testing.T) {
	cfg := Config{OnlyBracketed: true, StripEmphasis: true}

	got := Apply("「*smiles* hello」 narration 「*sighs*」「bye *waves*」", cfg)
	assert.Equal(t, "hello"+SplitMarker+"bye", got)

	got = Apply("「*smiles* hello」", cfg)
	assert.Equal(t, "hello", got)
}

func TestApplyStripEmphasisKeepsExistingMarkers(t *testing.T) {
	in := "one *x*" + SplitMarker + " *y* " + SplitMarker + "two"
	assert.Equal(t, "one"+SplitMarker+"two", Apply(in, Config{StripEmphasis: true}))
}
