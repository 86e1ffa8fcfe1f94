package voxcpm

import "strings"

// DefaultVoiceName is advertised when the app exposes no voice list.
const DefaultVoiceName = "Default"

// Voice is a synthesis identity known to the remote app. Name doubles as the
// identifier sent on the wire.
type Voice struct {
	Name    string `json:"name"`
	VoiceID string `json:"voice_id"`
}

// Resolve looks identifier up in voices. Identifiers that are a voice name
// repeated and comma-joined ("Alice,Alice") are matched against the single
// name. Without a match a pass-through voice is fabricated, so Resolve never
// fails.
func Resolve(identifier string, voices []Voice) Voice {
	v, _ := lookup(identifier, voices)
	return v
}

// lookup reports whether the result came from the catalog via duplicate repair.
func lookup(identifier string, voices []Voice) (Voice, bool) {
	if v, ok := findByName(voices, identifier); ok {
		return v, false
	}
	if name, ok := RepairDuplicate(identifier); ok {
		if v, ok := findByName(voices, name); ok {
			return v, true
		}
	}
	return Voice{Name: identifier, VoiceID: identifier}, false
}

// RepairDuplicate returns the repeated part of an identifier made of the same
// value joined by commas more than once. Partial overlaps are left alone.
func RepairDuplicate(identifier string) (string, bool) {
	if !strings.Contains(identifier, ",") {
		return "", false
	}
	parts := strings.Split(identifier, ",")
	if len(parts) < 2 {
		return "", false
	}
	for _, p := range parts[1:] {
		if p != parts[0] {
			return "", false
		}
	}
	return parts[0], true
}

func findByName(voices []Voice, name string) (Voice, bool) {
	for _, v := range voices {
		if v.Name == name {
			return v, true
		}
	}
	return Voice{}, false
}

func hasVoiceID(voices []Voice, id string) bool {
	for _, v := range voices {
		if v.VoiceID == id {
			return true
		}
	}
	return false
}

func voicesFromChoices(choices []string) []Voice {
	if len(choices) == 0 {
		choices = []string{DefaultVoiceName}
	}
	voices := make([]Voice, 0, len(choices))
	for _, c := range choices {
		voices = append(voices, Voice{Name: c, VoiceID: c})
	}
	return voices
}
