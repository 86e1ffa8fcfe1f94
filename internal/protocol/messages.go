package protocol

import "time"

// TTSRequest asks the runtime to speak text.
type TTSRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Voice     string `json:"voice,omitempty"`
	Target    string `json:"target,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
	// Raw marks text that was already filtered and must be spoken as is.
	Raw bool `json:"raw,omitempty"`
}

// AudioReference points at synthesized audio for one segment. Consumers play
// references of a session in Sequence order.
type AudioReference struct {
	SessionID string    `json:"session_id"`
	Target    string    `json:"target,omitempty"`
	Sequence  int       `json:"sequence"`
	Text      string    `json:"text,omitempty"`
	URL       string    `json:"url,omitempty"`
	Path      string    `json:"path,omitempty"`
	MimeType  string    `json:"mime_type,omitempty"`
	Final     bool      `json:"final,omitempty"` // last segment of the session
	Timestamp time.Time `json:"timestamp"`
}

// TTSStatus closes a session. Exactly one of Completed, Skipped or Error is set.
type TTSStatus struct {
	SessionID string    `json:"session_id"`
	Target    string    `json:"target,omitempty"`
	Completed bool      `json:"completed"`
	Skipped   bool      `json:"skipped,omitempty"`
	Error     string    `json:"error,omitempty"`
	Segments  int       `json:"segments"`
	Timestamp time.Time `json:"timestamp"`
}

// Voice mirrors a catalog entry.
type Voice struct {
	Name    string `json:"name"`
	VoiceID string `json:"voice_id"`
}

// VoiceList answers voice queries.
type VoiceList struct {
	Voices []Voice `json:"voices"`
	Error  string  `json:"error,omitempty"`
}

const (
	SubjectTTSRequest       = "tts.request"
	SubjectTTSAudio         = "tts.audio"
	SubjectTTSDone          = "tts.done"
	SubjectTTSVoices        = "tts.voices"
	SubjectTTSVoicesRefresh = "tts.voices.refresh"
)
