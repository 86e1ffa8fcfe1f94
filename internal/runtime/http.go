package runtime

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/loqalabs/loqa-voxcpm/internal/protocol"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// speaker is the slice of the tts service exposed over HTTP.
type speaker interface {
	Speak(ctx context.Context, req protocol.TTSRequest, emit func(protocol.AudioReference)) protocol.TTSStatus
	Voices(ctx context.Context) protocol.VoiceList
	RefreshVoices(ctx context.Context) protocol.VoiceList
}

type speakResponse struct {
	SessionID string                    `json:"session_id"`
	Audio     []protocol.AudioReference `json:"audio"`
}

type errorResponse struct {
	Error     string                    `json:"error"`
	SessionID string                    `json:"session_id,omitempty"`
	Audio     []protocol.AudioReference `json:"audio,omitempty"`
}

func newHandler(svc speaker, ready func() bool, metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
	})
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	mux.HandleFunc("GET /v1/voices", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Voices(r.Context()))
	})
	mux.HandleFunc("POST /v1/voices/refresh", func(w http.ResponseWriter, r *http.Request) {
		list := svc.RefreshVoices(r.Context())
		status := http.StatusOK
		if list.Error != "" {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, list)
	})
	mux.HandleFunc("POST /v1/speak", func(w http.ResponseWriter, r *http.Request) {
		handleSpeak(svc, w, r)
	})
	return otelhttp.NewHandler(mux, "loqa-voxcpm")
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleSpeak(svc speaker, w http.ResponseWriter, r *http.Request) {
	var req protocol.TTSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	audio := []protocol.AudioReference{}
	status := svc.Speak(r.Context(), req, func(ref protocol.AudioReference) {
		audio = append(audio, ref)
	})
	switch {
	case status.Error != "":
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: status.Error, SessionID: status.SessionID, Audio: audio})
	case status.Skipped:
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusOK, speakResponse{SessionID: status.SessionID, Audio: audio})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
