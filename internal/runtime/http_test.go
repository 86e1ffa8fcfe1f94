package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-voxcpm/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSpeaker struct {
	refs   []protocol.AudioReference
	status protocol.TTSStatus
	voices protocol.VoiceList
	got    protocol.TTSRequest
}

func (s *stubSpeaker) Speak(ctx context.Context, req protocol.TTSRequest, emit func(protocol.AudioReference)) protocol.TTSStatus {
	s.got = req
	for _, ref := range s.refs {
		emit(ref)
	}
	return s.status
}

func (s *stubSpeaker) Voices(ctx context.Context) protocol.VoiceList        { return s.voices }
func (s *stubSpeaker) RefreshVoices(ctx context.Context) protocol.VoiceList { return s.voices }

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestHealthAndReady(t *testing.T) {
	ready := false
	h := newHandler(&stubSpeaker{}, func() bool { return ready }, nil)

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(h, http.MethodGet, "/readyz", "").Code)
	ready = true
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/readyz", "").Code)
}

func TestSpeakReturnsAudioInOrder(t *testing.T) {
	stub := &stubSpeaker{
		refs: []protocol.AudioReference{
			{SessionID: "s1", Sequence: 0, URL: "http://voxcpm/a.wav"},
			{SessionID: "s1", Sequence: 1, URL: "http://voxcpm/b.wav"},
		},
		status: protocol.TTSStatus{SessionID: "s1", Completed: true, Segments: 2},
	}
	h := newHandler(stub, func() bool { return true }, nil)

	rec := serve(h, http.MethodPost, "/v1/speak", `{"text":"a###SPLIT###b","voice":"Alice","raw":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Alice", stub.got.Voice)
	assert.True(t, stub.got.Raw)

	var resp speakResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "s1", resp.SessionID)
	require.Len(t, resp.Audio, 2)
	assert.Equal(t, "http://voxcpm/b.wav", resp.Audio[1].URL)
}

func TestSpeakSkippedAndFailed(t *testing.T) {
	stub := &stubSpeaker{status: protocol.TTSStatus{Skipped: true}}
	h := newHandler(stub, func() bool { return true }, nil)
	assert.Equal(t, http.StatusNoContent, serve(h, http.MethodPost, "/v1/speak", `{"text":"plain"}`).Code)

	stub.status = protocol.TTSStatus{SessionID: "s2", Error: "no audio returned"}
	stub.refs = []protocol.AudioReference{{SessionID: "s2", URL: "http://voxcpm/a.wav"}}
	rec := serve(h, http.MethodPost, "/v1/speak", `{"text":"a###SPLIT###b"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "no audio returned", resp.Error)
	assert.Len(t, resp.Audio, 1)

	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodPost, "/v1/speak", `{`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(h, http.MethodGet, "/v1/speak", "").Code)
}

func TestVoicesEndpoints(t *testing.T) {
	stub := &stubSpeaker{voices: protocol.VoiceList{Voices: []protocol.Voice{{Name: "Alice", VoiceID: "Alice"}}}}
	h := newHandler(stub, func() bool { return true }, nil)

	rec := serve(h, http.MethodGet, "/v1/voices", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list protocol.VoiceList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, stub.voices, list)

	stub.voices = protocol.VoiceList{Voices: []protocol.Voice{}, Error: "refresh voices: unreachable"}
	assert.Equal(t, http.StatusBadGateway, serve(h, http.MethodPost, "/v1/voices/refresh", "").Code)
}
