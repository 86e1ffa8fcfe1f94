package tts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-voxcpm/internal/bus"
	"github.com/loqalabs/loqa-voxcpm/internal/config"
	"github.com/loqalabs/loqa-voxcpm/internal/eventstore"
	"github.com/loqalabs/loqa-voxcpm/internal/protocol"
	"github.com/loqalabs/loqa-voxcpm/internal/voxcpm"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/semaphore"
)

// Synthesizer is the part of the VoxCPM provider the service drives.
type Synthesizer interface {
	ProcessText(text string) string
	Voice(ctx context.Context, identifier string) voxcpm.Voice
	Voices(ctx context.Context) []voxcpm.Voice
	RefreshVoices(ctx context.Context) ([]voxcpm.Voice, error)
	Synthesize(ctx context.Context, text, voiceID string) (voxcpm.Result, error)
}

// Service answers speak requests on the bus. Requests run concurrently up to
// the configured limit; the segments of one request are always synthesized
// and published in order.
type Service struct {
	cfg    config.TTSConfig
	bus    *bus.Client
	synth  Synthesizer
	store  *eventstore.Store
	sem    *semaphore.Weighted
	subs   []*nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	logger *slog.Logger
}

func NewService(parent context.Context, cfg config.TTSConfig, busClient *bus.Client, synth Synthesizer, store *eventstore.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	limit := cfg.MaxConcurrency
	if limit <= 0 {
		limit = 1
	}
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		synth:  synth,
		store:  store,
		sem:    semaphore.NewWeighted(int64(limit)),
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "tts-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled || s.bus == nil {
		return nil
	}
	handlers := map[string]nats.MsgHandler{
		protocol.SubjectTTSRequest:       s.handleRequest,
		protocol.SubjectTTSVoices:        s.handleVoices,
		protocol.SubjectTTSVoicesRefresh: s.handleRefresh,
	}
	for subject, handler := range handlers {
		sub, err := s.bus.Conn().Subscribe(subject, handler)
		if err != nil {
			s.unsubscribe()
			return err
		}
		s.subs = append(s.subs, sub)
	}
	s.logger.Info("tts service started", slog.Int("max_concurrency", s.cfg.MaxConcurrency))
	return nil
}

func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.unsubscribe()
	s.wg.Wait()
}

func (s *Service) unsubscribe() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || len(s.subs) > 0 }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TTSRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode tts request", slogError(err))
		return
	}

	if !s.track() {
		return
	}
	go func() {
		defer s.wg.Done()
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			return
		}
		defer s.sem.Release(1)

		status := s.Speak(s.ctx, req, func(ref protocol.AudioReference) {
			if err := s.bus.PublishJSON(protocol.SubjectTTSAudio, ref); err != nil {
				s.logger.Warn("failed to publish audio reference", slogError(err))
			}
		})
		if err := s.bus.PublishJSON(protocol.SubjectTTSDone, status); err != nil {
			s.logger.Warn("failed to publish tts status", slogError(err))
		}
	}()
}

// Speak runs one request to completion, handing each audio reference to emit
// as soon as it is available. The returned status says how it ended; refs
// emitted before a failure stay valid.
func (s *Service) Speak(ctx context.Context, req protocol.TTSRequest, emit func(protocol.AudioReference)) protocol.TTSStatus {
	req = s.normalize(req)
	log := s.logger.With(slog.String("session_id", req.SessionID))
	status := protocol.TTSStatus{SessionID: req.SessionID, Target: req.Target}

	if err := s.store.AppendSession(ctx, eventstore.Session{ID: req.SessionID, Voice: req.Voice, Target: req.Target}); err != nil {
		log.Warn("failed to record session", slogError(err))
	}
	s.record(ctx, req, eventstore.TypeRequest, 0, req)

	text := req.Text
	if !req.Raw {
		text = s.synth.ProcessText(text)
	}
	if strings.TrimSpace(text) == "" {
		log.Debug("nothing to speak")
		status.Skipped = true
		return s.finish(ctx, req, status, eventstore.TypeSkipped)
	}

	voice := s.synth.Voice(ctx, req.Voice)
	res, err := s.synth.Synthesize(ctx, text, voice.VoiceID)
	if err != nil {
		return s.fail(ctx, req, status, err)
	}

	deliver := func(ref voxcpm.AudioRef, final bool) {
		out := protocol.AudioReference{
			SessionID: req.SessionID,
			Target:    req.Target,
			Sequence:  ref.Sequence,
			Text:      ref.Text,
			URL:       ref.URL,
			Path:      ref.Path,
			MimeType:  ref.MimeType,
			Final:     final,
			Timestamp: time.Now().UTC(),
		}
		s.record(ctx, req, eventstore.TypeAudio, ref.Sequence, out)
		emit(out)
		status.Segments++
	}

	switch {
	case res.Audio != nil:
		deliver(*res.Audio, true)
	case res.Stream != nil:
		defer res.Stream.Close()
		for {
			ref, err := res.Stream.Next(ctx)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return s.fail(ctx, req, status, err)
			}
			deliver(ref, ref.Sequence == res.Stream.Len()-1)
		}
	default:
		status.Skipped = true
		return s.finish(ctx, req, status, eventstore.TypeSkipped)
	}

	status.Completed = true
	log.Info("tts session completed", slog.Int("segments", status.Segments), slog.String("voice", voice.Name))
	return s.finish(ctx, req, status, eventstore.TypeDone)
}

// Voices answers with the current catalog.
func (s *Service) Voices(ctx context.Context) protocol.VoiceList {
	return voiceList(s.synth.Voices(ctx), nil)
}

// RefreshVoices re-reads the catalog from the app.
func (s *Service) RefreshVoices(ctx context.Context) protocol.VoiceList {
	voices, err := s.synth.RefreshVoices(ctx)
	return voiceList(voices, err)
}

func (s *Service) handleVoices(msg *nats.Msg) {
	s.reply(msg, func(ctx context.Context) protocol.VoiceList { return s.Voices(ctx) })
}

func (s *Service) handleRefresh(msg *nats.Msg) {
	s.reply(msg, func(ctx context.Context) protocol.VoiceList { return s.RefreshVoices(ctx) })
}

func (s *Service) reply(msg *nats.Msg, answer func(context.Context) protocol.VoiceList) {
	if msg.Reply == "" {
		return
	}
	if !s.track() {
		return
	}
	go func() {
		defer s.wg.Done()
		data, err := json.Marshal(answer(s.ctx))
		if err != nil {
			s.logger.Warn("failed to marshal voice list", slogError(err))
			return
		}
		if err := msg.Respond(data); err != nil {
			s.logger.Warn("failed to respond with voice list", slogError(err))
		}
	}()
}

// track registers a handler goroutine. It refuses once Close has begun, since
// subscriptions keep delivering while they drain.
func (s *Service) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Service) normalize(req protocol.TTSRequest) protocol.TTSRequest {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if strings.TrimSpace(req.Voice) == "" {
		req.Voice = s.cfg.DefaultVoice
	}
	if req.Target == "" {
		req.Target = s.cfg.Target
	}
	return req
}

func (s *Service) fail(ctx context.Context, req protocol.TTSRequest, status protocol.TTSStatus, err error) protocol.TTSStatus {
	s.logger.Warn("tts synthesis failed",
		slog.String("session_id", req.SessionID),
		slog.Int("segments", status.Segments),
		slogError(err))
	status.Error = err.Error()
	return s.finish(ctx, req, status, eventstore.TypeFailed)
}

func (s *Service) finish(ctx context.Context, req protocol.TTSRequest, status protocol.TTSStatus, eventType string) protocol.TTSStatus {
	status.Timestamp = time.Now().UTC()
	s.record(ctx, req, eventType, status.Segments, status)
	return status
}

func (s *Service) record(ctx context.Context, req protocol.TTSRequest, eventType string, sequence int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", slogError(err))
		return
	}
	evt := eventstore.Event{SessionID: req.SessionID, TraceID: req.TraceID, Type: eventType, Sequence: sequence, Payload: data}
	if err := s.store.AppendEvent(ctx, evt); err != nil {
		s.logger.Warn("failed to record event", slog.String("type", eventType), slogError(err))
	}
}

func voiceList(voices []voxcpm.Voice, err error) protocol.VoiceList {
	out := protocol.VoiceList{Voices: make([]protocol.Voice, 0, len(voices))}
	for _, v := range voices {
		out.Voices = append(out.Voices, protocol.Voice{Name: v.Name, VoiceID: v.VoiceID})
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
