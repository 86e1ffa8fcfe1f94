// Package voxcpm adapts a VoxCPM speech-synthesis app to the runtime: it
// filters chat text, resolves voices against the app's catalog and turns each
// speakable segment into a reference to synthesized audio.
package voxcpm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-voxcpm/internal/gradio"
	"github.com/loqalabs/loqa-voxcpm/internal/textfilter"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultEndpoint   = "http://localhost:7861"
	DefaultJobName    = "/do_job"
	DefaultPromptText = "Hello!!"
	DefaultVoiceLabel = "音色列表"
)

// Settings is an immutable snapshot of provider configuration. Every
// operation reads the snapshot once when it starts.
type Settings struct {
	Endpoint   string
	Speed      float64
	Filter     textfilter.Config
	PromptText string
	JobName    string
	VoiceLabel string
}

// DefaultSettings mirrors the stock VoxCPM web UI.
func DefaultSettings() Settings {
	return Settings{
		Endpoint:   DefaultEndpoint,
		Speed:      1.0,
		PromptText: DefaultPromptText,
		JobName:    DefaultJobName,
		VoiceLabel: DefaultVoiceLabel,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if strings.TrimSpace(s.Endpoint) == "" {
		s.Endpoint = d.Endpoint
	}
	if s.Speed <= 0 {
		s.Speed = d.Speed
	}
	if s.PromptText == "" {
		s.PromptText = d.PromptText
	}
	if s.JobName == "" {
		s.JobName = d.JobName
	}
	if s.VoiceLabel == "" {
		s.VoiceLabel = d.VoiceLabel
	}
	return s
}

// Option customizes a Provider.
type Option func(*Provider)

// WithProbeClient sets the HTTP client used by CheckReady.
func WithProbeClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.probe = c
		}
	}
}

// Provider is safe for concurrent use. Concurrent calls are not coordinated:
// a refresh may replace the catalog while another call reads the old one.
type Provider struct {
	connector Connector
	settings  atomic.Pointer[Settings]
	catalog   atomic.Pointer[[]Voice]
	ready     atomic.Bool
	probe     *http.Client
	log       *slog.Logger
	tracer    trace.Tracer
	metrics   *metrics
}

func New(settings Settings, connector Connector, logger *slog.Logger, opts ...Option) *Provider {
	if connector == nil {
		connector = GradioConnector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{
		connector: connector,
		probe:     &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		log:       logger.With(slog.String("component", "voxcpm")),
		tracer:    otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.UpdateSettings(settings)

	m, err := newMetrics(p)
	if err != nil {
		p.log.Warn("failed to initialize metrics", slogError(err))
	}
	p.metrics = m
	return p
}

// UpdateSettings replaces the settings used by subsequent calls. Calls that
// already started keep their snapshot.
func (p *Provider) UpdateSettings(s Settings) {
	s = s.withDefaults()
	p.settings.Store(&s)
}

// Settings returns the current snapshot.
func (p *Provider) Settings() Settings {
	return *p.settings.Load()
}

// ProcessText applies the configured text filter. An empty result means there
// is nothing to speak.
func (p *Provider) ProcessText(text string) string {
	cfg := p.Settings().Filter
	out := textfilter.Apply(text, cfg)
	if cfg.OnlyBracketed && out == "" {
		p.log.Debug("no bracketed text found, skipping")
	}
	return out
}

// CheckReady probes the endpoint. Any completed request marks the provider
// ready whatever its status code; failures are logged and leave the flag as is.
func (p *Provider) CheckReady(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.Settings().Endpoint, nil)
	if err != nil {
		p.log.Warn("readiness probe failed", slogError(err))
		return p.ready.Load()
	}
	resp, err := p.probe.Do(req)
	if err != nil {
		p.log.Warn("readiness probe failed", slogError(err))
		return p.ready.Load()
	}
	resp.Body.Close()
	p.ready.Store(true)
	return true
}

// Ready reports the last probe outcome.
func (p *Provider) Ready() bool {
	return p.ready.Load()
}

// RefreshVoices reads the voice list from the app and replaces the catalog.
// On failure the catalog is left untouched and the error is returned for
// callers that care; the provider itself degrades to pass-through voices.
func (p *Provider) RefreshVoices(ctx context.Context) ([]Voice, error) {
	s := p.Settings()
	sess, err := p.connector.Connect(ctx, s.Endpoint)
	if err != nil {
		p.metrics.recordRefresh(ctx, err)
		p.log.Error("voice catalog refresh failed", slog.String("endpoint", s.Endpoint), slogError(err))
		return nil, fmt.Errorf("refresh voices: %w", err)
	}

	choices, _ := sess.Choices(s.VoiceLabel)
	voices := voicesFromChoices(choices)
	p.catalog.Store(&voices)
	p.metrics.recordRefresh(ctx, nil)
	p.log.Info("voice catalog refreshed", slog.Int("voices", len(voices)))
	return append([]Voice(nil), voices...), nil
}

// Voices returns the catalog, filling it first when empty.
func (p *Provider) Voices(ctx context.Context) []Voice {
	if voices := p.catalogSnapshot(); len(voices) > 0 {
		return append([]Voice(nil), voices...)
	}
	voices, _ := p.RefreshVoices(ctx)
	return voices
}

// Catalog returns the cached catalog without contacting the app.
func (p *Provider) Catalog() []Voice {
	return append([]Voice(nil), p.catalogSnapshot()...)
}

// Voice resolves identifier to a catalog voice, fabricating a pass-through
// voice when nothing matches. It never fails.
func (p *Provider) Voice(ctx context.Context, identifier string) Voice {
	voices := p.catalogSnapshot()
	if len(voices) == 0 {
		voices, _ = p.RefreshVoices(ctx)
	}
	v, repaired := lookup(identifier, voices)
	if repaired {
		p.log.Info("detected duplicated voice name", slog.String("requested", identifier), slog.String("voice", v.Name))
	}
	return v
}

// Speak filters raw text, resolves the voice and synthesizes the result.
func (p *Provider) Speak(ctx context.Context, text, voice string) (Result, error) {
	filtered := p.ProcessText(text)
	if strings.TrimSpace(filtered) == "" {
		p.metrics.recordSkip(ctx)
		return Result{}, nil
	}
	return p.Synthesize(ctx, filtered, p.Voice(ctx, voice).VoiceID)
}

// Synthesize turns already-filtered text into audio. Blank text yields an
// empty Result without contacting the app. Text without SplitMarker is
// synthesized immediately; otherwise a Stream is returned and each segment is
// synthesized when the consumer asks for it.
func (p *Provider) Synthesize(ctx context.Context, text, voiceID string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		p.metrics.recordSkip(ctx)
		return Result{}, nil
	}
	s := p.Settings()
	voiceID = p.repairIdentifier(voiceID)

	if !textfilter.HasMarker(text) {
		sess, err := p.connect(ctx, s)
		if err != nil {
			return Result{}, err
		}
		ref, err := p.synthesizeSegment(ctx, sess, s, text, voiceID, 0)
		if err != nil {
			return Result{}, err
		}
		return Result{Audio: &ref}, nil
	}

	var sess Session
	return Result{Stream: newStream(textfilter.Segment(text), func(ctx context.Context, segment string, seq int) (AudioRef, error) {
		if sess == nil {
			opened, err := p.connect(ctx, s)
			if err != nil {
				return AudioRef{}, err
			}
			sess = opened
		}
		return p.synthesizeSegment(ctx, sess, s, segment, voiceID, seq)
	})}, nil
}

func (p *Provider) repairIdentifier(id string) string {
	if !strings.Contains(id, ",") || hasVoiceID(p.catalogSnapshot(), id) {
		return id
	}
	if name, ok := RepairDuplicate(id); ok {
		return name
	}
	return id
}

func (p *Provider) connect(ctx context.Context, s Settings) (Session, error) {
	sess, err := p.connector.Connect(ctx, s.Endpoint)
	if err != nil {
		p.metrics.recordSegment(ctx, time.Time{}, err)
		p.log.Error("voxcpm connect failed", slog.String("endpoint", s.Endpoint), slogError(err))
		return nil, fmt.Errorf("connect %s: %w", s.Endpoint, err)
	}
	return sess, nil
}

func (p *Provider) synthesizeSegment(ctx context.Context, sess Session, s Settings, text, voiceID string, seq int) (AudioRef, error) {
	ctx, span := p.tracer.Start(ctx, "voxcpm.synthesize_segment", trace.WithAttributes(
		attribute.String("voxcpm.voice", voiceID),
		attribute.Int("voxcpm.sequence", seq),
		attribute.Int("voxcpm.text_length", len(text)),
	))
	defer span.End()

	start := time.Now()
	data, err := sess.Predict(ctx, s.JobName, voiceID, text, s.PromptText, nil, s.Speed)
	var ref AudioRef
	if err == nil {
		ref, err = audioFromData(data)
	}
	p.metrics.recordSegment(ctx, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.log.Error("voxcpm generation failed", slog.Int("sequence", seq), slog.String("voice", voiceID), slogError(err))
		return AudioRef{}, fmt.Errorf("synthesize segment %d: %w", seq, err)
	}

	ref.Sequence = seq
	ref.Text = text
	p.log.Debug("segment synthesized", slog.Int("sequence", seq), slog.String("url", ref.Locator()), slog.Duration("latency", time.Since(start)))
	return ref, nil
}

func audioFromData(data []json.RawMessage) (AudioRef, error) {
	if len(data) == 0 || string(data[0]) == "null" {
		return AudioRef{}, ErrNoAudio
	}
	fd, err := gradio.DecodeFile(data[0])
	if err != nil {
		return AudioRef{}, fmt.Errorf("%w: %v", ErrNoAudio, err)
	}
	ref := AudioRef{URL: fd.URL, Path: fd.Path, MimeType: fd.MimeType}
	if ref.Locator() == "" {
		return AudioRef{}, ErrNoAudio
	}
	return ref, nil
}

func (p *Provider) catalogSnapshot() []Voice {
	if v := p.catalog.Load(); v != nil {
		return *v
	}
	return nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
