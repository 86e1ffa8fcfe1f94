package voxcpm

import (
	"context"
	"errors"
	"io"
	"iter"
)

// AudioRef locates the synthesized audio of one segment. It is not cached;
// the caller owns it once returned.
type AudioRef struct {
	Sequence int    `json:"sequence"`
	Text     string `json:"text,omitempty"`
	URL      string `json:"url,omitempty"`
	Path     string `json:"path,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Locator returns the URL, or the server-side path when no URL was given.
func (a AudioRef) Locator() string {
	if a.URL != "" {
		return a.URL
	}
	return a.Path
}

// Result is the outcome of a synthesis call. Single-segment text yields Audio,
// multi-segment text yields Stream. Both nil means there was nothing to speak.
type Result struct {
	Audio  *AudioRef
	Stream *Stream
}

// Empty reports whether no audio was produced.
func (r Result) Empty() bool {
	return r.Audio == nil && r.Stream == nil
}

// Collect drains the result into a slice, in playback order.
func (r Result) Collect(ctx context.Context) ([]AudioRef, error) {
	switch {
	case r.Audio != nil:
		return []AudioRef{*r.Audio}, nil
	case r.Stream != nil:
		var refs []AudioRef
		for ref, err := range r.Stream.All(ctx) {
			if err != nil {
				return refs, err
			}
			refs = append(refs, ref)
		}
		return refs, nil
	}
	return nil, nil
}

type segmentFunc func(ctx context.Context, text string, seq int) (AudioRef, error)

// Stream yields one AudioRef per segment, in text order. Each call to Next
// issues exactly one remote request and waits for it; nothing is requested
// ahead of the consumer, so abandoning the stream leaves no call in flight.
// A Stream is single-pass and not safe for concurrent use.
type Stream struct {
	segments []string
	next     int
	synth    segmentFunc
	closed   bool
}

func newStream(segments []string, synth segmentFunc) *Stream {
	return &Stream{segments: segments, synth: synth}
}

// Len returns the total number of segments.
func (s *Stream) Len() int {
	return len(s.segments)
}

// Next synthesizes the next segment. It returns io.EOF once every segment
// was delivered. After a failure the stream is closed: the failing call's
// error is returned once and later calls return ErrStreamClosed.
func (s *Stream) Next(ctx context.Context) (AudioRef, error) {
	if s.closed {
		return AudioRef{}, ErrStreamClosed
	}
	if s.next >= len(s.segments) {
		return AudioRef{}, io.EOF
	}
	seq := s.next
	s.next++
	ref, err := s.synth(ctx, s.segments[seq], seq)
	if err != nil {
		s.closed = true
		return AudioRef{}, err
	}
	return ref, nil
}

// Close abandons the remaining segments.
func (s *Stream) Close() {
	s.closed = true
}

// All ranges over the remaining segments. The sequence stops after the first
// error, which is yielded with a zero AudioRef.
func (s *Stream) All(ctx context.Context) iter.Seq2[AudioRef, error] {
	return func(yield func(AudioRef, error) bool) {
		for {
			ref, err := s.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(AudioRef{}, err)
				return
			}
			if !yield(ref, nil) {
				return
			}
		}
	}
}
