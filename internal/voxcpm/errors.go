package voxcpm

import "errors"

var (
	// ErrNoAudio is returned when a synthesis call succeeds but carries no
	// audio locator.
	ErrNoAudio = errors.New("no audio data in response")

	// ErrStreamClosed is returned by Stream.Next after the stream failed or
	// was closed.
	ErrStreamClosed = errors.New("audio stream closed")
)
