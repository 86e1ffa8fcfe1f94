package voxcpm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// MockConnector serves fabricated audio locators without a remote app.
type MockConnector struct {
	Voices []string
	Delay  time.Duration

	calls atomic.Int64
}

func NewMockConnector(voices ...string) *MockConnector {
	return &MockConnector{Voices: voices, Delay: 50 * time.Millisecond}
}

// Calls returns the number of predictions served so far.
func (m *MockConnector) Calls() int64 {
	return m.calls.Load()
}

func (m *MockConnector) Connect(ctx context.Context, endpoint string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return mockSession{m}, nil
}

type mockSession struct {
	m *MockConnector
}

func (s mockSession) Choices(label string) ([]string, bool) {
	if len(s.m.Voices) == 0 {
		return nil, false
	}
	return append([]string(nil), s.m.Voices...), true
}

func (s mockSession) Predict(ctx context.Context, job string, data ...any) ([]json.RawMessage, error) {
	if s.m.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.m.Delay):
		}
	}
	n := s.m.calls.Add(1)
	out, err := json.Marshal(map[string]string{
		"url":       fmt.Sprintf("mock://audio/%d.wav", n),
		"mime_type": "audio/wav",
	})
	if err != nil {
		return nil, err
	}
	return []json.RawMessage{out}, nil
}
