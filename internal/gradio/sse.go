package gradio

import (
	"bufio"
	"io"
	"strings"
)

type event struct {
	Name string
	Data string
}

// eventScanner reads server-sent events, one event per blank-line separated block.
type eventScanner struct {
	scanner *bufio.Scanner
	current event
}

func newEventScanner(r io.Reader) *eventScanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &eventScanner{scanner: scanner}
}

func (s *eventScanner) Scan() bool {
	var (
		ev      event
		data    []string
		started bool
	)
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			if started {
				ev.Data = strings.Join(data, "\n")
				s.current = ev
				return true
			}
			continue
		}
		switch {
		case strings.HasPrefix(line, ":"):
			continue
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			started = true
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			started = true
		}
	}
	if started {
		ev.Data = strings.Join(data, "\n")
		s.current = ev
		return true
	}
	return false
}

func (s *eventScanner) Event() event {
	return s.current
}

func (s *eventScanner) Err() error {
	return s.scanner.Err()
}
