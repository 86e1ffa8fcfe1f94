package voxcpm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

// ExecConnector runs a local command for every prediction. The command reads
// one JSON request from stdin and prints a JSON line {"data": [...]} shaped
// like a Gradio result.
type ExecConnector struct {
	cmd []string
	mu  sync.Mutex
}

type execRequest struct {
	Endpoint string `json:"endpoint"`
	Job      string `json:"job"`
	Data     []any  `json:"data"`
}

type execResponse struct {
	Data  []json.RawMessage `json:"data"`
	Error string            `json:"error,omitempty"`
}

func NewExecConnector(command string) (*ExecConnector, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &ExecConnector{cmd: args}, nil
}

func (e *ExecConnector) Connect(ctx context.Context, endpoint string) (Session, error) {
	return &execSession{conn: e, endpoint: endpoint}, nil
}

type execSession struct {
	conn     *ExecConnector
	endpoint string
}

// Choices is unsupported; the catalog falls back to the default voice.
func (s *execSession) Choices(label string) ([]string, bool) {
	return nil, false
}

func (s *execSession) Predict(ctx context.Context, job string, data ...any) ([]json.RawMessage, error) {
	e := s.conn
	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := json.Marshal(execRequest{Endpoint: s.endpoint, Job: job, Data: data})
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("tts command: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
		return nil, fmt.Errorf("tts command: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return nil, fmt.Errorf("decode tts command output: %w", err)
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("tts command: %s", resp.Error)
		}
		return resp.Data, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}
