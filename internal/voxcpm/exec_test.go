package voxcpm

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-voxcpm/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExecConnectorRejectsEmptyCommand(t *testing.T) {
	_, err := NewExecConnector("   ")
	assert.Error(t, err)
}

func TestExecConnectorPredict(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	script := filepath.Join(t.TempDir(), "say.sh")
	body := "#!/bin/sh\ncat > /dev/null\necho '{\"data\":[{\"url\":\"file:///tmp/out.wav\"}]}'\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	conn, err := NewExecConnector("sh " + script)
	require.NoError(t, err)

	p := New(Settings{}, conn, nil)
	res, err := p.Synthesize(context.Background(), "hello", "Alice")
	require.NoError(t, err)
	require.NotNil(t, res.Audio)
	assert.Equal(t, "file:///tmp/out.wav", res.Audio.URL)

	voices, err := p.RefreshVoices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Voice{{Name: DefaultVoiceName, VoiceID: DefaultVoiceName}}, voices)
}

func TestExecConnectorReportsError(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	conn, err := NewExecConnector(`sh -c 'cat >/dev/null; echo "{\"error\":\"model not loaded\"}"'`)
	require.NoError(t, err)

	_, err = New(Settings{}, conn, nil).Synthesize(context.Background(), "hello", "Alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestConnectorFromConfig(t *testing.T) {
	c, err := ConnectorFromConfig(config.ProviderConfig{Mode: "gradio"})
	require.NoError(t, err)
	assert.IsType(t, GradioConnector{}, c)

	c, err = ConnectorFromConfig(config.ProviderConfig{Mode: "mock", MockVoices: []string{"A"}})
	require.NoError(t, err)
	assert.IsType(t, &MockConnector{}, c)

	_, err = ConnectorFromConfig(config.ProviderConfig{Mode: "exec"})
	assert.Error(t, err)

	_, err = ConnectorFromConfig(config.ProviderConfig{Mode: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := config.Default().Provider
	cfg.StripEmphasis = true
	s := SettingsFromConfig(cfg)
	assert.Equal(t, cfg.Endpoint, s.Endpoint)
	assert.True(t, s.Filter.StripEmphasis)
	assert.False(t, s.Filter.OnlyBracketed)
	assert.Equal(t, DefaultVoiceLabel, s.VoiceLabel)
}
