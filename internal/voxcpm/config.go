package voxcpm

import (
	"fmt"

	"github.com/loqalabs/loqa-voxcpm/internal/config"
	"github.com/loqalabs/loqa-voxcpm/internal/textfilter"
)

// SettingsFromConfig derives a settings snapshot from loaded configuration.
func SettingsFromConfig(cfg config.ProviderConfig) Settings {
	return Settings{
		Endpoint: cfg.Endpoint,
		Speed:    cfg.Speed,
		Filter: textfilter.Config{
			OnlyBracketed: cfg.OnlyBracketed,
			StripEmphasis: cfg.StripEmphasis,
		},
		PromptText: cfg.PromptText,
		JobName:    cfg.JobName,
		VoiceLabel: cfg.VoiceLabel,
	}
}

// ConnectorFromConfig selects the backend named by cfg.Mode.
func ConnectorFromConfig(cfg config.ProviderConfig) (Connector, error) {
	switch cfg.Mode {
	case "", "gradio":
		return GradioConnector{}, nil
	case "exec":
		conn, err := NewExecConnector(cfg.Command)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case "mock":
		return NewMockConnector(cfg.MockVoices...), nil
	default:
		return nil, fmt.Errorf("unsupported provider mode %q", cfg.Mode)
	}
}
