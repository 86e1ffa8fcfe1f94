package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`

	// Disabled turns off trace export; metrics stay on.
	Disabled bool `yaml:"disabled"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Provider    ProviderConfig   `yaml:"provider"`
	TTS         TTSConfig        `yaml:"tts"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`
	Announce          bool   `yaml:"announce"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// ProviderConfig holds the settings a host UI would normally edit.
type ProviderConfig struct {
	Mode          string   `yaml:"mode"` // gradio, exec, mock
	Endpoint      string   `yaml:"provider_endpoint"`
	Command       string   `yaml:"command"`
	Speed         float64  `yaml:"speed"`
	OnlyBracketed bool     `yaml:"only_bracketed"`
	StripEmphasis bool     `yaml:"strip_emphasis"`
	PromptText    string   `yaml:"prompt_text"`
	JobName       string   `yaml:"job_name"`
	VoiceLabel    string   `yaml:"voice_label"`
	MockVoices    []string `yaml:"mock_voices"`
}

type TTSConfig struct {
	Enabled        bool   `yaml:"enabled"`
	DefaultVoice   string `yaml:"default_voice"`
	Target         string `yaml:"target"`
	MaxConcurrency int    `yaml:"max_concurrency"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-voxcpm",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "voxcpm-1",
			Role:              "tts",
			Announce:          true,
			HeartbeatInterval: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/voxcpm-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Provider: ProviderConfig{
			Mode:       "gradio",
			Endpoint:   "http://localhost:7861",
			Speed:      1.0,
			PromptText: "Hello!!",
			JobName:    "/do_job",
			VoiceLabel: "音色列表",
		},
		TTS: TTSConfig{
			Enabled:        true,
			DefaultVoice:   "Default",
			Target:         "default",
			MaxConcurrency: 2,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.Disabled, "LOQA_TELEMETRY_DISABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "LOQA_NODE_ID")
	overrideString(&cfg.Node.Role, "LOQA_NODE_ROLE")
	overrideBool(&cfg.Node.Announce, "LOQA_NODE_ANNOUNCE")
	overrideInt(&cfg.Node.HeartbeatInterval, "LOQA_NODE_HEARTBEAT_INTERVAL_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Provider.Mode, "LOQA_PROVIDER_MODE")
	overrideString(&cfg.Provider.Endpoint, "LOQA_PROVIDER_ENDPOINT")
	overrideString(&cfg.Provider.Command, "LOQA_PROVIDER_COMMAND")
	overrideFloat(&cfg.Provider.Speed, "LOQA_PROVIDER_SPEED")
	overrideBool(&cfg.Provider.OnlyBracketed, "LOQA_PROVIDER_ONLY_BRACKETED")
	overrideBool(&cfg.Provider.StripEmphasis, "LOQA_PROVIDER_STRIP_EMPHASIS")
	overrideString(&cfg.Provider.PromptText, "LOQA_PROVIDER_PROMPT_TEXT")
	overrideString(&cfg.Provider.JobName, "LOQA_PROVIDER_JOB_NAME")
	overrideString(&cfg.Provider.VoiceLabel, "LOQA_PROVIDER_VOICE_LABEL")
	overrideStringSlice(&cfg.Provider.MockVoices, "LOQA_PROVIDER_MOCK_VOICES")
	overrideBool(&cfg.TTS.Enabled, "LOQA_TTS_ENABLED")
	overrideString(&cfg.TTS.DefaultVoice, "LOQA_TTS_DEFAULT_VOICE")
	overrideString(&cfg.TTS.Target, "LOQA_TTS_TARGET")
	overrideInt(&cfg.TTS.MaxConcurrency, "LOQA_TTS_MAX_CONCURRENCY")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Node.Announce {
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty when announce is enabled")
		}
		if cfg.Node.HeartbeatInterval <= 0 {
			return errors.New("node.heartbeat_interval_ms must be positive")
		}
	}
	if cfg.EventStore.Path == "" && cfg.EventStore.RetentionMode != "ephemeral" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.Provider.Mode {
	case "gradio", "mock":
	case "exec":
		if cfg.Provider.Command == "" {
			return errors.New("provider.command must be set when mode=exec")
		}
	default:
		return errors.New("provider.mode must be one of gradio|exec|mock")
	}
	if cfg.Provider.Mode == "gradio" && strings.TrimSpace(cfg.Provider.Endpoint) == "" {
		return errors.New("provider.provider_endpoint must be set when mode=gradio")
	}
	if cfg.Provider.Speed <= 0 {
		return errors.New("provider.speed must be positive")
	}
	if cfg.TTS.Enabled && cfg.TTS.MaxConcurrency <= 0 {
		return errors.New("tts.max_concurrency must be >= 1")
	}
	return nil
}
