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
	LogFormat    string `yaml:"log_format"` // json, text
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	TraceStdout  bool   `yaml:"trace_stdout"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Voice       VoiceConfig     `yaml:"voice"`
	STT         STTConfig       `yaml:"stt"`
	TTS         TTSConfig       `yaml:"tts"`
	DocQA       DocQAConfig     `yaml:"docqa"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
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

// VoiceConfig holds the fixed recognition and utterance parameters of the
// voice assistant.
type VoiceConfig struct {
	Language       string  `yaml:"language"`
	Continuous     bool    `yaml:"continuous"`
	InterimResults bool    `yaml:"interim_results"`
	Voice          string  `yaml:"voice"`
	Rate           float64 `yaml:"rate"`
	Pitch          float64 `yaml:"pitch"`
	Volume         float64 `yaml:"volume"`
}

type STTConfig struct {
	Mode        string   `yaml:"mode"` // none, mock, exec
	Command     string   `yaml:"command"`
	ModelPath   string   `yaml:"model_path"`
	MockPhrases []string `yaml:"mock_phrases"`
}

type TTSConfig struct {
	Mode          string `yaml:"mode"` // none, mock, exec
	Command       string `yaml:"command"`
	PlayerCommand string `yaml:"player_command"`
	SampleRate    int    `yaml:"sample_rate"`
	Channels      int    `yaml:"channels"`
}

type DocQAConfig struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "docugenius",
		Environment: "development",
		HTTP: HTTPConfig{
			Enabled: true,
			Bind:    "127.0.0.1",
			Port:    8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			LogFormat:    "json",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Voice: VoiceConfig{
			Language:       "en-US",
			Continuous:     true,
			InterimResults: true,
			Rate:           0.9,
			Pitch:          1,
			Volume:         1,
		},
		STT: STTConfig{
			Mode: "mock",
		},
		TTS: TTSConfig{
			Mode:          "mock",
			PlayerCommand: "aplay -q",
			SampleRate:    22050,
			Channels:      1,
		},
		DocQA: DocQAConfig{
			BaseURL:   "http://localhost:5000/api",
			TimeoutMS: 60000,
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
	overrideString(&cfg.RuntimeName, "DOCUGENIUS_RUNTIME_NAME")
	overrideString(&cfg.Environment, "DOCUGENIUS_RUNTIME_ENVIRONMENT")
	overrideBool(&cfg.HTTP.Enabled, "DOCUGENIUS_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "DOCUGENIUS_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "DOCUGENIUS_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "DOCUGENIUS_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "DOCUGENIUS_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "DOCUGENIUS_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "DOCUGENIUS_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "DOCUGENIUS_TELEMETRY_TRACE_STDOUT")
	overrideBool(&cfg.Bus.Enabled, "DOCUGENIUS_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "DOCUGENIUS_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "DOCUGENIUS_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "DOCUGENIUS_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "DOCUGENIUS_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "DOCUGENIUS_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "DOCUGENIUS_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "DOCUGENIUS_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "DOCUGENIUS_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "DOCUGENIUS_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Voice.Language, "DOCUGENIUS_VOICE_LANGUAGE")
	overrideBool(&cfg.Voice.Continuous, "DOCUGENIUS_VOICE_CONTINUOUS")
	overrideBool(&cfg.Voice.InterimResults, "DOCUGENIUS_VOICE_INTERIM_RESULTS")
	overrideString(&cfg.Voice.Voice, "DOCUGENIUS_VOICE_VOICE")
	overrideFloat(&cfg.Voice.Rate, "DOCUGENIUS_VOICE_RATE")
	overrideFloat(&cfg.Voice.Pitch, "DOCUGENIUS_VOICE_PITCH")
	overrideFloat(&cfg.Voice.Volume, "DOCUGENIUS_VOICE_VOLUME")
	overrideString(&cfg.STT.Mode, "DOCUGENIUS_STT_MODE")
	overrideString(&cfg.STT.Command, "DOCUGENIUS_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "DOCUGENIUS_STT_MODEL_PATH")
	overrideStringSlice(&cfg.STT.MockPhrases, "DOCUGENIUS_STT_MOCK_PHRASES")
	overrideString(&cfg.TTS.Mode, "DOCUGENIUS_TTS_MODE")
	overrideString(&cfg.TTS.Command, "DOCUGENIUS_TTS_COMMAND")
	overrideString(&cfg.TTS.PlayerCommand, "DOCUGENIUS_TTS_PLAYER_COMMAND")
	overrideInt(&cfg.TTS.SampleRate, "DOCUGENIUS_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "DOCUGENIUS_TTS_CHANNELS")
	overrideString(&cfg.DocQA.BaseURL, "DOCUGENIUS_DOCQA_BASE_URL")
	overrideInt(&cfg.DocQA.TimeoutMS, "DOCUGENIUS_DOCQA_TIMEOUT_MS")
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

// Validate reports the first problem found in cfg.
func Validate(cfg Config) error {
	return validate(cfg)
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch strings.ToLower(cfg.Telemetry.LogFormat) {
	case "", "json", "text":
	default:
		return errors.New("telemetry.log_format must be one of json|text")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if strings.TrimSpace(cfg.Voice.Language) == "" {
		return errors.New("voice.language must not be empty")
	}
	if cfg.Voice.Rate < 0.1 || cfg.Voice.Rate > 10 {
		return errors.New("voice.rate must be between 0.1 and 10")
	}
	if cfg.Voice.Pitch < 0 || cfg.Voice.Pitch > 2 {
		return errors.New("voice.pitch must be between 0 and 2")
	}
	if cfg.Voice.Volume < 0 || cfg.Voice.Volume > 1 {
		return errors.New("voice.volume must be between 0 and 1")
	}
	switch cfg.STT.Mode {
	case "none", "mock":
	case "exec":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	default:
		return errors.New("stt.mode must be one of none|mock|exec")
	}
	switch cfg.TTS.Mode {
	case "none", "mock":
	case "exec":
		if cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
		if cfg.TTS.PlayerCommand == "" {
			return errors.New("tts.player_command must be set when mode=exec")
		}
	default:
		return errors.New("tts.mode must be one of none|mock|exec")
	}
	if cfg.TTS.Mode != "none" {
		if cfg.TTS.SampleRate <= 0 {
			return errors.New("tts.sample_rate must be positive")
		}
		if cfg.TTS.Channels <= 0 {
			return errors.New("tts.channels must be positive")
		}
	}
	if cfg.DocQA.BaseURL == "" {
		return errors.New("docqa.base_url must not be empty")
	}
	if !strings.HasPrefix(cfg.DocQA.BaseURL, "http://") && !strings.HasPrefix(cfg.DocQA.BaseURL, "https://") {
		return errors.New("docqa.base_url must be an http(s) URL")
	}
	if cfg.DocQA.TimeoutMS < 0 {
		return errors.New("docqa.timeout_ms must be >= 0")
	}
	return nil
}
