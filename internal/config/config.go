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
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	StoreDir       string   `yaml:"store_dir"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type SearchConfig struct {
	Mode       string `yaml:"mode"` // mock, duckduckgo
	Endpoint   string `yaml:"endpoint"`
	MaxResults int    `yaml:"max_results"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

type LLMConfig struct {
	Mode        string  `yaml:"mode"` // mock, ollama, exec
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

type VoiceProfileConfig struct {
	Speaker         string  `yaml:"speaker"`
	ReferenceSample string  `yaml:"reference_sample"`
	Exaggeration    float64 `yaml:"exaggeration"`
	CFGWeight       float64 `yaml:"cfg_weight"`
	Temperature     float64 `yaml:"temperature"`
}

type VoicesConfig struct {
	ReferenceDir     string               `yaml:"reference_dir"`
	GeneratorCommand string               `yaml:"generator_command"`
	Profiles         []VoiceProfileConfig `yaml:"profiles"`
}

type PipelineConfig struct {
	OutputDir        string `yaml:"output_dir"`
	MaxStageAttempts int    `yaml:"max_stage_attempts"`
	MaxLineAttempts  int    `yaml:"max_line_attempts"`
	SynthConcurrency int    `yaml:"synth_concurrency"`
	GapMS            int    `yaml:"gap_ms"`
	KeepSegments     bool   `yaml:"keep_segments"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Store       StoreConfig     `yaml:"store"`
	Search      SearchConfig    `yaml:"search"`
	LLM         LLMConfig       `yaml:"llm"`
	TTS         TTSConfig       `yaml:"tts"`
	Voices      VoicesConfig    `yaml:"voices"`
	Pipeline    PipelineConfig  `yaml:"pipeline"`
}

func Default() Config {
	return Config{
		RuntimeName: "podengine",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			StoreDir:       "./data/nats",
		},
		Store: StoreConfig{
			Path:          "./data/podengine-runs.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxRuns:       1000,
		},
		Search: SearchConfig{
			Mode:       "mock",
			Endpoint:   "https://html.duckduckgo.com/html/",
			MaxResults: 5,
			TimeoutMS:  10000,
		},
		LLM: LLMConfig{
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			MaxTokens:   4096,
			Temperature: 0.7,
			TimeoutMS:   120000,
		},
		TTS: TTSConfig{
			Mode:       "mock",
			SampleRate: 24000,
			Channels:   1,
			TimeoutMS:  45000,
		},
		Voices: VoicesConfig{
			ReferenceDir: "./voice_references",
			Profiles: []VoiceProfileConfig{
				{Speaker: "Host", ReferenceSample: "host_female_ref.wav", Exaggeration: 0.65, CFGWeight: 0.5, Temperature: 0.8},
				{Speaker: "Expert", ReferenceSample: "expert_male_ref.wav", Exaggeration: 0.4, CFGWeight: 0.6, Temperature: 0.75},
			},
		},
		Pipeline: PipelineConfig{
			OutputDir:        "./output",
			MaxStageAttempts: 3,
			MaxLineAttempts:  3,
			SynthConcurrency: 4,
			GapMS:            500,
			KeepSegments:     true,
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
	overrideString(&cfg.RuntimeName, "PODENGINE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "PODENGINE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "PODENGINE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PODENGINE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "PODENGINE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "PODENGINE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "PODENGINE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "PODENGINE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "PODENGINE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "PODENGINE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "PODENGINE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "PODENGINE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "PODENGINE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "PODENGINE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "PODENGINE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "PODENGINE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "PODENGINE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.StoreDir, "PODENGINE_BUS_STORE_DIR")
	overrideString(&cfg.Store.Path, "PODENGINE_STORE_PATH")
	overrideString(&cfg.Store.RetentionMode, "PODENGINE_STORE_RETENTION_MODE")
	overrideInt(&cfg.Store.RetentionDays, "PODENGINE_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxRuns, "PODENGINE_STORE_MAX_RUNS")
	overrideBool(&cfg.Store.VacuumOnStart, "PODENGINE_STORE_VACUUM_ON_START")
	overrideString(&cfg.Search.Mode, "PODENGINE_SEARCH_MODE")
	overrideString(&cfg.Search.Endpoint, "PODENGINE_SEARCH_ENDPOINT")
	overrideInt(&cfg.Search.MaxResults, "PODENGINE_SEARCH_MAX_RESULTS")
	overrideInt(&cfg.Search.TimeoutMS, "PODENGINE_SEARCH_TIMEOUT_MS")
	overrideString(&cfg.LLM.Mode, "PODENGINE_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "PODENGINE_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "PODENGINE_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "PODENGINE_LLM_MODEL")
	overrideInt(&cfg.LLM.MaxTokens, "PODENGINE_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "PODENGINE_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "PODENGINE_LLM_TIMEOUT_MS")
	overrideString(&cfg.TTS.Mode, "PODENGINE_TTS_MODE")
	overrideString(&cfg.TTS.Command, "PODENGINE_TTS_COMMAND")
	overrideInt(&cfg.TTS.SampleRate, "PODENGINE_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "PODENGINE_TTS_CHANNELS")
	overrideInt(&cfg.TTS.TimeoutMS, "PODENGINE_TTS_TIMEOUT_MS")
	overrideString(&cfg.Voices.ReferenceDir, "PODENGINE_VOICES_REFERENCE_DIR")
	overrideString(&cfg.Voices.GeneratorCommand, "PODENGINE_VOICES_GENERATOR_COMMAND")
	overrideString(&cfg.Pipeline.OutputDir, "PODENGINE_PIPELINE_OUTPUT_DIR")
	overrideInt(&cfg.Pipeline.MaxStageAttempts, "PODENGINE_PIPELINE_MAX_STAGE_ATTEMPTS")
	overrideInt(&cfg.Pipeline.MaxLineAttempts, "PODENGINE_PIPELINE_MAX_LINE_ATTEMPTS")
	overrideInt(&cfg.Pipeline.SynthConcurrency, "PODENGINE_PIPELINE_SYNTH_CONCURRENCY")
	overrideInt(&cfg.Pipeline.GapMS, "PODENGINE_PIPELINE_GAP_MS")
	overrideBool(&cfg.Pipeline.KeepSegments, "PODENGINE_PIPELINE_KEEP_SEGMENTS")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
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

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
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
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	switch cfg.Store.RetentionMode {
	case "ephemeral", "persistent":
	default:
		return errors.New("store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	switch cfg.Search.Mode {
	case "mock", "duckduckgo":
	default:
		return errors.New("search.mode must be one of mock|duckduckgo")
	}
	if cfg.Search.Mode == "duckduckgo" && cfg.Search.Endpoint == "" {
		return errors.New("search.endpoint must be set when mode=duckduckgo")
	}
	if cfg.Search.MaxResults <= 0 {
		return errors.New("search.max_results must be >= 1")
	}
	switch cfg.LLM.Mode {
	case "mock", "ollama", "exec":
	default:
		return errors.New("llm.mode must be one of mock|ollama|exec")
	}
	if cfg.LLM.Mode == "ollama" && cfg.LLM.Endpoint == "" {
		return errors.New("llm.endpoint must be set when mode=ollama")
	}
	if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
		return errors.New("llm.command must be set when mode=exec")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	switch cfg.TTS.Mode {
	case "mock", "exec":
	default:
		return errors.New("tts.mode must be one of mock|exec")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels <= 0 {
		return errors.New("tts.channels must be positive")
	}
	if len(cfg.Voices.Profiles) == 0 {
		return errors.New("voices.profiles must not be empty")
	}
	for _, p := range cfg.Voices.Profiles {
		if p.Speaker == "" {
			return errors.New("voices.profiles entries must name a speaker")
		}
		if p.ReferenceSample == "" {
			return fmt.Errorf("voices.profiles entry for %s must name a reference_sample", p.Speaker)
		}
	}
	if cfg.Pipeline.OutputDir == "" {
		return errors.New("pipeline.output_dir must not be empty")
	}
	if cfg.Pipeline.MaxStageAttempts <= 0 {
		return errors.New("pipeline.max_stage_attempts must be >= 1")
	}
	if cfg.Pipeline.MaxLineAttempts <= 0 {
		return errors.New("pipeline.max_line_attempts must be >= 1")
	}
	if cfg.Pipeline.SynthConcurrency <= 0 {
		return errors.New("pipeline.synth_concurrency must be >= 1")
	}
	if cfg.Pipeline.GapMS < 0 {
		return errors.New("pipeline.gap_ms must be >= 0")
	}
	return nil
}
