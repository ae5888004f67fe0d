// Package config loads service configuration from config.yaml and OFFSIDE_
// environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "config.yaml"

const envPrefix = "OFFSIDE_"

var (
	// DefaultAgentModels is the fallback order for the specialist and manager agents.
	DefaultAgentModels = []string{"gemini-2.5-flash", "gemini-3-flash-preview", "gemini-2.5-pro"}
	// DefaultSynthesizerModels is the fallback order for the synthesizer.
	DefaultSynthesizerModels = []string{"gemini-2.5-pro", "gemini-2.5-flash"}
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Gemini    GeminiConfig    `koanf:"gemini"`
	Models    ModelsConfig    `koanf:"models"`
	Swarm     SwarmConfig     `koanf:"swarm"`
	Frames    FramesConfig    `koanf:"frames"`
	Storage   StorageConfig   `koanf:"storage"`
	Paths     PathsConfig     `koanf:"paths"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Logging   LoggingConfig   `koanf:"logging"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type GeminiConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	// CallTimeout bounds each model attempt. Zero means no bound.
	CallTimeout time.Duration `koanf:"call_timeout"`
	Temperature float64       `koanf:"temperature"`
}

// ModelsConfig holds the fallback target lists, first entry preferred.
type ModelsConfig struct {
	Agents      []string `koanf:"agents"`
	Manager     []string `koanf:"manager"`
	Synthesizer []string `koanf:"synthesizer"`
	// Preferred is moved to the front of every list.
	Preferred string `koanf:"preferred"`
}

type SwarmConfig struct {
	MaxConcurrency int `koanf:"max_concurrency"`
}

type FramesConfig struct {
	WindowSeconds float64 `koanf:"window_seconds"`
	Count         int     `koanf:"count"`
	FFmpegPath    string  `koanf:"ffmpeg_path"`
	FFprobePath   string  `koanf:"ffprobe_path"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // memory, sqlite
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type PathsConfig struct {
	ClipsDir  string `koanf:"clips_dir"`
	OutputDir string `koanf:"output_dir"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

type LoggingConfig struct {
	Level string `koanf:"level"`
}

var defaults = map[string]any{
	"server.port":            8080,
	"server.request_timeout": "10m",
	"gemini.base_url":        "https://generativelanguage.googleapis.com/v1beta",
	"gemini.call_timeout":    "120s",
	"gemini.temperature":     0.1,
	"models.agents":          DefaultAgentModels,
	"models.manager":         DefaultAgentModels,
	"models.synthesizer":     DefaultSynthesizerModels,
	"swarm.max_concurrency":  3,
	"frames.window_seconds":  1.0,
	"frames.count":           3,
	"frames.ffmpeg_path":     "ffmpeg",
	"frames.ffprobe_path":    "ffprobe",
	"storage.type":           "memory",
	"storage.sqlite.path":    "offside.db",
	"paths.clips_dir":        "clips",
	"paths.output_dir":       "output",
	"telemetry.service_name": "offside-zero",
	"logging.level":          "info",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (a missing file is fine), then OFFSIDE_ environment
// variables, with "__" separating nested keys: OFFSIDE_GEMINI__CALL_TIMEOUT
// sets gemini.call_timeout.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Gemini.APIKey = substituteEnvVars(cfg.Gemini.APIKey)
	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Models.Preferred == "" {
		cfg.Models.Preferred = os.Getenv("GEMINI_MODEL")
	}
	cfg.Models.Agents = Prefer(splitList(cfg.Models.Agents), cfg.Models.Preferred)
	cfg.Models.Manager = Prefer(splitList(cfg.Models.Manager), cfg.Models.Preferred)
	cfg.Models.Synthesizer = Prefer(splitList(cfg.Models.Synthesizer), cfg.Models.Preferred)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the service cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Models.Agents) == 0 || len(c.Models.Manager) == 0 || len(c.Models.Synthesizer) == 0 {
		errs = append(errs, errors.New("models: every fallback list needs at least one target"))
	}
	if c.Swarm.MaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("swarm.max_concurrency must be positive, got %d", c.Swarm.MaxConcurrency))
	}
	if c.Frames.Count < 1 {
		errs = append(errs, fmt.Errorf("frames.count must be positive, got %d", c.Frames.Count))
	}
	if c.Gemini.CallTimeout < 0 {
		errs = append(errs, errors.New("gemini.call_timeout must not be negative"))
	}
	switch c.Storage.Type {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported storage type %q", c.Storage.Type))
	}
	return errors.Join(errs...)
}

// LogLevel parses logging.level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Prefer returns models with preferred moved (or added) to the front.
func Prefer(models []string, preferred string) []string {
	if preferred == "" {
		return models
	}
	out := make([]string, 0, len(models)+1)
	out = append(out, preferred)
	for _, m := range models {
		if m != preferred {
			out = append(out, m)
		}
	}
	return out
}

// splitList accepts both YAML lists and comma separated environment values.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" && !slices.Contains(out, part) {
				out = append(out, part)
			}
		}
	}
	return out
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
