// Package config loads agentsy settings from a YAML, JSON or TOML file, AGENTSY_*
// environment variables and command-line flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/skosovsky/agentsy"
)

// EnvPrefix prefixes every environment variable, e.g. AGENTSY_MODEL or AGENTSY_TOOLS_TIMEOUT.
const EnvPrefix = "AGENTSY"

// File is the complete configuration of an agent and its CLI.
type File struct {
	Model          string            `mapstructure:"model" json:"model" validate:"required"`
	URL            string            `mapstructure:"url" json:"url" validate:"required,url"`
	APIKey         string            `mapstructure:"api_key" json:"api_key,omitempty"`
	SystemMessage  string            `mapstructure:"system_message" json:"system_message,omitempty"`
	MaxRounds      int               `mapstructure:"max_rounds" json:"max_rounds" validate:"min=1,max=64"`
	Stream         bool              `mapstructure:"stream" json:"stream"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout" json:"request_timeout" validate:"min=0"`
	RateLimit      float64           `mapstructure:"rate_limit" json:"rate_limit" validate:"min=0"`
	RateBurst      int               `mapstructure:"rate_burst" json:"rate_burst" validate:"min=0"`
	Headers        map[string]string `mapstructure:"headers" json:"headers,omitempty"`
	SessionDB      string            `mapstructure:"session_db" json:"session_db,omitempty"`
	SessionRedis   string            `mapstructure:"session_redis" json:"session_redis,omitempty" validate:"omitempty,url,excluded_with=SessionDB"`
	Tools          Tools             `mapstructure:"tools" json:"tools"`
	Log            Log               `mapstructure:"log" json:"log"`
}

// Tools configures the tool registry.
type Tools struct {
	Enabled        []string      `mapstructure:"enabled" json:"enabled"`
	Timeout        time.Duration `mapstructure:"timeout" json:"timeout" validate:"min=0"`
	MaxConcurrency int           `mapstructure:"max_concurrency" json:"max_concurrency" validate:"min=1,max=256"`
	Timezone       string        `mapstructure:"timezone" json:"timezone,omitempty"`
}

// Log configures the slog handler built by File.Logger.
type Log struct {
	Level  string `mapstructure:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" json:"format" validate:"oneof=text json"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model", "")
	v.SetDefault("url", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("api_key", "")
	v.SetDefault("system_message", "")
	v.SetDefault("max_rounds", agentsy.DefaultMaxRounds)
	v.SetDefault("stream", true)
	v.SetDefault("request_timeout", 2*time.Minute)
	v.SetDefault("rate_limit", 0)
	v.SetDefault("rate_burst", 1)
	v.SetDefault("session_db", "")
	v.SetDefault("session_redis", "")
	v.SetDefault("tools.enabled", []string{"parse_relative_date", "current_time"})
	v.SetDefault("tools.timeout", 30*time.Second)
	v.SetDefault("tools.max_concurrency", 10)
	v.SetDefault("tools.timezone", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"model":           "model",
	"url":             "url",
	"system":          "system_message",
	"max-rounds":      "max_rounds",
	"stream":          "stream",
	"session-db":      "session_db",
	"session-redis":   "session_redis",
	"log-level":       "log.level",
	"tools":           "tools.enabled",
	"request-timeout": "request_timeout",
}

// LoadOption configures Load.
type LoadOption func(*viper.Viper) error

// WithFlags lets flags of fs that were set on the command line override every other
// source. Recognized names: model, url, system, max-rounds, stream, session-db,
// session-redis, log-level, tools, request-timeout.
func WithFlags(fs *pflag.FlagSet) LoadOption {
	return func(v *viper.Viper) error {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
		return nil
	}
}

// Load reads the file at path (skipped when path is empty), overlays environment
// variables and flags, applies defaults and validates the result. OPENAI_API_KEY is used
// when AGENTSY_API_KEY is not set.
func Load(path string, opts ...LoadOption) (*File, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("api_key", EnvPrefix+"_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks every field constraint and reports all failures at once.
func (f *File) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(f)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		problems = append(problems, fmt.Sprintf("%s fails %s", fe.Namespace(), rule))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
}

// Agent returns the core settings.
func (f *File) Agent() agentsy.Config {
	return agentsy.Config{
		Model:         f.Model,
		URL:           f.URL,
		SystemMessage: f.SystemMessage,
		MaxRounds:     f.MaxRounds,
	}
}

// Options returns the agent options the configuration implies, including a fresh Registry
// configured from Tools.
func (f *File) Options(logger *slog.Logger) []agentsy.Option {
	reg := agentsy.NewRegistry(
		agentsy.WithDefaultTimeout(f.Tools.Timeout),
		agentsy.WithMaxConcurrency(f.Tools.MaxConcurrency),
	)
	opts := []agentsy.Option{
		agentsy.WithRegistry(reg),
		agentsy.WithRequestTimeout(f.RequestTimeout),
	}
	if logger != nil {
		opts = append(opts, agentsy.WithLogger(logger))
	}
	if f.APIKey != "" {
		opts = append(opts, agentsy.WithAPIKey(f.APIKey))
	}
	for k, v := range f.Headers {
		opts = append(opts, agentsy.WithHeader(k, v))
	}
	if f.RateLimit > 0 {
		opts = append(opts, agentsy.WithRateLimit(f.RateLimit, f.RateBurst))
	}
	return opts
}

// Logger returns a slog.Logger writing to w at the configured level and format.
func (f *File) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(f.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: level}
	if f.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// String returns the configuration as JSON with the API key masked.
func (f *File) String() string {
	masked := *f
	if masked.APIKey != "" {
		masked.APIKey = strings.Repeat("*", len(masked.APIKey))
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}
