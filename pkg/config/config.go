package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Backend BackendConfig `mapstructure:"backend"`
	Parser  ParserConfig  `mapstructure:"parser"`
	Tokens  TokensConfig  `mapstructure:"tokens"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	LogFile  string `mapstructure:"log_file"`
	Preserve bool   `mapstructure:"preserve"`
	Level    string `mapstructure:"level"`
}

// BackendConfig describes the streaming endpoint a conversation talks to
type BackendConfig struct {
	URL               string        `mapstructure:"url"`
	Format            string        `mapstructure:"format"` // ndjson or sse
	Path              string        `mapstructure:"path"`   // Overrides the format's default endpoint path
	Model             string        `mapstructure:"model"`
	SystemPrompt      string        `mapstructure:"system_prompt"`
	ConnectTimeout    time.Duration `mapstructure:"-"`
	ConnectTimeoutStr string        `mapstructure:"connect_timeout"`
}

// ParserConfig tunes record parsing
type ParserConfig struct {
	RepairMalformed bool `mapstructure:"repair_malformed"`
	MaxLineBytes    int  `mapstructure:"max_line_bytes"`
}

// TokensConfig controls the token counts in reply summaries
type TokensConfig struct {
	Exact bool `mapstructure:"exact"` // tiktoken encoding instead of an estimate
}

const (
	FormatNDJSON = "ndjson"
	FormatSSE    = "sse"

	envPrefix     = "TOKENSTREAM"
	configDirName = ".tokenstream"
)

var cfg *Config

// Get returns the global config instance
func Get() *Config {
	if cfg == nil {
		panic("config not initialized")
	}
	return cfg
}

// Loaded reports whether Load has succeeded at least once
func Loaded() bool {
	return cfg != nil
}

// Load loads configuration from file and environment
func Load(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}

		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome == "" {
			xdgConfigHome = filepath.Join(home, ".config")
		}

		viper.AddConfigPath("./" + configDirName)
		viper.AddConfigPath(filepath.Join(xdgConfigHome, configDirName))
		viper.SetConfigType("yaml")
		viper.SetConfigName("settings")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	bindEnvironmentVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing file is fine; a broken one is not
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	loaded := &Config{}
	if err := viper.Unmarshal(loaded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := processDurations(loaded); err != nil {
		return nil, fmt.Errorf("failed to process durations: %w", err)
	}

	if err := loaded.Validate(); err != nil {
		return nil, err
	}

	cfg = loaded
	return cfg, nil
}

// Reset clears viper and the cached config. Tests use it between loads.
func Reset() {
	viper.Reset()
	cfg = nil
}

// setDefaults sets all default configuration values
func setDefaults() {
	viper.SetDefault("backend.url", "http://localhost:11434")
	viper.SetDefault("backend.format", FormatNDJSON)
	viper.SetDefault("backend.path", "")
	viper.SetDefault("backend.model", "qwen3:latest")
	viper.SetDefault("backend.system_prompt", "")
	viper.SetDefault("backend.connect_timeout", "30s")

	viper.SetDefault("parser.repair_malformed", false)
	viper.SetDefault("parser.max_line_bytes", 1024*1024)

	viper.SetDefault("tokens.exact", true)

	viper.SetDefault("logging.log_file", "./"+configDirName+"/system.log")
	viper.SetDefault("logging.preserve", false)
	viper.SetDefault("logging.level", "info")
}

// bindEnvironmentVariables binds specific environment variables to Viper keys
func bindEnvironmentVariables() {
	viper.BindEnv("backend.url", "TOKENSTREAM_URL", "OLLAMA_HOST")
	viper.BindEnv("backend.format", "TOKENSTREAM_FORMAT")
	viper.BindEnv("backend.model", "TOKENSTREAM_MODEL")
	viper.BindEnv("backend.path", "TOKENSTREAM_PATH")
	viper.BindEnv("backend.connect_timeout", "TOKENSTREAM_CONNECT_TIMEOUT")
	viper.BindEnv("logging.level", "TOKENSTREAM_LOG_LEVEL")
	viper.BindEnv("logging.log_file", "TOKENSTREAM_LOG_FILE")
}

// processDurations converts string durations to time.Duration
func processDurations(c *Config) error {
	if c.Backend.ConnectTimeoutStr != "" {
		d, err := time.ParseDuration(c.Backend.ConnectTimeoutStr)
		if err != nil {
			return fmt.Errorf("invalid backend.connect_timeout: %w", err)
		}
		c.Backend.ConnectTimeout = d
	} else if c.Backend.ConnectTimeout == 0 {
		c.Backend.ConnectTimeout = 30 * time.Second
	}
	return nil
}

// Validate rejects settings the streaming layer cannot honour
func (c *Config) Validate() error {
	switch strings.ToLower(c.Backend.Format) {
	case FormatNDJSON, FormatSSE:
		c.Backend.Format = strings.ToLower(c.Backend.Format)
	default:
		return fmt.Errorf("invalid backend.format %q: want %q or %q", c.Backend.Format, FormatNDJSON, FormatSSE)
	}
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url must not be empty")
	}
	// OLLAMA_HOST is commonly set as host:port
	if !strings.Contains(c.Backend.URL, "://") {
		c.Backend.URL = "http://" + c.Backend.URL
	}
	if c.Backend.Model == "" {
		return fmt.Errorf("backend.model must not be empty")
	}
	if c.Parser.MaxLineBytes < 0 {
		return fmt.Errorf("parser.max_line_bytes must not be negative")
	}
	return nil
}

// GetConfigFileUsed returns the path to the config file being used
func GetConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
