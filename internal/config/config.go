// Package config handles loading and validation of tweetwatch configuration.
// Values come from built-in defaults, an optional YAML file, .env and
// environment variables, and CLI flags, later sources winning.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Bounds for a collection job's run interval.
const (
	MinCollectionInterval = 60 * time.Second
	MaxCollectionInterval = 3600 * time.Second
)

// Config holds all application configuration. It is built once by Load and
// not modified afterwards.
type Config struct {
	APIKey       string        // TWITTER_API_KEY
	BaseURL      string        // TWEETWATCH_BASE_URL
	PollInterval time.Duration // TWEETWATCH_POLL_INTERVAL (seconds → Duration)
	DBPath       string        // TWEETWATCH_DB_PATH
	LogLevel     string        // TWEETWATCH_LOG_LEVEL
	DebugMode    bool          // --debug flag (foreground mode)
	ConfigPath   string        // TWEETWATCH_CONFIG or --config

	DefaultQPS        int           // TWEETWATCH_DEFAULT_QPS
	MaxAttempts       int           // TWEETWATCH_MAX_ATTEMPTS
	InitialDelay      time.Duration // TWEETWATCH_INITIAL_DELAY (seconds, fractional allowed)
	ExponentialFactor float64       // TWEETWATCH_EXPONENTIAL_FACTOR
	Jitter            float64       // TWEETWATCH_JITTER

	QueryType       string        // TWEETWATCH_QUERY_TYPE
	BatchSize       int           // TWEETWATCH_BATCH_SIZE
	DefaultInterval time.Duration // TWEETWATCH_DEFAULT_INTERVAL (seconds)

	// Zero is a valid initial delay and jitter, so these record whether a
	// source set them.
	initialDelaySet bool
	jitterSet       bool

	Filters FilterDefaults
}

// FilterDefaults are the post filters applied to jobs that do not set their
// own parameters.filters.
type FilterDefaults struct {
	Languages       []string // TWEETWATCH_FILTER_LANGUAGES (comma separated)
	ExcludeKeywords []string // TWEETWATCH_FILTER_EXCLUDE (comma separated)
	MinEngagement   int      // TWEETWATCH_FILTER_MIN_ENGAGEMENT
}

// Flags holds values given on the command line. Zero values mean "not set".
type Flags struct {
	Interval   int
	DBPath     string
	Debug      bool
	ConfigPath string
}

// fileConfig mirrors the YAML configuration file.
type fileConfig struct {
	TwitterAPI struct {
		BaseURL    string `yaml:"base_url"`
		RateLimits struct {
			DefaultQPS int `yaml:"default_qps"`
		} `yaml:"rate_limits"`
		Retry struct {
			MaxAttempts       int      `yaml:"max_attempts"`
			InitialDelay      *float64 `yaml:"initial_delay"`
			ExponentialFactor float64  `yaml:"exponential_factor"`
			Jitter            *float64 `yaml:"jitter"`
		} `yaml:"retry"`
	} `yaml:"twitter_api"`
	Collector struct {
		DefaultInterval int `yaml:"default_interval"`
		BatchSize       int `yaml:"batch_size"`
		KeywordSearch   struct {
			DefaultQueryType string `yaml:"default_query_type"`
		} `yaml:"keyword_search"`
	} `yaml:"collector"`
	Processor struct {
		Filters struct {
			Languages       []string `yaml:"languages"`
			ExcludeKeywords []string `yaml:"exclude_keywords"`
			MinEngagement   int      `yaml:"min_engagement"`
		} `yaml:"filters"`
	} `yaml:"processor"`
	Scheduler struct {
		PollInterval int `yaml:"poll_interval"`
	} `yaml:"scheduler"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	LogLevel string `yaml:"log_level"`
}

// Load builds the configuration from every source and validates it.
func Load(flags Flags) (*Config, error) {
	// Try to load .env file (ignore errors - file is optional)
	_ = godotenv.Load(".env")

	cfg := &Config{}

	cfg.ConfigPath = flags.ConfigPath
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = os.Getenv("TWEETWATCH_CONFIG")
	}
	if cfg.ConfigPath != "" {
		if err := cfg.loadFile(cfg.ConfigPath); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if flags.Interval > 0 {
		cfg.PollInterval = time.Duration(flags.Interval) * time.Second
	}
	if flags.DBPath != "" {
		cfg.DBPath = flags.DBPath
	}
	// Debug mode (CLI flag only)
	cfg.DebugMode = flags.Debug

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile applies the YAML file at path.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.BaseURL = fc.TwitterAPI.BaseURL
	c.DefaultQPS = fc.TwitterAPI.RateLimits.DefaultQPS
	c.MaxAttempts = fc.TwitterAPI.Retry.MaxAttempts
	if v := fc.TwitterAPI.Retry.InitialDelay; v != nil {
		c.InitialDelay = seconds(*v)
		c.initialDelaySet = true
	}
	c.ExponentialFactor = fc.TwitterAPI.Retry.ExponentialFactor
	if v := fc.TwitterAPI.Retry.Jitter; v != nil {
		c.Jitter = *v
		c.jitterSet = true
	}
	c.DefaultInterval = time.Duration(fc.Collector.DefaultInterval) * time.Second
	c.BatchSize = fc.Collector.BatchSize
	c.QueryType = fc.Collector.KeywordSearch.DefaultQueryType
	c.PollInterval = time.Duration(fc.Scheduler.PollInterval) * time.Second
	c.DBPath = fc.Database.Path
	c.LogLevel = fc.LogLevel
	c.Filters = FilterDefaults{
		Languages:       fc.Processor.Filters.Languages,
		ExcludeKeywords: fc.Processor.Filters.ExcludeKeywords,
		MinEngagement:   fc.Processor.Filters.MinEngagement,
	}
	return nil
}

// loadEnv overrides fields with any environment variables that are set.
func (c *Config) loadEnv() error {
	if env := os.Getenv("TWITTER_API_KEY"); env != "" {
		c.APIKey = env
	}
	if env := os.Getenv("TWEETWATCH_BASE_URL"); env != "" {
		c.BaseURL = strings.TrimRight(env, "/")
	}
	if env := os.Getenv("TWEETWATCH_DB_PATH"); env != "" {
		c.DBPath = env
	}
	if env := os.Getenv("TWEETWATCH_LOG_LEVEL"); env != "" {
		c.LogLevel = env
	}
	if env := os.Getenv("TWEETWATCH_QUERY_TYPE"); env != "" {
		c.QueryType = env
	}
	if env := os.Getenv("TWEETWATCH_FILTER_LANGUAGES"); env != "" {
		c.Filters.Languages = splitList(env)
	}
	if env := os.Getenv("TWEETWATCH_FILTER_EXCLUDE"); env != "" {
		c.Filters.ExcludeKeywords = splitList(env)
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"TWEETWATCH_DEFAULT_QPS", &c.DefaultQPS},
		{"TWEETWATCH_MAX_ATTEMPTS", &c.MaxAttempts},
		{"TWEETWATCH_BATCH_SIZE", &c.BatchSize},
		{"TWEETWATCH_FILTER_MIN_ENGAGEMENT", &c.Filters.MinEngagement},
	}
	for _, v := range ints {
		env := os.Getenv(v.name)
		if env == "" {
			continue
		}
		n, err := strconv.Atoi(env)
		if err != nil {
			return fmt.Errorf("%s must be an integer: %w", v.name, err)
		}
		*v.dst = n
	}

	durations := []struct {
		name string
		dst  *time.Duration
		set  *bool
	}{
		{"TWEETWATCH_POLL_INTERVAL", &c.PollInterval, nil},
		{"TWEETWATCH_INITIAL_DELAY", &c.InitialDelay, &c.initialDelaySet},
		{"TWEETWATCH_DEFAULT_INTERVAL", &c.DefaultInterval, nil},
	}
	for _, v := range durations {
		env := os.Getenv(v.name)
		if env == "" {
			continue
		}
		f, err := strconv.ParseFloat(env, 64)
		if err != nil {
			return fmt.Errorf("%s must be a number of seconds: %w", v.name, err)
		}
		*v.dst = seconds(f)
		if v.set != nil {
			*v.set = true
		}
	}

	floats := []struct {
		name string
		dst  *float64
		set  *bool
	}{
		{"TWEETWATCH_EXPONENTIAL_FACTOR", &c.ExponentialFactor, nil},
		{"TWEETWATCH_JITTER", &c.Jitter, &c.jitterSet},
	}
	for _, v := range floats {
		env := os.Getenv(v.name)
		if env == "" {
			continue
		}
		f, err := strconv.ParseFloat(env, 64)
		if err != nil {
			return fmt.Errorf("%s must be a number: %w", v.name, err)
		}
		*v.dst = f
		if v.set != nil {
			*v.set = true
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// applyDefaults sets default values for empty config fields.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.twitterapi.io"
	}
	if c.PollInterval == 0 {
		c.PollInterval = 60 * time.Second
	}
	if c.DBPath == "" {
		c.DBPath = "./tweetwatch.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DefaultQPS == 0 {
		c.DefaultQPS = 200
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.InitialDelay == 0 && !c.initialDelaySet {
		c.InitialDelay = time.Second
	}
	if c.ExponentialFactor == 0 {
		c.ExponentialFactor = 2.0
	}
	if c.Jitter == 0 && !c.jitterSet {
		c.Jitter = 0.1
	}
	if c.QueryType == "" {
		c.QueryType = "Latest"
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.DefaultInterval == 0 {
		c.DefaultInterval = 300 * time.Second
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Poll interval bounds
	minInterval := 1 * time.Second
	maxInterval := 3600 * time.Second
	if c.PollInterval < minInterval {
		return fmt.Errorf("poll interval must be at least %v", minInterval)
	}
	if c.PollInterval > maxInterval {
		return fmt.Errorf("poll interval must be at most %v", maxInterval)
	}

	if c.DefaultInterval < MinCollectionInterval || c.DefaultInterval > MaxCollectionInterval {
		return fmt.Errorf("default collection interval must be between %v and %v", MinCollectionInterval, MaxCollectionInterval)
	}
	if c.DefaultQPS <= 0 {
		return fmt.Errorf("default QPS must be positive")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1")
	}
	if c.InitialDelay < 0 {
		return fmt.Errorf("initial delay must not be negative")
	}
	if c.ExponentialFactor < 1 {
		return fmt.Errorf("exponential factor must be at least 1")
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		return fmt.Errorf("jitter must be in [0, 1)")
	}
	if c.Filters.MinEngagement < 0 {
		return fmt.Errorf("filter min engagement must not be negative")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.QueryType != "Latest" && c.QueryType != "Top" {
		return fmt.Errorf("query type must be Latest or Top, got %q", c.QueryType)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base URL must start with http:// or https://")
	}

	return nil
}

// HasAPIKey reports whether a credential is configured. Without one the
// client runs in no-op mode.
func (c *Config) HasAPIKey() bool {
	return c.APIKey != ""
}

// String returns a redacted string representation of the config.
func (c *Config) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Config{\n")

	// Redact API key
	fmt.Fprintf(&sb, "  APIKey: %s,\n", redactAPIKey(c.APIKey))

	fmt.Fprintf(&sb, "  BaseURL: %s,\n", c.BaseURL)
	fmt.Fprintf(&sb, "  PollInterval: %v,\n", c.PollInterval)
	fmt.Fprintf(&sb, "  DBPath: %s,\n", c.DBPath)
	fmt.Fprintf(&sb, "  LogLevel: %s,\n", c.LogLevel)
	fmt.Fprintf(&sb, "  DebugMode: %v,\n", c.DebugMode)
	fmt.Fprintf(&sb, "  DefaultQPS: %d,\n", c.DefaultQPS)
	fmt.Fprintf(&sb, "  Retry: %d attempts, %v initial, x%.1f, ±%.0f%%,\n",
		c.MaxAttempts, c.InitialDelay, c.ExponentialFactor, c.Jitter*100)
	fmt.Fprintf(&sb, "  QueryType: %s,\n", c.QueryType)
	fmt.Fprintf(&sb, "  BatchSize: %d,\n", c.BatchSize)
	fmt.Fprintf(&sb, "  DefaultInterval: %v,\n", c.DefaultInterval)
	fmt.Fprintf(&sb, "  Filters: languages=%v exclude=%v min_engagement=%d,\n",
		c.Filters.Languages, c.Filters.ExcludeKeywords, c.Filters.MinEngagement)
	fmt.Fprintf(&sb, "}")

	return sb.String()
}

// redactAPIKey masks the API key for display.
func redactAPIKey(key string) string {
	if key == "" {
		return "(empty)"
	}
	if len(key) < 8 {
		return "***...***"
	}
	// Show first 4 chars and last 3 chars
	return key[:4] + "***...***" + key[len(key)-3:]
}

// LogWriter returns the appropriate log destination based on debug mode.
// In debug mode: returns os.Stdout
// In background mode: returns a file handle to .tweetwatch.log
func (c *Config) LogWriter() (io.Writer, error) {
	if c.DebugMode {
		return os.Stdout, nil
	}

	// Background mode: log to file in same directory as DB
	logPath := filepath.Join(filepath.Dir(c.DBPath), ".tweetwatch.log")

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return file, nil
}
