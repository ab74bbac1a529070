// Package config loads scraper settings from defaults, an optional YAML file
// and DIME_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/dime-scraper/pkg/client"
	"github.com/Sternrassler/dime-scraper/pkg/output"
	"github.com/Sternrassler/dime-scraper/pkg/pagination"
	"github.com/Sternrassler/dime-scraper/pkg/scraper"
	"gopkg.in/yaml.v3"
)

// Config is the full scraper configuration.
type Config struct {
	API    APIConfig    `yaml:"api"`
	Scrape ScrapeConfig `yaml:"scrape"`
	Output OutputConfig `yaml:"output"`
	Redis  RedisConfig  `yaml:"redis"`
	Log    LogConfig    `yaml:"log"`
}

// APIConfig addresses the DIME dashboard.
type APIConfig struct {
	BaseURL   string   `yaml:"base_url"`
	UserAgent string   `yaml:"user_agent"`
	Timeout   Duration `yaml:"timeout"`
}

// ScrapeConfig controls pagination, retries and pauses.
type ScrapeConfig struct {
	// Statuses lists the status filters to scrape; empty means unfiltered.
	Statuses      []string `yaml:"statuses"`
	PerPage       int      `yaml:"per_page"`
	SortBy        string   `yaml:"sort_by"`
	SortDirection string   `yaml:"sort_direction"`
	MaxRetries    int      `yaml:"max_retries"`
	RetryDelay    Duration `yaml:"retry_delay"`
	PageDelay     Duration `yaml:"page_delay"`
	StatusDelay   Duration `yaml:"status_delay"`
	Target        int      `yaml:"target"`
}

// OutputConfig controls the chunk files.
type OutputConfig struct {
	Dir            string `yaml:"dir"`
	RecordsPerFile int    `yaml:"records_per_file"`
}

// RedisConfig enables shared throttle state and response caching when Addr
// is set.
type RedisConfig struct {
	Addr           string `yaml:"addr"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	CacheResponses bool   `yaml:"cache_responses"`
}

// LogConfig controls log level, format and the optional log file.
type LogConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Pretty bool   `yaml:"pretty"`
}

// Duration accepts Go duration syntax ("1m30s") or a plain number of
// seconds, in YAML and in environment variables.
type Duration time.Duration

// ParseDuration parses Go duration syntax or plain seconds.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		ns := secs * float64(time.Second)
		if math.IsNaN(ns) || math.IsInf(ns, 0) || math.Abs(ns) >= math.MaxInt64 {
			return 0, fmt.Errorf("invalid duration %q: not a finite number of seconds", s)
		}
		return Duration(ns), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return Duration(d), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the built-in configuration.
func Default() Config {
	clientDefaults := client.DefaultConfig("")
	pageDefaults := pagination.DefaultConfig()
	outputDefaults := output.DefaultConfig("")
	scrapeDefaults := scraper.DefaultConfig()

	return Config{
		API: APIConfig{
			BaseURL:   clientDefaults.BaseURL,
			UserAgent: clientDefaults.UserAgent,
			Timeout:   Duration(clientDefaults.Timeout),
		},
		Scrape: ScrapeConfig{
			PerPage:       pageDefaults.PerPage,
			SortBy:        pageDefaults.SortBy,
			SortDirection: pageDefaults.SortDirection,
			MaxRetries:    pageDefaults.MaxRetries,
			RetryDelay:    Duration(pageDefaults.RetryDelay),
			PageDelay:     Duration(pageDefaults.PageDelay),
			StatusDelay:   Duration(scrapeDefaults.StatusDelay),
		},
		Output: OutputConfig{
			Dir:            outputDefaults.OutputDir,
			RecordsPerFile: outputDefaults.RecordsPerFile,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and environment overrides apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("DIME_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("DIME_USER_AGENT"); v != "" {
		cfg.API.UserAgent = v
	}
	if v := os.Getenv("DIME_OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}
	if v := os.Getenv("DIME_STATUSES"); v != "" {
		cfg.Scrape.Statuses = splitList(v)
	}
	if v := os.Getenv("DIME_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DIME_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("DIME_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"DIME_RECORDS_PER_FILE", &cfg.Output.RecordsPerFile},
		{"DIME_PER_PAGE", &cfg.Scrape.PerPage},
		{"DIME_MAX_RETRIES", &cfg.Scrape.MaxRetries},
	}
	for _, e := range ints {
		v := os.Getenv(e.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", e.name, err)
		}
		*e.dst = n
	}

	durations := []struct {
		name string
		dst  *Duration
	}{
		{"DIME_RETRY_DELAY", &cfg.Scrape.RetryDelay},
		{"DIME_PAGE_DELAY", &cfg.Scrape.PageDelay},
	}
	for _, e := range durations {
		v := os.Getenv(e.name)
		if v == "" {
			continue
		}
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", e.name, err)
		}
		*e.dst = d
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

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error

	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if c.API.UserAgent == "" {
		errs = append(errs, errors.New("api.user_agent is required"))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("api.timeout must be > 0 (got %s)", c.API.Timeout.Std()))
	}
	if c.Output.Dir == "" {
		errs = append(errs, errors.New("output.dir is required"))
	}
	if c.Output.RecordsPerFile <= 0 {
		errs = append(errs, fmt.Errorf("output.records_per_file must be > 0 (got %d)", c.Output.RecordsPerFile))
	}
	if err := c.PaginationConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scrape: %w", err))
	}
	if c.Scrape.StatusDelay < 0 {
		errs = append(errs, fmt.Errorf("scrape.status_delay must be >= 0 (got %s)", c.Scrape.StatusDelay.Std()))
	}
	if c.Scrape.Target < 0 {
		errs = append(errs, fmt.Errorf("scrape.target must be >= 0 (got %d)", c.Scrape.Target))
	}
	if c.Redis.CacheResponses && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.cache_responses requires redis.addr"))
	}

	return errors.Join(errs...)
}

// ClientConfig returns the HTTP client settings. The Redis client is wired
// by the caller.
func (c Config) ClientConfig() client.Config {
	return client.Config{
		BaseURL:        c.API.BaseURL,
		UserAgent:      c.API.UserAgent,
		Timeout:        c.API.Timeout.Std(),
		CacheResponses: c.Redis.CacheResponses,
	}
}

// PaginationConfig returns the paginator settings.
func (c Config) PaginationConfig() pagination.Config {
	return pagination.Config{
		PerPage:       c.Scrape.PerPage,
		SortBy:        c.Scrape.SortBy,
		SortDirection: c.Scrape.SortDirection,
		MaxRetries:    c.Scrape.MaxRetries,
		RetryDelay:    c.Scrape.RetryDelay.Std(),
		PageDelay:     c.Scrape.PageDelay.Std(),
	}
}

// WriterConfig returns the writer settings for a run.
func (c Config) WriterConfig(sourceURL, runID string) output.Config {
	cfg := output.DefaultConfig(sourceURL)
	cfg.OutputDir = c.Output.Dir
	cfg.RecordsPerFile = c.Output.RecordsPerFile
	cfg.RunID = runID
	return cfg
}

// ScraperConfig returns the orchestration settings.
func (c Config) ScraperConfig() scraper.Config {
	return scraper.Config{
		StatusDelay: c.Scrape.StatusDelay.Std(),
		Target:      c.Scrape.Target,
	}
}
