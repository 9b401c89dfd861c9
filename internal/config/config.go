// Package config loads runner configuration from defaults, a YAML file, a
// .env file, the environment and explicit overrides, in that order of
// precedence. The pipeline itself never reads configuration; internal/app
// converts a Config into component configs.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable mapped onto a config key,
// e.g. NEWSBRIEF_FETCH_TIMEOUT for fetch.timeout.
const EnvPrefix = "NEWSBRIEF"

type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Search      SearchConfig      `mapstructure:"search"`
	Fetch       FetchConfig       `mapstructure:"fetch"`
	Extract     ExtractConfig     `mapstructure:"extract"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Summary     SummaryConfig     `mapstructure:"summary"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PipelineConfig holds per-run defaults that a request may override.
type PipelineConfig struct {
	MaxQueries  int           `mapstructure:"max_queries"`
	MaxResults  int           `mapstructure:"max_results"`
	PerQuery    int           `mapstructure:"per_query"`
	TimeBudget  time.Duration `mapstructure:"time_budget"`
	GracePeriod time.Duration `mapstructure:"grace_period"`
	Recency     time.Duration `mapstructure:"recency"`
}

type ConcurrencyConfig struct {
	Fetch     int `mapstructure:"fetch"`
	Extract   int `mapstructure:"extract"`
	Summarize int `mapstructure:"summarize"`
}

type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	Jitter       float64       `mapstructure:"jitter"`
}

// SearchConfig lists providers in fallback order.
type SearchConfig struct {
	Providers  []string         `mapstructure:"providers"`
	Timeout    time.Duration    `mapstructure:"timeout"`
	RPS        float64          `mapstructure:"rps"`
	Burst      int              `mapstructure:"burst"`
	GoogleNews GoogleNewsConfig `mapstructure:"googlenews"`
	SearxNG    SearxNGConfig    `mapstructure:"searxng"`
}

type GoogleNewsConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	Language string `mapstructure:"language"`
	Region   string `mapstructure:"region"`
}

type SearxNGConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type FetchConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRedirects int           `mapstructure:"max_redirects"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
	CookieJar    bool          `mapstructure:"cookie_jar"`
	Fingerprint  string        `mapstructure:"fingerprint"`
	UserAgents   []string      `mapstructure:"user_agents"`
	RandomUA     bool          `mapstructure:"random_user_agent"`
	// RobotsAgent enables robots.txt enforcement when non-empty.
	RobotsAgent      string        `mapstructure:"robots_agent"`
	RPS              float64       `mapstructure:"rps"`
	Burst            int           `mapstructure:"burst"`
	Jitter           float64       `mapstructure:"jitter"`
	Proxies          []string      `mapstructure:"proxies"`
	ProxyFile        string        `mapstructure:"proxy_file"`
	ProxyMaxFailures int           `mapstructure:"proxy_max_failures"`
	ProxyCooldown    time.Duration `mapstructure:"proxy_cooldown"`
	InsecureTLS      bool          `mapstructure:"insecure_tls"`
}

type ExtractConfig struct {
	MinBodyChars int `mapstructure:"min_body_chars"`
	MaxBodyChars int `mapstructure:"max_body_chars"`
}

type LLMConfig struct {
	Provider   string        `mapstructure:"provider"`
	Model      string        `mapstructure:"model"`
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Endpoint   string        `mapstructure:"endpoint"`
	APIVersion string        `mapstructure:"api_version"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RPS        float64       `mapstructure:"rps"`
	Burst      int           `mapstructure:"burst"`
}

type SummaryConfig struct {
	MaxTokens        int     `mapstructure:"max_tokens"`
	Temperature      float64 `mapstructure:"temperature"`
	MaxKeyFacts      int     `mapstructure:"max_key_facts"`
	MaxKeywords      int     `mapstructure:"max_keywords"`
	MaxEntities      int     `mapstructure:"max_entities"`
	MaxSynopsisChars int     `mapstructure:"max_synopsis_chars"`
}

// StorageConfig selects the report store. An empty DSN disables saving.
type StorageConfig struct {
	DSN string `mapstructure:"dsn"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type ScheduleConfig struct {
	Cron   string   `mapstructure:"cron"`
	Topics []string `mapstructure:"topics"`
}

// Options controls where Load looks for configuration.
type Options struct {
	// File is a YAML config file. Empty falls back to $NEWSBRIEF_CONFIG,
	// then ./newsbrief.yaml if present.
	File string
	// EnvFile is a dotenv file. Empty means ".env"; a missing file is ignored.
	EnvFile string
	// Overrides are applied last, keyed by config key (e.g. "log.level").
	Overrides map[string]any
}

// Load builds a Config and validates it.
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindWellKnownEnv(v); err != nil {
		return nil, err
	}

	file := opts.File
	if file == "" {
		file = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("newsbrief")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	for key, val := range opts.Overrides {
		v.Set(key, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyProviderKey()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("pipeline.max_queries", 3)
	v.SetDefault("pipeline.max_results", 10)
	v.SetDefault("pipeline.per_query", 10)
	v.SetDefault("pipeline.time_budget", "5m")
	v.SetDefault("pipeline.grace_period", "15s")
	v.SetDefault("pipeline.recency", "0s")

	v.SetDefault("concurrency.fetch", 8)
	v.SetDefault("concurrency.extract", 4)
	v.SetDefault("concurrency.summarize", 4)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay", "500ms")
	v.SetDefault("retry.max_delay", "10s")
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter", 0.2)

	v.SetDefault("search.providers", []string{"googlenews"})
	v.SetDefault("search.timeout", "15s")
	v.SetDefault("search.rps", 1.0)
	v.SetDefault("search.burst", 1)
	v.SetDefault("search.googlenews.base_url", "")
	v.SetDefault("search.googlenews.language", "en-US")
	v.SetDefault("search.googlenews.region", "US")
	v.SetDefault("search.searxng.base_url", "")

	v.SetDefault("fetch.timeout", "15s")
	v.SetDefault("fetch.max_redirects", 10)
	v.SetDefault("fetch.max_body_bytes", 5<<20)
	v.SetDefault("fetch.cookie_jar", true)
	v.SetDefault("fetch.fingerprint", "chrome")
	v.SetDefault("fetch.user_agents", []string{})
	v.SetDefault("fetch.random_user_agent", false)
	v.SetDefault("fetch.robots_agent", "")
	v.SetDefault("fetch.rps", 0.0)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("fetch.jitter", 0.0)
	v.SetDefault("fetch.proxies", []string{})
	v.SetDefault("fetch.proxy_file", "")
	v.SetDefault("fetch.proxy_max_failures", 3)
	v.SetDefault("fetch.proxy_cooldown", "5m")
	v.SetDefault("fetch.insecure_tls", false)

	v.SetDefault("extract.min_body_chars", 280)
	v.SetDefault("extract.max_body_chars", 8000)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.endpoint", "")
	v.SetDefault("llm.api_version", "")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.rps", 0.0)
	v.SetDefault("llm.burst", 1)

	v.SetDefault("summary.max_tokens", 700)
	v.SetDefault("summary.temperature", 0.2)
	v.SetDefault("summary.max_key_facts", 5)
	v.SetDefault("summary.max_keywords", 5)
	v.SetDefault("summary.max_entities", 8)
	v.SetDefault("summary.max_synopsis_chars", 600)

	v.SetDefault("storage.dsn", "")
	v.SetDefault("metrics.addr", "")

	v.SetDefault("schedule.cron", "")
	v.SetDefault("schedule.topics", []string{})
}

// bindWellKnownEnv maps the provider SDKs' conventional variables onto
// config keys. The prefixed name is listed first so it wins.
func bindWellKnownEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"llm.endpoint":    {EnvPrefix + "_LLM_ENDPOINT", "AZURE_OPENAI_ENDPOINT"},
		"llm.api_version": {EnvPrefix + "_LLM_API_VERSION", "AZURE_OPENAI_API_VERSION"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// applyProviderKey fills the API key and Azure deployment from the
// provider's conventional environment variables when not configured.
func (c *Config) applyProviderKey() {
	provider := strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	c.LLM.Provider = provider

	if c.LLM.APIKey == "" {
		switch provider {
		case "openai":
			c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "azure":
			c.LLM.APIKey = os.Getenv("AZURE_OPENAI_API_KEY")
		case "anthropic":
			c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if provider == "azure" && c.LLM.Model == "" {
		c.LLM.Model = os.Getenv("AZURE_OPENAI_DEPLOYMENT")
	}
}

var (
	validLevels    = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validFormats   = map[string]bool{"text": true, "json": true}
	validProviders = map[string]bool{"googlenews": true, "searxng": true}
	validLLMs      = map[string]bool{"openai": true, "azure": true, "anthropic": true}
)

// Validate rejects inconsistent values. Credentials are not required here;
// commands that need a model check for them when building the client.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(validLevels[strings.ToLower(c.Log.Level)], "log.level: unknown level %q", c.Log.Level)
	check(validFormats[strings.ToLower(c.Log.Format)], "log.format: must be text or json, got %q", c.Log.Format)

	check(c.Pipeline.MaxQueries >= 1, "pipeline.max_queries: must be at least 1")
	check(c.Pipeline.MaxResults >= 1, "pipeline.max_results: must be at least 1")
	check(c.Pipeline.PerQuery >= 1, "pipeline.per_query: must be at least 1")
	check(c.Pipeline.TimeBudget > 0, "pipeline.time_budget: must be positive")
	check(c.Pipeline.GracePeriod >= 0, "pipeline.grace_period: must not be negative")
	check(c.Pipeline.Recency >= 0, "pipeline.recency: must not be negative")

	check(c.Concurrency.Fetch >= 1, "concurrency.fetch: must be at least 1")
	check(c.Concurrency.Extract >= 1, "concurrency.extract: must be at least 1")
	check(c.Concurrency.Summarize >= 1, "concurrency.summarize: must be at least 1")

	check(c.Retry.MaxAttempts >= 1, "retry.max_attempts: must be at least 1")
	check(c.Retry.InitialDelay > 0, "retry.initial_delay: must be positive")
	check(c.Retry.MaxDelay >= c.Retry.InitialDelay, "retry.max_delay: must not be below initial_delay")
	check(c.Retry.Multiplier >= 1, "retry.multiplier: must be at least 1")
	check(c.Retry.Jitter >= 0 && c.Retry.Jitter <= 1, "retry.jitter: must be between 0 and 1")

	check(len(c.Search.Providers) > 0, "search.providers: at least one provider is required")
	for _, p := range c.Search.Providers {
		check(validProviders[p], "search.providers: unknown provider %q", p)
		if p == "searxng" {
			check(c.Search.SearxNG.BaseURL != "", "search.searxng.base_url: required when searxng is enabled")
		}
	}

	check(c.Fetch.Timeout > 0, "fetch.timeout: must be positive")
	check(c.Fetch.MaxBodyBytes > 0, "fetch.max_body_bytes: must be positive")
	check(c.Fetch.Jitter >= 0 && c.Fetch.Jitter <= 1, "fetch.jitter: must be between 0 and 1")
	switch c.Fetch.Fingerprint {
	case "", "chrome", "firefox", "safari", "go", "random":
	default:
		errs = append(errs, fmt.Errorf("fetch.fingerprint: unknown profile %q", c.Fetch.Fingerprint))
	}

	check(c.Extract.MinBodyChars >= 0, "extract.min_body_chars: must not be negative")
	check(c.Extract.MaxBodyChars > c.Extract.MinBodyChars, "extract.max_body_chars: must exceed min_body_chars")

	check(validLLMs[c.LLM.Provider], "llm.provider: unknown provider %q", c.LLM.Provider)
	if c.LLM.Provider == "azure" {
		check(c.LLM.Endpoint != "", "llm.endpoint: required for azure")
	}
	check(c.LLM.Timeout > 0, "llm.timeout: must be positive")

	check(c.Summary.MaxTokens > 0, "summary.max_tokens: must be positive")
	check(c.Summary.Temperature >= 0 && c.Summary.Temperature <= 2, "summary.temperature: must be between 0 and 2")

	return errors.Join(errs...)
}
