package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// Config holds all configuration for the newsletter pipeline
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Planner    PlannerConfig    `mapstructure:"planner"`
	Newsletter NewsletterConfig `mapstructure:"newsletter"`
	Sources    SourcesConfig    `mapstructure:"sources"`
	Audio      AudioConfig      `mapstructure:"audio"`
	Email      EmailConfig      `mapstructure:"email"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Server     ServerConfig     `mapstructure:"server"`
	Capability CapabilityConfig `mapstructure:"capability"`
	Schedules  []ScheduleConfig `mapstructure:"schedules"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// LLMConfig selects the language-model backend. Only the selected backend
// needs credentials.
type LLMConfig struct {
	Backend    string       `mapstructure:"backend"` // openai, gemini
	MaxRetries int          `mapstructure:"max_retries"`
	OpenAI     OpenAIConfig `mapstructure:"openai"`
	Gemini     GeminiConfig `mapstructure:"gemini"`
}

// OpenAIConfig contains OpenAI settings
type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// GeminiConfig contains Google Gemini settings
type GeminiConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

const (
	BackendOpenAI = "openai"
	BackendGemini = "gemini"
)

func (l LLMConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(l.Backend)) {
	case BackendOpenAI, BackendGemini:
	default:
		return fmt.Errorf("llm.backend must be one of openai, gemini (got %q)", l.Backend)
	}
	if l.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries cannot be negative")
	}
	return nil
}

// PlannerConfig controls intent extraction and plan execution.
type PlannerConfig struct {
	Mode        string        `mapstructure:"mode"` // keyword, manager
	Concurrent  bool          `mapstructure:"concurrent"`
	StepTimeout time.Duration `mapstructure:"step_timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

const (
	PlannerModeKeyword = "keyword"
	PlannerModeManager = "manager"
)

func (p PlannerConfig) Validate() error {
	switch p.Mode {
	case PlannerModeKeyword, PlannerModeManager:
	default:
		return fmt.Errorf("planner.mode must be keyword or manager (got %q)", p.Mode)
	}
	if p.StepTimeout < 0 {
		return fmt.Errorf("planner.step_timeout cannot be negative")
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("planner.max_retries cannot be negative")
	}
	return nil
}

// NewsletterConfig describes output naming and keyword policy.
type NewsletterConfig struct {
	OutputDir       string            `mapstructure:"output_dir"`
	DefaultBase     string            `mapstructure:"default_base"`
	Timezone        string            `mapstructure:"timezone"`
	TimestampLayout string            `mapstructure:"timestamp_layout"`
	UniqueSuffix    bool              `mapstructure:"unique_suffix"`
	Keywords        KeywordsConfig    `mapstructure:"keywords"`
	SaveConfirm     SaveConfirmConfig `mapstructure:"save_confirm"`
	ReportMaxText   int               `mapstructure:"report_max_text"`
}

// KeywordsConfig lists the trigger words for each optional step.
type KeywordsConfig struct {
	PDF   []string `mapstructure:"pdf"`
	Audio []string `mapstructure:"audio"`
	Email []string `mapstructure:"email"`
}

// SaveConfirmConfig bounds how long a local-save confirmation waits for a file.
type SaveConfirmConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Interval time.Duration `mapstructure:"interval"`
}

func (n NewsletterConfig) Validate() error {
	if strings.TrimSpace(n.OutputDir) == "" {
		return fmt.Errorf("newsletter.output_dir required")
	}
	if strings.TrimSpace(n.TimestampLayout) == "" {
		return fmt.Errorf("newsletter.timestamp_layout required")
	}
	if _, err := time.LoadLocation(n.Timezone); err != nil {
		return fmt.Errorf("newsletter.timezone: %w", err)
	}
	if n.SaveConfirm.Attempts < 1 {
		return fmt.Errorf("newsletter.save_confirm.attempts must be >= 1")
	}
	return nil
}

// SourcesConfig contains research source configurations
type SourcesConfig struct {
	WebSearch WebSearchConfig    `mapstructure:"web_search"`
	Fetch     FetchConfig        `mapstructure:"fetch"`
	Policy    SourcePolicyConfig `mapstructure:"policy"`
}

// WebSearchConfig contains web search settings
type WebSearchConfig struct {
	Provider     string        `mapstructure:"provider"` // serper, brave
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	Endpoint     string        `mapstructure:"endpoint"`
	MaxResults   int           `mapstructure:"max_results"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// FetchConfig controls how research pages are downloaded.
type FetchConfig struct {
	Mode     string        `mapstructure:"mode"` // http, chromedp, off
	MaxPages int           `mapstructure:"max_pages"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AudioConfig contains text-to-speech settings
type AudioConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Model   string        `mapstructure:"model"`
	Voice   string        `mapstructure:"voice"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// EmailConfig contains SMTP settings and the recipient allowlist.
type EmailConfig struct {
	Host          string   `mapstructure:"host"`
	Port          int      `mapstructure:"port"`
	Username      string   `mapstructure:"username"`
	Password      string   `mapstructure:"password"`
	From          string   `mapstructure:"from"`
	Recipients    []string `mapstructure:"recipients"`
	SubjectPrefix string   `mapstructure:"subject_prefix"`
}

// HasCredentials reports whether an SMTP login is configured.
func (e EmailConfig) HasCredentials() bool {
	return strings.TrimSpace(e.Username) != "" && e.Password != "" && strings.TrimSpace(e.Host) != ""
}

func (e EmailConfig) Validate() error {
	if e.Port < 0 || e.Port > 65535 {
		return fmt.Errorf("email.port out of range")
	}
	return nil
}

// StorageConfig contains run history persistence settings
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"` // none, memory, redis, postgres
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

func (s StorageConfig) Validate() error {
	switch s.Backend {
	case "", "none", "memory":
		return nil
	case "redis":
		return s.Redis.Validate()
	case "postgres":
		return s.Postgres.Validate()
	default:
		return fmt.Errorf("storage.backend must be none, memory, redis or postgres (got %q)", s.Backend)
	}
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
	TTL      time.Duration `mapstructure:"ttl"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN returns a lib/pq connection string.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	sslmode := p.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, p.Port, p.DBName, sslmode)
}

// ArchiveConfig controls the full-text index over finished articles. An
// empty path keeps the index in memory.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

func (t TelemetryConfig) Validate() error {
	if t.PushgatewayURL != "" && strings.TrimSpace(t.Job) == "" {
		return fmt.Errorf("telemetry.job required when pushgateway_url is set")
	}
	return nil
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// CapabilityConfig controls the ToolCard registry behaviour.
type CapabilityConfig struct {
	SigningSecret string   `mapstructure:"signing_secret"`
	RequiredTools []string `mapstructure:"required_tools"`
}

// ScheduleConfig describes a recurring newsletter run.
type ScheduleConfig struct {
	Name   string `mapstructure:"name"`
	Cron   string `mapstructure:"cron"`
	Prompt string `mapstructure:"prompt"`
}

// legacyEnv maps config keys to the plain environment names older deployments use.
var legacyEnv = map[string]string{
	"llm.openai.api_key":                "OPENAI_API_KEY",
	"llm.gemini.api_key":                "GOOGLE_API_KEY",
	"sources.web_search.serper_api_key": "SERPER_API_KEY",
	"sources.web_search.brave_api_key":  "BRAVE_API_KEY",
	"email.username":                    "SENDER_EMAIL",
	"email.password":                    "EMAIL_PASSWORD",
	"email.host":                        "EMAIL_HOST",
	"email.port":                        "EMAIL_PORT",
	"email.recipients":                  "EMAIL_RECIPIENTS",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.default_timeout", 2*time.Minute)

	v.SetDefault("llm.backend", BackendOpenAI)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.openai.temperature", 0.7)
	v.SetDefault("llm.openai.max_tokens", 2048)
	v.SetDefault("llm.openai.timeout", 90*time.Second)
	v.SetDefault("llm.gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("llm.gemini.model", "gemini-1.5-flash")
	v.SetDefault("llm.gemini.temperature", 0.7)
	v.SetDefault("llm.gemini.timeout", 90*time.Second)

	v.SetDefault("planner.mode", PlannerModeKeyword)
	v.SetDefault("planner.concurrent", false)
	v.SetDefault("planner.step_timeout", 3*time.Minute)
	v.SetDefault("planner.max_retries", 0)
	v.SetDefault("planner.retry_delay", 2*time.Second)

	v.SetDefault("newsletter.output_dir", "outputs")
	v.SetDefault("newsletter.default_base", "newsletter")
	v.SetDefault("newsletter.timezone", "UTC")
	v.SetDefault("newsletter.timestamp_layout", "20060102_150405")
	v.SetDefault("newsletter.unique_suffix", true)
	v.SetDefault("newsletter.keywords.pdf", []string{"pdf", "document"})
	v.SetDefault("newsletter.keywords.audio", []string{"audio", "mp3"})
	v.SetDefault("newsletter.keywords.email", []string{"email", "e-mail"})
	v.SetDefault("newsletter.save_confirm.attempts", 3)
	v.SetDefault("newsletter.save_confirm.interval", 500*time.Millisecond)
	v.SetDefault("newsletter.report_max_text", 160)

	v.SetDefault("sources.web_search.provider", "serper")
	v.SetDefault("sources.web_search.max_results", 5)
	v.SetDefault("sources.web_search.timeout", 15*time.Second)
	v.SetDefault("sources.fetch.mode", "http")
	v.SetDefault("sources.fetch.max_pages", 3)
	v.SetDefault("sources.fetch.timeout", 20*time.Second)

	v.SetDefault("audio.enabled", true)
	v.SetDefault("audio.model", "tts-1")
	v.SetDefault("audio.voice", "alloy")
	v.SetDefault("audio.timeout", 2*time.Minute)

	v.SetDefault("email.host", "smtp.gmail.com")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.subject_prefix", "Newsletter")

	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.timeout", 5*time.Second)
	v.SetDefault("storage.redis.ttl", 30*24*time.Hour)
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.postgres.timeout", 5*time.Second)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.path", "")

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.job", "newsletter")

	v.SetDefault("server.address", ":8080")
}

// LoadConfig loads configuration from an optional file plus the environment.
// An empty path searches ./config and the working directory for config.{json,yaml};
// a missing file there is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("NEWSLETTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := "NEWSLETTER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize trims list values and applies fallbacks for zero values.
func (c *Config) Normalize() {
	c.LLM.Backend = strings.ToLower(strings.TrimSpace(c.LLM.Backend))
	c.Planner.Mode = strings.ToLower(strings.TrimSpace(c.Planner.Mode))
	c.Email.Recipients = cleanList(c.Email.Recipients, false)
	c.Newsletter.Keywords.PDF = cleanList(c.Newsletter.Keywords.PDF, true)
	c.Newsletter.Keywords.Audio = cleanList(c.Newsletter.Keywords.Audio, true)
	c.Newsletter.Keywords.Email = cleanList(c.Newsletter.Keywords.Email, true)
	if c.Email.From == "" {
		c.Email.From = c.Email.Username
	}
	if c.Newsletter.ReportMaxText <= 0 {
		c.Newsletter.ReportMaxText = 160
	}
	c.Sources.Policy = c.Sources.Policy.Normalize()
}

// Validate checks every section.
func (c *Config) Validate() error {
	validators := []func() error{
		c.LLM.Validate,
		c.Planner.Validate,
		c.Newsletter.Validate,
		c.Email.Validate,
		c.Storage.Validate,
		c.Telemetry.Validate,
		c.Sources.Policy.Validate,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

func cleanList(values []string, lower bool) []string {
	var out []string
	seen := make(map[string]struct{}, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if lower {
				part = strings.ToLower(part)
			}
			if part == "" {
				continue
			}
			if _, ok := seen[part]; ok {
				continue
			}
			seen[part] = struct{}{}
			out = append(out, part)
		}
	}
	return out
}
