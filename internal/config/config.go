package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Search    SearchConfig    `yaml:"search"`
	Firecrawl FirecrawlConfig `yaml:"firecrawl"`
	LLM       LLMConfig       `yaml:"llm"`
	Email     EmailConfig     `yaml:"email"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Timezone  string          `yaml:"timezone"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Type     string         `yaml:"type"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	MySQL    MySQLConfig    `yaml:"mysql"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig contains SQLite settings
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// MySQLConfig contains MySQL connection settings
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// PostgresConfig contains PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// SearchConfig contains search engine settings
type SearchConfig struct {
	Meilisearch MeilisearchConfig `yaml:"meilisearch"`
}

// MeilisearchConfig contains Meilisearch connection settings.
// An empty Host disables the listing index.
type MeilisearchConfig struct {
	Host   string `yaml:"host"`
	APIKey string `yaml:"api_key"`
	Index  string `yaml:"index"`
}

// FirecrawlConfig contains search provider settings
type FirecrawlConfig struct {
	APIKey         string   `yaml:"api_key"`
	BaseURL        string   `yaml:"base_url"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Formats        []string `yaml:"formats"`
	// BreakerThreshold consecutive auth/credit/rate-limit errors pause
	// searches for 30 minutes. 0 disables.
	BreakerThreshold int `yaml:"breaker_threshold"`
}

// LLMConfig contains language model settings
type LLMConfig struct {
	Provider        string `yaml:"provider"` // gemini | openai
	APIKey          string `yaml:"api_key"`
	Model           string `yaml:"model"`
	BaseURL         string `yaml:"base_url"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	MaxContentChars int    `yaml:"max_content_chars"`
}

// EmailConfig contains notification settings
type EmailConfig struct {
	Provider string   `yaml:"provider"` // resend | log
	APIKey   string   `yaml:"api_key"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// ScraperConfig contains pipeline settings
type ScraperConfig struct {
	Targets               []string `yaml:"targets"`
	MinBedrooms           int      `yaml:"min_bedrooms"`
	Criteria              string   `yaml:"criteria"`
	SearchLimit           int      `yaml:"search_limit"`
	RateLimitDelaySeconds float64  `yaml:"rate_limit_delay_seconds"`
	DailyRunEnabled       bool     `yaml:"daily_run_enabled"`
	DailyRunTime          string   `yaml:"daily_run_time"`
	RunOnStartup          bool     `yaml:"run_on_startup"`
	FetchMissingContent   bool     `yaml:"fetch_missing_content"`
	HeadlessBrowser       bool     `yaml:"headless_browser"`
	ChromePath            string   `yaml:"chrome_path"`
	FetchTimeoutSeconds   int      `yaml:"fetch_timeout_seconds"`
}

// RateLimitConfig contains manual trigger throttling settings
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	RequestsPerHour   int  `yaml:"requests_per_hour"`
}

// ServerConfig contains HTTP settings
type ServerConfig struct {
	Port         string   `yaml:"port"`
	AllowOrigins []string `yaml:"allow_origins"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Type:   "sqlite",
			SQLite: SQLiteConfig{Path: "data/listings.db"},
			Postgres: PostgresConfig{
				SSLMode: "disable",
			},
		},
		Search: SearchConfig{
			Meilisearch: MeilisearchConfig{Index: "listings"},
		},
		Firecrawl: FirecrawlConfig{
			BaseURL:          "https://api.firecrawl.dev",
			TimeoutSeconds:   60,
			Formats:          []string{"markdown"},
			BreakerThreshold: 2,
		},
		LLM: LLMConfig{
			Provider:        "gemini",
			Model:           "gemini-2.5-flash",
			TimeoutSeconds:  60,
			MaxContentChars: 40000,
		},
		Email: EmailConfig{
			Provider: "resend",
			From:     "onboarding@resend.dev",
		},
		Scraper: ScraperConfig{
			Targets:               []string{"Flamingo Valley"},
			MinBedrooms:           4,
			SearchLimit:           5,
			RateLimitDelaySeconds: 1.0,
			DailyRunEnabled:       true,
			DailyRunTime:          "08:00",
			FetchTimeoutSeconds:   30,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 2,
			RequestsPerHour:   20,
		},
		Server: ServerConfig{
			Port:         "8084",
			AllowOrigins: []string{"http://localhost:5176"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Timezone: "Asia/Singapore",
	}
}

// LoadConfig loads configuration from a YAML file, then applies .env and
// environment overrides
func LoadConfig(filepath string) (*Config, error) {
	// Start with default config
	config := DefaultConfig()

	if err := godotenv.Load(); err != nil {
		log.Println("Config: No .env file found, using process environment")
	}

	if _, err := os.Stat(filepath); err == nil {
		data, err := os.ReadFile(filepath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	config.ApplyEnv()
	return config, nil
}

// ApplyEnv overrides file values with environment variables
func (c *Config) ApplyEnv() {
	setString(&c.Firecrawl.APIKey, "FIRECRAWL_API_KEY")
	setString(&c.Firecrawl.BaseURL, "FIRECRAWL_BASE_URL")
	setInt(&c.Firecrawl.BreakerThreshold, "FIRECRAWL_BREAKER_THRESHOLD")

	setString(&c.LLM.Provider, "LLM_PROVIDER")
	setString(&c.LLM.APIKey, "GOOGLE_API_KEY")
	setString(&c.LLM.APIKey, "LLM_API_KEY")
	setString(&c.LLM.Model, "LLM_MODEL")
	setString(&c.LLM.BaseURL, "LLM_BASE_URL")

	setString(&c.Email.Provider, "EMAIL_PROVIDER")
	setString(&c.Email.APIKey, "RESEND_API_KEY")
	setString(&c.Email.From, "EMAIL_FROM")
	setList(&c.Email.To, "EMAIL_TO")

	setString(&c.Database.Type, "DB_TYPE")
	setString(&c.Database.SQLite.Path, "DB_PATH")
	switch c.Database.Type {
	case "mysql":
		setString(&c.Database.MySQL.Host, "DB_HOST")
		setInt(&c.Database.MySQL.Port, "DB_PORT")
		setString(&c.Database.MySQL.User, "DB_USER")
		setString(&c.Database.MySQL.Password, "DB_PASSWORD")
		setString(&c.Database.MySQL.Database, "DB_NAME")
	case "postgres":
		setString(&c.Database.Postgres.Host, "DB_HOST")
		setInt(&c.Database.Postgres.Port, "DB_PORT")
		setString(&c.Database.Postgres.User, "DB_USER")
		setString(&c.Database.Postgres.Password, "DB_PASSWORD")
		setString(&c.Database.Postgres.Database, "DB_NAME")
		setString(&c.Database.Postgres.SSLMode, "DB_SSLMODE")
	}

	setString(&c.Search.Meilisearch.Host, "MEILISEARCH_HOST")
	setString(&c.Search.Meilisearch.APIKey, "MEILISEARCH_KEY")

	setList(&c.Scraper.Targets, "TARGET_CONDOS")
	setInt(&c.Scraper.MinBedrooms, "MIN_BEDROOMS")
	setString(&c.Scraper.Criteria, "CRITERIA_DESC")
	setInt(&c.Scraper.SearchLimit, "SEARCH_LIMIT")
	setFloat(&c.Scraper.RateLimitDelaySeconds, "RATE_LIMIT_DELAY")
	setString(&c.Scraper.DailyRunTime, "DAILY_RUN_TIME")
	setBool(&c.Scraper.RunOnStartup, "RUN_ON_STARTUP")
	setBool(&c.Scraper.FetchMissingContent, "FETCH_MISSING_CONTENT")
	setString(&c.Scraper.ChromePath, "CHROME_BIN")

	setString(&c.Server.Port, "PORT")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Timezone, "TIMEZONE")
}

// Validate reports every missing required setting at once
func (c *Config) Validate() error {
	var missing []string

	if c.Firecrawl.APIKey == "" {
		missing = append(missing, "FIRECRAWL_API_KEY")
	}
	if c.LLM.APIKey == "" {
		missing = append(missing, "GOOGLE_API_KEY (or LLM_API_KEY)")
	}
	if c.Email.Provider == "resend" && c.Email.APIKey == "" {
		missing = append(missing, "RESEND_API_KEY")
	}
	if len(c.Email.To) == 0 {
		missing = append(missing, "EMAIL_TO")
	}
	if len(c.Scraper.Targets) == 0 {
		missing = append(missing, "TARGET_CONDOS")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	switch c.LLM.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("unsupported llm provider %q", c.LLM.Provider)
	}
	switch c.Email.Provider {
	case "resend", "log":
	default:
		return fmt.Errorf("unsupported email provider %q", c.Email.Provider)
	}
	if c.Scraper.SearchLimit <= 0 {
		return errors.New("scraper.search_limit must be positive")
	}
	return nil
}

// CriteriaText returns the free-text criteria appended to every search query
func (c *ScraperConfig) CriteriaText() string {
	if strings.TrimSpace(c.Criteria) != "" {
		return strings.TrimSpace(c.Criteria)
	}
	return fmt.Sprintf("%d+ bedrooms, for sale", c.MinBedrooms)
}

// GetRateLimitDelay returns the pause between site queries
func (c *ScraperConfig) GetRateLimitDelay() time.Duration {
	return time.Duration(c.RateLimitDelaySeconds * float64(time.Second))
}

// GetFetchTimeout returns the content fetch timeout
func (c *ScraperConfig) GetFetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// GetTimeout returns the search request timeout
func (c *FirecrawlConfig) GetTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GetTimeout returns the model request timeout
func (c *LLMConfig) GetTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Location returns the operator timezone. Hosts without tzdata fall back to
// a fixed UTC+8 zone.
func (c *Config) Location() *time.Location {
	name := c.Timezone
	if name == "" {
		name = "Asia/Singapore"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("Config: Failed to load timezone %q (%v), using fixed UTC+8", name, err)
		return time.FixedZone("SGT", 8*60*60)
	}
	return loc
}

// Summary returns a one-line description of the pipeline settings for startup logs
func (c *Config) Summary() string {
	return fmt.Sprintf("targets=[%s] criteria=%q recipients=%d db=%s search_limit=%d delay=%.1fs daily=%v@%s",
		strings.Join(c.Scraper.Targets, ", "),
		c.Scraper.CriteriaText(),
		len(c.Email.To),
		c.Database.Type,
		c.Scraper.SearchLimit,
		c.Scraper.RateLimitDelaySeconds,
		c.Scraper.DailyRunEnabled,
		c.Scraper.DailyRunTime,
	)
}

func setString(dst *string, key string) {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		*dst = val
	}
}

func setList(dst *[]string, key string) {
	val := os.Getenv(key)
	if strings.TrimSpace(val) == "" {
		return
	}
	var items []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	*dst = items
}

func setInt(dst *int, key string) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			*dst = n
		} else {
			log.Printf("Config: Ignoring invalid %s=%q", key, val)
		}
	}
}

func setFloat(dst *float64, key string) {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			*dst = f
		} else {
			log.Printf("Config: Ignoring invalid %s=%q", key, val)
		}
	}
}

func setBool(dst *bool, key string) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			*dst = b
		} else {
			log.Printf("Config: Ignoring invalid %s=%q", key, val)
		}
	}
}
