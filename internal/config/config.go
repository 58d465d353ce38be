package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// AppName is used for XDG directory names.
const AppName = "doccrawl"

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json, pretty
}

type ScraperConfig struct {
	Engine        string `yaml:"engine"` // http, rod, chromedp
	UserAgent     string `yaml:"userAgent"`
	LoadTimeoutMs int    `yaml:"loadTimeoutMs"`
	ContentFormat string `yaml:"contentFormat"` // text, markdown
	MaxBodyBytes  int64  `yaml:"maxBodyBytes"`
}

// BrowserConfig applies to the rod and chromedp engines.
type BrowserConfig struct {
	ControlURL string `yaml:"controlURL"`
	Headless   bool   `yaml:"headless"`
	NoSandbox  bool   `yaml:"noSandbox"`
}

type CrawlerConfig struct {
	MaxDepthDefault int    `yaml:"maxDepthDefault"`
	MaxPagesDefault int    `yaml:"maxPagesDefault"`
	DelayMs         int    `yaml:"delayMs"`
	ModeDefault     string `yaml:"modeDefault"`
}

type RobotsConfig struct {
	Respect bool `yaml:"respect"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
	Model   string `yaml:"model"`
}

type AnthropicConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
	Model   string `yaml:"model"`
}

type GoogleLLMConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
	Model   string `yaml:"model"`
}

type LLMConfig struct {
	DefaultProvider   string          `yaml:"defaultProvider"`
	TimeoutMs         int             `yaml:"timeoutMs"`
	RequestsPerMinute int             `yaml:"requestsPerMinute"`
	MaxRetries        int             `yaml:"maxRetries"`
	OpenAI            OpenAIConfig    `yaml:"openai"`
	Anthropic         AnthropicConfig `yaml:"anthropic"`
	Google            GoogleLLMConfig `yaml:"google"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // postgres, sqlite
	DSN    string `yaml:"dsn"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type RateLimitConfig struct {
	DefaultPerMinute int `yaml:"defaultPerMinute"`
}

// RetentionConfig controls deletion of old crawl sessions so that the
// database does not grow without bound.
type RetentionConfig struct {
	Enabled                bool `yaml:"enabled"`
	CleanupIntervalMinutes int  `yaml:"cleanupIntervalMinutes"`
	SessionDays            int  `yaml:"sessionDays"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Browser   BrowserConfig   `yaml:"browser"`
	Crawler   CrawlerConfig   `yaml:"crawler"`
	Robots    RobotsConfig    `yaml:"robots"`
	LLM       LLMConfig       `yaml:"llm"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Retention RetentionConfig `yaml:"retention"`
}

// Default returns a configuration usable without any file: HTTP engine,
// raw extraction, no database and no Redis.
func Default() *Config {
	cfg := &Config{}
	cfg.Browser.Headless = true
	cfg.applyDefaults()
	return cfg
}

// Load reads the YAML config file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// LoadOrDefault behaves like Load but returns Default when the file does
// not exist. Any other error is returned.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Parse decodes YAML from r, applies defaults and validates the result.
func Parse(r io.Reader) (*Config, error) {
	cfg := Config{Browser: BrowserConfig{Headless: true}}
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Scraper.Engine == "" {
		c.Scraper.Engine = "http"
	}
	if c.Scraper.UserAgent == "" {
		c.Scraper.UserAgent = "doccrawl/1.0 (+https://github.com/doccrawl)"
	}
	if c.Scraper.LoadTimeoutMs <= 0 {
		c.Scraper.LoadTimeoutMs = 20000
	}
	if c.Scraper.ContentFormat == "" {
		c.Scraper.ContentFormat = "text"
	}
	if c.Scraper.MaxBodyBytes <= 0 {
		c.Scraper.MaxBodyBytes = 10 * 1024 * 1024
	}
	if c.Crawler.MaxDepthDefault <= 0 {
		c.Crawler.MaxDepthDefault = 2
	}
	if c.Crawler.MaxPagesDefault <= 0 {
		c.Crawler.MaxPagesDefault = 50
	}
	if c.Crawler.DelayMs < 0 {
		c.Crawler.DelayMs = 0
	} else if c.Crawler.DelayMs == 0 {
		c.Crawler.DelayMs = 300
	}
	if c.Crawler.ModeDefault == "" {
		c.Crawler.ModeDefault = "raw"
	}
	if c.LLM.DefaultProvider == "" {
		c.LLM.DefaultProvider = "openai"
	}
	if c.LLM.TimeoutMs <= 0 {
		c.LLM.TimeoutMs = 60000
	}
	if c.LLM.RequestsPerMinute <= 0 {
		c.LLM.RequestsPerMinute = 30
	}
	if c.LLM.MaxRetries < 0 {
		c.LLM.MaxRetries = 0
	} else if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 3
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Retention.CleanupIntervalMinutes <= 0 {
		c.Retention.CleanupIntervalMinutes = 60
	}
	if c.Retention.SessionDays <= 0 {
		c.Retention.SessionDays = 14
	}
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	if err := oneOf("scraper.engine", c.Scraper.Engine, "http", "rod", "chromedp"); err != nil {
		return err
	}
	if err := oneOf("scraper.contentFormat", c.Scraper.ContentFormat, "text", "markdown"); err != nil {
		return err
	}
	if err := oneOf("log.format", c.Log.Format, "text", "json", "pretty"); err != nil {
		return err
	}
	if err := oneOf("database.driver", c.Database.Driver, "postgres", "sqlite"); err != nil {
		return err
	}
	if err := oneOf("crawler.modeDefault", c.Crawler.ModeDefault, "smart", "structured", "summary", "raw"); err != nil {
		return err
	}
	return nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q (expected %s)", field, value, strings.Join(allowed, "|"))
}

// DefaultConfigPath is the config file used when --config is not given.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

// DefaultDataDir holds the SQLite database for local runs.
func DefaultDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}
