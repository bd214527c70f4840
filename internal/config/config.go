// Package config loads and validates the crawl run input via Viper.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrConfiguration is the sentinel wrapped by every *Error.
var ErrConfiguration = errors.New("configuration error")

// Error reports a fatal misconfiguration detected before crawling starts.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Unwrap lets callers match with errors.Is(err, ErrConfiguration).
func (e *Error) Unwrap() error { return ErrConfiguration }

// Config captures the run input plus the service plumbing around it.
type Config struct {
	StartURLs             []string       `mapstructure:"startUrls"`
	MaxConcurrency        int            `mapstructure:"maxConcurrency"`
	MaxRequestsPerCrawl   int            `mapstructure:"maxRequestsPerCrawl"`
	MaxRequestRetries     int            `mapstructure:"maxRequestRetries"`
	ProxyConfig           ProxyConfig    `mapstructure:"proxyConfig"`
	DebugLog              bool           `mapstructure:"debugLog"`
	FetchHTML             bool           `mapstructure:"fetchHtml"`
	ExtendOutputFunction  string         `mapstructure:"extendOutputFunction"`
	ExtendScraperFunction string         `mapstructure:"extendScraperFunction"`
	CustomData            map[string]any `mapstructure:"customData"`

	PlatformSignature string        `mapstructure:"platformSignature"`
	RespectRobots     bool          `mapstructure:"respectRobots"`
	UserAgent         string        `mapstructure:"userAgent"`
	RequestTimeout    time.Duration `mapstructure:"requestTimeout"`

	Logging LoggingConfig `mapstructure:"logging"`
	State   StateConfig   `mapstructure:"state"`
	Sink    SinkConfig    `mapstructure:"sink"`
	Server  ServerConfig  `mapstructure:"server"`
}

// ProxyConfig is forwarded to the fetch collaborator.
type ProxyConfig struct {
	UseProxy  bool     `mapstructure:"useProxy"`
	ProxyURLs []string `mapstructure:"proxyUrls"`
}

// LoggingConfig toggles zap development features and collaborator noise filtering.
type LoggingConfig struct {
	Development  bool     `mapstructure:"development"`
	DropMessages []string `mapstructure:"dropMessages"`
}

// StateConfig selects where run state (known sitemaps, run stats) is persisted.
type StateConfig struct {
	Provider      string `mapstructure:"provider"`
	Dir           string `mapstructure:"dir"`
	GCSBucket     string `mapstructure:"gcsBucket"`
	Prefix        string `mapstructure:"prefix"`
	RedisAddress  string `mapstructure:"redisAddress"`
	RedisPassword string `mapstructure:"redisPassword"`
	RedisDB       int    `mapstructure:"redisDb"`
}

// SinkConfig selects where normalized records are written.
type SinkConfig struct {
	Provider      string `mapstructure:"provider"`
	Path          string `mapstructure:"path"`
	PostgresDSN   string `mapstructure:"postgresDsn"`
	Table         string `mapstructure:"table"`
	PubSubProject string `mapstructure:"pubsubProject"`
	PubSubTopic   string `mapstructure:"pubsubTopic"`
}

// ServerConfig controls the optional status/metrics HTTP server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// Load builds a Config from an optional input file plus the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	}
	return FromViper(v, path != "")
}

// FromViper decodes and validates a Config from an existing Viper instance.
// When readFile is set the configured file is read first.
func FromViper(v *viper.Viper, readFile bool) (Config, error) {
	v.SetEnvPrefix("STOREFRONT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if readFile {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if readFile {
		custom, err := rawCustomData(v.ConfigFileUsed())
		if err != nil {
			return Config{}, err
		}
		if custom != nil {
			cfg.CustomData = custom
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// rawCustomData decodes customData straight from the input file. Viper folds
// map keys to lower case, and hooks address customData by its original keys.
func rawCustomData(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var doc struct {
		CustomData map[string]any `json:"customData" yaml:"customData"`
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(body, &doc)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(body, &doc)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode customData: %w", err)
	}
	return doc.CustomData, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("startUrls", []string{})
	v.SetDefault("maxConcurrency", 20)
	v.SetDefault("maxRequestsPerCrawl", 0)
	v.SetDefault("maxRequestRetries", 3)
	v.SetDefault("proxyConfig.useProxy", false)
	v.SetDefault("proxyConfig.proxyUrls", []string{})
	v.SetDefault("debugLog", false)
	v.SetDefault("fetchHtml", false)
	v.SetDefault("extendOutputFunction", "")
	v.SetDefault("extendScraperFunction", "")
	v.SetDefault("platformSignature", "Shopify")
	v.SetDefault("respectRobots", false)
	v.SetDefault("userAgent", "storefront-crawler/0.1")
	v.SetDefault("requestTimeout", 30*time.Second)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.dropMessages", []string{})
	v.SetDefault("state.provider", "local")
	v.SetDefault("state.dir", "./storage/state")
	v.SetDefault("state.prefix", "storefront-crawler")
	v.SetDefault("sink.provider", "jsonl")
	v.SetDefault("sink.path", "./storage/items.jsonl")
	v.SetDefault("sink.table", "products")
	v.SetDefault("server.port", 0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Seeds()) == 0 {
		return &Error{Field: "startUrls", Reason: "at least one start URL is required"}
	}
	if c.MaxConcurrency <= 0 {
		return &Error{Field: "maxConcurrency", Reason: "must be > 0"}
	}
	if c.MaxRequestsPerCrawl < 0 {
		return &Error{Field: "maxRequestsPerCrawl", Reason: "must be >= 0"}
	}
	if c.MaxRequestRetries < 0 {
		return &Error{Field: "maxRequestRetries", Reason: "must be >= 0"}
	}
	if c.RequestTimeout <= 0 {
		return &Error{Field: "requestTimeout", Reason: "must be > 0"}
	}
	if strings.TrimSpace(c.PlatformSignature) == "" {
		return &Error{Field: "platformSignature", Reason: "must be set"}
	}
	if err := c.ProxyConfig.validate(); err != nil {
		return err
	}
	if c.Server.Port < 0 {
		return &Error{Field: "server.port", Reason: "must be >= 0"}
	}
	return nil
}

func (p ProxyConfig) validate() error {
	if p.UseProxy && len(p.ProxyURLs) == 0 {
		return &Error{Field: "proxyConfig", Reason: "useProxy requires at least one proxy URL"}
	}
	for _, raw := range p.ProxyURLs {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || u.Host == "" {
			return &Error{Field: "proxyConfig.proxyUrls", Reason: fmt.Sprintf("invalid proxy URL %q", raw)}
		}
		switch u.Scheme {
		case "http", "https", "socks5":
		default:
			return &Error{Field: "proxyConfig.proxyUrls", Reason: fmt.Sprintf("unsupported proxy scheme %q", u.Scheme)}
		}
	}
	return nil
}

// Seeds returns the non-blank start URLs.
func (c Config) Seeds() []string {
	out := make([]string, 0, len(c.StartURLs))
	for _, s := range c.StartURLs {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// RequestBudget is the effective request cap handed to the collaborator.
// An HTML pre-fetch doubles the number of requests per product.
func (c Config) RequestBudget() int {
	if c.MaxRequestsPerCrawl <= 0 {
		return 0
	}
	if c.FetchHTML {
		return c.MaxRequestsPerCrawl * 2
	}
	return c.MaxRequestsPerCrawl
}

// Proxies returns the proxy URLs to rotate through, or nil when proxying is off.
func (c Config) Proxies() []string {
	if !c.ProxyConfig.UseProxy {
		return nil
	}
	return c.ProxyConfig.ProxyURLs
}
