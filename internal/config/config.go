// Package config loads and validates ranking crawler configuration via Viper.
package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/crawl"
	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/extract"
)

// Storage backends.
const (
	BackendLocal    = "local"
	BackendMemory   = "memory"
	BackendGCS      = "gcs"
	BackendPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Deployment DeploymentConfig `mapstructure:"deployment"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Site       SiteConfig       `mapstructure:"site"`
	Mechanisms MechanismsConfig `mapstructure:"mechanisms"`
	Extract    ExtractConfig    `mapstructure:"extract"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	StaticDir      string        `mapstructure:"static_dir"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DeploymentConfig selects the mechanism plan.
type DeploymentConfig struct {
	Mode string `mapstructure:"mode"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SiteConfig holds the target URLs and the request identity.
type SiteConfig struct {
	HomeURL         string `mapstructure:"home_url"`
	RankingURL      string `mapstructure:"ranking_url"`
	BookURLTemplate string `mapstructure:"book_url_template"`
	UserAgent       string `mapstructure:"user_agent"`
	Accept          string `mapstructure:"accept"`
	AcceptLanguage  string `mapstructure:"accept_language"`
	Referer         string `mapstructure:"referer"`
}

// MechanismConfig tunes one acquisition mechanism.
type MechanismConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Timeout         time.Duration `mapstructure:"timeout"`
	WaitTimeout     time.Duration `mapstructure:"wait_timeout"`
	ListWaitTimeout time.Duration `mapstructure:"list_wait_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	Pacing          time.Duration `mapstructure:"pacing"`
	MaxItems        int           `mapstructure:"max_items"`
	Warmup          bool          `mapstructure:"warmup"`
	WarmupDelay     time.Duration `mapstructure:"warmup_delay"`
	ExecPath        string        `mapstructure:"exec_path"`
}

// MechanismsConfig groups the per-mechanism settings.
type MechanismsConfig struct {
	Static      MechanismConfig `mapstructure:"static"`
	Browser     MechanismConfig `mapstructure:"browser"`
	Constrained MechanismConfig `mapstructure:"constrained"`
}

// ExtractConfig tunes the field extractor.
type ExtractConfig struct {
	ListSelectors []string     `mapstructure:"list_selectors"`
	Signal        SignalConfig `mapstructure:"signal"`
}

// SignalConfig tunes the weekly recommendation heuristics.
type SignalConfig struct {
	Label      string   `mapstructure:"label"`
	Keywords   []string `mapstructure:"keywords"`
	ScopedMin  int      `mapstructure:"scoped_min"`
	ScopedMax  int      `mapstructure:"scoped_max"`
	ContextMin int      `mapstructure:"context_min"`
	ContextMax int      `mapstructure:"context_max"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	Path          string `mapstructure:"path"`
	GCSBucket     string `mapstructure:"gcs_bucket"`
	GCSObject     string `mapstructure:"gcs_object"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	PostgresTable string `mapstructure:"postgres_table"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether run notifications should be published.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.TopicName != ""
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RANKCRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional platform variables act as fallbacks.
	if err := v.BindEnv("deployment.mode", "RANKCRAWLER_DEPLOYMENT_MODE", "NODE_ENV"); err != nil {
		return Config{}, fmt.Errorf("bind deployment.mode: %w", err)
	}
	if err := v.BindEnv("server.port", "RANKCRAWLER_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind server.port: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.static_dir", "public")
	v.SetDefault("server.request_timeout", 10*time.Minute)
	v.SetDefault("deployment.mode", string(crawl.ModeDevelopment))
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")

	v.SetDefault("site.home_url", "https://www.qidian.com/")
	v.SetDefault("site.ranking_url", "https://www.qidian.com/rank/newsign/chn9/")
	v.SetDefault("site.book_url_template", "https://www.qidian.com/book/%s/")
	v.SetDefault("site.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("site.accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8")
	v.SetDefault("site.accept_language", "zh-CN,zh;q=0.9,en;q=0.8")
	v.SetDefault("site.referer", "https://www.qidian.com/")

	v.SetDefault("mechanisms.static.enabled", true)
	v.SetDefault("mechanisms.static.timeout", 30*time.Second)
	v.SetDefault("mechanisms.static.pacing", 1500*time.Millisecond)
	v.SetDefault("mechanisms.static.max_items", 20)

	v.SetDefault("mechanisms.browser.enabled", true)
	v.SetDefault("mechanisms.browser.timeout", 30*time.Second)
	v.SetDefault("mechanisms.browser.wait_timeout", 10*time.Second)
	v.SetDefault("mechanisms.browser.list_wait_timeout", 15*time.Second)
	v.SetDefault("mechanisms.browser.idle_timeout", 5*time.Second)
	v.SetDefault("mechanisms.browser.pacing", 2*time.Second)
	v.SetDefault("mechanisms.browser.max_items", 20)
	v.SetDefault("mechanisms.browser.warmup", true)
	v.SetDefault("mechanisms.browser.warmup_delay", 3*time.Second)
	v.SetDefault("mechanisms.browser.exec_path", "")

	v.SetDefault("mechanisms.constrained.enabled", true)
	v.SetDefault("mechanisms.constrained.timeout", 15*time.Second)
	v.SetDefault("mechanisms.constrained.wait_timeout", 8*time.Second)
	v.SetDefault("mechanisms.constrained.list_wait_timeout", 10*time.Second)
	v.SetDefault("mechanisms.constrained.pacing", time.Second)
	v.SetDefault("mechanisms.constrained.max_items", 10)
	v.SetDefault("mechanisms.constrained.exec_path", "")

	def := extract.DefaultSignalConfig()
	v.SetDefault("extract.signal.label", def.Label)
	v.SetDefault("extract.signal.keywords", def.Keywords)
	v.SetDefault("extract.signal.scoped_min", def.ScopedRange.Min)
	v.SetDefault("extract.signal.scoped_max", def.ScopedRange.Max)
	v.SetDefault("extract.signal.context_min", def.ContextRange.Min)
	v.SetDefault("extract.signal.context_max", def.ContextRange.Max)

	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.path", "books_data.json")
	v.SetDefault("storage.gcs_object", "books_data.json")
	v.SetDefault("storage.postgres_table", "ranking_books")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Site.RankingURL == "" {
		return fmt.Errorf("site.ranking_url is required")
	}
	if !strings.Contains(c.Site.BookURLTemplate, "%s") {
		return fmt.Errorf("site.book_url_template must contain %%s")
	}
	for name, m := range map[string]MechanismConfig{
		"static":      c.Mechanisms.Static,
		"browser":     c.Mechanisms.Browser,
		"constrained": c.Mechanisms.Constrained,
	} {
		if !m.Enabled {
			continue
		}
		if m.Timeout <= 0 {
			return fmt.Errorf("mechanisms.%s.timeout must be > 0", name)
		}
		if m.Pacing < 0 {
			return fmt.Errorf("mechanisms.%s.pacing must be >= 0", name)
		}
		if m.MaxItems <= 0 {
			return fmt.Errorf("mechanisms.%s.max_items must be > 0", name)
		}
	}
	s := c.Extract.Signal
	if s.ScopedMin >= s.ScopedMax {
		return fmt.Errorf("extract.signal.scoped_min must be < scoped_max")
	}
	if s.ContextMin >= s.ContextMax {
		return fmt.Errorf("extract.signal.context_min must be < context_max")
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the local backend")
		}
	case BackendMemory:
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	return nil
}

// Mode returns the parsed deployment mode.
func (c Config) Mode() crawl.Mode {
	return crawl.ParseMode(c.Deployment.Mode)
}

// Headers returns the request headers shared by every mechanism.
func (c Config) Headers() http.Header {
	h := http.Header{}
	set := func(key, value string) {
		if value != "" {
			h.Set(key, value)
		}
	}
	set("User-Agent", c.Site.UserAgent)
	set("Accept", c.Site.Accept)
	set("Accept-Language", c.Site.AcceptLanguage)
	set("DNT", "1")
	set("Upgrade-Insecure-Requests", "1")
	return h
}

// Mechanism returns the settings for kind.
func (c Config) Mechanism(kind crawl.MechanismKind) MechanismConfig {
	switch kind {
	case crawl.MechanismBrowser:
		return c.Mechanisms.Browser
	case crawl.MechanismConstrained:
		return c.Mechanisms.Constrained
	default:
		return c.Mechanisms.Static
	}
}

// Acquisition builds the per-run acquisition profile for kind.
func (c Config) Acquisition(kind crawl.MechanismKind) crawl.Acquisition {
	m := c.Mechanism(kind)
	headers := c.Headers()
	if kind == crawl.MechanismStatic && c.Site.Referer != "" {
		headers.Set("Referer", c.Site.Referer)
	}
	return crawl.Acquisition{
		Mechanism:       kind,
		Headers:         headers,
		HomeURL:         c.Site.HomeURL,
		RankingURL:      c.Site.RankingURL,
		BookURLTemplate: c.Site.BookURLTemplate,
		Warmup:          m.Warmup,
		WarmupDelay:     m.WarmupDelay,
		Pacing:          m.Pacing,
		PageTimeout:     m.Timeout,
		WaitTimeout:     m.WaitTimeout,
		ListWaitTimeout: m.ListWaitTimeout,
		MaxItems:        m.MaxItems,
	}
}

// ExtractorConfig converts the extract section into extractor settings.
func (c Config) ExtractorConfig() extract.Config {
	cfg := extract.DefaultConfig()
	s := c.Extract.Signal
	if s.Label != "" {
		cfg.Signal.Label = s.Label
	}
	if len(s.Keywords) > 0 {
		cfg.Signal.Keywords = s.Keywords
	}
	cfg.Signal.ScopedRange = extract.Range{Min: s.ScopedMin, Max: s.ScopedMax}
	cfg.Signal.ContextRange = extract.Range{Min: s.ContextMin, Max: s.ContextMax}
	return cfg
}
