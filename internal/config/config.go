package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigDir  = ".graphpower"
	DefaultConfigFile = "config.yaml"
	DefaultLogFile    = "audit.jsonl"

	DefaultListen        = "127.0.0.1:8080"
	DefaultGraphBaseURL  = "https://graph.microsoft.com"
	DefaultDocsURL       = "https://learn.microsoft.com/api/mcp"
	DefaultMaxRetries    = 3
	DefaultPageSize      = 25
	DefaultCacheTTL      = 10 * time.Minute
	DefaultGraphTimeout  = 60 * time.Second
	DefaultAuditMaxBytes = 10 << 20
)

// Environment variables that override file values.
const (
	EnvListen           = "GRAPHPOWER_LISTEN"
	EnvGraphBaseURL     = "GRAPHPOWER_GRAPH_BASE_URL"
	EnvDocsURL          = "GRAPHPOWER_DOCS_URL"
	EnvConnectionString = "APPLICATIONINSIGHTS_CONNECTION_STRING"
)

type Config struct {
	// ConfigDir is ~/.graphpower; not read from the file.
	ConfigDir string `yaml:"-"`
	// Path is the file the config was read from, if any.
	Path string `yaml:"-"`

	Listen    string          `yaml:"listen"`
	Graph     GraphConfig     `yaml:"graph"`
	Docs      DocsConfig      `yaml:"docs"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Audit     AuditConfig     `yaml:"audit"`
	Log       LogConfig       `yaml:"log"`
}

// GraphConfig controls outbound Graph calls.
type GraphConfig struct {
	BaseURL string `yaml:"base_url"`
	// MaxRetries is the number of retries after a 429. 0 disables retries.
	MaxRetries        int      `yaml:"max_retries"`
	PageSize          int      `yaml:"page_size"`
	Timeout           Duration `yaml:"timeout"`
	DefaultRetryAfter Duration `yaml:"default_retry_after"`
	MaxRetryAfter     Duration `yaml:"max_retry_after"`
}

// DocsConfig controls the documentation search used by discover_graph.
type DocsConfig struct {
	URL      string   `yaml:"url"`
	CacheTTL Duration `yaml:"cache_ttl"`
}

type TelemetryConfig struct {
	ConnectionString string `yaml:"connection_string"`
	RoleName         string `yaml:"role_name"`
	Metrics          bool   `yaml:"metrics"`
}

type AuditConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Path     string `yaml:"path"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// LogConfig controls process logging. Format is "json" or "console".
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Duration reads Go duration strings ("90s", "10m") from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Defaults returns the configuration used when no file exists.
func Defaults(configDir string) *Config {
	return &Config{
		ConfigDir: configDir,
		Listen:    DefaultListen,
		Graph: GraphConfig{
			BaseURL:           DefaultGraphBaseURL,
			MaxRetries:        DefaultMaxRetries,
			PageSize:          DefaultPageSize,
			Timeout:           Duration(DefaultGraphTimeout),
			DefaultRetryAfter: Duration(5 * time.Second),
			MaxRetryAfter:     Duration(30 * time.Second),
		},
		Docs: DocsConfig{
			URL:      DefaultDocsURL,
			CacheTTL: Duration(DefaultCacheTTL),
		},
		Telemetry: TelemetryConfig{
			RoleName: "graphpower",
			Metrics:  true,
		},
		Audit: AuditConfig{
			Enabled:  true,
			Path:     filepath.Join(configDir, DefaultLogFile),
			MaxBytes: DefaultAuditMaxBytes,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path (default ~/.graphpower/config.yaml) over the defaults and
// applies environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	configDir := filepath.Join(homeDir, DefaultConfigDir)
	if err := ensureDir(configDir); err != nil {
		return nil, err
	}

	cfg := Defaults(configDir)
	if path == "" {
		path = filepath.Join(configDir, DefaultConfigFile)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		cfg.Path = path
	case os.IsNotExist(err):
	default:
		return nil, err
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.Audit.Path = expandHome(cfg.Audit.Path, homeDir)
	cfg.Log.File = expandHome(cfg.Log.File, homeDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvListen); ok && v != "" {
		c.Listen = v
	}
	if v, ok := lookup(EnvGraphBaseURL); ok && v != "" {
		c.Graph.BaseURL = v
	}
	if v, ok := lookup(EnvDocsURL); ok && v != "" {
		c.Docs.URL = v
	}
	if v, ok := lookup(EnvConnectionString); ok {
		c.Telemetry.ConnectionString = v
	}
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("listen must not be empty")
	}
	for name, raw := range map[string]string{"graph.base_url": c.Graph.BaseURL, "docs.url": c.Docs.URL} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%s must be an http(s) URL, got %q", name, raw)
		}
	}
	if c.Graph.MaxRetries < 0 {
		return fmt.Errorf("graph.max_retries must be >= 0")
	}
	if c.Graph.PageSize < 0 || c.Graph.PageSize > 999 {
		return fmt.Errorf("graph.page_size must be between 0 and 999")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	return nil
}

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

func ensureDir(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, 0700)
	}
	return nil
}
