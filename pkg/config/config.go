package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	API struct {
		// BaseURL is the REST endpoint, typically ending in /api.
		BaseURL        string `yaml:"base_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"api"`
	Realtime struct {
		// URL overrides the derived realtime endpoint. When empty it is
		// computed from api.base_url (scheme http->ws, /api suffix stripped).
		URL                   string  `yaml:"url"`
		ReconnectAttempts     int     `yaml:"reconnect_attempts"`
		ReconnectDelaySeconds int     `yaml:"reconnect_delay_seconds"`
		TypingRate            float64 `yaml:"typing_rate"`
		TypingBurst           int     `yaml:"typing_burst"`
	} `yaml:"realtime"`
	Sync struct {
		FeedbackWindowSeconds int `yaml:"feedback_window_seconds"`
		HistoryLimit          int `yaml:"history_limit"`
	} `yaml:"sync"`
	Cache struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"cache"`
	Auth struct {
		TokenFile string `yaml:"token_file"`
	} `yaml:"auth"`
	Retention struct {
		Enabled bool   `yaml:"enabled"`
		Cron    string `yaml:"cron"`
		Period  string `yaml:"period"`
	} `yaml:"retention"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
}

// EffectiveConfig is the merged view of file, env and flag inputs that the
// rest of the program consumes.
type EffectiveConfig struct {
	Config *Config
	// Source summarizes where values came from (flags/env/config).
	Source string
}

// Defaults applied after merging; zero values mean "use default".
const (
	defaultTimeoutSeconds    = 15
	defaultReconnectAttempts = 5
	defaultReconnectDelaySec = 2
	defaultFeedbackWindowSec = 5
	defaultHistoryLimit      = 50
)

func (c *Config) APITimeout() time.Duration {
	s := c.API.TimeoutSeconds
	if s <= 0 {
		s = defaultTimeoutSeconds
	}
	return time.Duration(s) * time.Second
}

func (c *Config) ReconnectAttempts() int {
	if c.Realtime.ReconnectAttempts <= 0 {
		return defaultReconnectAttempts
	}
	return c.Realtime.ReconnectAttempts
}

func (c *Config) ReconnectDelay() time.Duration {
	s := c.Realtime.ReconnectDelaySeconds
	if s <= 0 {
		s = defaultReconnectDelaySec
	}
	return time.Duration(s) * time.Second
}

// FeedbackWindow returns the dedup window for feedback messages. The value
// is configurable because the heuristic is sensitive to clock skew and slow
// networks; 5s matches production behavior.
func (c *Config) FeedbackWindow() time.Duration {
	s := c.Sync.FeedbackWindowSeconds
	if s <= 0 {
		s = defaultFeedbackWindowSec
	}
	return time.Duration(s) * time.Second
}

func (c *Config) HistoryLimit() int {
	if c.Sync.HistoryLimit <= 0 {
		return defaultHistoryLimit
	}
	return c.Sync.HistoryLimit
}

// RealtimeURL returns the websocket endpoint. An explicit realtime.url wins;
// otherwise the API base URL is rewritten: trailing /api path segment
// stripped, http->ws and https->wss.
func (c *Config) RealtimeURL() (string, error) {
	if c.Realtime.URL != "" {
		return c.Realtime.URL, nil
	}
	if c.API.BaseURL == "" {
		return "", fmt.Errorf("api.base_url not configured")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid api.base_url: %w", err)
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/api")
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme in api.base_url: %s", u.Scheme)
	}
	return u.String(), nil
}

// Load reads a YAML config file. A missing file is reported distinctly so
// callers can fall back to env-only operation.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found %s: %w", path, err)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnvOverrides applies FICSYNC_* environment overrides onto cfg and
// reports whether any env vars were used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false
	if v := os.Getenv("FICSYNC_API_BASE_URL"); v != "" {
		envUsed = true
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("FICSYNC_REALTIME_URL"); v != "" {
		envUsed = true
		cfg.Realtime.URL = v
	}
	if v := os.Getenv("FICSYNC_RECONNECT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Realtime.ReconnectAttempts = n
		}
	}
	if v := os.Getenv("FICSYNC_FEEDBACK_WINDOW"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Sync.FeedbackWindowSeconds = n
		}
	}
	if v := os.Getenv("FICSYNC_CACHE_PATH"); v != "" {
		envUsed = true
		cfg.Cache.Path = v
		cfg.Cache.Enabled = true
	}
	if v := os.Getenv("FICSYNC_TOKEN_FILE"); v != "" {
		envUsed = true
		cfg.Auth.TokenFile = v
	}
	if v := os.Getenv("FICSYNC_METRICS_ADDR"); v != "" {
		envUsed = true
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("FICSYNC_LOG_LEVEL"); v != "" {
		envUsed = true
		cfg.Logging.Level = v
	}
	return envUsed
}

// ParseCommandFlags defines and parses command-line flags, returning values
// plus a map of which flags were explicitly set.
func ParseCommandFlags() (cfgPath, conversation, apiBase string, setFlags map[string]bool) {
	cfgPtr := flag.String("config", "./ficsync.yaml", "Path to config file")
	convPtr := flag.String("conversation", "", "Conversation id to join")
	apiPtr := flag.String("api", "", "API base URL (overrides config)")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *cfgPtr, *convPtr, *apiPtr, setFlags
}

// ResolveConfigPath decides the config file path using the flag-provided
// value and FICSYNC_CONFIG when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("FICSYNC_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

// LoadEffective loads config from path and applies env overrides. A missing
// file yields an empty config rather than an error; any other load failure
// (unreadable file, malformed YAML) is reported so it cannot masquerade as
// an unconfigured setup.
func LoadEffective(path string) (*EffectiveConfig, error) {
	cfg, err := Load(path)
	srcs := []string{}
	switch {
	case err == nil:
		srcs = append(srcs, "config")
	case errors.Is(err, os.ErrNotExist):
		cfg = &Config{}
	default:
		return nil, err
	}
	if LoadEnvOverrides(cfg) {
		srcs = append(srcs, "env")
	}
	return &EffectiveConfig{Config: cfg, Source: strings.Join(srcs, ", ")}, nil
}
