// ABOUTME: Runtime configuration: defaults, optional YAML file, then environment overrides
// ABOUTME: Default paths live under the XDG data directory
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
	"github.com/harperreed/funnel/sync"
	"gopkg.in/yaml.v3"
)

const appDir = "funnel"

type Config struct {
	DB          DBConfig        `yaml:"db"`
	Credentials CredentialsConf `yaml:"credentials"`
	HTTP        HTTPConfig      `yaml:"http"`
	Log         LogConfig       `yaml:"log"`
	Google      GoogleConfig    `yaml:"google"`
}

type DBConfig struct {
	Path string `yaml:"path"`
}

type CredentialsConf struct {
	Dir string `yaml:"dir"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// Per-agent request rate; zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	base := filepath.Join(xdg.DataHome, appDir)
	return Config{
		DB:          DBConfig{Path: filepath.Join(base, "funnel.db")},
		Credentials: CredentialsConf{Dir: filepath.Join(base, "credentials")},
		HTTP:        HTTPConfig{Addr: ":8080", RateLimit: 10, Burst: 20},
		Log:         LogConfig{Level: "info"},
		Google:      GoogleConfig{RedirectURL: "http://localhost:8080/oauth/callback"},
	}
}

// Load reads configuration from path (or FUNNEL_CONFIG when path is empty)
// and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("FUNNEL_CONFIG")
	}
	if path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if _, err := log.ParseLevel(cfg.Log.Level); err != nil {
		return Config{}, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	overrides := map[string]*string{
		"FUNNEL_DB_PATH":         &cfg.DB.Path,
		"FUNNEL_CREDENTIALS_DIR": &cfg.Credentials.Dir,
		"FUNNEL_HTTP_ADDR":       &cfg.HTTP.Addr,
		"FUNNEL_LOG_LEVEL":       &cfg.Log.Level,
		"GOOGLE_CLIENT_ID":       &cfg.Google.ClientID,
		"GOOGLE_CLIENT_SECRET":   &cfg.Google.ClientSecret,
		"GOOGLE_REDIRECT_URL":    &cfg.Google.RedirectURL,
	}
	for key, dst := range overrides {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("FUNNEL_RATE_LIMIT"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid FUNNEL_RATE_LIMIT: %w", err)
		}
		cfg.HTTP.RateLimit = rps
	}
	if v := os.Getenv("FUNNEL_RATE_BURST"); v != "" {
		burst, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FUNNEL_RATE_BURST: %w", err)
		}
		cfg.HTTP.Burst = burst
	}
	return nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LogLevel returns the parsed level; Load already rejected invalid values.
func (c Config) LogLevel() log.Level {
	lvl, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// GoogleOAuth converts the Google section for the sync package.
func (c Config) GoogleOAuth() sync.GoogleConfig {
	return sync.GoogleConfig{
		ClientID:     c.Google.ClientID,
		ClientSecret: c.Google.ClientSecret,
		RedirectURL:  c.Google.RedirectURL,
	}
}

// EnsureDirs creates the parent directories of the configured paths.
func (c Config) EnsureDirs() error {
	if err := os.MkdirAll(filepath.Dir(c.DB.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	if err := os.MkdirAll(c.Credentials.Dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}
	return nil
}
