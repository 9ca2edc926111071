// Package config loads triage settings from defaults, the config file,
// the environment and command-line overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the effective triage configuration.
type Config struct {
	// Home is the data directory. It holds the config file, the review
	// store and the repository registry.
	Home    string        `yaml:"-" validate:"required"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
	Client  ClientConfig  `yaml:"client"`
}

// ServerConfig configures the companion server.
type ServerConfig struct {
	Addr  string `yaml:"addr" validate:"required"`
	Token string `yaml:"token,omitempty"`
}

// StorageConfig selects the document backend.
type StorageConfig struct {
	Backend string `yaml:"backend" validate:"oneof=file badger"`
	// Dir overrides <home>/data.
	Dir string `yaml:"dir,omitempty"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// ClientConfig configures how clients reach the server.
type ClientConfig struct {
	URL     string        `yaml:"url" validate:"required,url"`
	Token   string        `yaml:"token,omitempty"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
	// Policy forces the write policy for every client. Empty leaves each
	// surface on its default.
	Policy string `yaml:"policy,omitempty" validate:"omitempty,oneof=overwrite versioned"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server:  ServerConfig{Addr: "127.0.0.1:3333"},
		Storage: StorageConfig{Backend: "file"},
		Log:     LogConfig{Level: "info", Format: "text"},
		Client: ClientConfig{
			URL:     "http://127.0.0.1:3333",
			Timeout: 10 * time.Second,
		},
	}
}

// DefaultHome returns $TRIAGE_HOME or ~/.triage.
func DefaultHome() (string, error) {
	if h := os.Getenv("TRIAGE_HOME"); h != "" {
		return h, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".triage"), nil
}

// Path returns the config file path under home.
func Path(home string) string {
	return filepath.Join(home, "config.yaml")
}

// DataDir is where documents are stored.
func (c Config) DataDir() string {
	if c.Storage.Dir != "" {
		return c.Storage.Dir
	}
	return filepath.Join(c.Home, "data")
}

// RegistryPath is the sqlite repository registry.
func (c Config) RegistryPath() string {
	return filepath.Join(c.Home, "registry.db")
}

// LoadFile reads a config file. A missing file yields a zero Config.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to its config file.
func Save(cfg Config) error {
	path := Path(cfg.Home)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Load builds the effective config by merging defaults <- file <- env <-
// overrides. configPath may be empty to use <home>/config.yaml. The
// overrides map comes from CLI flags; empty values are ignored.
func Load(configPath string, overrides map[string]string) (Config, error) {
	cfg := Default()

	home, err := DefaultHome()
	if err != nil {
		return Config{}, err
	}
	if v := overrides["home"]; v != "" {
		home = v
	}
	cfg.Home = home

	if configPath == "" {
		configPath = Path(home)
	}
	fileCfg, err := LoadFile(configPath)
	if err != nil {
		return Config{}, err
	}
	mergeFile(&cfg, fileCfg)
	if err := mergeEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := mergeOverrides(&cfg, overrides); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func mergeFile(dst *Config, src Config) {
	if src.Server.Addr != "" {
		dst.Server.Addr = src.Server.Addr
	}
	if src.Server.Token != "" {
		dst.Server.Token = src.Server.Token
	}
	if src.Storage.Backend != "" {
		dst.Storage.Backend = src.Storage.Backend
	}
	if src.Storage.Dir != "" {
		dst.Storage.Dir = src.Storage.Dir
	}
	if src.Log.Level != "" {
		dst.Log.Level = src.Log.Level
	}
	if src.Log.Format != "" {
		dst.Log.Format = src.Log.Format
	}
	if src.Client.URL != "" {
		dst.Client.URL = src.Client.URL
	}
	if src.Client.Token != "" {
		dst.Client.Token = src.Client.Token
	}
	if src.Client.Timeout > 0 {
		dst.Client.Timeout = src.Client.Timeout
	}
	if src.Client.Policy != "" {
		dst.Client.Policy = src.Client.Policy
	}
}

func mergeEnv(cfg *Config) error {
	if v := os.Getenv("TRIAGE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("TRIAGE_TOKEN"); v != "" {
		cfg.Server.Token = v
		cfg.Client.Token = v
	}
	if v := os.Getenv("TRIAGE_URL"); v != "" {
		cfg.Client.URL = v
	}
	if v := os.Getenv("TRIAGE_STORAGE"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("TRIAGE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("TRIAGE_POLICY"); v != "" {
		cfg.Client.Policy = v
	}
	if v := os.Getenv("TRIAGE_TIMEOUT"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("TRIAGE_TIMEOUT: %w", err)
		}
		cfg.Client.Timeout = d
	}
	return nil
}

func mergeOverrides(cfg *Config, overrides map[string]string) error {
	for key, v := range overrides {
		if v == "" || key == "home" {
			continue
		}
		if err := SetField(cfg, key, v); err != nil {
			return err
		}
	}
	return nil
}

// SetField sets a single config field by dotted key. Returns an error if
// the key is unknown.
func SetField(cfg *Config, key, value string) error {
	switch key {
	case "server.addr", "addr":
		cfg.Server.Addr = value
	case "server.token", "token":
		cfg.Server.Token = value
		if key == "token" {
			cfg.Client.Token = value
		}
	case "storage.backend", "storage":
		cfg.Storage.Backend = value
	case "storage.dir":
		cfg.Storage.Dir = value
	case "log.level", "logLevel":
		cfg.Log.Level = strings.ToLower(value)
	case "log.format", "logFormat":
		cfg.Log.Format = value
	case "client.url", "url":
		cfg.Client.URL = value
	case "client.token":
		cfg.Client.Token = value
	case "client.policy", "policy":
		cfg.Client.Policy = value
	case "client.timeout", "timeout":
		d, err := parseDuration(value)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		cfg.Client.Timeout = d
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}

// parseDuration accepts Go durations and bare seconds.
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}
