package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/cwygoda/printq/internal/domain"
)

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

const defaultEndpoint = "https://print.kksoft.kr/upload_file/"

// Duration is a time.Duration read from strings like "5s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config holds application configuration.
type Config struct {
	Upload     UploadConfig      `toml:"upload"`
	Storage    StorageConfig     `toml:"storage"`
	Share      ShareConfig       `toml:"share"`
	User       UserConfig        `toml:"user"`
	Logging    LoggingConfig     `toml:"logging"`
	Converters []ConverterConfig `toml:"converters"`
}

// UploadConfig configures the print server client.
type UploadConfig struct {
	Endpoint string   `toml:"endpoint"`
	Timeout  Duration `toml:"timeout"`
}

// StorageConfig selects where the queue is persisted.
type StorageConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

// ShareConfig configures how documents arrive in the queue.
type ShareConfig struct {
	SpoolDir     string   `toml:"spool_dir"`
	InboxDir     string   `toml:"inbox_dir"`
	PollInterval Duration `toml:"poll_interval"`
	Listen       string   `toml:"listen"`
	Secret       string   `toml:"secret"`
}

// UserConfig holds the credential sent with every upload.
type UserConfig struct {
	PhoneNumber string `toml:"phone_number"`
}

// LoggingConfig configures log output and rotation.
type LoggingConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// ConverterConfig defines an external command that turns matching files into
// printable ones. Args may contain {input} and {outdir}.
type ConverterConfig struct {
	Name    string   `toml:"name"`
	Pattern string   `toml:"pattern"`
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
}

// DefaultPath returns the config file path using XDG_CONFIG_HOME.
func DefaultPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "printq", "config.toml")
}

// DefaultDataDir returns the state directory using XDG_DATA_HOME.
func DefaultDataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "printq")
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// Default returns the built-in configuration.
func Default() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		Upload: UploadConfig{
			Endpoint: defaultEndpoint,
			Timeout:  Duration{2 * time.Minute},
		},
		Storage: StorageConfig{
			Backend: BackendSQLite,
			Path:    filepath.Join(dataDir, "queue.db"),
		},
		Share: ShareConfig{
			SpoolDir:     filepath.Join(dataDir, "spool"),
			InboxDir:     filepath.Join(dataDir, "inbox"),
			PollInterval: Duration{2 * time.Second},
			Listen:       "127.0.0.1:8631",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads the config file at path on top of the defaults and applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// Env overrides
	if endpoint := os.Getenv("PRINTQ_ENDPOINT"); endpoint != "" {
		cfg.Upload.Endpoint = endpoint
	}
	if db := os.Getenv("PRINTQ_DB"); db != "" {
		cfg.Storage.Path = db
	}
	if backend := os.Getenv("PRINTQ_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if phone := os.Getenv("PRINTQ_PHONE"); phone != "" {
		cfg.User.PhoneNumber = phone
	}
	if level := os.Getenv("PRINTQ_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	cfg.Storage.Path = ExpandPath(cfg.Storage.Path)
	cfg.Share.SpoolDir = ExpandPath(cfg.Share.SpoolDir)
	cfg.Share.InboxDir = ExpandPath(cfg.Share.InboxDir)
	cfg.Logging.File = ExpandPath(cfg.Logging.File)

	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendSQLite, BackendFile:
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend)
	}
	if c.Storage.Path == "" {
		return errors.New("storage.path: required")
	}

	u, err := url.Parse(c.Upload.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("upload.endpoint: %q is not an http(s) URL", c.Upload.Endpoint)
	}
	if c.Upload.Timeout.Duration <= 0 {
		return errors.New("upload.timeout: must be positive")
	}
	if c.Share.PollInterval.Duration <= 0 {
		return errors.New("share.poll_interval: must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}

	if c.User.PhoneNumber != "" && !domain.ValidPhoneNumber(c.User.PhoneNumber) {
		return fmt.Errorf("user.phone_number: %w", domain.ErrInvalidPhoneNumber)
	}

	for i, cc := range c.Converters {
		if cc.Name == "" || cc.Command == "" {
			return fmt.Errorf("converters[%d]: name and command are required", i)
		}
		if _, err := regexp.Compile(cc.Pattern); err != nil {
			return fmt.Errorf("converters[%d]: invalid pattern %q: %w", i, cc.Pattern, err)
		}
	}
	return nil
}

const sample = `# printq configuration

[upload]
endpoint = %q
timeout = "2m"

[storage]
# "sqlite" or "file"
backend = "sqlite"
path = %q

[share]
spool_dir = %q
inbox_dir = %q
poll_interval = "2s"
listen = "127.0.0.1:8631"
# secret = "change-me"

[user]
# phone_number = "01012345678"

[logging]
level = "info"
format = "text"
# file = "~/.local/state/printq/printq.log"
max_size_mb = 10
max_backups = 3
max_age_days = 28

# [[converters]]
# name = "office"
# pattern = '(?i)\.(docx?|xlsx?|pptx?|odt)$'
# command = "soffice"
# args = ["--headless", "--convert-to", "pdf", "--outdir", "{outdir}", "{input}"]
`

// WriteSample writes a commented config file to path. It refuses to
// overwrite an existing file.
func WriteSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	d := Default()
	_, err = fmt.Fprintf(f, sample, d.Upload.Endpoint, d.Storage.Path, d.Share.SpoolDir, d.Share.InboxDir)
	return err
}
