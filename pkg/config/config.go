package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sameehj/sshgate/pkg/env"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort            = 22
	DefaultMaxOutputLength = 2000
	DefaultTimeout         = 30 * time.Second
	DefaultMaxCapture      = 1 << 20
	DefaultAuditRetention  = 90 * 24 * time.Hour
	DefaultPurgeSchedule   = "@daily"

	ModeSSHPass = "sshpass"
	ModeNative  = "native"
)

// Config is the process-wide gateway configuration. It is loaded once and
// treated as read-only afterwards.
type Config struct {
	Remote          Remote    `yaml:"remote"`
	Policy          Policy    `yaml:"policy"`
	MaxOutputLength int       `yaml:"maxOutputLength"`
	Transport       Transport `yaml:"transport"`
	Gateway         Gateway   `yaml:"gateway"`
	HTTP            HTTP      `yaml:"http"`
	Audit           Audit     `yaml:"audit"`
	LogLevel        string    `yaml:"logLevel"`
	LogFormat       string    `yaml:"logFormat"`
}

// Remote identifies the single host commands are forwarded to.
type Remote struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password Secret `yaml:"password"`
}

// Policy holds the allow/deny switches evaluated before every command.
type Policy struct {
	DisableSudo  bool     `yaml:"disableSudo"`
	DisableRm    bool     `yaml:"disableRm"`
	AllowedUsers []string `yaml:"allowedUsers"`
}

type Transport struct {
	Mode        string `yaml:"mode"`
	Timeout     string `yaml:"timeout"`
	SSHPassPath string `yaml:"sshpassPath"`
	SSHPath     string `yaml:"sshPath"`
	MaxCapture  int    `yaml:"maxCapture"`
}

type Gateway struct {
	Address      string   `yaml:"address"`
	AllowedAddrs []string `yaml:"allowedAddrs"`
	MaxSessions  int      `yaml:"maxSessions"`
}

type HTTP struct {
	Address string `yaml:"address"`
}

// Audit enables the SQLite invocation log when Path is set. Records older
// than Retention are purged on PurgeSchedule (cron syntax).
type Audit struct {
	Path          string `yaml:"path"`
	Retention     string `yaml:"retention"`
	PurgeSchedule string `yaml:"purgeSchedule"`
}

// envOverrides mirrors the settings that may be overridden from the
// environment. It is pre-filled with the file values so unset variables
// leave them untouched. No explicit envconfig tags: a tagged field also
// matches the unprefixed variable (HOST, PORT).
type envOverrides struct {
	Host            string
	Port            int
	Username        string
	Password        Secret
	DisableSudo     bool     `split_words:"true"`
	DisableRm       bool     `split_words:"true"`
	AllowedUsers    []string `split_words:"true"`
	MaxOutputLength int      `split_words:"true"`
	TransportMode   string   `split_words:"true"`
	LogLevel        string   `split_words:"true"`
	LogFormat       string   `split_words:"true"`
	AuditPath       string   `split_words:"true"`
	SecretKey       Secret   `split_words:"true"`
}

// Default returns a configuration with every optional field set.
func Default() *Config {
	return &Config{
		Remote: Remote{Port: DefaultPort},
		Policy: Policy{
			DisableSudo: true,
			DisableRm:   true,
		},
		MaxOutputLength: DefaultMaxOutputLength,
		Transport: Transport{
			Mode:        ModeSSHPass,
			Timeout:     DefaultTimeout.String(),
			SSHPassPath: "sshpass",
			SSHPath:     "ssh",
			MaxCapture:  DefaultMaxCapture,
		},
		Gateway: Gateway{Address: "127.0.0.1:7422"},
		HTTP:    HTTP{Address: "127.0.0.1:7480"},
		Audit: Audit{
			Retention:     DefaultAuditRetention.String(),
			PurgeSchedule: DefaultPurgeSchedule,
		},
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// LoadConfig loads configuration from a YAML file, a sibling .env file and
// SSHGATE_* environment overrides, then validates the result. An empty path
// skips the file and relies on the environment alone. overrides run last,
// before validation.
func LoadConfig(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := env.LoadFromDir(filepath.Dir(path)); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	secretKey, err := cfg.applyEnv()
	if err != nil {
		return nil, err
	}
	if cfg.Remote.Password, err = DecryptSecret(cfg.Remote.Password, secretKey); err != nil {
		return nil, err
	}
	for _, override := range overrides {
		override(cfg)
	}
	cfg.Policy.AllowedUsers = dedupe(cfg.Policy.AllowedUsers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays SSHGATE_* variables and returns SSHGATE_SECRET_KEY,
// which is never stored on the config.
func (c *Config) applyEnv() (Secret, error) {
	o := envOverrides{
		Host:            c.Remote.Host,
		Port:            c.Remote.Port,
		Username:        c.Remote.Username,
		Password:        c.Remote.Password,
		DisableSudo:     c.Policy.DisableSudo,
		DisableRm:       c.Policy.DisableRm,
		AllowedUsers:    c.Policy.AllowedUsers,
		MaxOutputLength: c.MaxOutputLength,
		TransportMode:   c.Transport.Mode,
		LogLevel:        c.LogLevel,
		LogFormat:       c.LogFormat,
		AuditPath:       c.Audit.Path,
	}
	if err := envconfig.Process("SSHGATE", &o); err != nil {
		return "", fmt.Errorf("environment overrides: %w", err)
	}

	c.Remote.Host = o.Host
	c.Remote.Port = o.Port
	c.Remote.Username = o.Username
	c.Remote.Password = o.Password
	c.Policy.DisableSudo = o.DisableSudo
	c.Policy.DisableRm = o.DisableRm
	c.Policy.AllowedUsers = o.AllowedUsers
	c.MaxOutputLength = o.MaxOutputLength
	c.Transport.Mode = o.TransportMode
	c.LogLevel = o.LogLevel
	c.LogFormat = o.LogFormat
	c.Audit.Path = o.AuditPath
	return o.SecretKey, nil
}

// Validate reports every missing or out-of-range setting at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Remote.Host) == "" {
		errs = append(errs, errors.New("remote.host is required"))
	}
	if c.Remote.Port <= 0 || c.Remote.Port > 65535 {
		errs = append(errs, fmt.Errorf("remote.port out of range: %d", c.Remote.Port))
	}
	if strings.TrimSpace(c.Remote.Username) == "" {
		errs = append(errs, errors.New("remote.username is required"))
	}
	if c.Remote.Password.Empty() {
		errs = append(errs, errors.New("remote.password is required"))
	}
	if c.MaxOutputLength <= 0 {
		errs = append(errs, fmt.Errorf("maxOutputLength must be positive: %d", c.MaxOutputLength))
	}
	switch c.Transport.Mode {
	case ModeSSHPass, ModeNative:
	default:
		errs = append(errs, fmt.Errorf("unknown transport.mode %q", c.Transport.Mode))
	}
	if d, err := time.ParseDuration(c.Transport.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("transport.timeout: %w", err))
	} else if d <= 0 {
		errs = append(errs, fmt.Errorf("transport.timeout must be positive: %s", c.Transport.Timeout))
	}
	if c.Audit.Path != "" {
		if d, err := time.ParseDuration(c.Audit.Retention); err != nil {
			errs = append(errs, fmt.Errorf("audit.retention: %w", err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("audit.retention must be positive: %s", c.Audit.Retention))
		}
		if strings.TrimSpace(c.Audit.PurgeSchedule) == "" {
			errs = append(errs, errors.New("audit.purgeSchedule is required when audit.path is set"))
		}
	}
	return errors.Join(errs...)
}

// AuditRetention returns how long audit records are kept, falling back to
// DefaultAuditRetention.
func (c *Config) AuditRetention() time.Duration {
	d, err := time.ParseDuration(c.Audit.Retention)
	if err != nil || d <= 0 {
		return DefaultAuditRetention
	}
	return d
}

// Timeout returns the transport deadline, falling back to DefaultTimeout.
func (c *Config) Timeout() time.Duration {
	d, err := time.ParseDuration(c.Transport.Timeout)
	if err != nil || d <= 0 {
		return DefaultTimeout
	}
	return d
}

// DefaultConfigPath returns the default location for the config file.
func DefaultConfigPath() string {
	if path := os.Getenv("SSHGATE_CONFIG"); path != "" {
		return path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".sshgate", "config.yaml")
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
