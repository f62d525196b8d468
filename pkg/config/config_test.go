package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
remote:
  host: h
  username: u
  password: p
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Remote.Port != 22 {
		t.Fatalf("expected default port 22, got %d", cfg.Remote.Port)
	}
	if !cfg.Policy.DisableSudo || !cfg.Policy.DisableRm {
		t.Fatalf("expected sudo and rm disabled by default, got %+v", cfg.Policy)
	}
	if len(cfg.Policy.AllowedUsers) != 0 {
		t.Fatalf("expected unrestricted allow-list, got %v", cfg.Policy.AllowedUsers)
	}
	if cfg.MaxOutputLength != 2000 {
		t.Fatalf("expected maxOutputLength 2000, got %d", cfg.MaxOutputLength)
	}
	if cfg.Timeout() != DefaultTimeout {
		t.Fatalf("expected 30s timeout, got %s", cfg.Timeout())
	}
	if cfg.Transport.Mode != ModeSSHPass {
		t.Fatalf("expected sshpass mode, got %q", cfg.Transport.Mode)
	}
}

func TestLoadConfigExplicitFalse(t *testing.T) {
	path := writeConfig(t, `
remote: {host: h, port: 2222, username: u, password: p}
policy:
  disableSudo: false
  disableRm: false
  allowedUsers: [alice, bob, alice, " "]
maxOutputLength: 10
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Policy.DisableSudo || cfg.Policy.DisableRm {
		t.Fatalf("explicit false must override defaults, got %+v", cfg.Policy)
	}
	if got := strings.Join(cfg.Policy.AllowedUsers, ","); got != "alice,bob" {
		t.Fatalf("expected ordered deduped allow-list, got %q", got)
	}
	if cfg.Remote.Port != 2222 || cfg.MaxOutputLength != 10 {
		t.Fatalf("unexpected values: %+v", cfg)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, "remote: {host: h, username: u}\n")
	t.Setenv("SSHGATE_PASSWORD", "from-env")
	t.Setenv("SSHGATE_HOST", "override")
	t.Setenv("SSHGATE_DISABLE_SUDO", "false")
	t.Setenv("SSHGATE_ALLOWED_USERS", "alice,bob")
	t.Setenv("SSHGATE_MAX_OUTPUT_LENGTH", "99")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Remote.Password.Reveal() != "from-env" {
		t.Fatalf("expected password from env")
	}
	if cfg.Remote.Host != "override" {
		t.Fatalf("expected host override, got %q", cfg.Remote.Host)
	}
	if cfg.Policy.DisableSudo {
		t.Fatalf("expected sudo check disabled by env")
	}
	if !cfg.Policy.DisableRm {
		t.Fatalf("unset env must keep rm check")
	}
	if len(cfg.Policy.AllowedUsers) != 2 || cfg.MaxOutputLength != 99 {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
}

func TestLoadConfigDotEnv(t *testing.T) {
	path := writeConfig(t, "remote: {host: h, username: u}\n")
	if err := os.WriteFile(filepath.Join(filepath.Dir(path), ".env"), []byte("SSHGATE_PASSWORD=dotenv\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("SSHGATE_PASSWORD", "")
	_ = os.Unsetenv("SSHGATE_PASSWORD")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Remote.Password.Reveal() != "dotenv" {
		t.Fatalf("expected password from .env, got %q", cfg.Remote.Password.Reveal())
	}
}

func TestValidateReportsEverything(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Remote.Port = 0
	cfg.MaxOutputLength = 0
	cfg.Transport.Mode = "telnet"
	cfg.Transport.Timeout = "soon"

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"remote.host", "remote.port", "remote.username", "remote.password", "maxOutputLength", "transport.mode", "transport.timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestSecretRedaction(t *testing.T) {
	t.Parallel()

	s := Secret("hunter2")
	if got := fmt.Sprintf("%v %s", s, s); strings.Contains(got, "hunter2") {
		t.Fatalf("secret leaked through fmt: %q", got)
	}
	if v := s.LogValue(); v.String() != redacted {
		t.Fatalf("secret leaked through slog: %q", v.String())
	}
	out, err := yaml.Marshal(Remote{Host: "h", Password: s})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(out), "hunter2") {
		t.Fatalf("secret leaked through yaml: %s", out)
	}
	if s.Reveal() != "hunter2" {
		t.Fatalf("Reveal must return the raw value")
	}

	var sb strings.Builder
	logger := slog.New(slog.NewTextHandler(&sb, nil))
	logger.Info("remote", "password", s)
	if strings.Contains(sb.String(), "hunter2") {
		t.Fatalf("secret leaked through handler: %s", sb.String())
	}
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("SSHGATE_CONFIG", "/etc/sshgate.yaml")
	if got := DefaultConfigPath(); got != "/etc/sshgate.yaml" {
		t.Fatalf("unexpected path %q", got)
	}
}

func TestEncryptedPassword(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	token, err := EncryptSecret("s3cret", Secret(key))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !strings.HasPrefix(token, EncryptedPrefix) {
		t.Fatalf("expected prefixed token, got %q", token)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "remote:\n  host: h\n  username: u\n  password: \"" + token + "\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("SSHGATE_SECRET_KEY", key)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Remote.Password.Reveal() != "s3cret" {
		t.Fatalf("expected decrypted password")
	}

	t.Setenv("SSHGATE_SECRET_KEY", "")
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error without a secret key")
	}

	other, _ := GenerateKey()
	t.Setenv("SSHGATE_SECRET_KEY", other)
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error with the wrong key")
	}
}

func TestDecryptSecretPlainPassthrough(t *testing.T) {
	t.Parallel()

	got, err := DecryptSecret("plain", "")
	if err != nil || got != "plain" {
		t.Fatalf("expected passthrough, got %q %v", got, err)
	}
}

func TestAuditValidation(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Remote.Host = "h"
	cfg.Remote.Username = "u"
	cfg.Remote.Password = "p"
	cfg.Audit.Path = filepath.Join(t.TempDir(), "audit.db")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.AuditRetention() != DefaultAuditRetention {
		t.Fatalf("unexpected retention %s", cfg.AuditRetention())
	}

	cfg.Audit.Retention = "soon"
	cfg.Audit.PurgeSchedule = " "
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "audit.retention") || !strings.Contains(err.Error(), "audit.purgeSchedule") {
		t.Fatalf("expected both audit errors, got %v", err)
	}
}
