package env

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "SSHGATE_T_HOST=bar\n# comment\nexport SSHGATE_T_PASSWORD=\"p#ss word\"\nSSHGATE_T_USER=ops # trailing\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	for _, k := range []string{"SSHGATE_T_HOST", "SSHGATE_T_PASSWORD", "SSHGATE_T_USER"} {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
	if err := LoadFromDir(dir); err != nil {
		t.Fatalf("LoadFromDir: %v", err)
	}
	if got := os.Getenv("SSHGATE_T_HOST"); got != "bar" {
		t.Fatalf("expected SSHGATE_T_HOST=bar, got %q", got)
	}
	if got := os.Getenv("SSHGATE_T_PASSWORD"); got != "p#ss word" {
		t.Fatalf("expected quoted password preserved, got %q", got)
	}
	if got := os.Getenv("SSHGATE_T_USER"); got != "ops" {
		t.Fatalf("expected trailing comment stripped, got %q", got)
	}
}

func TestLoadDoesNotOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("SSHGATE_T_HOST=bar\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("SSHGATE_T_HOST", "existing")
	if err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := os.Getenv("SSHGATE_T_HOST"); got != "existing" {
		t.Fatalf("expected existing value preserved, got %q", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if err := LoadFromDir(t.TempDir()); err != nil {
		t.Fatalf("missing .env should be ignored, got %v", err)
	}
}
