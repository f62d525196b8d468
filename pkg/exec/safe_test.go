//go:build !windows

package exec

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

func skipWithoutSh(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
}

func TestRunnerSuccess(t *testing.T) {
	skipWithoutSh(t)
	t.Parallel()

	r := &Runner{Timeout: 2 * time.Second}
	res, err := r.RunShell(context.Background(), "echo hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Stdout != "hello\n" || res.Code != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunnerExitCode(t *testing.T) {
	skipWithoutSh(t)
	t.Parallel()

	r := &Runner{Timeout: 2 * time.Second}
	res, err := r.RunShell(context.Background(), "echo oops >&2; exit 3")
	if err != nil {
		t.Fatalf("non-zero exit must not be an error, got %v", err)
	}
	if res.Code != 3 || res.Stderr != "oops\n" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunnerEnvIsChildOnly(t *testing.T) {
	skipWithoutSh(t)
	t.Parallel()

	r := &Runner{Timeout: 2 * time.Second, Env: []string{"SSHGATE_TEST_SECRET=s3cret"}}
	res, err := r.RunShell(context.Background(), `printf %s "$SSHGATE_TEST_SECRET"`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Stdout != "s3cret" {
		t.Fatalf("expected child env, got %q", res.Stdout)
	}
	if os.Getenv("SSHGATE_TEST_SECRET") != "" {
		t.Fatalf("child env leaked into parent")
	}
}

func TestRunnerTimeoutKillsProcessGroup(t *testing.T) {
	skipWithoutSh(t)
	t.Parallel()

	pidFile := filepath.Join(t.TempDir(), "pid")
	r := &Runner{Timeout: 200 * time.Millisecond}
	start := time.Now()
	_, err := r.RunShell(context.Background(), "sleep 30 & echo $! > "+pidFile+"; wait")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("timeout did not trigger quickly")
	}

	data, readErr := os.ReadFile(pidFile)
	if readErr != nil {
		t.Fatalf("read pid file: %v", readErr)
	}
	pid, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
	if convErr != nil {
		t.Fatalf("parse pid: %v", convErr)
	}
	deadline := time.Now().Add(3 * time.Second)
	for processAlive(pid) {
		if time.Now().After(deadline) {
			t.Fatalf("background child %d still running after timeout", pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRunnerCancellation(t *testing.T) {
	skipWithoutSh(t)
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	r := &Runner{Timeout: 10 * time.Second}
	_, err := r.RunShell(ctx, "sleep 30")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunnerOutputCap(t *testing.T) {
	skipWithoutSh(t)
	t.Parallel()

	r := &Runner{MaxOutput: 10}
	res, err := r.RunShell(context.Background(), "printf '123456789012345'")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Truncated || res.Stdout != "1234567890" {
		t.Fatalf("expected capped stdout, got %+v", res)
	}
}

func TestRunnerLaunchFailure(t *testing.T) {
	t.Parallel()

	r := &Runner{Timeout: time.Second}
	if _, err := r.Run(context.Background(), "/nonexistent/sshgate-binary"); err == nil {
		t.Fatalf("expected launch failure")
	}
	if _, err := r.Run(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty command")
	}
}

// processAlive treats zombies as dead: the group kill has happened and only
// reaping by init is left.
func processAlive(pid int) bool {
	if err := syscall.Kill(pid, 0); err != nil {
		return false
	}
	stat, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return !os.IsNotExist(err)
	}
	fields := strings.Fields(string(stat[strings.LastIndexByte(string(stat), ')')+1:]))
	return len(fields) == 0 || fields[0] != "Z"
}
