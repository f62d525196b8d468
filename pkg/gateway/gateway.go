// Package gateway orchestrates one remote command per invocation:
// authorize, escape, execute, classify and shape the output.
//
// A Gateway holds no mutable state; every call is independent and may run
// concurrently with others. There is no persistent SSH session, so Status
// always reports "not connected".
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sameehj/sshgate/pkg/config"
	"github.com/sameehj/sshgate/pkg/exec"
	"github.com/sameehj/sshgate/pkg/policy"
	"github.com/sameehj/sshgate/pkg/result"
	"github.com/sameehj/sshgate/pkg/runtime/logging"
	"github.com/sameehj/sshgate/pkg/safety"
	"github.com/sameehj/sshgate/pkg/transport"
)

const (
	UsageMessage     = "usage: ssh <command>"
	TruncationMarker = "\n... (output truncated)"
	TestingNotice    = "testing connection..."
	ProbeCommand     = `echo "connection test successful"`

	OpExec = "ssh"
	OpTest = "ssh-test"
)

// Stage is the last step an invocation reached.
type Stage string

const (
	StageReceived   Stage = "received"
	StageAuthorized Stage = "authorized"
	StageSanitized  Stage = "sanitized"
	StageExecuted   Stage = "executed"
	StageShaped     Stage = "shaped"
	StageResponded  Stage = "responded"
)

// Invocation is one request, owned by the gateway for the duration of the call.
type Invocation struct {
	ID      string
	Caller  string
	Command string
}

// Reply is the caller-facing outcome. Text holds either the (possibly
// truncated) output or the failure message, never both.
type Reply struct {
	InvocationID string
	Kind         result.Kind
	Text         string
	Stage        Stage
	Duration     time.Duration
}

func (r Reply) OK() bool { return r.Kind == result.KindOK }

// Status describes the configured remote and the caller's session state.
type Status struct {
	Host      string
	Port      int
	Username  string
	Caller    string
	Connected bool
}

func (s Status) SessionState() string {
	if s.Connected {
		return "connected"
	}
	return "not connected"
}

func (s Status) String() string {
	return fmt.Sprintf("host: %s\nport: %d\nusername: %s\nsession: %s", s.Host, s.Port, s.Username, s.SessionState())
}

type Gateway struct {
	cfg       *config.Config
	transport transport.Transport
	recorder  safety.Recorder
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Gateway)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

func WithRecorder(recorder safety.Recorder) Option {
	return func(g *Gateway) { g.recorder = recorder }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

func New(cfg *config.Config, t transport.Transport, opts ...Option) *Gateway {
	g := &Gateway{
		cfg:       cfg,
		transport: t,
		recorder:  safety.NoopRecorder{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Exec runs command for caller. An empty command yields the usage message
// without touching policy or transport; a denied command never reaches the
// transport.
func (g *Gateway) Exec(ctx context.Context, caller, command string) Reply {
	inv := Invocation{ID: uuid.NewString(), Caller: caller, Command: command}
	start := g.now()

	if strings.TrimSpace(command) == "" {
		return Reply{InvocationID: inv.ID, Kind: result.KindUsage, Text: UsageMessage, Stage: StageReceived}
	}

	g.logInfo("invocation_start", "id", inv.ID, "op", OpExec,
		"caller", logging.Sanitize(caller), "command", logging.Sanitize(command))

	decision := policy.Authorize(caller, command, g.cfg.Policy)
	if !decision.Allowed {
		g.logWarn("invocation_denied", "id", inv.ID, "caller", logging.Sanitize(caller), "reason", string(decision.Reason))
		return g.finish(ctx, OpExec, inv, result.Denied(decision.Reason), decision.Reason, StageReceived, start)
	}

	res, stage := g.run(ctx, command)
	return g.finish(ctx, OpExec, inv, res, policy.ReasonNone, stage, start)
}

// Status reports the configured remote. No session is ever kept, so
// Connected is always false.
func (g *Gateway) Status(caller string) Status {
	return Status{
		Host:     g.cfg.Remote.Host,
		Port:     g.cfg.Remote.Port,
		Username: g.cfg.Remote.Username,
		Caller:   caller,
	}
}

// Test sends TestingNotice through notify and then runs ProbeCommand through
// the execution pipeline. The probe skips the caller allow-list and the
// sudo/rm checks; it contains neither token.
func (g *Gateway) Test(ctx context.Context, caller string, notify func(string)) Reply {
	inv := Invocation{ID: uuid.NewString(), Caller: caller, Command: ProbeCommand}
	start := g.now()
	if notify != nil {
		notify(TestingNotice)
	}
	g.logInfo("invocation_start", "id", inv.ID, "op", OpTest, "caller", logging.Sanitize(caller))

	res, stage := g.run(ctx, ProbeCommand)
	return g.finish(ctx, OpTest, inv, res, policy.ReasonNone, stage, start)
}

func (g *Gateway) run(ctx context.Context, command string) (result.Result, Stage) {
	escaped := exec.Escape(command)
	out, err := g.transport.Run(ctx, escaped)
	res := result.Classify(out, err)
	if !res.OK() {
		return res, StageSanitized
	}
	res.Output = Shape(res.Output, g.cfg.MaxOutputLength)
	return res, StageResponded
}

func (g *Gateway) finish(ctx context.Context, op string, inv Invocation, res result.Result, reason policy.Reason, stage Stage, start time.Time) Reply {
	elapsed := g.now().Sub(start)
	reply := Reply{
		InvocationID: inv.ID,
		Kind:         res.Kind,
		Text:         res.Text(),
		Stage:        stage,
		Duration:     elapsed,
	}

	args := []any{"id", inv.ID, "op", op, "kind", string(res.Kind), "stage", string(stage), "duration_ms", elapsed.Milliseconds()}
	if res.OK() {
		g.logInfo("invocation_done", args...)
	} else {
		g.logWarn("invocation_done", append(args, "message", logging.Sanitize(res.Message))...)
	}

	event := safety.Event{
		InvocationID: inv.ID,
		Caller:       inv.Caller,
		Command:      logging.Sanitize(inv.Command),
		Operation:    op,
		Kind:         string(res.Kind),
		Reason:       string(reason),
		Duration:     elapsed,
		At:           start,
	}
	// The caller's reply does not depend on the audit trail.
	if err := g.recorder.Record(context.WithoutCancel(ctx), event); err != nil {
		g.logError("audit_record_failed", "id", inv.ID, "error", err)
	}
	return reply
}

// Shape cuts output to max characters and appends TruncationMarker when
// anything was removed. The kept text is always a prefix of output.
func Shape(output string, max int) string {
	if max <= 0 || utf8.RuneCountInString(output) <= max {
		return output
	}
	n := 0
	for i := range output {
		if n == max {
			return output[:i] + TruncationMarker
		}
		n++
	}
	return output
}

func (g *Gateway) logInfo(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Info(msg, args...)
	}
}

func (g *Gateway) logWarn(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Warn(msg, args...)
	}
}

func (g *Gateway) logError(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Error(msg, args...)
	}
}
