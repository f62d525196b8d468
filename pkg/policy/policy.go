// Package policy decides whether a caller may run a command on the remote
// host. Evaluation is a pure function of the caller, the command text and
// the configured switches.
package policy

import (
	"fmt"
	"strings"

	"github.com/sameehj/sshgate/pkg/config"
)

// Reason names the rule that denied an invocation.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonNotAuthorized Reason = "not authorized"
	ReasonSudoDisabled  Reason = "sudo disabled"
	ReasonRmDisabled    Reason = "rm disabled"
)

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed bool
	Reason  Reason
}

func Allow() Decision { return Decision{Allowed: true} }

func Deny(reason Reason) Decision { return Decision{Reason: reason} }

func (d Decision) String() string {
	if d.Allowed {
		return "allow"
	}
	return "deny: " + string(d.Reason)
}

// Err returns nil for an allowed decision and a *DeniedError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Reason: d.Reason}
}

// DeniedError reports a policy denial.
type DeniedError struct {
	Reason Reason
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Reason)
}

// Authorize evaluates the rules in order; the first match wins.
//
// The sudo check is a plain substring match, so words that embed it such as
// "visudo" or "sudoku" are denied too. The rm check only looks at the trimmed
// prefix, which also catches "rmdir" but not "format rm".
func Authorize(caller, command string, p config.Policy) Decision {
	if len(p.AllowedUsers) > 0 && !contains(p.AllowedUsers, caller) {
		return Deny(ReasonNotAuthorized)
	}
	if p.DisableSudo && strings.Contains(command, "sudo") {
		return Deny(ReasonSudoDisabled)
	}
	if p.DisableRm && strings.HasPrefix(strings.TrimSpace(command), "rm") {
		return Deny(ReasonRmDisabled)
	}
	return Allow()
}

func contains(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}
