// Package result turns a transport outcome into the caller-facing result.
package result

import (
	"errors"

	"github.com/sameehj/sshgate/pkg/policy"
	"github.com/sameehj/sshgate/pkg/transport"
)

const (
	NoOutput       = "command executed successfully (no output)"
	TimeoutMessage = "SSH connection timed out"
	errorPrefix    = "SSH error: "
)

type Kind string

const (
	KindOK          Kind = "ok"
	KindDenied      Kind = "denied"
	KindTimeout     Kind = "timeout"
	KindRemoteError Kind = "remote_error"
	KindUnknown     Kind = "unknown"
	// KindUsage marks a request rejected before policy evaluation because
	// it carried no command.
	KindUsage Kind = "usage"
)

// Result is either a success carrying Output or a failure carrying Message.
type Result struct {
	Kind    Kind
	Output  string
	Message string
}

func OK(output string) Result {
	return Result{Kind: KindOK, Output: output}
}

func Failed(kind Kind, message string) Result {
	return Result{Kind: kind, Message: message}
}

func Denied(reason policy.Reason) Result {
	return Failed(KindDenied, policy.Deny(reason).Err().Error())
}

func (r Result) OK() bool { return r.Kind == KindOK }

// Text is what the caller sees.
func (r Result) Text() string {
	if r.OK() {
		return r.Output
	}
	return r.Message
}

// Classify maps the transport outcome. Empty stdout is a success with the
// NoOutput sentinel, not an error.
func Classify(out *transport.Output, err error) Result {
	if err == nil {
		if out == nil || out.Stdout == "" {
			return OK(NoOutput)
		}
		return OK(out.Stdout)
	}

	var terr *transport.Error
	if !errors.As(err, &terr) {
		return Failed(KindUnknown, errorPrefix+err.Error())
	}
	switch terr.Kind {
	case transport.KindTimeout:
		return Failed(KindTimeout, TimeoutMessage)
	case transport.KindRemote:
		return Failed(KindRemoteError, errorPrefix+terr.Detail)
	default:
		return Failed(KindUnknown, errorPrefix+terr.Detail)
	}
}
