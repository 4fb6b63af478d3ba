package provision

import (
	"context"
	"errors"
	"time"

	"github.com/yoanbernabeu/vpndeploy/internal/errcode"
	"github.com/yoanbernabeu/vpndeploy/internal/script"
	"github.com/yoanbernabeu/vpndeploy/internal/ssh"
)

const (
	defaultVerifyRetries  = 5
	defaultVerifyInterval = 2 * time.Second
)

// Verifier checks that an OpenVPN based container is serving
type Verifier struct {
	exec     ssh.Executor
	vars     script.Vars
	retries  int
	interval time.Duration
}

// NewVerifier creates a verifier for the container described by vars
func NewVerifier(exec ssh.Executor, vars script.Vars) *Verifier {
	return &Verifier{
		exec:     exec,
		vars:     vars,
		retries:  defaultVerifyRetries,
		interval: defaultVerifyInterval,
	}
}

// SetRetries sets the number of attempts
func (v *Verifier) SetRetries(retries int) {
	v.retries = retries
}

// SetInterval sets the pause between attempts
func (v *Verifier) SetInterval(interval time.Duration) {
	v.interval = interval
}

// VerifyResult contains the result of a verification
type VerifyResult struct {
	Healthy  bool
	Message  string
	Attempts int
}

// Check runs check_openvpn.sh until it passes or the retries run out. An
// unhealthy service is reported in the result. The error is set when the
// connection failed or ctx ended, with the code of that failure.
func (v *Verifier) Check(ctx context.Context) (*VerifyResult, error) {
	text, err := script.Render("check_openvpn.sh", v.vars)
	if err != nil {
		return nil, errcode.Wrap(errcode.InternalError, "verify", err)
	}

	retries := v.retries
	if retries < 1 {
		retries = 1
	}

	result := &VerifyResult{}
	for attempt := 1; attempt <= retries; attempt++ {
		result.Attempts = attempt

		err := runWatched(ctx, v.exec, "verify", text, ssh.Output{})
		if err == nil {
			result.Healthy = true
			result.Message = "healthy"
			return result, nil
		}
		if errcode.CodeOf(err).Layer() == errcode.LayerConnection {
			return result, err
		}
		if ctx.Err() != nil {
			return result, interrupted(err, ctx.Err())
		}
		result.Message = err.Error()

		if attempt == retries {
			break
		}
		select {
		case <-ctx.Done():
			return result, contextError("verify", ctx.Err())
		case <-time.After(v.interval):
		}
	}

	return result, nil
}

// interrupted keeps the code of an attempt cut short by ctx, falling back to
// one derived from ctx itself.
func interrupted(err, ctxErr error) error {
	switch errcode.CodeOf(err) {
	case errcode.ProcessTimedOut, errcode.ProcessKilled:
		return err
	}
	return contextError("verify", ctxErr)
}

func contextError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errcode.Wrap(errcode.ProcessTimedOut, op, err)
	}
	return errcode.Wrap(errcode.ProcessKilled, op, err)
}
