package provision

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/yoanbernabeu/vpndeploy/internal/errcode"
	"github.com/yoanbernabeu/vpndeploy/internal/ssh"
)

// FailureMarker starts a line printed by a script that detected a failure
// itself.
const FailureMarker = "VPNDEPLOY_FAILURE:"

// failureWatcher scans script output for FailureMarker while forwarding
// every line. Stdout and stderr sinks may call it concurrently.
type failureWatcher struct {
	mu      sync.Mutex
	found   bool
	message string
}

func (w *failureWatcher) wrap(sink ssh.LineSink) ssh.LineSink {
	return func(line string) {
		if msg, ok := strings.CutPrefix(strings.TrimSpace(line), FailureMarker); ok {
			w.mu.Lock()
			if !w.found {
				w.found = true
				w.message = strings.TrimSpace(msg)
			}
			w.mu.Unlock()
		}
		if sink != nil {
			sink(line)
		}
	}
}

// result turns the outcome of a run into the step result. A reported
// failure replaces success and process level codes, but never hides a
// connection failure.
func (w *failureWatcher) result(op string, err error) error {
	w.mu.Lock()
	found, msg := w.found, w.message
	w.mu.Unlock()

	if !found {
		return err
	}
	if err != nil && errcode.CodeOf(err).Layer() == errcode.LayerConnection {
		return err
	}
	if msg == "" {
		return errcode.New(errcode.ScriptFailed, op)
	}
	return &errcode.Error{Code: errcode.ScriptFailed, Op: op, Err: errors.New(msg)}
}

// runWatched runs text on exec and applies the failure marker rule. Errors
// without a code become InternalError.
func runWatched(ctx context.Context, exec ssh.Executor, op, text string, out ssh.Output) error {
	var w failureWatcher
	err := exec.Run(ctx, text, ssh.Output{
		Stdout: w.wrap(out.Stdout),
		Stderr: w.wrap(out.Stderr),
	})
	return w.result(op, errcode.Wrap(errcode.InternalError, op, err))
}
