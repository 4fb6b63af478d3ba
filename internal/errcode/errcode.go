// Package errcode defines the closed set of outcome codes returned by every
// provisioning operation, and the error type that carries them.
package errcode

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Code is the outcome of an operation. NoError is the only success value.
type Code int

const (
	NoError Code = iota

	// Connection layer
	SSHTimeout
	SSHAuthFailed
	SSHHostUnreachable
	SSHProtocolError
	SSHUnknownHostKey
	SSHHostKeyMismatch
	SSHConnectionLost
	SSHConnectionFailed

	// Process layer
	ProcessFailed
	ProcessKilled
	ProcessTimedOut

	// Application layer
	ScriptFailed
	ContainerNotFound
	FileNotFound
	VerificationFailed

	// Local
	InvalidInput
	InternalError

	numCodes
)

// Layer groups codes by where the failure originated.
type Layer int

const (
	LayerNone Layer = iota
	LayerConnection
	LayerProcess
	LayerApplication
	LayerLocal
)

func (l Layer) String() string {
	switch l {
	case LayerNone:
		return "none"
	case LayerConnection:
		return "connection"
	case LayerProcess:
		return "process"
	case LayerApplication:
		return "application"
	case LayerLocal:
		return "local"
	default:
		return fmt.Sprintf("layer(%d)", int(l))
	}
}

var codeNames = [...]string{
	NoError:             "NoError",
	SSHTimeout:          "SSHTimeout",
	SSHAuthFailed:       "SSHAuthFailed",
	SSHHostUnreachable:  "SSHHostUnreachable",
	SSHProtocolError:    "SSHProtocolError",
	SSHUnknownHostKey:   "SSHUnknownHostKey",
	SSHHostKeyMismatch:  "SSHHostKeyMismatch",
	SSHConnectionLost:   "SSHConnectionLost",
	SSHConnectionFailed: "SSHConnectionFailed",
	ProcessFailed:       "ProcessFailed",
	ProcessKilled:       "ProcessKilled",
	ProcessTimedOut:     "ProcessTimedOut",
	ScriptFailed:        "ScriptFailed",
	ContainerNotFound:   "ContainerNotFound",
	FileNotFound:        "FileNotFound",
	VerificationFailed:  "VerificationFailed",
	InvalidInput:        "InvalidInput",
	InternalError:       "InternalError",
}

// Fails to compile when a code is added without a name.
var _ = [1]struct{}{}[len(codeNames)-int(numCodes)]

func (c Code) String() string {
	if c < 0 || c >= numCodes {
		return fmt.Sprintf("Code(%d)", int(c))
	}
	return codeNames[c]
}

// Layer returns the layer the code belongs to.
func (c Code) Layer() Layer {
	switch {
	case c == NoError:
		return LayerNone
	case c >= SSHTimeout && c <= SSHConnectionFailed:
		return LayerConnection
	case c >= ProcessFailed && c <= ProcessTimedOut:
		return LayerProcess
	case c >= ScriptFailed && c <= VerificationFailed:
		return LayerApplication
	default:
		return LayerLocal
	}
}

// Description returns a short human-readable explanation of the code.
func (c Code) Description() string {
	switch c {
	case NoError:
		return "no error"
	case SSHTimeout:
		return "ssh connection timed out"
	case SSHAuthFailed:
		return "ssh authentication failed"
	case SSHHostUnreachable:
		return "host unreachable"
	case SSHProtocolError:
		return "ssh protocol error"
	case SSHUnknownHostKey:
		return "server host key is not trusted"
	case SSHHostKeyMismatch:
		return "server host key does not match the expected key"
	case SSHConnectionLost:
		return "ssh connection lost"
	case SSHConnectionFailed:
		return "ssh connection failed"
	case ProcessFailed:
		return "remote process exited with non-zero status"
	case ProcessKilled:
		return "remote process was killed"
	case ProcessTimedOut:
		return "remote process timed out"
	case ScriptFailed:
		return "script reported a failure"
	case ContainerNotFound:
		return "container not found"
	case FileNotFound:
		return "file not found"
	case VerificationFailed:
		return "service verification failed"
	case InvalidInput:
		return "invalid input"
	case InternalError:
		return "internal error"
	default:
		return c.String()
	}
}

// Error is an error classified with exactly one Code.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if inner, ok := e.Err.(*Error); ok && inner.Code == e.Code {
		if e.Op == "" {
			return inner.Error()
		}
		return e.Op + ": " + inner.Error()
	}
	msg := e.Code.Description()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return fmt.Sprintf("%s [%s]", msg, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code, so errors.Is(err, errcode.New(X, "")) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New returns an error with the given code and message.
func New(code Code, op string) *Error {
	return &Error{Code: code, Op: op}
}

// Newf returns an error with the given code and a formatted cause.
func Newf(code Code, op, format string, args ...interface{}) *Error {
	return &Error{Code: code, Op: op, Err: pkgerrors.Errorf(format, args...)}
}

// Wrap attaches code to err. If err already carries a code, that code is
// kept and only the operation name is recorded. A nil err returns nil.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		if op == "" {
			return err
		}
		return &Error{Code: ce.Code, Op: op, Err: err}
	}
	return &Error{Code: code, Op: op, Err: pkgerrors.WithStack(err)}
}

// CodeOf returns the code carried by err. nil is NoError; an error that was
// never classified is InternalError.
func CodeOf(err error) Code {
	if err == nil {
		return NoError
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return InternalError
}
