package ssh

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/yoanbernabeu/vpndeploy/internal/errcode"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// transportKind is the classification of a transport level failure before
// it is mapped onto an errcode.Code.
type transportKind int

const (
	kindUnknown transportKind = iota
	kindTimeout
	kindUnreachable
	kindAuth
	kindProtocol
	kindUnknownHostKey
	kindHostKeyMismatch
	kindLost
	numTransportKinds
)

var kindCodes = [...]errcode.Code{
	kindUnknown:         errcode.SSHConnectionFailed,
	kindTimeout:         errcode.SSHTimeout,
	kindUnreachable:     errcode.SSHHostUnreachable,
	kindAuth:            errcode.SSHAuthFailed,
	kindProtocol:        errcode.SSHProtocolError,
	kindUnknownHostKey:  errcode.SSHUnknownHostKey,
	kindHostKeyMismatch: errcode.SSHHostKeyMismatch,
	kindLost:            errcode.SSHConnectionLost,
}

// Fails to compile when a kind is added without a code.
var _ = [1]struct{}{}[len(kindCodes)-int(numTransportKinds)]

// FromConnectionError maps a dial, handshake or channel error to a
// connection layer code. nil is NoError; anything unrecognised is
// SSHConnectionFailed.
func FromConnectionError(err error) errcode.Code {
	if err == nil {
		return errcode.NoError
	}
	var ce *errcode.Error
	if errors.As(err, &ce) && ce.Code.Layer() == errcode.LayerConnection {
		return ce.Code
	}
	return kindCodes[classify(err)]
}

// FromProcessExit maps a remote exit status to a process layer code.
func FromProcessExit(status int, signaled bool) errcode.Code {
	switch {
	case signaled:
		return errcode.ProcessKilled
	case status == 0:
		return errcode.NoError
	default:
		return errcode.ProcessFailed
	}
}

func classify(err error) transportKind {
	var hk *HostKeyError
	if errors.As(err, &hk) {
		if hk.Mismatch {
			return kindHostKeyMismatch
		}
		return kindUnknownHostKey
	}

	var ke *knownhosts.KeyError
	if errors.As(err, &ke) {
		if len(ke.Want) == 0 {
			return kindUnknownHostKey
		}
		return kindHostKeyMismatch
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return kindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return kindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return kindUnreachable
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return kindUnreachable
	}

	msg := err.Error()
	if strings.Contains(msg, "i/o timeout") {
		return kindTimeout
	}
	if strings.Contains(msg, "unable to authenticate") {
		return kindAuth
	}

	// A peer that closes during the handshake is not speaking SSH to us.
	if strings.Contains(msg, "handshake failed") {
		return kindProtocol
	}

	var exitMissing *ssh.ExitMissingError
	if errors.As(err, &exitMissing) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return kindLost
	}

	if strings.HasPrefix(msg, "ssh: ") {
		return kindProtocol
	}

	return kindUnknown
}
