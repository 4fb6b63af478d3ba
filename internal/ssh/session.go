package ssh

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yoanbernabeu/vpndeploy/internal/config"
	"github.com/yoanbernabeu/vpndeploy/internal/constants"
	"github.com/yoanbernabeu/vpndeploy/internal/errcode"
	"github.com/yoanbernabeu/vpndeploy/internal/logger"
	"github.com/yoanbernabeu/vpndeploy/internal/security"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

// LineSink receives one line of remote output, without the trailing newline.
type LineSink func(line string)

// Discard drops every line.
func Discard(string) {}

// Output routes the two remote streams. Lines of one stream arrive in order;
// the two sinks may be called concurrently with each other.
type Output struct {
	Stdout LineSink
	Stderr LineSink
}

func (o Output) stdout() LineSink {
	if o.Stdout == nil {
		return Discard
	}
	return o.Stdout
}

func (o Output) stderr() LineSink {
	if o.Stderr == nil {
		return Discard
	}
	return o.Stderr
}

// Session is one authenticated connection to a host. Executions on a
// session are serialised; a second caller blocks until the first is done.
type Session struct {
	creds  config.ServerCredentials
	client *ssh.Client

	mu        sync.Mutex
	broken    atomic.Bool
	closeOnce sync.Once
	log       *logger.Logger
}

func newSession(creds config.ServerCredentials, client *ssh.Client) *Session {
	return &Session{
		creds:  creds,
		client: client,
		log:    logger.Get().With("server", creds.Identity()),
	}
}

// Identity returns the user@host:port this session is bound to.
func (s *Session) Identity() string {
	return s.creds.Identity()
}

// Run executes script through the remote login shell and streams its
// output line by line. The error carries the resulting code: a non-zero
// exit is ProcessFailed, death by signal ProcessKilled, an expired ctx
// ProcessTimedOut (the remote process is sent SIGKILL) and a transport
// failure SSHConnectionLost. A session that lost its transport fails fast
// from then on.
func (s *Session) Run(ctx context.Context, script string, out Output) error {
	return s.run(ctx, script, nil, out)
}

func (s *Session) run(ctx context.Context, script string, stdin io.Reader, out Output) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runLocked(ctx, script, stdin, out)
}

func (s *Session) runLocked(ctx context.Context, script string, stdin io.Reader, out Output) error {
	const op = "run"

	if s.broken.Load() {
		return errcode.Newf(errcode.SSHConnectionLost, op, "session to %s is no longer usable", s.Identity())
	}
	if err := ctx.Err(); err != nil {
		return contextError(op, err)
	}

	sess, err := s.client.NewSession()
	if err != nil {
		s.markBroken()
		return errcode.Wrap(errcode.SSHConnectionLost, "open session", err)
	}
	defer sess.Close()

	if stdin != nil {
		sess.Stdin = stdin
	}
	stdoutPipe, err := sess.StdoutPipe()
	if err != nil {
		return errcode.Wrap(errcode.InternalError, op, err)
	}
	stderrPipe, err := sess.StderrPipe()
	if err != nil {
		return errcode.Wrap(errcode.InternalError, op, err)
	}

	s.log.Debugf("exec: %s", security.SanitizeCommandForLog(firstLine(script)))

	if err := sess.Start(script); err != nil {
		s.markBroken()
		return errcode.Wrap(errcode.SSHConnectionLost, "start", err)
	}

	var lastStderr atomic.Value
	stderrSink := out.stderr()

	var g errgroup.Group
	g.Go(func() error { return scanLines(stdoutPipe, out.stdout()) })
	g.Go(func() error {
		return scanLines(stderrPipe, func(line string) {
			if strings.TrimSpace(line) != "" {
				lastStderr.Store(line)
			}
			stderrSink(line)
		})
	})

	type result struct {
		scanErr error
		waitErr error
	}
	done := make(chan result, 1)
	go func() {
		scanErr := g.Wait()
		done <- result{scanErr: scanErr, waitErr: sess.Wait()}
	}()

	select {
	case res := <-done:
		tail, _ := lastStderr.Load().(string)
		if err := s.exitError(res.waitErr, tail); err != nil {
			return err
		}
		if res.scanErr != nil {
			return errcode.Wrap(errcode.SSHConnectionLost, "read output", res.scanErr)
		}
		return nil
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		sess.Close()
		select {
		case <-done:
		case <-time.After(constants.KeepaliveTimeout):
			// The remote never acknowledged the close. Dropping the
			// transport ends both readers, so no sink runs after return.
			s.log.Warnf("no reply to channel close, dropping connection")
			_ = s.Close()
			<-done
		}
		return contextError(op, ctx.Err())
	}
}

// exitError turns the result of Session.Wait into a coded error.
func (s *Session) exitError(err error, stderrTail string) error {
	if err == nil {
		return nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		signaled := exitErr.Signal() != ""
		code := FromProcessExit(exitErr.ExitStatus(), signaled)
		detail := fmt.Sprintf("exit status %d", exitErr.ExitStatus())
		if signaled {
			detail = "signal " + exitErr.Signal()
		}
		if stderrTail != "" {
			detail += ": " + stderrTail
		}
		return &errcode.Error{Code: code, Op: "run", Err: &exitDetail{msg: detail, err: exitErr}}
	}

	s.markBroken()
	return errcode.Wrap(errcode.SSHConnectionLost, "run", err)
}

// exitDetail keeps the *ssh.ExitError reachable through errors.As.
type exitDetail struct {
	msg string
	err *ssh.ExitError
}

func (e *exitDetail) Error() string { return e.msg }
func (e *exitDetail) Unwrap() error { return e.err }

// ExitStatus returns the remote exit status carried by err, if any.
func ExitStatus(err error) (int, bool) {
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), true
	}
	return 0, false
}

// Alive sends a keepalive request and waits for the reply.
func (s *Session) Alive() bool {
	if s.broken.Load() {
		return false
	}
	reply := make(chan error, 1)
	go func() {
		_, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil)
		reply <- err
	}()
	select {
	case err := <-reply:
		if err != nil {
			s.markBroken()
			return false
		}
		return true
	case <-time.After(constants.KeepaliveTimeout):
		s.markBroken()
		return false
	}
}

// Close tears down the connection. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.broken.Store(true)
		err = s.client.Close()
	})
	return err
}

func (s *Session) markBroken() {
	s.broken.Store(true)
}

func contextError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errcode.Wrap(errcode.ProcessTimedOut, op, err)
	}
	return errcode.Wrap(errcode.ProcessKilled, op, err)
}

// maxLineLength bounds the size of one delivered line. Longer lines are
// delivered in pieces of this size.
const maxLineLength = 1024 * 1024

// scanLines feeds r to sink one line at a time. A line longer than
// maxLineLength reaches the sink as several consecutive chunks.
func scanLines(r io.Reader, sink LineSink) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	chunked := false
	for {
		frag, isPrefix, err := br.ReadLine()
		if err != nil {
			if len(line) > 0 {
				sink(string(line))
			}
			if err == io.EOF {
				return nil
			}
			// Keep draining so the remote side never blocks on a full window.
			_, _ = io.Copy(io.Discard, br)
			return err
		}
		line = append(line, frag...)
		if isPrefix {
			if len(line) >= maxLineLength {
				sink(string(line))
				line = line[:0]
				chunked = true
			}
			continue
		}
		// A chunk flush right before the newline leaves nothing to send.
		if !(chunked && len(line) == 0) {
			sink(strings.TrimSuffix(string(line), "\r"))
		}
		line = line[:0]
		chunked = false
	}
}

// firstLine returns the first meaningful line of a script for logging.
func firstLine(script string) string {
	lines := strings.Split(strings.TrimSpace(script), "\n")
	for i, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		if i < len(lines)-1 {
			return l + " ..."
		}
		return l
	}
	return ""
}
