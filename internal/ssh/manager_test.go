package ssh

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoanbernabeu/vpndeploy/internal/config"
	"github.com/yoanbernabeu/vpndeploy/internal/errcode"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// isolateHostKeys makes sure no real known_hosts or env overrides apply.
func isolateHostKeys(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv(config.EnvKnownHosts, "")
	t.Setenv(config.EnvSkipHostKeyCheck, "")
}

func TestAcquireCachesSession(t *testing.T) {
	srv := newTestServer(t)
	m := NewManager()
	defer m.CloseAll()

	ctx := context.Background()
	first, err := m.Acquire(ctx, srv.creds())
	require.NoError(t, err)
	second, err := m.Acquire(ctx, srv.creds())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), srv.handshakes.Load())
	assert.Equal(t, 1, m.Len())

	m.Release(srv.creds())
	assert.Equal(t, 0, m.Len())

	third, err := m.Acquire(ctx, srv.creds())
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, int32(2), srv.handshakes.Load())

	// Released sessions are closed.
	assert.Equal(t, errcode.SSHConnectionLost, errcode.CodeOf(first.Run(ctx, "true", Output{})))
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := NewManager()
	creds := config.ServerCredentials{Host: "10.0.0.1", User: "root", Password: "x"}
	m.Release(creds)
	m.Release(creds)
	assert.Equal(t, 0, m.Len())
}

func TestAcquireReplacesBrokenSession(t *testing.T) {
	srv := newTestServer(t)
	m := NewManager()
	defer m.CloseAll()

	ctx := context.Background()
	first, err := m.Acquire(ctx, srv.creds())
	require.NoError(t, err)
	_ = first.Run(ctx, dropCommand, Output{})

	second, err := m.Acquire(ctx, srv.creds())
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.NoError(t, second.Run(ctx, "true", Output{}))
}

func TestCloseAll(t *testing.T) {
	srv := newTestServer(t)
	m := NewManager()

	s, err := m.Acquire(context.Background(), srv.creds())
	require.NoError(t, err)
	require.NoError(t, m.CloseAll())
	assert.Equal(t, 0, m.Len())
	assert.False(t, s.Alive())
}

func TestAcquireConcurrentSharesDial(t *testing.T) {
	srv := newTestServer(t)
	m := NewManager()
	defer m.CloseAll()

	const callers = 8
	sessions := make([]*Session, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.Acquire(context.Background(), srv.creds())
			assert.NoError(t, err)
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range sessions[1:] {
		assert.Same(t, sessions[0], s)
	}
	assert.Equal(t, int32(1), srv.handshakes.Load())
	assert.Equal(t, 1, m.Len())
}

func TestAcquireSlowDialDoesNotBlockCache(t *testing.T) {
	srv := newTestServer(t)

	// Accepts TCP but never speaks SSH, so the handshake hangs until the
	// dial timeout.
	silent, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer silent.Close()
	go func() {
		for {
			c, err := silent.Accept()
			if err != nil {
				return
			}
			defer c.Close()
		}
	}()

	m := NewManager(WithDialTimeout(3 * time.Second))
	defer m.CloseAll()

	slowDone := make(chan error, 1)
	go func() {
		creds := config.ServerCredentials{Host: "127.0.0.1", Port: silent.Addr().(*net.TCPAddr).Port, User: "root", Password: "x", HostKey: srv.creds().HostKey}
		_, err := m.Acquire(context.Background(), creds)
		slowDone <- err
	}()
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	s, err := m.Acquire(context.Background(), srv.creds())
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
	m.Release(srv.creds())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, s.Alive())

	select {
	case err := <-slowDone:
		assert.Equal(t, errcode.LayerConnection, errcode.CodeOf(err).Layer())
	case <-time.After(10 * time.Second):
		t.Fatal("slow dial never returned")
	}
}

func TestCloseAllDuringDial(t *testing.T) {
	srv := newTestServer(t)
	m := NewManager()

	creds := srv.creds()
	creds.Port = delayedProxy(t, srv, 300*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := m.Acquire(context.Background(), creds)
		done <- err
	}()
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, m.CloseAll())

	err := <-done
	assert.Equal(t, errcode.SSHConnectionLost, errcode.CodeOf(err))
	assert.Equal(t, 0, m.Len())
}

// delayedProxy forwards connections to srv after holding them for delay and
// returns the local port it listens on.
func delayedProxy(t *testing.T, srv *testServer, delay time.Duration) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			in, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer in.Close()
				time.Sleep(delay)
				out, err := net.Dial("tcp", srv.listener.Addr().String())
				if err != nil {
					return
				}
				defer out.Close()
				go func() { _, _ = io.Copy(out, in) }()
				_, _ = io.Copy(in, out)
			}()
		}
	}()
	return l.Addr().(*net.TCPAddr).Port
}

func TestCheckConnection(t *testing.T) {
	srv := newTestServer(t)
	m := NewManager()
	defer m.CloseAll()

	out, err := m.CheckConnection(context.Background(), srv.creds())
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.NotContains(t, out, "\n")
}

func TestCheckConnectionUnreachable(t *testing.T) {
	m := NewManager(WithDialTimeout(2 * time.Second))
	creds := config.ServerCredentials{Host: "127.0.0.1", Port: closedPort(t), User: "root", Password: "x"}

	_, err := m.CheckConnection(context.Background(), creds)
	require.Error(t, err)
	code := errcode.CodeOf(err)
	assert.Equal(t, errcode.LayerConnection, code.Layer())
	assert.Equal(t, errcode.SSHHostUnreachable, code)
	assert.Equal(t, 0, m.Len())
}

func TestAcquireAuthFailed(t *testing.T) {
	srv := newTestServer(t)
	m := NewManager()

	creds := srv.creds()
	creds.PrivateKey = nil
	creds.Password = "wrong"

	_, err := m.Acquire(context.Background(), creds)
	assert.Equal(t, errcode.SSHAuthFailed, errcode.CodeOf(err))
}

func TestAcquirePasswordAuth(t *testing.T) {
	srv := newTestServer(t)
	m := NewManager()
	defer m.CloseAll()

	creds := srv.creds()
	creds.PrivateKey = nil
	creds.Password = testPassword

	_, err := m.Acquire(context.Background(), creds)
	assert.NoError(t, err)
}

func TestAcquireInvalidCredentials(t *testing.T) {
	m := NewManager()
	_, err := m.Acquire(context.Background(), config.ServerCredentials{Host: "10.0.0.1", User: "root"})
	assert.Equal(t, errcode.InvalidInput, errcode.CodeOf(err))

	_, err = m.Acquire(context.Background(), config.ServerCredentials{Host: "10.0.0.1", User: "root", PrivateKey: []byte("garbage")})
	assert.Equal(t, errcode.InvalidInput, errcode.CodeOf(err))
}

func TestHostKeyPolicy(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	t.Run("pinned mismatch", func(t *testing.T) {
		isolateHostKeys(t)
		t.Setenv(config.EnvSkipHostKeyCheck, "true")

		other := newTestServer(t)
		creds := srv.creds()
		creds.HostKey = string(ssh.MarshalAuthorizedKey(other.hostSigner.PublicKey()))

		_, err := NewManager().Acquire(ctx, creds)
		assert.Equal(t, errcode.SSHHostKeyMismatch, errcode.CodeOf(err))
	})

	t.Run("unknown host", func(t *testing.T) {
		isolateHostKeys(t)
		creds := srv.creds()
		creds.HostKey = ""

		_, err := NewManager().Acquire(ctx, creds)
		assert.Equal(t, errcode.SSHUnknownHostKey, errcode.CodeOf(err))
	})

	t.Run("unknown host with skip", func(t *testing.T) {
		isolateHostKeys(t)
		t.Setenv(config.EnvSkipHostKeyCheck, "true")
		creds := srv.creds()
		creds.HostKey = ""

		m := NewManager()
		defer m.CloseAll()
		_, err := m.Acquire(ctx, creds)
		assert.NoError(t, err)
	})

	t.Run("known_hosts from env", func(t *testing.T) {
		isolateHostKeys(t)
		creds := srv.creds()
		creds.HostKey = ""
		line := knownhosts.Line([]string{knownhosts.Normalize(creds.Addr())}, srv.hostSigner.PublicKey())
		t.Setenv(config.EnvKnownHosts, line+"\n")

		m := NewManager()
		defer m.CloseAll()
		_, err := m.Acquire(ctx, creds)
		assert.NoError(t, err)
	})

	t.Run("known_hosts mismatch is never skipped", func(t *testing.T) {
		isolateHostKeys(t)
		t.Setenv(config.EnvSkipHostKeyCheck, "true")

		other := newTestServer(t)
		creds := srv.creds()
		creds.HostKey = ""

		home := os.Getenv("HOME")
		require.NoError(t, os.MkdirAll(filepath.Join(home, ".ssh"), 0700))
		line := knownhosts.Line([]string{knownhosts.Normalize(creds.Addr())}, other.hostSigner.PublicKey())
		require.NoError(t, os.WriteFile(filepath.Join(home, ".ssh", "known_hosts"), []byte(line+"\n"), 0600))

		_, err := NewManager().Acquire(ctx, creds)
		assert.Equal(t, errcode.SSHHostKeyMismatch, errcode.CodeOf(err))
	})
}

func TestExecutorAdapter(t *testing.T) {
	srv := newTestServer(t)
	m := NewManager()
	defer m.CloseAll()

	exec, err := m.Executor(context.Background(), srv.creds())
	require.NoError(t, err)
	out, err := Capture(context.Background(), exec, "printf 'x\\ny\\n'")
	require.NoError(t, err)
	assert.Equal(t, "x\ny", out)
}
