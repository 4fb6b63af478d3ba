package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/yoanbernabeu/vpndeploy/internal/config"
	"golang.org/x/crypto/ssh"
)

const (
	testUser     = "tester"
	testPassword = "secret"

	// dropCommand makes the server cut the TCP connection mid-execution.
	dropCommand = "__drop_connection__"
)

// fakeDocker stands in for the docker CLI. A container NAME exists when
// $FAKE_DOCKER_ROOT/NAME does; "docker exec -i NAME CMD..." runs CMD on the
// host. stop, rm and rmi fail like dockerd does for an absent container.
const fakeDocker = `#!/bin/sh
missing() {
  echo "Error response from daemon: No such container: $1" >&2
  exit 1
}
case "$1" in
version) echo "24.0.7"; exit 0 ;;
stop)
  [ -d "$FAKE_DOCKER_ROOT/$2" ] || missing "$2"
  echo "$2"; exit 0 ;;
rm)
  [ "$2" = "-fv" ] && shift
  [ -d "$FAKE_DOCKER_ROOT/$2" ] || missing "$2"
  rm -rf "$FAKE_DOCKER_ROOT/$2"; echo "$2"; exit 0 ;;
rmi)
  echo "Error response from daemon: No such image: $2:latest" >&2; exit 1 ;;
exec) ;;
*) echo "unsupported docker command: $*" >&2; exit 1 ;;
esac
shift
[ "$1" = "-i" ] && shift
name="$1"; shift
if [ ! -d "$FAKE_DOCKER_ROOT/$name" ]; then
  echo "Error response from daemon: No such container: $name" >&2
  exit 1
fi
exec "$@"
`

const fakeSudo = `#!/bin/sh
[ "$1" = "-n" ] && shift
exec "$@"
`

// fakeIptables keeps rules as lines in $FAKE_DOCKER_ROOT/iptables.rules and
// logs every append to $FAKE_DOCKER_ROOT/iptables.appends.
const fakeIptables = `#!/bin/sh
table=filter
if [ "$1" = "-t" ]; then table="$2"; shift 2; fi
action="$1"; shift
rule="$table $*"
case "$action" in
-C) grep -qxF "$rule" "$FAKE_DOCKER_ROOT/iptables.rules" 2>/dev/null ;;
-A)
  echo "$rule" >> "$FAKE_DOCKER_ROOT/iptables.rules"
  echo "$rule" >> "$FAKE_DOCKER_ROOT/iptables.appends" ;;
*) echo "iptables: unsupported action $action" >&2; exit 2 ;;
esac
`

const fakeSysctl = `#!/bin/sh
exit 0
`

// testServer is an in-process SSH server running commands with /bin/sh.
type testServer struct {
	t          *testing.T
	listener   net.Listener
	hostSigner ssh.Signer
	clientKey  []byte
	dockerRoot string
	binDir     string
	handshakes atomic.Int32

	mu    sync.Mutex
	conns []net.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatal(err)
	}

	clientPub, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKey(clientPriv, "")
	if err != nil {
		t.Fatal(err)
	}
	authorized, err := ssh.NewPublicKey(clientPub)
	if err != nil {
		t.Fatal(err)
	}

	srv := &testServer{
		t:          t,
		hostSigner: hostSigner,
		clientKey:  pem.EncodeToMemory(block),
		dockerRoot: t.TempDir(),
		binDir:     t.TempDir(),
	}
	writeExecutable(t, filepath.Join(srv.binDir, "docker"), fakeDocker)
	writeExecutable(t, filepath.Join(srv.binDir, "sudo"), fakeSudo)
	writeExecutable(t, filepath.Join(srv.binDir, "iptables"), fakeIptables)
	writeExecutable(t, filepath.Join(srv.binDir, "sysctl"), fakeSysctl)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == testUser && string(pass) == testPassword {
				return nil, nil
			}
			return nil, errors.New("denied")
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if c.User() == testUser && string(key.Marshal()) == string(authorized.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("denied")
		},
	}
	cfg.AddHostKey(hostSigner)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv.listener = l
	t.Cleanup(srv.close)

	go srv.serve(cfg)
	return srv
}

func writeExecutable(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0755); err != nil {
		t.Fatal(err)
	}
}

func (s *testServer) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// creds returns key based credentials pinned to the server host key.
func (s *testServer) creds() config.ServerCredentials {
	return config.ServerCredentials{
		Host:       "127.0.0.1",
		Port:       s.port(),
		User:       testUser,
		PrivateKey: s.clientKey,
		HostKey:    string(ssh.MarshalAuthorizedKey(s.hostSigner.PublicKey())),
	}
}

// addContainer makes "docker exec NAME" succeed.
func (s *testServer) addContainer(name string) {
	if err := os.MkdirAll(filepath.Join(s.dockerRoot, name), 0755); err != nil {
		s.t.Fatal(err)
	}
}

func (s *testServer) close() {
	s.listener.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
}

func (s *testServer) serve(cfg *ssh.ServerConfig) {
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, nc)
		s.mu.Unlock()
		go s.handleConn(nc, cfg)
	}
}

func (s *testServer) handleConn(nc net.Conn, cfg *ssh.ServerConfig) {
	conn, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		nc.Close()
		return
	}
	s.handshakes.Add(1)
	go ssh.DiscardRequests(reqs)

	for nch := range chans {
		if nch.ChannelType() != "session" {
			_ = nch.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, chReqs, err := nch.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(conn, ch, chReqs)
	}
}

func (s *testServer) handleSession(conn *ssh.ServerConn, ch ssh.Channel, reqs <-chan *ssh.Request) {
	var (
		mu  sync.Mutex
		cmd *exec.Cmd
	)
	defer func() {
		mu.Lock()
		if cmd != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		mu.Unlock()
	}()

	for req := range reqs {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)

			if payload.Command == dropCommand {
				_, _ = ch.Write([]byte("partial\n"))
				time.Sleep(50 * time.Millisecond)
				conn.Close()
				return
			}

			c := exec.Command("/bin/sh", "-c", payload.Command)
			c.Env = append(os.Environ(),
				"PATH="+s.binDir+":"+os.Getenv("PATH"),
				"FAKE_DOCKER_ROOT="+s.dockerRoot,
			)
			c.Stdin = ch
			c.Stdout = ch
			c.Stderr = ch.Stderr()
			c.WaitDelay = time.Second

			mu.Lock()
			cmd = c
			mu.Unlock()

			go func() {
				err := c.Run()
				sendExit(ch, err)
				ch.Close()
			}()

		case "signal":
			mu.Lock()
			if cmd != nil && cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
			mu.Unlock()

		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			go func() {
				server, err := sftp.NewServer(ch)
				if err != nil {
					ch.Close()
					return
				}
				_ = server.Serve()
				ch.Close()
			}()

		default:
			if req.WantReply {
				_ = req.Reply(req.Type == "env", nil)
			}
		}
	}
}

func sendExit(ch ssh.Channel, err error) {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			msg := struct {
				Signal     string
				CoreDumped bool
				Error      string
				Lang       string
			}{Signal: signalName(ws.Signal())}
			_, _ = ch.SendRequest("exit-signal", false, ssh.Marshal(&msg))
			return
		}
		status := struct{ Status uint32 }{uint32(exitErr.ExitCode())}
		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(&status))
		return
	}
	status := struct{ Status uint32 }{}
	if err != nil {
		status.Status = 127
	}
	_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(&status))
}

func signalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGTERM:
		return "TERM"
	case syscall.SIGINT:
		return "INT"
	case syscall.SIGHUP:
		return "HUP"
	default:
		return "KILL"
	}
}

// closedPort returns a local port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}
