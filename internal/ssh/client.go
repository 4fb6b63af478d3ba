package ssh

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/yoanbernabeu/vpndeploy/internal/config"
	"github.com/yoanbernabeu/vpndeploy/internal/constants"
	"github.com/yoanbernabeu/vpndeploy/internal/errcode"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyError is returned by the host key callback when the server key
// cannot be trusted.
type HostKeyError struct {
	Addr        string
	Fingerprint string
	// Mismatch is true when a different key is on record for the host.
	// Otherwise the host is simply unknown.
	Mismatch bool
}

func (e *HostKeyError) Error() string {
	if e.Mismatch {
		return fmt.Sprintf("host key mismatch for %s (got %s)", e.Addr, e.Fingerprint)
	}
	return fmt.Sprintf("host key for %s is unknown (%s); add it to known_hosts, pin it in the server config, or set %s=true",
		e.Addr, e.Fingerprint, config.EnvSkipHostKeyCheck)
}

// dial opens and authenticates a client connection. Every error it returns
// carries a connection layer code.
func dial(ctx context.Context, creds config.ServerCredentials, timeout time.Duration) (*ssh.Client, error) {
	auth, err := authMethods(creds)
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidInput, "load credentials", err)
	}

	verify, err := hostKeyCallback(creds)
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidInput, "host key policy", err)
	}

	// The handshake wraps callback errors inconsistently across versions,
	// so the rejection is captured here as well.
	var rejected *HostKeyError
	cfg := &ssh.ClientConfig{
		User: creds.User,
		Auth: auth,
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			err := verify(hostname, remote, key)
			if hk, ok := err.(*HostKeyError); ok {
				rejected = hk
			}
			return err
		},
		Timeout: timeout,
	}

	addr := creds.Addr()
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errcode.Wrap(FromConnectionError(err), "dial "+addr, err)
	}

	// Bound the handshake too, then clear the deadline for the session.
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		if rejected != nil {
			return nil, errcode.Wrap(FromConnectionError(rejected), "handshake "+addr, rejected)
		}
		return nil, errcode.Wrap(FromConnectionError(err), "handshake "+addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(c, chans, reqs), nil
}

// authMethods offers the private key first and the password second, with
// keyboard-interactive answered by the same password.
func authMethods(creds config.ServerCredentials) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if len(creds.PrivateKey) > 0 {
		var (
			signer ssh.Signer
			err    error
		)
		if creds.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(creds.PrivateKey, []byte(creds.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(creds.PrivateKey)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if creds.Password != "" {
		password := creds.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no SSH key or password configured")
	}
	return methods, nil
}

// hostKeyCallback picks the verification policy, in order: the key pinned
// in the credentials, known_hosts content from VPNDEPLOY_KNOWN_HOSTS,
// ~/.ssh/known_hosts. VPNDEPLOY_SKIP_HOST_KEY_CHECK=true accepts hosts that
// are not on record but never a mismatching key.
func hostKeyCallback(creds config.ServerCredentials) (ssh.HostKeyCallback, error) {
	skip := config.SkipHostKeyCheck()

	if creds.HostKey != "" {
		pinned, _, _, _, err := ssh.ParseAuthorizedKey([]byte(creds.HostKey))
		if err != nil {
			return nil, fmt.Errorf("invalid pinned host key: %w", err)
		}
		return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
			if bytes.Equal(key.Marshal(), pinned.Marshal()) {
				return nil
			}
			return &HostKeyError{Addr: hostname, Fingerprint: ssh.FingerprintSHA256(key), Mismatch: true}
		}, nil
	}

	known, err := knownHostsCallback()
	if err != nil {
		return nil, err
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if known != nil {
			err := known(hostname, remote, key)
			if err == nil {
				return nil
			}
			ke, ok := err.(*knownhosts.KeyError)
			if !ok {
				return err
			}
			if len(ke.Want) > 0 {
				return &HostKeyError{Addr: hostname, Fingerprint: ssh.FingerprintSHA256(key), Mismatch: true}
			}
		}
		if skip {
			return nil
		}
		return &HostKeyError{Addr: hostname, Fingerprint: ssh.FingerprintSHA256(key)}
	}, nil
}

// knownHostsCallback returns nil when no known_hosts source exists.
func knownHostsCallback() (ssh.HostKeyCallback, error) {
	// CI/CD: known_hosts content in an environment variable
	if content := os.Getenv(config.EnvKnownHosts); content != "" {
		// Write to temp file for knownhosts.New()
		tmpFile, err := os.CreateTemp("", "known_hosts")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp known_hosts: %w", err)
		}
		defer os.Remove(tmpFile.Name())

		if _, err := tmpFile.WriteString(content); err != nil {
			tmpFile.Close()
			return nil, fmt.Errorf("failed to write temp known_hosts: %w", err)
		}
		tmpFile.Close()

		callback, err := knownhosts.New(tmpFile.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", config.EnvKnownHosts, err)
		}
		return callback, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, nil
	}
	path := filepath.Join(homeDir, ".ssh", "known_hosts")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read known_hosts: %w", err)
	}
	return callback, nil
}

func defaultDialTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return constants.DialTimeout
	}
	return d
}
