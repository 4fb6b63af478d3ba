package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yoanbernabeu/vpndeploy/internal/constants"
)

// Credentials resolves the server entry into connection credentials.
// Environment overrides take precedence over the stored entry: a key in
// VPNDEPLOY_SSH_KEY replaces key_path, VPNDEPLOY_SSH_PASSWORD replaces the
// stored password. With neither a key nor a password configured, the usual
// ~/.ssh/id_ed25519 and ~/.ssh/id_rsa are tried.
func (s *ServerConfig) Credentials() (ServerCredentials, error) {
	creds := ServerCredentials{
		Host:       s.Host,
		Port:       s.Port,
		User:       s.User,
		Password:   s.Password,
		HostKey:    s.HostKey,
		Passphrase: os.Getenv(EnvSSHPassphrase),
	}
	if creds.Port == 0 {
		creds.Port = constants.DefaultSSHPort
	}

	if pw := os.Getenv(EnvSSHPassword); pw != "" {
		creds.Password = pw
	}

	if envKey := os.Getenv(EnvSSHKey); envKey != "" {
		creds.PrivateKey = []byte(envKey)
		return creds, nil
	}

	keyPath := s.KeyPath
	if keyPath == "" && creds.Password == "" {
		keyPath = defaultKeyPath()
	}
	if keyPath == "" {
		if creds.Password == "" {
			return creds, fmt.Errorf("no SSH key or password configured (set %s for CI/CD)", EnvSSHKey)
		}
		return creds, nil
	}

	keyPath = ExpandHome(keyPath)
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return creds, fmt.Errorf("failed to read key file: %w", err)
	}
	creds.PrivateKey = key
	creds.PrivateKeyPath = keyPath
	return creds, nil
}

// ExpandHome expands a leading ~/ in path.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[2:])
}

func defaultKeyPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	for _, name := range []string{"id_ed25519", "id_rsa"} {
		p := filepath.Join(homeDir, ".ssh", name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
