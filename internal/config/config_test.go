package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultGlobalConfig(t *testing.T) {
	cfg := DefaultGlobalConfig()

	if cfg.Servers == nil {
		t.Error("expected servers map to be initialized")
	}

	if cfg.DefaultPort != 22 {
		t.Errorf("expected default port 22, got %d", cfg.DefaultPort)
	}

	if cfg.DefaultUser != "root" {
		t.Errorf("expected default user 'root', got %s", cfg.DefaultUser)
	}
}

func TestGlobalConfigRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := LoadGlobalConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.Servers)

	require.NoError(t, cfg.AddServer("edge", ServerConfig{Host: "203.0.113.7", KeyPath: "~/.ssh/id_ed25519"}))
	require.NoError(t, SaveGlobalConfig(cfg))

	path, err := GetGlobalConfigPath()
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadGlobalConfig()
	require.NoError(t, err)
	srv, err := loaded.GetServer("edge")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", srv.Host)
	assert.Equal(t, "root", srv.User)
	assert.Equal(t, 22, srv.Port)
	assert.Equal(t, "edge", srv.Name)
}

func TestAddServerRejectsDuplicatesAndBadNames(t *testing.T) {
	cfg := DefaultGlobalConfig()
	require.NoError(t, cfg.AddServer("a", ServerConfig{Host: "10.0.0.1"}))
	assert.Error(t, cfg.AddServer("a", ServerConfig{Host: "10.0.0.2"}))
	assert.Error(t, cfg.AddServer("bad name", ServerConfig{Host: "10.0.0.3"}))
	assert.Error(t, cfg.AddServer("b", ServerConfig{Host: "bad;host"}))
}

func TestRemoveServer(t *testing.T) {
	cfg := DefaultGlobalConfig()
	require.NoError(t, cfg.AddServer("a", ServerConfig{Host: "10.0.0.1"}))
	require.NoError(t, cfg.RemoveServer("a"))
	assert.Error(t, cfg.RemoveServer("a"))
}

func TestListServersSorted(t *testing.T) {
	cfg := DefaultGlobalConfig()
	for _, n := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, cfg.AddServer(n, ServerConfig{Host: "10.0.0.1"}))
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, cfg.ListServers())
}

func TestMarkInstalled(t *testing.T) {
	s := &ServerConfig{}
	s.MarkInstalled("wireguard")
	s.MarkInstalled("openvpn")
	s.MarkInstalled("openvpn")
	assert.Equal(t, []string{"openvpn", "wireguard"}, s.Installed)

	s.MarkRemoved("openvpn")
	assert.Equal(t, []string{"wireguard"}, s.Installed)
	s.MarkRemoved("missing")
	assert.Equal(t, []string{"wireguard"}, s.Installed)
}

func TestIdentity(t *testing.T) {
	tests := []struct {
		creds ServerCredentials
		want  string
	}{
		{ServerCredentials{Host: "10.0.0.1", User: "root"}, "root@10.0.0.1:22"},
		{ServerCredentials{Host: "vpn.example.com", User: "admin", Port: 2222}, "admin@vpn.example.com:2222"},
		{ServerCredentials{Host: "2001:db8::1", User: "root", Port: 22}, "root@[2001:db8::1]:22"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.creds.Identity())
		})
	}
}

func TestCredentialsFromKeyPath(t *testing.T) {
	t.Setenv(EnvSSHKey, "")
	t.Setenv(EnvSSHPassword, "")
	keyFile := filepath.Join(t.TempDir(), "id_test")
	require.NoError(t, os.WriteFile(keyFile, []byte("PEM"), 0600))

	s := &ServerConfig{Host: "10.0.0.1", User: "root", KeyPath: keyFile, HostKey: "ssh-ed25519 AAAA"}
	creds, err := s.Credentials()
	require.NoError(t, err)
	assert.Equal(t, []byte("PEM"), creds.PrivateKey)
	assert.Equal(t, keyFile, creds.PrivateKeyPath)
	assert.Equal(t, 22, creds.Port)
	assert.Equal(t, "ssh-ed25519 AAAA", creds.HostKey)
}

func TestCredentialsEnvOverrides(t *testing.T) {
	t.Setenv(EnvSSHKey, "ENVKEY")
	t.Setenv(EnvSSHPassword, "envpass")

	s := &ServerConfig{Host: "10.0.0.1", User: "root", KeyPath: "/does/not/exist", Password: "stored"}
	creds, err := s.Credentials()
	require.NoError(t, err)
	assert.Equal(t, []byte("ENVKEY"), creds.PrivateKey)
	assert.Equal(t, "envpass", creds.Password)
}

func TestCredentialsPasswordOnly(t *testing.T) {
	t.Setenv(EnvSSHKey, "")
	t.Setenv(EnvSSHPassword, "")

	s := &ServerConfig{Host: "10.0.0.1", User: "root", Password: "pw"}
	creds, err := s.Credentials()
	require.NoError(t, err)
	assert.Empty(t, creds.PrivateKey)
	assert.Equal(t, "pw", creds.Password)
}

func TestCredentialsMissingKeyFile(t *testing.T) {
	t.Setenv(EnvSSHKey, "")
	t.Setenv(EnvSSHPassword, "")
	s := &ServerConfig{Host: "10.0.0.1", User: "root", KeyPath: filepath.Join(t.TempDir(), "missing")}
	_, err := s.Credentials()
	assert.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(EnvSkipHostKeyCheck+"=true\n"), 0600))

	os.Unsetenv(EnvSkipHostKeyCheck)
	t.Cleanup(func() { os.Unsetenv(EnvSkipHostKeyCheck) })

	require.NoError(t, LoadEnv(filepath.Join(dir, "missing.env"), envFile))
	assert.True(t, SkipHostKeyCheck())
}
