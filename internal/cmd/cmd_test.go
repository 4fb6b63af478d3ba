package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yoanbernabeu/vpndeploy/internal/config"
	"github.com/yoanbernabeu/vpndeploy/internal/container"
	"github.com/yoanbernabeu/vpndeploy/internal/errcode"
	"github.com/yoanbernabeu/vpndeploy/internal/script"
)

func TestParseHostSpec(t *testing.T) {
	tests := []struct {
		input    string
		wantUser string
		wantHost string
		wantErr  bool
	}{
		{"root@203.0.113.10", "root", "203.0.113.10", false},
		{"ubuntu@vpn.example.com", "ubuntu", "vpn.example.com", false},
		{"vpn.example.com", "", "", true},
		{"@vpn.example.com", "", "", true},
		{"root@", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			user, host, err := parseHostSpec(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseHostSpec(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if user != tt.wantUser || host != tt.wantHost {
				t.Errorf("parseHostSpec(%q) = %q, %q", tt.input, user, host)
			}
		})
	}
}

func TestBuildProtocolConfig(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "protocols.json")
	if err := os.WriteFile(file, []byte(`{"openvpn": {"port": 1195}, "awg": {"Jc": 4}}`), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := buildProtocolConfig(container.Awg, file, []string{"Jc=6", "openvpn.transport_proto=tcp"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if jc, _ := cfg.Int("awg.Jc", 0); jc != 6 {
		t.Errorf("--set should override the file, got Jc=%d", jc)
	}
	if port, _ := cfg.Int("openvpn.port", 0); port != 1195 {
		t.Errorf("file value lost, got port=%d", port)
	}
	if proto := cfg.String("openvpn.transport_proto", ""); proto != "tcp" {
		t.Errorf("dotted key should be used as is, got %q", proto)
	}
}

func TestBuildProtocolConfig_Errors(t *testing.T) {
	if _, err := buildProtocolConfig(container.OpenVpn, "", []string{"port"}); err == nil {
		t.Error("expected an error for a --set without '='")
	}
	if _, err := buildProtocolConfig(container.OpenVpn, "", []string{"=1"}); err == nil {
		t.Error("expected an error for an empty key")
	}
	if _, err := buildProtocolConfig(container.OpenVpn, filepath.Join(t.TempDir(), "missing.json"), nil); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestBuildProtocolConfig_KeepsValuesVerbatim(t *testing.T) {
	cfg, err := buildProtocolConfig(container.ShadowSocks, "", []string{"password=000012345678", "port= 8388 "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := cfg.String("shadowsocks.password", ""); got != "000012345678" {
		t.Errorf("password altered, got %q", got)
	}
	if port, err := cfg.Int("shadowsocks.port", 0); err != nil || port != 8388 {
		t.Errorf("numeric setting should still parse, got %d (%v)", port, err)
	}
}

func TestServerRow(t *testing.T) {
	row := serverRow("vpn1", config.ServerConfig{
		Host:      "203.0.113.10",
		User:      "root",
		Port:      22,
		Password:  "secret",
		Installed: []string{"awg", "openvpn"},
	})

	want := []string{"vpn1", "203.0.113.10", "22", "root", "password", "awg,openvpn"}
	if strings.Join(row, "|") != strings.Join(want, "|") {
		t.Errorf("serverRow() = %v, want %v", row, want)
	}
	for _, cell := range row {
		if strings.Contains(cell, "secret") {
			t.Errorf("password leaked into the table: %v", row)
		}
	}

	row = serverRow("vpn2", config.ServerConfig{Host: "h", User: "u", Port: 2222, KeyPath: "~/.ssh/vpn", HostKey: "ssh-ed25519 AAAA"})
	if row[4] != "~/.ssh/vpn, pinned host key" || row[5] != "-" {
		t.Errorf("unexpected row: %v", row)
	}
}

func TestRenderVars(t *testing.T) {
	vars := script.Vars{}.
		Add("SHADOWSOCKS_SERVER_PORT", "6789").
		Add("SHADOWSOCKS_PASSWORD", "0123456789abcdef").
		Add("SUDO", "")

	var buf bytes.Buffer
	renderVars(&buf, vars, false)
	out := buf.String()

	if !strings.Contains(out, "6789") {
		t.Errorf("plain value missing:\n%s", out)
	}
	if strings.Contains(out, "0123456789abcdef") {
		t.Errorf("secret printed in clear:\n%s", out)
	}
	if !strings.Contains(out, "01****") {
		t.Errorf("masked secret missing:\n%s", out)
	}
	if !strings.Contains(out, `""`) {
		t.Errorf("empty value should be shown quoted:\n%s", out)
	}

	buf.Reset()
	renderVars(&buf, vars, true)
	if !strings.Contains(buf.String(), "0123456789abcdef") {
		t.Errorf("--show-secrets should reveal the value:\n%s", buf.String())
	}
}

func TestPromptSelect(t *testing.T) {
	options := []string{"id_ed25519 (ed25519)", "id_rsa (rsa)"}
	tests := []struct {
		input string
		want  int
	}{
		{"1\n", 0},
		{"2\n", 1},
		{"2", 1},
		{"0\n", -1},
		{"\n", -1},
		{"3\n", -1},
		{"abc\n", -1},
	}

	for _, tt := range tests {
		var out bytes.Buffer
		got := promptSelect(strings.NewReader(tt.input), &out, "Select:", options)
		if got != tt.want {
			t.Errorf("promptSelect(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}

	if got := promptSelect(strings.NewReader("1\n"), &bytes.Buffer{}, "Select:", nil); got != -1 {
		t.Errorf("no options should return -1, got %d", got)
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := confirm(strings.NewReader(tt.input), &bytes.Buffer{}, "Continue?"); got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestDescribeError(t *testing.T) {
	plain := errors.New("boom")
	if describeError(plain) != "boom" {
		t.Errorf("plain errors should be unchanged, got %q", describeError(plain))
	}

	msg := describeError(errcode.New(errcode.SSHUnknownHostKey, "connect"))
	if !strings.Contains(msg, "[SSHUnknownHostKey]") {
		t.Errorf("code name missing: %q", msg)
	}
	if !strings.Contains(msg, config.EnvSkipHostKeyCheck) {
		t.Errorf("hint missing: %q", msg)
	}

	msg = describeError(errcode.Wrap(errcode.InternalError, "setup container", errcode.New(errcode.ScriptFailed, "run")))
	if !strings.Contains(msg, "[ScriptFailed]") {
		t.Errorf("inner code should be shown: %q", msg)
	}
}

func TestResolveServer(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv(config.EnvSSHKey, "")
	t.Setenv(config.EnvSSHPassword, "")

	global := config.DefaultGlobalConfig()
	if err := global.AddServer("vpn1", config.ServerConfig{Host: "203.0.113.10", User: "ubuntu", Password: "pw"}); err != nil {
		t.Fatalf("AddServer: %v", err)
	}
	if err := config.SaveGlobalConfig(global); err != nil {
		t.Fatalf("SaveGlobalConfig: %v", err)
	}

	target, err := ResolveServer("vpn1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target.Creds.Identity() != "ubuntu@203.0.113.10:22" {
		t.Errorf("unexpected identity %q", target.Creds.Identity())
	}
	if target.Creds.Password != "pw" {
		t.Errorf("password not resolved")
	}

	target.Server.MarkInstalled("wireguard")
	if err := target.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	reloaded, err := ResolveServer("vpn1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reloaded.Server.Installed) != 1 || reloaded.Server.Installed[0] != "wireguard" {
		t.Errorf("installed list not persisted: %v", reloaded.Server.Installed)
	}

	if _, err := ResolveServer("missing"); err == nil {
		t.Error("expected an error for an unknown server")
	}
	if _, err := ResolveServer("bad name!"); err == nil {
		t.Error("expected an error for an invalid name")
	}
}

func TestCommandTree(t *testing.T) {
	want := []string{
		"server add", "server list", "server check", "server remove",
		"firewall", "install", "remove", "file push", "file pull", "vars",
	}
	for _, path := range want {
		c, _, err := GetRootCmd().Find(strings.Fields(path))
		if err != nil || c.Name() != strings.Fields(path)[len(strings.Fields(path))-1] {
			t.Errorf("command %q not registered", path)
		}
	}
}
