package container

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		want    Container
		wantErr bool
	}{
		{"openvpn", OpenVpn, false},
		{"OpenVPN", OpenVpn, false},
		{" shadowsocks ", ShadowSocks, false},
		{"cloak", Cloak, false},
		{"wireguard", WireGuard, false},
		{"awg", Awg, false},
		{"none", None, false},
		{"ipsec", None, true},
		{"", None, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNames(t *testing.T) {
	if None.Name() != "" {
		t.Errorf("None must not have a remote name, got %q", None.Name())
	}
	seen := map[string]bool{}
	for _, c := range All() {
		name := c.Name()
		if !strings.HasPrefix(name, NamePrefix) {
			t.Errorf("%s: name %q lacks prefix %q", c, name, NamePrefix)
		}
		if seen[name] {
			t.Errorf("duplicate remote name %q", name)
		}
		seen[name] = true
	}
}

func TestIsOpenVpn(t *testing.T) {
	for _, c := range []Container{OpenVpn, ShadowSocks, Cloak} {
		if !c.IsOpenVpn() {
			t.Errorf("%s should be OpenVPN based", c)
		}
	}
	for _, c := range []Container{None, WireGuard, Awg} {
		if c.IsOpenVpn() {
			t.Errorf("%s should not be OpenVPN based", c)
		}
	}
}

func TestUnknownContainer(t *testing.T) {
	c := Container(42)
	if c.Name() != "" {
		t.Errorf("unknown container should have empty name, got %q", c.Name())
	}
	if c.String() != "container(42)" {
		t.Errorf("unexpected string %q", c.String())
	}
}
