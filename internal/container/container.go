// Package container enumerates the VPN services that can be provisioned.
package container

import (
	"fmt"
	"strings"
)

// Container selects a provisionable protocol variant. None means a
// host-level operation with no specific container.
type Container int

const (
	None Container = iota
	OpenVpn
	ShadowSocks
	Cloak
	WireGuard
	Awg
)

// NamePrefix is shared by every container this tool creates on a host.
const NamePrefix = "vpndeploy-"

type info struct {
	key     string
	remote  string
	title   string
	openVpn bool
}

var table = map[Container]info{
	None:        {key: "none", remote: "", title: "Host"},
	OpenVpn:     {key: "openvpn", remote: NamePrefix + "openvpn", title: "OpenVPN", openVpn: true},
	ShadowSocks: {key: "shadowsocks", remote: NamePrefix + "shadowsocks", title: "OpenVPN over ShadowSocks", openVpn: true},
	Cloak:       {key: "cloak", remote: NamePrefix + "openvpn-cloak", title: "OpenVPN over Cloak", openVpn: true},
	WireGuard:   {key: "wireguard", remote: NamePrefix + "wireguard", title: "WireGuard"},
	Awg:         {key: "awg", remote: NamePrefix + "awg", title: "AmneziaWG"},
}

// All returns every provisionable container, None excluded.
func All() []Container {
	return []Container{OpenVpn, ShadowSocks, Cloak, WireGuard, Awg}
}

// Parse resolves a CLI key such as "openvpn" into a Container.
func Parse(key string) (Container, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	for c, i := range table {
		if i.key == key {
			return c, nil
		}
	}
	return None, fmt.Errorf("unknown container %q (valid: %s)", key, strings.Join(Keys(), ", "))
}

// Keys returns the CLI keys of every provisionable container.
func Keys() []string {
	all := All()
	keys := make([]string, 0, len(all))
	for _, c := range all {
		keys = append(keys, c.Key())
	}
	return keys
}

// Key is the short identifier used on the command line and as the
// protocol config section name.
func (c Container) Key() string {
	return c.lookup().key
}

// Name is the docker container name on the remote host. Empty for None.
func (c Container) Name() string {
	return c.lookup().remote
}

// Title is a display name.
func (c Container) Title() string {
	return c.lookup().title
}

// IsOpenVpn reports whether the container runs an OpenVPN server,
// possibly behind an obfuscation layer.
func (c Container) IsOpenVpn() bool {
	return c.lookup().openVpn
}

func (c Container) String() string {
	return c.Key()
}

func (c Container) lookup() info {
	i, ok := table[c]
	if !ok {
		return info{key: fmt.Sprintf("container(%d)", int(c))}
	}
	return i
}
