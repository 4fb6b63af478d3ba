package constants

import (
	"path"
	"time"
)

// Base paths for vpndeploy on the server
const (
	BasePath      = "/opt/vpndeploy"
	ContainersDir = BasePath + "/containers"
)

// Firewall ruleset applied by setup_firewall.sh. Bump the version when the
// rules change so hosts can tell which set they carry.
const FirewallVersion = "v1"

// VPN address plan
const (
	VPNSubnetIP         = "10.8.0.0"
	VPNSubnetMask       = "255.255.255.0"
	VPNSubnetCIDR       = "24"
	WireGuardSubnetIP   = "10.8.1.0"
	WireGuardServerAddr = "10.8.1.1"
	AwgSubnetIP         = "10.8.2.0"
	AwgServerAddr       = "10.8.2.1"
	VPNSubnets          = "10.8.0.0/16"
	PrimaryDNS          = "1.1.1.1"
	SecondaryDNS        = "1.0.0.1"
)

// Default listening ports
const (
	DefaultOpenVpnPort     = 1194
	DefaultShadowSocksPort = 6789
	DefaultCloakPort       = 443
	DefaultWireGuardPort   = 51820
	DefaultAwgPort         = 55424
)

// Host folder the Dockerfile is uploaded to before setup.sh moves it.
const UploadDirPrefix = "/tmp/vpndeploy-"

// SSH defaults
const (
	DefaultSSHPort    = 22
	DialTimeout       = 10 * time.Second
	KeepaliveTimeout  = 5 * time.Second
	DefaultRunTimeout = 30 * time.Minute
)

// Docker
const (
	// MinDockerVersion is the oldest engine the container scripts support.
	MinDockerVersion = "20.10"
)

// Exit status used by the container read helper when the file is missing.
const FileNotFoundExitStatus = 66

// ContainerBuildDir returns the host folder the container image is built from.
func ContainerBuildDir(name string) string {
	return path.Join(ContainersDir, name)
}

// ContainerConfigDir returns the in-container folder holding a protocol's files.
func ContainerConfigDir(protocol string) string {
	return path.Join(BasePath, protocol)
}
