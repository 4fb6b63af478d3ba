package config

import (
	"net"
	"strconv"

	"github.com/yoanbernabeu/vpndeploy/internal/constants"
)

// GlobalConfig represents the global ~/.config/vpndeploy/config.yaml
type GlobalConfig struct {
	Servers     map[string]ServerConfig `yaml:"servers"`
	DefaultUser string                  `yaml:"default_user,omitempty"`
	DefaultPort int                     `yaml:"default_port,omitempty"`
	LogFile     string                  `yaml:"log_file,omitempty"`
}

// ServerConfig represents a configured server
type ServerConfig struct {
	Name     string `yaml:"name,omitempty"`
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Port     int    `yaml:"port,omitempty"`
	KeyPath  string `yaml:"key_path,omitempty"`
	Password string `yaml:"password,omitempty"`
	// HostKey pins the server key in authorized_keys format. When set,
	// known_hosts is not consulted.
	HostKey string `yaml:"host_key,omitempty"`
	// Installed lists the container keys provisioned through this tool.
	Installed []string `yaml:"installed,omitempty"`
}

// ServerCredentials is everything needed to open an SSH session to a host.
// It is a plain value; nothing in the engine mutates it.
type ServerCredentials struct {
	Host           string
	Port           int
	User           string
	Password       string
	PrivateKey     []byte
	PrivateKeyPath string
	Passphrase     string
	HostKey        string
}

// Identity is the cache key for a connection: user@host:port.
func (c ServerCredentials) Identity() string {
	return c.User + "@" + c.Addr()
}

// Addr returns host:port, with the default SSH port when none is set.
func (c ServerCredentials) Addr() string {
	port := c.Port
	if port == 0 {
		port = constants.DefaultSSHPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// NeedsSudo reports whether privileged commands must go through sudo.
func (c ServerCredentials) NeedsSudo() bool {
	return c.User != "root"
}

// DefaultGlobalConfig returns a default global configuration
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Servers:     make(map[string]ServerConfig),
		DefaultUser: "root",
		DefaultPort: constants.DefaultSSHPort,
	}
}
