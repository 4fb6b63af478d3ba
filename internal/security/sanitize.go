package security

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

var (
	// serverNameRegex validates server configuration names
	// Allows: letters, numbers, underscores, hyphens
	// Length: 1-64 characters
	serverNameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_-]{0,62}[a-zA-Z0-9])?$`)

	// unixUserRegex validates Unix usernames
	// Standard POSIX username rules
	// Length: 1-32 characters
	unixUserRegex = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)

	// hostnameRegex validates DNS hostnames (RFC 1123 labels)
	hostnameRegex = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)*[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

	// remotePathRegex validates absolute paths on the server or in a container
	// Allows: alphanumeric, underscores, hyphens, dots, forward slashes
	remotePathRegex = regexp.MustCompile(`^(/[a-zA-Z0-9_.-]+)+$`)

	// sensitiveNameParts marks variable names whose values are secrets
	sensitiveNameParts = []string{
		"PASSWORD",
		"PRIVATE_KEY",
		"PASSPHRASE",
		"_UID",
		"SECRET",
	}
)

// ValidateServerName validates a server configuration name
func ValidateServerName(name string) error {
	if name == "" {
		return fmt.Errorf("server name cannot be empty")
	}
	if len(name) > 64 {
		return fmt.Errorf("server name too long (max 64 characters)")
	}
	if !serverNameRegex.MatchString(name) {
		return fmt.Errorf("server name must contain only letters, numbers, underscores, and hyphens")
	}
	return nil
}

// ValidateUnixUser validates a Unix username
func ValidateUnixUser(user string) error {
	if user == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if len(user) > 32 {
		return fmt.Errorf("username too long (max 32 characters)")
	}
	if !unixUserRegex.MatchString(user) {
		return fmt.Errorf("username must start with a lowercase letter or underscore, followed by lowercase letters, numbers, underscores, or hyphens")
	}
	return nil
}

// ValidateHost accepts an IPv4/IPv6 literal or a DNS hostname.
func ValidateHost(host string) error {
	if host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	if len(host) > 253 {
		return fmt.Errorf("host name too long (max 253 characters)")
	}
	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("host must be an IP address or a valid hostname")
	}
	return nil
}

// ValidatePort checks a TCP/UDP port number.
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// ValidateRemotePath validates an absolute file path on the server or
// inside a container. Paths are interpolated into shell commands, so only a
// conservative character set is allowed.
func ValidateRemotePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("path must be absolute, got: %s", path)
	}
	if len(path) > 4096 {
		return fmt.Errorf("path too long (max 4096 characters)")
	}
	for _, part := range strings.Split(path, "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("path cannot contain . or .. segments: %s", path)
		}
	}
	if !remotePathRegex.MatchString(path) {
		return fmt.Errorf("path contains invalid characters: %s", path)
	}
	return nil
}

// ShellEscape escapes a string for safe use in shell commands by wrapping it
// in single quotes and escaping any internal single quotes using the POSIX
// pattern: ' → '\''
func ShellEscape(s string) string {
	escaped := strings.ReplaceAll(s, "'", "'\\''")
	return "'" + escaped + "'"
}

// IsSensitiveName reports whether a variable name holds a secret value.
func IsSensitiveName(name string) bool {
	upper := strings.ToUpper(name)
	for _, part := range sensitiveNameParts {
		if strings.Contains(upper, part) {
			return true
		}
	}
	return false
}

// MaskValue hides all but a short prefix of a secret.
func MaskValue(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return value[:2] + "****"
}

// SanitizeCommandForLog masks sensitive values in commands before logging.
// NAME=value assignments with a sensitive name are masked, and so is any
// base64 payload echoed into a pipe.
func SanitizeCommandForLog(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return cmd
	}

	result := cmd
	for _, f := range fields {
		name, value, ok := strings.Cut(f, "=")
		if !ok || value == "" || !IsSensitiveName(name) {
			continue
		}
		result = strings.Replace(result, f, name+"=****", 1)
	}

	return maskBase64Payload(result)
}

// maskBase64Payload replaces "echo '<payload>' |" with a length marker.
func maskBase64Payload(cmd string) string {
	const prefix = "echo '"
	start := strings.Index(cmd, prefix)
	if start == -1 {
		return cmd
	}
	valueStart := start + len(prefix)
	end := strings.Index(cmd[valueStart:], "'")
	if end == -1 {
		return cmd
	}
	payload := cmd[valueStart : valueStart+end]
	if len(payload) < 16 {
		return cmd
	}
	return cmd[:valueStart] + fmt.Sprintf("<%d bytes>", len(payload)) + cmd[valueStart+end:]
}
