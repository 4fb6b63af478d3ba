package config

import (
	"fmt"
	"strings"

	"github.com/yoanbernabeu/vpndeploy/internal/security"
	"golang.org/x/crypto/ssh"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// ValidateServerConfig validates a server configuration
func ValidateServerConfig(config *ServerConfig) ValidationErrors {
	var errors ValidationErrors

	if config.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "host",
			Message: "server host is required",
		})
	} else if err := security.ValidateHost(config.Host); err != nil {
		errors = append(errors, ValidationError{
			Field:   "host",
			Message: err.Error(),
		})
	}

	if config.User == "" {
		errors = append(errors, ValidationError{
			Field:   "user",
			Message: "server user is required",
		})
	} else if err := security.ValidateUnixUser(config.User); err != nil {
		errors = append(errors, ValidationError{
			Field:   "user",
			Message: err.Error(),
		})
	}

	if err := security.ValidatePort(config.Port); err != nil {
		errors = append(errors, ValidationError{
			Field:   "port",
			Message: "port must be between 1 and 65535",
		})
	}

	if config.HostKey != "" {
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(config.HostKey)); err != nil {
			errors = append(errors, ValidationError{
				Field:   "host_key",
				Message: "host key must be in authorized_keys format",
			})
		}
	}

	return errors
}

// ValidateCredentials checks credentials before a connection attempt.
func ValidateCredentials(creds ServerCredentials) ValidationErrors {
	var errors ValidationErrors

	if err := security.ValidateHost(creds.Host); err != nil {
		errors = append(errors, ValidationError{Field: "host", Message: err.Error()})
	}
	if creds.User == "" {
		errors = append(errors, ValidationError{Field: "user", Message: "user is required"})
	}
	if creds.Port != 0 {
		if err := security.ValidatePort(creds.Port); err != nil {
			errors = append(errors, ValidationError{Field: "port", Message: err.Error()})
		}
	}
	if creds.Password == "" && len(creds.PrivateKey) == 0 {
		errors = append(errors, ValidationError{Field: "auth", Message: "a password or a private key is required"})
	}

	return errors
}
