package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment overrides. These are meant for CI/CD where no interactive
// prompt is available.
const (
	EnvSSHKey           = "VPNDEPLOY_SSH_KEY"
	EnvSSHPassword      = "VPNDEPLOY_SSH_PASSWORD"
	EnvSSHPassphrase    = "VPNDEPLOY_SSH_PASSPHRASE"
	EnvKnownHosts       = "VPNDEPLOY_KNOWN_HOSTS"
	EnvSkipHostKeyCheck = "VPNDEPLOY_SKIP_HOST_KEY_CHECK"
	EnvLogFile          = "VPNDEPLOY_LOG_FILE"
	DefaultEnvFile      = ".env"
)

// LoadEnv reads VPNDEPLOY_* settings from .env style files. Missing files are
// skipped; variables already set in the process environment win.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{DefaultEnvFile}
	}
	for _, p := range paths {
		err := godotenv.Load(p)
		if err == nil {
			continue
		}
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return err
	}
	return nil
}

// SkipHostKeyCheck reports whether host key verification was explicitly
// disabled through the environment.
func SkipHostKeyCheck() bool {
	return strings.EqualFold(os.Getenv(EnvSkipHostKeyCheck), "true")
}
