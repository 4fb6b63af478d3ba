package ssh

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/crypto/ssh"
)

// KeyInfo describes a private key found on the local machine.
type KeyInfo struct {
	Path      string // Full path to the key file
	Name      string // Key filename (e.g., "id_ed25519")
	Type      string // Key type (e.g., "ed25519", "rsa", "ecdsa")
	Encrypted bool   // True if key is passphrase-protected
}

// DiscoverKeys scans sshDir (usually ~/.ssh) for private keys, sorted by
// preference: ed25519 first, then rsa, then others.
func DiscoverKeys(sshDir string) ([]KeyInfo, error) {
	entries, err := os.ReadDir(sshDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", sshDir, err)
	}

	var keys []KeyInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if strings.HasSuffix(name, ".pub") {
			continue
		}
		if !strings.HasPrefix(name, "id_") && !strings.HasSuffix(name, ".pem") {
			continue
		}

		info, err := InspectKey(filepath.Join(sshDir, name))
		if err != nil {
			continue
		}
		keys = append(keys, *info)
	}

	sort.SliceStable(keys, func(i, j int) bool {
		return keyTypePriority(keys[i].Type) < keyTypePriority(keys[j].Type)
	})

	return keys, nil
}

// DefaultSSHDir returns ~/.ssh.
func DefaultSSHDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".ssh"), nil
}

// keyTypePriority returns sort priority for key types (lower is better)
func keyTypePriority(keyType string) int {
	switch keyType {
	case "ed25519":
		return 1
	case "rsa":
		return 2
	case "ecdsa":
		return 3
	default:
		return 4
	}
}

// InspectKey parses a key file and reports its type. Passphrase protected
// keys are accepted and flagged.
func InspectKey(path string) (*KeyInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	info := &KeyInfo{
		Path: path,
		Name: filepath.Base(path),
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			info.Encrypted = true
			if missing.PublicKey != nil {
				info.Type = shortKeyType(missing.PublicKey.Type())
			} else {
				info.Type = "unknown"
			}
			return info, nil
		}
		return nil, fmt.Errorf("invalid SSH key: %w", err)
	}

	info.Type = shortKeyType(signer.PublicKey().Type())
	return info, nil
}

// shortKeyType maps wire names like "ssh-ed25519" to "ed25519".
func shortKeyType(wire string) string {
	switch {
	case wire == ssh.KeyAlgoED25519:
		return "ed25519"
	case wire == ssh.KeyAlgoRSA:
		return "rsa"
	case strings.HasPrefix(wire, "ecdsa-"):
		return "ecdsa"
	default:
		return wire
	}
}
