package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ProtocolConfig is the JSON document describing how each protocol should be
// set up, one section per protocol:
//
//	{"openvpn": {"port": 1194, "transport_proto": "udp"},
//	 "cloak": {"port": 443, "site": "tile.openstreetmap.org"}}
//
// Missing keys fall back to the defaults chosen by the provisioner.
type ProtocolConfig struct {
	raw string
}

// EmptyProtocolConfig has no overrides at all.
func EmptyProtocolConfig() ProtocolConfig {
	return ProtocolConfig{raw: "{}"}
}

// ParseProtocolConfig validates data as a JSON object.
func ParseProtocolConfig(data []byte) (ProtocolConfig, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return EmptyProtocolConfig(), nil
	}
	if !gjson.ValidBytes(data) {
		return ProtocolConfig{}, fmt.Errorf("protocol config is not valid JSON")
	}
	if !gjson.ParseBytes(data).IsObject() {
		return ProtocolConfig{}, fmt.Errorf("protocol config must be a JSON object")
	}
	return ProtocolConfig{raw: string(data)}, nil
}

// LoadProtocolConfig reads a protocol config file.
func LoadProtocolConfig(path string) (ProtocolConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ProtocolConfig{}, fmt.Errorf("failed to read protocol config: %w", err)
	}
	return ParseProtocolConfig(data)
}

// Get returns the raw value at a dotted path such as "awg.Jc".
func (p ProtocolConfig) Get(path string) gjson.Result {
	return gjson.Get(p.json(), path)
}

// String returns the string at path, or def when absent.
func (p ProtocolConfig) String(path, def string) string {
	r := p.Get(path)
	if !r.Exists() || r.Type == gjson.Null {
		return def
	}
	return r.String()
}

// Int returns the integer at path, or def when absent. A present value that
// is not an integer is an error.
func (p ProtocolConfig) Int(path string, def int) (int, error) {
	r := p.Get(path)
	if !r.Exists() || r.Type == gjson.Null {
		return def, nil
	}
	switch r.Type {
	case gjson.Number:
		if float64(r.Int()) != r.Float() {
			return 0, fmt.Errorf("%s: expected an integer, got %s", path, r.Raw)
		}
		return int(r.Int()), nil
	case gjson.String:
		n, err := strconv.Atoi(r.Str)
		if err != nil {
			return 0, fmt.Errorf("%s: expected an integer, got %q", path, r.Str)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s: expected an integer, got %s", path, r.Raw)
	}
}

// Set returns a copy with value stored at path.
func (p ProtocolConfig) Set(path string, value interface{}) (ProtocolConfig, error) {
	out, err := sjson.Set(p.json(), path, value)
	if err != nil {
		return p, fmt.Errorf("failed to set %s: %w", path, err)
	}
	return ProtocolConfig{raw: out}, nil
}

// Raw returns the JSON text.
func (p ProtocolConfig) Raw() string {
	return p.json()
}

func (p ProtocolConfig) json() string {
	if p.raw == "" {
		return "{}"
	}
	return p.raw
}
