package provision

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/yoanbernabeu/vpndeploy/internal/config"
	"github.com/yoanbernabeu/vpndeploy/internal/constants"
	"github.com/yoanbernabeu/vpndeploy/internal/container"
	"github.com/yoanbernabeu/vpndeploy/internal/errcode"
	"github.com/yoanbernabeu/vpndeploy/internal/script"
	"github.com/yoanbernabeu/vpndeploy/internal/security"
	"golang.org/x/crypto/curve25519"
)

// Protocol defaults used when the protocol config leaves a key out.
const (
	defaultTransportProto    = "udp"
	defaultOpenVpnCipher     = "AES-256-GCM"
	defaultOpenVpnHash       = "SHA512"
	defaultShadowSocksCipher = "chacha20-ietf-poly1305"
	defaultCloakSite         = "tile.openstreetmap.org"
	defaultJunkPacketMinSize = 10
	defaultJunkPacketMaxSize = 50
)

// AmneziaWG limits. Magic headers 1 to 4 belong to plain WireGuard.
const (
	maxJunkPacketCount     = 128
	maxJunkPacketSize      = 1280
	maxInitPacketJunk      = 1132
	maxResponsePacketJunk  = 1188
	initResponseSizeDelta  = 56
	minMagicHeader         = 5
	maxMagicHeader         = 2147483647
	magicHeaderDrawRetries = 16
)

var (
	openVpnCiphers     = []string{"AES-256-GCM", "AES-192-GCM", "AES-128-GCM", "AES-256-CBC", "CHACHA20-POLY1305"}
	openVpnHashes      = []string{"SHA512", "SHA384", "SHA256"}
	shadowSocksCiphers = []string{"chacha20-ietf-poly1305", "aes-256-gcm", "aes-128-gcm"}

	// shadowSocksPasswordRegex keeps user supplied passwords safe inside
	// JSON and the shell, since values are substituted verbatim
	shadowSocksPasswordRegex = regexp.MustCompile(`^[A-Za-z0-9_.+/=-]{8,64}$`)
)

// BaseVars returns the variables shared by every script. They depend only on
// the host and the container and hold no secrets. For container.None only
// the host level variables are set.
func BaseVars(creds config.ServerCredentials, c container.Container) (script.Vars, error) {
	const op = "base vars"

	if err := security.ValidateHost(creds.Host); err != nil {
		return nil, errcode.Wrap(errcode.InvalidInput, op, err)
	}
	if err := security.ValidateUnixUser(creds.User); err != nil {
		return nil, errcode.Wrap(errcode.InvalidInput, op, err)
	}

	sudo := ""
	if creds.NeedsSudo() {
		sudo = "sudo -n"
	}

	vars := script.Vars{}.
		Add("REMOTE_HOST", creds.Host).
		Add("REMOTE_USER", creds.User).
		Add("SUDO", sudo).
		Add("WORK_DIR", constants.BasePath).
		Add("CONTAINER_PREFIX", container.NamePrefix).
		Add("FIREWALL_VERSION", constants.FirewallVersion).
		Add("VPN_SUBNETS", constants.VPNSubnets).
		Add("VPN_SUBNET_IP", constants.VPNSubnetIP).
		Add("VPN_SUBNET_MASK", constants.VPNSubnetMask).
		Add("VPN_SUBNET_CIDR", constants.VPNSubnetCIDR).
		Add("PRIMARY_DNS", constants.PrimaryDNS).
		Add("SECONDARY_DNS", constants.SecondaryDNS)

	if name := c.Name(); name != "" {
		vars = vars.
			Add("CONTAINER_NAME", name).
			Add("DOCKERFILE_FOLDER", constants.ContainerBuildDir(name))
	}
	return vars, nil
}

// GenerateVars builds the full variable set for installing c. Every secret
// (keys, passwords, UIDs, AmneziaWG parameters, the upload folder suffix)
// is drawn from rand, so a fixed reader gives a fixed result. Bad protocol
// settings are InvalidInput.
func GenerateVars(creds config.ServerCredentials, c container.Container, cfg config.ProtocolConfig, rand io.Reader) (script.Vars, error) {
	const op = "generate vars"

	vars, err := BaseVars(creds, c)
	if err != nil {
		return nil, err
	}
	if c == container.None {
		return vars, nil
	}

	src := &secretSource{r: rand}
	vars = vars.Add("UPLOAD_FOLDER", constants.UploadDirPrefix+c.Key()+"-"+src.hex(4))

	var proto script.Vars
	switch c {
	case container.OpenVpn:
		proto, err = openVpnVars(cfg, false)
	case container.ShadowSocks:
		proto, err = shadowSocksVars(cfg, src)
	case container.Cloak:
		proto, err = cloakVars(cfg, src)
	case container.WireGuard:
		proto, err = wireGuardVars(cfg, src)
	case container.Awg:
		proto, err = awgVars(cfg, src)
	default:
		err = fmt.Errorf("no variables defined for %s", c)
	}
	if src.err != nil {
		return nil, errcode.Wrap(errcode.InternalError, op, src.err)
	}
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidInput, op, err)
	}

	vars = vars.Merge(proto)
	if err := vars.Validate(); err != nil {
		return nil, errcode.Wrap(errcode.InternalError, op, err)
	}
	return vars, nil
}

// openVpnVars covers the OpenVPN server shared by the OpenVPN family. The
// obfuscated variants tunnel TCP only, so forceTCP overrides the config.
func openVpnVars(cfg config.ProtocolConfig, forceTCP bool) (script.Vars, error) {
	port, err := portSetting(cfg, "openvpn.port", constants.DefaultOpenVpnPort)
	if err != nil {
		return nil, err
	}

	proto := strings.ToLower(cfg.String("openvpn.transport_proto", defaultTransportProto))
	if forceTCP {
		proto = "tcp"
	} else if proto != "udp" && proto != "tcp" {
		return nil, fmt.Errorf("openvpn.transport_proto: must be udp or tcp, got %q", proto)
	}

	cipher, err := choiceSetting(cfg, "openvpn.cipher", defaultOpenVpnCipher, openVpnCiphers)
	if err != nil {
		return nil, err
	}
	hash, err := choiceSetting(cfg, "openvpn.hash", defaultOpenVpnHash, openVpnHashes)
	if err != nil {
		return nil, err
	}

	return script.Vars{}.
		Add("OPENVPN_PORT", strconv.Itoa(port)).
		Add("OPENVPN_TRANSPORT_PROTO", proto).
		Add("OPENVPN_CIPHER", cipher).
		Add("OPENVPN_HASH", hash), nil
}

func shadowSocksVars(cfg config.ProtocolConfig, src *secretSource) (script.Vars, error) {
	vars, err := openVpnVars(cfg, true)
	if err != nil {
		return nil, err
	}
	openVpnPort, _ := vars.Get("OPENVPN_PORT")

	port, err := portSetting(cfg, "shadowsocks.port", constants.DefaultShadowSocksPort)
	if err != nil {
		return nil, err
	}
	if strconv.Itoa(port) == openVpnPort {
		return nil, fmt.Errorf("shadowsocks.port: %d is already used by openvpn", port)
	}

	cipher, err := choiceSetting(cfg, "shadowsocks.cipher", defaultShadowSocksCipher, shadowSocksCiphers)
	if err != nil {
		return nil, err
	}

	password := cfg.String("shadowsocks.password", "")
	if password == "" {
		password = src.hex(16)
	} else if !shadowSocksPasswordRegex.MatchString(password) {
		return nil, fmt.Errorf("shadowsocks.password: must be 8-64 characters of letters, digits and _.+/=-")
	}

	return vars.
		Add("SHADOWSOCKS_SERVER_PORT", strconv.Itoa(port)).
		Add("SHADOWSOCKS_CIPHER", cipher).
		Add("SHADOWSOCKS_PASSWORD", password), nil
}

func cloakVars(cfg config.ProtocolConfig, src *secretSource) (script.Vars, error) {
	vars, err := openVpnVars(cfg, true)
	if err != nil {
		return nil, err
	}
	// ck-server binds 443 inside the container.
	if p, _ := vars.Get("OPENVPN_PORT"); p == "443" {
		return nil, fmt.Errorf("openvpn.port: 443 is reserved for cloak inside the container")
	}

	port, err := portSetting(cfg, "cloak.port", constants.DefaultCloakPort)
	if err != nil {
		return nil, err
	}

	site := cfg.String("cloak.site", defaultCloakSite)
	if err := security.ValidateHost(site); err != nil {
		return nil, fmt.Errorf("cloak.site: %w", err)
	}

	priv, pub := src.keyPair()
	return vars.
		Add("CLOAK_SERVER_PORT", strconv.Itoa(port)).
		Add("FAKE_WEB_SITE_ADDRESS", site).
		Add("CLOAK_PRIVATE_KEY", priv).
		Add("CLOAK_PUBLIC_KEY", pub).
		Add("CLOAK_BYPASS_UID", src.uid()).
		Add("CLOAK_ADMIN_UID", src.uid()), nil
}

func wireGuardVars(cfg config.ProtocolConfig, src *secretSource) (script.Vars, error) {
	port, err := portSetting(cfg, "wireguard.port", constants.DefaultWireGuardPort)
	if err != nil {
		return nil, err
	}

	priv, pub := src.keyPair()
	return script.Vars{}.
		Add("WIREGUARD_SERVER_PORT", strconv.Itoa(port)).
		Add("WIREGUARD_SERVER_PRIVATE_KEY", priv).
		Add("WIREGUARD_SERVER_PUBLIC_KEY", pub).
		Add("WIREGUARD_SERVER_ADDRESS", constants.WireGuardServerAddr).
		Add("WIREGUARD_SUBNET_IP", constants.WireGuardSubnetIP).
		Add("WIREGUARD_SUBNET_CIDR", constants.VPNSubnetCIDR), nil
}

func awgVars(cfg config.ProtocolConfig, src *secretSource) (script.Vars, error) {
	port, err := portSetting(cfg, "awg.port", constants.DefaultAwgPort)
	if err != nil {
		return nil, err
	}
	priv, pub := src.keyPair()

	// Defaults are drawn up front so the reader is consumed the same way
	// whatever the config overrides.
	defJc := src.intRange(2, 10)
	defS1 := src.intRange(15, 150)
	defS2 := src.intRange(15, 150)
	if defS1+initResponseSizeDelta == defS2 {
		defS2++
	}
	defHeaders := src.magicHeaders()

	jc, err := intSetting(cfg, "awg.Jc", defJc, 1, maxJunkPacketCount)
	if err != nil {
		return nil, err
	}
	jmin, err := intSetting(cfg, "awg.Jmin", defaultJunkPacketMinSize, 0, maxJunkPacketSize)
	if err != nil {
		return nil, err
	}
	jmax, err := intSetting(cfg, "awg.Jmax", defaultJunkPacketMaxSize, 0, maxJunkPacketSize)
	if err != nil {
		return nil, err
	}
	if jmin > jmax {
		return nil, fmt.Errorf("awg.Jmin (%d) must not exceed awg.Jmax (%d)", jmin, jmax)
	}

	s1, err := intSetting(cfg, "awg.S1", defS1, 0, maxInitPacketJunk)
	if err != nil {
		return nil, err
	}
	s2, err := intSetting(cfg, "awg.S2", defS2, 0, maxResponsePacketJunk)
	if err != nil {
		return nil, err
	}
	if s1+initResponseSizeDelta == s2 {
		return nil, fmt.Errorf("awg.S1 + %d must differ from awg.S2", initResponseSizeDelta)
	}

	var headers [4]int
	seen := make(map[int]bool, 4)
	for i := range headers {
		path := fmt.Sprintf("awg.H%d", i+1)
		h, err := intSetting(cfg, path, defHeaders[i], minMagicHeader, maxMagicHeader)
		if err != nil {
			return nil, err
		}
		if seen[h] {
			return nil, fmt.Errorf("%s: magic headers must be distinct, %d is repeated", path, h)
		}
		seen[h] = true
		headers[i] = h
	}

	return script.Vars{}.
		Add("AWG_SERVER_PORT", strconv.Itoa(port)).
		Add("AWG_SERVER_PRIVATE_KEY", priv).
		Add("AWG_SERVER_PUBLIC_KEY", pub).
		Add("AWG_SERVER_ADDRESS", constants.AwgServerAddr).
		Add("AWG_SUBNET_IP", constants.AwgSubnetIP).
		Add("AWG_SUBNET_CIDR", constants.VPNSubnetCIDR).
		Add("JUNK_PACKET_COUNT", strconv.Itoa(jc)).
		Add("JUNK_PACKET_MIN_SIZE", strconv.Itoa(jmin)).
		Add("JUNK_PACKET_MAX_SIZE", strconv.Itoa(jmax)).
		Add("INIT_PACKET_JUNK_SIZE", strconv.Itoa(s1)).
		Add("RESPONSE_PACKET_JUNK_SIZE", strconv.Itoa(s2)).
		Add("INIT_PACKET_MAGIC_HEADER", strconv.Itoa(headers[0])).
		Add("RESPONSE_PACKET_MAGIC_HEADER", strconv.Itoa(headers[1])).
		Add("UNDERLOAD_PACKET_MAGIC_HEADER", strconv.Itoa(headers[2])).
		Add("TRANSPORT_PACKET_MAGIC_HEADER", strconv.Itoa(headers[3])), nil
}

func portSetting(cfg config.ProtocolConfig, path string, def int) (int, error) {
	port, err := cfg.Int(path, def)
	if err != nil {
		return 0, err
	}
	if err := security.ValidatePort(port); err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return port, nil
}

func intSetting(cfg config.ProtocolConfig, path string, def, lo, hi int) (int, error) {
	n, err := cfg.Int(path, def)
	if err != nil {
		return 0, err
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%s: must be between %d and %d, got %d", path, lo, hi, n)
	}
	return n, nil
}

func choiceSetting(cfg config.ProtocolConfig, path, def string, allowed []string) (string, error) {
	v := cfg.String(path, def)
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return a, nil
		}
	}
	return "", fmt.Errorf("%s: unsupported value %q (valid: %s)", path, v, strings.Join(allowed, ", "))
}

// secretSource draws generated values from one reader. The first read
// error sticks and later draws return zero values.
type secretSource struct {
	r   io.Reader
	err error
}

func (s *secretSource) bytes(n int) []byte {
	b := make([]byte, n)
	if s.err != nil {
		return b
	}
	if _, err := io.ReadFull(s.r, b); err != nil {
		s.err = fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b
}

func (s *secretSource) hex(n int) string {
	return hex.EncodeToString(s.bytes(n))
}

// intRange returns a value in [lo, hi].
func (s *secretSource) intRange(lo, hi int) int {
	span := uint32(hi - lo + 1)
	return lo + int(binary.BigEndian.Uint32(s.bytes(4))%span)
}

// keyPair returns a base64 curve25519 private key and its public key.
func (s *secretSource) keyPair() (string, string) {
	priv := s.bytes(curve25519.ScalarSize)
	priv[0] &= 248
	priv[31] = (priv[31] & 127) | 64

	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil && s.err == nil {
		s.err = fmt.Errorf("failed to derive public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(priv), base64.StdEncoding.EncodeToString(pub)
}

// uid returns a random 16 byte Cloak UID, base64 encoded.
func (s *secretSource) uid() string {
	if s.err != nil {
		return ""
	}
	u, err := uuid.NewRandomFromReader(s.r)
	if err != nil {
		s.err = fmt.Errorf("failed to generate uid: %w", err)
		return ""
	}
	return base64.StdEncoding.EncodeToString(u[:])
}

// magicHeaders returns four distinct header values.
func (s *secretSource) magicHeaders() [4]int {
	var out [4]int
	seen := make(map[int]bool, 4)
	for i := range out {
		h := s.intRange(minMagicHeader, maxMagicHeader)
		for try := 0; seen[h] && try < magicHeaderDrawRetries; try++ {
			h = s.intRange(minMagicHeader, maxMagicHeader)
		}
		seen[h] = true
		out[i] = h
	}
	return out
}
