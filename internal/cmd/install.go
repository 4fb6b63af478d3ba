package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/yoanbernabeu/vpndeploy/internal/config"
	"github.com/yoanbernabeu/vpndeploy/internal/container"
)

var installCmd = &cobra.Command{
	Use:   "install <server> <protocol>",
	Short: "Install a protocol container",
	Long: `Installs one VPN protocol on a server. Docker is installed or
upgraded first when needed, then the container image is built and
started. OpenVPN based protocols are verified after start.

Protocols: openvpn, shadowsocks, cloak, wireguard, awg

Settings come from a JSON file (--config) and --set flags. A --set key
without a dot is taken relative to the protocol section. Values are
stored as text; numeric settings are parsed when the install reads them.

Examples:
  vpndeploy install vpn1 wireguard
  vpndeploy install vpn1 openvpn --set port=1195 --set transport_proto=tcp
  vpndeploy install vpn1 cloak --set cloak.site=www.example.com
  vpndeploy install vpn1 awg --config protocols.json`,
	Args: cobra.ExactArgs(2),
	RunE: runInstall,
}

var (
	installConfigFile string
	installSet        []string
)

func init() {
	rootCmd.AddCommand(installCmd)
	addProtocolConfigFlags(installCmd)
}

// addProtocolConfigFlags registers --config and --set on cmd.
func addProtocolConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&installConfigFile, "config", "c", "", "Protocol settings JSON file")
	cmd.Flags().StringArrayVar(&installSet, "set", nil, "Override a protocol setting (key=value)")
}

func runInstall(cmd *cobra.Command, args []string) error {
	c, err := container.Parse(args[1])
	if err != nil {
		return err
	}
	if c == container.None {
		return fmt.Errorf("a protocol is required (valid: %s)", strings.Join(container.Keys(), ", "))
	}

	cfg, err := buildProtocolConfig(c, installConfigFile, installSet)
	if err != nil {
		return err
	}

	target, err := ResolveServer(args[0])
	if err != nil {
		return err
	}

	PrintInfo("Installing %s on '%s'...", c.Title(), target.Name)

	orch := newOrchestrator(target)
	if err := orch.SetupContainer(cmd.Context(), target.Creds, c, cfg); err != nil {
		return err
	}

	target.Server.MarkInstalled(c.Key())
	if err := target.Save(); err != nil {
		PrintWarning("Installed, but the server entry could not be updated: %v", err)
	}

	PrintSuccess("%s is running on '%s' (container %s)", c.Title(), target.Name, c.Name())
	return nil
}

// buildProtocolConfig loads the optional settings file and applies --set
// overrides on top of it.
func buildProtocolConfig(c container.Container, file string, sets []string) (config.ProtocolConfig, error) {
	cfg := config.EmptyProtocolConfig()
	if file != "" {
		loaded, err := config.LoadProtocolConfig(config.ExpandHome(file))
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	for _, s := range sets {
		key, raw, ok := strings.Cut(s, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return cfg, fmt.Errorf("invalid --set %q, use key=value", s)
		}
		if !strings.Contains(key, ".") {
			key = c.Key() + "." + key
		}

		var err error
		cfg, err = cfg.Set(key, strings.TrimSpace(raw))
		if err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}
