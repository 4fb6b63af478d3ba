package cmd

import (
	"github.com/spf13/cobra"
)

var firewallCmd = &cobra.Command{
	Use:   "firewall <server>",
	Short: "Configure the host firewall",
	Long: `Enables IP forwarding and installs the NAT and FORWARD rules the VPN
subnets need. Safe to run more than once.`,
	Args: cobra.ExactArgs(1),
	RunE: runFirewall,
}

func init() {
	rootCmd.AddCommand(firewallCmd)
}

func runFirewall(cmd *cobra.Command, args []string) error {
	target, err := ResolveServer(args[0])
	if err != nil {
		return err
	}

	PrintInfo("Configuring firewall on '%s'...", target.Name)

	orch := newOrchestrator(target)
	if err := orch.SetupFirewall(cmd.Context(), target.Creds); err != nil {
		return err
	}

	PrintSuccess("Firewall configured")
	return nil
}
