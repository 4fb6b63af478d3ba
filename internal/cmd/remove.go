package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/yoanbernabeu/vpndeploy/internal/container"
)

var removeCmd = &cobra.Command{
	Use:   "remove <server> [protocol]",
	Short: "Remove one or all protocol containers",
	Long: `Stops and removes a protocol container and its image. Removing a
container that does not exist is not an error.

With --all, every container created by VpnDeploy on the host is removed.

Examples:
  vpndeploy remove vpn1 openvpn
  vpndeploy remove vpn1 --all`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRemove,
}

var removeAll bool

func init() {
	rootCmd.AddCommand(removeCmd)
	removeCmd.Flags().BoolVar(&removeAll, "all", false, "Remove every VpnDeploy container on the server")
}

func runRemove(cmd *cobra.Command, args []string) error {
	if removeAll == (len(args) == 2) {
		return fmt.Errorf("give either a protocol or --all")
	}

	target, err := ResolveServer(args[0])
	if err != nil {
		return err
	}
	orch := newOrchestrator(target)

	if removeAll {
		if !Confirm(fmt.Sprintf("Remove every VpnDeploy container from '%s'?", target.Name)) {
			PrintInfo("Aborted")
			return nil
		}
		if err := orch.RemoveAllContainers(cmd.Context(), target.Creds); err != nil {
			return err
		}
		target.Server.Installed = nil
		if err := target.Save(); err != nil {
			PrintWarning("Removed, but the server entry could not be updated: %v", err)
		}
		PrintSuccess("Removed all containers from '%s'", target.Name)
		return nil
	}

	c, err := container.Parse(args[1])
	if err != nil {
		return err
	}

	if err := orch.RemoveContainer(cmd.Context(), target.Creds, c); err != nil {
		return err
	}
	target.Server.MarkRemoved(c.Key())
	if err := target.Save(); err != nil {
		PrintWarning("Removed, but the server entry could not be updated: %v", err)
	}

	PrintSuccess("Removed %s from '%s'", c.Title(), target.Name)
	return nil
}
