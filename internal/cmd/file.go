package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/yoanbernabeu/vpndeploy/internal/container"
)

var fileCmd = &cobra.Command{
	Use:   "file",
	Short: "Copy text files in and out of containers",
}

var filePushCmd = &cobra.Command{
	Use:   "push <server> <protocol> <local> <remote>",
	Short: "Write a local file into a container",
	Long: `Writes a local file to an absolute path inside a protocol container.
With the protocol 'none' the file is uploaded to the host itself.

Examples:
  vpndeploy file push vpn1 wireguard ./wg0.conf /opt/vpndeploy/wireguard/wg0.conf
  vpndeploy file push vpn1 none ./motd /tmp/motd`,
	Args: cobra.ExactArgs(4),
	RunE: runFilePush,
}

var filePullCmd = &cobra.Command{
	Use:   "pull <server> <protocol> <remote> [local]",
	Short: "Read a file from a container",
	Long: `Reads a file from an absolute path inside a protocol container and
writes it to a local file, or to stdout when no local path is given.

Example:
  vpndeploy file pull vpn1 openvpn /opt/vpndeploy/openvpn/ca.crt ./ca.crt`,
	Args: cobra.RangeArgs(3, 4),
	RunE: runFilePull,
}

func init() {
	rootCmd.AddCommand(fileCmd)
	fileCmd.AddCommand(filePushCmd)
	fileCmd.AddCommand(filePullCmd)
}

func runFilePush(cmd *cobra.Command, args []string) error {
	c, err := container.Parse(args[1])
	if err != nil {
		return err
	}
	localPath, remotePath := args[2], args[3]

	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", localPath, err)
	}

	target, err := ResolveServer(args[0])
	if err != nil {
		return err
	}
	orch := newOrchestrator(target)

	if c == container.None {
		err = orch.UploadFile(cmd.Context(), target.Creds, data, remotePath)
	} else {
		err = orch.UploadTextFileToContainer(cmd.Context(), target.Creds, c, string(data), remotePath)
	}
	if err != nil {
		return err
	}

	PrintSuccess("Wrote %s (%d bytes)", remotePath, len(data))
	return nil
}

func runFilePull(cmd *cobra.Command, args []string) error {
	c, err := container.Parse(args[1])
	if err != nil {
		return err
	}
	if c == container.None {
		return fmt.Errorf("pull reads from a container, give a protocol")
	}
	remotePath := args[2]

	target, err := ResolveServer(args[0])
	if err != nil {
		return err
	}

	content, err := newOrchestrator(target).GetTextFileFromContainer(cmd.Context(), target.Creds, c, remotePath)
	if err != nil {
		return err
	}

	if len(args) == 3 {
		fmt.Print(content)
		return nil
	}

	// SECURITY: 0600, pulled files are usually keys and client configs
	if err := os.WriteFile(args[3], []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", args[3], err)
	}
	PrintSuccess("Saved %s to %s", remotePath, args[3])
	return nil
}
