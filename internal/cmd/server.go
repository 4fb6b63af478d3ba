package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/yoanbernabeu/vpndeploy/internal/config"
	"github.com/yoanbernabeu/vpndeploy/internal/errcode"
	"github.com/yoanbernabeu/vpndeploy/internal/security"
	"github.com/yoanbernabeu/vpndeploy/internal/ssh"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage provisioned servers",
	Long:  `Commands to add, check, and remove the servers VpnDeploy provisions.`,
}

var serverAddCmd = &cobra.Command{
	Use:   "add <name> <user@host>",
	Short: "Add a new server",
	Long: `Adds a new server to the global configuration and tests the SSH
connection. When the connection fails with the configured key, the keys
found in ~/.ssh are tried.

Example:
  vpndeploy server add vpn1 root@203.0.113.10
  vpndeploy server add vpn2 ubuntu@vpn.example.com --port 2222 --key ~/.ssh/vpn
  vpndeploy server add vpn3 root@198.51.100.7 --password`,
	Args: cobra.ExactArgs(2),
	RunE: runServerAdd,
}

var serverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured servers",
	RunE:  runServerList,
}

var serverCheckCmd = &cobra.Command{
	Use:   "check <name>",
	Short: "Test the SSH connection to a server",
	Args:  cobra.ExactArgs(1),
	RunE:  runServerCheck,
}

var serverRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a server from the configuration",
	Long: `Removes a server from the global configuration. Containers on the
host are left untouched; use 'vpndeploy remove <name> --all' first to
remove them.`,
	Args: cobra.ExactArgs(1),
	RunE: runServerRemove,
}

var (
	serverPort     int
	serverKeyPath  string
	serverHostKey  string
	serverPassword bool
	skipSSHTest    bool
)

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.AddCommand(serverAddCmd)
	serverCmd.AddCommand(serverListCmd)
	serverCmd.AddCommand(serverCheckCmd)
	serverCmd.AddCommand(serverRemoveCmd)

	serverAddCmd.Flags().IntVarP(&serverPort, "port", "p", 22, "SSH port")
	serverAddCmd.Flags().StringVarP(&serverKeyPath, "key", "k", "", "SSH private key path")
	serverAddCmd.Flags().StringVar(&serverHostKey, "host-key", "", "Pin the server host key (authorized_keys format)")
	serverAddCmd.Flags().BoolVar(&serverPassword, "password", false, "Prompt for an SSH password instead of using a key")
	serverAddCmd.Flags().BoolVar(&skipSSHTest, "skip-test", false, "Skip SSH connection test")
}

// parseHostSpec splits user@host.
func parseHostSpec(hostSpec string) (user, host string, err error) {
	parts := strings.SplitN(hostSpec, "@", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid host format, use user@host")
	}
	return parts[0], parts[1], nil
}

func runServerAdd(cmd *cobra.Command, args []string) error {
	name := args[0]

	// Validate server name
	if err := security.ValidateServerName(name); err != nil {
		return fmt.Errorf("invalid server name: %w", err)
	}

	user, host, err := parseHostSpec(args[1])
	if err != nil {
		return err
	}

	globalCfg, err := config.LoadGlobalConfig()
	if err != nil {
		return fmt.Errorf("failed to load global config: %w", err)
	}

	serverCfg := config.ServerConfig{
		Host:    host,
		User:    user,
		Port:    serverPort,
		KeyPath: serverKeyPath,
		HostKey: strings.TrimSpace(serverHostKey),
	}

	if serverPassword {
		pw, err := PromptPassword(fmt.Sprintf("Password for %s@%s: ", user, host))
		if err != nil {
			return err
		}
		serverCfg.Password = pw
	}

	if err := globalCfg.AddServer(name, serverCfg); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}
	added := globalCfg.Servers[name]

	if err := config.SaveGlobalConfig(globalCfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	PrintSuccess("Added server '%s' (%s@%s)", name, user, host)

	if skipSSHTest {
		PrintInfo("Skipping SSH connection test (--skip-test)")
		printNextSteps(name)
		return nil
	}

	if err := testAndConfigureSSH(cmd.Context(), name, &added, globalCfg); err != nil {
		PrintWarning("SSH connection could not be established: %s", describeError(err))
		PrintInfo("You can test the connection again with: vpndeploy server check %s", name)
	}

	printNextSteps(name)
	return nil
}

func printNextSteps(name string) {
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  vpndeploy firewall %s\n", name)
	fmt.Printf("  vpndeploy install %s <protocol>\n", name)
}

// testAndConfigureSSH tests the SSH connection and tries alternative keys if needed
func testAndConfigureSSH(ctx context.Context, name string, serverCfg *config.ServerConfig, globalCfg *config.GlobalConfig) error {
	PrintInfo("Testing SSH connection...")

	err := tryServer(ctx, serverCfg)
	if err == nil {
		PrintSuccess("SSH connection successful")
		return nil
	}

	// Only an authentication problem is worth retrying with another key.
	if errcode.CodeOf(err) != errcode.SSHAuthFailed && !strings.Contains(err.Error(), "no SSH key") {
		return err
	}
	if serverCfg.Password != "" {
		return err
	}

	PrintWarning("Connection failed with the configured key")

	sshDir, dirErr := ssh.DefaultSSHDir()
	if dirErr != nil {
		return err
	}
	keys, dirErr := ssh.DiscoverKeys(sshDir)
	if dirErr != nil {
		return fmt.Errorf("failed to discover SSH keys: %w", dirErr)
	}

	var availableKeys []ssh.KeyInfo
	for _, key := range keys {
		if key.Encrypted && os.Getenv(config.EnvSSHPassphrase) == "" {
			PrintVerbose("Skipping encrypted key: %s", key.Name)
			continue
		}
		if serverCfg.KeyPath != "" && config.ExpandHome(serverCfg.KeyPath) == key.Path {
			continue
		}
		availableKeys = append(availableKeys, key)
	}

	if len(availableKeys) == 0 {
		return fmt.Errorf("no SSH keys available to try: %w", err)
	}

	var workingKey *ssh.KeyInfo
	if IsInteractive() {
		workingKey = interactiveKeySelection(ctx, serverCfg, availableKeys)
	} else {
		workingKey = autoTryKeys(ctx, serverCfg, availableKeys)
	}

	if workingKey == nil {
		return fmt.Errorf("no working SSH key found: %w", err)
	}

	serverCfg.KeyPath = workingKey.Path
	if err := globalCfg.UpdateServer(name, *serverCfg); err != nil {
		return err
	}
	if err := config.SaveGlobalConfig(globalCfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	PrintSuccess("Updated server config with key: %s", workingKey.Path)
	return nil
}

// tryServer resolves cfg into credentials and runs a connection check.
func tryServer(ctx context.Context, cfg *config.ServerConfig) error {
	creds, err := cfg.Credentials()
	if err != nil {
		return err
	}
	out, err := sessions().CheckConnection(ctx, creds)
	if err != nil {
		return err
	}
	PrintVerbose("%s", out)
	return nil
}

// withKey returns a copy of cfg using the key at path.
func withKey(cfg *config.ServerConfig, path string) *config.ServerConfig {
	c := *cfg
	c.KeyPath = path
	return &c
}

// interactiveKeySelection prompts the user to select an SSH key
func interactiveKeySelection(ctx context.Context, serverCfg *config.ServerConfig, keys []ssh.KeyInfo) *ssh.KeyInfo {
	options := make([]string, len(keys))
	for i, key := range keys {
		options[i] = fmt.Sprintf("%s (%s)", key.Name, key.Type)
	}

	fmt.Println()
	PrintInfo("Available SSH keys:")
	choice := PromptSelect("Select SSH key to use:", options)
	if choice < 0 {
		return nil
	}

	selectedKey := &keys[choice]
	PrintInfo("Testing with %s...", selectedKey.Path)

	if err := tryServer(ctx, withKey(serverCfg, selectedKey.Path)); err != nil {
		PrintError("Connection failed: %s", describeError(err))
		return nil
	}

	PrintSuccess("Connection successful!")
	return selectedKey
}

// autoTryKeys automatically tries available keys in order
func autoTryKeys(ctx context.Context, serverCfg *config.ServerConfig, keys []ssh.KeyInfo) *ssh.KeyInfo {
	PrintInfo("Trying available SSH keys automatically...")

	for i := range keys {
		key := keys[i]
		PrintVerbose("Trying %s...", key.Name)
		err := tryServer(ctx, withKey(serverCfg, key.Path))
		if err == nil {
			PrintSuccess("SSH connection successful with %s", key.Name)
			return &key
		}
		// A host key problem will not go away with another key.
		if code := errcode.CodeOf(err); code != errcode.SSHAuthFailed {
			PrintVerbose("Stopping key trial: %s", code)
			return nil
		}
	}

	return nil
}

func runServerList(cmd *cobra.Command, args []string) error {
	globalCfg, err := config.LoadGlobalConfig()
	if err != nil {
		return err
	}

	servers := globalCfg.ListServers()
	if len(servers) == 0 {
		PrintInfo("No servers configured")
		fmt.Println()
		fmt.Println("Add a server with:")
		fmt.Println("  vpndeploy server add <name> <user@host>")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"NAME", "HOST", "PORT", "USER", "AUTH", "INSTALLED"})
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)

	for _, name := range servers {
		table.Append(serverRow(name, globalCfg.Servers[name]))
	}
	table.Render()

	return nil
}

// serverRow formats one server for the list table.
func serverRow(name string, server config.ServerConfig) []string {
	auth := "default key"
	switch {
	case server.Password != "":
		auth = "password"
	case server.KeyPath != "":
		auth = server.KeyPath
	}
	if server.HostKey != "" {
		auth += ", pinned host key"
	}

	installed := "-"
	if len(server.Installed) > 0 {
		installed = strings.Join(server.Installed, ",")
	}

	return []string{name, server.Host, strconv.Itoa(server.Port), server.User, auth, installed}
}

func runServerCheck(cmd *cobra.Command, args []string) error {
	target, err := ResolveServer(args[0])
	if err != nil {
		return err
	}

	PrintInfo("Checking server '%s'...", target.Name)

	out, err := sessions().CheckConnection(cmd.Context(), target.Creds)
	if err != nil {
		return err
	}

	PrintSuccess("Connection: OK")
	fmt.Printf("   %s\n", out)
	if target.Creds.NeedsSudo() {
		PrintInfo("User '%s' is not root: provisioning uses passwordless sudo", target.Creds.User)
	}
	return nil
}

func runServerRemove(cmd *cobra.Command, args []string) error {
	name := args[0]

	if err := security.ValidateServerName(name); err != nil {
		return fmt.Errorf("invalid server name: %w", err)
	}

	globalCfg, err := config.LoadGlobalConfig()
	if err != nil {
		return err
	}

	server, err := globalCfg.GetServer(name)
	if err != nil {
		return err
	}
	if len(server.Installed) > 0 {
		PrintWarning("'%s' still runs: %s", name, strings.Join(server.Installed, ", "))
	}

	if !Confirm(fmt.Sprintf("Remove server '%s' from the configuration?", name)) {
		PrintInfo("Aborted")
		return nil
	}

	if err := globalCfg.RemoveServer(name); err != nil {
		return err
	}

	if err := config.SaveGlobalConfig(globalCfg); err != nil {
		return err
	}

	PrintSuccess("Removed server '%s'", name)
	return nil
}
