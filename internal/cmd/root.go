package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/yoanbernabeu/vpndeploy/internal/config"
	"github.com/yoanbernabeu/vpndeploy/internal/errcode"
	"github.com/yoanbernabeu/vpndeploy/internal/logger"
	"github.com/yoanbernabeu/vpndeploy/internal/security"
)

var (
	// Version is set at build time
	Version = "dev"

	// Global flags
	verbose bool
	yesFlag bool // CI/CD: skip confirmations
	logFile string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "vpndeploy",
	Short: "Provision VPN servers over SSH",
	Long: `VpnDeploy is a CLI to provision VPN services on remote Linux hosts.
It connects over SSH, installs Docker when needed and sets up one
container per protocol.

Quick start:
  vpndeploy server add vpn1 root@203.0.113.10   # Register a server
  vpndeploy firewall vpn1                       # Configure NAT and forwarding
  vpndeploy install vpn1 wireguard             # Install a protocol

Commands:
  server        Manage provisioned servers
  firewall      Configure the host firewall
  install       Install a protocol container
  remove        Remove one or all protocol containers
  file          Copy text files in and out of containers
  vars          Show the variables a protocol would be installed with

CI/CD Environment Variables:
  VPNDEPLOY_SSH_KEY              SSH private key content
  VPNDEPLOY_SSH_PASSWORD         SSH password
  VPNDEPLOY_SSH_PASSPHRASE       Passphrase of the SSH private key
  VPNDEPLOY_KNOWN_HOSTS          SSH known_hosts content
  VPNDEPLOY_SKIP_HOST_KEY_CHECK  Skip host key verification (true/false)
  VPNDEPLOY_LOG_FILE             Write a JSON log to this file`,
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupEnvironment,
}

// Execute runs the root command
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer logger.SyncGlobal()
	defer closeSessions()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		PrintError("%s", describeError(err))
	}
	return err
}

// GetRootCmd returns the root command, used for documentation generation
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed logs and remote output")
	rootCmd.PersistentFlags().BoolVarP(&yesFlag, "yes", "y", false, "Skip confirmations (CI/CD mode)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write a JSON log to this file (default: $VPNDEPLOY_LOG_FILE)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", config.DefaultEnvFile, "Load VPNDEPLOY_* variables from this file")

	rootCmd.SetVersionTemplate(`VpnDeploy {{.Version}}
`)
}

// setupEnvironment loads .env overrides and configures logging once flags
// are parsed.
func setupEnvironment(cmd *cobra.Command, args []string) error {
	if err := config.LoadEnv(envFile); err != nil {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	opts := logger.DefaultOptions()
	opts.ConsoleLevel = logger.WarnLevel
	if verbose {
		opts.ConsoleLevel = logger.DebugLevel
	}
	opts.ColorConsole = !color.NoColor

	path := logFile
	if path == "" {
		path = os.Getenv(config.EnvLogFile)
	}
	if path == "" {
		if globalCfg, err := config.LoadGlobalConfig(); err == nil {
			path = globalCfg.LogFile
		}
	}
	if path != "" {
		opts.FileOutput = true
		opts.LogFilePath = config.ExpandHome(path)
	}

	logger.Init(opts)
	return nil
}

// describeError formats err with its outcome code and, for connection
// failures, a hint on what to check.
func describeError(err error) string {
	var ce *errcode.Error
	if !errors.As(err, &ce) {
		return err.Error()
	}

	msg := err.Error()
	switch ce.Code {
	case errcode.SSHUnknownHostKey:
		msg += fmt.Sprintf("\n   Add the host to ~/.ssh/known_hosts, pin it with 'server add --host-key', or set %s=true", config.EnvSkipHostKeyCheck)
	case errcode.SSHHostKeyMismatch:
		msg += "\n   The server key changed. Verify the host before updating known_hosts."
	case errcode.SSHAuthFailed:
		msg += "\n   Check the key or password configured for this server."
	}
	return msg
}

// IsVerbose returns true if verbose mode is enabled
func IsVerbose() bool {
	return verbose
}

// IsYesMode returns true if --yes flag is set (CI/CD mode)
func IsYesMode() bool {
	return yesFlag
}

var (
	errorColor   = color.New(color.FgRed, color.Bold)
	successColor = color.New(color.FgGreen)
	infoColor    = color.New(color.FgCyan)
	warningColor = color.New(color.FgYellow)
	faintColor   = color.New(color.Faint)
)

// PrintError prints a formatted error message
func PrintError(msg string, args ...interface{}) {
	errorColor.Fprintf(os.Stderr, "✗ "+msg+"\n", args...)
}

// PrintSuccess prints a success message
func PrintSuccess(msg string, args ...interface{}) {
	successColor.Printf("✓ "+msg+"\n", args...)
}

// PrintInfo prints an info message
func PrintInfo(msg string, args ...interface{}) {
	infoColor.Printf("• "+msg+"\n", args...)
}

// PrintWarning prints a warning message
func PrintWarning(msg string, args ...interface{}) {
	warningColor.Printf("! "+msg+"\n", args...)
}

// PrintVerbose prints a message only in verbose mode
func PrintVerbose(msg string, args ...interface{}) {
	if verbose {
		faintColor.Printf("   "+msg+"\n", args...)
	}
}

// PrintRemoteLine prints one line of remote output in verbose mode with
// sensitive values masked
func PrintRemoteLine(line string) {
	if verbose {
		faintColor.Printf("   | %s\n", security.SanitizeCommandForLog(line))
	}
}
