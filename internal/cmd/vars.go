package cmd

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/yoanbernabeu/vpndeploy/internal/container"
	"github.com/yoanbernabeu/vpndeploy/internal/provision"
	"github.com/yoanbernabeu/vpndeploy/internal/script"
	"github.com/yoanbernabeu/vpndeploy/internal/security"
)

var varsCmd = &cobra.Command{
	Use:   "vars <server> <protocol>",
	Short: "Show the variables a protocol would be installed with",
	Long: `Generates the variable set an install would use and prints it.
Nothing is sent to the server. Generated keys differ on every run and
secret values are masked unless --show-secrets is given.

Example:
  vpndeploy vars vpn1 awg --set Jc=6`,
	Args: cobra.ExactArgs(2),
	RunE: runVars,
}

var showSecrets bool

func init() {
	rootCmd.AddCommand(varsCmd)
	addProtocolConfigFlags(varsCmd)
	varsCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print secret values in clear")
}

func runVars(cmd *cobra.Command, args []string) error {
	c, err := container.Parse(args[1])
	if err != nil {
		return err
	}

	cfg, err := buildProtocolConfig(c, installConfigFile, installSet)
	if err != nil {
		return err
	}

	target, err := ResolveServer(args[0])
	if err != nil {
		return err
	}

	vars, err := provision.GenerateVars(target.Creds, c, cfg, rand.Reader)
	if err != nil {
		return err
	}

	renderVars(os.Stdout, vars, showSecrets)
	return nil
}

// renderVars prints vars as a two column table, masking secrets unless
// reveal is set.
func renderVars(w io.Writer, vars script.Vars, reveal bool) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"NAME", "VALUE"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)

	for _, v := range vars {
		value := v.Value
		if !reveal && security.IsSensitiveName(v.Name) {
			value = security.MaskValue(value)
		}
		if value == "" {
			value = fmt.Sprintf("%q", value)
		}
		table.Append([]string{v.Name, value})
	}
	table.Render()
}
