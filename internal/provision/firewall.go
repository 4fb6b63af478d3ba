package provision

import (
	"context"

	"github.com/yoanbernabeu/vpndeploy/internal/config"
	"github.com/yoanbernabeu/vpndeploy/internal/constants"
	"github.com/yoanbernabeu/vpndeploy/internal/container"
	"github.com/yoanbernabeu/vpndeploy/internal/errcode"
)

// SetupFirewall applies the host ruleset. Rules are only appended when
// missing, so running it again changes nothing.
func (o *Orchestrator) SetupFirewall(ctx context.Context, creds config.ServerCredentials) error {
	const op = "setup firewall"

	exec, err := o.provider.Executor(ctx, creds)
	if err != nil {
		return err
	}
	vars, err := BaseVars(creds, container.None)
	if err != nil {
		return err
	}

	o.message("Applying firewall ruleset %s...", constants.FirewallVersion)
	return errcode.Wrap(errcode.InternalError, op, o.runScript(ctx, exec, "setup_firewall.sh", vars, nil))
}
