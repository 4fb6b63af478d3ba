package provision

import (
	"fmt"

	"github.com/yoanbernabeu/vpndeploy/internal/container"
	"github.com/yoanbernabeu/vpndeploy/internal/security"
)

// Phase is a step of container installation.
type Phase int

const (
	PhaseEnsureRuntime Phase = iota
	PhaseGenerateVars
	PhaseContainerSetup
	PhasePostInstallUpload
	PhaseVerify
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseEnsureRuntime:
		return "ensure-runtime"
	case PhaseGenerateVars:
		return "generate-vars"
	case PhaseContainerSetup:
		return "container-setup"
	case PhasePostInstallUpload:
		return "post-install-upload"
	case PhaseVerify:
		return "verify"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// InstallState tracks how far an installation got, for cleanup decisions.
type InstallState struct {
	Phase        Phase
	Container    container.Container
	UploadFolder string
}

// NewInstallState creates the state of a fresh installation.
func NewInstallState(c container.Container) *InstallState {
	return &InstallState{
		Phase:     PhaseEnsureRuntime,
		Container: c,
	}
}

// CleanupActions returns the commands that undo partial work of a failed
// installation. A container that was already (re)created is left in place:
// the previous one is gone either way and removal is an explicit operation.
func (s *InstallState) CleanupActions() []string {
	var actions []string

	if s.Phase == PhaseContainerSetup && s.UploadFolder != "" {
		// The folder was uploaded over SFTP as the session user, and setup.sh
		// may have failed before removing it.
		actions = append(actions,
			fmt.Sprintf("rm -rf %s 2>/dev/null || true", security.ShellEscape(s.UploadFolder)),
		)
	}

	return actions
}
