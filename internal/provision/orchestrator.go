// Package provision installs and removes VPN containers on a remote host by
// composing templated scripts, file transfers and verification checks.
package provision

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/yoanbernabeu/vpndeploy/internal/config"
	"github.com/yoanbernabeu/vpndeploy/internal/constants"
	"github.com/yoanbernabeu/vpndeploy/internal/container"
	"github.com/yoanbernabeu/vpndeploy/internal/errcode"
	"github.com/yoanbernabeu/vpndeploy/internal/logger"
	"github.com/yoanbernabeu/vpndeploy/internal/script"
	"github.com/yoanbernabeu/vpndeploy/internal/security"
	"github.com/yoanbernabeu/vpndeploy/internal/ssh"
)

const cleanupTimeout = 30 * time.Second

var minDockerVersion = semver.MustParse(constants.MinDockerVersion)

// ExecutorProvider hands out an executor bound to a host. *ssh.Manager is
// the production implementation.
type ExecutorProvider interface {
	Executor(ctx context.Context, creds config.ServerCredentials) (ssh.Executor, error)
}

// recipe lists the templates that install one container.
type recipe struct {
	dir       string
	configure string
	files     []string
	verify    bool
}

var recipes = map[container.Container]recipe{
	container.OpenVpn:     {dir: "openvpn", configure: "openvpn/configure.sh", verify: true},
	container.ShadowSocks: {dir: "shadowsocks", configure: "openvpn/configure.sh", files: []string{"ss-config.json"}, verify: true},
	container.Cloak:       {dir: "cloak", configure: "openvpn/configure.sh", files: []string{"ck-config.json"}, verify: true},
	container.WireGuard:   {dir: "wireguard", files: []string{"wg0.conf"}},
	container.Awg:         {dir: "awg", files: []string{"wg0.conf"}},
}

// Orchestrator handles the container lifecycle on remote hosts
type Orchestrator struct {
	provider       ExecutorProvider
	rand           io.Reader
	runTimeout     time.Duration
	verifyRetries  int
	verifyInterval time.Duration
	onPhase        func(Phase)
	onMessage      func(string)
	onOutput       func(string)
}

// NewOrchestrator creates an orchestrator acquiring hosts from provider
func NewOrchestrator(provider ExecutorProvider) *Orchestrator {
	return &Orchestrator{
		provider:       provider,
		rand:           rand.Reader,
		runTimeout:     constants.DefaultRunTimeout,
		verifyRetries:  defaultVerifyRetries,
		verifyInterval: defaultVerifyInterval,
	}
}

// SetRand replaces the source secrets are drawn from
func (o *Orchestrator) SetRand(r io.Reader) {
	o.rand = r
}

// SetRunTimeout bounds every single script run
func (o *Orchestrator) SetRunTimeout(d time.Duration) {
	o.runTimeout = d
}

// SetVerifyPolicy sets how often and how far apart the service is checked
func (o *Orchestrator) SetVerifyPolicy(retries int, interval time.Duration) {
	o.verifyRetries = retries
	o.verifyInterval = interval
}

// OnPhase sets a callback invoked when installation enters a phase
func (o *Orchestrator) OnPhase(fn func(Phase)) {
	o.onPhase = fn
}

// OnMessage sets a callback for status messages
func (o *Orchestrator) OnMessage(fn func(string)) {
	o.onMessage = fn
}

// OnOutput sets a callback receiving every line of remote output. It may be
// called concurrently for stdout and stderr.
func (o *Orchestrator) OnOutput(fn func(string)) {
	o.onOutput = fn
}

func (o *Orchestrator) message(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logger.Info("%s", msg)
	if o.onMessage != nil {
		o.onMessage(msg)
	}
}

func (o *Orchestrator) enter(state *InstallState, p Phase) {
	state.Phase = p
	logger.Get().With("container", state.Container.Key()).Debugf("phase %s", p)
	if o.onPhase != nil {
		o.onPhase(p)
	}
}

// SetupContainer installs c on the host and starts it. Phases run in order
// and the first failure aborts with its code unchanged.
func (o *Orchestrator) SetupContainer(ctx context.Context, creds config.ServerCredentials, c container.Container, cfg config.ProtocolConfig) error {
	const op = "setup container"

	rec, ok := recipes[c]
	if !ok {
		return errcode.Newf(errcode.InvalidInput, op, "%s cannot be installed", c)
	}

	exec, err := o.provider.Executor(ctx, creds)
	if err != nil {
		return err
	}

	state := NewInstallState(c)
	if err := o.install(ctx, exec, creds, cfg, rec, state); err != nil {
		logger.Get().With("container", c.Key(), "phase", state.Phase.String()).
			Errorf("installation failed: %v", err)
		o.cleanup(ctx, exec, state)
		return errcode.Wrap(errcode.InternalError, op, err)
	}

	logger.Get().With("container", c.Key()).Successf("%s installed on %s", c.Title(), creds.Identity())
	return nil
}

func (o *Orchestrator) install(ctx context.Context, exec ssh.Executor, creds config.ServerCredentials, cfg config.ProtocolConfig, rec recipe, state *InstallState) error {
	c := state.Container

	o.enter(state, PhaseEnsureRuntime)
	base, err := BaseVars(creds, c)
	if err != nil {
		return err
	}
	if err := o.ensureRuntime(ctx, exec, base); err != nil {
		return err
	}

	o.enter(state, PhaseGenerateVars)
	vars, err := GenerateVars(creds, c, cfg, o.rand)
	if err != nil {
		return err
	}
	state.UploadFolder, _ = vars.Get("UPLOAD_FOLDER")

	o.enter(state, PhaseContainerSetup)
	o.message("Building %s container...", c.Title())
	dockerfile, err := script.Render(rec.dir+"/Dockerfile", vars)
	if err != nil {
		return errcode.Wrap(errcode.InternalError, "render Dockerfile", err)
	}
	if err := exec.UploadFile(ctx, []byte(dockerfile), path.Join(state.UploadFolder, "Dockerfile")); err != nil {
		return err
	}
	if err := o.runScript(ctx, exec, rec.dir+"/setup.sh", vars, nil); err != nil {
		return err
	}
	if rec.configure != "" {
		o.message("Configuring %s...", c.Title())
		if err := o.runScript(ctx, exec, rec.configure, vars, nil); err != nil {
			return err
		}
	}

	o.enter(state, PhasePostInstallUpload)
	for _, f := range rec.files {
		content, err := script.Render(rec.dir+"/"+f, vars)
		if err != nil {
			return errcode.Wrap(errcode.InternalError, "render "+f, err)
		}
		dst := path.Join(constants.ContainerConfigDir(c.Key()), f)
		if err := exec.UploadTextFileToContainer(ctx, c, content, dst); err != nil {
			return err
		}
	}
	o.message("Starting %s...", c.Title())
	if err := o.runScript(ctx, exec, rec.dir+"/start.sh", vars, nil); err != nil {
		return err
	}

	o.enter(state, PhaseVerify)
	if rec.verify {
		o.message("Verifying %s...", c.Title())
		if err := o.verify(ctx, exec, vars); err != nil {
			return err
		}
	}

	o.enter(state, PhaseDone)
	return nil
}

// ensureRuntime installs docker when it is missing or too old.
func (o *Orchestrator) ensureRuntime(ctx context.Context, exec ssh.Executor, vars script.Vars) error {
	version, err := o.dockerVersion(ctx, exec, vars)
	if err != nil {
		return err
	}
	if dockerSupported(version) {
		logger.Debug("docker %s found", version)
		return nil
	}

	if version == nil {
		o.message("Docker not found, installing...")
	} else {
		o.message("Docker %s is older than %s, upgrading...", version, minDockerVersion)
	}
	if err := o.runScript(ctx, exec, "install_docker.sh", vars, nil); err != nil {
		return err
	}

	version, err = o.dockerVersion(ctx, exec, vars)
	if err != nil {
		return err
	}
	if !dockerSupported(version) {
		return errcode.Newf(errcode.ScriptFailed, "ensure runtime",
			"docker %s does not meet the minimum version %s", versionString(version), minDockerVersion)
	}
	return nil
}

// dockerVersion returns nil when docker is not installed. A version string
// that cannot be parsed is trusted as recent.
func (o *Orchestrator) dockerVersion(ctx context.Context, exec ssh.Executor, vars script.Vars) (*semver.Version, error) {
	var first string
	err := o.runScript(ctx, exec, "check_docker.sh", vars, func(line string) {
		if first == "" {
			first = strings.TrimSpace(line)
		}
	})
	if err != nil {
		return nil, err
	}
	if first == "" {
		return nil, nil
	}

	v, err := semver.NewVersion(first)
	if err != nil {
		logger.Warn("cannot parse docker version %q, assuming it is supported", first)
		return minDockerVersion, nil
	}
	return v, nil
}

func dockerSupported(v *semver.Version) bool {
	if v == nil {
		return false
	}
	// Distro builds tag versions like 20.10.24-ce; compare the release only.
	core, err := v.SetPrerelease("")
	if err != nil {
		return false
	}
	return !core.LessThan(minDockerVersion)
}

func versionString(v *semver.Version) string {
	if v == nil {
		return "(none)"
	}
	return v.String()
}

func (o *Orchestrator) verify(ctx context.Context, exec ssh.Executor, vars script.Vars) error {
	v := NewVerifier(exec, vars)
	v.SetRetries(o.verifyRetries)
	v.SetInterval(o.verifyInterval)

	result, err := v.Check(ctx)
	if err != nil {
		return err
	}
	if !result.Healthy {
		return errcode.Newf(errcode.VerificationFailed, "verify",
			"%s after %d attempt(s)", result.Message, result.Attempts)
	}
	return nil
}

// cleanup undoes partial work of a failed installation, best effort.
func (o *Orchestrator) cleanup(ctx context.Context, exec ssh.Executor, state *InstallState) {
	actions := state.CleanupActions()
	if len(actions) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	for _, action := range actions {
		if err := exec.Run(ctx, action, ssh.Output{}); err != nil {
			logger.Warn("cleanup step failed: %v", err)
		}
	}
}

// runScript renders a template and runs it with the failure marker rule.
// stdout, when set, receives stdout lines in addition to the log.
func (o *Orchestrator) runScript(ctx context.Context, exec ssh.Executor, name string, vars script.Vars, stdout ssh.LineSink) error {
	text, err := script.Render(name, vars)
	if err != nil {
		return errcode.Wrap(errcode.InternalError, "render "+name, err)
	}

	if o.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.runTimeout)
		defer cancel()
	}

	return runWatched(ctx, exec, name, text, ssh.Output{
		Stdout: o.sink(name, stdout),
		Stderr: o.sink(name, nil),
	})
}

func (o *Orchestrator) sink(name string, extra ssh.LineSink) ssh.LineSink {
	log := logger.Get().With("script", name)
	return func(line string) {
		log.Debugf("%s", security.SanitizeCommandForLog(line))
		if o.onOutput != nil {
			o.onOutput(line)
		}
		if extra != nil {
			extra(line)
		}
	}
}

// RemoveContainer stops and deletes c with its image and build folder.
// Removing a container that does not exist is not an error.
func (o *Orchestrator) RemoveContainer(ctx context.Context, creds config.ServerCredentials, c container.Container) error {
	const op = "remove container"

	if c.Name() == "" {
		return errcode.Newf(errcode.InvalidInput, op, "no container selected")
	}
	exec, err := o.provider.Executor(ctx, creds)
	if err != nil {
		return err
	}
	vars, err := BaseVars(creds, c)
	if err != nil {
		return err
	}

	o.message("Removing %s...", c.Title())
	return errcode.Wrap(errcode.InternalError, op, o.runScript(ctx, exec, "remove_container.sh", vars, nil))
}

// RemoveAllContainers deletes every container created by this tool.
func (o *Orchestrator) RemoveAllContainers(ctx context.Context, creds config.ServerCredentials) error {
	const op = "remove all containers"

	exec, err := o.provider.Executor(ctx, creds)
	if err != nil {
		return err
	}
	vars, err := BaseVars(creds, container.None)
	if err != nil {
		return err
	}

	o.message("Removing all containers...")
	return errcode.Wrap(errcode.InternalError, op, o.runScript(ctx, exec, "remove_all_containers.sh", vars, nil))
}

// CheckOpenVpnServer checks an installed OpenVPN based container.
func (o *Orchestrator) CheckOpenVpnServer(ctx context.Context, creds config.ServerCredentials, c container.Container) error {
	const op = "check openvpn"

	if !c.IsOpenVpn() {
		return errcode.Newf(errcode.InvalidInput, op, "%s does not run OpenVPN", c)
	}
	exec, err := o.provider.Executor(ctx, creds)
	if err != nil {
		return err
	}
	vars, err := BaseVars(creds, c)
	if err != nil {
		return err
	}
	return errcode.Wrap(errcode.InternalError, op, o.verify(ctx, exec, vars))
}

// UploadFile writes data to a path on the host.
func (o *Orchestrator) UploadFile(ctx context.Context, creds config.ServerCredentials, data []byte, remotePath string) error {
	exec, err := o.provider.Executor(ctx, creds)
	if err != nil {
		return err
	}
	return exec.UploadFile(ctx, data, remotePath)
}

// UploadTextFileToContainer writes content to a path inside c.
func (o *Orchestrator) UploadTextFileToContainer(ctx context.Context, creds config.ServerCredentials, c container.Container, content, filePath string) error {
	exec, err := o.provider.Executor(ctx, creds)
	if err != nil {
		return err
	}
	return exec.UploadTextFileToContainer(ctx, c, content, filePath)
}

// GetTextFileFromContainer reads a file from inside c.
func (o *Orchestrator) GetTextFileFromContainer(ctx context.Context, creds config.ServerCredentials, c container.Container, filePath string) (string, error) {
	exec, err := o.provider.Executor(ctx, creds)
	if err != nil {
		return "", err
	}
	return exec.GetTextFileFromContainer(ctx, c, filePath)
}
