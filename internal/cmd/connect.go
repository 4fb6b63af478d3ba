package cmd

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/yoanbernabeu/vpndeploy/internal/config"
	"github.com/yoanbernabeu/vpndeploy/internal/logger"
	"github.com/yoanbernabeu/vpndeploy/internal/provision"
	"github.com/yoanbernabeu/vpndeploy/internal/security"
	"github.com/yoanbernabeu/vpndeploy/internal/ssh"
)

var (
	managerOnce sync.Once
	manager     *ssh.Manager
)

// sessions returns the process wide connection cache.
func sessions() *ssh.Manager {
	managerOnce.Do(func() {
		manager = ssh.NewManager()
	})
	return manager
}

func closeSessions() {
	if manager == nil {
		return
	}
	if err := manager.CloseAll(); err != nil {
		logger.Debug("closing sessions: %v", err)
	}
}

// ServerTarget is a registered server resolved into credentials.
type ServerTarget struct {
	Name   string
	Server *config.ServerConfig
	Global *config.GlobalConfig
	Creds  config.ServerCredentials
}

// ResolveServer validates the server name, loads the global config and
// resolves the stored entry into credentials.
func ResolveServer(serverName string) (*ServerTarget, error) {
	if err := security.ValidateServerName(serverName); err != nil {
		return nil, fmt.Errorf("invalid server name: %w", err)
	}

	globalCfg, err := config.LoadGlobalConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load global config: %w", err)
	}

	serverCfg, err := globalCfg.GetServer(serverName)
	if err != nil {
		return nil, err
	}

	creds, err := serverCfg.Credentials()
	if err != nil {
		return nil, fmt.Errorf("server '%s': %w", serverName, err)
	}

	return &ServerTarget{
		Name:   serverName,
		Server: serverCfg,
		Global: globalCfg,
		Creds:  creds,
	}, nil
}

// Save writes the (possibly updated) server entry back to the global config.
func (t *ServerTarget) Save() error {
	if err := t.Global.UpdateServer(t.Name, *t.Server); err != nil {
		return err
	}
	if err := config.SaveGlobalConfig(t.Global); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// newOrchestrator returns an orchestrator reporting progress on the console.
// Each run gets an id so interleaved file logs can be told apart.
func newOrchestrator(t *ServerTarget) *provision.Orchestrator {
	runID := uuid.NewString()
	log := logger.Get().With("run", runID, "server", t.Name)

	orch := provision.NewOrchestrator(sessions())
	orch.OnPhase(func(p provision.Phase) {
		log.Debugw("phase", "phase", p.String())
	})
	orch.OnMessage(func(msg string) {
		PrintInfo("%s", msg)
	})
	orch.OnOutput(PrintRemoteLine)
	return orch
}
