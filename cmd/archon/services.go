package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/CustodyZero/archon/pkg/auditlog"
	"github.com/CustodyZero/archon/pkg/config"
	"github.com/CustodyZero/archon/pkg/gate"
	"github.com/CustodyZero/archon/pkg/project"
	"github.com/CustodyZero/archon/pkg/proposals"
	"github.com/CustodyZero/archon/pkg/registry"
	"github.com/CustodyZero/archon/pkg/secrets"
	"github.com/CustodyZero/archon/pkg/snapshot"
)

const engineVersion = "archon-engine/1.0.0"

// services wires the kernel components around one archon_home: the project
// store, the per-project registries, the proposal queue, and the execution
// gate's log sink. Every command builds this once and tears nothing down —
// all state is on disk.
type services struct {
	home      string
	logger    *slog.Logger
	projects  *project.Store
	modules   *registry.ModuleRegistry
	caps      *registry.CapabilityRegistry
	acks      *registry.AckRegistry
	restricts *registry.RestrictionRegistry
	resources *registry.ResourceConfigRegistry
	queue     *proposals.Queue
}

func newServices(stderr io.Writer) (*services, error) {
	home, err := config.ResolveHome("")
	if err != nil {
		return nil, err
	}
	osCfg, err := config.LoadOSConfig(home)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if osCfg.LogLevel == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	projects, err := project.NewStore(home, time.Now)
	if err != nil {
		return nil, err
	}

	resolve := registry.StateIOResolver(projects.StateIOFor)
	modules := registry.NewModuleRegistry(resolve)
	caps := registry.NewCapabilityRegistry(modules, resolve)
	acks := registry.NewAckRegistry(resolve, time.Now)
	restricts := registry.NewRestrictionRegistry(resolve)
	resources := registry.NewResourceConfigRegistry(resolve)

	s := &services{
		home:      home,
		logger:    logger,
		projects:  projects,
		modules:   modules,
		caps:      caps,
		acks:      acks,
		restricts: restricts,
		resources: resources,
	}

	s.queue = proposals.New(modules, caps, acks, restricts, resources, proposals.Options{
		BuildSnapshot: s.buildSnapshot,
		Resolve:       resolve,
		Secrets:       s.secretStoreFor,
		SetSecretMode: s.setSecretMode,
		Events:        s.activeEventLog(),
	})
	return s, nil
}

// activeEventLog returns the proposal event log of the active project, or
// nil when no project is selected yet.
func (s *services) activeEventLog() *auditlog.EventLog {
	meta, err := s.projects.GetActive()
	if err != nil {
		return nil
	}
	io, err := s.projects.StateIOFor(meta.ID)
	if err != nil {
		return nil
	}
	return auditlog.NewEventLog(io, "logs/proposal-events.jsonl", time.Now)
}

// buildSnapshot assembles and returns the live Rule Snapshot for a project
// from the registries.
func (s *services) buildSnapshot(projectID string) (snapshot.RuleSnapshot, error) {
	cfg, err := s.resources.Get(projectID)
	if err != nil {
		cfg = snapshot.ResourceConfig{}
	}
	return snapshot.Build(
		projectID,
		s.modules.ListEnabled(projectID),
		s.caps.EnabledKinds(projectID),
		s.restricts.List(projectID),
		cfg,
		engineVersion,
		"",
		func() string { return time.Now().UTC().Format(time.RFC3339) },
		s.acks.Epoch(projectID),
	), nil
}

// loadProjectState hydrates the registries from a project's persisted
// state files: acknowledgments, restriction sets, proposals and resource
// config come from disk. Module manifests and the enabled-module and
// enabled-capability sets live only in memory for a CLI run; their state
// files are written but not read back here.
func (s *services) loadProjectState(projectID string) error {
	if err := s.acks.Load(projectID); err != nil {
		return err
	}
	if err := s.restricts.Load(projectID); err != nil {
		return err
	}
	if err := s.queue.Load(projectID); err != nil {
		return err
	}
	return s.resources.Load(projectID)
}

const secretsFileName = "state/secrets.enc.json"

// secretStoreFor opens the project's secret store under whatever mode its
// secrets file is in; passphrase is needed only in portable mode.
func (s *services) secretStoreFor(projectID, passphrase string) (proposals.SecretStore, error) {
	io, err := s.projects.StateIOFor(projectID)
	if err != nil {
		return nil, err
	}
	store, err := secrets.Open(io, secretsFileName, s.home, passphrase)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// setSecretMode switches a project's secret store between device and
// portable modes, re-keying every stored entry.
func (s *services) setSecretMode(projectID, mode, passphrase string) error {
	io, err := s.projects.StateIOFor(projectID)
	if err != nil {
		return err
	}
	return secrets.SetMode(io, secretsFileName, s.home, mode, passphrase)
}

// newGate builds an Execution Gate whose sink appends to the active
// project's decision log.
func (s *services) newGate(projectID string) (*gate.Gate, error) {
	io, err := s.projects.StateIOFor(projectID)
	if err != nil {
		return nil, err
	}
	sink := auditlog.NewSink(io, "logs/decisions.jsonl")
	return gate.New(s.logger, sink, time.Now), nil
}

// requireActive resolves the active project or prints the standard error.
func (s *services) requireActive(stderr io.Writer) (project.Meta, bool) {
	meta, err := s.projects.GetActive()
	if err != nil {
		fmt.Fprintf(stderr, "Error: no active project (create one with `archon project create <name>`)\n")
		return project.Meta{}, false
	}
	if err := s.loadProjectState(meta.ID); err != nil {
		fmt.Fprintf(stderr, "Error: loading project state: %v\n", err)
		return project.Meta{}, false
	}
	return meta, true
}

func fail(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}
