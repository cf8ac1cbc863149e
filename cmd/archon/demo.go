package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/CustodyZero/archon/pkg/action"
	"github.com/CustodyZero/archon/pkg/dsl"
	"github.com/CustodyZero/archon/pkg/gate"
	"github.com/CustodyZero/archon/pkg/manifest"
	"github.com/CustodyZero/archon/pkg/proposals"
	"github.com/CustodyZero/archon/pkg/taxonomy"
)

// runDemo walks a fresh throwaway project through the full governance
// loop: deny-by-default, module + capability enablement via proposals, an
// allowlist restriction, and a gated read that actually touches disk.
func runDemo(_ []string, stdout, stderr io.Writer) int {
	s, err := newServices(stderr)
	if err != nil {
		return fail(stderr, err)
	}

	meta, err := s.projects.Create("demo")
	if err != nil {
		return fail(stderr, err)
	}
	if err := s.projects.Select(meta.ID); err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintf(stdout, "Created demo project %s\n", meta.ID)

	actor := proposals.Actor{Kind: proposals.ActorCLI, ID: "demo"}
	ctx := context.Background()

	g, err := s.newGate(meta.ID)
	if err != nil {
		return fail(stderr, err)
	}

	// 1. Deny by default: nothing is enabled yet.
	act := action.Action{
		ProjectID: meta.ID, AgentID: "demo-agent",
		ModuleID: "filesystem", CapabilityID: "read",
		CapabilityKind: taxonomy.FSRead,
		Params:         map[string]string{"path": "./docs/spec.md"},
	}
	rs, err := s.buildSnapshot(meta.ID)
	if err != nil {
		return fail(stderr, err)
	}
	res, err := g.Evaluate(ctx, act, rs)
	if err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintf(stdout, "1. fresh project:       %s (deny by default)\n", res.Decision)

	// 2. Register and enable the filesystem module, then fs.read.
	readDesc, err := manifest.NewCapabilityDescriptor("filesystem", "read", taxonomy.FSRead, "", false)
	if err != nil {
		return fail(stderr, err)
	}
	mod := manifest.Module{
		ModuleID: "filesystem", Version: "1.0.0",
		Description:  "local file access",
		Capabilities: []manifest.CapabilityDescriptor{readDesc},
	}
	if err := s.modules.Register(meta.ID, mod); err != nil {
		return fail(stderr, err)
	}
	for _, change := range []proposals.Change{
		{Kind: proposals.EnableModule, ModuleID: "filesystem"},
		{Kind: proposals.EnableCapability, Descriptor: &readDesc},
	} {
		p, err := s.queue.Create(meta.ID, change, actor)
		if err != nil {
			return fail(stderr, err)
		}
		if _, err := s.queue.Approve(p.ID, proposals.ApproveOptions{}, actor); err != nil {
			return fail(stderr, err)
		}
	}
	fmt.Fprintln(stdout, "2. enabled filesystem module and fs.read")

	// 3. Restrict reads to ./docs/** and register a real read handler.
	rule, err := dsl.CompileDSL("docs-only", `allow fs.read where capability.params.path matches "./docs/**"`)
	if err != nil {
		return fail(stderr, err)
	}
	p, err := s.queue.Create(meta.ID, proposals.Change{Kind: proposals.SetRestrictions, Restrictions: []dsl.CompiledDRR{rule}}, actor)
	if err != nil {
		return fail(stderr, err)
	}
	if _, err := s.queue.Approve(p.ID, proposals.ApproveOptions{}, actor); err != nil {
		return fail(stderr, err)
	}

	workspace := filepath.Join(s.home, "projects", meta.ID, "workspace")
	if err := os.MkdirAll(filepath.Join(workspace, "docs"), 0700); err != nil {
		return fail(stderr, err)
	}
	if err := os.WriteFile(filepath.Join(workspace, "docs", "spec.md"), []byte("# demo\n"), 0600); err != nil {
		return fail(stderr, err)
	}
	g.Register("filesystem", "read", func(_ context.Context, call gate.AdapterCallContext) (any, error) {
		data, err := os.ReadFile(filepath.Join(workspace, filepath.Clean(call.Params["path"])))
		if err != nil {
			return nil, err
		}
		return string(data), nil
	})

	// 4. Permitted read inside ./docs/**.
	rs, err = s.buildSnapshot(meta.ID)
	if err != nil {
		return fail(stderr, err)
	}
	res, err = g.Evaluate(ctx, act, rs)
	if err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintf(stdout, "3. ./docs/spec.md:      %s, triggered=%v\n", res.Decision, res.TriggeredRules)

	// 5. Allowlist exhaustion outside ./docs/**.
	act.Params = map[string]string{"path": "./src/main.go"}
	res, err = g.Evaluate(ctx, act, rs)
	if err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintf(stdout, "4. ./src/main.go:       %s, triggered=%v (allowlist exhaustion)\n", res.Decision, res.TriggeredRules)

	fmt.Fprintf(stdout, "\nDecision log: %s\n", filepath.Join(s.home, "projects", meta.ID, "logs", "decisions.jsonl"))
	return 0
}
