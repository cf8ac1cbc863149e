package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/CustodyZero/archon/pkg/auditlog"
	"github.com/CustodyZero/archon/pkg/dsl"
	"github.com/CustodyZero/archon/pkg/proposals"
	"github.com/CustodyZero/archon/pkg/snapshot"
)

func runStatus(_ []string, stdout, stderr io.Writer) int {
	s, err := newServices(stderr)
	if err != nil {
		return fail(stderr, err)
	}
	meta, ok := s.requireActive(stderr)
	if !ok {
		return 1
	}

	rs, err := s.buildSnapshot(meta.ID)
	if err != nil {
		return fail(stderr, err)
	}
	rsHash, err := snapshot.Hash(rs)
	if err != nil {
		return fail(stderr, err)
	}

	fmt.Fprintf(stdout, "Project:   %s (%s)\n", meta.Name, meta.ID)
	fmt.Fprintf(stdout, "RS hash:   %s\n", rsHash)
	fmt.Fprintf(stdout, "Ack epoch: %d\n", rs.AckEpoch)
	fmt.Fprintf(stdout, "Modules enabled: %d\n", len(rs.CCMEnabled))
	for _, m := range rs.CCMEnabled {
		fmt.Fprintf(stdout, "  %s %s\n", m.ModuleID, m.Version)
	}
	fmt.Fprintf(stdout, "Capabilities enabled: %d\n", len(rs.EnabledCapabilities))
	for _, k := range rs.EnabledCapabilities {
		fmt.Fprintf(stdout, "  %s\n", k)
	}
	fmt.Fprintf(stdout, "Restrictions: %d\n", len(rs.DRRCanonical))
	return 0
}

func runProject(args []string, stdout, stderr io.Writer) int {
	s, err := newServices(stderr)
	if err != nil {
		return fail(stderr, err)
	}
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: archon project create|list|select|current")
		return 1
	}

	switch args[0] {
	case "create":
		if len(args) < 2 {
			fmt.Fprintln(stderr, "Usage: archon project create <name>")
			return 1
		}
		meta, err := s.projects.Create(args[1])
		if err != nil {
			return fail(stderr, err)
		}
		fmt.Fprintf(stdout, "Created project %s (%s)\n", meta.Name, meta.ID)
		return 0
	case "list":
		list, err := s.projects.List()
		if err != nil {
			return fail(stderr, err)
		}
		active, _ := s.projects.GetActive()
		for _, m := range list {
			marker := " "
			if m.ID == active.ID {
				marker = "*"
			}
			fmt.Fprintf(stdout, "%s %s  %s\n", marker, m.ID, m.Name)
		}
		return 0
	case "select":
		if len(args) < 2 {
			fmt.Fprintln(stderr, "Usage: archon project select <id>")
			return 1
		}
		if err := s.projects.Select(args[1]); err != nil {
			return fail(stderr, err)
		}
		fmt.Fprintf(stdout, "Selected %s\n", args[1])
		return 0
	case "current":
		meta, err := s.projects.GetActive()
		if err != nil {
			return fail(stderr, err)
		}
		fmt.Fprintf(stdout, "%s  %s\n", meta.ID, meta.Name)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown project subcommand: %s\n", args[0])
		return 1
	}
}

// runEnable and runDisable handle modules only and go through the proposal
// queue with an immediate CLI approval: the CLI is an interactive surface,
// so the operator typing the command is the approval. They parse no flags;
// capability enablement, including any typed ack phrase, goes through
// `archon propose` and `archon proposals approve --ack "<phrase>"`.
func runEnable(args []string, stdout, stderr io.Writer) int {
	return runEnablement(args, stdout, stderr, true)
}

func runDisable(args []string, stdout, stderr io.Writer) int {
	return runEnablement(args, stdout, stderr, false)
}

func runEnablement(args []string, stdout, stderr io.Writer, enable bool) int {
	s, err := newServices(stderr)
	if err != nil {
		return fail(stderr, err)
	}
	meta, ok := s.requireActive(stderr)
	if !ok {
		return 1
	}
	if len(args) < 2 || args[0] != "module" {
		fmt.Fprintln(stderr, "Usage: archon enable|disable module <module_id>")
		fmt.Fprintln(stderr, "(capability enablement goes through `archon propose` — descriptors carry tier and hazard data)")
		return 1
	}

	kind := proposals.EnableModule
	if !enable {
		kind = proposals.DisableModule
	}
	change := proposals.Change{Kind: kind, ModuleID: args[1]}
	actor := proposals.Actor{Kind: proposals.ActorCLI, ID: "archon-cli"}

	p, err := s.queue.Create(meta.ID, change, actor)
	if err != nil {
		return fail(stderr, err)
	}
	resolved, err := s.queue.Approve(p.ID, proposals.ApproveOptions{}, actor)
	if err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintf(stdout, "%s — %s\n", resolved.Preview.Summary, resolved.Status)
	if resolved.RSHashAfter != "" {
		fmt.Fprintf(stdout, "RS hash: %s\n", resolved.RSHashAfter)
	}
	return 0
}

func runRules(args []string, stdout, stderr io.Writer) int {
	s, err := newServices(stderr)
	if err != nil {
		return fail(stderr, err)
	}
	meta, ok := s.requireActive(stderr)
	if !ok {
		return 1
	}
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: archon rules add|remove|list")
		return 1
	}

	switch args[0] {
	case "list":
		rules := s.restricts.List(meta.ID)
		sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
		for _, r := range rules {
			fmt.Fprintf(stdout, "%s  %s %s  (%d conditions)  ir=%s\n", r.ID, r.Effect, r.CapabilityKind, len(r.Conditions), r.IRHash[:12])
		}
		return 0
	case "add":
		if len(args) < 3 {
			fmt.Fprintln(stderr, `Usage: archon rules add <id> '<dsl source>'`)
			return 1
		}
		return installRule(s, meta.ID, args[1], strings.Join(args[2:], " "), stdout, stderr)
	case "remove":
		if len(args) < 2 {
			fmt.Fprintln(stderr, "Usage: archon rules remove <id>")
			return 1
		}
		if err := s.restricts.Remove(meta.ID, args[1]); err != nil {
			return fail(stderr, err)
		}
		fmt.Fprintf(stdout, "Removed %s\n", args[1])
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown rules subcommand: %s\n", args[0])
		return 1
	}
}

func runRestrict(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprintln(stderr, `Usage: archon restrict <id> '<dsl source>'`)
		return 1
	}
	s, err := newServices(stderr)
	if err != nil {
		return fail(stderr, err)
	}
	meta, ok := s.requireActive(stderr)
	if !ok {
		return 1
	}
	return installRule(s, meta.ID, args[0], strings.Join(args[1:], " "), stdout, stderr)
}

func installRule(s *services, projectID, id, source string, stdout, stderr io.Writer) int {
	compiled, err := dsl.CompileDSL(id, source)
	if err != nil {
		return fail(stderr, err)
	}
	actor := proposals.Actor{Kind: proposals.ActorCLI, ID: "archon-cli"}
	existing := s.restricts.List(projectID)
	replaced := false
	for i, r := range existing {
		if r.ID == compiled.ID {
			existing[i] = compiled
			replaced = true
			break
		}
	}
	if !replaced {
		existing = append(existing, compiled)
	}
	p, err := s.queue.Create(projectID, proposals.Change{Kind: proposals.SetRestrictions, Restrictions: existing}, actor)
	if err != nil {
		return fail(stderr, err)
	}
	if _, err := s.queue.Approve(p.ID, proposals.ApproveOptions{}, actor); err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintf(stdout, "Installed %s (%s %s), ir=%s\n", compiled.ID, compiled.Effect, compiled.CapabilityKind, compiled.IRHash[:12])
	return 0
}

func runLog(_ []string, stdout, stderr io.Writer) int {
	s, err := newServices(stderr)
	if err != nil {
		return fail(stderr, err)
	}
	meta, ok := s.requireActive(stderr)
	if !ok {
		return 1
	}
	stio, err := s.projects.StateIOFor(meta.ID)
	if err != nil {
		return fail(stderr, err)
	}
	entries, stats, err := auditlog.ReadDeduped(stio, "logs/decisions.jsonl")
	if err != nil {
		return fail(stderr, err)
	}
	for _, e := range entries {
		fmt.Fprintf(stdout, "%s  %-8s %s  %s:%s  triggered=%v\n",
			e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), e.Decision, e.AgentID, e.ModuleID, e.CapabilityID, e.TriggeredRules)
	}
	fmt.Fprintf(stdout, "-- %d entries (%d duplicates, %d parse errors", len(entries), stats.DuplicateEventIDs, stats.ParseErrors)
	if stats.TruncatedTrailingLine {
		fmt.Fprintf(stdout, ", truncated trailing line")
	}
	fmt.Fprintln(stdout, ")")
	return 0
}
