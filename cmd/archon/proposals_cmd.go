package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/CustodyZero/archon/pkg/manifest"
	"github.com/CustodyZero/archon/pkg/proposals"
	"github.com/CustodyZero/archon/pkg/snapshot"
	"github.com/CustodyZero/archon/pkg/taxonomy"
)

// runPropose creates a pending proposal without approving it — the
// two-step surface for changes that need a typed acknowledgment or hazard
// confirmation the operator wants to read first.
func runPropose(args []string, stdout, stderr io.Writer) int {
	s, err := newServices(stderr)
	if err != nil {
		return fail(stderr, err)
	}
	meta, ok := s.requireActive(stderr)
	if !ok {
		return 1
	}
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: archon propose enable-capability <module> <capability_id> <kind> |")
		fmt.Fprintln(stderr, "                      set-net-allowlist <host>... | set-exec-root <root_id> |")
		fmt.Fprintln(stderr, "                      set-fs-root <id> <abs_path> ro|rw |")
		fmt.Fprintln(stderr, "                      set-secret <name> <value> [passphrase] | delete-secret <name> [passphrase] |")
		fmt.Fprintln(stderr, "                      set-secret-mode device|portable [passphrase]")
		return 1
	}

	var change proposals.Change
	switch args[0] {
	case "enable-capability":
		if len(args) < 4 {
			fmt.Fprintln(stderr, "Usage: archon propose enable-capability <module> <capability_id> <kind>")
			return 1
		}
		kind := taxonomy.Kind(args[3])
		if !taxonomy.Sound(kind) {
			return fail(stderr, fmt.Errorf("unknown capability kind %q", kind))
		}
		desc, err := manifest.NewCapabilityDescriptor(args[1], args[2], kind, "", taxonomy.TypedAckTiers[taxonomy.TierOf(kind)])
		if err != nil {
			return fail(stderr, err)
		}
		change = proposals.Change{Kind: proposals.EnableCapability, Descriptor: &desc}
	case "set-net-allowlist":
		change = proposals.Change{Kind: proposals.SetProjectNetAllowlist, NetAllowlist: args[1:]}
	case "set-exec-root":
		if len(args) < 2 {
			fmt.Fprintln(stderr, "Usage: archon propose set-exec-root <root_id>")
			return 1
		}
		rootID := args[1]
		change = proposals.Change{Kind: proposals.SetProjectExecRoot, ExecCwdRootID: &rootID}
	case "set-fs-root":
		if len(args) < 4 {
			fmt.Fprintln(stderr, "Usage: archon propose set-fs-root <id> <abs_path> ro|rw")
			return 1
		}
		change = proposals.Change{Kind: proposals.SetProjectFSRoots, FSRoots: []snapshot.FSRoot{
			{ID: args[1], AbsPath: args[2], Perm: snapshot.Perm(args[3])},
		}}
	case "set-secret":
		if len(args) < 3 {
			fmt.Fprintln(stderr, "Usage: archon propose set-secret <name> <value> [passphrase]")
			return 1
		}
		change = proposals.Change{Kind: proposals.SetSecret, SecretName: args[1], SecretValue: args[2]}
		if len(args) > 3 {
			change.SecretPassphrase = args[3]
		}
	case "delete-secret":
		if len(args) < 2 {
			fmt.Fprintln(stderr, "Usage: archon propose delete-secret <name> [passphrase]")
			return 1
		}
		change = proposals.Change{Kind: proposals.DeleteSecret, SecretName: args[1]}
		if len(args) > 2 {
			change.SecretPassphrase = args[2]
		}
	case "set-secret-mode":
		if len(args) < 2 {
			fmt.Fprintln(stderr, "Usage: archon propose set-secret-mode device|portable [passphrase]")
			return 1
		}
		change = proposals.Change{Kind: proposals.SetSecretMode, SecretMode: args[1]}
		if len(args) > 2 {
			change.SecretPassphrase = args[2]
		}
	default:
		fmt.Fprintf(stderr, "Unknown proposal change: %s\n", args[0])
		return 1
	}

	p, err := s.queue.Create(meta.ID, change, proposals.Actor{Kind: proposals.ActorCLI, ID: "archon-cli"})
	if err != nil {
		return fail(stderr, err)
	}
	printProposal(stdout, p)
	return 0
}

func runProposals(args []string, stdout, stderr io.Writer) int {
	s, err := newServices(stderr)
	if err != nil {
		return fail(stderr, err)
	}
	meta, ok := s.requireActive(stderr)
	if !ok {
		return 1
	}
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: archon proposals list|show|approve|reject")
		return 1
	}

	switch args[0] {
	case "list":
		for _, p := range s.queue.List(meta.ID) {
			fmt.Fprintf(stdout, "%s  %-8s  %s\n", p.ID, p.Status, p.Preview.Summary)
		}
		return 0
	case "show":
		if len(args) < 2 {
			fmt.Fprintln(stderr, "Usage: archon proposals show <id>")
			return 1
		}
		p, err := s.queue.Get(args[1])
		if err != nil {
			return fail(stderr, err)
		}
		printProposal(stdout, p)
		return 0
	case "approve":
		if len(args) < 2 {
			fmt.Fprintln(stderr, `Usage: archon proposals approve <id> [--ack "<phrase>"] [--confirm-hazard <a>,<b>]... [--passphrase <p>]`)
			return 1
		}
		opts, err := parseApproveFlags(args[2:])
		if err != nil {
			return fail(stderr, err)
		}
		p, err := s.queue.Approve(args[1], opts, proposals.Actor{Kind: proposals.ActorCLI, ID: "archon-cli"})
		if err != nil {
			return fail(stderr, err)
		}
		printProposal(stdout, p)
		return 0
	case "reject":
		if len(args) < 2 {
			fmt.Fprintln(stderr, "Usage: archon proposals reject <id> [reason]")
			return 1
		}
		reason := strings.Join(args[2:], " ")
		p, err := s.queue.Reject(args[1], proposals.Actor{Kind: proposals.ActorCLI, ID: "archon-cli"}, reason)
		if err != nil {
			return fail(stderr, err)
		}
		printProposal(stdout, p)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown proposals subcommand: %s\n", args[0])
		return 1
	}
}

func parseApproveFlags(args []string) (proposals.ApproveOptions, error) {
	var opts proposals.ApproveOptions
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--ack":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("--ack requires a phrase argument")
			}
			i++
			opts.TypedAckPhrase = args[i]
		case "--passphrase":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("--passphrase requires an argument")
			}
			i++
			opts.SecretPassphrase = args[i]
		case "--secret-value":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("--secret-value requires an argument")
			}
			i++
			opts.SecretValue = args[i]
		case "--confirm-hazard":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("--confirm-hazard requires <a>,<b>")
			}
			i++
			parts := strings.SplitN(args[i], ",", 2)
			if len(parts) != 2 {
				return opts, fmt.Errorf("--confirm-hazard requires <a>,<b>")
			}
			opts.HazardConfirmedPairs = append(opts.HazardConfirmedPairs, manifest.HazardPair{
				A: taxonomy.Kind(parts[0]), B: taxonomy.Kind(parts[1]),
			})
		default:
			return opts, fmt.Errorf("unknown flag %q", args[i])
		}
	}
	return opts, nil
}

func printProposal(w io.Writer, p *proposals.Proposal) {
	fmt.Fprintf(w, "Proposal %s\n", p.ID)
	fmt.Fprintf(w, "  status:  %s\n", p.Status)
	fmt.Fprintf(w, "  summary: %s\n", p.Preview.Summary)
	if p.Preview.RequiresTypedAck {
		fmt.Fprintf(w, "  requires typed ack: %q\n", p.Preview.RequiredAckPhrase)
	}
	for _, pair := range p.Preview.HazardsTriggered {
		fmt.Fprintf(w, "  hazard pair: (%s, %s)\n", pair.A, pair.B)
	}
	if p.RSHashAfter != "" {
		fmt.Fprintf(w, "  rs hash after: %s\n", p.RSHashAfter)
	}
	if p.FailureReason != "" {
		fmt.Fprintf(w, "  failure: %s\n", p.FailureReason)
	}
}
