// Package evaluator implements the DRR evaluator (spec.md §4.4): given an
// action and the capability-scoped slice of compiled restriction rules from
// a Rule Snapshot, decide permit or deny. Deny rules are checked first and
// win outright; absent a matching deny, the rule set falls back to
// allowlist mode only when at least one allow rule targets the capability.
package evaluator

import (
	"github.com/CustodyZero/archon/pkg/action"
	"github.com/CustodyZero/archon/pkg/dsl"
	"github.com/CustodyZero/archon/pkg/globmatch"
)

// Decision is the evaluator's permit/deny outcome.
type Decision string

const (
	Permit Decision = "permit"
	Deny   Decision = "deny"
	// Escalate is never produced by the DRR evaluator itself; it is part of
	// the shared decision vocabulary so the Execution Gate and decision log
	// can carry an escalation verdict from an operator-facing layer.
	Escalate Decision = "escalate"
)

// Result is the evaluator's output: a decision plus the rule ids that drove
// it. TriggeredRules is empty both for an unrestricted permit (no allow
// rules exist for this capability) and for allowlist exhaustion (allow
// rules exist but none matched) — the two are distinguished by Decision.
type Result struct {
	Decision       Decision
	TriggeredRules []string
}

// Evaluate runs the deny-first / allowlist-fallback algorithm over drrs,
// which the caller must already have filtered (or not — Evaluate filters
// internally) to the capability kind of action.
func Evaluate(act action.Action, drrs []dsl.CompiledDRR) (Result, error) {
	var scoped []dsl.CompiledDRR
	for _, d := range drrs {
		if d.CapabilityKind == act.CapabilityKind {
			scoped = append(scoped, d)
		}
	}

	for _, d := range scoped {
		if d.Effect != dsl.Deny {
			continue
		}
		matched, err := allConditionsMatch(act, d.Conditions)
		if err != nil {
			return Result{}, err
		}
		if matched {
			return Result{Decision: Deny, TriggeredRules: []string{d.ID}}, nil
		}
	}

	var allowRules []dsl.CompiledDRR
	for _, d := range scoped {
		if d.Effect == dsl.Allow {
			allowRules = append(allowRules, d)
		}
	}
	if len(allowRules) == 0 {
		return Result{Decision: Permit, TriggeredRules: nil}, nil
	}

	var triggered []string
	for _, d := range allowRules {
		matched, err := allConditionsMatch(act, d.Conditions)
		if err != nil {
			return Result{}, err
		}
		if matched {
			triggered = append(triggered, d.ID)
		}
	}
	if len(triggered) == 0 {
		// Allowlist exhaustion: allow rules exist for this capability but
		// none matched this action's parameters.
		return Result{Decision: Deny, TriggeredRules: nil}, nil
	}
	return Result{Decision: Permit, TriggeredRules: triggered}, nil
}

// allConditionsMatch implements the conjunction semantics of a single rule:
// every condition must resolve and glob-match, in any order.
func allConditionsMatch(act action.Action, conds []dsl.Condition) (bool, error) {
	for _, c := range conds {
		val, ok := act.Resolve(c.Field)
		if !ok {
			return false, nil
		}
		matched, err := globmatch.Matches(c.Value, val)
		if err != nil {
			return false, err
		}
		if !matched {
			return false, nil
		}
	}
	return true, nil
}
