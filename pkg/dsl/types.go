// Package dsl implements the Restriction DSL compiler (spec.md §4.1): two
// entry points, compile_structured and compile_dsl, that lower an
// operator-authored rule into a canonical, hashed CompiledDRR. Both paths
// share one canonicalization implementation (pkg/canonicalize) so
// semantically identical rules always produce the same ir_hash, whichever
// entry point produced them.
package dsl

import (
	"errors"
	"sort"

	"github.com/CustodyZero/archon/pkg/canonicalize"
	"github.com/CustodyZero/archon/pkg/taxonomy"
)

// Effect is the outcome a DRR asserts when its conditions match.
type Effect string

const (
	Allow Effect = "allow"
	Deny  Effect = "deny"
)

// Op is a condition operator. v1 supports only Matches (glob).
type Op string

const (
	// Matches is the only operator supported in v1: glob matching of a
	// resolved string field against a pattern.
	Matches Op = "matches"
)

// Condition is one (field, op, value) triple within a rule. field must be
// of the form "capability.params.<key>" — the only field prefix v1 supports.
type Condition struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value string `json:"value"`
}

// CompiledDRR is the canonical, hashed form of a Dynamic Restriction Rule.
//
// ir_hash deliberately excludes ID: two syntactically identical rules with
// different operator-assigned ids share the same IRHash (spec.md §3).
type CompiledDRR struct {
	ID             string      `json:"id"`
	CapabilityKind taxonomy.Kind `json:"capability_kind"`
	Effect         Effect      `json:"effect"`
	Conditions     []Condition `json:"conditions"`
	IRHash         string      `json:"ir_hash"`
}

// Rule is the structured input to compile_structured: an operator-assigned
// id, a capability kind, an effect, and an unordered condition list.
type Rule struct {
	ID             string
	CapabilityKind taxonomy.Kind
	Effect         Effect
	Conditions     []Condition
}

// Error kinds, named in the concept-level error taxonomy of spec.md §7.
var (
	ErrSyntax                = errors.New("dsl: syntax error")
	ErrUnknownCapabilityKind = errors.New("dsl: unknown capability kind")
	ErrEmptyConditions       = errors.New("dsl: empty condition list")
	ErrUnknownField          = errors.New("dsl: unknown field")
	ErrUnknownOperator       = errors.New("dsl: unknown operator")
)

// sortConditions sorts a condition list lexicographically by (field, value),
// matching the Compiled DRR construction algorithm of spec.md §4.1 step 2.
func sortConditions(conds []Condition) []Condition {
	out := make([]Condition, len(conds))
	copy(out, conds)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Field != out[j].Field {
			return out[i].Field < out[j].Field
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// irHashInput is the canonical shape hashed to produce ir_hash. id is
// excluded by construction — it is simply not a field of this struct.
type irHashInput struct {
	CapabilityKind taxonomy.Kind `json:"capability_kind"`
	Effect         Effect        `json:"effect"`
	Conditions     []Condition   `json:"conditions"`
}

func computeIRHash(kind taxonomy.Kind, effect Effect, sortedConds []Condition) (string, error) {
	return canonicalize.CanonicalHash(irHashInput{
		CapabilityKind: kind,
		Effect:         effect,
		Conditions:     sortedConds,
	})
}
