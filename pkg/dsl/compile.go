package dsl

import (
	"fmt"

	"github.com/CustodyZero/archon/pkg/taxonomy"
)

const paramsFieldPrefix = "capability.params."

// validateField rejects any field prefix other than "capability.params.<key>",
// the only field prefix v1 supports (spec.md §4.4).
func validateField(field string) error {
	if len(field) <= len(paramsFieldPrefix) || field[:len(paramsFieldPrefix)] != paramsFieldPrefix {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}

func validateOp(op Op) error {
	if op != Matches {
		return fmt.Errorf("%w: %q", ErrUnknownOperator, op)
	}
	return nil
}

// CompileStructured compiles a structured Rule into a CompiledDRR.
//
// Rejects (in this order): unknown capability kind (I7 defense-in-depth),
// empty condition list, unknown field, unknown operator. Conditions are
// sorted before the ir_hash is computed, so condition order in the input
// never affects the result.
func CompileStructured(rule Rule) (CompiledDRR, error) {
	if !taxonomy.Sound(rule.CapabilityKind) {
		return CompiledDRR{}, fmt.Errorf("%w: %q", ErrUnknownCapabilityKind, rule.CapabilityKind)
	}
	if len(rule.Conditions) == 0 {
		return CompiledDRR{}, fmt.Errorf("%w: rule %q", ErrEmptyConditions, rule.ID)
	}
	for _, c := range rule.Conditions {
		if err := validateField(c.Field); err != nil {
			return CompiledDRR{}, err
		}
		if err := validateOp(c.Op); err != nil {
			return CompiledDRR{}, err
		}
	}
	if rule.Effect != Allow && rule.Effect != Deny {
		return CompiledDRR{}, fmt.Errorf("%w: effect %q", ErrSyntax, rule.Effect)
	}

	sorted := sortConditions(rule.Conditions)
	hash, err := computeIRHash(rule.CapabilityKind, rule.Effect, sorted)
	if err != nil {
		return CompiledDRR{}, fmt.Errorf("dsl: hash computation failed: %w", err)
	}

	return CompiledDRR{
		ID:             rule.ID,
		CapabilityKind: rule.CapabilityKind,
		Effect:         rule.Effect,
		Conditions:     sorted,
		IRHash:         hash,
	}, nil
}
