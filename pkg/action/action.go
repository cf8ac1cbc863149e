// Package action defines the Action value the Validation Engine and DRR
// evaluator both operate on: an agent's request to exercise one capability
// with a bag of string parameters.
package action

import "github.com/CustodyZero/archon/pkg/taxonomy"

// Action is one attempted capability invocation.
type Action struct {
	ProjectID      string
	AgentID        string
	ModuleID       string
	CapabilityID   string
	CapabilityKind taxonomy.Kind
	Params         map[string]string
}

// Resolve looks up a condition field's value on this action. v1 supports
// only the "capability.params.<key>" field prefix; any other prefix, or a
// missing key, resolves to (\"\", false) — a condition over a field that
// does not resolve never matches.
func (a Action) Resolve(field string) (string, bool) {
	const prefix = "capability.params."
	if len(field) <= len(prefix) || field[:len(prefix)] != prefix {
		return "", false
	}
	key := field[len(prefix):]
	v, ok := a.Params[key]
	return v, ok
}
