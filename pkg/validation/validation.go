// Package validation implements the Validation Engine (spec.md §4.5): the
// ordered, short-circuiting pipeline the Execution Gate runs every action
// through before a DRR is ever consulted. Steps run in a fixed order and the
// first failing step denies with a fixed, machine-stable rule id — the DRR
// evaluator (pkg/evaluator) only ever runs once every earlier step passes.
package validation

import (
	"encoding/json"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/CustodyZero/archon/pkg/action"
	"github.com/CustodyZero/archon/pkg/evaluator"
	"github.com/CustodyZero/archon/pkg/manifest"
	"github.com/CustodyZero/archon/pkg/snapshot"
	"github.com/CustodyZero/archon/pkg/taxonomy"
)

// hostFolder lowercases hostnames for the case-insensitive allowlist match.
// Hostnames are ASCII-dominant but may carry IDN labels; a Unicode-aware
// caser handles both the same way on every platform.
var hostFolder = cases.Lower(language.Und)

// Result mirrors evaluator.Result: the two share a decision vocabulary so an
// Execution Gate can treat either source of a deny identically.
type Result struct {
	Decision       evaluator.Decision
	TriggeredRules []string
}

func deny(ruleID string) Result {
	return Result{Decision: evaluator.Deny, TriggeredRules: []string{ruleID}}
}

// Evaluate runs the validation pipeline for act against rs, delegating to
// the DRR evaluator only once every structural pre-check has passed.
func Evaluate(act action.Action, rs snapshot.RuleSnapshot) (Result, error) {
	// 1. Project isolation (P4).
	if act.ProjectID != rs.ProjectID {
		return deny("project_mismatch"), nil
	}

	// 2. Taxonomy soundness (I7).
	if !taxonomy.Sound(act.CapabilityKind) {
		return deny("unsound_capability_kind"), nil
	}

	// 3. Capability containment, capability level (I1).
	if !containsKind(rs.EnabledCapabilities, act.CapabilityKind) {
		return deny("capability_not_enabled"), nil
	}

	// 4. Capability containment, module level (I1): the action's module must
	// be enabled and must actually declare the capability it invokes. When
	// the declaring descriptor carries a params schema, the action's params
	// must satisfy it.
	desc, ok := declaringDescriptor(rs.CCMEnabled, act)
	if !ok {
		return deny("module_not_enabled"), nil
	}
	if desc.ParamsSchema != "" {
		if err := validateParams(desc.ParamsSchema, act.Params); err != nil {
			return deny("params_schema_violation"), nil
		}
	}

	// 5. Resource config pre-checks, by capability family.
	if res := checkResourceConfig(act, rs.ResourceConfig); res != nil {
		return *res, nil
	}

	// 6. DRR evaluation.
	evalResult, err := evaluator.Evaluate(act, rs.DRRCanonical)
	if err != nil {
		return Result{}, err
	}

	// 7. Default permit falls out of the evaluator when no rule triggers.
	return Result{Decision: evalResult.Decision, TriggeredRules: evalResult.TriggeredRules}, nil
}

func containsKind(kinds []taxonomy.Kind, want taxonomy.Kind) bool {
	for _, k := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

func declaringDescriptor(modules []manifest.Module, act action.Action) (manifest.CapabilityDescriptor, bool) {
	for _, m := range modules {
		if m.ModuleID != act.ModuleID {
			continue
		}
		for _, d := range m.Capabilities {
			if d.CapabilityID == act.CapabilityID && d.Kind == act.CapabilityKind {
				return d, true
			}
		}
	}
	return manifest.CapabilityDescriptor{}, false
}

// validateParams checks the action's string params against the descriptor's
// declared JSON Schema. The params map marshals to a flat JSON object of
// string values, which is exactly the instance shape descriptors constrain.
func validateParams(schemaText string, params map[string]string) error {
	sch, err := jsonschema.CompileString("params_schema.json", schemaText)
	if err != nil {
		return err
	}
	instance := make(map[string]any, len(params))
	for k, v := range params {
		instance[k] = v
	}
	// Round-trip through encoding/json so the validator sees the same value
	// types a decoded JSON document would carry.
	raw, err := json.Marshal(instance)
	if err != nil {
		return err
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	return sch.Validate(decoded)
}

func checkResourceConfig(act action.Action, rc snapshot.ResourceConfig) *Result {
	switch {
	case taxonomy.IsFSFamily(act.CapabilityKind):
		return checkFS(act, rc)
	case taxonomy.IsNetFamily(act.CapabilityKind):
		return checkNet(act, rc)
	case taxonomy.IsExecFamily(act.CapabilityKind):
		return checkExec(rc)
	default:
		return nil
	}
}

func checkFS(act action.Action, rc snapshot.ResourceConfig) *Result {
	// No declared roots means the fs boundary is not configured for this
	// project; the DRR layer is then the only fs restriction in force.
	if len(rc.FSRoots) == 0 {
		return nil
	}
	path, ok := act.Params["path"]
	if !ok || path == "" {
		r := deny("fs_path_missing")
		return &r
	}
	root, ok := containingRoot(rc, path)
	if !ok {
		r := deny("fs_path_outside_roots")
		return &r
	}
	if taxonomy.IsWriteFamily(act.CapabilityKind) && root.Perm != snapshot.PermRW {
		r := deny("fs_write_to_readonly_root")
		return &r
	}
	return nil
}

// containingRoot finds an fs root the normalized path is logically within:
// equal to the root, or sharing it as a "/"-terminated prefix. When several
// roots contain the path, an rw root wins over an ro one so an overlapping
// read-only mirror never blocks a legitimate write.
func containingRoot(rc snapshot.ResourceConfig, path string) (snapshot.FSRoot, bool) {
	clean := filepath.Clean(path)
	var found snapshot.FSRoot
	var ok bool
	for _, root := range rc.FSRoots {
		rootClean := filepath.Clean(root.AbsPath)
		if clean == rootClean || strings.HasPrefix(clean, rootClean+string(filepath.Separator)) {
			if !ok || (found.Perm != snapshot.PermRW && root.Perm == snapshot.PermRW) {
				found = root
				ok = true
			}
		}
	}
	return found, ok
}

func checkNet(act action.Action, rc snapshot.ResourceConfig) *Result {
	if len(rc.NetAllowlist) == 0 {
		r := deny("net_no_allowlist")
		return &r
	}

	var host string
	if raw, ok := act.Params["url"]; ok {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Hostname() == "" {
			r := deny("net_invalid_url")
			return &r
		}
		host = parsed.Hostname()
	} else if h, ok := act.Params["host"]; ok && h != "" {
		host = h
	} else {
		r := deny("net_host_missing")
		return &r
	}

	if !hostAllowed(host, rc.NetAllowlist) {
		r := deny("net_host_not_allowlisted")
		return &r
	}
	return nil
}

// hostAllowed matches host against an allowlist entry either exactly
// (case-insensitive) or, for a "*.domain" entry, as a strict subdomain of
// domain — "*.example.com" matches "api.example.com" but never
// "example.com" itself.
func hostAllowed(host string, allowlist []string) bool {
	host = hostFolder.String(host)
	for _, entry := range allowlist {
		entry = hostFolder.String(entry)
		if strings.HasPrefix(entry, "*.") {
			suffix := entry[1:] // ".domain"
			if strings.HasSuffix(host, suffix) && host != suffix[1:] {
				return true
			}
			continue
		}
		if host == entry {
			return true
		}
	}
	return false
}

func checkExec(rc snapshot.ResourceConfig) *Result {
	if rc.ExecCwdRootID != nil {
		for _, root := range rc.FSRoots {
			if root.ID == *rc.ExecCwdRootID {
				return nil
			}
		}
		r := deny("exec_cwd_root_not_found")
		return &r
	}
	// No explicit cwd root: fine when no roots are declared at all, but a
	// configured fs boundary requires the conventional "workspace" root.
	if len(rc.FSRoots) == 0 {
		return nil
	}
	for _, root := range rc.FSRoots {
		if root.ID == "workspace" {
			return nil
		}
	}
	r := deny("exec_no_cwd_configured")
	return &r
}
