// Property-based tests for the deny-by-default (I1), taxonomy soundness
// (I7), and restriction monotonicity (I2) invariants.
package validation

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/CustodyZero/archon/pkg/action"
	"github.com/CustodyZero/archon/pkg/dsl"
	"github.com/CustodyZero/archon/pkg/evaluator"
	"github.com/CustodyZero/archon/pkg/manifest"
	"github.com/CustodyZero/archon/pkg/snapshot"
	"github.com/CustodyZero/archon/pkg/taxonomy"
)

func propClock() string { return "2026-01-01T00:00:00Z" }

// I1: with enabled_capabilities empty, every action is denied, whatever its
// kind or params.
func TestDenyByDefaultProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	emptyRS := snapshot.Build("proj-1", nil, nil, nil, snapshot.ResourceConfig{}, "v1", "cfg", propClock, 0)
	kinds := taxonomy.Kinds()

	properties.Property("empty capability set denies everything", prop.ForAll(
		func(kindIdx int8, moduleID, capabilityID, path string) bool {
			kind := kinds[int(uint8(kindIdx))%len(kinds)]
			act := action.Action{
				ProjectID:      "proj-1",
				ModuleID:       moduleID,
				CapabilityID:   capabilityID,
				CapabilityKind: kind,
				Params:         map[string]string{"path": path},
			}
			res, err := Evaluate(act, emptyRS)
			return err == nil && res.Decision == evaluator.Deny
		},
		gen.Int8(),
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// I7: any kind outside the closed taxonomy is denied even when the rest of
// the snapshot would otherwise permit.
func TestTaxonomySoundnessProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	desc, err := manifest.NewCapabilityDescriptor("fs", "cap-read", taxonomy.FSRead, "", false)
	if err != nil {
		t.Fatal(err)
	}
	mod := manifest.Module{ModuleID: "fs", Version: "1.0.0", Capabilities: []manifest.CapabilityDescriptor{desc}}
	rs := snapshot.Build("proj-1", []manifest.Module{mod}, []taxonomy.Kind{taxonomy.FSRead}, nil, snapshot.ResourceConfig{}, "v1", "cfg", propClock, 0)

	properties.Property("unsound kinds always deny", prop.ForAll(
		func(raw string) bool {
			kind := taxonomy.Kind("x." + raw)
			if taxonomy.Sound(kind) {
				return true
			}
			act := action.Action{
				ProjectID:      "proj-1",
				ModuleID:       "fs",
				CapabilityID:   "cap-read",
				CapabilityKind: kind,
				Params:         map[string]string{"path": "/tmp/a"},
			}
			res, err := Evaluate(act, rs)
			return err == nil && res.Decision == evaluator.Deny
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// I2: adding a condition to an allow rule can only shrink the permitted
// set — an action permitted by the narrower snapshot is permitted by the
// broader one.
func TestRestrictionMonotonicityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	desc, err := manifest.NewCapabilityDescriptor("fs", "cap-read", taxonomy.FSRead, "", false)
	if err != nil {
		t.Fatal(err)
	}
	mod := manifest.Module{ModuleID: "fs", Version: "1.0.0", Capabilities: []manifest.CapabilityDescriptor{desc}}

	broadRule, err := dsl.CompileStructured(dsl.Rule{
		ID: "broad", CapabilityKind: taxonomy.FSRead, Effect: dsl.Allow,
		Conditions: []dsl.Condition{
			{Field: "capability.params.path", Op: dsl.Matches, Value: "docs/**"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	narrowRule, err := dsl.CompileStructured(dsl.Rule{
		ID: "narrow", CapabilityKind: taxonomy.FSRead, Effect: dsl.Allow,
		Conditions: []dsl.Condition{
			{Field: "capability.params.path", Op: dsl.Matches, Value: "docs/**"},
			{Field: "capability.params.tag", Op: dsl.Matches, Value: "public*"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	broader := snapshot.Build("proj-1", []manifest.Module{mod}, []taxonomy.Kind{taxonomy.FSRead},
		[]dsl.CompiledDRR{broadRule}, snapshot.ResourceConfig{}, "v1", "cfg", propClock, 0)
	narrower := snapshot.Build("proj-1", []manifest.Module{mod}, []taxonomy.Kind{taxonomy.FSRead},
		[]dsl.CompiledDRR{narrowRule}, snapshot.ResourceConfig{}, "v1", "cfg", propClock, 0)

	properties.Property("narrower permits imply broader permits", prop.ForAll(
		func(path, tag string) bool {
			act := action.Action{
				ProjectID:      "proj-1",
				ModuleID:       "fs",
				CapabilityID:   "cap-read",
				CapabilityKind: taxonomy.FSRead,
				Params:         map[string]string{"path": path, "tag": tag},
			}
			narrowRes, err := Evaluate(act, narrower)
			if err != nil {
				return false
			}
			if narrowRes.Decision != evaluator.Permit {
				return true
			}
			broadRes, err := Evaluate(act, broader)
			return err == nil && broadRes.Decision == evaluator.Permit
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
