// Package snapshot implements the Rule Snapshot builder (spec.md §4.3): the
// single deterministic assembly point that turns a project's enabled
// manifests, capability kinds, compiled restrictions, and resource
// configuration into the hashed RS that every downstream decision is made
// against. Ordering rules here exist to satisfy Invariant I4 — snapshot
// determinism under reordering of equivalent inputs.
package snapshot

import (
	"sort"

	"github.com/CustodyZero/archon/pkg/canonicalize"
	"github.com/CustodyZero/archon/pkg/dsl"
	"github.com/CustodyZero/archon/pkg/manifest"
	"github.com/CustodyZero/archon/pkg/taxonomy"
)

// RuleSnapshot is the RS of spec.md §3: the full, immutable policy state a
// project's Execution Gate evaluates every action against.
type RuleSnapshot struct {
	ProjectID           string                `json:"project_id"`
	CCMEnabled          []manifest.Module     `json:"ccm_enabled"`
	EnabledCapabilities []taxonomy.Kind       `json:"enabled_capabilities"`
	DRRCanonical        []dsl.CompiledDRR     `json:"drr_canonical"`
	ResourceConfig      ResourceConfig        `json:"resource_config"`
	EngineVersion       string                `json:"engine_version"`
	ConfigHash          string                `json:"config_hash"`
	ConstructedAt       string                `json:"constructed_at"`
	AckEpoch            uint64                `json:"ack_epoch"`
}

// Clock returns the current time as an ISO-8601 string; injected so tests
// can pin constructed_at without affecting RS_hash determinism checks.
type Clock func() string

// Build assembles a RuleSnapshot from unsorted inputs, applying the
// canonical ordering of spec.md §4.3 steps 1-5. It does not hash — call Hash
// on the result to obtain RS_hash. Build never mutates its inputs.
func Build(
	projectID string,
	modules []manifest.Module,
	capabilities []taxonomy.Kind,
	drrs []dsl.CompiledDRR,
	resourceConfig ResourceConfig,
	engineVersion string,
	configHash string,
	now Clock,
	ackEpoch uint64,
) RuleSnapshot {
	mods := make([]manifest.Module, len(modules))
	copy(mods, modules)
	sort.Slice(mods, func(i, j int) bool { return mods[i].ModuleID < mods[j].ModuleID })

	caps := make([]taxonomy.Kind, len(capabilities))
	copy(caps, capabilities)
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })

	rules := make([]dsl.CompiledDRR, len(drrs))
	copy(rules, drrs)
	sort.Slice(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.CapabilityKind != b.CapabilityKind {
			return a.CapabilityKind < b.CapabilityKind
		}
		if a.Effect != b.Effect {
			return a.Effect < b.Effect
		}
		if a.IRHash != b.IRHash {
			return a.IRHash < b.IRHash
		}
		return a.ID < b.ID
	})

	return RuleSnapshot{
		ProjectID:           projectID,
		CCMEnabled:          mods,
		EnabledCapabilities: caps,
		DRRCanonical:        rules,
		ResourceConfig:      canonicalCopy(resourceConfig),
		EngineVersion:       engineVersion,
		ConfigHash:          configHash,
		ConstructedAt:       now(),
		AckEpoch:            ackEpoch,
	}
}

// Hash computes RS_hash — the sole authorized path. Callers must not
// construct canonicalize.Hash values for an RS any other way.
func Hash(rs RuleSnapshot) (canonicalize.Hash, error) {
	digest, err := canonicalize.CanonicalHash(rs)
	if err != nil {
		return "", err
	}
	return canonicalize.Brand(digest), nil
}
