package registry

import (
	"testing"

	"github.com/CustodyZero/archon/pkg/dsl"
	"github.com/CustodyZero/archon/pkg/manifest"
	"github.com/CustodyZero/archon/pkg/snapshot"
	"github.com/CustodyZero/archon/pkg/taxonomy"
	"github.com/stretchr/testify/require"
)

func TestModuleRegistry_RegisterInsertsDisabled(t *testing.T) {
	reg := NewModuleRegistry(nil)
	mod := manifest.Module{ModuleID: "fs", Version: "1.0.0"}
	require.NoError(t, reg.Register("proj-1", mod))

	status, err := reg.Status("proj-1", "fs")
	require.NoError(t, err)
	require.Equal(t, StatusDisabled, status)
	require.Empty(t, reg.ListEnabled("proj-1"))
	require.Len(t, reg.List("proj-1"), 1)
}

func TestModuleRegistry_DuplicateRegisterRefused(t *testing.T) {
	reg := NewModuleRegistry(nil)
	mod := manifest.Module{ModuleID: "fs", Version: "1.0.0"}
	require.NoError(t, reg.Register("proj-1", mod))
	err := reg.Register("proj-1", mod)
	require.ErrorIs(t, err, ErrDuplicateModule)
}

func TestModuleRegistry_InvalidManifestRejected(t *testing.T) {
	reg := NewModuleRegistry(nil)
	bad := manifest.Module{ModuleID: "fs", Version: "not-semver"}
	require.Error(t, reg.Register("proj-1", bad))

	status, err := reg.Status("proj-1", "fs")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, status)
	require.Error(t, reg.Enable("proj-1", "fs", true))
}

func TestModuleRegistry_EnableDisable(t *testing.T) {
	reg := NewModuleRegistry(nil)
	require.NoError(t, reg.Register("proj-1", manifest.Module{ModuleID: "fs", Version: "1.0.0"}))

	require.ErrorIs(t, reg.Enable("proj-1", "fs", false), ErrConfirmationNeeded)
	require.NoError(t, reg.Enable("proj-1", "fs", true))
	require.Len(t, reg.ListEnabled("proj-1"), 1)

	require.NoError(t, reg.Disable("proj-1", "fs", true))
	require.Empty(t, reg.ListEnabled("proj-1"))
}

func TestModuleRegistry_CanaryRolloutBucketing(t *testing.T) {
	reg := NewModuleRegistry(nil)
	stable := manifest.Module{ModuleID: "fs", Version: "1.0.0"}
	canary := manifest.Module{ModuleID: "fs", Version: "2.0.0"}
	require.NoError(t, reg.Register("proj-1", stable))
	require.NoError(t, reg.SetRollout("proj-1", canary, 100))

	got, err := reg.GetForAgent("proj-1", "fs", "agent-a")
	require.NoError(t, err)
	require.Equal(t, "2.0.0", got.Version, "100% rollout always resolves to canary")
}

func TestModuleRegistry_Unregister(t *testing.T) {
	reg := NewModuleRegistry(nil)
	require.NoError(t, reg.Register("proj-1", manifest.Module{ModuleID: "fs", Version: "1.0.0"}))
	require.NoError(t, reg.Unregister("proj-1", "fs"))
	_, err := reg.Get("proj-1", "fs")
	require.ErrorIs(t, err, ErrModuleNotFound)
}

// enabledModuleFixture returns a capability registry whose module registry
// has one Enabled module declaring the given descriptors.
func enabledModuleFixture(t *testing.T, descs ...manifest.CapabilityDescriptor) *CapabilityRegistry {
	t.Helper()
	mods := NewModuleRegistry(nil)
	mod := manifest.Module{ModuleID: "fs", Version: "1.0.0", Capabilities: descs}
	require.NoError(t, mods.Register("proj-1", mod))
	require.NoError(t, mods.Enable("proj-1", "fs", true))
	return NewCapabilityRegistry(mods, nil)
}

func TestCapabilityRegistry_EnableRequiresConfirmation(t *testing.T) {
	desc, err := manifest.NewCapabilityDescriptor("fs", "cap-delete", taxonomy.FSDelete, "", true)
	require.NoError(t, err)
	reg := enabledModuleFixture(t, desc)

	err = reg.Enable("proj-1", desc, false)
	require.ErrorIs(t, err, ErrConfirmationRequired)

	require.NoError(t, reg.Enable("proj-1", desc, true))
	require.True(t, reg.IsEnabled("proj-1", "fs", "cap-delete"))
}

func TestCapabilityRegistry_EnableRequiresDeclaration(t *testing.T) {
	readDesc, err := manifest.NewCapabilityDescriptor("fs", "cap-read", taxonomy.FSRead, "", false)
	require.NoError(t, err)
	reg := enabledModuleFixture(t, readDesc)

	// fs.write is declared by no enabled module.
	writeDesc, err := manifest.NewCapabilityDescriptor("fs", "cap-write", taxonomy.FSWrite, "", false)
	require.NoError(t, err)
	err = reg.Enable("proj-1", writeDesc, false)
	require.ErrorIs(t, err, ErrCapabilityNotDeclared)
}

func TestCapabilityRegistry_EnabledKindsDeduplicates(t *testing.T) {
	d1, _ := manifest.NewCapabilityDescriptor("fs", "cap-read-a", taxonomy.FSRead, "", false)
	d2, _ := manifest.NewCapabilityDescriptor("fs", "cap-read-b", taxonomy.FSRead, "", false)
	reg := enabledModuleFixture(t, d1, d2)
	require.NoError(t, reg.Enable("proj-1", d1, false))
	require.NoError(t, reg.Enable("proj-1", d2, false))

	kinds := reg.EnabledKinds("proj-1")
	require.Equal(t, []taxonomy.Kind{taxonomy.FSRead}, kinds)
}

func TestCapabilityRegistry_Disable(t *testing.T) {
	d, _ := manifest.NewCapabilityDescriptor("fs", "cap-read", taxonomy.FSRead, "", false)
	reg := enabledModuleFixture(t, d)
	require.NoError(t, reg.Enable("proj-1", d, false))
	require.NoError(t, reg.Disable("proj-1", "fs", "cap-read"))
	require.False(t, reg.IsEnabled("proj-1", "fs", "cap-read"))
}

func TestRestrictionRegistry_AddRemoveList(t *testing.T) {
	reg := NewRestrictionRegistry(nil)
	drr, err := dsl.CompileStructured(dsl.Rule{
		ID: "r1", CapabilityKind: taxonomy.FSRead, Effect: dsl.Allow,
		Conditions: []dsl.Condition{{Field: "capability.params.path", Op: dsl.Matches, Value: "*"}},
	})
	require.NoError(t, err)

	require.NoError(t, reg.Add("proj-1", drr))
	require.Len(t, reg.List("proj-1"), 1)
	require.NoError(t, reg.Remove("proj-1", "r1"))
	require.Empty(t, reg.List("proj-1"))
}

func TestRestrictionRegistry_SetAllReplaces(t *testing.T) {
	reg := NewRestrictionRegistry(nil)
	r1, err := dsl.CompileStructured(dsl.Rule{
		ID: "r1", CapabilityKind: taxonomy.FSRead, Effect: dsl.Allow,
		Conditions: []dsl.Condition{{Field: "capability.params.path", Op: dsl.Matches, Value: "./a/**"}},
	})
	require.NoError(t, err)
	r2, err := dsl.CompileStructured(dsl.Rule{
		ID: "r2", CapabilityKind: taxonomy.FSRead, Effect: dsl.Deny,
		Conditions: []dsl.Condition{{Field: "capability.params.path", Op: dsl.Matches, Value: "./b/**"}},
	})
	require.NoError(t, err)

	require.NoError(t, reg.Add("proj-1", r1))
	require.NoError(t, reg.SetAll("proj-1", []dsl.CompiledDRR{r2}))
	got := reg.List("proj-1")
	require.Len(t, got, 1)
	require.Equal(t, "r2", got[0].ID)
}

func TestResourceConfigRegistry_SetGet(t *testing.T) {
	reg := NewResourceConfigRegistry(nil)
	_, err := reg.Get("proj-1")
	require.ErrorIs(t, err, ErrResourceConfigNotFound)

	cfg := snapshot.ResourceConfig{NetAllowlist: []string{"example.com"}}
	require.NoError(t, reg.Set("proj-1", cfg))
	got, err := reg.Get("proj-1")
	require.NoError(t, err)
	require.Equal(t, cfg, got)
}

func TestResourceConfigRegistry_PartialSetters(t *testing.T) {
	reg := NewResourceConfigRegistry(nil)
	require.NoError(t, reg.SetFSRoots("proj-1", []snapshot.FSRoot{{ID: "workspace", AbsPath: "/ws", Perm: snapshot.PermRW}}))
	require.NoError(t, reg.SetNetAllowlist("proj-1", []string{"example.com"}))
	rootID := "workspace"
	require.NoError(t, reg.SetExecCwdRootID("proj-1", &rootID))

	got, err := reg.Get("proj-1")
	require.NoError(t, err)
	require.Len(t, got.FSRoots, 1)
	require.Equal(t, []string{"example.com"}, got.NetAllowlist)
	require.Equal(t, "workspace", *got.ExecCwdRootID)
}

func TestResourceConfigRegistry_SecretsEpochMonotonic(t *testing.T) {
	reg := NewResourceConfigRegistry(nil)
	e1, err := reg.IncrementSecretsEpoch("proj-1")
	require.NoError(t, err)
	e2, err := reg.IncrementSecretsEpoch("proj-1")
	require.NoError(t, err)
	require.Equal(t, e1+1, e2)
}

func TestAckRegistry_AcceptValidatesPhrase(t *testing.T) {
	reg := NewAckRegistry(nil, nil)
	_, err := reg.Accept("proj-1", taxonomy.FSDelete, "I ACCEPT T3 RISK (fs.wrong)")
	require.Error(t, err)

	ev, err := reg.Accept("proj-1", taxonomy.FSDelete, ExpectedAckPhrase(taxonomy.FSDelete))
	require.NoError(t, err)
	require.NotEmpty(t, ev.ID)
	require.Nil(t, ev.RSHashAfter)
	require.Equal(t, uint64(1), reg.Epoch("proj-1"))
	require.True(t, reg.HasAccepted("proj-1", taxonomy.FSDelete))
}

func TestAckRegistry_EpochCountsEveryEvent(t *testing.T) {
	reg := NewAckRegistry(nil, nil)
	phrase := ExpectedAckPhrase(taxonomy.SecretsInject)
	_, err := reg.Accept("proj-1", taxonomy.SecretsInject, phrase)
	require.NoError(t, err)
	_, err = reg.Accept("proj-1", taxonomy.SecretsInject, phrase)
	require.NoError(t, err)
	_, err = reg.ConfirmHazard("proj-1", taxonomy.FSRead, taxonomy.NetFetchHTTP)
	require.NoError(t, err)
	require.Equal(t, uint64(3), reg.Epoch("proj-1"))
	require.True(t, reg.HasConfirmedHazard("proj-1", taxonomy.NetFetchHTTP, taxonomy.FSRead))
}

func TestAckRegistry_PatchRSHash(t *testing.T) {
	reg := NewAckRegistry(nil, nil)
	ev, err := reg.Accept("proj-1", taxonomy.FSDelete, ExpectedAckPhrase(taxonomy.FSDelete))
	require.NoError(t, err)

	require.NoError(t, reg.PatchRSHash("proj-1", ev.ID, "abc123"))
	acks := reg.Acks("proj-1")
	require.Len(t, acks, 1)
	require.NotNil(t, acks[0].RSHashAfter)
	require.Equal(t, "abc123", *acks[0].RSHashAfter)

	// Unknown id is a no-op, not an error.
	require.NoError(t, reg.PatchRSHash("proj-1", "missing", "def456"))
}
