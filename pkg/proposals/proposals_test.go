package proposals

import (
	"testing"
	"time"

	"github.com/CustodyZero/archon/pkg/dsl"
	"github.com/CustodyZero/archon/pkg/manifest"
	"github.com/CustodyZero/archon/pkg/project"
	"github.com/CustodyZero/archon/pkg/registry"
	"github.com/CustodyZero/archon/pkg/secrets"
	"github.com/CustodyZero/archon/pkg/snapshot"
	"github.com/CustodyZero/archon/pkg/taxonomy"
	"github.com/stretchr/testify/require"
)

var (
	operator = Actor{Kind: ActorHuman, ID: "operator-a"}
	agent    = Actor{Kind: ActorAgent, ID: "agent-7"}
)

type fixture struct {
	q       *Queue
	modules *registry.ModuleRegistry
	caps    *registry.CapabilityRegistry
	ack     *registry.AckRegistry
}

func testQueue(t *testing.T) fixture {
	t.Helper()
	clock := func() time.Time { return time.Unix(0, 0).UTC() }
	mods := registry.NewModuleRegistry(nil)
	caps := registry.NewCapabilityRegistry(mods, nil)
	ack := registry.NewAckRegistry(nil, clock)
	restr := registry.NewRestrictionRegistry(nil)
	rc := registry.NewResourceConfigRegistry(nil)

	buildRS := func(projectID string) (snapshot.RuleSnapshot, error) {
		cfg, err := rc.Get(projectID)
		if err != nil {
			cfg = snapshot.ResourceConfig{}
		}
		return snapshot.Build(projectID, mods.ListEnabled(projectID), caps.EnabledKinds(projectID),
			restr.List(projectID), cfg, "v1-test", "cfg", func() string { return "fixed" },
			ack.Epoch(projectID)), nil
	}

	q := New(mods, caps, ack, restr, rc, Options{BuildSnapshot: buildRS, Clock: clock})
	return fixture{q: q, modules: mods, caps: caps, ack: ack}
}

// registerEnabledModule installs a module and enables it so its declared
// kinds pass the capability registry's declaration check.
func registerEnabledModule(t *testing.T, f fixture, mod manifest.Module) {
	t.Helper()
	require.NoError(t, f.modules.Register("proj-1", mod))
	require.NoError(t, f.modules.Enable("proj-1", mod.ModuleID, true))
}

func fsModule(t *testing.T, descs ...manifest.CapabilityDescriptor) manifest.Module {
	t.Helper()
	return manifest.Module{ModuleID: "fs", Version: "1.0.0", Capabilities: descs}
}

func TestProposals_EnableCapability_NoAckRequired(t *testing.T) {
	f := testQueue(t)
	desc, err := manifest.NewCapabilityDescriptor("fs", "cap-read", taxonomy.FSRead, "", false)
	require.NoError(t, err)
	registerEnabledModule(t, f, fsModule(t, desc))

	p, err := f.q.Create("proj-1", Change{Kind: EnableCapability, Descriptor: &desc}, operator)
	require.NoError(t, err)
	require.False(t, p.Preview.RequiresTypedAck)
	require.Contains(t, p.Preview.Summary, "enable capability fs:cap-read")

	resolved, err := f.q.Approve(p.ID, ApproveOptions{}, operator)
	require.NoError(t, err)
	require.Equal(t, Applied, resolved.Status)
	require.NotEmpty(t, resolved.RSHashAfter)
	require.NotNil(t, resolved.ApprovedAt)
	require.NotNil(t, resolved.AppliedAt)
	require.True(t, f.caps.IsEnabled("proj-1", "fs", "cap-read"))
}

func TestProposals_EnableCapability_RequiresTypedAck(t *testing.T) {
	f := testQueue(t)
	desc, err := manifest.NewCapabilityDescriptor("fs", "cap-delete", taxonomy.FSDelete, "", true)
	require.NoError(t, err)
	registerEnabledModule(t, f, fsModule(t, desc))

	p, err := f.q.Create("proj-1", Change{Kind: EnableCapability, Descriptor: &desc}, operator)
	require.NoError(t, err)
	require.True(t, p.Preview.RequiresTypedAck)
	require.Equal(t, "I ACCEPT T3 RISK (fs.delete)", p.Preview.RequiredAckPhrase)

	// Wrong phrase: recoverable refusal, proposal stays pending.
	_, err = f.q.Approve(p.ID, ApproveOptions{TypedAckPhrase: "i accept"}, operator)
	require.ErrorIs(t, err, ErrAckPhraseMismatch)
	got, err := f.q.Get(p.ID)
	require.NoError(t, err)
	require.Equal(t, Pending, got.Status)

	epochBefore := f.ack.Epoch("proj-1")
	resolved, err := f.q.Approve(p.ID, ApproveOptions{TypedAckPhrase: p.Preview.RequiredAckPhrase}, operator)
	require.NoError(t, err)
	require.Equal(t, Applied, resolved.Status)
	require.Equal(t, epochBefore+1, f.ack.Epoch("proj-1"))
	require.True(t, f.caps.IsEnabled("proj-1", "fs", "cap-delete"))
	require.True(t, f.ack.HasAccepted("proj-1", taxonomy.FSDelete))

	// The ack event's rs_hash_after was patched with the post-apply hash.
	acks := f.ack.Acks("proj-1")
	require.Len(t, acks, 1)
	require.NotNil(t, acks[0].RSHashAfter)
	require.Equal(t, resolved.RSHashAfter, *acks[0].RSHashAfter)
}

func TestProposals_NonHumanApproverRefused(t *testing.T) {
	f := testQueue(t)
	desc, err := manifest.NewCapabilityDescriptor("fs", "cap-read", taxonomy.FSRead, "", false)
	require.NoError(t, err)
	registerEnabledModule(t, f, fsModule(t, desc))

	p, err := f.q.Create("proj-1", Change{Kind: EnableCapability, Descriptor: &desc}, agent)
	require.NoError(t, err)

	_, err = f.q.Approve(p.ID, ApproveOptions{}, agent)
	require.ErrorIs(t, err, ErrNonHumanApprover)
	got, err := f.q.Get(p.ID)
	require.NoError(t, err)
	require.Equal(t, Pending, got.Status)

	// CLI approvers are acceptable.
	resolved, err := f.q.Approve(p.ID, ApproveOptions{}, Actor{Kind: ActorCLI, ID: "cli"})
	require.NoError(t, err)
	require.Equal(t, Applied, resolved.Status)
}

func TestProposals_HazardPairRequiresConfirmation(t *testing.T) {
	f := testQueue(t)

	pair := manifest.HazardPair{A: taxonomy.FSRead, B: taxonomy.NetFetchHTTP}
	readDesc, err := manifest.NewCapabilityDescriptor("fs", "cap-read", taxonomy.FSRead, "", false)
	require.NoError(t, err)
	netDesc, err := manifest.NewCapabilityDescriptor("net", "cap-fetch", taxonomy.NetFetchHTTP, "", false, pair)
	require.NoError(t, err)

	registerEnabledModule(t, f, fsModule(t, readDesc))
	netMod := manifest.Module{ModuleID: "net", Version: "1.0.0", Capabilities: []manifest.CapabilityDescriptor{netDesc}}
	require.NoError(t, f.modules.Register("proj-1", netMod))
	require.NoError(t, f.modules.Enable("proj-1", "net", true))
	require.NoError(t, f.caps.Enable("proj-1", readDesc, false))

	p, err := f.q.Create("proj-1", Change{Kind: EnableCapability, Descriptor: &netDesc}, operator)
	require.NoError(t, err)
	require.True(t, p.Preview.RequiresHazardConfirm)
	require.Len(t, p.Preview.HazardsTriggered, 1)

	_, err = f.q.Approve(p.ID, ApproveOptions{}, operator)
	require.ErrorIs(t, err, ErrMissingHazardConfirm)

	epochBefore := f.ack.Epoch("proj-1")
	resolved, err := f.q.Approve(p.ID, ApproveOptions{HazardConfirmedPairs: []manifest.HazardPair{pair}}, operator)
	require.NoError(t, err)
	require.Equal(t, Applied, resolved.Status)
	require.Equal(t, epochBefore+1, f.ack.Epoch("proj-1"))
	require.True(t, f.ack.HasConfirmedHazard("proj-1", taxonomy.FSRead, taxonomy.NetFetchHTTP))
}

func TestProposals_Reject(t *testing.T) {
	f := testQueue(t)
	desc, err := manifest.NewCapabilityDescriptor("fs", "cap-read", taxonomy.FSRead, "", false)
	require.NoError(t, err)
	registerEnabledModule(t, f, fsModule(t, desc))

	p, err := f.q.Create("proj-1", Change{Kind: EnableCapability, Descriptor: &desc}, operator)
	require.NoError(t, err)

	_, err = f.q.Reject(p.ID, agent, "agents cannot reject either")
	require.ErrorIs(t, err, ErrNonHumanApprover)

	resolved, err := f.q.Reject(p.ID, Actor{Kind: ActorHuman, ID: "operator-b"}, "not needed")
	require.NoError(t, err)
	require.Equal(t, Rejected, resolved.Status)
	require.False(t, f.caps.IsEnabled("proj-1", "fs", "cap-read"))
}

func TestProposals_ApproveNonPending_Fails(t *testing.T) {
	f := testQueue(t)
	desc, err := manifest.NewCapabilityDescriptor("fs", "cap-read", taxonomy.FSRead, "", false)
	require.NoError(t, err)
	registerEnabledModule(t, f, fsModule(t, desc))

	p, err := f.q.Create("proj-1", Change{Kind: EnableCapability, Descriptor: &desc}, operator)
	require.NoError(t, err)
	_, err = f.q.Reject(p.ID, operator, "no")
	require.NoError(t, err)

	_, err = f.q.Approve(p.ID, ApproveOptions{}, operator)
	require.ErrorIs(t, err, ErrNotPending)
}

func TestProposals_DisableCapability(t *testing.T) {
	f := testQueue(t)
	desc, err := manifest.NewCapabilityDescriptor("fs", "cap-read", taxonomy.FSRead, "", false)
	require.NoError(t, err)
	registerEnabledModule(t, f, fsModule(t, desc))
	require.NoError(t, f.caps.Enable("proj-1", desc, false))

	p, err := f.q.Create("proj-1", Change{Kind: DisableCapability, ModuleID: "fs", CapabilityID: "cap-read"}, operator)
	require.NoError(t, err)
	resolved, err := f.q.Approve(p.ID, ApproveOptions{}, operator)
	require.NoError(t, err)
	require.Equal(t, Applied, resolved.Status)
	require.False(t, f.caps.IsEnabled("proj-1", "fs", "cap-read"))
}

func TestProposals_EnableDisableModule(t *testing.T) {
	f := testQueue(t)
	mod := fsModule(t)
	require.NoError(t, f.modules.Register("proj-1", mod))

	p, err := f.q.Create("proj-1", Change{Kind: EnableModule, ModuleID: "fs"}, operator)
	require.NoError(t, err)
	_, err = f.q.Approve(p.ID, ApproveOptions{}, operator)
	require.NoError(t, err)
	status, err := f.modules.Status("proj-1", "fs")
	require.NoError(t, err)
	require.Equal(t, registry.StatusEnabled, status)

	p, err = f.q.Create("proj-1", Change{Kind: DisableModule, ModuleID: "fs"}, operator)
	require.NoError(t, err)
	_, err = f.q.Approve(p.ID, ApproveOptions{}, operator)
	require.NoError(t, err)
	status, err = f.modules.Status("proj-1", "fs")
	require.NoError(t, err)
	require.Equal(t, registry.StatusDisabled, status)
}

func TestProposals_SetRestrictions_ReplacesWholeSet(t *testing.T) {
	f := testQueue(t)
	r1, err := dsl.CompileStructured(dsl.Rule{
		ID: "r1", CapabilityKind: taxonomy.FSRead, Effect: dsl.Allow,
		Conditions: []dsl.Condition{{Field: "capability.params.path", Op: dsl.Matches, Value: "./docs/**"}},
	})
	require.NoError(t, err)

	p, err := f.q.Create("proj-1", Change{Kind: SetRestrictions, Restrictions: []dsl.CompiledDRR{r1}}, operator)
	require.NoError(t, err)
	resolved, err := f.q.Approve(p.ID, ApproveOptions{}, operator)
	require.NoError(t, err)
	require.Equal(t, Applied, resolved.Status)
}

func TestProposals_FailedApplyKeepsPartialState(t *testing.T) {
	f := testQueue(t)
	// Enabling a T3 capability no enabled module declares fails inside apply
	// after the typed ack was recorded: the proposal transitions to Failed,
	// not back to Pending, and the recorded ack is not rolled back.
	desc, err := manifest.NewCapabilityDescriptor("ghost", "cap-delete", taxonomy.FSDelete, "", true)
	require.NoError(t, err)

	p, err := f.q.Create("proj-1", Change{Kind: EnableCapability, Descriptor: &desc}, operator)
	require.NoError(t, err)
	_, err = f.q.Approve(p.ID, ApproveOptions{TypedAckPhrase: p.Preview.RequiredAckPhrase}, operator)
	require.Error(t, err)

	got, err := f.q.Get(p.ID)
	require.NoError(t, err)
	require.Equal(t, Failed, got.Status)
	require.NotEmpty(t, got.FailureReason)
	require.True(t, f.ack.HasAccepted("proj-1", taxonomy.FSDelete))
	require.Equal(t, uint64(1), f.ack.Epoch("proj-1"))
}

func TestProposals_EnableModuleInstallsIntrinsicRestrictions(t *testing.T) {
	f := testQueue(t)
	desc, err := manifest.NewCapabilityDescriptor("fs", "cap-read", taxonomy.FSRead, "", false)
	require.NoError(t, err)
	mod := manifest.Module{
		ModuleID: "fs", Version: "1.0.0",
		Capabilities:          []manifest.CapabilityDescriptor{desc},
		IntrinsicRestrictions: []string{`deny fs.read where capability.params.path matches "./.git/**"`},
	}
	require.NoError(t, f.modules.Register("proj-1", mod))

	p, err := f.q.Create("proj-1", Change{Kind: EnableModule, ModuleID: "fs"}, operator)
	require.NoError(t, err)
	resolved, err := f.q.Approve(p.ID, ApproveOptions{}, operator)
	require.NoError(t, err)
	require.Equal(t, Applied, resolved.Status)

	got, err := f.q.Get(p.ID)
	require.NoError(t, err)
	require.Equal(t, Applied, got.Status)
}

func TestProposals_SetSecretAndSetSecretMode(t *testing.T) {
	clock := func() time.Time { return time.Unix(0, 0).UTC() }
	mods := registry.NewModuleRegistry(nil)
	caps := registry.NewCapabilityRegistry(mods, nil)
	ack := registry.NewAckRegistry(nil, clock)
	restr := registry.NewRestrictionRegistry(nil)
	rc := registry.NewResourceConfigRegistry(nil)

	home := t.TempDir()
	stio, err := project.NewFileStateIO(t.TempDir())
	require.NoError(t, err)

	q := New(mods, caps, ack, restr, rc, Options{
		Clock: clock,
		Secrets: func(projectID, passphrase string) (SecretStore, error) {
			store, err := secrets.Open(stio, "state/secrets.enc.json", home, passphrase)
			if err != nil {
				return nil, err
			}
			return store, nil
		},
		SetSecretMode: func(projectID, mode, passphrase string) error {
			return secrets.SetMode(stio, "state/secrets.enc.json", home, mode, passphrase)
		},
	})

	// set_secret through the queue, device mode.
	p, err := q.Create("proj-1", Change{Kind: SetSecret, SecretName: "api-key", SecretValue: "sk-secret"}, operator)
	require.NoError(t, err)
	resolved, err := q.Approve(p.ID, ApproveOptions{}, operator)
	require.NoError(t, err)
	require.Equal(t, Applied, resolved.Status)

	cfg, err := rc.Get("proj-1")
	require.NoError(t, err)
	require.Equal(t, uint64(1), cfg.SecretsEpoch)

	// set_secret_mode to portable re-keys the stored entry.
	p, err = q.Create("proj-1", Change{Kind: SetSecretMode, SecretMode: secrets.ModePortable, SecretPassphrase: "open sesame"}, operator)
	require.NoError(t, err)
	resolved, err = q.Approve(p.ID, ApproveOptions{}, operator)
	require.NoError(t, err)
	require.Equal(t, Applied, resolved.Status)

	store, err := secrets.Open(stio, "state/secrets.enc.json", home, "open sesame")
	require.NoError(t, err)
	require.Equal(t, secrets.ModePortable, store.Mode())
	got, err := store.Get("api-key")
	require.NoError(t, err)
	require.Equal(t, "sk-secret", got)

	// delete_secret in portable mode needs the passphrase on the change.
	p, err = q.Create("proj-1", Change{Kind: DeleteSecret, SecretName: "api-key", SecretPassphrase: "open sesame"}, operator)
	require.NoError(t, err)
	resolved, err = q.Approve(p.ID, ApproveOptions{}, operator)
	require.NoError(t, err)
	require.Equal(t, Applied, resolved.Status)
	_, err = store.Get("api-key")
	require.ErrorIs(t, err, secrets.ErrNotFound)

	cfg, err = rc.Get("proj-1")
	require.NoError(t, err)
	require.Equal(t, uint64(3), cfg.SecretsEpoch, "each secret change bumps the epoch")
}

func TestProposals_SetModuleCanary(t *testing.T) {
	f := testQueue(t)
	stable := fsModule(t)
	require.NoError(t, f.modules.Register("proj-1", stable))

	canary := manifest.Module{ModuleID: "fs", Version: "2.0.0"}
	p, err := f.q.Create("proj-1", Change{Kind: SetModuleCanary, CanaryModule: &canary, CanaryPercent: 100}, operator)
	require.NoError(t, err)
	require.Contains(t, p.Preview.Summary, "stage canary fs 2.0.0 at 100%")

	resolved, err := f.q.Approve(p.ID, ApproveOptions{}, operator)
	require.NoError(t, err)
	require.Equal(t, Applied, resolved.Status)

	got, err := f.modules.GetForAgent("proj-1", "fs", "agent-a")
	require.NoError(t, err)
	require.Equal(t, "2.0.0", got.Version)
}
