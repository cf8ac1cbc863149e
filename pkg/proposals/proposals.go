// Package proposals implements the Proposal Queue (spec.md §4.8): every
// mutation to a project's enabled capabilities, modules, restrictions,
// resource config, or secrets is first proposed, previewed, and then
// explicitly approved or rejected. Adapted from the teacher's
// pkg/escalation/manager.go (CreateIntent/Approve/Deny over a mutex-guarded
// map with a human-approval lifecycle), generalized from a held-effect
// escalation to an arbitrary configuration Change, with the timeout/quorum
// machinery replaced by the typed-acknowledgment and hazard-pair
// confirmation preconditions this queue enforces instead.
package proposals

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CustodyZero/archon/pkg/auditlog"
	"github.com/CustodyZero/archon/pkg/dsl"
	"github.com/CustodyZero/archon/pkg/manifest"
	"github.com/CustodyZero/archon/pkg/registry"
	"github.com/CustodyZero/archon/pkg/snapshot"
	"github.com/CustodyZero/archon/pkg/taxonomy"
)

// ActorKind classifies who originated or resolved a proposal.
type ActorKind string

const (
	ActorHuman ActorKind = "human"
	ActorAgent ActorKind = "agent"
	ActorCLI   ActorKind = "cli"
	ActorUI    ActorKind = "ui"
)

// Actor is a proposal participant: a kind plus an opaque identity.
type Actor struct {
	Kind ActorKind `json:"kind"`
	ID   string    `json:"id"`
}

// CanApprove reports whether this actor kind may approve or reject a
// proposal. Agents can propose but never approve.
func (a Actor) CanApprove() bool {
	switch a.Kind {
	case ActorHuman, ActorCLI, ActorUI:
		return true
	default:
		return false
	}
}

// ChangeKind is the kind of mutation a Proposal carries.
type ChangeKind string

const (
	EnableCapability       ChangeKind = "enable_capability"
	DisableCapability      ChangeKind = "disable_capability"
	EnableModule           ChangeKind = "enable_module"
	DisableModule          ChangeKind = "disable_module"
	SetRestrictions        ChangeKind = "set_restrictions"
	SetProjectFSRoots      ChangeKind = "set_project_fs_roots"
	SetProjectNetAllowlist ChangeKind = "set_project_net_allowlist"
	SetProjectExecRoot     ChangeKind = "set_project_exec_root"
	SetSecret              ChangeKind = "set_secret"
	DeleteSecret           ChangeKind = "delete_secret"
	SetSecretMode          ChangeKind = "set_secret_mode"
	SetModuleCanary        ChangeKind = "set_module_canary"
)

// Change is the proposed mutation — a tagged union over ChangeKind. Only
// the fields relevant to Kind are set.
type Change struct {
	Kind ChangeKind `json:"kind"`

	Descriptor   *manifest.CapabilityDescriptor `json:"descriptor,omitempty"`    // enable_capability
	ModuleID     string                         `json:"module_id,omitempty"`     // disable_capability, enable/disable_module
	CapabilityID string                         `json:"capability_id,omitempty"` // disable_capability

	Restrictions []dsl.CompiledDRR `json:"restrictions,omitempty"` // set_restrictions (whole-set replace)

	FSRoots       []snapshot.FSRoot `json:"fs_roots,omitempty"`         // set_project_fs_roots
	NetAllowlist  []string          `json:"net_allowlist,omitempty"`    // set_project_net_allowlist
	ExecCwdRootID *string           `json:"exec_cwd_root_id,omitempty"` // set_project_exec_root

	SecretName  string `json:"secret_name,omitempty"`  // set_secret, delete_secret
	SecretValue string `json:"secret_value,omitempty"` // set_secret — plaintext, never persisted with the proposal
	SecretMode  string `json:"secret_mode,omitempty"`  // set_secret_mode: "device" or "portable"
	// SecretPassphrase is the portable-mode passphrase: consulted when the
	// store is in portable mode, and when switching into it. Scrubbed, like
	// SecretValue, before a proposal is persisted or logged.
	SecretPassphrase string `json:"secret_passphrase,omitempty"`

	CanaryModule  *manifest.Module `json:"canary_module,omitempty"`  // set_module_canary
	CanaryPercent int              `json:"canary_percent,omitempty"` // set_module_canary: 0-100
}

// Status is a Proposal's lifecycle state.
type Status string

const (
	Pending  Status = "pending"
	Applied  Status = "applied"
	Rejected Status = "rejected"
	Failed   Status = "failed"
)

// Preview is computed from state-at-creation-time and inspected at
// approval time. It is never recomputed: the operator approves what they
// were shown.
type Preview struct {
	Summary               string                `json:"summary"`
	RequiresTypedAck      bool                  `json:"requires_typed_ack"`
	RequiredAckPhrase     string                `json:"required_ack_phrase,omitempty"`
	HazardsTriggered      []manifest.HazardPair `json:"hazards_triggered,omitempty"`
	RequiresHazardConfirm bool                  `json:"requires_hazard_confirm"`
}

// Proposal is one pending-or-resolved configuration change. ApprovedAt and
// AppliedAt are two distinct stamps bracketing the apply operation.
type Proposal struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"project_id"`
	Change        Change     `json:"change"`
	Preview       Preview    `json:"preview"`
	Status        Status     `json:"status"`
	CreatedBy     Actor      `json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
	ApprovedBy    *Actor     `json:"approved_by,omitempty"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty"`
	AppliedAt     *time.Time `json:"applied_at,omitempty"`
	RejectedBy    *Actor     `json:"rejected_by,omitempty"`
	RejectedAt    *time.Time `json:"rejected_at,omitempty"`
	RejectReason  string     `json:"reject_reason,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	RSHashAfter   string     `json:"rs_hash_after,omitempty"`
}

// Errors. The first three are recoverable refusals: the proposal stays
// pending and the approver may retry with corrected input.
var (
	ErrAckPhraseMismatch    = errors.New("proposals: typed acknowledgment phrase did not match")
	ErrMissingHazardConfirm = errors.New("proposals: hazard co-enablement confirmation missing")
	ErrNonHumanApprover     = errors.New("proposals: agents cannot approve proposals")
	ErrProposalNotFound     = errors.New("proposals: not found")
	ErrNotPending           = errors.New("proposals: not pending")
)

// ApproveOptions carries the operator-supplied confirmations Approve checks.
// SecretValue and SecretPassphrase re-supply the secret plaintext and the
// portable-mode passphrase for secret changes approved in a later session —
// the persisted proposal carries neither, so the approver provides them
// again at approval time.
type ApproveOptions struct {
	TypedAckPhrase       string
	HazardConfirmedPairs []manifest.HazardPair
	SecretValue          string
	SecretPassphrase     string
}

// SnapshotFunc rebuilds and returns the current Rule Snapshot for a
// project from the live registries — called after every applied change so
// the proposal record can carry the post-apply RS_hash.
type SnapshotFunc func(projectID string) (snapshot.RuleSnapshot, error)

// SecretStore is the slice of the secret store the queue needs to apply
// secret changes.
type SecretStore interface {
	Put(name, plaintext string) error
	Delete(name string) error
}

// Options wires the queue's optional collaborators: the post-apply
// snapshot rebuilder, the governance event log, the secret store resolver,
// and the proposal persistence resolver. Any of them may be nil.
type Options struct {
	BuildSnapshot SnapshotFunc
	Events        *auditlog.EventLog
	// Secrets resolves a project's secret store; passphrase is the
	// portable-mode passphrase, empty in device mode.
	Secrets func(projectID, passphrase string) (SecretStore, error)
	// SetSecretMode switches a project's secret store between device and
	// portable modes, re-keying every entry.
	SetSecretMode func(projectID, mode, passphrase string) error
	Resolve       registry.StateIOResolver
	Clock         func() time.Time
}

const proposalsFileName = "state/proposals.json"

// Queue is the project-scoped proposal lifecycle store. It holds the
// registries it applies approved changes to; apply failures mark the
// proposal Failed without rolling back whatever partial effect already
// landed — the post-apply snapshot hash change is the audit trail for a
// partial apply, not registry transactionality.
type Queue struct {
	mu          sync.Mutex
	proposals   map[string]*Proposal
	clock       func() time.Time
	modules     *registry.ModuleRegistry
	capability  *registry.CapabilityRegistry
	ack         *registry.AckRegistry
	restriction *registry.RestrictionRegistry
	resourceCfg *registry.ResourceConfigRegistry
	buildRS     SnapshotFunc
	events      *auditlog.EventLog
	secrets     func(projectID, passphrase string) (SecretStore, error)
	setMode     func(projectID, mode, passphrase string) error
	resolve     registry.StateIOResolver
}

// New builds a Queue wired to the registries it will mutate on approval.
func New(
	modules *registry.ModuleRegistry,
	capability *registry.CapabilityRegistry,
	ack *registry.AckRegistry,
	restriction *registry.RestrictionRegistry,
	resourceCfg *registry.ResourceConfigRegistry,
	opts Options,
) *Queue {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Queue{
		proposals:   make(map[string]*Proposal),
		clock:       clock,
		modules:     modules,
		capability:  capability,
		ack:         ack,
		restriction: restriction,
		resourceCfg: resourceCfg,
		buildRS:     opts.BuildSnapshot,
		events:      opts.Events,
		secrets:     opts.Secrets,
		setMode:     opts.SetSecretMode,
		resolve:     opts.Resolve,
	}
}

// Load replaces the in-memory proposals for a project from the persisted
// array. A nil resolver makes Load a no-op.
func (q *Queue) Load(projectID string) error {
	if q.resolve == nil {
		return nil
	}
	io, err := q.resolve(projectID)
	if err != nil {
		return err
	}
	var list []Proposal
	if err := io.ReadJSON(proposalsFileName, &list); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, p := range q.proposals {
		if p.ProjectID == projectID {
			delete(q.proposals, id)
		}
	}
	for i := range list {
		p := list[i]
		q.proposals[p.ID] = &p
	}
	return nil
}

// persistLocked writes every proposal for a project as one JSON array.
// Secret plaintext is scrubbed before anything reaches disk.
func (q *Queue) persistLocked(projectID string) error {
	if q.resolve == nil {
		return nil
	}
	io, err := q.resolve(projectID)
	if err != nil {
		return err
	}
	var list []Proposal
	for _, p := range q.proposals {
		if p.ProjectID != projectID {
			continue
		}
		cp := *p
		cp.Change.SecretValue = ""
		cp.Change.SecretPassphrase = ""
		list = append(list, cp)
	}
	return io.WriteJSON(proposalsFileName, list)
}

func (q *Queue) appendEvent(kind string, p *Proposal) {
	if q.events == nil {
		return
	}
	cp := *p
	cp.Change.SecretValue = ""
	cp.Change.SecretPassphrase = ""
	// Event log failures must not fail the proposal transition itself; the
	// proposal store already carries the authoritative state.
	_, _ = q.events.Append(kind, cp)
}

// Create previews and stores a new pending Proposal.
func (q *Queue) Create(projectID string, change Change, createdBy Actor) (*Proposal, error) {
	preview, err := q.preview(projectID, change)
	if err != nil {
		return nil, err
	}

	p := &Proposal{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Change:    change,
		Preview:   preview,
		Status:    Pending,
		CreatedBy: createdBy,
		CreatedAt: q.clock(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.proposals[p.ID] = p
	if err := q.persistLocked(projectID); err != nil {
		delete(q.proposals, p.ID)
		return nil, err
	}
	q.appendEvent("proposal_created", p)
	return p, nil
}

// preview computes the one-line summary, the typed-ack requirement (tier ∈
// TYPED_ACK_TIERS), and the hazard pairs this change would co-enable given
// the current state.
func (q *Queue) preview(projectID string, change Change) (Preview, error) {
	preview := Preview{Summary: summarize(change)}

	if change.Kind != EnableCapability {
		return preview, nil
	}
	if change.Descriptor == nil {
		return Preview{}, fmt.Errorf("proposals: enable_capability change missing descriptor")
	}

	desc := *change.Descriptor
	if !taxonomy.Sound(desc.Kind) {
		return Preview{}, fmt.Errorf("proposals: unsound capability kind %q", desc.Kind)
	}
	if taxonomy.TypedAckTiers[taxonomy.TierOf(desc.Kind)] {
		preview.RequiresTypedAck = true
		preview.RequiredAckPhrase = registry.ExpectedAckPhrase(desc.Kind)
	}

	enabledKinds := make(map[taxonomy.Kind]bool)
	for _, k := range q.capability.EnabledKinds(projectID) {
		enabledKinds[k] = true
	}
	for _, pair := range q.hazardMatrix(projectID, desc) {
		var other taxonomy.Kind
		switch desc.Kind {
		case pair.A:
			other = pair.B
		case pair.B:
			other = pair.A
		default:
			continue
		}
		if enabledKinds[other] {
			preview.HazardsTriggered = append(preview.HazardsTriggered, pair)
		}
	}
	preview.RequiresHazardConfirm = len(preview.HazardsTriggered) > 0
	return preview, nil
}

// hazardMatrix collects every hazard pair declared for the project: the
// enabling descriptor's own declarations plus those of every registered
// module's descriptors.
func (q *Queue) hazardMatrix(projectID string, desc manifest.CapabilityDescriptor) []manifest.HazardPair {
	seen := make(map[[2]taxonomy.Kind]bool)
	var out []manifest.HazardPair
	add := func(pair manifest.HazardPair) {
		key := [2]taxonomy.Kind{pair.A, pair.B}
		if pair.B < pair.A {
			key = [2]taxonomy.Kind{pair.B, pair.A}
		}
		if !seen[key] {
			seen[key] = true
			out = append(out, pair)
		}
	}
	for _, pair := range desc.Hazards {
		add(pair)
	}
	if q.modules != nil {
		for _, mod := range q.modules.List(projectID) {
			for _, d := range mod.Capabilities {
				for _, pair := range d.Hazards {
					add(pair)
				}
			}
		}
	}
	return out
}

func summarize(change Change) string {
	switch change.Kind {
	case EnableCapability:
		if change.Descriptor != nil {
			return fmt.Sprintf("enable capability %s:%s (%s, %s)",
				change.Descriptor.ModuleID, change.Descriptor.CapabilityID,
				change.Descriptor.Kind, change.Descriptor.Tier)
		}
		return "enable capability"
	case DisableCapability:
		return fmt.Sprintf("disable capability %s:%s", change.ModuleID, change.CapabilityID)
	case EnableModule:
		return fmt.Sprintf("enable module %s", change.ModuleID)
	case DisableModule:
		return fmt.Sprintf("disable module %s", change.ModuleID)
	case SetRestrictions:
		return fmt.Sprintf("replace restriction set (%d rules)", len(change.Restrictions))
	case SetProjectFSRoots:
		return fmt.Sprintf("set fs roots (%d roots)", len(change.FSRoots))
	case SetProjectNetAllowlist:
		return fmt.Sprintf("set net allowlist (%d entries)", len(change.NetAllowlist))
	case SetProjectExecRoot:
		if change.ExecCwdRootID != nil {
			return fmt.Sprintf("set exec cwd root %s", *change.ExecCwdRootID)
		}
		return "clear exec cwd root"
	case SetSecret:
		return fmt.Sprintf("set secret %s", change.SecretName)
	case DeleteSecret:
		return fmt.Sprintf("delete secret %s", change.SecretName)
	case SetSecretMode:
		return fmt.Sprintf("set secret mode %s", change.SecretMode)
	case SetModuleCanary:
		if change.CanaryModule != nil {
			return fmt.Sprintf("stage canary %s %s at %d%%", change.CanaryModule.ModuleID, change.CanaryModule.Version, change.CanaryPercent)
		}
		return "stage module canary"
	default:
		return string(change.Kind)
	}
}

// Get returns a proposal by id.
func (q *Queue) Get(id string) (*Proposal, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.proposals[id]
	if !ok {
		return nil, ErrProposalNotFound
	}
	return p, nil
}

// List returns every proposal for a project, newest first.
func (q *Queue) List(projectID string) []*Proposal {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*Proposal
	for _, p := range q.proposals {
		if p.ProjectID == projectID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Reject marks a pending proposal Rejected; no registry mutation occurs.
// The same approver-kind restriction as Approve applies.
func (q *Queue) Reject(id string, rejectedBy Actor, reason string) (*Proposal, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	p, ok := q.proposals[id]
	if !ok {
		return nil, ErrProposalNotFound
	}
	if p.Status != Pending {
		return nil, ErrNotPending
	}
	if !rejectedBy.CanApprove() {
		return p, ErrNonHumanApprover
	}

	now := q.clock()
	p.Status = Rejected
	p.RejectedBy = &rejectedBy
	p.RejectedAt = &now
	p.RejectReason = reason
	if err := q.persistLocked(p.ProjectID); err != nil {
		return p, err
	}
	q.appendEvent("proposal_rejected", p)
	return p, nil
}

func containsPair(pairs []manifest.HazardPair, want manifest.HazardPair) bool {
	for _, pair := range pairs {
		if (pair.A == want.A && pair.B == want.B) || (pair.A == want.B && pair.B == want.A) {
			return true
		}
	}
	return false
}

// Approve checks preconditions in order — (1) proposal exists and is
// pending, (2) the approver kind may approve, (3) typed acknowledgment if
// required, (4) every triggered hazard pair confirmed — each refusal
// leaving the proposal pending. On pass it applies the change, appends the
// relevant ack events with a null rs_hash_after, rebuilds the snapshot,
// patches the ack events with the fresh RS_hash, and marks the proposal
// Applied. An apply failure marks the proposal Failed and is NOT rolled
// back: any registry mutation that already landed stays landed.
func (q *Queue) Approve(id string, opts ApproveOptions, approver Actor) (*Proposal, error) {
	q.mu.Lock()
	p, ok := q.proposals[id]
	if !ok {
		q.mu.Unlock()
		return nil, ErrProposalNotFound
	}
	if p.Status != Pending {
		q.mu.Unlock()
		return nil, ErrNotPending
	}
	if !approver.CanApprove() {
		q.mu.Unlock()
		return p, ErrNonHumanApprover
	}
	if p.Preview.RequiresTypedAck && opts.TypedAckPhrase != p.Preview.RequiredAckPhrase {
		q.mu.Unlock()
		return p, ErrAckPhraseMismatch
	}
	if p.Preview.RequiresHazardConfirm {
		for _, pair := range p.Preview.HazardsTriggered {
			if !containsPair(opts.HazardConfirmedPairs, pair) {
				q.mu.Unlock()
				return p, ErrMissingHazardConfirm
			}
		}
	}
	// The queue lock stays held through apply and the snapshot rebuild, so
	// concurrent approvals run one at a time.
	defer q.mu.Unlock()

	now := q.clock()
	rsHash, applyErr := q.applyAndSnapshot(p, opts)

	appliedAt := q.clock()
	p.ApprovedBy = &approver
	p.ApprovedAt = &now
	if applyErr != nil {
		p.Status = Failed
		p.FailureReason = applyErr.Error()
		if err := q.persistLocked(p.ProjectID); err != nil {
			return p, err
		}
		q.appendEvent("proposal_failed", p)
		return p, applyErr
	}
	p.Status = Applied
	p.AppliedAt = &appliedAt
	p.RSHashAfter = rsHash
	if err := q.persistLocked(p.ProjectID); err != nil {
		return p, err
	}
	q.appendEvent("proposal_applied", p)
	return p, nil
}

// applyAndSnapshot performs the single logical transaction of spec.md §4.8:
// mutate, append ack events (rs_hash_after null), rebuild + hash the
// snapshot, patch the ack events.
func (q *Queue) applyAndSnapshot(p *Proposal, opts ApproveOptions) (string, error) {
	var ackEventIDs []string

	if err := q.apply(p, opts, &ackEventIDs); err != nil {
		return "", err
	}

	if q.buildRS == nil {
		return "", nil
	}
	rs, err := q.buildRS(p.ProjectID)
	if err != nil {
		return "", err
	}
	rsHash, err := snapshot.Hash(rs)
	if err != nil {
		return "", err
	}
	for _, evID := range ackEventIDs {
		if err := q.ack.PatchRSHash(p.ProjectID, evID, rsHash.String()); err != nil {
			return "", err
		}
	}
	return rsHash.String(), nil
}

func (q *Queue) apply(p *Proposal, opts ApproveOptions, ackEventIDs *[]string) error {
	switch p.Change.Kind {
	case EnableCapability:
		if p.Change.Descriptor == nil {
			return fmt.Errorf("proposals: enable_capability change missing descriptor")
		}
		desc := *p.Change.Descriptor
		if p.Preview.RequiresTypedAck {
			ev, err := q.ack.Accept(p.ProjectID, desc.Kind, opts.TypedAckPhrase)
			if err != nil {
				return err
			}
			*ackEventIDs = append(*ackEventIDs, ev.ID)
		}
		for _, pair := range p.Preview.HazardsTriggered {
			ev, err := q.ack.ConfirmHazard(p.ProjectID, pair.A, pair.B)
			if err != nil {
				return err
			}
			*ackEventIDs = append(*ackEventIDs, ev.ID)
		}
		return q.capability.Enable(p.ProjectID, desc, true)

	case DisableCapability:
		return q.capability.Disable(p.ProjectID, p.Change.ModuleID, p.Change.CapabilityID)

	case EnableModule:
		if err := q.modules.Enable(p.ProjectID, p.Change.ModuleID, true); err != nil {
			return err
		}
		return q.installIntrinsicRestrictions(p.ProjectID, p.Change.ModuleID)

	case DisableModule:
		return q.modules.Disable(p.ProjectID, p.Change.ModuleID, true)

	case SetRestrictions:
		return q.restriction.SetAll(p.ProjectID, p.Change.Restrictions)

	case SetProjectFSRoots:
		return q.resourceCfg.SetFSRoots(p.ProjectID, p.Change.FSRoots)

	case SetProjectNetAllowlist:
		return q.resourceCfg.SetNetAllowlist(p.ProjectID, p.Change.NetAllowlist)

	case SetProjectExecRoot:
		return q.resourceCfg.SetExecCwdRootID(p.ProjectID, p.Change.ExecCwdRootID)

	case SetSecret:
		if q.secrets == nil {
			return fmt.Errorf("proposals: no secret store wired")
		}
		value := p.Change.SecretValue
		if opts.SecretValue != "" {
			value = opts.SecretValue
		}
		if value == "" {
			return fmt.Errorf("proposals: secret value not available (scrubbed at persistence) — re-supply it at approval")
		}
		store, err := q.secrets(p.ProjectID, passphraseFor(p, opts))
		if err != nil {
			return err
		}
		if err := store.Put(p.Change.SecretName, value); err != nil {
			return err
		}
		_, err = q.resourceCfg.IncrementSecretsEpoch(p.ProjectID)
		return err

	case DeleteSecret:
		if q.secrets == nil {
			return fmt.Errorf("proposals: no secret store wired")
		}
		store, err := q.secrets(p.ProjectID, passphraseFor(p, opts))
		if err != nil {
			return err
		}
		if err := store.Delete(p.Change.SecretName); err != nil {
			return err
		}
		_, err = q.resourceCfg.IncrementSecretsEpoch(p.ProjectID)
		return err

	case SetSecretMode:
		if q.setMode == nil {
			return fmt.Errorf("proposals: no secret mode setter wired")
		}
		if err := q.setMode(p.ProjectID, p.Change.SecretMode, passphraseFor(p, opts)); err != nil {
			return err
		}
		_, err := q.resourceCfg.IncrementSecretsEpoch(p.ProjectID)
		return err

	case SetModuleCanary:
		if p.Change.CanaryModule == nil {
			return fmt.Errorf("proposals: set_module_canary change missing canary module")
		}
		return q.modules.SetRollout(p.ProjectID, *p.Change.CanaryModule, p.Change.CanaryPercent)

	default:
		return fmt.Errorf("proposals: unknown change kind %q", p.Change.Kind)
	}
}

// passphraseFor prefers the passphrase re-supplied at approval over the
// one the change was created with — the persisted form carries neither.
func passphraseFor(p *Proposal, opts ApproveOptions) string {
	if opts.SecretPassphrase != "" {
		return opts.SecretPassphrase
	}
	return p.Change.SecretPassphrase
}

// installIntrinsicRestrictions compiles the DSL sources a module ships
// with and installs them alongside the operator's rules. Intrinsic sources
// are compiled, never trusted pre-compiled, so a tampered manifest fails
// here rather than at evaluation.
func (q *Queue) installIntrinsicRestrictions(projectID, moduleID string) error {
	mod, err := q.modules.Get(projectID, moduleID)
	if err != nil {
		return err
	}
	for i, source := range mod.IntrinsicRestrictions {
		ruleID := fmt.Sprintf("%s:intrinsic:%d", moduleID, i)
		compiled, err := dsl.CompileDSL(ruleID, source)
		if err != nil {
			return fmt.Errorf("proposals: module %q intrinsic restriction %d: %w", moduleID, i, err)
		}
		if err := q.restriction.Add(projectID, compiled); err != nil {
			return err
		}
	}
	return nil
}
