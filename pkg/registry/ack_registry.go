package registry

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/CustodyZero/archon/pkg/project"
	"github.com/CustodyZero/archon/pkg/taxonomy"
)

const (
	ackFileName       = "state/acknowledgments.json"
	hazardAckFileName = "state/hazard-acks.json"
)

// ExpectedAckPhrase returns the exact typed acknowledgment phrase an
// operator must submit to enable a T3 capability of the given kind
// (spec.md §4.8): "I ACCEPT <tier> RISK (<kind>)".
func ExpectedAckPhrase(kind taxonomy.Kind) string {
	return fmt.Sprintf("I ACCEPT %s RISK (%s)", taxonomy.TierOf(kind), kind)
}

// AckEvent is one accepted typed-acknowledgment record. RSHashAfter starts
// null and is patched once the post-apply snapshot hash is known — the only
// mutation an appended event ever receives.
type AckEvent struct {
	ID          string        `json:"id"`
	Kind        taxonomy.Kind `json:"kind"`
	Phrase      string        `json:"phrase"`
	AcceptedAt  time.Time     `json:"accepted_at"`
	RSHashAfter *string       `json:"rs_hash_after"`
}

// HazardAckEvent is one confirmed hazard co-enablement record.
type HazardAckEvent struct {
	ID          string        `json:"id"`
	A           taxonomy.Kind `json:"a"`
	B           taxonomy.Kind `json:"b"`
	ConfirmedAt time.Time     `json:"confirmed_at"`
	RSHashAfter *string       `json:"rs_hash_after"`
}

// StateIOResolver maps a project id to its scoped persistence façade.
type StateIOResolver func(projectID string) (project.StateIO, error)

// AckRegistry is the append-only acknowledgment store of spec.md §4.7: one
// array of T3 typed-ack events and one of hazard-pair confirmations, with
// ack_epoch defined as the sum of their lengths. When an io resolver is
// wired, both arrays persist as whole-file JSON under the project's state
// directory; a nil resolver keeps the store in memory (tests).
type AckRegistry struct {
	mu         sync.RWMutex
	acks       map[string][]AckEvent
	hazardAcks map[string][]HazardAckEvent
	resolve    StateIOResolver
	clock      func() time.Time
}

// NewAckRegistry builds an AckRegistry. resolve may be nil for a purely
// in-memory store; clock defaults to time.Now.
func NewAckRegistry(resolve StateIOResolver, clock func() time.Time) *AckRegistry {
	if clock == nil {
		clock = time.Now
	}
	return &AckRegistry{
		acks:       make(map[string][]AckEvent),
		hazardAcks: make(map[string][]HazardAckEvent),
		resolve:    resolve,
		clock:      clock,
	}
}

// Load reads both persisted ack arrays for a project, replacing whatever is
// in memory. A nil resolver makes Load a no-op.
func (r *AckRegistry) Load(projectID string) error {
	if r.resolve == nil {
		return nil
	}
	io, err := r.resolve(projectID)
	if err != nil {
		return err
	}
	var acks []AckEvent
	if err := io.ReadJSON(ackFileName, &acks); err != nil {
		return err
	}
	var hazards []HazardAckEvent
	if err := io.ReadJSON(hazardAckFileName, &hazards); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acks[projectID] = acks
	r.hazardAcks[projectID] = hazards
	return nil
}

func (r *AckRegistry) persist(projectID string) error {
	if r.resolve == nil {
		return nil
	}
	io, err := r.resolve(projectID)
	if err != nil {
		return err
	}
	if err := io.WriteJSON(ackFileName, r.acks[projectID]); err != nil {
		return err
	}
	return io.WriteJSON(hazardAckFileName, r.hazardAcks[projectID])
}

func newAckID(clock func() time.Time) string {
	return ulid.MustNew(ulid.Timestamp(clock()), rand.Reader).String()
}

// Accept validates phrase against the expected phrase for kind and, if it
// matches, appends an AckEvent with a null RSHashAfter and returns it.
// Every accepted ack is a new event: re-acknowledging a kind appends again
// and bumps ack_epoch again, which is what makes the epoch a count of
// acknowledgment *events* rather than of acknowledged kinds.
func (r *AckRegistry) Accept(projectID string, kind taxonomy.Kind, phrase string) (AckEvent, error) {
	if !taxonomy.Sound(kind) {
		return AckEvent{}, fmt.Errorf("registry: unsound capability kind %q", kind)
	}
	if phrase != ExpectedAckPhrase(kind) {
		return AckEvent{}, fmt.Errorf("registry: typed acknowledgment phrase mismatch for %s", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	ev := AckEvent{ID: newAckID(r.clock), Kind: kind, Phrase: phrase, AcceptedAt: r.clock()}
	r.acks[projectID] = append(r.acks[projectID], ev)
	if err := r.persist(projectID); err != nil {
		return AckEvent{}, err
	}
	return ev, nil
}

// ConfirmHazard appends a hazard-pair confirmation event with a null
// RSHashAfter and returns it.
func (r *AckRegistry) ConfirmHazard(projectID string, a, b taxonomy.Kind) (HazardAckEvent, error) {
	if !taxonomy.Sound(a) || !taxonomy.Sound(b) {
		return HazardAckEvent{}, fmt.Errorf("registry: unsound capability kind in hazard pair (%s, %s)", a, b)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ev := HazardAckEvent{ID: newAckID(r.clock), A: a, B: b, ConfirmedAt: r.clock()}
	r.hazardAcks[projectID] = append(r.hazardAcks[projectID], ev)
	if err := r.persist(projectID); err != nil {
		return HazardAckEvent{}, err
	}
	return ev, nil
}

// PatchRSHash rewrites the RSHashAfter of the single ack or hazard-ack
// event with the given id. An absent id is a no-op — the patch is
// late-bound and may race a log rotation that already resolved it.
func (r *AckRegistry) PatchRSHash(projectID, eventID, rsHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.acks[projectID] {
		if r.acks[projectID][i].ID == eventID {
			h := rsHash
			r.acks[projectID][i].RSHashAfter = &h
			return r.persist(projectID)
		}
	}
	for i := range r.hazardAcks[projectID] {
		if r.hazardAcks[projectID][i].ID == eventID {
			h := rsHash
			r.hazardAcks[projectID][i].RSHashAfter = &h
			return r.persist(projectID)
		}
	}
	return nil
}

// Epoch returns ack_epoch for a project: |acks| + |hazard_acks|.
func (r *AckRegistry) Epoch(projectID string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return uint64(len(r.acks[projectID]) + len(r.hazardAcks[projectID]))
}

// HasAccepted reports whether kind has an accepted acknowledgment on record
// for the project.
func (r *AckRegistry) HasAccepted(projectID string, kind taxonomy.Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.acks[projectID] {
		if rec.Kind == kind {
			return true
		}
	}
	return false
}

// HasConfirmedHazard reports whether the (a, b) pair — in either order —
// has a confirmation on record for the project.
func (r *AckRegistry) HasConfirmedHazard(projectID string, a, b taxonomy.Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.hazardAcks[projectID] {
		if (rec.A == a && rec.B == b) || (rec.A == b && rec.B == a) {
			return true
		}
	}
	return false
}

// Acks returns a copy of the project's typed-ack events, oldest first.
func (r *AckRegistry) Acks(projectID string) []AckEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AckEvent, len(r.acks[projectID]))
	copy(out, r.acks[projectID])
	return out
}

// HazardAcks returns a copy of the project's hazard confirmations, oldest first.
func (r *AckRegistry) HazardAcks(projectID string) []HazardAckEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]HazardAckEvent, len(r.hazardAcks[projectID]))
	copy(out, r.hazardAcks[projectID])
	return out
}
