package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/CustodyZero/archon/pkg/dsl"
)

var ErrRestrictionNotFound = errors.New("registry: restriction not found")

const restrictionsFileName = "state/restrictions.json"

// RestrictionRegistry stores the compiled DRR set for a project as a plain
// keyed set that persists in canonical sorted order. It performs no
// monotonicity check of its own, and neither does the Proposal Queue:
// set_restrictions replaces the whole set and Remove deletes a rule
// outright. Restriction monotonicity (I2) is a property of evaluation — a
// rule set narrowed by extra conditions never permits more than the broader
// one.
type RestrictionRegistry struct {
	mu      sync.RWMutex
	byID    map[string]map[string]dsl.CompiledDRR // project_id -> rule_id -> rule
	resolve StateIOResolver
}

// NewRestrictionRegistry builds a RestrictionRegistry. resolve may be nil.
func NewRestrictionRegistry(resolve StateIOResolver) *RestrictionRegistry {
	return &RestrictionRegistry{byID: make(map[string]map[string]dsl.CompiledDRR), resolve: resolve}
}

// Load replaces the in-memory rule set for a project from its persisted
// restrictions file. A nil resolver makes Load a no-op.
func (r *RestrictionRegistry) Load(projectID string) error {
	if r.resolve == nil {
		return nil
	}
	io, err := r.resolve(projectID)
	if err != nil {
		return err
	}
	var rules []dsl.CompiledDRR
	if err := io.ReadJSON(restrictionsFileName, &rules); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m := make(map[string]dsl.CompiledDRR, len(rules))
	for _, drr := range rules {
		m[drr.ID] = drr
	}
	r.byID[projectID] = m
	return nil
}

func (r *RestrictionRegistry) persist(projectID string) error {
	if r.resolve == nil {
		return nil
	}
	io, err := r.resolve(projectID)
	if err != nil {
		return err
	}
	rules := r.listLocked(projectID)
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
	return io.WriteJSON(restrictionsFileName, rules)
}

// Add installs a compiled DRR for a project, replacing any existing rule
// with the same id.
func (r *RestrictionRegistry) Add(projectID string, drr dsl.CompiledDRR) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rules, ok := r.byID[projectID]
	if !ok {
		rules = make(map[string]dsl.CompiledDRR)
		r.byID[projectID] = rules
	}
	rules[drr.ID] = drr
	return r.persist(projectID)
}

// SetAll replaces the whole rule set for a project in one step — the
// set_restrictions proposal change.
func (r *RestrictionRegistry) SetAll(projectID string, drrs []dsl.CompiledDRR) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := make(map[string]dsl.CompiledDRR, len(drrs))
	for _, drr := range drrs {
		m[drr.ID] = drr
	}
	r.byID[projectID] = m
	return r.persist(projectID)
}

// Remove deletes a DRR by id.
func (r *RestrictionRegistry) Remove(projectID, ruleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rules, ok := r.byID[projectID]
	if !ok {
		return ErrRestrictionNotFound
	}
	if _, ok := rules[ruleID]; !ok {
		return ErrRestrictionNotFound
	}
	delete(rules, ruleID)
	return r.persist(projectID)
}

func (r *RestrictionRegistry) listLocked(projectID string) []dsl.CompiledDRR {
	rules := r.byID[projectID]
	out := make([]dsl.CompiledDRR, 0, len(rules))
	for _, drr := range rules {
		out = append(out, drr)
	}
	return out
}

// List returns every compiled DRR for a project, unsorted — the Rule
// Snapshot builder is responsible for canonical ordering.
func (r *RestrictionRegistry) List(projectID string) []dsl.CompiledDRR {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked(projectID)
}
