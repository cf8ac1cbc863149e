// Package taxonomy defines the closed enum of capability kinds and their
// risk tiers. Adding a kind here is a taxonomy change, not a runtime change —
// no code outside this package may introduce a new Kind value.
package taxonomy

import "fmt"

// Tier is a risk classification with a total order T0 < T1 < T2 < T3.
type Tier int

const (
	T0 Tier = iota // Informational / reversible
	T1             // Low risk
	T2             // Medium risk / state mutation
	T3             // High risk — requires typed acknowledgment to enable
)

// TYPED_ACK_TIERS is the v1 set of tiers whose enablement requires a typed
// acknowledgment phrase at proposal approval (spec.md §4.8).
var TypedAckTiers = map[Tier]bool{T3: true}

func (t Tier) String() string {
	switch t {
	case T0:
		return "T0"
	case T1:
		return "T1"
	case T2:
		return "T2"
	case T3:
		return "T3"
	default:
		return fmt.Sprintf("T?(%d)", int(t))
	}
}

// Kind is a capability kind. The set is closed — see Kinds() and TierOf().
type Kind string

const (
	FSRead         Kind = "fs.read"
	FSList         Kind = "fs.list"
	FSWrite        Kind = "fs.write"
	FSDelete       Kind = "fs.delete"
	NetFetchHTTP   Kind = "net.fetch.http"
	NetEgressRaw   Kind = "net.egress.raw"
	ExecRun        Kind = "exec.run"
	SecretsUse     Kind = "secrets.use"
	SecretsInject  Kind = "secrets.inject_env"
	AgentSpawn     Kind = "agent.spawn"
	AgentMessage   Kind = "agent.message"
	LLMInfer       Kind = "llm.infer"
	UIWildcard     Kind = "ui.*"
)

// tiers is the closed mapping of Kind to its declared risk Tier.
var tiers = map[Kind]Tier{
	FSRead:        T0,
	FSList:        T0,
	FSWrite:       T1,
	FSDelete:      T3,
	NetFetchHTTP:  T1,
	NetEgressRaw:  T2,
	ExecRun:       T2,
	SecretsUse:    T2,
	SecretsInject: T3,
	AgentSpawn:    T2,
	AgentMessage:  T1,
	LLMInfer:      T0,
	UIWildcard:    T0,
}

// Kinds returns every capability kind in the closed taxonomy, in declaration
// order. Callers that need a stable sort should sort the result themselves —
// this function does not sort, it enumerates.
func Kinds() []Kind {
	return []Kind{
		FSRead, FSList, FSWrite, FSDelete,
		NetFetchHTTP, NetEgressRaw,
		ExecRun,
		SecretsUse, SecretsInject,
		AgentSpawn, AgentMessage,
		LLMInfer,
		UIWildcard,
	}
}

// Sound reports whether kind is a member of the closed taxonomy. This is the
// single source of truth for Invariant I7 (taxonomy soundness); the DSL
// compiler and the Validation Engine both call this rather than maintaining
// their own copies of the enum.
func Sound(kind Kind) bool {
	_, ok := tiers[kind]
	return ok
}

// TierOf returns the declared risk tier for kind. Callers must check Sound
// first — TierOf panics on an unsound kind, since every call site that
// reaches here is expected to have already rejected unsound kinds via I7.
func TierOf(kind Kind) Tier {
	t, ok := tiers[kind]
	if !ok {
		panic(fmt.Sprintf("taxonomy: %q is not in the closed taxonomy", kind))
	}
	return t
}

// IsFSFamily reports whether kind belongs to the filesystem capability
// family (used by the Validation Engine's resource-config pre-checks).
func IsFSFamily(kind Kind) bool {
	switch kind {
	case FSRead, FSList, FSWrite, FSDelete:
		return true
	default:
		return false
	}
}

// IsNetFamily reports whether kind belongs to the network capability family.
func IsNetFamily(kind Kind) bool {
	switch kind {
	case NetFetchHTTP, NetEgressRaw:
		return true
	default:
		return false
	}
}

// IsExecFamily reports whether kind belongs to the exec capability family.
func IsExecFamily(kind Kind) bool {
	return kind == ExecRun
}

// IsWriteFamily reports whether kind requires an rw fs-root (fs.write, fs.delete).
func IsWriteFamily(kind Kind) bool {
	return kind == FSWrite || kind == FSDelete
}
