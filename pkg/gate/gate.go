// Package gate implements the Execution Gate (spec.md §4.6): the single
// chokepoint every capability invocation passes through. It evaluates, on
// permit invokes the adapter handler registered for the capability, and then
// appends a decision-log entry unconditionally — whether the handler
// succeeded, failed, or panicked. Adapted from
// the teacher's pkg/governance/engine.go DecisionEngine.Evaluate, generalized
// from a fixed effect-class allowlist to full validation-engine delegation.
package gate

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/CustodyZero/archon/pkg/action"
	"github.com/CustodyZero/archon/pkg/canonicalize"
	"github.com/CustodyZero/archon/pkg/evaluator"
	"github.com/CustodyZero/archon/pkg/observability"
	"github.com/CustodyZero/archon/pkg/snapshot"
	"github.com/CustodyZero/archon/pkg/validation"
)

// AdapterCallContext is what a capability handler receives on permit. It is
// constructed by the gate from its own validated state; handlers must use
// it verbatim and never assemble their own.
type AdapterCallContext struct {
	AgentID            string
	CapabilityInstance string // "{module_id}:{capability_id}"
	RSHash             canonicalize.Hash
	ResourceConfig     snapshot.ResourceConfig
	Params             map[string]string
}

// Handler executes a permitted capability invocation and returns an
// arbitrary result, hashed into the decision log as output_hash.
type Handler func(ctx context.Context, call AdapterCallContext) (any, error)

// LogSink is the append-only destination for decision log entries. The
// Execution Gate writes to it unconditionally, whether or not a handler ran
// or a handler returned an error.
type LogSink interface {
	Append(entry DecisionLogEntry) error
}

// DecisionLogEntry is one immutable record of an evaluated action.
type DecisionLogEntry struct {
	EventID        string             `json:"event_id"`
	ProjectID      string             `json:"project_id"`
	AgentID        string             `json:"agent_id"`
	ModuleID       string             `json:"module_id"`
	CapabilityID   string             `json:"capability_id"`
	Decision       evaluator.Decision `json:"decision"`
	TriggeredRules []string           `json:"triggered_rules"`
	InputHash      canonicalize.Hash  `json:"input_hash"`
	RSHash         canonicalize.Hash  `json:"rs_hash"`
	OutputHash     *canonicalize.Hash `json:"output_hash,omitempty"`
	Timestamp      time.Time          `json:"timestamp"`
	HandlerError   string             `json:"handler_error,omitempty"`
}

// Gate is the Execution Gate. Handlers are registered per capability
// instance ("{module_id}:{capability_id}") and looked up at permit time.
type Gate struct {
	logger   *slog.Logger
	sink     LogSink
	clock    func() time.Time
	handlers map[string]Handler
	tracer   trace.Tracer
}

// New builds a Gate. clock defaults to time.Now if nil.
func New(logger *slog.Logger, sink LogSink, clock func() time.Time) *Gate {
	if clock == nil {
		clock = time.Now
	}
	return &Gate{
		logger:   logger,
		sink:     sink,
		clock:    clock,
		handlers: make(map[string]Handler),
		tracer:   otel.Tracer("archon.gate"),
	}
}

// Register binds a Handler to a capability instance key.
func (g *Gate) Register(moduleID, capabilityID string, h Handler) {
	g.handlers[moduleID+":"+capabilityID] = h
}

// Result is what Evaluate returns to the caller.
type Result struct {
	Decision       evaluator.Decision
	TriggeredRules []string
	Output         any
	HandlerError   error
}

// Evaluate runs the Validation Engine against act and rs, logs the outcome
// unconditionally, and — on permit — invokes the registered handler. A
// handler error or panic does not retroactively change Decision; the
// action was already permitted when the handler ran.
func (g *Gate) Evaluate(ctx context.Context, act action.Action, rs snapshot.RuleSnapshot) (Result, error) {
	ctx, span := g.tracer.Start(ctx, "archon.gate.evaluate")
	defer span.End()

	inputDigest, err := canonicalize.CanonicalHash(act)
	if err != nil {
		return Result{}, err
	}
	inputHash := canonicalize.Brand(inputDigest)

	rsHash, err := snapshot.Hash(rs)
	if err != nil {
		return Result{}, err
	}

	vres, err := validation.Evaluate(act, rs)
	if err != nil {
		return Result{}, err
	}

	span.SetAttributes(observability.GateDecision(
		act.ProjectID, act.AgentID, string(act.CapabilityKind),
		string(vres.Decision), inputHash.String(), vres.TriggeredRules)...)

	entry := DecisionLogEntry{
		EventID:        g.newEventID(),
		ProjectID:      act.ProjectID,
		AgentID:        act.AgentID,
		ModuleID:       act.ModuleID,
		CapabilityID:   act.CapabilityID,
		Decision:       vres.Decision,
		TriggeredRules: vres.TriggeredRules,
		InputHash:      inputHash,
		RSHash:         rsHash,
		Timestamp:      g.clock(),
	}

	result := Result{Decision: vres.Decision, TriggeredRules: vres.TriggeredRules}

	if vres.Decision == evaluator.Permit {
		key := act.ModuleID + ":" + act.CapabilityID
		if h, ok := g.handlers[key]; ok {
			out, herr := g.invoke(ctx, h, AdapterCallContext{
				AgentID:            act.AgentID,
				CapabilityInstance: key,
				RSHash:             rsHash,
				ResourceConfig:     rs.ResourceConfig,
				Params:             act.Params,
			})
			result.Output = out
			result.HandlerError = herr
			if herr != nil {
				entry.HandlerError = herr.Error()
			} else if out != nil {
				outDigest, hashErr := canonicalize.CanonicalHash(out)
				if hashErr == nil {
					oh := canonicalize.Brand(outDigest)
					entry.OutputHash = &oh
				}
			}
		} else {
			g.logger.Warn("gate: no handler registered for permitted capability", "capability_instance", key)
		}
	}

	// Append unconditionally — a handler panic/error must never suppress the
	// audit record of what was decided. A failed append is a kernel
	// integrity failure and is surfaced to the caller.
	if err := g.sink.Append(entry); err != nil {
		g.logger.Error("gate: failed to append decision log entry", "event_id", entry.EventID, "error", err)
		return result, err
	}

	return result, nil
}

// invoke runs a handler with panic containment: a panicking handler
// surfaces as a HandlerError so the unconditional log append below it
// still executes.
func (g *Gate) invoke(ctx context.Context, h Handler, call AdapterCallContext) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("gate: handler panic: %v", r)
		}
	}()
	return h(ctx, call)
}

func (g *Gate) newEventID() string {
	return ulid.MustNew(ulid.Timestamp(g.clock()), rand.Reader).String()
}
