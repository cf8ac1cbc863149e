// Package observability provides Archon-specific OpenTelemetry
// instrumentation helpers, adapted from the teacher's
// pkg/observability/helm.go "helm.*" attribute convention, renamed to
// "archon.*" and regrouped around the Rule Snapshot and Execution Gate
// instead of OrgVM/PDP/compliance concepts.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Archon semantic convention attributes.
var (
	// Project / agent identity
	AttrProjectID = attribute.Key("archon.project.id")
	AttrAgentID   = attribute.Key("archon.agent.id")

	// Rule Snapshot attributes
	AttrSnapshotRSHash    = attribute.Key("archon.snapshot.rs_hash")
	AttrSnapshotAckEpoch  = attribute.Key("archon.snapshot.ack_epoch")
	AttrSnapshotEngineVer = attribute.Key("archon.snapshot.engine_version")

	// Execution Gate / decision attributes
	AttrGateCapabilityKind = attribute.Key("archon.gate.capability_kind")
	AttrGateDecision       = attribute.Key("archon.gate.decision")
	AttrGateTriggeredRules = attribute.Key("archon.gate.triggered_rules")
	AttrGateInputHash      = attribute.Key("archon.gate.input_hash")

	// Proposal Queue attributes
	AttrProposalID     = attribute.Key("archon.proposal.id")
	AttrProposalStatus = attribute.Key("archon.proposal.status")
	AttrProposalKind   = attribute.Key("archon.proposal.change_kind")
)

// SnapshotBuilt creates attributes for a completed Rule Snapshot build.
func SnapshotBuilt(projectID, rsHash, engineVersion string, ackEpoch int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrProjectID.String(projectID),
		AttrSnapshotRSHash.String(rsHash),
		AttrSnapshotEngineVer.String(engineVersion),
		AttrSnapshotAckEpoch.Int64(ackEpoch),
	}
}

// GateDecision creates attributes for one Execution Gate evaluation.
func GateDecision(projectID, agentID, capabilityKind, decision, inputHash string, triggeredRules []string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrProjectID.String(projectID),
		AttrAgentID.String(agentID),
		AttrGateCapabilityKind.String(capabilityKind),
		AttrGateDecision.String(decision),
		AttrGateInputHash.String(inputHash),
		AttrGateTriggeredRules.StringSlice(triggeredRules),
	}
}

// ProposalResolved creates attributes for a resolved Proposal.
func ProposalResolved(projectID, proposalID, changeKind, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrProjectID.String(projectID),
		AttrProposalID.String(proposalID),
		AttrProposalKind.String(changeKind),
		AttrProposalStatus.String(status),
	}
}

// SpanFromContext extracts the current span from ctx.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent records a named event with attrs on the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err on the current span, if non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
