// Package domain provides the core value types and read-only collaborator
// interfaces shared across the rebalancing pipeline and the Protection
// Orchestrator. Types here carry no infrastructure dependencies.
package domain

// Asset is an opaque security identifier.
type Asset string

// UnknownBucket is the reserved bucket for assets with no classification.
const UnknownBucket = "Unknown"

// CashAsset is the synthetic identifier used for the residual cash target.
const CashAsset Asset = "CASH"

// Regime is the macro market classification in effect on a rebalance date.
type Regime string

const (
	RegimeGoldilocks Regime = "Goldilocks"
	RegimeReflation  Regime = "Reflation"
	RegimeInflation  Regime = "Inflation"
	RegimeDeflation  Regime = "Deflation"
)

// Severity is the derived criticality tag attached to a Regime.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Priority is the provenance tag assigned to a candidate asset by the
// Universe Builder, in descending precedence.
type Priority string

const (
	PriorityPortfolio Priority = "portfolio"
	PriorityTrending  Priority = "trending"
	PriorityRegime    Priority = "regime"
	PriorityFallback  Priority = "fallback"
)

// rank returns the precedence of a Priority; lower is higher precedence.
func (p Priority) rank() int {
	switch p {
	case PriorityPortfolio:
		return 0
	case PriorityTrending:
		return 1
	case PriorityRegime:
		return 2
	default:
		return 3
	}
}

// HigherPriority reports whether p outranks other (portfolio > trending > regime > fallback).
func (p Priority) HigherPriority(other Priority) bool {
	return p.rank() < other.rank()
}

// Action is the mutation (or non-mutation) recommended for a target position.
type Action string

const (
	ActionOpen     Action = "open"
	ActionIncrease Action = "increase"
	ActionDecrease Action = "decrease"
	ActionClose    Action = "close"
	ActionHold     Action = "hold"
)

// IsMutating reports whether an action changes the position and therefore
// must be cleared by the Protection Orchestrator before it is final.
func (a Action) IsMutating() bool {
	switch a {
	case ActionOpen, ActionIncrease, ActionDecrease, ActionClose:
		return true
	default:
		return false
	}
}

// SizingMode selects the Stage 1 base-sizing policy for the Dynamic Position Sizer.
type SizingMode string

const (
	SizingEqualWeight   SizingMode = "equal_weight"
	SizingScoreWeighted SizingMode = "score_weighted"
	SizingAdaptive      SizingMode = "adaptive"
)

// ResidualStrategy selects how Stage-2 leftover allocation is distributed.
type ResidualStrategy string

const (
	ResidualSafeTopSlice ResidualStrategy = "safe_top_slice"
	ResidualProportional ResidualStrategy = "proportional"
	ResidualCashBucket   ResidualStrategy = "cash_bucket"
)

// GraceAction is the state-machine output of the Grace Period Manager for one asset.
type GraceAction string

const (
	GraceActionStart      GraceAction = "grace_start"
	GraceActionDecay      GraceAction = "grace_decay"
	GraceActionRecovery   GraceAction = "grace_recovery"
	GraceActionForceClose GraceAction = "force_close"
	GraceActionHold       GraceAction = "hold"
)

// EventKind enumerates every event the core emits to an EventSink.
type EventKind string

const (
	EventPositionOpen       EventKind = "position_open"
	EventPositionClose      EventKind = "position_close"
	EventPositionAdjust     EventKind = "position_adjust"
	EventGraceStart         EventKind = "grace_start"
	EventGraceDecay         EventKind = "grace_decay"
	EventGraceRecovery      EventKind = "grace_recovery"
	EventGraceForceClose    EventKind = "grace_force_close"
	EventCoreMarked         EventKind = "core_marked"
	EventCoreRevoked        EventKind = "core_revoked"
	EventProtectionDecision EventKind = "protection_decision"
	EventProtectionError    EventKind = "protection_error"
)

// PositionEventType enumerates the lifecycle log entry kinds for a single asset.
type PositionEventType string

const (
	PositionEventOpen   PositionEventType = "open"
	PositionEventClose  PositionEventType = "close"
	PositionEventAdjust PositionEventType = "adjust"
)
