// Package protection implements the Protection Orchestrator: the sole
// authority for approving any position-mutating action. It consults the
// Core, Grace, Holding and Whipsaw managers in a fixed priority order and
// emits a protection_decision event for every request, approved or denied.
package protection

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/core"
	"github.com/aristath/rebalancer/internal/modules/holding"
	"github.com/aristath/rebalancer/internal/modules/whipsaw"
	"github.com/aristath/rebalancer/internal/store"
)

// Config controls cross-cutting orchestrator behavior. Severity threshold
// and cooldown are shared with the Holding Period Manager's own regime
// override bookkeeping; the holding config group carries the only copy of
// these settings.
type Config struct {
	EnableRegimeOverrides   bool
	RegimeSeverityThreshold domain.Severity
}

// cacheKey identifies one repeatable protection question within a single
// rebalance. Forced requests are never cached (they bypass consultation).
type cacheKey struct {
	asset  domain.Asset
	action domain.ActionType
	date   time.Time
}

// Orchestrator implements the Protection Orchestrator.
type Orchestrator struct {
	core      *core.Manager
	holding   *holding.Manager
	whipsaw   *whipsaw.Manager
	graceRepo store.GraceRepository
	sink      domain.EventSink
	sessionID string
	cfg       Config
	log       zerolog.Logger

	// Decisions are deterministic for a given request within one rebalance,
	// so repeated questions about the same asset/action are served from a
	// per-trace cache. The cache resets whenever a new trace begins.
	cacheMu    sync.Mutex
	cacheTrace string
	cache      map[cacheKey]domain.ProtectionDecision
}

// New creates an Orchestrator.
func New(coreMgr *core.Manager, holdingMgr *holding.Manager, whipsawMgr *whipsaw.Manager, graceRepo store.GraceRepository, sink domain.EventSink, sessionID string, cfg Config, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		core:      coreMgr,
		holding:   holdingMgr,
		whipsaw:   whipsawMgr,
		graceRepo: graceRepo,
		sink:      sink,
		sessionID: sessionID,
		cfg:       cfg,
		log:       log.With().Str("component", "protection_orchestrator").Logger(),
		cache:     make(map[cacheKey]domain.ProtectionDecision),
	}
}

// Decide evaluates req and returns the verdict. traceID identifies the
// rebalance run this request belongs to; it scopes the decision cache and
// is attached to the emitted event. A protection_decision event is emitted
// for every request, cached or not.
func (o *Orchestrator) Decide(req domain.ProtectionRequest, traceID string) domain.ProtectionDecision {
	if !req.Forced {
		if cached, ok := o.cachedDecision(req, traceID); ok {
			o.emit(req, cached, traceID)
			return cached
		}
	}

	start := time.Now()
	decision := o.decide(req)
	decision.TimingMS = float64(time.Since(start).Microseconds()) / 1000.0

	if !req.Forced {
		o.storeDecision(req, traceID, decision)
	}
	o.emit(req, decision, traceID)
	return decision
}

func (o *Orchestrator) cachedDecision(req domain.ProtectionRequest, traceID string) (domain.ProtectionDecision, bool) {
	o.cacheMu.Lock()
	defer o.cacheMu.Unlock()
	if o.cacheTrace != traceID {
		o.cacheTrace = traceID
		o.cache = make(map[cacheKey]domain.ProtectionDecision)
		return domain.ProtectionDecision{}, false
	}
	d, ok := o.cache[cacheKey{asset: req.Asset, action: req.Action, date: req.Date}]
	return d, ok
}

func (o *Orchestrator) storeDecision(req domain.ProtectionRequest, traceID string, d domain.ProtectionDecision) {
	o.cacheMu.Lock()
	defer o.cacheMu.Unlock()
	if o.cacheTrace != traceID {
		return
	}
	o.cache[cacheKey{asset: req.Asset, action: req.Action, date: req.Date}] = d
}

func (o *Orchestrator) decide(req domain.ProtectionRequest) domain.ProtectionDecision {
	if req.Forced {
		return domain.ProtectionDecision{
			Approved:         true,
			Reason:           "forced action bypasses protection checks",
			OverridingSystem: "forced",
		}
	}

	var consulted, blocking []string
	restricted := req.Action == domain.ActionTypeClose || req.Action == domain.ActionTypeDecrease

	// Priority 1: Core Asset Immunity.
	isCore := o.consultCore(req)
	consulted = append(consulted, "core")
	if isCore && restricted {
		if req.RegimeContext.Severity == domain.SeverityCritical && o.cfg.EnableRegimeOverrides {
			return domain.ProtectionDecision{Approved: true, Reason: "critical regime override of core immunity", OverridingSystem: "regime_override(core)", BlockingSystems: consulted}
		}
		blocking = append(blocking, "core")
		return domain.ProtectionDecision{Approved: false, Reason: "core_immunity", BlockingSystems: blocking}
	}

	// Priority 2: Regime Override — eligibility bypasses priorities 3-5 entirely.
	consulted = append(consulted, "regime_override")
	if o.holding != nil && o.consultRegimeOverride(req) {
		o.holding.RecordRegimeOverride(req.Asset, req.Date)
		return domain.ProtectionDecision{Approved: true, Reason: "regime override of lifecycle protections", OverridingSystem: "regime_override", BlockingSystems: consulted}
	}

	// Priority 3: Grace Period.
	consulted = append(consulted, "grace")
	if restricted && o.consultGrace(req) {
		blocking = append(blocking, "grace")
		return domain.ProtectionDecision{Approved: false, Reason: "grace_active", BlockingSystems: blocking}
	}

	// Priority 4: Holding Period.
	consulted = append(consulted, "holding")
	allowed, reason := o.consultHolding(req)
	if !allowed {
		blocking = append(blocking, "holding")
		return domain.ProtectionDecision{Approved: false, Reason: reason, BlockingSystems: blocking}
	}

	// Priority 5: Whipsaw Protection (lowest).
	consulted = append(consulted, "whipsaw")
	allowed, reason = o.consultWhipsaw(req)
	if !allowed {
		blocking = append(blocking, "whipsaw")
		return domain.ProtectionDecision{Approved: false, Reason: reason, BlockingSystems: blocking}
	}

	return domain.ProtectionDecision{Approved: true, Reason: "no protection system denied", BlockingSystems: consulted}
}

func (o *Orchestrator) consultCore(req domain.ProtectionRequest) (isCore bool) {
	defer o.recoverAsDeny("core", &isCore, true)
	if o.core == nil {
		return false
	}
	return o.core.IsCore(req.Asset, req.Date)
}

func (o *Orchestrator) consultRegimeOverride(req domain.ProtectionRequest) (eligible bool) {
	defer o.recoverAsDeny("regime_override", &eligible, false)
	if !o.cfg.EnableRegimeOverrides {
		return false
	}
	if severityRank(req.RegimeContext.Severity) < severityRank(o.cfg.RegimeSeverityThreshold) {
		return false
	}
	return o.holding.EligibleForRegimeOverride(req.Asset, req.Date, req.RegimeContext)
}

func (o *Orchestrator) consultGrace(req domain.ProtectionRequest) (active bool) {
	defer o.recoverAsDeny("grace", &active, true)
	if o.graceRepo == nil {
		return false
	}
	_, inGrace := o.graceRepo.Get(req.Asset)
	return inGrace
}

func (o *Orchestrator) consultHolding(req domain.ProtectionRequest) (allowed bool, reason string) {
	allowed, reason = true, "holding manager unavailable"
	defer func() {
		if r := recover(); r != nil {
			allowed, reason = false, "holding manager error; denying conservatively"
			o.log.Warn().Interface("panic", r).Str("asset", string(req.Asset)).Msg("holding manager panicked")
		}
	}()
	if o.holding == nil {
		return true, "holding manager unavailable"
	}
	allowed, reason, _ = o.holding.CanAdjust(req.Asset, req.Date, req.Action, req.RegimeContext)
	return allowed, reason
}

func (o *Orchestrator) consultWhipsaw(req domain.ProtectionRequest) (allowed bool, reason string) {
	allowed, reason = true, "whipsaw manager unavailable"
	defer func() {
		if r := recover(); r != nil {
			allowed, reason = false, "whipsaw manager error; denying conservatively"
			o.log.Warn().Interface("panic", r).Str("asset", string(req.Asset)).Msg("whipsaw manager panicked")
		}
	}()
	if o.whipsaw == nil {
		return true, "whipsaw manager unavailable"
	}
	switch req.Action {
	case domain.ActionTypeOpen:
		return o.whipsaw.CanOpen(req.Asset, req.Date)
	case domain.ActionTypeClose:
		openDate := req.Date
		if o.holding != nil {
			if age, ok := o.holding.Age(req.Asset); ok {
				openDate = age.EntryDate
			}
		}
		return o.whipsaw.CanClose(openDate, req.Date)
	default:
		return true, "whipsaw protection does not apply to this action"
	}
}

// recoverAsDeny recovers from a panicked consultation and sets *result to
// denyValue, treating a failed manager as a conservative deny.
func (o *Orchestrator) recoverAsDeny(system string, result *bool, denyValue bool) {
	if r := recover(); r != nil {
		*result = denyValue
		o.log.Warn().Interface("panic", r).Str("system", system).Msg("protection manager panicked; denying conservatively")
	}
}

func (o *Orchestrator) emit(req domain.ProtectionRequest, decision domain.ProtectionDecision, traceID string) {
	if o.sink == nil {
		return
	}
	kind := domain.EventProtectionDecision
	if !decision.Approved && len(decision.BlockingSystems) == 0 {
		kind = domain.EventProtectionError
	}
	o.sink.Emit(domain.Event{
		Timestamp: req.Date,
		Type:      kind,
		SessionID: o.sessionID,
		TraceID:   traceID,
		Asset:     req.Asset,
		Reason:    decision.Reason,
		Metadata: map[string]interface{}{
			"action":            string(req.Action),
			"approved":          decision.Approved,
			"overriding_system": decision.OverridingSystem,
			"blocking_systems":  decision.BlockingSystems,
			"timing_ms":         decision.TimingMS,
		},
	})
}

func severityRank(s domain.Severity) int {
	switch s {
	case domain.SeverityCritical:
		return 2
	case domain.SeverityHigh:
		return 1
	default:
		return 0
	}
}

// NewSessionID mints a fresh session identifier for an engine instance.
func NewSessionID() string {
	return uuid.NewString()
}
