// Package rebalancer implements the Rebalancer Engine: the top-level
// pipeline that runs the Universe Builder, Scoring Service, Bucket Limits
// Enforcer and Dynamic Position Sizer to produce tentative targets, then
// clears every mutating action through the Protection Orchestrator before
// committing anything to the lifecycle stores.
package rebalancer

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/buckets"
	"github.com/aristath/rebalancer/internal/modules/core"
	"github.com/aristath/rebalancer/internal/modules/grace"
	"github.com/aristath/rebalancer/internal/modules/holding"
	"github.com/aristath/rebalancer/internal/modules/protection"
	"github.com/aristath/rebalancer/internal/modules/scoring"
	"github.com/aristath/rebalancer/internal/modules/sizing"
	"github.com/aristath/rebalancer/internal/modules/universe"
	"github.com/aristath/rebalancer/internal/modules/whipsaw"
	"github.com/aristath/rebalancer/internal/store"
)

const (
	allocationBand  = 0.05
	positionEpsilon = 1e-9
)

// Deps bundles every external collaborator the Rebalancer Engine consumes.
// Regime, Buckets, Technical, Fundamental and Prices are read-only
// boundaries the host application supplies; their own computation is out
// of scope here. Tradability is optional and may be nil.
type Deps struct {
	Regime      domain.RegimeProvider
	Buckets     domain.BucketCatalog
	Technical   domain.TechnicalAnalyzer
	Fundamental domain.FundamentalAnalyzer
	Prices      domain.PriceProvider
	Tradability domain.Tradability
	Repos       *store.Repositories
	Sink        domain.EventSink
}

// Engine implements the Rebalancer Engine.
type Engine struct {
	cfg *config.Config
	log zerolog.Logger

	regime      domain.RegimeProvider
	catalog     domain.BucketCatalog
	tradability domain.Tradability
	sink        domain.EventSink

	universeBuilder *universe.Builder
	scorer          *scoring.Service
	bucketEnforcer  *buckets.Enforcer
	graceMgr        *grace.Manager
	holdingMgr      *holding.Manager
	whipsawMgr      *whipsaw.Manager
	coreMgr         *core.Manager
	orchestrator    *protection.Orchestrator

	repos     *store.Repositories
	sessionID string
}

// New builds an Engine wiring every sub-component from cfg. It returns a
// *domain.ConfigError if cfg or deps fail validation; this is
// the only place a configuration problem can surface, never mid-rebalance.
func New(deps Deps, cfg *config.Config, log zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Regime == nil {
		return nil, domain.NewConfigError("regime", "a RegimeProvider is required")
	}
	if deps.Repos == nil {
		return nil, domain.NewConfigError("repos", "Repositories is required")
	}

	log = log.With().Str("component", "rebalancer_engine").Logger()
	sessionID := protection.NewSessionID()

	universeBuilder := universe.New(deps.Regime, deps.Buckets, log)
	scorer := scoring.New(deps.Technical, deps.Fundamental, scoring.Config{
		EnableTechnical:   cfg.Selection.EnableTechnical,
		EnableFundamental: cfg.Selection.EnableFundamental,
		Weights: scoring.Weights{
			Technical:   cfg.Selection.TechnicalWeight,
			Fundamental: cfg.Selection.FundamentalWeight,
		},
		StickinessBoost: cfg.Selection.StickinessBoost,
	}, log)
	bucketEnforcer := buckets.New(deps.Buckets, buckets.Config{
		Enabled:                cfg.Bucket.EnableDiversification,
		MaxPositionsPerBucket:  cfg.Bucket.MaxPositionsPerBucket,
		MaxAllocationPerBucket: cfg.Bucket.MaxAllocationPerBucket,
		MinBucketsRepresented:  cfg.Bucket.MinBucketsRepresented,
		AllowBucketOverflow:    cfg.Bucket.AllowBucketOverflow,
	}, log)
	graceMgr := grace.New(deps.Repos.Grace, grace.Config{
		Enabled:           cfg.Grace.EnableGracePeriods,
		GracePeriodDays:   cfg.Grace.GracePeriodDays,
		GraceDecayRate:    cfg.Grace.GraceDecayRate,
		MinDecayFactor:    cfg.Grace.MinDecayFactor,
		MinScoreThreshold: cfg.Selection.MinScoreThreshold,
	}, log)
	holdingMgr := holding.New(deps.Repos.Holding, holding.Config{
		MinHoldingPeriodDays:       cfg.Holding.MinHoldingPeriodDays,
		MaxHoldingPeriodDays:       cfg.Holding.MaxHoldingPeriodDays,
		EnableRegimeOverrides:      cfg.Holding.EnableRegimeOverrides,
		RegimeOverrideCooldownDays: cfg.Holding.RegimeOverrideCooldownDays,
		RegimeSeverityThreshold:    cfg.Holding.RegimeSeverityThreshold,
	}, log)
	whipsawMgr := whipsaw.New(deps.Repos.Whipsaw, whipsaw.Config{
		Enabled:                      cfg.Whipsaw.EnableWhipsawProtection,
		MaxCyclesPerProtectionPeriod: cfg.Whipsaw.MaxCyclesPerProtectionPeriod,
		WhipsawProtectionDays:        cfg.Whipsaw.WhipsawProtectionDays,
		MinPositionDurationHours:     cfg.Whipsaw.MinPositionDurationHours,
		RetentionDays:                eventRetentionDays(cfg),
	}, log)
	coreMgr := core.New(deps.Repos.Core, deps.Buckets, deps.Prices, core.Config{
		Enabled:                            cfg.Core.EnableCoreAssetManagement,
		CoreAssetOverrideThreshold:         cfg.Core.CoreAssetOverrideThreshold,
		CoreAssetExpiryDays:                cfg.Core.CoreAssetExpiryDays,
		CoreAssetUnderperformanceThreshold: cfg.Core.CoreAssetUnderperformanceThreshold,
		CoreAssetUnderperformancePeriod:    cfg.Core.CoreAssetUnderperformancePeriodDays,
		MaxCoreAssets:                      cfg.Core.MaxCoreAssets,
		CoreAssetExtensionLimit:            cfg.Core.CoreAssetExtensionLimit,
		CoreAssetPerformanceCheckFrequency: cfg.Core.CoreAssetPerformanceCheckFrequencyDays,
	}, log)
	orchestrator := protection.New(coreMgr, holdingMgr, whipsawMgr, deps.Repos.Grace, deps.Sink, sessionID, protection.Config{
		EnableRegimeOverrides:   cfg.Holding.EnableRegimeOverrides,
		RegimeSeverityThreshold: cfg.Holding.RegimeSeverityThreshold,
	}, log)

	return &Engine{
		cfg:             cfg,
		log:             log,
		regime:          deps.Regime,
		catalog:         deps.Buckets,
		tradability:     deps.Tradability,
		sink:            deps.Sink,
		universeBuilder: universeBuilder,
		scorer:          scorer,
		bucketEnforcer:  bucketEnforcer,
		graceMgr:        graceMgr,
		holdingMgr:      holdingMgr,
		whipsawMgr:      whipsawMgr,
		coreMgr:         coreMgr,
		orchestrator:    orchestrator,
		repos:           deps.Repos,
		sessionID:       sessionID,
	}, nil
}

// commit is one lifecycle-store mutation queued for the single commit phase
// at the end of Rebalance: every mutating
// action the engine itself owns (holding age, whipsaw history) is applied
// only after every decision for this rebalance has cleared protection.
type commit struct {
	asset  domain.Asset
	action domain.Action
	date   time.Time
	size   float64
}

// Rebalance computes the full set of rebalancing targets for date given the
// current portfolio holdings. By the time it returns, every
// mutating target has cleared the Protection Orchestrator and the
// corresponding holding-age and whipsaw history updates have been
// committed. A denied open is dropped from the result; any other denied
// mutation is downgraded to hold at its current size.
func (e *Engine) Rebalance(date time.Time, holdings map[domain.Asset]float64) ([]domain.RebalancingTarget, error) {
	traceID := uuid.NewString()

	regimeCtx, err := e.regime.Regime(date)
	if err != nil {
		e.log.Warn().Err(err).Msg("regime lookup failed; continuing with a neutral regime context")
		regimeCtx = domain.RegimeContext{}
	}

	candidates, err := e.universeBuilder.Build(date, holdings, universe.Options{
		MinTrendingConfidence: e.cfg.Selection.MinTrendingConfidence,
	})
	if err != nil {
		return nil, fmt.Errorf("universe build failed: %w", err)
	}

	scores, absences := e.scorer.ScoreUniverse(date, regimeCtx, candidates)
	scoreByAsset := make(map[domain.Asset]domain.AssetScore, len(scores))
	for _, s := range scores {
		scoreByAsset[s.Identifier] = s
	}

	var targets []domain.RebalancingTarget
	handled := make(map[domain.Asset]bool, len(absences))
	for _, abs := range absences {
		handled[abs.Asset] = true
		if current, held := holdings[abs.Asset]; held {
			targets = append(targets, domain.RebalancingTarget{
				Identifier:   abs.Asset,
				Action:       domain.ActionHold,
				Priority:     domain.PriorityPortfolio,
				Reason:       "missing data: " + abs.Reason,
				TargetAlloc:  current,
				CurrentAlloc: current,
			})
		}
		e.log.Debug().Str("asset", string(abs.Asset)).Str("reason", abs.Reason).Msg("asset excluded from scoring: data absent")
	}

	tentativeAlloc := e.estimateTentativeAllocations(scores)
	kept, rejections := e.bucketEnforcer.Apply(scores, tentativeAlloc)
	keptByAsset := make(map[domain.Asset]domain.AssetScore, len(kept))
	for _, s := range kept {
		keptByAsset[s.Identifier] = s
	}

	for _, rev := range e.coreMgr.PerformLifecycleCheck(date) {
		e.emit(domain.EventCoreRevoked, date, rev.Asset, traceID, rev.Reason, nil)
	}

	for _, rej := range rejections {
		score, ok := scoreByAsset[rej.Asset]
		if !ok || score.IsCurrentPosition {
			continue // current positions are handled by the held-asset pass below, not smart diversification
		}
		bucketAvg := e.bucketAverageScore(rej.Bucket, kept)
		if e.coreMgr.ConsiderSmartDiversification(rej.Asset, date, score.Combined, bucketAvg) {
			keptByAsset[rej.Asset] = score
			e.emit(domain.EventCoreMarked, date, rej.Asset, traceID, "smart diversification override of bucket limits", nil)
		}
	}

	var selected []domain.AssetScore
	var commits []commit

	heldAssets := sortedAssets(holdings)
	for _, asset := range heldAssets {
		if handled[asset] {
			continue
		}
		score, ok := scoreByAsset[asset]
		if !ok {
			continue
		}
		current := holdings[asset]
		isCore := e.coreMgr.IsCore(asset, date)

		graceAction, graceSize, graceReason := domain.GraceActionHold, current, "core-immune; not evaluated for grace"
		if !isCore {
			graceAction, graceSize, graceReason = e.graceMgr.Evaluate(date, asset, score.Combined, current)
		}

		switch graceAction {
		case domain.GraceActionStart:
			e.emit(domain.EventGraceStart, date, asset, traceID, graceReason, nil)
			targets = append(targets, domain.RebalancingTarget{
				Identifier: asset, Action: domain.ActionHold, Priority: score.Priority,
				Reason: graceReason, TargetAlloc: current, CurrentAlloc: current, Score: score.Combined,
			})

		case domain.GraceActionDecay:
			e.emit(domain.EventGraceDecay, date, asset, traceID, graceReason, map[string]interface{}{"new_size": graceSize})
			action := deriveAction(current, graceSize, allocationBand)
			final := graceSize
			if action == domain.ActionHold {
				final = current
			} else {
				commits = append(commits, commit{asset: asset, action: domain.ActionDecrease, date: date, size: graceSize})
				e.emit(domain.EventPositionAdjust, date, asset, traceID, graceReason, map[string]interface{}{"size": graceSize})
			}
			targets = append(targets, domain.RebalancingTarget{
				Identifier: asset, Action: action, Priority: score.Priority,
				Reason: graceReason, TargetAlloc: final, CurrentAlloc: current, Score: score.Combined,
			})

		case domain.GraceActionForceClose:
			req := domain.ProtectionRequest{
				Date: date, Asset: asset, Action: domain.ActionTypeClose, Reason: graceReason,
				CurrentSize: current, TargetSize: 0, RegimeContext: regimeCtx, Forced: true,
			}
			decision := e.orchestrator.Decide(req, traceID)
			e.emit(domain.EventGraceForceClose, date, asset, traceID, graceReason, nil)
			commits = append(commits, commit{asset: asset, action: domain.ActionClose, date: date})
			e.emit(domain.EventPositionClose, date, asset, traceID, decision.Reason, nil)
			targets = append(targets, domain.RebalancingTarget{
				Identifier: asset, Action: domain.ActionClose, Priority: score.Priority,
				Reason: graceReason, TargetAlloc: 0, CurrentAlloc: current, Score: score.Combined,
			})

		default: // GraceActionRecovery or GraceActionHold
			if graceAction == domain.GraceActionRecovery {
				e.emit(domain.EventGraceRecovery, date, asset, traceID, graceReason, nil)
			}
			passesThreshold := graceAction == domain.GraceActionRecovery || score.Combined >= e.cfg.Selection.MinScoreThreshold || isCore
			_, inBucketPool := keptByAsset[asset]
			if passesThreshold && (inBucketPool || isCore) {
				selected = append(selected, score)
				continue
			}
			reason := "combined score below min_score_threshold"
			if passesThreshold && !inBucketPool {
				reason = "rejected by bucket diversification limits"
			}
			target, decisionReason := e.attemptClose(date, asset, current, reason, regimeCtx, traceID, &commits)
			targets = append(targets, domain.RebalancingTarget{
				Identifier: asset, Action: target.action, Priority: score.Priority,
				Reason: decisionReason, TargetAlloc: target.alloc, CurrentAlloc: current, Score: score.Combined,
			})
		}
	}

	selected = append(selected, e.selectNewCandidates(kept, holdings, selected)...)

	coreAssets := make(map[domain.Asset]bool, len(selected))
	for _, s := range selected {
		if e.coreMgr.IsCore(s.Identifier, date) {
			coreAssets[s.Identifier] = true
		}
	}
	sizer := sizing.New(sizing.Config{
		EnableDynamicSizing:   e.cfg.Sizing.EnableDynamicSizing,
		SizingMode:            e.cfg.Sizing.SizingMode,
		MaxSinglePosition:     e.cfg.Sizing.MaxSinglePosition,
		MinPositionSize:       e.cfg.Sizing.MinPositionSize,
		TargetTotalAllocation: e.cfg.Sizing.TargetTotalAllocation,
		ResidualStrategy:      e.cfg.Sizing.ResidualStrategy,
		MaxResidualPerAsset:   e.cfg.Sizing.MaxResidualPerAsset,
		MaxResidualMultiple:   e.cfg.Sizing.MaxResidualMultiple,
		EnableTwoStageSizing:  e.cfg.Sizing.EnableTwoStageSizing,
		CoreAssets:            coreAssets,
	}, e.log)
	sizes, cash := sizer.Size(selected)

	sort.SliceStable(selected, func(i, j int) bool { return selected[i].Identifier < selected[j].Identifier })
	for _, score := range selected {
		asset := score.Identifier
		current := holdings[asset]
		target := sizes[asset]
		action := deriveAction(current, target, allocationBand)
		reason := fmt.Sprintf("scored %.4f; sized to %.4f by the position sizer", score.Combined, target)

		if e.tradability != nil {
			allowBuy, allowSell := e.tradability.Allowed(asset)
			if (action == domain.ActionOpen || action == domain.ActionIncrease) && !allowBuy {
				action, target, reason = domain.ActionHold, current, "allow_buy=false"
			}
			if (action == domain.ActionClose || action == domain.ActionDecrease) && !allowSell {
				action, target, reason = domain.ActionHold, current, "allow_sell=false"
			}
		}

		if !action.IsMutating() {
			targets = append(targets, domain.RebalancingTarget{
				Identifier: asset, Action: domain.ActionHold, Priority: score.Priority,
				Reason: reason, TargetAlloc: current, CurrentAlloc: current, Score: score.Combined,
			})
			continue
		}

		req := domain.ProtectionRequest{
			Date: date, Asset: asset, Action: actionType(action), Reason: reason,
			CurrentSize: current, TargetSize: target, RegimeContext: regimeCtx,
		}
		decision := e.orchestrator.Decide(req, traceID)
		if !decision.Approved {
			if action == domain.ActionOpen {
				continue // denied opens are dropped entirely
			}
			targets = append(targets, domain.RebalancingTarget{
				Identifier: asset, Action: domain.ActionHold, Priority: score.Priority,
				Reason: decision.Reason, TargetAlloc: current, CurrentAlloc: current, Score: score.Combined,
			})
			continue
		}

		commits = append(commits, commit{asset: asset, action: action, date: date, size: target})
		e.emitMutation(action, date, asset, traceID, decision.Reason, target)
		targets = append(targets, domain.RebalancingTarget{
			Identifier: asset, Action: action, Priority: score.Priority,
			Reason: reason, TargetAlloc: target, CurrentAlloc: current, Score: score.Combined,
		})
	}

	e.applyCommits(commits)

	if cash > positionEpsilon {
		targets = append(targets, domain.RebalancingTarget{
			Identifier: domain.CashAsset, Action: domain.ActionHold, Priority: domain.PriorityFallback,
			Reason: "residual allocation not deployed to any position", TargetAlloc: cash, CurrentAlloc: 0,
		})
	}

	sort.SliceStable(targets, func(i, j int) bool { return targets[i].Identifier < targets[j].Identifier })
	return targets, nil
}

type closeOutcome struct {
	action domain.Action
	alloc  float64
}

// attemptClose routes a non-forced close through the Protection Orchestrator,
// queuing the holding/whipsaw commit if approved. A denial downgrades the
// outcome to hold at the current size.
func (e *Engine) attemptClose(date time.Time, asset domain.Asset, current float64, reason string, regimeCtx domain.RegimeContext, traceID string, commits *[]commit) (closeOutcome, string) {
	req := domain.ProtectionRequest{
		Date: date, Asset: asset, Action: domain.ActionTypeClose, Reason: reason,
		CurrentSize: current, TargetSize: 0, RegimeContext: regimeCtx,
	}
	decision := e.orchestrator.Decide(req, traceID)
	if !decision.Approved {
		return closeOutcome{action: domain.ActionHold, alloc: current}, decision.Reason
	}
	*commits = append(*commits, commit{asset: asset, action: domain.ActionClose, date: date})
	e.emit(domain.EventPositionClose, date, asset, traceID, decision.Reason, nil)
	return closeOutcome{action: domain.ActionClose, alloc: 0}, reason
}

// selectNewCandidates returns the non-held, bucket-surviving candidates that
// clear min_score_new_position, ordered by combined score descending (ties
// broken lexicographically), bounded by max_new_positions and the remaining
// max_total_positions headroom.
func (e *Engine) selectNewCandidates(kept []domain.AssetScore, holdings map[domain.Asset]float64, selectedSoFar []domain.AssetScore) []domain.AssetScore {
	var candidates []domain.AssetScore
	for _, s := range kept {
		if s.IsCurrentPosition {
			continue
		}
		if _, held := holdings[s.Identifier]; held {
			continue
		}
		if s.Combined >= e.cfg.Selection.MinScoreNewPosition {
			candidates = append(candidates, s)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Combined != candidates[j].Combined {
			return candidates[i].Combined > candidates[j].Combined
		}
		return candidates[i].Identifier < candidates[j].Identifier
	})

	limit := e.cfg.Selection.MaxNewPositions
	headroom := e.cfg.Selection.MaxTotalPositions - len(selectedSoFar)
	if headroom < limit {
		limit = headroom
	}
	if limit < 0 {
		limit = 0
	}
	if limit > len(candidates) {
		limit = len(candidates)
	}
	return candidates[:limit]
}

// estimateTentativeAllocations approximates each scored asset's eventual
// allocation share using the same score-weighted proportion the Dynamic
// Position Sizer would produce in score_weighted mode, solely so the
// Bucket Limits Enforcer's per-bucket allocation cap has something to
// measure before the real sizing pass runs.
func (e *Engine) estimateTentativeAllocations(scores []domain.AssetScore) map[domain.Asset]float64 {
	alloc := make(map[domain.Asset]float64, len(scores))
	if len(scores) == 0 {
		return alloc
	}
	sumCombined := 0.0
	for _, s := range scores {
		sumCombined += s.Combined
	}
	total := e.cfg.Sizing.TargetTotalAllocation
	for _, s := range scores {
		if sumCombined > 0 {
			alloc[s.Identifier] = total * (s.Combined / sumCombined)
		} else {
			alloc[s.Identifier] = total / float64(len(scores))
		}
	}
	return alloc
}

// bucketAverageScore averages the combined score of bucket's surviving
// members, used only as the bucket_avg context recorded on a smart
// diversification core designation.
func (e *Engine) bucketAverageScore(bucket string, kept []domain.AssetScore) float64 {
	sum, n := 0.0, 0
	for _, s := range kept {
		if e.assetBucket(s.Identifier) == bucket {
			sum += s.Combined
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func (e *Engine) assetBucket(asset domain.Asset) string {
	if e.catalog == nil {
		return domain.UnknownBucket
	}
	return e.catalog.Bucket(asset)
}

// applyCommits performs the single, end-of-rebalance commit phase for the
// holding-age and whipsaw-history bookkeeping the engine owns directly:
// nothing here is written until every target for this rebalance has
// cleared protection.
func (e *Engine) applyCommits(commits []commit) {
	for _, c := range commits {
		switch c.action {
		case domain.ActionOpen:
			e.holdingMgr.RecordOpen(c.asset, c.date, c.size)
			e.whipsawMgr.RecordEvent(domain.PositionEvent{Timestamp: c.date, Asset: c.asset, Type: domain.PositionEventOpen, Size: c.size})
		case domain.ActionClose:
			e.holdingMgr.Clear(c.asset)
			e.whipsawMgr.RecordEvent(domain.PositionEvent{Timestamp: c.date, Asset: c.asset, Type: domain.PositionEventClose})
		case domain.ActionIncrease, domain.ActionDecrease:
			e.holdingMgr.RecordAdjust(c.asset, c.date)
			e.whipsawMgr.RecordEvent(domain.PositionEvent{Timestamp: c.date, Asset: c.asset, Type: domain.PositionEventAdjust, Size: c.size})
		}
	}
}

func (e *Engine) emitMutation(action domain.Action, date time.Time, asset domain.Asset, traceID, reason string, size float64) {
	switch action {
	case domain.ActionOpen:
		e.emit(domain.EventPositionOpen, date, asset, traceID, reason, map[string]interface{}{"size": size})
	case domain.ActionClose:
		e.emit(domain.EventPositionClose, date, asset, traceID, reason, nil)
	case domain.ActionIncrease, domain.ActionDecrease:
		e.emit(domain.EventPositionAdjust, date, asset, traceID, reason, map[string]interface{}{"size": size})
	}
}

func (e *Engine) emit(kind domain.EventKind, date time.Time, asset domain.Asset, traceID, reason string, metadata map[string]interface{}) {
	if e.sink == nil {
		return
	}
	e.sink.Emit(domain.Event{
		Timestamp: date, Type: kind, SessionID: e.sessionID, TraceID: traceID,
		Asset: asset, Reason: reason, Metadata: metadata,
	})
}

// deriveAction compares target against current within a band, translating
// the comparison into one of the five Actions.
func deriveAction(current, target, band float64) domain.Action {
	switch {
	case current <= positionEpsilon && target > positionEpsilon:
		return domain.ActionOpen
	case target <= positionEpsilon:
		return domain.ActionClose
	case target-current > band:
		return domain.ActionIncrease
	case current-target > band:
		return domain.ActionDecrease
	default:
		return domain.ActionHold
	}
}

func actionType(a domain.Action) domain.ActionType {
	switch a {
	case domain.ActionOpen:
		return domain.ActionTypeOpen
	case domain.ActionIncrease:
		return domain.ActionTypeIncrease
	case domain.ActionDecrease:
		return domain.ActionTypeDecrease
	default:
		return domain.ActionTypeClose
	}
}

// eventRetentionDays is the widest window any lifecycle manager still reads,
// plus a buffer, so pruned event history can never change a protection
// decision.
func eventRetentionDays(cfg *config.Config) int {
	retention := cfg.Whipsaw.WhipsawProtectionDays
	if cfg.Holding.MaxHoldingPeriodDays > retention {
		retention = cfg.Holding.MaxHoldingPeriodDays
	}
	if cfg.Core.CoreAssetExpiryDays > retention {
		retention = cfg.Core.CoreAssetExpiryDays
	}
	return retention + 30
}

func sortedAssets(m map[domain.Asset]float64) []domain.Asset {
	out := make([]domain.Asset, 0, len(m))
	for a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
