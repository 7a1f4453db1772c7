package rebalancer

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/store"
)

type fakeRegime struct {
	ctx      domain.RegimeContext
	err      error
	trending []domain.Asset
}

func (f *fakeRegime) Regime(time.Time) (domain.RegimeContext, error) { return f.ctx, f.err }
func (f *fakeRegime) Trending(_ time.Time, candidates []domain.Asset, _ float64) ([]domain.Asset, error) {
	if f.trending != nil {
		return f.trending, nil
	}
	return candidates, nil
}

type fakeCatalog struct {
	members map[string][]domain.Asset
	bucket  map[domain.Asset]string
}

func (f *fakeCatalog) Assets(bucket string) []domain.Asset { return f.members[bucket] }
func (f *fakeCatalog) Bucket(asset domain.Asset) string {
	if b, ok := f.bucket[asset]; ok {
		return b
	}
	return domain.UnknownBucket
}
func (f *fakeCatalog) AllBuckets() []string {
	out := make([]string, 0, len(f.members))
	for b := range f.members {
		out = append(out, b)
	}
	return out
}

type fakeScores struct {
	technical   map[domain.Asset]float64
	fundamental map[domain.Asset]float64
}

func (f *fakeScores) Score(asset domain.Asset, _ time.Time) (float64, error) {
	v, ok := f.technical[asset]
	if !ok {
		return 0, assertErr("no technical data")
	}
	return v, nil
}

type fakeFundamental struct {
	scores map[domain.Asset]float64
}

func (f *fakeFundamental) Score(asset domain.Asset, _ time.Time, _ domain.Regime) (float64, error) {
	v, ok := f.scores[asset]
	if !ok {
		return 0, assertErr("no fundamental data")
	}
	return v, nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

type fakePrices struct {
	returns map[domain.Asset]float64
}

func (f *fakePrices) Return(asset domain.Asset, _, _ time.Time) (float64, error) {
	v, ok := f.returns[asset]
	if !ok {
		return 0, assertErr("no price data")
	}
	return v, nil
}

type recordingSink struct {
	events []domain.Event
}

func (s *recordingSink) Emit(ev domain.Event) { s.events = append(s.events, ev) }

func (s *recordingSink) kinds() []domain.EventKind {
	out := make([]domain.EventKind, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

func baseConfig() *config.Config {
	cfg := config.Default()
	cfg.Selection.MaxTotalPositions = 10
	cfg.Selection.MaxNewPositions = 10
	cfg.Selection.MinScoreThreshold = 0.5
	cfg.Selection.MinScoreNewPosition = 0.5
	cfg.Bucket.MaxPositionsPerBucket = 10
	cfg.Bucket.MinBucketsRepresented = 0
	cfg.Bucket.MaxAllocationPerBucket = 0
	cfg.Holding.MinHoldingPeriodDays = 0
	cfg.Whipsaw.MaxCyclesPerProtectionPeriod = 1
	cfg.Whipsaw.WhipsawProtectionDays = 14
	cfg.Whipsaw.MinPositionDurationHours = 0
	cfg.Core.MaxCoreAssets = 3
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, regime *fakeRegime, catalog *fakeCatalog, tech, fund map[domain.Asset]float64, prices map[domain.Asset]float64, sink domain.EventSink) (*Engine, *store.Repositories) {
	t.Helper()
	repos := store.NewMemory()
	deps := Deps{
		Regime:      regime,
		Buckets:     catalog,
		Technical:   &fakeScores{technical: tech},
		Fundamental: &fakeFundamental{scores: fund},
		Prices:      &fakePrices{returns: prices},
		Repos:       repos,
		Sink:        sink,
	}
	eng, err := New(deps, cfg, zerolog.Nop())
	require.NoError(t, err)
	return eng, repos
}

func targetFor(targets []domain.RebalancingTarget, asset domain.Asset) (domain.RebalancingTarget, bool) {
	for _, tg := range targets {
		if tg.Identifier == asset {
			return tg, true
		}
	}
	return domain.RebalancingTarget{}, false
}

// A held position absent from trending/regime candidates must still be
// evaluated rather than silently dropped from the universe.
func TestRebalance_ZombiePositionIsEvaluated(t *testing.T) {
	cfg := baseConfig()
	regime := &fakeRegime{
		ctx:      domain.RegimeContext{Regime: domain.RegimeGoldilocks, PreferredBuckets: []string{"Tech"}},
		trending: []domain.Asset{"AAPL"},
	}
	catalog := &fakeCatalog{
		members: map[string][]domain.Asset{"Tech": {"AAPL"}, "Energy": {"XOM"}},
		bucket:  map[domain.Asset]string{"AAPL": "Tech", "XOM": "Energy"},
	}
	tech := map[domain.Asset]float64{"AAPL": 0.9, "XOM": 0.8}
	fund := map[domain.Asset]float64{"AAPL": 0.9, "XOM": 0.8}

	eng, _ := newTestEngine(t, cfg, regime, catalog, tech, fund, nil, nil)
	targets, err := eng.Rebalance(time.Now(), map[domain.Asset]float64{"XOM": 0.2})
	require.NoError(t, err)

	_, ok := targetFor(targets, "XOM")
	assert.True(t, ok, "zombie holding XOM must be represented in the output")
}

// A held asset whose score drops below min_score_threshold
// enters grace instead of being closed outright, and decays over
// subsequent rebalances rather than closing immediately.
func TestRebalance_GraceStartThenDecay(t *testing.T) {
	cfg := baseConfig()
	regime := &fakeRegime{ctx: domain.RegimeContext{Regime: domain.RegimeGoldilocks}, trending: []domain.Asset{"AAPL"}}
	catalog := &fakeCatalog{
		members: map[string][]domain.Asset{"Tech": {"AAPL"}},
		bucket:  map[domain.Asset]string{"AAPL": "Tech"},
	}
	tech := map[domain.Asset]float64{"AAPL": 0.2}
	fund := map[domain.Asset]float64{"AAPL": 0.2}
	sink := &recordingSink{}

	eng, repos := newTestEngine(t, cfg, regime, catalog, tech, fund, nil, sink)
	day1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	targets, err := eng.Rebalance(day1, map[domain.Asset]float64{"AAPL": 0.30})
	require.NoError(t, err)

	tg, ok := targetFor(targets, "AAPL")
	require.True(t, ok)
	assert.Equal(t, domain.ActionHold, tg.Action, "grace start holds at the current size, it does not close")
	assert.Contains(t, sink.kinds(), domain.EventGraceStart)

	_, inGrace := repos.Grace.Get("AAPL")
	require.True(t, inGrace)

	day2 := day1.AddDate(0, 0, 1)
	targets2, err := eng.Rebalance(day2, map[domain.Asset]float64{"AAPL": 0.30})
	require.NoError(t, err)

	tg2, ok := targetFor(targets2, "AAPL")
	require.True(t, ok)
	assert.Less(t, tg2.TargetAlloc, 0.30, "a decay step exceeding the allocation band must shrink the position")
	assert.Contains(t, sink.kinds(), domain.EventGraceDecay)
}

// Whipsaw protection blocks re-opening a position that just
// completed a close/open cycle within the protection window.
func TestRebalance_WhipsawBlocksReopen(t *testing.T) {
	cfg := baseConfig()
	regime := &fakeRegime{ctx: domain.RegimeContext{Regime: domain.RegimeGoldilocks}, trending: []domain.Asset{"AAPL"}}
	catalog := &fakeCatalog{
		members: map[string][]domain.Asset{"Tech": {"AAPL"}},
		bucket:  map[domain.Asset]string{"AAPL": "Tech"},
	}
	tech := map[domain.Asset]float64{"AAPL": 0.9}
	fund := map[domain.Asset]float64{"AAPL": 0.9}

	eng, repos := newTestEngine(t, cfg, regime, catalog, tech, fund, nil, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	repos.Whipsaw.Append(domain.PositionEvent{Timestamp: now.AddDate(0, 0, -3), Asset: "AAPL", Type: domain.PositionEventOpen})
	repos.Whipsaw.Append(domain.PositionEvent{Timestamp: now.AddDate(0, 0, -1), Asset: "AAPL", Type: domain.PositionEventClose})

	targets, err := eng.Rebalance(now, map[domain.Asset]float64{})
	require.NoError(t, err)

	_, ok := targetFor(targets, "AAPL")
	assert.False(t, ok, "a denied open is dropped from the output entirely")
}

// A core-designated asset's allocation is immune to a
// collapsed score. Its score-weighted target shrinks well below its
// current size next to a much stronger competing candidate, but the
// resulting decrease is denied and downgraded to hold.
func TestRebalance_CoreImmunityOverridesLowScore(t *testing.T) {
	cfg := baseConfig()
	cfg.Core.CoreAssetExpiryDays = 90
	regime := &fakeRegime{ctx: domain.RegimeContext{Regime: domain.RegimeGoldilocks}, trending: []domain.Asset{"NVDA", "MSFT"}}
	catalog := &fakeCatalog{
		members: map[string][]domain.Asset{"Tech": {"NVDA", "MSFT"}},
		bucket:  map[domain.Asset]string{"NVDA": "Tech", "MSFT": "Tech"},
	}
	tech := map[domain.Asset]float64{"NVDA": 0.1, "MSFT": 0.9}
	fund := map[domain.Asset]float64{"NVDA": 0.1, "MSFT": 0.9}

	eng, repos := newTestEngine(t, cfg, regime, catalog, tech, fund, nil, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, eng.coreMgr.MarkAsCore("NVDA", now, 0.97, 0.5))

	targets, err := eng.Rebalance(now, map[domain.Asset]float64{"NVDA": 0.30})
	require.NoError(t, err)

	tg, ok := targetFor(targets, "NVDA")
	require.True(t, ok)
	assert.Equal(t, domain.ActionHold, tg.Action)
	assert.Equal(t, 0.30, tg.TargetAlloc, "core immunity keeps the position at its current size")
	assert.Equal(t, "core_immunity", tg.Reason)

	_, stillCore := repos.Core.Get("NVDA")
	assert.True(t, stillCore)
}

// When a bucket exceeds max_positions_per_bucket, a portfolio
// (held) asset is preserved via allow_bucket_overflow without consuming
// the bucket's position slot, while the lowest-scoring non-held candidate
// competing for that slot is rejected.
func TestRebalance_BucketOverflowPreservesPortfolioAsset(t *testing.T) {
	cfg := baseConfig()
	cfg.Bucket.MaxPositionsPerBucket = 1
	cfg.Bucket.AllowBucketOverflow = true
	cfg.Core.CoreAssetOverrideThreshold = 2 // disable smart diversification here
	regime := &fakeRegime{ctx: domain.RegimeContext{Regime: domain.RegimeGoldilocks}, trending: []domain.Asset{"AAPL", "MSFT", "GOOG"}}
	catalog := &fakeCatalog{
		members: map[string][]domain.Asset{"Tech": {"AAPL", "MSFT", "GOOG"}},
		bucket:  map[domain.Asset]string{"AAPL": "Tech", "MSFT": "Tech", "GOOG": "Tech"},
	}
	tech := map[domain.Asset]float64{"AAPL": 0.6, "MSFT": 0.95, "GOOG": 0.7}
	fund := map[domain.Asset]float64{"AAPL": 0.6, "MSFT": 0.95, "GOOG": 0.7}

	eng, _ := newTestEngine(t, cfg, regime, catalog, tech, fund, nil, nil)
	targets, err := eng.Rebalance(time.Now(), map[domain.Asset]float64{"AAPL": 0.10})
	require.NoError(t, err)

	aapl, ok := targetFor(targets, "AAPL")
	require.True(t, ok, "AAPL is a held portfolio asset and must survive the bucket cap")
	assert.NotEqual(t, domain.ActionClose, aapl.Action)

	msft, ok := targetFor(targets, "MSFT")
	require.True(t, ok, "MSFT is the top-scoring new candidate, winning the bucket's one non-exempt slot")
	assert.Equal(t, domain.ActionOpen, msft.Action)

	_, ok = targetFor(targets, "GOOG")
	assert.False(t, ok, "GOOG loses the single non-exempt bucket slot to MSFT and is dropped")
}

// With one selected position under equal weighting and no binding cap,
// Stage 1 already assigns it the whole target_total_allocation, so
// safe_top_slice has no residual to hand out and no CASH target appears.
func TestRebalance_SafeTopSliceSinglePositionNoResidual(t *testing.T) {
	cfg := baseConfig()
	cfg.Sizing.ResidualStrategy = domain.ResidualSafeTopSlice
	cfg.Sizing.SizingMode = domain.SizingEqualWeight
	cfg.Sizing.TargetTotalAllocation = 0.5
	cfg.Sizing.MaxSinglePosition = 1.0
	cfg.Sizing.MaxResidualPerAsset = 1.0
	cfg.Sizing.MaxResidualMultiple = 10
	cfg.Selection.MaxTotalPositions = 1
	cfg.Selection.MaxNewPositions = 1
	regime := &fakeRegime{ctx: domain.RegimeContext{Regime: domain.RegimeGoldilocks}, trending: []domain.Asset{"AAPL"}}
	catalog := &fakeCatalog{
		members: map[string][]domain.Asset{"Tech": {"AAPL"}},
		bucket:  map[domain.Asset]string{"AAPL": "Tech"},
	}
	tech := map[domain.Asset]float64{"AAPL": 0.9}
	fund := map[domain.Asset]float64{"AAPL": 0.9}

	eng, _ := newTestEngine(t, cfg, regime, catalog, tech, fund, nil, nil)
	targets, err := eng.Rebalance(time.Now(), map[domain.Asset]float64{})
	require.NoError(t, err)

	aapl, ok := targetFor(targets, "AAPL")
	require.True(t, ok)
	assert.InDelta(t, 0.5, aapl.TargetAlloc, 1e-9, "the sole position receives the full target allocation")

	_, hasCash := targetFor(targets, domain.CashAsset)
	assert.False(t, hasCash, "no residual is left, so no CASH target is emitted")
}

// A grace period that has run out forces the close through even when
// whipsaw protection would otherwise deny it: the forced close bypasses
// the protection stack.
func TestRebalance_GraceExpiryForcesCloseDespiteWhipsaw(t *testing.T) {
	cfg := baseConfig()
	cfg.Grace.GracePeriodDays = 5
	cfg.Whipsaw.MinPositionDurationHours = 24 * 365 // would deny any close this year
	regime := &fakeRegime{ctx: domain.RegimeContext{Regime: domain.RegimeGoldilocks}, trending: []domain.Asset{"TSLA"}}
	catalog := &fakeCatalog{
		members: map[string][]domain.Asset{"Tech": {"TSLA"}},
		bucket:  map[domain.Asset]string{"TSLA": "Tech"},
	}
	tech := map[domain.Asset]float64{"TSLA": 0.2}
	fund := map[domain.Asset]float64{"TSLA": 0.2}
	sink := &recordingSink{}

	eng, repos := newTestEngine(t, cfg, regime, catalog, tech, fund, nil, sink)
	day0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repos.Grace.Set(domain.GracePosition{
		StartDate: day0, Asset: "TSLA", OriginalSize: 0.15, OriginalScore: 0.4, CurrentSize: 0.06,
	})
	repos.Holding.Set(domain.PositionAge{Asset: "TSLA", EntryDate: day0})

	day6 := day0.AddDate(0, 0, 6)
	targets, err := eng.Rebalance(day6, map[domain.Asset]float64{"TSLA": 0.06})
	require.NoError(t, err)

	tg, ok := targetFor(targets, "TSLA")
	require.True(t, ok)
	assert.Equal(t, domain.ActionClose, tg.Action, "an expired grace period must close the position")
	assert.Equal(t, 0.0, tg.TargetAlloc)
	assert.Contains(t, sink.kinds(), domain.EventGraceForceClose)

	_, stillHeld := repos.Holding.Get("TSLA")
	assert.False(t, stillHeld, "the forced close clears the holding-age record")
}

// Non-close allocations plus cash never exceed target_total_allocation.
func TestRebalance_TotalAllocationWithinBudget(t *testing.T) {
	cfg := baseConfig()
	cfg.Sizing.TargetTotalAllocation = 0.95
	regime := &fakeRegime{ctx: domain.RegimeContext{Regime: domain.RegimeGoldilocks}}
	members := []domain.Asset{"A", "B", "C", "D", "E", "F", "G", "H"}
	bucketOf := make(map[domain.Asset]string, len(members))
	tech := make(map[domain.Asset]float64, len(members))
	fund := make(map[domain.Asset]float64, len(members))
	for i, a := range members {
		bucketOf[a] = "Tech"
		tech[a] = 0.55 + 0.05*float64(i)
		fund[a] = 0.55 + 0.05*float64(i)
	}
	catalog := &fakeCatalog{members: map[string][]domain.Asset{"Tech": members}, bucket: bucketOf}

	eng, _ := newTestEngine(t, cfg, regime, catalog, tech, fund, nil, nil)
	targets, err := eng.Rebalance(time.Now(), map[domain.Asset]float64{"A": 0.20})
	require.NoError(t, err)

	total := 0.0
	for _, tg := range targets {
		if tg.Action != domain.ActionClose {
			total += tg.TargetAlloc
		}
	}
	assert.LessOrEqual(t, total, cfg.Sizing.TargetTotalAllocation+1e-6)
}

// Identical inputs, state and config produce identical target lists.
func TestRebalance_Deterministic(t *testing.T) {
	run := func() []domain.RebalancingTarget {
		cfg := baseConfig()
		regime := &fakeRegime{ctx: domain.RegimeContext{Regime: domain.RegimeReflation}}
		catalog := &fakeCatalog{
			members: map[string][]domain.Asset{"Tech": {"AAPL", "MSFT", "GOOG"}, "Energy": {"XOM", "CVX"}},
			bucket: map[domain.Asset]string{
				"AAPL": "Tech", "MSFT": "Tech", "GOOG": "Tech", "XOM": "Energy", "CVX": "Energy",
			},
		}
		tech := map[domain.Asset]float64{"AAPL": 0.8, "MSFT": 0.8, "GOOG": 0.7, "XOM": 0.65, "CVX": 0.65}
		fund := map[domain.Asset]float64{"AAPL": 0.8, "MSFT": 0.8, "GOOG": 0.7, "XOM": 0.65, "CVX": 0.65}
		eng, _ := newTestEngine(t, cfg, regime, catalog, tech, fund, nil, nil)
		targets, err := eng.Rebalance(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), map[domain.Asset]float64{"XOM": 0.12, "AAPL": 0.10})
		require.NoError(t, err)
		return targets
	}

	first := run()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, run())
	}
}

// Idempotence of hold: rebalance, apply the resulting allocations, and
// rebalance again on the same date; the second pass must not propose any
// new opens or closes for the settled book.
func TestRebalance_HoldIdempotence(t *testing.T) {
	cfg := baseConfig()
	regime := &fakeRegime{ctx: domain.RegimeContext{Regime: domain.RegimeGoldilocks}}
	catalog := &fakeCatalog{
		members: map[string][]domain.Asset{"Tech": {"AAPL", "MSFT"}},
		bucket:  map[domain.Asset]string{"AAPL": "Tech", "MSFT": "Tech"},
	}
	tech := map[domain.Asset]float64{"AAPL": 0.8, "MSFT": 0.7}
	fund := map[domain.Asset]float64{"AAPL": 0.8, "MSFT": 0.7}

	eng, _ := newTestEngine(t, cfg, regime, catalog, tech, fund, nil, nil)
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	first, err := eng.Rebalance(date, map[domain.Asset]float64{})
	require.NoError(t, err)

	applied := make(map[domain.Asset]float64)
	for _, tg := range first {
		if tg.Identifier != domain.CashAsset && tg.Action != domain.ActionClose {
			applied[tg.Identifier] = tg.TargetAlloc
		}
	}
	require.NotEmpty(t, applied)

	second, err := eng.Rebalance(date, applied)
	require.NoError(t, err)
	for _, tg := range second {
		if tg.Identifier == domain.CashAsset {
			continue
		}
		assert.Equal(t, domain.ActionHold, tg.Action, "asset %s should settle to hold", tg.Identifier)
	}
}

// A held asset with no data in either scoring channel is retained at its
// previous allocation and marked hold.
func TestRebalance_MissingDataHoldingRetained(t *testing.T) {
	cfg := baseConfig()
	regime := &fakeRegime{ctx: domain.RegimeContext{Regime: domain.RegimeGoldilocks}}
	catalog := &fakeCatalog{
		members: map[string][]domain.Asset{"Tech": {"AAPL"}},
		bucket:  map[domain.Asset]string{"AAPL": "Tech", "DARK": domain.UnknownBucket},
	}
	tech := map[domain.Asset]float64{"AAPL": 0.8}
	fund := map[domain.Asset]float64{"AAPL": 0.8}

	eng, _ := newTestEngine(t, cfg, regime, catalog, tech, fund, nil, nil)
	targets, err := eng.Rebalance(time.Now(), map[domain.Asset]float64{"DARK": 0.07})
	require.NoError(t, err)

	tg, ok := targetFor(targets, "DARK")
	require.True(t, ok, "a held asset with no data must still be represented")
	assert.Equal(t, domain.ActionHold, tg.Action)
	assert.Equal(t, 0.07, tg.TargetAlloc)
	assert.Contains(t, tg.Reason, "missing data")
}

type fakeTradability struct {
	denyBuy  map[domain.Asset]bool
	denySell map[domain.Asset]bool
}

func (f *fakeTradability) Allowed(asset domain.Asset) (bool, bool) {
	return !f.denyBuy[asset], !f.denySell[asset]
}

// A sell-restricted holding keeps its allocation: the sizer's decrease is
// downgraded to hold before it ever reaches the protection stack.
func TestRebalance_SellRestrictedHoldingIsNotDecreased(t *testing.T) {
	cfg := baseConfig()
	regime := &fakeRegime{ctx: domain.RegimeContext{Regime: domain.RegimeGoldilocks}}
	catalog := &fakeCatalog{
		members: map[string][]domain.Asset{"Tech": {"AAPL", "MSFT"}},
		bucket:  map[domain.Asset]string{"AAPL": "Tech", "MSFT": "Tech"},
	}
	tech := map[domain.Asset]float64{"AAPL": 0.55, "MSFT": 0.9}
	fund := map[domain.Asset]float64{"AAPL": 0.55, "MSFT": 0.9}

	eng, err := New(Deps{
		Regime:      regime,
		Buckets:     catalog,
		Technical:   &fakeScores{technical: tech},
		Fundamental: &fakeFundamental{scores: fund},
		Tradability: &fakeTradability{denySell: map[domain.Asset]bool{"AAPL": true}},
		Repos:       store.NewMemory(),
	}, cfg, zerolog.Nop())
	require.NoError(t, err)

	targets, err := eng.Rebalance(time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC), map[domain.Asset]float64{"AAPL": 0.30})
	require.NoError(t, err)

	tg, ok := targetFor(targets, "AAPL")
	require.True(t, ok)
	assert.Equal(t, domain.ActionHold, tg.Action)
	assert.Equal(t, 0.30, tg.TargetAlloc)
	assert.Equal(t, "allow_sell=false", tg.Reason)
}

func TestRebalance_ConfigValidationErrorSurfacesAtConstruction(t *testing.T) {
	cfg := baseConfig()
	cfg.Selection.EnableTechnical = false
	cfg.Selection.EnableFundamental = false
	regime := &fakeRegime{}
	catalog := &fakeCatalog{members: map[string][]domain.Asset{}}

	_, err := New(Deps{Regime: regime, Buckets: catalog, Repos: store.NewMemory()}, cfg, zerolog.Nop())
	require.Error(t, err)
}
