// Package universe implements the Universe Builder: it merges current
// holdings, trending candidates and regime-bucket members into a single
// scored candidate set, guaranteeing that every held asset is always
// evaluated, so no held asset can linger unscored and unclosed.
package universe

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/domain"
)

// Candidate is one member of the combined universe, tagged with the
// highest-precedence source that surfaced it.
type Candidate struct {
	Asset              domain.Asset
	Priority           domain.Priority
	IsCurrentPosition  bool
	PreviousAllocation float64
}

// Builder implements the Universe Builder.
type Builder struct {
	regime  domain.RegimeProvider
	buckets domain.BucketCatalog
	log     zerolog.Logger
}

// New creates a Builder.
func New(regime domain.RegimeProvider, buckets domain.BucketCatalog, log zerolog.Logger) *Builder {
	return &Builder{
		regime:  regime,
		buckets: buckets,
		log:     log.With().Str("component", "universe_builder").Logger(),
	}
}

// Options controls an optional bucket filter and the trending-confidence floor.
type Options struct {
	BucketFilter          []string
	MinTrendingConfidence float64
}

// Build returns the combined universe for date given current holdings.
//
// Precedence for the Priority tag is holdings > trending > regime >
// fallback. Every asset in holdings is guaranteed to appear in the
// result regardless of any filter.
func (b *Builder) Build(date time.Time, holdings map[domain.Asset]float64, opts Options) ([]Candidate, error) {
	byAsset := make(map[domain.Asset]*Candidate)

	order := make([]domain.Asset, 0, len(holdings))
	upsert := func(asset domain.Asset, priority domain.Priority) {
		if existing, ok := byAsset[asset]; ok {
			if priority.HigherPriority(existing.Priority) {
				existing.Priority = priority
			}
			return
		}
		byAsset[asset] = &Candidate{Asset: asset, Priority: priority}
		order = append(order, asset)
	}

	// Holdings first: guarantees the zombie-position invariant regardless
	// of any bucket filter or trending/regime failure below. Sorted so the
	// candidate order is identical run to run.
	held := make([]domain.Asset, 0, len(holdings))
	for asset := range holdings {
		held = append(held, asset)
	}
	sort.Slice(held, func(i, j int) bool { return held[i] < held[j] })
	for _, asset := range held {
		upsert(asset, domain.PriorityPortfolio)
		byAsset[asset].IsCurrentPosition = true
		byAsset[asset].PreviousAllocation = holdings[asset]
	}

	regimeCtx, err := b.regime.Regime(date)
	if err != nil {
		b.log.Warn().Err(err).Msg("regime lookup failed; continuing with holdings only")
		regimeCtx = domain.RegimeContext{}
	}

	buckets := opts.BucketFilter
	if len(buckets) == 0 {
		buckets = regimeCtx.PreferredBuckets
	}
	if len(buckets) == 0 && b.buckets != nil {
		buckets = b.buckets.AllBuckets()
	}

	var bucketMembers []domain.Asset
	if b.buckets != nil {
		for _, bk := range buckets {
			bucketMembers = append(bucketMembers, b.buckets.Assets(bk)...)
		}
	}

	minConf := opts.MinTrendingConfidence
	trendingPool := make([]domain.Asset, 0, len(bucketMembers)+len(held))
	trendingPool = append(trendingPool, held...)
	trendingPool = append(trendingPool, bucketMembers...)

	trending, err := b.regime.Trending(date, trendingPool, minConf)
	if err != nil {
		b.log.Warn().Err(err).Msg("trending lookup failed; continuing without trending candidates")
		trending = nil
	}
	for _, asset := range trending {
		upsert(asset, domain.PriorityTrending)
	}

	for _, asset := range bucketMembers {
		upsert(asset, domain.PriorityRegime)
	}

	result := make([]Candidate, 0, len(order))
	for _, asset := range order {
		result = append(result, *byAsset[asset])
	}
	return result, nil
}
