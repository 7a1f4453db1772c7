// Package scoring implements the Scoring Service: it combines
// technical and fundamental sub-scores into a single 0-1 score per asset,
// fanning the per-asset work out to a small bounded worker pool
// and falling back gracefully when one channel is absent.
package scoring

import (
	"context"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/universe"
)

// Weights are the effective technical/fundamental analysis weights.
type Weights struct {
	Technical   float64
	Fundamental float64
}

// regimeAdjustment is the small multiplicative per-regime-family factor
// applied to the combined score. A regime with no entry here falls back
// to a neutral 1.0 multiplier.
var regimeAdjustment = map[domain.Regime]float64{
	domain.RegimeGoldilocks: 1.00,
	domain.RegimeReflation:  1.03,
	domain.RegimeInflation:  0.97,
	domain.RegimeDeflation:  0.95,
}

// Service implements the Scoring Service.
type Service struct {
	technical   domain.TechnicalAnalyzer
	fundamental domain.FundamentalAnalyzer
	log         zerolog.Logger

	enableTechnical   bool
	enableFundamental bool
	weights           Weights
	stickinessBoost   float64
	maxParallelism    int
}

// Config controls the Scoring Service's behavior.
type Config struct {
	EnableTechnical   bool
	EnableFundamental bool
	Weights           Weights
	StickinessBoost   float64
	// MaxParallelism bounds the scoring worker pool; 0 selects runtime.NumCPU().
	MaxParallelism int
}

// New creates a Service. It is a configuration error for both
// channels to be disabled; callers are expected to have validated this via
// config.Validate before constructing a Service.
func New(technical domain.TechnicalAnalyzer, fundamental domain.FundamentalAnalyzer, cfg Config, log zerolog.Logger) *Service {
	parallelism := cfg.MaxParallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	return &Service{
		technical:         technical,
		fundamental:       fundamental,
		log:               log.With().Str("component", "scoring_service").Logger(),
		enableTechnical:   cfg.EnableTechnical && technical != nil,
		enableFundamental: cfg.EnableFundamental && fundamental != nil,
		weights:           cfg.Weights,
		stickinessBoost:   cfg.StickinessBoost,
		maxParallelism:    parallelism,
	}
}

// result is the per-asset scoring outcome, including a possible skip.
type result struct {
	score  domain.AssetScore
	skip   bool
	reason string
}

// ScoreUniverse scores every candidate for date under regime. Output order
// matches the input candidate order regardless of completion order.
// Per-asset errors are non-fatal: the asset is skipped and reported
// in the second return value rather than failing the whole call.
func (s *Service) ScoreUniverse(date time.Time, regimeCtx domain.RegimeContext, candidates []universe.Candidate) ([]domain.AssetScore, []domain.DataAbsenceError) {
	results := make([]result, len(candidates))

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(s.maxParallelism)

	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			results[i] = s.scoreOne(date, regimeCtx, c)
			return nil
		})
	}
	_ = g.Wait() // scoreOne never returns an error; per-asset failures are recorded in result

	scores := make([]domain.AssetScore, 0, len(candidates))
	var absences []domain.DataAbsenceError
	for _, r := range results {
		if r.skip {
			absences = append(absences, domain.DataAbsenceError{Asset: r.score.Identifier, Reason: r.reason})
			continue
		}
		scores = append(scores, r.score)
	}
	return scores, absences
}

func (s *Service) scoreOne(date time.Time, regimeCtx domain.RegimeContext, c universe.Candidate) result {
	var (
		technical   float64
		fundamental float64
		haveTech    bool
		haveFund    bool
	)

	if s.enableTechnical {
		v, err := s.technical.Score(c.Asset, date)
		if err != nil {
			s.log.Debug().Str("asset", string(c.Asset)).Err(err).Msg("technical score unavailable")
		} else {
			technical = v
			haveTech = true
		}
	}
	if s.enableFundamental {
		v, err := s.fundamental.Score(c.Asset, date, regimeCtx.Regime)
		if err != nil {
			s.log.Debug().Str("asset", string(c.Asset)).Err(err).Msg("fundamental score unavailable")
		} else {
			fundamental = v
			haveFund = true
		}
	}

	if !haveTech && !haveFund {
		return result{
			score:  domain.AssetScore{Identifier: c.Asset, Date: date},
			skip:   true,
			reason: "no technical or fundamental data available",
		}
	}

	wTech, wFund := s.effectiveWeights(haveTech, haveFund)
	combined := technical*wTech + fundamental*wFund

	if adj, ok := regimeAdjustment[regimeCtx.Regime]; ok {
		combined *= adj
	}
	// Stickiness applies after the regime adjustment, so a portfolio
	// asset's boost is computed on the regime-adjusted combined score
	// rather than the raw weighted mix.
	if c.Priority == domain.PriorityPortfolio && s.stickinessBoost > 0 {
		combined *= s.stickinessBoost
	}
	combined = clamp01(combined)

	return result{score: domain.AssetScore{
		Date:               date,
		Identifier:         c.Asset,
		Regime:             regimeCtx.Regime,
		Priority:           c.Priority,
		Technical:          technical,
		Fundamental:        fundamental,
		Combined:           combined,
		PreviousAllocation: c.PreviousAllocation,
		IsCurrentPosition:  c.IsCurrentPosition,
		MissingTechnical:   !haveTech,
		MissingFundamental: !haveFund,
	}}
}

// effectiveWeights returns the weights to use given which channels
// produced data this rebalance: if a channel is disabled or returned no
// data, the other's weight becomes 1.
func (s *Service) effectiveWeights(haveTech, haveFund bool) (float64, float64) {
	switch {
	case haveTech && haveFund:
		return s.weights.Technical, s.weights.Fundamental
	case haveTech:
		return 1, 0
	case haveFund:
		return 0, 1
	default:
		return 0, 0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
