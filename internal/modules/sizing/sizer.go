// Package sizing implements the Dynamic Position Sizer: a two-stage
// allocator that derives base sizes from scores, caps and redistributes
// around the single-position ceiling, then disposes of any residual budget.
package sizing

import (
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/domain"
)

const defaultMaxIterations = 10

// Config controls the Dynamic Position Sizer.
type Config struct {
	EnableDynamicSizing   bool
	SizingMode            domain.SizingMode
	MaxSinglePosition     float64
	MinPositionSize       float64
	TargetTotalAllocation float64
	ResidualStrategy      domain.ResidualStrategy
	MaxResidualPerAsset   float64
	MaxResidualMultiple   float64
	EnableTwoStageSizing  bool
	// MaxIterations bounds Stage 2's cap/redistribute loop; 0 selects a sane default.
	MaxIterations int
	// CoreAssets identifies assets immune to the single-position cap.
	CoreAssets map[domain.Asset]bool
}

// Result is one asset's final sizing outcome.
type Result struct {
	Asset  domain.Asset
	Size   float64
	Capped bool
}

// Sizer implements the Dynamic Position Sizer.
type Sizer struct {
	cfg Config
	log zerolog.Logger
}

// New creates a Sizer.
func New(cfg Config, log zerolog.Logger) *Sizer {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	return &Sizer{cfg: cfg, log: log.With().Str("component", "position_sizer").Logger()}
}

// Size computes final sizes for the selected scores plus the synthetic
// CASH residual target. Σ(non-cash sizes) + cash == TargetTotalAllocation
// (within floating-point epsilon), except when the MinPositionSize floor
// raises sizes: the sum may then exceed the target and cash is 0.
func (s *Sizer) Size(scores []domain.AssetScore) (map[domain.Asset]float64, float64) {
	if len(scores) == 0 {
		return map[domain.Asset]float64{}, s.cfg.TargetTotalAllocation
	}

	sizes := s.baseSizes(scores)
	capped := make(map[domain.Asset]bool)
	if s.cfg.EnableTwoStageSizing {
		capped = s.capAndRedistribute(sizes)
	}

	for asset, v := range sizes {
		if v < s.cfg.MinPositionSize && v > 0 {
			sizes[asset] = s.cfg.MinPositionSize
		}
	}

	total := sumOf(sizes)
	residual := s.cfg.TargetTotalAllocation - total
	cash := 0.0
	if residual > 1e-12 {
		cash = s.distributeResidual(scores, sizes, capped, residual)
	}
	return sizes, cash
}

func (s *Sizer) baseSizes(scores []domain.AssetScore) map[domain.Asset]float64 {
	n := float64(len(scores))
	t := s.cfg.TargetTotalAllocation
	sizes := make(map[domain.Asset]float64, len(scores))

	switch s.cfg.SizingMode {
	case domain.SizingScoreWeighted:
		sumScore := 0.0
		for _, sc := range scores {
			sumScore += sc.Combined
		}
		for _, sc := range scores {
			if sumScore <= 0 {
				sizes[sc.Identifier] = t / n
				continue
			}
			sizes[sc.Identifier] = t * (sc.Combined / sumScore)
		}
	case domain.SizingAdaptive:
		// Exponent decays toward 0 (equal weight) as the portfolio grows,
		// so score dispersion matters less in a large, diversified book.
		alpha := 1.0 / (1.0 + n/20.0)
		sumWeighted := 0.0
		weighted := make(map[domain.Asset]float64, len(scores))
		for _, sc := range scores {
			w := math.Pow(math.Max(sc.Combined, 1e-6), alpha)
			weighted[sc.Identifier] = w
			sumWeighted += w
		}
		for asset, w := range weighted {
			sizes[asset] = t * (w / sumWeighted)
		}
	default: // domain.SizingEqualWeight
		for _, sc := range scores {
			sizes[sc.Identifier] = t / n
		}
	}
	return sizes
}

// capAndRedistribute clamps sizes above MaxSinglePosition and spreads the
// excess proportionally among uncapped, non-core assets, repeating until
// no uncapped asset exceeds the cap or MaxIterations is reached.
func (s *Sizer) capAndRedistribute(sizes map[domain.Asset]float64) map[domain.Asset]bool {
	capped := make(map[domain.Asset]bool)
	cap := s.cfg.MaxSinglePosition
	if cap <= 0 {
		return capped
	}

	for iter := 0; iter < s.cfg.MaxIterations; iter++ {
		excess := 0.0
		for asset, v := range sizes {
			if s.isCoreExempt(asset) {
				continue
			}
			if v > cap {
				excess += v - cap
				sizes[asset] = cap
				capped[asset] = true
			}
		}
		if excess <= 1e-12 {
			break
		}

		uncappedTotal := 0.0
		for asset, v := range sizes {
			if !capped[asset] && !s.isCoreExempt(asset) {
				uncappedTotal += v
			}
		}
		if uncappedTotal <= 1e-12 {
			break
		}
		for asset, v := range sizes {
			if capped[asset] || s.isCoreExempt(asset) {
				continue
			}
			sizes[asset] = v + excess*(v/uncappedTotal)
		}
	}
	return capped
}

func (s *Sizer) isCoreExempt(asset domain.Asset) bool {
	return s.cfg.CoreAssets != nil && s.cfg.CoreAssets[asset]
}

func (s *Sizer) distributeResidual(scores []domain.AssetScore, sizes map[domain.Asset]float64, capped map[domain.Asset]bool, residual float64) float64 {
	switch s.cfg.ResidualStrategy {
	case domain.ResidualCashBucket:
		return residual

	case domain.ResidualProportional:
		total := sumOf(sizes)
		if total <= 0 {
			return residual
		}
		remaining := residual
		for asset, v := range sizes {
			if capped[asset] && !s.isCoreExempt(asset) {
				continue
			}
			add := residual * (v / total)
			cap := s.cfg.MaxSinglePosition
			if cap > 0 && v+add > cap && !s.isCoreExempt(asset) {
				add = cap - v
			}
			if add < 0 {
				add = 0
			}
			sizes[asset] += add
			remaining -= add
		}
		if remaining < 0 {
			remaining = 0
		}
		return remaining

	default: // domain.ResidualSafeTopSlice
		ordered := make([]domain.AssetScore, 0, len(scores))
		for _, sc := range scores {
			if capped[sc.Identifier] && !s.isCoreExempt(sc.Identifier) {
				continue
			}
			ordered = append(ordered, sc)
		}
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Combined > ordered[j].Combined })

		remaining := residual
		for _, sc := range ordered {
			if remaining <= 1e-12 {
				break
			}
			current := sizes[sc.Identifier]
			maxByTotal := s.cfg.MaxResidualPerAsset
			maxByMultiple := s.cfg.MaxResidualMultiple * current
			allowance := maxByMultiple
			if maxByTotal > 0 && maxByTotal < allowance {
				allowance = maxByTotal
			}
			if allowance > remaining {
				allowance = remaining
			}
			if allowance <= 0 {
				continue
			}
			cap := s.cfg.MaxSinglePosition
			if cap > 0 && current+allowance > cap && !s.isCoreExempt(sc.Identifier) {
				allowance = cap - current
			}
			if allowance <= 0 {
				continue
			}
			sizes[sc.Identifier] += allowance
			remaining -= allowance
		}
		if remaining < 0 {
			remaining = 0
		}
		return remaining
	}
}

func sumOf(sizes map[domain.Asset]float64) float64 {
	total := 0.0
	for _, v := range sizes {
		total += v
	}
	return total
}
