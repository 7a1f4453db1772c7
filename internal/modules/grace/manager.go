// Package grace implements the Grace Period Manager: when an asset's
// score drops below threshold it decays the position's size over a bounded
// number of days instead of closing it outright, and detects recovery.
package grace

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/store"
)

// Config controls the Grace Period Manager.
type Config struct {
	Enabled           bool
	GracePeriodDays   int
	GraceDecayRate    float64
	MinDecayFactor    float64
	MinScoreThreshold float64
}

// Manager implements the Grace Period Manager.
type Manager struct {
	repo store.GraceRepository
	cfg  Config
	log  zerolog.Logger
}

// New creates a Manager.
func New(repo store.GraceRepository, cfg Config, log zerolog.Logger) *Manager {
	return &Manager{repo: repo, cfg: cfg, log: log.With().Str("component", "grace_manager").Logger()}
}

// Evaluate runs the grace state machine for asset on date given its
// current score and size, returning the recommended GraceAction, the new
// size to carry forward, and a human-readable reason.
func (m *Manager) Evaluate(date time.Time, asset domain.Asset, score, currentSize float64) (domain.GraceAction, float64, string) {
	if !m.cfg.Enabled {
		return domain.GraceActionHold, currentSize, "grace periods disabled"
	}

	pos, inGrace := m.repo.Get(asset)
	if !inGrace {
		if score < m.cfg.MinScoreThreshold {
			pos = domain.GracePosition{
				StartDate:     date,
				Asset:         asset,
				OriginalSize:  currentSize,
				OriginalScore: score,
				CurrentSize:   currentSize,
				DaysElapsed:   0,
			}
			m.repo.Set(pos)
			return domain.GraceActionStart, currentSize, "score below threshold; entering grace"
		}
		return domain.GraceActionHold, currentSize, "score at or above threshold"
	}

	daysElapsed := daysBetween(pos.StartDate, date)

	if score >= m.cfg.MinScoreThreshold {
		m.repo.Delete(asset)
		return domain.GraceActionRecovery, pos.OriginalSize, "score recovered above threshold"
	}

	if daysElapsed >= m.cfg.GracePeriodDays {
		m.repo.Delete(asset)
		return domain.GraceActionForceClose, 0, "grace period expired"
	}

	decayed := pos.CurrentSize * m.cfg.GraceDecayRate
	floor := m.cfg.MinDecayFactor * pos.OriginalSize
	newSize := decayed
	if floor > newSize {
		newSize = floor
	}

	pos.CurrentSize = newSize
	pos.DaysElapsed = daysElapsed
	m.repo.Set(pos)
	return domain.GraceActionDecay, newSize, "decaying through grace period"
}

func daysBetween(start, date time.Time) int {
	d := date.Sub(start)
	return int(d.Hours() / 24)
}
