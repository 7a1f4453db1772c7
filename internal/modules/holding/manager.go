// Package holding implements the Holding Period Manager: it enforces
// minimum and maximum holding periods per position, with a regime-severity
// escalation path that can override the minimum-hold floor.
package holding

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/store"
)

// Config controls the Holding Period Manager.
type Config struct {
	MinHoldingPeriodDays       int
	MaxHoldingPeriodDays       int
	EnableRegimeOverrides      bool
	RegimeOverrideCooldownDays int
	RegimeSeverityThreshold    domain.Severity
}

var severityRank = map[domain.Severity]int{
	domain.SeverityNormal:   0,
	domain.SeverityHigh:     1,
	domain.SeverityCritical: 2,
}

// Manager implements the Holding Period Manager.
type Manager struct {
	repo store.HoldingRepository
	cfg  Config
	log  zerolog.Logger
}

// New creates a Manager.
func New(repo store.HoldingRepository, cfg Config, log zerolog.Logger) *Manager {
	return &Manager{repo: repo, cfg: cfg, log: log.With().Str("component", "holding_manager").Logger()}
}

// RecordOpen inserts a fresh PositionAge record on a newly opened position.
func (m *Manager) RecordOpen(asset domain.Asset, date time.Time, size float64) {
	m.repo.Set(domain.PositionAge{
		EntryDate:      date,
		LastAdjustment: date,
		Asset:          asset,
		EntrySize:      size,
	})
}

// RecordAdjust bumps the adjustment bookkeeping for an existing position.
func (m *Manager) RecordAdjust(asset domain.Asset, date time.Time) {
	age, ok := m.repo.Get(asset)
	if !ok {
		return
	}
	age.LastAdjustment = date
	age.AdjustmentCount++
	m.repo.Set(age)
}

// Clear removes the holding-period record for a closed position.
func (m *Manager) Clear(asset domain.Asset) {
	m.repo.Delete(asset)
}

// Age returns the raw holding-age record for asset, if one exists. The
// Protection Orchestrator uses this to locate a position's open date for
// the Whipsaw Protection Manager's CanClose check.
func (m *Manager) Age(asset domain.Asset) (domain.PositionAge, bool) {
	return m.repo.Get(asset)
}

// RecordRegimeOverride stamps asset's cooldown clock after a regime
// override has been granted, independent of any holding-period decision
// in the same call (the Protection Orchestrator's priority-2 override
// shares this bookkeeping with the priority-4 holding-period override).
func (m *Manager) RecordRegimeOverride(asset domain.Asset, date time.Time) {
	age, ok := m.repo.Get(asset)
	if !ok {
		age = domain.PositionAge{Asset: asset, EntryDate: date, LastAdjustment: date}
	}
	age.LastRegimeOverride = date
	age.HasRegimeOverride = true
	m.repo.Set(age)
}

// CanAdjust reports whether a proposed action_type on asset at date is
// permitted given its holding age. forcedReview signals the
// "max-age" case: the action is allowed but callers should flag the
// position for review regardless of the eventual orchestrator outcome.
func (m *Manager) CanAdjust(asset domain.Asset, date time.Time, actionType domain.ActionType, regimeCtx domain.RegimeContext) (allowed bool, reason string, forcedReview bool) {
	age, ok := m.repo.Get(asset)
	if !ok {
		return true, "no holding-period record; treated as new open", false
	}

	ageDays := daysBetween(age.EntryDate, date)
	restricted := actionType == domain.ActionTypeClose || actionType == domain.ActionTypeDecrease

	if ageDays < m.cfg.MinHoldingPeriodDays && restricted {
		if m.regimeOverrideAvailable(age, date, regimeCtx) {
			age.LastRegimeOverride = date
			age.HasRegimeOverride = true
			m.repo.Set(age)
			return true, "regime override of minimum holding period", false
		}
		return false, "minimum holding period not yet satisfied", false
	}

	if m.cfg.MaxHoldingPeriodDays > 0 && ageDays >= m.cfg.MaxHoldingPeriodDays {
		return true, "max holding period reached; forced review", true
	}

	return true, "holding period satisfied", false
}

// EligibleForRegimeOverride reports whether a regime override could be
// granted for asset at date under regimeCtx, without consuming it. The
// Protection Orchestrator uses this for its priority-2 check, which
// shares the same severity threshold and cooldown bookkeeping as the
// priority-4 holding-period override.
func (m *Manager) EligibleForRegimeOverride(asset domain.Asset, date time.Time, regimeCtx domain.RegimeContext) bool {
	age, _ := m.repo.Get(asset)
	return m.regimeOverrideAvailable(age, date, regimeCtx)
}

func (m *Manager) regimeOverrideAvailable(age domain.PositionAge, date time.Time, regimeCtx domain.RegimeContext) bool {
	if !m.cfg.EnableRegimeOverrides {
		return false
	}
	if severityRank[regimeCtx.Severity] < severityRank[m.cfg.RegimeSeverityThreshold] {
		return false
	}
	if age.HasRegimeOverride {
		cooldownEnd := age.LastRegimeOverride.AddDate(0, 0, m.cfg.RegimeOverrideCooldownDays)
		if date.Before(cooldownEnd) {
			return false
		}
	}
	return true
}

func daysBetween(start, date time.Time) int {
	return int(date.Sub(start).Hours() / 24)
}
