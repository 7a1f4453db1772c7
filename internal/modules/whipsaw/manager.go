// Package whipsaw implements the Whipsaw Protection Manager: it
// counts completed open/close cycles in a rolling window to forbid
// re-opening a recently churned position, and enforces a minimum dwell
// time before a position may be closed.
package whipsaw

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/store"
)

// Config controls the Whipsaw Protection Manager.
type Config struct {
	Enabled                      bool
	MaxCyclesPerProtectionPeriod int
	WhipsawProtectionDays        int
	MinPositionDurationHours     float64
	// RetentionDays bounds per-asset event history. Callers set it to the
	// widest window any lifecycle manager still reads plus a buffer; 0
	// falls back to twice the protection window.
	RetentionDays int
}

// Manager implements the Whipsaw Protection Manager.
type Manager struct {
	repo store.WhipsawRepository
	cfg  Config
	log  zerolog.Logger
}

// New creates a Manager.
func New(repo store.WhipsawRepository, cfg Config, log zerolog.Logger) *Manager {
	return &Manager{repo: repo, cfg: cfg, log: log.With().Str("component", "whipsaw_manager").Logger()}
}

// RecordEvent appends an approved lifecycle event to asset's history.
// Events must be recorded only after the orchestrator approves an
// action; a rejected action must never call this.
func (m *Manager) RecordEvent(ev domain.PositionEvent) {
	m.repo.Append(ev)
	retention := m.cfg.RetentionDays
	if retention <= 0 {
		retention = 2 * m.cfg.WhipsawProtectionDays
	}
	if retention > 0 {
		m.repo.Prune(ev.Asset, ev.Timestamp.AddDate(0, 0, -retention))
	}
}

// CanOpen reports whether asset may be opened on date, given the count of
// cycles completed within the rolling protection window.
func (m *Manager) CanOpen(asset domain.Asset, date time.Time) (bool, string) {
	if !m.cfg.Enabled {
		return true, "whipsaw protection disabled"
	}
	windowStart := date.AddDate(0, 0, -m.cfg.WhipsawProtectionDays)
	cycles := completedCycles(m.repo.History(asset), windowStart)
	if cycles >= m.cfg.MaxCyclesPerProtectionPeriod {
		return false, "whipsaw cycle limit reached in protection window"
	}
	return true, "within whipsaw cycle budget"
}

// CanClose reports whether asset, opened at openDate, may be closed at
// date given the minimum position duration.
func (m *Manager) CanClose(openDate, date time.Time) (bool, string) {
	if !m.cfg.Enabled {
		return true, "whipsaw protection disabled"
	}
	held := date.Sub(openDate).Hours()
	if held < m.cfg.MinPositionDurationHours {
		return false, "position duration below minimum dwell time"
	}
	return true, "minimum dwell time satisfied"
}

// completedCycles counts maximal (open, ..., close) pairs whose close
// timestamp falls at or after windowStart.
func completedCycles(history []domain.PositionEvent, windowStart time.Time) int {
	count := 0
	open := false
	for _, ev := range history {
		switch ev.Type {
		case domain.PositionEventOpen:
			open = true
		case domain.PositionEventClose:
			if open && !ev.Timestamp.Before(windowStart) {
				count++
			}
			open = false
		}
	}
	return count
}
