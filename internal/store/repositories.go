// Package store owns the mutable lifecycle state the engine is
// responsible for across a backtest run: grace positions, holding ages,
// position event history and core designations.
// Two interchangeable implementations are provided behind the same
// interfaces: an in-memory default and an optional SQLite-backed adapter
// for runs that need the state to survive process restarts.
package store

import (
	"time"

	"github.com/aristath/rebalancer/internal/domain"
)

// GraceRepository persists the Grace Period Manager's per-asset state.
type GraceRepository interface {
	Get(asset domain.Asset) (domain.GracePosition, bool)
	Set(pos domain.GracePosition)
	Delete(asset domain.Asset)
	All() []domain.GracePosition
}

// HoldingRepository persists the Holding Period Manager's per-asset age tracking.
type HoldingRepository interface {
	Get(asset domain.Asset) (domain.PositionAge, bool)
	Set(age domain.PositionAge)
	Delete(asset domain.Asset)
}

// WhipsawRepository persists the Whipsaw Protection Manager's
// append-only per-asset lifecycle event history.
type WhipsawRepository interface {
	Append(ev domain.PositionEvent)
	History(asset domain.Asset) []domain.PositionEvent
	// Prune drops events for asset older than before, bounding history growth.
	Prune(asset domain.Asset, before time.Time)
}

// CoreRepository persists the Core Asset Manager's designation records.
type CoreRepository interface {
	Get(asset domain.Asset) (domain.CoreAssetInfo, bool)
	Set(info domain.CoreAssetInfo)
	Delete(asset domain.Asset)
	All() []domain.CoreAssetInfo
}

// Repositories bundles the four lifecycle stores the Rebalancer Engine
// needs. A zero value is invalid; use NewMemory or OpenSQLite.
type Repositories struct {
	Grace   GraceRepository
	Holding HoldingRepository
	Whipsaw WhipsawRepository
	Core    CoreRepository
}
