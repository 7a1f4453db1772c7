package store

import (
	"sort"
	"sync"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
)

// NewMemory returns the default in-process Repositories, backed by
// mutex-guarded maps. This is the right choice for a single backtest run
// within one process; use OpenSQLite when state must outlive the process.
func NewMemory() *Repositories {
	return &Repositories{
		Grace:   newMemoryGrace(),
		Holding: newMemoryHolding(),
		Whipsaw: newMemoryWhipsaw(),
		Core:    newMemoryCore(),
	}
}

type memoryGrace struct {
	mu   sync.RWMutex
	data map[domain.Asset]domain.GracePosition
}

func newMemoryGrace() *memoryGrace {
	return &memoryGrace{data: make(map[domain.Asset]domain.GracePosition)}
}

func (m *memoryGrace) Get(asset domain.Asset) (domain.GracePosition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.data[asset]
	return p, ok
}

func (m *memoryGrace) Set(pos domain.GracePosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[pos.Asset] = pos
}

func (m *memoryGrace) Delete(asset domain.Asset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, asset)
}

func (m *memoryGrace) All() []domain.GracePosition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.GracePosition, 0, len(m.data))
	for _, p := range m.data {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

type memoryHolding struct {
	mu   sync.RWMutex
	data map[domain.Asset]domain.PositionAge
}

func newMemoryHolding() *memoryHolding {
	return &memoryHolding{data: make(map[domain.Asset]domain.PositionAge)}
}

func (m *memoryHolding) Get(asset domain.Asset) (domain.PositionAge, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.data[asset]
	return a, ok
}

func (m *memoryHolding) Set(age domain.PositionAge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[age.Asset] = age
}

func (m *memoryHolding) Delete(asset domain.Asset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, asset)
}

type memoryWhipsaw struct {
	mu     sync.RWMutex
	events map[domain.Asset][]domain.PositionEvent
}

func newMemoryWhipsaw() *memoryWhipsaw {
	return &memoryWhipsaw{events: make(map[domain.Asset][]domain.PositionEvent)}
}

func (m *memoryWhipsaw) Append(ev domain.PositionEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.Asset] = append(m.events[ev.Asset], ev)
}

func (m *memoryWhipsaw) History(asset domain.Asset) []domain.PositionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.PositionEvent, len(m.events[asset]))
	copy(out, m.events[asset])
	return out
}

func (m *memoryWhipsaw) Prune(asset domain.Asset, before time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.events[asset]
	kept := events[:0]
	for _, ev := range events {
		if !ev.Timestamp.Before(before) {
			kept = append(kept, ev)
		}
	}
	m.events[asset] = kept
}

type memoryCore struct {
	mu   sync.RWMutex
	data map[domain.Asset]domain.CoreAssetInfo
}

func newMemoryCore() *memoryCore {
	return &memoryCore{data: make(map[domain.Asset]domain.CoreAssetInfo)}
}

func (m *memoryCore) Get(asset domain.Asset) (domain.CoreAssetInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.data[asset]
	return c, ok
}

func (m *memoryCore) Set(info domain.CoreAssetInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[info.Asset] = info
}

func (m *memoryCore) Delete(asset domain.Asset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, asset)
}

func (m *memoryCore) All() []domain.CoreAssetInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.CoreAssetInfo, 0, len(m.data))
	for _, c := range m.data {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}
