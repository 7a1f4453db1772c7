package core

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/store"
)

type fakeCatalog struct {
	members map[string][]domain.Asset
	bucket  map[domain.Asset]string
}

func (f *fakeCatalog) Assets(b string) []domain.Asset { return f.members[b] }
func (f *fakeCatalog) Bucket(a domain.Asset) string    { return f.bucket[a] }
func (f *fakeCatalog) AllBuckets() []string             { return nil }

type fakePrices struct {
	returns map[domain.Asset]float64
	err     map[domain.Asset]error
}

func (f *fakePrices) Return(asset domain.Asset, _, _ time.Time) (float64, error) {
	if err, ok := f.err[asset]; ok {
		return 0, err
	}
	return f.returns[asset], nil
}

func TestManager_MarkAsCoreRespectsMaxCoreAssets(t *testing.T) {
	repos := store.NewMemory()
	m := New(repos.Core, &fakeCatalog{}, nil, Config{MaxCoreAssets: 1}, zerolog.Nop())

	require.NoError(t, m.MarkAsCore("NVDA", time.Now(), 0.97, 0.5))
	err := m.MarkAsCore("AAPL", time.Now(), 0.99, 0.5)
	assert.Error(t, err)
}

func TestManager_IsCoreTrueUntilExpiry(t *testing.T) {
	repos := store.NewMemory()
	m := New(repos.Core, &fakeCatalog{}, nil, Config{MaxCoreAssets: 3, CoreAssetExpiryDays: 30}, zerolog.Nop())

	d0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, m.MarkAsCore("NVDA", d0, 0.97, 0.5))

	assert.True(t, m.IsCore("NVDA", d0.AddDate(0, 0, 10)))
	assert.False(t, m.IsCore("NVDA", d0.AddDate(0, 0, 31)))
}

func TestManager_LifecycleCheckAutoRevokesOnExpiry(t *testing.T) {
	repos := store.NewMemory()
	m := New(repos.Core, &fakeCatalog{}, nil, Config{Enabled: true, MaxCoreAssets: 3, CoreAssetExpiryDays: 10}, zerolog.Nop())

	d0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, m.MarkAsCore("NVDA", d0, 0.97, 0.5))

	m.PerformLifecycleCheck(d0.AddDate(0, 0, 11))
	assert.False(t, m.IsCore("NVDA", d0.AddDate(0, 0, 11)))
	info, _ := repos.Core.Get("NVDA")
	assert.Equal(t, "expiry", info.RevokeReason)
}

func TestManager_LifecycleCheckRevokesAfterTwoWarnings(t *testing.T) {
	repos := store.NewMemory()
	catalog := &fakeCatalog{
		members: map[string][]domain.Asset{"Risk": {"NVDA", "AMD"}},
		bucket:  map[domain.Asset]string{"NVDA": "Risk", "AMD": "Risk"},
	}
	prices := &fakePrices{returns: map[domain.Asset]float64{"NVDA": 0.01, "AMD": 0.20}}
	m := New(repos.Core, catalog, prices, Config{
		Enabled:                            true,
		MaxCoreAssets:                      3,
		CoreAssetExpiryDays:                365,
		CoreAssetPerformanceCheckFrequency: 5,
		CoreAssetUnderperformancePeriod:    30,
		CoreAssetUnderperformanceThreshold: 0.05,
	}, zerolog.Nop())

	d0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, m.MarkAsCore("NVDA", d0, 0.97, 0.15))

	m.PerformLifecycleCheck(d0.AddDate(0, 0, 5))
	assert.True(t, m.IsCore("NVDA", d0.AddDate(0, 0, 5)))

	m.PerformLifecycleCheck(d0.AddDate(0, 0, 10))
	assert.False(t, m.IsCore("NVDA", d0.AddDate(0, 0, 10)))
	info, _ := repos.Core.Get("NVDA")
	assert.Equal(t, "underperformance", info.RevokeReason)
}

func TestManager_ExtendCoreStatusRespectsLimit(t *testing.T) {
	repos := store.NewMemory()
	m := New(repos.Core, &fakeCatalog{}, nil, Config{MaxCoreAssets: 3, CoreAssetExpiryDays: 30, CoreAssetExtensionLimit: 1}, zerolog.Nop())

	d0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, m.MarkAsCore("NVDA", d0, 0.97, 0.5))

	require.NoError(t, m.ExtendCoreStatus("NVDA", 30, "still exceptional"))
	err := m.ExtendCoreStatus("NVDA", 30, "again")
	assert.Error(t, err)
}

func TestManager_SmartDiversificationMarksCoreAboveThreshold(t *testing.T) {
	repos := store.NewMemory()
	m := New(repos.Core, &fakeCatalog{}, nil, Config{Enabled: true, MaxCoreAssets: 3, CoreAssetOverrideThreshold: 0.95, CoreAssetExpiryDays: 30}, zerolog.Nop())

	marked := m.ConsiderSmartDiversification("NVDA", time.Now(), 0.97, 0.5)
	assert.True(t, marked)

	marked = m.ConsiderSmartDiversification("AMD", time.Now(), 0.80, 0.5)
	assert.False(t, marked)
}
