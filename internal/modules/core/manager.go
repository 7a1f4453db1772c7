// Package core implements the Core Asset Manager: it designates
// exceptional assets as time-bounded "core" positions with allocation
// immunity, and periodically checks them for expiry and underperformance.
package core

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/store"
)

const consecutiveWarningsForRevoke = 2

// Config controls the Core Asset Manager.
type Config struct {
	Enabled                            bool
	CoreAssetOverrideThreshold         float64
	CoreAssetExpiryDays                int
	CoreAssetUnderperformanceThreshold float64
	CoreAssetUnderperformancePeriod    int
	MaxCoreAssets                      int
	CoreAssetExtensionLimit            int
	CoreAssetPerformanceCheckFrequency int
}

// Manager implements the Core Asset Manager.
type Manager struct {
	repo    store.CoreRepository
	buckets domain.BucketCatalog
	prices  domain.PriceProvider
	cfg     Config
	log     zerolog.Logger
}

// New creates a Manager.
func New(repo store.CoreRepository, buckets domain.BucketCatalog, prices domain.PriceProvider, cfg Config, log zerolog.Logger) *Manager {
	return &Manager{repo: repo, buckets: buckets, prices: prices, cfg: cfg, log: log.With().Str("component", "core_manager").Logger()}
}

func (m *Manager) activeCount() int {
	count := 0
	for _, c := range m.repo.All() {
		if !c.Revoked {
			count++
		}
	}
	return count
}

// MarkAsCore designates asset as core as of date. It fails if the
// max_core_assets ceiling is already reached.
func (m *Manager) MarkAsCore(asset domain.Asset, date time.Time, score, bucketAvg float64) error {
	if m.activeCount() >= m.cfg.MaxCoreAssets {
		return fmt.Errorf("cannot mark %s as core: max_core_assets (%d) reached", asset, m.cfg.MaxCoreAssets)
	}
	bucket := domain.UnknownBucket
	if m.buckets != nil {
		bucket = m.buckets.Bucket(asset)
	}
	m.repo.Set(domain.CoreAssetInfo{
		DesignationDate:        date,
		ExpiryDate:             date.AddDate(0, 0, m.cfg.CoreAssetExpiryDays),
		LastPerformanceCheck:   date,
		Asset:                  asset,
		Bucket:                 bucket,
		DesignationScore:       score,
		BucketAvgAtDesignation: bucketAvg,
	})
	return nil
}

// IsCore reports whether asset holds an active, unexpired, unrevoked core
// designation as of date.
func (m *Manager) IsCore(asset domain.Asset, date time.Time) bool {
	info, ok := m.repo.Get(asset)
	if !ok || info.Revoked {
		return false
	}
	return !date.After(info.ExpiryDate)
}

// ExtendCoreStatus pushes out asset's expiry by days, failing once the
// extension limit has been used up.
func (m *Manager) ExtendCoreStatus(asset domain.Asset, days int, reason string) error {
	info, ok := m.repo.Get(asset)
	if !ok || info.Revoked {
		return fmt.Errorf("cannot extend %s: no active core designation", asset)
	}
	if info.ExtensionCount >= m.cfg.CoreAssetExtensionLimit {
		return fmt.Errorf("cannot extend %s: extension limit (%d) reached", asset, m.cfg.CoreAssetExtensionLimit)
	}
	info.ExpiryDate = info.ExpiryDate.AddDate(0, 0, days)
	info.ExtensionCount++
	m.repo.Set(info)
	m.log.Info().Str("asset", string(asset)).Str("reason", reason).Time("new_expiry", info.ExpiryDate).Msg("extended core status")
	return nil
}

// Revocation records one core designation withdrawn during a lifecycle check.
type Revocation struct {
	Asset  domain.Asset
	Reason string
}

// PerformLifecycleCheck runs expiry and underperformance checks for every
// active core designation as of date, returning every
// designation it revoked so the caller can emit core_revoked events.
func (m *Manager) PerformLifecycleCheck(date time.Time) []Revocation {
	if !m.cfg.Enabled {
		return nil
	}
	var revoked []Revocation
	for _, info := range m.repo.All() {
		if info.Revoked {
			continue
		}
		if date.After(info.ExpiryDate) {
			info.Revoked = true
			info.RevokeReason = "expiry"
			m.repo.Set(info)
			revoked = append(revoked, Revocation{Asset: info.Asset, Reason: info.RevokeReason})
			continue
		}
		if m.cfg.CoreAssetPerformanceCheckFrequency <= 0 {
			continue
		}
		elapsed := int(date.Sub(info.LastPerformanceCheck).Hours() / 24)
		if elapsed < m.cfg.CoreAssetPerformanceCheckFrequency {
			continue
		}
		m.checkUnderperformance(&info, date)
		info.LastPerformanceCheck = date
		m.repo.Set(info)
		if info.Revoked {
			revoked = append(revoked, Revocation{Asset: info.Asset, Reason: info.RevokeReason})
		}
	}
	return revoked
}

func (m *Manager) checkUnderperformance(info *domain.CoreAssetInfo, date time.Time) {
	if m.prices == nil {
		return
	}
	from := date.AddDate(0, 0, -m.cfg.CoreAssetUnderperformancePeriod)
	assetReturn, err := m.prices.Return(info.Asset, from, date)
	if err != nil {
		m.log.Debug().Str("asset", string(info.Asset)).Err(err).Msg("underperformance check skipped: no return data")
		return
	}

	bucketAvg, ok := m.bucketAverageReturn(info, from, date)
	if !ok {
		return
	}

	if bucketAvg-assetReturn > m.cfg.CoreAssetUnderperformanceThreshold {
		info.PerformanceWarnings++
		if info.PerformanceWarnings >= consecutiveWarningsForRevoke {
			info.Revoked = true
			info.RevokeReason = "underperformance"
		}
	} else {
		info.PerformanceWarnings = 0
	}
}

func (m *Manager) bucketAverageReturn(info *domain.CoreAssetInfo, from, to time.Time) (float64, bool) {
	if m.buckets == nil {
		return 0, false
	}
	members := m.buckets.Assets(info.Bucket)
	var returns []float64
	for _, a := range members {
		if a == info.Asset {
			continue
		}
		r, err := m.prices.Return(a, from, to)
		if err != nil {
			continue
		}
		returns = append(returns, r)
	}
	if len(returns) == 0 {
		return 0, false
	}
	return stat.Mean(returns, nil), true
}

// ConsiderSmartDiversification auto-marks asset as core when it would
// otherwise be rejected by bucket limits but its score clears the
// override threshold. It returns true if the asset was
// marked and should be retained in the selected set.
func (m *Manager) ConsiderSmartDiversification(asset domain.Asset, date time.Time, score, bucketAvg float64) bool {
	if !m.cfg.Enabled || score < m.cfg.CoreAssetOverrideThreshold {
		return false
	}
	if err := m.MarkAsCore(asset, date, score, bucketAvg); err != nil {
		m.log.Debug().Str("asset", string(asset)).Err(err).Msg("smart diversification could not mark core")
		return false
	}
	return true
}
