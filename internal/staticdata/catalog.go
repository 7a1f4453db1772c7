// Package staticdata provides YAML-file-backed adapters for the read-only
// external collaborators the core consumes (domain.BucketCatalog,
// domain.RegimeProvider). Regime detection and bucket classification are
// explicitly out of scope for the core; these adapters
// exist only so cmd/server has something to wire without a real market-data
// and regime-detection service attached.
package staticdata

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aristath/rebalancer/internal/domain"
)

// Catalog is a yaml-configured domain.BucketCatalog: a static bucket ->
// []asset map plus its computed inverse.
type Catalog struct {
	buckets       map[string][]domain.Asset
	assetToBucket map[domain.Asset]string
}

type catalogFile struct {
	Buckets map[string][]string `yaml:"buckets"`
}

// LoadCatalog reads a YAML file shaped as `buckets: {name: [asset, ...]}`.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bucket catalog %s: %w", path, err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse bucket catalog %s: %w", path, err)
	}
	return NewCatalog(f.Buckets), nil
}

// NewCatalog builds a Catalog directly from a bucket -> asset-symbols map.
func NewCatalog(buckets map[string][]string) *Catalog {
	c := &Catalog{
		buckets:       make(map[string][]domain.Asset, len(buckets)),
		assetToBucket: make(map[domain.Asset]string),
	}
	for bucket, symbols := range buckets {
		assets := make([]domain.Asset, 0, len(symbols))
		for _, sym := range symbols {
			a := domain.Asset(sym)
			assets = append(assets, a)
			c.assetToBucket[a] = bucket
		}
		c.buckets[bucket] = assets
	}
	return c
}

// Assets implements domain.BucketCatalog.
func (c *Catalog) Assets(bucket string) []domain.Asset {
	out := make([]domain.Asset, len(c.buckets[bucket]))
	copy(out, c.buckets[bucket])
	return out
}

// Bucket implements domain.BucketCatalog.
func (c *Catalog) Bucket(asset domain.Asset) string {
	if b, ok := c.assetToBucket[asset]; ok {
		return b
	}
	return domain.UnknownBucket
}

// AllBuckets implements domain.BucketCatalog.
func (c *Catalog) AllBuckets() []string {
	out := make([]string, 0, len(c.buckets))
	for b := range c.buckets {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// RegimeProvider is a yaml-configured domain.RegimeProvider returning a
// fixed regime regardless of date, with trending candidates filtered by a
// static per-asset confidence table. A real deployment replaces this with
// the host's regime-detection service.
type RegimeProvider struct {
	regime           domain.Regime
	confidence       float64
	severity         domain.Severity
	preferredBuckets []string
	trendingScores   map[domain.Asset]float64
}

type regimeFile struct {
	Regime           string             `yaml:"regime"`
	Confidence       float64            `yaml:"confidence"`
	Severity         string             `yaml:"severity"`
	PreferredBuckets []string           `yaml:"preferred_buckets"`
	Trending         map[string]float64 `yaml:"trending"`
}

// DefaultRegimeProvider returns a neutral regime snapshot (normal severity,
// no preferred buckets, no trending candidates) for callers that have not
// configured a real regime-detection service.
func DefaultRegimeProvider() *RegimeProvider {
	return &RegimeProvider{
		regime:         domain.RegimeGoldilocks,
		confidence:     0.5,
		severity:       domain.SeverityNormal,
		trendingScores: map[domain.Asset]float64{},
	}
}

// LoadRegimeProvider reads a YAML file describing a fixed regime snapshot.
func LoadRegimeProvider(path string) (*RegimeProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read regime snapshot %s: %w", path, err)
	}
	var f regimeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse regime snapshot %s: %w", path, err)
	}
	trending := make(map[domain.Asset]float64, len(f.Trending))
	for sym, conf := range f.Trending {
		trending[domain.Asset(sym)] = conf
	}
	return &RegimeProvider{
		regime:           domain.Regime(f.Regime),
		confidence:       f.Confidence,
		severity:         domain.Severity(f.Severity),
		preferredBuckets: f.PreferredBuckets,
		trendingScores:   trending,
	}, nil
}

// Regime implements domain.RegimeProvider.
func (p *RegimeProvider) Regime(_ time.Time) (domain.RegimeContext, error) {
	return domain.RegimeContext{
		Regime:           p.regime,
		Confidence:       p.confidence,
		Severity:         p.severity,
		PreferredBuckets: p.preferredBuckets,
	}, nil
}

// Trending implements domain.RegimeProvider: candidates at or above minConfidence.
func (p *RegimeProvider) Trending(_ time.Time, candidates []domain.Asset, minConfidence float64) ([]domain.Asset, error) {
	out := make([]domain.Asset, 0, len(candidates))
	for _, a := range candidates {
		if conf, ok := p.trendingScores[a]; ok && conf >= minConfidence {
			out = append(out, a)
		}
	}
	return out, nil
}
