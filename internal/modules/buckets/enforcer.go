// Package buckets implements the Bucket Limits Enforcer: it groups the
// scored universe by bucket and applies position-count, allocation and
// minimum-representation constraints before the survivors reach the
// Dynamic Position Sizer.
package buckets

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/domain"
)

// Config controls bucket enforcement.
type Config struct {
	Enabled                bool
	MaxPositionsPerBucket  int
	MaxAllocationPerBucket float64
	MinBucketsRepresented  int
	AllowBucketOverflow    bool
}

// Rejection records why a candidate was excluded, for operator tracing.
type Rejection struct {
	Asset  domain.Asset
	Bucket string
	Reason string
}

// Enforcer implements the Bucket Limits Enforcer.
type Enforcer struct {
	catalog domain.BucketCatalog
	cfg     Config
	log     zerolog.Logger
}

// New creates an Enforcer.
func New(catalog domain.BucketCatalog, cfg Config, log zerolog.Logger) *Enforcer {
	return &Enforcer{
		catalog: catalog,
		cfg:     cfg,
		log:     log.With().Str("component", "bucket_enforcer").Logger(),
	}
}

// Apply filters scores down to those that satisfy the bucket constraints,
// given each asset's tentative allocation share (used only for the
// per-bucket allocation cap; the sizer still owns final sizing). When
// bucket enforcement is disabled, every score passes through unchanged.
func (e *Enforcer) Apply(scores []domain.AssetScore, tentativeAlloc map[domain.Asset]float64) ([]domain.AssetScore, []Rejection) {
	if !e.cfg.Enabled || e.catalog == nil {
		return scores, nil
	}

	byBucket := make(map[string][]domain.AssetScore)
	bucketOf := make(map[domain.Asset]string, len(scores))
	for _, s := range scores {
		b := e.catalog.Bucket(s.Identifier)
		bucketOf[s.Identifier] = b
		byBucket[b] = append(byBucket[b], s)
	}

	bucketNames := make([]string, 0, len(byBucket))
	for b := range byBucket {
		bucketNames = append(bucketNames, b)
	}
	sort.Strings(bucketNames)

	var rejections []Rejection
	kept := make(map[domain.Asset]domain.AssetScore, len(scores))
	keptOrder := make([]domain.Asset, 0, len(scores))

	for _, bucket := range bucketNames {
		group := byBucket[bucket]
		sortGroup(group)

		limit := e.cfg.MaxPositionsPerBucket
		count := 0
		for _, s := range group {
			exempt := s.Priority == domain.PriorityPortfolio && e.cfg.AllowBucketOverflow
			if limit > 0 && count >= limit && !exempt {
				rejections = append(rejections, Rejection{Asset: s.Identifier, Bucket: bucket, Reason: "max_positions_per_bucket exceeded"})
				continue
			}
			if !exempt {
				count++
			}
			kept[s.Identifier] = s
			keptOrder = append(keptOrder, s.Identifier)
		}
	}

	// Per-bucket allocation cap: when a bucket's kept members' tentative
	// allocations sum above the cap, scale them all down proportionally
	// (in place in tentativeAlloc) so the bucket fits. No member is rejected.
	if e.cfg.MaxAllocationPerBucket > 0 && tentativeAlloc != nil {
		for _, bucket := range bucketNames {
			e.enforceAllocationCap(bucket, kept, &keptOrder, tentativeAlloc, &rejections)
		}
	}

	// Minimum bucket representation: force-include the top-scoring
	// rejected (or never-considered) asset from under-represented buckets.
	if e.cfg.MinBucketsRepresented > 0 {
		e.ensureMinimumBuckets(bucketNames, byBucket, kept, &keptOrder, &rejections)
	}

	result := make([]domain.AssetScore, 0, len(keptOrder))
	for _, a := range keptOrder {
		result = append(result, kept[a])
	}
	return result, rejections
}

func (e *Enforcer) enforceAllocationCap(bucket string, kept map[domain.Asset]domain.AssetScore, keptOrder *[]domain.Asset, tentativeAlloc map[domain.Asset]float64, rejections *[]Rejection) {
	var members []domain.AssetScore
	for _, a := range *keptOrder {
		if s, ok := kept[a]; ok && e.catalog.Bucket(a) == bucket {
			members = append(members, s)
		}
	}
	if len(members) == 0 {
		return
	}
	total := 0.0
	for _, m := range members {
		total += tentativeAlloc[m.Identifier]
	}
	if total <= e.cfg.MaxAllocationPerBucket || total == 0 {
		return
	}
	scale := e.cfg.MaxAllocationPerBucket / total
	for _, m := range members {
		tentativeAlloc[m.Identifier] *= scale
	}
	e.log.Debug().Str("bucket", bucket).Float64("scale", scale).Msg("scaled down bucket allocation to fit cap")
}

func (e *Enforcer) ensureMinimumBuckets(bucketNames []string, byBucket map[string][]domain.AssetScore, kept map[domain.Asset]domain.AssetScore, keptOrder *[]domain.Asset, rejections *[]Rejection) {
	represented := make(map[string]bool)
	for _, a := range *keptOrder {
		if s, ok := kept[a]; ok {
			represented[e.catalog.Bucket(s.Identifier)] = true
		}
	}

	total := len(byBucket)
	target := e.cfg.MinBucketsRepresented
	if target > total {
		target = total
	}

	for _, bucket := range bucketNames {
		group := byBucket[bucket]
		if len(represented) >= target {
			break
		}
		if represented[bucket] {
			continue
		}
		if len(group) == 0 {
			continue
		}
		top := group[0]
		if _, already := kept[top.Identifier]; !already {
			kept[top.Identifier] = top
			*keptOrder = append(*keptOrder, top.Identifier)
			*rejections = removeRejection(*rejections, top.Identifier)
		}
		represented[bucket] = true
	}
}

func removeRejection(rejections []Rejection, asset domain.Asset) []Rejection {
	out := rejections[:0]
	for _, r := range rejections {
		if r.Asset == asset {
			continue
		}
		out = append(out, r)
	}
	return out
}

// sortGroup orders a bucket's members: portfolio priority first, then
// combined score descending, with lexicographic asset id as the final
// tie-break.
func sortGroup(group []domain.AssetScore) {
	sort.SliceStable(group, func(i, j int) bool {
		a, b := group[i], group[j]
		if a.Priority == domain.PriorityPortfolio && b.Priority != domain.PriorityPortfolio {
			return true
		}
		if b.Priority == domain.PriorityPortfolio && a.Priority != domain.PriorityPortfolio {
			return false
		}
		if a.Combined != b.Combined {
			return a.Combined > b.Combined
		}
		return a.Identifier < b.Identifier
	})
}
