package domain

import "time"

/**
 * RegimeProvider supplies the macro regime classification and trending
 * candidates for a rebalance date. It is an external collaborator: regime
 * detection from historical data is out of scope for this module and is
 * supplied read-only by the host application.
 */
type RegimeProvider interface {
	/**
	 * Regime returns the macro regime in effect on date, its confidence
	 * in [0,1], and the list of buckets the regime prefers.
	 *
	 * @param date - Rebalance date
	 * @returns RegimeContext - Regime, confidence and preferred buckets
	 * @returns error - Error if the regime cannot be determined
	 */
	Regime(date time.Time) (RegimeContext, error)

	/**
	 * Trending returns the subset of candidates considered "trending" as of
	 * date, filtered to those at or above minConfidence.
	 *
	 * @param date - Rebalance date
	 * @param candidates - Candidate pool to filter
	 * @param minConfidence - Minimum trending confidence in [0,1]
	 * @returns []Asset - Trending assets meeting the confidence floor
	 * @returns error - Error if trending data is unavailable
	 */
	Trending(date time.Time, candidates []Asset, minConfidence float64) ([]Asset, error)
}

/**
 * BucketCatalog provides the total function asset -> bucket and its
 * inverse. Bucket classification itself (by style/geography/factor) is an
 * external collaborator; the core only consumes the mapping.
 */
type BucketCatalog interface {
	/**
	 * Assets returns every asset classified under bucket.
	 *
	 * @param bucket - Bucket name
	 * @returns []Asset - Member assets (empty if the bucket is unknown)
	 */
	Assets(bucket string) []Asset

	/**
	 * Bucket returns the bucket an asset is classified under, or
	 * UnknownBucket if it has no classification.
	 *
	 * @param asset - Asset identifier
	 * @returns string - Bucket name
	 */
	Bucket(asset Asset) string

	/**
	 * AllBuckets returns every bucket name the catalog knows about,
	 * excluding UnknownBucket.
	 *
	 * @returns []string - Bucket names
	 */
	AllBuckets() []string
}

/**
 * TechnicalAnalyzer scores an asset's technical/price-action setup.
 * Indicator computation itself is out of scope; this interface is the
 * boundary the Scoring Service consumes.
 * Implementations may be nil to disable the technical channel entirely.
 */
type TechnicalAnalyzer interface {
	/**
	 * Score returns a technical score in [0,1] for asset on date.
	 *
	 * @param asset - Asset identifier
	 * @param date - Rebalance date
	 * @returns float64 - Technical score in [0,1]
	 * @returns error - Error if scoring data is unavailable for this asset
	 */
	Score(asset Asset, date time.Time) (float64, error)
}

/**
 * FundamentalAnalyzer scores an asset's fundamental quality, optionally
 * adjusted for the prevailing regime. Out of scope for computation, in
 * scope as a consumed boundary; may be nil to disable the channel.
 */
type FundamentalAnalyzer interface {
	/**
	 * Score returns a fundamental score in [0,1] for asset on date under regime.
	 *
	 * @param asset - Asset identifier
	 * @param date - Rebalance date
	 * @param regime - Prevailing macro regime
	 * @returns float64 - Fundamental score in [0,1]
	 * @returns error - Error if scoring data is unavailable for this asset
	 */
	Score(asset Asset, date time.Time, regime Regime) (float64, error)
}

/**
 * PriceProvider supplies historical returns used by the Core Asset
 * Manager's underperformance check. Price history and simulation
 * are out of scope; only the return boundary is consumed.
 */
type PriceProvider interface {
	/**
	 * Return computes the total return for asset between from and to.
	 *
	 * @param asset - Asset identifier
	 * @param from - Period start
	 * @param to - Period end
	 * @returns float64 - Period return (e.g. 0.05 for +5%)
	 * @returns error - Error if price history is unavailable
	 */
	Return(asset Asset, from, to time.Time) (float64, error)
}

/**
 * Tradability reports whether an asset may currently be bought or sold.
 * This narrow boundary lets the rebalancer honor a security master's
 * trading restrictions without depending on order routing (out of scope).
 */
type Tradability interface {
	/**
	 * Allowed reports whether buying and/or selling asset is currently permitted.
	 *
	 * @param asset - Asset identifier
	 * @returns allowBuy bool - Whether opens/increases are permitted
	 * @returns allowSell bool - Whether decreases/closes are permitted
	 */
	Allowed(asset Asset) (allowBuy bool, allowSell bool)
}

/**
 * EventSink is the write-only, non-blocking destination for every event the
 * core emits. Implementations must not block the caller and must never
 * cause a rebalance to fail.
 */
type EventSink interface {
	/**
	 * Emit publishes ev. Implementations should buffer or drop rather than block.
	 *
	 * @param ev - Event to publish
	 */
	Emit(ev Event)
}
