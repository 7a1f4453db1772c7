// Package config loads and validates the rebalancing engine's configuration.
//
// Options come from a YAML base file layered over the defaults, which fill
// in anything unset. A local .env file, if present, is loaded into the
// process environment via godotenv; no option is read from environment
// variables. Validation rejects impossible combinations at startup rather
// than letting them surface mid-rebalance.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/aristath/rebalancer/internal/domain"
)

// Selection groups the candidate-selection options.
type Selection struct {
	MaxTotalPositions     int     `yaml:"max_total_positions"`
	MaxNewPositions       int     `yaml:"max_new_positions"`
	MinScoreThreshold     float64 `yaml:"min_score_threshold"`
	MinScoreNewPosition   float64 `yaml:"min_score_new_position"`
	TechnicalWeight       float64 `yaml:"technical_weight"`
	FundamentalWeight     float64 `yaml:"fundamental_weight"`
	MinTrendingConfidence float64 `yaml:"min_trending_confidence"`
	EnableTechnical       bool    `yaml:"enable_technical"`
	EnableFundamental     bool    `yaml:"enable_fundamental"`
	StickinessBoost       float64 `yaml:"stickiness_boost"`
}

// Bucket groups the diversification options.
type Bucket struct {
	MaxPositionsPerBucket  int     `yaml:"max_positions_per_bucket"`
	MinBucketsRepresented  int     `yaml:"min_buckets_represented"`
	MaxAllocationPerBucket float64 `yaml:"max_allocation_per_bucket"`
	CorrelationLimit       float64 `yaml:"correlation_limit"`
	EnableDiversification  bool    `yaml:"enable_bucket_diversification"`
	AllowBucketOverflow    bool    `yaml:"allow_bucket_overflow"`
}

// Sizing groups the position-sizing options.
type Sizing struct {
	SizingMode            domain.SizingMode       `yaml:"sizing_mode"`
	ResidualStrategy      domain.ResidualStrategy `yaml:"residual_strategy"`
	MaxSinglePosition     float64                 `yaml:"max_single_position"`
	MinPositionSize       float64                 `yaml:"min_position_size"`
	TargetTotalAllocation float64                 `yaml:"target_total_allocation"`
	MaxResidualPerAsset   float64                 `yaml:"max_residual_per_asset"`
	MaxResidualMultiple   float64                 `yaml:"max_residual_multiple"`
	EnableDynamicSizing   bool                    `yaml:"enable_dynamic_sizing"`
	EnableTwoStageSizing  bool                    `yaml:"enable_two_stage_sizing"`
}

// Grace groups the grace-period options.
type Grace struct {
	GracePeriodDays    int     `yaml:"grace_period_days"`
	GraceDecayRate     float64 `yaml:"grace_decay_rate"`
	MinDecayFactor     float64 `yaml:"min_decay_factor"`
	EnableGracePeriods bool    `yaml:"enable_grace_periods"`
}

// Holding groups the minimum/maximum holding-period options.
type Holding struct {
	MinHoldingPeriodDays       int             `yaml:"min_holding_period_days"`
	MaxHoldingPeriodDays       int             `yaml:"max_holding_period_days"`
	RegimeOverrideCooldownDays int             `yaml:"regime_override_cooldown_days"`
	RegimeSeverityThreshold    domain.Severity `yaml:"regime_severity_threshold"`
	EnableRegimeOverrides      bool            `yaml:"enable_regime_overrides"`
}

// Whipsaw groups the cycle-throttling options.
type Whipsaw struct {
	MaxCyclesPerProtectionPeriod int     `yaml:"max_cycles_per_protection_period"`
	WhipsawProtectionDays        int     `yaml:"whipsaw_protection_days"`
	MinPositionDurationHours     float64 `yaml:"min_position_duration_hours"`
	EnableWhipsawProtection      bool    `yaml:"enable_whipsaw_protection"`
}

// Core groups the core-asset-management options.
type Core struct {
	CoreAssetOverrideThreshold             float64 `yaml:"core_asset_override_threshold"`
	CoreAssetExpiryDays                    int     `yaml:"core_asset_expiry_days"`
	CoreAssetUnderperformanceThreshold     float64 `yaml:"core_asset_underperformance_threshold"`
	CoreAssetUnderperformancePeriodDays    int     `yaml:"core_asset_underperformance_period_days"`
	MaxCoreAssets                          int     `yaml:"max_core_assets"`
	CoreAssetExtensionLimit                int     `yaml:"core_asset_extension_limit"`
	CoreAssetPerformanceCheckFrequencyDays int     `yaml:"core_asset_performance_check_frequency_days"`
	EnableCoreAssetManagement              bool    `yaml:"enable_core_asset_management"`
}

// Config is the single structured configuration surface.
type Config struct {
	Selection Selection `yaml:"selection"`
	Bucket    Bucket    `yaml:"bucket"`
	Sizing    Sizing    `yaml:"sizing"`
	Grace     Grace     `yaml:"grace"`
	Holding   Holding   `yaml:"holding"`
	Whipsaw   Whipsaw   `yaml:"whipsaw"`
	Core      Core      `yaml:"core"`
}

// Default returns the configuration with every documented default applied.
func Default() *Config {
	return &Config{
		Selection: Selection{
			MaxTotalPositions:     20,
			MaxNewPositions:       5,
			MinScoreThreshold:     0.5,
			MinScoreNewPosition:   0.6,
			TechnicalWeight:       0.6,
			FundamentalWeight:     0.4,
			MinTrendingConfidence: 0.5,
			EnableTechnical:       true,
			EnableFundamental:     true,
			StickinessBoost:       1.02,
		},
		Bucket: Bucket{
			EnableDiversification:  true,
			MaxPositionsPerBucket:  5,
			MaxAllocationPerBucket: 0.40,
			MinBucketsRepresented:  3,
			AllowBucketOverflow:    true,
			CorrelationLimit:       0.80,
		},
		Sizing: Sizing{
			EnableDynamicSizing:   true,
			SizingMode:            domain.SizingScoreWeighted,
			MaxSinglePosition:     0.15,
			MinPositionSize:       0.01,
			TargetTotalAllocation: 0.95,
			ResidualStrategy:      domain.ResidualSafeTopSlice,
			MaxResidualPerAsset:   0.05,
			MaxResidualMultiple:   0.5,
			EnableTwoStageSizing:  true,
		},
		Grace: Grace{
			EnableGracePeriods: true,
			GracePeriodDays:    5,
			GraceDecayRate:     0.8,
			MinDecayFactor:     0.1,
		},
		Holding: Holding{
			MinHoldingPeriodDays:       5,
			MaxHoldingPeriodDays:       180,
			EnableRegimeOverrides:      true,
			RegimeOverrideCooldownDays: 10,
			RegimeSeverityThreshold:    domain.SeverityHigh,
		},
		Whipsaw: Whipsaw{
			EnableWhipsawProtection:      true,
			MaxCyclesPerProtectionPeriod: 1,
			WhipsawProtectionDays:        14,
			MinPositionDurationHours:     24,
		},
		Core: Core{
			EnableCoreAssetManagement:              true,
			CoreAssetOverrideThreshold:             0.95,
			CoreAssetExpiryDays:                    90,
			CoreAssetUnderperformanceThreshold:     0.15,
			CoreAssetUnderperformancePeriodDays:    30,
			MaxCoreAssets:                          3,
			CoreAssetExtensionLimit:                2,
			CoreAssetPerformanceCheckFrequencyDays: 7,
		},
	}
}

// Load loads a local .env (if present) into the process environment, reads
// a YAML config file (if path is non-empty and exists) over the defaults,
// normalizes weights, and validates the result. No option is taken from
// environment variables.
//
// Load fails only on configuration errors.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to load .env file")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize renormalizes technical/fundamental weights to sum to 1 when
// both channels are enabled, logging a warning if they needed adjustment.
func (c *Config) normalize() error {
	if !c.Selection.EnableTechnical || !c.Selection.EnableFundamental {
		return nil
	}
	sum := c.Selection.TechnicalWeight + c.Selection.FundamentalWeight
	if sum <= 0 {
		return domain.NewConfigError("selection.technical_weight+fundamental_weight", "weights must sum to a positive value")
	}
	if sum < 0.9999 || sum > 1.0001 {
		log.Warn().
			Float64("technical_weight", c.Selection.TechnicalWeight).
			Float64("fundamental_weight", c.Selection.FundamentalWeight).
			Msg("analysis weights did not sum to 1; normalizing")
		c.Selection.TechnicalWeight /= sum
		c.Selection.FundamentalWeight /= sum
	}
	return nil
}

// Validate rejects impossible configuration combinations.
func (c *Config) Validate() error {
	if !c.Selection.EnableTechnical && !c.Selection.EnableFundamental {
		return domain.NewConfigError("selection.enable_technical/enable_fundamental", "at least one analysis channel must be enabled")
	}
	if c.Selection.TechnicalWeight < 0 || c.Selection.FundamentalWeight < 0 {
		return domain.NewConfigError("selection weights", "weights must not be negative")
	}
	if c.Selection.MaxNewPositions > c.Selection.MaxTotalPositions {
		return domain.NewConfigError("selection.max_new_positions", "must not exceed max_total_positions")
	}
	if c.Sizing.TargetTotalAllocation <= 0 || c.Sizing.TargetTotalAllocation > 1 {
		return domain.NewConfigError("sizing.target_total_allocation", "must be in (0,1]")
	}
	if c.Sizing.MaxSinglePosition <= 0 || c.Sizing.MaxSinglePosition > 1 {
		return domain.NewConfigError("sizing.max_single_position", "must be in (0,1]")
	}
	if c.Grace.GraceDecayRate <= 0 || c.Grace.GraceDecayRate >= 1 {
		return domain.NewConfigError("grace.grace_decay_rate", "must be in (0,1)")
	}
	if c.Core.MaxCoreAssets < 0 {
		return domain.NewConfigError("core.max_core_assets", "must not be negative")
	}
	if c.Core.CoreAssetExtensionLimit < 0 {
		return domain.NewConfigError("core.core_asset_extension_limit", "must not be negative")
	}
	return nil
}

// Export serializes the config back to YAML. Exporting and re-importing
// through Load produces an equivalent config.
func (c *Config) Export() ([]byte, error) {
	return yaml.Marshal(c)
}
