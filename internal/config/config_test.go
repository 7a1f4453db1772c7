package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/rebalancer/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.95, cfg.Sizing.TargetTotalAllocation)
	assert.Equal(t, 0.15, cfg.Sizing.MaxSinglePosition)
	assert.Equal(t, 1.02, cfg.Selection.StickinessBoost)
	assert.Equal(t, 3, cfg.Core.MaxCoreAssets)
	assert.Equal(t, 2, cfg.Core.CoreAssetExtensionLimit)
}

func TestValidateRejectsBothChannelsDisabled(t *testing.T) {
	cfg := Default()
	cfg.Selection.EnableTechnical = false
	cfg.Selection.EnableFundamental = false

	err := cfg.Validate()
	require.Error(t, err)
	var cfgErr *domain.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestValidateRejectsNegativeWeights(t *testing.T) {
	cfg := Default()
	cfg.Selection.TechnicalWeight = -0.2
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNewPositionsAboveTotal(t *testing.T) {
	cfg := Default()
	cfg.Selection.MaxNewPositions = cfg.Selection.MaxTotalPositions + 1
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsDecayRateOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Grace.GraceDecayRate = 1.0
	assert.Error(t, cfg.Validate())
}

func TestNormalizeRescalesWeights(t *testing.T) {
	cfg := Default()
	cfg.Selection.TechnicalWeight = 3
	cfg.Selection.FundamentalWeight = 1

	require.NoError(t, cfg.normalize())
	assert.InDelta(t, 0.75, cfg.Selection.TechnicalWeight, 1e-9)
	assert.InDelta(t, 0.25, cfg.Selection.FundamentalWeight, 1e-9)
}

func TestNormalizeSkipsSingleChannel(t *testing.T) {
	cfg := Default()
	cfg.Selection.EnableFundamental = false
	cfg.Selection.TechnicalWeight = 3

	require.NoError(t, cfg.normalize())
	assert.Equal(t, 3.0, cfg.Selection.TechnicalWeight, "weights are left alone when only one channel is on")
}

func TestLoadAppliesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("sizing:\n  max_single_position: 0.25\ngrace:\n  grace_period_days: 9\n")
	require.NoError(t, os.WriteFile(path, body, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.25, cfg.Sizing.MaxSinglePosition)
	assert.Equal(t, 9, cfg.Grace.GracePeriodDays)
	// Untouched groups keep their defaults.
	assert.Equal(t, 14, cfg.Whipsaw.WhipsawProtectionDays)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sizing: [not a mapping"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Sizing, cfg.Sizing)
}

// The round-trip law: exporting a configuration and re-importing it yields
// a semantically equal configuration.
func TestExportLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Sizing.SizingMode = domain.SizingAdaptive
	cfg.Sizing.ResidualStrategy = domain.ResidualProportional
	cfg.Holding.RegimeSeverityThreshold = domain.SeverityCritical
	cfg.Selection.TechnicalWeight = 0.7
	cfg.Selection.FundamentalWeight = 0.3

	exported, err := cfg.Export()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "exported.yaml")
	require.NoError(t, os.WriteFile(path, exported, 0o644))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, reloaded)
}
