package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureFlags_Defaults(t *testing.T) {
	ff := LoadFeatureFlags()

	assert.True(t, ff.IsEnabled(FeatureGuardFastForwardClamp, ""))
	assert.True(t, ff.IsEnabled(FeatureProctorFullscreenLock, ""))
	assert.False(t, ff.IsEnabled(FeatureExperimentalWebhooks, ""))
	assert.False(t, ff.IsEnabled("no.such.flag", ""))
}

func TestFeatureFlags_EnvironmentOverrides(t *testing.T) {
	t.Setenv("FEATURE_GUARD_RATE_CLAMP", "false")
	t.Setenv("FEATURE_EXPERIMENTAL_ANALYTICS", "true")
	t.Setenv("FEATURE_QUOTA_WINDOW_LIMIT", "25")

	ff := LoadFeatureFlags()

	assert.False(t, ff.IsEnabled(FeatureGuardRateClamp, ""))
	assert.True(t, ff.IsEnabled(FeatureExperimentalAnalytics, ""))

	// A percentage puts the flag into partial rollout.
	enabled := 0
	for _, f := range ff.All() {
		if f.Name == FeatureQuotaWindowLimit {
			assert.Equal(t, 25, f.RolloutPercent)
		}
		if f.RolloutPercent > 0 {
			enabled++
		}
	}
	assert.Positive(t, enabled)
}

func TestFeatureFlags_RolloutBucketingIsStable(t *testing.T) {
	ff := LoadFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureProgressCache, 50))

	const user = "7ed99bd0-87b2-4dbb-a97b-596c3f29c49b"
	first := ff.IsEnabled(FeatureProgressCache, user)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, ff.IsEnabled(FeatureProgressCache, user))
	}
}

func TestFeatureFlags_OverrideWinsOverRollout(t *testing.T) {
	ff := LoadFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureProgressCache, 0))

	ff.SetOverride("user-1", FeatureProgressCache, true)
	assert.True(t, ff.IsEnabled(FeatureProgressCache, "user-1"))
	assert.False(t, ff.IsEnabled(FeatureProgressCache, "user-2"))

	ff.ClearOverrides("user-1")
	assert.False(t, ff.IsEnabled(FeatureProgressCache, "user-1"))
}

func TestFeatureFlags_SetRolloutPercentValidates(t *testing.T) {
	ff := LoadFeatureFlags()

	assert.ErrorIs(t, ff.SetRolloutPercent(FeatureProgressCache, 101), ErrInvalidRolloutPercent)
	assert.ErrorIs(t, ff.SetRolloutPercent("no.such.flag", 10), ErrFeatureNotFound)
}
