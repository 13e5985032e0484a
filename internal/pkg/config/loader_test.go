package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadEnvWithFallback(t *testing.T) {
	failValidator := func(s string) error {
		if s == "bad" {
			return assert.AnError
		}
		return nil
	}

	t.Run("unset uses default silently", func(t *testing.T) {
		result := LoadEnvWithFallback("TEST_UNSET_KEY", "default", failValidator)
		assert.Equal(t, "default", result.Value)
		assert.False(t, result.FallbackApplied)
		assert.Empty(t, result.Warnings)
	})

	t.Run("valid value passes", func(t *testing.T) {
		t.Setenv("TEST_STR_KEY", "good")
		result := LoadEnvWithFallback("TEST_STR_KEY", "default", failValidator)
		assert.Equal(t, "good", result.Value)
		assert.False(t, result.FallbackApplied)
	})

	t.Run("invalid value falls back with warning", func(t *testing.T) {
		t.Setenv("TEST_STR_KEY", "bad")
		result := LoadEnvWithFallback("TEST_STR_KEY", "default", failValidator)
		assert.Equal(t, "default", result.Value)
		assert.True(t, result.FallbackApplied)
		assert.Len(t, result.Warnings, 1)
	})
}

func TestLoadEnvInt(t *testing.T) {
	t.Run("parses integer", func(t *testing.T) {
		t.Setenv("TEST_INT_KEY", "42")
		result := LoadEnvInt("TEST_INT_KEY", 7, nil)
		assert.Equal(t, 42, result.Value)
	})

	t.Run("non-numeric falls back", func(t *testing.T) {
		t.Setenv("TEST_INT_KEY", "not-a-number")
		result := LoadEnvInt("TEST_INT_KEY", 7, nil)
		assert.Equal(t, 7, result.Value)
		assert.True(t, result.FallbackApplied)
	})

	t.Run("validator rejection falls back", func(t *testing.T) {
		t.Setenv("TEST_INT_KEY", "1000")
		result := LoadEnvInt("TEST_INT_KEY", 7, func(v int) error {
			return ValidateIntRange(v, 1, 100)
		})
		assert.Equal(t, 7, result.Value)
		assert.True(t, result.FallbackApplied)
	})
}

func TestLoadEnvDuration(t *testing.T) {
	t.Run("parses duration", func(t *testing.T) {
		t.Setenv("TEST_DUR_KEY", "90s")
		result := LoadEnvDuration("TEST_DUR_KEY", time.Minute, ValidatePositiveDuration)
		assert.Equal(t, 90*time.Second, result.Value)
	})

	t.Run("garbage falls back", func(t *testing.T) {
		t.Setenv("TEST_DUR_KEY", "ninety seconds")
		result := LoadEnvDuration("TEST_DUR_KEY", time.Minute, nil)
		assert.Equal(t, time.Minute, result.Value)
		assert.True(t, result.FallbackApplied)
	})
}

func TestValidators(t *testing.T) {
	assert.NoError(t, ValidateCronSchedule("30 5 * * *"))
	assert.NoError(t, ValidateCronSchedule("@every 10m"))
	assert.Error(t, ValidateCronSchedule("not a schedule"))
	assert.Error(t, ValidateCronSchedule(""))

	assert.NoError(t, ValidateTimezone("UTC"))
	assert.Error(t, ValidateTimezone("Mars/Olympus"))

	assert.NoError(t, ValidateIntRange(5, 1, 10))
	assert.Error(t, ValidateIntRange(11, 1, 10))

	assert.NoError(t, ValidateDuration(time.Minute, time.Second, time.Hour))
	assert.Error(t, ValidateDuration(2*time.Hour, time.Second, time.Hour))
}
