package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadMeteringConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := LoadMeteringConfig()

		assert.Equal(t, int64(50), cfg.EditCost)
		assert.Equal(t, 3, cfg.FreeDailyLimit)
		assert.Equal(t, 5*time.Second, cfg.StorageTimeout)
		assert.Equal(t, "./images", cfg.ImagesDir)
	})

	t.Run("env overrides", func(t *testing.T) {
		t.Setenv("METERING_EDIT_COST", "100")
		t.Setenv("METERING_FREE_DAILY_LIMIT", "5")
		t.Setenv("STORAGE_TIMEOUT", "2s")
		t.Setenv("IMAGES_DIR", "/var/lib/dishsnap/images")

		cfg := LoadMeteringConfig()

		assert.Equal(t, int64(100), cfg.EditCost)
		assert.Equal(t, 5, cfg.FreeDailyLimit)
		assert.Equal(t, 2*time.Second, cfg.StorageTimeout)
		assert.Equal(t, "/var/lib/dishsnap/images", cfg.ImagesDir)

		// every storage caller reads the same knob
		assert.Equal(t, 2*time.Second, StorageTimeout())
	})

	t.Run("malformed values fall back to defaults", func(t *testing.T) {
		t.Setenv("METERING_EDIT_COST", "fifty")
		t.Setenv("METERING_FREE_DAILY_LIMIT", "many")
		t.Setenv("STORAGE_TIMEOUT", "soon")

		cfg := LoadMeteringConfig()

		assert.Equal(t, int64(50), cfg.EditCost)
		assert.Equal(t, 3, cfg.FreeDailyLimit)
		assert.Equal(t, 5*time.Second, cfg.StorageTimeout)
	})
}
