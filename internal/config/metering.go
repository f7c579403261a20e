package config

import (
	"os"
	"strconv"
	"time"
)

type MeteringConfig struct {
	EditCost       int64 // cents per paid edit
	FreeDailyLimit int   // free edits per UTC day
	StorageTimeout time.Duration
	ImagesDir      string
	ReferenceImage string // dish ingredient reference image shown to clients
}

func LoadMeteringConfig() *MeteringConfig {
	return &MeteringConfig{
		EditCost:       getEnvAsInt64("METERING_EDIT_COST", 50),
		FreeDailyLimit: getEnvAsInt("METERING_FREE_DAILY_LIMIT", 3),
		StorageTimeout: StorageTimeout(),
		ImagesDir:      getEnv("IMAGES_DIR", "./images"),
		ReferenceImage: getEnv("DISH_INGREDIENT_REFERENCE_IMAGE", ""),
	}
}

// StorageTimeout is the budget for a single storage operation. All
// storage callers share this one knob.
func StorageTimeout() time.Duration {
	return getEnvAsDuration("STORAGE_TIMEOUT", 5*time.Second)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
