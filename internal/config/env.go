// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/consultease/central/internal/log"
)

// envOverrides maps environment variables onto dotted settings keys.
// Short legacy names come first; CONSULTEASE_* variants cover the rest.
var envOverrides = map[string]string{
	"DB_TYPE":              "database.type",
	"DB_HOST":              "database.host",
	"DB_PORT":              "database.port",
	"DB_NAME":              "database.name",
	"DB_USER":              "database.user",
	"DB_PASSWORD":          "database.password",
	"DB_POOL_SIZE":         "database.pool_size",
	"DB_PATH":              "database.path",
	"MQTT_BROKER_HOST":     "broker.host",
	"MQTT_BROKER_PORT":     "broker.port",
	"MQTT_USERNAME":        "broker.username",
	"MQTT_PASSWORD":        "broker.password",
	"MQTT_CLIENT_ID":       "broker.client_id",
	"RFID_DEVICE_PATH":     "rfid.device_path",
	"RFID_SIMULATION_MODE": "rfid.simulation",
	"RFID_VENDOR_ID":       "rfid.vendor_id",
	"RFID_PRODUCT_ID":      "rfid.product_id",
	"CONSULTEASE_DATA":     "data_dir",
	"CONSULTEASE_OPS_ADDR": "server.ops_addr",
	"LOG_LEVEL":            "log.level",
}

// ParseString reads a string from an environment variable or returns the
// default. The source of the value is logged for observability.
func ParseString(key, defaultValue string) string {
	logger := log.WithComponent("config")
	if value, exists := os.LookupEnv(key); exists {
		if value == "" {
			return defaultValue
		}
		lowerKey := strings.ToLower(key)
		if strings.Contains(lowerKey, "password") || strings.Contains(lowerKey, "secret") || strings.Contains(lowerKey, "token") {
			logger.Debug().Str("key", key).Str("source", "environment").Bool("sensitive", true).Msg("using environment variable")
		} else {
			logger.Debug().Str("key", key).Str("value", value).Str("source", "environment").Msg("using environment variable")
		}
		return value
	}
	return defaultValue
}

// ParseInt reads an integer from an environment variable or returns the
// default. Invalid values log a warning and fall back.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
		logger.Warn().Str("key", key).Str("value", v).Int("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
	}
	return defaultValue
}

// ParseBool reads a boolean from an environment variable or returns the
// default. It accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		switch strings.ToLower(v) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
		logger.Warn().Str("key", key).Str("value", v).Bool("default", defaultValue).
			Msg("invalid boolean in environment variable, using default")
	}
	return defaultValue
}

// ParseDuration reads a duration in Go format (e.g. "45s") from an
// environment variable or returns the default.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		logger.Warn().Str("key", key).Str("value", v).Dur("default", defaultValue).
			Msg("invalid duration in environment variable, using default")
	}
	return defaultValue
}

// ParseFloat reads a float from an environment variable or returns the
// default.
func ParseFloat(key string, defaultValue float64) float64 {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		logger.Warn().Str("key", key).Str("value", v).Float64("default", defaultValue).
			Msg("invalid float in environment variable, using default")
	}
	return defaultValue
}

// applyEnv merges environment overrides into the values map, coercing each
// override to the type of the default it replaces.
func (s *Store) applyEnv() {
	defaults := Defaults()
	for env, key := range envOverrides {
		raw, ok := os.LookupEnv(env)
		if !ok || raw == "" {
			continue
		}
		switch defaults[key].(type) {
		case int:
			s.values[key] = ParseInt(env, asInt(defaults[key]))
		case bool:
			s.values[key] = ParseBool(env, false)
		default:
			s.values[key] = raw
		}
		s.sources[key] = "environment"
	}
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
