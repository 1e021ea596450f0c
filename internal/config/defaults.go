// SPDX-License-Identifier: MIT

package config

// EncryptedKeys lists the dotted keys whose values are always encrypted in
// the blob, regardless of how they were written.
var EncryptedKeys = map[string]bool{
	"database.password":   true,
	"broker.password":     true,
	"security.secret_key": true,
	"email.password":      true,
	"api.secret_key":      true,
}

// Defaults returns the built-in settings table. Callers receive a fresh copy.
func Defaults() map[string]any {
	return map[string]any{
		"data_dir":  "./data",
		"log.level": "info",

		"server.ops_addr":         "127.0.0.1:8081",
		"server.shutdown_timeout": "20s",

		"database.type":              "sqlite",
		"database.path":              "", // sqlite file; empty means <data_dir>/consultease.db
		"database.host":              "localhost",
		"database.port":              5432,
		"database.name":              "consultease",
		"database.user":              "consultease",
		"database.password":          "",
		"database.pool_size":         5,
		"database.pool_overflow":     5,
		"database.tx_retries":        3,
		"database.statement_timeout": "5s",

		"broker.host":          "localhost",
		"broker.port":          1883,
		"broker.username":      "",
		"broker.password":      "",
		"broker.client_id":     "consultease-central",
		"broker.queue_size":    512,
		"broker.reconnect_max": "30s",
		"broker.batch_size":    16,
		"broker.batch_window":  "20ms",
		"broker.spool_path":    "", // empty means <data_dir>/spool

		"rfid.device_path":      "",
		"rfid.vendor_id":        "ffff",
		"rfid.product_id":       "0035",
		"rfid.simulation":       false,
		"rfid.debounce":         "1s",
		"rfid.duplicate_window": "3s",
		"rfid.max_reconnects":   5,

		"presence.grace_interval": "45s",
		"presence.desk_stale":     "5m",

		"consult.sweep_interval":     "30s",
		"consult.reattempt_interval": "60s",
		"consult.max_attempts":       5,
		"consult.max_request_len":    2000,
		"consult.max_course_len":     64,

		"security.secret_key":                "",
		"security.bcrypt_cost":               12,
		"security.lockout_threshold":         5,
		"security.lockout_window":            "900s",
		"security.session_idle_timeout":      "30m",
		"security.password_max_age":          "2160h",
		"security.invalidate_on_addr_change": false,

		"audit.retention_days": 90,

		"cache.backend":        "memory",
		"cache.ttl":            "60s",
		"cache.redis_addr":     "localhost:6379",
		"cache.redis_db":       0,
		"cache.redis_password": "",

		"email.password": "",
		"api.secret_key": "",

		"telemetry.enabled":  false,
		"telemetry.exporter": "noop",
		"telemetry.endpoint": "localhost:4317",
		"telemetry.sampling": 1.0,
	}
}
