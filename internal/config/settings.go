// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Settings is the typed view of the layered store that the rest of the
// system consumes. It is materialized once at startup; components that
// need live values keep a *Store reference instead.
type Settings struct {
	DataDir  string
	LogLevel string

	Server    ServerSettings
	Database  DatabaseSettings
	Broker    BrokerSettings
	RFID      RFIDSettings
	Presence  PresenceSettings
	Consult   ConsultSettings
	Security  SecuritySettings
	Audit     AuditSettings
	Cache     CacheSettings
	Telemetry TelemetrySettings
}

type ServerSettings struct {
	OpsAddr         string
	ShutdownTimeout time.Duration
}

type DatabaseSettings struct {
	Type             string
	Path             string
	Host             string
	Port             int
	Name             string
	User             string
	Password         string
	PoolSize         int
	PoolOverflow     int
	TxRetries        int
	StatementTimeout time.Duration
}

type BrokerSettings struct {
	Host         string
	Port         int
	Username     string
	Password     string
	ClientID     string
	QueueSize    int
	ReconnectMax time.Duration
	BatchSize    int
	BatchWindow  time.Duration
	SpoolPath    string
}

type RFIDSettings struct {
	DevicePath      string
	VendorID        string
	ProductID       string
	Simulation      bool
	Debounce        time.Duration
	DuplicateWindow time.Duration
	MaxReconnects   int
}

type PresenceSettings struct {
	GraceInterval time.Duration
	DeskStale     time.Duration
}

type ConsultSettings struct {
	SweepInterval     time.Duration
	ReattemptInterval time.Duration
	MaxAttempts       int
	MaxRequestLen     int
	MaxCourseLen      int
}

type SecuritySettings struct {
	SecretKey              string
	BcryptCost             int
	LockoutThreshold       int
	LockoutWindow          time.Duration
	SessionIdleTimeout     time.Duration
	PasswordMaxAge         time.Duration
	InvalidateOnAddrChange bool
}

type AuditSettings struct {
	RetentionDays int
}

type CacheSettings struct {
	Backend       string
	TTL           time.Duration
	RedisAddr     string
	RedisDB       int
	RedisPassword string
}

type TelemetrySettings struct {
	Enabled  bool
	Exporter string
	Endpoint string
	Sampling float64
}

// Materialize reads the typed settings out of the store. Missing keys
// take their defaults; type mismatches fall back the same way.
func Materialize(s *Store) Settings {
	set := Settings{
		DataDir:  s.GetString("data_dir", "./data"),
		LogLevel: s.GetString("log.level", "info"),
		Server: ServerSettings{
			OpsAddr:         s.GetString("server.ops_addr", "127.0.0.1:8081"),
			ShutdownTimeout: s.GetDuration("server.shutdown_timeout", 20*time.Second),
		},
		Database: DatabaseSettings{
			Type:             s.GetString("database.type", "sqlite"),
			Path:             s.GetString("database.path", ""),
			Host:             s.GetString("database.host", "localhost"),
			Port:             s.GetInt("database.port", 5432),
			Name:             s.GetString("database.name", "consultease"),
			User:             s.GetString("database.user", ""),
			Password:         s.GetString("database.password", ""),
			PoolSize:         s.GetInt("database.pool_size", 5),
			PoolOverflow:     s.GetInt("database.pool_overflow", 5),
			TxRetries:        s.GetInt("database.tx_retries", 3),
			StatementTimeout: s.GetDuration("database.statement_timeout", 5*time.Second),
		},
		Broker: BrokerSettings{
			Host:         s.GetString("broker.host", "localhost"),
			Port:         s.GetInt("broker.port", 1883),
			Username:     s.GetString("broker.username", ""),
			Password:     s.GetString("broker.password", ""),
			ClientID:     s.GetString("broker.client_id", "consultease-central"),
			QueueSize:    s.GetInt("broker.queue_size", 512),
			ReconnectMax: s.GetDuration("broker.reconnect_max", 30*time.Second),
			BatchSize:    s.GetInt("broker.batch_size", 16),
			BatchWindow:  s.GetDuration("broker.batch_window", 20*time.Millisecond),
			SpoolPath:    s.GetString("broker.spool_path", ""),
		},
		RFID: RFIDSettings{
			DevicePath:      s.GetString("rfid.device_path", ""),
			VendorID:        s.GetString("rfid.vendor_id", "ffff"),
			ProductID:       s.GetString("rfid.product_id", "0035"),
			Simulation:      s.GetBool("rfid.simulation", false),
			Debounce:        s.GetDuration("rfid.debounce", time.Second),
			DuplicateWindow: s.GetDuration("rfid.duplicate_window", 3*time.Second),
			MaxReconnects:   s.GetInt("rfid.max_reconnects", 5),
		},
		Presence: PresenceSettings{
			GraceInterval: s.GetDuration("presence.grace_interval", 45*time.Second),
			DeskStale:     s.GetDuration("presence.desk_stale", 5*time.Minute),
		},
		Consult: ConsultSettings{
			SweepInterval:     s.GetDuration("consult.sweep_interval", 30*time.Second),
			ReattemptInterval: s.GetDuration("consult.reattempt_interval", 60*time.Second),
			MaxAttempts:       s.GetInt("consult.max_attempts", 5),
			MaxRequestLen:     s.GetInt("consult.max_request_len", 2000),
			MaxCourseLen:      s.GetInt("consult.max_course_len", 64),
		},
		Security: SecuritySettings{
			SecretKey:              s.GetString("security.secret_key", ""),
			BcryptCost:             s.GetInt("security.bcrypt_cost", 12),
			LockoutThreshold:       s.GetInt("security.lockout_threshold", 5),
			LockoutWindow:          s.GetDuration("security.lockout_window", 900*time.Second),
			SessionIdleTimeout:     s.GetDuration("security.session_idle_timeout", 30*time.Minute),
			PasswordMaxAge:         s.GetDuration("security.password_max_age", 2160*time.Hour),
			InvalidateOnAddrChange: s.GetBool("security.invalidate_on_addr_change", false),
		},
		Audit: AuditSettings{
			RetentionDays: s.GetInt("audit.retention_days", 90),
		},
		Cache: CacheSettings{
			Backend:       s.GetString("cache.backend", "memory"),
			TTL:           s.GetDuration("cache.ttl", time.Minute),
			RedisAddr:     s.GetString("cache.redis_addr", ""),
			RedisDB:       s.GetInt("cache.redis_db", 0),
			RedisPassword: s.GetString("cache.redis_password", ""),
		},
		Telemetry: TelemetrySettings{
			Enabled:  s.GetBool("telemetry.enabled", false),
			Exporter: s.GetString("telemetry.exporter", "noop"),
			Endpoint: s.GetString("telemetry.endpoint", ""),
			Sampling: 1.0,
		},
	}
	if set.Database.Path == "" {
		set.Database.Path = filepath.Join(set.DataDir, "consultease.db")
	}
	if set.Broker.SpoolPath == "" {
		set.Broker.SpoolPath = filepath.Join(set.DataDir, "spool")
	}
	return set
}

// Validate rejects settings combinations that cannot produce a working
// system. It is called once during startup before any component opens.
func (s Settings) Validate() error {
	switch s.Database.Type {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.type must be sqlite or postgres, got %q", s.Database.Type)
	}
	if s.Database.Type == "postgres" {
		if s.Database.Host == "" || s.Database.Name == "" || s.Database.User == "" {
			return fmt.Errorf("postgres requires database.host, database.name and database.user")
		}
	}
	if s.Database.PoolSize < 1 {
		return fmt.Errorf("database.pool_size must be at least 1, got %d", s.Database.PoolSize)
	}
	if s.Broker.Port < 1 || s.Broker.Port > 65535 {
		return fmt.Errorf("broker.port out of range: %d", s.Broker.Port)
	}
	if s.Broker.QueueSize < 1 {
		return fmt.Errorf("broker.queue_size must be at least 1, got %d", s.Broker.QueueSize)
	}
	if s.Broker.BatchSize < 1 {
		return fmt.Errorf("broker.batch_size must be at least 1, got %d", s.Broker.BatchSize)
	}
	if s.Security.BcryptCost < 10 || s.Security.BcryptCost > 31 {
		return fmt.Errorf("security.bcrypt_cost out of range: %d", s.Security.BcryptCost)
	}
	if s.Security.LockoutThreshold < 1 {
		return fmt.Errorf("security.lockout_threshold must be at least 1, got %d", s.Security.LockoutThreshold)
	}
	if s.Presence.GraceInterval <= 0 {
		return fmt.Errorf("presence.grace_interval must be positive, got %s", s.Presence.GraceInterval)
	}
	if s.Consult.MaxAttempts < 1 {
		return fmt.Errorf("consult.max_attempts must be at least 1, got %d", s.Consult.MaxAttempts)
	}
	switch s.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.backend must be memory or redis, got %q", s.Cache.Backend)
	}
	if s.Cache.Backend == "redis" && s.Cache.RedisAddr == "" {
		return fmt.Errorf("cache.backend redis requires cache.redis_addr")
	}
	return nil
}
