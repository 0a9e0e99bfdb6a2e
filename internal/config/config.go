// Package config provides configuration management for the Swarm
// execution core.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like DATABASE_URL, SERVER_PORT)
// 3. Default values
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the root configuration structure.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Session       SessionConfig       `mapstructure:"session"`
	Dispatcher    DispatcherConfig    `mapstructure:"dispatcher"`
	LeaseMonitor  LeaseMonitorConfig  `mapstructure:"lease_monitor"`
	VMBackend     VMBackendConfig     `mapstructure:"vm_backend"`
	Log           LogConfig           `mapstructure:"log"`
	River         RiverConfig         `mapstructure:"river"`
	Security      SecurityConfig      `mapstructure:"security"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	VCS           VCSConfig           `mapstructure:"vcs"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port                  int           `mapstructure:"port"`
	ReadTimeout           time.Duration `mapstructure:"read_timeout"`
	WriteTimeout          time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout       time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins        []string      `mapstructure:"allowed_origins"`
	AllowCredentials      bool          `mapstructure:"allow_credentials"`
	UnsafeAllowAllOrigins bool          `mapstructure:"unsafe_allow_all_origins"`
}

// DatabaseConfig contains PostgreSQL connection settings: a single shared
// pool backs ent, River, and the hand-written atomic-SQL Store paths.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// AuthConfig contains HITL bearer-token auth settings. Operators holds the
// login-eligible accounts: this system has no User/Role entity (Ticket and
// Session authorization is flat tenant matching, see RequireTenantMatch), so
// accounts are declared here rather than in a database table.
type AuthConfig struct {
	Lifetime    time.Duration    `mapstructure:"lifetime"`
	IdleTimeout time.Duration    `mapstructure:"idle_timeout"`
	Cookie      string           `mapstructure:"cookie"`
	Secure      bool             `mapstructure:"secure"`
	HttpOnly    bool             `mapstructure:"http_only"`
	Operators   []OperatorConfig `mapstructure:"operators"`
}

// OperatorConfig is one login-eligible account. PasswordHash is a bcrypt
// hash, for example one generated with the HashPassword helper in
// internal/api/handlers.
type OperatorConfig struct {
	Username     string   `mapstructure:"username"`
	PasswordHash string   `mapstructure:"password_hash"`
	TenantID     string   `mapstructure:"tenant_id"`
	Roles        []string `mapstructure:"roles"`
	Permissions  []string `mapstructure:"permissions"`
}

// SessionConfig tunes the Session State Machine (spec.md §4.C, §9). The
// coverage thresholds resolve the spec's open questions: CoverageThreshold
// is the ordinary clarifying -> ready_for_docs gate. SkipCoverageThreshold
// is loaded from config, but the session machine's Skip does not read it:
// Skip applies its own fixed 50% coverage floor.
type SessionConfig struct {
	MinDescriptionLength  int `mapstructure:"min_description_length"`
	CoverageThreshold     int `mapstructure:"coverage_threshold"`
	SkipCoverageThreshold int `mapstructure:"skip_coverage_threshold"`
	MaxClarificationTurns int `mapstructure:"max_clarification_turns"`
}

// DispatcherConfig tunes the agent-pull claim loop (spec.md §4.E).
type DispatcherConfig struct {
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	BatchSize            int           `mapstructure:"batch_size"`
	MaxFleet             int           `mapstructure:"max_fleet"`
	TenantConcurrencyCap int           `mapstructure:"tenant_concurrency_cap"`
	LeaseDuration        time.Duration `mapstructure:"lease_duration"`
	MaxAttempts          int           `mapstructure:"max_attempts"`
}

// LeaseMonitorConfig tunes the heartbeat publisher and stale reclaimer
// (spec.md §4.F).
type LeaseMonitorConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ReaperInterval    time.Duration `mapstructure:"reaper_interval"`
	StaleThreshold    time.Duration `mapstructure:"stale_threshold"`
}

// VMBackendConfig contains the KubeVirt cluster operation settings used by
// the VM backend adapter (internal/provider). Mode selects between the real
// KubeVirt backend ("kubevirt") and the in-memory MockBackend ("mock"),
// useful for running the coordinator without a cluster during development.
type VMBackendConfig struct {
	Mode                string        `mapstructure:"mode"`
	Cluster             string        `mapstructure:"cluster"`
	KubeconfigDir       string        `mapstructure:"kubeconfig_dir"`
	ClusterConcurrency  int           `mapstructure:"cluster_concurrency"`
	OperationTimeout    time.Duration `mapstructure:"operation_timeout"`
	Namespace           string        `mapstructure:"namespace"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RiverConfig contains River Queue settings.
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
}

// SecurityConfig contains security-related settings. Secrets are
// auto-generated on first boot if missing.
type SecurityConfig struct {
	EncryptionKey       string   `mapstructure:"encryption_key"`
	SessionSecret       string   `mapstructure:"session_secret"`
	JWTVerificationKeys []string `mapstructure:"jwt_verification_keys"`
}

// VCSConfig addresses the forge Verification + Cascade opens pull requests
// against (internal/adapters/vcs), plus the working-tree root the VCS and
// verifier adapters check branches out into.
type VCSConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	Token     string `mapstructure:"token"`
	WorkDir   string `mapstructure:"work_dir"`
	RepoOwner string `mapstructure:"repo_owner"`
	RepoName  string `mapstructure:"repo_name"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	DispatchPoolSize int `mapstructure:"dispatch_pool_size"`
	CascadePoolSize  int `mapstructure:"cascade_pool_size"`
}

var (
	bootstrapLoggerOnce sync.Once
	bootstrapLogger     *zap.Logger
)

// Load reads configuration from file and environment variables.
// No env var prefix: standard names like DATABASE_URL, SERVER_PORT.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/swarm")

	// Maps nested config: database.max_conns -> DATABASE_MAX_CONNS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file is optional, use defaults and env vars.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.ensureSecrets(); err != nil {
		return nil, fmt.Errorf("ensure secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if c.Security.SessionSecret == "" {
		return fmt.Errorf("security.session_secret must not be empty")
	}
	if len(c.Security.SessionSecret) < 32 {
		return fmt.Errorf("security.session_secret must be at least 32 characters")
	}
	if c.Session.SkipCoverageThreshold > c.Session.CoverageThreshold {
		return fmt.Errorf("session.skip_coverage_threshold must not exceed session.coverage_threshold")
	}
	return nil
}

// ensureSecrets auto-generates missing secrets on first boot.
func (c *Config) ensureSecrets() error {
	if c.Security.SessionSecret == "" {
		secret, err := generateSecureRandomHex(32)
		if err != nil {
			return fmt.Errorf("auto-generate session secret: %w", err)
		}
		c.Security.SessionSecret = secret
		logBootstrapWarn(
			"auto-generated session_secret; set SECURITY_SESSION_SECRET env var for persistence",
			zap.Int("length", len(secret)),
		)
	}
	if c.Security.EncryptionKey == "" {
		key, err := generateSecureRandomHex(32)
		if err != nil {
			return fmt.Errorf("auto-generate encryption key: %w", err)
		}
		c.Security.EncryptionKey = key
		logBootstrapWarn(
			"auto-generated encryption_key; set SECURITY_ENCRYPTION_KEY env var for persistence",
			zap.Int("length", len(key)),
		)
	}
	return nil
}

func logBootstrapWarn(msg string, fields ...zap.Field) {
	bootstrapLoggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)

		l, err := cfg.Build()
		if err != nil {
			bootstrapLogger = zap.NewNop()
			return
		}
		bootstrapLogger = l
	})

	bootstrapLogger.Warn(msg, fields...)
}

// generateSecureRandomHex produces a hex-encoded string of n random bytes.
func generateSecureRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.allow_credentials", true)
	v.SetDefault("server.unsafe_allow_all_origins", false)

	// Database (shared pool across ent, River, and hand-written SQL)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "swarm")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "swarm")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", false)

	// Auth
	v.SetDefault("auth.lifetime", "24h")
	v.SetDefault("auth.idle_timeout", "30m")
	v.SetDefault("auth.cookie", "swarm_session")
	v.SetDefault("auth.secure", true)
	v.SetDefault("auth.http_only", true)

	// Session State Machine. 80%/50% resolve the two coverage-threshold
	// open questions named in spec.md §9: 80% is the ordinary gate,
	// 50% is the minimum a user override may accept early.
	v.SetDefault("session.min_description_length", 20)
	v.SetDefault("session.coverage_threshold", 80)
	v.SetDefault("session.skip_coverage_threshold", 50)
	v.SetDefault("session.max_clarification_turns", 10)

	// Dispatcher
	v.SetDefault("dispatcher.poll_interval", "5s")
	v.SetDefault("dispatcher.batch_size", 10)
	v.SetDefault("dispatcher.max_fleet", 10)
	v.SetDefault("dispatcher.tenant_concurrency_cap", 10)
	v.SetDefault("dispatcher.lease_duration", "30m")
	v.SetDefault("dispatcher.max_attempts", 3)

	// Lease Monitor
	v.SetDefault("lease_monitor.heartbeat_interval", "30s")
	v.SetDefault("lease_monitor.reaper_interval", "60s")
	v.SetDefault("lease_monitor.stale_threshold", "5m")

	// VM backend (KubeVirt)
	v.SetDefault("vm_backend.mode", "mock")
	v.SetDefault("vm_backend.cluster", "default")
	v.SetDefault("vm_backend.kubeconfig_dir", "./kubeconfigs")
	v.SetDefault("vm_backend.cluster_concurrency", 20)
	v.SetDefault("vm_backend.operation_timeout", "5m")
	v.SetDefault("vm_backend.namespace", "swarm-agents")

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// River
	v.SetDefault("river.max_workers", 10)
	v.SetDefault("river.completed_job_retention_period", "24h")

	// Security
	v.SetDefault("security.jwt_verification_keys", []string{})

	// Worker Pool
	v.SetDefault("worker.dispatch_pool_size", 100)
	v.SetDefault("worker.cascade_pool_size", 50)

	// VCS
	v.SetDefault("vcs.base_url", "https://git.internal")
	v.SetDefault("vcs.token", "")
	v.SetDefault("vcs.work_dir", "./workdir")
	v.SetDefault("vcs.repo_owner", "swarm")
	v.SetDefault("vcs.repo_name", "agent-workspace")
}
