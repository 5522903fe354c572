// Package config provides environment-aware configuration management for the
// security-governance core.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	slruntime "github.com/r3e-network/security-governance-core/infrastructure/runtime"
)

// Environment re-exports the shared runtime environment type so callers only
// need to import this package.
type Environment = slruntime.Environment

const (
	Development = slruntime.Development
	Testing     = slruntime.Testing
	Production  = slruntime.Production
)

// ServerConfig controls the HTTP ingress.
type ServerConfig struct {
	Host string
	Port int
}

// DatabaseConfig controls the postgres connection backing the ledger and
// RBAC stores.
type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// LoggingConfig controls logrus output.
type LoggingConfig struct {
	Level  string
	Format string
}

// AuthConfig controls service-to-service and operator authentication.
type AuthConfig struct {
	JWTSecret       string
	ServiceTokenTTL time.Duration
}

// LedgerConfig controls the tamper-evident audit ledger.
type LedgerConfig struct {
	SigningKey       string
	LegalHoldEnabled bool
}

// RBACConfig controls the hierarchical RBAC evaluator.
type RBACConfig struct {
	MaxRoleChainDepth int
	DecisionCacheTTL  time.Duration
}

// MFAConfig controls the adaptive MFA orchestrator's scoring and lockout
// parameters.
type MFAConfig struct {
	LowRiskThreshold    float64
	MediumRiskThreshold float64
	CooldownDuration    time.Duration
	MaxAttempts         int
	LockoutDuration     time.Duration
	BackupCodeCount     int
}

// ComplianceConfig controls the compliance orchestrator and circuit breaker.
type ComplianceConfig struct {
	PredicateTimeout time.Duration
	VelocityWindow   time.Duration
	// PolicyFile, if set, points at a YAML document of compliance rules
	// (see internal/compliance.LoadPolicyFile) that overrides the
	// built-in default policy set without a redeploy.
	PolicyFile string
}

// JobsConfig controls the background job orchestrator's schedule.
type JobsConfig struct {
	StaleSessionSweepInterval time.Duration
	ComplianceRescanInterval  time.Duration
	LedgerReconcileInterval   time.Duration
	AuditExportInterval       time.Duration
	LeaseDuration             time.Duration
}

// CacheConfig controls the L1 (in-process) and L2 (redis) cache tiers.
type CacheConfig struct {
	L1TTL  time.Duration
	L2Addr string
	L2DB   int
	L2TTL  time.Duration
}

// Config holds all application configuration.
type Config struct {
	Env Environment

	Server     ServerConfig
	Database   DatabaseConfig
	Logging    LoggingConfig
	Auth       AuthConfig
	Ledger     LedgerConfig
	RBAC       RBACConfig
	MFA        MFAConfig
	Compliance ComplianceConfig
	Jobs       JobsConfig
	Cache      CacheConfig
}

// New returns a Config populated with defaults, independent of the
// environment. Tests and callers that don't need env/file loading use this
// directly.
func New() *Config {
	return &Config{
		Env: Development,
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Auth: AuthConfig{
			ServiceTokenTTL: 15 * time.Minute,
		},
		Ledger: LedgerConfig{
			LegalHoldEnabled: false,
		},
		RBAC: RBACConfig{
			MaxRoleChainDepth: 8,
			DecisionCacheTTL:  30 * time.Second,
		},
		MFA: MFAConfig{
			LowRiskThreshold:    0.3,
			MediumRiskThreshold: 0.7,
			CooldownDuration:    5 * time.Minute,
			MaxAttempts:         5,
			LockoutDuration:     15 * time.Minute,
			BackupCodeCount:     10,
		},
		Compliance: ComplianceConfig{
			PredicateTimeout: 2 * time.Second,
			VelocityWindow:   time.Hour,
		},
		Jobs: JobsConfig{
			StaleSessionSweepInterval: 5 * time.Minute,
			ComplianceRescanInterval:  10 * time.Minute,
			LedgerReconcileInterval:   time.Hour,
			AuditExportInterval:       24 * time.Hour,
			LeaseDuration:             2 * time.Minute,
		},
		Cache: CacheConfig{
			L1TTL: 30 * time.Second,
			L2DB:  0,
			L2TTL: 5 * time.Minute,
		},
	}
}

// Load loads configuration based on the GOVERNANCE_ENV environment variable,
// optionally reading an environment-specific .env file before applying
// overrides from the process environment.
func Load() (*Config, error) {
	envStr := os.Getenv("GOVERNANCE_ENV")
	if envStr == "" {
		envStr = string(slruntime.Development)
	}

	env, ok := slruntime.ParseEnvironment(envStr)
	if !ok {
		return nil, fmt.Errorf("invalid GOVERNANCE_ENV: %s (must be development, testing, or production)", envStr)
	}

	configFile := filepath.Join("config", fmt.Sprintf("%s.env", env))
	if err := godotenv.Load(configFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("Warning: Could not load %s: %v\n", configFile, err)
		}
	}

	cfg := New()
	cfg.Env = env

	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// loadFromEnv overlays environment variables onto the already-defaulted cfg.
func (c *Config) loadFromEnv() error {
	c.Server.Host = getEnv("SERVER_HOST", c.Server.Host)
	c.Server.Port = getIntEnv("SERVER_PORT", c.Server.Port)

	c.Database.Driver = getEnv("DATABASE_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("DATABASE_URL", c.Database.DSN)
	c.Database.MaxOpenConns = getIntEnv("DATABASE_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getIntEnv("DATABASE_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	if d, err := getDurationEnv("DATABASE_CONN_MAX_LIFETIME", c.Database.ConnMaxLifetime); err != nil {
		return err
	} else {
		c.Database.ConnMaxLifetime = d
	}

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	if d, err := getDurationEnv("SERVICE_TOKEN_TTL", c.Auth.ServiceTokenTTL); err != nil {
		return err
	} else {
		c.Auth.ServiceTokenTTL = d
	}

	c.Ledger.SigningKey = getEnv("LEDGER_SIGNING_KEY", c.Ledger.SigningKey)
	c.Ledger.LegalHoldEnabled = getBoolEnv("LEDGER_LEGAL_HOLD_ENABLED", c.Ledger.LegalHoldEnabled)

	c.RBAC.MaxRoleChainDepth = getIntEnv("RBAC_MAX_ROLE_CHAIN_DEPTH", c.RBAC.MaxRoleChainDepth)
	if d, err := getDurationEnv("RBAC_DECISION_CACHE_TTL", c.RBAC.DecisionCacheTTL); err != nil {
		return err
	} else {
		c.RBAC.DecisionCacheTTL = d
	}

	if f, err := getFloatEnv("MFA_LOW_RISK_THRESHOLD", c.MFA.LowRiskThreshold); err != nil {
		return err
	} else {
		c.MFA.LowRiskThreshold = f
	}
	if f, err := getFloatEnv("MFA_MEDIUM_RISK_THRESHOLD", c.MFA.MediumRiskThreshold); err != nil {
		return err
	} else {
		c.MFA.MediumRiskThreshold = f
	}
	if d, err := getDurationEnv("MFA_COOLDOWN_DURATION", c.MFA.CooldownDuration); err != nil {
		return err
	} else {
		c.MFA.CooldownDuration = d
	}
	c.MFA.MaxAttempts = getIntEnv("MFA_MAX_ATTEMPTS", c.MFA.MaxAttempts)
	if d, err := getDurationEnv("MFA_LOCKOUT_DURATION", c.MFA.LockoutDuration); err != nil {
		return err
	} else {
		c.MFA.LockoutDuration = d
	}
	c.MFA.BackupCodeCount = getIntEnv("MFA_BACKUP_CODE_COUNT", c.MFA.BackupCodeCount)

	if d, err := getDurationEnv("COMPLIANCE_PREDICATE_TIMEOUT", c.Compliance.PredicateTimeout); err != nil {
		return err
	} else {
		c.Compliance.PredicateTimeout = d
	}
	if d, err := getDurationEnv("COMPLIANCE_VELOCITY_WINDOW", c.Compliance.VelocityWindow); err != nil {
		return err
	} else {
		c.Compliance.VelocityWindow = d
	}
	c.Compliance.PolicyFile = getEnv("COMPLIANCE_POLICY_FILE", c.Compliance.PolicyFile)

	if d, err := getDurationEnv("JOBS_STALE_SESSION_SWEEP_INTERVAL", c.Jobs.StaleSessionSweepInterval); err != nil {
		return err
	} else {
		c.Jobs.StaleSessionSweepInterval = d
	}
	if d, err := getDurationEnv("JOBS_COMPLIANCE_RESCAN_INTERVAL", c.Jobs.ComplianceRescanInterval); err != nil {
		return err
	} else {
		c.Jobs.ComplianceRescanInterval = d
	}
	if d, err := getDurationEnv("JOBS_LEDGER_RECONCILE_INTERVAL", c.Jobs.LedgerReconcileInterval); err != nil {
		return err
	} else {
		c.Jobs.LedgerReconcileInterval = d
	}
	if d, err := getDurationEnv("JOBS_AUDIT_EXPORT_INTERVAL", c.Jobs.AuditExportInterval); err != nil {
		return err
	} else {
		c.Jobs.AuditExportInterval = d
	}
	if d, err := getDurationEnv("JOBS_LEASE_DURATION", c.Jobs.LeaseDuration); err != nil {
		return err
	} else {
		c.Jobs.LeaseDuration = d
	}

	if d, err := getDurationEnv("CACHE_L1_TTL", c.Cache.L1TTL); err != nil {
		return err
	} else {
		c.Cache.L1TTL = d
	}
	c.Cache.L2Addr = getEnv("CACHE_L2_ADDR", c.Cache.L2Addr)
	c.Cache.L2DB = getIntEnv("CACHE_L2_DB", c.Cache.L2DB)
	if d, err := getDurationEnv("CACHE_L2_TTL", c.Cache.L2TTL); err != nil {
		return err
	} else {
		c.Cache.L2TTL = d
	}

	return nil
}

// IsDevelopment returns true if running in development environment.
func (c *Config) IsDevelopment() bool { return c.Env == Development }

// IsTesting returns true if running in testing environment.
func (c *Config) IsTesting() bool { return c.Env == Testing }

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool { return c.Env == Production }

// ConnectionString returns the postgres DSN.
func (d DatabaseConfig) ConnectionString() string {
	return d.DSN
}

// Validate validates the configuration, applying stricter rules in production.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid SERVER_PORT: %d", c.Server.Port)
	}
	if c.RBAC.MaxRoleChainDepth < 1 {
		return fmt.Errorf("RBAC_MAX_ROLE_CHAIN_DEPTH must be >= 1")
	}
	if c.MFA.LowRiskThreshold < 0 || c.MFA.LowRiskThreshold > 1 {
		return fmt.Errorf("MFA_LOW_RISK_THRESHOLD must be in [0,1]")
	}
	if c.MFA.MediumRiskThreshold < c.MFA.LowRiskThreshold || c.MFA.MediumRiskThreshold > 1 {
		return fmt.Errorf("MFA_MEDIUM_RISK_THRESHOLD must be in [MFA_LOW_RISK_THRESHOLD,1]")
	}

	if c.IsProduction() {
		if c.Ledger.SigningKey == "" {
			return fmt.Errorf("LEDGER_SIGNING_KEY is required in production")
		}
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if c.Database.DSN == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value, ok := slruntime.ParseEnvInt(key); ok {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getFloatEnv(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
