// Package config loads graphfed configuration from a YAML file and GRAPHFED_ environment
// variables.
//
// Values are resolved in three layers: built-in defaults (Default), then the YAML file
// (LoadFromFile), then the environment (ApplyEnv). Validate checks the result before use.
//
// Example Usage:
//
//	cfg, err := config.LoadFromFile("graphfed.yaml")
//	if err != nil {
//		log.Fatalf("loading config: %v", err)
//	}
//	cfg.ApplyEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
//	fmt.Println(cfg)
//
// Example file:
//
//	registry:
//	  query_cache_size: 1000
//	  query_cache_ttl: 5m
//	memory:
//	  enabled: true
//	  weight: 10
//	  undeletable: ["http://example.org/system"]
//	badger:
//	  enabled: true
//	  data_dir: ./data
//	  block_cache: 64MB
//	security:
//	  enabled: true
//	  policy_file: ./policy.yaml
//	  watch: true
//	audit:
//	  enabled: true
//	  log_path: ./logs/audit.log
//	logging:
//	  level: info
//	  format: json
//
// Environment Variables:
//   - GRAPHFED_QUERY_CACHE_SIZE=1000
//   - GRAPHFED_QUERY_CACHE_TTL=5m
//   - GRAPHFED_MEMORY_ENABLED=false
//   - GRAPHFED_MEMORY_WEIGHT=10
//   - GRAPHFED_MEMORY_UNDELETABLE="http://example.org/a,http://example.org/b"
//   - GRAPHFED_BADGER_ENABLED=true
//   - GRAPHFED_BADGER_DATA_DIR=./data
//   - GRAPHFED_BADGER_IN_MEMORY=false
//   - GRAPHFED_BADGER_SYNC_WRITES=false
//   - GRAPHFED_BADGER_WEIGHT=5
//   - GRAPHFED_BADGER_BLOCK_CACHE=32MB
//   - GRAPHFED_LOCK_MEMBER_WAIT=10ms
//   - GRAPHFED_LOCK_INITIAL_BACKOFF=2ms
//   - GRAPHFED_LOCK_MAX_BACKOFF=100ms
//   - GRAPHFED_SECURITY_ENABLED=true
//   - GRAPHFED_POLICY_FILE=./policy.yaml
//   - GRAPHFED_POLICY_WATCH=true
//   - GRAPHFED_ANONYMOUS_ROLE=viewer
//   - GRAPHFED_MAX_FAILED_LOGINS=5
//   - GRAPHFED_LOCKOUT_DURATION=15m
//   - GRAPHFED_AUDIT_ENABLED=true
//   - GRAPHFED_AUDIT_LOG_PATH=./logs/audit.log
//   - GRAPHFED_AUDIT_SYNC_WRITES=false
//   - GRAPHFED_LOG_LEVEL=info
//   - GRAPHFED_LOG_FORMAT=text
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/graphfed/pkg/lock"
	"github.com/orneryd/graphfed/pkg/security"
)

// Config holds all graphfed configuration.
//
// Configuration is organized into logical sections:
//   - Registry: query pre-parse cache
//   - Memory: in-memory provider
//   - Badger: persistent provider
//   - Lock: union-graph lock acquisition timings
//   - Security: access policy and login lockout
//   - Audit: audit log
//   - Logging: slog handler
type Config struct {
	Registry RegistryConfig `yaml:"registry"`
	Memory   MemoryConfig   `yaml:"memory"`
	Badger   BadgerConfig   `yaml:"badger"`
	Lock     LockConfig     `yaml:"lock"`
	Security SecurityConfig `yaml:"security"`
	Audit    AuditConfig    `yaml:"audit"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// RegistryConfig holds registry settings.
type RegistryConfig struct {
	// QueryCacheSize bounds the cache of query pre-parse results. 0 disables it.
	QueryCacheSize int `yaml:"query_cache_size"`
	// QueryCacheTTL expires cached pre-parse results.
	QueryCacheTTL time.Duration `yaml:"query_cache_ttl"`
}

// MemoryConfig holds in-memory provider settings.
type MemoryConfig struct {
	Enabled bool `yaml:"enabled"`
	// Weight is the routing weight; higher weights are asked first.
	Weight int `yaml:"weight"`
	// Undeletable lists graph IRIs the provider refuses to delete.
	Undeletable []string `yaml:"undeletable"`
}

// BadgerConfig holds persistent provider settings.
type BadgerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	DataDir    string `yaml:"data_dir"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`
	Weight     int    `yaml:"weight"`
	// BlockCache is a human-readable size such as "32MB". Empty uses Badger's default.
	BlockCache  string   `yaml:"block_cache"`
	Undeletable []string `yaml:"undeletable"`
}

// BlockCacheBytes returns BlockCache in bytes.
func (b BadgerConfig) BlockCacheBytes() int64 {
	return parseMemorySize(b.BlockCache)
}

// LockConfig holds union-graph lock timings.
type LockConfig struct {
	MemberWait     time.Duration `yaml:"member_wait"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// Options converts the section to lock.Options.
func (l LockConfig) Options() lock.Options {
	return lock.Options{
		MemberWait:     l.MemberWait,
		InitialBackoff: l.InitialBackoff,
		MaxBackoff:     l.MaxBackoff,
	}
}

// SecurityConfig holds access control settings.
type SecurityConfig struct {
	// Enabled turns on policy enforcement. When false every request is allowed.
	Enabled bool `yaml:"enabled"`
	// PolicyFile is a YAML policy (see security.Policy). Empty uses the built-in default.
	PolicyFile string `yaml:"policy_file"`
	// Watch reloads PolicyFile when it changes.
	Watch bool `yaml:"watch"`
	// AnonymousRole overrides the policy's anonymous role when set.
	AnonymousRole string `yaml:"anonymous_role"`
	// MinPasswordLength for users created at runtime
	MinPasswordLength int `yaml:"min_password_length"`
	// MaxFailedLogins before lockout
	MaxFailedLogins int `yaml:"max_failed_logins"`
	// LockoutDuration after too many failed logins
	LockoutDuration time.Duration `yaml:"lockout_duration"`
}

// AuthConfig converts the section to security.AuthConfig.
func (s SecurityConfig) AuthConfig() security.AuthConfig {
	ac := security.DefaultAuthConfig()
	if s.MinPasswordLength > 0 {
		ac.MinPasswordLength = s.MinPasswordLength
	}
	if s.MaxFailedLogins > 0 {
		ac.MaxFailedLogins = s.MaxFailedLogins
	}
	if s.LockoutDuration > 0 {
		ac.LockoutDuration = s.LockoutDuration
	}
	return ac
}

// AuditConfig holds audit log settings.
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	LogPath    string `yaml:"log_path"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level"`
	// Format: text, json
	Format string `yaml:"format"`
	// Output: stdout, stderr, or a file path
	Output string `yaml:"output"`
}

// SlogLevel returns Level as a slog.Level. Unknown levels map to info.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a slog.Logger writing to w with the configured level and format.
func (l LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Default returns the built-in configuration: a Badger store under ./data, security on with
// the default policy, audit on. The in-memory provider is configured but disabled, since
// graphs created in it would not outlive a CLI invocation.
func Default() *Config {
	return &Config{
		Registry: RegistryConfig{
			QueryCacheSize: 1000,
			QueryCacheTTL:  5 * time.Minute,
		},
		Memory: MemoryConfig{
			Weight: 10,
		},
		Badger: BadgerConfig{
			Enabled:    true,
			DataDir:    "./data",
			Weight:     5,
			BlockCache: "32MB",
		},
		Lock: LockConfig{
			MemberWait:     lock.DefaultMemberWait,
			InitialBackoff: lock.DefaultInitialBackoff,
			MaxBackoff:     lock.DefaultMaxBackoff,
		},
		Security: SecurityConfig{
			Enabled:           true,
			MinPasswordLength: 8,
			MaxFailedLogins:   5,
			LockoutDuration:   15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled: true,
			LogPath: "./logs/audit.log",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// LoadFromFile reads path over the defaults. Keys absent from the file keep their
// default values; unknown keys are an error.
func LoadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads YAML from r over the defaults.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from GRAPHFED_ environment variables. Unset or unparsable
// variables leave the current value in place.
func (c *Config) ApplyEnv() {
	c.Registry.QueryCacheSize = getEnvInt("GRAPHFED_QUERY_CACHE_SIZE", c.Registry.QueryCacheSize)
	c.Registry.QueryCacheTTL = getEnvDuration("GRAPHFED_QUERY_CACHE_TTL", c.Registry.QueryCacheTTL)

	c.Memory.Enabled = getEnvBool("GRAPHFED_MEMORY_ENABLED", c.Memory.Enabled)
	c.Memory.Weight = getEnvInt("GRAPHFED_MEMORY_WEIGHT", c.Memory.Weight)
	c.Memory.Undeletable = getEnvStringSlice("GRAPHFED_MEMORY_UNDELETABLE", c.Memory.Undeletable)

	c.Badger.Enabled = getEnvBool("GRAPHFED_BADGER_ENABLED", c.Badger.Enabled)
	c.Badger.DataDir = getEnv("GRAPHFED_BADGER_DATA_DIR", c.Badger.DataDir)
	c.Badger.InMemory = getEnvBool("GRAPHFED_BADGER_IN_MEMORY", c.Badger.InMemory)
	c.Badger.SyncWrites = getEnvBool("GRAPHFED_BADGER_SYNC_WRITES", c.Badger.SyncWrites)
	c.Badger.Weight = getEnvInt("GRAPHFED_BADGER_WEIGHT", c.Badger.Weight)
	c.Badger.BlockCache = getEnv("GRAPHFED_BADGER_BLOCK_CACHE", c.Badger.BlockCache)
	c.Badger.Undeletable = getEnvStringSlice("GRAPHFED_BADGER_UNDELETABLE", c.Badger.Undeletable)

	c.Lock.MemberWait = getEnvDuration("GRAPHFED_LOCK_MEMBER_WAIT", c.Lock.MemberWait)
	c.Lock.InitialBackoff = getEnvDuration("GRAPHFED_LOCK_INITIAL_BACKOFF", c.Lock.InitialBackoff)
	c.Lock.MaxBackoff = getEnvDuration("GRAPHFED_LOCK_MAX_BACKOFF", c.Lock.MaxBackoff)

	c.Security.Enabled = getEnvBool("GRAPHFED_SECURITY_ENABLED", c.Security.Enabled)
	c.Security.PolicyFile = getEnv("GRAPHFED_POLICY_FILE", c.Security.PolicyFile)
	c.Security.Watch = getEnvBool("GRAPHFED_POLICY_WATCH", c.Security.Watch)
	c.Security.AnonymousRole = getEnv("GRAPHFED_ANONYMOUS_ROLE", c.Security.AnonymousRole)
	c.Security.MinPasswordLength = getEnvInt("GRAPHFED_MIN_PASSWORD_LENGTH", c.Security.MinPasswordLength)
	c.Security.MaxFailedLogins = getEnvInt("GRAPHFED_MAX_FAILED_LOGINS", c.Security.MaxFailedLogins)
	c.Security.LockoutDuration = getEnvDuration("GRAPHFED_LOCKOUT_DURATION", c.Security.LockoutDuration)

	c.Audit.Enabled = getEnvBool("GRAPHFED_AUDIT_ENABLED", c.Audit.Enabled)
	c.Audit.LogPath = getEnv("GRAPHFED_AUDIT_LOG_PATH", c.Audit.LogPath)
	c.Audit.SyncWrites = getEnvBool("GRAPHFED_AUDIT_SYNC_WRITES", c.Audit.SyncWrites)

	c.Logging.Level = getEnv("GRAPHFED_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("GRAPHFED_LOG_FORMAT", c.Logging.Format)
	c.Logging.Output = getEnv("GRAPHFED_LOG_OUTPUT", c.Logging.Output)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if !c.Memory.Enabled && !c.Badger.Enabled {
		return fmt.Errorf("at least one provider must be enabled")
	}
	if c.Memory.Enabled && c.Memory.Weight <= 0 {
		return fmt.Errorf("invalid memory weight: %d", c.Memory.Weight)
	}
	if c.Badger.Enabled {
		if c.Badger.Weight <= 0 {
			return fmt.Errorf("invalid badger weight: %d", c.Badger.Weight)
		}
		if !c.Badger.InMemory && c.Badger.DataDir == "" {
			return fmt.Errorf("badger data_dir is required unless in_memory is set")
		}
		if parseMemorySize(c.Badger.BlockCache) < 0 {
			return fmt.Errorf("invalid badger block_cache: %q", c.Badger.BlockCache)
		}
	}
	if c.Registry.QueryCacheSize < 0 {
		return fmt.Errorf("invalid query cache size: %d", c.Registry.QueryCacheSize)
	}
	if c.Lock.MaxBackoff > 0 && c.Lock.MaxBackoff < c.Lock.InitialBackoff {
		return fmt.Errorf("lock max_backoff %s is below initial_backoff %s", c.Lock.MaxBackoff, c.Lock.InitialBackoff)
	}
	if c.Security.AnonymousRole != "" && !security.ValidRole(security.Role(c.Security.AnonymousRole)) {
		return fmt.Errorf("invalid anonymous role: %q", c.Security.AnonymousRole)
	}
	if c.Security.Watch && c.Security.PolicyFile == "" {
		return fmt.Errorf("security watch requires policy_file")
	}
	if c.Audit.Enabled && c.Audit.LogPath == "" {
		return fmt.Errorf("audit log_path is required when audit is enabled")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}
	return nil
}

// String returns a human-readable summary. It never includes secrets.
func (c *Config) String() string {
	providers := []string{}
	if c.Memory.Enabled {
		providers = append(providers, fmt.Sprintf("memory(w=%d)", c.Memory.Weight))
	}
	if c.Badger.Enabled {
		where := c.Badger.DataDir
		if c.Badger.InMemory {
			where = "in-memory"
		}
		providers = append(providers, fmt.Sprintf("badger(w=%d, %s, cache=%s)", c.Badger.Weight, where,
			FormatMemorySize(c.Badger.BlockCacheBytes())))
	}
	return fmt.Sprintf("Config{Providers: [%s], Security: %v, Audit: %v, Log: %s/%s}",
		strings.Join(providers, ", "), c.Security.Enabled, c.Audit.Enabled, c.Logging.Level, c.Logging.Format)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultVal
}

// parseMemorySize parses a human-readable memory size string.
// Supports: "1024", "1KB", "1MB", "1GB", "1TB", "0", "unlimited".
// Invalid input yields 0.
func parseMemorySize(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" || s == "UNLIMITED" {
		return 0
	}

	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "T"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "T")
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return val * multiplier
}

// FormatMemorySize formats bytes as human-readable string.
func FormatMemorySize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.2f TB", float64(bytes)/float64(TB))
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
