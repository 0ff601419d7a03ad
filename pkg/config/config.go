// Package config handles NornicGraph configuration via YAML files and environment variables.
//
// Configuration Precedence (highest to lowest):
//  1. Command-line flags (--data-dir, --in-memory, etc.)
//  2. Environment variables (NORNICGRAPH_*)
//  3. Config file (config.yaml)
//  4. Built-in defaults
//
// Example Usage:
//
//	cfg, err := config.LoadFromFile(config.FindConfigFile())
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
//	fmt.Printf("Data dir: %s\n", cfg.Storage.DataDir)
//
// Environment Variables (all use NORNICGRAPH_ prefix):
//
// Storage:
//   - NORNICGRAPH_DATA_DIR="./data"
//   - NORNICGRAPH_IN_MEMORY=true
//   - NORNICGRAPH_SYNC_WRITES=true
//   - NORNICGRAPH_LOW_MEMORY=true
//   - NORNICGRAPH_HIGH_PERFORMANCE=true
//
// Graph caches:
//   - NORNICGRAPH_ELEMENT_CACHE_ENABLED=true
//   - NORNICGRAPH_ELEMENT_CACHE_MAX_SIZE=10000
//   - NORNICGRAPH_ELEMENT_CACHE_TTL=10m
//   - NORNICGRAPH_RELATIONSHIP_CACHE_MAX_SIZE=64
//   - NORNICGRAPH_RELATIONSHIP_CACHE_TTL=30s
//   - NORNICGRAPH_STALE_INDEX_EXPIRY=1m
//   - NORNICGRAPH_LAZY_LOADING=false
//
// Reconciler:
//   - NORNICGRAPH_RECONCILER_WORKERS=2
//   - NORNICGRAPH_RECONCILER_QUEUE_SIZE=1024
//   - NORNICGRAPH_RECONCILER_DELETE_RATE=0 (deletions per second, 0 = unlimited)
//
// Logging:
//   - NORNICGRAPH_LOG_LEVEL="INFO"
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all NornicGraph configuration.
//
// Configuration is organized into logical sections:
//   - Storage: Badger engine settings
//   - Graph: element registry, adjacency caches and stale index grace period
//   - Reconciler: background stale index cleanup
//   - Logging: Logging configuration
//
// Example:
//
//	cfg := config.LoadDefaults()
//	config.ApplyEnvVars(cfg)
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
type Config struct {
	// Storage engine settings
	Storage StorageConfig

	// Graph cache settings
	Graph GraphConfig

	// Stale index reconciler settings
	Reconciler ReconcilerConfig

	// Logging
	Logging LoggingConfig
}

// StorageConfig holds storage engine settings.
type StorageConfig struct {
	// DataDir is the directory for data storage
	DataDir string
	// InMemory keeps all data in memory (nothing is persisted)
	InMemory bool
	// SyncWrites fsyncs after every write
	SyncWrites bool
	// LowMemory trades throughput for a smaller footprint
	LowMemory bool
	// HighPerformance uses larger memtables and caches
	HighPerformance bool
}

// GraphConfig holds element and adjacency cache settings.
type GraphConfig struct {
	// ElementCacheEnabled turns on canonical instance tracking
	ElementCacheEnabled bool
	// ElementCacheMaxSize bounds the strongly held recently used instances
	ElementCacheMaxSize int
	// ElementCacheTTL expires strongly held instances after this long without access
	ElementCacheTTL time.Duration
	// RelationshipCacheMaxSize bounds adjacency results cached per vertex
	RelationshipCacheMaxSize int
	// RelationshipCacheTTL expires adjacency results after this long without access
	RelationshipCacheTTL time.Duration
	// StaleIndexExpiry is the grace period before an unconfirmed index row may be removed
	StaleIndexExpiry time.Duration
	// LazyLoading defers loading element properties until first read
	LazyLoading bool
}

// ReconcilerConfig holds background cleanup settings.
type ReconcilerConfig struct {
	// Workers is the number of cleanup goroutines
	Workers int
	// QueueSize bounds pending cleanup jobs; jobs beyond it are dropped
	QueueSize int
	// DeleteRateLimit caps index deletions per second (0 = unlimited)
	DeleteRateLimit float64
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level (DEBUG, INFO, WARN, ERROR)
	Level string
}

// Validate checks the configuration for invalid values.
//
// Example:
//
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Configuration error: %v", err)
//	}
//
// Returns nil if configuration is valid, or an error describing the problem.
func (c *Config) Validate() error {
	if !c.Storage.InMemory && c.Storage.DataDir == "" {
		return fmt.Errorf("data directory required unless running in memory")
	}
	if c.Graph.ElementCacheMaxSize < 0 {
		return fmt.Errorf("invalid element cache size: %d", c.Graph.ElementCacheMaxSize)
	}
	if c.Graph.RelationshipCacheMaxSize < 0 {
		return fmt.Errorf("invalid relationship cache size: %d", c.Graph.RelationshipCacheMaxSize)
	}
	if c.Graph.ElementCacheTTL < 0 || c.Graph.RelationshipCacheTTL < 0 {
		return fmt.Errorf("cache TTLs must not be negative")
	}
	if c.Graph.StaleIndexExpiry < 0 {
		return fmt.Errorf("invalid stale index expiry: %v", c.Graph.StaleIndexExpiry)
	}
	if c.Reconciler.Workers <= 0 {
		return fmt.Errorf("invalid reconciler workers: %d", c.Reconciler.Workers)
	}
	if c.Reconciler.QueueSize <= 0 {
		return fmt.Errorf("invalid reconciler queue size: %d", c.Reconciler.QueueSize)
	}
	if c.Reconciler.DeleteRateLimit < 0 {
		return fmt.Errorf("invalid reconciler delete rate: %v", c.Reconciler.DeleteRateLimit)
	}
	switch strings.ToUpper(c.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	return nil
}

// String returns a compact representation of the Config, suitable for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{DataDir: %s, InMemory: %v, ElementCache: %v/%d, RelationshipCache: %d/%s, StaleIndexExpiry: %s, Reconciler: %d workers}",
		c.Storage.DataDir, c.Storage.InMemory,
		c.Graph.ElementCacheEnabled, c.Graph.ElementCacheMaxSize,
		c.Graph.RelationshipCacheMaxSize, c.Graph.RelationshipCacheTTL,
		c.Graph.StaleIndexExpiry,
		c.Reconciler.Workers,
	)
}

// YAMLConfig represents the YAML configuration file structure.
// Durations are strings accepted by time.ParseDuration.
type YAMLConfig struct {
	Storage struct {
		DataDir         string `yaml:"data_dir"`
		Path            string `yaml:"path"` // Alias for data_dir
		InMemory        bool   `yaml:"in_memory"`
		SyncWrites      bool   `yaml:"sync_writes"`
		LowMemory       bool   `yaml:"low_memory"`
		HighPerformance bool   `yaml:"high_performance"`
	} `yaml:"storage"`

	Graph struct {
		ElementCacheEnabled      *bool  `yaml:"element_cache_enabled"`
		ElementCacheMaxSize      *int   `yaml:"element_cache_max_size"`
		ElementCacheTTL          string `yaml:"element_cache_ttl"`
		RelationshipCacheMaxSize *int   `yaml:"relationship_cache_max_size"`
		RelationshipCacheTTL     string `yaml:"relationship_cache_ttl"`
		StaleIndexExpiry         string `yaml:"stale_index_expiry"`
		LazyLoading              bool   `yaml:"lazy_loading"`
	} `yaml:"graph"`

	Reconciler struct {
		Workers         *int     `yaml:"workers"`
		QueueSize       *int     `yaml:"queue_size"`
		DeleteRateLimit *float64 `yaml:"delete_rate_limit"`
	} `yaml:"reconciler"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadDefaults returns a Config with built-in defaults only.
func LoadDefaults() *Config {
	config := &Config{}

	// Storage defaults
	config.Storage.DataDir = "./data"

	// Graph defaults
	config.Graph.ElementCacheEnabled = true
	config.Graph.ElementCacheMaxSize = 10000
	config.Graph.ElementCacheTTL = 10 * time.Minute
	config.Graph.RelationshipCacheMaxSize = 64
	config.Graph.RelationshipCacheTTL = 30 * time.Second
	config.Graph.StaleIndexExpiry = time.Minute

	// Reconciler defaults
	config.Reconciler.Workers = 2
	config.Reconciler.QueueSize = 1024

	// Logging defaults
	config.Logging.Level = "INFO"

	return config
}

func applyEnvVars(config *Config) {
	// Storage
	config.Storage.DataDir = getEnv("NORNICGRAPH_DATA_DIR", config.Storage.DataDir)
	config.Storage.InMemory = getEnvBool("NORNICGRAPH_IN_MEMORY", config.Storage.InMemory)
	config.Storage.SyncWrites = getEnvBool("NORNICGRAPH_SYNC_WRITES", config.Storage.SyncWrites)
	config.Storage.LowMemory = getEnvBool("NORNICGRAPH_LOW_MEMORY", config.Storage.LowMemory)
	config.Storage.HighPerformance = getEnvBool("NORNICGRAPH_HIGH_PERFORMANCE", config.Storage.HighPerformance)

	// Graph
	config.Graph.ElementCacheEnabled = getEnvBool("NORNICGRAPH_ELEMENT_CACHE_ENABLED", config.Graph.ElementCacheEnabled)
	config.Graph.ElementCacheMaxSize = getEnvInt("NORNICGRAPH_ELEMENT_CACHE_MAX_SIZE", config.Graph.ElementCacheMaxSize)
	config.Graph.ElementCacheTTL = getEnvDuration("NORNICGRAPH_ELEMENT_CACHE_TTL", config.Graph.ElementCacheTTL)
	config.Graph.RelationshipCacheMaxSize = getEnvInt("NORNICGRAPH_RELATIONSHIP_CACHE_MAX_SIZE", config.Graph.RelationshipCacheMaxSize)
	config.Graph.RelationshipCacheTTL = getEnvDuration("NORNICGRAPH_RELATIONSHIP_CACHE_TTL", config.Graph.RelationshipCacheTTL)
	config.Graph.StaleIndexExpiry = getEnvDuration("NORNICGRAPH_STALE_INDEX_EXPIRY", config.Graph.StaleIndexExpiry)
	config.Graph.LazyLoading = getEnvBool("NORNICGRAPH_LAZY_LOADING", config.Graph.LazyLoading)

	// Reconciler
	config.Reconciler.Workers = getEnvInt("NORNICGRAPH_RECONCILER_WORKERS", config.Reconciler.Workers)
	config.Reconciler.QueueSize = getEnvInt("NORNICGRAPH_RECONCILER_QUEUE_SIZE", config.Reconciler.QueueSize)
	config.Reconciler.DeleteRateLimit = getEnvFloat("NORNICGRAPH_RECONCILER_DELETE_RATE", config.Reconciler.DeleteRateLimit)

	// Logging
	config.Logging.Level = getEnv("NORNICGRAPH_LOG_LEVEL", config.Logging.Level)
}

// ApplyEnvVars applies environment variable overrides to an existing config.
// This is the exported version for use in main.go.
func ApplyEnvVars(config *Config) {
	applyEnvVars(config)
}

// LoadFromFile loads configuration with proper precedence:
//  1. Built-in defaults (lowest priority)
//  2. YAML config file
//  3. Environment variables (highest priority before CLI args)
//
// Command-line arguments are applied by the caller (main.go) after this.
// A missing file is not an error.
//
// Example YAML:
//
//	storage:
//	  data_dir: "./data"
//	graph:
//	  relationship_cache_max_size: 128
//	  relationship_cache_ttl: "1m"
//	  stale_index_expiry: "2m"
//	reconciler:
//	  workers: 4
func LoadFromFile(configPath string) (*Config, error) {
	// Step 1: Start with built-in defaults
	config := LoadDefaults()

	if configPath == "" {
		applyEnvVars(config)
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvVars(config)
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var yamlCfg YAMLConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// === Storage Settings ===
	if yamlCfg.Storage.Path != "" {
		config.Storage.DataDir = yamlCfg.Storage.Path
	}
	if yamlCfg.Storage.DataDir != "" {
		config.Storage.DataDir = yamlCfg.Storage.DataDir
	}
	if yamlCfg.Storage.InMemory {
		config.Storage.InMemory = true
	}
	if yamlCfg.Storage.SyncWrites {
		config.Storage.SyncWrites = true
	}
	if yamlCfg.Storage.LowMemory {
		config.Storage.LowMemory = true
	}
	if yamlCfg.Storage.HighPerformance {
		config.Storage.HighPerformance = true
	}

	// === Graph Settings ===
	if yamlCfg.Graph.ElementCacheEnabled != nil {
		config.Graph.ElementCacheEnabled = *yamlCfg.Graph.ElementCacheEnabled
	}
	// Sizes of 0 are meaningful (0 disables the cache), so only absent keys
	// keep the default.
	if yamlCfg.Graph.ElementCacheMaxSize != nil {
		config.Graph.ElementCacheMaxSize = *yamlCfg.Graph.ElementCacheMaxSize
	}
	if yamlCfg.Graph.RelationshipCacheMaxSize != nil {
		config.Graph.RelationshipCacheMaxSize = *yamlCfg.Graph.RelationshipCacheMaxSize
	}
	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"graph.element_cache_ttl", yamlCfg.Graph.ElementCacheTTL, &config.Graph.ElementCacheTTL},
		{"graph.relationship_cache_ttl", yamlCfg.Graph.RelationshipCacheTTL, &config.Graph.RelationshipCacheTTL},
		{"graph.stale_index_expiry", yamlCfg.Graph.StaleIndexExpiry, &config.Graph.StaleIndexExpiry},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.name, d.value, err)
		}
		*d.dst = parsed
	}
	if yamlCfg.Graph.LazyLoading {
		config.Graph.LazyLoading = true
	}

	// === Reconciler Settings ===
	if yamlCfg.Reconciler.Workers != nil {
		config.Reconciler.Workers = *yamlCfg.Reconciler.Workers
	}
	if yamlCfg.Reconciler.QueueSize != nil {
		config.Reconciler.QueueSize = *yamlCfg.Reconciler.QueueSize
	}
	if yamlCfg.Reconciler.DeleteRateLimit != nil {
		config.Reconciler.DeleteRateLimit = *yamlCfg.Reconciler.DeleteRateLimit
	}

	// === Logging Settings ===
	if yamlCfg.Logging.Level != "" {
		config.Logging.Level = yamlCfg.Logging.Level
	}

	// Environment variables override the file
	applyEnvVars(config)

	return config, nil
}

// FindConfigFile searches for config file in standard locations.
// Returns the path to the first config file found, or empty string if none found.
// Search order:
//  1. ~/.nornicgraph/config.yaml (user home directory - highest priority)
//  2. Same directory as the binary (config.yaml, nornicgraph.yaml)
//  3. Current working directory (config.yaml, nornicgraph.yaml)
//  4. ~/.config/nornicgraph/config.yaml (Linux/Unix XDG standard)
func FindConfigFile() string {
	var candidates []string

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".nornicgraph", "config.yaml"))
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(exeDir, "config.yaml"),
			filepath.Join(exeDir, "nornicgraph.yaml"),
		)
	}

	candidates = append(candidates,
		"config.yaml",
		"nornicgraph.yaml",
	)

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "nornicgraph", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// Helper functions for environment variable parsing

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

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
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
