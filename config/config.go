// Package config loads the process-wide startup configuration from a file
// and the environment, validates it, and converts it into the typed configs
// the cache, store, and migration layers consume.
package config

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"

	"github.com/goliatone/go-tenant-cache/cache"
	"github.com/goliatone/go-tenant-cache/internal/cacheinfra"
	"github.com/goliatone/go-tenant-cache/migration"
)

// envPrefix namespaces environment overrides, e.g. TENANTCACHE_LOG_LEVEL.
const envPrefix = "TENANTCACHE"

// Config is the full startup configuration.
type Config struct {
	LogLevel   string             `mapstructure:"log_level"`
	Cache      CacheConfig        `mapstructure:"cache"`
	Store      StoreConfig        `mapstructure:"store"`
	Database   DatabaseConfig     `mapstructure:"database"`
	Migrations []migration.Config `mapstructure:"migrations"`
}

// CacheConfig mirrors cache.Config with file-friendly duration fields.
type CacheConfig struct {
	GlobalPrefix string                  `mapstructure:"global_prefix"`
	Domains      map[string]DomainConfig `mapstructure:"domains"`
}

// DomainConfig is the file shape of one cache domain.
type DomainConfig struct {
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
	ListTTL   time.Duration `mapstructure:"list_ttl"`
}

// StoreConfig holds the in-process store settings.
type StoreConfig struct {
	Capacity           int           `mapstructure:"capacity"`
	NumShards          int           `mapstructure:"num_shards"`
	MaxTTL             time.Duration `mapstructure:"max_ttl"`
	EvictionPercentage int           `mapstructure:"eviction_percentage"`
	EvictionInterval   time.Duration `mapstructure:"eviction_interval"`
}

// DatabaseConfig selects and parameterizes the SQL backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// ToCache converts the file shape into the cache layer's configuration.
func (c CacheConfig) ToCache() cache.Config {
	out := cache.Config{GlobalPrefix: c.GlobalPrefix, Domains: map[string]cache.DomainConfig{}}
	for name, domain := range c.Domains {
		out.Domains[name] = cache.DomainConfig{
			KeyPrefix: domain.KeyPrefix,
			TTL:       domain.TTL,
			ListTTL:   domain.ListTTL,
		}
	}
	return out
}

// ToStore converts the file shape into the store adapter's configuration.
func (s StoreConfig) ToStore() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           s.Capacity,
		NumShards:          s.NumShards,
		MaxTTL:             s.MaxTTL,
		EvictionPercentage: s.EvictionPercentage,
		EvictionInterval:   s.EvictionInterval,
	}
}

// Load reads configuration from path (optional) and the environment, applies
// defaults, and validates the result. Pass an empty path to run on defaults
// and environment overrides alone.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if len(cfg.Cache.Domains) == 0 {
		defaults := cache.DefaultConfig()
		cfg.Cache.GlobalPrefix = defaults.GlobalPrefix
		cfg.Cache.Domains = map[string]DomainConfig{}
		for name, domain := range defaults.Domains {
			cfg.Cache.Domains[name] = DomainConfig{KeyPrefix: domain.KeyPrefix}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:tenantcache.db?cache=shared")

	store := cacheinfra.DefaultConfig()
	v.SetDefault("store.capacity", store.Capacity)
	v.SetDefault("store.num_shards", store.NumShards)
	v.SetDefault("store.max_ttl", store.MaxTTL)
	v.SetDefault("store.eviction_percentage", store.EvictionPercentage)
}

// Validate checks the whole configuration and fails fast on the first
// problem. Migration entries must reference a registered cache domain so a
// typo cannot silently route a domain to legacy forever.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.LogLevel, validation.Required,
			validation.In("debug", "info", "warn", "error")),
	)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	err = validation.ValidateStruct(&c.Database,
		validation.Field(&c.Database.Driver, validation.Required,
			validation.In("sqlite", "postgres")),
		validation.Field(&c.Database.DSN, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("config: database: %w", err)
	}

	if err := c.Cache.ToCache().Validate(); err != nil {
		return fmt.Errorf("config: cache: %w", err)
	}
	if err := c.Store.ToStore().Validate(); err != nil {
		return fmt.Errorf("config: store: %w", err)
	}

	seen := map[string]struct{}{}
	for i, m := range c.Migrations {
		if m.Domain == "" {
			return fmt.Errorf("config: migrations[%d]: domain is required", i)
		}
		if _, dup := seen[m.Domain]; dup {
			return fmt.Errorf("config: migrations[%d]: duplicate domain %q", i, m.Domain)
		}
		seen[m.Domain] = struct{}{}
		if _, ok := c.Cache.Domains[m.Domain]; !ok {
			return fmt.Errorf("config: migrations[%d]: domain %q is not a registered cache domain", i, m.Domain)
		}
		if m.Rollback.ErrorRatePercent < 0 || m.Rollback.ErrorRatePercent > 100 {
			return fmt.Errorf("config: migrations[%d]: error rate threshold out of range", i)
		}
		if m.Rollback.ResponseTime < 0 {
			return fmt.Errorf("config: migrations[%d]: response time threshold must not be negative", i)
		}
	}
	return nil
}
