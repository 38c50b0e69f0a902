package cache

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Default TTLs applied when a domain does not override them. Lists expire
// faster than single-entity lookups because a single write can stale many
// list entries at once.
const (
	DefaultEntityTTL = 10 * time.Minute
	DefaultListTTL   = 5 * time.Minute
)

// DomainConfig holds the per-domain cache settings: the key-space prefix for
// the domain and its TTLs.
type DomainConfig struct {
	// KeyPrefix is the domain segment of every key, e.g. "contacts".
	KeyPrefix string

	// TTL applies to single-entity entries. Zero means DefaultEntityTTL.
	TTL time.Duration

	// ListTTL applies to list and aggregate entries. Zero means
	// DefaultListTTL.
	ListTTL time.Duration
}

// Config is the process-wide cache configuration, loaded once at startup.
// Callers must register every domain they intend to cache under; referencing
// an unregistered domain is a configuration error caught by Validate.
type Config struct {
	// GlobalPrefix namespaces every key this deployment writes, e.g. the
	// application name.
	GlobalPrefix string

	// Domains maps a domain name (e.g. "contacts", "appointments") to its
	// cache settings.
	Domains map[string]DomainConfig
}

// DefaultConfig returns a Config with the standard clinic domains registered.
func DefaultConfig() Config {
	return Config{
		GlobalPrefix: "clinic",
		Domains: map[string]DomainConfig{
			"contacts":     {KeyPrefix: "contacts"},
			"appointments": {KeyPrefix: "appointments"},
			"anamnesis":    {KeyPrefix: "anamnesis"},
		},
	}
}

// Validate checks the configuration. It is meant to run at startup so that
// misconfigured domains fail fast instead of at call time.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.GlobalPrefix, validation.Required),
		validation.Field(&c.Domains, validation.Required),
	)
	if err != nil {
		return err
	}

	for name, domain := range c.Domains {
		if name == "" {
			return fmt.Errorf("cache config: empty domain name")
		}
		if err := validation.Validate(domain.KeyPrefix, validation.Required); err != nil {
			return fmt.Errorf("cache config: domain %q: key prefix %w", name, err)
		}
		if domain.TTL < 0 || domain.ListTTL < 0 {
			return fmt.Errorf("cache config: domain %q: TTLs must be non-negative", name)
		}
	}

	return nil
}

// normalized returns a copy with zero TTLs replaced by the defaults.
func (c Config) normalized() Config {
	out := Config{GlobalPrefix: c.GlobalPrefix, Domains: make(map[string]DomainConfig, len(c.Domains))}
	for name, domain := range c.Domains {
		if domain.TTL == 0 {
			domain.TTL = DefaultEntityTTL
		}
		if domain.ListTTL == 0 {
			domain.ListTTL = DefaultListTTL
		}
		out.Domains[name] = domain
	}
	return out
}
