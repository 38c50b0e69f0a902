// Package migration routes repository operations between a legacy and a
// migrated implementation, per domain and per operation, and automatically
// rolls a domain back to the legacy path when the migrated one misbehaves.
package migration

import (
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// rollbackMinSamples is how many observed calls a domain needs before the
// rollback thresholds are evaluated. Below this the sample is too small to
// tell a bad release from bad luck.
const rollbackMinSamples = 10

// RollbackThreshold defines when a migrated domain is considered unhealthy.
// A zero ResponseTime disables the latency check.
type RollbackThreshold struct {
	// ErrorRatePercent is the failure percentage above which the domain
	// rolls back, e.g. 20 for 20%.
	ErrorRatePercent float64 `json:"errorRatePercent" mapstructure:"error_rate_percent"`

	// ResponseTime is the average response time above which the domain
	// rolls back.
	ResponseTime time.Duration `json:"responseTime" mapstructure:"response_time"`
}

// Config enables migration for one domain. With an empty Operations list
// every operation migrates; otherwise only the listed ones do.
type Config struct {
	Domain     string            `json:"domain" mapstructure:"domain"`
	Enabled    bool              `json:"enabled" mapstructure:"enabled"`
	Operations []string          `json:"operations" mapstructure:"operations"`
	Rollback   RollbackThreshold `json:"rollback" mapstructure:"rollback"`
}

// Metrics is the per-domain health ledger for migrated calls.
type Metrics struct {
	SuccessCount    int64         `json:"successCount"`
	ErrorCount      int64         `json:"errorCount"`
	AvgResponseTime time.Duration `json:"avgResponseTime"`
	LastError       string        `json:"lastError,omitempty"`
	LastErrorAt     time.Time     `json:"lastErrorAt,omitempty"`
}

func (m Metrics) total() int64 { return m.SuccessCount + m.ErrorCount }

// ErrorRatePercent returns the observed failure percentage.
func (m Metrics) ErrorRatePercent() float64 {
	total := m.total()
	if total == 0 {
		return 0
	}
	return float64(m.ErrorCount) / float64(total) * 100
}

type domainState struct {
	mu         sync.Mutex
	cfg        Config
	operations map[string]struct{}
	metrics    Metrics
	rolledBack bool
}

// Proxy holds the migration switchboard: which domains route to the migrated
// implementation, their health metrics, and the rollback latch.
//
// The rollback is one way. Once a domain trips its thresholds it stays on
// the legacy path until an operator reconfigures it; the proxy never
// re-enables a domain on its own.
type Proxy struct {
	domains *xsync.MapOf[string, *domainState]
	log     *zap.Logger
}

// NewProxy builds an empty proxy. Domains route to legacy until configured.
func NewProxy(log *zap.Logger) *Proxy {
	if log == nil {
		log = zap.NewNop()
	}
	return &Proxy{
		domains: xsync.NewMapOf[string, *domainState](),
		log:     log.Named("migration"),
	}
}

// Configure registers or replaces a domain's migration settings. Replacing a
// configuration clears the domain's metrics and its rollback latch.
func (p *Proxy) Configure(cfg Config) error {
	if cfg.Domain == "" {
		return fmt.Errorf("migration: Config.Domain is required")
	}
	if cfg.Rollback.ErrorRatePercent < 0 || cfg.Rollback.ErrorRatePercent > 100 {
		return fmt.Errorf("migration: error rate threshold %.1f out of range", cfg.Rollback.ErrorRatePercent)
	}
	if cfg.Rollback.ResponseTime < 0 {
		return fmt.Errorf("migration: response time threshold must not be negative")
	}

	operations := make(map[string]struct{}, len(cfg.Operations))
	for _, op := range cfg.Operations {
		operations[op] = struct{}{}
	}

	p.domains.Store(cfg.Domain, &domainState{cfg: cfg, operations: operations})
	p.log.Info("migration domain configured",
		zap.String("domain", cfg.Domain),
		zap.Bool("enabled", cfg.Enabled),
		zap.Strings("operations", cfg.Operations))
	return nil
}

// Enabled reports whether the operation should route to the migrated
// implementation. Unknown domains and rolled-back domains answer false.
func (p *Proxy) Enabled(domain, operation string) bool {
	state, ok := p.domains.Load(domain)
	if !ok {
		return false
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if !state.cfg.Enabled || state.rolledBack {
		return false
	}
	if len(state.operations) == 0 {
		return true
	}
	_, listed := state.operations[operation]
	return listed
}

// Observe records the outcome of one migrated call and re-evaluates the
// rollback thresholds. Every non-nil error counts as a failure, typed
// business errors included: the health ledger measures the migrated
// implementation's behavior, not the caller's intent.
func (p *Proxy) Observe(domain, operation string, elapsed time.Duration, err error) {
	state, ok := p.domains.Load(domain)
	if !ok {
		return
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if err != nil {
		state.metrics.ErrorCount++
		state.metrics.LastError = err.Error()
		state.metrics.LastErrorAt = time.Now().UTC()
	} else {
		state.metrics.SuccessCount++
	}
	// Running mean over all observed calls, failed ones included: a slow
	// failure is still a slow call.
	total := state.metrics.total()
	state.metrics.AvgResponseTime += (elapsed - state.metrics.AvgResponseTime) / time.Duration(total)

	p.evaluateLocked(state, operation)
}

// evaluateLocked trips the rollback latch when the thresholds are breached.
// Caller holds state.mu.
func (p *Proxy) evaluateLocked(state *domainState, operation string) {
	if state.rolledBack || !state.cfg.Enabled {
		return
	}
	if state.metrics.total() < rollbackMinSamples {
		return
	}

	errorRate := state.metrics.ErrorRatePercent()
	tooManyErrors := errorRate > state.cfg.Rollback.ErrorRatePercent
	tooSlow := state.cfg.Rollback.ResponseTime > 0 &&
		state.metrics.AvgResponseTime > state.cfg.Rollback.ResponseTime
	if !tooManyErrors && !tooSlow {
		return
	}

	state.rolledBack = true
	state.cfg.Enabled = false
	p.log.Error("migration rolled back to legacy implementation",
		zap.String("domain", state.cfg.Domain),
		zap.String("operation", operation),
		zap.Float64("errorRatePercent", errorRate),
		zap.Duration("avgResponseTime", state.metrics.AvgResponseTime),
		zap.Float64("errorRateThreshold", state.cfg.Rollback.ErrorRatePercent),
		zap.Duration("responseTimeThreshold", state.cfg.Rollback.ResponseTime),
		zap.String("lastError", state.metrics.LastError))
}

// GetMetrics returns a snapshot of one domain's health ledger.
func (p *Proxy) GetMetrics(domain string) (Metrics, bool) {
	state, ok := p.domains.Load(domain)
	if !ok {
		return Metrics{}, false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.metrics, true
}

// GetAllMetrics returns snapshots for every configured domain.
func (p *Proxy) GetAllMetrics() map[string]Metrics {
	out := map[string]Metrics{}
	p.domains.Range(func(domain string, state *domainState) bool {
		state.mu.Lock()
		out[domain] = state.metrics
		state.mu.Unlock()
		return true
	})
	return out
}

// RolledBack reports whether a domain's rollback latch has tripped.
func (p *Proxy) RolledBack(domain string) bool {
	state, ok := p.domains.Load(domain)
	if !ok {
		return false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.rolledBack
}

// ResetMetrics clears a domain's counters without touching its routing
// state. A rolled-back domain stays rolled back.
func (p *Proxy) ResetMetrics(domain string) {
	state, ok := p.domains.Load(domain)
	if !ok {
		return
	}
	state.mu.Lock()
	state.metrics = Metrics{}
	state.mu.Unlock()
}
