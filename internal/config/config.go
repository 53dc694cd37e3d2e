// Package config is ACF's environment/configuration surface (spec.md §6:
// "channel defaults... overridable per tenant and per agent", plus every
// other named tunable — accumulation clamps, lease TTL, hot/persistent
// TTLs, overflow caps, idempotency TTLs). Grounded on the teacher's
// internal/temporalclient/options.go envconfig-first, override-second
// loading style, generalized from Temporal client options to ACF's own
// tunables; YAML is the file format since spec.md's tunables are a
// layered, nested document (global defaults, per-tenant, per-agent) that
// a flat env-var namespace maps onto awkwardly.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MutexConfig configures the session mutex (C1, spec.md §4.1).
type MutexConfig struct {
	LeaseTTL        time.Duration `yaml:"lease_ttl"`
	BlockingTimeout time.Duration `yaml:"blocking_timeout"`
}

// SessionStoreConfig configures the two-tier Session store (C2, spec.md §4.2).
type SessionStoreConfig struct {
	HotTTL time.Duration `yaml:"hot_ttl"`
}

// IdempotencyConfig configures the three idempotency scopes (C4, spec.md §4.4).
type IdempotencyConfig struct {
	APITTL  time.Duration `yaml:"api_ttl"`
	BeatTTL time.Duration `yaml:"beat_ttl"`
	ToolTTL time.Duration `yaml:"tool_ttl"`
}

// AccumulationConfig holds the adaptive accumulator's clamps (C5,
// spec.md §4.5) and the workflow's total accumulation wall-clock cap
// (spec.md §4.7 Step B). No Gateway or workflow code reads these fields: a
// turn's wait clamps and wall-clock cap are derived from its initial wait
// (TemporalWorkflowClient.StartLogicalTurn), which Gateway.initialWaitMs
// clamps to the channel's default turn window.
type AccumulationConfig struct {
	MinWait     time.Duration `yaml:"min_wait"`
	MaxWait     time.Duration `yaml:"max_wait"`
	MaxWallTime time.Duration `yaml:"max_wall_time"`
}

// OverflowConfig configures the Gateway's bounded overflow queue default,
// used for channels absent from the per-channel table (spec.md §4.6, §5;
// DESIGN.md Open Question decision #3).
type OverflowConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// TenantOverride narrows any subset of the global defaults for one
// tenant_id, and optionally one agent_id within that tenant (spec.md §6
// "overridable per tenant and per agent").
type TenantOverride struct {
	TenantID string `yaml:"tenant_id"`
	AgentID  string `yaml:"agent_id,omitempty"`

	Mutex        *MutexConfig        `yaml:"mutex,omitempty"`
	SessionStore *SessionStoreConfig `yaml:"session_store,omitempty"`
	Idempotency  *IdempotencyConfig  `yaml:"idempotency,omitempty"`
	Accumulation *AccumulationConfig `yaml:"accumulation,omitempty"`
	Overflow     *OverflowConfig     `yaml:"overflow,omitempty"`
}

// Config is the root configuration document.
type Config struct {
	RedisAddr    string `yaml:"redis_addr"`
	PostgresDSN  string `yaml:"postgres_dsn"`
	TemporalHost string `yaml:"temporal_host,omitempty"`

	Mutex        MutexConfig        `yaml:"mutex"`
	SessionStore SessionStoreConfig `yaml:"session_store"`
	Idempotency  IdempotencyConfig  `yaml:"idempotency"`
	Accumulation AccumulationConfig `yaml:"accumulation"`
	Overflow     OverflowConfig     `yaml:"overflow"`

	TenantOverrides []TenantOverride `yaml:"tenant_overrides,omitempty"`
}

// Default returns the built-in defaults (spec.md §4.1, §4.4, §4.5).
func Default() Config {
	return Config{
		RedisAddr: "localhost:6379",
		Mutex: MutexConfig{
			LeaseTTL:        30 * time.Second,
			BlockingTimeout: 5 * time.Second,
		},
		SessionStore: SessionStoreConfig{HotTTL: 30 * time.Minute},
		Idempotency: IdempotencyConfig{
			APITTL:  5 * time.Minute,
			BeatTTL: 60 * time.Second,
			ToolTTL: 24 * time.Hour,
		},
		Accumulation: AccumulationConfig{
			MinWait:     200 * time.Millisecond,
			MaxWait:     2 * time.Second,
			MaxWallTime: 20 * time.Second,
		},
		Overflow: OverflowConfig{Limit: 3, Window: 15 * time.Second},
	}
}

// Load reads path as YAML over the built-in defaults. A missing file is
// not an error — it just means "run on defaults," matching how the
// teacher's envconfig loader treats an absent config.toml.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ForTenant resolves the effective configuration for (tenantID, agentID),
// applying the most specific matching override's fields over the global
// defaults (spec.md §6). An agent-specific override is checked before a
// tenant-wide one.
func (c Config) ForTenant(tenantID, agentID string) Config {
	effective := c
	var tenantWide *TenantOverride
	var agentSpecific *TenantOverride
	for i := range c.TenantOverrides {
		ov := &c.TenantOverrides[i]
		if ov.TenantID != tenantID {
			continue
		}
		if ov.AgentID == "" {
			tenantWide = ov
		} else if ov.AgentID == agentID {
			agentSpecific = ov
		}
	}
	for _, ov := range []*TenantOverride{tenantWide, agentSpecific} {
		if ov == nil {
			continue
		}
		if ov.Mutex != nil {
			effective.Mutex = *ov.Mutex
		}
		if ov.SessionStore != nil {
			effective.SessionStore = *ov.SessionStore
		}
		if ov.Idempotency != nil {
			effective.Idempotency = *ov.Idempotency
		}
		if ov.Accumulation != nil {
			effective.Accumulation = *ov.Accumulation
		}
		if ov.Overflow != nil {
			effective.Overflow = *ov.Overflow
		}
	}
	return effective
}
