package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentfabric/acf/internal/config"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
redis_addr: redis.internal:6379
mutex:
  lease_ttl: 45s
  blocking_timeout: 2s
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "redis.internal:6379", cfg.RedisAddr)
	require.Equal(t, 45*time.Second, cfg.Mutex.LeaseTTL)
	require.Equal(t, 2*time.Second, cfg.Mutex.BlockingTimeout)
	require.Equal(t, config.Default().Idempotency, cfg.Idempotency)
}

func TestForTenant_AgentOverrideWinsOverTenantWide(t *testing.T) {
	cfg := config.Default()
	cfg.TenantOverrides = []config.TenantOverride{
		{TenantID: "acme", Accumulation: &config.AccumulationConfig{MaxWait: 1 * time.Second}},
		{TenantID: "acme", AgentID: "support-bot", Accumulation: &config.AccumulationConfig{MaxWait: 3 * time.Second}},
	}

	eff := cfg.ForTenant("acme", "support-bot")
	require.Equal(t, 3*time.Second, eff.Accumulation.MaxWait)

	effOther := cfg.ForTenant("acme", "sales-bot")
	require.Equal(t, 1*time.Second, effOther.Accumulation.MaxWait)

	effUnknown := cfg.ForTenant("other-tenant", "x")
	require.Equal(t, config.Default().Accumulation, effUnknown.Accumulation)
}
