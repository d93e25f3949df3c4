package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envDefaults = TenantSettings{MonthlyQuota: 100000, Currency: "KRW", Timezone: "Asia/Seoul"}

func writeTenants(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadTenants(t *testing.T) {
	path := writeTenants(t, `
defaults:
  currency: usd
tenants:
  acme:
    monthly_quota: 500000
    timezone: America/New_York
  globex:
    currency: EUR
`)

	tenants, err := LoadTenants(path, envDefaults)
	require.NoError(t, err)

	acme := tenants.Lookup("acme")
	assert.Equal(t, "acme", acme.ID)
	assert.Equal(t, int64(500000), acme.MonthlyQuota)
	assert.Equal(t, "USD", acme.Currency, "per-tenant fields fall back to file defaults")
	assert.Equal(t, "America/New_York", acme.Location.String())

	globex := tenants.Lookup("globex")
	assert.Equal(t, "EUR", globex.Currency)
	assert.Equal(t, int64(100000), globex.MonthlyQuota, "then to env defaults")
	assert.Equal(t, "Asia/Seoul", globex.Location.String())

	unknown := tenants.Lookup("initech")
	assert.Equal(t, "initech", unknown.ID)
	assert.Equal(t, "USD", unknown.Currency, "file defaults override env defaults")
}

func TestLoadTenantsErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "tenants: [unterminated"},
		{"negative quota", "tenants:\n  acme:\n    monthly_quota: -1\n"},
		{"bad timezone", "tenants:\n  acme:\n    timezone: Mars/Olympus\n"},
		{"bad currency", "tenants:\n  acme:\n    currency: DOLLARS\n"},
		{"bad default timezone", "defaults:\n  timezone: Nowhere\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTenants(writeTenants(t, tt.body), envDefaults)
			assert.Error(t, err)
		})
	}
}

func TestLoadTenantsMissingFile(t *testing.T) {
	_, err := LoadTenants(filepath.Join(t.TempDir(), "missing.yaml"), envDefaults)
	assert.Error(t, err)
}

func TestNewTenantsWithoutOverrides(t *testing.T) {
	tenants, err := NewTenants(envDefaults, nil)
	require.NoError(t, err)
	got := tenants.Lookup("t1")
	assert.Equal(t, int64(100000), got.MonthlyQuota)
	assert.Equal(t, "KRW", got.Currency)
}
