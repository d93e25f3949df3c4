package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TenantSettings is the per-tenant billing and reporting configuration.
// Zero fields fall back to the defaults.
type TenantSettings struct {
	MonthlyQuota int64  `yaml:"monthly_quota"`
	Currency     string `yaml:"currency"`
	Timezone     string `yaml:"timezone"`
}

// Tenant is a resolved settings record.
type Tenant struct {
	ID           string
	MonthlyQuota int64
	Currency     string
	Location     *time.Location
}

// Tenants resolves settings by tenant id.
type Tenants struct {
	defaults Tenant
	byID     map[string]Tenant
}

type tenantsFile struct {
	Defaults TenantSettings            `yaml:"defaults"`
	Tenants  map[string]TenantSettings `yaml:"tenants"`
}

// LoadTenants reads a YAML tenants file of the form
//
//	defaults:
//	  monthly_quota: 100000
//	  currency: KRW
//	  timezone: Asia/Seoul
//	tenants:
//	  acme:
//	    monthly_quota: 500000
//
// File defaults override the env defaults passed in.
func LoadTenants(path string, defaults TenantSettings) (*Tenants, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenants file: %w", err)
	}

	var f tenantsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse tenants file %s: %w", path, err)
	}

	return NewTenants(merge(f.Defaults, defaults), f.Tenants)
}

// NewTenants validates and resolves the settings.
func NewTenants(defaults TenantSettings, overrides map[string]TenantSettings) (*Tenants, error) {
	def, err := resolve("defaults", defaults)
	if err != nil {
		return nil, err
	}

	t := &Tenants{defaults: def, byID: make(map[string]Tenant, len(overrides))}
	for id, s := range overrides {
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("tenants: empty tenant id")
		}
		r, err := resolve(id, merge(s, defaults))
		if err != nil {
			return nil, err
		}
		r.ID = id
		t.byID[id] = r
	}
	return t, nil
}

// Lookup returns the settings for id, or the defaults for unknown tenants.
func (t *Tenants) Lookup(id string) Tenant {
	if r, ok := t.byID[id]; ok {
		return r
	}
	r := t.defaults
	r.ID = id
	return r
}

func merge(s, fallback TenantSettings) TenantSettings {
	if s.MonthlyQuota == 0 {
		s.MonthlyQuota = fallback.MonthlyQuota
	}
	if s.Currency == "" {
		s.Currency = fallback.Currency
	}
	if s.Timezone == "" {
		s.Timezone = fallback.Timezone
	}
	return s
}

func resolve(name string, s TenantSettings) (Tenant, error) {
	if s.MonthlyQuota < 0 {
		return Tenant{}, fmt.Errorf("tenant %s: monthly_quota must not be negative, got %d", name, s.MonthlyQuota)
	}
	cur := strings.ToUpper(strings.TrimSpace(s.Currency))
	if len(cur) != 3 {
		return Tenant{}, fmt.Errorf("tenant %s: currency must be a 3-letter code, got %q", name, s.Currency)
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return Tenant{}, fmt.Errorf("tenant %s: invalid timezone: %w", name, err)
	}
	return Tenant{MonthlyQuota: s.MonthlyQuota, Currency: cur, Location: loc}, nil
}
