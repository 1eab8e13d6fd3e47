package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasguard/canvasguard/internal/policy"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.ExfiltrationPrevention)
	assert.Equal(t, policy.LevelModerate, cfg.CanvasSecurityLevel)
	assert.Equal(t, 60000, cfg.RateLimit.WindowMs)
	assert.Equal(t, 100, cfg.RateLimit.MaxRequests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window())
	assert.Empty(t, cfg.AllowedDomains)
	assert.False(t, cfg.NetworkPolicy.BlockExternalRequests)
}

func boolPtr(b bool) *bool { return &b }

func intPtr(i int) *int { return &i }

func levelPtr(l policy.SecurityLevel) *policy.SecurityLevel { return &l }

func TestApplyPatch(t *testing.T) {
	cfg := Default()

	out, err := cfg.Apply(Patch{
		ExfiltrationPrevention: boolPtr(false),
		AllowedDomains:         []string{"app.example.com"},
		CanvasSecurityLevel:    levelPtr(policy.LevelStrict),
		RateLimit:              &RateLimitPatch{MaxRequests: intPtr(10)},
	})
	require.NoError(t, err)

	assert.False(t, out.ExfiltrationPrevention)
	assert.Equal(t, []string{"app.example.com"}, out.AllowedDomains)
	assert.Equal(t, policy.LevelStrict, out.CanvasSecurityLevel)
	assert.Equal(t, 10, out.RateLimit.MaxRequests)
	// Unpatched fields keep their values.
	assert.Equal(t, 60000, out.RateLimit.WindowMs)

	// The original is untouched.
	assert.True(t, cfg.ExfiltrationPrevention)
	assert.Equal(t, policy.LevelModerate, cfg.CanvasSecurityLevel)
}

func TestApplyRejectsInvalidValues(t *testing.T) {
	cfg := Default()

	tests := []struct {
		name  string
		patch Patch
	}{
		{"unknown security level", Patch{CanvasSecurityLevel: levelPtr(policy.SecurityLevel("extreme"))}},
		{"zero window", Patch{RateLimit: &RateLimitPatch{WindowMs: intPtr(0)}}},
		{"negative window", Patch{RateLimit: &RateLimitPatch{WindowMs: intPtr(-5)}}},
		{"zero max requests", Patch{RateLimit: &RateLimitPatch{MaxRequests: intPtr(0)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := cfg.Apply(tt.patch)
			require.Error(t, err)
			assert.Equal(t, cfg, out, "a rejected patch must return the configuration unchanged")
		})
	}
}

func TestDomainAllowed(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		host    string
		want    bool
	}{
		{"empty list permits all", nil, "anything.example", true},
		{"star permits all", []string{"*"}, "anything.example", true},
		{"exact match", []string{"app.example.com"}, "app.example.com", true},
		{"exact mismatch", []string{"app.example.com"}, "evil.example.com", false},
		{"wildcard matches subdomain", []string{"*.example.com"}, "api.example.com", true},
		{"wildcard matches deep subdomain", []string{"*.example.com"}, "a.b.example.com", true},
		{"wildcard matches base domain", []string{"*.example.com"}, "example.com", true},
		{"wildcard rejects suffix trick", []string{"*.example.com"}, "notexample.com", false},
		{"wildcard rejects other domain", []string{"*.example.com"}, "example.org", false},
		{"second entry matches", []string{"a.example", "b.example"}, "b.example", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := SecurityConfig{AllowedDomains: tt.allowed}
			assert.Equal(t, tt.want, cfg.DomainAllowed(tt.host))
		})
	}
}
