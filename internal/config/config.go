// Package config owns the engine's persisted security configuration: the
// compiled-in defaults, tolerant JSON load/save, patch merging and hot
// reload. A broken or missing config file is never fatal; the engine falls
// back to defaults and keeps running.
package config

import (
	"fmt"
	"time"

	"github.com/canvasguard/canvasguard/internal/policy"
)

// RateLimitConfig holds the fixed-window limiter parameters.
type RateLimitConfig struct {
	WindowMs    int `json:"windowMs"`
	MaxRequests int `json:"maxRequests"`
}

// Window returns the window as a duration.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

// NetworkPolicy holds coarse network policy flags.
type NetworkPolicy struct {
	BlockExternalRequests bool `json:"blockExternalRequests"`
	AllowInsecure         bool `json:"allowInsecure"`
}

// SecurityConfig is the process-wide engine configuration. The security
// level uniquely determines the trust threshold.
type SecurityConfig struct {
	ExfiltrationPrevention  bool                 `json:"exfiltrationPreventionEnabled"`
	CustomSensitivePatterns []string             `json:"customSensitivePatterns"`
	AllowedDomains          []string             `json:"allowedDomains"`
	CanvasSecurityLevel     policy.SecurityLevel `json:"canvasSecurityLevel"`
	RateLimit               RateLimitConfig      `json:"rateLimit"`
	NetworkPolicy           NetworkPolicy        `json:"networkPolicy"`
}

// Default returns the compiled-in configuration.
func Default() SecurityConfig {
	return SecurityConfig{
		ExfiltrationPrevention: true,
		CanvasSecurityLevel:    policy.LevelModerate,
		RateLimit: RateLimitConfig{
			WindowMs:    60000,
			MaxRequests: 100,
		},
	}
}

// Patch is a partial configuration update. Nil fields leave the current
// value unchanged; the same shape is used to merge partially-populated
// persisted documents over the defaults.
type Patch struct {
	ExfiltrationPrevention  *bool                 `json:"exfiltrationPreventionEnabled,omitempty"`
	CustomSensitivePatterns []string              `json:"customSensitivePatterns,omitempty"`
	AllowedDomains          []string              `json:"allowedDomains,omitempty"`
	CanvasSecurityLevel     *policy.SecurityLevel `json:"canvasSecurityLevel,omitempty"`
	RateLimit               *RateLimitPatch       `json:"rateLimit,omitempty"`
	NetworkPolicy           *NetworkPolicyPatch   `json:"networkPolicy,omitempty"`
}

// RateLimitPatch is a partial rate limit update.
type RateLimitPatch struct {
	WindowMs    *int `json:"windowMs,omitempty"`
	MaxRequests *int `json:"maxRequests,omitempty"`
}

// NetworkPolicyPatch is a partial network policy update.
type NetworkPolicyPatch struct {
	BlockExternalRequests *bool `json:"blockExternalRequests,omitempty"`
	AllowInsecure         *bool `json:"allowInsecure,omitempty"`
}

// Apply merges the patch over cfg and returns the result. Invalid values are
// rejected so a bad patch can never corrupt the active configuration.
func (c SecurityConfig) Apply(p Patch) (SecurityConfig, error) {
	out := c
	if p.ExfiltrationPrevention != nil {
		out.ExfiltrationPrevention = *p.ExfiltrationPrevention
	}
	if p.CustomSensitivePatterns != nil {
		out.CustomSensitivePatterns = append([]string(nil), p.CustomSensitivePatterns...)
	}
	if p.AllowedDomains != nil {
		out.AllowedDomains = append([]string(nil), p.AllowedDomains...)
	}
	if p.CanvasSecurityLevel != nil {
		if !p.CanvasSecurityLevel.Valid() {
			return c, fmt.Errorf("invalid security level: %q", *p.CanvasSecurityLevel)
		}
		out.CanvasSecurityLevel = *p.CanvasSecurityLevel
	}
	if p.RateLimit != nil {
		if p.RateLimit.WindowMs != nil {
			if *p.RateLimit.WindowMs <= 0 {
				return c, fmt.Errorf("rate limit window must be positive, got %d", *p.RateLimit.WindowMs)
			}
			out.RateLimit.WindowMs = *p.RateLimit.WindowMs
		}
		if p.RateLimit.MaxRequests != nil {
			if *p.RateLimit.MaxRequests <= 0 {
				return c, fmt.Errorf("rate limit max requests must be positive, got %d", *p.RateLimit.MaxRequests)
			}
			out.RateLimit.MaxRequests = *p.RateLimit.MaxRequests
		}
	}
	if p.NetworkPolicy != nil {
		if p.NetworkPolicy.BlockExternalRequests != nil {
			out.NetworkPolicy.BlockExternalRequests = *p.NetworkPolicy.BlockExternalRequests
		}
		if p.NetworkPolicy.AllowInsecure != nil {
			out.NetworkPolicy.AllowInsecure = *p.NetworkPolicy.AllowInsecure
		}
	}
	return out, nil
}

// DomainAllowed reports whether host passes the allow-list. An empty list or
// a "*" entry permits all domains; "*.example.com" entries match subdomains.
func (c SecurityConfig) DomainAllowed(host string) bool {
	if len(c.AllowedDomains) == 0 {
		return true
	}
	for _, d := range c.AllowedDomains {
		if d == "*" {
			return true
		}
		if domainMatches(host, d) {
			return true
		}
	}
	return false
}

// domainMatches supports exact and "*." wildcard domain patterns.
func domainMatches(host, pattern string) bool {
	if len(pattern) > 2 && pattern[:2] == "*." {
		base := pattern[2:]
		if host == base {
			return true
		}
		return len(host) > len(base) && host[len(host)-len(base)-1] == '.' && host[len(host)-len(base):] == base
	}
	return host == pattern
}
