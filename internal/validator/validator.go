// Package validator orchestrates the per-request checks: domain allow-list,
// rate limiting, content scanning and header inspection. Every check runs;
// violations accumulate rather than short-circuiting, so the audit trail is
// always complete.
package validator

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/canvasguard/canvasguard/internal/config"
	"github.com/canvasguard/canvasguard/internal/policy"
	"github.com/canvasguard/canvasguard/internal/ratelimit"
)

// Detector is the pluggable content detection strategy. The default
// implementation is the pattern scanner; a smarter classifier can replace it
// without touching the validator.
type Detector interface {
	Detect(content string, ctx policy.RequestContext) []policy.Violation
	Sanitise(content string) (string, []string)
}

// spoofableHeaders are headers commonly forged to disguise a request's
// origin. Their presence is flagged, never blocked.
var spoofableHeaders = []string{
	"x-forwarded-for",
	"x-forwarded-host",
	"x-real-ip",
	"x-originating-ip",
	"x-client-ip",
	"forwarded",
}

// Validator runs the full validation pipeline for one request.
type Validator struct {
	detector Detector
	limiter  *ratelimit.Limiter
	logger   *logrus.Logger
}

// New creates a Validator with the given detection strategy and limiter.
func New(detector Detector, limiter *ratelimit.Limiter, logger *logrus.Logger) *Validator {
	return &Validator{detector: detector, limiter: limiter, logger: logger}
}

// Validate runs all checks against one request under the given
// configuration. The returned violation list is complete regardless of
// outcome; SanitisedRequest is set only when sanitisation succeeded and no
// domain or rate-limit check invalidated the request.
func (v *Validator) Validate(req policy.CanvasRequest, ctx policy.RequestContext, cfg config.SecurityConfig) policy.ValidationResult {
	result := policy.ValidationResult{Valid: true}
	hardInvalid := false

	// 1. Domain allow-list.
	if req.URL != "" {
		if violation := v.checkDomain(req.URL, ctx, cfg); violation != nil {
			result.Violations = append(result.Violations, *violation)
			result.Valid = false
			hardInvalid = true
		}
	}

	// 2. Rate limiting.
	if violation := v.limiter.Check(ctx.SourceKey()); violation != nil {
		result.Violations = append(result.Violations, *violation)
		result.Valid = false
		hardInvalid = true
	}

	// 3. Content scanning. Critical findings block outright and are never
	// sanitised; anything less yields a best-effort sanitised copy that the
	// caller may choose to accept.
	content := requestContent(req)
	if content != "" && cfg.ExfiltrationPrevention {
		contentViolations := v.detector.Detect(content, ctx)
		result.Violations = append(result.Violations, contentViolations...)

		critical := false
		for _, cv := range contentViolations {
			if cv.Severity == policy.SeverityCritical {
				critical = true
				break
			}
		}

		switch {
		case critical:
			result.Valid = false
		case len(contentViolations) > 0 && !hardInvalid:
			sanitised := req
			var notes []string
			if req.Data != "" {
				clean, mods := v.detector.Sanitise(req.Data)
				sanitised.Data = clean
				notes = append(notes, mods...)
			}
			if req.Body != "" {
				clean, mods := v.detector.Sanitise(req.Body)
				sanitised.Body = clean
				notes = append(notes, mods...)
			}
			result.SanitisedRequest = &sanitised
			result.Modifications = notes
		}
	}

	// 4. Spoofable header inspection: flagged and logged, never blocking.
	result.Violations = append(result.Violations, v.checkHeaders(req, ctx)...)

	if v.logger != nil && logrus.GetLevel() <= logrus.DebugLevel {
		v.logger.WithFields(logrus.Fields{
			"valid":      result.Valid,
			"violations": len(result.Violations),
			"sanitised":  result.SanitisedRequest != nil,
			"source":     ctx.SourceKey(),
		}).Debug("Request validation completed")
	}

	return result
}

// checkDomain validates the request URL's host against the allow-list.
func (v *Validator) checkDomain(rawURL string, ctx policy.RequestContext, cfg config.SecurityConfig) *policy.Violation {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return &policy.Violation{
			ID:          uuid.NewString(),
			Timestamp:   time.Now(),
			Type:        policy.ViolationCORS,
			Severity:    policy.SeverityMedium,
			Source:      ctx.SourceKey(),
			Description: fmt.Sprintf("request URL %q could not be parsed", rawURL),
			Remediation: policy.RemediationBlocked,
		}
	}

	host := parsed.Hostname()
	if cfg.DomainAllowed(host) {
		return nil
	}
	return &policy.Violation{
		ID:          uuid.NewString(),
		Timestamp:   time.Now(),
		Type:        policy.ViolationCORS,
		Severity:    policy.SeverityMedium,
		Source:      ctx.SourceKey(),
		Description: fmt.Sprintf("domain %s is not in the allow-list", host),
		Remediation: policy.RemediationBlocked,
		Metadata:    map[string]string{"domain": host},
	}
}

// checkHeaders flags spoofing-prone headers as low-severity suspicious
// requests. These never invalidate the request.
func (v *Validator) checkHeaders(req policy.CanvasRequest, ctx policy.RequestContext) []policy.Violation {
	if len(req.Headers) == 0 {
		return nil
	}
	var out []policy.Violation
	for name := range req.Headers {
		lower := strings.ToLower(name)
		for _, spoofable := range spoofableHeaders {
			if lower == spoofable {
				out = append(out, policy.Violation{
					ID:          uuid.NewString(),
					Timestamp:   time.Now(),
					Type:        policy.ViolationSuspiciousRequest,
					Severity:    policy.SeverityLow,
					Source:      ctx.SourceKey(),
					Description: fmt.Sprintf("spoofable header %s present", lower),
					Remediation: policy.RemediationLogged,
					Metadata:    map[string]string{"header": lower},
				})
			}
		}
	}
	return out
}

// requestContent serialises the scannable parts of a request.
func requestContent(req policy.CanvasRequest) string {
	switch {
	case req.Data != "" && req.Body != "":
		return req.Data + "\n" + req.Body
	case req.Data != "":
		return req.Data
	default:
		return req.Body
	}
}
