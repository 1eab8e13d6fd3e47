package policy

import (
	"time"
)

// SecurityLevel controls how strictly requests are screened. Levels are
// ordered: each level's trust threshold is at least as high as the one below.
type SecurityLevel string

const (
	LevelPermissive SecurityLevel = "permissive"
	LevelModerate   SecurityLevel = "moderate"
	LevelStrict     SecurityLevel = "strict"
	LevelParanoid   SecurityLevel = "paranoid"
)

// Valid reports whether the level is one of the four known levels.
func (l SecurityLevel) Valid() bool {
	switch l {
	case LevelPermissive, LevelModerate, LevelStrict, LevelParanoid:
		return true
	}
	return false
}

// ViolationType classifies the kind of policy breach detected.
type ViolationType string

const (
	ViolationDataExfiltration  ViolationType = "data-exfiltration"
	ViolationSuspiciousRequest ViolationType = "suspicious-request"
	ViolationCORS              ViolationType = "cors-violation"
	ViolationRateLimit         ViolationType = "rate-limit"
	ViolationMaliciousPattern  ViolationType = "malicious-pattern"
)

// Severity grades how serious a violation is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RemediationAction records what the engine did about a violation.
type RemediationAction string

const (
	RemediationBlocked     RemediationAction = "blocked"
	RemediationSanitised   RemediationAction = "sanitised"
	RemediationLogged      RemediationAction = "logged"
	RemediationQuarantined RemediationAction = "quarantined"
)

// Violation is an immutable record of a single detected policy breach.
// Violations are created only by the content scanner, rate limiter and
// request validator; nothing mutates them after creation.
type Violation struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Type        ViolationType     `json:"type"`
	Severity    Severity          `json:"severity"`
	Source      string            `json:"source"`
	Description string            `json:"description"`
	// Excerpt holds a redacted fragment of the offending content. Sensitive
	// matches are always replaced with [REDACTED] before the excerpt is set.
	Excerpt     string            `json:"excerpt,omitempty"`
	Remediation RemediationAction `json:"remediation"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// TrustLevel is the caller-asserted trust tier of a request source.
type TrustLevel string

const (
	TrustLow    TrustLevel = "low"
	TrustMedium TrustLevel = "medium"
	TrustHigh   TrustLevel = "high"
)

// RequestSource identifies which subsystem originated a request.
type RequestSource string

const (
	SourceCanvas    RequestSource = "canvas"
	SourceAssistant RequestSource = "assistant"
	SourceNetwork   RequestSource = "network"
	SourceSystem    RequestSource = "system"
)

// CanvasRequest is the request shape consumed from the UI/service layer.
type CanvasRequest struct {
	URL     string            `json:"url,omitempty"`
	Data    string            `json:"data,omitempty"`
	Body    string            `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// RequestContext carries the contextual signals used for rate limiting and
// trust scoring.
type RequestContext struct {
	Source             RequestSource `json:"source"`
	UserID             string        `json:"userId,omitempty"`
	UserTrustLevel     TrustLevel    `json:"userTrustLevel,omitempty"`
	ConversationLength int           `json:"conversationLength,omitempty"`
	// PriorViolations is the count of previously recorded violations for this
	// source. It is a read of violation history supplied by the engine, not
	// hidden scorer state.
	PriorViolations int `json:"priorViolations,omitempty"`
}

// SourceKey returns the key used for per-source rate limiting.
func (c RequestContext) SourceKey() string {
	if c.UserID != "" {
		return string(c.Source) + ":" + c.UserID
	}
	return string(c.Source)
}

// ValidationResult is the outcome of validating one request. The violation
// list is always complete for auditing; SanitisedRequest is populated only
// when sanitisation succeeded and nothing else invalidated the request.
type ValidationResult struct {
	Valid            bool           `json:"isValid"`
	Violations       []Violation    `json:"violations"`
	SanitisedRequest *CanvasRequest `json:"sanitisedRequest,omitempty"`
	// Modifications describes each substitution performed while producing
	// SanitisedRequest, for the audit trail.
	Modifications []string `json:"modifications,omitempty"`
}

// HasCritical reports whether any violation in the result is critical.
func (r ValidationResult) HasCritical() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// AuditResult classifies the outcome recorded for an audited action.
type AuditResult string

const (
	ResultSuccess AuditResult = "success"
	ResultBlocked AuditResult = "blocked"
	ResultError   AuditResult = "error"
)
