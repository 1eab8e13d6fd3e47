// Package patterns holds the static detection rule sets used by the content
// scanner. A Library is immutable once built: the same input always yields
// the same matches, which keeps detection deterministic and testable.
package patterns

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/canvasguard/canvasguard/internal/policy"
)

// Category names a detection rule set.
type Category string

const (
	CategoryExfiltration  Category = "exfiltration-intent"
	CategoryMaliciousCode Category = "malicious-code"
	CategorySensitiveData Category = "sensitive-data"
	CategorySuspiciousURL Category = "suspicious-url"
)

// Rule is a single compiled detection rule.
type Rule struct {
	Category Category
	Name     string
	Severity policy.Severity
	re       *regexp.Regexp
	// redactGroup selects the capture group to replace during sanitisation.
	// Zero means the whole match.
	redactGroup int
}

// String returns a debug representation of the rule.
func (r *Rule) String() string {
	return fmt.Sprintf("%s/%s:%s", r.Category, r.Name, r.re.String())
}

// Match is one rule hit within scanned content. Start/End span the whole
// match; RedactStart/RedactEnd span the portion that must never appear in
// logs or sanitised output.
type Match struct {
	Category    Category
	Rule        string
	Severity    policy.Severity
	Start, End  int
	RedactStart int
	RedactEnd   int
}

// Text returns the full matched text from content.
func (m Match) Text(content string) string {
	return content[m.Start:m.End]
}

// Library is the compiled set of all detection rules.
type Library struct {
	rules []*Rule
}

// NewLibrary builds the default library, merging any custom sensitive-data
// patterns from configuration. Invalid custom patterns are reported rather
// than silently dropped.
func NewLibrary(customSensitive []string) (*Library, error) {
	lib := &Library{rules: defaultRules()}
	for i, p := range customSensitive {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("custom sensitive pattern %d (%q) is invalid: %w", i, p, err)
		}
		lib.rules = append(lib.rules, &Rule{
			Category: CategorySensitiveData,
			Name:     fmt.Sprintf("custom-%d", i),
			Severity: policy.SeverityCritical,
			re:       re,
		})
	}
	return lib, nil
}

// Rules returns the rules in a given category.
func (l *Library) Rules(c Category) []*Rule {
	var out []*Rule
	for _, r := range l.rules {
		if r.Category == c {
			out = append(out, r)
		}
	}
	return out
}

// Scan runs every rule against content and returns all matches ordered by
// position. Overlap between rules is allowed; callers resolve it.
func (l *Library) Scan(content string) []Match {
	var matches []Match
	for _, r := range l.rules {
		for _, idx := range r.re.FindAllStringSubmatchIndex(content, -1) {
			m := Match{
				Category:    r.Category,
				Rule:        r.Name,
				Severity:    r.Severity,
				Start:       idx[0],
				End:         idx[1],
				RedactStart: idx[0],
				RedactEnd:   idx[1],
			}
			if r.redactGroup > 0 && len(idx) > r.redactGroup*2+1 && idx[r.redactGroup*2] >= 0 {
				m.RedactStart = idx[r.redactGroup*2]
				m.RedactEnd = idx[r.redactGroup*2+1]
			}
			matches = append(matches, m)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Start != matches[j].Start {
			return matches[i].Start < matches[j].Start
		}
		return matches[i].End > matches[j].End
	})
	return matches
}

func mustRule(cat Category, name string, sev policy.Severity, expr string) *Rule {
	return &Rule{Category: cat, Name: name, Severity: sev, re: regexp.MustCompile(expr)}
}

func mustRedactRule(cat Category, name string, sev policy.Severity, expr string, group int) *Rule {
	r := mustRule(cat, name, sev, expr)
	r.redactGroup = group
	return r
}

// defaultRules is the compiled-in rule set. The sets make no claim of
// completeness; they cover the known exfiltration, injection and credential
// shapes the engine is expected to catch.
func defaultRules() []*Rule {
	return []*Rule{
		// Exfiltration intent: verbs that move data out, and the browser APIs
		// commonly abused to do it.
		mustRule(CategoryExfiltration, "exfil-verb", policy.SeverityHigh,
			`(?i)\b(send|upload|post|transmit|forward|exfiltrate|leak)\b[^\n]{0,40}\b(data|file|files|content|document|clipboard|history|credentials|cookies)\b`),
		mustRule(CategoryExfiltration, "send-beacon", policy.SeverityHigh,
			`(?i)navigator\.sendBeacon\s*\(`),
		mustRule(CategoryExfiltration, "fetch-external", policy.SeverityHigh,
			`(?i)\bfetch\s*\(\s*['"]https?://`),
		mustRule(CategoryExfiltration, "xhr-post", policy.SeverityHigh,
			`(?i)\.open\s*\(\s*['"]POST['"]\s*,\s*['"]https?://`),
		mustRule(CategoryExfiltration, "paste-site", policy.SeverityHigh,
			`(?i)\b(webhook\.site|requestbin\.com|pipedream\.net|interactsh\.com)\b`),

		// Malicious code: dynamic evaluation and DOM injection primitives.
		mustRule(CategoryMaliciousCode, "eval-call", policy.SeverityHigh,
			`(?i)\beval\s*\(`),
		mustRule(CategoryMaliciousCode, "inner-html", policy.SeverityHigh,
			`(?i)\.?innerHTML\s*=`),
		mustRule(CategoryMaliciousCode, "document-write", policy.SeverityHigh,
			`(?i)document\.write(ln)?\s*\(`),
		mustRule(CategoryMaliciousCode, "function-ctor", policy.SeverityHigh,
			`(?i)\bnew\s+Function\s*\(|\bFunction\s*\(\s*['"]`),
		mustRule(CategoryMaliciousCode, "string-timer", policy.SeverityHigh,
			`(?i)\bset(Timeout|Interval)\s*\(\s*['"]`),
		mustRule(CategoryMaliciousCode, "script-tag", policy.SeverityHigh,
			`(?i)<script\b`),
		mustRule(CategoryMaliciousCode, "js-uri", policy.SeverityHigh,
			`(?i)\bjavascript:\s*\S`),
		mustRule(CategoryMaliciousCode, "event-handler", policy.SeverityHigh,
			`(?i)\bon(error|load|click|mouseover)\s*=`),

		// Sensitive data: credential assignments and well-known identifier
		// shapes. The value portion is the redact group where applicable.
		mustRedactRule(CategorySensitiveData, "credential-assignment", policy.SeverityCritical,
			`(?i)\b(password|passwd|pwd|secret|token|api[_-]?key|access[_-]?key|private[_-]?key|client[_-]?secret)\b\s*[:=]\s*(['"]?[^\s'"]{3,}['"]?)`, 2),
		mustRule(CategorySensitiveData, "card-number", policy.SeverityCritical,
			`\b\d{4}[ -]?\d{4}[ -]?\d{4}[ -]?\d{2,4}\b`),
		mustRule(CategorySensitiveData, "ssn", policy.SeverityCritical,
			`\b\d{3}-\d{2}-\d{4}\b`),
		mustRule(CategorySensitiveData, "email-address", policy.SeverityCritical,
			`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),

		// Suspicious URLs: raw IPs, shorteners, data URIs, unusual ports.
		mustRule(CategorySuspiciousURL, "raw-ip-url", policy.SeverityMedium,
			`https?://(?:\d{1,3}\.){3}\d{1,3}`),
		mustRule(CategorySuspiciousURL, "data-uri", policy.SeverityMedium,
			`(?i)data:[a-z]+/[a-z0-9.+-]+;base64,`),
		mustRule(CategorySuspiciousURL, "url-shortener", policy.SeverityMedium,
			`(?i)https?://(bit\.ly|tinyurl\.com|goo\.gl|t\.co|is\.gd|ow\.ly)/`),
		mustRule(CategorySuspiciousURL, "odd-port", policy.SeverityMedium,
			`https?://[^\s/:]+:(?:[0-9]{4,5})(?:/|\b)`),
	}
}
