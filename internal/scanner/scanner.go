// Package scanner applies the pattern library to request content, producing
// typed violations and best-effort sanitised copies. Sensitive values are
// redacted before they can reach an excerpt or a log line.
package scanner

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"

	"github.com/canvasguard/canvasguard/internal/patterns"
	"github.com/canvasguard/canvasguard/internal/policy"
)

const (
	redactedMarker   = "[REDACTED]"
	neutralisedMark  = "[NEUTRALISED]"
	excerptWindow    = 24
	maxExcerptLength = 120
)

// Scanner detects policy violations in free-text content.
type Scanner struct {
	lib    *patterns.Library
	logger *logrus.Logger
}

// New creates a Scanner over the given pattern library.
func New(lib *patterns.Library, logger *logrus.Logger) *Scanner {
	return &Scanner{lib: lib, logger: logger}
}

// Detect runs every pattern category against content and returns the
// violations found. Sensitive-data matches are critical and their excerpts
// never contain the raw matched value.
func (s *Scanner) Detect(content string, ctx policy.RequestContext) []policy.Violation {
	matches := s.lib.Scan(content)
	scanned := content
	evaded := false

	// If the raw content is clean, scan a normalised form to catch encoding
	// tricks that hide patterns from the raw pass.
	if len(matches) == 0 {
		normalised := norm.NFKC.String(content)
		if normalised != content {
			if nm := s.lib.Scan(normalised); len(nm) > 0 {
				matches = nm
				scanned = normalised
				evaded = true
			}
		}
	}

	violations := make([]policy.Violation, 0, len(matches))
	for _, m := range matches {
		violations = append(violations, s.violationFromMatch(m, scanned, matches, ctx, evaded))
	}

	violations = append(violations, s.detectShellUploads(content, ctx)...)

	if s.logger != nil && logrus.GetLevel() <= logrus.DebugLevel {
		s.logger.WithFields(logrus.Fields{
			"content_length": len(content),
			"violations":     len(violations),
			"source":         ctx.SourceKey(),
			"evasion":        evaded,
		}).Debug("Content scan completed")
	}

	return violations
}

func (s *Scanner) violationFromMatch(m patterns.Match, content string, all []patterns.Match, ctx policy.RequestContext, evaded bool) policy.Violation {
	v := policy.Violation{
		ID:          uuid.NewString(),
		Timestamp:   time.Now(),
		Type:        violationType(m.Category),
		Severity:    m.Severity,
		Source:      ctx.SourceKey(),
		Description: fmt.Sprintf("pattern %s/%s matched", m.Category, m.Rule),
		Excerpt:     s.buildExcerpt(m, content, all),
		Remediation: policy.RemediationLogged,
		Metadata:    map[string]string{"rule": m.Rule, "category": string(m.Category)},
	}
	if m.Severity == policy.SeverityCritical {
		v.Remediation = policy.RemediationBlocked
	}
	if evaded {
		v.Metadata["encodedEvasion"] = "true"
	}
	return v
}

// buildExcerpt produces a short context window around a match. Every
// sensitive-data redact span intersecting the window is replaced, not just
// this match's own span, so an adjacent secret cannot leak through audit
// records.
func (s *Scanner) buildExcerpt(m patterns.Match, content string, all []patterns.Match) string {
	start := m.Start - excerptWindow
	if start < 0 {
		start = 0
	}
	end := m.End + excerptWindow
	if end > len(content) {
		end = len(content)
	}

	excerpt := redactRange(content, start, end, all)
	if len(excerpt) > maxExcerptLength {
		excerpt = excerpt[:maxExcerptLength]
	}
	return excerpt
}

// redactRange renders content[start:end] with every sensitive-data redact
// span from matches replaced by the marker. Overlapping and adjacent spans
// merge into a single marker; spans clipped by the window still produce one.
func redactRange(content string, start, end int, matches []patterns.Match) string {
	type span struct{ start, end int }
	var spans []span
	for _, m := range matches {
		if m.Category != patterns.CategorySensitiveData {
			continue
		}
		if m.RedactEnd <= start || m.RedactStart >= end {
			continue
		}
		spans = append(spans, span{m.RedactStart, m.RedactEnd})
	}
	if len(spans) == 0 {
		return content[start:end]
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var b strings.Builder
	pos := start
	for _, sp := range spans {
		rs, re := sp.start, sp.end
		if rs < pos {
			rs = pos
		}
		if re > end {
			re = end
		}
		if re <= pos {
			continue
		}
		if rs > pos {
			b.WriteString(content[pos:rs])
			b.WriteString(redactedMarker)
		} else if pos == start {
			b.WriteString(redactedMarker)
		}
		pos = re
	}
	b.WriteString(content[pos:end])
	return b.String()
}

// Sanitise returns a copy of content with malicious code replaced by an
// inert marker and sensitive values redacted, plus a description of every
// substitution for the audit trail. Content whose matches only surface after
// Unicode normalisation is sanitised in its normalised form, mirroring the
// detection pass, so an evaded payload never survives verbatim. Whether
// sanitisation may be used at all is the validator's decision; critical
// findings block instead.
func (s *Scanner) Sanitise(content string) (string, []string) {
	original := content
	matches := s.lib.Scan(content)
	normalisedNote := ""
	if len(matches) == 0 {
		normalised := norm.NFKC.String(content)
		if normalised != content {
			if nm := s.lib.Scan(normalised); len(nm) > 0 {
				matches = nm
				content = normalised
				normalisedNote = "normalised unicode formatting that concealed matches"
			}
		}
	}

	type edit struct {
		start, end  int
		replacement string
		note        string
	}
	var edits []edit
	for _, m := range matches {
		switch m.Category {
		case patterns.CategorySensitiveData:
			edits = append(edits, edit{
				start:       m.RedactStart,
				end:         m.RedactEnd,
				replacement: redactedMarker,
				note:        fmt.Sprintf("redacted sensitive value (rule %s)", m.Rule),
			})
		case patterns.CategoryMaliciousCode:
			edits = append(edits, edit{
				start:       m.Start,
				end:         m.End,
				replacement: neutralisedMark,
				note:        fmt.Sprintf("neutralised %s (rule %s)", m.Text(content), m.Rule),
			})
		}
	}

	if len(edits) == 0 {
		return original, nil
	}

	// Apply edits back to front so earlier offsets stay valid; skip edits
	// that overlap one already applied.
	sort.Slice(edits, func(i, j int) bool { return edits[i].start > edits[j].start })
	sanitised := content
	applied := make([]string, 0, len(edits))
	lastStart := len(content) + 1
	for _, e := range edits {
		if e.end > lastStart {
			continue
		}
		sanitised = sanitised[:e.start] + e.replacement + sanitised[e.end:]
		applied = append(applied, e.note)
		lastStart = e.start
	}

	// Reverse so modifications read in document order.
	for i, j := 0, len(applied)-1; i < j; i, j = i+1, j-1 {
		applied[i], applied[j] = applied[j], applied[i]
	}
	if normalisedNote != "" {
		applied = append([]string{normalisedNote}, applied...)
	}
	return sanitised, applied
}

// uploadFlags are command-line flags that cause curl/wget to transmit data.
var uploadFlags = map[string]bool{
	"-d": true, "--data": true, "--data-raw": true, "--data-binary": true,
	"--data-urlencode": true, "-F": true, "--form": true,
	"-T": true, "--upload-file": true,
	"--post-data": true, "--post-file": true,
}

var uploadExecutables = map[string]bool{"curl": true, "wget": true}

// detectShellUploads tokenises shell-looking lines and flags curl/wget
// invocations that push data to a destination.
func (s *Scanner) detectShellUploads(content string, ctx policy.RequestContext) []policy.Violation {
	var violations []policy.Violation
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, "curl") && !strings.Contains(line, "wget") {
			continue
		}
		tokens, err := shlex.Split(line)
		if err != nil || len(tokens) == 0 {
			continue
		}
		if !uploadExecutables[filepath.Base(tokens[0])] {
			continue
		}
		for _, tok := range tokens[1:] {
			flag := tok
			if i := strings.IndexByte(tok, '='); i > 0 {
				flag = tok[:i]
			}
			if uploadFlags[flag] {
				// The line may carry a credential alongside the upload flag.
				excerpt := redactRange(line, 0, len(line), s.lib.Scan(line))
				if len(excerpt) > maxExcerptLength {
					excerpt = excerpt[:maxExcerptLength]
				}
				violations = append(violations, policy.Violation{
					ID:          uuid.NewString(),
					Timestamp:   time.Now(),
					Type:        policy.ViolationDataExfiltration,
					Severity:    policy.SeverityHigh,
					Source:      ctx.SourceKey(),
					Description: fmt.Sprintf("shell upload command detected (%s with %s)", filepath.Base(tokens[0]), flag),
					Excerpt:     excerpt,
					Remediation: policy.RemediationLogged,
					Metadata:    map[string]string{"rule": "shell-upload", "category": string(patterns.CategoryExfiltration)},
				})
				break
			}
		}
	}
	return violations
}

// violationType maps a pattern category onto the violation taxonomy.
func violationType(c patterns.Category) policy.ViolationType {
	switch c {
	case patterns.CategoryExfiltration:
		return policy.ViolationDataExfiltration
	case patterns.CategoryMaliciousCode:
		return policy.ViolationMaliciousPattern
	case patterns.CategorySensitiveData:
		return policy.ViolationDataExfiltration
	case patterns.CategorySuspiciousURL:
		return policy.ViolationSuspiciousRequest
	default:
		return policy.ViolationSuspiciousRequest
	}
}
