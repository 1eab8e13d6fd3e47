package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/canvasguard/canvasguard/internal/audit"
	"github.com/canvasguard/canvasguard/internal/config"
	"github.com/canvasguard/canvasguard/internal/policy"
)

// ThreatLevel summarises recent violation volume.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

// Status is the engine's operational snapshot.
type Status struct {
	Enabled          bool                 `json:"enabled"`
	Level            policy.SecurityLevel `json:"level"`
	RecentViolations int                  `json:"recentViolations"`
	ThreatLevel      ThreatLevel          `json:"threatLevel"`
}

// Status reports current state. The threat level is a step function of the
// violation count over the last 24 hours.
func (e *Engine) Status() Status {
	e.mu.RLock()
	cfg := e.cfg
	e.mu.RUnlock()

	recent := e.auditLog.RecentViolations(recentWindow, "")
	return Status{
		Enabled:          cfg.ExfiltrationPrevention,
		Level:            cfg.CanvasSecurityLevel,
		RecentViolations: recent,
		ThreatLevel:      threatLevel(recent),
	}
}

func threatLevel(recentViolations int) ThreatLevel {
	switch {
	case recentViolations > 100:
		return ThreatCritical
	case recentViolations > 50:
		return ThreatHigh
	case recentViolations > 10:
		return ThreatMedium
	default:
		return ThreatLow
	}
}

// Report is the full JSON security report.
type Report struct {
	GeneratedAt time.Time             `json:"generatedAt"`
	Config      config.SecurityConfig `json:"config"`
	Status      Status                `json:"status"`
	Violations  []policy.Violation    `json:"violations"`
	AuditLog    []audit.Entry         `json:"auditLog"`
	Statistics  ReportStatistics      `json:"statistics"`
}

// ReportStatistics aggregates violation counts.
type ReportStatistics struct {
	TotalViolations int                          `json:"totalViolations"`
	AuditEntries    int                          `json:"auditEntries"`
	BySeverity      map[policy.Severity]int      `json:"bySeverity"`
	ByType          map[policy.ViolationType]int `json:"byType"`
	ByResult        map[policy.AuditResult]int   `json:"byResult"`
}

// ExportReport serialises the security report. JSON includes the config
// snapshot, held violations, the audit log and aggregate statistics; CSV is
// the audit log alone.
func (e *Engine) ExportReport(format audit.Format) (string, error) {
	switch format {
	case audit.FormatCSV:
		return e.auditLog.Export(audit.FormatCSV)

	case audit.FormatJSON:
		e.mu.RLock()
		cfg := e.cfg
		e.mu.RUnlock()

		violations := e.auditLog.Violations()
		entries := e.auditLog.Entries()

		stats := ReportStatistics{
			TotalViolations: len(violations),
			AuditEntries:    len(entries),
			BySeverity:      make(map[policy.Severity]int),
			ByType:          make(map[policy.ViolationType]int),
			ByResult:        make(map[policy.AuditResult]int),
		}
		for _, v := range violations {
			stats.BySeverity[v.Severity]++
			stats.ByType[v.Type]++
		}
		for _, entry := range entries {
			stats.ByResult[entry.Result]++
		}

		report := Report{
			GeneratedAt: time.Now(),
			Config:      cfg,
			Status:      e.Status(),
			Violations:  violations,
			AuditLog:    entries,
			Statistics:  stats,
		}
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode security report: %w", err)
		}
		return string(data), nil

	default:
		return "", fmt.Errorf("unsupported report format: %s", format)
	}
}
