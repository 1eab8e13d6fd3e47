package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"
)

// Format selects an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// csvHeader is the fixed column layout of CSV exports.
var csvHeader = []string{"ID", "Timestamp", "Action", "Source", "Target", "Result", "SecurityLevel", "Details"}

// Export serialises the audit log. JSON yields the full entry objects; CSV
// yields one row per entry with details JSON-escaped into a single column.
// Embedded commas and quotes are escaped by the CSV writer.
func (l *Log) Export(format Format) (string, error) {
	entries := l.Entries()

	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode audit log: %w", err)
		}
		return string(data), nil

	case FormatCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.Write(csvHeader); err != nil {
			return "", fmt.Errorf("failed to write CSV header: %w", err)
		}
		for _, e := range entries {
			details := ""
			if e.Details != nil {
				encoded, err := json.Marshal(e.Details)
				if err != nil {
					return "", fmt.Errorf("failed to encode details for entry %s: %w", e.ID, err)
				}
				details = string(encoded)
			}
			row := []string{
				e.ID,
				e.Timestamp.Format(time.RFC3339),
				e.Action,
				string(e.Source),
				e.Target,
				string(e.Result),
				string(e.SecurityLevel),
				details,
			}
			if err := w.Write(row); err != nil {
				return "", fmt.Errorf("failed to write CSV row: %w", err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return "", fmt.Errorf("CSV export failed: %w", err)
		}
		return buf.String(), nil

	default:
		return "", fmt.Errorf("unsupported export format: %s", format)
	}
}
