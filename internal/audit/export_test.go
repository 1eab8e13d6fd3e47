package audit

import (
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasguard/canvasguard/internal/policy"
)

func TestExportJSONRoundTrip(t *testing.T) {
	l := NewLog()
	l.Record("validateCanvasRequest", policy.SourceCanvas, "https://app.example",
		policy.ResultBlocked, map[string]any{"violations": 2.0}, policy.LevelStrict)
	l.Record("preventDataExfiltration", policy.SourceAssistant, "",
		policy.ResultSuccess, nil, policy.LevelStrict)

	out, err := l.Export(FormatJSON)
	require.NoError(t, err)

	var decoded []Entry
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "validateCanvasRequest", decoded[0].Action)
	assert.Equal(t, policy.ResultBlocked, decoded[0].Result)
	assert.Equal(t, 2.0, decoded[0].Details["violations"])
	assert.Equal(t, "preventDataExfiltration", decoded[1].Action)
}

func TestExportCSVLayout(t *testing.T) {
	l := NewLog()
	l.Record("exportSecurityReport", policy.SourceSystem, "report, with comma",
		policy.ResultSuccess, map[string]any{"format": "csv"}, policy.LevelModerate)

	out, err := l.Export(FormatCSV)
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, []string{"ID", "Timestamp", "Action", "Source", "Target", "Result", "SecurityLevel", "Details"}, rows[0])

	row := rows[1]
	assert.NotEmpty(t, row[0])
	_, err = time.Parse(time.RFC3339, row[1])
	assert.NoError(t, err, "timestamp column must be RFC3339")
	assert.Equal(t, "exportSecurityReport", row[2])
	assert.Equal(t, "system", row[3])
	assert.Equal(t, "report, with comma", row[4], "embedded commas must survive CSV escaping")
	assert.Equal(t, "success", row[5])
	assert.Equal(t, "moderate", row[6])

	var details map[string]any
	require.NoError(t, json.Unmarshal([]byte(row[7]), &details))
	assert.Equal(t, "csv", details["format"])
}

func TestExportCSVEmptyLogHasHeaderOnly(t *testing.T) {
	l := NewLog()
	out, err := l.Export(FormatCSV)
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestExportUnknownFormat(t *testing.T) {
	l := NewLog()
	_, err := l.Export(Format("xml"))
	assert.Error(t, err)
}
