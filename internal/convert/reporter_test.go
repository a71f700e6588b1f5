package convert

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parcelworks/legacyconv/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reportFixture() (*Config, Snapshot) {
	cfg := &Config{
		ID:              "conv-report",
		SourceFormat:    "csv",
		TargetSchema:    "parcels",
		BatchSize:       500,
		ErrorThreshold:  0.10,
		TransactionMode: "batch",
		Mappings: []schema.ColumnMapping{
			{SourceColumn: "PARCELID", TargetColumn: "parcel_id", DataType: schema.TypeString, Required: true, Confidence: 1.0},
			{SourceColumn: "ASSD_VAL", TargetColumn: "assessed_value", DataType: schema.TypeFloat, Confidence: 0.72, AISuggested: true},
		},
	}
	snap := Snapshot{
		ID:        "conv-report",
		Status:    StatusPartial,
		Total:     100,
		Processed: 100,
		Success:   97,
		Errors:    3,
		StartedAt: time.Now().Add(-time.Minute),
		EndedAt:   time.Now(),
		ErrorIssues: []schema.ValidationIssue{
			{Row: 12, Column: "assessed_value", Kind: schema.IssueRangeMin, Message: "value below minimum 0", Value: -5.0},
		},
	}
	return cfg, snap
}

func TestWriteReport(t *testing.T) {
	cfg, snap := reportFixture()
	path := filepath.Join(t.TempDir(), "report.html")

	require.NoError(t, WriteReport(path, cfg, snap, "/tmp/parcels.csv"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	html := string(data)

	assert.Contains(t, html, "conv-report")
	assert.Contains(t, html, "status-partial")
	assert.Contains(t, html, "/tmp/parcels.csv")
	assert.Contains(t, html, "PARCELID")
	assert.Contains(t, html, "suggested") // AI-suggested mapping marker
	assert.Contains(t, html, "value below minimum 0")
	assert.Contains(t, html, "97.0%")
}

func TestWriteReportForFailedRun(t *testing.T) {
	cfg, snap := reportFixture()
	snap.Status = StatusFailed
	snap.Message = "error rate 0.333 exceeded threshold 0.200"
	path := filepath.Join(t.TempDir(), "report.html")

	require.NoError(t, WriteReport(path, cfg, snap, "parcels.csv"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "exceeded threshold")
	assert.Contains(t, string(data), "status-failed")
}

func TestReportCapsIssueTables(t *testing.T) {
	cfg, snap := reportFixture()
	snap.ErrorIssues = nil
	for i := 0; i < 250; i++ {
		snap.ErrorIssues = append(snap.ErrorIssues, schema.ValidationIssue{
			Row: i, Column: "value", Kind: schema.IssueRangeMin, Message: fmt.Sprintf("issue %d", i),
		})
	}
	snap.Errors = 250

	data := reportData{Config: cfg, Snapshot: snap}
	assert.Len(t, data.ErrorRows(), maxReportIssues)
}

func TestReportSuccessRateEmptyRun(t *testing.T) {
	data := reportData{Snapshot: Snapshot{}}
	assert.Equal(t, "n/a", data.SuccessRate())
}
