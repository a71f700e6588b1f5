package convert

import (
	"fmt"
	"html/template"
	"os"
	"time"

	"github.com/parcelworks/legacyconv/internal/schema"
)

// maxReportIssues caps how many error and warning rows the report
// tables show.
const maxReportIssues = 100

// reportData is what the report template renders.
type reportData struct {
	Config    *Config
	Snapshot  Snapshot
	Source    string
	Generated time.Time
}

func (d reportData) ErrorRows() []schema.ValidationIssue {
	return capIssues(d.Snapshot.ErrorIssues)
}

func (d reportData) WarningRows() []schema.ValidationIssue {
	return capIssues(d.Snapshot.WarningIssues)
}

func capIssues(issues []schema.ValidationIssue) []schema.ValidationIssue {
	if len(issues) > maxReportIssues {
		return issues[:maxReportIssues]
	}
	return issues
}

func (d reportData) SuccessRate() string {
	if d.Snapshot.Processed == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", 100*float64(d.Snapshot.Success)/float64(d.Snapshot.Processed))
}

func (d reportData) Duration() string {
	return d.Snapshot.Duration().Round(time.Millisecond).String()
}

// WriteReport renders the audit report for a conversion. It is written
// even for failed runs.
func WriteReport(path string, cfg *Config, snap Snapshot, sourceFile string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	defer f.Close()

	data := reportData{
		Config:    cfg,
		Snapshot:  snap,
		Source:    sourceFile,
		Generated: time.Now(),
	}
	if err := reportTemplate.Execute(f, data); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}

var reportTemplate = template.Must(template.New("report").Parse(reportHTML))

const reportHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Conversion Report {{.Config.ID}}</title>
<style>
  body { font-family: -apple-system, "Segoe UI", sans-serif; margin: 2rem; color: #1a1a2e; }
  h1 { font-size: 1.4rem; } h2 { font-size: 1.1rem; margin-top: 2rem; }
  table { border-collapse: collapse; width: 100%; margin-top: 0.5rem; }
  th, td { border: 1px solid #d0d0e0; padding: 0.35rem 0.6rem; text-align: left; font-size: 0.9rem; }
  th { background: #f0f0fa; }
  .status-completed { color: #1f7a3d; font-weight: bold; }
  .status-partial { color: #b07d1e; font-weight: bold; }
  .status-failed { color: #b02a2a; font-weight: bold; }
  .meta td:first-child { font-weight: bold; width: 14rem; }
  .ai { color: #5b4ba6; }
</style>
</head>
<body>
<h1>Legacy Data Conversion Report</h1>

<h2>Run</h2>
<table class="meta">
  <tr><td>Conversion ID</td><td>{{.Config.ID}}</td></tr>
  <tr><td>Status</td><td class="status-{{.Snapshot.Status}}">{{.Snapshot.Status}}</td></tr>
  {{if .Snapshot.Message}}<tr><td>Message</td><td>{{.Snapshot.Message}}</td></tr>{{end}}
  <tr><td>Source file</td><td>{{.Source}}</td></tr>
  <tr><td>Source format</td><td>{{.Config.SourceFormat}}</td></tr>
  <tr><td>Target table</td><td>{{.Config.TargetSchema}}</td></tr>
  <tr><td>Started</td><td>{{.Snapshot.StartedAt.Format "2006-01-02 15:04:05 MST"}}</td></tr>
  {{if not .Snapshot.EndedAt.IsZero}}<tr><td>Ended</td><td>{{.Snapshot.EndedAt.Format "2006-01-02 15:04:05 MST"}}</td></tr>{{end}}
  <tr><td>Duration</td><td>{{.Duration}}</td></tr>
  <tr><td>Transaction mode</td><td>{{.Config.TransactionMode}}</td></tr>
  <tr><td>Batch size</td><td>{{.Config.BatchSize}}</td></tr>
  <tr><td>Error threshold</td><td>{{printf "%.2f" .Config.ErrorThreshold}}</td></tr>
</table>

<h2>Counts</h2>
<table>
  <tr><th>Total</th><th>Processed</th><th>Success</th><th>Errors</th><th>Warnings</th><th>Success rate</th></tr>
  <tr>
    <td>{{.Snapshot.Total}}</td><td>{{.Snapshot.Processed}}</td><td>{{.Snapshot.Success}}</td>
    <td>{{.Snapshot.Errors}}</td><td>{{.Snapshot.Warnings}}</td><td>{{.SuccessRate}}</td>
  </tr>
</table>

<h2>Applied Mappings</h2>
<table>
  <tr><th>Source</th><th>Target</th><th>Type</th><th>Required</th><th>Confidence</th><th>AI</th></tr>
  {{range .Config.Mappings}}
  <tr>
    <td>{{.SourceColumn}}</td><td>{{.TargetColumn}}</td><td>{{.DataType}}</td>
    <td>{{if .Required}}yes{{end}}</td><td>{{printf "%.2f" .Confidence}}</td>
    <td>{{if .AISuggested}}<span class="ai">suggested</span>{{end}}</td>
  </tr>
  {{end}}
</table>

<h2>Errors ({{len .ErrorRows}} of {{.Snapshot.Errors}} shown)</h2>
<table>
  <tr><th>Row</th><th>Column</th><th>Kind</th><th>Message</th><th>Value</th></tr>
  {{range .ErrorRows}}
  <tr><td>{{.Row}}</td><td>{{.Column}}</td><td>{{.Kind}}</td><td>{{.Message}}</td><td>{{.Value}}</td></tr>
  {{end}}
</table>

<h2>Warnings ({{len .WarningRows}} of {{.Snapshot.Warnings}} shown)</h2>
<table>
  <tr><th>Row</th><th>Column</th><th>Kind</th><th>Message</th><th>Value</th></tr>
  {{range .WarningRows}}
  <tr><td>{{.Row}}</td><td>{{.Column}}</td><td>{{.Kind}}</td><td>{{.Message}}</td><td>{{.Value}}</td></tr>
  {{end}}
</table>

<p><small>Generated {{.Generated.Format "2006-01-02 15:04:05 MST"}} by legacyconv.</small></p>
</body>
</html>
`
