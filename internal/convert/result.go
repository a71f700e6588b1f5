package convert

import (
	"sync"
	"time"

	"github.com/parcelworks/legacyconv/internal/schema"
)

// Status is the conversion lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusPartial    Status = "partial"
	StatusFailed     Status = "failed"
)

// maxIssueBuffer bounds the in-memory issue lists. Full detail goes to
// the conversion log; these buffers exist for cheap status calls.
const maxIssueBuffer = 1000

// Result is the mutable state of one conversion. The owning worker
// writes it; status callers read snapshots through the mutex.
type Result struct {
	mu sync.Mutex

	id        string
	status    Status
	total     int
	processed int
	success   int
	errors    int
	warnings  int

	errorIssues   []schema.ValidationIssue
	warningIssues []schema.ValidationIssue

	startedAt  time.Time
	endedAt    time.Time
	reportPath string
	message    string
	cancelled  bool
}

// Snapshot is an immutable copy of a Result for status callers.
type Snapshot struct {
	ID            string                   `json:"id"`
	Status        Status                   `json:"status"`
	Total         int                      `json:"total"`
	Processed     int                      `json:"processed"`
	Success       int                      `json:"success"`
	Errors        int                      `json:"errors"`
	Warnings      int                      `json:"warnings"`
	ErrorIssues   []schema.ValidationIssue `json:"error_issues"`
	WarningIssues []schema.ValidationIssue `json:"warning_issues"`
	StartedAt     time.Time                `json:"started_at"`
	EndedAt       time.Time                `json:"ended_at"`
	ReportPath    string                   `json:"report_path,omitempty"`
	Message       string                   `json:"message,omitempty"`
}

// Duration is the wall-clock time the conversion has run.
func (s Snapshot) Duration() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	end := s.EndedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.StartedAt)
}

func newResult(id string) *Result {
	return &Result{id: id, status: StatusPending}
}

// Begin moves the conversion into in_progress and stamps the start.
func (r *Result) Begin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = StatusInProgress
	r.startedAt = time.Now()
}

// ApplyOutcome folds one validated batch into the running counts.
func (r *Result) ApplyOutcome(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total += o.Processed
	r.processed += o.Processed
	r.success += o.Success
	r.errors += o.Errors
	r.warnings += o.Warnings
	r.errorIssues = appendBounded(r.errorIssues, o.ErrorIssues)
	r.warningIssues = appendBounded(r.warningIssues, o.WarningIssues)
}

// AddWarnings records mapping-validation issues, which never fail rows.
func (r *Result) AddWarnings(issues []schema.ValidationIssue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings += len(issues)
	r.warningIssues = appendBounded(r.warningIssues, issues)
}

// RecordWriteFailure converts unwritten valid rows into errors with a
// single issue entry for the batch.
func (r *Result) RecordWriteFailure(failed int, issue schema.ValidationIssue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.success -= failed
	r.errors += failed
	r.errorIssues = appendBounded(r.errorIssues, []schema.ValidationIssue{issue})
}

// ErrorRate is errors over processed rows; zero before any row.
func (r *Result) ErrorRate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.processed == 0 {
		return 0
	}
	return float64(r.errors) / float64(r.processed)
}

// Cancel flips the cooperative cancellation flag. Returns false when
// the conversion is already terminal.
func (r *Result) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.status {
	case StatusCompleted, StatusPartial, StatusFailed:
		return false
	}
	r.cancelled = true
	return true
}

// Cancelled reports the cooperative flag; the worker polls it at batch
// boundaries.
func (r *Result) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// Fail terminates the conversion with the given message.
func (r *Result) Fail(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = StatusFailed
	r.message = message
	r.endedAt = time.Now()
}

// Complete terminates the conversion as completed even when rows
// errored. Validate-only runs use this: their issues are findings,
// not failures.
func (r *Result) Complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == StatusFailed {
		return
	}
	r.status = StatusCompleted
	r.endedAt = time.Now()
}

// Finish terminates a naturally completed conversion: partial when any
// row errored, completed otherwise.
func (r *Result) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == StatusFailed {
		return
	}
	if r.errors > 0 {
		r.status = StatusPartial
	} else {
		r.status = StatusCompleted
	}
	r.endedAt = time.Now()
}

// SetReportPath records where the audit report was written.
func (r *Result) SetReportPath(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reportPath = path
}

// Terminal reports whether the conversion has reached a final status.
func (r *Result) Terminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.status {
	case StatusCompleted, StatusPartial, StatusFailed:
		return true
	}
	return false
}

// Snapshot copies the current state.
func (r *Result) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		ID:            r.id,
		Status:        r.status,
		Total:         r.total,
		Processed:     r.processed,
		Success:       r.success,
		Errors:        r.errors,
		Warnings:      r.warnings,
		ErrorIssues:   append([]schema.ValidationIssue(nil), r.errorIssues...),
		WarningIssues: append([]schema.ValidationIssue(nil), r.warningIssues...),
		StartedAt:     r.startedAt,
		EndedAt:       r.endedAt,
		ReportPath:    r.reportPath,
		Message:       r.message,
	}
}

func appendBounded(dst, src []schema.ValidationIssue) []schema.ValidationIssue {
	room := maxIssueBuffer - len(dst)
	if room <= 0 {
		return dst
	}
	if len(src) > room {
		src = src[:room]
	}
	return append(dst, src...)
}
