package convert

import (
	"testing"

	"github.com/parcelworks/legacyconv/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultLifecycle(t *testing.T) {
	r := newResult("c1")
	assert.Equal(t, StatusPending, r.Snapshot().Status)
	assert.False(t, r.Terminal())

	r.Begin()
	assert.Equal(t, StatusInProgress, r.Snapshot().Status)

	r.ApplyOutcome(Outcome{Processed: 10, Success: 10})
	r.Finish()

	snap := r.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 10, snap.Total)
	assert.True(t, r.Terminal())
	assert.False(t, snap.EndedAt.IsZero())
}

func TestResultPartialWhenRowsErrored(t *testing.T) {
	r := newResult("c2")
	r.Begin()
	r.ApplyOutcome(Outcome{Processed: 10, Success: 9, Errors: 1})
	r.Finish()
	assert.Equal(t, StatusPartial, r.Snapshot().Status)
}

func TestResultCountsStayConsistent(t *testing.T) {
	r := newResult("c3")
	r.Begin()
	r.ApplyOutcome(Outcome{Processed: 5, Success: 4, Errors: 1})
	r.ApplyOutcome(Outcome{Processed: 5, Success: 5})

	snap := r.Snapshot()
	assert.Equal(t, 10, snap.Processed)
	assert.Equal(t, snap.Processed, snap.Success+snap.Errors)
}

func TestResultErrorRate(t *testing.T) {
	r := newResult("c4")
	assert.Zero(t, r.ErrorRate())

	r.Begin()
	r.ApplyOutcome(Outcome{Processed: 10, Success: 8, Errors: 2})
	assert.InDelta(t, 0.2, r.ErrorRate(), 1e-9)
}

func TestResultWriteFailure(t *testing.T) {
	r := newResult("c5")
	r.Begin()
	r.ApplyOutcome(Outcome{Processed: 10, Success: 10})

	r.RecordWriteFailure(10, schema.ValidationIssue{
		Row: 0, Kind: schema.IssueWriteFailed, Message: "insert failed",
	})

	snap := r.Snapshot()
	assert.Equal(t, 0, snap.Success)
	assert.Equal(t, 10, snap.Errors)
	require.Len(t, snap.ErrorIssues, 1)
	assert.Equal(t, schema.IssueWriteFailed, snap.ErrorIssues[0].Kind)
	assert.InDelta(t, 1.0, r.ErrorRate(), 1e-9)
}

func TestResultCancelRules(t *testing.T) {
	r := newResult("c6")
	r.Begin()
	assert.False(t, r.Cancelled())
	assert.True(t, r.Cancel())
	assert.True(t, r.Cancelled())

	r.Fail("cancelled")
	assert.False(t, r.Cancel()) // terminal conversions cannot be cancelled
	assert.Equal(t, "cancelled", r.Snapshot().Message)
}

func TestResultIssueBuffersBounded(t *testing.T) {
	r := newResult("c7")
	r.Begin()

	issues := make([]schema.ValidationIssue, 700)
	r.ApplyOutcome(Outcome{Processed: 700, Errors: 700, ErrorIssues: issues})
	r.ApplyOutcome(Outcome{Processed: 700, Errors: 700, ErrorIssues: issues})

	snap := r.Snapshot()
	assert.Equal(t, 1400, snap.Errors)
	assert.Len(t, snap.ErrorIssues, maxIssueBuffer)
}

func TestResultFinishKeepsFailedStatus(t *testing.T) {
	r := newResult("c8")
	r.Begin()
	r.Fail("source read error")
	r.Finish()
	assert.Equal(t, StatusFailed, r.Snapshot().Status)
}

func TestResultCompleteIgnoresErrors(t *testing.T) {
	r := newResult("c9")
	r.Begin()
	r.ApplyOutcome(Outcome{Processed: 2, Success: 1, Errors: 1})
	r.Complete()

	snap := r.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 1, snap.Errors)
	assert.True(t, r.Terminal())
	assert.False(t, snap.EndedAt.IsZero())
}

func TestResultCompleteKeepsFailedStatus(t *testing.T) {
	r := newResult("c10")
	r.Begin()
	r.Fail("cancelled")
	r.Complete()
	assert.Equal(t, StatusFailed, r.Snapshot().Status)
}
