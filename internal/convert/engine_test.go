package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/parcelworks/legacyconv/internal/formats"
	"github.com/parcelworks/legacyconv/internal/knowledge"
	"github.com/parcelworks/legacyconv/internal/mapper"
	"github.com/parcelworks/legacyconv/internal/schema"
	"github.com/parcelworks/legacyconv/internal/writer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	err := os.WriteFile(path, []byte(content), 0o644)
	require.NoError(t, err)
	return path
}

// fakeWriter records writes in memory and can simulate a missing table
// or failing inserts.
type fakeWriter struct {
	mu      sync.Mutex
	target  *schema.TargetSchema
	missing bool
	created *schema.TargetSchema

	rows       schema.Batch
	writeCalls int
	writeErr   error
	errWritten int
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{target: &schema.TargetSchema{
		Name: "parcels",
		Columns: []schema.TargetColumn{
			{Name: "parcel_id", SQLType: "TEXT"},
			{Name: "owner_name", SQLType: "TEXT", Nullable: true},
			{Name: "assessed_value", SQLType: "DOUBLE PRECISION", Nullable: true},
		},
	}}
}

func (w *fakeWriter) ListTables(context.Context) ([]string, error) {
	return []string{w.target.Name}, nil
}

func (w *fakeWriter) GetTargetSchema(_ context.Context, name string) (*schema.TargetSchema, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.missing && w.created == nil {
		return nil, fmt.Errorf("describe %s: %w", name, writer.ErrTableNotFound)
	}
	if w.created != nil {
		return w.created, nil
	}
	return w.target, nil
}

func (w *fakeWriter) CreateTable(_ context.Context, target *schema.TargetSchema) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.created = target
	return nil
}

func (w *fakeWriter) WriteBatch(_ context.Context, _ string, _ []string, rows schema.Batch, _ writer.TransactionMode) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writeCalls++
	if w.writeErr != nil {
		return w.errWritten, w.writeErr
	}
	w.rows = append(w.rows, rows...)
	return len(rows), nil
}

func (w *fakeWriter) CheckRow(context.Context, string, schema.Row) (bool, error) {
	return true, nil
}

func (w *fakeWriter) Close() error { return nil }

func (w *fakeWriter) writtenRows() schema.Batch {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append(schema.Batch(nil), w.rows...)
}

func newTestEngine(t *testing.T, w writer.TargetWriter) (*Engine, *Store) {
	t.Helper()
	catalog, err := knowledge.Load("")
	require.NoError(t, err)
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return NewEngine(formats.DefaultRegistry(), formats.NewDetector(nil), mapper.New(catalog, nil), w, store), store
}

func parcelMappings() []schema.ColumnMapping {
	return []schema.ColumnMapping{
		{SourceColumn: "parcel_id", TargetColumn: "parcel_id", DataType: schema.TypeString, Required: true, Confidence: 1.0},
		{SourceColumn: "owner", TargetColumn: "owner_name", DataType: schema.TypeString, Confidence: 0.9},
		{SourceColumn: "assessed_value", TargetColumn: "assessed_value", DataType: schema.TypeFloat, Confidence: 0.9,
			Rules: []schema.ValidationRule{{Type: schema.RuleRange, Min: floatPtr(0)}}},
	}
}

func parcelCSV(rows ...string) string {
	return "parcel_id,owner,assessed_value\n" + strings.Join(rows, "\n") + "\n"
}

func runConversion(t *testing.T, e *Engine, file string, cfg Config) Snapshot {
	t.Helper()
	id, err := e.Start(file, cfg)
	require.NoError(t, err)
	e.Wait(id)
	snap, ok := e.Status(id)
	require.True(t, ok)
	return snap
}

func TestConvertCleanFile(t *testing.T) {
	file := createTempFile(t, "parcels.csv", parcelCSV(
		"1001,SMITH JOHN,125000.50",
		"1002,DOE JANE,98000",
		"1003,ACME LLC,113500",
	))
	w := newFakeWriter()
	e, store := newTestEngine(t, w)

	snap := runConversion(t, e, file, Config{
		SourceFormat:   "csv",
		TargetSchema:   "parcels",
		Mappings:       parcelMappings(),
		ErrorThreshold: 0.10,
	})

	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 3, snap.Success)
	assert.Zero(t, snap.Errors)

	rows := w.writtenRows()
	require.Len(t, rows, 3)
	assert.Equal(t, "1001", rows[0]["parcel_id"])
	assert.Equal(t, 125000.50, rows[0]["assessed_value"])
	assert.Equal(t, "1003", rows[2]["parcel_id"])

	// terminal state and report are persisted for later invocations
	assert.FileExists(t, snap.ReportPath)
	persisted, err := store.LoadSnapshot(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, persisted.Status)
}

func TestConvertPartialOnBadRows(t *testing.T) {
	file := createTempFile(t, "parcels.csv", parcelCSV(
		"1001,SMITH JOHN,125000",
		"1002,DOE JANE,-50", // fails the range rule
		"1003,ACME LLC,113500",
	))
	w := newFakeWriter()
	e, _ := newTestEngine(t, w)

	snap := runConversion(t, e, file, Config{
		SourceFormat:   "csv",
		TargetSchema:   "parcels",
		Mappings:       parcelMappings(),
		ErrorThreshold: 0.50,
	})

	assert.Equal(t, StatusPartial, snap.Status)
	assert.Equal(t, 2, snap.Success)
	assert.Equal(t, 1, snap.Errors)
	assert.Len(t, w.writtenRows(), 2)
}

func TestConvertCircuitBreaker(t *testing.T) {
	// Bad rows 5 and 6 push the error rate to 2/6 after the third batch
	// of two, tripping the 0.2 threshold before that batch is written.
	file := createTempFile(t, "parcels.csv", parcelCSV(
		"1001,A,100", "1002,B,100",
		"1003,C,100", "1004,D,100",
		"1005,E,-1", "1006,F,-1",
		"1007,G,100", "1008,H,100",
		"1009,I,-1", "1010,J,100",
	))
	w := newFakeWriter()
	e, _ := newTestEngine(t, w)

	snap := runConversion(t, e, file, Config{
		SourceFormat:   "csv",
		TargetSchema:   "parcels",
		Mappings:       parcelMappings(),
		BatchSize:      2,
		ErrorThreshold: 0.20,
	})

	assert.Equal(t, StatusFailed, snap.Status)
	assert.Contains(t, snap.Message, "error rate")
	assert.Equal(t, 6, snap.Processed)
	assert.Equal(t, 2, snap.Errors)
	// only the batches before the breaker fired reached the target
	assert.Len(t, w.writtenRows(), 4)
	assert.FileExists(t, snap.ReportPath)
}

func TestConvertZeroThresholdFailsOnFirstError(t *testing.T) {
	file := createTempFile(t, "parcels.csv", parcelCSV(
		"1001,A,-1",
		"1002,B,100",
	))
	w := newFakeWriter()
	e, _ := newTestEngine(t, w)

	snap := runConversion(t, e, file, Config{
		SourceFormat:   "csv",
		TargetSchema:   "parcels",
		Mappings:       parcelMappings(),
		BatchSize:      1,
		ErrorThreshold: 0,
	})

	assert.Equal(t, StatusFailed, snap.Status)
	assert.Empty(t, w.writtenRows())
}

func TestConvertEmptyFile(t *testing.T) {
	file := createTempFile(t, "parcels.csv", "parcel_id,owner,assessed_value\n")
	w := newFakeWriter()
	e, _ := newTestEngine(t, w)

	snap := runConversion(t, e, file, Config{
		SourceFormat:   "csv",
		TargetSchema:   "parcels",
		Mappings:       parcelMappings(),
		ErrorThreshold: 0.10,
	})

	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Zero(t, snap.Total)
	assert.FileExists(t, snap.ReportPath)
}

func TestConvertBatchSizeDoesNotChangeCounts(t *testing.T) {
	content := parcelCSV(
		"1001,A,100", "1002,B,-1", "1003,C,100", "1004,D,100", "1005,E,100",
	)
	cfg := Config{
		SourceFormat:   "csv",
		TargetSchema:   "parcels",
		Mappings:       parcelMappings(),
		ErrorThreshold: 1.0,
	}

	for _, batchSize := range []int{1, 2, 100} {
		file := createTempFile(t, "parcels.csv", content)
		w := newFakeWriter()
		e, _ := newTestEngine(t, w)
		cfg.ID = ""
		cfg.BatchSize = batchSize

		snap := runConversion(t, e, file, cfg)
		assert.Equal(t, StatusPartial, snap.Status, "batch size %d", batchSize)
		assert.Equal(t, 5, snap.Total, "batch size %d", batchSize)
		assert.Equal(t, 4, snap.Success, "batch size %d", batchSize)
		assert.Len(t, w.writtenRows(), 4, "batch size %d", batchSize)
	}
}

func TestConvertValidateOnly(t *testing.T) {
	file := createTempFile(t, "parcels.csv", parcelCSV("1001,A,100", "1002,B,-1"))
	w := newFakeWriter()
	w.missing = true // validate-only must not touch the target at all
	e, _ := newTestEngine(t, w)

	snap := runConversion(t, e, file, Config{
		SourceFormat:   "csv",
		TargetSchema:   "parcels",
		Mappings:       parcelMappings(),
		ValidateOnly:   true,
		ErrorThreshold: 1.0,
	})

	// rows are still read and validated, they just never reach the
	// target, and findings never downgrade the run
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, 1, snap.Success)
	assert.Equal(t, 1, snap.Errors)
	assert.Zero(t, w.writeCalls)
}

func TestConvertValidateOnlyIgnoresBreaker(t *testing.T) {
	file := createTempFile(t, "parcels.csv", parcelCSV("1001,A,-1", "1002,B,-2", "1003,C,100"))
	w := newFakeWriter()
	w.missing = true
	e, _ := newTestEngine(t, w)

	snap := runConversion(t, e, file, Config{
		SourceFormat:   "csv",
		TargetSchema:   "parcels",
		Mappings:       parcelMappings(),
		ValidateOnly:   true,
		BatchSize:      1,
		ErrorThreshold: 0,
	})

	// every row is surveyed even past the threshold that would abort a
	// real run
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 1, snap.Success)
	assert.Equal(t, 2, snap.Errors)
	assert.Zero(t, w.writeCalls)
}

func TestConvertMissingTableFails(t *testing.T) {
	file := createTempFile(t, "parcels.csv", parcelCSV("1001,A,100"))
	w := newFakeWriter()
	w.missing = true
	e, _ := newTestEngine(t, w)

	snap := runConversion(t, e, file, Config{
		SourceFormat:   "csv",
		TargetSchema:   "parcels",
		Mappings:       parcelMappings(),
		ErrorThreshold: 0.10,
	})

	assert.Equal(t, StatusFailed, snap.Status)
	assert.Contains(t, snap.Message, "does not exist")
}

func TestConvertCreatesMissingTable(t *testing.T) {
	file := createTempFile(t, "parcels.csv", parcelCSV("1001,A,100"))
	w := newFakeWriter()
	w.missing = true
	e, _ := newTestEngine(t, w)

	snap := runConversion(t, e, file, Config{
		SourceFormat:         "csv",
		TargetSchema:         "parcels",
		Mappings:             parcelMappings(),
		CreateMissingColumns: true,
		ErrorThreshold:       0.10,
	})

	assert.Equal(t, StatusCompleted, snap.Status)
	require.NotNil(t, w.created)
	assert.Equal(t, "parcels", w.created.Name)
	require.Len(t, w.created.Columns, 3)
	assert.Equal(t, "parcel_id", w.created.Columns[0].Name)
	assert.False(t, w.created.Columns[0].Nullable) // required mapping
	assert.True(t, w.created.Columns[1].Nullable)
	assert.Len(t, w.writtenRows(), 1)
}

func TestConvertWriteFailureTurnsRowsIntoErrors(t *testing.T) {
	file := createTempFile(t, "parcels.csv", parcelCSV("1001,A,100", "1002,B,100"))
	w := newFakeWriter()
	w.writeErr = errors.New("disk full")
	e, _ := newTestEngine(t, w)

	snap := runConversion(t, e, file, Config{
		SourceFormat:   "csv",
		TargetSchema:   "parcels",
		Mappings:       parcelMappings(),
		ErrorThreshold: 1.0,
	})

	assert.Equal(t, StatusPartial, snap.Status)
	assert.Equal(t, 2, snap.Errors)
	assert.Zero(t, snap.Success)
	require.NotEmpty(t, snap.ErrorIssues)
	assert.Equal(t, schema.IssueWriteFailed, snap.ErrorIssues[0].Kind)
	assert.Equal(t, -1, snap.ErrorIssues[0].Row)
}

// gateWriter blocks inside WriteBatch until released so tests can race
// a Cancel call against a running conversion deterministically.
type gateWriter struct {
	*fakeWriter
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (w *gateWriter) WriteBatch(ctx context.Context, table string, cols []string, rows schema.Batch, mode writer.TransactionMode) (int, error) {
	w.once.Do(func() {
		close(w.entered)
		<-w.release
	})
	return w.fakeWriter.WriteBatch(ctx, table, cols, rows, mode)
}

func TestConvertCancellation(t *testing.T) {
	file := createTempFile(t, "parcels.csv", parcelCSV("1001,A,100", "1002,B,100", "1003,C,100"))
	w := &gateWriter{
		fakeWriter: newFakeWriter(),
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	e, _ := newTestEngine(t, w)

	id, err := e.Start(file, Config{
		SourceFormat:   "csv",
		TargetSchema:   "parcels",
		Mappings:       parcelMappings(),
		BatchSize:      1,
		ErrorThreshold: 0.10,
	})
	require.NoError(t, err)

	<-w.entered
	assert.True(t, e.Cancel(id))
	close(w.release)
	e.Wait(id)

	snap, ok := e.Status(id)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "cancelled", snap.Message)
	// the first batch was already written when the flag was observed
	assert.Len(t, w.writtenRows(), 1)
	assert.False(t, e.Cancel(id))
}

func TestStartRejectsBadConfigs(t *testing.T) {
	file := createTempFile(t, "parcels.csv", parcelCSV("1001,A,100"))
	e, _ := newTestEngine(t, newFakeWriter())

	_, err := e.Start(file, Config{TargetSchema: "parcels", Mappings: parcelMappings()})
	assert.ErrorContains(t, err, "source_format")

	_, err = e.Start(file, Config{SourceFormat: "csv", TargetSchema: "parcels"})
	assert.ErrorContains(t, err, "mappings")

	_, err = e.Start(file, Config{SourceFormat: "cobol", TargetSchema: "parcels", Mappings: parcelMappings()})
	assert.ErrorContains(t, err, "no handler")

	_, err = e.Start(filepath.Join(t.TempDir(), "absent.csv"),
		Config{SourceFormat: "csv", TargetSchema: "parcels", Mappings: parcelMappings()})
	assert.ErrorContains(t, err, "unreadable")
}

func TestStatusUnknownConversion(t *testing.T) {
	e, _ := newTestEngine(t, newFakeWriter())
	_, ok := e.Status("nope")
	assert.False(t, ok)
	assert.False(t, e.Cancel("nope"))
}

func TestAnalyze(t *testing.T) {
	file := createTempFile(t, "parcels.csv", parcelCSV("1001,SMITH JOHN,125000.50", "1002,DOE JANE,98000"))
	e, _ := newTestEngine(t, newFakeWriter())

	res, err := e.Analyze(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, "csv", res.DetectedFormat)
	assert.Equal(t, "parcels.csv", res.FileName)
	require.NotNil(t, res.Schema)
	assert.Len(t, res.Schema.Columns, 3)
	assert.Len(t, res.SampleRows, 2)
	assert.Equal(t, 2, res.EstimatedRows)
}

func TestSuggestMappingsEndToEnd(t *testing.T) {
	file := createTempFile(t, "parcels.csv", parcelCSV("1001,SMITH JOHN,125000.50"))
	e, _ := newTestEngine(t, newFakeWriter())

	mappings, err := e.SuggestMappings(context.Background(), file, "parcels", 0)
	require.NoError(t, err)
	require.NotEmpty(t, mappings)

	found := false
	for _, mp := range mappings {
		if mp.SourceColumn == "parcel_id" {
			found = true
			assert.Equal(t, "parcel_id", mp.TargetColumn)
			assert.True(t, mp.Required)
		}
	}
	assert.True(t, found)
}
