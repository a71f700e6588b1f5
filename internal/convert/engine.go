package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/parcelworks/legacyconv/internal/formats"
	"github.com/parcelworks/legacyconv/internal/mapper"
	"github.com/parcelworks/legacyconv/internal/schema"
	"github.com/parcelworks/legacyconv/internal/writer"
)

// analyzeSampleRows caps the row preview returned by Analyze.
const analyzeSampleRows = 10

// AnalyzeResult is the file preview surface: detection scores, the
// inferred schema, and a short row sample.
type AnalyzeResult struct {
	FileName       string               `json:"file_name"`
	FileSize       int64                `json:"file_size"`
	DetectedFormat string               `json:"detected_format"`
	FormatScores   map[string]float64   `json:"format_scores"`
	EstimatedRows  int                  `json:"estimated_rows"`
	Schema         *schema.SourceSchema `json:"schema"`
	SampleRows     schema.Batch         `json:"sample_rows"`
}

// Engine hosts concurrent conversions. Each conversion runs on exactly
// one worker goroutine; status calls read snapshots without blocking
// the worker.
type Engine struct {
	registry *formats.Registry
	detector *formats.Detector
	mapper   *mapper.Mapper
	writer   writer.TargetWriter
	store    *Store

	runs sync.Map // conversion id -> *run
}

type run struct {
	result *Result
	done   chan struct{}
}

// NewEngine wires the engine's collaborators together.
func NewEngine(registry *formats.Registry, detector *formats.Detector, mp *mapper.Mapper, w writer.TargetWriter, store *Store) *Engine {
	return &Engine{
		registry: registry,
		detector: detector,
		mapper:   mp,
		writer:   w,
		store:    store,
	}
}

// DetectFormat scores candidate formats for the file.
func (e *Engine) DetectFormat(ctx context.Context, path string) map[string]float64 {
	return e.detector.Detect(ctx, path)
}

// Analyze detects the format, infers the schema, and samples up to ten
// rows from the file.
func (e *Engine) Analyze(ctx context.Context, path string) (*AnalyzeResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	scores := e.detector.Detect(ctx, path)
	format := bestFormat(scores)

	result := &AnalyzeResult{
		FileName:       filepath.Base(path),
		FileSize:       info.Size(),
		DetectedFormat: format,
		FormatScores:   scores,
	}

	factory, ok := e.registry.Lookup(format)
	if !ok {
		// Detection can land on json/binary/unknown, which have no reader.
		return result, nil
	}
	handler := factory(nil)

	src, err := handler.ReadSchema(path)
	if err != nil {
		return nil, fmt.Errorf("failed to infer schema: %w", err)
	}
	result.Schema = src

	if n, err := handler.EstimatedRows(path); err == nil {
		result.EstimatedRows = n
	}

	reader, err := handler.ReadData(path, analyzeSampleRows)
	if err != nil {
		return nil, fmt.Errorf("failed to read sample rows: %w", err)
	}
	defer reader.Close()

	batch, err := reader.Next()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read sample rows: %w", err)
	}
	if len(batch) > analyzeSampleRows {
		batch = batch[:analyzeSampleRows]
	}
	result.SampleRows = batch
	return result, nil
}

// SuggestMappings infers the file's schema and proposes mappings to
// the named target table.
func (e *Engine) SuggestMappings(ctx context.Context, path, targetTable string, assistanceLevel int) ([]schema.ColumnMapping, error) {
	scores := e.detector.Detect(ctx, path)
	format := bestFormat(scores)

	factory, ok := e.registry.Lookup(format)
	if !ok {
		return nil, fmt.Errorf("no handler for detected format %q", format)
	}
	src, err := factory(nil).ReadSchema(path)
	if err != nil {
		return nil, fmt.Errorf("failed to infer schema: %w", err)
	}

	dst, err := e.writer.GetTargetSchema(ctx, targetTable)
	if err != nil {
		return nil, fmt.Errorf("failed to describe target %s: %w", targetTable, err)
	}
	return e.mapper.Suggest(ctx, src, dst, assistanceLevel)
}

// Start validates the config, freezes it to storage, and launches the
// conversion worker. It returns the conversion id immediately.
func (e *Engine) Start(file string, cfg Config) (string, error) {
	cfg.ApplyDefaults()
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("invalid conversion config: %w", err)
	}
	if _, ok := e.registry.Lookup(cfg.SourceFormat); !ok {
		return "", fmt.Errorf("no handler for source format %q", cfg.SourceFormat)
	}
	if _, err := os.Stat(file); err != nil {
		return "", fmt.Errorf("source file unreadable: %w", err)
	}
	if err := e.store.SaveConfig(&cfg); err != nil {
		return "", err
	}

	res := newResult(cfg.ID)
	r := &run{result: res, done: make(chan struct{})}
	e.runs.Store(cfg.ID, r)

	go func() {
		defer close(r.done)
		e.work(file, cfg, res)
	}()
	return cfg.ID, nil
}

// Status returns a snapshot of the conversion's current state.
func (e *Engine) Status(id string) (Snapshot, bool) {
	v, ok := e.runs.Load(id)
	if !ok {
		return Snapshot{}, false
	}
	return v.(*run).result.Snapshot(), true
}

// Cancel flips the conversion's cooperative cancellation flag. The
// worker observes it at the next batch boundary.
func (e *Engine) Cancel(id string) bool {
	v, ok := e.runs.Load(id)
	if !ok {
		return false
	}
	return v.(*run).result.Cancel()
}

// Wait blocks until the conversion's worker exits. Mostly for tests
// and the CLI's foreground mode.
func (e *Engine) Wait(id string) {
	if v, ok := e.runs.Load(id); ok {
		<-v.(*run).done
	}
}

// StashSource keeps a copy of the conversion's source file with the
// rest of its persisted state.
func (e *Engine) StashSource(id, path string) (string, error) {
	return e.store.StashSource(id, path)
}

// ReportPath returns where the conversion's report was written.
func (e *Engine) ReportPath(id string) (string, bool) {
	v, ok := e.runs.Load(id)
	if !ok {
		return "", false
	}
	snap := v.(*run).result.Snapshot()
	return snap.ReportPath, snap.ReportPath != ""
}

// work is the conversion worker. It owns the Result until a terminal
// status is reached.
func (e *Engine) work(file string, cfg Config, res *Result) {
	ctx := context.Background()

	logger := log.Default()
	if logFile, err := e.store.OpenLog(cfg.ID); err == nil {
		defer logFile.Close()
		logger = log.New(io.MultiWriter(os.Stderr, logFile))
	}
	logger = logger.With("conversion", cfg.ID)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Conversion panicked", "panic", rec, "stack", string(debug.Stack()))
			res.Fail(fmt.Sprintf("internal error: %v", rec))
		}
		e.writeReport(file, cfg, res, logger)
	}()

	res.Begin()
	logger.Info("Conversion started", "file", file, "format", cfg.SourceFormat, "target", cfg.TargetSchema)

	factory, _ := e.registry.Lookup(cfg.SourceFormat)
	handler := factory(cfg.CustomSettings)

	// Mapping problems are warnings; they never stop the run.
	mappingIssues, err := handler.ValidateMapping(file, cfg.Mappings)
	if err != nil {
		logger.Error("Source file unreadable", "error", err)
		res.Fail(fmt.Sprintf("source error: %v", err))
		return
	}
	if len(mappingIssues) > 0 {
		logger.Warn("Mapping validation found issues", "count", len(mappingIssues))
		res.AddWarnings(mappingIssues)
	}

	if cfg.ValidateOnly {
		logger.Info("Validate-only run; skipping writes")
	} else if err := e.resolveTarget(ctx, &cfg, logger); err != nil {
		logger.Error("Target resolution failed", "error", err)
		res.Fail(err.Error())
		return
	}

	reader, err := handler.ReadData(file, cfg.BatchSize)
	if err != nil {
		logger.Error("Failed to open source stream", "error", err)
		res.Fail(fmt.Sprintf("source error: %v", err))
		return
	}
	defer reader.Close()

	checker := rowCheckerFor(e.writer, cfg.Mappings)
	targetCols := cfg.TargetColumns()
	processedRows := 0

	for {
		if res.Cancelled() {
			logger.Warn("Conversion cancelled")
			res.Fail("cancelled")
			return
		}

		batch, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Error("Source stream failed", "error", err)
			res.Fail(fmt.Sprintf("source error: %v", err))
			return
		}
		if len(batch) == 0 {
			continue
		}

		transformed := transformBatch(batch, cfg.Mappings, cfg.DateFormat)
		outcome := Validate(ctx, transformed, cfg.Mappings, processedRows, checker)
		processedRows += outcome.Processed
		res.ApplyOutcome(outcome)
		logger.Debug("Batch validated",
			"rows", outcome.Processed, "valid", outcome.Success, "errors", outcome.Errors)

		// Dry runs report issues without failing, so the breaker only
		// arms when rows are actually being written.
		if rate := res.ErrorRate(); !cfg.ValidateOnly && rate > cfg.ErrorThreshold {
			logger.Error("Error rate exceeded threshold", "rate", rate, "threshold", cfg.ErrorThreshold)
			res.Fail(fmt.Sprintf("error rate %.3f exceeded threshold %.3f", rate, cfg.ErrorThreshold))
			return
		}

		if !cfg.ValidateOnly && len(outcome.ValidData) > 0 {
			written, err := e.writer.WriteBatch(ctx, cfg.TargetSchema, targetCols, outcome.ValidData, cfg.TransactionMode)
			if err != nil {
				failed := len(outcome.ValidData) - written
				logger.Error("Batch write failed", "unwritten", failed, "error", err)
				res.RecordWriteFailure(failed, schema.ValidationIssue{
					Row:     -1,
					Kind:    schema.IssueWriteFailed,
					Message: fmt.Sprintf("%d rows not written: %v", failed, err),
				})
				if rate := res.ErrorRate(); rate > cfg.ErrorThreshold {
					res.Fail(fmt.Sprintf("error rate %.3f exceeded threshold %.3f after write failure", rate, cfg.ErrorThreshold))
					return
				}
			}
		}
	}

	if cfg.ValidateOnly {
		res.Complete()
	} else {
		res.Finish()
	}
	snap := res.Snapshot()
	logger.Info("Conversion finished",
		"status", snap.Status, "total", snap.Total, "success", snap.Success, "errors", snap.Errors)
}

// resolveTarget confirms the target table exists, creating it from the
// mapping's declared types when create_missing_columns is set.
func (e *Engine) resolveTarget(ctx context.Context, cfg *Config, logger *log.Logger) error {
	_, err := e.writer.GetTargetSchema(ctx, cfg.TargetSchema)
	if err == nil {
		return nil
	}
	if !errors.Is(err, writer.ErrTableNotFound) {
		return fmt.Errorf("failed to describe target %s: %w", cfg.TargetSchema, err)
	}
	if !cfg.CreateMissingColumns {
		return fmt.Errorf("target table %s does not exist", cfg.TargetSchema)
	}

	logger.Info("Creating missing target table", "table", cfg.TargetSchema)
	target := targetFromMappings(cfg)
	if err := e.writer.CreateTable(ctx, target); err != nil {
		return err
	}
	return nil
}

// targetFromMappings synthesizes a table definition from the mapping's
// declared types. Required columns become NOT NULL.
func targetFromMappings(cfg *Config) *schema.TargetSchema {
	target := &schema.TargetSchema{Name: cfg.TargetSchema}
	seen := map[string]bool{}
	for _, mp := range cfg.Mappings {
		if seen[mp.TargetColumn] {
			continue
		}
		seen[mp.TargetColumn] = true
		target.Columns = append(target.Columns, schema.TargetColumn{
			Name:     mp.TargetColumn,
			SQLType:  genericSQLType(mp.DataType),
			Nullable: !mp.Required,
		})
	}
	return target
}

// genericSQLType maps declared types to DDL accepted by every
// supported driver.
func genericSQLType(t schema.DataType) string {
	switch t {
	case schema.TypeInteger:
		return "INTEGER"
	case schema.TypeFloat:
		return "DOUBLE PRECISION"
	case schema.TypeDate:
		return "DATE"
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeText:
		return "TEXT"
	default:
		return "VARCHAR(255)"
	}
}

// rowCheckerFor returns the writer as a RowChecker only when some
// mapping actually carries a sql_check rule.
func rowCheckerFor(w writer.TargetWriter, mappings []schema.ColumnMapping) RowChecker {
	for _, mp := range mappings {
		for _, rule := range mp.Rules {
			if rule.Type == schema.RuleSQLCheck {
				return w
			}
		}
	}
	return nil
}

func (e *Engine) writeReport(file string, cfg Config, res *Result, logger *log.Logger) {
	path := e.store.ReportPath(cfg.ID)
	if err := WriteReport(path, &cfg, res.Snapshot(), file); err != nil {
		logger.Error("Failed to write report", "error", err)
	} else {
		res.SetReportPath(path)
		logger.Info("Report written", "path", path)
	}
	if err := e.store.SaveSnapshot(res.Snapshot()); err != nil {
		logger.Error("Failed to persist result", "error", err)
	}
}

func bestFormat(scores map[string]float64) string {
	best, bestScore := formats.FormatUnknown, -1.0
	for format, score := range scores {
		if score > bestScore || (score == bestScore && format < best) {
			best, bestScore = format, score
		}
	}
	return best
}
