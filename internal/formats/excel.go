package formats

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/parcelworks/legacyconv/internal/schema"
	"github.com/xuri/excelize/v2"
)

// Excel reads xlsx workbooks through excelize's row streamer. Worksheet,
// header row position, and leading skip rows come from custom settings.
type Excel struct {
	settings map[string]interface{}

	cached *schema.SourceSchema
	path   string
}

// NewExcel builds the handler. Settings: "sheet" (default first sheet),
// "header_row" (1-based, default 1), "skip_rows" (default 0).
func NewExcel(settings map[string]interface{}) *Excel {
	return &Excel{settings: settings}
}

func (h *Excel) Name() string { return FormatExcel }

func (h *Excel) CanHandle(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".xlsx" || ext == ".xls" || ext == ".xlsm"
}

// openWorkbook rejects legacy .xls up front; excelize reads only the
// OOXML container formats.
func openWorkbook(path string) (*excelize.File, error) {
	if strings.EqualFold(filepath.Ext(path), ".xls") {
		return nil, fmt.Errorf("legacy .xls workbook %s is not supported, save it as .xlsx first", path)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	return f, nil
}

func (h *Excel) sheetName(f *excelize.File) string {
	if name := settingString(h.settings, "sheet", ""); name != "" {
		return name
	}
	return f.GetSheetName(0)
}

func (h *Excel) ReadSchema(path string) (*schema.SourceSchema, error) {
	if h.cached != nil && h.path == path {
		return h.cached, nil
	}

	f, err := openWorkbook(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Debug("Failed to close workbook", "path", path, "error", err)
		}
	}()

	sheet := h.sheetName(f)
	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	defer rows.Close()

	skip := settingInt(h.settings, "skip_rows", 0)
	headerRow := settingInt(h.settings, "header_row", 1)

	var header []string
	samples := [][]string{}
	line := 0
	for rows.Next() && len(samples) < schemaSampleRows {
		line++
		record, err := rows.Columns()
		if err != nil {
			log.Debug("Skipping unreadable row", "sheet", sheet, "row", line, "error", err)
			continue
		}
		if line <= skip {
			continue
		}
		if header == nil {
			if line == skip+headerRow {
				header = record
			}
			continue
		}
		samples = append(samples, record)
	}
	if header == nil {
		h.cached = &schema.SourceSchema{Format: FormatExcel, Columns: []schema.Column{}}
		h.path = path
		return h.cached, nil
	}

	columns := make([]schema.Column, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		var all, few []string
		maxLen, empty := 0, false
		for _, record := range samples {
			v := ""
			if i < len(record) {
				v = record[i]
			}
			all = append(all, v)
			if strings.TrimSpace(v) == "" {
				empty = true
				continue
			}
			if len(v) > maxLen {
				maxLen = len(v)
			}
			if len(few) < 5 {
				few = append(few, v)
			}
		}
		columns[i] = schema.Column{
			Name:         name,
			Type:         schema.InferType(all),
			Nullable:     empty,
			Length:       maxLen,
			SampleValues: few,
		}
	}

	h.cached = &schema.SourceSchema{Format: FormatExcel, Columns: columns}
	h.path = path
	return h.cached, nil
}

func (h *Excel) ReadData(path string, batchSize int) (BatchReader, error) {
	src, err := h.ReadSchema(path)
	if err != nil {
		return nil, err
	}

	f, err := openWorkbook(path)
	if err != nil {
		return nil, err
	}
	sheet := h.sheetName(f)
	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}

	// Position the stream on the first data row.
	skipTo := settingInt(h.settings, "skip_rows", 0) + settingInt(h.settings, "header_row", 1)
	line := 0
	for line < skipTo && rows.Next() {
		line++
		if _, err := rows.Columns(); err != nil {
			log.Debug("Skipping unreadable row", "sheet", sheet, "row", line, "error", err)
		}
	}

	return &excelReader{
		file:      f,
		rows:      rows,
		columns:   src.Names(),
		batchSize: batchSize,
	}, nil
}

// EstimatedRows counts non-blank data rows in the worksheet.
func (h *Excel) EstimatedRows(path string) (int, error) {
	f, err := openWorkbook(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sheet := h.sheetName(f)
	rows, err := f.Rows(sheet)
	if err != nil {
		return 0, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	defer rows.Close()

	skipTo := settingInt(h.settings, "skip_rows", 0) + settingInt(h.settings, "header_row", 1)
	line, count := 0, 0
	for rows.Next() {
		line++
		record, err := rows.Columns()
		if err != nil || line <= skipTo {
			continue
		}
		for _, v := range record {
			if strings.TrimSpace(v) != "" {
				count++
				break
			}
		}
	}
	return count, nil
}

func (h *Excel) ValidateMapping(path string, mappings []schema.ColumnMapping) ([]schema.ValidationIssue, error) {
	src, err := h.ReadSchema(path)
	if err != nil {
		return nil, err
	}
	return validateMappingCommon(src, mappings), nil
}

type excelReader struct {
	file      *excelize.File
	rows      *excelize.Rows
	columns   []string
	batchSize int
	done      bool
}

func (r *excelReader) Next() (schema.Batch, error) {
	if r.done {
		return nil, io.EOF
	}

	batch := make(schema.Batch, 0, r.batchSize)
	for len(batch) < r.batchSize {
		if !r.rows.Next() {
			r.done = true
			break
		}
		record, err := r.rows.Columns()
		if err != nil {
			log.Debug("Unreadable row", "error", err)
			continue
		}
		// Workbooks often trail with fully blank rows.
		blank := true
		for _, v := range record {
			if strings.TrimSpace(v) != "" {
				blank = false
				break
			}
		}
		if blank {
			continue
		}
		row := make(schema.Row, len(r.columns))
		for i, name := range r.columns {
			if i < len(record) && strings.TrimSpace(record[i]) != "" {
				row[name] = record[i]
			} else {
				row[name] = nil
			}
		}
		batch = append(batch, row)
	}

	if len(batch) == 0 && r.done {
		return nil, io.EOF
	}
	return batch, nil
}

func (r *excelReader) Close() error {
	r.rows.Close()
	return r.file.Close()
}
