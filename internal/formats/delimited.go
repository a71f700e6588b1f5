package formats

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/parcelworks/legacyconv/internal/schema"
)

// schemaSampleRows is how many data rows feed type inference.
const schemaSampleRows = 100

// Delimited reads csv, pipe, and tab separated files. Quote and escape
// handling follows encoding/csv with lazy quotes so malformed rows still
// come through and fail validation instead of aborting the stream.
type Delimited struct {
	name     string
	sep      rune
	settings map[string]interface{}

	cached *schema.SourceSchema
	path   string
}

// NewDelimited builds a handler for one separator. Settings: "delimiter"
// (single char override), "has_header" (default true).
func NewDelimited(name string, sep rune, settings map[string]interface{}) *Delimited {
	if d := settingString(settings, "delimiter", ""); d != "" {
		sep = rune(d[0])
	}
	return &Delimited{name: name, sep: sep, settings: settings}
}

func (d *Delimited) Name() string { return d.name }

func (d *Delimited) CanHandle(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	switch d.name {
	case FormatCSV:
		return ext == ".csv" || ext == ".txt"
	case FormatPipe, FormatTab:
		return ext == ".txt" || ext == ".dat" || ext == ".psv" || ext == ".tsv"
	}
	return false
}

func (d *Delimited) newReader(f io.Reader) *csv.Reader {
	r := csv.NewReader(f)
	r.Comma = d.sep
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = false
	return r
}

func (d *Delimited) ReadSchema(path string) (*schema.SourceSchema, error) {
	if d.cached != nil && d.path == path {
		return d.cached, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := d.newReader(f)
	hasHeader := settingBool(d.settings, "has_header", true)

	var header []string
	samples := [][]string{}
	for len(samples) < schemaSampleRows {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Debug("Skipping malformed sample row", "path", path, "error", err)
			continue
		}
		if header == nil {
			if hasHeader {
				header = record
				continue
			}
			header = make([]string, len(record))
			for i := range record {
				header[i] = fmt.Sprintf("column_%d", i+1)
			}
		}
		samples = append(samples, record)
	}
	if header == nil {
		return &schema.SourceSchema{Format: d.name, Columns: []schema.Column{}}, nil
	}

	columns := make([]schema.Column, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		values := []string{}
		maxLen, empty := 0, false
		for _, row := range samples {
			if i >= len(row) {
				empty = true
				continue
			}
			v := row[i]
			if strings.TrimSpace(v) == "" {
				empty = true
			}
			if len(v) > maxLen {
				maxLen = len(v)
			}
			if len(values) < 5 && strings.TrimSpace(v) != "" {
				values = append(values, v)
			}
		}
		allValues := make([]string, 0, len(samples))
		for _, row := range samples {
			if i < len(row) {
				allValues = append(allValues, row[i])
			}
		}
		columns[i] = schema.Column{
			Name:         name,
			Type:         schema.InferType(allValues),
			Nullable:     empty,
			Length:       maxLen,
			SampleValues: values,
		}
	}

	d.cached = &schema.SourceSchema{Format: d.name, Columns: columns}
	d.path = path
	return d.cached, nil
}

func (d *Delimited) ReadData(path string, batchSize int) (BatchReader, error) {
	src, err := d.ReadSchema(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	r := d.newReader(f)
	if settingBool(d.settings, "has_header", true) {
		if _, err := r.Read(); err != nil && !errors.Is(err, io.EOF) {
			log.Debug("Could not skip header", "path", path, "error", err)
		}
	}

	return &delimitedReader{
		file:      f,
		reader:    r,
		columns:   src.Names(),
		batchSize: batchSize,
	}, nil
}

// EstimatedRows counts records the way the data reader consumes them,
// excluding the header.
func (d *Delimited) EstimatedRows(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := d.newReader(f)
	count := 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && record == nil {
			break
		}
		count++
	}
	if settingBool(d.settings, "has_header", true) && count > 0 {
		count--
	}
	return count, nil
}

func (d *Delimited) ValidateMapping(path string, mappings []schema.ColumnMapping) ([]schema.ValidationIssue, error) {
	src, err := d.ReadSchema(path)
	if err != nil {
		return nil, err
	}
	return validateMappingCommon(src, mappings), nil
}

type delimitedReader struct {
	file      *os.File
	reader    *csv.Reader
	columns   []string
	batchSize int
	done      bool
}

func (r *delimitedReader) Next() (schema.Batch, error) {
	if r.done {
		return nil, io.EOF
	}

	batch := make(schema.Batch, 0, r.batchSize)
	for len(batch) < r.batchSize {
		record, err := r.reader.Read()
		if errors.Is(err, io.EOF) {
			r.done = true
			break
		}
		if err != nil {
			if record == nil {
				// No fields parsed at all: the stream itself is failing,
				// not one row. Stop instead of retrying the same error.
				log.Warn("Source stream failed; truncating", "error", err)
				r.done = true
				break
			}
			// Malformed row: keep whatever fields parsed so the validator
			// can flag it against required columns.
			log.Debug("Malformed row", "error", err)
		}
		row := make(schema.Row, len(r.columns))
		for i, name := range r.columns {
			if i < len(record) {
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

func (r *delimitedReader) Close() error { return r.file.Close() }
