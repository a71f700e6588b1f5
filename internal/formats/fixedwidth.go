package formats

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/charmbracelet/log"
	"github.com/parcelworks/legacyconv/internal/schema"
)

const (
	fixedWidthSampleLines = 30
	maxFixedWidthColumns  = 30
)

// fixedSpec is the cached column layout inferred for one file.
type fixedSpec struct {
	columns []schema.Column
	header  bool // first line is a header and must be skipped
}

// FixedWidth handles positional text files with no delimiters. The file has
// no structural metadata, so column boundaries are inferred from a sample:
// header token positions, character-class transitions, then space-alignment
// signals, in that order.
type FixedWidth struct {
	settings map[string]interface{}

	spec *fixedSpec
	path string
}

// NewFixedWidth builds the handler. Settings: "encoding" is accepted but
// only utf-8/ascii files are expected here.
func NewFixedWidth(settings map[string]interface{}) *FixedWidth {
	return &FixedWidth{settings: settings}
}

func (h *FixedWidth) Name() string { return FormatFixedWidth }

func (h *FixedWidth) CanHandle(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".txt" || ext == ".dat" || ext == ".prn" || ext == ""
}

func (h *FixedWidth) ReadSchema(path string) (*schema.SourceSchema, error) {
	spec, err := h.inferSpec(path)
	if err != nil {
		return nil, err
	}
	return &schema.SourceSchema{Format: FormatFixedWidth, Columns: spec.columns}, nil
}

func (h *FixedWidth) inferSpec(path string) (*fixedSpec, error) {
	if h.spec != nil && h.path == path {
		return h.spec, nil
	}

	lines, err := sampleLines(path, fixedWidthSampleLines)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		h.spec = &fixedSpec{columns: []schema.Column{}}
		h.path = path
		return h.spec, nil
	}

	width := 0
	for _, line := range lines {
		if len(line) > width {
			width = len(line)
		}
	}
	padded := make([]string, len(lines))
	for i, line := range lines {
		padded[i] = line + strings.Repeat(" ", width-len(line))
	}

	var names []string
	var boundaries []int
	hasHeader := false

	if tokens, positions, ok := parseHeaderLine(padded); ok {
		hasHeader = true
		names = tokens
		boundaries = positions
		log.Debug("Fixed-width header detected", "path", path, "columns", len(tokens))
	} else {
		boundaries = typeChangeBoundaries(padded, width)
		if len(boundaries) == 0 {
			boundaries = spaceAlignmentBoundaries(padded, width)
		}
		if len(boundaries) == 0 {
			// Last resort: split the first line on runs of two or more
			// spaces, the way generic fixed-width readers guess.
			boundaries = multiSpaceBoundaries(padded[0])
		}
	}

	if len(boundaries) == 0 || boundaries[0] != 0 {
		boundaries = append([]int{0}, boundaries...)
	}
	boundaries = capBoundaries(padded, boundaries, maxFixedWidthColumns)

	dataLines := padded
	if hasHeader {
		dataLines = padded[1:]
	}

	columns := make([]schema.Column, 0, len(boundaries))
	for i, start := range boundaries {
		end := width
		if i+1 < len(boundaries) {
			end = boundaries[i+1]
		}
		name := fmt.Sprintf("column_%d", i+1)
		if hasHeader && i < len(names) {
			name = names[i]
		}

		values := make([]string, 0, len(dataLines))
		samples := []string{}
		for _, line := range dataLines {
			v := strings.TrimSpace(slice(line, start, end))
			values = append(values, v)
			if v != "" && len(samples) < 5 {
				samples = append(samples, v)
			}
		}
		if len(samples) == 0 && !hasHeader {
			// Padding between fields shows up as an all-blank column.
			continue
		}
		columns = append(columns, schema.Column{
			Name:         name,
			Type:         schema.InferType(values),
			Nullable:     true,
			Start:        start,
			End:          end,
			Length:       end - start,
			SampleValues: samples,
		})
	}

	h.spec = &fixedSpec{columns: columns, header: hasHeader}
	h.path = path
	return h.spec, nil
}

func (h *FixedWidth) ReadData(path string, batchSize int) (BatchReader, error) {
	spec, err := h.inferSpec(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if spec.header && scanner.Scan() {
		// header consumed
	}

	return &fixedWidthReader{
		file:      f,
		scanner:   scanner,
		spec:      spec,
		batchSize: batchSize,
	}, nil
}

// EstimatedRows counts non-blank lines, excluding a detected header.
func (h *FixedWidth) EstimatedRows(path string) (int, error) {
	spec, err := h.inferSpec(path)
	if err != nil {
		return 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	count := 0
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan %s: %w", path, err)
	}
	if spec.header && count > 0 {
		count--
	}
	return count, nil
}

func (h *FixedWidth) ValidateMapping(path string, mappings []schema.ColumnMapping) ([]schema.ValidationIssue, error) {
	src, err := h.ReadSchema(path)
	if err != nil {
		return nil, err
	}
	return validateMappingCommon(src, mappings), nil
}

type fixedWidthReader struct {
	file      *os.File
	scanner   *bufio.Scanner
	spec      *fixedSpec
	batchSize int
	done      bool
}

func (r *fixedWidthReader) Next() (schema.Batch, error) {
	if r.done {
		return nil, io.EOF
	}

	batch := make(schema.Batch, 0, r.batchSize)
	for len(batch) < r.batchSize {
		if !r.scanner.Scan() {
			r.done = true
			if err := r.scanner.Err(); err != nil {
				log.Warn("Fixed-width read error; truncating stream", "error", err)
			}
			break
		}
		line := r.scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		row := make(schema.Row, len(r.spec.columns))
		for _, col := range r.spec.columns {
			raw := strings.TrimSpace(slice(line, col.Start, col.End))
			if raw == "" {
				row[col.Name] = nil
				continue
			}
			if v, err := schema.Coerce(raw, col.Type, ""); err == nil {
				row[col.Name] = v
			} else {
				row[col.Name] = raw
			}
		}
		batch = append(batch, row)
	}

	if len(batch) == 0 && r.done {
		return nil, io.EOF
	}
	return batch, nil
}

func (r *fixedWidthReader) Close() error { return r.file.Close() }

// Boundary inference helpers.

// parseHeaderLine classifies the first sample line as a header when it has
// noticeably more spaces and alphabetic characters than the mean data line
// and noticeably fewer digits.
func parseHeaderLine(lines []string) (names []string, positions []int, ok bool) {
	if len(lines) < 2 {
		return nil, nil, false
	}
	first := lines[0]
	fs, fa, fd := charStats(first)

	var ms, ma, md float64
	for _, line := range lines[1:] {
		s, a, d := charStats(line)
		ms += float64(s)
		ma += float64(a)
		md += float64(d)
	}
	n := float64(len(lines) - 1)
	ms, ma, md = ms/n, ma/n, md/n

	if float64(fs) <= ms*1.2 || float64(fa) <= ma*1.2 || float64(fd) >= md*0.5 {
		return nil, nil, false
	}

	trimmed := strings.TrimRight(first, " ")
	idx := 0
	for idx < len(trimmed) {
		if trimmed[idx] == ' ' {
			idx++
			continue
		}
		start := idx
		for idx < len(trimmed) {
			if trimmed[idx] == ' ' {
				// Only runs of two or more spaces separate header tokens.
				run := 0
				for j := idx; j < len(trimmed) && trimmed[j] == ' '; j++ {
					run++
				}
				if run >= 2 {
					break
				}
			}
			idx++
		}
		names = append(names, strings.TrimSpace(trimmed[start:idx]))
		positions = append(positions, start)
	}
	if len(names) < 2 {
		return nil, nil, false
	}
	return names, positions, true
}

func charStats(s string) (spaces, alphas, digits int) {
	for _, r := range s {
		switch {
		case r == ' ':
			spaces++
		case unicode.IsLetter(r):
			alphas++
		case unicode.IsDigit(r):
			digits++
		}
	}
	return
}

// charClass buckets bytes for boundary inference. Date and number
// punctuation counts as digit so values like 2021-01-15 or 1,250.00 read
// as one run instead of sprouting boundaries at every separator.
func charClass(b byte) int {
	switch {
	case b == ' ':
		return 0
	case b >= '0' && b <= '9', b == '-', b == '/', b == '.', b == ',':
		return 1
	case (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z'):
		return 2
	default:
		return 3
	}
}

// typeChangeBoundaries counts character-class transitions at each column
// index across the sample; local maxima above 30% of the peak become
// candidate boundaries.
func typeChangeBoundaries(lines []string, width int) []int {
	if width < 2 {
		return nil
	}
	transitions := make([]int, width)
	for _, line := range lines {
		for i := 1; i < len(line); i++ {
			if charClass(line[i-1]) != charClass(line[i]) {
				transitions[i]++
			}
		}
	}

	max := 0
	for _, t := range transitions {
		if t > max {
			max = t
		}
	}
	if max == 0 {
		return nil
	}

	threshold := float64(max) * 0.3
	var boundaries []int
	for i := 1; i < width-1; i++ {
		t := transitions[i]
		if float64(t) <= threshold {
			continue
		}
		if t >= transitions[i-1] && t >= transitions[i+1] {
			boundaries = append(boundaries, i)
		}
	}
	return dedupeClose(boundaries)
}

// spaceAlignmentBoundaries finds separator regions where most rows hold a
// space; the column where space density drops again starts the next field.
func spaceAlignmentBoundaries(lines []string, width int) []int {
	if len(lines) == 0 {
		return nil
	}
	density := make([]float64, width)
	for col := 0; col < width; col++ {
		spaces := 0
		for _, line := range lines {
			if col < len(line) && line[col] == ' ' {
				spaces++
			}
		}
		density[col] = float64(spaces) / float64(len(lines))
	}

	var boundaries []int
	inSeparator := false
	for col := 0; col < width; col++ {
		if density[col] > 0.7 {
			inSeparator = true
		} else if inSeparator && density[col] < 0.3 {
			boundaries = append(boundaries, col)
			inSeparator = false
		}
	}
	return boundaries
}

func multiSpaceBoundaries(line string) []int {
	var boundaries []int
	idx := 0
	for idx < len(line) {
		run := 0
		for idx+run < len(line) && line[idx+run] == ' ' {
			run++
		}
		if run >= 2 && idx+run < len(line) {
			boundaries = append(boundaries, idx+run)
		}
		if run > 0 {
			idx += run
		} else {
			idx++
		}
	}
	return boundaries
}

// capBoundaries keeps the strongest transitions when inference found more
// columns than the cap.
func capBoundaries(lines []string, boundaries []int, limit int) []int {
	if len(boundaries) <= limit {
		return boundaries
	}

	transitions := make(map[int]int, len(boundaries))
	for _, b := range boundaries {
		for _, line := range lines {
			if b > 0 && b < len(line) && charClass(line[b-1]) != charClass(line[b]) {
				transitions[b]++
			}
		}
	}

	rest := append([]int(nil), boundaries[1:]...)
	sort.Slice(rest, func(i, j int) bool { return transitions[rest[i]] > transitions[rest[j]] })
	rest = rest[:limit-1]
	sort.Ints(rest)
	return append([]int{boundaries[0]}, rest...)
}

func dedupeClose(boundaries []int) []int {
	var out []int
	last := -10
	for _, b := range boundaries {
		if b-last >= 2 {
			out = append(out, b)
			last = b
		}
	}
	return out
}

func slice(line string, start, end int) string {
	if start >= len(line) {
		return ""
	}
	if end > len(line) {
		end = len(line)
	}
	return line[start:end]
}

func sampleLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() && len(lines) < n {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to sample %s: %w", path, err)
	}
	return lines, nil
}
