package formats

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/beevik/etree"
	"github.com/charmbracelet/log"
	"github.com/parcelworks/legacyconv/internal/schema"
)

const (
	xmlRowCandidateMin = 5
	xmlMaxColumns      = 100
	xmlColumnDepth     = 3
	xmlTreeThreshold   = 4 << 20 // below this, load the whole tree
	xmlSampleRows      = 25
)

// XML discovers a repeating row element and extracts columns by relative
// path. Large files stream through encoding/xml with per-row subtrees
// released after extraction; small files take an etree-loaded path.
type XML struct {
	settings map[string]interface{}

	cached  *schema.SourceSchema
	rowPath string // absolute, slash-joined element path
	path    string
}

// NewXML builds the handler. Settings: "row_xpath" overrides discovery.
func NewXML(settings map[string]interface{}) *XML {
	return &XML{settings: settings}
}

func (h *XML) Name() string { return FormatXML }

func (h *XML) CanHandle(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xml")
}

func (h *XML) ReadSchema(path string) (*schema.SourceSchema, error) {
	if h.cached != nil && h.path == path {
		return h.cached, nil
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("no root element in %s", path)
	}

	rowPath := settingString(h.settings, "row_xpath", "")
	var rows []*etree.Element
	if rowPath != "" {
		rows = elementsAtPath(root, rowPath)
	} else {
		rowPath, rows = discoverRowPath(root)
	}
	if len(rows) == 0 {
		// Flatten the whole document into a single row.
		rowPath = "/" + root.Tag
		rows = []*etree.Element{root}
		log.Debug("No repeating element found; flattening document", "path", path)
	}

	columns := discoverColumns(rows)
	h.cached = &schema.SourceSchema{Format: FormatXML, Columns: columns}
	h.rowPath = rowPath
	h.path = path
	return h.cached, nil
}

func (h *XML) ReadData(path string, batchSize int) (BatchReader, error) {
	src, err := h.ReadSchema(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if info.Size() <= xmlTreeThreshold {
		return h.treeReader(path, src, batchSize)
	}
	return h.streamReader(path, src, batchSize)
}

func (h *XML) treeReader(path string, src *schema.SourceSchema, batchSize int) (BatchReader, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	root := doc.Root()
	var rows []*etree.Element
	if root != nil {
		if h.rowPath == "/"+root.Tag {
			rows = []*etree.Element{root}
		} else {
			rows = elementsAtPath(root, h.rowPath)
		}
	}
	return &xmlTreeReader{rows: rows, columns: src.Columns, batchSize: batchSize}, nil
}

func (h *XML) streamReader(path string, src *schema.SourceSchema, batchSize int) (BatchReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &xmlStreamReader{
		file:      f,
		decoder:   xml.NewDecoder(f),
		rowPath:   h.rowPath,
		columns:   src.Columns,
		batchSize: batchSize,
	}, nil
}

// EstimatedRows counts elements on the discovered row path without
// materializing their subtrees. A flattened document is one row.
func (h *XML) EstimatedRows(path string) (int, error) {
	if _, err := h.ReadSchema(path); err != nil {
		return 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	decoder := xml.NewDecoder(f)
	var stack []string
	count := 0
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to scan %s: %w", path, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			if "/"+strings.Join(stack, "/") == h.rowPath {
				count++
			}
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	return count, nil
}

func (h *XML) ValidateMapping(path string, mappings []schema.ColumnMapping) ([]schema.ValidationIssue, error) {
	src, err := h.ReadSchema(path)
	if err != nil {
		return nil, err
	}
	return validateMappingCommon(src, mappings), nil
}

// discoverRowPath enumerates distinct element paths and picks the best
// repeating candidate: enough matches with similar child tag sets, shortest
// path first, then highest match count. Falls back to the root's children.
func discoverRowPath(root *etree.Element) (string, []*etree.Element) {
	byPath := make(map[string][]*etree.Element)
	var walk func(el *etree.Element, path string)
	walk = func(el *etree.Element, path string) {
		p := path + "/" + el.Tag
		byPath[p] = append(byPath[p], el)
		for _, child := range el.ChildElements() {
			walk(child, p)
		}
	}
	walk(root, "")

	type candidate struct {
		path  string
		depth int
		count int
	}
	var candidates []candidate
	for path, els := range byPath {
		if len(els) < xmlRowCandidateMin {
			continue
		}
		if similarChildren(els) {
			candidates = append(candidates, candidate{
				path:  path,
				depth: strings.Count(path, "/"),
				count: len(els),
			})
		}
	}

	if len(candidates) > 0 {
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].depth != candidates[j].depth {
				return candidates[i].depth < candidates[j].depth
			}
			return candidates[i].count > candidates[j].count
		})
		best := candidates[0]
		return best.path, byPath[best.path]
	}

	// Fallback: the most common child tag directly under the root.
	counts := make(map[string]int)
	for _, child := range root.ChildElements() {
		counts[child.Tag]++
	}
	bestTag, bestCount := "", 0
	for tag, c := range counts {
		if c > bestCount || (c == bestCount && tag < bestTag) {
			bestTag, bestCount = tag, c
		}
	}
	if bestTag == "" {
		return "", nil
	}
	var rows []*etree.Element
	for _, child := range root.ChildElements() {
		if child.Tag == bestTag {
			rows = append(rows, child)
		}
	}
	return "/" + root.Tag + "/" + bestTag, rows
}

// similarChildren reports whether the elements share child tag sets: the
// symmetric difference between any sample pair is at most half the size of
// either set.
func similarChildren(els []*etree.Element) bool {
	limit := len(els)
	if limit > 10 {
		limit = 10
	}
	sets := make([]map[string]bool, limit)
	for i := 0; i < limit; i++ {
		set := make(map[string]bool)
		for _, c := range els[i].ChildElements() {
			set[c.Tag] = true
		}
		sets[i] = set
	}
	for i := 1; i < limit; i++ {
		diff := symmetricDiff(sets[0], sets[i])
		if len(sets[0]) > 0 && diff > len(sets[0])/2 && diff > len(sets[i])/2 {
			return false
		}
	}
	return true
}

func symmetricDiff(a, b map[string]bool) int {
	diff := 0
	for k := range a {
		if !b[k] {
			diff++
		}
	}
	for k := range b {
		if !a[k] {
			diff++
		}
	}
	return diff
}

// discoverColumns inspects sample row elements and emits a column for every
// descendant element with text and every attribute, capped at 100.
func discoverColumns(rows []*etree.Element) []schema.Column {
	sample := rows
	if len(sample) > xmlSampleRows {
		sample = sample[:xmlSampleRows]
	}

	var order []string
	byXPath := make(map[string]*schema.Column)

	add := func(xpath, name string) *schema.Column {
		if col, ok := byXPath[xpath]; ok {
			return col
		}
		if len(order) >= xmlMaxColumns {
			return nil
		}
		col := &schema.Column{Name: name, XPath: xpath, Nullable: true}
		byXPath[xpath] = col
		order = append(order, xpath)
		return col
	}

	var descend func(el *etree.Element, rel string, depth int)
	descend = func(el *etree.Element, rel string, depth int) {
		for _, attr := range el.Attr {
			xpath := attr.Key
			name := el.Tag + "_" + attr.Key
			if rel != "" {
				xpath = rel + "/@" + attr.Key
			} else {
				xpath = "@" + attr.Key
			}
			if col := add(xpath, name); col != nil {
				col.SampleValues = appendSample(col.SampleValues, attr.Value)
			}
		}
		if depth >= xmlColumnDepth {
			return
		}
		for _, child := range el.ChildElements() {
			childRel := child.Tag
			if rel != "" {
				childRel = rel + "/" + child.Tag
			}
			text := strings.TrimSpace(child.Text())
			if text != "" && len(child.ChildElements()) == 0 {
				if col := add(childRel, child.Tag); col != nil {
					col.SampleValues = appendSample(col.SampleValues, text)
				}
			}
			descend(child, childRel, depth+1)
		}
	}

	for _, row := range sample {
		descend(row, "", 0)
	}

	columns := make([]schema.Column, 0, len(order))
	for _, xpath := range order {
		col := byXPath[xpath]
		col.Type = schema.InferType(col.SampleValues)
		columns = append(columns, *col)
	}
	return columns
}

func appendSample(samples []string, v string) []string {
	if len(samples) >= 25 {
		return samples
	}
	return append(samples, v)
}

func elementsAtPath(root *etree.Element, rel string) []*etree.Element {
	segments := strings.Split(strings.Trim(rel, "/"), "/")
	// Allow paths that still carry the root tag.
	if len(segments) > 0 && segments[0] == root.Tag {
		segments = segments[1:]
	}
	current := []*etree.Element{root}
	for _, seg := range segments {
		var next []*etree.Element
		for _, el := range current {
			next = append(next, el.SelectElements(seg)...)
		}
		current = next
	}
	return current
}

// extractRow materializes one row by evaluating each column's relative
// path against the row element.
func extractRow(el *etree.Element, columns []schema.Column) schema.Row {
	row := make(schema.Row, len(columns))
	for _, col := range columns {
		row[col.Name] = xpathValue(el, col.XPath)
	}
	return row
}

func xpathValue(el *etree.Element, xpath string) interface{} {
	if xpath == "" {
		return nil
	}
	if strings.HasPrefix(xpath, "@") {
		if attr := el.SelectAttr(strings.TrimPrefix(xpath, "@")); attr != nil {
			return attr.Value
		}
		return nil
	}
	elemPath := xpath
	attrKey := ""
	if i := strings.Index(xpath, "/@"); i >= 0 {
		elemPath, attrKey = xpath[:i], xpath[i+2:]
	}
	current := []*etree.Element{el}
	for _, seg := range strings.Split(elemPath, "/") {
		var next []*etree.Element
		for _, c := range current {
			next = append(next, c.SelectElements(seg)...)
		}
		current = next
		if len(current) == 0 {
			return nil
		}
	}
	target := current[0]
	if attrKey != "" {
		if attr := target.SelectAttr(attrKey); attr != nil {
			return attr.Value
		}
		return nil
	}
	text := strings.TrimSpace(target.Text())
	if text == "" {
		return nil
	}
	return text
}

type xmlTreeReader struct {
	rows      []*etree.Element
	columns   []schema.Column
	batchSize int
	pos       int
}

func (r *xmlTreeReader) Next() (schema.Batch, error) {
	if r.pos >= len(r.rows) {
		return nil, io.EOF
	}
	end := r.pos + r.batchSize
	if end > len(r.rows) {
		end = len(r.rows)
	}
	batch := make(schema.Batch, 0, end-r.pos)
	for _, el := range r.rows[r.pos:end] {
		batch = append(batch, extractRow(el, r.columns))
	}
	r.pos = end
	return batch, nil
}

func (r *xmlTreeReader) Close() error { return nil }

// xmlStreamReader walks the token stream, materializes each row element as
// a detached etree subtree, extracts its columns, and drops the subtree so
// memory stays bounded by one batch.
type xmlStreamReader struct {
	file      *os.File
	decoder   *xml.Decoder
	rowPath   string
	columns   []schema.Column
	batchSize int
	stack     []string
	done      bool
}

func (r *xmlStreamReader) Next() (schema.Batch, error) {
	if r.done {
		return nil, io.EOF
	}

	batch := make(schema.Batch, 0, r.batchSize)
	for len(batch) < r.batchSize {
		tok, err := r.decoder.Token()
		if errors.Is(err, io.EOF) {
			r.done = true
			break
		}
		if err != nil {
			log.Warn("XML stream error; truncating stream", "error", err)
			r.done = true
			break
		}

		switch t := tok.(type) {
		case xml.StartElement:
			r.stack = append(r.stack, t.Name.Local)
			if "/"+strings.Join(r.stack, "/") == r.rowPath {
				el, err := decodeSubtree(r.decoder, t)
				if err != nil {
					log.Warn("Failed to decode row element", "error", err)
					r.stack = r.stack[:len(r.stack)-1]
					continue
				}
				batch = append(batch, extractRow(el, r.columns))
				r.stack = r.stack[:len(r.stack)-1]
			}
		case xml.EndElement:
			if len(r.stack) > 0 {
				r.stack = r.stack[:len(r.stack)-1]
			}
		}
	}

	if len(batch) == 0 && r.done {
		return nil, io.EOF
	}
	return batch, nil
}

func (r *xmlStreamReader) Close() error { return r.file.Close() }

// decodeSubtree consumes tokens through the matching end element and
// rebuilds the subtree as a detached etree element.
func decodeSubtree(d *xml.Decoder, start xml.StartElement) (*etree.Element, error) {
	el := etree.NewElement(start.Name.Local)
	for _, attr := range start.Attr {
		el.CreateAttr(attr.Name.Local, attr.Value)
	}
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeSubtree(d, t)
			if err != nil {
				return nil, err
			}
			el.AddChild(child)
		case xml.CharData:
			el.CreateText(string(t))
		case xml.EndElement:
			return el, nil
		}
	}
}
