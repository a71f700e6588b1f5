package formats

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/parcelworks/legacyconv/internal/schema"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// dbfField is one 32-byte field descriptor from the table header.
type dbfField struct {
	name     string
	kind     byte // C, N, F, D, L, M
	length   int
	decimals int
}

// dbfHeader is the parsed fixed portion of the file header. Record count
// is the little-endian 32-bit value at offset 4.
type dbfHeader struct {
	records    int
	headerSize int
	recordSize int
	fields     []dbfField
}

// DBF reads dBase tables. Text decodes through cp437 by default, falling
// back through cp1252, latin1, and utf-8; the first codec that produces
// clean output is remembered for the rest of the file.
type DBF struct {
	settings map[string]interface{}

	header *dbfHeader
	codec  string
	path   string
}

// NewDBF builds the handler. Settings: "encoding" pins the codec.
func NewDBF(settings map[string]interface{}) *DBF {
	return &DBF{settings: settings}
}

func (h *DBF) Name() string { return FormatDBF }

func (h *DBF) CanHandle(path string) bool {
	if strings.EqualFold(filepath.Ext(path), ".dbf") {
		return true
	}
	sample, err := readSample(path, 1)
	return err == nil && len(sample) == 1 && isDBFVersionByte(sample[0])
}

var dbfCodecChain = []string{"cp437", "cp1252", "latin1", "utf-8"}

func dbfDecoder(codec string) *encoding.Decoder {
	switch codec {
	case "cp437":
		return charmap.CodePage437.NewDecoder()
	case "cp1252":
		return charmap.Windows1252.NewDecoder()
	case "latin1":
		return charmap.ISO8859_1.NewDecoder()
	default:
		return nil // utf-8 passes through
	}
}

// decodeText runs the codec fallback chain, remembering the first codec
// that yields clean text for this file.
func (h *DBF) decodeText(raw []byte) string {
	chain := dbfCodecChain
	if h.codec != "" {
		chain = []string{h.codec}
	} else if pinned := settingString(h.settings, "encoding", ""); pinned != "" {
		chain = []string{pinned}
	}

	for _, codec := range chain {
		var text string
		if dec := dbfDecoder(codec); dec != nil {
			decoded, err := dec.Bytes(raw)
			if err != nil {
				continue
			}
			text = string(decoded)
		} else {
			if !utf8.Valid(raw) {
				continue
			}
			text = string(raw)
		}
		if strings.ContainsRune(text, utf8.RuneError) {
			continue
		}
		if h.codec == "" {
			h.codec = codec
		}
		return text
	}
	// Nothing decoded cleanly; take the permissive single-byte reading.
	decoded, _ := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	return string(decoded)
}

func (h *DBF) readHeader(path string) (*dbfHeader, error) {
	if h.header != nil && h.path == path {
		return h.header, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	fixed := make([]byte, 32)
	if _, err := io.ReadFull(f, fixed); err != nil {
		return nil, fmt.Errorf("dbf header too short: %w", err)
	}
	if !isDBFVersionByte(fixed[0]) {
		return nil, fmt.Errorf("unrecognized dbf version byte 0x%02X", fixed[0])
	}

	header := &dbfHeader{
		records:    int(binary.LittleEndian.Uint32(fixed[4:8])),
		headerSize: int(binary.LittleEndian.Uint16(fixed[8:10])),
		recordSize: int(binary.LittleEndian.Uint16(fixed[10:12])),
	}

	// Field descriptors run from offset 32 to the 0x0D terminator.
	for offset := 32; offset+32 <= header.headerSize; offset += 32 {
		desc := make([]byte, 32)
		if _, err := f.ReadAt(desc, int64(offset)); err != nil {
			return nil, fmt.Errorf("failed to read field descriptor: %w", err)
		}
		if desc[0] == 0x0D {
			break
		}
		name := strings.TrimRight(string(desc[:11]), "\x00 ")
		if name == "" {
			break
		}
		header.fields = append(header.fields, dbfField{
			name:     name,
			kind:     desc[11],
			length:   int(desc[16]),
			decimals: int(desc[17]),
		})
	}
	if len(header.fields) == 0 {
		return nil, fmt.Errorf("dbf file %s has no field descriptors", path)
	}

	h.header = header
	h.path = path
	return header, nil
}

func dbfColumnType(f dbfField) schema.DataType {
	switch f.kind {
	case 'N':
		if f.decimals > 0 {
			return schema.TypeFloat
		}
		return schema.TypeInteger
	case 'F':
		return schema.TypeFloat
	case 'D':
		return schema.TypeDate
	case 'L':
		return schema.TypeBoolean
	case 'M':
		return schema.TypeText
	default:
		if f.length > maxStringWidth {
			return schema.TypeText
		}
		return schema.TypeString
	}
}

func (h *DBF) ReadSchema(path string) (*schema.SourceSchema, error) {
	header, err := h.readHeader(path)
	if err != nil {
		return nil, err
	}

	columns := make([]schema.Column, len(header.fields))
	for i, f := range header.fields {
		columns[i] = schema.Column{
			Name:     f.name,
			Type:     dbfColumnType(f),
			Nullable: true,
			Length:   f.length,
			Decimals: f.decimals,
		}
	}
	return &schema.SourceSchema{Format: FormatDBF, Columns: columns}, nil
}

func (h *DBF) ReadData(path string, batchSize int) (BatchReader, error) {
	header, err := h.readHeader(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &dbfReader{
		handler:   h,
		file:      f,
		header:    header,
		batchSize: batchSize,
		offset:    int64(header.headerSize),
	}, nil
}

// EstimatedRows is the record count from the file header. Deleted
// records still count here; ReadData drops them.
func (h *DBF) EstimatedRows(path string) (int, error) {
	header, err := h.readHeader(path)
	if err != nil {
		return 0, err
	}
	return header.records, nil
}

func (h *DBF) ValidateMapping(path string, mappings []schema.ColumnMapping) ([]schema.ValidationIssue, error) {
	src, err := h.ReadSchema(path)
	if err != nil {
		return nil, err
	}
	return validateMappingCommon(src, mappings), nil
}

type dbfReader struct {
	handler   *DBF
	file      *os.File
	header    *dbfHeader
	batchSize int
	offset    int64
	read      int
	simple    bool // secondary path: no typed coercion
	done      bool
}

func (r *dbfReader) Next() (schema.Batch, error) {
	if r.done {
		return nil, io.EOF
	}

	batch := make(schema.Batch, 0, r.batchSize)
	buf := make([]byte, r.header.recordSize)
	for len(batch) < r.batchSize && r.read < r.header.records {
		if _, err := r.file.ReadAt(buf, r.offset); err != nil {
			if !r.simple {
				// Retry the rest of the file on the simpler path before
				// giving up on the stream.
				log.Warn("DBF record read failed; switching to simple reader", "error", err)
				r.simple = true
				continue
			}
			log.Warn("DBF read error; truncating stream", "error", err)
			r.done = true
			break
		}
		r.offset += int64(r.header.recordSize)
		r.read++

		if buf[0] == '*' { // deleted record
			continue
		}
		batch = append(batch, r.decodeRecord(buf[1:]))
	}

	if r.read >= r.header.records {
		r.done = true
	}
	if len(batch) == 0 && r.done {
		return nil, io.EOF
	}
	return batch, nil
}

func (r *dbfReader) decodeRecord(data []byte) schema.Row {
	row := make(schema.Row, len(r.header.fields))
	pos := 0
	for _, f := range r.header.fields {
		end := pos + f.length
		if end > len(data) {
			end = len(data)
		}
		raw := strings.TrimSpace(r.handler.decodeText(data[pos:end]))
		pos = end

		if raw == "" {
			row[f.name] = nil
			continue
		}
		if r.simple {
			row[f.name] = raw
			continue
		}

		switch f.kind {
		case 'N', 'F':
			t := schema.TypeFloat
			if f.kind == 'N' && f.decimals == 0 {
				t = schema.TypeInteger
			}
			if v, err := schema.Coerce(raw, t, ""); err == nil {
				row[f.name] = v
			} else {
				row[f.name] = raw
			}
		case 'D':
			if v, err := schema.Coerce(raw, schema.TypeDate, "20060102"); err == nil {
				row[f.name] = v
			} else {
				row[f.name] = raw
			}
		case 'L':
			switch raw {
			case "T", "t", "Y", "y":
				row[f.name] = true
			case "F", "f", "N", "n":
				row[f.name] = false
			default:
				row[f.name] = nil
			}
		default:
			row[f.name] = raw
		}
	}
	return row
}

func (r *dbfReader) Close() error { return r.file.Close() }
