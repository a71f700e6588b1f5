package formats

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

// detectSampleSize caps how much of the file the heuristics look at.
const detectSampleSize = 10 * 1024

// aiDetectThreshold is the heuristic confidence below which the AI
// suggester is consulted.
const aiDetectThreshold = 0.8

// FormatSuggester is the optional AI collaborator for detection.
type FormatSuggester interface {
	SuggestFormat(ctx context.Context, sample []byte, ext string) (format string, confidence float64, err error)
}

// Detector scores candidate formats for a file. Detection is deterministic
// for the same bytes and the same suggester state.
type Detector struct {
	suggester FormatSuggester // nil disables the AI pass
}

// NewDetector returns a detector. suggester may be nil.
func NewDetector(suggester FormatSuggester) *Detector {
	return &Detector{suggester: suggester}
}

// Detect returns format names scored in [0,1]. At least one entry is always
// present; on I/O failure the result is {unknown: 0.5} and no error is
// raised.
func (d *Detector) Detect(ctx context.Context, path string) map[string]float64 {
	sample, err := readSample(path, detectSampleSize)
	if err != nil {
		log.Warn("Could not sample file for detection", "path", path, "error", err)
		return map[string]float64{FormatUnknown: 0.5}
	}

	ext := strings.ToLower(filepath.Ext(path))
	scores := heuristicScores(ext, sample)
	if len(scores) == 0 {
		scores[FormatUnknown] = 0.5
	}

	best := 0.0
	for _, s := range scores {
		if s > best {
			best = s
		}
	}

	if best < aiDetectThreshold && d.suggester != nil {
		format, confidence, err := d.suggester.SuggestFormat(ctx, sample, ext)
		if err != nil {
			log.Warn("AI format suggestion failed", "path", path, "error", err)
		} else if format != "" {
			// AI opinion counts double against the heuristic score.
			scores[format] = (scores[format] + 2*confidence) / 3
		}
	}

	return scores
}

func heuristicScores(ext string, sample []byte) map[string]float64 {
	scores := make(map[string]float64)

	if ext == ".dbf" || (len(sample) > 0 && isDBFVersionByte(sample[0])) {
		scores[FormatDBF] = 0.9
		return scores
	}

	switch ext {
	case ".csv":
		scores[FormatCSV] = 0.9
		return scores
	case ".xls", ".xlsx":
		scores[FormatExcel] = 0.9
		return scores
	}

	trimmed := bytes.TrimLeft(sample, " \t\r\n\xef\xbb\xbf")
	if ext == ".xml" || bytes.HasPrefix(trimmed, []byte("<?xml")) {
		scores[FormatXML] = 0.9
		return scores
	}

	if ext == ".json" {
		scores[FormatJSON] = 0.9
		return scores
	}
	if bytes.HasPrefix(trimmed, []byte("{")) && bytes.Contains(trimmed, []byte("}")) {
		scores[FormatJSON] = 0.7
	}

	head := sample
	if len(head) > 1024 {
		head = head[:1024]
	}
	if bytes.IndexByte(head, 0x00) >= 0 {
		scores[FormatBinary] = 0.7
		return scores
	}

	// Plain text: score delimiters by presence in the sample.
	if bytes.IndexByte(sample, '|') >= 0 {
		scores[FormatPipe] = 0.8
	}
	if bytes.IndexByte(sample, '\t') >= 0 {
		scores[FormatTab] = 0.8
	}
	if bytes.Count(sample, []byte(",")) > 5 {
		scores[FormatCSV] = 0.7
	}
	if len(scores) == 0 && len(trimmed) > 0 {
		scores[FormatFixedWidth] = 0.6
	}

	return scores
}

// isDBFVersionByte matches the dBase version bytes found at offset 0.
func isDBFVersionByte(b byte) bool {
	switch b {
	case 0x03, 0x04, 0x05, 0xF5:
		return true
	}
	return false
}

func readSample(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := f.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:read], nil
}
