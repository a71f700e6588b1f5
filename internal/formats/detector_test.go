package formats

import (
	"context"
	"os"
	"path/filepath"
	"testing"

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

func createTempBinary(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	err := os.WriteFile(path, content, 0o644)
	require.NoError(t, err)
	return path
}

func TestDetectByExtension(t *testing.T) {
	detector := NewDetector(nil)

	path := createTempFile(t, "parcels.csv", "a,b\n1,2\n")
	scores := detector.Detect(context.Background(), path)
	assert.Equal(t, 0.9, scores[FormatCSV])

	path = createTempFile(t, "parcels.xml", "<records><record/></records>")
	scores = detector.Detect(context.Background(), path)
	assert.Equal(t, 0.9, scores[FormatXML])
}

func TestDetectDBFMagicByte(t *testing.T) {
	detector := NewDetector(nil)

	// dBase III magic byte on a file with no .dbf extension
	content := append([]byte{0x03}, make([]byte, 64)...)
	path := createTempBinary(t, "legacy.dat", content)

	scores := detector.Detect(context.Background(), path)
	assert.Equal(t, 0.9, scores[FormatDBF])
}

func TestDetectDelimitersInPlainText(t *testing.T) {
	detector := NewDetector(nil)

	path := createTempFile(t, "parcels.txt", "one|two|three\nfour|five|six\n")
	scores := detector.Detect(context.Background(), path)
	assert.Equal(t, 0.8, scores[FormatPipe])
}

func TestDetectFixedWidthFallback(t *testing.T) {
	detector := NewDetector(nil)

	// plain text with no delimiters at all
	path := createTempFile(t, "report.txt", "AAAA  1234\nBBBB  5678\n")
	scores := detector.Detect(context.Background(), path)
	assert.Equal(t, 0.6, scores[FormatFixedWidth])
}

func TestDetectMissingFile(t *testing.T) {
	detector := NewDetector(nil)

	scores := detector.Detect(context.Background(), filepath.Join(t.TempDir(), "absent.csv"))
	assert.Equal(t, map[string]float64{FormatUnknown: 0.5}, scores)
}

type stubSuggester struct {
	format     string
	confidence float64
}

func (s stubSuggester) SuggestFormat(context.Context, []byte, string) (string, float64, error) {
	return s.format, s.confidence, nil
}

func TestDetectBlendsAIScore(t *testing.T) {
	detector := NewDetector(stubSuggester{format: FormatFixedWidth, confidence: 0.9})

	// Ambiguous plain text keeps the heuristic max below 0.8, so the AI
	// pass runs and is weighted double.
	path := createTempFile(t, "legacy.txt", "AAAA  1234\nBBBB  5678\n")
	scores := detector.Detect(context.Background(), path)

	expected := (0.6 + 2*0.9) / 3
	assert.InDelta(t, expected, scores[FormatFixedWidth], 1e-9)
}

func TestDetectSkipsAIWhenConfident(t *testing.T) {
	detector := NewDetector(stubSuggester{format: FormatXML, confidence: 1.0})

	path := createTempFile(t, "parcels.csv", "a,b\n1,2\n")
	scores := detector.Detect(context.Background(), path)
	_, consulted := scores[FormatXML]
	assert.False(t, consulted)
}
