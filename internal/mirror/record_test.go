package mirror

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(number int) *Record {
	return &Record{
		PullNumber:     number,
		Title:          "add frobnicator",
		Body:           "multi\nline\nbody",
		HeadSHA:        "abcdef1",
		Branch:         "mirror/pr-42-feature-x",
		OverlayBranch:  "overlay/main-1234567",
		MergeBaseShort: "1234567",
		UseOverlayBase: false,
	}
}

func TestRecordRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	w := NewRecordWriter(&buf)
	require.NoError(t, w.Write(testRecord(42)))

	rec43 := testRecord(43)
	rec43.UseOverlayBase = true
	require.NoError(t, w.Write(rec43))

	records, err := ReadRecords(&buf)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, testRecord(42), records[0])
	assert.Equal(t, rec43, records[1])
}

// singleWriteRecorder fails the test if a record is written with more than
// one Write call, records must be appended atomically as whole lines.
type singleWriteRecorder struct {
	writes [][]byte
}

func (w *singleWriteRecorder) Write(p []byte) (int, error) {
	w.writes = append(w.writes, append([]byte(nil), p...))
	return len(p), nil
}

func TestRecordWriterWritesWholeLines(t *testing.T) {
	var rec singleWriteRecorder

	w := NewRecordWriter(&rec)
	require.NoError(t, w.Write(testRecord(42)))
	require.NoError(t, w.Write(testRecord(43)))

	require.Len(t, rec.writes, 2, "each record must be written with a single Write call")

	for _, write := range rec.writes {
		assert.True(t, bytes.HasSuffix(write, []byte("\n")))
		assert.Equal(t, 1, bytes.Count(write, []byte("\n")))
	}
}

func TestReadRecordsFailsOnMalformedLine(t *testing.T) {
	input := `{"pull_number":42,"title":"t","body":"","head_sha":"abcdef1","branch":"mirror/pr-42","overlay_branch":"overlay/main-1234567","merge_base_short":"1234567","use_overlay_base":false}
this is not json
`

	_, err := ReadRecords(strings.NewReader(input))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestReadRecordsFailsOnInvalidRecord(t *testing.T) {
	input := `{"pull_number":0,"head_sha":"abcdef1","branch":"mirror/pr-42"}` + "\n"

	_, err := ReadRecords(strings.NewReader(input))
	require.Error(t, err)
}

func TestReadRecordsSkipsBlankLines(t *testing.T) {
	var buf bytes.Buffer

	w := NewRecordWriter(&buf)
	require.NoError(t, w.Write(testRecord(42)))
	buf.WriteString("\n")

	records, err := ReadRecords(&buf)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRecordWriterRefusesInvalidRecord(t *testing.T) {
	var buf bytes.Buffer

	rec := testRecord(42)
	rec.HeadSHA = ""

	err := NewRecordWriter(&buf).Write(rec)
	require.Error(t, err)
	assert.Zero(t, buf.Len())
}

func TestRecordValidate(t *testing.T) {
	rec := testRecord(1)
	require.NoError(t, rec.Validate())

	overlayRouted := testRecord(1)
	overlayRouted.UseOverlayBase = true
	overlayRouted.OverlayBranch = ""
	require.Error(t, overlayRouted.Validate())
}
