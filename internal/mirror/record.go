package mirror

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Record is the serialized unit of work bridging discovery and upsert.
// It is written as one JSON object per line and must round-trip losslessly.
type Record struct {
	PullNumber int    `json:"pull_number"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	HeadSHA    string `json:"head_sha"`
	// Branch is the mirror branch name the upstream head commit is
	// force-pushed to.
	Branch string `json:"branch"`
	// OverlayBranch is the overlay base branch the pull request's
	// merge-base was synchronized to.
	OverlayBranch  string `json:"overlay_branch"`
	MergeBaseShort string `json:"merge_base_short"`
	// UseOverlayBase routes the mirror pull request to the overlay base
	// branch instead of the downstream default branch.
	UseOverlayBase bool `json:"use_overlay_base"`
}

func (r *Record) Validate() error {
	if r.PullNumber <= 0 {
		return fmt.Errorf("pull_number must be positive, is %d", r.PullNumber)
	}

	if r.HeadSHA == "" {
		return errors.New("head_sha is empty")
	}

	if r.Branch == "" {
		return errors.New("branch is empty")
	}

	if r.UseOverlayBase && r.OverlayBranch == "" {
		return errors.New("use_overlay_base is set but overlay_branch is empty")
	}

	return nil
}

// RecordWriter serializes records, one JSON object per line.
// Every record is written with a single Write call, a record is never
// partially written.
type RecordWriter struct {
	w io.Writer
}

func NewRecordWriter(w io.Writer) *RecordWriter {
	return &RecordWriter{w: w}
}

func (w *RecordWriter) Write(rec *Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("refusing to write invalid record: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshalling record failed: %w", err)
	}

	if _, err := w.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing record failed: %w", err)
	}

	return nil
}

// maxRecordLineSize bounds a single record line, pull request bodies can be
// large.
const maxRecordLineSize = 4 * 1024 * 1024

// ReadRecords parses a record stream.
// A structurally invalid line is an error, it indicates a bug in the record
// producer, not a transient condition that may be skipped.
func ReadRecords(r io.Reader) ([]*Record, error) {
	var result []*Record

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxRecordLineSize)

	lineNr := 0
	for scanner.Scan() {
		lineNr++

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("record on line %d is malformed: %w", lineNr, err)
		}

		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("record on line %d is invalid: %w", lineNr, err)
		}

		result = append(result, &rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading records failed: %w", err)
	}

	return result, nil
}
