package mirror

import "fmt"

// SkipReason classifies why a candidate pull request was excluded from a
// scheduled discovery run.
type SkipReason string

const (
	SkipReasonTooOld         SkipReason = "not_recently_updated"
	SkipReasonNoMergeBase    SkipReason = "merge_base_unresolvable"
	SkipReasonOverlayUpdated SkipReason = "overlay_base_freshly_updated"
	SkipReasonConflict       SkipReason = "merge_conflict"
	SkipReasonUpToDate       SkipReason = "mirror_branch_up_to_date"
)

// skipError marks a candidate as ineligible for the current run.
// In scheduled mode skips are expected and only logged, in manual mode they
// are promoted to fatal errors.
type skipError struct {
	reason SkipReason
	cause  error
}

func skip(reason SkipReason, cause error) *skipError {
	return &skipError{reason: reason, cause: cause}
}

func (e *skipError) Error() string {
	if e.cause == nil {
		return string(e.reason)
	}

	return fmt.Sprintf("%s: %s", e.reason, e.cause)
}

func (e *skipError) Unwrap() error {
	return e.cause
}

// fatalError aborts a whole discovery run, independent of the run mode.
// It is used for failures without which no candidate can make progress,
// e.g. when the overlay base branch can not be synchronized.
type fatalError struct {
	err error
}

func fatal(err error) *fatalError {
	return &fatalError{err: err}
}

func (e *fatalError) Error() string {
	return e.err.Error()
}

func (e *fatalError) Unwrap() error {
	return e.err
}
