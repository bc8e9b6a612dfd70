package mirror

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	mirrorNamespace  = "mirror"
	pendingNamespace = "pending"
	overlayNamespace = "overlay"
)

// shortSHALen is the length merge-base IDs are truncated to in overlay
// branch names and mirror records.
const shortSHALen = 12

// maxRefSuffixLen bounds the sanitized head-ref suffix in branch names, so
// that generated names stay within ref name limits.
const maxRefSuffixLen = 40

var unsafeRefChars = regexp.MustCompile(`[^A-Za-z0-9._]+`)

// ShortSHA truncates a commit ID for use in branch names.
func ShortSHA(sha string) string {
	if len(sha) <= shortSHALen {
		return sha
	}

	return sha[:shortSHALen]
}

// SanitizeRef converts a head ref into a string that is safe to embed in a
// branch name: path separators and other unsafe character runs become a
// single dash, the result is truncated to maxRefSuffixLen bytes.
func SanitizeRef(ref string) string {
	s := unsafeRefChars.ReplaceAllString(ref, "-")
	s = strings.Trim(s, "-.")

	if len(s) > maxRefSuffixLen {
		s = strings.Trim(s[:maxRefSuffixLen], "-.")
	}

	return s
}

// MirrorBranchName returns the deterministic downstream branch name for an
// upstream pull request, e.g. "mirror/pr-42-feature-x".
func MirrorBranchName(prNumber int, headRef string) string {
	return branchName(mirrorNamespace, prNumber, SanitizeRef(headRef))
}

// PendingBranchName is the two-phase counterpart of MirrorBranchName,
// e.g. "pending/pr-42-feature-x".
func PendingBranchName(prNumber int, headRef string) string {
	return branchName(pendingNamespace, prNumber, SanitizeRef(headRef))
}

func branchName(namespace string, prNumber int, suffix string) string {
	if suffix == "" {
		return fmt.Sprintf("%s/pr-%d", namespace, prNumber)
	}

	return fmt.Sprintf("%s/pr-%d-%s", namespace, prNumber, suffix)
}

// PendingVariant maps a mirror branch name to its pending namespace
// counterpart.
func PendingVariant(mirrorBranch string) string {
	return pendingNamespace + "/" + strings.TrimPrefix(mirrorBranch, mirrorNamespace+"/")
}

// OverlayBranchName returns the downstream branch name of the overlay base
// for a merge-base commit, e.g. "overlay/main-1234567890ab".
func OverlayBranchName(defaultBranch, mergeBase string) string {
	return fmt.Sprintf("%s/%s-%s", overlayNamespace, defaultBranch, ShortSHA(mergeBase))
}

var pendingBranchRe = regexp.MustCompile(`^` + pendingNamespace + `/pr-([0-9]+)(?:-(.+))?$`)

// ParsePendingBranchName extracts the pull request number and the sanitized
// ref suffix encoded in a pending branch name.
func ParsePendingBranchName(name string) (prNumber int, suffix string, err error) {
	matches := pendingBranchRe.FindStringSubmatch(name)
	if matches == nil {
		return 0, "", fmt.Errorf("branch name does not match the pending naming scheme: %q", name)
	}

	prNumber, err = strconv.Atoi(matches[1])
	if err != nil {
		return 0, "", fmt.Errorf("branch name contains unparsable pull request number: %q: %w", name, err)
	}

	return prNumber, matches[2], nil
}
