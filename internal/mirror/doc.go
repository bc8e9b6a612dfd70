// Package mirror synchronizes open pull requests of an upstream repository
// into a downstream repository as mirror branches and mirror pull requests.
//
// The package has no durable state of its own. Everything it needs to know
// about previous runs (what was mirrored, what is up to date, what is still
// pending) is derived from the current contents of the downstream repository
// and the GitHub API, so crashed or repeated runs converge instead of
// duplicating work.
//
// Components
//
// The Discoverer pages through the upstream open pull requests (or accepts
// one explicitly named pull request) and applies an eligibility pipeline per
// candidate: a recency filter, merge-base resolution, overlay base
// synchronization, a three-way merge conflict check and an up-to-date check
// against the existing mirror branch. Eligible candidates are serialized as
// Records, one JSON object per line.
//
// The OverlaySyncer maintains the overlay base branches. An overlay base is
// named after the merge-base commit it was created from and contains that
// commit's tree with one workflow file injected from a shared overlay
// branch. Staleness is detected by comparing the blob hash of the workflow
// file, an existing branch with the current blob is never touched.
//
// The Upserter consumes Records. It force-pushes the mirror branch to the
// exact upstream head commit and ensures exactly one open downstream pull
// request references it. In pending mode the branch is pushed under the
// pending namespace instead and no pull request is opened, so that an
// analysis stage can run before the change becomes visible for review.
//
// The Promoter moves pending branches into the mirror namespace. The
// pending pointer is only deleted after the mirror pointer was pushed, a
// crash in between leaves a harmless duplicate that the next run cleans up.
package mirror
