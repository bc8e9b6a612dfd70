package mirror

import (
	"context"
	"time"

	"github.com/google/go-github/v59/github"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/forkops/prmirror/internal/githubclt"
)

func newTestTarget() *Target {
	return &Target{
		UpstreamOwner:   "upstream",
		UpstreamRepo:    "widgets",
		DownstreamOwner: "downstream",
		DownstreamRepo:  "widgets-mirror",
		UpstreamURL:     "https://git.example.com/upstream/widgets.git",
		DownstreamURL:   "https://git.example.com/downstream/widgets-mirror.git",
		DefaultBranch:   "main",
	}
}

func newOpenPR(number int, title, headSHA, headRef string, updatedAt time.Time) *github.PullRequest {
	state := "open"
	body := "body of " + title

	return &github.PullRequest{
		Number:    &number,
		Title:     &title,
		Body:      &body,
		State:     &state,
		CreatedAt: &github.Timestamp{Time: updatedAt.Add(-24 * time.Hour)},
		UpdatedAt: &github.Timestamp{Time: updatedAt},
		Head: &github.PullRequestBranch{
			SHA: &headSHA,
			Ref: &headRef,
		},
	}
}

// noRetryRetryer runs the operation exactly once.
type noRetryRetryer struct{}

func (noRetryRetryer) Run(ctx context.Context, fn func(context.Context) error, _ []zap.Field) error {
	return fn(ctx)
}

// slicePRIterator returns pull requests from a slice, then nil.
type slicePRIterator struct {
	prs []*github.PullRequest
	err error
}

func (it *slicePRIterator) Next() (*github.PullRequest, error) {
	if len(it.prs) == 0 {
		return nil, it.err
	}

	pr := it.prs[0]
	it.prs = it.prs[1:]

	return pr, nil
}

type MockGithubClient struct {
	mock.Mock
}

// GetPullRequest implements GithubClient.
func (m *MockGithubClient) GetPullRequest(_ context.Context, owner, repo string, number int) (*github.PullRequest, error) {
	args := m.Called(owner, repo, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*github.PullRequest), args.Error(1)
}

// ListOpenPullRequests implements GithubClient.
func (m *MockGithubClient) ListOpenPullRequests(_ context.Context, owner, repo, baseBranch string) githubclt.PRIterator {
	args := m.Called(owner, repo, baseBranch)
	return args.Get(0).(githubclt.PRIterator)
}

// ListOpenPullRequestsByHeadBase implements GithubClient.
func (m *MockGithubClient) ListOpenPullRequestsByHeadBase(_ context.Context, owner, repo, headOwnerBranch, baseBranch string) ([]*github.PullRequest, error) {
	args := m.Called(owner, repo, headOwnerBranch, baseBranch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*github.PullRequest), args.Error(1)
}

// CreatePullRequest implements GithubClient.
func (m *MockGithubClient) CreatePullRequest(_ context.Context, owner, repo, title, body, headBranch, baseBranch string) (*github.PullRequest, error) {
	args := m.Called(owner, repo, title, body, headBranch, baseBranch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*github.PullRequest), args.Error(1)
}

type MockGitClient struct {
	mock.Mock
}

// Fetch implements GitClient.
func (m *MockGitClient) Fetch(_ context.Context, remoteURL string, refspecs ...string) error {
	args := m.Called(remoteURL, refspecs)
	return args.Error(0)
}

// RevParse implements GitClient.
func (m *MockGitClient) RevParse(_ context.Context, rev string) (string, error) {
	args := m.Called(rev)
	return args.String(0), args.Error(1)
}

// TreeOf implements GitClient.
func (m *MockGitClient) TreeOf(_ context.Context, commit string) (string, error) {
	args := m.Called(commit)
	return args.String(0), args.Error(1)
}

// BlobHash implements GitClient.
func (m *MockGitClient) BlobHash(_ context.Context, rev, path string) (string, bool, error) {
	args := m.Called(rev, path)
	return args.String(0), args.Bool(1), args.Error(2)
}

// MergeBase implements GitClient.
func (m *MockGitClient) MergeBase(_ context.Context, a, b string) (string, error) {
	args := m.Called(a, b)
	return args.String(0), args.Error(1)
}

// MergeTree implements GitClient.
func (m *MockGitClient) MergeTree(_ context.Context, mergeBase, a, b string) (bool, error) {
	args := m.Called(mergeBase, a, b)
	return args.Bool(0), args.Error(1)
}

// WriteTreeWithBlob implements GitClient.
func (m *MockGitClient) WriteTreeWithBlob(_ context.Context, commit, path, blobHash string) (string, error) {
	args := m.Called(commit, path, blobHash)
	return args.String(0), args.Error(1)
}

// CommitTree implements GitClient.
func (m *MockGitClient) CommitTree(_ context.Context, tree, parent, message string) (string, error) {
	args := m.Called(tree, parent, message)
	return args.String(0), args.Error(1)
}

// Push implements GitClient.
func (m *MockGitClient) Push(_ context.Context, remoteURL, localRev, branch string, force bool) error {
	args := m.Called(remoteURL, localRev, branch, force)
	return args.Error(0)
}

// DeleteBranch implements GitClient.
func (m *MockGitClient) DeleteBranch(_ context.Context, remoteURL, branch string) error {
	args := m.Called(remoteURL, branch)
	return args.Error(0)
}

// LsRemoteHeads implements GitClient.
func (m *MockGitClient) LsRemoteHeads(_ context.Context, remoteURL, pattern string) (map[string]string, error) {
	args := m.Called(remoteURL, pattern)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

// RemoteBranchCommit implements GitClient.
func (m *MockGitClient) RemoteBranchCommit(_ context.Context, remoteURL, branch string) (string, bool, error) {
	args := m.Called(remoteURL, branch)
	return args.String(0), args.Bool(1), args.Error(2)
}

// stubOverlaySyncer satisfies the overlaySyncer interface with canned
// results and records how often it was invoked.
type stubOverlaySyncer struct {
	branch   string
	tip      string
	upToDate bool
	err      error

	calls int
}

func (s *stubOverlaySyncer) Sync(_ context.Context, baseCommit string) (string, string, bool, error) {
	s.calls++

	branch := s.branch
	if branch == "" {
		branch = OverlayBranchName("main", baseCommit)
	}

	tip := s.tip
	if tip == "" {
		tip = baseCommit
	}

	return branch, tip, s.upToDate, s.err
}
