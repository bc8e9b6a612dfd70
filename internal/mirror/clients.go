package mirror

import (
	"context"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"

	"github.com/forkops/prmirror/internal/cfg"
	"github.com/forkops/prmirror/internal/githubclt"
)

// GithubClient is the GitHub API surface the mirror engine consumes.
// It is implemented by githubclt.Client.
type GithubClient interface {
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error)
	ListOpenPullRequests(ctx context.Context, owner, repo, baseBranch string) githubclt.PRIterator
	ListOpenPullRequestsByHeadBase(ctx context.Context, owner, repo, headOwnerBranch, baseBranch string) ([]*github.PullRequest, error)
	CreatePullRequest(ctx context.Context, owner, repo, title, body, headBranch, baseBranch string) (*github.PullRequest, error)
}

// GitClient is the git plumbing surface the mirror engine consumes.
// It is implemented by gitclt.Client.
type GitClient interface {
	Fetch(ctx context.Context, remoteURL string, refspecs ...string) error
	RevParse(ctx context.Context, rev string) (string, error)
	TreeOf(ctx context.Context, commit string) (string, error)
	BlobHash(ctx context.Context, rev, path string) (hash string, exists bool, err error)
	MergeBase(ctx context.Context, a, b string) (string, error)
	MergeTree(ctx context.Context, mergeBase, a, b string) (conflicted bool, err error)
	WriteTreeWithBlob(ctx context.Context, commit, path, blobHash string) (string, error)
	CommitTree(ctx context.Context, tree, parent, message string) (string, error)
	Push(ctx context.Context, remoteURL, localRev, branch string, force bool) error
	DeleteBranch(ctx context.Context, remoteURL, branch string) error
	LsRemoteHeads(ctx context.Context, remoteURL, pattern string) (map[string]string, error)
	RemoteBranchCommit(ctx context.Context, remoteURL, branch string) (sha string, exists bool, err error)
}

// Retryer is an interface used for running idempotent query operations
// repeatedly when they fail with a temporary error.
type Retryer interface {
	Run(context.Context, func(context.Context) error, []zap.Field) error
}

// Target bundles the repositories and git remote URLs one run operates on.
// The URLs may embed credentials and must not be logged.
type Target struct {
	UpstreamOwner   string
	UpstreamRepo    string
	DownstreamOwner string
	DownstreamRepo  string

	UpstreamURL   string
	DownstreamURL string

	// DefaultBranch is the upstream branch pull requests must target and
	// the default base branch of mirror pull requests downstream.
	DefaultBranch string
}

func NewTarget(config *cfg.Config) (*Target, error) {
	upOwner, upRepo, err := cfg.SplitRepository(config.UpstreamRepository)
	if err != nil {
		return nil, err
	}

	downOwner, downRepo, err := cfg.SplitRepository(config.DownstreamRepository)
	if err != nil {
		return nil, err
	}

	return &Target{
		UpstreamOwner:   upOwner,
		UpstreamRepo:    upRepo,
		DownstreamOwner: downOwner,
		DownstreamRepo:  downRepo,
		UpstreamURL:     config.GitURL(config.UpstreamRepository),
		DownstreamURL:   config.GitURL(config.DownstreamRepository),
		DefaultBranch:   config.UpstreamDefaultBranch,
	}, nil
}

func (t *Target) upstreamSlug() string {
	return t.UpstreamOwner + "/" + t.UpstreamRepo
}

func (t *Target) downstreamSlug() string {
	return t.DownstreamOwner + "/" + t.DownstreamRepo
}
