package mirror

import (
	"context"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"

	"github.com/forkops/prmirror/internal/githubclt"
	"github.com/forkops/prmirror/internal/logfields"
)

// DryGithubClient is a github client that does not do any changes on github.
// All mutating operations are simulated and always succeed, all other
// operations are forwarded to the wrapped GithubClient.
type DryGithubClient struct {
	clt    GithubClient
	logger *zap.Logger
}

func NewDryGithubClient(clt GithubClient) *DryGithubClient {
	return &DryGithubClient{
		clt:    clt,
		logger: zap.L().Named("dry_github_client"),
	}
}

func (c *DryGithubClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error) {
	return c.clt.GetPullRequest(ctx, owner, repo, number)
}

func (c *DryGithubClient) ListOpenPullRequests(ctx context.Context, owner, repo, baseBranch string) githubclt.PRIterator {
	return c.clt.ListOpenPullRequests(ctx, owner, repo, baseBranch)
}

func (c *DryGithubClient) ListOpenPullRequestsByHeadBase(ctx context.Context, owner, repo, headOwnerBranch, baseBranch string) ([]*github.PullRequest, error) {
	return c.clt.ListOpenPullRequestsByHeadBase(ctx, owner, repo, headOwnerBranch, baseBranch)
}

func (c *DryGithubClient) CreatePullRequest(_ context.Context, owner, repo, title, _, headBranch, baseBranch string) (*github.PullRequest, error) {
	c.logger.Info(
		"simulated creating a pull request, nothing created on github",
		logfields.Repository(owner+"/"+repo),
		logfields.Branch(headBranch),
		logfields.BaseBranch(baseBranch),
		zap.String("github.pull_request_title", title),
	)

	number := 0
	return &github.PullRequest{Number: &number}, nil
}

// DryGitClient simulates all operations that would mutate a remote
// repository and forwards everything else to the wrapped GitClient.
type DryGitClient struct {
	clt    GitClient
	logger *zap.Logger
}

func NewDryGitClient(clt GitClient) *DryGitClient {
	return &DryGitClient{
		clt:    clt,
		logger: zap.L().Named("dry_git_client"),
	}
}

func (c *DryGitClient) Fetch(ctx context.Context, remoteURL string, refspecs ...string) error {
	return c.clt.Fetch(ctx, remoteURL, refspecs...)
}

func (c *DryGitClient) RevParse(ctx context.Context, rev string) (string, error) {
	return c.clt.RevParse(ctx, rev)
}

func (c *DryGitClient) TreeOf(ctx context.Context, commit string) (string, error) {
	return c.clt.TreeOf(ctx, commit)
}

func (c *DryGitClient) BlobHash(ctx context.Context, rev, path string) (string, bool, error) {
	return c.clt.BlobHash(ctx, rev, path)
}

func (c *DryGitClient) MergeBase(ctx context.Context, a, b string) (string, error) {
	return c.clt.MergeBase(ctx, a, b)
}

func (c *DryGitClient) MergeTree(ctx context.Context, mergeBase, a, b string) (bool, error) {
	return c.clt.MergeTree(ctx, mergeBase, a, b)
}

func (c *DryGitClient) WriteTreeWithBlob(ctx context.Context, commit, path, blobHash string) (string, error) {
	return c.clt.WriteTreeWithBlob(ctx, commit, path, blobHash)
}

func (c *DryGitClient) CommitTree(ctx context.Context, tree, parent, message string) (string, error) {
	return c.clt.CommitTree(ctx, tree, parent, message)
}

func (c *DryGitClient) Push(_ context.Context, _, localRev, branch string, force bool) error {
	c.logger.Info(
		"simulated pushing branch, remote not changed",
		logfields.Branch(branch),
		logfields.Commit(localRev),
		zap.Bool("git.force", force),
	)

	return nil
}

func (c *DryGitClient) DeleteBranch(_ context.Context, _, branch string) error {
	c.logger.Info(
		"simulated deleting remote branch, remote not changed",
		logfields.Branch(branch),
	)

	return nil
}

func (c *DryGitClient) LsRemoteHeads(ctx context.Context, remoteURL, pattern string) (map[string]string, error) {
	return c.clt.LsRemoteHeads(ctx, remoteURL, pattern)
}

func (c *DryGitClient) RemoteBranchCommit(ctx context.Context, remoteURL, branch string) (string, bool, error) {
	return c.clt.RemoteBranchCommit(ctx, remoteURL, branch)
}
