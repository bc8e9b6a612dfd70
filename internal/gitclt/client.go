// Package gitclt runs git plumbing commands against a local repository that
// serves as object cache for the mirrored repositories.
// All remote interaction happens via URLs passed per call, no remotes are
// configured in the repository.
package gitclt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

const loggerName = "git_client"

// ErrNoMergeBase is returned by MergeBase when the two commits have no
// common ancestor.
var ErrNoMergeBase = errors.New("commits have no common ancestor")

// credentialRe matches userinfo in https URLs, it is stripped before URLs
// are logged or embedded in error messages.
var credentialRe = regexp.MustCompile(`://[^@/\s]+@`)

func redact(s string) string {
	return credentialRe.ReplaceAllString(s, "://***@")
}

type Client struct {
	dir    string
	logger *zap.Logger
}

func New(dir string) *Client {
	return &Client{
		dir:    dir,
		logger: zap.L().Named(loggerName),
	}
}

// EnsureRepository initializes a bare repository in the client's directory
// if it does not already contain one.
func (c *Client) EnsureRepository(ctx context.Context) error {
	if _, err := c.run(ctx, nil, "rev-parse", "--git-dir"); err == nil {
		return nil
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("creating git work dir failed: %w", err)
	}

	_, err := c.run(ctx, nil, "init", "--bare", "--quiet")
	return err
}

func (c *Client) run(ctx context.Context, extraEnv []string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", c.dir}, args...)...)
	cmd.Env = append(os.Environ(), extraEnv...)

	var stderr strings.Builder
	cmd.Stderr = &stderr

	stdout, err := cmd.Output()

	redactedArgs := redact(strings.Join(args, " "))

	c.logger.Debug(
		"git command executed",
		zap.String("git.args", redactedArgs),
		zap.Bool("git.success", err == nil),
	)

	if err != nil {
		return "", fmt.Errorf("git %s failed: %w, stderr: %s",
			redactedArgs, err, redact(strings.TrimSpace(stderr.String())))
	}

	return strings.TrimSpace(string(stdout)), nil
}

// exitCode returns the process exit code wrapped in err, or -1.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}

// Fetch downloads the given refspecs or raw commit IDs from remoteURL.
func (c *Client) Fetch(ctx context.Context, remoteURL string, refspecs ...string) error {
	args := append([]string{"fetch", "--quiet", "--no-tags", remoteURL}, refspecs...)
	_, err := c.run(ctx, nil, args...)
	return err
}

// RevParse resolves rev to an object ID.
func (c *Client) RevParse(ctx context.Context, rev string) (string, error) {
	return c.run(ctx, nil, "rev-parse", "--verify", rev)
}

// TreeOf returns the tree object ID of a commit.
func (c *Client) TreeOf(ctx context.Context, commit string) (string, error) {
	return c.run(ctx, nil, "rev-parse", "--verify", commit+"^{tree}")
}

// BlobHash returns the blob object ID of path in the tree of rev.
// If the path does not exist in the tree, exists is false.
func (c *Client) BlobHash(ctx context.Context, rev, path string) (hash string, exists bool, err error) {
	out, err := c.run(ctx, nil, "ls-tree", rev, "--", path)
	if err != nil {
		return "", false, err
	}

	if out == "" {
		return "", false, nil
	}

	// format: <mode> <type> <object>\t<path>
	fields := strings.Fields(strings.SplitN(out, "\t", 2)[0])
	if len(fields) != 3 {
		return "", false, fmt.Errorf("unexpected ls-tree output: %q", out)
	}

	return fields[2], true, nil
}

// MergeBase returns the best common ancestor of the two commits.
// ErrNoMergeBase is returned when they share no history.
func (c *Client) MergeBase(ctx context.Context, a, b string) (string, error) {
	out, err := c.run(ctx, nil, "merge-base", a, b)
	if err != nil {
		if exitCode(err) == 1 {
			return "", ErrNoMergeBase
		}

		return "", err
	}

	return out, nil
}

// MergeTree performs a three-way merge of a and b with the given merge-base
// without touching a working tree and reports whether the merge would
// conflict.
func (c *Client) MergeTree(ctx context.Context, mergeBase, a, b string) (conflicted bool, err error) {
	_, err = c.run(ctx, nil, "merge-tree", "--write-tree", "--merge-base="+mergeBase, a, b)
	if err != nil {
		if exitCode(err) == 1 {
			return true, nil
		}

		return false, err
	}

	return false, nil
}

// WriteTreeWithBlob builds a new tree object that equals the tree of commit
// with the blob at path replaced by blobHash, using a temporary index, and
// returns the new tree's object ID.
func (c *Client) WriteTreeWithBlob(ctx context.Context, commit, path, blobHash string) (string, error) {
	indexFile, err := os.CreateTemp("", "prmirror-index-*")
	if err != nil {
		return "", fmt.Errorf("creating temporary index file failed: %w", err)
	}
	indexFile.Close()
	defer os.Remove(indexFile.Name())

	env := []string{"GIT_INDEX_FILE=" + indexFile.Name()}

	if _, err := c.run(ctx, env, "read-tree", commit); err != nil {
		return "", err
	}

	cacheInfo := fmt.Sprintf("100644,%s,%s", blobHash, path)
	if _, err := c.run(ctx, env, "update-index", "--add", "--cacheinfo", cacheInfo); err != nil {
		return "", err
	}

	return c.run(ctx, env, "write-tree")
}

// CommitTree creates a commit object for tree with the given parent and
// message and returns its object ID.
func (c *Client) CommitTree(ctx context.Context, tree, parent, message string) (string, error) {
	return c.run(ctx, nil, "commit-tree", tree, "-p", parent, "-m", message)
}

// Push updates refs/heads/<branch> on the remote to the commit localRev
// resolves to.
func (c *Client) Push(ctx context.Context, remoteURL, localRev, branch string, force bool) error {
	args := []string{"push", "--quiet"}
	if force {
		args = append(args, "--force")
	}

	args = append(args, remoteURL, localRev+":refs/heads/"+branch)

	_, err := c.run(ctx, nil, args...)
	return err
}

// DeleteBranch removes refs/heads/<branch> on the remote.
func (c *Client) DeleteBranch(ctx context.Context, remoteURL, branch string) error {
	_, err := c.run(ctx, nil, "push", "--quiet", remoteURL, ":refs/heads/"+branch)
	return err
}

// LsRemoteHeads lists branches on the remote matching pattern and returns
// branch name (without the refs/heads/ prefix) to commit ID.
func (c *Client) LsRemoteHeads(ctx context.Context, remoteURL, pattern string) (map[string]string, error) {
	out, err := c.run(ctx, nil, "ls-remote", "--heads", remoteURL, pattern)
	if err != nil {
		return nil, err
	}

	result := map[string]string{}

	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}

		sha, ref, found := strings.Cut(line, "\t")
		if !found {
			return nil, fmt.Errorf("unexpected ls-remote output line: %q", line)
		}

		result[strings.TrimPrefix(ref, "refs/heads/")] = sha
	}

	return result, nil
}

// RemoteBranchCommit returns the commit a remote branch points at.
// If the branch does not exist on the remote, exists is false.
func (c *Client) RemoteBranchCommit(ctx context.Context, remoteURL, branch string) (sha string, exists bool, err error) {
	heads, err := c.LsRemoteHeads(ctx, remoteURL, "refs/heads/"+branch)
	if err != nil {
		return "", false, err
	}

	sha, exists = heads[branch]
	return sha, exists, nil
}
