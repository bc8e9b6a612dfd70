package mirror

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"

	"github.com/forkops/prmirror/internal/logfields"
)

// Promoter moves pending branches into the mirror namespace and opens the
// mirror pull requests for them.
//
// A pending branch encodes the pull request number and the sanitized head
// ref in its name, the commit it points at is already the exact upstream
// head. Promotion is a push of the mirror pointer followed by deletion of
// the pending pointer. The deletion only happens after the push succeeded,
// a crash in between leaves both pointers on the same commit, never
// neither, and the next run finishes the deletion.
type Promoter struct {
	gh       GithubClient
	git      GitClient
	retryer  Retryer
	target   *Target
	upserter *Upserter

	logger *zap.Logger
}

func NewPromoter(gh GithubClient, git GitClient, retryer Retryer, target *Target) *Promoter {
	return &Promoter{
		gh:       gh,
		git:      git,
		retryer:  retryer,
		target:   target,
		upserter: NewUpserter(gh, git, retryer, target),
		logger:   zap.L().Named("promoter"),
	}
}

// Run promotes all currently pending branches.
// Pending branches are independent units of work, a failing promotion is
// logged and the remaining branches are still processed.
func (p *Promoter) Run(ctx context.Context) (*PromotionStats, error) {
	stats := PromotionStats{}

	heads, err := p.git.LsRemoteHeads(ctx, p.target.DownstreamURL, "refs/heads/"+pendingNamespace+"/*")
	if err != nil {
		return &stats, fmt.Errorf("listing pending branches downstream failed: %w", err)
	}

	names := make([]string, 0, len(heads))
	for name := range heads {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error

	for _, name := range names {
		stats.Found++

		prNumber, suffix, err := ParsePendingBranchName(name)
		if err != nil {
			stats.Unparsable++
			p.logger.Warn(
				"branch in the pending namespace does not follow the naming scheme, skipping it",
				logfields.Event("pending_branch_unparsable"),
				logfields.Branch(name),
				zap.Error(err),
			)

			continue
		}

		if err := p.promote(ctx, name, heads[name], prNumber, suffix); err != nil {
			stats.Failures++
			p.logger.Error(
				"promoting pending branch failed, continuing with next",
				logfields.Event("promotion_failed"),
				logfields.Branch(name),
				logfields.PullRequest(prNumber),
				zap.Error(err),
			)

			errs = append(errs, fmt.Errorf("pending branch %s: %w", name, err))
			continue
		}

		stats.Promoted++
	}

	return &stats, errors.Join(errs...)
}

func (p *Promoter) promote(ctx context.Context, pendingBranch, sha string, prNumber int, suffix string) error {
	mirrorBranch := branchName(mirrorNamespace, prNumber, suffix)

	logger := p.logger.With(
		logfields.PullRequest(prNumber),
		logfields.Branch(pendingBranch),
		logfields.MirrorBranch(mirrorBranch),
		logfields.Commit(sha),
	)

	// The commit must be in the local repository to push it under the
	// new name, even though the remote already has the object.
	if err := p.git.Fetch(ctx, p.target.DownstreamURL, sha); err != nil {
		return fmt.Errorf("fetching pending branch commit %s failed: %w", sha, err)
	}

	if err := p.git.Push(ctx, p.target.DownstreamURL, sha, mirrorBranch, true); err != nil {
		return fmt.Errorf("pushing promoted branch %s failed: %w", mirrorBranch, err)
	}

	// Only delete the pending pointer after the mirror pointer is
	// durably pushed. A crash before this line leaves a harmless
	// duplicate, never a gap.
	if err := p.git.DeleteBranch(ctx, p.target.DownstreamURL, pendingBranch); err != nil {
		return fmt.Errorf("deleting pending branch %s failed: %w", pendingBranch, err)
	}

	logger.Info(
		"pending branch promoted",
		logfields.Event("pending_branch_promoted"),
	)

	// The pending branch carried no pull request metadata, fetch title
	// and body fresh from upstream.
	var pr *github.PullRequest

	err := p.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		pr, err = p.gh.GetPullRequest(ctx, p.target.UpstreamOwner, p.target.UpstreamRepo, prNumber)
		return err
	}, []zap.Field{logfields.PullRequest(prNumber)})
	if err != nil {
		return fmt.Errorf("fetching upstream pull request #%d failed: %w", prNumber, err)
	}

	return p.upserter.ensurePullRequest(ctx, prNumber, pr.GetTitle(), pr.GetBody(), mirrorBranch, p.target.DefaultBranch)
}
