package mirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"

	"github.com/forkops/prmirror/internal/logfields"
)

const titlePrefix = "UPSTREAM PR"

// Upserter consumes mirror records, force-updates the downstream mirror
// branch to the exact upstream head commit and ensures exactly one open
// downstream pull request references it.
// Upserting the same record twice converges to identical downstream state.
type Upserter struct {
	gh      GithubClient
	git     GitClient
	retryer Retryer
	target  *Target

	// pending pushes branches under the pending namespace and skips the
	// pull request step, the branches are promoted later after the
	// analysis stage ran.
	pending bool

	logger *zap.Logger
}

type UpserterOpt func(*Upserter)

// WithPendingNamespace makes the Upserter push to the pending branch
// namespace and suppress pull request creation.
func WithPendingNamespace() UpserterOpt {
	return func(u *Upserter) { u.pending = true }
}

func NewUpserter(gh GithubClient, git GitClient, retryer Retryer, target *Target, opts ...UpserterOpt) *Upserter {
	u := &Upserter{
		gh:      gh,
		git:     git,
		retryer: retryer,
		target:  target,
		logger:  zap.L().Named("upserter"),
	}

	for _, opt := range opts {
		opt(u)
	}

	return u
}

// ProcessAll upserts all records. Records are independent units of work, a
// failing record is logged and does not prevent processing the remaining
// ones. The combined error of all failed records is returned.
func (u *Upserter) ProcessAll(ctx context.Context, records []*Record) (*UpsertStats, error) {
	stats := UpsertStats{}

	var errs []error

	for _, rec := range records {
		stats.Processed++

		if err := u.Upsert(ctx, rec); err != nil {
			stats.Failures++
			u.logger.Error(
				"upserting mirror for pull request failed, continuing with next record",
				logfields.Event("upsert_record_failed"),
				logfields.PullRequest(rec.PullNumber),
				zap.Error(err),
			)

			errs = append(errs, fmt.Errorf("pull request #%d: %w", rec.PullNumber, err))
			continue
		}

		stats.Upserted++
	}

	return &stats, errors.Join(errs...)
}

// Upsert mirrors a single record.
func (u *Upserter) Upsert(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	branch := rec.Branch
	if u.pending {
		branch = PendingVariant(rec.Branch)
	}

	logger := u.logger.With(
		logfields.PullRequest(rec.PullNumber),
		logfields.MirrorBranch(branch),
		logfields.Commit(rec.HeadSHA),
	)

	if err := ensureCommitFetched(ctx, u.git, logger, u.target.UpstreamURL, rec.PullNumber, rec.HeadSHA); err != nil {
		return err
	}

	// Force-pushing unconditionally is idempotent and guarantees
	// convergence when the downstream ref drifted, e.g. through manual
	// intervention.
	if err := u.git.Push(ctx, u.target.DownstreamURL, rec.HeadSHA, branch, true); err != nil {
		return fmt.Errorf("force-pushing mirror branch %s failed: %w", branch, err)
	}

	logger.Info(
		"mirror branch updated",
		logfields.Event("mirror_branch_updated"),
	)

	if u.pending {
		return nil
	}

	baseBranch := u.target.DefaultBranch
	if rec.UseOverlayBase {
		baseBranch = rec.OverlayBranch
	}

	return u.ensurePullRequest(ctx, rec.PullNumber, rec.Title, rec.Body, branch, baseBranch)
}

// ensurePullRequest guarantees that exactly one open downstream pull request
// with the given head and base branch exists.
// The hosting platform does not enforce this uniqueness, so the open pull
// requests are queried before one is created.
func (u *Upserter) ensurePullRequest(ctx context.Context, prNumber int, title, body, headBranch, baseBranch string) error {
	logger := u.logger.With(
		logfields.PullRequest(prNumber),
		logfields.MirrorBranch(headBranch),
		logfields.BaseBranch(baseBranch),
	)

	var existing []*github.PullRequest

	err := u.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		existing, err = u.gh.ListOpenPullRequestsByHeadBase(
			ctx,
			u.target.DownstreamOwner, u.target.DownstreamRepo,
			u.target.DownstreamOwner+":"+headBranch,
			baseBranch,
		)
		return err
	}, []zap.Field{logfields.MirrorBranch(headBranch)})
	if err != nil {
		return fmt.Errorf("listing downstream pull requests for head %s failed: %w", headBranch, err)
	}

	if len(existing) > 0 {
		if len(existing) > 1 {
			logger.Warn(
				"more than one open mirror pull request found for the same head and base, using the first",
				logfields.Event("duplicate_mirror_pull_requests_found"),
				zap.Int("open_pull_requests", len(existing)),
			)
		}

		logger.Debug(
			"open mirror pull request exists, branch update already synchronized its content",
			logfields.Event("mirror_pull_request_exists"),
			logfields.PullRequest(existing[0].GetNumber()),
		)

		return nil
	}

	created, err := u.gh.CreatePullRequest(
		ctx,
		u.target.DownstreamOwner, u.target.DownstreamRepo,
		fmt.Sprintf("%s #%d: %s", titlePrefix, prNumber, title),
		mirrorPRBody(u.target, prNumber, body),
		headBranch,
		baseBranch,
	)
	if err != nil {
		return fmt.Errorf("creating mirror pull request for %s failed: %w", headBranch, err)
	}

	logger.Info(
		"mirror pull request created",
		logfields.Event("mirror_pull_request_created"),
		zap.Int("github.mirror_pull_request", created.GetNumber()),
	)

	return nil
}

func mirrorPRBody(target *Target, prNumber int, upstreamBody string) string {
	provenance := fmt.Sprintf(
		"Mirrors %s#%d: https://github.com/%s/pull/%d",
		target.upstreamSlug(), prNumber, target.upstreamSlug(), prNumber,
	)

	if upstreamBody == "" {
		return provenance
	}

	return provenance + "\n\n---\n\n" + upstreamBody
}
