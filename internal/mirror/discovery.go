package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"

	"github.com/forkops/prmirror/internal/logfields"
)

// overlaySyncer is implemented by OverlaySyncer.
type overlaySyncer interface {
	Sync(ctx context.Context, baseCommit string) (branch, tip string, upToDate bool, err error)
}

// Discoverer finds upstream pull requests that are eligible for mirroring
// and emits one Record per eligible candidate.
//
// It runs in one of two modes. In scheduled mode it pages through the
// upstream open pull requests, most recently updated first, skips ineligible
// candidates and stops once the candidate quota is reached. In manual mode
// exactly one explicitly named pull request is evaluated and every failing
// eligibility check aborts the run, the recency, overlay-freshness and
// up-to-date optimizations are bypassed because the user explicitly asked
// for this pull request.
type Discoverer struct {
	gh      GithubClient
	git     GitClient
	overlay overlaySyncer
	retryer Retryer
	target  *Target

	lookback      time.Duration
	maxCandidates int

	// explicitPR switches to manual mode.
	explicitPR *PRSpecifier
	// baseCommitOverride replaces the computed merge-base and routes the
	// mirror pull request to the overlay base branch.
	baseCommitOverride string

	logger *zap.Logger
}

type DiscovererOpt func(*Discoverer)

// WithLookback excludes pull requests in scheduled mode that were neither
// created nor updated within d.
func WithLookback(d time.Duration) DiscovererOpt {
	return func(disc *Discoverer) { disc.lookback = d }
}

// WithMaxCandidates stops scheduled discovery after n records were emitted.
func WithMaxCandidates(n int) DiscovererOpt {
	return func(disc *Discoverer) { disc.maxCandidates = n }
}

// WithExplicitPullRequest switches discovery to manual mode for the given
// pull request.
func WithExplicitPullRequest(spec *PRSpecifier) DiscovererOpt {
	return func(disc *Discoverer) { disc.explicitPR = spec }
}

// WithBaseCommitOverride uses baseCommit verbatim instead of computing a
// merge-base and routes the mirror pull request to the overlay base branch.
func WithBaseCommitOverride(baseCommit string) DiscovererOpt {
	return func(disc *Discoverer) { disc.baseCommitOverride = baseCommit }
}

func NewDiscoverer(gh GithubClient, git GitClient, overlay overlaySyncer, retryer Retryer, target *Target, opts ...DiscovererOpt) *Discoverer {
	disc := &Discoverer{
		gh:      gh,
		git:     git,
		overlay: overlay,
		retryer: retryer,
		target:  target,
		logger:  zap.L().Named("discoverer"),
	}

	for _, opt := range opts {
		opt(disc)
	}

	return disc
}

// Discover evaluates candidates and writes a Record per eligible pull
// request to out.
func (d *Discoverer) Discover(ctx context.Context, out *RecordWriter) (*DiscoveryStats, error) {
	defaultTip, err := d.fetchUpstreamDefaultBranch(ctx)
	if err != nil {
		return nil, err
	}

	if d.explicitPR != nil {
		return d.discoverManual(ctx, out, defaultTip)
	}

	return d.discoverScheduled(ctx, out, defaultTip)
}

func (d *Discoverer) fetchUpstreamDefaultBranch(ctx context.Context) (tip string, err error) {
	localRef := "refs/prmirror/upstream-" + d.target.DefaultBranch
	refspec := fmt.Sprintf("+refs/heads/%s:%s", d.target.DefaultBranch, localRef)

	if err := d.git.Fetch(ctx, d.target.UpstreamURL, refspec); err != nil {
		return "", fmt.Errorf("fetching upstream default branch %s failed: %w", d.target.DefaultBranch, err)
	}

	return d.git.RevParse(ctx, localRef)
}

func (d *Discoverer) discoverScheduled(ctx context.Context, out *RecordWriter, defaultTip string) (*DiscoveryStats, error) {
	stats := DiscoveryStats{}

	it := d.gh.ListOpenPullRequests(ctx, d.target.UpstreamOwner, d.target.UpstreamRepo, d.target.DefaultBranch)

	for {
		if d.maxCandidates > 0 && stats.Emitted >= d.maxCandidates {
			d.logger.Info(
				"candidate quota reached, stopping discovery",
				logfields.Event("discovery_quota_reached"),
				zap.Int("max_candidates", d.maxCandidates),
			)

			break
		}

		var pr *github.PullRequest

		err := d.retryer.Run(ctx, func(ctx context.Context) error {
			var err error
			pr, err = it.Next()
			return err
		}, []zap.Field{logfields.Repository(d.target.upstreamSlug())})
		if err != nil {
			return &stats, fmt.Errorf("listing upstream pull requests failed: %w", err)
		}

		if pr == nil {
			break
		}

		stats.Seen++
		logger := d.logger.With(logfields.PullRequest(pr.GetNumber()))

		rec, err := d.evaluate(ctx, pr, defaultTip, false)
		if err != nil {
			var skipErr *skipError
			if errors.As(err, &skipErr) {
				stats.countSkip(skipErr.reason)
				logger.Info(
					"candidate skipped",
					logfields.Event("discovery_candidate_skipped"),
					logfields.SkipReason(string(skipErr.reason)),
					zap.Error(skipErr.cause),
				)

				continue
			}

			var fatalErr *fatalError
			if errors.As(err, &fatalErr) {
				return &stats, fatalErr.err
			}

			stats.Failures++
			logger.Error(
				"evaluating candidate failed, continuing with next",
				logfields.Event("discovery_candidate_failed"),
				zap.Error(err),
			)

			continue
		}

		if err := out.Write(rec); err != nil {
			return &stats, err
		}

		stats.Emitted++
		logger.Info(
			"mirror record emitted",
			logfields.Event("discovery_record_emitted"),
			logfields.MirrorBranch(rec.Branch),
			logfields.Commit(rec.HeadSHA),
			logfields.MergeBase(rec.MergeBaseShort),
		)
	}

	return &stats, nil
}

func (d *Discoverer) discoverManual(ctx context.Context, out *RecordWriter, defaultTip string) (*DiscoveryStats, error) {
	stats := DiscoveryStats{}

	if !d.explicitPR.matchesRepository(d.target.UpstreamOwner, d.target.UpstreamRepo) {
		return &stats, fmt.Errorf("pull request %s does not belong to the configured upstream repository %s",
			d.explicitPR, d.target.upstreamSlug())
	}

	var pr *github.PullRequest

	err := d.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		pr, err = d.gh.GetPullRequest(ctx, d.target.UpstreamOwner, d.target.UpstreamRepo, d.explicitPR.Number)
		return err
	}, []zap.Field{logfields.PullRequest(d.explicitPR.Number)})
	if err != nil {
		return &stats, fmt.Errorf("fetching pull request %s failed: %w", d.explicitPR, err)
	}

	if pr.GetState() != "open" {
		return &stats, fmt.Errorf("pull request %s is not open, state: %s", d.explicitPR, pr.GetState())
	}

	stats.Seen++

	rec, err := d.evaluate(ctx, pr, defaultTip, true)
	if err != nil {
		var fatalErr *fatalError
		if errors.As(err, &fatalErr) {
			err = fatalErr.err
		}

		return &stats, fmt.Errorf("pull request %s is not eligible for mirroring: %w", d.explicitPR, err)
	}

	if err := out.Write(rec); err != nil {
		return &stats, err
	}

	stats.Emitted++
	d.logger.Info(
		"mirror record emitted",
		logfields.Event("discovery_record_emitted"),
		logfields.PullRequest(rec.PullNumber),
		logfields.MirrorBranch(rec.Branch),
		logfields.Commit(rec.HeadSHA),
		logfields.MergeBase(rec.MergeBaseShort),
	)

	return &stats, nil
}

// evaluate runs the per-candidate eligibility pipeline, short-circuiting at
// the first failing predicate.
func (d *Discoverer) evaluate(ctx context.Context, pr *github.PullRequest, defaultTip string, manual bool) (*Record, error) {
	number := pr.GetNumber()
	headSHA := pr.GetHead().GetSHA()
	headRef := pr.GetHead().GetRef()

	if headSHA == "" || headRef == "" {
		return nil, fmt.Errorf("pull request #%d has an empty head sha or ref", number)
	}

	if !manual && d.lookback > 0 {
		cutoff := time.Now().Add(-d.lookback)
		updated := pr.GetUpdatedAt().Time
		created := pr.GetCreatedAt().Time

		if updated.Before(cutoff) && created.Before(cutoff) {
			return nil, skip(SkipReasonTooOld,
				fmt.Errorf("last update %s is before cutoff %s", updated.Format(time.RFC3339), cutoff.Format(time.RFC3339)))
		}
	}

	if err := ensureCommitFetched(ctx, d.git, d.logger, d.target.UpstreamURL, number, headSHA); err != nil {
		return nil, err
	}

	mergeBase, err := d.resolveMergeBase(ctx, headSHA, defaultTip)
	if err != nil {
		return nil, err
	}

	overlayBranch, overlayTip, overlayUpToDate, err := d.overlay.Sync(ctx, mergeBase)
	if err != nil {
		return nil, fatal(fmt.Errorf("synchronizing overlay base for merge-base %s failed: %w", mergeBase, err))
	}

	if !overlayUpToDate && !manual {
		// The base just changed, eligibility is re-evaluated on the
		// next run against the settled overlay branch.
		return nil, skip(SkipReasonOverlayUpdated, nil)
	}

	conflictRef := defaultTip
	if d.baseCommitOverride != "" {
		conflictRef = overlayTip
	}

	conflicted, err := d.git.MergeTree(ctx, mergeBase, headSHA, conflictRef)
	if err != nil {
		return nil, fmt.Errorf("merge conflict check failed: %w", err)
	}

	if conflicted {
		return nil, skip(SkipReasonConflict,
			fmt.Errorf("merging %s and %s with base %s conflicts", headSHA, conflictRef, mergeBase))
	}

	mirrorBranch := MirrorBranchName(number, headRef)

	if !manual {
		// Best effort: a failing lookup must never block mirroring,
		// it only costs an unnecessary re-mirror.
		existingSHA, exists, err := d.git.RemoteBranchCommit(ctx, d.target.DownstreamURL, mirrorBranch)
		if err != nil {
			d.logger.Warn(
				"querying downstream mirror branch failed, assuming it does not exist",
				logfields.Event("mirror_branch_lookup_failed"),
				logfields.MirrorBranch(mirrorBranch),
				zap.Error(err),
			)
		} else if exists && existingSHA == headSHA {
			return nil, skip(SkipReasonUpToDate, nil)
		}
	}

	return &Record{
		PullNumber:     number,
		Title:          pr.GetTitle(),
		Body:           pr.GetBody(),
		HeadSHA:        headSHA,
		Branch:         mirrorBranch,
		OverlayBranch:  overlayBranch,
		MergeBaseShort: ShortSHA(mergeBase),
		UseOverlayBase: d.baseCommitOverride != "",
	}, nil
}

func (d *Discoverer) resolveMergeBase(ctx context.Context, headSHA, defaultTip string) (string, error) {
	if d.baseCommitOverride != "" {
		if err := d.ensureBaseOverrideFetched(ctx); err != nil {
			return "", err
		}

		return d.baseCommitOverride, nil
	}

	mergeBase, err := d.git.MergeBase(ctx, defaultTip, headSHA)
	if err != nil {
		return "", skip(SkipReasonNoMergeBase, err)
	}

	return mergeBase, nil
}

func (d *Discoverer) ensureBaseOverrideFetched(ctx context.Context) error {
	if _, err := d.git.RevParse(ctx, d.baseCommitOverride+"^{commit}"); err == nil {
		return nil
	}

	if err := d.git.Fetch(ctx, d.target.UpstreamURL, d.baseCommitOverride); err != nil {
		return fmt.Errorf("fetching base commit override %s from upstream failed: %w", d.baseCommitOverride, err)
	}

	if _, err := d.git.RevParse(ctx, d.baseCommitOverride+"^{commit}"); err != nil {
		return fmt.Errorf("base commit override %s is not a resolvable commit: %w", d.baseCommitOverride, err)
	}

	return nil
}
