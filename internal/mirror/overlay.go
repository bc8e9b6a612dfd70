package mirror

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/forkops/prmirror/internal/logfields"
)

// localOverlaySourceRef is the local ref the downstream overlay branch is
// fetched into.
const localOverlaySourceRef = "refs/prmirror/overlay-source"

const overlayCommitMessage = "Inject analysis workflow"

// OverlaySyncer maintains the overlay base branches downstream.
// For a given merge-base commit it ensures a branch exists whose tree equals
// the merge-base's tree with the overlay workflow file injected from the
// shared overlay branch.
type OverlaySyncer struct {
	git    GitClient
	target *Target

	// overlayRef is the downstream branch holding the current overlay
	// file contents.
	overlayRef  string
	overlayFile string

	// sourceBlob caches the overlay file's blob hash for the duration of
	// one run, the overlay branch is fetched once.
	sourceBlob string

	logger *zap.Logger
}

func NewOverlaySyncer(git GitClient, target *Target, overlayRef, overlayFile string) *OverlaySyncer {
	return &OverlaySyncer{
		git:         git,
		target:      target,
		overlayRef:  overlayRef,
		overlayFile: overlayFile,
		logger:      zap.L().Named("overlay_syncer"),
	}
}

// Sync ensures the overlay base branch for baseCommit exists downstream and
// carries the current overlay file contents.
// The branch tip commit and whether the branch was already up to date are
// returned. baseCommit must already be present in the local repository.
func (s *OverlaySyncer) Sync(ctx context.Context, baseCommit string) (branch, tip string, upToDate bool, err error) {
	sourceBlob, err := s.overlaySourceBlob(ctx)
	if err != nil {
		return "", "", false, err
	}

	branch = OverlayBranchName(s.target.DefaultBranch, baseCommit)

	logger := s.logger.With(
		logfields.OverlayBranch(branch),
		logfields.Commit(baseCommit),
	)

	existingSHA, exists, err := s.git.RemoteBranchCommit(ctx, s.target.DownstreamURL, branch)
	if err != nil {
		return "", "", false, fmt.Errorf("querying downstream for overlay branch %s failed: %w", branch, err)
	}

	if exists {
		if err := s.git.Fetch(ctx, s.target.DownstreamURL, existingSHA); err != nil {
			return "", "", false, fmt.Errorf("fetching overlay branch tip %s failed: %w", existingSHA, err)
		}

		existingBlob, blobExists, err := s.git.BlobHash(ctx, existingSHA, s.overlayFile)
		if err != nil {
			return "", "", false, err
		}

		if blobExists && existingBlob == sourceBlob {
			logger.Debug(
				"overlay base branch carries the current overlay file, not touching it",
				logfields.Event("overlay_base_up_to_date"),
			)

			return branch, existingSHA, true, nil
		}
	}

	tree, err := s.git.WriteTreeWithBlob(ctx, baseCommit, s.overlayFile, sourceBlob)
	if err != nil {
		return "", "", false, fmt.Errorf("building overlay tree for %s failed: %w", baseCommit, err)
	}

	baseTree, err := s.git.TreeOf(ctx, baseCommit)
	if err != nil {
		return "", "", false, err
	}

	// A commit that does not change the tree is forbidden, when the base
	// commit already contains the overlay file verbatim it becomes the
	// branch tip itself.
	tip = baseCommit
	if tree != baseTree {
		tip, err = s.git.CommitTree(ctx, tree, baseCommit, overlayCommitMessage)
		if err != nil {
			return "", "", false, fmt.Errorf("committing overlay tree failed: %w", err)
		}
	}

	if err := s.git.Push(ctx, s.target.DownstreamURL, tip, branch, true); err != nil {
		return "", "", false, fmt.Errorf("pushing overlay branch %s failed: %w", branch, err)
	}

	logger.Info(
		"overlay base branch synchronized",
		logfields.Event("overlay_base_synchronized"),
		zap.String("git.overlay_tip", tip),
		zap.Bool("overlay_branch_existed", exists),
	)

	return branch, tip, false, nil
}

func (s *OverlaySyncer) overlaySourceBlob(ctx context.Context) (string, error) {
	if s.sourceBlob != "" {
		return s.sourceBlob, nil
	}

	refspec := fmt.Sprintf("+refs/heads/%s:%s", s.overlayRef, localOverlaySourceRef)
	if err := s.git.Fetch(ctx, s.target.DownstreamURL, refspec); err != nil {
		return "", fmt.Errorf("fetching overlay source branch %s failed: %w", s.overlayRef, err)
	}

	blob, exists, err := s.git.BlobHash(ctx, localOverlaySourceRef, s.overlayFile)
	if err != nil {
		return "", err
	}

	if !exists {
		return "", fmt.Errorf("overlay source branch %s does not contain the overlay file %s", s.overlayRef, s.overlayFile)
	}

	s.sourceBlob = blob
	return blob, nil
}
