package mirror

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/forkops/prmirror/internal/logfields"
)

// fetchStrategy is one way of getting an upstream commit into the local
// repository. Strategies are tried in order, which strategy succeeded is
// logged so failures stay diagnosable.
type fetchStrategy struct {
	name string
	run  func(ctx context.Context) error
}

// ensureCommitFetched makes the exact upstream head commit of a pull
// request available in the local repository.
// The pull-request head ref is preferred, GitHub can however delete or
// rewrite it, so fetching the raw commit ID is the mandatory fallback.
func ensureCommitFetched(ctx context.Context, git GitClient, logger *zap.Logger, remoteURL string, prNumber int, commit string) error {
	if _, err := git.RevParse(ctx, commit+"^{commit}"); err == nil {
		return nil
	}

	strategies := []fetchStrategy{
		{
			name: "pull_request_head_ref",
			run: func(ctx context.Context) error {
				refspec := fmt.Sprintf("+refs/pull/%d/head:refs/prmirror/pr/%d", prNumber, prNumber)
				return git.Fetch(ctx, remoteURL, refspec)
			},
		},
		{
			name: "raw_commit_id",
			run: func(ctx context.Context) error {
				return git.Fetch(ctx, remoteURL, commit)
			},
		},
	}

	var errs []error

	for _, strategy := range strategies {
		if err := strategy.run(ctx); err != nil {
			logger.Debug(
				"fetch strategy failed",
				logfields.Event("commit_fetch_strategy_failed"),
				zap.String("fetch_strategy", strategy.name),
				logfields.Commit(commit),
				zap.Error(err),
			)

			errs = append(errs, fmt.Errorf("%s: %w", strategy.name, err))
			continue
		}

		if _, err := git.RevParse(ctx, commit+"^{commit}"); err == nil {
			logger.Debug(
				"upstream commit fetched",
				logfields.Event("commit_fetched"),
				zap.String("fetch_strategy", strategy.name),
				logfields.Commit(commit),
			)

			return nil
		}

		errs = append(errs, fmt.Errorf("%s: fetch succeeded but commit %s is still unresolvable", strategy.name, commit))
	}

	return fmt.Errorf("resolving upstream commit %s failed, all strategies exhausted: %w", commit, errors.Join(errs...))
}
