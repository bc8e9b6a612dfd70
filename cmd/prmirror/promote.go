package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/forkops/prmirror/internal/logfields"
	"github.com/forkops/prmirror/internal/mirror"
)

func newPromoteCmd() *cobra.Command {
	var argDryRun bool

	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Promote pending branches into the mirror namespace and open their pull requests.",
		Long: `Lists the downstream branches in the pending namespace, renames each into
the mirror namespace and ensures an open mirror pull request exists for it.
Run this after the analysis stage finished for the pending branches.

Promotion is idempotent, already promoted branches are simply absent from
the pending namespace and a run interrupted between push and delete is
completed by the next one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPromote(cmd.Context(), argDryRun)
		},
	}

	cmd.Flags().BoolVar(&argDryRun, "dry-run", false, "log mutations instead of performing them")

	return cmd
}

func runPromote(ctx context.Context, dryRun bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	comps, err := newComponents(ctx, dryRun)
	if err != nil {
		return err
	}

	promoter := mirror.NewPromoter(comps.gh, comps.git, comps.retryer, comps.target)

	stats, err := promoter.Run(ctx)
	logger.Info("promotion finished", append(stats.LogFields(), logfields.Event("promotion_finished"))...)

	return err
}
