package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forkops/prmirror/internal/logfields"
	"github.com/forkops/prmirror/internal/mirror"
)

func newUpsertCmd() *cobra.Command {
	var (
		argRecords string
		argPending bool
		argDryRun  bool
	)

	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Mirror the branches and pull requests described by a records file.",
		Long: `Reads the mirror records emitted by the discover phase, force-updates the
downstream mirror branch of every record to the exact upstream head commit
and ensures exactly one open downstream pull request references it.

With --pending the branches are pushed under the pending namespace and no
pull requests are opened, a later promote run exposes them after the
analysis stage finished.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUpsert(cmd.Context(), argRecords, argPending, argDryRun)
		},
	}

	cmd.Flags().StringVar(&argRecords, "records", defRecordsFile, "path of the mirror records file")
	cmd.Flags().BoolVar(&argPending, "pending", false, "push to the pending branch namespace and skip pull request creation")
	cmd.Flags().BoolVar(&argDryRun, "dry-run", false, "log mutations instead of performing them")

	return cmd
}

func runUpsert(ctx context.Context, argRecords string, pending, dryRun bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	recordsFile, err := os.Open(argRecords)
	if err != nil {
		return fmt.Errorf("could not open records file: %w", err)
	}

	records, err := mirror.ReadRecords(recordsFile)
	recordsFile.Close()
	if err != nil {
		return err
	}

	if len(records) == 0 {
		logger.Info(
			"records file contains no records, nothing to do",
			logfields.Event("upsert_nothing_to_do"),
		)

		return nil
	}

	comps, err := newComponents(ctx, dryRun)
	if err != nil {
		return err
	}

	var opts []mirror.UpserterOpt
	if pending {
		opts = append(opts, mirror.WithPendingNamespace())
	}

	upserter := mirror.NewUpserter(comps.gh, comps.git, comps.retryer, comps.target, opts...)

	stats, err := upserter.ProcessAll(ctx, records)
	logger.Info("upsert finished", append(stats.LogFields(), logfields.Event("upsert_finished"))...)

	return err
}
