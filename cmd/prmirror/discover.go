package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/forkops/prmirror/internal/logfields"
	"github.com/forkops/prmirror/internal/mirror"
)

const defRecordsFile = "mirror-records.jsonl"

func newDiscoverCmd() *cobra.Command {
	var (
		argPR         string
		argBaseCommit string
		argRecords    string
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find upstream pull requests eligible for mirroring and emit mirror records.",
		Long: `Pages through the open upstream pull requests, applies the eligibility
pipeline and writes one mirror record per eligible pull request to the
records file. With --pr a single explicitly named pull request is evaluated
instead and every failing check aborts the run.

The line "selected=true" or "selected=false" is printed on stdout and
appended to the file named by the GITHUB_OUTPUT environment variable when it
is set, so the orchestrating pipeline can skip the upsert phase when there
is nothing to do.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDiscover(cmd.Context(), argPR, argBaseCommit, argRecords)
		},
	}

	cmd.Flags().StringVar(&argPR, "pr", "", "mirror a single pull request, by number or URL, instead of discovering candidates")
	cmd.Flags().StringVar(&argBaseCommit, "base-commit", "", "use this commit verbatim as merge-base and target the overlay base branch")
	cmd.Flags().StringVar(&argRecords, "records", defRecordsFile, "path the mirror records are written to")

	return cmd
}

func runDiscover(ctx context.Context, argPR, argBaseCommit, argRecords string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	comps, err := newComponents(ctx, false)
	if err != nil {
		return err
	}

	opts := []mirror.DiscovererOpt{
		mirror.WithLookback(time.Duration(config.LookbackDays) * 24 * time.Hour),
		mirror.WithMaxCandidates(config.MaxCandidatesPerRun),
	}

	if argPR != "" {
		spec, err := mirror.ParsePRSpecifier(argPR)
		if err != nil {
			return err
		}

		opts = append(opts, mirror.WithExplicitPullRequest(spec))
	}

	if argBaseCommit != "" {
		opts = append(opts, mirror.WithBaseCommitOverride(argBaseCommit))
	}

	overlay := mirror.NewOverlaySyncer(comps.git, comps.target, config.OverlayRef, config.OverlayFilePath)
	discoverer := mirror.NewDiscoverer(comps.gh, comps.git, overlay, comps.retryer, comps.target, opts...)

	recordsFile, err := os.Create(argRecords)
	if err != nil {
		return fmt.Errorf("could not create records file: %w", err)
	}

	stats, discoverErr := discoverer.Discover(ctx, mirror.NewRecordWriter(recordsFile))

	if err := recordsFile.Close(); err != nil {
		return fmt.Errorf("closing records file failed: %w", err)
	}

	if stats != nil {
		logger.Info("discovery finished", append(stats.LogFields(), logfields.Event("discovery_finished"))...)

		if err := writeSelectedOutput(stats.Emitted > 0); err != nil {
			return err
		}
	}

	return discoverErr
}

// writeSelectedOutput signals the orchestrating pipeline whether any
// candidates were selected.
func writeSelectedOutput(selected bool) error {
	line := fmt.Sprintf("selected=%t\n", selected)

	fmt.Print(line)

	outputFile := os.Getenv("GITHUB_OUTPUT")
	if outputFile == "" {
		return nil
	}

	f, err := os.OpenFile(outputFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("could not open GITHUB_OUTPUT file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("writing to GITHUB_OUTPUT file failed: %w", err)
	}

	return nil
}
