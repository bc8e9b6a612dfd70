package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/forkops/prmirror/internal/cfg"
	"github.com/forkops/prmirror/internal/gitclt"
	"github.com/forkops/prmirror/internal/githubclt"
	"github.com/forkops/prmirror/internal/logfields"
	"github.com/forkops/prmirror/internal/mirror"
	"github.com/forkops/prmirror/internal/retry"
)

const appName = "prmirror"

var logger *zap.Logger

// Version is set via a ldflag on compilation
var Version = "unknown"

const defConfigFile = "prmirror.toml"

var (
	argVerbose bool
	argCfgFile string

	config *cfg.Config
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Mirror open upstream pull requests into a downstream repository.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadConfig(); err != nil {
				return err
			}

			initLogger()

			logger.Debug(
				"loaded cfg file",
				logfields.Event("cfg_loaded"),
				zap.String("cfg_file", argCfgFile),
				zap.String("upstream_repository", config.UpstreamRepository),
				zap.String("downstream_repository", config.DownstreamRepository),
				zap.String("upstream_default_branch", config.UpstreamDefaultBranch),
				zap.Int("lookback_days", config.LookbackDays),
				zap.Int("max_candidates_per_run", config.MaxCandidatesPerRun),
				zap.String("overlay_ref", config.OverlayRef),
				zap.String("overlay_file_path", config.OverlayFilePath),
				zap.String("github_api_token", hide(config.GithubAPIToken)),
			)

			return nil
		},
	}

	root.PersistentFlags().BoolVarP(&argVerbose, "verbose", "v", false, "enable verbose logging")
	root.PersistentFlags().StringVarP(&argCfgFile, "cfg-file", "c", defConfigFile, "path to the prmirror configuration file")

	root.AddCommand(
		newDiscoverCmd(),
		newUpsertCmd(),
		newPromoteCmd(),
		newVersionCmd(),
	)

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit.",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(*cobra.Command, []string) {
			fmt.Printf("%s %s\n", appName, Version)
		},
	}
}

func loadConfig() error {
	file, err := os.Open(argCfgFile)
	if err != nil {
		return fmt.Errorf("could not open configuration file: %w", err)
	}
	defer file.Close()

	config, err = cfg.Load(file)
	if err != nil {
		return fmt.Errorf("could not load configuration file %s: %w", argCfgFile, err)
	}

	if config.GithubAPIToken == "" {
		config.GithubAPIToken = os.Getenv("GITHUB_TOKEN")
	}

	return nil
}

// components bundles the wired clients a subcommand operates with.
type components struct {
	target  *mirror.Target
	gh      mirror.GithubClient
	git     mirror.GitClient
	retryer *retry.Retryer
}

func newComponents(ctx context.Context, dryRun bool) (*components, error) {
	target, err := mirror.NewTarget(config)
	if err != nil {
		return nil, err
	}

	gitRepo := gitclt.New(gitWorkDir())
	if err := gitRepo.EnsureRepository(ctx); err != nil {
		return nil, err
	}

	var gh mirror.GithubClient = githubclt.New(config.GithubAPIToken)
	var git mirror.GitClient = gitRepo

	if dryRun {
		gh = mirror.NewDryGithubClient(gh)
		git = mirror.NewDryGitClient(git)
	}

	return &components{
		target:  target,
		gh:      gh,
		git:     git,
		retryer: retry.NewRetryer(),
	}, nil
}

func gitWorkDir() string {
	if config.GitWorkDir != "" {
		return config.GitWorkDir
	}

	return ".prmirror-git"
}

func hide(in string) string {
	if in == "" {
		return in
	}

	return "**hidden**"
}

func initLogger() {
	var logLevel zapcore.Level
	if argVerbose {
		logLevel = zapcore.DebugLevel
	} else {
		if err := (&logLevel).Set(config.LogLevel); err != nil {
			fmt.Fprintf(os.Stderr, "can not set log level to %q: %s\n", config.LogLevel, err)
			os.Exit(2)
		}
	}

	switch config.LogFormat {
	case "logfmt":
		logger = initLogFmtLogger(logLevel)
	case "console", "json":
		logger = mustInitZapFormatLogger(logLevel)
	default:
		fmt.Fprintf(os.Stderr, "unsupported log-format argument: %q\n", config.LogFormat)
		os.Exit(2)
	}

	logger = logger.Named("main")
	zap.ReplaceGlobals(logger)
}

func initLogFmtLogger(logLevel zapcore.Level) *zap.Logger {
	return zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(zapEncoderConfig()),
		os.Stdout,
		logLevel),
	)
}

func zapEncoderConfig() zapcore.EncoderConfig {
	encCfg := zap.NewProductionEncoderConfig()

	encCfg.LevelKey = "loglevel"
	if config.LogTimeKey != "" {
		encCfg.TimeKey = config.LogTimeKey
	}
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	return encCfg
}

func mustInitZapFormatLogger(logLevel zapcore.Level) *zap.Logger {
	zapCfg := zap.NewProductionConfig()
	zapCfg.Sampling = nil
	zapCfg.EncoderConfig = zapEncoderConfig()
	zapCfg.OutputPaths = []string{"stdout"}
	zapCfg.Encoding = config.LogFormat
	zapCfg.Level = zap.NewAtomicLevelAt(logLevel)

	l, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not initialize logger: %s\n", err)
		os.Exit(2)
	}

	return l
}
