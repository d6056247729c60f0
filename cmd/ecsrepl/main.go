package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/pkg/profile"
	"github.com/spf13/cobra"

	"github.com/nvandessel/ecsrepl/internal/config"
	"github.com/nvandessel/ecsrepl/internal/logging"
	"github.com/nvandessel/ecsrepl/internal/metrics"
	"github.com/nvandessel/ecsrepl/internal/store"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd, stopProfile := newRootCmd()
	err := rootCmd.Execute()
	stopProfile()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. The returned func stops a profile
// started by --profile; call it after Execute whether or not it failed,
// since cobra skips post-run hooks on error.
func newRootCmd() (*cobra.Command, func()) {
	var prof interface{ Stop() }
	stopProfile := func() {
		if prof != nil {
			prof.Stop()
			prof = nil
		}
	}

	rootCmd := &cobra.Command{
		Use:   "ecsrepl",
		Short: "Entity store with change tracking and a command REPL",
		Long: `ecsrepl is an in-memory entity-relationship store driven by a line REPL.

Entities carry integer attributes and are linked by named parent/child
relations. Every change is stamped with an epoch, so "dump added" and
"dump modified" show exactly what happened since the previous dump.

Running ecsrepl without a subcommand starts the REPL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runREPL,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			mode, _ := cmd.Flags().GetString("profile")
			dir, _ := cmd.Flags().GetString("profile-dir")
			p, err := startProfile(mode, dir)
			if err != nil {
				return err
			}
			prof = p
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.ecsrepl/config.yaml)")
	rootCmd.PersistentFlags().String("backend", "", "Store backend: memory or sqlite (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: info, debug or trace (overrides config)")
	rootCmd.PersistentFlags().String("profile", "", "Write a cpu or mem profile")
	rootCmd.PersistentFlags().String("profile-dir", ".", "Directory for profile output")

	rootCmd.AddCommand(
		newREPLCmd(),
		newRunCmd(),
		newCompareCmd(),
		newGraphCmd(),
		newValidateCmd(),
		newPanesCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)

	return rootCmd, stopProfile
}

// startProfile starts pkg/profile in the requested mode. An empty mode is a
// no-op and returns nil.
func startProfile(mode, dir string) (interface{ Stop() }, error) {
	var opt func(*profile.Profile)
	switch mode {
	case "":
		return nil, nil
	case "cpu":
		opt = profile.CPUProfile
	case "mem":
		opt = profile.MemProfileAllocs
	default:
		return nil, fmt.Errorf("invalid profile mode %q (valid: cpu, mem)", mode)
	}
	return profile.Start(opt, profile.ProfilePath(dir), profile.NoShutdownHook, profile.Quiet), nil
}

// loadConfig loads the config file named by --config and applies the
// --backend and --log-level flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.Store.Backend = backend
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openStore creates an empty store for the configured backend.
func openStore(ctx context.Context, backend string) (store.EntityStore, error) {
	switch backend {
	case config.BackendSQLite:
		return store.NewSQLiteEntityStore(ctx)
	case config.BackendMemory, "":
		return store.NewInMemoryEntityStore(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// session bundles what every store-backed command needs.
type session struct {
	cfg     *config.Config
	logger  *slog.Logger
	journal *logging.Journal
	store   *metrics.InstrumentedStore
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger := logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())

	journalDir := cfg.Logging.JournalDir
	if journalDir == "" {
		if dir, err := config.Dir(); err == nil {
			journalDir = dir
		}
	}
	journal := logging.OpenJournal(journalDir, cfg.Logging.Level)

	s, err := openStore(cmd.Context(), cfg.Store.Backend)
	if err != nil {
		journal.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	instrumented, err := metrics.Instrument(cmd.Context(), s)
	if err != nil {
		s.Close()
		journal.Close()
		return nil, fmt.Errorf("instrument store: %w", err)
	}

	logger.Debug("session started", "backend", cfg.Store.Backend, "journal", journal.Session())
	return &session{
		cfg:     cfg,
		logger:  logger,
		journal: journal,
		store:   instrumented,
	}, nil
}

func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		s.logger.Warn("closing store", "error", err)
	}
	s.journal.Close()
}
