// Package cli wires the cobra subcommands a tick driver and a partial-run
// operator both need: tick, mark, recycle. Each subcommand loads its own
// pipeline IR and metadata store rather than sharing mutable global state,
// the same one-shot-invocation shape the teacher's CLIInvocation enforced.
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"orchestrator-core/internal/config"
	"orchestrator-core/internal/metrics"
	"orchestrator-core/internal/mlmd"
	"orchestrator-core/internal/obslog"
)

type appContextKey struct{}

// appContext bundles the config and logger every subcommand needs, built
// once in the root command's PersistentPreRunE and threaded through
// cmd.Context() rather than package-level globals.
type appContext struct {
	Config config.Config
	Logger obslog.TaskgenLogger
}

func fromContext(ctx context.Context) *appContext {
	ac, _ := ctx.Value(appContextKey{}).(*appContext)
	if ac == nil {
		// Subcommands are always reached through the root command's
		// PersistentPreRunE; a nil appContext means a test invoked a
		// subcommand directly. Fall back to defaults rather than panic.
		return &appContext{Config: config.Defaults()}
	}
	return ac
}

var configPath string

// NewRootCommand builds the orchestrator-core cobra command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "orchestrator-core",
		Short: "Synchronous task-generation core for a pipeline orchestrator",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return &ConfigError{Message: err.Error(), Cause: err}
			}
			logger := obslog.New(os.Stderr, cfg.Log.Level)
			ac := &appContext{Config: cfg, Logger: obslog.TaskgenLogger{Zerolog: logger}}
			cmd.SetContext(context.WithValue(cmd.Context(), appContextKey{}, ac))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML/JSON config file (optional; env ORCHESTRATOR_* always applies)")

	root.AddCommand(newTickCommand())
	root.AddCommand(newMarkCommand())
	root.AddCommand(newRecycleCommand())
	return root
}

// Execute runs the CLI and returns a process exit code, classifying any
// returned error via ExitCode.
func Execute(args []string) int {
	root := NewRootCommand()
	root.SetArgs(args)
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return ExitCode(err)
}

func openStore(cfg config.Config) (*mlmd.SQLiteStore, error) {
	store, err := mlmd.OpenSQLiteStore(cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening metadata store %q: %w", cfg.Store.DSN, err)
	}
	return store, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_ = metrics.WritePrometheus(w)
	})
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
