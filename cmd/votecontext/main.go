// Package main provides the votecontext binary entry point.
// votecontext lists governance proposals awaiting a voting rationale and
// commits rationales back to the governance repository.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/c360studio/votecontext/config"
	"github.com/c360studio/votecontext/vote"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "votecontext"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Governance voting rationale service",
		Long: `votecontext lists governance proposals that still need a voting
rationale and commits rationales to the governance repository through
the GitHub Contents API.

Proposals live under vote-context/<year>/<name>_<suffix>/ and are
considered voted once their suffix appears as an "Action ID" row in
that year's voting history document.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(serveCmd(&flags), pendingCmd(&flags), commitCmd(&flags))

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

// newLogger configures the default text logger at the requested level.
func newLogger(logLevel string, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// loadConfig runs the layered loader and returns the config with the
// project file it came from.
func loadConfig(flags *globalFlags, logger *slog.Logger) (*config.Config, string, error) {
	loader := config.NewLoader(logger, flags.configPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	return cfg, loader.ProjectPath(), nil
}

func serveCmd(flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(flags.logLevel, cmd.ErrOrStderr())

			cfg, configPath, err := loadConfig(flags, logger)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, configPath, logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

// serve runs the app until ctx is cancelled or the listener fails.
func serve(ctx context.Context, cfg *config.Config, configPath string, logger *slog.Logger) error {
	app, err := NewApp(cfg, configPath, logger)
	if err != nil {
		return err
	}

	if err := app.Start(ctx); err != nil {
		app.Shutdown(cfg.Server.ShutdownTimeout)
		return err
	}

	logger.Info("votecontext ready",
		"version", Version,
		"addr", app.Addr())

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-app.ServeErr():
	}

	app.Shutdown(cfg.Server.ShutdownTimeout)
	return serveErr
}

func pendingCmd(flags *globalFlags) *cobra.Command {
	var (
		org     string
		repo    string
		minYear int
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List proposals awaiting a rationale",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(flags.logLevel, cmd.ErrOrStderr())

			cfg, _, err := loadConfig(flags, logger)
			if err != nil {
				return err
			}

			reconciler, _ := newVoteServices(cfg, logger, nil)
			proposals := reconciler.PendingProposals(cmd.Context(), org, repo, minYear)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(proposals)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "YEAR\tPROPOSAL\tSUFFIX")
			for _, p := range proposals {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Year, p.Name, p.Suffix)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&org, "org", "", "Repository owner")
	cmd.Flags().StringVar(&repo, "repo", "", "Repository name")
	cmd.Flags().IntVar(&minYear, "min-year", 0, "Oldest year to include (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}

func commitCmd(flags *globalFlags) *cobra.Command {
	var (
		sub  vote.Submission
		file string
	)

	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Commit a rationale file for one proposal",
		Long: `Commit a rationale file for one proposal. The rationale is read from
--file, or from standard input when --file is "-" or omitted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(flags.logLevel, cmd.ErrOrStderr())

			cfg, _, err := loadConfig(flags, logger)
			if err != nil {
				return err
			}

			var text []byte
			if file == "" || file == "-" {
				text, err = io.ReadAll(cmd.InOrStdin())
			} else {
				text, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("read rationale: %w", err)
			}
			sub.Rationale = string(text)

			_, committer := newVoteServices(cfg, logger, nil)
			res, err := committer.Commit(cmd.Context(), sub)
			if err != nil {
				return err
			}

			verb := "Updated"
			if res.Created {
				verb = "Created"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (commit %s)\n", verb, res.Path, res.CommitSHA)
			return nil
		},
	}

	cmd.Flags().StringVar(&sub.Organization, "org", "", "Repository owner")
	cmd.Flags().StringVar(&sub.Repository, "repo", "", "Repository name")
	cmd.Flags().StringVar(&sub.Year, "year", "", "Proposal year")
	cmd.Flags().StringVar(&sub.ProposalName, "proposal", "", "Proposal directory name")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Rationale file (- for stdin)")
	for _, name := range []string{"org", "repo", "year", "proposal"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
