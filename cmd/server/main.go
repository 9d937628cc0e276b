/*
main.go - Application entry point

PURPOSE:
  Builds the workentryd binary: the HTTP API with its conflict sweeper, plus
  maintenance commands. Handles configuration, dependency injection, and
  graceful shutdown.

COMMANDS:
  serve      Open the store, serve the API, run the sweeper
  migrate    Create or upgrade the schema and exit
  diagnose   Print conflict counts and dangling entries for a window
  seed       Load a demo scenario (lists them without argument)

CONFIGURATION:
  Environment first (see config/config.go, an optional .env is read), then
  flags. A flag given on the command line wins over the environment.

  --driver        sqlite | postgres          (WORKENTRY_DRIVER)
  --db            SQLite database path        (WORKENTRY_SQLITE_PATH)
                  Use ":memory:" for a throwaway database
  --database-url  PostgreSQL URL              (WORKENTRY_DATABASE_URL)
  --log-level     logrus level                (WORKENTRY_LOG_LEVEL)
  --log-format    text | json                 (WORKENTRY_LOG_FORMAT)
  serve --port            HTTP port           (WORKENTRY_PORT)
  serve --sweep-interval  0 disables          (WORKENTRY_SWEEP_INTERVAL)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweeper
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the store
  5. Exit

EXAMPLES:
  # Run with file database
  ./workentryd serve --db=./data/workentries.db

  # Run against PostgreSQL
  ./workentryd serve --driver=postgres --database-url=postgres://localhost/workentries

  # Count January conflicts
  ./workentryd diagnose --from=2024-01-01 --to=2024-02-01

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Conflict sweeper
  - config/config.go: Environment configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/warp/workentry-engine/api"
	"github.com/warp/workentry-engine/config"
	"github.com/warp/workentry-engine/interval"
	"github.com/warp/workentry-engine/store"
	"github.com/warp/workentry-engine/store/postgres"
	"github.com/warp/workentry-engine/store/sqlite"
)

var cfg *config.Config

func main() {
	rootCmd := &cobra.Command{
		Use:           "workentryd",
		Short:         "Work-entry conflict and scheduling engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("driver", config.DriverSQLite, "storage driver (sqlite or postgres)")
	flags.String("db", "workentries.db", "SQLite database path")
	flags.String("database-url", "", "PostgreSQL connection URL")
	flags.String("log-level", "info", "log level")
	flags.String("log-format", "text", "log format (text or json)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			// flags may still fix what the environment got wrong
			if loaded == nil {
				return err
			}
		}
		applyFlags(cmd, loaded)
		if err := loaded.Validate(); err != nil {
			return err
		}
		loaded.ConfigureLogger()
		cfg = loaded
		return nil
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(diagnoseCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("workentryd failed")
		os.Exit(1)
	}
}

// applyFlags overrides cfg with the flags set on the command line.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	fs := cmd.Flags()
	if fs.Changed("driver") {
		c.Driver, _ = fs.GetString("driver")
	}
	if fs.Changed("db") {
		c.SQLitePath, _ = fs.GetString("db")
	}
	if fs.Changed("database-url") {
		c.DatabaseURL, _ = fs.GetString("database-url")
	}
	if fs.Changed("log-level") {
		c.LogLevel, _ = fs.GetString("log-level")
	}
	if fs.Changed("log-format") {
		c.LogFormat, _ = fs.GetString("log-format")
	}
	if fs.Lookup("port") != nil && fs.Changed("port") {
		c.Port, _ = fs.GetInt("port")
	}
	if fs.Lookup("sweep-interval") != nil && fs.Changed("sweep-interval") {
		c.SweepInterval, _ = fs.GetDuration("sweep-interval")
	}
}

func openBackend(ctx context.Context) (store.Backend, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return postgres.New(ctx, cfg.DatabaseURL)
	default:
		return sqlite.New(cfg.SQLitePath)
	}
}

// =============================================================================
// SERVE
// =============================================================================

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server and the conflict sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			backend, err := openBackend(ctx)
			cancel()
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer backend.Close()

			log := logrus.StandardLogger()
			handler := api.NewHandler(backend, log)
			sweeper := api.NewConflictSweeper(handler.Coordinator, cfg.SweepInterval, log)
			handler.Sweeper = sweeper

			server := &http.Server{
				Addr:         fmt.Sprintf(":%d", cfg.Port),
				Handler:      api.NewRouter(handler),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			serveErr := make(chan error, 1)
			go func() {
				log.WithFields(logrus.Fields{
					"port":   cfg.Port,
					"driver": cfg.Driver,
				}).Info("server starting")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()
			sweeper.Start()

			// Wait for interrupt signal
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-quit:
			case err := <-serveErr:
				sweeper.Stop()
				return fmt.Errorf("server failed: %w", err)
			}

			log.Info("shutting down server")
			sweeper.Stop()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}

			log.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().Int("port", 8080, "HTTP server port")
	cmd.Flags().Duration("sweep-interval", time.Hour, "conflict sweep interval (0 disables)")
	return cmd
}

// =============================================================================
// MAINTENANCE
// =============================================================================

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			// the backends migrate on open
			backend, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer backend.Close()
			fmt.Printf("Schema up to date (%s)\n", cfg.Driver)
			return nil
		},
	}
}

func diagnoseCmd() *cobra.Command {
	var fromStr, toStr string

	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Print conflict counts and dangling entries for a window",
		RunE: func(cmd *cobra.Command, args []string) error {
			window, err := parseWindow(fromStr, toStr, time.Now().UTC())
			if err != nil {
				return err
			}

			backend, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer backend.Close()

			coord := api.NewHandler(backend, logrus.StandardLogger()).Coordinator
			ctx := cmd.Context()

			conflicts, err := coord.CountConflicts(ctx, window, nil)
			if err != nil {
				return err
			}
			dangling, err := coord.DanglingEntries(ctx, window)
			if err != nil {
				return err
			}

			fmt.Printf("Window:    %s\n", window)
			fmt.Printf("Conflicts: %d\n", conflicts)
			fmt.Printf("Dangling:  %d\n", len(dangling))
			for _, d := range dangling {
				e := d.Entry
				fmt.Printf("  %s  %s  %s -> %s  version=%s  (%s)\n",
					e.ID, e.EmployeeID,
					e.Start.Format(time.RFC3339), e.Stop.Format(time.RFC3339),
					e.VersionID, d.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&fromStr, "from", "", "window start, YYYY-MM-DD (default: first of this month)")
	cmd.Flags().StringVar(&toStr, "to", "", "window end, YYYY-MM-DD, exclusive (default: first of next month)")
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [scenario]",
		Short: "Reset the database and load a demo scenario",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				for _, s := range api.Scenarios() {
					fmt.Printf("%-24s %s\n", s.ID, s.Description)
				}
				return nil
			}

			backend, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer backend.Close()

			outcome, err := api.NewHandler(backend, logrus.StandardLogger()).Seed(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Loaded %s: %s\n", args[0], outcome)
			return nil
		},
	}
}

// parseWindow defaults to the calendar month containing now.
func parseWindow(fromStr, toStr string, now time.Time) (interval.Span, error) {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	from, to := start, start.AddDate(0, 1, 0)
	var err error
	if fromStr != "" {
		if from, err = time.Parse("2006-01-02", fromStr); err != nil {
			return interval.Span{}, fmt.Errorf("--from: %w", err)
		}
	}
	if toStr != "" {
		if to, err = time.Parse("2006-01-02", toStr); err != nil {
			return interval.Span{}, fmt.Errorf("--to: %w", err)
		}
	}
	if !to.After(from) {
		return interval.Span{}, errors.New("--to must be after --from")
	}
	return interval.NewSpan(from, to), nil
}
