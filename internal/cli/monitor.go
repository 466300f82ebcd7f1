package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/db"
	"github.com/loomworks/loom/internal/events"
	"github.com/loomworks/loom/internal/executor"
	"github.com/loomworks/loom/internal/git"
	"github.com/loomworks/loom/internal/githost"
	"github.com/loomworks/loom/internal/reconciler"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the PR reconciliation daemon",
	Long: `Runs the reconciliation loop until interrupted. Every tick loads the
open PR records, fetches their state from the git host, completes merged
tasks, and rebases drifted branches (escalating conflicts to an agent).`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().Duration("interval", 0, "reconciliation interval (overrides config)")
	_ = viper.BindPFlag("reconciler.interval", monitorCmd.Flags().Lookup("interval"))

	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}
	if v := viper.GetDuration("reconciler.interval"); v > 0 {
		cfg.Reconciler.Interval = v
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	logger := slog.Default()

	host := githost.NewClient()
	if err := host.CheckAuth(cmd.Context()); err != nil {
		logger.Warn("git host auth check failed, continuing anyway", "error", err)
	}

	gitOpts := []git.Option{}
	if len(cfg.Git.ProtectedBranches) > 0 {
		gitOpts = append(gitOpts, git.WithProtectedBranches(cfg.Git.ProtectedBranches))
	}
	gitDriver := git.NewDriver(gitOpts...)

	manager := executor.NewManager(database, cfg.Executor.WorkspacesDir,
		executor.WithAgentCommand(cfg.Executor.AgentCommand),
		executor.WithLogger(logger))

	publisher := events.NewMemoryPublisher()
	defer publisher.Close()

	cfgStore := config.NewStore(cfg)
	statusCache := db.NewStatusCache(database, 5*time.Second)

	service := reconciler.New(database, host, gitDriver, manager, cfgStore, reconciler.Config{
		Interval:             cfg.Reconciler.Interval,
		ReescalationInterval: cfg.Reconciler.ReescalationInterval,
		Logger:               logger,
		Publisher:            publisher,
		Cache:                statusCache,
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	service.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	cancel()
	stopped := make(chan struct{})
	go func() {
		service.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(30 * time.Second):
		logger.Warn("reconciler did not stop in time, exiting anyway")
	}

	return nil
}

func openDatabase(cfg *config.Config) (*db.DB, error) {
	if cfg.Database.DSN != "" {
		d, err := db.OpenPostgres(cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
		return d, nil
	}
	d, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Database.Path, err)
	}
	return d, nil
}
