// File: cmd/apply.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/applypilot/applypilot-cli/api/schemas"
	"github.com/applypilot/applypilot-cli/internal/browser"
	"github.com/applypilot/applypilot-cli/internal/challenge"
	"github.com/applypilot/applypilot-cli/internal/config"
	"github.com/applypilot/applypilot-cli/internal/discovery"
	"github.com/applypilot/applypilot-cli/internal/filler"
	"github.com/applypilot/applypilot-cli/internal/notify"
	"github.com/applypilot/applypilot-cli/internal/observability"
	"github.com/applypilot/applypilot-cli/internal/orchestrator"
	"github.com/applypilot/applypilot-cli/internal/solver"
	"github.com/applypilot/applypilot-cli/internal/store"
	"github.com/applypilot/applypilot-cli/internal/tabs"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// newApplyCmd creates and configures the `apply` command.
func newApplyCmd() *cobra.Command {
	applyCmd := &cobra.Command{
		Use:   "apply [url]",
		Short: "Runs one automated application attempt against a job posting URL",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their viper keys so command-line values override
			// the config file and environment.
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			if err := viper.BindPFlag("challenge.human_wait_timeout", cmd.Flags().Lookup("human-wait")); err != nil {
				return err
			}
			return viper.BindPFlag("notify.overlay", cmd.Flags().Lookup("overlay"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			// Re-unmarshal so the flag overrides bound in PreRunE apply.
			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			outcome, err := runAttempt(ctx, cfg, args[0], logger)
			if err != nil {
				return err
			}

			encoded, err := json.MarshalIndent(outcome, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode attempt outcome: %w", err)
			}
			fmt.Fprintln(os.Stdout, string(encoded))

			if outcome.Status == schemas.AttemptFailed {
				return fmt.Errorf("attempt failed: %s", outcome.Reason)
			}
			return nil
		},
	}

	applyCmd.Flags().Bool("headless", true, "run the browser headless")
	applyCmd.Flags().Bool("overlay", true, "inject in-page notification overlays")
	// The flag default must match the config default: a bound flag's default
	// outranks viper's SetDefault.
	applyCmd.Flags().Duration("human-wait", 3*time.Minute, "how long to wait for a human to clear an interactive challenge")
	return applyCmd
}

// runAttempt wires the full automation stack and executes one attempt.
func runAttempt(ctx context.Context, cfg *config.Config, targetURL string, logger *zap.Logger) (*schemas.AttemptOutcome, error) {
	sessionStore, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	widgetSelector := discovery.WidgetSelector(
		append(discovery.DefaultWidgetSignatures(), cfg.Discovery.ExtraWidgets...))

	manager := browser.NewManager(*cfg, widgetSelector, logger)
	defer manager.Shutdown()

	notifier := notify.New(cfg.Notify, logger)

	coordinator, err := tabs.NewCoordinator(manager, notifier, cfg.Tabs, logger)
	if err != nil {
		return nil, err
	}
	defer coordinator.Stop()

	unsubscribe := manager.Subscribe(coordinator.Dispatch)
	defer unsubscribe()

	page, err := manager.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open a page: %w", err)
	}
	defer page.Close()
	notifier.AttachPage(page)

	// Track the working tab so popups it spawns get attributed to it.
	session, err := coordinator.StartSession(ctx, page.TargetID(), schemas.PurposeGeneric)
	if err != nil {
		return nil, fmt.Errorf("failed to start the origin tab session: %w", err)
	}
	defer func() {
		_ = coordinator.CancelSession(session.ID, "attempt finished")
	}()

	detector, err := challenge.NewDetector(page, logger)
	if err != nil {
		return nil, err
	}
	watcher := challenge.NewWatcher(detector, cfg.Challenge.WatchInterval, logger)

	var tokenSolver challenge.TokenSolver
	if backendCfg, ok := cfg.Solver.ActiveBackend(); ok {
		backend, err := solver.BackendFromConfig(backendCfg)
		if err != nil {
			return nil, err
		}
		tokenSolver = solver.New(cfg.Solver, backend, logger)
		logger.Info("Automatic challenge solving enabled.", zap.String("backend", cfg.Solver.Backend))
	} else {
		logger.Info("No solving backend configured; challenges will wait for a human.")
	}

	resolver, err := challenge.NewResolver(page, sessionStore, tokenSolver, notifier, cfg.Challenge, logger)
	if err != nil {
		return nil, err
	}

	engine, err := discovery.NewEngine(page, cfg.Discovery, logger)
	if err != nil {
		return nil, err
	}

	orch, err := orchestrator.New(page, engine, detector, resolver,
		filler.NewStatic(cfg.Filler, logger), coordinator, watcher, logger)
	if err != nil {
		return nil, err
	}

	return orch.Run(ctx, targetURL)
}

// openStore builds the configured challenge-session store and a release func.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (schemas.SessionStore, func(), error) {
	switch cfg.Type {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres pool: %w", err)
		}
		pg, err := store.NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pg, pool.Close, nil
	default:
		return store.NewMemory(logger), func() {}, nil
	}
}
