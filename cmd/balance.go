// File: cmd/balance.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/applypilot/applypilot-cli/internal/config"
	"github.com/applypilot/applypilot-cli/internal/observability"
	"github.com/applypilot/applypilot-cli/internal/solver"
)

// newBalanceCmd creates the `balance` command, a quick credential and
// connectivity check against the configured solving backend.
func newBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Prints the remaining balance on the configured solving backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			backendCfg, ok := cfg.Solver.ActiveBackend()
			if !ok {
				return fmt.Errorf("no solving backend configured; set solver.backend")
			}
			backend, err := solver.BackendFromConfig(backendCfg)
			if err != nil {
				return err
			}

			client := solver.New(cfg.Solver, backend, logger)
			balance, err := client.Balance(cmd.Context())
			if err != nil {
				return fmt.Errorf("balance check failed: %w", err)
			}

			logger.Info("Balance retrieved.",
				zap.String("backend", cfg.Solver.Backend), zap.Float64("balance", balance))
			fmt.Fprintf(os.Stdout, "%.4f\n", balance)
			return nil
		},
	}
}
