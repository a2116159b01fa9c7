package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ordermatch/internal/config"
)

// exitInterrupted is the conventional exit status after SIGINT.
const exitInterrupted = 130

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "ordermatch",
	Short: "Guess missing phone numbers for payment-provider orders",
	Long:  "Extracts WooCommerce orders that arrived without a billing phone, matches their customer names against orders that carry one, and writes scored phone guesses.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errInterrupted) {
			os.Exit(exitInterrupted)
		}
		os.Exit(1)
	}
}
