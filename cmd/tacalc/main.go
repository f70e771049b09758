// Command tacalc computes overlap indicators over CSV price series and
// cross-checks the native and reference backends.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tastream/internal/backend"
	"tastream/internal/logger"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "tacalc",
		Short:        "overlap indicator calculator",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("backend", backend.Default, "indicator backend: native or reference")
	root.PersistentFlags().String("log-level", envOr("LOG_LEVEL", "warn"), "log level for stderr output")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		s, _ := cmd.Flags().GetString("log-level")
		level, err := logger.ParseLevel(s)
		if err != nil {
			return err
		}
		logger.New(cmd.ErrOrStderr(), "tacalc", level)
		return nil
	}

	root.AddCommand(newComputeCmd(), newParityCmd(), newLookbackCmd())
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
