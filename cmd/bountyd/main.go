// bountyd bridges GitHub bounty workflows with an on-chain Solana escrow:
// labels fund escrows, merged pull requests claim them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version is set via -ldflags at release time.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rootCmd := &cobra.Command{
		Use:           "bountyd",
		Short:         "GitHub bounty bot backed by a Solana escrow program",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newDeriveCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the bountyd version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("bountyd %s\n", version)
		},
	}
}
