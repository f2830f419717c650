package main

import (
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/solbounty/bountyd/internal/escrow"
)

// newDeriveCmd prints the escrow address for a repo/issue pair. Anyone with
// the program ID can recompute this without touching the chain, which is
// handy for auditing where funds went.
func newDeriveCmd() *cobra.Command {
	var programIDStr string

	cmd := &cobra.Command{
		Use:   "derive <owner/repo> <issue-number>",
		Short: "Print the deterministic escrow address for an issue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			programID, err := solana.PublicKeyFromBase58(programIDStr)
			if err != nil {
				return fmt.Errorf("invalid program ID: %w", err)
			}
			issueNumber, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid issue number %q: %w", args[1], err)
			}

			repoHash := escrow.HashRepo(args[0])
			addr, bump, err := escrow.DeriveAddress(programID, repoHash, issueNumber)
			if err != nil {
				return err
			}

			fmt.Printf("repo:    %s\n", args[0])
			fmt.Printf("issue:   #%d\n", issueNumber)
			fmt.Printf("address: %s\n", addr)
			fmt.Printf("bump:    %d\n", bump)
			return nil
		},
	}

	cmd.Flags().StringVarP(&programIDStr, "program-id", "p", "", "escrow program ID (base58)")
	_ = cmd.MarkFlagRequired("program-id")
	return cmd
}
