package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/solbounty/bountyd/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the bountyd configuration file",
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigCheckCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default bountyd.yaml to the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultFileName
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			data, err := yaml.Marshal(config.Default())
			if err != nil {
				return fmt.Errorf("failed to render default config: %w", err)
			}

			header := "# bountyd configuration.\n" +
				"# Secrets (github.token, github.webhook_secret, solana.keypair_path)\n" +
				"# can also come from BOUNTYD_* environment variables.\n"
			if err := os.WriteFile(path, append([]byte(header), data...), 0o600); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}

			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func newConfigCheckCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("OK: %s\n", cfg.Path)
			fmt.Printf("bounty labels: %d configured\n", len(cfg.Bounties.LabelNames()))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to bountyd.yaml")
	return cmd
}
