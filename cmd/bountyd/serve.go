package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/solbounty/bountyd/internal/bounty"
	"github.com/solbounty/bountyd/internal/claim"
	"github.com/solbounty/bountyd/internal/config"
	"github.com/solbounty/bountyd/internal/escrow"
	"github.com/solbounty/bountyd/internal/notification"
	"github.com/solbounty/bountyd/internal/telemetry"
	"github.com/solbounty/bountyd/internal/tracker"
	"github.com/solbounty/bountyd/internal/webhook"
)

func newServeCmd() *cobra.Command {
	var configPath string
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, !noWatch)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to bountyd.yaml")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "disable label table hot reload")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, watch bool) error {
	if err := telemetry.Init(ctx, telemetry.Options{
		Enabled:      cfg.Telemetry.Enabled,
		Stdout:       cfg.Telemetry.Stdout,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
	}, "bountyd", version); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
	}()

	programID, err := solana.PublicKeyFromBase58(cfg.Solana.ProgramID)
	if err != nil {
		return fmt.Errorf("invalid solana.program_id: %w", err)
	}

	client, err := escrow.NewRPCClient(cfg.Solana.RPCURL, cfg.Solana.KeypairPath, cfg.Solana.Commitment)
	if err != nil {
		return err
	}

	gh := tracker.NewGitHubTracker(cfg.GitHub.Token)
	gateway := escrow.NewGateway(client, programID)
	pipeline := claim.New(gh, &cfg.Bounties, claim.Policy{
		RequireMerged:     cfg.GitHub.RequireMerged,
		RequireAssignment: cfg.GitHub.RequireAssignment,
	})
	notifier := notification.NewDispatcher(notification.Config{
		Channels:   cfg.Notifications.Channels,
		SlackToken: cfg.Notifications.SlackToken,
		DiscordURL: cfg.Notifications.DiscordURL,
		WebhookURL: cfg.Notifications.WebhookURL,
	})
	manager := bounty.NewManager(cfg, gh, gateway, pipeline, notifier)

	server := webhook.NewServer(webhook.ServerConfig{
		Router: manager,
		Secret: []byte(cfg.GitHub.WebhookSecret),
	})

	log.Printf("bountyd %s listening on %s (program %s, payer %s)",
		version, cfg.Server.Addr, programID, client.Payer())
	log.Printf("bounty labels: %v", cfg.Bounties.LabelNames())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Start(cfg.Server.Addr); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if watch && cfg.Path != "" {
		g.Go(func() error {
			err := config.WatchLabels(ctx, cfg.Path, cfg)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
