// Package config loads the bountyd configuration. The configuration is an
// explicit value constructed once at process start and passed by reference
// into every component that needs it; nothing reads ambient global state
// after Load returns.
package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Default file name searched in the working directory and /etc/bountyd.
const DefaultFileName = "bountyd.yaml"

// Config is the full bountyd configuration.
type Config struct {
	// Path is the file the configuration was loaded from. Set by Load.
	Path string `mapstructure:"-" yaml:"-"`

	Server        ServerConfig       `mapstructure:"server" yaml:"server"`
	GitHub        GitHubConfig       `mapstructure:"github" yaml:"github"`
	Solana        SolanaConfig       `mapstructure:"solana" yaml:"solana"`
	Bounties      BountyConfig       `mapstructure:"bounties" yaml:"bounties"`
	Notifications NotificationConfig `mapstructure:"notifications" yaml:"notifications"`
	Telemetry     TelemetryConfig    `mapstructure:"telemetry" yaml:"telemetry"`
}

// ServerConfig controls the webhook HTTP listener.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// GitHubConfig holds the tracker credentials and the claim policy toggles.
type GitHubConfig struct {
	Token         string `mapstructure:"token" yaml:"token"`
	WebhookSecret string `mapstructure:"webhook_secret" yaml:"webhook_secret"`

	// RequireMaintainer gates bounty creation on the label sender having
	// admin or write permission on the repository.
	RequireMaintainer bool `mapstructure:"require_maintainer" yaml:"require_maintainer"`

	// RequireMerged rejects claims against unmerged pull requests.
	RequireMerged bool `mapstructure:"require_merged" yaml:"require_merged"`

	// RequireAssignment rejects claims from contributors who were never
	// assigned to the linked issue.
	RequireAssignment bool `mapstructure:"require_assignment" yaml:"require_assignment"`
}

// SolanaConfig holds the ledger connection and signing identity.
type SolanaConfig struct {
	RPCURL      string `mapstructure:"rpc_url" yaml:"rpc_url"`
	ProgramID   string `mapstructure:"program_id" yaml:"program_id"`
	KeypairPath string `mapstructure:"keypair_path" yaml:"keypair_path"`
	Commitment  string `mapstructure:"commitment" yaml:"commitment"`
}

// BountyConfig maps label names to payout amounts in lamports.
type BountyConfig struct {
	Labels map[string]uint64 `mapstructure:"labels" yaml:"labels"`

	mu sync.RWMutex
}

// NotificationConfig lists the notification channels to fan out to.
// Channel syntax follows the dispatcher: "log", "slack:<channel-id>",
// "discord", "webhook".
type NotificationConfig struct {
	Channels   []string `mapstructure:"channels" yaml:"channels"`
	SlackToken string   `mapstructure:"slack_token" yaml:"slack_token"`
	DiscordURL string   `mapstructure:"discord_url" yaml:"discord_url"`
	WebhookURL string   `mapstructure:"webhook_url" yaml:"webhook_url"`
}

// TelemetryConfig controls the OpenTelemetry exporters.
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	Stdout       bool   `mapstructure:"stdout" yaml:"stdout"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
}

// AmountFor returns the configured payout for a label, or (0, false) if the
// label is not a bounty label. Safe for concurrent use with ReplaceLabels.
func (b *BountyConfig) AmountFor(label string) (uint64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	amount, ok := b.Labels[label]
	return amount, ok
}

// ReplaceLabels swaps the label table in place. Used by the config watcher
// on hot reload; the rest of the configuration requires a restart.
func (b *BountyConfig) ReplaceLabels(labels map[string]uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Labels = labels
}

// LabelNames returns the configured bounty label names, for diagnostics.
func (b *BountyConfig) LabelNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.Labels))
	for name := range b.Labels {
		names = append(names, name)
	}
	return names
}

// Load reads the configuration from path (or the default search locations
// when path is empty), applies BOUNTYD_* environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFileName, ".yaml"))
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/bountyd")
	}

	v.SetEnvPrefix("BOUNTYD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Path = v.ConfigFileUsed()
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("github.require_maintainer", true)
	v.SetDefault("github.require_merged", true)
	v.SetDefault("github.require_assignment", true)
	v.SetDefault("solana.rpc_url", "https://api.devnet.solana.com")
	v.SetDefault("solana.commitment", "confirmed")
	v.SetDefault("notifications.channels", []string{"log"})
}

// Validate checks the loaded configuration for values that would only fail
// later, at claim time, when the cost of the mistake is much higher.
func (c *Config) Validate() error {
	if c.GitHub.WebhookSecret == "" {
		return fmt.Errorf("github.webhook_secret is required")
	}
	if c.Solana.ProgramID == "" {
		return fmt.Errorf("solana.program_id is required")
	}
	for label, amount := range c.Bounties.Labels {
		if amount == 0 {
			return fmt.Errorf("bounties.labels[%s]: amount must be positive", label)
		}
	}
	return nil
}

// Default returns the configuration rendered by `bountyd config init`.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		GitHub: GitHubConfig{
			RequireMaintainer: true,
			RequireMerged:     true,
			RequireAssignment: true,
		},
		Solana: SolanaConfig{
			RPCURL:     "https://api.devnet.solana.com",
			Commitment: "confirmed",
		},
		Bounties: BountyConfig{
			Labels: map[string]uint64{
				"bounty-1-sol": 1_000_000_000,
				"bounty-2-sol": 2_000_000_000,
			},
		},
		Notifications: NotificationConfig{Channels: []string{"log"}},
	}
}
