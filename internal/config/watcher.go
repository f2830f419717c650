package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// WatchLabels watches the config file and hot-reloads the bounty label table
// when it changes. Only the label table is swapped; policy and credential
// changes still require a restart so a half-edited file can never silently
// flip a security toggle.
//
// Blocks until ctx is cancelled.
func WatchLabels(ctx context.Context, path string, cfg *Config) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory, not the file: editors replace files on save and
	// a watch on the old inode goes stale.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	base := filepath.Base(path)
	var debounceTimer *time.Timer
	debounceDelay := 500 * time.Millisecond
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("WARNING: config watcher error: %v", err)
		case <-reload:
			labels, err := loadLabels(path)
			if err != nil {
				log.Printf("WARNING: config reload failed, keeping previous label table: %v", err)
				continue
			}
			cfg.Bounties.ReplaceLabels(labels)
			log.Printf("reloaded bounty label table: %d labels", len(labels))
		}
	}
}

// loadLabels reads only bounties.labels from the config file and validates
// the amounts.
func loadLabels(path string) (map[string]uint64, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var section struct {
		Labels map[string]uint64 `mapstructure:"labels"`
	}
	if err := v.UnmarshalKey("bounties", &section); err != nil {
		return nil, fmt.Errorf("failed to parse bounties section: %w", err)
	}
	for label, amount := range section.Labels {
		if amount == 0 {
			return nil, fmt.Errorf("bounties.labels[%s]: amount must be positive", label)
		}
	}
	return section.Labels, nil
}
