package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mameuix/mameuix/internal/engine"
	"github.com/mameuix/mameuix/internal/icon"
	"github.com/mameuix/mameuix/internal/iconcache"
	"github.com/mameuix/mameuix/internal/log"
	"github.com/mameuix/mameuix/internal/progress"
	"github.com/mameuix/mameuix/internal/walk"
)

var iconsCmd = &cobra.Command{
	Use:   "icons",
	Short: "load every icon of the icon directory into the icon cache and print load statistics",
	RunE:  doIcons,
}

type iconsSummary struct {
	Dir         string           `yaml:"dir"`
	Requested   int              `yaml:"requested"`
	Loaded      int              `yaml:"loaded"`
	Failed      int              `yaml:"failed"`
	Cached      uint64           `yaml:"cached"`
	Workers     int              `yaml:"workers"`
	Performance progress.Summary `yaml:"performance"`
}

func iconDir() string {
	if flagIconDir != "" {
		return flagIconDir
	}
	return config.Icons.Dir
}

func newIconCache() (*iconcache.Cache, error) {
	return iconcache.New(iconcache.Config{
		MaxCached: config.Icons.MaxCached,
		Lifetime:  config.Icons.Lifetime,
	})
}

// requestIcons asks e for every icon found under dir and returns the found
// icons keyed by game.
func requestIcons(ctx context.Context, e *engine.Engine, dir string) (map[string]string, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("opening icon directory: %w", err)
	}
	defer func() {
		_ = root.Close()
	}()

	paths := make(map[string]string)
	for ic, err := range walk.Roots(ctx, icon.Extensions, root) {
		if err != nil {
			slog.WarnContext(ctx, "walking icon directory", "path", ic.Path, "err", err)
			continue
		}
		paths[ic.Key] = ic.Path
		e.RequestIcon(ic.Key, ic.Path, false)
	}
	return paths, nil
}

func doIcons(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	attrs := slog.Group("mameuix",
		slog.String("cmd", "icons"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	dir := iconDir()
	if dir == "" {
		return errors.New("no icon directory: use --dir or icons.dir")
	}

	cache, err := newIconCache()
	if err != nil {
		return err
	}
	defer cache.Close()

	e, err := engine.New(ctx, config, nil, cache)
	if err != nil {
		return err
	}
	defer func() {
		_ = e.Close()
	}()

	paths, err := requestIcons(ctx, e, dir)
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	interrupted := false
	drive(ctx, e, config.Engine.Tick, sigCtx.Done(), func() {
		interrupted = true
	}, func() bool { return interrupted || e.Idle() })

	cache.Wait()
	_, _, cached := cache.Stats()
	snap := e.Snapshot()
	summary := iconsSummary{
		Dir:         dir,
		Requested:   len(paths),
		Loaded:      snap.Icons.Total - snap.Icons.Failed,
		Failed:      snap.Icons.Failed,
		Cached:      cached,
		Workers:     snap.Workers,
		Performance: snap.Icons,
	}
	enc := yaml.NewEncoder(os.Stdout)
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if interrupted {
		return errors.New("icon loading interrupted")
	}
	return nil
}
