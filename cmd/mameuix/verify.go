package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mameuix/mameuix/internal/engine"
	"github.com/mameuix/mameuix/internal/log"
	"github.com/mameuix/mameuix/internal/model"
	"github.com/mameuix/mameuix/internal/progress"
	"github.com/mameuix/mameuix/internal/report"
)

var (
	flagManifest   string
	flagOut        string
	flagIssuesOnly bool
	flagStrict     bool
	flagIconDir    string
)

var (
	errIssues    = errors.New("verification found issues")
	errCancelled = errors.New("verification cancelled")
)

var verifyCmd = &cobra.Command{
	Use:   "verify [rom...]",
	Short: "verify ROM files listed in the manifest, all of them or only the named ones",
	RunE:  doVerify,
}

func doVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	attrs := slog.Group("mameuix",
		slog.String("cmd", "verify"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	roms, err := loadManifest(manifestPath())
	if err != nil {
		return err
	}
	roms, err = selectRoms(roms, args)
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// the pool outlives the interrupt, in-flight results must still be drained
	e, err := engine.New(ctx, config, nil, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = e.Close()
	}()

	s, err := e.StartVerification(ctx, model.Jobs(roms))
	if err != nil {
		return err
	}
	ctx = log.ContextAttrs(ctx, slog.String("session", s.ID))

	drive(ctx, e, config.Engine.Tick, sigCtx.Done(), func() {
		if err := e.Cancel(ctx); err != nil {
			slog.WarnContext(ctx, "cancel failed", "err", err)
		}
	}, func() bool { return finished(e) })

	perf := e.Snapshot().Verify
	s, err = e.Acknowledge()
	if err != nil {
		return err
	}
	r := report.New(s, perf, time.Now(), report.Options{IssuesOnly: flagIssuesOnly})
	if err := writeReport(ctx, flagOut, r); err != nil {
		return err
	}

	st := s.Stats()
	slog.InfoContext(ctx, "verification summary",
		"state", s.State().String(),
		"total", st.Total,
		"verified", st.Verified,
		"missing", st.Missing,
		"bad_checksum", st.BadChecksum,
		"warning", st.Warning,
		"error", st.Error,
		"performance", perf.String(),
	)

	switch {
	case s.State() == progress.StateCancelled:
		return fmt.Errorf("%w after %d of %d", errCancelled, st.Processed(), st.Total)
	case flagStrict && st.Verified != st.Total:
		return fmt.Errorf("%w: %d of %d", errIssues, st.Total-st.Verified, st.Total)
	}
	return nil
}

func manifestPath() string {
	if flagManifest != "" {
		return flagManifest
	}
	return config.Verify.Manifest
}

// loadManifest reads the manifest, relative ROM paths are relative to the
// manifest file.
func loadManifest(path string) ([]model.Rom, error) {
	if path == "" {
		return nil, errors.New("no manifest: use --manifest or verify.manifest")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	roms, err := model.LoadManifest(f, filepath.Dir(path))
	if err != nil {
		for _, d := range model.ConfigErrDetails(err) {
			slog.Error("invalid manifest", d.Attr("detail"))
		}
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return roms, nil
}

// selectRoms keeps the named entries, all of them when names is empty.
func selectRoms(roms []model.Rom, names []string) ([]model.Rom, error) {
	if len(names) == 0 {
		return roms, nil
	}
	out := make([]model.Rom, 0, len(names))
	for _, name := range names {
		i := slices.IndexFunc(roms, func(r model.Rom) bool { return r.Name == name })
		if i < 0 {
			return nil, fmt.Errorf("rom %s is not in the manifest", name)
		}
		out = append(out, roms[i])
	}
	return out, nil
}

func writeReport(ctx context.Context, path string, r report.Report) error {
	var w io.Writer = os.Stdout
	if path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating report: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		w = f
	}
	return report.NewYAML(w).Write(ctx, r)
}
