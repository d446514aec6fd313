package model_test

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mameuix/mameuix/internal/job"
	"github.com/mameuix/mameuix/internal/model"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	yml := `
engine:
  pool_cap: 4
  tick: 20ms
admission:
  steps:
    - below_fps: 30
      budget: 2
  ceiling: 6
  min_trickle: 1
  max_backlog: 32
  smoothing: 0.2
icons:
  dir: /usr/share/mameuix/icons
  lifetime: 1m
verify:
  manifest: roms.yaml
log:
  level: debug
`
	cfg, err := model.LoadConfig(strings.NewReader(yml))
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Engine.PoolCap)
	require.Equal(t, 20*time.Millisecond, cfg.Engine.Tick)
	// defaults survive
	require.Equal(t, 256, cfg.Engine.ResultBuffer)
	require.Equal(t, 50, cfg.Engine.DrainPerTick)
	require.Equal(t, 32, cfg.Icons.Size)
	require.Equal(t, 2000, cfg.Icons.MaxCached)

	require.Len(t, cfg.Admission.Steps, 1)
	require.Equal(t, 6, cfg.Admission.Ceiling)
	require.Equal(t, "/usr/share/mameuix/icons", cfg.Icons.Dir)
	require.Equal(t, time.Minute, cfg.Icons.Lifetime)
	require.Equal(t, "roms.yaml", cfg.Verify.Manifest)
	require.Equal(t, slog.LevelDebug, cfg.Log.SlogLevel())
}

func TestLoadConfig_Empty(t *testing.T) {
	t.Parallel()
	cfg, err := model.LoadConfig(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, model.DefaultConfig(t.Context()), cfg)
}

func TestLoadConfig_Fail(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		yml      string
		paths    []string
	}{
		{
			scenario: "pool cap",
			yml:      "engine:\n  pool_cap: 0\n",
			paths:    []string{"engine.pool_cap"},
		},
		{
			scenario: "several",
			yml:      "engine:\n  drain_per_tick: 0\nicons:\n  max_cached: 0\nlog:\n  level: loud\n",
			paths:    []string{"engine.drain_per_tick", "icons.max_cached", "log.level"},
		},
		{
			scenario: "admission",
			yml:      "admission:\n  ceiling: 0\n",
			paths:    []string{"admission", "admission"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			_, err := model.LoadConfig(strings.NewReader(tc.yml))
			require.Error(t, err)
			details := model.ConfigErrDetails(err)
			paths := make([]string, 0, len(details))
			for _, d := range details {
				paths = append(paths, d.Path)
			}
			require.Equal(t, tc.paths, paths)
		})
	}
}

func TestLoadConfig_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := model.LoadConfig(strings.NewReader("engine:\n  pool_size: 3\n"))
	require.Error(t, err)
	require.ErrorContains(t, err, "pool_size")
	require.Empty(t, model.ConfigErrDetails(err))
}

func TestDefaultConfigRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	require.NoError(t, enc.Encode(model.DefaultConfig(t.Context())))
	require.NoError(t, enc.Close())
	require.Contains(t, buf.String(), "tick: 16ms")

	cfg, err := model.LoadConfig(&buf)
	require.NoError(t, err)
	require.Equal(t, model.DefaultConfig(context.Background()), cfg)
}

func TestConfigErrorAttr(t *testing.T) {
	t.Parallel()
	e := model.ConfigError{Path: "engine.tick", Code: model.CodeOutOfRange, Message: "must be positive"}
	require.EqualError(t, e, "engine.tick: must be positive")
	attr := e.Attr("detail")
	require.Equal(t, "detail", attr.Key)
	require.Equal(t, slog.KindGroup, attr.Value.Kind())
	require.Len(t, attr.Value.Group(), 3)
}

func TestLogLevel(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		log      model.Log
		level    slog.Level
	}{
		{"default", model.Log{}, slog.LevelInfo},
		{"warn", model.Log{Level: "WARN"}, slog.LevelWarn},
		{"error", model.Log{Level: "error"}, slog.LevelError},
		{"verbose wins", model.Log{Level: "error", Verbose: true}, slog.LevelDebug},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.level, tc.log.SlogLevel())
		})
	}
}

func TestLoadManifest(t *testing.T) {
	t.Parallel()
	yml := `
- name: pacman
  path: pacman.zip
  checksum: crc32:c1e6ab10
  description: Pac-Man (Midway)
- name: galaga
  path: /roms/galaga.zip
- name: dkong
  path: sub/dkong.zip
  checksum: ""
`
	roms, err := model.LoadManifest(strings.NewReader(yml), "/data")
	require.NoError(t, err)
	require.Len(t, roms, 3)
	require.Equal(t, filepath.Join("/data", "pacman.zip"), roms[0].Path)
	require.Equal(t, "/roms/galaga.zip", roms[1].Path)
	require.Equal(t, filepath.Join("/data", "sub", "dkong.zip"), roms[2].Path)

	jobs := model.Jobs(roms)
	require.Len(t, jobs, 3)
	require.Equal(t, "pacman", jobs[0].Key)
	require.Equal(t, job.KindVerifyRom, jobs[0].Kind)
	require.Equal(t, job.VerifyPayload{
		Path:        filepath.Join("/data", "pacman.zip"),
		Checksum:    "crc32:c1e6ab10",
		Description: "Pac-Man (Midway)",
	}, jobs[0].Payload)
}

func TestLoadManifest_Fail(t *testing.T) {
	t.Parallel()
	yml := `
- name: pacman
  path: pacman.zip
- name: pacman
  path: pacman2.zip
- path: nameless.zip
- name: pathless
`
	_, err := model.LoadManifest(strings.NewReader(yml), "")
	require.Error(t, err)
	details := model.ConfigErrDetails(err)
	require.Equal(t, []model.ConfigError{
		{Path: "roms[1].name", Code: model.CodeDuplicate, Message: "pacman already listed at roms[0]"},
		{Path: "roms[2].name", Code: model.CodeMissing, Message: "Field name is required"},
		{Path: "roms[3].path", Code: model.CodeMissing, Message: "Field path is required"},
	}, details)
}
