package mameuix_test

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var (
	mameuixPath string

	// tmpDir is a function used to create a tempdir
	// -test.keepdir flag says test to use os.MkdirTemp
	// default is t.TempDir, which will be cleaned up
	tmpDir func(t *testing.T) string
)

const config = `
engine:
  tick: 5ms
icons:
  size: 16
log:
  level: debug
`

func TestMain(m *testing.M) {
	var keepTestDir bool
	flag.BoolVar(&keepTestDir, "test.keepdir", false, "use os.TempDir instead of t.TempDir to keep test artifacts")

	flag.Parse()

	if testing.Short() {
		slog.Warn("integration tests with -short are ignored")
		os.Exit(0)
	}

	if !keepTestDir {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			return t.TempDir()
		}
	} else {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			dir, err := os.MkdirTemp("", t.Name()+"*")
			require.NoError(t, err)
			_, err = fmt.Fprintf(t.Output(), "TEMPDIR %s: -test.keepdir used, so it won't be automatically deleted", dir)
			require.NoError(t, err)
			return dir
		}
	}

	if !isExecutable("mameuix-ci") {
		slog.Info("mameuix-ci not found, building it")
		build := exec.Command("go", "build", "-o", "mameuix-ci", "./cmd/mameuix/")
		build.Stdout = os.Stderr
		build.Stderr = os.Stderr
		if err := build.Run(); err != nil {
			slog.Error("cannot build mameuix-ci binary: run go build -race -cover -covermode=atomic -o mameuix-ci ./cmd/mameuix/ first", "error", err)
			os.Exit(1)
		}
	}

	var err error
	mameuixPath, err = filepath.Abs("mameuix-ci")
	if err != nil {
		slog.Error("can't get abspath for mameuix-ci", "error", err)
		os.Exit(1)
	}
	coverDir, err := filepath.Abs("coverage")
	if err != nil {
		slog.Error("can't get value for GOCOVERDIR for mameuix-ci", "error", err)
		os.Exit(1)
	}
	err = rmRfMkdirp(coverDir)
	if err != nil {
		slog.Error("can't reset GOCOVERDIR for mameuix-ci", "error", err, "coverdir", coverDir)
		os.Exit(1)
	}

	err = os.Setenv("GOCOVERDIR", coverDir)
	if err != nil {
		slog.Error("can't set GOCOVERDIR env variable", "error", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

type testReport struct {
	State string `yaml:"state"`
	Stats struct {
		Total       int `yaml:"total"`
		Verified    int `yaml:"verified"`
		Missing     int `yaml:"missing"`
		BadChecksum int `yaml:"bad_checksum"`
		Warning     int `yaml:"warning"`
		Error       int `yaml:"error"`
	} `yaml:"stats"`
	Items []struct {
		Key    string `yaml:"key"`
		Status string `yaml:"status"`
		Reason string `yaml:"reason"`
	} `yaml:"items"`
}

// romFixture creates a ROM directory with a manifest of four sets: a good
// dump, a missing file, a corrupted file and a set without known good dump.
func romFixture(t *testing.T, dir string) {
	t.Helper()
	good := []byte("pacman program rom")
	sum := fmt.Sprintf("%08x", crc32.ChecksumIEEE(good))

	creat(t, filepath.Join(dir, "mameuix.yaml"), []byte(config))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "roms"), 0755))
	creat(t, filepath.Join(dir, "roms", "pacman.zip"), good)
	creat(t, filepath.Join(dir, "roms", "galaga.zip"), []byte("corrupted"))
	creat(t, filepath.Join(dir, "roms", "puckman.zip"), good)

	manifest := fmt.Sprintf(`
- name: pacman
  path: pacman.zip
  checksum: crc32:%s
  description: Pac-Man (Midway)
- name: dkong
  path: dkong.zip
  checksum: crc32:%s
- name: galaga
  path: galaga.zip
  checksum: %s
- name: puckman
  path: puckman.zip
`, sum, sum, sum)
	creat(t, filepath.Join(dir, "roms", "roms.yaml"), []byte(manifest))
}

func run(t *testing.T, dir string, args ...string) (stdout, stderr bytes.Buffer, err error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	t.Cleanup(cancel)
	cmd := exec.CommandContext(ctx, mameuixPath, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err = cmd.Run()
	return stdout, stderr, err
}

func TestVerify(t *testing.T) {
	dir := tmpDir(t)
	romFixture(t, dir)

	_, stderr, err := run(t, dir, "verify", "--config", "mameuix.yaml", "--manifest", "roms/roms.yaml", "--out", "report.yaml")
	if err != nil {
		t.Logf("%s", stderr.String())
		require.NoError(t, err)
	}
	require.Contains(t, stderr.String(), `"msg":"verification completed"`)
	require.Contains(t, stderr.String(), `"cmd":"verify"`)

	b, err := os.ReadFile(filepath.Join(dir, "report.yaml"))
	require.NoError(t, err)
	var r testReport
	require.NoError(t, yaml.Unmarshal(b, &r))

	require.Equal(t, "completed", r.State)
	require.Equal(t, 4, r.Stats.Total)
	require.Equal(t, 1, r.Stats.Verified)
	require.Equal(t, 1, r.Stats.Missing)
	require.Equal(t, 1, r.Stats.BadChecksum)
	require.Equal(t, 1, r.Stats.Warning)
	require.Len(t, r.Items, 4)

	statuses := map[string]string{}
	for _, it := range r.Items {
		statuses[it.Key] = it.Status
	}
	require.Equal(t, map[string]string{
		"pacman":  "verified",
		"dkong":   "missing",
		"galaga":  "bad_checksum",
		"puckman": "warning",
	}, statuses)
}

func TestVerifyStrictIssues(t *testing.T) {
	dir := tmpDir(t)
	romFixture(t, dir)

	stdout, stderr, err := run(t, dir, "verify", "--config", "mameuix.yaml", "--manifest", "roms/roms.yaml", "--issues", "--strict")
	require.Error(t, err)
	require.Contains(t, stderr.String(), "verification found issues: 3 of 4")

	var r testReport
	require.NoError(t, yaml.Unmarshal(stdout.Bytes(), &r))
	require.Len(t, r.Items, 3)
	for _, it := range r.Items {
		require.NotEqual(t, "verified", it.Status)
	}
}

func TestVerifySingle(t *testing.T) {
	dir := tmpDir(t)
	romFixture(t, dir)

	stdout, stderr, err := run(t, dir, "verify", "--config", "mameuix.yaml", "--manifest", "roms/roms.yaml", "pacman")
	if err != nil {
		t.Logf("%s", stderr.String())
		require.NoError(t, err)
	}
	var r testReport
	require.NoError(t, yaml.Unmarshal(stdout.Bytes(), &r))
	require.Equal(t, 1, r.Stats.Total)
	require.Equal(t, 1, r.Stats.Verified)
}

func TestIcons(t *testing.T) {
	dir := tmpDir(t)
	creat(t, filepath.Join(dir, "mameuix.yaml"), []byte(config))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "icons"), 0755))
	creat(t, filepath.Join(dir, "icons", "pacman.png"), pngIcon(t, 48))
	creat(t, filepath.Join(dir, "icons", "galaga.png"), pngIcon(t, 16))
	creat(t, filepath.Join(dir, "icons", "dkong.ico"), []byte("not an icon"))
	creat(t, filepath.Join(dir, "icons", "readme.txt"), []byte("ignored"))

	stdout, stderr, err := run(t, dir, "icons", "--config", "mameuix.yaml", "--dir", "icons")
	if err != nil {
		t.Logf("%s", stderr.String())
		require.NoError(t, err)
	}

	var summary struct {
		Requested int `yaml:"requested"`
		Loaded    int `yaml:"loaded"`
		Failed    int `yaml:"failed"`
		Cached    int `yaml:"cached"`
	}
	require.NoError(t, yaml.Unmarshal(stdout.Bytes(), &summary))
	require.Equal(t, 3, summary.Requested)
	require.Equal(t, 2, summary.Loaded)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 3, summary.Cached)
}

func TestInvalidConfig(t *testing.T) {
	dir := tmpDir(t)
	creat(t, filepath.Join(dir, "mameuix.yaml"), []byte("engine:\n  pool_cap: 0\n"))

	_, stderr, err := run(t, dir, "version", "--config", "mameuix.yaml")
	require.Error(t, err)
	require.Contains(t, stderr.String(), `"path":"engine.pool_cap"`)
	require.Contains(t, stderr.String(), `"msg":"mameuix failed"`)
}

func pngIcon(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for x := range size {
		for y := range size {
			img.Set(x, y, color.RGBA{R: 255, G: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

func rmRfMkdirp(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

func creat(t *testing.T, path string, content []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()
	_, err = f.Write(content)
	require.NoError(t, err)
	err = f.Sync()
	require.NoError(t, err)
}
