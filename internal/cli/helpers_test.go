package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/dropcam/internal/ir"
)

// env is a throwaway dropcam workspace with its own config file.
type env struct {
	Root      string
	Config    string
	Videos    string
	Stills    string
	Data      string
	Database  string
	prober    *fakeProber
	extractor *fakeExtractor
}

// newEnv writes a config pointing every path into a temp dir. ffprobe
// points at a missing binary so probing falls back to file name stamps.
func newEnv(t *testing.T, extra ...string) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{
		Root:      root,
		Config:    filepath.Join(root, "dropcam.yaml"),
		Videos:    filepath.Join(root, "videos"),
		Stills:    filepath.Join(root, "stills"),
		Data:      filepath.Join(root, "data"),
		Database:  filepath.Join(root, "state", "dropcam.db"),
		prober:    &fakeProber{fps: 30, frames: 300},
		extractor: &fakeExtractor{},
	}
	require.NoError(t, os.MkdirAll(e.Videos, 0o755))

	lines := []string{
		"videos_dir: " + e.Videos,
		"stills_dir: " + e.Stills,
		"data_dir: " + e.Data,
		"database: " + e.Database,
		"match:",
		"  timezone: UTC",
		"media:",
		"  ffprobe: " + filepath.Join(root, "no-such-ffprobe"),
		"  ffmpeg: " + filepath.Join(root, "no-such-ffmpeg"),
		"log:",
		"  level: error",
	}
	lines = append(lines, extra...)
	require.NoError(t, os.WriteFile(e.Config, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return e
}

// video creates an empty video file in the videos folder.
func (e *env) video(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(e.Videos, name)
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	return path
}

func (e *env) file(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.Root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// run executes dropcam with the real ffprobe/ffmpeg wiring.
func (e *env) run(args ...string) (stdout, stderr string, err error) {
	return execute(&RootOptions{}, append([]string{"--config", e.Config}, args...)...)
}

// runFake executes dropcam with the fake prober and extractor.
func (e *env) runFake(args ...string) (stdout, stderr string, err error) {
	opts := &RootOptions{prober: e.prober, extractor: e.extractor}
	return execute(opts, append([]string{"--config", e.Config}, args...)...)
}

func execute(opts *RootOptions, args ...string) (string, string, error) {
	cmd := newRootCommand(opts)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

type fakeProber struct {
	fps    float64
	frames int
}

func (p *fakeProber) Probe(ctx context.Context, path string) (ir.Video, error) {
	if _, err := os.Stat(path); err != nil {
		return ir.Video{}, fmt.Errorf("probe %s: %w", path, err)
	}
	return ir.Video{
		Path:   path,
		Name:   filepath.Base(path),
		Source: ir.TimeSourceModTime,
		FPS:    p.fps,
		Frames: p.frames,
	}, nil
}

type fakeExtractor struct {
	mu     sync.Mutex
	frames []int
}

func (x *fakeExtractor) ExtractFrame(ctx context.Context, video string, frame int, fps float64, out string) error {
	x.mu.Lock()
	x.frames = append(x.frames, frame)
	x.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	return os.WriteFile(out, []byte("jpeg"), 0o644)
}

func (x *fakeExtractor) calls() []int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]int(nil), x.frames...)
}
