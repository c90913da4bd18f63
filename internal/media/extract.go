package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// VideoExtensions are the file extensions treated as videos.
var VideoExtensions = []string{".mp4", ".avi", ".mov", ".mkv", ".flv", ".wmv", ".m4v"}

// Extractor writes single frames of a video as JPEG stills.
type Extractor interface {
	ExtractFrame(ctx context.Context, video string, frame int, fps float64, out string) error
}

// FFmpeg implements Extractor with the ffmpeg binary.
type FFmpeg struct {
	Bin     string // default "ffmpeg"
	Quality int    // -q:v, 2 (best) to 31; default 2
	Run     Runner // default ExecRunner
}

// ErrNoFrameRate is returned when a frame index cannot be turned into a
// timestamp.
var ErrNoFrameRate = errors.New("unknown frame rate")

// ExtractFrame seeks to frame/fps seconds and writes one frame to out.
// The parent directory of out is created if needed.
func (f *FFmpeg) ExtractFrame(ctx context.Context, video string, frame int, fps float64, out string) error {
	if fps <= 0 {
		return fmt.Errorf("extract %s frame %d: %w", filepath.Base(video), frame, ErrNoFrameRate)
	}
	if frame < 0 {
		return fmt.Errorf("extract %s: negative frame %d", filepath.Base(video), frame)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	run := f.Run
	if run == nil {
		run = ExecRunner
	}
	if _, err := run(ctx, f.bin(), f.Args(video, frame, fps, out)...); err != nil {
		return fmt.Errorf("extract %s frame %d: %w", filepath.Base(video), frame, err)
	}
	return nil
}

// Args returns the ffmpeg arguments for extracting one frame.
func (f *FFmpeg) Args(video string, frame int, fps float64, out string) []string {
	return []string{
		"-v", "error",
		"-y",
		"-ss", SeekSeconds(frame, fps),
		"-i", video,
		"-frames:v", "1",
		"-q:v", strconv.Itoa(f.quality()),
		out,
	}
}

func (f *FFmpeg) bin() string {
	if f.Bin == "" {
		return "ffmpeg"
	}
	return f.Bin
}

func (f *FFmpeg) quality() int {
	if f.Quality < 2 || f.Quality > 31 {
		return 2
	}
	return f.Quality
}

// SeekSeconds formats frame/fps with millisecond precision.
func SeekSeconds(frame int, fps float64) string {
	return strconv.FormatFloat(float64(frame)/fps, 'f', 3, 64)
}

// IsVideo reports whether name has a video extension (case-insensitive).
func IsVideo(name string) bool {
	return slices.Contains(VideoExtensions, strings.ToLower(filepath.Ext(name)))
}

// ListVideos returns the video files directly inside dir, sorted by path.
func ListVideos(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !IsVideo(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	slices.Sort(out)
	return out, nil
}
