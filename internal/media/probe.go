// Package media wraps the external ffprobe and ffmpeg tools.
//
// No decoding happens in-process. Every call shells out through a Runner so
// tests can substitute canned tool output.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/dropcam/internal/ir"
)

// Runner executes an external command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec, folding stderr into the error.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Prober reads a video's creation time and stream properties.
type Prober interface {
	Probe(ctx context.Context, path string) (ir.Video, error)
}

// FFprobe implements Prober with the ffprobe binary.
//
// The creation time comes from the container creation_time tag, then any
// stream's creation_time tag, then a YYYYMMDDhhmmss timestamp in the file
// name (DJI style), then the file's modification time.
type FFprobe struct {
	Bin      string         // default "ffprobe"
	Location *time.Location // for filename timestamps, default time.Local
	Run      Runner         // default ExecRunner
	Logger   *slog.Logger
}

// Probe implements Prober. It only fails when the file cannot be stat'ed;
// ffprobe failures degrade to the filename and modtime fallbacks.
func (p *FFprobe) Probe(ctx context.Context, path string) (ir.Video, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ir.Video{}, fmt.Errorf("probe %s: %w", path, err)
	}
	if info.IsDir() {
		return ir.Video{}, fmt.Errorf("probe %s: is a directory", path)
	}

	v := ir.Video{Path: path, Name: filepath.Base(path)}
	logger := p.logger().With("video", v.Name)

	out, err := p.runner()(ctx, p.bin(),
		"-v", "error",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path)
	if err != nil {
		if ctx.Err() != nil {
			return ir.Video{}, ctx.Err()
		}
		logger.Warn("ffprobe failed, using fallbacks", "error", err)
	} else {
		res, perr := ParseProbeOutput(out)
		if perr != nil {
			logger.Warn("unreadable ffprobe output", "error", perr)
		} else {
			v.Duration = res.Duration
			v.FPS = res.FPS
			v.Frames = res.Frames
			if !res.Created.IsZero() {
				v.Created = res.Created
				v.Source = ir.TimeSourceMetadata
			}
		}
	}

	if v.Created.IsZero() {
		if ts, ok := TimeFromFilename(v.Name, p.location()); ok {
			v.Created = ts
			v.Source = ir.TimeSourceFilename
		} else {
			v.Created = info.ModTime()
			v.Source = ir.TimeSourceModTime
		}
	}

	logger.Debug("probed", "created", v.Created, "source", v.Source, "fps", v.FPS, "frames", v.Frames)
	return v, nil
}

func (p *FFprobe) bin() string {
	if p.Bin == "" {
		return "ffprobe"
	}
	return p.Bin
}

func (p *FFprobe) runner() Runner {
	if p.Run == nil {
		return ExecRunner
	}
	return p.Run
}

func (p *FFprobe) location() *time.Location {
	if p.Location == nil {
		return time.Local
	}
	return p.Location
}

func (p *FFprobe) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.Logger
}

// ProbeResult is the subset of ffprobe output dropcam uses.
type ProbeResult struct {
	Created  time.Time
	Duration time.Duration
	FPS      float64
	Frames   int
}

type probeJSON struct {
	Streams []struct {
		CodecType    string            `json:"codec_type"`
		AvgFrameRate string            `json:"avg_frame_rate"`
		RFrameRate   string            `json:"r_frame_rate"`
		NbFrames     string            `json:"nb_frames"`
		Duration     string            `json:"duration"`
		Tags         map[string]string `json:"tags"`
	} `json:"streams"`
	Format struct {
		Duration string            `json:"duration"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
}

// ParseProbeOutput decodes `ffprobe -print_format json -show_format
// -show_streams` output.
func ParseProbeOutput(data []byte) (ProbeResult, error) {
	var p probeJSON
	if err := json.Unmarshal(data, &p); err != nil {
		return ProbeResult{}, fmt.Errorf("decode ffprobe json: %w", err)
	}

	var res ProbeResult
	if ts, ok := creationTime(p.Format.Tags); ok {
		res.Created = ts
	} else {
		for _, s := range p.Streams {
			if ts, ok := creationTime(s.Tags); ok {
				res.Created = ts
				break
			}
		}
	}

	if secs, err := strconv.ParseFloat(p.Format.Duration, 64); err == nil {
		res.Duration = time.Duration(math.Round(secs * float64(time.Second)))
	}

	for _, s := range p.Streams {
		if s.CodecType != "video" {
			continue
		}
		res.FPS = parseRate(s.AvgFrameRate)
		if res.FPS == 0 {
			res.FPS = parseRate(s.RFrameRate)
		}
		if n, err := strconv.Atoi(s.NbFrames); err == nil {
			res.Frames = n
		}
		if res.Duration == 0 {
			if secs, err := strconv.ParseFloat(s.Duration, 64); err == nil {
				res.Duration = time.Duration(math.Round(secs * float64(time.Second)))
			}
		}
		break
	}
	if res.Frames == 0 && res.FPS > 0 && res.Duration > 0 {
		res.Frames = int(math.Round(res.Duration.Seconds() * res.FPS))
	}
	return res, nil
}

var creationLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

func creationTime(tags map[string]string) (time.Time, bool) {
	for k, v := range tags {
		if !strings.EqualFold(k, "creation_time") {
			continue
		}
		v = strings.TrimSpace(v)
		for _, layout := range creationLayouts {
			if ts, err := time.Parse(layout, v); err == nil && ts.Year() > 1970 {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

// parseRate parses an ffprobe rational such as "30000/1001".
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

var filenameStamp = regexp.MustCompile(`(?:^|\D)(\d{8})[_-]?(\d{6})(?:\D|$)`)

// TimeFromFilename extracts a YYYYMMDDhhmmss timestamp such as the one in
// DJI_20240302091500_0001.MP4.
func TimeFromFilename(name string, loc *time.Location) (time.Time, bool) {
	m := filenameStamp.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation("20060102150405", m[1]+m[2], loc)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// ProbeAll probes paths with at most workers concurrent ffprobe processes.
// Results are in input order. The first error cancels the rest.
func ProbeAll(ctx context.Context, p Prober, paths []string, workers int) ([]ir.Video, error) {
	if workers < 1 {
		workers = 1
	}
	out := make([]ir.Video, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		g.Go(func() error {
			v, err := p.Probe(ctx, path)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
