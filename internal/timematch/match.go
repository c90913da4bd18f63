// Package timematch pairs videos with survey waypoints by timestamp.
package timematch

import (
	"cmp"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/dropcam/internal/ir"
)

// Options controls matching.
type Options struct {
	// Tolerance is the largest accepted |video time - waypoint time|.
	// Zero accepts exact matches only.
	Tolerance time.Duration

	// ClockOffset is added to every video time before comparing, to correct
	// a camera clock that runs behind (positive) or ahead (negative).
	ClockOffset time.Duration

	// InferSequential assigns an unmatched video to waypoint p+1 when its
	// matched neighbours carry POINT_IDs p and p+2.
	InferSequential bool
}

// Match pairs each video with its nearest waypoint.
//
// Results are ordered by video time (ties by name), one per video.
// Empty inputs never error: no waypoints means every video is unmatched.
func Match(videos []ir.Video, waypoints []ir.Waypoint, opts Options) []ir.Match {
	wps := slices.Clone(waypoints)
	slices.SortStableFunc(wps, func(a, b ir.Waypoint) int {
		if c := a.Time.Compare(b.Time); c != 0 {
			return c
		}
		return cmp.Compare(a.PointID, b.PointID)
	})

	vids := slices.Clone(videos)
	slices.SortStableFunc(vids, func(a, b ir.Video) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})

	matches := make([]ir.Match, len(vids))
	assigned := make([]int, len(vids)) // waypoint index, -1 if none
	for i, v := range vids {
		t := v.Created.Add(opts.ClockOffset)
		matches[i] = ir.Match{Video: v, Status: ir.MatchUnmatched}
		assigned[i] = -1

		j, ok := nearest(wps, t)
		if !ok {
			continue
		}
		delta := t.Sub(wps[j].Time)
		if abs(delta) > opts.Tolerance {
			continue
		}
		matches[i].Waypoint = &wps[j]
		matches[i].Delta = delta
		matches[i].Status = ir.MatchMatched
		assigned[i] = j
	}

	if opts.InferSequential {
		inferSequential(matches, assigned, wps, opts.ClockOffset)
	}

	numberShared(matches, assigned)
	return matches
}

// nearest returns the index of the waypoint closest to t. When two are
// equally close the earlier one wins.
func nearest(wps []ir.Waypoint, t time.Time) (int, bool) {
	if len(wps) == 0 {
		return 0, false
	}
	idx := sort.Search(len(wps), func(i int) bool {
		return !wps[i].Time.Before(t)
	})
	switch {
	case idx == 0:
		return 0, true
	case idx == len(wps):
		return len(wps) - 1, true
	}
	before := t.Sub(wps[idx-1].Time)
	after := wps[idx].Time.Sub(t)
	if after < before {
		return idx, true
	}
	return idx - 1, true
}

// inferSequential fills gaps in runs of numerically consecutive POINT_IDs.
// Only directly matched videos act as neighbours.
func inferSequential(matches []ir.Match, assigned []int, wps []ir.Waypoint, offset time.Duration) {
	byNumber := make(map[int]int, len(wps))
	for i, wp := range wps {
		n, err := strconv.Atoi(strings.TrimSpace(wp.PointID))
		if err != nil {
			continue
		}
		if _, dup := byNumber[n]; !dup {
			byNumber[n] = i
		}
	}

	used := make(map[int]bool)
	for _, j := range assigned {
		if j >= 0 {
			used[j] = true
		}
	}

	for i := range matches {
		if matches[i].Status != ir.MatchUnmatched {
			continue
		}
		prev, ok := neighbourID(matches, i, -1)
		if !ok {
			continue
		}
		next, ok := neighbourID(matches, i, +1)
		if !ok || next != prev+2 {
			continue
		}
		j, ok := byNumber[prev+1]
		if !ok || used[j] {
			continue
		}
		t := matches[i].Video.Created.Add(offset)
		matches[i].Waypoint = &wps[j]
		matches[i].Delta = t.Sub(wps[j].Time)
		matches[i].Status = ir.MatchInferred
		assigned[i] = j
		used[j] = true
	}
}

// neighbourID walks from i in direction dir to the closest directly matched
// video and returns its numeric POINT_ID.
func neighbourID(matches []ir.Match, i, dir int) (int, bool) {
	for k := i + dir; k >= 0 && k < len(matches); k += dir {
		if matches[k].Status != ir.MatchMatched {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(matches[k].Waypoint.PointID))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// numberShared sets Shared and Seq for waypoints that took several videos.
// Matches are already in video time order.
func numberShared(matches []ir.Match, assigned []int) {
	count := make(map[int]int)
	for _, j := range assigned {
		if j >= 0 {
			count[j]++
		}
	}
	seen := make(map[int]int)
	for i, j := range assigned {
		if j < 0 || count[j] < 2 {
			continue
		}
		seen[j]++
		matches[i].Shared = count[j]
		matches[i].Seq = seen[j]
	}
}

// abs saturates: time.Time.Sub clamps far-apart times to the Duration
// range, and -minDuration would overflow back to negative.
func abs(d time.Duration) time.Duration {
	if d == math.MinInt64 {
		return math.MaxInt64
	}
	if d < 0 {
		return -d
	}
	return d
}

// Summary counts match outcomes.
type Summary struct {
	Matched   int `json:"matched"`
	Inferred  int `json:"inferred"`
	Unmatched int `json:"unmatched"`
	Shared    int `json:"shared"` // videos on a waypoint with more than one video
}

// Summarize counts the statuses in a match list.
func Summarize(matches []ir.Match) Summary {
	var s Summary
	for _, m := range matches {
		switch m.Status {
		case ir.MatchMatched:
			s.Matched++
		case ir.MatchInferred:
			s.Inferred++
		default:
			s.Unmatched++
		}
		if m.Shared > 1 {
			s.Shared++
		}
	}
	return s
}
