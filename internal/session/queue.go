package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/dropcam/internal/media"
)

// ErrEmptyQueue is returned when the videos folder holds no videos.
var ErrEmptyQueue = errors.New("no videos in queue")

// DefaultDebounce batches bursts of folder events (a copy in progress
// writes many times) into one reload.
const DefaultDebounce = 250 * time.Millisecond

// Queue is the ordered list of videos in a folder with a cursor.
// Movement wraps around at both ends.
//
// Thread-safety: All methods are safe for concurrent use; Watch reloads
// the list from its own goroutine.
type Queue struct {
	mu     sync.RWMutex
	dir    string
	videos []string
	pos    int

	// OnChange, when set, is called after Watch reloads the list.
	OnChange func(videos []string)
	Debounce time.Duration
	Logger   *slog.Logger
}

// NewQueue lists the videos in dir. An empty folder is not an error.
func NewQueue(dir string) (*Queue, error) {
	q := &Queue{dir: dir}
	if err := q.Reload(); err != nil {
		return nil, err
	}
	return q, nil
}

// Dir returns the watched folder.
func (q *Queue) Dir() string {
	return q.dir
}

// Reload re-lists the folder. The cursor stays on the same video when it
// still exists, and is clamped otherwise.
func (q *Queue) Reload() error {
	videos, err := media.ListVideos(q.dir)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	current := ""
	if q.pos < len(q.videos) {
		current = q.videos[q.pos]
	}
	q.videos = videos
	if i := slices.Index(videos, current); i >= 0 {
		q.pos = i
	} else if q.pos >= len(videos) {
		q.pos = max(len(videos)-1, 0)
	}
	return nil
}

// Len returns the number of videos.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.videos)
}

// Videos returns a copy of the video paths in order.
func (q *Queue) Videos() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return slices.Clone(q.videos)
}

// Position returns the cursor index.
func (q *Queue) Position() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.pos
}

// Current returns the video under the cursor.
func (q *Queue) Current() (string, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if len(q.videos) == 0 {
		return "", ErrEmptyQueue
	}
	return q.videos[q.pos], nil
}

// Next moves the cursor forward, wrapping to the first video.
func (q *Queue) Next() (string, error) {
	return q.step(1)
}

// Prev moves the cursor back, wrapping to the last video.
func (q *Queue) Prev() (string, error) {
	return q.step(-1)
}

func (q *Queue) step(dir int) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.videos)
	if n == 0 {
		return "", ErrEmptyQueue
	}
	q.pos = ((q.pos+dir)%n + n) % n
	return q.videos[q.pos], nil
}

// Seek moves the cursor to index i.
func (q *Queue) Seek(i int) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.videos) == 0 {
		return "", ErrEmptyQueue
	}
	if i < 0 || i >= len(q.videos) {
		return "", fmt.Errorf("video %d out of range [0, %d)", i, len(q.videos))
	}
	q.pos = i
	return q.videos[q.pos], nil
}

// Watch reloads the queue whenever videos are added, removed or renamed in
// the folder. It blocks until ctx is done and returns nil then.
func (q *Queue) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", q.dir, err)
	}
	defer w.Close()

	if err := w.Add(q.dir); err != nil {
		return fmt.Errorf("watch %s: %w", q.dir, err)
	}
	log := q.logger()
	log.Debug("watching videos", "dir", q.dir)

	debounce := q.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			log.Debug("video folder changed", "op", event.Op.String(), "file", filepath.Base(event.Name))
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", "dir", q.dir, "error", err)

		case <-timer.C:
			if err := q.Reload(); err != nil {
				log.Warn("reload failed", "dir", q.dir, "error", err)
				continue
			}
			log.Info("queue reloaded", "videos", q.Len())
			if q.OnChange != nil {
				q.OnChange(q.Videos())
			}
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if !media.IsVideo(event.Name) {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) ||
		event.Has(fsnotify.Rename) || event.Has(fsnotify.Write)
}

func (q *Queue) logger() *slog.Logger {
	if q.Logger != nil {
		return q.Logger
	}
	return slog.New(slog.DiscardHandler)
}
