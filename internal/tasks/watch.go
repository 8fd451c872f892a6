package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"

	"panoramer/internal/fsutil"
)

// UploadWatcher triggers a callback once the image set in a directory stops
// changing and holds at least two images.
type UploadWatcher struct {
	watcher *fsnotify.Watcher
	dir     string
	settle  time.Duration
	onReady func(ctx context.Context, images []string)
	log     *slog.Logger
	last    []uploadStamp
}

// uploadStamp identifies one version of an uploaded file.
type uploadStamp struct {
	name    string
	size    int64
	modTime time.Time
}

// NewUploadWatcher creates a watcher on dir. onReady receives the
// numerically sorted image list.
func NewUploadWatcher(dir string, settle time.Duration, logger *slog.Logger, onReady func(ctx context.Context, images []string)) (*UploadWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if settle <= 0 {
		settle = 2 * time.Second
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &UploadWatcher{
		watcher: watcher,
		dir:     dir,
		settle:  settle,
		onReady: onReady,
		log:     logger,
	}, nil
}

// Run processes events until ctx is done and then closes the watcher.
func (w *UploadWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	w.log.Info("watching upload directory", "dir", w.dir, "settle", w.settle)

	// the first expiry picks up files that were present before the watch
	timer := time.NewTimer(w.settle)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !fsutil.IsImageFile(event.Name) {
				continue
			}
			w.log.Debug("upload event", "path", filepath.Base(event.Name), "op", event.Op.String())
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.settle)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("upload watcher error", "error", err)

		case <-timer.C:
			w.settled(ctx)
		}
	}
}

func (w *UploadWatcher) settled(ctx context.Context) {
	images, err := fsutil.ListImages(w.dir)
	if err != nil {
		w.log.Warn("list uploads failed", "dir", w.dir, "error", err)
		return
	}
	if len(images) < 2 {
		w.last = nil
		return
	}
	fsutil.SortNumeric(images)
	stamps, err := stampImages(images)
	if err != nil {
		w.log.Warn("stat uploads failed", "dir", w.dir, "error", err)
		return
	}
	if slices.EqualFunc(stamps, w.last, func(a, b uploadStamp) bool {
		return a.name == b.name && a.size == b.size && a.modTime.Equal(b.modTime)
	}) {
		return
	}
	w.last = stamps
	w.log.Info("upload set settled", "dir", w.dir, "images", len(images))
	w.onReady(ctx, images)
}

func stampImages(images []string) ([]uploadStamp, error) {
	stamps := make([]uploadStamp, 0, len(images))
	for _, img := range images {
		info, err := os.Stat(img)
		if err != nil {
			return nil, err
		}
		stamps = append(stamps, uploadStamp{name: filepath.Base(img), size: info.Size(), modTime: info.ModTime()})
	}
	return stamps, nil
}
