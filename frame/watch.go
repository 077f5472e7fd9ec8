package frame

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/fsnotify/fsnotify"
)

// WatchOpts are options for WatchDir.
type WatchOpts struct {
	// Minimum time between two forwarded images. Images arriving sooner are
	// removed without decoding.
	Interval time.Duration

	// File operations that indicate an image is ready, eg fsnotify.Write for
	// tools that write in place, fsnotify.Create for tools that rename
	// finished files into the directory.
	Op fsnotify.Op

	Logger *slog.Logger
}

// WatchDir watches dir for JPEG images written by a capture tool. Each image is
// decoded, removed from disk, and sent on events. Images are dropped when the
// receiver of events is busy.
//
// Callers must Close the returned watcher, which also stops the goroutine
// forwarding images.
func WatchDir(dir string, events chan<- Event, opts WatchOpts) (*fsnotify.Watcher, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Op == 0 {
		opts.Op = fsnotify.Write
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new file change watcher: %v", err)
	}

	go func() {
		var last time.Time
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&opts.Op == 0 || !strings.HasSuffix(ev.Name, ".jpg") {
					continue
				}
				now := time.Now()
				if now.Sub(last) < opts.Interval*9/10 {
					if err := os.Remove(ev.Name); err != nil {
						log.Debug("removing skipped image", "path", ev.Name, "error", err)
					}
					continue
				}
				f, err := os.Open(ev.Name)
				if err != nil {
					log.Debug("open written file", "path", ev.Name, "error", err)
					continue
				}
				img, err := imaging.Decode(f, imaging.AutoOrientation(true))
				f.Close()
				if err != nil {
					log.Debug("decoding jpeg, may be partially written", "path", ev.Name, "error", err)
					continue
				}
				if err := os.Remove(ev.Name); err != nil {
					log.Debug("removing image", "path", ev.Name, "error", err)
				}
				select {
				case events <- Event{Image: img, At: now}:
					last = now
				default:
					log.Debug("dropping image, sampler still busy")
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				select {
				case events <- Event{Err: fmt.Errorf("watching for changes: %v", err), At: time.Now()}:
				default:
				}
			}
		}
	}()

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("registering file change watcher for %s: %v", dir, err)
	}
	return watcher, nil
}
