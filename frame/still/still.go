// Package still implements a recorder that replays an image file, for running
// without a camera. The file is read again when it changes on disk.
package still

import (
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/fsnotify/fsnotify"

	"github.com/kidwatch/kidwatch-go/frame"
)

// RecorderOpts has options for a new still image recorder.
type RecorderOpts struct {
	Path     string        // Image file, any format supported by imaging.
	Interval time.Duration // How often the image is sent. Default 1s.
	Logger   *slog.Logger
}

// Recorder sends the same image on its events channel every interval.
type Recorder struct {
	opts    RecorderOpts
	log     *slog.Logger
	events  chan frame.Event
	watcher *fsnotify.Watcher
	stop    chan struct{}
	once    sync.Once

	mu  sync.Mutex
	img image.Image
}

// Check that Recorder implements interface Recorder.
var _ frame.Recorder = (*Recorder)(nil)

// NewRecorder opens the image at opts.Path and starts sending it.
//
// Callers must call Close to clean up.
func NewRecorder(opts RecorderOpts) (recorder *Recorder, rerr error) {
	r := &Recorder{
		opts:   opts,
		events: make(chan frame.Event),
		stop:   make(chan struct{}),
	}
	if r.opts.Interval <= 0 {
		r.opts.Interval = time.Second
	}
	if r.opts.Logger == nil {
		r.opts.Logger = slog.Default()
	}
	r.log = r.opts.Logger

	img, err := imaging.Open(r.opts.Path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("opening image: %v", err)
	}
	r.img = img

	defer func() {
		if rerr != nil {
			r.Close()
		}
	}()

	// Editors often replace files instead of writing in place, so watch the
	// directory.
	r.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new file change watcher: %v", err)
	}
	if err := r.watcher.Add(filepath.Dir(r.opts.Path)); err != nil {
		return nil, fmt.Errorf("registering file change watcher: %v", err)
	}

	go r.watch()
	go r.send()
	return r, nil
}

// Events returns a channel on which Events can be received.
func (r *Recorder) Events() chan frame.Event {
	return r.events
}

func (r *Recorder) watch() {
	path := filepath.Clean(r.opts.Path)
	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			img, err := imaging.Open(path, imaging.AutoOrientation(true))
			if err != nil {
				r.log.Debug("reloading image, may be partially written", "path", path, "error", err)
				continue
			}
			r.mu.Lock()
			r.img = img
			r.mu.Unlock()
			r.log.Debug("image reloaded", "path", path)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Warn("watching image", "error", err)
		}
	}
}

func (r *Recorder) send() {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		r.mu.Lock()
		img := r.img
		r.mu.Unlock()
		select {
		case r.events <- frame.Event{Image: img, At: time.Now()}:
		case <-r.stop:
			return
		}
		select {
		case <-ticker.C:
		case <-r.stop:
			return
		}
	}
}

// Close stops sending images.
func (r *Recorder) Close() error {
	r.once.Do(func() {
		close(r.stop)
		if r.watcher != nil {
			r.watcher.Close()
		}
	})
	return nil
}
