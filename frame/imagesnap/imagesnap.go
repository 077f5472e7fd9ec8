// Package imagesnap implements an image recorder with the imagesnap command
// for macOS.
package imagesnap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	kidwatch "github.com/kidwatch/kidwatch-go"
	"github.com/kidwatch/kidwatch-go/frame"
)

var errInstallHint = errors.New("executable not found, install with: brew install imagesnap")

// ListDevices returns all image capturing devices available to imagesnap.
// ListDevices returns an error if no devices are available.
func ListDevices() ([]frame.Device, error) {
	cmd := exec.Command("imagesnap", "-l")
	buf, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("listing devices with imagesnap -l: %v", err)
	}
	return parseDevices(string(buf))
}

func parseDevices(s string) ([]frame.Device, error) {
	devs := []frame.Device{}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		var name string
		switch {
		case strings.HasPrefix(line, "=> "):
			// Newer format, example: "=> FaceTime HD Camera (Built-in)"
			name = line[len("=> "):]
		case strings.HasPrefix(line, "<"):
			// Older format, example: "<AVCaptureDALDevice: 0x7fa2c7852fd0 [FaceTime HD Camera (Built-in)][0x8020000005ac8514]>"
			t := strings.Split(line, "[")
			if len(t) < 2 {
				continue
			}
			name = strings.Split(t[1], "]")[0]
		default:
			continue
		}
		devs = append(devs, frame.Device{Name: name, ID: name})
	}
	if len(devs) == 0 {
		return nil, fmt.Errorf("no devices available")
	}
	return devs, nil
}

// RecorderOpts has options for a new imagesnap recorder.
type RecorderOpts struct {
	Interval time.Duration // How often to record an image.
	DeviceID string        // As returned by ListDevices. If empty, NewRecorder will use the first device returned by ListDevices.
	Logger   *slog.Logger
}

// Recorder records images by starting imagesnap and configuring it to write images to temporary storage.
type Recorder struct {
	opts    RecorderOpts
	events  chan frame.Event
	tempDir string
	cancel  context.CancelFunc
	watcher *fsnotify.Watcher
}

// Check that Recorder implements interface Recorder.
var _ frame.Recorder = (*Recorder)(nil)

// Events returns a channel on which Events can be received.
func (r *Recorder) Events() chan frame.Event {
	return r.events
}

// NewRecorder creates a new recorder by starting imagesnap, making it write
// images to a temporary directory. These images are read and sent on the
// channel returned by Events.
//
// Callers must call Close to clean up.
func NewRecorder(opts RecorderOpts) (recorder *Recorder, rerr error) {
	r := &Recorder{opts: opts}
	if r.opts.Interval <= 0 {
		r.opts.Interval = time.Second
	}
	if r.opts.Logger == nil {
		r.opts.Logger = slog.Default()
	}
	log := r.opts.Logger

	if r.opts.DeviceID == "" {
		devs, err := ListDevices()
		if err != nil {
			return nil, fmt.Errorf("listing devices: %v", err)
		}
		r.opts.DeviceID = devs[0].ID
	}

	// Ensure cleanup in case of failure.
	defer func() {
		if rerr != nil {
			r.Close()
		}
	}()

	tempDir, err := kidwatch.TempDir()
	if err != nil {
		return nil, fmt.Errorf("making temp dir: %v", err)
	}
	r.tempDir = tempDir
	log.Debug("imagesnap recorder, tempdir for images", "dir", r.tempDir)

	args := []string{
		"-q",
		"-d", r.opts.DeviceID,
		"-t", fmt.Sprintf("%.2f", r.opts.Interval.Seconds()),
	}
	log.Debug("starting imagesnap", "args", strings.Join(args, " "))

	r.events = make(chan frame.Event)
	// Imagesnap renames finished snapshots into place, so only creation counts.
	watcher, err := frame.WatchDir(r.tempDir, r.events, frame.WatchOpts{
		Interval: r.opts.Interval / 2,
		Op:       fsnotify.Create,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	r.watcher = watcher

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	cmd := exec.CommandContext(ctx, "imagesnap", args...)
	cmd.Dir = r.tempDir
	if log.Enabled(ctx, slog.LevelDebug) {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("starting imagesnap: %v", err)
	}
	go func() {
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			log.Warn("imagesnap exited", "error", err)
		}
	}()

	return r, nil
}

// Close shuts down the recorder, stopping the imagesnap process and removing
// the temporary directory.
func (r *Recorder) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.watcher != nil {
		r.watcher.Close()
	}
	if r.tempDir != "" {
		os.RemoveAll(r.tempDir)
	}
	return nil
}
