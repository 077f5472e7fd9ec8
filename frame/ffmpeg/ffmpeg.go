// Package ffmpeg implements an image recorder for video4linux cameras with
// ffmpeg.
package ffmpeg

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

var errInstallHint = errors.New("executable not found, install with: sudo apt install -y ffmpeg v4l-utils")

// RecorderOpts has options for a new ffmpeg recorder.
type RecorderOpts struct {
	Interval  time.Duration // How often to record an image.
	DeviceID  string        // As retrieved from ListDevices. If empty, NewRecorder will use the first device returned by ListDevices.
	VideoSize string        // Eg "640x480", the default.
	Logger    *slog.Logger
}

// Recorder is an image recorder using ffmpeg.
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

// ListDevices returns a list of devices that can be used for recording.
// ListDevices returns an error if no devices are available.
func ListDevices() ([]frame.Device, error) {
	cmd := exec.Command("v4l2-ctl", "--list-devices")
	buf, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("listing devices using v4l2-ctl: %v", err)
	}
	return parseDevices(string(buf))
}

// parseDevices parses v4l2-ctl output: a line per device, followed by indented
// lines with its device nodes.
func parseDevices(s string) ([]frame.Device, error) {
	var curDevice string
	devices := []frame.Device{}
	for _, line := range strings.Split(s, "\n") {
		if !strings.HasPrefix(line, "\t") {
			curDevice = strings.TrimSuffix(strings.TrimSpace(line), ":")
			continue
		}
		// The bcm2835 codec and isp nodes on a raspberry pi are not cameras.
		if curDevice == "" || strings.HasPrefix(curDevice, "bcm2835-") {
			continue
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "/dev/video") {
			continue
		}
		devices = append(devices, frame.Device{
			Name: fmt.Sprintf("%s (%s)", curDevice, line),
			ID:   line,
		})
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no devices available")
	}
	return devices, nil
}

// NewRecorder creates a new recorder using ffmpeg. Ffmpeg writes images to a
// temporary directory. These files are read and sent over the channel returned
// by Events.
//
// Callers must call Close to clean up.
func NewRecorder(opts RecorderOpts) (recorder *Recorder, rerr error) {
	r := &Recorder{opts: opts}
	if r.opts.Interval <= 0 {
		r.opts.Interval = time.Second
	}
	if r.opts.VideoSize == "" {
		r.opts.VideoSize = "640x480"
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
	log.Debug("ffmpeg recorder, writing images to tempdir", "dir", r.tempDir)

	// At least one frame per second, so a stalled camera is noticed.
	framerate := int(time.Second / r.opts.Interval)
	if framerate < 1 {
		framerate = 1
	}
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-framerate", fmt.Sprintf("%d", framerate),
		"-video_size", r.opts.VideoSize,
		"-c:v", "mjpeg",
		"-i", r.opts.DeviceID,
		"-f", "image2",
		"-c:v", "copy",
		"-bsf:v", "mjpeg2jpeg",
		"-qscale:v", "2",
		"frame%d.jpg",
	}
	log.Debug("starting ffmpeg", "args", strings.Join(args, " "))

	r.events = make(chan frame.Event)
	watcher, err := frame.WatchDir(r.tempDir, r.events, frame.WatchOpts{
		Interval: r.opts.Interval,
		Op:       fsnotify.Write,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	r.watcher = watcher

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Dir = r.tempDir
	if log.Enabled(ctx, slog.LevelDebug) {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("starting command ffmpeg: %v", err)
	}
	go func() {
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			log.Warn("ffmpeg exited", "error", err)
		}
	}()

	return r, nil
}

// Close shuts down the recorder, stopping ffmpeg and removing the temporary directory.
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
