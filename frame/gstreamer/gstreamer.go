// Package gstreamer implements an image recorder with the gstreamer tools.
package gstreamer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	kidwatch "github.com/kidwatch/kidwatch-go"
	"github.com/kidwatch/kidwatch-go/frame"
)

var errInstallHint = errors.New("executable not found, install with: sudo apt install -y gstreamer1.0-tools gstreamer1.0-plugins-good gstreamer1.0-plugins-base gstreamer1.0-plugins-base-apps")

// RecorderOpts has options for a new gstreamer recorder.
type RecorderOpts struct {
	Interval time.Duration // How often to record an image.
	DeviceID string        // As retrieved from ListDevices. If empty, NewRecorder will use the first device returned by ListDevices.
	Logger   *slog.Logger
}

// Recorder is an image recorder using gstreamer.
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

type device struct {
	ID          string
	Name        string
	DeviceClass string
	RawCaps     []string
	inCapMode   bool
}

var (
	widthRegexp     = regexp.MustCompile("width=(?:\\(int\\))?([0-9]+)[^0-9]")
	heightRegexp    = regexp.MustCompile("height=(?:\\(int\\))?([0-9]+)[^0-9]")
	framerateRegexp = regexp.MustCompile("framerate=(?:\\(fraction\\))?([0-9]+)[^0-9]")
)

func abs(a int) int {
	if a < 0 {
		return -a
	}
	return a
}

// ListDevices returns a list of devices that can be used for recording.
// ListDevices returns an error if no devices are available.
func ListDevices() ([]frame.Device, error) {
	cmd := exec.Command("gst-device-monitor-1.0", "Video/Source")
	buf, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("listing devices using gst-device-monitor-1.0: %v", err)
	}
	return parseDevices(string(buf))
}

// parseDevices parses gst-device-monitor-1.0 output. Only raw video sources
// are returned, with their capabilities sorted by closeness to 640x480.
func parseDevices(s string) ([]frame.Device, error) {
	var r []device
	var d *device
	b := bufio.NewScanner(strings.NewReader(s))
	for b.Scan() {
		line := strings.TrimSpace(b.Text())
		switch {
		case line == "":
		case line == "Device found:":
			if d != nil {
				r = append(r, *d)
			}
			d = &device{}
		case d == nil:
		case strings.HasPrefix(line, "name  :"):
			d.Name = strings.TrimSpace(strings.SplitN(line, ":", 2)[1])
		case strings.HasPrefix(line, "class :"):
			d.DeviceClass = strings.TrimSpace(strings.SplitN(line, ":", 2)[1])
		case strings.HasPrefix(line, "caps  :"):
			d.RawCaps = append(d.RawCaps, strings.TrimSpace(strings.SplitN(line, ":", 2)[1]))
			d.inCapMode = true
		case strings.HasPrefix(line, "properties:"):
			d.inCapMode = false
		case d.inCapMode:
			d.RawCaps = append(d.RawCaps, line)
		case strings.HasPrefix(line, "device.path ="), strings.HasPrefix(line, "api.v4l2.path ="):
			d.ID = strings.TrimSpace(strings.SplitN(line, "=", 2)[1])
		}
	}
	if err := b.Err(); err != nil {
		return nil, err
	}
	if d != nil && d.ID != "" {
		r = append(r, *d)
	}

	distance := func(a frame.DeviceCap) int {
		return abs(a.Width-640)*abs(a.Height-480) + abs(a.Width-640) + abs(a.Height-480)
	}

	var devs []frame.Device
	for _, d := range r {
		if d.DeviceClass != "Video/Source" || d.ID == "" {
			continue
		}
		var caps []frame.DeviceCap
		for _, rc := range d.RawCaps {
			if !strings.HasPrefix(rc, "video/x-raw") {
				continue
			}
			mw := widthRegexp.FindStringSubmatch(rc)
			mh := heightRegexp.FindStringSubmatch(rc)
			mf := framerateRegexp.FindStringSubmatch(rc)
			if mw == nil || mh == nil || mf == nil {
				continue
			}
			width, werr := strconv.Atoi(mw[1])
			height, herr := strconv.Atoi(mh[1])
			framerate, ferr := strconv.Atoi(mf[1])
			if werr != nil || herr != nil || ferr != nil {
				continue
			}
			if width != 0 && height != 0 && framerate != 0 {
				caps = append(caps, frame.DeviceCap{
					Type:      "video/x-raw",
					Width:     width,
					Height:    height,
					Framerate: framerate,
				})
			}
		}
		if len(caps) == 0 {
			continue
		}
		sort.SliceStable(caps, func(i, j int) bool {
			return distance(caps[i]) < distance(caps[j])
		})
		devs = append(devs, frame.Device{ID: d.ID, Name: d.Name, Caps: caps})
	}
	if len(devs) == 0 {
		return nil, fmt.Errorf("no devices found")
	}
	return devs, nil
}

// NewRecorder creates a new recorder using gstreamer. Gstreamer writes images to a
// temporary directory. These files are read and sent over the channel returned
// by Events.
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

	devices, err := ListDevices()
	if err != nil {
		return nil, fmt.Errorf("listing devices: %v", err)
	}
	var dev frame.Device
	if r.opts.DeviceID == "" {
		dev = devices[0]
		r.opts.DeviceID = dev.ID
	} else {
		for _, d := range devices {
			if d.ID == r.opts.DeviceID {
				dev = d
				break
			}
		}
		if dev.ID == "" {
			return nil, fmt.Errorf("device %q not found", r.opts.DeviceID)
		}
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
	log.Debug("gstreamer recorder, writing images to tempdir", "dir", r.tempDir)

	args := []string{
		"-q",
		"v4l2src",
		"device=" + r.opts.DeviceID,
		"!",
		fmt.Sprintf("video/x-raw,width=%d,height=%d", dev.Caps[0].Width, dev.Caps[0].Height),
		"!",
		"videorate",
		"!",
		fmt.Sprintf("video/x-raw,framerate=%d/%d", 1000, r.opts.Interval.Milliseconds()),
		"!",
		"videoconvert",
		"!",
		"jpegenc",
		"!",
		"multifilesink",
		"location=" + r.tempDir + "/frame%05d.jpg",
	}
	log.Debug("starting gstreamer", "cmd", "gst-launch-1.0 "+strings.Join(args, " "))

	r.events = make(chan frame.Event)
	watcher, err := frame.WatchDir(r.tempDir, r.events, frame.WatchOpts{
		Interval: r.opts.Interval,
		Op:       fsnotify.Write | fsnotify.Create,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	r.watcher = watcher

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	cmd := exec.CommandContext(ctx, "gst-launch-1.0", args...)
	cmd.Dir = r.tempDir
	if log.Enabled(ctx, slog.LevelDebug) {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("starting gstreamer with gst-launch-1.0: %v", err)
	}
	go func() {
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			log.Warn("gst-launch-1.0 exited", "error", err)
		}
	}()

	return r, nil
}

// Close shuts down the recorder, stopping gstreamer and removing the temporary
// directory.
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
