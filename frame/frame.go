// Package frame implements taking still frames from video sources, for
// analysis by the monitor.
//
// A Recorder (see the ffmpeg, gstreamer, imagesnap and still packages) produces
// a stream of images. A Sampler keeps the most recent one and encodes it on
// demand.
package frame

import (
	"image"
	"time"
)

// Recorder is a source of images, for example a webcam.
type Recorder interface {
	// Events returns a channel from which Events can be read, each containing an image.
	Events() chan Event

	// Close shuts down the recorder. No further Events will be sent.
	Close() error
}

// Event is a single image (or error) coming from a Recorder.
type Event struct {
	// If set, an error occurred.
	Err error

	// Image read from recorder. If Err is set, Image is not valid.
	Image image.Image

	// When the image was read.
	At time.Time
}

// DeviceCap describes a capability of a device.
type DeviceCap struct {
	Type      string // "video/x-raw", "image/jpeg"
	Width     int
	Height    int
	Framerate int
}

// Device is a camera device capable of recording images.
type Device struct {
	Name string
	ID   string
	Caps []DeviceCap
}
