package frame

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	kidwatch "github.com/kidwatch/kidwatch-go"
)

// SamplerOpts are options for a Sampler.
type SamplerOpts struct {
	// Frames older than MaxAge are not returned, the recorder is assumed to
	// have stalled. Default 30s.
	MaxAge time.Duration

	Encode EncodeOpts

	// If not empty, each captured frame is also written to this directory.
	TraceDir string

	Logger *slog.Logger
	Now    func() time.Time
}

// Sampler keeps the latest image from a recorder and hands out encoded frames
// on demand.
type Sampler struct {
	opts SamplerOpts
	log  *slog.Logger
	stop chan struct{}

	mu      sync.Mutex
	latest  image.Image
	at      time.Time
	lastErr error
	seq     int
}

// Ensure Sampler implements kidwatch.Sampler.
var _ kidwatch.Sampler = (*Sampler)(nil)

// NewSampler starts reading images from recorder.
//
// Callers must call Close to stop the sampler, and separately close the
// recorder.
func NewSampler(recorder Recorder, opts *SamplerOpts) *Sampler {
	var xopts SamplerOpts
	if opts != nil {
		xopts = *opts
	}
	if xopts.MaxAge <= 0 {
		xopts.MaxAge = 30 * time.Second
	}
	if xopts.Logger == nil {
		xopts.Logger = slog.Default()
	}
	if xopts.Now == nil {
		xopts.Now = time.Now
	}

	s := &Sampler{
		opts: xopts,
		log:  xopts.Logger,
		stop: make(chan struct{}),
	}

	events := recorder.Events()
	go func() {
		for {
			select {
			case <-s.stop:
				return
			case ev, ok := <-events:
				if !ok {
					s.mu.Lock()
					s.lastErr = fmt.Errorf("recorder stopped")
					s.mu.Unlock()
					return
				}
				s.mu.Lock()
				if ev.Err != nil {
					s.lastErr = ev.Err
					s.log.Debug("recorder error", "error", ev.Err)
				} else {
					s.latest = ev.Image
					s.at = ev.At
					if s.at.IsZero() {
						s.at = s.opts.Now()
					}
				}
				s.mu.Unlock()
			}
		}
	}()
	return s
}

// Capture encodes the most recent image from the recorder. It returns an error
// wrapping kidwatch.ErrSourceUnavailable when no image was received yet, when
// the last image is too old, or when the image has no pixels.
func (s *Sampler) Capture(ctx context.Context) (kidwatch.Frame, error) {
	if err := ctx.Err(); err != nil {
		return kidwatch.Frame{}, err
	}

	s.mu.Lock()
	img, at, lastErr := s.latest, s.at, s.lastErr
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	if img == nil {
		if lastErr != nil {
			return kidwatch.Frame{}, fmt.Errorf("%w: no frame received: %v", kidwatch.ErrSourceUnavailable, lastErr)
		}
		return kidwatch.Frame{}, fmt.Errorf("%w: no frame received yet", kidwatch.ErrSourceUnavailable)
	}
	if age := s.opts.Now().Sub(at); age > s.opts.MaxAge {
		return kidwatch.Frame{}, fmt.Errorf("%w: last frame is %v old", kidwatch.ErrSourceUnavailable, age.Round(time.Second))
	}
	if size := img.Bounds().Size(); size.X <= 0 || size.Y <= 0 {
		return kidwatch.Frame{}, fmt.Errorf("%w: degenerate frame size %v", kidwatch.ErrSourceUnavailable, size)
	}

	buf, size, err := Encode(img, s.opts.Encode)
	if err != nil {
		return kidwatch.Frame{}, err
	}
	if s.opts.TraceDir != "" {
		s.writeTrace(seq, buf)
	}
	return kidwatch.Frame{
		Data:       buf,
		MIMEType:   MIMEType,
		Width:      size.X,
		Height:     size.Y,
		CapturedAt: at,
	}, nil
}

func (s *Sampler) writeTrace(seq int, buf []byte) {
	path := filepath.Join(s.opts.TraceDir, fmt.Sprintf("frame-%d.jpg", seq))
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		s.log.Warn("trace, writing frame", "path", path, "error", err)
		return
	}
	s.log.Debug("trace", "path", path)
}

// Close stops reading from the recorder. The recorder must be closed by the
// caller.
func (s *Sampler) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	return nil
}
