package frame_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	kidwatch "github.com/kidwatch/kidwatch-go"
	"github.com/kidwatch/kidwatch-go/frame"
)

type chanRecorder struct {
	events chan frame.Event
}

func (r *chanRecorder) Events() chan frame.Event { return r.events }
func (r *chanRecorder) Close() error              { return nil }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testImage(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{uint8(x), uint8(y), 0x80, 0xff})
		}
	}
	return img
}

// waitCapture retries Capture until the sampler has consumed the sent event.
func waitCapture(t *testing.T, s *frame.Sampler, wantErr bool) (kidwatch.Frame, error) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		f, err := s.Capture(context.Background())
		if (err != nil) == wantErr || time.Now().After(deadline) {
			return f, err
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newSampler(rec frame.Recorder, c *clock, traceDir string) *frame.Sampler {
	return frame.NewSampler(rec, &frame.SamplerOpts{
		MaxAge:   10 * time.Second,
		TraceDir: traceDir,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:      c.Now,
	})
}

func TestSamplerUnavailable(t *testing.T) {
	rec := &chanRecorder{make(chan frame.Event)}
	c := &clock{now: time.Unix(1700000000, 0)}
	s := newSampler(rec, c, "")
	defer s.Close()

	_, err := s.Capture(context.Background())
	if !errors.Is(err, kidwatch.ErrSourceUnavailable) {
		t.Fatalf("capture before first frame, got %v, expected ErrSourceUnavailable", err)
	}

	rec.events <- frame.Event{Err: errors.New("permission denied")}
	_, err = s.Capture(context.Background())
	if !errors.Is(err, kidwatch.ErrSourceUnavailable) {
		t.Fatalf("capture after recorder error, got %v, expected ErrSourceUnavailable", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Capture(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("capture with cancelled context, got %v", err)
	}
}

func TestSamplerDegenerateFrame(t *testing.T) {
	rec := &chanRecorder{make(chan frame.Event)}
	c := &clock{now: time.Unix(1700000000, 0)}
	s := newSampler(rec, c, "")
	defer s.Close()

	rec.events <- frame.Event{Image: image.NewNRGBA(image.Rect(0, 0, 0, 0)), At: c.Now()}
	// The zero sized frame must never turn into a successful capture.
	time.Sleep(20 * time.Millisecond)
	_, err := s.Capture(context.Background())
	if !errors.Is(err, kidwatch.ErrSourceUnavailable) {
		t.Fatalf("capture of zero sized frame, got %v, expected ErrSourceUnavailable", err)
	}
}

func TestSamplerCapture(t *testing.T) {
	rec := &chanRecorder{make(chan frame.Event)}
	c := &clock{now: time.Unix(1700000000, 0)}
	traceDir := t.TempDir()
	s := newSampler(rec, c, traceDir)
	defer s.Close()

	at := c.Now()
	rec.events <- frame.Event{Image: testImage(1280, 960), At: at}

	f, err := waitCapture(t, s, false)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if f.MIMEType != "image/jpeg" || f.Width != 640 || f.Height != 480 || !f.CapturedAt.Equal(at) {
		t.Fatalf("unexpected frame %s %dx%d at %v", f.MIMEType, f.Width, f.Height, f.CapturedAt)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(f.Data))
	if err != nil {
		t.Fatalf("decoding captured frame: %v", err)
	}
	if cfg.Width != 640 || cfg.Height != 480 {
		t.Fatalf("encoded frame is %dx%d, expected 640x480", cfg.Width, cfg.Height)
	}
	matches, _ := filepath.Glob(filepath.Join(traceDir, "frame-*.jpg"))
	if len(matches) != 1 {
		t.Fatalf("got %d trace files, expected 1", len(matches))
	}
	if buf, _ := os.ReadFile(matches[0]); !bytes.Equal(buf, f.Data) {
		t.Fatalf("trace file differs from captured frame")
	}

	// The recorder stalls.
	c.add(time.Minute)
	if _, err := s.Capture(context.Background()); !errors.Is(err, kidwatch.ErrSourceUnavailable) {
		t.Fatalf("capture of stale frame, got %v, expected ErrSourceUnavailable", err)
	}
}

func TestEncodeKeepsSmallImages(t *testing.T) {
	buf, size, err := frame.Encode(testImage(320, 200), frame.EncodeOpts{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if size != image.Pt(320, 200) {
		t.Fatalf("got size %v, expected 320x200", size)
	}
	if _, err := jpeg.Decode(bytes.NewReader(buf)); err != nil {
		t.Fatalf("decoding: %v", err)
	}

	if _, _, err := frame.Encode(image.NewGray(image.Rect(0, 0, 10, 0)), frame.EncodeOpts{}); err == nil {
		t.Fatalf("missing error for zero height image")
	}
}
