package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	kidwatch "github.com/kidwatch/kidwatch-go"
	"github.com/kidwatch/kidwatch-go/frame"
	"github.com/kidwatch/kidwatch-go/frame/ffmpeg"
	"github.com/kidwatch/kidwatch-go/frame/gstreamer"
	"github.com/kidwatch/kidwatch-go/frame/imagesnap"
	"github.com/kidwatch/kidwatch-go/frame/still"
	"github.com/kidwatch/kidwatch-go/internal/config"
	"github.com/kidwatch/kidwatch-go/sink"
	"github.com/kidwatch/kidwatch-go/sink/mqtt"
	"github.com/kidwatch/kidwatch-go/sink/sqlite"
	"github.com/kidwatch/kidwatch-go/sink/webhook"
	"github.com/kidwatch/kidwatch-go/speech"
	"github.com/kidwatch/kidwatch-go/speech/speechcmd"
	"github.com/kidwatch/kidwatch-go/verdict"
)

// recorderType returns the configured recorder, with imagesnap instead of the
// Linux tools on macOS.
func recorderType(cfg *config.Config) string {
	if runtime.GOOS == "darwin" && (cfg.Camera.Recorder == "ffmpeg" || cfg.Camera.Recorder == "gstreamer") {
		return "imagesnap"
	}
	return cfg.Camera.Recorder
}

func listDevices(recorder string) ([]frame.Device, error) {
	switch recorder {
	case "ffmpeg":
		return ffmpeg.ListDevices()
	case "gstreamer":
		return gstreamer.ListDevices()
	case "imagesnap":
		return imagesnap.ListDevices()
	case "still":
		return nil, fmt.Errorf("the still recorder has no devices")
	default:
		return nil, fmt.Errorf("unknown recorder type %q", recorder)
	}
}

func newRecorder(cfg *config.Config, log *slog.Logger) (frame.Recorder, error) {
	// Images arrive more often than cycles run, so a fresh one is always at hand.
	interval := cfg.Monitor.Interval / 3
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	log = log.With("recorder", recorderType(cfg))

	switch recorderType(cfg) {
	case "ffmpeg":
		return ffmpeg.NewRecorder(ffmpeg.RecorderOpts{
			Interval:  interval,
			DeviceID:  cfg.Camera.Device,
			VideoSize: fmt.Sprintf("%dx%d", cfg.Camera.Width, cfg.Camera.Height),
			Logger:    log,
		})
	case "gstreamer":
		return gstreamer.NewRecorder(gstreamer.RecorderOpts{
			Interval: interval,
			DeviceID: cfg.Camera.Device,
			Logger:   log,
		})
	case "imagesnap":
		return imagesnap.NewRecorder(imagesnap.RecorderOpts{
			Interval: interval,
			DeviceID: cfg.Camera.Device,
			Logger:   log,
		})
	case "still":
		return still.NewRecorder(still.RecorderOpts{
			Path:     cfg.Camera.Still,
			Interval: interval,
			Logger:   log,
		})
	default:
		return nil, fmt.Errorf("unknown recorder type %q", cfg.Camera.Recorder)
	}
}

func encodeOpts(cfg *config.Config) frame.EncodeOpts {
	return frame.EncodeOpts{
		MaxWidth:  cfg.Camera.Width,
		MaxHeight: cfg.Camera.Height,
		Quality:   cfg.Camera.Quality,
	}
}

func newAnalyzer(cfg *config.Config, log *slog.Logger) *verdict.Client {
	return &verdict.Client{
		HTTPClient: &http.Client{Timeout: cfg.Gemini.Timeout},
		BaseURL:    cfg.Gemini.BaseURL,
		Model:      cfg.Gemini.Model,
		TraceDir:   cfg.TraceDir,
		Logger:     log.With("component", "verdict"),
	}
}

func newSynthesizer(cfg *config.Config, log *slog.Logger) (*speechcmd.Synthesizer, error) {
	return speechcmd.NewSynthesizer(&speechcmd.SynthesizerOpts{
		Program:  cfg.Speech.Program,
		Player:   cfg.Speech.Player,
		Voice:    cfg.Speech.Voice,
		Rate:     cfg.Speech.Rate,
		Pitch:    cfg.Speech.Pitch,
		TraceDir: cfg.TraceDir,
		Logger:   log.With("component", "speech"),
	})
}

// newAnnouncer returns nil when speech is disabled or unavailable: the monitor
// then only logs violations.
func newAnnouncer(cfg *config.Config, log *slog.Logger) *speech.Channel {
	if cfg.Speech.Disabled {
		return nil
	}
	synth, err := newSynthesizer(cfg, log)
	if err != nil {
		log.Warn("speech unavailable, violations will not be announced", "error", err)
		return nil
	}
	return speech.NewChannel(synth, &speech.ChannelOpts{
		Timeout: cfg.Speech.Timeout,
		Logger:  log.With("component", "speech"),
	})
}

// newBackend builds the event backends that are configured. The sqlite store,
// if any, is also returned for reading events back. With no backends, nil is
// returned.
func newBackend(cfg *config.Config, log *slog.Logger) (backend sink.Backend, store *sqlite.Store, rerr error) {
	var backends []sink.Backend
	defer func() {
		if rerr != nil {
			for _, b := range backends {
				b.Close()
			}
		}
	}()

	if cfg.Sink.SQLite.Path != "" {
		s, err := sqlite.Open(cfg.Sink.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening event database: %v", err)
		}
		backends = append(backends, s)
		store = s
	}
	if c := cfg.Sink.MQTT; c.Broker != "" {
		p, err := mqtt.Connect(mqtt.Opts{
			Broker:   c.Broker,
			ClientID: c.ClientID,
			Username: c.Username,
			Password: c.Password,
			Topic:    c.Topic,
			QoS:      c.QoS,
			Logger:   log.With("component", "mqtt"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to mqtt broker: %v", err)
		}
		backends = append(backends, p)
	}
	if c := cfg.Sink.Webhook; c.URL != "" {
		p, err := webhook.NewPoster(c.URL, c.APIKey, c.HMACKey)
		if err != nil {
			return nil, nil, fmt.Errorf("webhook: %v", err)
		}
		backends = append(backends, p)
	}

	switch len(backends) {
	case 0:
		return nil, nil, nil
	case 1:
		return backends[0], store, nil
	default:
		return sink.Multi(backends...), store, nil
	}
}

func parseMode(flagMode string, cfg *config.Config) (kidwatch.Mode, error) {
	if flagMode != "" {
		return kidwatch.ParseMode(flagMode)
	}
	return kidwatch.ParseMode(cfg.Mode)
}
