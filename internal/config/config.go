// Package config loads kidwatch settings from a YAML file and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	kidwatch "github.com/kidwatch/kidwatch-go"
)

// Config is the complete kidwatch configuration.
type Config struct {
	Mode      string `yaml:"mode"`       // Mode started by "run", homework or eating.
	SubjectID string `yaml:"subject_id"` // Stored with events, eg the child's name.
	TraceDir  string `yaml:"trace_dir"`  // If set, frames, requests and speech are kept here.

	Monitor MonitorConfig `yaml:"monitor"`
	Gemini  GeminiConfig  `yaml:"gemini"`
	Camera  CameraConfig  `yaml:"camera"`
	Speech  SpeechConfig  `yaml:"speech"`
	Sink    SinkConfig    `yaml:"sink"`
	API     APIConfig     `yaml:"api"`
	Log     LogConfig     `yaml:"log"`
}

// MonitorConfig contains monitoring loop settings.
type MonitorConfig struct {
	Interval     time.Duration `yaml:"interval"`
	CycleTimeout time.Duration `yaml:"cycle_timeout"`
	History      int           `yaml:"history"` // Verdicts in the violation rate.
}

// GeminiConfig contains inference API settings.
type GeminiConfig struct {
	APIKey     string        `yaml:"api_key"`
	APIKeyFile string        `yaml:"api_key_file"` // Read when APIKey is empty.
	Model      string        `yaml:"model"`
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// CameraConfig contains video source settings.
type CameraConfig struct {
	Recorder string        `yaml:"recorder"` // ffmpeg, gstreamer, imagesnap or still.
	Device   string        `yaml:"device"`   // As listed by "kidwatch devices". Empty for the first device.
	Still    string        `yaml:"still"`    // Image file for the still recorder.
	Width    int           `yaml:"width"`
	Height   int           `yaml:"height"`
	MaxAge   time.Duration `yaml:"max_age"` // Older frames are treated as an unavailable source.
	Quality  int           `yaml:"quality"` // JPEG quality of frames sent to the model.
}

// SpeechConfig contains announcement settings.
type SpeechConfig struct {
	Disabled bool          `yaml:"disabled"`
	Program  string        `yaml:"program"` // espeak-ng, espeak or say. Empty for the system default.
	Player   string        `yaml:"player"`
	Voice    string        `yaml:"voice"` // Empty to pick a female voice when available.
	Rate     int           `yaml:"rate"`
	Pitch    int           `yaml:"pitch"` // 0-99, espeak only.
	Timeout  time.Duration `yaml:"timeout"`
}

// SinkConfig contains event log settings. Every configured backend receives
// all events.
type SinkConfig struct {
	QueueSize int           `yaml:"queue_size"`
	SQLite    SQLiteConfig  `yaml:"sqlite"`
	MQTT      MQTTConfig    `yaml:"mqtt"`
	Webhook   WebhookConfig `yaml:"webhook"`
}

// SQLiteConfig enables the sqlite event log when Path is set.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// MQTTConfig enables publishing events when Broker is set.
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // Eg tcp://localhost:1883.
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// WebhookConfig enables posting events when URL is set.
type WebhookConfig struct {
	URL     string `yaml:"url"`
	APIKey  string `yaml:"api_key"`
	HMACKey string `yaml:"hmac_key"` // Hex.
}

// APIConfig contains control API settings.
type APIConfig struct {
	Listen string `yaml:"listen"` // Eg "127.0.0.1:8086". Empty disables the API.
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn or error.
	Format string `yaml:"format"` // auto, text or json. Auto is text on a terminal.
}

// Default returns the configuration used for settings not in the file or
// environment.
func Default() *Config {
	return &Config{
		Mode: string(kidwatch.ModeHomework),
		Monitor: MonitorConfig{
			Interval:     kidwatch.DefaultInterval,
			CycleTimeout: 20 * time.Second,
			History:      10,
		},
		Gemini: GeminiConfig{
			Model:   "gemini-2.0-flash",
			BaseURL: "https://generativelanguage.googleapis.com/v1beta",
			Timeout: 30 * time.Second,
		},
		Camera: CameraConfig{
			Recorder: "ffmpeg",
			Width:    640,
			Height:   480,
			MaxAge:   30 * time.Second,
			Quality:  60,
		},
		Speech: SpeechConfig{
			Player:  "aplay",
			Rate:    150,
			Pitch:   50,
			Timeout: 30 * time.Second,
		},
		Sink: SinkConfig{
			QueueSize: 64,
			MQTT: MQTTConfig{
				ClientID: "kidwatch",
				Topic:    "kidwatch/events",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies environment
// overrides, and validates the result. If path is empty, only defaults and
// environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.applyEnv()

	if cfg.Gemini.APIKey == "" && cfg.Gemini.APIKeyFile != "" {
		buf, err := os.ReadFile(cfg.Gemini.APIKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read api key file: %w", err)
		}
		cfg.Gemini.APIKey = strings.TrimSpace(string(buf))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	cfg.Gemini.APIKey = envStr("GEMINI_API_KEY", cfg.Gemini.APIKey)
	cfg.Gemini.APIKey = envStr("KIDWATCH_API_KEY", cfg.Gemini.APIKey)
	cfg.Gemini.Model = envStr("KIDWATCH_MODEL", cfg.Gemini.Model)
	cfg.Mode = envStr("KIDWATCH_MODE", cfg.Mode)
	cfg.SubjectID = envStr("KIDWATCH_SUBJECT", cfg.SubjectID)
	cfg.TraceDir = envStr("KIDWATCH_TRACE_DIR", cfg.TraceDir)
	cfg.Monitor.Interval = envDuration("KIDWATCH_INTERVAL", cfg.Monitor.Interval)
	cfg.Camera.Recorder = envStr("KIDWATCH_RECORDER", cfg.Camera.Recorder)
	cfg.Camera.Device = envStr("KIDWATCH_DEVICE", cfg.Camera.Device)
	cfg.Camera.Still = envStr("KIDWATCH_STILL", cfg.Camera.Still)
	cfg.Speech.Disabled = envBool("KIDWATCH_SPEECH_DISABLED", cfg.Speech.Disabled)
	cfg.Speech.Voice = envStr("KIDWATCH_VOICE", cfg.Speech.Voice)
	cfg.Sink.SQLite.Path = envStr("KIDWATCH_SQLITE_PATH", cfg.Sink.SQLite.Path)
	cfg.Sink.MQTT.Broker = envStr("KIDWATCH_MQTT_BROKER", cfg.Sink.MQTT.Broker)
	cfg.Sink.Webhook.URL = envStr("KIDWATCH_WEBHOOK_URL", cfg.Sink.Webhook.URL)
	cfg.API.Listen = envStr("KIDWATCH_LISTEN", cfg.API.Listen)
	cfg.Log.Level = envStr("KIDWATCH_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envStr("KIDWATCH_LOG_FORMAT", cfg.Log.Format)
}

// Validate checks if the configuration is valid. A missing API key is not an
// error here: it is reported when a session starts.
func (cfg *Config) Validate() error {
	if _, err := kidwatch.ParseMode(cfg.Mode); err != nil {
		return err
	}
	if cfg.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be > 0")
	}
	if cfg.Monitor.CycleTimeout <= 0 {
		return fmt.Errorf("monitor.cycle_timeout must be > 0")
	}
	if cfg.Monitor.History <= 0 {
		return fmt.Errorf("monitor.history must be > 0")
	}
	if cfg.Gemini.Model == "" {
		return fmt.Errorf("gemini.model is required")
	}

	switch cfg.Camera.Recorder {
	case "ffmpeg", "gstreamer", "imagesnap":
	case "still":
		if cfg.Camera.Still == "" {
			return fmt.Errorf("camera.still is required for the still recorder")
		}
	default:
		return fmt.Errorf("unknown camera.recorder %q, need one of: ffmpeg, gstreamer, imagesnap, still", cfg.Camera.Recorder)
	}
	if cfg.Camera.Width <= 0 || cfg.Camera.Height <= 0 {
		return fmt.Errorf("camera.width and camera.height must be > 0")
	}
	if cfg.Camera.Quality < 1 || cfg.Camera.Quality > 100 {
		return fmt.Errorf("camera.quality must be between 1 and 100")
	}

	switch cfg.Speech.Program {
	case "", "espeak-ng", "espeak", "say":
	default:
		return fmt.Errorf("unknown speech.program %q, need one of: espeak-ng, espeak, say", cfg.Speech.Program)
	}
	if cfg.Speech.Pitch < 0 || cfg.Speech.Pitch > 99 {
		return fmt.Errorf("speech.pitch must be between 0 and 99")
	}

	if cfg.Sink.MQTT.QoS > 2 {
		return fmt.Errorf("sink.mqtt.qos must be 0, 1 or 2")
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log.level %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("unknown log.format %q", cfg.Log.Format)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
