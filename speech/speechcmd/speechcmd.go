// Package speechcmd implements speech by executing an external text-to-speech
// command: espeak-ng or espeak with aplay on Linux, say on macOS.
package speechcmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/kidwatch/kidwatch-go/speech"
)

var errEspeakInstallHint = errors.New("espeak-ng executable not found, install with: sudo apt install -y espeak-ng alsa-utils")

// Voice is a voice offered by a speech program.
type Voice struct {
	ID       string // Passed to the program to select the voice.
	Name     string
	Language string
	Gender   string // "F", "M" or empty if unknown.
}

// DefaultVoiceHints are matched against voice names by PickVoice, in order of
// preference.
var DefaultVoiceHints = []string{"female", "samantha", "karen", "victoria", "moira", "tessa", "fiona", "f1", "f2", "f3", "f4", "f5"}

// PickVoice returns the first voice with a name matching one of hints,
// case-insensitive, or else the first voice marked female. If no voice matches,
// false is returned and the program default should be used.
func PickVoice(voices []Voice, hints []string) (Voice, bool) {
	for _, h := range hints {
		h = strings.ToLower(h)
		for _, v := range voices {
			if strings.Contains(strings.ToLower(v.Name), h) {
				return v, true
			}
		}
	}
	for _, v := range voices {
		if v.Gender == "F" {
			return v, true
		}
	}
	return Voice{}, false
}

// DefaultProgram returns the speech program for this system.
func DefaultProgram() string {
	if runtime.GOOS == "darwin" {
		return "say"
	}
	if _, err := exec.LookPath("espeak-ng"); err != nil {
		if _, err := exec.LookPath("espeak"); err == nil {
			return "espeak"
		}
	}
	return "espeak-ng"
}

// ListVoices returns the voices of program, as returned by DefaultProgram.
func ListVoices(program string) ([]Voice, error) {
	switch program {
	case "espeak-ng", "espeak":
		out, err := exec.Command(program, "--voices").Output()
		if err != nil {
			if errors.Is(err, exec.ErrNotFound) {
				err = errEspeakInstallHint
			}
			return nil, fmt.Errorf("listing voices with %s: %v", program, err)
		}
		voices, err := parseEspeakVoices(bytes.NewReader(out))
		if err != nil {
			return nil, err
		}
		// Variants are applied on top of a language, eg "en-us+f3".
		out, err = exec.Command(program, "--voices=variant").Output()
		if err == nil {
			variants, err := parseEspeakVoices(bytes.NewReader(out))
			if err == nil {
				voices = append(voices, variants...)
			}
		}
		return voices, nil
	case "say":
		out, err := exec.Command("say", "-v", "?").Output()
		if err != nil {
			return nil, fmt.Errorf("listing voices with say: %v", err)
		}
		return parseSayVoices(string(out)), nil
	default:
		return nil, fmt.Errorf("unknown speech program %q", program)
	}
}

func parseEspeakVoices(r io.Reader) ([]Voice, error) {
	var voices []Voice

	b := bufio.NewScanner(r)
	for b.Scan() {
		t := strings.Fields(b.Text())
		// Pty Language Age/Gender VoiceName File [Other Languages]
		if len(t) < 5 || t[0] == "Pty" {
			continue
		}
		v := Voice{
			ID:       t[1],
			Name:     t[3],
			Language: t[1],
		}
		if _, g, ok := strings.Cut(t[2], "/"); ok && (g == "F" || g == "M") {
			v.Gender = g
		}
		if t[1] == "variant" {
			v.ID = "en-us+" + strings.TrimPrefix(t[4], "!v/")
			v.Language = "en-us"
		}
		voices = append(voices, v)
	}
	if err := b.Err(); err != nil {
		return nil, fmt.Errorf("parsing list of voices: %v", err)
	}
	return voices, nil
}

var sayRegexp = regexp.MustCompile(`^(.+?)\s+([a-z]{2,3}_[A-Za-z0-9]+)\s+#`)

func parseSayVoices(s string) []Voice {
	var voices []Voice
	for _, line := range strings.Split(s, "\n") {
		m := sayRegexp.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := strings.TrimSpace(m[1])
		voices = append(voices, Voice{ID: name, Name: name, Language: m[2]})
	}
	return voices
}

// SynthesizerOpts holds options for a Synthesizer.
type SynthesizerOpts struct {
	Program string // "espeak-ng", "espeak" or "say". Default from DefaultProgram.
	Player  string // Plays WAV from stdin, for espeak. Default "aplay".
	Voice   string // Voice ID. If empty, a voice is picked with PickVoice and DefaultVoiceHints.
	Rate    int    // Words per minute. Default 150.
	Pitch   int    // 0-99, espeak only. Negative for the default 50.

	// If not empty, synthesized audio is also written to this directory.
	TraceDir string

	Logger *slog.Logger
}

// Synthesizer speaks text through an external command.
type Synthesizer struct {
	opts   SynthesizerOpts
	log    *slog.Logger
	lastID atomic.Int64
}

// Ensure Synthesizer implements speech.Synthesizer.
var _ speech.Synthesizer = (*Synthesizer)(nil)

// NewSynthesizer returns a synthesizer. When no voice is configured, the
// voices of the program are listed and a preferred voice is picked; if that
// fails the program default voice is used.
//
// Opts can be nil, in which case default values are used.
func NewSynthesizer(opts *SynthesizerOpts) (*Synthesizer, error) {
	xopts := SynthesizerOpts{Pitch: -1}
	if opts != nil {
		xopts = *opts
	}
	if xopts.Program == "" {
		xopts.Program = DefaultProgram()
	}
	if xopts.Player == "" {
		xopts.Player = "aplay"
	}
	if xopts.Rate <= 0 {
		xopts.Rate = 150
	}
	if xopts.Pitch < 0 {
		xopts.Pitch = 50
	}
	if xopts.Logger == nil {
		xopts.Logger = slog.Default()
	}
	switch xopts.Program {
	case "espeak-ng", "espeak", "say":
	default:
		return nil, fmt.Errorf("unknown speech program %q, need one of: espeak-ng, espeak, say", xopts.Program)
	}

	s := &Synthesizer{opts: xopts, log: xopts.Logger}
	if s.opts.Voice == "" {
		voices, err := ListVoices(s.opts.Program)
		if err != nil {
			s.log.Debug("listing voices, using default voice", "error", err)
		} else if v, ok := PickVoice(voices, DefaultVoiceHints); ok {
			s.opts.Voice = v.ID
		}
	}
	s.log.Debug("speech synthesizer", "program", s.opts.Program, "voice", s.opts.Voice, "rate", s.opts.Rate)
	return s, nil
}

// Speak says text, returning when playback has finished or ctx is done.
func (s *Synthesizer) Speak(ctx context.Context, text string) error {
	if s.opts.Program == "say" {
		args := []string{"-r", fmt.Sprintf("%d", s.opts.Rate)}
		if s.opts.Voice != "" {
			args = append(args, "-v", s.opts.Voice)
		}
		args = append(args, "--", text)
		if out, err := exec.CommandContext(ctx, "say", args...).CombinedOutput(); err != nil {
			return fmt.Errorf("say: %v: %s", err, strings.TrimSpace(string(out)))
		}
		return nil
	}

	args := []string{
		"-s", fmt.Sprintf("%d", s.opts.Rate),
		"-p", fmt.Sprintf("%d", s.opts.Pitch),
		"--stdout",
	}
	if s.opts.Voice != "" {
		args = append(args, "-v", s.opts.Voice)
	}
	args = append(args, "--", text)
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.opts.Program, args...)
	cmd.Stderr = &stderr
	buf, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errEspeakInstallHint
		}
		return fmt.Errorf("synthesizing with %s: %v: %s", s.opts.Program, err, strings.TrimSpace(stderr.String()))
	}

	info, err := Inspect(buf)
	if err != nil {
		return fmt.Errorf("inspecting synthesized audio: %v", err)
	}
	s.log.Debug("synthesized", "duration", info.Duration, "samplerate", info.SampleRate, "channels", info.Channels, "bits", info.BitsPerSample)

	if s.opts.TraceDir != "" {
		path := filepath.Join(s.opts.TraceDir, fmt.Sprintf("speech-%d.wav", s.lastID.Add(1)))
		if err := os.WriteFile(path, buf, 0o644); err != nil {
			s.log.Warn("trace, writing audio", "path", path, "error", err)
		} else {
			s.log.Debug("trace", "path", path)
		}
	}

	play := exec.CommandContext(ctx, s.opts.Player, "-q", "-")
	play.Stdin = bytes.NewReader(buf)
	if out, err := play.CombinedOutput(); err != nil {
		return fmt.Errorf("playing with %s: %v: %s", s.opts.Player, err, strings.TrimSpace(string(out)))
	}
	return nil
}
