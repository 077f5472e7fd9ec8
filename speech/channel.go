// Package speech speaks announcements, one at a time.
package speech

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	kidwatch "github.com/kidwatch/kidwatch-go"
)

// Synthesizer turns text into audible speech. Speak returns when playback has
// finished.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
}

// ChannelOpts are options for a Channel.
type ChannelOpts struct {
	// Limit on one utterance, including synthesis. Default 30s.
	Timeout time.Duration

	Logger *slog.Logger
}

// Channel delivers announcements to a Synthesizer. At most one utterance is
// active: announcements made while speaking are dropped, not queued.
type Channel struct {
	synth    Synthesizer
	opts     ChannelOpts
	log      *slog.Logger
	speaking atomic.Bool
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// Ensure Channel implements kidwatch.Announcer.
var _ kidwatch.Announcer = (*Channel)(nil)

// NewChannel returns a channel speaking through synth.
//
// Callers should call Close to stop an utterance in progress.
func NewChannel(synth Synthesizer, opts *ChannelOpts) *Channel {
	var xopts ChannelOpts
	if opts != nil {
		xopts = *opts
	}
	if xopts.Timeout <= 0 {
		xopts.Timeout = 30 * time.Second
	}
	if xopts.Logger == nil {
		xopts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		synth:  synth,
		opts:   xopts,
		log:    xopts.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Announce starts speaking text in the background and returns true. If an
// utterance is still in progress, or text is empty, nothing happens and false
// is returned. Playback errors are logged only.
func (c *Channel) Announce(text string) bool {
	if text == "" || c.ctx.Err() != nil {
		return false
	}
	if !c.speaking.CompareAndSwap(false, true) {
		c.log.Debug("still speaking, dropping announcement", "text", text)
		return false
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.speaking.Store(false)

		ctx, cancel := context.WithTimeout(c.ctx, c.opts.Timeout)
		defer cancel()

		t0 := time.Now()
		if err := c.synth.Speak(ctx, text); err != nil {
			c.log.Warn("speaking announcement", "text", text, "error", err)
			return
		}
		c.log.Debug("announced", "text", text, "duration", time.Since(t0))
	}()
	return true
}

// Speaking returns whether an utterance is in progress.
func (c *Channel) Speaking() bool {
	return c.speaking.Load()
}

// Close aborts an utterance in progress and waits for it to end. Later
// announcements are dropped.
func (c *Channel) Close() error {
	c.cancel()
	c.wg.Wait()
	return nil
}
