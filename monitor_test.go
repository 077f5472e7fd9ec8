package kidwatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSampler struct {
	err   error
	calls atomic.Int32
}

func (s *fakeSampler) Capture(ctx context.Context) (Frame, error) {
	s.calls.Add(1)
	if s.err != nil {
		return Frame{}, s.err
	}
	return Frame{Data: []byte{0xff, 0xd8}, MIMEType: "image/jpeg", Width: 4, Height: 3}, nil
}

type fakeAnalyzer struct {
	verdict Verdict
	err     error
	panic   bool

	// If set, Analyze signals started and waits for release.
	started chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
	modes []Mode
	creds []string
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, frame Frame, mode Mode, credential string) (Verdict, error) {
	a.mu.Lock()
	a.calls++
	a.modes = append(a.modes, mode)
	a.creds = append(a.creds, credential)
	a.mu.Unlock()

	if a.started != nil {
		a.started <- struct{}{}
		<-a.release
	}
	if a.panic {
		panic("boom")
	}
	return a.verdict, a.err
}

func (a *fakeAnalyzer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type fakeAnnouncer struct {
	mu    sync.Mutex
	texts []string
}

func (a *fakeAnnouncer) Announce(text string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.texts = append(a.texts, text)
	return true
}

func (a *fakeAnnouncer) announced() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.texts...)
}

type fakeSink struct {
	mu     sync.Mutex
	events []EventRecord
}

func (s *fakeSink) Record(ev EventRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *fakeSink) recorded() []EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]EventRecord(nil), s.events...)
}

type fixture struct {
	m         *Monitor
	sampler   *fakeSampler
	analyzer  *fakeAnalyzer
	announcer *fakeAnnouncer
	sink      *fakeSink
}

func newFixture(t *testing.T, interval time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		sampler:   &fakeSampler{},
		analyzer:  &fakeAnalyzer{verdict: Verdict{Outcome: OutcomeGood}},
		announcer: &fakeAnnouncer{},
		sink:      &fakeSink{},
	}
	opts := &MonitorOpts{
		Interval:  interval,
		SubjectID: "kid-1",
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		NewID:     func() string { return "event-1" },
	}
	m, err := NewMonitor(f.sampler, f.analyzer, f.announcer, f.sink, opts)
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	f.m = m
	return f
}

func (f *fixture) current() *session {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	return f.m.session
}

func TestStartWithoutCredential(t *testing.T) {
	for _, mode := range Modes {
		f := newFixture(t, 5*time.Millisecond)
		err := f.m.Start(mode, "")
		if !errors.Is(err, ErrMissingCredential) {
			t.Fatalf("start %s without credential, got %v, expected ErrMissingCredential", mode, err)
		}
		if f.current() != nil {
			t.Fatalf("session created without credential")
		}
		time.Sleep(30 * time.Millisecond)
		if n := f.sampler.calls.Load(); n != 0 {
			t.Fatalf("got %d captures, expected none", n)
		}
		if st := f.m.Status(); st.State != StateIdle || st.Active {
			t.Fatalf("unexpected status %+v", st)
		}
	}
}

func TestStartInvalidMode(t *testing.T) {
	f := newFixture(t, time.Hour)
	if err := f.m.Start(Mode("sleeping"), "key"); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("got %v, expected ErrInvalidMode", err)
	}
}

func TestStartWhileActive(t *testing.T) {
	f := newFixture(t, time.Hour)
	if err := f.m.Start(ModeHomework, "key"); err != nil {
		t.Fatalf("start: %v", err)
	}
	st := f.m.Status()
	if st.State != StateIdle || !st.Active || st.Message != MessageWatching || st.Mode != ModeHomework {
		t.Fatalf("unexpected status after start %+v", st)
	}
	if err := f.m.Start(ModeEating, "key"); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("got %v, expected ErrSessionActive", err)
	}
	f.m.Stop()
	if err := f.m.Start(ModeEating, "key"); err != nil {
		t.Fatalf("start after stop: %v", err)
	}
	if st := f.m.Status(); st.Mode != ModeEating {
		t.Fatalf("mode not changed after restart: %+v", st)
	}
}

func TestCycleBad(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.analyzer.verdict = Verdict{Outcome: OutcomeBad, Message: "Sit up straight"}
	if err := f.m.Start(ModeHomework, "key"); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.m.tick(f.current())

	st := f.m.Status()
	if st.State != StateWarning || st.Message != "Sit up straight" {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.Cycles != 1 || st.Violations != 1 || st.ViolationRate != 1 {
		t.Fatalf("unexpected counters %+v", st)
	}
	texts := f.announcer.announced()
	if len(texts) != 1 || texts[0] != "Sit up straight" {
		t.Fatalf("got announcements %q, expected one", texts)
	}
	events := f.sink.recorded()
	if len(events) != 1 {
		t.Fatalf("got %d events, expected 1", len(events))
	}
	ev := events[0]
	if ev.Category != CategoryViolation || ev.Message != "Sit up straight" || ev.Mode != ModeHomework || ev.SubjectID != "kid-1" || ev.ID != "event-1" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if creds := f.analyzer.creds; len(creds) != 1 || creds[0] != "key" {
		t.Fatalf("credential not passed to analyzer: %q", creds)
	}
}

func TestCycleGood(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.analyzer.verdict = Verdict{Outcome: OutcomeGood}
	if err := f.m.Start(ModeEating, "key"); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.m.tick(f.current())

	st := f.m.Status()
	if st.State != StateGood || st.Message != MessageGood || st.ViolationRate != 0 {
		t.Fatalf("unexpected status %+v", st)
	}
	if n := len(f.announcer.announced()); n != 0 {
		t.Fatalf("got %d announcements, expected none", n)
	}
	if n := len(f.sink.recorded()); n != 0 {
		t.Fatalf("got %d events, expected none", n)
	}
}

func TestCycleErrors(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.analyzer.err = fmt.Errorf("%w: decoding verdict: invalid character 'h'", ErrMalformedResponse)
	if err := f.m.Start(ModeHomework, "key"); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.m.tick(f.current())

	st := f.m.Status()
	if st.State != StateError || st.Err == "" {
		t.Fatalf("unexpected status after malformed response %+v", st)
	}
	if st.Message != MessageWatching {
		t.Fatalf("message of previous cycle not kept, got %q", st.Message)
	}

	// A warning message survives a following failure.
	f.analyzer.err = nil
	f.analyzer.verdict = Verdict{Outcome: OutcomeBad, Message: "Eat your food"}
	f.m.tick(f.current())
	f.sampler.err = fmt.Errorf("%w: no frames yet", ErrSourceUnavailable)
	f.m.tick(f.current())
	st = f.m.Status()
	if st.State != StateError || st.Message != "Eat your food" {
		t.Fatalf("unexpected status after capture failure %+v", st)
	}

	// Bad verdicts without message are rejected.
	f.sampler.err = nil
	f.analyzer.verdict = Verdict{Outcome: OutcomeBad}
	f.m.tick(f.current())
	if st := f.m.Status(); st.State != StateError {
		t.Fatalf("bad verdict without message accepted: %+v", st)
	}

	// Panics do not escape the cycle.
	f.analyzer.panic = true
	f.m.tick(f.current())
	if st := f.m.Status(); st.State != StateError {
		t.Fatalf("unexpected status after panic %+v", st)
	}
	if n := len(f.announcer.announced()); n != 1 {
		t.Fatalf("got %d announcements, expected 1", n)
	}
}

func TestStopDiscardsLateResult(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.analyzer.verdict = Verdict{Outcome: OutcomeBad, Message: "Sit up straight"}
	f.analyzer.started = make(chan struct{})
	f.analyzer.release = make(chan struct{})
	if err := f.m.Start(ModeHomework, "key"); err != nil {
		t.Fatalf("start: %v", err)
	}

	s := f.current()
	done := make(chan struct{})
	go func() {
		f.m.tick(s)
		close(done)
	}()
	<-f.analyzer.started
	if st := f.m.Status(); st.State != StateAnalyzing {
		t.Fatalf("got state %s, expected analyzing", st.State)
	}

	f.m.Stop()
	stopped := f.m.Status()
	close(f.analyzer.release)
	<-done

	st := f.m.Status()
	if st != stopped {
		t.Fatalf("status changed after stop, got %+v, expected %+v", st, stopped)
	}
	if st.State != StateIdle || st.Message != MessagePaused {
		t.Fatalf("unexpected status after stop %+v", st)
	}
	if n := len(f.announcer.announced()); n != 0 {
		t.Fatalf("got %d announcements after stop", n)
	}
	if n := len(f.sink.recorded()); n != 0 {
		t.Fatalf("got %d events after stop", n)
	}
}

func TestInFlightCycleSkipsTick(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.analyzer.started = make(chan struct{})
	f.analyzer.release = make(chan struct{})
	if err := f.m.Start(ModeHomework, "key"); err != nil {
		t.Fatalf("start: %v", err)
	}

	s := f.current()
	done := make(chan struct{})
	go func() {
		f.m.tick(s)
		close(done)
	}()
	<-f.analyzer.started

	// Returns immediately, without calling the analyzer.
	f.m.tick(s)
	if n := f.analyzer.callCount(); n != 1 {
		t.Fatalf("got %d analyzer calls, expected 1", n)
	}

	close(f.analyzer.release)
	<-done
	if st := f.m.Status(); st.State != StateGood || st.Cycles != 1 {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestStopTwice(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.m.Stop()
	if st := f.m.Status(); st.State != StateIdle {
		t.Fatalf("unexpected status %+v", st)
	}

	if err := f.m.Start(ModeHomework, "key"); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.m.Stop()
	first := f.m.Status()
	f.m.Stop()
	second := f.m.Status()
	if first.State != StateIdle || second != first {
		t.Fatalf("second stop changed status, %+v then %+v", first, second)
	}
}

func TestScheduledCycles(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	updates, cancel := f.m.Subscribe(16)
	defer cancel()

	if err := f.m.Start(ModeEating, "key"); err != nil {
		t.Fatalf("start: %v", err)
	}

	timeout := time.After(5 * time.Second)
	for {
		select {
		case st := <-updates:
			if st.State == StateGood {
				f.m.Stop()
				f.analyzer.mu.Lock()
				mode := f.analyzer.modes[0]
				f.analyzer.mu.Unlock()
				if mode != ModeEating {
					t.Fatalf("analyzed with mode %s, expected eating", mode)
				}
				return
			}
		case <-timeout:
			t.Fatalf("no cycle completed, status %+v", f.m.Status())
		}
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	f := newFixture(t, time.Hour)
	updates, cancel := f.m.Subscribe(1)
	f.m.Close()
	if _, ok := <-updates; ok {
		t.Fatalf("subscription still open after close")
	}
	cancel()
	if err := f.m.Start(ModeHomework, "key"); err == nil {
		t.Fatalf("start after close succeeded")
	}
}
