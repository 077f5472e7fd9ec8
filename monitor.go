package kidwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Fixed status messages.
const (
	MessageReady    = "Ready"
	MessageWatching = "Watching..."
	MessageGood     = "Great job, keep it up!"
	MessagePaused   = "Paused"
	MessageError    = "Could not check right now"
)

// DefaultInterval is the time between two cycles of a session.
const DefaultInterval = 6 * time.Second

var errMonitorClosed = errors.New("monitor closed")

// MonitorOpts are options for a Monitor.
type MonitorOpts struct {
	Interval     time.Duration // Time between cycles. Default DefaultInterval.
	CycleTimeout time.Duration // Limit on capture and analysis of one cycle. Default 20s.
	SubjectID    string        // Stored with each event, eg the child's name.
	History      int           // Number of verdicts in the violation rate. Default 10.

	Logger *slog.Logger
	Now    func() time.Time // For tests. Default time.Now.
	NewID  func() string    // Event IDs. Default random UUIDs.
}

// Monitor runs monitoring sessions: every interval it captures a frame,
// analyzes it, and on a bad verdict announces the message and records an event.
//
// Status is changed only by the Monitor. Results of cycles that complete after
// Stop are discarded.
type Monitor struct {
	sampler   Sampler
	analyzer  Analyzer
	announcer Announcer
	sink      EventSink
	opts      MonitorOpts
	log       *slog.Logger

	// Hosting context. Cancelled by Close, which aborts in-flight cycles.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	status  Status
	session *session // Nil when stopped.
	lastGen uint64
	average *ViolationAverage
	subs    map[int]chan Status
	nextSub int
	closed  bool
}

// session is one Start..Stop period.
type session struct {
	gen        uint64
	mode       Mode
	credential string
	stop       chan struct{}
	inFlight   atomic.Bool
}

// NewMonitor returns a stopped monitor. Announcer and sink may be nil, in which
// case nothing is spoken or recorded.
//
// Callers must call Close to stop any session and abort in-flight cycles.
func NewMonitor(sampler Sampler, analyzer Analyzer, announcer Announcer, sink EventSink, opts *MonitorOpts) (*Monitor, error) {
	if sampler == nil {
		return nil, fmt.Errorf("sampler is required")
	}
	if analyzer == nil {
		return nil, fmt.Errorf("analyzer is required")
	}

	var xopts MonitorOpts
	if opts != nil {
		xopts = *opts
	}
	if xopts.Interval <= 0 {
		xopts.Interval = DefaultInterval
	}
	if xopts.CycleTimeout <= 0 {
		xopts.CycleTimeout = 20 * time.Second
	}
	if xopts.History <= 0 {
		xopts.History = 10
	}
	if xopts.Logger == nil {
		xopts.Logger = slog.Default()
	}
	if xopts.Now == nil {
		xopts.Now = time.Now
	}
	if xopts.NewID == nil {
		xopts.NewID = uuid.NewString
	}

	average, err := NewViolationAverage(xopts.History)
	if err != nil {
		return nil, fmt.Errorf("violation average: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		sampler:   sampler,
		analyzer:  analyzer,
		announcer: announcer,
		sink:      sink,
		opts:      xopts,
		log:       xopts.Logger,
		ctx:       ctx,
		cancel:    cancel,
		average:   average,
		subs:      map[int]chan Status{},
	}
	m.status = Status{State: StateIdle, Message: MessageReady, UpdatedAt: xopts.Now()}
	return m, nil
}

// Start begins a session watching for mode, analyzing a frame every interval.
// The first cycle runs one interval after Start.
//
// Start fails with ErrMissingCredential if credential is empty, and with
// ErrSessionActive if a session is already running; the mode of a session
// cannot be changed without stopping it first.
func (m *Monitor) Start(mode Mode, credential string) error {
	if credential == "" {
		return ErrMissingCredential
	}
	if !mode.Valid() {
		return fmt.Errorf("%w %q", ErrInvalidMode, mode)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errMonitorClosed
	}
	if m.session != nil {
		return ErrSessionActive
	}

	m.lastGen++
	s := &session{
		gen:        m.lastGen,
		mode:       mode,
		credential: credential,
		stop:       make(chan struct{}),
	}
	m.session = s
	m.average.Reset()
	m.setStatus(Status{State: StateIdle, Active: true, Mode: mode, Message: MessageWatching})

	m.log.Info("monitoring started", "mode", mode, "interval", m.opts.Interval, "session", s.gen)
	go m.schedule(s)
	return nil
}

// Stop ends the current session. A cycle still in flight finishes, but its
// result is discarded. Stop is a no-op when no session is active.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session
	if s == nil {
		return
	}
	close(s.stop)
	m.session = nil

	st := m.status
	st.State = StateIdle
	st.Active = false
	st.Message = MessagePaused
	st.Err = ""
	m.setStatus(st)
	m.log.Info("monitoring stopped", "mode", s.mode, "session", s.gen, "cycles", st.Cycles, "violations", st.Violations)
}

// Close stops any session, aborts cycles in flight and closes all
// subscriptions. The monitor cannot be started again.
func (m *Monitor) Close() error {
	m.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.cancel()
	for id, c := range m.subs {
		close(c)
		delete(m.subs, id)
	}
	return nil
}

// Status returns a snapshot of the current status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe returns a channel receiving every status change, and a function to
// cancel the subscription. Changes are dropped for subscribers that do not keep
// up with a buffer of size buffer.
func (m *Monitor) Subscribe(buffer int) (<-chan Status, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := make(chan Status, buffer)
	if m.closed {
		close(c)
		return c, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = c
	return c, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			close(c)
			delete(m.subs, id)
		}
	}
}

// setStatus replaces the status and notifies subscribers. Must be called with
// m.mu held.
func (m *Monitor) setStatus(st Status) {
	st.UpdatedAt = m.opts.Now()
	m.status = st
	for _, c := range m.subs {
		select {
		case c <- st:
		default:
		}
	}
}

// update applies fn to the status if s is still the current session, and
// reports whether it did.
func (m *Monitor) update(s *session, fn func(st *Status)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != s {
		m.log.Debug("discarding result of stopped session", "session", s.gen)
		return false
	}
	st := m.status
	fn(&st)
	m.setStatus(st)
	return true
}

func (m *Monitor) schedule(s *session) {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			go m.tick(s)
		}
	}
}

// tick runs a cycle, unless the previous cycle of the session is still in
// flight.
func (m *Monitor) tick(s *session) {
	if !s.inFlight.CompareAndSwap(false, true) {
		m.log.Debug("previous cycle still in flight, skipping", "session", s.gen)
		return
	}
	defer s.inFlight.Store(false)
	m.cycle(s)
}

func (m *Monitor) cycle(s *session) {
	defer func() {
		if x := recover(); x != nil {
			m.fail(s, fmt.Errorf("cycle panic: %v", x))
		}
	}()

	if !m.update(s, func(st *Status) { st.State = StateAnalyzing }) {
		return
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.opts.CycleTimeout)
	defer cancel()

	t0 := time.Now()
	v, err := m.analyze(ctx, s)
	if err != nil {
		m.fail(s, err)
		return
	}
	m.log.Debug("cycle done", "mode", s.mode, "verdict", v.String(), "duration", time.Since(t0))

	switch v.Outcome {
	case OutcomeGood:
		m.update(s, func(st *Status) {
			st.State = StateGood
			st.Message = MessageGood
			st.Err = ""
			st.Cycles++
			st.ViolationRate, _ = m.average.Update(OutcomeGood)
		})

	case OutcomeBad:
		ok := m.update(s, func(st *Status) {
			st.State = StateWarning
			st.Message = v.Message
			st.Err = ""
			st.Cycles++
			st.Violations++
			st.ViolationRate, _ = m.average.Update(OutcomeBad)
		})
		if !ok {
			return
		}
		m.log.Info("violation", "mode", s.mode, "message", v.Message)
		if m.announcer != nil {
			m.announcer.Announce(v.Message)
		}
		if m.sink != nil {
			m.sink.Record(EventRecord{
				ID:        m.opts.NewID(),
				Timestamp: m.opts.Now(),
				Mode:      s.mode,
				Message:   v.Message,
				Category:  CategoryViolation,
				SubjectID: m.opts.SubjectID,
			})
		}

	default:
		m.fail(s, fmt.Errorf("%w: unknown outcome %q", ErrMalformedResponse, v.Outcome))
	}
}

func (m *Monitor) analyze(ctx context.Context, s *session) (Verdict, error) {
	frame, err := m.sampler.Capture(ctx)
	if err != nil {
		return Verdict{}, fmt.Errorf("capturing frame: %w", err)
	}
	v, err := m.analyzer.Analyze(ctx, frame, s.mode, s.credential)
	if err != nil {
		return Verdict{}, fmt.Errorf("analyzing frame: %w", err)
	}
	if v.Outcome == OutcomeBad && v.Message == "" {
		return Verdict{}, fmt.Errorf("%w: bad verdict without message", ErrMalformedResponse)
	}
	return v, nil
}

// fail moves the session to StateError, keeping the message of the previous
// cycle.
func (m *Monitor) fail(s *session, err error) {
	ok := m.update(s, func(st *Status) {
		st.State = StateError
		st.Err = err.Error()
		if st.Message == "" {
			st.Message = MessageError
		}
		st.Cycles++
	})
	if ok {
		m.log.Warn("cycle failed", "mode", s.mode, "error", err)
	}
}
