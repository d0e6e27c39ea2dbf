// SPDX-License-Identifier: MIT

// Package monitor checks every processed block against its deadline and
// reports deadline misses, degraded performance and fatal errors to a
// diagnostics sink.
package monitor

import (
	"context"
	"sync/atomic"
	"time"

	applog "binaural/internal/log"
)

// Sink receives diagnostics. Send must be safe for concurrent use; its
// errors never affect audio processing.
type Sink interface {
	Send(data any) error
}

// EventKind classifies a diagnostics event.
type EventKind int

const (
	EventDeadlineMiss EventKind = iota // one block finished after its deadline
	EventDegraded                      // MissThreshold consecutive misses
	EventRecovered                     // first on-time block after degraded
	EventFatal                         // the session is terminating
)

func (k EventKind) String() string {
	switch k {
	case EventDeadlineMiss:
		return "deadline_miss"
	case EventDegraded:
		return "degraded"
	case EventRecovered:
		return "recovered"
	case EventFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// MarshalText makes kinds readable in JSON diagnostics.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is a single diagnostics notification.
type Event struct {
	Kind        EventKind     `json:"kind"`
	Time        time.Time     `json:"time"`
	Block       uint64        `json:"block"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	Budget      time.Duration `json:"budget_ns"`
	Consecutive uint64        `json:"consecutive"`
	Err         string        `json:"error,omitempty"`
}

// Counters are runtime counters owned by other components and folded into
// every Snapshot.
type Counters struct {
	Underruns     uint64 `json:"underruns"`
	InputDropped  uint64 `json:"input_dropped"`
	OutputDropped uint64 `json:"output_dropped"`
	Clipped       uint64 `json:"clipped"`
}

// Snapshot is a point-in-time view of the monitor.
type Snapshot struct {
	Time          time.Time     `json:"time"`
	Blocks        uint64        `json:"blocks"`
	Misses        uint64        `json:"misses"`
	Consecutive   uint64        `json:"consecutive"`
	Degraded      bool          `json:"degraded"`
	Budget        time.Duration `json:"budget_ns"`
	Last          time.Duration `json:"last_ns"`
	Worst         time.Duration `json:"worst_ns"`
	Mean          time.Duration `json:"mean_ns"`
	DroppedEvents uint64        `json:"dropped_events"`
	Counters
}

// Load is the last block's processing time as a fraction of the budget.
func (s Snapshot) Load() float64 {
	if s.Budget <= 0 {
		return 0
	}
	return float64(s.Last) / float64(s.Budget)
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithStatsInterval makes Run send a Snapshot to the sink every d.
func WithStatsInterval(d time.Duration) Option {
	return func(m *Monitor) { m.statsInterval = d }
}

// WithCounters attaches a source of runtime counters to every Snapshot.
func WithCounters(fn func() Counters) Option {
	return func(m *Monitor) { m.counters = fn }
}

// WithEventBuffer sets how many events may queue before new ones are dropped.
func WithEventBuffer(n int) Option {
	return func(m *Monitor) { m.events = make(chan Event, max(n, 1)) }
}

// Monitor tracks per-block processing time against a fixed budget.
// Observe is called from the worker and only touches atomics; everything
// else happens on the goroutine running Run.
type Monitor struct {
	budget        time.Duration
	threshold     uint64
	sink          Sink
	statsInterval time.Duration
	counters      func() Counters
	events        chan Event

	blocks        atomic.Uint64
	misses        atomic.Uint64
	consecutive   atomic.Uint64
	degraded      atomic.Bool
	lastNs        atomic.Int64
	worstNs       atomic.Int64
	totalNs       atomic.Int64
	droppedEvents atomic.Uint64
}

// New creates a monitor with a per-block budget. threshold consecutive misses
// mark the session degraded. sink may be nil.
func New(budget time.Duration, threshold int, sink Sink, opts ...Option) *Monitor {
	m := &Monitor{
		budget:    budget,
		threshold: uint64(max(threshold, 1)),
		sink:      sink,
		events:    make(chan Event, 64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Budget returns the per-block deadline.
func (m *Monitor) Budget() time.Duration { return m.budget }

// Observe records one processed block. It never blocks or allocates; when
// the event queue is full the event is counted and dropped.
func (m *Monitor) Observe(start, end time.Time) {
	elapsed := end.Sub(start)
	block := m.blocks.Add(1)
	ns := int64(elapsed)
	m.lastNs.Store(ns)
	m.totalNs.Add(ns)
	for {
		worst := m.worstNs.Load()
		if ns <= worst || m.worstNs.CompareAndSwap(worst, ns) {
			break
		}
	}

	if elapsed <= m.budget {
		m.consecutive.Store(0)
		if m.degraded.CompareAndSwap(true, false) {
			m.emit(Event{Kind: EventRecovered, Time: end, Block: block, Elapsed: elapsed, Budget: m.budget})
		}
		return
	}

	m.misses.Add(1)
	c := m.consecutive.Add(1)
	m.emit(Event{Kind: EventDeadlineMiss, Time: end, Block: block, Elapsed: elapsed, Budget: m.budget, Consecutive: c})
	if c >= m.threshold && m.degraded.CompareAndSwap(false, true) {
		m.emit(Event{Kind: EventDegraded, Time: end, Block: block, Elapsed: elapsed, Budget: m.budget, Consecutive: c})
	}
}

func (m *Monitor) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.droppedEvents.Add(1)
	}
}

// Fatal reports a terminating error straight to the sink from the caller's
// goroutine.
func (m *Monitor) Fatal(err error) {
	ev := Event{Kind: EventFatal, Time: time.Now(), Block: m.blocks.Load(), Budget: m.budget}
	if err != nil {
		ev.Err = err.Error()
	}
	applog.Errorf("monitor: fatal after %d blocks: %s", ev.Block, ev.Err)
	m.send(ev)
}

// Stats returns a snapshot of the monitor counters.
func (m *Monitor) Stats() Snapshot {
	s := Snapshot{
		Time:          time.Now(),
		Blocks:        m.blocks.Load(),
		Misses:        m.misses.Load(),
		Consecutive:   m.consecutive.Load(),
		Degraded:      m.degraded.Load(),
		Budget:        m.budget,
		Last:          time.Duration(m.lastNs.Load()),
		Worst:         time.Duration(m.worstNs.Load()),
		DroppedEvents: m.droppedEvents.Load(),
	}
	if s.Blocks > 0 {
		s.Mean = time.Duration(m.totalNs.Load() / int64(s.Blocks))
	}
	if m.counters != nil {
		s.Counters = m.counters()
	}
	return s
}

// Run forwards queued events to the sink and, if configured, sends periodic
// snapshots. It returns when ctx is done, after flushing queued events.
func (m *Monitor) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if m.statsInterval > 0 {
		ticker := time.NewTicker(m.statsInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case ev := <-m.events:
			m.report(ev)
		case <-tick:
			m.send(m.Stats())
		case <-ctx.Done():
			for {
				select {
				case ev := <-m.events:
					m.report(ev)
				default:
					return nil
				}
			}
		}
	}
}

func (m *Monitor) report(ev Event) {
	switch ev.Kind {
	case EventDeadlineMiss:
		applog.Debugf("monitor: block %d took %s (budget %s, %d in a row)", ev.Block, ev.Elapsed, ev.Budget, ev.Consecutive)
	case EventDegraded:
		applog.Warnf("monitor: degraded, %d consecutive deadline misses at block %d", ev.Consecutive, ev.Block)
	case EventRecovered:
		applog.Infof("monitor: recovered at block %d", ev.Block)
	}
	m.send(ev)
}

func (m *Monitor) send(data any) {
	if m.sink == nil {
		return
	}
	if err := m.sink.Send(data); err != nil {
		applog.Debugf("monitor: diagnostics sink: %v", err)
	}
}
