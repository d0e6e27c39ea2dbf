// SPDX-License-Identifier: MIT

// Package session owns everything one binaural rendering run needs: a
// private copy of the filter bank, the mixer state, the bridge rings and
// worker, and the deadline monitor. Nothing is shared between sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"binaural/internal/bridge"
	"binaural/internal/config"
	"binaural/internal/fft"
	"binaural/internal/hrir"
	applog "binaural/internal/log"
	"binaural/internal/mixer"
	"binaural/internal/monitor"
)

var (
	// ErrStopped is returned by Start once the session has been stopped.
	ErrStopped = errors.New("session: stopped")
	// ErrStarted is returned by a second Start.
	ErrStarted = errors.New("session: already started")
)

type options struct {
	sink         monitor.Sink
	tap          bridge.Tap
	equalizer    [hrir.NumEars]*hrir.Filter
	newTransform fft.Factory
}

// Option customizes a Session.
type Option func(*options)

// WithSink sends monitor events and stats snapshots to s.
func WithSink(s monitor.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithTap hands every rendered block to t, typically an audio.Recorder.
func WithTap(t bridge.Tap) Option {
	return func(o *options) { o.tap = t }
}

// WithEqualizer convolves both output channels with a headphone equalizer.
func WithEqualizer(eq [hrir.NumEars]*hrir.Filter) Option {
	return func(o *options) { o.equalizer = eq }
}

// WithTransform overrides the transform backend named in the configuration.
func WithTransform(f fft.Factory) Option {
	return func(o *options) { o.newTransform = f }
}

type state int

const (
	idle state = iota
	running
	stopped
)

// Session is one rendering run. DeliverInput and RequestOutput are the
// driver callbacks and may be called before Start; until the worker runs
// capture blocks queue (dropping the oldest) and render requests get
// silence.
type Session struct {
	cfg     *config.Config
	bank    *hrir.FilterBank
	mixer   *mixer.Mixer
	bridge  *bridge.Bridge
	monitor *monitor.Monitor

	mu            sync.Mutex
	state         state
	err           error
	cancelMonitor context.CancelFunc
	workerDone    chan struct{}
	monitorDone   chan struct{}
	done          chan struct{}
	stopOnce      sync.Once
}

// New builds a session for cfg around a private clone of bank. The bank
// must have been prepared for the session's block size and sample rate.
func New(cfg *config.Config, bank *hrir.FilterBank, opts ...Option) (*Session, error) {
	if bank == nil {
		return nil, errors.New("session: filter bank is required")
	}
	if bank.BlockSize() != cfg.Audio.BlockSize || bank.SampleRate() != cfg.Audio.SampleRate {
		return nil, fmt.Errorf("%w: filter bank prepared for %d frames @ %.0f Hz, session runs %d @ %.0f Hz",
			config.ErrInvalidConfig, bank.BlockSize(), bank.SampleRate(), cfg.Audio.BlockSize, cfg.Audio.SampleRate)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.newTransform == nil {
		f, err := fftFactory(cfg)
		if err != nil {
			return nil, err
		}
		o.newTransform = f
	}

	mcfg, err := mixer.ConfigFrom(cfg)
	if err != nil {
		return nil, err
	}
	mcfg.Equalizer = o.equalizer

	s := &Session{
		cfg:  cfg,
		bank: bank.Clone(),
		done: make(chan struct{}),
	}
	if s.mixer, err = mixer.New(s.bank, mcfg, o.newTransform); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	s.monitor = monitor.New(cfg.BlockPeriod(), cfg.Monitor.MissThreshold, o.sink,
		monitor.WithStatsInterval(cfg.Monitor.StatsInterval),
		monitor.WithCounters(s.counters),
	)

	s.bridge, err = bridge.New(bridge.Config{
		BlockSize:      cfg.Audio.BlockSize,
		InputChannels:  config.NumInputChannels,
		OutputChannels: config.NumOutputChannels,
		RingBlocks:     cfg.Bridge.RingBlocks,
		Processor:      s.mixer,
		Observer:       s.monitor,
		Tap:            o.tap,
	})
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	applog.Infof("session: %d frames @ %.0f Hz, %d partitions, headroom %.4f, deadline %s",
		cfg.Audio.BlockSize, cfg.Audio.SampleRate, s.bank.MaxPartitions(), s.mixer.HeadroomGain(), cfg.BlockPeriod())
	return s, nil
}

func (s *Session) counters() monitor.Counters {
	st := s.bridge.Stats()
	return monitor.Counters{
		Underruns:     st.Underruns,
		InputDropped:  st.InputDropped,
		OutputDropped: st.OutputDropped,
		Clipped:       s.mixer.Clipped(),
	}
}

// Start launches the worker and the monitor reporter. The session stops by
// itself when ctx is cancelled or processing fails; cancellation drains the
// blocks already captured like Stop does.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case running:
		return ErrStarted
	case stopped:
		return ErrStopped
	}

	// The worker is claimed before Start returns; a later Stop always waits
	// for its drain.
	runErr, err := s.bridge.Start(ctx)
	if err != nil {
		return err
	}
	s.state = running

	mctx, cancel := context.WithCancel(context.Background())
	s.cancelMonitor = cancel
	s.monitorDone = make(chan struct{})
	go func() {
		defer close(s.monitorDone)
		s.monitor.Run(mctx)
	}()

	s.workerDone = make(chan struct{})
	go func() {
		err := <-runErr
		close(s.workerDone)
		switch {
		case err == nil, errors.Is(err, bridge.ErrStopped):
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			s.Stop()
		default:
			s.Fail(err)
		}
	}()
	return nil
}

// DeliverInput is the capture callback. It never blocks or allocates.
func (s *Session) DeliverInput(block []float32) { s.bridge.DeliverInput(block) }

// RequestOutput is the render callback. It never blocks or allocates.
func (s *Session) RequestOutput(dst []float32) { s.bridge.RequestOutput(dst) }

// Stop runs the deterministic shutdown: capture is refused and render
// silenced, the worker drains what was admitted, and the monitor flushes
// pending events. It returns the error that failed the session, if any,
// and is safe to call more than once.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		wasRunning := s.state == running
		s.state = stopped
		s.mu.Unlock()

		s.bridge.Stop()
		if wasRunning {
			<-s.workerDone
			s.cancelMonitor()
			<-s.monitorDone
		}

		st := s.bridge.Stats()
		applog.Infof("session: stopped after %d blocks (%d underruns, %d/%d blocks dropped in/out, %d samples clipped)",
			st.Processed, st.Underruns, st.InputDropped, st.OutputDropped, s.mixer.Clipped())
		close(s.done)
	})
	return s.Err()
}

// Fail reports a fatal runtime error, such as a lost device, and stops the
// session. Only the first failure is kept.
func (s *Session) Fail(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	first := s.err == nil
	if first {
		s.err = err
	}
	s.mu.Unlock()
	if first {
		s.monitor.Fatal(err)
	}
	s.Stop()
}

// Done is closed when the session has fully stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that failed the session, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stats returns a monitor snapshot including bridge and mixer counters.
func (s *Session) Stats() monitor.Snapshot { return s.monitor.Stats() }

// BridgeStats returns the raw bridge counters.
func (s *Session) BridgeStats() bridge.Stats { return s.bridge.Stats() }

// HeadroomGain returns the gain applied to the summed ears.
func (s *Session) HeadroomGain() float64 { return s.mixer.HeadroomGain() }

// Latency is the algorithmic delay from capture to render, excluding driver
// buffering: one block to fill the capture callback plus the convolution
// delay.
func (s *Session) Latency() time.Duration {
	frames := s.cfg.Audio.BlockSize + s.mixer.Latency()
	return time.Duration(float64(frames) / s.cfg.Audio.SampleRate * float64(time.Second))
}

// InputBlockLen is the interleaved sample count of one capture block.
func (s *Session) InputBlockLen() int { return s.bridge.InputBlockLen() }

// OutputBlockLen is the interleaved sample count of one render block.
func (s *Session) OutputBlockLen() int { return s.bridge.OutputBlockLen() }

func fftFactory(cfg *config.Config) (fft.Factory, error) {
	f, err := fft.FactoryFor(cfg.Engine.Transform)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	return f, nil
}
