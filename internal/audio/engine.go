// SPDX-License-Identifier: MIT
/*
Package audio adapts PortAudio to the binaural session:
- A capture stream delivering interleaved 7.1 blocks to a CaptureSink
- A render stream pulling interleaved stereo blocks from a RenderSource
- Device enumeration for the devices command
- WAV recording of the rendered output through a non-blocking tap
- A watchdog that turns a silent or failed device into a session failure

Thread Safety:
- Stream callbacks only copy into lock-free rings and bump atomic
  counters; they never lock, allocate, log or touch files
- Start, Stop and Watch are called from control goroutines
*/
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"binaural/internal/config"
	applog "binaural/internal/log"

	"github.com/gordonklaus/portaudio"
)

// CaptureSink receives every interleaved capture block.
type CaptureSink interface {
	DeliverInput(block []float32)
}

// RenderSource fills every interleaved render block.
type RenderSource interface {
	RequestOutput(dst []float32)
}

// StreamConfig selects devices and stream geometry.
type StreamConfig struct {
	InputDevice    int // -1 for the system default
	OutputDevice   int // -1 for the system default
	SampleRate     float64
	BlockSize      int // frames per callback
	InputChannels  int
	OutputChannels int
	LowLatency     bool
}

// StreamConfigFrom derives the stream settings of a session configuration.
func StreamConfigFrom(cfg *config.Config) StreamConfig {
	return StreamConfig{
		InputDevice:    cfg.Audio.InputDevice,
		OutputDevice:   cfg.Audio.OutputDevice,
		SampleRate:     cfg.Audio.SampleRate,
		BlockSize:      cfg.Audio.BlockSize,
		InputChannels:  config.NumInputChannels,
		OutputChannels: config.NumOutputChannels,
		LowLatency:     cfg.Audio.LowLatency,
	}
}

var (
	// ErrDeviceChannels is returned when a device cannot carry the requested
	// channel count.
	ErrDeviceChannels = errors.New("device has too few channels")
	// ErrStreamStalled is reported by Watch when a running stream stops
	// calling back, which is how a lost device shows up.
	ErrStreamStalled = errors.New("audio stream stalled")
)

// MinStallTimeout bounds how quickly Watch gives up on a silent stream.
const MinStallTimeout = time.Second

// StreamStats counts callbacks and the xrun flags PortAudio reported.
type StreamStats struct {
	CaptureCallbacks uint64
	RenderCallbacks  uint64
	InputOverflows   uint64 // capture data discarded by the driver
	InputUnderflows  uint64
	OutputUnderflows uint64 // gaps inserted into the render output
	OutputOverflows  uint64
}

// Xruns is the total number of flagged callbacks.
func (s StreamStats) Xruns() uint64 {
	return s.InputOverflows + s.InputUnderflows + s.OutputUnderflows + s.OutputOverflows
}

// Engine owns the capture and render streams. PortAudio must be
// initialized before NewEngine and stay initialized until Close returns.
type Engine struct {
	cfg StreamConfig

	capture CaptureSink
	render  RenderSource

	inputDevice   *portaudio.DeviceInfo
	outputDevice  *portaudio.DeviceInfo
	inputLatency  time.Duration
	outputLatency time.Duration

	inputStream  *portaudio.Stream
	outputStream *portaudio.Stream

	running      atomic.Bool
	stallTimeout time.Duration

	captureCallbacks atomic.Uint64
	renderCallbacks  atomic.Uint64
	inputOverflows   atomic.Uint64
	inputUnderflows  atomic.Uint64
	outputUnderflows atomic.Uint64
	outputOverflows  atomic.Uint64
}

// NewEngine resolves both devices and checks they can carry the requested
// channel counts. No stream is opened until Start.
func NewEngine(cfg StreamConfig, capture CaptureSink, render RenderSource) (*Engine, error) {
	if capture == nil || render == nil {
		return nil, errors.New("audio engine requires a capture sink and a render source")
	}

	inputDevice, err := InputDevice(cfg.InputDevice)
	if err != nil {
		return nil, fmt.Errorf("capture device: %w", err)
	}
	outputDevice, err := OutputDevice(cfg.OutputDevice)
	if err != nil {
		return nil, fmt.Errorf("render device: %w", err)
	}
	if err := checkChannels(inputDevice.Name, inputDevice.MaxInputChannels, cfg.InputChannels); err != nil {
		return nil, err
	}
	if err := checkChannels(outputDevice.Name, outputDevice.MaxOutputChannels, cfg.OutputChannels); err != nil {
		return nil, err
	}

	engine := &Engine{
		cfg:          cfg,
		capture:      capture,
		render:       render,
		inputDevice:  inputDevice,
		outputDevice: outputDevice,
		stallTimeout: stallTimeout(cfg),
	}

	if cfg.LowLatency {
		engine.inputLatency = inputDevice.DefaultLowInputLatency
		engine.outputLatency = outputDevice.DefaultLowOutputLatency
	} else {
		engine.inputLatency = inputDevice.DefaultHighInputLatency
		engine.outputLatency = outputDevice.DefaultHighOutputLatency
	}

	applog.Infof("Audio: capture %q (%d ch, %s), render %q (%d ch, %s)",
		inputDevice.Name, cfg.InputChannels, engine.inputLatency,
		outputDevice.Name, cfg.OutputChannels, engine.outputLatency)
	return engine, nil
}

// stallTimeout allows sixteen missed callbacks, and never less than
// MinStallTimeout.
func stallTimeout(cfg StreamConfig) time.Duration {
	if cfg.SampleRate <= 0 {
		return MinStallTimeout
	}
	period := time.Duration(float64(cfg.BlockSize) / cfg.SampleRate * float64(time.Second))
	return max(16*period, MinStallTimeout)
}

func checkChannels(name string, have, want int) error {
	if have < want {
		return fmt.Errorf("%w: %q offers %d, need %d", ErrDeviceChannels, name, have, want)
	}
	return nil
}

// Start opens and starts the render stream first, then the capture stream,
// so the first captured block already has a consumer downstream.
func (e *Engine) Start() error {
	out, err := e.open(portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Channels: e.cfg.OutputChannels,
			Device:   e.outputDevice,
			Latency:  e.outputLatency,
		},
		FramesPerBuffer: e.cfg.BlockSize,
		SampleRate:      e.cfg.SampleRate,
	}, e.processOutputStream)
	if err != nil {
		return fmt.Errorf("render stream: %w", err)
	}
	e.outputStream = out

	in, err := e.open(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: e.cfg.InputChannels,
			Device:   e.inputDevice,
			Latency:  e.inputLatency,
		},
		FramesPerBuffer: e.cfg.BlockSize,
		SampleRate:      e.cfg.SampleRate,
	}, e.processInputStream)
	if err != nil {
		e.Stop()
		return fmt.Errorf("capture stream: %w", err)
	}
	e.inputStream = in
	e.running.Store(true)
	return nil
}

func (e *Engine) open(params portaudio.StreamParameters, callback streamCallback) (*portaudio.Stream, error) {
	stream, err := portaudio.OpenStream(params, callback)
	if err != nil {
		return nil, err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, err
	}
	return stream, nil
}

// Stop stops and closes the capture stream, then the render stream. It is
// safe to call on a partially started engine and more than once.
func (e *Engine) Stop() error {
	e.running.Store(false)
	errIn := stopStream(e.inputStream)
	e.inputStream = nil
	errOut := stopStream(e.outputStream)
	e.outputStream = nil
	return errors.Join(errIn, errOut)
}

func stopStream(s *portaudio.Stream) error {
	if s == nil {
		return nil
	}
	if err := s.Stop(); err != nil {
		s.Close()
		return err
	}
	return s.Close()
}

// Close releases both streams.
func (e *Engine) Close() error {
	return e.Stop()
}

type streamCallback = func([]float32, portaudio.StreamCallbackTimeInfo, portaudio.StreamCallbackFlags)

// processInputStream is the capture callback.
// Performance Critical:
// - Hands the driver buffer straight to the sink, which copies it
// - No dynamic allocations in the hot path
func (e *Engine) processInputStream(in []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
	e.captureCallbacks.Add(1)
	if flags&portaudio.InputOverflow != 0 {
		e.inputOverflows.Add(1)
	}
	if flags&portaudio.InputUnderflow != 0 {
		e.inputUnderflows.Add(1)
	}
	e.capture.DeliverInput(in)
}

// processOutputStream is the render callback. The source fills out in
// place, with silence when nothing is ready.
func (e *Engine) processOutputStream(out []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
	e.renderCallbacks.Add(1)
	if flags&portaudio.OutputUnderflow != 0 {
		e.outputUnderflows.Add(1)
	}
	if flags&portaudio.OutputOverflow != 0 {
		e.outputOverflows.Add(1)
	}
	e.render.RequestOutput(out)
}

// Stats returns the callback and xrun counters.
func (e *Engine) Stats() StreamStats {
	return StreamStats{
		CaptureCallbacks: e.captureCallbacks.Load(),
		RenderCallbacks:  e.renderCallbacks.Load(),
		InputOverflows:   e.inputOverflows.Load(),
		InputUnderflows:  e.inputUnderflows.Load(),
		OutputUnderflows: e.outputUnderflows.Load(),
		OutputOverflows:  e.outputOverflows.Load(),
	}
}

// Watch supervises the running streams until ctx is done or Stop is called.
// PortAudio has no error callback: an unplugged or failed device simply
// stops calling back. When either stream stays silent for the stall
// timeout, Watch calls onFail with ErrStreamStalled and returns. Newly
// flagged xruns are logged on the way.
func (e *Engine) Watch(ctx context.Context, onFail func(error)) {
	timeout := e.stallTimeout
	ticker := time.NewTicker(timeout / 4)
	defer ticker.Stop()

	now := time.Now()
	last := e.Stats()
	seenCapture, seenRender := now, now
	for {
		select {
		case <-ctx.Done():
			return
		case now = <-ticker.C:
		}
		if !e.running.Load() {
			return
		}

		st := e.Stats()
		if st.CaptureCallbacks != last.CaptureCallbacks {
			seenCapture = now
		}
		if st.RenderCallbacks != last.RenderCallbacks {
			seenRender = now
		}
		if n := st.Xruns() - last.Xruns(); n > 0 {
			applog.Warnf("Audio: %d xruns (input overflow %d, output underflow %d so far)",
				n, st.InputOverflows, st.OutputUnderflows)
		}
		last = st

		switch {
		case now.Sub(seenCapture) > timeout:
			onFail(fmt.Errorf("%w: no capture callback from %q for %s",
				ErrStreamStalled, e.inputDevice.Name, now.Sub(seenCapture).Round(time.Millisecond)))
			return
		case now.Sub(seenRender) > timeout:
			onFail(fmt.Errorf("%w: no render callback from %q for %s",
				ErrStreamStalled, e.outputDevice.Name, now.Sub(seenRender).Round(time.Millisecond)))
			return
		}
	}
}
