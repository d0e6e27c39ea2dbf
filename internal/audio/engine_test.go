package audio

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"binaural/internal/bridge"
	"binaural/internal/config"

	"github.com/gordonklaus/portaudio"
)

type nopSink struct{}

func (nopSink) DeliverInput([]float32) {}

type nopSource struct{}

func (nopSource) RequestOutput(dst []float32) { clear(dst) }

func TestStreamConfigFrom(t *testing.T) {
	cfg := config.Default()
	cfg.Audio.InputDevice = 3
	cfg.Audio.OutputDevice = 1
	cfg.Audio.LowLatency = true

	sc := StreamConfigFrom(cfg)
	if sc.InputDevice != 3 || sc.OutputDevice != 1 || !sc.LowLatency {
		t.Errorf("devices not carried over: %+v", sc)
	}
	if sc.InputChannels != 8 || sc.OutputChannels != 2 {
		t.Errorf("channels = %d in, %d out", sc.InputChannels, sc.OutputChannels)
	}
	if sc.BlockSize != cfg.Audio.BlockSize || sc.SampleRate != cfg.Audio.SampleRate {
		t.Errorf("geometry = %d @ %.0f", sc.BlockSize, sc.SampleRate)
	}
}

func TestNewEngineRejectsNarrowDevices(t *testing.T) {
	stubDevices(t, fakeInfos(), nil)

	tests := []struct {
		name    string
		in, out int
	}{
		{"StereoCapture", 0, 1},   // microphone has 2 inputs
		{"InputOnlyRender", 2, 0}, // microphone has no outputs
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := StreamConfig{
				InputDevice: tt.in, OutputDevice: tt.out,
				SampleRate: 48000, BlockSize: 256,
				InputChannels: 8, OutputChannels: 2,
			}
			_, err := NewEngine(sc, nopSink{}, nopSource{})
			if !errors.Is(err, ErrDeviceChannels) {
				t.Errorf("NewEngine error = %v, want ErrDeviceChannels", err)
			}
		})
	}
}

func TestNewEngineResolvesDevices(t *testing.T) {
	infos := fakeInfos()
	stubDevices(t, infos, nil)

	sc := StreamConfig{
		InputDevice: 2, OutputDevice: 1,
		SampleRate: 48000, BlockSize: 256,
		InputChannels: 8, OutputChannels: 2,
		LowLatency: true,
	}
	e, err := NewEngine(sc, nopSink{}, nopSource{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if e.inputDevice != infos[2] || e.outputDevice != infos[1] {
		t.Error("wrong devices selected")
	}
	if e.outputLatency != infos[1].DefaultLowOutputLatency {
		t.Errorf("output latency = %s", e.outputLatency)
	}
	// Never started; Stop must be a no-op.
	if err := e.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestNewEngineRequiresEndpoints(t *testing.T) {
	if _, err := NewEngine(StreamConfig{}, nil, nopSource{}); err == nil {
		t.Error("expected error for nil sink")
	}
	if _, err := NewEngine(StreamConfig{}, nopSink{}, nil); err == nil {
		t.Error("expected error for nil source")
	}
}

type echo struct{}

func (echo) Process(out, in []float32) error {
	for i := range out {
		out[i] = in[i*4]
	}
	return nil
}

// TestCallbacksHotPath drives the stream callbacks against a real bridge
// and checks they never allocate.
func TestCallbacksHotPath(t *testing.T) {
	b, err := bridge.New(bridge.Config{
		BlockSize: testFrameSize, InputChannels: 8, OutputChannels: 2,
		RingBlocks: 4, Processor: echo{},
	})
	if err != nil {
		t.Fatal(err)
	}
	e := &Engine{capture: b, render: b}
	in := make([]float32, b.InputBlockLen())
	out := make([]float32, b.OutputBlockLen())

	allocs := testing.AllocsPerRun(100, func() {
		e.processInputStream(in, portaudio.StreamCallbackTimeInfo{}, 0)
		e.processOutputStream(out, portaudio.StreamCallbackTimeInfo{}, 0)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in stream callbacks, got %.1f", allocs)
	}
}

func TestCallbacksCountXrunFlags(t *testing.T) {
	e := &Engine{capture: nopSink{}, render: nopSource{}}
	var ti portaudio.StreamCallbackTimeInfo
	buf := make([]float32, 16)

	e.processInputStream(buf, ti, 0)
	e.processInputStream(buf, ti, portaudio.InputOverflow)
	e.processInputStream(buf, ti, portaudio.InputOverflow|portaudio.InputUnderflow)
	e.processOutputStream(buf, ti, portaudio.OutputUnderflow)
	e.processOutputStream(buf, ti, portaudio.PrimingOutput)

	want := StreamStats{
		CaptureCallbacks: 3,
		RenderCallbacks:  2,
		InputOverflows:   2,
		InputUnderflows:  1,
		OutputUnderflows: 1,
	}
	if got := e.Stats(); got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
	if got := e.Stats().Xruns(); got != 4 {
		t.Errorf("Xruns() = %d, want 4", got)
	}
}

func TestStallTimeout(t *testing.T) {
	tests := []struct {
		name string
		cfg  StreamConfig
		want time.Duration
	}{
		{"ShortBlocksUseMinimum", StreamConfig{SampleRate: 48000, BlockSize: 256}, MinStallTimeout},
		{"LongBlocks", StreamConfig{SampleRate: 8192, BlockSize: 8192}, 16 * time.Second},
		{"NoRate", StreamConfig{}, MinStallTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stallTimeout(tt.cfg); got != tt.want {
				t.Errorf("stallTimeout = %s, want %s", got, tt.want)
			}
		})
	}
}

// watchedEngine is a running engine without streams whose watchdog gives up
// after a short timeout.
func watchedEngine() *Engine {
	e := &Engine{
		capture:      nopSink{},
		render:       nopSource{},
		inputDevice:  &portaudio.DeviceInfo{Name: "Fake 7.1 Interface"},
		outputDevice: &portaudio.DeviceInfo{Name: "Fake Headphones"},
		stallTimeout: 40 * time.Millisecond,
	}
	e.running.Store(true)
	return e
}

// pump drives the selected callbacks until stop is closed.
func pump(e *Engine, capture, render bool, stop <-chan struct{}) {
	buf := make([]float32, 16)
	for {
		select {
		case <-stop:
			return
		case <-time.After(time.Millisecond):
		}
		if capture {
			e.processInputStream(buf, portaudio.StreamCallbackTimeInfo{}, 0)
		}
		if render {
			e.processOutputStream(buf, portaudio.StreamCallbackTimeInfo{}, 0)
		}
	}
}

func TestWatchReportsStalledCapture(t *testing.T) {
	e := watchedEngine()
	stop := make(chan struct{})
	defer close(stop)
	go pump(e, false, true, stop)

	var (
		mu     sync.Mutex
		failed []error
	)
	done := make(chan struct{})
	go func() {
		e.Watch(context.Background(), func(err error) {
			mu.Lock()
			failed = append(failed, err)
			mu.Unlock()
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not report the silent capture stream")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(failed) != 1 {
		t.Fatalf("onFail called %d times, want 1", len(failed))
	}
	if !errors.Is(failed[0], ErrStreamStalled) {
		t.Errorf("error = %v, want ErrStreamStalled", failed[0])
	}
	if !strings.Contains(failed[0].Error(), "capture") {
		t.Errorf("error %q does not name the capture stream", failed[0])
	}
}

func TestWatchQuietWhileStreamsRun(t *testing.T) {
	e := watchedEngine()
	e.stallTimeout = 100 * time.Millisecond
	stop := make(chan struct{})
	go pump(e, true, true, stop)

	var calls int
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	e.Watch(ctx, func(error) { calls++ })
	close(stop)

	if calls != 0 {
		t.Errorf("onFail called %d times for healthy streams", calls)
	}
}

func TestWatchReturnsAfterStop(t *testing.T) {
	e := watchedEngine()
	e.stallTimeout = time.Second
	done := make(chan struct{})
	go func() {
		e.Watch(context.Background(), func(err error) { t.Errorf("unexpected failure: %v", err) })
		close(done)
	}()
	if err := e.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after Stop")
	}
}

func BenchmarkCallbacks(b *testing.B) {
	br, _ := bridge.New(bridge.Config{
		BlockSize: testFrameSize, InputChannels: 8, OutputChannels: 2,
		RingBlocks: 4, Processor: echo{},
	})
	e := &Engine{capture: br, render: br}
	in := make([]float32, br.InputBlockLen())
	out := make([]float32, br.OutputBlockLen())
	for b.Loop() {
		e.processInputStream(in, portaudio.StreamCallbackTimeInfo{}, 0)
		e.processOutputStream(out, portaudio.StreamCallbackTimeInfo{}, 0)
	}
}
