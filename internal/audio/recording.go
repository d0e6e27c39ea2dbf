package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"binaural/internal/bridge"
	applog "binaural/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Recorder writes rendered blocks to a WAV file. Write is the bridge tap:
// it only copies the block into a ring and wakes the writer goroutine, so
// no file I/O happens on the audio worker. When the writer falls behind
// the oldest queued blocks are dropped and counted.
type Recorder struct {
	sampleRate int
	channels   int
	bitDepth   int
	scale      float64

	ring  *bridge.Ring
	block []float32        // writer scratch
	buf   *audio.IntBuffer // reusable buffer for format conversion

	isRecording atomic.Bool
	frames      atomic.Uint64

	wake chan struct{}

	mu         sync.Mutex // guards the fields below, owned by Start/Stop
	quit       chan struct{}
	done       chan struct{}
	outputFile *os.File
	wavEncoder *wav.Encoder
	writeErr   error
}

var _ bridge.Tap = (*Recorder)(nil)

// NewRecorder sizes a recorder for blocks of blockSize frames. ringBlocks
// bounds how far the writer may lag before blocks are dropped.
func NewRecorder(sampleRate, channels, blockSize, bitDepth, ringBlocks int) (*Recorder, error) {
	if sampleRate <= 0 || channels <= 0 || blockSize <= 0 {
		return nil, fmt.Errorf("invalid recording format %d Hz x %d ch x %d frames", sampleRate, channels, blockSize)
	}
	if bitDepth != 16 && bitDepth != 24 {
		return nil, fmt.Errorf("unsupported recording bit depth %d", bitDepth)
	}
	if ringBlocks < bridge.MinRingBlocks {
		ringBlocks = bridge.MinRingBlocks
	}
	blockLen := blockSize * channels
	return &Recorder{
		sampleRate: sampleRate,
		channels:   channels,
		bitDepth:   bitDepth,
		scale:      float64(int(1)<<(bitDepth-1) - 1),
		ring:       bridge.NewRing(ringBlocks, blockLen),
		block:      make([]float32, blockLen),
		wake:       make(chan struct{}, 1),
		buf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: channels,
				SampleRate:  sampleRate,
			},
			Data:           make([]int, blockLen),
			SourceBitDepth: bitDepth,
		},
	}, nil
}

// DefaultFilename names a recording after the time it started.
func DefaultFilename(t time.Time) string {
	return fmt.Sprintf("binaural_%s.wav", t.Format("20060102_150405"))
}

// Start creates filename and begins accepting blocks.
func (r *Recorder) Start(filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isRecording.Load() {
		return fmt.Errorf("already recording")
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("creating recording: %w", err)
	}
	r.outputFile = file
	r.wavEncoder = wav.NewEncoder(file, r.sampleRate, r.bitDepth, r.channels, 1)
	r.writeErr = nil
	r.frames.Store(0)

	// Blocks left over from a previous recording belong to that file.
	for r.ring.Pop(r.block) {
	}

	r.quit = make(chan struct{})
	r.done = make(chan struct{})
	go r.writer(r.wake, r.quit, r.done)

	r.isRecording.Store(true)
	applog.Infof("Recorder: Writing %d-bit %d ch WAV to %s", r.bitDepth, r.channels, filename)
	return nil
}

// Write queues a rendered block. It never blocks; blocks of the wrong
// length and blocks arriving while not recording are ignored.
func (r *Recorder) Write(block []float32) {
	if !r.isRecording.Load() || len(block) != r.ring.BlockLen() {
		return
	}
	r.ring.Push(block)
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Recorder) writer(wake, quit, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-wake:
			r.flush()
		case <-quit:
			r.flush()
			return
		}
	}
}

// flush encodes every queued block. Only the writer goroutine calls it.
func (r *Recorder) flush() {
	for r.ring.Pop(r.block) {
		if r.writeErr != nil {
			continue
		}
		for i, s := range r.block {
			r.buf.Data[i] = r.quantize(s)
		}
		if err := r.wavEncoder.Write(r.buf); err != nil {
			r.writeErr = err
			applog.Errorf("Recorder: Error writing to WAV file: %v", err)
			continue
		}
		r.frames.Add(uint64(len(r.block) / r.channels))
	}
}

func (r *Recorder) quantize(s float32) int {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	v = math.Max(-1, math.Min(1, v))
	return int(math.Round(v * r.scale))
}

// Stop writes every queued block, finalizes the WAV header and closes the
// file. It is a no-op when not recording.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isRecording.Load() {
		return nil
	}
	r.isRecording.Store(false)

	close(r.quit)
	<-r.done

	errs := []error{r.writeErr}
	if err := r.wavEncoder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("finalizing WAV: %w", err))
	}
	r.wavEncoder = nil
	if err := r.outputFile.Close(); err != nil {
		errs = append(errs, err)
	}
	r.outputFile = nil

	applog.Infof("Recorder: Stopped after %d frames (%d blocks dropped)", r.frames.Load(), r.ring.Dropped())
	return errors.Join(errs...)
}

// Recording reports whether blocks are being accepted.
func (r *Recorder) Recording() bool { return r.isRecording.Load() }

// Frames returns the number of frames written to the current file.
func (r *Recorder) Frames() uint64 { return r.frames.Load() }

// Dropped returns the number of blocks discarded because the writer lagged.
func (r *Recorder) Dropped() uint64 { return r.ring.Dropped() }

// Close stops any recording in progress.
func (r *Recorder) Close() error { return r.Stop() }
