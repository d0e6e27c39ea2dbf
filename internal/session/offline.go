package session

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"binaural/internal/config"
	"binaural/internal/hrir"
)

// LoadFilterBank reads the HRIR set named by cfg and prepares it for the
// configured block size, sample rate and transform backend.
func LoadFilterBank(cfg *config.Config) (*hrir.FilterBank, error) {
	params, err := bankParams(cfg)
	if err != nil {
		return nil, err
	}
	irs, err := hrir.LoadDir(cfg.HRIR.Dir, cfg.HRIR.Files)
	if err != nil {
		return nil, err
	}
	return hrir.NewFilterBank(irs, params)
}

// LoadEqualizer reads the headphone equalizer named by cfg. It returns no
// filters and no error when none is configured.
func LoadEqualizer(cfg *config.Config) ([hrir.NumEars]*hrir.Filter, error) {
	var eq [hrir.NumEars]*hrir.Filter
	if cfg.Mixer.EqualizerIR == "" {
		return eq, nil
	}
	params, err := bankParams(cfg)
	if err != nil {
		return eq, err
	}
	pair, err := hrir.LoadFile(cfg.Mixer.EqualizerIR)
	if err != nil {
		return eq, fmt.Errorf("equalizer: %w", err)
	}
	return hrir.NewEqualizer(pair, params)
}

func bankParams(cfg *config.Config) (hrir.Params, error) {
	quality, err := hrir.ParseQuality(cfg.HRIR.ResampleQuality)
	if err != nil {
		return hrir.Params{}, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	factory, err := fftFactory(cfg)
	if err != nil {
		return hrir.Params{}, err
	}
	return hrir.Params{
		SampleRate:   cfg.Audio.SampleRate,
		BlockSize:    cfg.Audio.BlockSize,
		Quality:      quality,
		NewTransform: factory,
	}, nil
}

// Render pushes an interleaved 7.1 signal through a started session one
// block at a time, waiting for each block to be processed before pulling
// the matching stereo block, the way a perfectly paced driver would. A
// trailing partial block is zero-padded. It returns the interleaved stereo
// output.
func (s *Session) Render(ctx context.Context, input []float32) ([]float32, error) {
	inLen, outLen := s.InputBlockLen(), s.OutputBlockLen()
	blocks := (len(input) + inLen - 1) / inLen
	output := make([]float32, blocks*outLen)
	block := make([]float32, inLen)

	for n := range blocks {
		clear(block)
		copy(block, input[n*inLen:])

		want := s.bridge.Stats().Processed + 1
		s.DeliverInput(block)
		for s.bridge.Stats().Processed < want {
			select {
			case <-ctx.Done():
				return output[:n*outLen], ctx.Err()
			case <-s.done:
				if err := s.Err(); err != nil {
					return output[:n*outLen], err
				}
				return output[:n*outLen], ErrStopped
			default:
			}
			runtime.Gosched()
			time.Sleep(10 * time.Microsecond)
		}
		s.RequestOutput(output[n*outLen : (n+1)*outLen])
	}
	return output, nil
}
