package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"binaural/cmd"
	"binaural/internal/audio"
	"binaural/internal/config"
	applog "binaural/internal/log"
	"binaural/internal/session"
	"binaural/internal/transport"
	"binaural/internal/transport/udp"
	"binaural/pkg/build"
)

// main is the entry point of the virtualizer.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Parse command line arguments and load the configuration
//   - Execute one-off commands (devices, verify) if requested
//   - Load and prepare the HRIR filter bank
//   - Initialize PortAudio, diagnostics and the session
//
// 2. Concurrent Phase (Hot Path):
//   - Start the worker and monitor
//   - Open the render and capture streams and watch them for stalls
//   - Start recording if enabled
//
// 3. Shutdown Phase (Cold Path):
//   - Handle termination signals or a session failure
//   - Stop the session, then the streams
//   - Finalize the recording and close diagnostics
func main() {
	if err := run(); err != nil {
		applog.Fatalf("%v", err)
	}
}

func run() error {
	// ==================== STARTUP PHASE (Cold Path) ====================

	// Development builds carry no link-time metadata; that is not fatal.
	if err := build.Initialize(); err != nil {
		applog.Debugf("build: %v", err)
	}

	opts, err := cmd.ParseArgs(os.Args[1:])
	if err != nil {
		return err
	}
	if opts == nil {
		return nil // help or version already printed
	}
	cfg := opts.Config
	if !applog.SetLevelString(cfg.LogLevel) {
		applog.Warnf("unknown log level %q, keeping %s", cfg.LogLevel, applog.GetLevel())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Handle one-off commands that don't require the audio devices
	switch opts.Command {
	case cmd.CommandDevices:
		return cmd.Devices(opts, os.Stdout)
	case cmd.CommandVerify:
		_, err := cmd.Verify(ctx, opts, os.Stdout)
		return err
	}

	applog.Infof("%s starting", build.GetBuildFlags())

	bank, err := session.LoadFilterBank(cfg)
	if err != nil {
		return fmt.Errorf("loading HRIR set: %w", err)
	}
	eq, err := session.LoadEqualizer(cfg)
	if err != nil {
		return err
	}

	sinks, err := openSinks(cfg)
	if err != nil {
		return err
	}
	defer sinks.Close()

	sessionOpts := []session.Option{session.WithSink(sinks), session.WithEqualizer(eq)}
	var recorder *audio.Recorder
	if cfg.Recording.Enabled {
		recorder, err = audio.NewRecorder(int(cfg.Audio.SampleRate), config.NumOutputChannels,
			cfg.Audio.BlockSize, cfg.Recording.BitDepth, 4*cfg.Bridge.RingBlocks)
		if err != nil {
			return err
		}
		sessionOpts = append(sessionOpts, session.WithTap(recorder))
	}

	sess, err := session.New(cfg, bank, sessionOpts...)
	if err != nil {
		return err
	}
	defer sess.Stop()
	applog.Infof("session: algorithmic latency %s", sess.Latency())

	if err := audio.Initialize(); err != nil {
		return err
	}
	defer audio.Terminate()

	engine, err := audio.NewEngine(audio.StreamConfigFrom(cfg), sess, sess)
	if err != nil {
		return err
	}
	defer engine.Close()

	var publisher *udp.UDPPublisher
	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewUDPSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			return err
		}
		defer sender.Close()
		if publisher, err = udp.NewUDPPublisher(cfg.Transport.UDPSendInterval, sender, sess); err != nil {
			return err
		}
		defer publisher.Close()
	}

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	if err := sess.Start(ctx); err != nil {
		return err
	}

	// CRITICAL: Start of real-time audio processing. Once the streams run,
	// PortAudio calls into the session from its own threads.
	if err := engine.Start(); err != nil {
		sess.Fail(fmt.Errorf("starting audio streams: %w", err))
	} else {
		// A device that stops calling back fails the session.
		go engine.Watch(ctx, sess.Fail)
	}

	if recorder != nil {
		filename := cfg.Recording.OutputFile
		if filename == "" {
			filename = audio.DefaultFilename(time.Now())
		}
		if err := recorder.Start(filename); err != nil {
			sess.Fail(err)
		}
		defer func() {
			if err := recorder.Stop(); err != nil {
				applog.Errorf("Error stopping recording: %v", err)
			}
			fmt.Printf("\nRecording saved to: %s\n", filename)
		}()
	}
	if publisher != nil {
		publisher.Start()
	}

	// Block until termination signal or failure
	select {
	case <-ctx.Done():
		applog.Infof("shutting down")
	case <-sess.Done():
	}

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	sessErr := sess.Stop()
	if err := engine.Stop(); err != nil {
		applog.Warnf("Error closing audio streams: %v", err)
	}
	if st := engine.Stats(); st.Xruns() > 0 {
		applog.Infof("Audio: %d driver xruns (%d input overflows, %d output underflows)",
			st.Xruns(), st.InputOverflows, st.OutputUnderflows)
	}
	if sessErr != nil && !errors.Is(sessErr, context.Canceled) {
		return fmt.Errorf("session failed: %w", sessErr)
	}
	return nil
}

// openSinks builds the diagnostics fan-out: the log always, plus a WebSocket
// broadcast when enabled.
func openSinks(cfg *config.Config) (transport.Multi, error) {
	sinks := transport.Multi{transport.NewLoggingTransport()}
	if cfg.Transport.WebSocketEnabled {
		ws, err := transport.NewWebSocketTransport(cfg.Transport.WebSocketAddr)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ws)
	}
	return sinks, nil
}
