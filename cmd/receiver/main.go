/* SPDX-License-Identifier: GPL-3.0-or-later
 *
 * smirror
 * Copyright (C) 2025 e1z0 <e1z0@icloud.com>
 *
 * This file is part of smirror.
 *
 * smirror is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * smirror is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with smirror.  If not, see <https://www.gnu.org/licenses/>.
 */

// Command receiver is the host-side process: it negotiates a transport to
// a remote capture agent, decodes video and audio, keeps them in sync, and
// adapts the sender's bitrate from observed network quality.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	astiav "github.com/asticode/go-astiav"

	"github.com/e1z0/smirror/internal/audio"
	"github.com/e1z0/smirror/internal/bitrate"
	"github.com/e1z0/smirror/internal/negotiate"
	"github.com/e1z0/smirror/internal/render"
	syncpkg "github.com/e1z0/smirror/internal/sync"
	"github.com/e1z0/smirror/internal/transport/datagram"
	"github.com/e1z0/smirror/internal/transport/reliable"
	"github.com/e1z0/smirror/internal/video"
	"github.com/e1z0/smirror/internal/wire"
)

const appName = "smirror-receiver"

const shutdownBudget = 500 * time.Millisecond

// exit codes, per the CLI surface table.
const (
	exitOK            = 0
	exitUnrecoverable = 1
	exitInvalidConfig = 2
)

type config struct {
	mode         string
	host         string
	port         int
	bitrateMbps  int
	hwDecoder    string
	noAudio      bool
	maxSize      int
	verbose      bool
	probeTimeout time.Duration
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitInvalidConfig
	}

	logFile, err := initLog(cfg.verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, "receiver: log init: ", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	log.Printf("%s starting: mode=%s host=%s port=%d", appName, cfg.mode, cfg.host, cfg.port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("receiver: shutdown signal received")
		cancel()
	}()

	code, err := serve(ctx, cfg)
	if err != nil {
		log.Printf("receiver: fatal: %v", err)
	}
	return code
}

func parseFlags(args []string) (config, error) {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	mode := fs.String("mode", "reliable", "preferred transport: reliable or datagram")
	host := fs.String("host", "", "remote host to connect to")
	port := fs.Int("port", 0, "remote port")
	bitrateMbps := fs.Int("bitrate", 8, "initial bitrate in Mbps")
	hwDecoder := fs.String("hw-decoder", "auto", "hardware decode backend: auto, or a named backend")
	noAudio := fs.Bool("no-audio", false, "disable the audio path entirely")
	maxSize := fs.Int("max-size", 0, "rendering size cap in pixels on the longest edge, 0 disables the request")
	verbose := fs.Bool("verbose", false, "also write the log to stdout")
	probeTimeout := fs.Duration("probe-timeout", negotiate.DefaultProbeWindow, "how long to wait for the first frame before falling back")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg := config{
		mode:         *mode,
		host:         *host,
		port:         *port,
		bitrateMbps:  *bitrateMbps,
		hwDecoder:    *hwDecoder,
		noAudio:      *noAudio,
		maxSize:      *maxSize,
		verbose:      *verbose,
		probeTimeout: *probeTimeout,
	}
	return cfg, validate(cfg)
}

func validate(cfg config) error {
	if cfg.mode != "reliable" && cfg.mode != "datagram" {
		return fmt.Errorf("receiver: --mode must be %q or %q, got %q", "reliable", "datagram", cfg.mode)
	}
	if cfg.host == "" {
		return fmt.Errorf("receiver: --host is required")
	}
	if cfg.port <= 0 || cfg.port > 65535 {
		return fmt.Errorf("receiver: --port must be in [1, 65535], got %d", cfg.port)
	}
	if cfg.bitrateMbps <= 0 {
		return fmt.Errorf("receiver: --bitrate must be positive, got %d", cfg.bitrateMbps)
	}
	if cfg.maxSize < 0 {
		return fmt.Errorf("receiver: --max-size must not be negative, got %d", cfg.maxSize)
	}
	return nil
}

// initLog mirrors the teacher's habit of always appending to a debug log
// file under the user config directory (the file is not rotated), and
// additionally to stdout when verbose logging is requested.
func initLog(verbose bool) (*os.File, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		return nil, err
	}
	dir = filepath.Join(dir, appName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		return nil, err
	}
	file, err := os.OpenFile(filepath.Join(dir, "receiver.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		return nil, err
	}
	if verbose {
		log.SetOutput(io.MultiWriter(file, os.Stdout))
	} else {
		log.SetOutput(file)
	}
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	return file, nil
}

// serve wires the acyclic dependency graph (transport -> decoders -> sync
// -> {renderer, player}; controller reads transport/sync stats and writes
// control packets back through the transport) and runs until ctx is
// canceled or an unrecoverable error occurs.
func serve(ctx context.Context, cfg config) (int, error) {
	addr := net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port))

	negCfg := negotiate.Config{
		Preferred:    preferredKind(cfg.mode),
		ProbeWindow:  cfg.probeTimeout,
		DialReliable: func(ctx context.Context) (negotiate.Transport, error) { return reliable.Dial(ctx, addr) },
		DialDatagram: func(ctx context.Context) (negotiate.Transport, error) {
			return datagram.Dial(ctx, addr, datagram.Config{})
		},
	}

	result, err := negotiate.Negotiate(ctx, negCfg)
	if err != nil {
		return exitUnrecoverable, fmt.Errorf("negotiate: %w", err)
	}
	tr := result.Transport
	defer tr.Close()
	log.Printf("receiver: negotiated %s transport", result.Kind)

	controller := bitrate.NewController(tr, bitrate.DefaultMinKbps, bitrate.DefaultMaxKbps)
	controller.SetInitial(cfg.bitrateMbps * 1000)

	if cfg.maxSize > 0 {
		if err := tr.Send(wire.Packet{
			Kind:    wire.KindControl,
			Payload: wire.ControlPacket{Op: wire.OpSetMaxSize, Value: uint32(cfg.maxSize)}.Encode(),
		}); err != nil {
			log.Printf("receiver: send max-size request: %v", err)
		}
	}

	localClock := syncpkg.NewClock()
	synchronizer := syncpkg.NewSynchronizer(!cfg.noAudio, localClock)
	renderer := render.NewStagingRenderer()

	backends := video.DefaultBackends
	if cfg.hwDecoder != "" && cfg.hwDecoder != "auto" {
		backends = []string{cfg.hwDecoder, "none"}
	}
	videoDecoder, err := video.NewDecoder(astiav.CodecIDH264, backends, func() {
		if err := controller.RequestKeyframe(time.Now()); err != nil {
			log.Printf("receiver: request keyframe: %v", err)
		}
	})
	if err != nil {
		return exitUnrecoverable, fmt.Errorf("video decoder: %w", err)
	}
	defer videoDecoder.Close()
	log.Printf("receiver: video decoder backend=%s", videoDecoder.Backend())

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		runVideo(ctx, tr, videoDecoder, localClock, synchronizer, renderer, cfg.noAudio)
	}()

	var audioPlayer *audio.Player
	if !cfg.noAudio {
		audioDecoder, err := audio.NewDecoder(astiav.CodecIDAac)
		if err != nil {
			log.Printf("receiver: audio disabled, decoder init failed: %v", err)
		} else {
			defer audioDecoder.Close()
			jitterBuf := audio.NewJitterBuffer(audio.DefaultTargetMs)
			wg.Add(1)
			go func() {
				defer wg.Done()
				audioPlayer = runAudio(ctx, tr, audioDecoder, jitterBuf, synchronizer)
			}()
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		drainControl(ctx, tr)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runBitrateTicker(ctx, tr, controller)
	}()

	<-ctx.Done()

	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-time.After(shutdownBudget):
		log.Printf("receiver: shutdown budget exceeded, exiting anyway")
	}
	if audioPlayer != nil {
		audioPlayer.Close()
	}

	log.Printf("receiver: clean shutdown")
	return exitOK, nil
}

func preferredKind(mode string) negotiate.Kind {
	if mode == "datagram" {
		return negotiate.Datagram
	}
	return negotiate.Reliable
}

// runVideo decodes video packets, drives the local clock when audio is
// disabled, and hands decoded frames to the synchronizer's decision table
// before presenting. The renderer is headless here, so Done is called
// immediately after a successful Present -- a real host UI would call it
// once its own paint/GPU-submission completed instead.
func runVideo(ctx context.Context, tr negotiate.Transport, dec *video.Decoder, clock *syncpkg.Clock, sc *syncpkg.Synchronizer, renderer render.Renderer, noAudio bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-tr.Video():
			if !ok {
				if err := tr.Err(); err != nil {
					log.Printf("receiver: transport ended: %v", err)
				}
				return
			}
			now := time.Now()
			if noAudio {
				clock.Observe(p.PTS, now)
			}
			frames, err := dec.Decode(p.PTS, p.Payload)
			if err != nil {
				log.Printf("receiver: video decode: %v", err)
				continue
			}
			for _, f := range frames {
				action, wait := sc.Decide(f.PTSUs, time.Now())
				switch action {
				case syncpkg.Drop:
					continue
				case syncpkg.Wait, syncpkg.Hold:
					time.Sleep(wait)
				}
				if err := renderer.Present(f); err != nil {
					continue
				}
				if sr, ok := renderer.(*render.StagingRenderer); ok {
					sr.Done()
				}
			}
		}
	}
}

// runAudio decodes audio packets into the jitter buffer and lazily starts
// playback once the first frame reveals the negotiated sample format. It
// returns the Player so the caller can close it during shutdown.
func runAudio(ctx context.Context, tr negotiate.Transport, dec *audio.Decoder, buf *audio.JitterBuffer, sc *syncpkg.Synchronizer) *audio.Player {
	var player *audio.Player
	var refTicker *time.Ticker
	defer func() {
		if refTicker != nil {
			refTicker.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return player
		case p, ok := <-tr.Audio():
			if !ok {
				return player
			}
			frames, err := dec.Decode(p.PTS, p.Payload)
			if err != nil {
				log.Printf("receiver: audio decode: %v", err)
				continue
			}
			for _, f := range frames {
				buf.Push(f)
				if player == nil {
					newPlayer, err := audio.NewPlayer(buf, f.SampleRate, f.Channels)
					if err != nil {
						log.Printf("receiver: audio player init failed, continuing without audio: %v", err)
						return player
					}
					player = newPlayer
					refTicker = time.NewTicker(20 * time.Millisecond)
					go func(pl *audio.Player) {
						for range refTicker.C {
							sc.SetAudioReference(pl.LastPTSUs())
						}
					}(player)
				}
			}
		}
	}
}

func drainControl(ctx context.Context, tr negotiate.Transport) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-tr.Control():
			if !ok {
				return
			}
		}
	}
}

func runBitrateTicker(ctx context.Context, tr negotiate.Transport, controller *bitrate.Controller) {
	ticker := time.NewTicker(bitrate.DefaultTickEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := controller.Tick(tr.Stats()); err != nil {
				log.Printf("receiver: bitrate tick: %v", err)
			}
		}
	}
}
