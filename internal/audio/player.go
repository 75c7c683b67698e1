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

package audio

import (
	"encoding/binary"
	"io"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hajimehoshi/oto/v2"
)

// feedInterval is how often the feeder goroutine pulls from the jitter
// buffer. Smaller than one output callback's worth of audio at any
// supported sample rate, so underrun silence never visibly stalls.
const feedInterval = 10 * time.Millisecond

// globalContext is the process-wide Oto context; oto only allows one.
var (
	globalMu      sync.Mutex
	globalContext *oto.Context
	globalRate    int
	globalCh      int
)

// globalAudioContext lazily creates (or reuses) the process Oto context.
func globalAudioContext(sampleRate, channels int) (*oto.Context, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalContext != nil {
		if globalRate != sampleRate || globalCh != channels {
			log.Printf("audio: reusing existing oto context %d Hz/%d ch (requested %d/%d)",
				globalRate, globalCh, sampleRate, channels)
		}
		return globalContext, nil
	}

	ctx, ready, err := oto.NewContext(sampleRate, channels, oto.FormatSignedInt16LE)
	if err != nil {
		return nil, err
	}
	go func() { <-ready }()

	globalContext = ctx
	globalRate, globalCh = sampleRate, channels
	return ctx, nil
}

// Player owns the sound-card output stream for one session: it pulls
// decoded frames from a JitterBuffer on a steady clock and writes PCM (or
// silence on underrun) to the oto.Player's pipe. The output callback
// itself never touches the decoder.
type Player struct {
	buf    *JitterBuffer
	pw     *io.PipeWriter
	player oto.Player

	silenceFrame []byte
	lastPTSUs    int64

	stop chan struct{}
	done chan struct{}
}

// LastPTSUs returns the pts_us of the most recently consumed frame, the
// reference clock the synchronizer tracks while audio is enabled.
func (p *Player) LastPTSUs() int64 { return atomic.LoadInt64(&p.lastPTSUs) }

// NewPlayer starts a feeder goroutine writing buf's frames to a fresh
// oto.Player at sampleRate/channels.
func NewPlayer(buf *JitterBuffer, sampleRate, channels int) (*Player, error) {
	ctx, err := globalAudioContext(sampleRate, channels)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	op := ctx.NewPlayer(pr)
	op.Play()

	bytesPerFeed := int(float64(sampleRate) * feedInterval.Seconds()) * 2 * channels
	p := &Player{
		buf:          buf,
		pw:           pw,
		player:       op,
		silenceFrame: make([]byte, bytesPerFeed),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	go p.feedLoop()
	return p, nil
}

func (p *Player) feedLoop() {
	defer close(p.done)
	ticker := time.NewTicker(feedInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			f, ok := p.buf.Pop()
			if !ok {
				// Underrun: keep the output stream fed with silence
				// rather than let the callback starve.
				if _, err := p.pw.Write(p.silenceFrame); err != nil {
					return
				}
				continue
			}
			if _, err := p.pw.Write(toS16(f)); err != nil {
				return
			}
			atomic.StoreInt64(&p.lastPTSUs, f.PTSUs)
		}
	}
}

// toS16 converts f's PCM to packed signed 16-bit little-endian, the only
// format oto.Context plays: FormatS16 frames pass through unchanged,
// FormatF32 frames are scaled and clamped to the int16 range.
func toS16(f Frame) []byte {
	if f.Format != FormatF32 {
		return f.PCM
	}
	n := len(f.PCM) / 4
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := math.Float32frombits(binary.LittleEndian.Uint32(f.PCM[i*4:]))
		s := int32(v * 32767)
		switch {
		case s > 32767:
			s = 32767
		case s < -32768:
			s = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
	}
	return out
}

// Close stops the feeder and releases the output stream.
func (p *Player) Close() error {
	close(p.stop)
	<-p.done
	err := p.pw.Close()
	_ = p.player.Close()
	return err
}
