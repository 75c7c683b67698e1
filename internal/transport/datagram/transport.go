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
package datagram

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e1z0/smirror/internal/fec"
	"github.com/e1z0/smirror/internal/stats"
	"github.com/e1z0/smirror/internal/transport/errs"
	"github.com/e1z0/smirror/internal/wire"
)

// Config configures a Transport.
type Config struct {
	MTU    int
	Window int
}

// ReadTimeout bounds how long the receive loop waits for a datagram before
// classifying the silence as *errs.Timeout.
const ReadTimeout = 5 * time.Second

// Transport is the unreliable, FEC-coded datagram variant of the receiver
// transport. It owns a UDP socket, a Reassembler, and per-kind fan-out
// channels, mirroring the channel shape of transport/reliable so that
// internal/negotiate can treat both uniformly.
type Transport struct {
	cfg  Config
	conn *net.UDPConn

	re *Reassembler

	video   chan wire.Packet
	audio   chan wire.Packet
	control chan wire.Packet

	stats stats.Tracker

	nextBlockID uint32

	mu        sync.Mutex
	lastErr   error
	closeOnce sync.Once
	done      chan struct{}
}

// Dial opens a UDP socket to addr and starts the receive/reassembly loop.
// Unlike the reliable transport, there is no handshake: the first datagram
// establishes the reassembler's block cursor.
func Dial(ctx context.Context, addr string, cfg Config) (*Transport, error) {
	if cfg.MTU <= 0 {
		cfg.MTU = DefaultMTU
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}

	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, &errs.ConnectFailed{Reason: err.Error()}
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, &errs.ConnectFailed{Reason: err.Error()}
	}

	t := &Transport{
		cfg:     cfg,
		conn:    conn,
		re:      NewReassembler(cfg.Window),
		video:   make(chan wire.Packet, 64),
		audio:   make(chan wire.Packet, 64),
		control: make(chan wire.Packet, 16),
		done:    make(chan struct{}),
	}

	go t.receiveLoop(ctx)
	go t.drainLoop(ctx)
	go t.tickLoop(ctx)
	return t, nil
}

// Video, Audio, Control expose per-kind delivery channels, closed on
// disconnect or shutdown.
func (t *Transport) Video() <-chan wire.Packet   { return t.video }
func (t *Transport) Audio() <-chan wire.Packet   { return t.audio }
func (t *Transport) Control() <-chan wire.Packet { return t.control }

// Stats returns a snapshot of rolling transport statistics.
func (t *Transport) Stats() stats.Snapshot { return t.stats.Snapshot() }

// Err returns the error that caused the transport to close, if any, so a
// caller can distinguish a read timeout from a peer-initiated disconnect
// after the channels this transport exposes have closed.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Send fragments and FEC-encodes p into one outgoing block.
func (t *Transport) Send(p wire.Packet) error {
	frame, err := p.Emit(nil)
	if err != nil {
		return err
	}

	k := shardCount(len(frame), t.cfg.MTU)
	r := fec.RedundancyFor(k)
	shardLen := (len(frame) + k - 1) / k

	sources := make([][]byte, k)
	for i := 0; i < k; i++ {
		start := i * shardLen
		end := start + shardLen
		if start > len(frame) {
			start = len(frame)
		}
		if end > len(frame) {
			end = len(frame)
		}
		s := make([]byte, shardLen)
		copy(s, frame[start:end])
		sources[i] = s
	}

	shards, err := fec.Encode(sources, r)
	if err != nil {
		return err
	}

	blockID := atomic.AddUint32(&t.nextBlockID, 1) - 1
	for i, s := range shards {
		hdr := wire.FECHeader{BlockID: blockID, Index: uint8(i), K: uint8(k), R: uint8(r)}
		datagram := append(hdr.Encode(nil), s...)
		if _, err := t.conn.Write(datagram); err != nil {
			return fmt.Errorf("datagram: write: %w", err)
		}
	}
	return nil
}

// shardCount picks the smallest k in [MinK, MaxK] whose shard size covers
// frameLen without needing more than MaxK shards; large frames get
// maximally sized shards instead of exceeding MaxK.
func shardCount(frameLen, mtu int) int {
	k := (frameLen + mtu - 1) / mtu
	if k < fec.MinK {
		k = fec.MinK
	}
	if k > fec.MaxK {
		k = fec.MaxK
	}
	return k
}

func (t *Transport) receiveLoop(ctx context.Context) {
	buf := make([]byte, t.cfg.MTU+wire.FECHeaderSize+64)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}
		t.conn.SetReadDeadline(time.Now().Add(ReadTimeout))
		n, err := t.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				t.closeWithErr(&errs.Timeout{Reason: "no datagram within " + ReadTimeout.String()})
			} else {
				t.closeWithErr(&errs.Disconnected{Reason: err.Error()})
			}
			return
		}
		now := time.Now()
		t.stats.AddReceived(1, n, now)
		cp := append([]byte(nil), buf[:n]...)
		_ = t.re.Ingest(cp, now)
	}
}

func (t *Transport) drainLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case frame := <-t.re.Frames():
			p, _, err := wire.Parse(frame)
			if err != nil {
				continue
			}
			switch p.Kind {
			case wire.KindVideo:
				select {
				case t.video <- p:
				default:
				}
			case wire.KindAudio:
				select {
				case t.audio <- p:
				default:
				}
			case wire.KindControl:
				select {
				case t.control <- p:
				default:
				}
			}
		}
	}
}

func (t *Transport) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case now := <-ticker.C:
			snap := t.re.Snapshot()
			t.stats.SetRecoveredLost(snap.Recovered, snap.Lost, now)
			t.re.Tick(now, t.stats.Snapshot().Jitter)
		}
	}
}

// Close releases the UDP socket and stops all background goroutines.
func (t *Transport) Close() error { return t.closeWithErr(nil) }

// closeWithErr tears down the socket exactly once, recording cause (if any)
// as the reason later retrievable via Err. If cause is non-nil it takes
// priority over the underlying conn.Close() error as the return value,
// since it better explains why the transport went away.
func (t *Transport) closeWithErr(cause error) error {
	var closeErr error
	t.closeOnce.Do(func() {
		if cause != nil {
			t.mu.Lock()
			t.lastErr = cause
			t.mu.Unlock()
		}
		close(t.done)
		closeErr = t.conn.Close()
		close(t.video)
		close(t.audio)
		close(t.control)
	})
	if cause != nil {
		return cause
	}
	return closeErr
}
