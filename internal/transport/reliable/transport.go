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
// Package reliable implements the ordered, in-order byte-stream transport
// variant: a single TCP connection carrying a length-framed
// packet stream (internal/wire), guarded by a fixed handshake magic, with
// per-kind channel fan-out for the framing layer above it.
package reliable

import (
	"bytes"
	"context"
	"net"
	"sync"
	"time"

	"github.com/e1z0/smirror/internal/stats"
	"github.com/e1z0/smirror/internal/transport/errs"
	"github.com/e1z0/smirror/internal/wire"
)

// HandshakeTimeout bounds how long Dial waits for the peer's handshake
// magic before giving up.
const HandshakeTimeout = 3 * time.Second

// ReadTimeout bounds how long the receive loop waits for a packet before
// classifying the silence as *errs.Timeout.
const ReadTimeout = 5 * time.Second

// Transport is a single TCP connection framed with internal/wire, exposing
// per-kind delivery channels and a serialized send path.
type Transport struct {
	conn net.Conn
	wr   *wire.Writer
	rd   *wire.Reader
	sendMu sync.Mutex

	video   chan wire.Packet
	audio   chan wire.Packet
	control chan wire.Packet

	stats stats.Tracker

	mu        sync.Mutex
	lastErr   error
	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to addr and reads the handshake packet before starting the
// receive loop: the very first framed packet on the connection must be a
// control packet whose payload is the literal ASCII bytes "SMIR". A failed
// dial or an unreadable handshake is reported as *errs.ConnectFailed; a
// handshake that reads but whose magic doesn't match is a framing-level
// *wire.ProtocolError{Kind: wire.ErrHandshakeMismatch}. Failures after the
// handshake are *errs.Disconnected or *errs.Timeout.
func Dial(ctx context.Context, addr string) (*Transport, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &errs.ConnectFailed{Reason: err.Error()}
	}

	conn.SetDeadline(time.Now().Add(HandshakeTimeout))
	rd := wire.NewReader(conn)
	hs, err := rd.ReadPacket()
	if err != nil {
		conn.Close()
		return nil, &errs.ConnectFailed{Reason: "read handshake: " + err.Error()}
	}
	if hs.Kind != wire.KindControl || !bytes.Equal(hs.Payload, []byte(wire.HandshakeMagic)) {
		conn.Close()
		return nil, &wire.ProtocolError{Kind: wire.ErrHandshakeMismatch, Detail: "unexpected handshake payload"}
	}
	conn.SetDeadline(time.Time{})

	t := &Transport{
		conn:    conn,
		wr:      wire.NewWriter(conn),
		rd:      rd,
		video:   make(chan wire.Packet, 64),
		audio:   make(chan wire.Packet, 64),
		control: make(chan wire.Packet, 16),
		done:    make(chan struct{}),
	}
	go t.receiveLoop()
	return t, nil
}

// Video, Audio, Control expose per-kind delivery channels. They are closed
// when the connection ends.
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

// Send writes one packet to the stream. Concurrent callers are serialized;
// internal/bitrate and the application packet producers may call Send from
// different goroutines safely.
func (t *Transport) Send(p wire.Packet) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if err := t.wr.WritePacket(p); err != nil {
		return &errs.Disconnected{Reason: err.Error()}
	}
	return nil
}

func (t *Transport) receiveLoop() {
	defer t.Close()
	for {
		t.conn.SetReadDeadline(time.Now().Add(ReadTimeout))
		p, err := t.rd.ReadPacket()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				t.closeWithErr(&errs.Timeout{Reason: "no packet within " + ReadTimeout.String()})
			} else {
				t.closeWithErr(&errs.Disconnected{Reason: err.Error()})
			}
			return
		}
		t.stats.AddReceived(1, wire.HeaderSize+len(p.Payload), time.Now())
		// The Reader reuses its arena on the next ReadPacket, but a queued
		// packet outlives that call, so it gets its own copy of the payload.
		p.Payload = append([]byte(nil), p.Payload...)
		switch p.Kind {
		case wire.KindVideo:
			select {
			case t.video <- p:
			case <-t.done:
				return
			}
		case wire.KindAudio:
			select {
			case t.audio <- p:
			case <-t.done:
				return
			}
		case wire.KindControl:
			select {
			case t.control <- p:
			case <-t.done:
				return
			}
		}
	}
}

// Close tears down the connection and stops the receive loop. Safe to call
// more than once.
func (t *Transport) Close() error { return t.closeWithErr(nil) }

// closeWithErr tears down the connection exactly once, recording cause (if
// any) as the reason later retrievable via Err. If cause is non-nil it
// takes priority over the underlying conn.Close() error as the return
// value, since it better explains why the transport went away.
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
