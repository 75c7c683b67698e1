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

// Package negotiate picks between the reliable and datagram transports on
// startup: try the preferred one, and on hard failure or silence within the
// probe window fall back to the alternate. Once a transport has delivered
// a frame, the choice is fixed for the rest of the session -- this package
// never switches back.
package negotiate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/e1z0/smirror/internal/stats"
	"github.com/e1z0/smirror/internal/transport/errs"
	"github.com/e1z0/smirror/internal/wire"
)

// DefaultProbeWindow is how long a freshly connected transport is given to
// deliver at least one frame before it is considered a silent failure.
const DefaultProbeWindow = 2 * time.Second

// Kind identifies which transport variant was selected.
type Kind int

const (
	Reliable Kind = iota
	Datagram
)

func (k Kind) String() string {
	if k == Datagram {
		return "datagram"
	}
	return "reliable"
}

// Transport is the shape both transport/reliable.Transport and
// transport/datagram.Transport satisfy.
type Transport interface {
	Video() <-chan wire.Packet
	Audio() <-chan wire.Packet
	Control() <-chan wire.Packet
	Send(wire.Packet) error
	Stats() stats.Snapshot
	Err() error
	Close() error
}

// Dialer opens one transport variant. Both transport packages' Dial
// functions satisfy this signature once their config is closed over.
type Dialer func(ctx context.Context) (Transport, error)

// Config names the preferred and fallback dialers and the probe window.
type Config struct {
	Preferred    Kind
	DialReliable Dialer
	DialDatagram Dialer
	ProbeWindow  time.Duration
}

// Result is the outcome of a successful negotiation.
type Result struct {
	Kind      Kind
	Transport Transport
}

// ErrBothFailed is returned when neither transport could be established.
var ErrBothFailed = errors.New("negotiate: preferred and fallback transports both failed")

// Negotiate tries the preferred transport, then the alternate, applying the
// probe-window silence rule to each in turn. It returns as soon as one
// transport has delivered a packet on any channel.
func Negotiate(ctx context.Context, cfg Config) (*Result, error) {
	window := cfg.ProbeWindow
	if window <= 0 {
		window = DefaultProbeWindow
	}

	order := []struct {
		kind   Kind
		dialer Dialer
	}{
		{cfg.Preferred, dialerFor(cfg, cfg.Preferred)},
		{other(cfg.Preferred), dialerFor(cfg, other(cfg.Preferred))},
	}

	var lastErr error
	for _, candidate := range order {
		if candidate.dialer == nil {
			continue
		}
		tr, err := tryOne(ctx, candidate.dialer, window)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", candidate.kind, err)
			continue
		}
		return &Result{Kind: candidate.kind, Transport: tr}, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrBothFailed, lastErr)
	}
	return nil, ErrBothFailed
}

func dialerFor(cfg Config, k Kind) Dialer {
	if k == Datagram {
		return cfg.DialDatagram
	}
	return cfg.DialReliable
}

func other(k Kind) Kind {
	if k == Datagram {
		return Reliable
	}
	return Datagram
}

// tryOne dials one transport and waits up to window for the first frame on
// any channel. A connect/handshake failure returns immediately; silence
// past the window closes the transport and reports failure so the caller
// can fall back.
func tryOne(ctx context.Context, dial Dialer, window time.Duration) (Transport, error) {
	dialCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	tr, err := dial(dialCtx)
	if err != nil {
		var cf *errs.ConnectFailed
		if errors.As(err, &cf) {
			return nil, err
		}
		return nil, err
	}

	probeCtx, cancel2 := context.WithTimeout(ctx, window)
	defer cancel2()

	// The probe consumes whichever packet proves liveness; for a real-time
	// stream losing one startup frame is immaterial, and the decoders
	// already discard everything up to the next keyframe on cold start.
	select {
	case _, ok := <-tr.Video():
		if !ok {
			tr.Close()
			return nil, fmt.Errorf("video channel closed during probe")
		}
	case _, ok := <-tr.Audio():
		if !ok {
			tr.Close()
			return nil, fmt.Errorf("audio channel closed during probe")
		}
	case _, ok := <-tr.Control():
		if !ok {
			tr.Close()
			return nil, fmt.Errorf("control channel closed during probe")
		}
	case <-probeCtx.Done():
		tr.Close()
		return nil, fmt.Errorf("no frames within probe window")
	}
	return tr, nil
}
