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

package negotiate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e1z0/smirror/internal/stats"
	"github.com/e1z0/smirror/internal/transport/errs"
	"github.com/e1z0/smirror/internal/wire"
)

type stubTransport struct {
	video, audio, control chan wire.Packet
	closed                bool
}

func newStub() *stubTransport {
	return &stubTransport{
		video:   make(chan wire.Packet, 1),
		audio:   make(chan wire.Packet, 1),
		control: make(chan wire.Packet, 1),
	}
}

func (s *stubTransport) Video() <-chan wire.Packet   { return s.video }
func (s *stubTransport) Audio() <-chan wire.Packet   { return s.audio }
func (s *stubTransport) Control() <-chan wire.Packet { return s.control }
func (s *stubTransport) Send(wire.Packet) error      { return nil }
func (s *stubTransport) Stats() stats.Snapshot       { return stats.Snapshot{} }
func (s *stubTransport) Err() error                  { return nil }
func (s *stubTransport) Close() error                { s.closed = true; return nil }

func TestNegotiatePicksPreferredWhenLive(t *testing.T) {
	live := newStub()
	live.video <- wire.Packet{Kind: wire.KindVideo}

	cfg := Config{
		Preferred:    Reliable,
		DialReliable: func(ctx context.Context) (Transport, error) { return live, nil },
		DialDatagram: func(ctx context.Context) (Transport, error) { t.Fatal("fallback should not be tried"); return nil, nil },
		ProbeWindow:  50 * time.Millisecond,
	}
	res, err := Negotiate(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, Reliable, res.Kind)
}

func TestNegotiateFallsBackOnConnectFailure(t *testing.T) {
	live := newStub()
	live.audio <- wire.Packet{Kind: wire.KindAudio}

	cfg := Config{
		Preferred:    Reliable,
		DialReliable: func(ctx context.Context) (Transport, error) { return nil, &errs.ConnectFailed{Reason: "refused"} },
		DialDatagram: func(ctx context.Context) (Transport, error) { return live, nil },
		ProbeWindow:  50 * time.Millisecond,
	}
	res, err := Negotiate(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, Datagram, res.Kind)
}

func TestNegotiateFallsBackOnSilence(t *testing.T) {
	silent := newStub()
	live := newStub()
	live.control <- wire.Packet{Kind: wire.KindControl}

	cfg := Config{
		Preferred:    Reliable,
		DialReliable: func(ctx context.Context) (Transport, error) { return silent, nil },
		DialDatagram: func(ctx context.Context) (Transport, error) { return live, nil },
		ProbeWindow:  30 * time.Millisecond,
	}
	res, err := Negotiate(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, Datagram, res.Kind)
	assert.True(t, silent.closed)
}

func TestNegotiateReportsBothFailed(t *testing.T) {
	cfg := Config{
		Preferred:    Reliable,
		DialReliable: func(ctx context.Context) (Transport, error) { return nil, &errs.ConnectFailed{Reason: "a"} },
		DialDatagram: func(ctx context.Context) (Transport, error) { return nil, &errs.ConnectFailed{Reason: "b"} },
		ProbeWindow:  10 * time.Millisecond,
	}
	_, err := Negotiate(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBothFailed)
}
