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
package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEmitParseRoundTrip(t *testing.T) {
	p := Packet{Kind: KindVideo, PTS: 16666, Sequence: 42, Payload: []byte("hello")}
	buf, err := p.Emit(nil)
	require.NoError(t, err)

	got, n, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, p.Kind, got.Kind)
	assert.Equal(t, p.PTS, got.PTS)
	assert.Equal(t, p.Sequence, got.Sequence)
	assert.Equal(t, p.Payload, got.Payload)
}

func TestParseNeedMore(t *testing.T) {
	p := Packet{Kind: KindAudio, PTS: 1, Sequence: 1, Payload: []byte("abc")}
	buf, err := p.Emit(nil)
	require.NoError(t, err)

	for i := 0; i < len(buf); i++ {
		_, _, err := Parse(buf[:i])
		assert.ErrorIs(t, err, ErrNeedMore, "prefix of length %d should need more", i)
	}
}

func TestEmitUnknownKind(t *testing.T) {
	p := Packet{Kind: Kind(0x7f)}
	_, err := p.Emit(nil)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrUnknownKind, pe.Kind)
}

func TestEmitOversizeFrame(t *testing.T) {
	p := Packet{Kind: KindVideo, Payload: make([]byte, MaxPayload+1)}
	_, err := p.Emit(nil)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrOversizeFrame, pe.Kind)
}

func TestParseUnknownKindCloses(t *testing.T) {
	buf := []byte{0xee, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	_, _, err := Parse(buf)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrUnknownKind, pe.Kind)
}

func TestReaderStreamsMultiplePackets(t *testing.T) {
	var wireBuf bytes.Buffer
	w := NewWriter(&wireBuf)
	want := []Packet{
		{Kind: KindVideo, PTS: 0, Sequence: 0, Payload: []byte("a")},
		{Kind: KindAudio, PTS: 100, Sequence: 1, Payload: []byte("bb")},
		{Kind: KindControl, PTS: 200, Sequence: 2, Payload: []byte("ccc")},
	}
	for _, p := range want {
		require.NoError(t, w.WritePacket(p))
	}

	r := NewReader(&wireBuf)
	for _, want := range want {
		got, err := r.ReadPacket()
		require.NoError(t, err)
		assert.Equal(t, want.Kind, got.Kind)
		assert.Equal(t, want.PTS, got.PTS)
		assert.Equal(t, want.Sequence, got.Sequence)
		assert.Equal(t, want.Payload, got.Payload)
	}
	_, err := r.ReadPacket()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderSurfacesUnderlyingIOError(t *testing.T) {
	boom := &errReader{err: io.ErrUnexpectedEOF}
	r := NewReader(boom)
	_, err := r.ReadPacket()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

type errReader struct{ err error }

func (e *errReader) Read([]byte) (int, error) { return 0, e.err }

// Property: for every well-formed packet, parse(emit(p)) == p.
func TestRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		kind := Kind(rapid.SampledFrom([]uint8{uint8(KindVideo), uint8(KindAudio), uint8(KindControl)}).Draw(t, "kind"))
		pts := rapid.Int64().Draw(t, "pts")
		seq := rapid.Uint32().Draw(t, "seq")
		payload := rapid.SliceOfN(rapid.Byte(), 0, 4096).Draw(t, "payload")

		p := Packet{Kind: kind, PTS: pts, Sequence: seq, Payload: payload}
		buf, err := p.Emit(nil)
		require.NoError(t, err)

		got, n, err := Parse(buf)
		require.NoError(t, err)
		assert.Equal(t, len(buf), n)
		assert.Equal(t, p.Kind, got.Kind)
		assert.Equal(t, p.PTS, got.PTS)
		assert.Equal(t, p.Sequence, got.Sequence)
		assert.True(t, bytes.Equal(p.Payload, got.Payload))
	})
}

func TestControlPacketRoundTrip(t *testing.T) {
	c := ControlPacket{Op: OpSetBitrate, Value: 6800}
	got, err := DecodeControlPacket(c.Encode())
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestFECHeaderRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := FECHeader{
			BlockID: rapid.Uint32().Draw(t, "blockID"),
			Index:   uint8(rapid.IntRange(0, 255).Draw(t, "index")),
			K:       uint8(rapid.IntRange(1, 16).Draw(t, "k")),
			R:       uint8(rapid.IntRange(0, 15).Draw(t, "r")),
		}
		buf := h.Encode(nil)
		require.Len(t, buf, FECHeaderSize)

		got, rest, err := ParseFECHeader(append(buf, 1, 2, 3))
		require.NoError(t, err)
		assert.Equal(t, h, got)
		assert.Equal(t, []byte{1, 2, 3}, rest)
	})
}
