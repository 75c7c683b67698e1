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
// Package wire implements the fixed-size packet framing described by the
// mirroring protocol: a 17-byte header followed by a payload.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Kind classifies a Packet's payload.
type Kind uint8

const (
	KindVideo   Kind = 0x01
	KindAudio   Kind = 0x02
	KindControl Kind = 0x03
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindControl:
		return "control"
	default:
		return fmt.Sprintf("kind(0x%02x)", uint8(k))
	}
}

func (k Kind) valid() bool {
	switch k {
	case KindVideo, KindAudio, KindControl:
		return true
	default:
		return false
	}
}

// HeaderSize is the fixed length of a Packet header on the wire.
const HeaderSize = 1 + 8 + 4 + 4

// MaxPayload is the largest payload this protocol accepts; larger frames
// MUST be rejected (spec: length <= 16 MiB).
const MaxPayload = 16 << 20

// Packet is the atomic unit on the wire.
type Packet struct {
	Kind     Kind
	PTS      int64 // microseconds, sender clock
	Sequence uint32
	Payload  []byte
}

// Emit appends the wire encoding of p to dst and returns the result.
func (p Packet) Emit(dst []byte) ([]byte, error) {
	if !p.Kind.valid() {
		return nil, &ProtocolError{Kind: ErrUnknownKind, Detail: p.Kind.String()}
	}
	if len(p.Payload) > MaxPayload {
		return nil, &ProtocolError{Kind: ErrOversizeFrame, Detail: fmt.Sprintf("%d bytes", len(p.Payload))}
	}
	var hdr [HeaderSize]byte
	hdr[0] = byte(p.Kind)
	binary.LittleEndian.PutUint64(hdr[1:9], uint64(p.PTS))
	binary.LittleEndian.PutUint32(hdr[9:13], p.Sequence)
	binary.LittleEndian.PutUint32(hdr[13:17], uint32(len(p.Payload)))
	dst = append(dst, hdr[:]...)
	dst = append(dst, p.Payload...)
	return dst, nil
}

// Parse reads one Packet from the front of buf. It returns the packet,
// the number of bytes consumed, and ErrNeedMore if buf does not yet
// contain a complete frame. The returned Packet's Payload aliases buf and
// must be copied before buf is reused.
func Parse(buf []byte) (Packet, int, error) {
	if len(buf) < HeaderSize {
		return Packet{}, 0, ErrNeedMore
	}
	kind := Kind(buf[0])
	if !kind.valid() {
		return Packet{}, 0, &ProtocolError{Kind: ErrUnknownKind, Detail: kind.String()}
	}
	pts := int64(binary.LittleEndian.Uint64(buf[1:9]))
	seq := binary.LittleEndian.Uint32(buf[9:13])
	length := binary.LittleEndian.Uint32(buf[13:17])
	if length > MaxPayload {
		return Packet{}, 0, &ProtocolError{Kind: ErrOversizeFrame, Detail: fmt.Sprintf("%d bytes", length)}
	}
	total := HeaderSize + int(length)
	if len(buf) < total {
		return Packet{}, 0, ErrNeedMore
	}
	p := Packet{
		Kind:     kind,
		PTS:      pts,
		Sequence: seq,
		Payload:  buf[HeaderSize:total],
	}
	return p, total, nil
}
