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
	"encoding/binary"
	"fmt"
)

// ControlOp enumerates the control-packet operations.
type ControlOp uint8

const (
	OpSetBitrate      ControlOp = 1
	OpRequestKeyframe ControlOp = 2
	OpSetMaxSize      ControlOp = 3
)

// ControlPacket is the tagged record carried in a Packet{Kind: KindControl}
// payload: 1 byte op, 4 bytes little-endian value (zero and present even
// when unused, for forward compatibility).
type ControlPacket struct {
	Op    ControlOp
	Value uint32
}

// Encode returns the 5-byte wire payload for c.
func (c ControlPacket) Encode() []byte {
	buf := make([]byte, 5)
	buf[0] = byte(c.Op)
	binary.LittleEndian.PutUint32(buf[1:], c.Value)
	return buf
}

// DecodeControlPacket parses a control payload produced by Encode.
func DecodeControlPacket(payload []byte) (ControlPacket, error) {
	if len(payload) < 5 {
		return ControlPacket{}, fmt.Errorf("wire: control payload too short: %d bytes", len(payload))
	}
	return ControlPacket{
		Op:    ControlOp(payload[0]),
		Value: binary.LittleEndian.Uint32(payload[1:5]),
	}, nil
}

// HandshakeMagic is the 4-byte ASCII token the reliable transport's first
// control packet payload must carry.
const HandshakeMagic = "SMIR"
