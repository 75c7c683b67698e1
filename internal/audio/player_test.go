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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func f32PCM(samples ...float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

func TestToS16PassesThroughS16Frames(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	f := Frame{Format: FormatS16, PCM: pcm}
	assert.Equal(t, pcm, toS16(f))
}

func TestToS16ConvertsF32Frames(t *testing.T) {
	f := Frame{Format: FormatF32, PCM: f32PCM(0, 1, -1, 0.5)}
	out := toS16(f)
	assert.Len(t, out, 8)
	assert.EqualValues(t, 0, int16(binary.LittleEndian.Uint16(out[0:2])))
	assert.EqualValues(t, 32767, int16(binary.LittleEndian.Uint16(out[2:4])))
	assert.EqualValues(t, -32767, int16(binary.LittleEndian.Uint16(out[4:6])))
	assert.InDelta(t, 16383, int16(binary.LittleEndian.Uint16(out[6:8])), 1)
}

func TestToS16ClampsOutOfRangeFloats(t *testing.T) {
	f := Frame{Format: FormatF32, PCM: f32PCM(2.0, -2.0)}
	out := toS16(f)
	assert.EqualValues(t, 32767, int16(binary.LittleEndian.Uint16(out[0:2])))
	assert.EqualValues(t, -32768, int16(binary.LittleEndian.Uint16(out[2:4])))
}
