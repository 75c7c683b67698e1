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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func frame(ptsUs int64, sampleRate, channels, samples int) Frame {
	return Frame{PTSUs: ptsUs, SampleRate: sampleRate, Channels: channels, PCM: make([]byte, samples*2*channels)}
}

func TestJitterBufferPopsInAscendingOrder(t *testing.T) {
	b := NewJitterBuffer(60)
	b.Push(frame(3000, 8000, 1, 80))
	b.Push(frame(1000, 8000, 1, 80))
	b.Push(frame(2000, 8000, 1, 80))

	var got []int64
	for i := 0; i < 3; i++ {
		f, ok := b.Pop()
		require.True(t, ok)
		got = append(got, f.PTSUs)
	}
	assert.Equal(t, []int64{1000, 2000, 3000}, got)
}

func TestJitterBufferAccountsF32FrameDuration(t *testing.T) {
	b := NewJitterBuffer(20) // 2x target = 40ms
	f32Frame := func(ptsUs int64, samples int) Frame {
		return Frame{PTSUs: ptsUs, SampleRate: 8000, Channels: 1, Format: FormatF32, PCM: make([]byte, samples*4)}
	}
	// Each frame is 30ms of 8kHz mono float32 audio; three frames overflow 40ms,
	// just as they would at half the byte width for S16 (TestJitterBufferOverflowDropsOldest).
	for i := int64(0); i < 3; i++ {
		b.Push(f32Frame(i*30000, 240))
	}
	assert.GreaterOrEqual(t, b.Snapshot().Overflows, int64(1))
}

func TestJitterBufferUnderrunOnEmpty(t *testing.T) {
	b := NewJitterBuffer(60)
	_, ok := b.Pop()
	assert.False(t, ok)
	assert.EqualValues(t, 1, b.Snapshot().Underruns)
}

func TestJitterBufferOverflowDropsOldest(t *testing.T) {
	b := NewJitterBuffer(20) // 2x target = 40ms
	// Each frame is 30ms of 8kHz mono audio; three frames overflow 40ms.
	for i := int64(0); i < 3; i++ {
		b.Push(frame(i*30000, 8000, 1, 240))
	}
	snap := b.Snapshot()
	assert.GreaterOrEqual(t, snap.Overflows, int64(1))
	// The newest frame must survive an overflow drop.
	var last Frame
	for {
		f, ok := b.Pop()
		if !ok {
			break
		}
		last = f
	}
	assert.Equal(t, int64(60000), last.PTSUs)
}

func TestJitterBufferOrderingProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := NewJitterBuffer(1000) // large target, no overflow pressure
		n := rapid.IntRange(1, 20).Draw(t, "n")
		ptsVals := make([]int64, n)
		for i := range ptsVals {
			ptsVals[i] = int64(rapid.IntRange(0, 1_000_000).Draw(t, "pts"))
		}
		for _, pts := range ptsVals {
			b.Push(frame(pts, 8000, 1, 10))
		}

		var prev int64 = -1
		count := 0
		for {
			f, ok := b.Pop()
			if !ok {
				break
			}
			assert.GreaterOrEqual(t, f.PTSUs, prev)
			prev = f.PTSUs
			count++
		}
		assert.Equal(t, n, count)
	})
}
