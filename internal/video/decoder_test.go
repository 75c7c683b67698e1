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

package video

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLooksLikeKeyframeDetectsIDR(t *testing.T) {
	// start code + NAL header with type 5 (IDR slice)
	au := []byte{0x00, 0x00, 0x01, 0x65, 0xAA, 0xBB}
	assert.True(t, looksLikeKeyframe(au))
}

func TestLooksLikeKeyframeDetectsSPS(t *testing.T) {
	au := []byte{0x00, 0x00, 0x01, 0x67, 0x42, 0x00}
	assert.True(t, looksLikeKeyframe(au))
}

func TestLooksLikeKeyframeRejectsNonIDRSlice(t *testing.T) {
	// NAL type 1: non-IDR slice
	au := []byte{0x00, 0x00, 0x01, 0x41, 0x9A}
	assert.False(t, looksLikeKeyframe(au))
}

func TestLooksLikeKeyframeHandlesShortInput(t *testing.T) {
	assert.False(t, looksLikeKeyframe(nil))
	assert.False(t, looksLikeKeyframe([]byte{0, 0, 1}))
}

func TestFatalErrorMessage(t *testing.T) {
	err := &Fatal{Reason: "no backend worked"}
	assert.Contains(t, err.Error(), "no backend worked")
}
