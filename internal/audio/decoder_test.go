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

	astiav "github.com/asticode/go-astiav"
	"github.com/stretchr/testify/assert"
)

func TestIsFloatSampleFormatDetectsFloatFamily(t *testing.T) {
	assert.True(t, isFloatSampleFormat(astiav.SampleFormatFlt))
	assert.True(t, isFloatSampleFormat(astiav.SampleFormatFltp))
	assert.True(t, isFloatSampleFormat(astiav.SampleFormatDbl))
	assert.True(t, isFloatSampleFormat(astiav.SampleFormatDblp))
}

func TestIsFloatSampleFormatRejectsIntFamily(t *testing.T) {
	assert.False(t, isFloatSampleFormat(astiav.SampleFormatS16))
	assert.False(t, isFloatSampleFormat(astiav.SampleFormatS16p))
	assert.False(t, isFloatSampleFormat(astiav.SampleFormatS32))
}

func TestBytesPerSample(t *testing.T) {
	assert.Equal(t, 2, BytesPerSample(FormatS16))
	assert.Equal(t, 4, BytesPerSample(FormatF32))
	assert.Equal(t, 2, BytesPerSample(""))
}

func TestFatalErrorMessageMentionsReason(t *testing.T) {
	err := &Fatal{Reason: "no decoder registered"}
	assert.Contains(t, err.Error(), "no decoder registered")
}
