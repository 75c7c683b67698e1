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

package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e1z0/smirror/internal/video"
)

func TestPresentRejectsSecondConcurrentCall(t *testing.T) {
	r := NewStagingRenderer()
	require.NoError(t, r.Present(video.Frame{PTSUs: 1}))
	err := r.Present(video.Frame{PTSUs: 2})
	assert.ErrorIs(t, err, ErrBusy)
}

func TestPresentAllowedAfterDone(t *testing.T) {
	r := NewStagingRenderer()
	require.NoError(t, r.Present(video.Frame{PTSUs: 1}))
	r.Done()
	require.NoError(t, r.Present(video.Frame{PTSUs: 2}))

	f, ok := r.Latest()
	require.True(t, ok)
	assert.Equal(t, int64(2), f.PTSUs)
}

func TestLatestReportsEmptyBeforeAnyPresent(t *testing.T) {
	r := NewStagingRenderer()
	_, ok := r.Latest()
	assert.False(t, ok)
}
