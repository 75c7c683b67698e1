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

// Package render defines the contract between the synchronizer and the
// presentation surface. The surface/shader itself is an external
// collaborator; this package only enforces the one-in-flight-frame rule
// and provides a reference implementation that stages the latest frame
// for a caller-driven paint.
package render

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/e1z0/smirror/internal/video"
)

// ErrBusy is returned by Present when a previous frame's submission has
// not yet been acknowledged via Done.
var ErrBusy = errors.New("render: frame already in flight")

// Renderer accepts decoded video frames from the synchronizer. Present
// must return as soon as the frame's submission is queued, not after the
// GPU completes; exactly one frame may be in flight at a time.
type Renderer interface {
	Present(f video.Frame) error
}

// StagingRenderer is a reference Renderer: it holds the latest presented
// frame for a caller-driven paint loop (the GPU/window-toolkit side,
// outside this module's scope) to pick up and acknowledge with Done.
type StagingRenderer struct {
	mu      sync.Mutex
	staged  video.Frame
	haveOne bool

	inFlight int32
}

// NewStagingRenderer constructs an empty StagingRenderer.
func NewStagingRenderer() *StagingRenderer { return &StagingRenderer{} }

// Present stages f for the paint loop. It returns ErrBusy if the
// previously staged frame has not yet been acknowledged with Done.
func (r *StagingRenderer) Present(f video.Frame) error {
	if !atomic.CompareAndSwapInt32(&r.inFlight, 0, 1) {
		return ErrBusy
	}
	r.mu.Lock()
	r.staged = f
	r.haveOne = true
	r.mu.Unlock()
	return nil
}

// Latest returns the most recently staged frame and whether one exists,
// without acknowledging it -- a paint loop may re-read the same frame
// across repaints before calling Done.
func (r *StagingRenderer) Latest() (video.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.staged, r.haveOne
}

// Done acknowledges the in-flight frame's GPU submission has completed,
// permitting the next Present call.
func (r *StagingRenderer) Done() {
	atomic.StoreInt32(&r.inFlight, 0)
}
