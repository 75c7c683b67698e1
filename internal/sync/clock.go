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

// Package sync maintains the receiver's estimate of the sender's clock and
// decides, per video frame, whether to present, drop, or hold.
package sync

import (
	"sync"
	"time"
)

// DriftThreshold is how far the predicted sender clock must diverge from
// an observation before the offset is corrected at all.
const DriftThreshold = 15 * time.Millisecond

// MaxSlewPerObservation bounds how much one Observe call may move the
// offset, so corrections are slewed in rather than stepped.
const MaxSlewPerObservation = 2 * time.Millisecond

// Clock tracks a monotone local time source paired with an offset to the
// sender's clock. The offset is seeded from the first observation and
// corrected gradually afterward.
type Clock struct {
	mu sync.Mutex

	haveFirst  bool
	baseLocal  time.Time
	baseSender int64 // sender pts_us at baseLocal

	driftUs int64 // accumulated slewed correction, added to the linear prediction
}

// NewClock constructs an unseeded Clock; the first Observe call anchors it.
func NewClock() *Clock { return &Clock{} }

// Observe reports that senderPtsUs was sent at local time now. The first
// call anchors the clock; subsequent calls slew the drift correction
// toward eliminating the observed error, bounded by MaxSlewPerObservation.
func (c *Clock) Observe(senderPtsUs int64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.haveFirst {
		c.baseLocal = now
		c.baseSender = senderPtsUs
		c.haveFirst = true
		return
	}

	predicted := c.predictLocked(now)
	errUs := senderPtsUs - predicted
	if errUs > int64(DriftThreshold/time.Microsecond) || errUs < -int64(DriftThreshold/time.Microsecond) {
		maxStep := int64(MaxSlewPerObservation / time.Microsecond)
		switch {
		case errUs > maxStep:
			errUs = maxStep
		case errUs < -maxStep:
			errUs = -maxStep
		}
		c.driftUs += errUs
	}
}

func (c *Clock) predictLocked(now time.Time) int64 {
	if !c.haveFirst {
		return 0
	}
	elapsed := now.Sub(c.baseLocal).Microseconds()
	return c.baseSender + elapsed + c.driftUs
}

// Now returns the clock's current estimate of the sender's pts_us at local
// time now.
func (c *Clock) Now(now time.Time) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.predictLocked(now)
}

// Seeded reports whether the clock has anchored to a first observation.
func (c *Clock) Seeded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.haveFirst
}
