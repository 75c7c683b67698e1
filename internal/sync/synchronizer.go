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

package sync

import (
	"sync/atomic"
	"time"
)

// DefaultDropThreshold and DefaultWaitThreshold are the decision table's
// default thresholds.
const (
	DefaultDropThreshold = 50 * time.Millisecond
	DefaultWaitThreshold = 40 * time.Millisecond
)

// Action is the synchronizer's decision for one video frame.
type Action int

const (
	Drop Action = iota
	Present
	Wait
	Hold
)

func (a Action) String() string {
	switch a {
	case Drop:
		return "drop"
	case Present:
		return "present"
	case Wait:
		return "wait"
	case Hold:
		return "hold"
	default:
		return "unknown"
	}
}

// Stats accumulates per-interval synchronizer counters. The bitrate
// controller does not read them: its Tick takes transport statistics only.
type Stats struct {
	Dropped int64 // dropped-late frames
	Held    int64 // jitter-induced holds
	Drift   int64 // last observed skew, microseconds
}

// Synchronizer decides present/drop/hold for decoded video frames against
// a reference clock: the audio player's last consumed pts_us when audio is
// enabled, otherwise the local Clock.
type Synchronizer struct {
	dropThreshold time.Duration
	waitThreshold time.Duration

	dropped, held int64
	lastDriftUs   int64

	audioEnabled bool
	audioRefUs   int64
	localClock   *Clock
}

// NewSynchronizer constructs a Synchronizer. If audioEnabled is true, the
// reference PTS must be kept current via SetAudioReference; otherwise
// localClock.Now() is used directly.
func NewSynchronizer(audioEnabled bool, localClock *Clock) *Synchronizer {
	return &Synchronizer{
		dropThreshold: DefaultDropThreshold,
		waitThreshold: DefaultWaitThreshold,
		audioEnabled:  audioEnabled,
		localClock:    localClock,
	}
}

// SetAudioReference records the audio player's most recently consumed
// pts_us, used as the reference clock while audio is enabled.
func (s *Synchronizer) SetAudioReference(ptsUs int64) {
	atomic.StoreInt64(&s.audioRefUs, ptsUs)
}

// referenceUs returns the current reference pts_us.
func (s *Synchronizer) referenceUs(now time.Time) int64 {
	if s.audioEnabled {
		return atomic.LoadInt64(&s.audioRefUs)
	}
	return s.localClock.Now(now)
}

// Decide applies the decision table to one video frame's pts_us and
// returns the action plus, for Wait/Hold, how long the caller should sleep
// before presenting.
func (s *Synchronizer) Decide(frameUs int64, now time.Time) (Action, time.Duration) {
	ref := s.referenceUs(now)
	skewUs := frameUs - ref
	atomic.StoreInt64(&s.lastDriftUs, skewUs)

	skew := time.Duration(skewUs) * time.Microsecond

	switch {
	case skew < -s.dropThreshold:
		atomic.AddInt64(&s.dropped, 1)
		return Drop, 0
	case skew < 0:
		return Present, 0
	case skew <= s.waitThreshold:
		return Wait, skew
	default:
		atomic.AddInt64(&s.held, 1)
		return Hold, s.waitThreshold
	}
}

// Snapshot returns a copy of the current counters and resets the
// per-interval ones (Dropped, Held), so a caller polling once per second
// gets per-second counts.
func (s *Synchronizer) Snapshot() Stats {
	return Stats{
		Dropped: atomic.SwapInt64(&s.dropped, 0),
		Held:    atomic.SwapInt64(&s.held, 0),
		Drift:   atomic.LoadInt64(&s.lastDriftUs),
	}
}
