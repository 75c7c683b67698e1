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

// Package bitrate implements the closed-loop AIMD bitrate controller: it
// reads transport loss/jitter statistics and writes control packets back
// through a send handle. It never reads from or references the transport
// directly, keeping the dependency graph acyclic.
package bitrate

import (
	"sync"
	"time"

	"github.com/e1z0/smirror/internal/stats"
	"github.com/e1z0/smirror/internal/wire"
)

const (
	DefaultMinKbps   = 1000
	DefaultMaxKbps   = 20000
	DefaultTickEvery = time.Second
	DefaultWindow    = 4 * time.Second

	lossDecreaseThreshold   = 0.02
	jitterDecreaseThreshold = 20 * time.Millisecond
	lossIncreaseThreshold   = 0.005
	jitterIncreaseThreshold = 5 * time.Millisecond

	decreaseFactor = 0.85
	increaseStepKb = 500

	keyframeRateLimit = time.Second
)

// Sender is the narrow interface the controller writes control packets
// through -- satisfied by both transport variants' Send method.
type Sender interface {
	Send(wire.Packet) error
}

// Controller is an AIMD bitrate controller. Call Tick once per control
// interval with the latest transport statistics; call RequestKeyframe
// when the video decoder reports a reset.
type Controller struct {
	mu sync.Mutex

	min, max int
	current  int

	ewmaJitter time.Duration

	sender Sender

	lastEmittedKbps  int
	haveEmitted      bool
	lastKeyframeEmit time.Time
}

// NewController constructs a Controller starting at the midpoint of
// [min, max] (0 selects the defaults).
func NewController(sender Sender, min, max int) *Controller {
	if min <= 0 {
		min = DefaultMinKbps
	}
	if max <= 0 {
		max = DefaultMaxKbps
	}
	return &Controller{
		sender:  sender,
		min:     min,
		max:     max,
		current: (min + max) / 2,
	}
}

// CurrentKbps returns the controller's present bitrate target.
func (c *Controller) CurrentKbps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// SetInitial overrides the starting bitrate (e.g. from a --bitrate flag)
// before the first Tick, clamped to [min, max]. Calling it after Tick has
// already emitted is legal but unusual; the next Tick still dedupes
// against whatever was last emitted.
func (c *Controller) SetInitial(kbps int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = maxInt(c.min, minInt(c.max, kbps))
}

// Tick applies one AIMD step from a transport statistics snapshot and
// emits a set_bitrate control packet if the target changed.
func (c *Controller) Tick(snap stats.Snapshot) error {
	c.mu.Lock()

	lossRatio := snap.LossRatio()
	jitterDelta := snap.Jitter - c.ewmaJitter
	c.ewmaJitter = snap.Jitter

	switch {
	case lossRatio > lossDecreaseThreshold || jitterDelta > jitterDecreaseThreshold:
		c.current = maxInt(c.min, int(float64(c.current)*decreaseFactor))
	case lossRatio < lossIncreaseThreshold && jitterDelta <= jitterIncreaseThreshold:
		c.current = minInt(c.max, c.current+increaseStepKb)
	}

	changed := !c.haveEmitted || c.current != c.lastEmittedKbps
	target := c.current
	if changed {
		c.lastEmittedKbps = c.current
		c.haveEmitted = true
	}
	c.mu.Unlock()

	if !changed {
		return nil
	}
	return c.sender.Send(wire.Packet{
		Kind:    wire.KindControl,
		Payload: wire.ControlPacket{Op: wire.OpSetBitrate, Value: uint32(target)}.Encode(),
	})
}

// RequestKeyframe emits a request_keyframe control packet, rate-limited to
// at most once per second.
func (c *Controller) RequestKeyframe(now time.Time) error {
	c.mu.Lock()
	if now.Sub(c.lastKeyframeEmit) < keyframeRateLimit {
		c.mu.Unlock()
		return nil
	}
	c.lastKeyframeEmit = now
	c.mu.Unlock()

	return c.sender.Send(wire.Packet{
		Kind:    wire.KindControl,
		Payload: wire.ControlPacket{Op: wire.OpRequestKeyframe, Value: 0}.Encode(),
	})
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
