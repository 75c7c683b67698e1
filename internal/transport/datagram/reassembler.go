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
// Package datagram implements the unreliable, message-oriented transport
// variant: MTU fragmentation of outgoing frames, FEC-coded
// reassembly of incoming ones, a bounded reorder window, and strictly
// ascending delivery to the framing layer.
package datagram

import (
	"sync"
	"time"

	"github.com/e1z0/smirror/internal/fec"
	"github.com/e1z0/smirror/internal/wire"
)

// DefaultMTU is the default datagram payload size.
const DefaultMTU = 1200

// DefaultWindow is the default reorder window depth in blocks.
const DefaultWindow = 8

// MinBlockTimeout is the floor of the block finalization timeout.
const MinBlockTimeout = 20 * time.Millisecond

// BlockTimeout returns max(20ms, 2*jitter), the FEC block finalization
// rule: a block waits at least 20ms, or twice the observed jitter,
// whichever is larger, before being declared lost.
func BlockTimeout(jitter time.Duration) time.Duration {
	if d := 2 * jitter; d > MinBlockTimeout {
		return d
	}
	return MinBlockTimeout
}

// Stats is a snapshot of reassembly outcomes, consumed by internal/stats.
type Stats struct {
	Recovered int64 // datagrams reconstructed by FEC
	Lost      int64 // blocks declared unrecoverable
	Delivered int64 // frames delivered to the framing layer
}

type pendingBlock struct {
	k, r      uint8
	shards    map[int][]byte
	firstSeen time.Time
	done      bool
	lost      bool
	frame     []byte
	recovered int // source shards reconstructed rather than received
}

// tryDecode attempts to reconstruct the block's source shards once k of
// the k+r shards have arrived. It reports whether the block is now done.
func (b *pendingBlock) tryDecode() bool {
	if b.done || b.lost {
		return b.done
	}
	if len(b.shards) < int(b.k) {
		return false
	}
	missing := 0
	for i := 0; i < int(b.k); i++ {
		if _, ok := b.shards[i]; !ok {
			missing++
		}
	}

	sources, err := fec.Decode(b.shards, int(b.k), int(b.r))
	if err != nil {
		return false
	}
	buf := make([]byte, 0, len(sources)*len(sources[0]))
	for _, s := range sources {
		buf = append(buf, s...)
	}
	// The concatenated sources are exactly one framing-layer Packet,
	// zero-padded at the tail by Encode; wire.Parse's length field tells
	// us the true size so the padding is trimmed.
	if _, n, err := wire.Parse(buf); err == nil {
		buf = buf[:n]
	}
	b.frame = buf
	b.recovered = missing
	b.done = true
	return true
}

// Reassembler consumes raw FEC-coded datagrams and produces, in strict
// ascending block_id order, the framing-layer bytes of each recovered
// frame. It is safe for concurrent Ingest/Tick/Snapshot calls.
type Reassembler struct {
	mu          sync.Mutex
	window      uint32
	blocks      map[uint32]*pendingBlock
	nextBlockID uint32
	haveFirst   bool
	gapDeadline time.Time

	stats Stats

	out chan []byte
}

// NewReassembler constructs a Reassembler with the given reorder window
// depth (blocks); its output channel is buffered to twice that depth.
func NewReassembler(window int) *Reassembler {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Reassembler{
		window: uint32(window),
		blocks: make(map[uint32]*pendingBlock),
		out:    make(chan []byte, window*2),
	}
}

// Frames returns the channel of reassembled, ascending-order frame bytes.
func (r *Reassembler) Frames() <-chan []byte { return r.out }

// Ingest classifies one received datagram by its FEC header and deposits
// its shard into the owning block, decoding the block as soon as k shards
// have arrived.
func (r *Reassembler) Ingest(datagram []byte, now time.Time) error {
	hdr, payload, err := wire.ParseFECHeader(datagram)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.haveFirst {
		r.nextBlockID = hdr.BlockID
		r.haveFirst = true
	}

	// Outside the reorder window behind the cursor: too old, drop.
	if seqBefore(hdr.BlockID, r.nextBlockID) {
		return nil
	}
	// Too far ahead of the window: drop (counted as loss pressure upstream
	// via the eventual timeout of the blocks in between).
	if hdr.BlockID-r.nextBlockID >= r.window {
		return nil
	}

	b := r.blocks[hdr.BlockID]
	if b == nil {
		b = &pendingBlock{
			k:         hdr.K,
			r:         hdr.R,
			shards:    make(map[int][]byte),
			firstSeen: now,
		}
		r.blocks[hdr.BlockID] = b
	}
	if !b.done && !b.lost {
		if _, dup := b.shards[int(hdr.Index)]; !dup {
			cp := append([]byte(nil), payload...)
			b.shards[int(hdr.Index)] = cp
		}
		if b.tryDecode() {
			r.stats.Recovered += int64(b.recovered)
		}
	}

	r.drainLocked(now)
	return nil
}

// Tick re-evaluates block timeouts even in the absence of new datagrams,
// so a gap does not wait forever for traffic that will never arrive.
func (r *Reassembler) Tick(now time.Time, jitter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked(now, jitter)
	r.drainLocked(now)
}

func (r *Reassembler) expireLocked(now time.Time, jitter time.Duration) {
	if !r.haveFirst {
		return
	}
	b := r.blocks[r.nextBlockID]
	timeout := BlockTimeout(jitter)
	if b != nil && !b.done && !b.lost {
		if now.Sub(b.firstSeen) >= timeout {
			b.lost = true
			r.stats.Lost++
		}
		return
	}
	if b == nil {
		// No datagram for the cursor block has arrived yet. Only start
		// the gap clock once a later block shows one is actually missing.
		if !r.haveLaterBlock() {
			return
		}
		if r.gapDeadline.IsZero() {
			r.gapDeadline = now.Add(timeout)
			return
		}
		if now.After(r.gapDeadline) || now.Equal(r.gapDeadline) {
			r.blocks[r.nextBlockID] = &pendingBlock{lost: true}
			r.stats.Lost++
			r.gapDeadline = time.Time{}
		}
	}
}

func (r *Reassembler) haveLaterBlock() bool {
	for id := range r.blocks {
		if !seqBefore(id, r.nextBlockID) && id != r.nextBlockID {
			return true
		}
	}
	return false
}

// drainLocked flushes completed or declared-lost blocks starting at
// nextBlockID, in strictly ascending order, stopping at the first block
// that is neither.
func (r *Reassembler) drainLocked(now time.Time) {
	for {
		b, ok := r.blocks[r.nextBlockID]
		if !ok || (!b.done && !b.lost) {
			return
		}
		if b.done {
			select {
			case r.out <- b.frame:
				r.stats.Delivered++
			default:
				// Consumer backlogged; drop rather than block the FEC
				// worker indefinitely while a lock is held.
			}
		}
		delete(r.blocks, r.nextBlockID)
		r.nextBlockID++
		r.gapDeadline = time.Time{}
	}
}

// Snapshot returns a copy of the current statistics.
func (r *Reassembler) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// seqBefore reports whether a precedes b under uint32 wraparound.
func seqBefore(a, b uint32) bool {
	return int32(a-b) < 0
}
