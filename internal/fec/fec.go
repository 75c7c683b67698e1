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
// Package fec implements the systematic Reed-Solomon erasure coding used
// by the datagram transport's FEC blocks. This
// is a stateless, pure-function module: no state is shared between
// blocks, and the API is index-based rather than stream-based.
package fec

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// MinK and MaxK bound the source-shard count of a block.
const (
	MinK = 4
	MaxK = 64
)

// RedundancyFor returns the default redundancy count r = ceil(0.1*k) for a
// block of k source shards.
func RedundancyFor(k int) int {
	return (k + 9) / 10
}

// Encode takes k ordered source shards (all the same length; short ones
// are zero-padded to the longest) and returns the k source shards
// unmodified followed by r parity shards -- systematic coding, so any k of
// the k+r outputs suffice to reconstruct the sources.
func Encode(sources [][]byte, r int) ([][]byte, error) {
	k := len(sources)
	if k < 1 {
		return nil, fmt.Errorf("fec: need at least one source shard")
	}
	if r < 0 {
		return nil, fmt.Errorf("fec: negative redundancy %d", r)
	}

	shardLen := 0
	for _, s := range sources {
		if len(s) > shardLen {
			shardLen = len(s)
		}
	}

	enc, err := reedsolomon.New(k, r)
	if err != nil {
		return nil, fmt.Errorf("fec: new encoder(k=%d,r=%d): %w", k, r, err)
	}

	shards := make([][]byte, k+r)
	for i, s := range sources {
		padded := make([]byte, shardLen)
		copy(padded, s)
		shards[i] = padded
	}
	for i := k; i < k+r; i++ {
		shards[i] = make([]byte, shardLen)
	}

	if err := enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("fec: encode: %w", err)
	}
	return shards, nil
}

// ErrUnrecoverable is returned by Decode when fewer than k shards (of the
// k+r total) were supplied.
var ErrUnrecoverable = fmt.Errorf("fec: fewer than k shards available")

// Decode reconstructs the k source shards of a block given a mapping from
// shard index (0..k+r) to received shard bytes. At least k entries must be
// present or ErrUnrecoverable is returned.
func Decode(received map[int][]byte, k, r int) ([][]byte, error) {
	if len(received) < k {
		return nil, ErrUnrecoverable
	}

	shardLen := 0
	for _, s := range received {
		if len(s) > shardLen {
			shardLen = len(s)
		}
	}

	shards := make([][]byte, k+r)
	for i, s := range received {
		if i < 0 || i >= k+r {
			return nil, fmt.Errorf("fec: shard index %d out of range [0,%d)", i, k+r)
		}
		padded := make([]byte, shardLen)
		copy(padded, s)
		shards[i] = padded
	}

	enc, err := reedsolomon.New(k, r)
	if err != nil {
		return nil, fmt.Errorf("fec: new encoder(k=%d,r=%d): %w", k, r, err)
	}
	if err := enc.ReconstructData(shards); err != nil {
		return nil, fmt.Errorf("fec: reconstruct: %w", err)
	}
	return shards[:k], nil
}
