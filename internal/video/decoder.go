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

// Package video decodes the negotiated video codec's elementary units into
// presentable BGRA frames, probing hardware backends in order before
// falling back to software decode.
package video

import (
	"errors"
	"fmt"
	"log"

	astiav "github.com/asticode/go-astiav"
)

// DefaultBackends is the ordered hardware backend probe list: a
// CUDA-family backend, a quick-sync backend, a video-acceleration API
// backend, a platform media framework, then software. "none" forces
// software decode and always succeeds if the codec itself opens.
var DefaultBackends = []string{"cuda", "qsv", "vaapi", "videotoolbox", "none"}

// Frame is one decoded, BGRA-converted video frame ready for presentation.
type Frame struct {
	PTSUs  int64
	Width  int
	Height int
	Data   []byte // tightly packed BGRA, width*height*4 bytes
}

// Fatal is returned by NewDecoder when every backend in the probe list
// failed to initialize.
type Fatal struct {
	Reason string
}

func (e *Fatal) Error() string { return fmt.Sprintf("video: decoder fatal: %s", e.Reason) }

// Decoder wraps one astiav codec context plus the BGRA scaler that every
// decoded frame is pushed through before reaching the caller. It is not
// safe for concurrent use; callers serialize access the way the decode
// worker goroutine does.
type Decoder struct {
	codecID astiav.CodecID
	backend string

	ctx    *astiav.CodecContext
	frame  *astiav.Frame
	scaler bgraScaler

	decodeErrors int64

	// awaitingKeyframe is set after a reset and cleared once the next
	// keyframe access unit is seen; non-keyframes are discarded meanwhile.
	awaitingKeyframe bool

	requestKeyframe func()
}

// NewDecoder probes backends in order and opens the first that accepts
// codecID without error.
func NewDecoder(codecID astiav.CodecID, backends []string, requestKeyframe func()) (*Decoder, error) {
	if len(backends) == 0 {
		backends = DefaultBackends
	}
	dec := astiav.FindDecoder(codecID)
	if dec == nil {
		return nil, &Fatal{Reason: fmt.Sprintf("no decoder registered for codec %v", codecID)}
	}

	var lastErr error
	for _, backend := range backends {
		ctx := astiav.AllocCodecContext(dec)
		if ctx == nil {
			lastErr = errors.New("AllocCodecContext returned nil")
			continue
		}

		opts := astiav.NewDictionary()
		hw := backend
		if hw == "" {
			hw = "none"
		}
		_ = opts.Set("hwaccel", hw, 0)
		_ = opts.Set("err_detect", "careful", 0)

		if err := ctx.Open(dec, opts); err != nil {
			opts.Free()
			ctx.Free()
			lastErr = fmt.Errorf("backend %q: %w", backend, err)
			continue
		}
		opts.Free()

		log.Printf("video: decoder opened with backend %q", backend)
		return &Decoder{
			codecID:         codecID,
			backend:         backend,
			ctx:             ctx,
			frame:           astiav.AllocFrame(),
			requestKeyframe: requestKeyframe,
		}, nil
	}

	return nil, &Fatal{Reason: fmt.Sprintf("every backend failed, last error: %v", lastErr)}
}

// Backend reports which probe-list entry this decoder ended up using.
func (d *Decoder) Backend() string { return d.backend }

// DecodeErrors reports the running count of recoverable decode errors.
func (d *Decoder) DecodeErrors() int64 { return d.decodeErrors }

// Decode feeds one access unit (with its wire-layer PTS) through the
// codec and returns zero or more presentable frames. A decode error other
// than "need more input" resets the decoder and requests a keyframe; after
// a reset, non-keyframe access units are discarded until a keyframe arrives.
func (d *Decoder) Decode(ptsUs int64, accessUnit []byte) ([]Frame, error) {
	if d.awaitingKeyframe {
		if !looksLikeKeyframe(accessUnit) {
			return nil, nil
		}
		d.awaitingKeyframe = false
	}

	pkt := astiav.AllocPacket()
	defer pkt.Free()
	if err := pkt.FromData(accessUnit); err != nil {
		return nil, fmt.Errorf("video: packet from data: %w", err)
	}
	pkt.SetPts(ptsUs)
	pkt.SetDts(ptsUs)

	if err := d.ctx.SendPacket(pkt); err != nil && !errors.Is(err, astiav.ErrEagain) {
		d.handleDecodeError(err)
		return nil, nil
	}

	var out []Frame
	for {
		err := d.ctx.ReceiveFrame(d.frame)
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			break
		}
		if err != nil {
			d.handleDecodeError(err)
			break
		}

		w, h, bgra, err := d.scaler.toBGRA(d.frame)
		d.frame.Unref()
		if err != nil {
			d.decodeErrors++
			continue
		}
		out = append(out, Frame{PTSUs: ptsUs, Width: w, Height: h, Data: bgra})
	}
	return out, nil
}

func (d *Decoder) handleDecodeError(err error) {
	d.decodeErrors++
	log.Printf("video: decode error, resetting: %v", err)
	d.ctx.FlushBuffers()
	d.awaitingKeyframe = true
	if d.requestKeyframe != nil {
		d.requestKeyframe()
	}
}

// looksLikeKeyframe is a cheap Annex-B NAL-type sniff: true for IDR
// slices (type 5) and SPS (7) that follow a 00 00 01 start code. Only
// start codes are searched for; length-prefixed AVCC input is not parsed
// as such.
func looksLikeKeyframe(accessUnit []byte) bool {
	for i := 0; i+4 < len(accessUnit); i++ {
		if accessUnit[i] == 0 && accessUnit[i+1] == 0 && accessUnit[i+2] == 1 {
			nalType := accessUnit[i+3] & 0x1f
			if nalType == 5 || nalType == 7 {
				return true
			}
		}
	}
	return false
}

// Close releases the decoder's ffmpeg resources.
func (d *Decoder) Close() {
	d.scaler.close()
	if d.frame != nil {
		d.frame.Free()
		d.frame = nil
	}
	if d.ctx != nil {
		d.ctx.Free()
		d.ctx = nil
	}
}
