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

// Package audio decodes the negotiated audio codec into PCM frames and
// plays them back through a jitter-buffered output stream.
package audio

import (
	"errors"
	"fmt"

	astiav "github.com/asticode/go-astiav"
)

// FormatS16 and FormatF32 are the two interleaved PCM layouts a Frame may
// carry, matching the codecs actually in use: most produce planar S16 or
// FLTP/FLT natively, and re-packing into the source's own bit depth avoids
// a lossy or needless int/float conversion inside the decoder itself --
// the player converts to whatever the output device wants instead.
const (
	FormatS16 = "s16"
	FormatF32 = "f32"
)

// BytesPerSample returns the sample width in bytes for a Frame's Format.
func BytesPerSample(format string) int {
	if format == FormatF32 {
		return 4
	}
	return 2
}

// Frame is one decoded PCM frame, interleaved by channel, in either
// FormatS16 or FormatF32 -- whichever the source codec's native sample
// format is a packed (non-planar) cousin of.
type Frame struct {
	PTSUs      int64
	SampleRate int
	Channels   int
	Format     string
	PCM        []byte
}

// Fatal is returned when the audio codec cannot be opened at all; callers
// are expected to treat this as "no audio for this session", not abort.
type Fatal struct {
	Reason string
}

func (e *Fatal) Error() string { return fmt.Sprintf("audio: decoder fatal: %s", e.Reason) }

// Decoder wraps one astiav audio codec context, producing packed (never
// planar) frames in the source codec's own int-or-float family regardless
// of whether the codec itself decodes into planar or packed layout.
type Decoder struct {
	ctx   *astiav.CodecContext
	frame *astiav.Frame

	swr    *astiav.SoftwareResampleContext
	packed *astiav.Frame

	decodeErrors int64
}

// NewDecoder opens codecID with the codec's default parameters; no
// channel or sample-rate hints are set before the first Decode.
func NewDecoder(codecID astiav.CodecID) (*Decoder, error) {
	dec := astiav.FindDecoder(codecID)
	if dec == nil {
		return nil, &Fatal{Reason: fmt.Sprintf("no decoder registered for codec %v", codecID)}
	}
	ctx := astiav.AllocCodecContext(dec)
	if ctx == nil {
		return nil, &Fatal{Reason: "AllocCodecContext returned nil"}
	}
	if err := ctx.Open(dec, nil); err != nil {
		ctx.Free()
		return nil, &Fatal{Reason: err.Error()}
	}
	return &Decoder{ctx: ctx, frame: astiav.AllocFrame()}, nil
}

// DecodeErrors reports the running count of recoverable decode errors.
func (d *Decoder) DecodeErrors() int64 { return d.decodeErrors }

// Decode feeds one compressed access unit through the codec and returns
// zero or more PCM frames carrying ptsUs (the packet's PTS, per contract
// the leading access unit's timestamp covers the whole payload).
func (d *Decoder) Decode(ptsUs int64, accessUnit []byte) ([]Frame, error) {
	pkt := astiav.AllocPacket()
	defer pkt.Free()
	if err := pkt.FromData(accessUnit); err != nil {
		return nil, fmt.Errorf("audio: packet from data: %w", err)
	}
	pkt.SetPts(ptsUs)
	pkt.SetDts(ptsUs)

	if err := d.ctx.SendPacket(pkt); err != nil && !errors.Is(err, astiav.ErrEagain) {
		d.decodeErrors++
		return nil, nil
	}

	var out []Frame
	for {
		err := d.ctx.ReceiveFrame(d.frame)
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			break
		}
		if err != nil {
			d.decodeErrors++
			break
		}

		format := FormatS16
		target := astiav.SampleFormatS16
		if isFloatSampleFormat(d.frame.SampleFormat()) {
			format = FormatF32
			target = astiav.SampleFormatFlt
		}

		channels := d.frame.ChannelLayout().Channels()
		sampleRate := d.frame.SampleRate()
		nbSamples := d.frame.NbSamples()

		var pcm []byte
		if d.frame.SampleFormat() == target {
			// Already packed in the format we want; no conversion needed.
			raw, err := d.frame.Data().Bytes(0)
			if err != nil {
				d.frame.Unref()
				continue
			}
			pcm = raw
		} else {
			converted, err := d.repack(d.frame, target, sampleRate, nbSamples)
			if err != nil {
				d.decodeErrors++
				d.frame.Unref()
				continue
			}
			pcm = converted
		}

		need := nbSamples * BytesPerSample(format) * channels
		if need > len(pcm) {
			need = len(pcm)
		}
		cp := append([]byte(nil), pcm[:need]...)
		out = append(out, Frame{
			PTSUs:      ptsUs,
			SampleRate: sampleRate,
			Channels:   channels,
			Format:     format,
			PCM:        cp,
		})
		d.frame.Unref()
	}
	return out, nil
}

// isFloatSampleFormat reports whether fmt belongs to the floating-point
// sample format family (planar or packed), as opposed to an integer one.
func isFloatSampleFormat(f astiav.SampleFormat) bool {
	switch f {
	case astiav.SampleFormatFlt, astiav.SampleFormatFltp,
		astiav.SampleFormatDbl, astiav.SampleFormatDblp:
		return true
	default:
		return false
	}
}

// repack converts src (possibly planar) into this decoder's reusable
// packed destination frame at target format, returning its sample data.
// Used whenever the codec's native decode format isn't already packed in
// the family (int/float) we're normalizing to -- i.e. almost always, since
// ffmpeg's AAC and Opus decoders emit planar float natively.
func (d *Decoder) repack(src *astiav.Frame, target astiav.SampleFormat, sampleRate, nbSamples int) ([]byte, error) {
	if d.swr == nil {
		swr := astiav.AllocSoftwareResampleContext()
		if swr == nil {
			return nil, fmt.Errorf("audio: AllocSoftwareResampleContext failed")
		}
		d.swr = swr
		d.packed = astiav.AllocFrame()
	}

	d.packed.Unref()
	d.packed.SetSampleFormat(target)
	d.packed.SetChannelLayout(src.ChannelLayout())
	d.packed.SetSampleRate(sampleRate)
	d.packed.SetNbSamples(nbSamples)
	if err := d.packed.AllocBuffer(0); err != nil {
		return nil, fmt.Errorf("audio: repack alloc buffer: %w", err)
	}
	if err := d.swr.ConvertFrame(src, d.packed); err != nil {
		return nil, fmt.Errorf("audio: repack convert frame: %w", err)
	}
	return d.packed.Data().Bytes(0)
}

// Close releases the decoder's ffmpeg resources.
func (d *Decoder) Close() {
	if d.frame != nil {
		d.frame.Free()
		d.frame = nil
	}
	if d.packed != nil {
		d.packed.Free()
		d.packed = nil
	}
	if d.swr != nil {
		d.swr.Free()
		d.swr = nil
	}
	if d.ctx != nil {
		d.ctx.Free()
		d.ctx = nil
	}
}
