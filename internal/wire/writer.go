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
package wire

import "io"

// Writer emits Packets to a byte stream. It is the exact inverse of
// Reader/Parse: emitting then parsing a Packet reproduces every field
// bit-exactly.
type Writer struct {
	dst io.Writer
	buf []byte
}

// NewWriter wraps dst.
func NewWriter(dst io.Writer) *Writer {
	return &Writer{dst: dst, buf: make([]byte, 0, HeaderSize+1500)}
}

// WritePacket emits p in full. A short write is surfaced unchanged.
func (w *Writer) WritePacket(p Packet) error {
	buf, err := p.Emit(w.buf[:0])
	if err != nil {
		return err
	}
	w.buf = buf
	_, err = w.dst.Write(buf)
	return err
}
