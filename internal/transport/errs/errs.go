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
// Package errs defines the connection-lifecycle error classification shared
// by both transport variants: a caller can tell apart a
// failed initial connection attempt from a mid-session disconnect without
// parsing error strings.
package errs

import "fmt"

// ConnectFailed means the initial connection attempt (dial, handshake)
// never succeeded. The negotiator treats this as "try the next transport",
// not as a mid-session fault.
type ConnectFailed struct {
	Reason string
}

func (e *ConnectFailed) Error() string {
	return fmt.Sprintf("transport: connect failed: %s", e.Reason)
}

// Disconnected means a previously established session ended: the peer
// closed the connection, a read/write failed, or the handshake was
// rejected after having been accepted once before. There is no automatic
// reconnect; the caller decides whether to re-negotiate.
type Disconnected struct {
	Reason string
}

func (e *Disconnected) Error() string {
	return fmt.Sprintf("transport: disconnected: %s", e.Reason)
}

// Timeout means no data arrived on an established transport within the
// read deadline (default 5s). Like Disconnected, there is no automatic
// reconnect; the transport closes and the caller decides whether to
// re-negotiate.
type Timeout struct {
	Reason string
}

func (e *Timeout) Error() string {
	return fmt.Sprintf("transport: timeout: %s", e.Reason)
}
