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

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e1z0/smirror/internal/negotiate"
)

func TestParseFlagsDefaults(t *testing.T) {
	cfg, err := parseFlags([]string{"--host", "10.0.0.5", "--port", "7000"})
	require.NoError(t, err)
	assert.Equal(t, "reliable", cfg.mode)
	assert.Equal(t, "10.0.0.5", cfg.host)
	assert.Equal(t, 7000, cfg.port)
	assert.Equal(t, 8, cfg.bitrateMbps)
	assert.Equal(t, "auto", cfg.hwDecoder)
	assert.False(t, cfg.noAudio)
	assert.Equal(t, 0, cfg.maxSize)
}

func TestParseFlagsRejectsMissingHost(t *testing.T) {
	_, err := parseFlags([]string{"--port", "7000"})
	assert.Error(t, err)
}

func TestParseFlagsRejectsBadMode(t *testing.T) {
	_, err := parseFlags([]string{"--host", "h", "--port", "1", "--mode", "carrier-pigeon"})
	assert.Error(t, err)
}

func TestParseFlagsRejectsOutOfRangePort(t *testing.T) {
	_, err := parseFlags([]string{"--host", "h", "--port", "70000"})
	assert.Error(t, err)
}

func TestParseFlagsRejectsNegativeMaxSize(t *testing.T) {
	_, err := parseFlags([]string{"--host", "h", "--port", "1", "--max-size", "-1"})
	assert.Error(t, err)
}

func TestParseFlagsAcceptsDatagramMode(t *testing.T) {
	cfg, err := parseFlags([]string{"--host", "h", "--port", "1", "--mode", "datagram"})
	require.NoError(t, err)
	assert.Equal(t, "datagram", cfg.mode)
}

func TestPreferredKind(t *testing.T) {
	assert.Equal(t, negotiate.Datagram, preferredKind("datagram"))
	assert.Equal(t, negotiate.Reliable, preferredKind("reliable"))
	assert.Equal(t, negotiate.Reliable, preferredKind("anything-else"))
}
