// Tftpget
// Copyright (C) tftpget contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config holds the process-wide settings named in the engine's
// design notes: the requested block size and the MTFTP multicast
// rendezvous address. Both are trivial, rarely-mutated settings — they
// are modeled as a single atomically-swapped struct so a request in
// flight always sees a consistent snapshot, without needing to
// synchronize reads against in-flight transfers.
package config

import "sync/atomic"

// DefaultBlksize is used for a request's initial blksize option unless
// overridden.
const DefaultBlksize = 512

// DefaultMulticastAddr is the well-known MTFTP rendezvous group:port used
// when a request doesn't specify one, per RFC-adjacent PXE convention.
const DefaultMulticastAddr = "239.255.1.1:3001"

// Config is the process-wide, atomically-swapped settings snapshot.
type Config struct {
	// Blksize is the block size requested in RRQ options.
	Blksize uint16
	// MulticastAddr is the "host:port" MTFTP rendezvous address that an
	// mtftp:// request listens on absent any other instruction.
	MulticastAddr string
}

var current atomic.Pointer[Config]

func init() {
	current.Store(&Config{
		Blksize:       DefaultBlksize,
		MulticastAddr: DefaultMulticastAddr,
	})
}

// Get returns the current configuration snapshot. Safe to call from any
// goroutine at any time; the returned value is immutable.
func Get() *Config {
	return current.Load()
}

// Set replaces the current configuration snapshot. Intended to be called
// once at process startup (e.g. from the CLI after flag parsing); changes
// only affect requests opened after the call returns.
func Set(c *Config) {
	cp := *c
	current.Store(&cp)
}
