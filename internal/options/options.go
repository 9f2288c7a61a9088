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

// Package options decodes TFTP OACK option pairs and dispatches the
// three options this client understands: blksize, tsize, and multicast.
package options

import (
	"net"
	"strconv"
	"strings"

	"github.com/purpleidea/tftpget/internal/status"
	"github.com/purpleidea/tftpget/internal/wire"
)

// Multicast carries the parsed fields of a "multicast=addr,port,mc"
// option. Addr and Port are zero/empty when the server deferred address
// assignment (fields left blank).
type Multicast struct {
	Addr        net.IP
	Port        uint16
	HasAddrPort bool // true when addr,port were both non-empty and parsed
	MasterClient bool
}

// Parsed is the result of parsing one OACK's worth of options.
type Parsed struct {
	Blksize   *uint16
	Tsize     *uint64
	Multicast *Multicast
}

// Error wraps a parse failure with the Status it should surface as.
type Error struct {
	Status status.Status
	Msg    string
}

func (e *Error) Error() string { return e.Msg }

func fail(s status.Status, msg string) error {
	return &Error{Status: s, Msg: msg}
}

// Parse decodes the given OACK options and dispatches each recognized
// name (case-insensitively) to its handler. Unknown options are silently
// ignored, per spec.
func Parse(opts []wire.Option) (Parsed, error) {
	var p Parsed
	for _, o := range opts {
		switch strings.ToLower(o.Name) {
		case "blksize":
			v, err := parseBlksize(o.Value)
			if err != nil {
				return p, err
			}
			p.Blksize = &v
		case "tsize":
			v, err := parseTsize(o.Value)
			if err != nil {
				return p, err
			}
			p.Tsize = &v
		case "multicast":
			m, err := parseMulticast(o.Value)
			if err != nil {
				return p, err
			}
			p.Multicast = &m
		default:
			// unknown option: silently ignored
		}
	}
	return p, nil
}

func parseBlksize(v string) (uint16, error) {
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		return 0, fail(status.InvalidBlksize, "invalid blksize option: "+v)
	}
	return uint16(n), nil
}

func parseTsize(v string) (uint64, error) {
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fail(status.InvalidTsize, "invalid tsize option: "+v)
	}
	return n, nil
}

// parseMulticast parses "addr,port,mc". addr,port may both be empty
// (server defers address assignment); mc must be "0" or "1".
func parseMulticast(v string) (Multicast, error) {
	fields := strings.SplitN(v, ",", 3)
	if len(fields) < 3 {
		if len(fields) < 2 {
			return Multicast{}, fail(status.MulticastMissingPort, "multicast option missing port: "+v)
		}
		return Multicast{}, fail(status.MulticastMissingMC, "multicast option missing mc flag: "+v)
	}
	addrField, portField, mcField := fields[0], fields[1], fields[2]

	var m Multicast
	switch mcField {
	case "1":
		m.MasterClient = true
	case "0":
		m.MasterClient = false
	default:
		return Multicast{}, fail(status.MulticastInvalidMC, "invalid mc flag: "+mcField)
	}

	if addrField == "" && portField == "" {
		return m, nil // server defers address assignment
	}

	ip := net.ParseIP(addrField)
	if ip == nil || ip.To4() == nil {
		return Multicast{}, fail(status.MulticastInvalidIP, "invalid multicast address: "+addrField)
	}
	port, err := strconv.ParseUint(portField, 10, 16)
	if err != nil {
		return Multicast{}, fail(status.MulticastInvalidPort, "invalid multicast port: "+portField)
	}

	m.Addr = ip.To4()
	m.Port = uint16(port)
	m.HasAddrPort = true
	return m, nil
}
