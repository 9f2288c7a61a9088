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

// Package uri parses the three wire-compatible schemes this client
// speaks. This is boundary glue: spec.md scopes URI parsing and host
// resolution out of the engine's hard core, but a runnable CLI needs
// something concrete on the other side of that interface.
package uri

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Scheme identifies which of the three protocol variants a URI selects.
type Scheme int

// The three wire-compatible schemes.
const (
	SchemeTFTP Scheme = iota
	SchemeTFTM
	SchemeMTFTP
)

// DefaultPort returns the scheme-default server port: 69 for tftp/tftm,
// 1759 for mtftp.
func (s Scheme) DefaultPort() uint16 {
	if s == SchemeMTFTP {
		return 1759
	}
	return 69
}

// String names the scheme the way it appears in a URI.
func (s Scheme) String() string {
	switch s {
	case SchemeTFTP:
		return "tftp"
	case SchemeTFTM:
		return "tftm"
	case SchemeMTFTP:
		return "mtftp"
	default:
		return "unknown"
	}
}

// URI is the parsed, immutable target the engine consumes. It owns its
// own storage and is dropped along with the request that opened it.
type URI struct {
	Scheme Scheme
	Host   string // hostname or IP literal, no port
	Port   uint16 // resolved to the scheme default if unspecified
	Path   string // the raw path, including any leading '/'
}

// Parse parses a tftp://, tftm://, or mtftp:// URI.
func Parse(raw string) (*URI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URI %q: %w", raw, err)
	}

	var scheme Scheme
	switch strings.ToLower(u.Scheme) {
	case "tftp":
		scheme = SchemeTFTP
	case "tftm":
		scheme = SchemeTFTM
	case "mtftp":
		scheme = SchemeMTFTP
	default:
		return nil, fmt.Errorf("unsupported scheme %q, want tftp/tftm/mtftp", u.Scheme)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("URI %q has no host", raw)
	}

	host := u.Hostname()
	port := scheme.DefaultPort()
	if p := u.Port(); p != "" {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q in URI %q", p, raw)
		}
		port = uint16(n)
	}

	return &URI{
		Scheme: scheme,
		Host:   host,
		Port:   port,
		Path:   u.Path,
	}, nil
}

// Filename returns the path with a single leading '/' stripped, the form
// placed on the wire in an RRQ.
func (u *URI) Filename() string {
	return strings.TrimPrefix(u.Path, "/")
}

// ServerAddr returns the "host:port" string suitable for net.ResolveUDPAddr.
func (u *URI) ServerAddr() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(int(u.Port)))
}
