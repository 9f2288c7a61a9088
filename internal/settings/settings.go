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

// Package settings implements the small side-module described in the
// engine's external interfaces: it maps the DHCP "next-server" (siaddr)
// setting onto a working tftp:// URI, updating it only when the address
// actually changes so an unrelated DHCP setting change can't clobber a
// user-supplied URI.
package settings

import (
	"fmt"
	"net"
	"sync"

	"github.com/insomniacslk/dhcp/dhcpv4"
)

// Applicator tracks the last-applied next-server address and produces a
// new working URI only when that address changes.
type Applicator struct {
	mu       sync.Mutex
	lastAddr net.IP
}

// Apply inspects a DHCP offer/ack (siaddr plus, if present, the boot
// file name option/field) and returns a new working URI string when the
// next-server address differs from the last one seen. It returns ("",
// false, nil) when the address is unchanged (including the first call
// with no next-server set at all).
func (a *Applicator) Apply(msg *dhcpv4.DHCPv4) (string, bool, error) {
	if msg == nil {
		return "", false, fmt.Errorf("nil DHCP message")
	}

	next := msg.ServerIPAddr
	if next == nil || next.Equal(net.IPv4zero) {
		// Some servers only populate opt66 (TFTP server name) rather
		// than the legacy siaddr field; fall back to that.
		if v := msg.Options.Get(dhcpv4.OptionTFTPServerName); v != nil {
			if ip := net.ParseIP(string(v)); ip != nil {
				next = ip
			}
		}
	}
	if next == nil || next.Equal(net.IPv4zero) {
		return "", false, nil // no next-server information available
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastAddr != nil && a.lastAddr.Equal(next) {
		return "", false, nil // unchanged: don't clobber a user URI
	}
	a.lastAddr = next

	file := ""
	if bf := msg.BootFileName; bf != "" {
		file = bf
	} else if v := msg.Options.Get(dhcpv4.OptionBootfileName); v != nil {
		file = string(v)
	}

	return fmt.Sprintf("tftp://%s/%s", next.String(), file), true, nil
}
