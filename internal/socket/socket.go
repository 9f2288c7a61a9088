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

// Package socket provides the datagram socket abstraction the engine
// drives: send-with-destination, receive-with-source, reopen, and close.
// The unicast implementation is a thin wrapper over net.UDPConn; the
// multicast implementation additionally joins a group via
// golang.org/x/net/ipv4, since plain net.ListenMulticastUDP gives no
// further control once the engine needs to reopen on a different group
// mid-transfer (the OACK-driven multicast option).
package socket

import (
	"net"

	"golang.org/x/net/ipv4"

	"github.com/purpleidea/tftpget/internal/errwrap"
)

// Packet is one received datagram plus its source address.
type Packet struct {
	Data []byte
	Src  *net.UDPAddr
}

// Socket is the datagram interface the engine consumes. Deliver is
// invoked (synchronously, on the receiving goroutine) for every inbound
// packet until Close is called.
type Socket interface {
	// Send writes a datagram to dst.
	Send(dst *net.UDPAddr, data []byte) error
	// DefaultPeer is the destination the socket was opened against — the
	// target for an initial RRQ, sent before any reply establishes the
	// real peer TID.
	DefaultPeer() *net.UDPAddr
	// Reopen closes and recreates the socket bound to the same local
	// parameters. The engine uses it on the unicast socket for MTFTP
	// recovery and fallback, and on the multicast socket to move to an
	// OACK-named group.
	Reopen() error
	// Rebind updates the default peer (unicast) or the group joined by
	// the next Reopen (multicast), without itself touching the live
	// socket.
	Rebind(addr *net.UDPAddr)
	// Close releases the underlying file descriptor(s).
	Close() error
}

// UnicastSocket carries OACK/DATA/ERROR replies and outgoing ACKs/RRQs.
type UnicastSocket struct {
	server *net.UDPAddr
	conn   *net.UDPConn
	deliver func(Packet)
	done    chan struct{}
}

// NewUnicastSocket opens a UDP socket and binds it for a transfer against
// server. deliver is invoked on a dedicated goroutine for every inbound
// packet until Close is called.
func NewUnicastSocket(server *net.UDPAddr, deliver func(Packet)) (*UnicastSocket, error) {
	s := &UnicastSocket{server: server, deliver: deliver}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *UnicastSocket) open() error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return errwrap.Wrapf(err, "could not open unicast socket")
	}
	s.conn = conn
	s.done = make(chan struct{})
	go s.readLoop(conn, s.done)
	return nil
}

func (s *UnicastSocket) readLoop(conn *net.UDPConn, done chan struct{}) {
	buf := make([]byte, 65536)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			return // socket closed out from under us
		}
		select {
		case <-done:
			return
		default:
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		s.deliver(Packet{Data: cp, Src: src})
	}
}

// Send implements Socket.
func (s *UnicastSocket) Send(dst *net.UDPAddr, data []byte) error {
	_, err := s.conn.WriteToUDP(data, dst)
	return errwrap.Wrapf(err, "unicast send failed")
}

// DefaultPeer implements Socket.
func (s *UnicastSocket) DefaultPeer() *net.UDPAddr { return s.server }

// Rebind replaces the server address returned by DefaultPeer (the
// destination of the next RRQ), as MTFTP fallback-to-plain-TFTP does
// when the server port changes from the mtftp port back to 69.
func (s *UnicastSocket) Rebind(addr *net.UDPAddr) {
	s.server = addr
}

// Reopen implements Socket: it replaces the connection with a fresh
// local socket, as the engine's MTFTP recovery and fallback paths use it.
func (s *UnicastSocket) Reopen() error {
	if err := s.closeConn(); err != nil {
		return err
	}
	return s.open()
}

// Close implements Socket.
func (s *UnicastSocket) Close() error {
	return s.closeConn()
}

func (s *UnicastSocket) closeConn() error {
	if s.conn == nil {
		return nil
	}
	close(s.done)
	err := s.conn.Close()
	s.conn = nil
	return errwrap.Wrapf(err, "closing unicast socket")
}

// MulticastSocket carries DATA only. Because the Socket interface
// requires a peer, it uses the group address itself as a placeholder —
// sends are never actually performed on a multicast socket.
type MulticastSocket struct {
	group   *net.UDPAddr
	conn    *net.UDPConn
	pconn   *ipv4.PacketConn
	deliver func(Packet)
	done    chan struct{}
}

// NewMulticastSocket opens a UDP socket bound to group and joins the
// multicast group via ipv4.PacketConn so later Reopen calls can rejoin
// cleanly on a different group (the OACK-negotiated multicast option may
// name a group only known after the request has already started).
func NewMulticastSocket(group *net.UDPAddr, deliver func(Packet)) (*MulticastSocket, error) {
	s := &MulticastSocket{group: group, deliver: deliver}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MulticastSocket) open() error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: s.group.Port})
	if err != nil {
		return errwrap.Wrapf(err, "could not open multicast socket")
	}
	pconn := ipv4.NewPacketConn(conn)
	ifaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range ifaces {
			_ = pconn.JoinGroup(&iface, &net.UDPAddr{IP: s.group.IP})
		}
	}
	s.conn = conn
	s.pconn = pconn
	s.done = make(chan struct{})
	go s.readLoop(conn, s.done)
	return nil
}

func (s *MulticastSocket) readLoop(conn *net.UDPConn, done chan struct{}) {
	buf := make([]byte, 65536)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		select {
		case <-done:
			return
		default:
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		s.deliver(Packet{Data: cp, Src: src})
	}
}

// Send implements Socket, but is never expected to be called: the engine
// never sends on the multicast socket.
func (s *MulticastSocket) Send(dst *net.UDPAddr, data []byte) error {
	_, err := s.conn.WriteToUDP(data, dst)
	return errwrap.Wrapf(err, "multicast send failed (unexpected)")
}

// DefaultPeer implements Socket, returning the group address itself as
// the placeholder peer.
func (s *MulticastSocket) DefaultPeer() *net.UDPAddr { return s.group }

// Reopen implements Socket: rejoins the (possibly new) group recorded on
// s.group. Callers that need to rebind to a different group must update
// s.group before calling Reopen (see internal/engine).
func (s *MulticastSocket) Reopen() error {
	if err := s.closeConn(); err != nil {
		return err
	}
	return s.open()
}

// Rebind updates the target group for the next Reopen/open call.
func (s *MulticastSocket) Rebind(group *net.UDPAddr) {
	s.group = group
}

// Close implements Socket.
func (s *MulticastSocket) Close() error {
	return s.closeConn()
}

func (s *MulticastSocket) closeConn() error {
	if s.conn == nil {
		return nil
	}
	close(s.done)
	err := s.conn.Close()
	s.conn = nil
	s.pconn = nil
	return errwrap.Wrapf(err, "closing multicast socket")
}
