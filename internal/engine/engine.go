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

// Package engine implements the Request state machine: the engine's
// single hard core, driving RRQ/OACK/DATA/ERROR/ACK handling, option
// negotiation, block-bitmap tracking, and the MTFTP recovery/fallback
// timer, grounded directly in gPXE's tftp_rx/tftp_timer_expired pair.
// Everything outside this package (URI parsing, sockets, the sink) is
// boundary glue the engine is deliberately ignorant of.
package engine

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/purpleidea/tftpget/internal/bitmap"
	"github.com/purpleidea/tftpget/internal/config"
	"github.com/purpleidea/tftpget/internal/errwrap"
	"github.com/purpleidea/tftpget/internal/logging"
	"github.com/purpleidea/tftpget/internal/options"
	"github.com/purpleidea/tftpget/internal/retry"
	"github.com/purpleidea/tftpget/internal/sink"
	"github.com/purpleidea/tftpget/internal/socket"
	"github.com/purpleidea/tftpget/internal/status"
	"github.com/purpleidea/tftpget/internal/uri"
	"github.com/purpleidea/tftpget/internal/wire"
)

// Flags mirrors the gPXE request's TFTP_FL_* bitfield.
type Flags uint8

// The four flags the engine tracks per request.
const (
	// FlagSendAck is set once a unicast reply has established the peer
	// TID; cleared again for non-master clients once a multicast option
	// names them as such.
	FlagSendAck Flags = 1 << iota
	// FlagRRQSizes requests blksize and tsize in every RRQ this request sends.
	FlagRRQSizes
	// FlagRRQMulticast requests the multicast option (tftm, mtftp).
	FlagRRQMulticast
	// FlagMTFTPRecovery enables the MTFTP fallback-to-unicast state
	// machine on repeated timeouts with no reply from the server.
	FlagMTFTPRecovery
)

// Has reports whether bit is set.
func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// mtftpMaxTimeouts is how many timer expiries the engine tolerates while
// no unicast reply has established the peer before falling back to
// plain unicast TFTP against port 69.
const mtftpMaxTimeouts = 3

// Hook receives a terminal notification for every request, mirroring the
// teacher's resource-level watch/CheckApply reporting idiom.
type Hook interface {
	OnSuccess(stats TransferStats)
	OnFailure(stats TransferStats, err error)
}

// TransferStats summarizes a request at the point it terminates.
type TransferStats struct {
	Filename string
	Blksize  uint16
	Tsize    uint64
	Filesize uint64
}

// Request is one in-flight (or terminated) transfer. All mutable state
// is guarded by mu; every entry point — packet delivery from either
// socket's read-loop goroutine, and the retry timer's own goroutine —
// acquires it before touching anything, giving the rest of the engine
// the single-threaded, non-reentrant execution model the state machine
// assumes.
type Request struct {
	id  uuid.UUID
	log *logging.Logger
	hook Hook

	u *uri.URI

	// requestedBlksize is the blksize option value this request puts on
	// the wire in every RRQ. It never changes across retransmissions or
	// MTFTP fallback, unlike blksize below, which tracks whatever size
	// is currently negotiated and active.
	requestedBlksize uint16

	mu            sync.Mutex
	serverPort    uint16
	peer          *net.UDPAddr
	blksize       uint16
	tsize         uint64
	filesize      uint64
	bitmap        *bitmap.BlockBitmap
	flags         Flags
	mtftpTimeouts int

	finalBlockIdx  uint
	finalBlockLen  int
	haveFinalBlock bool

	timer     *retry.Timer
	unicast   socket.Socket
	multicast socket.Socket
	dial      dialers

	sink sink.Sink

	closed      bool
	finalStatus status.Status
	doneCh      chan struct{}
}

// dialers bundles the two socket constructors Open needs, so tests can
// substitute fakes without ever touching a real UDP port.
type dialers struct {
	newUnicast   func(*net.UDPAddr, func(socket.Packet)) (socket.Socket, error)
	newMulticast func(*net.UDPAddr, func(socket.Packet)) (socket.Socket, error)
}

func defaultDialers() dialers {
	return dialers{
		newUnicast: func(addr *net.UDPAddr, deliver func(socket.Packet)) (socket.Socket, error) {
			return socket.NewUnicastSocket(addr, deliver)
		},
		newMulticast: func(addr *net.UDPAddr, deliver func(socket.Packet)) (socket.Socket, error) {
			return socket.NewMulticastSocket(addr, deliver)
		},
	}
}

// Open starts a new transfer against u, delivering received bytes to
// snk. log must not be nil; hook may be.
func Open(u *uri.URI, snk sink.Sink, log *logging.Logger, hook Hook) (*Request, error) {
	return open(u, snk, log, hook, defaultDialers())
}

func open(u *uri.URI, snk sink.Sink, log *logging.Logger, hook Hook, d dialers) (*Request, error) {
	cfg := config.Get()

	r := &Request{
		id:               uuid.New(),
		log:              log,
		hook:             hook,
		u:                u,
		requestedBlksize: cfg.Blksize,
		serverPort:       u.Port,
		blksize:          cfg.Blksize,
		bitmap:           bitmap.New(0),
		sink:             snk,
		dial:             d,
		doneCh:           make(chan struct{}),
	}

	switch u.Scheme {
	case uri.SchemeTFTP:
		r.flags = FlagRRQSizes
	case uri.SchemeTFTM:
		r.flags = FlagRRQSizes | FlagRRQMulticast
	case uri.SchemeMTFTP:
		r.flags = FlagRRQSizes | FlagRRQMulticast | FlagMTFTPRecovery
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	serverAddr, err := net.ResolveUDPAddr("udp", u.ServerAddr())
	if err != nil {
		return nil, errwrap.Wrapf(err, "could not resolve %s", u.Host)
	}

	r.timer = retry.New(0, 0, 0, r.onTimerFire)

	uc, err := d.newUnicast(serverAddr, r.handleUnicast)
	if err != nil {
		return nil, err
	}
	r.unicast = uc

	if u.Scheme == uri.SchemeMTFTP {
		mcAddr, err := net.ResolveUDPAddr("udp", cfg.MulticastAddr)
		if err != nil {
			_ = r.unicast.Close()
			return nil, errwrap.Wrapf(err, "invalid configured multicast address %q", cfg.MulticastAddr)
		}
		mc, err := d.newMulticast(mcAddr, r.handleMulticast)
		if err != nil {
			_ = r.unicast.Close()
			return nil, err
		}
		r.multicast = mc
	}

	r.timer.StartNoDelay()
	return r, nil
}

// Done is closed once the transfer has reached a terminal state.
func (r *Request) Done() <-chan struct{} { return r.doneCh }

// Status returns the terminal status. Only meaningful after Done is closed.
func (r *Request) Status() status.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalStatus
}

// Close ends the request early, as if the consumer had walked away.
func (r *Request) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroyLocked(status.ConsumerClosed, fmt.Errorf("closed by consumer"))
}

// ID returns the correlation id used in log lines for this request.
func (r *Request) ID() uuid.UUID { return r.id }

// handleUnicast is the unicast socket's delivery callback. Every inbound
// unicast packet, regardless of opcode, establishes the peer TID on
// first sight and arms FlagSendAck — exactly the order gPXE's
// tftp_socket_deliver_iob uses, letting a subsequent non-master
// multicast option clear FlagSendAck again within the same callback.
func (r *Request) handleUnicast(pkt socket.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	op, err := wire.DecodedOpcode(pkt.Data)
	if err != nil {
		r.log.Debugf("request %s: dropping packet with no opcode", r.id)
		return
	}

	if r.peer == nil {
		r.peer = pkt.Src
		r.flags |= FlagSendAck
	} else if !addrEqual(pkt.Src, r.peer) {
		r.log.Debugf("request %s: dropping packet from unexpected source %s", r.id, pkt.Src)
		return
	}

	switch op {
	case wire.OpOACK:
		r.onOACK(pkt.Data)
	case wire.OpDATA:
		r.onDATA(pkt.Data, false)
	case wire.OpERROR:
		r.onERROR(pkt.Data)
	default:
		r.log.Debugf("request %s: dropping packet with unexpected opcode %d", r.id, op)
	}
}

// handleMulticast is the multicast socket's delivery callback. It never
// performs TID filtering or touches FlagSendAck: those belong to the
// unicast side only. A multicast packet received before the peer is
// established (the RRQ hasn't been answered yet) is dropped.
func (r *Request) handleMulticast(pkt socket.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.peer == nil {
		return
	}

	op, err := wire.DecodedOpcode(pkt.Data)
	if err != nil || op != wire.OpDATA {
		return
	}
	r.onDATA(pkt.Data, true)
}

func addrEqual(a, b *net.UDPAddr) bool {
	return a.IP.Equal(b.IP) && a.Port == b.Port
}

// onOACK applies a negotiated OACK: blksize, tsize, and multicast, then
// sends whatever packet comes next (ACK for block 0, absent any other
// instruction).
func (r *Request) onOACK(data []byte) {
	opts, err := wire.DecodeOACK(data)
	if err != nil {
		r.fail(status.InvalidArgument, errwrap.Wrapf(err, "underlength OACK"))
		return
	}
	parsed, err := options.Parse(opts)
	if err != nil {
		if oe, ok := err.(*options.Error); ok {
			r.fail(oe.Status, oe)
			return
		}
		r.fail(status.InvalidArgument, err)
		return
	}

	if parsed.Blksize != nil {
		r.blksize = *parsed.Blksize
	}

	if parsed.Multicast != nil {
		m := parsed.Multicast
		if m.MasterClient {
			r.flags |= FlagSendAck
		} else {
			r.flags &^= FlagSendAck
		}
		if m.HasAddrPort {
			addr := &net.UDPAddr{IP: m.Addr, Port: int(m.Port)}
			if err := r.openOrRebindMulticast(addr); err != nil {
				r.fail(status.NetworkError, err)
				return
			}
		}
	}

	if parsed.Tsize != nil {
		r.tsize = *parsed.Tsize
		if *parsed.Tsize > 0 {
			r.presize(*parsed.Tsize)
		}
	}

	r.sendPacket()
}

func (r *Request) openOrRebindMulticast(addr *net.UDPAddr) error {
	if r.multicast == nil {
		mc, err := r.dial.newMulticast(addr, r.handleMulticast)
		if err != nil {
			return err
		}
		r.multicast = mc
		return nil
	}
	r.multicast.Rebind(addr)
	return r.multicast.Reopen()
}

// onDATA processes a DATA packet from either socket. The internal block
// index is reconstructed from the 16-bit wire block number against the
// current first gap exactly as gPXE's tftp_rx_data does: the epoch base
// is (first_gap+1) masked down to the nearest multiple of 65536, which
// — unlike masking first_gap itself — correctly rolls a request waiting
// on wire block 0 at an epoch boundary into the epoch that block 0
// actually completes.
func (r *Request) onDATA(data []byte, viaMulticast bool) {
	d, err := wire.DecodeDATA(data)
	if err != nil {
		r.fail(status.InvalidArgument, errwrap.Wrapf(err, "underlength DATA"))
		return
	}
	if len(d.Payload) > int(r.blksize) {
		r.fail(status.InvalidArgument, fmt.Errorf("DATA payload %d bytes exceeds negotiated blksize %d", len(d.Payload), r.blksize))
		return
	}

	internal := reconstructBlock(uint64(r.bitmap.FirstGap()), d.Block)
	if internal < 0 {
		r.fail(status.InvalidArgument, fmt.Errorf("received wire block %d with no prior data", d.Block))
		return
	}

	offset := internal * int64(r.blksize)
	if err := r.sink.Seek(offset); err != nil {
		r.fail(status.NetworkError, err)
		return
	}
	if err := r.sink.Deliver(d.Payload); err != nil {
		r.fail(status.NetworkError, err)
		return
	}

	r.presize(uint64(offset) + uint64(len(d.Payload)))

	idx := uint(internal)
	r.bitmap.Set(idx)
	if idx+1 == r.bitmap.Len() {
		r.finalBlockIdx = idx
		r.finalBlockLen = len(d.Payload)
		r.haveFinalBlock = true
	}

	r.sendPacket()

	if r.bitmap.Full() && r.haveFinalBlock && r.finalBlockIdx+1 == r.bitmap.Len() && r.finalBlockLen < int(r.blksize) {
		r.succeed()
	}
}

// presize grows the bitmap to cover a newly-learned lower bound on the
// file size, whether from an OACK tsize option or from the trailing
// edge of a DATA packet. It never shrinks filesize, matching the
// monotone-filesize invariant.
func (r *Request) presize(lowerBound uint64) {
	if lowerBound <= r.filesize {
		return
	}
	r.filesize = lowerBound
	_ = r.sink.Seek(int64(lowerBound))
	_ = r.sink.Seek(0)
	n := uint(lowerBound/uint64(r.blksize)) + 1
	r.bitmap.Resize(n)
}

// reconstructBlock recovers the unbounded internal block index from a
// 16-bit wire block number, given the first gap in the bitmap before
// this DATA arrived. The epoch base is (firstGap+1) masked down to the
// nearest multiple of 65536 rather than firstGap itself: masking
// firstGap directly mishandles the exact boundary where the bitmap is
// waiting on wire block 0 to complete the epoch currently in progress,
// since first_gap+1 is what actually crosses into the next epoch.
// Returns a negative value for the protocol error of wire block 0
// arriving while still in the first epoch (firstGap+1 < 65536).
func reconstructBlock(firstGap uint64, wireBlock uint16) int64 {
	epoch := (firstGap + 1) &^ 0xFFFF
	return int64(epoch) + int64(wireBlock) - 1
}

func (r *Request) onERROR(data []byte) {
	e, err := wire.DecodeERROR(data)
	if err != nil {
		r.log.Debugf("request %s: dropping underlength ERROR packet", r.id)
		return
	}
	r.fail(status.FromTFTPErrorCode(e.Code), fmt.Errorf("server error %d: %s", e.Code, e.Message))
}

// onTimerFire drives retransmission and the MTFTP recovery/fallback
// state machine, translated directly from tftp_timer_expired.
func (r *Request) onTimerFire(exp retry.Expiry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	if r.flags.Has(FlagMTFTPRecovery) {
		if r.peer != nil {
			// Multicast stalled after RRQ was answered: drop back to a
			// fresh local port and re-request, unconditionally (no Fail
			// check) since MTFTP recovery is its own retry budget.
			if err := r.unicast.Reopen(); err != nil {
				r.fail(status.NetworkError, err)
				return
			}
			r.peer = nil
			r.flags &^= FlagSendAck
		} else {
			r.mtftpTimeouts++
			r.log.Debugf("request %s: mtftp timeout %d/%d waiting for multicast join", r.id, r.mtftpTimeouts, mtftpMaxTimeouts)
			if r.mtftpTimeouts > mtftpMaxTimeouts {
				r.log.Logln("request %s: falling back to plain TFTP after repeated MTFTP timeouts", r.id)
				r.flags = FlagRRQSizes
				if r.multicast != nil {
					_ = r.multicast.Close()
					r.multicast = nil
				}
				r.bitmap = bitmap.New(0)
				r.serverPort = 69
				addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(r.u.Host, "69"))
				if err != nil {
					r.fail(status.NetworkError, err)
					return
				}
				r.unicast.Rebind(addr)
				r.timer.StartNoDelay()
				if err := r.unicast.Reopen(); err != nil {
					r.fail(status.NetworkError, err)
					return
				}
			}
		}
	} else if exp.Fail {
		r.fail(status.Timeout, fmt.Errorf("timed out waiting for a reply"))
		return
	}

	r.sendPacket()
}

// sendPacket restarts the retry timer and sends whatever the current
// state calls for: an RRQ if no peer is established yet, otherwise an
// ACK for the current first gap if FlagSendAck is set. This is the
// engine's one and only outbound path, mirroring tftp_send_packet.
func (r *Request) sendPacket() {
	r.timer.Stop()
	r.timer.Start()

	if r.peer == nil {
		r.sendRRQ()
		return
	}
	if r.flags.Has(FlagSendAck) {
		r.sendACK()
	}
}

func (r *Request) sendRRQ() {
	var opts []wire.Option
	if r.flags.Has(FlagRRQSizes) {
		opts = append(opts,
			wire.Option{Name: "blksize", Value: strconv.Itoa(int(r.requestedBlksize))},
			wire.Option{Name: "tsize", Value: "0"},
		)
	}
	if r.flags.Has(FlagRRQMulticast) {
		opts = append(opts, wire.Option{Name: "multicast", Value: ""})
	}

	pkt := wire.EncodeRRQ(r.u.Filename(), opts)
	if err := r.unicast.Send(r.unicast.DefaultPeer(), pkt); err != nil {
		r.fail(status.NetworkError, err)
	}
}

func (r *Request) sendACK() {
	block := uint16(r.bitmap.FirstGap())
	pkt := wire.EncodeACK(block)
	if err := r.unicast.Send(r.peer, pkt); err != nil {
		r.fail(status.NetworkError, err)
	}
}

func (r *Request) fail(st status.Status, err error) {
	r.log.Debugf("request %s: failing: %v (%s)", r.id, err, st)
	r.destroyLocked(st, err)
}

func (r *Request) succeed() {
	r.destroyLocked(status.OK, nil)
}

// destroyLocked is the single teardown path, called with mu already
// held. The closed guard keeps it idempotent against a straggler packet
// or timer firing that was already queued behind the lock.
func (r *Request) destroyLocked(st status.Status, cause error) {
	if r.closed {
		return
	}
	r.closed = true
	r.finalStatus = st

	r.timer.Stop()
	var cerr error
	if r.unicast != nil {
		cerr = errwrap.Append(cerr, r.unicast.Close())
	}
	if r.multicast != nil {
		cerr = errwrap.Append(cerr, r.multicast.Close())
	}
	cerr = errwrap.Append(cerr, r.sink.Close(st))

	if r.hook != nil {
		stats := TransferStats{
			Filename: r.u.Filename(),
			Blksize:  r.blksize,
			Tsize:    r.tsize,
			Filesize: r.filesize,
		}
		if st == status.OK {
			r.hook.OnSuccess(stats)
		} else {
			r.hook.OnFailure(stats, errwrap.Append(cause, cerr))
		}
	}

	close(r.doneCh)
}
