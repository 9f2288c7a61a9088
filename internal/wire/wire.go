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

// Package wire implements the on-the-wire encoding and decoding for the
// subset of TFTP opcodes this client needs: RRQ and ACK are encoded,
// OACK, DATA, and ERROR are decoded. All multi-byte integers are
// big-endian, per RFC 1350.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Opcode identifies a TFTP packet type.
type Opcode uint16

// The TFTP opcodes this client speaks or understands.
const (
	OpRRQ   Opcode = 1
	OpDATA  Opcode = 3
	OpACK   Opcode = 4
	OpERROR Opcode = 5
	OpOACK  Opcode = 6
)

// ModeOctet is the only transfer mode this client requests.
const ModeOctet = "octet"

// Option is a single name/value RRQ/OACK option pair.
type Option struct {
	Name  string
	Value string
}

// EncodeRRQ builds an RRQ packet for filename in octet mode, with the
// given trailing options appended in order. filename must already have
// any leading '/' stripped by the caller (per the engine's URI-to-wire
// mapping), this package only concerns itself with bytes on the wire.
func EncodeRRQ(filename string, opts []Option) []byte {
	buf := make([]byte, 0, 64)
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(OpRRQ))
	buf = append(buf, hdr[:]...)
	buf = append(buf, filename...)
	buf = append(buf, 0)
	buf = append(buf, ModeOctet...)
	buf = append(buf, 0)
	for _, o := range opts {
		buf = append(buf, o.Name...)
		buf = append(buf, 0)
		buf = append(buf, o.Value...)
		buf = append(buf, 0)
	}
	return buf
}

// EncodeACK builds an ACK packet for the given 16-bit wire block number.
func EncodeACK(block uint16) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], uint16(OpACK))
	binary.BigEndian.PutUint16(buf[2:4], block)
	return buf
}

// DecodedOpcode peeks at a packet's opcode without fully decoding it.
// Packets shorter than 2 bytes have no opcode.
func DecodedOpcode(p []byte) (Opcode, error) {
	if len(p) < 2 {
		return 0, fmt.Errorf("packet too short to carry an opcode: %d bytes", len(p))
	}
	return Opcode(binary.BigEndian.Uint16(p[0:2])), nil
}

// DATA is a decoded DATA packet.
type DATA struct {
	Block   uint16
	Payload []byte
}

// DecodeDATA decodes a DATA packet: u16 opcode, u16 block, payload bytes.
// The payload length is whatever remains after the 4-byte header; the
// caller is responsible for checking it against the negotiated blksize.
func DecodeDATA(p []byte) (DATA, error) {
	if len(p) < 4 {
		return DATA{}, fmt.Errorf("DATA packet underlength: %d bytes", len(p))
	}
	return DATA{
		Block:   binary.BigEndian.Uint16(p[2:4]),
		Payload: p[4:],
	}, nil
}

// ERROR is a decoded ERROR packet.
type ERROR struct {
	Code    uint16
	Message string
}

// DecodeERROR decodes an ERROR packet: u16 opcode, u16 code, NUL-terminated
// message. A missing or unterminated message is tolerated; the message is
// simply everything after the code, NUL or not.
func DecodeERROR(p []byte) (ERROR, error) {
	if len(p) < 4 {
		return ERROR{}, fmt.Errorf("ERROR packet underlength: %d bytes", len(p))
	}
	msg := p[4:]
	if i := bytes.IndexByte(msg, 0); i >= 0 {
		msg = msg[:i]
	}
	return ERROR{
		Code:    binary.BigEndian.Uint16(p[2:4]),
		Message: string(msg),
	}, nil
}

// DecodeOACK decodes the OACK payload (everything after the 2-byte
// opcode) into a flat sequence of NUL-delimited (name, value) pairs. A
// trailing run of bytes that doesn't form a complete pair is silently
// dropped — at least one observed server emits a garbage suffix, and
// spec-level option parsing tolerates it.
func DecodeOACK(p []byte) ([]Option, error) {
	if len(p) < 2 {
		return nil, fmt.Errorf("OACK packet underlength: %d bytes", len(p))
	}
	body := p[2:]
	var opts []Option
	for len(body) > 0 {
		ni := bytes.IndexByte(body, 0)
		if ni < 0 {
			break // trailing garbage with no NUL: tolerated, stop here
		}
		name := string(body[:ni])
		body = body[ni+1:]

		vi := bytes.IndexByte(body, 0)
		if vi < 0 {
			break // value never terminated: tolerated, stop here
		}
		value := string(body[:vi])
		body = body[vi+1:]

		opts = append(opts, Option{Name: name, Value: value})
	}
	return opts, nil
}
