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

package options

import (
	"testing"

	"github.com/purpleidea/tftpget/internal/status"
	"github.com/purpleidea/tftpget/internal/wire"
)

func TestParseBlksizeAndTsize(t *testing.T) {
	p, err := Parse([]wire.Option{
		{Name: "BlkSize", Value: "1024"}, // case-insensitive name
		{Name: "tsize", Value: "4096"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Blksize == nil || *p.Blksize != 1024 {
		t.Errorf("got blksize %v", p.Blksize)
	}
	if p.Tsize == nil || *p.Tsize != 4096 {
		t.Errorf("got tsize %v", p.Tsize)
	}
}

func TestParseBlksizeTrailingGarbage(t *testing.T) {
	_, err := Parse([]wire.Option{{Name: "blksize", Value: "1024x"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if e, ok := err.(*Error); !ok || e.Status != status.InvalidBlksize {
		t.Errorf("expected InvalidBlksize, got %v", err)
	}
}

func TestParseTsizeTrailingGarbage(t *testing.T) {
	_, err := Parse([]wire.Option{{Name: "tsize", Value: "4096x"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if e, ok := err.(*Error); !ok || e.Status != status.InvalidTsize {
		t.Errorf("expected InvalidTsize, got %v", err)
	}
}

func TestParseUnknownOptionIgnored(t *testing.T) {
	p, err := Parse([]wire.Option{{Name: "timeout", Value: "5"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Blksize != nil || p.Tsize != nil || p.Multicast != nil {
		t.Errorf("expected everything nil for unknown option, got %+v", p)
	}
}

func TestParseMulticastMasterClient(t *testing.T) {
	p, err := Parse([]wire.Option{{Name: "multicast", Value: "239.0.0.1,5000,1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Multicast == nil || !p.Multicast.MasterClient || !p.Multicast.HasAddrPort {
		t.Fatalf("got %+v", p.Multicast)
	}
	if p.Multicast.Addr.String() != "239.0.0.1" || p.Multicast.Port != 5000 {
		t.Errorf("got addr=%v port=%v", p.Multicast.Addr, p.Multicast.Port)
	}
}

func TestParseMulticastNonMasterClient(t *testing.T) {
	p, err := Parse([]wire.Option{{Name: "multicast", Value: "239.0.0.1,5000,0"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Multicast.MasterClient {
		t.Errorf("expected non-master client")
	}
}

func TestParseMulticastDeferredAddress(t *testing.T) {
	p, err := Parse([]wire.Option{{Name: "multicast", Value: ",,1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Multicast.HasAddrPort {
		t.Errorf("expected no addr/port when server defers assignment")
	}
	if !p.Multicast.MasterClient {
		t.Errorf("expected master client true")
	}
}

func TestParseMulticastMissingPort(t *testing.T) {
	_, err := Parse([]wire.Option{{Name: "multicast", Value: "239.0.0.1"}})
	if e, ok := err.(*Error); !ok || e.Status != status.MulticastMissingPort {
		t.Errorf("expected MulticastMissingPort, got %v", err)
	}
}

func TestParseMulticastMissingMC(t *testing.T) {
	_, err := Parse([]wire.Option{{Name: "multicast", Value: "239.0.0.1,5000"}})
	if e, ok := err.(*Error); !ok || e.Status != status.MulticastMissingMC {
		t.Errorf("expected MulticastMissingMC, got %v", err)
	}
}

func TestParseMulticastInvalidMC(t *testing.T) {
	_, err := Parse([]wire.Option{{Name: "multicast", Value: "239.0.0.1,5000,2"}})
	if e, ok := err.(*Error); !ok || e.Status != status.MulticastInvalidMC {
		t.Errorf("expected MulticastInvalidMC, got %v", err)
	}
}

func TestParseMulticastInvalidIP(t *testing.T) {
	_, err := Parse([]wire.Option{{Name: "multicast", Value: "not-an-ip,5000,1"}})
	if e, ok := err.(*Error); !ok || e.Status != status.MulticastInvalidIP {
		t.Errorf("expected MulticastInvalidIP, got %v", err)
	}
}

func TestParseMulticastInvalidPort(t *testing.T) {
	_, err := Parse([]wire.Option{{Name: "multicast", Value: "239.0.0.1,notaport,1"}})
	if e, ok := err.(*Error); !ok || e.Status != status.MulticastInvalidPort {
		t.Errorf("expected MulticastInvalidPort, got %v", err)
	}
}
