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

// Package bitmap implements BlockBitmap, the growable set of received
// 0-based TFTP block indices used by the engine to track out-of-order
// multicast delivery and to compute ACK block numbers (the first gap).
package bitmap

import "github.com/bits-and-blooms/bitset"

// BlockBitmap is a semantic set over [0, N) where N can only grow. It
// never shrinks: Resize only ever extends capacity, preserving whatever
// bits are already set, mirroring the gPXE bitmap's "resize preserves
// existing bits" contract.
type BlockBitmap struct {
	bits *bitset.BitSet
	n    uint // current logical length, independent of the BitSet's own capacity
}

// New returns an empty bitmap of logical length n.
func New(n uint) *BlockBitmap {
	return &BlockBitmap{
		bits: bitset.New(n),
		n:    n,
	}
}

// Resize extends the bitmap's logical length to at least n, preserving
// membership. It never shrinks: a call with n <= the current length is a
// no-op.
func (b *BlockBitmap) Resize(n uint) {
	if n <= b.n {
		return
	}
	b.n = n
	if b.bits == nil {
		b.bits = bitset.New(n)
		return
	}
	// bitset grows lazily on Set, but we want Full()/Len() to see the
	// new logical length immediately even before any bit past the old
	// length is set, so force the underlying storage to grow now.
	b.bits.Set(n - 1)
	b.bits.Clear(n - 1)
}

// Set inserts i into the set. It is idempotent. Setting an index at or
// beyond the current logical length grows the bitmap to include it.
func (b *BlockBitmap) Set(i uint) {
	if i >= b.n {
		b.Resize(i + 1)
	}
	b.bits.Set(i)
}

// Test reports whether i is a member.
func (b *BlockBitmap) Test(i uint) bool {
	if b.bits == nil {
		return false
	}
	return b.bits.Test(i)
}

// Len returns the bitmap's current logical length (N).
func (b *BlockBitmap) Len() uint {
	return b.n
}

// FirstGap returns the smallest non-member index. If every index in
// [0, N) is a member, it returns N.
func (b *BlockBitmap) FirstGap() uint {
	if b.bits == nil {
		return 0
	}
	i, ok := b.bits.NextClear(0)
	if !ok || i >= b.n {
		return b.n
	}
	return i
}

// Full reports whether every index in [0, N) is a member and N > 0.
func (b *BlockBitmap) Full() bool {
	if b.n == 0 {
		return false
	}
	return b.FirstGap() == b.n
}
