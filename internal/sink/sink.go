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

// Package sink defines the consumer (byte-sink) interface the engine
// delivers positioned data to, plus a default file-backed implementation
// built on afero so it can be exercised against an in-memory filesystem
// in tests without touching disk.
package sink

import (
	"github.com/spf13/afero"

	"github.com/purpleidea/tftpget/internal/errwrap"
	"github.com/purpleidea/tftpget/internal/status"
)

// Sink is the consumer interface the engine drives. Implementations
// receive positioned writes, a length hint, a flow-control window query,
// and a final close carrying the terminal status.
type Sink interface {
	// Seek repositions the next Deliver call's write offset.
	Seek(offset int64) error
	// Deliver writes p at the position set by the most recent Seek, then
	// advances that position by len(p).
	Deliver(p []byte) error
	// Window returns the consumer's preferred chunk size. The engine
	// does not call it; FileSink returns the value it was constructed
	// with.
	Window() int
	// Close is called exactly once, on completion (success or failure).
	Close(s status.Status) error
}

// FileSink writes a transfer to a single file on an afero filesystem,
// positioned by Seek/Deliver pairs exactly as the engine emits them.
type FileSink struct {
	fs   afero.Fs
	path string
	file afero.File
	win  int
}

// NewFileSink opens (creating/truncating) path on fs for writing. win is
// the value returned from Window(); pass 0 to mean "no preference".
func NewFileSink(fs afero.Fs, path string, win int) (*FileSink, error) {
	f, err := fs.Create(path)
	if err != nil {
		return nil, errwrap.Wrapf(err, "could not create sink file %s", path)
	}
	return &FileSink{fs: fs, path: path, file: f, win: win}, nil
}

// Seek implements Sink.
func (s *FileSink) Seek(offset int64) error {
	_, err := s.file.Seek(offset, 0)
	return errwrap.Wrapf(err, "seek failed on %s", s.path)
}

// Deliver implements Sink.
func (s *FileSink) Deliver(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	_, err := s.file.Write(p)
	return errwrap.Wrapf(err, "write failed on %s", s.path)
}

// Window implements Sink.
func (s *FileSink) Window() int { return s.win }

// Close implements Sink. It always closes the underlying file, even when
// the transfer failed, and on failure removes the partial file.
func (s *FileSink) Close(st status.Status) error {
	cerr := s.file.Close()
	if st != status.OK {
		_ = s.fs.Remove(s.path)
	}
	return errwrap.Wrapf(cerr, "close failed on %s", s.path)
}
