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

// Package logging provides the small logging shim used throughout this
// module, matching the Logf-closure convention used by the teacher's
// engine.Init/obj.init.Logf pattern rather than pulling in a logging
// framework for what is, at this scale, a handful of debug lines.
package logging

// Logger carries a Logf closure and a Debug flag, the same shape the
// teacher's engine.Init passes into every resource.
type Logger struct {
	// Logf is called for every log line. It must not be nil.
	Logf func(format string, v ...interface{})
	// Debug enables verbose, per-packet logging.
	Debug bool
}

// Debugf logs only when Debug is set.
func (l *Logger) Debugf(format string, v ...interface{}) {
	if l == nil || !l.Debug {
		return
	}
	l.Logf(format, v...)
}

// Logln logs unconditionally.
func (l *Logger) Logln(format string, v ...interface{}) {
	if l == nil || l.Logf == nil {
		return
	}
	l.Logf(format, v...)
}

// LogWriter is a simple io.Writer adapter that prefixes and forwards to a
// Logf-shaped function. Useful for handing a *Logger to code that wants a
// plain io.Writer (e.g. wiring up an hpet/afero trace).
type LogWriter struct {
	Prefix string
	Logf   func(format string, v ...interface{})
}

// Write satisfies the io.Writer interface.
func (w *LogWriter) Write(p []byte) (int, error) {
	w.Logf(w.Prefix + string(p))
	return len(p), nil
}
