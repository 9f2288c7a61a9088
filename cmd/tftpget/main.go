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

// Command tftpget is a small read-only TFTP/TFTM/MTFTP client built on
// top of internal/engine. It mirrors the argument-parsing dance in the
// teacher's cli/cli.go (arg.NewParser / parser.Parse / arg.ErrHelp /
// arg.ErrVersion), but flattened to a single command since this client
// has no subcommands to dispatch between.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/spf13/afero"

	"github.com/purpleidea/tftpget/internal/config"
	"github.com/purpleidea/tftpget/internal/engine"
	"github.com/purpleidea/tftpget/internal/logging"
	"github.com/purpleidea/tftpget/internal/sink"
	"github.com/purpleidea/tftpget/internal/status"
	"github.com/purpleidea/tftpget/internal/uri"
)

// version is set at compile time via -ldflags.
var version = "dev"

// args is the top-level CLI parsing structure and type of the parsed
// result.
type args struct {
	URI    string `arg:"positional,required" help:"tftp://, tftm://, or mtftp:// URI of the file to fetch"`
	Output string `arg:"positional,required" help:"local path to write the received file to"`

	Blksize       uint16        `arg:"--blksize" default:"512" help:"requested TFTP block size option"`
	MulticastAddr string        `arg:"--mtftp-addr" help:"MTFTP multicast rendezvous address (host:port)"`
	Timeout       time.Duration `arg:"--timeout" default:"2m" help:"give up if the transfer hasn't completed by this deadline"`
	Debug         bool          `arg:"--debug" help:"log every packet, not just terminal events"`
}

func (args) Version() string {
	return version
}

func (args) Description() string {
	return "tftpget fetches one file over classic TFTP, TFTM, or MTFTP."
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	var a args
	parser, err := arg.NewParser(arg.Config{Program: "tftpget"}, &a)
	if err != nil {
		return fmt.Errorf("cli config error: %w", err)
	}
	if err := parser.Parse(argv); err != nil {
		if err == arg.ErrHelp {
			parser.WriteHelp(os.Stdout)
			return nil
		}
		if err == arg.ErrVersion {
			fmt.Println(version)
			return nil
		}
		parser.WriteHelp(os.Stderr)
		return err
	}

	cfg := *config.Get()
	cfg.Blksize = a.Blksize
	if a.MulticastAddr != "" {
		cfg.MulticastAddr = a.MulticastAddr
	}
	config.Set(&cfg)

	u, err := uri.Parse(a.URI)
	if err != nil {
		return err
	}

	// Route every log line through a LogWriter so each one is prefixed
	// consistently, the way a teacher resource hands its Logf to an
	// io.Writer-shaped collaborator rather than calling log.Printf bare.
	lw := &logging.LogWriter{Prefix: "tftpget: ", Logf: func(format string, v ...interface{}) {
		fmt.Fprint(os.Stderr, format)
	}}
	stdlog := log.New(lw, "", log.LstdFlags)
	lg := &logging.Logger{Logf: stdlog.Printf, Debug: a.Debug}

	fs := afero.NewOsFs()
	snk, err := sink.NewFileSink(fs, a.Output, int(config.Get().Blksize))
	if err != nil {
		return err
	}

	req, err := engine.Open(u, snk, lg, nil)
	if err != nil {
		return err
	}

	select {
	case <-req.Done():
	case <-time.After(a.Timeout):
		req.Close()
		<-req.Done()
		return fmt.Errorf("tftpget: timed out after %s", a.Timeout)
	}

	if st := req.Status(); st != status.OK {
		return fmt.Errorf("tftpget: transfer failed: %s", st)
	}
	return nil
}
