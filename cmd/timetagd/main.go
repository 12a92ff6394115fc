// The MIT License (MIT)
//
// Copyright (c) 2024 timetag-tools authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"os/user"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/timetag-tools/timetagd/internal/broker"
	"github.com/timetag-tools/timetagd/internal/config"
	"github.com/timetag-tools/timetagd/internal/device"
	"github.com/timetag-tools/timetagd/internal/fanout"
	"github.com/timetag-tools/timetagd/internal/instrument"
	"github.com/timetag-tools/timetagd/internal/readout"
	"github.com/timetag-tools/timetagd/internal/stats"
)

// daemonizedEnv marks a process as the detached child of a -d re-exec, so
// the child doesn't re-daemonize itself.
const daemonizedEnv = "TIMETAGD_DAEMONIZED"

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "timetagd"
	myApp.Usage = "timetagger acquisition daemon"
	myApp.Version = VERSION
	myApp.Flags = config.Flags
	myApp.Action = run
	if err := myApp.Run(os.Args); err != nil {
		log.Printf("%+v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.FromContext(c)
	if err != nil {
		return err
	}

	if cfg.Daemonize && os.Getenv(daemonizedEnv) == "" {
		return daemonize()
	}

	if cfg.Log != "" {
		f, err := os.OpenFile(cfg.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		defer f.Close()
		log.SetOutput(f)
	}

	log.Println("version:", VERSION)
	log.Println("socket:", cfg.Socket)
	log.Println("highwater:", cfg.HighWater)

	transport, err := device.Open()
	if err != nil {
		return err
	}
	dev := device.New(transport)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	facade, err := instrument.Open(ctx, dev)
	if err != nil {
		dev.Close()
		return err
	}
	defer facade.Close()

	fo := fanout.New(cfg.HighWater)
	defer fo.Close()
	fo.Add("stdout", os.Stdout, false)

	worker := readout.New(facade.Device().RawTransport(), facade.FlushState(), fo.Publish)
	stop := make(chan struct{})
	go worker.Run(stop)
	defer close(stop)

	go stats.Run(ctx, cfg.StatsLog, time.Duration(cfg.StatsPeriod)*time.Second, facade, fo)

	b := broker.New(facade, fo)

	var ln *net.UnixListener
	if cfg.Socket != "" {
		ln, err = listenUnix(cfg.Socket)
		if err != nil {
			return err
		}
		defer ln.Close()
		defer os.Remove(cfg.Socket)
		dropPrivileges()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	errc := make(chan error, 1)
	if ln != nil {
		go func() { errc <- broker.ListenAndServe(ctx, b, ln) }()
	} else {
		go func() { errc <- broker.ServeStdin(ctx, b, os.Stdin, os.Stderr) }()
	}

	select {
	case <-sig:
		log.Println("shutting down")
	case err := <-errc:
		if err != nil {
			log.Println("broker:", err)
		}
	}
	return nil
}

// daemonize re-execs the current binary detached from the controlling
// terminal (new session via Setsid) and exits the parent immediately. A
// true fork(2) isn't available once the Go runtime has started extra
// threads, so re-exec is the standard workaround.
func daemonize() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer devnull.Close()

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonizedEnv+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	return cmd.Start()
}

// listenUnix binds a control socket at path, removing any stale inode first
// and chmodding 0666 (or 0660 if a "timetag" group exists), per SPEC_FULL.md
// §6's filesystem discipline.
func listenUnix(path string) (*net.UnixListener, error) {
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return nil, err
		}
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, err
	}

	mode := os.FileMode(0666)
	if _, err := user.LookupGroup("timetag"); err == nil {
		mode = 0660
	}
	if err := os.Chmod(path, mode); err != nil {
		ln.Close()
		return nil, err
	}
	return ln, nil
}

// dropPrivileges attempts to switch effective uid/gid to the "timetag"
// account, if one exists; failure is logged but non-fatal, matching
// spec.md §6 ("attempts to drop").
func dropPrivileges() {
	u, err := user.Lookup("timetag")
	if err != nil {
		return
	}
	gid, err := strconv.Atoi(u.Gid)
	if err == nil {
		if err := syscall.Setegid(gid); err != nil {
			log.Println("setegid:", err)
		}
	}
	uid, err := strconv.Atoi(u.Uid)
	if err == nil {
		if err := syscall.Seteuid(uid); err != nil {
			log.Println("seteuid:", err)
		}
	}
}

