package broker

import (
	"bytes"
	"context"
	"net"
	"os"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/sys/unix"
)

// ListenAndServe accepts connections on a Unix domain socket and runs one
// broker session per client, each with its own goroutine, per
// SPEC_FULL.md §4.F's multi-client mode. It returns when ln is closed.
func ListenAndServe(ctx context.Context, b *Broker, ln *net.UnixListener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			serveConn(ctx, b, conn)
		}()
	}
}

// oobBufSize comfortably holds one SCM_RIGHTS ancillary message carrying a
// single descriptor.
const oobBufSize = 32

func serveConn(ctx context.Context, b *Broker, conn *net.UnixConn) {
	s := &session{fdCapable: true}
	var pendingFDs []int

	var buf bytes.Buffer
	readBuf := make([]byte, 4096)
	oob := make([]byte, oobBufSize)

	writeLine := func(line string) bool {
		if line == "" {
			return true
		}
		if _, err := conn.Write(append([]byte(line), '\n')); err != nil {
			return false
		}
		return true
	}

	for {
		if !writeLine("ready") {
			return
		}
		if ctx.Err() != nil {
			return
		}

		line, ok := nextLine(&buf)
		for !ok {
			n, oobn, _, _, err := conn.ReadMsgUnix(readBuf, oob)
			if err != nil {
				return
			}
			if oobn > 0 {
				if fds := parseRights(oob[:oobn]); len(fds) > 0 {
					pendingFDs = append(pendingFDs, fds...)
				}
			}
			buf.Write(readBuf[:n])
			line, ok = nextLine(&buf)
		}

		if s.pendingFDName != "" && len(pendingFDs) > 0 {
			fd := pendingFDs[0]
			pendingFDs = pendingFDs[1:]
			registerReceivedFD(b, s.pendingFDName, fd)
			s.pendingFDName = ""
		}

		resp, err := b.Dispatch(ctx, s, line)
		writeLine(resp)
		if err == errQuit {
			return
		}
	}
}

// nextLine extracts one newline-terminated line from buf, if present.
func nextLine(buf *bytes.Buffer) (string, bool) {
	b := buf.Bytes()
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		return "", false
	}
	line := string(bytes.TrimRight(b[:i], "\r"))
	buf.Next(i + 1)
	return line, true
}

// parseRights extracts file descriptors carried as SCM_RIGHTS ancillary
// data, the idiomatic Go form of the original's raw SCM_RIGHTS handling.
func parseRights(oob []byte) []int {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil
	}
	var fds []int
	for _, m := range msgs {
		rights, err := unix.ParseUnixRights(&m)
		if err != nil {
			continue
		}
		fds = append(fds, rights...)
	}
	return fds
}

func registerReceivedFD(b *Broker, name string, fd int) {
	if err := unix.SetNonblock(fd, true); err != nil {
		color.Red("broker: set fd %d non-blocking: %v", fd, err)
	}
	f := os.NewFile(uintptr(fd), name)
	b.fanout.Add(name, f, true)
}
