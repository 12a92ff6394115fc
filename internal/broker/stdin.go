package broker

import (
	"bufio"
	"context"
	"fmt"
	"io"
)

// ServeStdin runs the broker's read loop against in/out (os.Stdin/os.Stderr
// in production), per SPEC_FULL.md §4.F's "daemon's standard input, with
// responses on standard error" mode. It returns when in reaches EOF, the
// client sends quit, or ctx is canceled.
func ServeStdin(ctx context.Context, b *Broker, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	s := &session{}

	for {
		fmt.Fprintln(out, "ready")
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		resp, err := b.Dispatch(ctx, s, scanner.Text())
		if resp != "" {
			fmt.Fprintln(out, resp)
		}
		if err == errQuit {
			return nil
		}
	}
}
