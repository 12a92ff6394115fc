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
	"log"
	"os"

	"github.com/urfave/cli"

	"github.com/timetag-tools/timetagd/internal/cutting"
)

func main() {
	myApp := cli.NewApp()
	myApp.Name = "timetag-cut"
	myApp.Usage = "filter a photon record stream by time window, channel, and record count"
	opts := cutting.DefaultOptions()
	myApp.Flags = []cli.Flag{
		cli.IntFlag{Name: "strobe-on, s", Value: -1, Usage: "keep only STROBE records with this channel set (-1 for all)"},
		cli.IntFlag{Name: "delta-on, d", Value: -1, Usage: "keep only STROBE records with this channel's last DELTA state set (-1 for all)"},
		cli.Uint64Flag{Name: "start-time, t", Usage: "drop records before this time"},
		cli.Uint64Flag{Name: "end-time, T", Usage: "drop records after this time"},
		cli.UintFlag{Name: "skip-records, r", Usage: "drop the first N records"},
		cli.UintFlag{Name: "truncate-records, R", Usage: "drop records at and after the Nth"},
		cli.UintFlag{Name: "drop-initial-wraps, W", Usage: "discard records until the Nth wrap"},
		cli.BoolFlag{Name: "preserve-wraps, w", Usage: "keep wrap-flagged records (channels masked) even if filtered out"},
	}
	myApp.Action = func(c *cli.Context) error {
		opts.StrobeOn = c.Int("strobe-on")
		opts.DeltaOn = c.Int("delta-on")
		opts.StartTime = c.Uint64("start-time")
		if c.IsSet("end-time") {
			opts.EndTime = c.Uint64("end-time")
		}
		opts.SkipRecords = uint32(c.Uint("skip-records"))
		opts.TruncateRecords = uint32(c.Uint("truncate-records"))
		opts.DropInitialWraps = c.Uint("drop-initial-wraps")
		opts.PreserveWraps = c.Bool("preserve-wraps")

		if err := cutting.Run(os.Stdin, os.Stdout, opts); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		return nil
	}
	if err := myApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
