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
	"strconv"

	"github.com/urfave/cli"

	"github.com/timetag-tools/timetagd/internal/binning"
)

func main() {
	myApp := cli.NewApp()
	myApp.Name = "timetag-bin"
	myApp.Usage = "temporally bin a photon stream"
	myApp.ArgsUsage = "BIN_LENGTH"
	myApp.Flags = []cli.Flag{
		cli.BoolFlag{Name: "omit-zeros", Usage: "skip the runs of empty bins between records instead of zero-filling them"},
		cli.BoolFlag{Name: "prune", Usage: "zero-fill only the first and last bin of a long empty run"},
	}
	myApp.Action = func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.NewExitError("usage: timetag-bin [options] BIN_LENGTH", 1)
		}
		binLength, err := strconv.ParseUint(c.Args().Get(0), 10, 64)
		if err != nil {
			return cli.NewExitError("invalid BIN_LENGTH: "+err.Error(), 1)
		}
		opts := binning.Options{OmitZeros: c.Bool("omit-zeros"), Prune: c.Bool("prune")}
		if err := binning.Run(os.Stdin, os.Stdout, binLength, opts); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		return nil
	}
	if err := myApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
