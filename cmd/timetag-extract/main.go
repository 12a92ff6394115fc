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
	"path/filepath"
	"strings"

	"github.com/urfave/cli"

	"github.com/timetag-tools/timetagd/internal/extracting"
)

func main() {
	myApp := cli.NewApp()
	myApp.Name = "timetag-extract"
	myApp.Usage = "split a photon record stream into per-channel timestamp files"
	myApp.ArgsUsage = "INPUT-FILE"
	myApp.Action = func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.NewExitError("usage: timetag-extract INPUT-FILE", 1)
		}
		in := c.Args().Get(0)
		f, err := os.Open(in)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		defer f.Close()

		root := strings.TrimSuffix(in, filepath.Ext(in))
		if err := extracting.Run(f, root); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		return nil
	}
	if err := myApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
