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

// Package config is the daemon's flag-plus-JSON-overlay configuration
// surface, in the teacher's Config-struct-over-cli.Context style.
package config

import (
	"encoding/json"
	"os"

	"github.com/urfave/cli"
)

// Config holds timetagd's operational settings. Nothing here persists any
// state of the instrument itself (the spec's Non-goals exclude that); this
// is only daemon plumbing.
type Config struct {
	Socket      string `json:"socket"`
	Log         string `json:"log"`
	Daemonize   bool   `json:"daemonize"`
	StatsLog    string `json:"statslog"`
	StatsPeriod int    `json:"statsperiod"`
	HighWater   int    `json:"highwater"`
}

// Flags is the urfave/cli flag surface for the daemon, mirroring
// server/main.go's Flags slice.
var Flags = []cli.Flag{
	cli.StringFlag{
		Name:  "s",
		Usage: "listen on the given filesystem socket path for control connections",
	},
	cli.StringFlag{
		Name:  "l",
		Usage: "redirect log output to PATH",
	},
	cli.BoolFlag{
		Name:  "d",
		Usage: "daemonize after startup",
	},
	cli.StringFlag{
		Name:  "c",
		Usage: "load a JSON configuration overlay from PATH",
	},
	cli.StringFlag{
		Name:  "statslog",
		Usage: "write periodic CSV acquisition statistics to PATH",
	},
	cli.IntFlag{
		Name:  "statsperiod",
		Value: 5,
		Usage: "seconds between statslog samples",
	},
	cli.IntFlag{
		Name:  "highwater",
		Value: 1000,
		Usage: "per-subscriber queue depth before a slow subscriber is dropped",
	},
}

// FromContext builds a Config from the parsed CLI flags, then applies a
// JSON overlay from -c if one was given, matching server/main.go's
// Action-then-parseJSONConfig order.
func FromContext(c *cli.Context) (*Config, error) {
	cfg := &Config{
		Socket:      c.String("s"),
		Log:         c.String("l"),
		Daemonize:   c.Bool("d"),
		StatsLog:    c.String("statslog"),
		StatsPeriod: c.Int("statsperiod"),
		HighWater:   c.Int("highwater"),
	}

	if path := c.String("c"); path != "" {
		if err := overlayJSON(cfg, path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func overlayJSON(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(cfg)
}
