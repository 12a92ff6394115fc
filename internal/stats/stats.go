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

// Package stats is a periodic CSV status logger, adapted from the
// teacher's std.SnmpLogger: same ticker-driven, append-one-row-per-period
// shape, reporting the instrument's record/lost counters and each
// subscriber's lost-byte count instead of KCP's SNMP counters.
package stats

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/timetag-tools/timetagd/internal/fanout"
	"github.com/timetag-tools/timetagd/internal/instrument"
)

// Sample is one row's worth of acquisition statistics.
type Sample struct {
	RecordCount     uint32
	LostRecordCount uint32
	Subscribers     []SubscriberSample
}

// SubscriberSample reports one fanout subscriber's state for a sample.
type SubscriberSample struct {
	Name string
	Lost uint64
	Dead bool
}

func collect(ctx context.Context, facade *instrument.Facade, fo *fanout.Fanout) (Sample, error) {
	recCount, err := facade.RecordCount(ctx)
	if err != nil {
		return Sample{}, err
	}
	lostCount, err := facade.LostRecordCount(ctx)
	if err != nil {
		return Sample{}, err
	}
	s := Sample{RecordCount: recCount, LostRecordCount: lostCount}
	for _, sub := range fo.List() {
		s.Subscribers = append(s.Subscribers, SubscriberSample{
			Name: sub.Name,
			Lost: sub.Lost(),
			Dead: sub.Dead(),
		})
	}
	return s, nil
}

func header(n int) []string {
	cols := []string{"Unix", "RecordCount", "LostRecordCount"}
	for i := 0; i < n; i++ {
		cols = append(cols, fmt.Sprintf("Sub%dName", i), fmt.Sprintf("Sub%dLost", i), fmt.Sprintf("Sub%dDead", i))
	}
	return cols
}

func row(s Sample) []string {
	cols := []string{
		fmt.Sprint(time.Now().Unix()),
		fmt.Sprint(s.RecordCount),
		fmt.Sprint(s.LostRecordCount),
	}
	for _, sub := range s.Subscribers {
		cols = append(cols, sub.Name, fmt.Sprint(sub.Lost), fmt.Sprint(sub.Dead))
	}
	return cols
}

// Run appends one CSV row to path every period until ctx is canceled. path
// is passed through time.Format the same way std.SnmpLogger does, so an
// operator can roll daily files with a path like "stats-2006-01-02.csv". An
// empty path or non-positive period disables logging entirely.
func Run(ctx context.Context, path string, period time.Duration, facade *instrument.Facade, fo *fanout.Fanout) {
	if path == "" || period <= 0 {
		return
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample, err := collect(ctx, facade, fo)
			if err != nil {
				log.Println("stats:", err)
				continue
			}
			if err := appendRow(path, sample); err != nil {
				log.Println("stats:", err)
			}
		}
	}
}

func appendRow(path string, s Sample) error {
	dir, file := filepath.Split(path)
	f, err := os.OpenFile(dir+time.Now().Format(file), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
		if err := w.Write(header(len(s.Subscribers))); err != nil {
			return err
		}
	}
	if err := w.Write(row(s)); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
