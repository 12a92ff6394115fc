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

// Package broker implements the line-oriented command grammar that exposes
// the instrument facade to interactive clients: the daemon's own stdin, and
// any number of concurrent clients on a Unix domain socket. One mutex
// serializes every command's effect on the facade so clients (and the
// readout worker's own register traffic, if any) never interleave.
package broker

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/timetag-tools/timetagd/internal/fanout"
	"github.com/timetag-tools/timetagd/internal/instrument"
)

// Broker dispatches command lines against a facade and a fanout.
type Broker struct {
	facade *instrument.Facade
	fanout *fanout.Fanout

	mu sync.Mutex
}

// New constructs a Broker over facade and fanout.
func New(facade *instrument.Facade, fo *fanout.Fanout) *Broker {
	return &Broker{facade: facade, fanout: fo}
}

type verb struct {
	arity int // -1 means variadic, checked by the handler itself
	fn    func(b *Broker, ctx context.Context, s *session, args []string) (string, error)
}

var verbs map[string]verb

func init() {
	verbs = map[string]verb{
		"start_capture":   {0, (*Broker).cmdStartCapture},
		"stop_capture":    {0, (*Broker).cmdStopCapture},
		"capture?":        {0, (*Broker).cmdCaptureQuery},
		"reset":           {0, (*Broker).cmdReset},
		"flush_fifo":      {0, (*Broker).cmdFlushFifo},
		"set_send_window": {1, (*Broker).cmdSetSendWindow},

		"strobe_operate":  {2, (*Broker).cmdStrobeOperate},
		"strobe_operate?": {1, (*Broker).cmdStrobeOperateQuery},
		"delta_operate":   {2, (*Broker).cmdDeltaOperate},
		"delta_operate?":  {1, (*Broker).cmdDeltaOperateQuery},

		"version?":           {0, (*Broker).cmdVersionQuery},
		"clockrate?":         {0, (*Broker).cmdClockrateQuery},
		"reset_counter":      {0, (*Broker).cmdResetCounter},
		"record_count?":      {0, (*Broker).cmdRecordCountQuery},
		"lost_record_count?": {0, (*Broker).cmdLostRecordCountQuery},
		"seq_clockrate?":     {0, (*Broker).cmdSeqClockrateQuery},

		"seq_operate":  {1, (*Broker).cmdSeqOperate},
		"seq_operate?": {0, (*Broker).cmdSeqOperateQuery},
		"reset_seq":    {0, (*Broker).cmdResetSeq},

		"seqchan_operate":        {2, (*Broker).cmdSeqChanOperate},
		"seqchan_operate?":       {1, (*Broker).cmdSeqChanOperateQuery},
		"seqchan_config":         {5, (*Broker).cmdSeqChanConfig},
		"seqchan_initial_state?": {1, (*Broker).cmdSeqChanInitialStateQuery},
		"seqchan_initial_count?": {1, (*Broker).cmdSeqChanInitialCountQuery},
		"seqchan_low_count?":     {1, (*Broker).cmdSeqChanLowCountQuery},
		"seqchan_high_count?":    {1, (*Broker).cmdSeqChanHighCountQuery},

		"add_output_fd":  {1, (*Broker).cmdAddOutputFD},
		"add_output_file": {2, (*Broker).cmdAddOutputFile},
		"remove_output":  {1, (*Broker).cmdRemoveOutput},
		"list_outputs":   {0, (*Broker).cmdListOutputs},

		"help": {0, (*Broker).cmdHelp},
		"quit": {0, (*Broker).cmdQuit},
	}
}

// errQuit signals the session loop to stop after writing the response.
var errQuit = errors.New("broker: quit")

// Dispatch parses and executes one command line, returning the response
// text (without trailing newline) to write back to the client. A returned
// errQuit tells the caller to end the session after writing the response.
func (b *Broker) Dispatch(ctx context.Context, s *session, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	name := fields[0]
	args := fields[1:]

	v, ok := verbs[name]
	if !ok {
		return "error: unknown command", nil
	}
	if v.arity >= 0 && len(args) != v.arity {
		return fmt.Sprintf("error: invalid command (expects %d arguments)", v.arity), nil
	}

	b.mu.Lock()
	resp, err := v.fn(b, ctx, s, args)
	b.mu.Unlock()

	if err == errQuit {
		return resp, errQuit
	}
	if err != nil {
		return "error: " + err.Error(), nil
	}
	return resp, nil
}

func parseUint(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}

func parseBool(s string) (bool, error) {
	switch s {
	case "0", "false", "off":
		return false, nil
	case "1", "true", "on":
		return true, nil
	}
	return false, errors.Errorf("not a boolean: %q", s)
}

func parseChan(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if v < 0 || v >= instrument.NumSequencerChannels {
		return 0, errors.Errorf("channel out of range: %d", v)
	}
	return v, nil
}

// parseMaskChan parses a channel argument for the strobe/delta verbs, whose
// masks are 4 bits wide (spec §3) rather than the 16-channel sequencer range
// parseChan admits.
func parseMaskChan(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if v < 0 || v >= instrument.NumDataChannels {
		return 0, errors.Errorf("channel out of range: %d", v)
	}
	return v, nil
}

func boolResp(v bool) string {
	if v {
		return "= 1"
	}
	return "= 0"
}

func (b *Broker) cmdStartCapture(ctx context.Context, s *session, args []string) (string, error) {
	if err := b.facade.StartCapture(ctx); err != nil {
		return "", err
	}
	return "= ok", nil
}

func (b *Broker) cmdStopCapture(ctx context.Context, s *session, args []string) (string, error) {
	if err := b.facade.StopCapture(ctx); err != nil {
		return "", err
	}
	return "= ok", nil
}

func (b *Broker) cmdCaptureQuery(ctx context.Context, s *session, args []string) (string, error) {
	v, err := b.facade.CaptureEnabled(ctx)
	if err != nil {
		return "", err
	}
	return boolResp(v), nil
}

func (b *Broker) cmdReset(ctx context.Context, s *session, args []string) (string, error) {
	if err := b.facade.Reset(ctx); err != nil {
		return "", err
	}
	return "= ok", nil
}

func (b *Broker) cmdFlushFifo(ctx context.Context, s *session, args []string) (string, error) {
	if err := b.facade.FlushFifo(ctx); err != nil {
		return "", err
	}
	return "= ok", nil
}

func (b *Broker) cmdSetSendWindow(ctx context.Context, s *session, args []string) (string, error) {
	size, err := parseUint(args[0])
	if err != nil {
		return "", err
	}
	if err := b.facade.Device().SetSendWindow(size); err != nil {
		return "", err
	}
	return "= ok", nil
}

func (b *Broker) cmdStrobeOperate(ctx context.Context, s *session, args []string) (string, error) {
	ch, err := parseMaskChan(args[0])
	if err != nil {
		return "", err
	}
	en, err := parseBool(args[1])
	if err != nil {
		return "", err
	}
	if err := b.facade.SetStrobeOperate(ctx, ch, en); err != nil {
		return "", err
	}
	return "= ok", nil
}

func (b *Broker) cmdStrobeOperateQuery(ctx context.Context, s *session, args []string) (string, error) {
	ch, err := parseMaskChan(args[0])
	if err != nil {
		return "", err
	}
	v, err := b.facade.StrobeOperate(ctx, ch)
	if err != nil {
		return "", err
	}
	return boolResp(v), nil
}

func (b *Broker) cmdDeltaOperate(ctx context.Context, s *session, args []string) (string, error) {
	ch, err := parseMaskChan(args[0])
	if err != nil {
		return "", err
	}
	en, err := parseBool(args[1])
	if err != nil {
		return "", err
	}
	if err := b.facade.SetDeltaOperate(ctx, ch, en); err != nil {
		return "", err
	}
	return "= ok", nil
}

func (b *Broker) cmdDeltaOperateQuery(ctx context.Context, s *session, args []string) (string, error) {
	ch, err := parseMaskChan(args[0])
	if err != nil {
		return "", err
	}
	v, err := b.facade.DeltaOperate(ctx, ch)
	if err != nil {
		return "", err
	}
	return boolResp(v), nil
}

func (b *Broker) cmdVersionQuery(ctx context.Context, s *session, args []string) (string, error) {
	v, err := b.facade.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("= %d", v), nil
}

func (b *Broker) cmdClockrateQuery(ctx context.Context, s *session, args []string) (string, error) {
	v, err := b.facade.Clockrate(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("= %d", v), nil
}

func (b *Broker) cmdResetCounter(ctx context.Context, s *session, args []string) (string, error) {
	if err := b.facade.ResetCounter(ctx); err != nil {
		return "", err
	}
	return "= ok", nil
}

func (b *Broker) cmdRecordCountQuery(ctx context.Context, s *session, args []string) (string, error) {
	v, err := b.facade.RecordCount(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("= %d", v), nil
}

func (b *Broker) cmdLostRecordCountQuery(ctx context.Context, s *session, args []string) (string, error) {
	v, err := b.facade.LostRecordCount(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("= %d", v), nil
}

func (b *Broker) cmdSeqClockrateQuery(ctx context.Context, s *session, args []string) (string, error) {
	v, err := b.facade.SeqClockrate(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("= %d", v), nil
}

func (b *Broker) cmdSeqOperate(ctx context.Context, s *session, args []string) (string, error) {
	en, err := parseBool(args[0])
	if err != nil {
		return "", err
	}
	if err := b.facade.SetGlobalSequencerOperate(ctx, en); err != nil {
		return "", err
	}
	return "= ok", nil
}

func (b *Broker) cmdSeqOperateQuery(ctx context.Context, s *session, args []string) (string, error) {
	v, err := b.facade.GlobalSequencerOperate(ctx)
	if err != nil {
		return "", err
	}
	return boolResp(v), nil
}

func (b *Broker) cmdResetSeq(ctx context.Context, s *session, args []string) (string, error) {
	if err := b.facade.ResetSequencer(ctx); err != nil {
		return "", err
	}
	return "= ok", nil
}

func (b *Broker) cmdSeqChanOperate(ctx context.Context, s *session, args []string) (string, error) {
	ch, err := parseChan(args[0])
	if err != nil {
		return "", err
	}
	en, err := parseBool(args[1])
	if err != nil {
		return "", err
	}
	if err := b.facade.SetSeqChanOperate(ctx, ch, en); err != nil {
		return "", err
	}
	return "= ok", nil
}

func (b *Broker) cmdSeqChanOperateQuery(ctx context.Context, s *session, args []string) (string, error) {
	ch, err := parseChan(args[0])
	if err != nil {
		return "", err
	}
	v, err := b.facade.SeqChanOperate(ctx, ch)
	if err != nil {
		return "", err
	}
	return boolResp(v), nil
}

func (b *Broker) cmdSeqChanConfig(ctx context.Context, s *session, args []string) (string, error) {
	ch, err := parseChan(args[0])
	if err != nil {
		return "", err
	}
	initialState, err := parseBool(args[1])
	if err != nil {
		return "", err
	}
	initialCount, err := parseUint(args[2])
	if err != nil {
		return "", err
	}
	low, err := parseUint(args[3])
	if err != nil {
		return "", err
	}
	high, err := parseUint(args[4])
	if err != nil {
		return "", err
	}

	if err := b.facade.SetSeqChanInitialState(ctx, ch, initialState); err != nil {
		return "", err
	}
	if err := b.facade.SetSeqChanInitialCount(ctx, ch, initialCount); err != nil {
		return "", err
	}
	if err := b.facade.SetSeqChanLowCount(ctx, ch, low); err != nil {
		return "", err
	}
	if err := b.facade.SetSeqChanHighCount(ctx, ch, high); err != nil {
		return "", err
	}
	return "= ok", nil
}

func (b *Broker) cmdSeqChanInitialStateQuery(ctx context.Context, s *session, args []string) (string, error) {
	ch, err := parseChan(args[0])
	if err != nil {
		return "", err
	}
	v, err := b.facade.SeqChanInitialState(ctx, ch)
	if err != nil {
		return "", err
	}
	return boolResp(v), nil
}

func (b *Broker) cmdSeqChanInitialCountQuery(ctx context.Context, s *session, args []string) (string, error) {
	ch, err := parseChan(args[0])
	if err != nil {
		return "", err
	}
	v, err := b.facade.SeqChanInitialCount(ctx, ch)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("= %d", v), nil
}

func (b *Broker) cmdSeqChanLowCountQuery(ctx context.Context, s *session, args []string) (string, error) {
	ch, err := parseChan(args[0])
	if err != nil {
		return "", err
	}
	v, err := b.facade.SeqChanLowCount(ctx, ch)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("= %d", v), nil
}

func (b *Broker) cmdSeqChanHighCountQuery(ctx context.Context, s *session, args []string) (string, error) {
	ch, err := parseChan(args[0])
	if err != nil {
		return "", err
	}
	v, err := b.facade.SeqChanHighCount(ctx, ch)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("= %d", v), nil
}

func (b *Broker) cmdAddOutputFD(ctx context.Context, s *session, args []string) (string, error) {
	if s == nil || !s.supportsFDs() {
		return "", errors.New("add_output_fd requires a control-socket session")
	}
	s.pendingFDName = args[0]
	return "ready", nil
}

func (b *Broker) cmdAddOutputFile(ctx context.Context, s *session, args []string) (string, error) {
	name, path := args[0], args[1]
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_NONBLOCK, 0644)
	if err != nil {
		return "", errors.Wrap(err, "add_output_file")
	}
	b.fanout.Add(name, f, true)
	return "= ok", nil
}

func (b *Broker) cmdRemoveOutput(ctx context.Context, s *session, args []string) (string, error) {
	n := b.fanout.Remove(args[0])
	return fmt.Sprintf("= %d", n), nil
}

func (b *Broker) cmdListOutputs(ctx context.Context, s *session, args []string) (string, error) {
	var sb strings.Builder
	for i, sub := range b.fanout.List() {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "= %s %d %d", sub.Name, sub.Fd(), sub.Lost())
	}
	return sb.String(), nil
}

var helpText = strings.Join([]string{
	"= start_capture", "= stop_capture", "= capture?", "= reset", "= flush_fifo",
	"= set_send_window SIZE", "= strobe_operate CH EN", "= strobe_operate? CH",
	"= delta_operate CH EN", "= delta_operate? CH", "= version?", "= clockrate?",
	"= reset_counter", "= record_count?", "= lost_record_count?", "= seq_clockrate?",
	"= seq_operate EN", "= seq_operate?", "= reset_seq", "= seqchan_operate CH EN",
	"= seqchan_operate? CH", "= seqchan_config CH INITIAL_STATE INITIAL_COUNT LOW_COUNT HIGH_COUNT",
	"= seqchan_initial_state? CH", "= seqchan_initial_count? CH", "= seqchan_low_count? CH",
	"= seqchan_high_count? CH", "= add_output_fd NAME", "= add_output_file NAME PATH",
	"= remove_output NAME", "= list_outputs", "= help", "= quit",
}, "\n")

func (b *Broker) cmdHelp(ctx context.Context, s *session, args []string) (string, error) {
	return helpText, nil
}

func (b *Broker) cmdQuit(ctx context.Context, s *session, args []string) (string, error) {
	return "= ok", errQuit
}
