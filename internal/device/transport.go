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

// Package device implements the register request/reply protocol and bulk
// data transport to the timetagger FPGA over a USB-like host interface.
package device

import (
	"context"
	"time"

	"github.com/google/gousb"
	"github.com/pkg/errors"
)

const (
	// VendorID and ProductID identify the timetagger's USB device.
	VendorID  = 0x04b4
	ProductID = 0x1004

	cmdEndpoint   = 0x02
	dataEndpoint  = 0x86
	replyEndpoint = 0x88
)

// ErrNoDevice is returned when the device cannot be found on the USB bus.
var ErrNoDevice = errors.New("device: not found")

// Transport is the set of raw USB operations the register protocol and the
// readout worker need. Production code uses USBTransport (backed by
// github.com/google/gousb); tests substitute a fake.
type Transport interface {
	// SendCommand writes a frame to the command endpoint.
	SendCommand(ctx context.Context, frame []byte) error
	// RecvReply reads up to len(buf) bytes from the reply endpoint, returning
	// the number of bytes actually read.
	RecvReply(ctx context.Context, buf []byte) (int, error)
	// ReadData reads up to len(buf) bytes from the bulk data endpoint.
	ReadData(ctx context.Context, buf []byte) (int, error)
	// ControlOut issues a host-to-device vendor control transfer.
	ControlOut(request uint8, value uint16) error
	Close() error
}

// USBTransport is the gousb-backed Transport used against real hardware.
//
// Grounded on f5ae9b69_guiperry-HASHER__internal-driver-device-usb_device.go.go's
// OpenDeviceWithVIDPID/Config/Interface/InEndpoint/OutEndpoint/ReadContext
// shape, generalized from a single IN/OUT endpoint pair to the timetagger's
// three endpoints (command, reply, data).
type USBTransport struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface

	cmdOut   *gousb.OutEndpoint
	dataIn   *gousb.InEndpoint
	replyIn  *gousb.InEndpoint
}

// Open claims the timetagger's USB interface and resolves its three
// endpoints.
func Open() (*USBTransport, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(VendorID, ProductID)
	if err != nil {
		ctx.Close()
		return nil, errors.Wrap(err, "device: open")
	}
	if dev == nil {
		ctx.Close()
		return nil, ErrNoDevice
	}

	config, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, errors.Wrap(err, "device: set config")
	}

	intf, err := config.Interface(0, 0)
	if err != nil {
		config.Close()
		dev.Close()
		ctx.Close()
		return nil, errors.Wrap(err, "device: claim interface")
	}

	cmdOut, err := intf.OutEndpoint(cmdEndpoint)
	if err != nil {
		intf.Close()
		config.Close()
		dev.Close()
		ctx.Close()
		return nil, errors.Wrap(err, "device: open command endpoint")
	}

	dataIn, err := intf.InEndpoint(dataEndpoint)
	if err != nil {
		intf.Close()
		config.Close()
		dev.Close()
		ctx.Close()
		return nil, errors.Wrap(err, "device: open data endpoint")
	}

	replyIn, err := intf.InEndpoint(replyEndpoint)
	if err != nil {
		intf.Close()
		config.Close()
		dev.Close()
		ctx.Close()
		return nil, errors.Wrap(err, "device: open reply endpoint")
	}

	return &USBTransport{
		ctx:     ctx,
		dev:     dev,
		config:  config,
		intf:    intf,
		cmdOut:  cmdOut,
		dataIn:  dataIn,
		replyIn: replyIn,
	}, nil
}

func (t *USBTransport) SendCommand(ctx context.Context, frame []byte) error {
	_, err := t.cmdOut.WriteContext(ctx, frame)
	if err != nil {
		return errors.Wrap(err, "device: send command")
	}
	return nil
}

func (t *USBTransport) RecvReply(ctx context.Context, buf []byte) (int, error) {
	n, err := t.replyIn.ReadContext(ctx, buf)
	if err != nil {
		return n, errors.Wrap(err, "device: recv reply")
	}
	return n, nil
}

func (t *USBTransport) ReadData(ctx context.Context, buf []byte) (int, error) {
	n, err := t.dataIn.ReadContext(ctx, buf)
	return n, err // caller distinguishes timeout/overflow from fatal errors
}

// ControlOut issues a vendor-specific, host-to-device, device-recipient
// control transfer with no data stage (requests 0x01 set-send-window and
// 0x02 flush-FX2-FIFO, per the register protocol in SPEC_FULL.md §4.B).
func (t *USBTransport) ControlOut(request uint8, value uint16) error {
	const (
		reqTypeVendor   = 0x2 << 5
		reqTypeToDevice = 0x0
		reqTypeHost2Dev = 0x0 << 7
	)
	_, err := t.dev.Control(reqTypeToDevice|reqTypeVendor|reqTypeHost2Dev, request, value, 0, nil)
	if err != nil {
		return errors.Wrap(err, "device: control transfer")
	}
	return nil
}

func (t *USBTransport) Close() error {
	t.intf.Close()
	t.config.Close()
	t.dev.Close()
	t.ctx.Close()
	return nil
}

// DataReadTimeout is the steady-state bulk read timeout used by the readout
// worker (§4.D): long enough to avoid busy-polling, short enough to observe
// a flush/stop request promptly.
const DataReadTimeout = 500 * time.Millisecond

// DrainReadTimeout is the short timeout used while draining stale data
// during the flush protocol (§4.D do_flush).
const DrainReadTimeout = 10 * time.Millisecond
