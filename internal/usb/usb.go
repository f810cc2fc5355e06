// Package usb reaches the IT8951 through its USB mass-storage interface:
// SCSI CDBs wrapped in bulk-only transport command blocks on one bulk OUT /
// bulk IN endpoint pair. It implements the it8951.Transport primitive.
package usb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"
)

// Endpoint numbers of the controller's mass-storage interface.
const (
	endpointIn  = 1 // 0x81
	endpointOut = 2 // 0x02
)

// DefaultTimeout bounds each bulk call. A hung transfer is fatal, not
// retried.
const DefaultTimeout = time.Second

// cswRetries bounds how often a stalled status-phase read is retried before
// the command is reported as failed.
const cswRetries = 3

// Config selects and times the USB device.
type Config struct {
	VendorID  uint16
	ProductID uint16
	Timeout   time.Duration
}

// Transport is a bulk-only SCSI transport over one claimed USB interface.
// It is not safe for concurrent use; the protocol layer serializes all
// commands on a single goroutine.
type Transport struct {
	ctx     *gousb.Context
	dev     *gousb.Device
	intf    *gousb.Interface
	release func()
	in      *gousb.InEndpoint
	out     *gousb.OutEndpoint
	timeout time.Duration
	tag     uint32
}

// Open claims interface 0 of the first matching device, detaching any bound
// kernel driver (the controller enumerates as generic mass storage, so
// usb-storage usually owns it).
func Open(cfg Config) (*Transport, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(cfg.VendorID), gousb.ID(cfg.ProductID))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("usb: open device %04x:%04x: %w", cfg.VendorID, cfg.ProductID, err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("usb: device %04x:%04x not found", cfg.VendorID, cfg.ProductID)
	}

	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usb: auto-detach kernel driver: %w", err)
	}

	intf, release, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usb: claim interface: %w", err)
	}

	in, err := intf.InEndpoint(endpointIn)
	if err == nil {
		var out *gousb.OutEndpoint
		out, err = intf.OutEndpoint(endpointOut)
		if err == nil {
			return &Transport{
				ctx:     ctx,
				dev:     dev,
				intf:    intf,
				release: release,
				in:      in,
				out:     out,
				timeout: timeout,
				tag:     1,
			}, nil
		}
	}

	release()
	dev.Close()
	ctx.Close()
	return nil, fmt.Errorf("usb: resolve bulk endpoints: %w", err)
}

// Read issues cdb and fills buf from the data-in phase.
func (t *Transport) Read(cdb []byte, buf []byte) error {
	if err := t.sendCommandBlock(cdb, uint32(len(buf)), true); err != nil {
		return err
	}
	if len(buf) > 0 {
		if err := t.bulkIn(buf); err != nil {
			return fmt.Errorf("usb: data-in phase: %w", err)
		}
	}
	return t.readCommandStatus()
}

// Write issues cdb and sends buf as the data-out phase.
func (t *Transport) Write(cdb []byte, buf []byte) error {
	if err := t.sendCommandBlock(cdb, uint32(len(buf)), false); err != nil {
		return err
	}
	if len(buf) > 0 {
		if err := t.bulkOut(buf); err != nil {
			return fmt.Errorf("usb: data-out phase: %w", err)
		}
	}
	return t.readCommandStatus()
}

func (t *Transport) Close() error {
	t.release()
	err := t.dev.Close()
	if cerr := t.ctx.Close(); err == nil {
		err = cerr
	}
	return err
}

func (t *Transport) sendCommandBlock(cdb []byte, dataLen uint32, dirIn bool) error {
	if len(cdb) != 16 {
		return fmt.Errorf("usb: CDB must be 16 bytes, got %d", len(cdb))
	}
	cbw := commandBlock(t.tag, dataLen, dirIn, cdb)
	t.tag++
	if err := t.bulkOut(cbw); err != nil {
		return fmt.Errorf("usb: command block: %w", err)
	}
	return nil
}

// readCommandStatus completes a command by reading the CSW. The controller
// stalls the IN endpoint while it is still busy with a long refresh; per the
// bulk-only transport spec the halt is cleared and the status read retried.
func (t *Transport) readCommandStatus() error {
	buf := make([]byte, cswLength)

	var err error
	for attempt := 0; attempt <= cswRetries; attempt++ {
		if err = t.bulkIn(buf); err == nil {
			break
		}
		if !errors.Is(err, gousb.TransferStall) {
			return fmt.Errorf("usb: status phase: %w", err)
		}
		if cerr := t.clearHaltIn(); cerr != nil {
			return fmt.Errorf("usb: clear halt after stall: %w", cerr)
		}
	}
	if err != nil {
		return fmt.Errorf("usb: status phase stalled: %w", err)
	}

	csw, err := parseCommandStatus(buf)
	if err != nil {
		return err
	}
	if csw.status != 0 {
		return fmt.Errorf("usb: command failed with status %d (residue %d)", csw.status, csw.residue)
	}
	return nil
}

// clearHaltIn issues the standard CLEAR_FEATURE(ENDPOINT_HALT) request for
// the bulk IN endpoint.
func (t *Transport) clearHaltIn() error {
	const (
		reqTypeEndpointOut = 0x02 // standard request, endpoint recipient
		reqClearFeature    = 0x01
		featureHalt        = 0x00
		epInAddress        = 0x80 | endpointIn
	)
	_, err := t.dev.Control(reqTypeEndpointOut, reqClearFeature, featureHalt, epInAddress, nil)
	return err
}

func (t *Transport) bulkIn(buf []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	n, err := t.in.ReadContext(ctx, buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("short read: %d of %d bytes", n, len(buf))
	}
	return nil
}

func (t *Transport) bulkOut(buf []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	n, err := t.out.WriteContext(ctx, buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(buf))
	}
	return nil
}
