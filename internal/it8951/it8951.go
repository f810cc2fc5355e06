// Package it8951 speaks the IT8951 controller's vendor SCSI command set over
// a generic "send CDB, move data" transport. It owns the vendor command
// codes, register addresses, and the undocumented packed-pixel activation
// sequence, so that a different controller could be substituted by swapping
// this one package.
package it8951

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Transport is the synchronous SCSI primitive below the protocol layer:
// issue one 16-byte CDB, then move the data phase in the named direction.
// All calls block until the device acknowledges the command. Calls must not
// overlap: the controller's command queue is strictly sequential and a
// second in-flight command corrupts its state.
type Transport interface {
	// Read issues cdb and fills buf from the data-in phase.
	Read(cdb []byte, buf []byte) error
	// Write issues cdb and sends buf as the data-out phase.
	Write(cdb []byte, buf []byte) error
	Close() error
}

// ErrDeviceCommand is wrapped by every failed controller operation. There is
// no automatic retry: retrying a partially issued command risks leaving the
// controller in a state only a full reset can fix.
var ErrDeviceCommand = errors.New("it8951: device command failed")

// Vendor command opcodes (byte 6 of the customer CDB).
const (
	cdbCustomer = 0xfe

	opGetSys        = 0x80
	opReadMemory    = 0x81
	opWriteMemory   = 0x82
	opDisplayArea   = 0x94
	opLoadImageArea = 0xa2
	opPMICControl   = 0xa3
	opFastWriteMem  = 0xa5
	opSoftwareReset = 0xa7
)

// MaxTransfer is the largest data phase the IT8951 USB firmware accepts.
const MaxTransfer = 60 * 1024

// Registers involved in the packed-pixel activation sequence. The mode flip
// itself is not part of the documented command set.
const (
	// RegPackedPixelCtrl gains 1-bit drawing (bit 17) and image pitch
	// mode (bit 18) when OR-ed with regPackedPixelBits.
	RegPackedPixelCtrl = 0x1800_1138
	// RegBitmapColorTable maps bit values to pixel bytes: low byte for 1,
	// high byte for 0.
	RegBitmapColorTable = 0x1800_1250
	// RegImagePitch is the packed row pitch in 32-bit words.
	RegImagePitch = 0x1800_124c

	regPackedPixelBits = 1<<18 | 1<<17
	// 1 draws white (0xf0), 0 draws black (0x00).
	regColorWhiteBlack = 0xf0 | 0x00<<8
)

// SystemInfo is the controller's GET_SYS response (big-endian on the wire).
type SystemInfo struct {
	StandardCmdNo   uint32
	ExtendedCmdNo   uint32
	Signature       uint32
	Version         uint32
	Width           uint32
	Height          uint32
	UpdateBufBase   uint32
	ImageBufferBase uint32
	TemperatureNo   uint32
	Mode            Mode
	FrameCount      [8]uint32
	NumImgBuf       uint32
	Reserved        [9]uint32
}

const systemInfoSize = 28 * 4

// Inquiry is the standard SCSI identity response. A healthy IT8951 reports
// the uninteresting "Generic / Storage RamDisc".
type Inquiry struct {
	Vendor   string
	Product  string
	Revision string
}

// Device drives one IT8951 controller over a Transport.
type Device struct {
	t    Transport
	info SystemInfo
}

// Open fetches the controller's system information over the given transport
// and returns a ready protocol handle.
func Open(t Transport) (*Device, error) {
	d := &Device{t: t}
	info, err := d.getSys()
	if err != nil {
		return nil, err
	}
	d.info = info
	return d, nil
}

// SystemInfo returns the controller description captured at Open.
func (d *Device) SystemInfo() SystemInfo {
	return d.info
}

func (d *Device) Close() error {
	return d.t.Close()
}

func cmdErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrDeviceCommand, err)
}

// Inquiry issues a standard SCSI INQUIRY.
func (d *Device) Inquiry() (Inquiry, error) {
	cdb := make([]byte, 16)
	cdb[0] = 0x12
	cdb[6] = 0x81

	buf := make([]byte, 40)
	if err := d.t.Read(cdb, buf); err != nil {
		return Inquiry{}, cmdErr("inquiry", err)
	}
	return Inquiry{
		Vendor:   strings.TrimSpace(string(buf[8:16])),
		Product:  strings.TrimSpace(string(buf[16:32])),
		Revision: strings.TrimSpace(string(buf[32:36])),
	}, nil
}

func (d *Device) getSys() (SystemInfo, error) {
	// Signature "8951" embedded in the CDB.
	cdb := []byte{
		cdbCustomer, 0x00,
		0x38, 0x39, 0x35, 0x31,
		opGetSys, 0x00, 0x01, 0x00, 0x02,
		0, 0, 0, 0, 0,
	}

	buf := make([]byte, systemInfoSize)
	if err := d.t.Read(cdb, buf); err != nil {
		return SystemInfo{}, cmdErr("get_sys", err)
	}
	return parseSystemInfo(buf), nil
}

func parseSystemInfo(buf []byte) SystemInfo {
	u32 := func(i int) uint32 {
		return binary.BigEndian.Uint32(buf[i*4:])
	}
	info := SystemInfo{
		StandardCmdNo:   u32(0),
		ExtendedCmdNo:   u32(1),
		Signature:       u32(2),
		Version:         u32(3),
		Width:           u32(4),
		Height:          u32(5),
		UpdateBufBase:   u32(6),
		ImageBufferBase: u32(7),
		TemperatureNo:   u32(8),
		Mode:            Mode(u32(9)),
		NumImgBuf:       u32(18),
	}
	for i := range info.FrameCount {
		info.FrameCount[i] = u32(10 + i)
	}
	for i := range info.Reserved {
		info.Reserved[i] = u32(19 + i)
	}
	return info
}

// memoryCDB builds the CDB shared by the memory read/write/fast-write
// commands: opcode plus a device address and data-phase length.
func memoryCDB(op byte, addr uint32, length int) []byte {
	cdb := make([]byte, 16)
	cdb[0] = cdbCustomer
	binary.BigEndian.PutUint32(cdb[2:6], addr)
	cdb[6] = op
	binary.BigEndian.PutUint16(cdb[7:9], uint16(length))
	return cdb
}

// ReadRegister reads one 32-bit register from device memory.
func (d *Device) ReadRegister(addr uint32) (uint32, error) {
	buf := make([]byte, 4)
	if err := d.t.Read(memoryCDB(opReadMemory, addr, len(buf)), buf); err != nil {
		return 0, cmdErr(fmt.Sprintf("read_register addr=0x%08x", addr), err)
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// WriteRegister writes one 32-bit register in device memory.
func (d *Device) WriteRegister(addr uint32, value uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, value)
	if err := d.t.Write(memoryCDB(opWriteMemory, addr, len(buf)), buf); err != nil {
		return cmdErr(fmt.Sprintf("write_register addr=0x%08x value=0x%08x", addr, value), err)
	}
	return nil
}

// FastWrite streams raw bytes into device memory at addr with the vendor
// fast-write command, bypassing the slower grayscale-oriented image load
// path. Transfers are chunked at MaxTransfer. This is the sole path by which
// packed frame bytes reach an image buffer slot.
func (d *Device) FastWrite(addr uint32, data []byte) error {
	for off := 0; off < len(data); off += MaxTransfer {
		end := off + MaxTransfer
		if end > len(data) {
			end = len(data)
		}
		chunk := data[off:end]
		dst := addr + uint32(off)
		if err := d.t.Write(memoryCDB(opFastWriteMem, dst, len(chunk)), chunk); err != nil {
			return cmdErr(fmt.Sprintf("fast_write addr=0x%08x len=%d", dst, len(chunk)), err)
		}
	}
	return nil
}

// Region is a rectangle on the panel, in pixels.
type Region struct {
	X, Y, W, H uint32
}

// LoadImageArea uploads 8bpp pixel data for a region through the documented
// LD_IMG_AREA command. The playback path never uses this (FastWrite carries
// the packed frames); it remains the upload path for the full-panel clear.
func (d *Device) LoadImageArea(addr uint32, region Region, data []byte) error {
	cdb := make([]byte, 16)
	cdb[0] = cdbCustomer
	cdb[6] = opLoadImageArea

	// Area header precedes the pixels in the data phase, big-endian:
	// address, x, y, w, h.
	buf := make([]byte, 20+len(data))
	binary.BigEndian.PutUint32(buf[0:], addr)
	binary.BigEndian.PutUint32(buf[4:], region.X)
	binary.BigEndian.PutUint32(buf[8:], region.Y)
	binary.BigEndian.PutUint32(buf[12:], region.W)
	binary.BigEndian.PutUint32(buf[16:], region.H)
	copy(buf[20:], data)

	if err := d.t.Write(cdb, buf); err != nil {
		return cmdErr(fmt.Sprintf("ld_image_area addr=0x%08x y=%d h=%d", addr, region.Y, region.H), err)
	}
	return nil
}

// Display triggers a refresh of the region from the image at addr using the
// requested waveform mode. wait_ready=1 makes the controller hold off until
// the previous refresh has finished, so the call is synchronous with respect
// to the panel.
func (d *Device) Display(addr uint32, mode Mode, region Region) error {
	cdb := make([]byte, 16)
	cdb[0] = cdbCustomer
	cdb[6] = opDisplayArea

	// Big-endian display area: address, mode, x, y, w, h, wait_ready.
	buf := make([]byte, 28)
	binary.BigEndian.PutUint32(buf[0:], addr)
	binary.BigEndian.PutUint32(buf[4:], uint32(mode))
	binary.BigEndian.PutUint32(buf[8:], region.X)
	binary.BigEndian.PutUint32(buf[12:], region.Y)
	binary.BigEndian.PutUint32(buf[16:], region.W)
	binary.BigEndian.PutUint32(buf[20:], region.H)
	binary.BigEndian.PutUint32(buf[24:], 1)

	if err := d.t.Write(cdb, buf); err != nil {
		return cmdErr(fmt.Sprintf("display addr=0x%08x mode=%s", addr, mode), err)
	}
	return nil
}

// SetVCOM sets the panel bias voltage through the PMIC control command.
// volts must be in [-5.0, 0).
func (d *Device) SetVCOM(volts float64) error {
	if volts < -5.0 || volts >= 0 {
		return fmt.Errorf("it8951: vcom %.2f out of range [-5.0, 0)", volts)
	}
	mv := uint16(math.Round(-volts * 1000))

	cdb := make([]byte, 16)
	cdb[0] = cdbCustomer
	cdb[6] = opPMICControl
	binary.BigEndian.PutUint16(cdb[7:9], mv)
	cdb[9] = 1 // set VCOM
	cdb[10] = 0
	cdb[11] = 0

	if err := d.t.Write(cdb, nil); err != nil {
		return cmdErr(fmt.Sprintf("set_vcom mv=%d", mv), err)
	}
	return nil
}

// Reset issues the vendor software reset and returns the refreshed system
// information.
func (d *Device) Reset() (SystemInfo, error) {
	cdb := make([]byte, 16)
	cdb[0] = cdbCustomer
	cdb[6] = opSoftwareReset

	buf := make([]byte, systemInfoSize)
	if err := d.t.Read(cdb, buf); err != nil {
		return SystemInfo{}, cmdErr("software_reset", err)
	}
	d.info = parseSystemInfo(buf)
	return d.info, nil
}

// EnablePackedPixel flips the controller into 1-bit-per-pixel packed mode
// for this session, a capability not exposed through the documented command
// set. It must run once, before any frame is transferred or displayed:
//
//   - OR the 1-bit drawing and image pitch bits into the control register
//   - map bit 1 to white (0xf0) and bit 0 to black (0x00)
//   - program the packed row pitch, in 32-bit words
func (d *Device) EnablePackedPixel(width uint32) error {
	reg, err := d.ReadRegister(RegPackedPixelCtrl)
	if err != nil {
		return err
	}
	if err := d.WriteRegister(RegPackedPixelCtrl, reg|regPackedPixelBits); err != nil {
		return err
	}
	if err := d.WriteRegister(RegBitmapColorTable, regColorWhiteBlack); err != nil {
		return err
	}
	return d.WriteRegister(RegImagePitch, (width/8)/4)
}

// ClearDisplay paints the whole panel white through the documented 8bpp load
// path and an INIT-mode refresh. Used on shutdown so the panel is not left
// holding the last video frame.
func (d *Device) ClearDisplay() error {
	w := d.info.Width
	h := d.info.Height
	addr := d.info.ImageBufferBase

	// Band height limited by the max transfer size minus the area header.
	rows := uint32((MaxTransfer - 20) / int(w))
	white := make([]byte, int(rows)*int(w))
	for i := range white {
		white[i] = 0xff
	}

	for y := uint32(0); y < h; y += rows {
		band := rows
		if y+band > h {
			band = h - y
		}
		region := Region{X: 0, Y: y, W: w, H: band}
		if err := d.LoadImageArea(addr, region, white[:int(band)*int(w)]); err != nil {
			return err
		}
	}

	return d.Display(addr, ModeINIT, Region{X: 0, Y: 0, W: w, H: h})
}
