package it8951

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
)

type fakeCall struct {
	dir  string // "in" or "out"
	cdb  []byte
	data []byte
}

// fakeTransport records every command and answers data-in phases from a
// queue of canned payloads.
type fakeTransport struct {
	calls     []fakeCall
	responses [][]byte
	failAfter int // fail calls with index >= failAfter; -1 disables
}

func newFakeTransport(responses ...[]byte) *fakeTransport {
	return &fakeTransport{responses: responses, failAfter: -1}
}

func (f *fakeTransport) Read(cdb []byte, buf []byte) error {
	f.calls = append(f.calls, fakeCall{dir: "in", cdb: bytes.Clone(cdb)})
	if f.failAfter >= 0 && len(f.calls) > f.failAfter {
		return errors.New("transport broken")
	}
	if len(f.responses) == 0 {
		return fmt.Errorf("unexpected read of %d bytes", len(buf))
	}
	copy(buf, f.responses[0])
	f.responses = f.responses[1:]
	return nil
}

func (f *fakeTransport) Write(cdb []byte, buf []byte) error {
	f.calls = append(f.calls, fakeCall{dir: "out", cdb: bytes.Clone(cdb), data: bytes.Clone(buf)})
	if f.failAfter >= 0 && len(f.calls) > f.failAfter {
		return errors.New("transport broken")
	}
	return nil
}

func (f *fakeTransport) Close() error { return nil }

// sysInfoPayload builds a big-endian GET_SYS response.
func sysInfoPayload(width, height, bufBase uint32) []byte {
	words := make([]uint32, 28)
	words[4] = width
	words[5] = height
	words[6] = 0x0010_0000 // update buffer base
	words[7] = bufBase
	words[9] = 2 // reported mode

	buf := make([]byte, len(words)*4)
	for i, w := range words {
		binary.BigEndian.PutUint32(buf[i*4:], w)
	}
	return buf
}

func openTestDevice(t *testing.T, ft *fakeTransport) *Device {
	t.Helper()
	d, err := Open(ft)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return d
}

func TestOpenFetchesSystemInfo(t *testing.T) {
	ft := newFakeTransport(sysInfoPayload(1872, 1404, 0x0011_9f00))
	d := openTestDevice(t, ft)

	info := d.SystemInfo()
	if info.Width != 1872 || info.Height != 1404 {
		t.Errorf("panel = %dx%d, want 1872x1404", info.Width, info.Height)
	}
	if info.ImageBufferBase != 0x0011_9f00 {
		t.Errorf("ImageBufferBase = %#x", info.ImageBufferBase)
	}
	if info.Mode != ModeGC16 {
		t.Errorf("Mode = %s, want GC16", info.Mode)
	}

	cdb := ft.calls[0].cdb
	want := []byte{0xfe, 0x00, 0x38, 0x39, 0x35, 0x31, 0x80, 0x00, 0x01, 0x00, 0x02}
	if !bytes.Equal(cdb[:11], want) {
		t.Errorf("GET_SYS cdb = % x, want prefix % x", cdb, want)
	}
}

func TestReadRegister(t *testing.T) {
	value := []byte{0x34, 0x12, 0x00, 0x00} // 0x1234 little-endian
	ft := newFakeTransport(sysInfoPayload(1872, 1404, 0), value)
	d := openTestDevice(t, ft)

	got, err := d.ReadRegister(RegPackedPixelCtrl)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0x1234 {
		t.Errorf("ReadRegister = %#x, want 0x1234", got)
	}

	cdb := ft.calls[1].cdb
	if cdb[0] != 0xfe || cdb[6] != 0x81 {
		t.Errorf("read memory cdb = % x", cdb)
	}
	if addr := binary.BigEndian.Uint32(cdb[2:6]); addr != RegPackedPixelCtrl {
		t.Errorf("cdb address = %#x, want %#x", addr, uint32(RegPackedPixelCtrl))
	}
	if length := binary.BigEndian.Uint16(cdb[7:9]); length != 4 {
		t.Errorf("cdb length = %d, want 4", length)
	}
}

func TestWriteRegister(t *testing.T) {
	ft := newFakeTransport(sysInfoPayload(1872, 1404, 0))
	d := openTestDevice(t, ft)

	if err := d.WriteRegister(RegImagePitch, 58); err != nil {
		t.Fatal(err)
	}

	call := ft.calls[1]
	if call.cdb[6] != 0x82 {
		t.Errorf("write memory opcode = %#x, want 0x82", call.cdb[6])
	}
	if want := []byte{58, 0, 0, 0}; !bytes.Equal(call.data, want) {
		t.Errorf("register data = % x, want % x (little-endian)", call.data, want)
	}
}

func TestFastWriteChunksAtMaxTransfer(t *testing.T) {
	ft := newFakeTransport(sysInfoPayload(1872, 1404, 0))
	d := openTestDevice(t, ft)

	const base = 0x0011_9f00
	data := make([]byte, MaxTransfer+100)
	for i := range data {
		data[i] = byte(i)
	}

	if err := d.FastWrite(base, data); err != nil {
		t.Fatal(err)
	}

	writes := ft.calls[1:]
	if len(writes) != 2 {
		t.Fatalf("got %d transfers, want 2", len(writes))
	}

	first, second := writes[0], writes[1]
	if first.cdb[6] != 0xa5 || second.cdb[6] != 0xa5 {
		t.Error("fast write opcode missing")
	}
	if addr := binary.BigEndian.Uint32(first.cdb[2:6]); addr != base {
		t.Errorf("first chunk address = %#x, want %#x", addr, uint32(base))
	}
	if addr := binary.BigEndian.Uint32(second.cdb[2:6]); addr != base+MaxTransfer {
		t.Errorf("second chunk address = %#x, want %#x", addr, uint32(base+MaxTransfer))
	}
	if len(first.data) != MaxTransfer || len(second.data) != 100 {
		t.Errorf("chunk sizes = %d, %d", len(first.data), len(second.data))
	}
	if !bytes.Equal(append(bytes.Clone(first.data), second.data...), data) {
		t.Error("chunked data does not reassemble to the input")
	}
}

func TestDisplayPayload(t *testing.T) {
	ft := newFakeTransport(sysInfoPayload(1872, 1404, 0))
	d := openTestDevice(t, ft)

	err := d.Display(0x0011_9f00, ModeA2, Region{X: 0, Y: 0, W: 1856, H: 1392})
	if err != nil {
		t.Fatal(err)
	}

	call := ft.calls[1]
	if call.cdb[0] != 0xfe || call.cdb[6] != 0x94 {
		t.Errorf("display cdb = % x", call.cdb)
	}
	if len(call.data) != 28 {
		t.Fatalf("display payload = %d bytes, want 28", len(call.data))
	}

	u32 := func(i int) uint32 { return binary.BigEndian.Uint32(call.data[i*4:]) }
	if u32(0) != 0x0011_9f00 {
		t.Errorf("address = %#x", u32(0))
	}
	if Mode(u32(1)) != ModeA2 {
		t.Errorf("mode = %d, want A2", u32(1))
	}
	if u32(4) != 1856 || u32(5) != 1392 {
		t.Errorf("region = %dx%d", u32(4), u32(5))
	}
	if u32(6) != 1 {
		t.Error("wait_ready not set")
	}
}

func TestSetVCOM(t *testing.T) {
	ft := newFakeTransport(sysInfoPayload(1872, 1404, 0))
	d := openTestDevice(t, ft)

	if err := d.SetVCOM(-1.58); err != nil {
		t.Fatal(err)
	}

	cdb := ft.calls[1].cdb
	if cdb[6] != 0xa3 {
		t.Errorf("pmic opcode = %#x, want 0xa3", cdb[6])
	}
	if mv := binary.BigEndian.Uint16(cdb[7:9]); mv != 1580 {
		t.Errorf("vcom millivolts = %d, want 1580", mv)
	}
	if cdb[9] != 1 {
		t.Error("set-vcom flag not set")
	}

	for _, bad := range []float64{0, 0.5, -5.01} {
		if err := d.SetVCOM(bad); err == nil {
			t.Errorf("SetVCOM(%v) accepted an out-of-range value", bad)
		}
	}
}

func TestEnablePackedPixel(t *testing.T) {
	// Controller reports an existing register value; the flip must OR the
	// mode bits into it rather than overwrite.
	existing := []byte{0x04, 0x00, 0x00, 0x00}
	ft := newFakeTransport(sysInfoPayload(1872, 1404, 0), existing)
	d := openTestDevice(t, ft)

	if err := d.EnablePackedPixel(1856); err != nil {
		t.Fatal(err)
	}

	// get_sys, read ctrl, write ctrl, write color table, write pitch.
	if len(ft.calls) != 5 {
		t.Fatalf("got %d transport calls, want 5", len(ft.calls))
	}

	ctrl := binary.LittleEndian.Uint32(ft.calls[2].data)
	if ctrl != 0x04|1<<17|1<<18 {
		t.Errorf("control register = %#x, want bits 17|18 OR-ed into 0x04", ctrl)
	}

	color := binary.LittleEndian.Uint32(ft.calls[3].data)
	if color != 0xf0 {
		t.Errorf("color table = %#x, want 0xf0 (1=white, 0=black)", color)
	}
	if addr := binary.BigEndian.Uint32(ft.calls[3].cdb[2:6]); addr != RegBitmapColorTable {
		t.Errorf("color table address = %#x", addr)
	}

	pitch := binary.LittleEndian.Uint32(ft.calls[4].data)
	if pitch != (1856/8)/4 {
		t.Errorf("pitch = %d, want %d dwords", pitch, (1856/8)/4)
	}
}

func TestResetRefreshesSystemInfo(t *testing.T) {
	ft := newFakeTransport(
		sysInfoPayload(1872, 1404, 0x0011_9f00),
		sysInfoPayload(800, 600, 0xbeef),
	)
	d := openTestDevice(t, ft)

	info, err := d.Reset()
	if err != nil {
		t.Fatal(err)
	}

	cdb := ft.calls[1].cdb
	if cdb[0] != 0xfe || cdb[6] != 0xa7 {
		t.Errorf("reset cdb = % x", cdb)
	}
	if info.Width != 800 || info.Height != 600 {
		t.Errorf("post-reset panel = %dx%d, want 800x600", info.Width, info.Height)
	}
	// The cached description follows the reset.
	if d.SystemInfo().ImageBufferBase != 0xbeef {
		t.Errorf("cached ImageBufferBase = %#x, want 0xbeef", d.SystemInfo().ImageBufferBase)
	}
}

func TestCommandFailureWrapsSentinel(t *testing.T) {
	ft := newFakeTransport(sysInfoPayload(1872, 1404, 0))
	d := openTestDevice(t, ft)
	ft.failAfter = 1

	err := d.WriteRegister(RegImagePitch, 1)
	if !errors.Is(err, ErrDeviceCommand) {
		t.Errorf("err = %v, want ErrDeviceCommand", err)
	}
}

func TestParseSystemInfoLayout(t *testing.T) {
	buf := sysInfoPayload(800, 600, 0xbeef)
	binary.BigEndian.PutUint32(buf[18*4:], 2) // num_img_buf

	info := parseSystemInfo(buf)
	if info.Width != 800 || info.Height != 600 {
		t.Errorf("geometry = %dx%d", info.Width, info.Height)
	}
	if info.UpdateBufBase != 0x0010_0000 {
		t.Errorf("UpdateBufBase = %#x", info.UpdateBufBase)
	}
	if info.ImageBufferBase != 0xbeef {
		t.Errorf("ImageBufferBase = %#x", info.ImageBufferBase)
	}
	if info.NumImgBuf != 2 {
		t.Errorf("NumImgBuf = %d", info.NumImgBuf)
	}
}

func TestModeString(t *testing.T) {
	tests := []struct {
		mode Mode
		want string
	}{
		{ModeINIT, "INIT"},
		{ModeA2, "A2"},
		{ModeGL16, "GL16"},
		{Mode(9), "Mode(9)"},
	}
	for _, tt := range tests {
		if got := tt.mode.String(); got != tt.want {
			t.Errorf("Mode(%d).String() = %q, want %q", uint32(tt.mode), got, tt.want)
		}
	}
}
