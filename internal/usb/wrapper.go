package usb

import (
	"encoding/binary"
	"fmt"
)

// USB mass-storage bulk-only transport framing: every SCSI command is a
// 31-byte command block wrapper (CBW), an optional data phase, and a 13-byte
// command status wrapper (CSW) read back from the device.
const (
	cbwLength = 31
	cswLength = 13

	cbwFlagsIn  = 0x80
	cbwFlagsOut = 0x00
)

var (
	cbwSignature = [4]byte{'U', 'S', 'B', 'C'}
	cswSignature = [4]byte{'U', 'S', 'B', 'S'}
)

// commandBlock serializes a CBW (little-endian) carrying a 16-byte CDB.
func commandBlock(tag uint32, dataLen uint32, dirIn bool, cdb []byte) []byte {
	flags := byte(cbwFlagsOut)
	if dirIn {
		flags = cbwFlagsIn
	}

	buf := make([]byte, cbwLength)
	copy(buf[0:4], cbwSignature[:])
	binary.LittleEndian.PutUint32(buf[4:8], tag)
	binary.LittleEndian.PutUint32(buf[8:12], dataLen)
	buf[12] = flags
	buf[13] = 0 // LUN
	buf[14] = 16
	copy(buf[15:31], cdb)
	return buf
}

// commandStatus is a parsed CSW.
type commandStatus struct {
	tag     uint32
	residue uint32
	status  byte
}

func parseCommandStatus(buf []byte) (commandStatus, error) {
	if len(buf) < cswLength {
		return commandStatus{}, fmt.Errorf("usb: short status block: %d bytes", len(buf))
	}
	if [4]byte(buf[0:4]) != cswSignature {
		return commandStatus{}, fmt.Errorf("usb: bad status block signature % x", buf[0:4])
	}
	return commandStatus{
		tag:     binary.LittleEndian.Uint32(buf[4:8]),
		residue: binary.LittleEndian.Uint32(buf[8:12]),
		status:  buf[12],
	}, nil
}
