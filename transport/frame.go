package transport

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/temoto/efstat/crc"
)

const (
	FrameMagic        byte = 0xaa
	FrameVersion      byte = 0x02
	FrameHeaderSize        = 16
	FrameTrailerSize       = 2
	FrameOverhead          = FrameHeaderSize + FrameTrailerSize
	DefaultFrameLimit      = 4 << 10
)

var (
	ErrFrameInvalid  = fmt.Errorf("frame is invalid")
	ErrFrameTooLarge = fmt.Errorf("frame is too large")
)

type FrameHeader struct {
	Version byte
	Flags   byte
	Seq     uint32
	Src     byte
	Dst     byte
	CmdSet  byte
	CmdID   byte
}

type Frame struct {
	Header   FrameHeader
	Payload  []byte
	Received time.Time
}

func (f Frame) String() string {
	return fmt.Sprintf("(seq=%d src=%02x dst=%02x cmd=%02x:%02x payload=(%d)%x)",
		f.Header.Seq, f.Header.Src, f.Header.Dst, f.Header.CmdSet, f.Header.CmdID, len(f.Payload), f.Payload)
}

// Encode builds wire bytes. Zero Version is replaced with FrameVersion.
func Encode(h FrameHeader, payload []byte) []byte {
	if h.Version == 0 {
		h.Version = FrameVersion
	}
	b := make([]byte, FrameOverhead+len(payload))
	b[0] = FrameMagic
	b[1] = h.Version
	binary.LittleEndian.PutUint16(b[2:], uint16(len(payload)))
	b[4] = crc.CRC8_p07_n(0, b[:4])
	b[5] = h.Flags
	binary.LittleEndian.PutUint32(b[6:], h.Seq)
	b[12] = h.Src
	b[13] = h.Dst
	b[14] = h.CmdSet
	b[15] = h.CmdID
	copy(b[FrameHeaderSize:], payload)
	end := len(b) - FrameTrailerSize
	binary.LittleEndian.PutUint16(b[end:], crc.CRC16_arc_n(0, b[:end]))
	return b
}

func parseHeader(b []byte) FrameHeader {
	return FrameHeader{
		Version: b[1],
		Flags:   b[5],
		Seq:     binary.LittleEndian.Uint32(b[6:]),
		Src:     b[12],
		Dst:     b[13],
		CmdSet:  b[14],
		CmdID:   b[15],
	}
}
