package transport

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/juju/errors"
	"github.com/temoto/efstat/crc"
)

// Framer reassembles frames from byte stream.
// Garbage between frames and corrupted frames are skipped by scanning
// for the next magic byte, each skip is counted in Stat.
type Framer struct {
	r     *bufio.Reader
	limit int
	stat  *Stat
}

func NewFramer(r io.Reader, limit int, stat *Stat) *Framer {
	if limit <= FrameOverhead {
		limit = DefaultFrameLimit
	}
	if stat == nil {
		stat = new(Stat)
	}
	return &Framer{
		r:     bufio.NewReaderSize(r, limit),
		limit: limit,
		stat:  stat,
	}
}

func (fr *Framer) Read() (Frame, error) {
	for {
		header, err := fr.r.Peek(FrameHeaderSize)
		switch err {
		case nil:
		case io.EOF:
			if len(header) == 0 {
				return Frame{}, io.EOF
			}
			return Frame{}, errors.Annotate(io.ErrUnexpectedEOF, "header")
		default:
			return Frame{}, errors.Annotate(err, "header")
		}

		if header[0] != FrameMagic {
			skip := bytes.IndexByte(header[1:], FrameMagic) + 1
			if skip == 0 {
				skip = len(header)
			}
			fr.skip(skip)
			continue
		}
		if crc.CRC8_p07_n(0, header[:4]) != header[4] {
			fr.stat.CrcError.Add(1)
			fr.skip(1)
			continue
		}
		total := int(binary.LittleEndian.Uint16(header[2:])) + FrameOverhead
		if total > fr.limit {
			fr.stat.Oversize.Add(1)
			fr.skip(1)
			continue
		}

		b, err := fr.r.Peek(total)
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return Frame{}, errors.Annotate(err, "frame")
		}
		end := total - FrameTrailerSize
		if crc.CRC16_arc_n(0, b[:end]) != binary.LittleEndian.Uint16(b[end:]) {
			fr.stat.CrcError.Add(1)
			fr.skip(1)
			continue
		}

		f := Frame{Header: parseHeader(b)}
		if end > FrameHeaderSize {
			f.Payload = append([]byte(nil), b[FrameHeaderSize:end]...)
		}
		if _, err = fr.r.Discard(total); err != nil {
			return Frame{}, errors.Annotate(err, "discard")
		}
		fr.stat.Frames.Add(1)
		return f, nil
	}
}

func (fr *Framer) skip(n int) {
	fr.stat.Resync.Add(int64(n))
	_, _ = fr.r.Discard(n)
}
