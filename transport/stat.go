package transport

// Values are read and modified atomically, but not consistently.

import (
	"expvar"
	"fmt"
)

type Stat struct {
	Connect  expvar.Int
	Error    expvar.Int
	Bytes    expvar.Int
	Frames   expvar.Int
	Resync   expvar.Int
	CrcError expvar.Int
	Oversize expvar.Int
}

func (s *Stat) String() string {
	return fmt.Sprintf(`{"connect":%d,"error":%d,"bytes":%d,"frames":%d,"resync":%d,"crc_error":%d,"oversize":%d}`,
		s.Connect.Value(), s.Error.Value(), s.Bytes.Value(), s.Frames.Value(),
		s.Resync.Value(), s.CrcError.Value(), s.Oversize.Value())
}
