package telemetry

// Values are read and modified atomically, but not consistently.

import (
	"expvar"
	"fmt"
)

type Stat struct {
	Frames       expvar.Int
	Unrecognized expvar.Int
	DecodeError  expvar.Int
	ParseError   expvar.Int
	Disconnect   expvar.Int
	Dropped      expvar.Int
	EventDropped expvar.Int
}

func (s *Stat) String() string {
	return fmt.Sprintf(`{"frames":%d,"unrecognized":%d,"decode_error":%d,"parse_error":%d,"disconnect":%d,"dropped":%d,"event_dropped":%d}`,
		s.Frames.Value(), s.Unrecognized.Value(), s.DecodeError.Value(), s.ParseError.Value(),
		s.Disconnect.Value(), s.Dropped.Value(), s.EventDropped.Value())
}
