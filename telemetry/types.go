package telemetry

import (
	"time"

	"github.com/temoto/efstat/transport"
)

// Message is one decoded frame. Payload still belongs to the device format,
// parsers turn it into Snapshot.
type Message struct {
	Kind    Kind
	Src     byte
	CmdSet  byte
	CmdID   byte
	Payload []byte
}

// Snapshot is parsed telemetry of one kind. It is shared by all subscribers
// and must not be modified after publishing.
type Snapshot struct {
	Kind    Kind               `json:"kind" yaml:"kind"`
	Model   int                `json:"model,omitempty" yaml:"model,omitempty"`
	Pack    int                `json:"pack,omitempty" yaml:"pack,omitempty"`
	Fields  map[string]float64 `json:"fields,omitempty" yaml:"fields,omitempty"`
	Payload []byte             `json:"-" yaml:"-"`
	At      time.Time          `json:"at" yaml:"at"`
}

func (s *Snapshot) Field(name string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	v, ok := s.Fields[name]
	return v, ok
}

// Source of complete frames. Frames() is closed when source terminates,
// Err() is the reason then, nil for normal completion.
type Source interface {
	Frames() <-chan transport.Frame
	Err() error
	Reconnect()
	Close() error
}

type Decoder interface {
	Decode(transport.Frame) (Message, error)
}

type Parser interface {
	Parse(Message) (*Snapshot, error)
}

type ParserFunc func(Message) (*Snapshot, error)

func (f ParserFunc) Parse(m Message) (*Snapshot, error) { return f(m) }

// RawParser keeps payload as is. Used for kinds without configured layout.
var RawParser = ParserFunc(func(m Message) (*Snapshot, error) {
	return &Snapshot{Kind: m.Kind, Payload: m.Payload}, nil
})

// ExtraFunc reports whether device model has extra module attached.
type ExtraFunc func(model int) bool
