package telemetry

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/require"
	"github.com/temoto/efstat/log2"
	"github.com/temoto/efstat/transport"
)

// Test frames carry kind in Src and payload [model, pack].
const srcUnknown = 0xee

type fakeSource struct {
	frames     chan transport.Frame
	reconnects int32
	mu         sync.Mutex
	err        error
	closed     bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{frames: make(chan transport.Frame)}
}

func (self *fakeSource) Frames() <-chan transport.Frame { return self.frames }

func (self *fakeSource) Err() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.err
}

func (self *fakeSource) Reconnect() { atomic.AddInt32(&self.reconnects, 1) }

func (self *fakeSource) Reconnects() int { return int(atomic.LoadInt32(&self.reconnects)) }

func (self *fakeSource) Close() error {
	self.terminate(nil)
	return nil
}

func (self *fakeSource) terminate(err error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if !self.closed {
		self.closed = true
		self.err = err
		close(self.frames)
	}
}

// send blocks until session took the frame.
func (self *fakeSource) send(t testing.TB, k Kind, model, pack byte) {
	select {
	case self.frames <- transport.Frame{Header: transport.FrameHeader{Src: byte(k)}, Payload: []byte{model, pack}}:
	case <-time.After(5 * time.Second):
		t.Fatalf("send kind=%s timeout", k)
	}
}

func (self *fakeSource) sendUnknown(t testing.TB) {
	select {
	case self.frames <- transport.Frame{Header: transport.FrameHeader{Src: srcUnknown}}:
	case <-time.After(5 * time.Second):
		t.Fatal("send timeout")
	}
}

type countDecoder struct{ calls int32 }

func (self *countDecoder) Decode(f transport.Frame) (Message, error) {
	atomic.AddInt32(&self.calls, 1)
	if f.Header.Src == 0xbd {
		return Message{}, errors.NotValidf("test frame")
	}
	k := Kind(f.Header.Src)
	if !k.Valid() {
		k = KindUnrecognized
	}
	return Message{Kind: k, Src: f.Header.Src, Payload: f.Payload}, nil
}

func (self *countDecoder) Calls() int { return int(atomic.LoadInt32(&self.calls)) }

type countParser struct{ calls int32 }

func (self *countParser) Parse(m Message) (*Snapshot, error) {
	atomic.AddInt32(&self.calls, 1)
	if len(m.Payload) < 2 {
		return nil, errors.NotValidf("payload length=%d", len(m.Payload))
	}
	return &Snapshot{
		Model:   int(m.Payload[0]),
		Pack:    int(m.Payload[1]),
		Fields:  map[string]float64{"model": float64(m.Payload[0])},
		Payload: m.Payload,
	}, nil
}

func (self *countParser) Calls() int { return int(atomic.LoadInt32(&self.calls)) }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (self *fakeClock) Now() time.Time {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.t
}

func (self *fakeClock) Add(d time.Duration) {
	self.mu.Lock()
	self.t = self.t.Add(d)
	self.mu.Unlock()
}

type testEnv struct {
	t       testing.TB
	source  *fakeSource
	decoder *countDecoder
	parser  *countParser
	clock   *fakeClock
	s       *Session
}

func newTestEnv(t testing.TB, fun func(*Options)) *testEnv {
	env := &testEnv{
		t:       t,
		source:  newFakeSource(),
		decoder: new(countDecoder),
		parser:  new(countParser),
		clock:   newFakeClock(),
	}
	parsers := make(map[Kind]Parser)
	for k := KindMainUnit; k < kindCount; k++ {
		parsers[k] = env.parser
	}
	opt := Options{
		Log:      log2.NewTest(t, log2.LDebug),
		Source:   env.source,
		Decoder:  env.decoder,
		Parsers:  parsers,
		HasExtra: ExtraModels(7),
		Now:      env.clock.Now,
	}
	if fun != nil {
		fun(&opt)
	}
	s, err := NewSession(opt)
	require.NoError(t, err)
	env.s = s
	return env
}

func (env *testEnv) close() {
	_ = env.s.Close()
}

// sync waits until session processed everything sent before.
// Unbuffered source channel: second send returns only after first was handled.
func (env *testEnv) sync() {
	env.source.sendUnknown(env.t)
	env.source.sendUnknown(env.t)
}

func expectSnapshot(t testing.TB, sub *Subscription) *Snapshot {
	select {
	case s, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("snapshot timeout")
	}
	return nil
}

func expectNoSnapshot(t testing.TB, sub *Subscription) {
	select {
	case s, ok := <-sub.C:
		if ok {
			t.Fatalf("unexpected snapshot kind=%s model=%d", s.Kind, s.Model)
		}
	default:
	}
}

func expectEvent(t testing.TB, s *Session, timeout time.Duration) Event {
	select {
	case e, ok := <-s.Events():
		require.True(t, ok, "events closed")
		return e
	case <-time.After(timeout):
		t.Fatal("event timeout")
	}
	return Event{}
}

func expectNoEvent(t testing.TB, s *Session, wait time.Duration) {
	select {
	case e, ok := <-s.Events():
		if ok {
			t.Fatalf("unexpected event=%s", e.String())
		}
	case <-time.After(wait):
	}
}

func badPayloadFrame(k Kind) transport.Frame {
	return transport.Frame{Header: transport.FrameHeader{Src: byte(k)}}
}

func decodeErrorFrame() transport.Frame {
	return transport.Frame{Header: transport.FrameHeader{Src: 0xbd}}
}
