package telemetry

import (
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/efstat/helpers"
	"github.com/temoto/efstat/log2"
	"github.com/temoto/efstat/transport"
)

const (
	DefaultDisconnectWindow = 15 * time.Second
	DefaultEventBuffer      = 16
)

type Options struct {
	Log              *log2.Log
	Source           Source
	Decoder          Decoder
	Parsers          map[Kind]Parser // missing kinds use RawParser
	HasExtra         ExtraFunc       // nil means extra module is never present
	DisconnectWindow time.Duration
	EventBuffer      int
	Now              func() time.Time
}

// Session owns everything derived from one frame source.
// Single goroutine consumes frames, so per frame: liveness reset, decode,
// parse, diagnostics update and delivery happen in that order and never
// interleave with disconnect procedure.
type Session struct {
	alive    *alive.Alive
	log      *log2.Log
	source   Source
	decoder  Decoder
	now      func() time.Time
	window   time.Duration
	channels [kindCount]*Channel
	liveness *Liveness
	diag     *Aggregator
	extra    *ExtraTracker
	events   chan Event
	err      helpers.AtomicError
	refresh  chan struct{}
	start    sync.Once
	stat     Stat
}

func NewSession(opt Options) (*Session, error) {
	if opt.Source == nil {
		return nil, errors.NotValidf("session Source=nil")
	}
	if opt.Decoder == nil {
		return nil, errors.NotValidf("session Decoder=nil")
	}
	if opt.DisconnectWindow <= 0 {
		opt.DisconnectWindow = DefaultDisconnectWindow
	}
	if opt.EventBuffer <= 0 {
		opt.EventBuffer = DefaultEventBuffer
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}

	self := &Session{
		alive:    alive.NewAlive(),
		log:      opt.Log,
		source:   opt.Source,
		decoder:  opt.Decoder,
		now:      opt.Now,
		window:   opt.DisconnectWindow,
		liveness: NewLiveness(opt.DisconnectWindow),
		diag:     NewAggregator(),
		extra:    NewExtraTracker(opt.HasExtra),
		events:   make(chan Event, opt.EventBuffer),
		refresh:  make(chan struct{}, 1),
	}
	for k := KindMainUnit; k < kindCount; k++ {
		ch := newChannel(k, opt.Parsers[k], opt.DisconnectWindow, opt.Now)
		ch.dropped = &self.stat.Dropped
		ch.onSub = self.requestRefresh
		if k.Live() {
			ch.hook(self.diag.Put)
		}
		self.channels[k] = ch
	}
	self.channels[KindMainUnit].hook(func(s *Snapshot) {
		if self.extra.Observe(s) {
			self.log.Infof("extra module lost model=%d", s.Model)
			self.emit(Event{Kind: EventExtraModuleLost, At: s.At})
		}
	})
	return self, nil
}

// Start consuming frames. Subscribe before Start to see every snapshot.
func (self *Session) Start() {
	self.start.Do(func() {
		self.alive.Add(1)
		go self.run()
	})
}

// Close releases source and waits until session terminated.
// Events and subscriptions are closed after that.
func (self *Session) Close() error {
	self.Start()
	err := self.source.Close()
	self.alive.Wait()
	return errors.Annotate(err, "source close")
}

func (self *Session) Wait() { self.alive.Wait() }

// Channel of given kind, nil for unrecognized.
func (self *Session) Channel(k Kind) *Channel {
	if !k.Valid() {
		return nil
	}
	return self.channels[k]
}

func (self *Session) MainUnit() *Channel          { return self.channels[KindMainUnit] }
func (self *Session) EnergyManagement() *Channel  { return self.channels[KindEnergyManagement] }
func (self *Session) Inverter() *Channel          { return self.channels[KindInverter] }
func (self *Session) MPPT() *Channel              { return self.channels[KindMPPT] }
func (self *Session) BatteryPack() *Channel       { return self.channels[KindBatteryPack] }
func (self *Session) DcInCurrentConfig() *Channel { return self.channels[KindDcInCurrentConfig] }
func (self *Session) DcInType() *Channel          { return self.channels[KindDcInType] }
func (self *Session) FanAuto() *Channel           { return self.channels[KindFanAuto] }
func (self *Session) LcdTimeout() *Channel        { return self.channels[KindLcdTimeout] }

func (self *Session) Diagnostics() Diagnostics { return self.diag.Snapshot() }

// Events is closed after EventTerminated.
func (self *Session) Events() <-chan Event { return self.events }

// Err is terminal source error, valid once Events() is closed. Nil for orderly completion.
func (self *Session) Err() error {
	err, _ := self.err.Load()
	return err
}

func (self *Session) ExtraPresent() bool { return self.extra.Present() }

func (self *Session) Stat() *Stat { return &self.stat }

func (self *Session) run() {
	defer self.alive.Done()
	frames := self.source.Frames()
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				self.terminate(self.source.Err())
				return
			}
			self.handle(f)

		case <-self.liveness.C():
			if self.liveness.Expired() {
				self.log.Infof("no frames for %v, disconnected", self.window)
				self.disconnect()
			}

		case <-self.refresh:
			self.liveness.Refresh()
		}
	}
}

func (self *Session) handle(f transport.Frame) {
	self.stat.Frames.Add(1)
	self.liveness.Touch()

	msg, err := self.decoder.Decode(f)
	if err != nil {
		self.stat.DecodeError.Add(1)
		self.log.Errorf("decode frame=%s err=%v", f.String(), err)
		return
	}
	if !msg.Kind.Valid() {
		self.stat.Unrecognized.Add(1)
		self.log.Debugf("unrecognized frame=%s", f.String())
		return
	}

	ch := self.channels[msg.Kind]
	if !ch.Active() {
		return
	}
	s, err := ch.parser.Parse(msg)
	if err == nil && s == nil {
		err = errors.Errorf("parser returned nil")
	}
	if err != nil {
		self.stat.ParseError.Add(1)
		self.log.Errorf("parse kind=%s frame=%s err=%v", msg.Kind, f.String(), err)
		return
	}
	s.Kind = msg.Kind
	s.At = self.now()
	ch.publish(s)
}

// Runs only on session goroutine.
func (self *Session) disconnect() {
	self.stat.Disconnect.Add(1)
	self.source.Reconnect()
	self.diag.Clear()
	self.extra.Reset()
	self.emit(Event{Kind: EventDisconnected, At: self.now()})
}

func (self *Session) terminate(err error) {
	if err != nil {
		self.log.Errorf("source terminated err=%v", err)
	} else {
		self.log.Debugf("source completed")
	}
	_, _ = self.err.StoreOnce(err)
	self.liveness.Cancel()
	self.disconnect()
	self.emitLast(Event{Kind: EventTerminated, Err: err, At: self.now()})
	close(self.events)
	for _, ch := range self.channels {
		if ch != nil {
			ch.closeAll()
		}
	}
	self.alive.Stop()
}

// Events are never worth blocking frame processing.
func (self *Session) emit(e Event) {
	select {
	case self.events <- e:
	default:
		self.stat.EventDropped.Add(1)
		self.log.Errorf("event buffer full, dropped event=%s", e.String())
	}
}

// emitLast makes room for terminal event by dropping oldest queued events.
// Session goroutine is the only sender, so loop ends within buffer size.
func (self *Session) emitLast(e Event) {
	for {
		select {
		case self.events <- e:
			return
		default:
		}
		select {
		case old := <-self.events:
			self.stat.EventDropped.Add(1)
			self.log.Errorf("event buffer full, dropped event=%s", old.String())
		default:
		}
	}
}

func (self *Session) requestRefresh() {
	select {
	case self.refresh <- struct{}{}:
	default:
	}
}
