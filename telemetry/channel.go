package telemetry

import (
	"expvar"
	"sync"
	"time"

	"github.com/temoto/efstat/helpers/cacheval"
)

const DefaultSubscriberBuffer = 8

// Channel multicasts snapshots of one kind.
// Subscribers and internal hooks count as activation references: frames of
// an inactive channel are not parsed at all.
// Live channels also cache last snapshot and replay it to new subscribers
// while it is younger than disconnect window. Cache outlives subscribers.
// Delivery never blocks session: full subscriber buffer drops the snapshot.
type Channel struct {
	mu      sync.Mutex
	kind    Kind
	parser  Parser
	subs    map[*Subscription]struct{}
	hooks   []func(*Snapshot)
	cache   *cacheval.Value // nil for passthrough
	closed  bool
	now     func() time.Time
	dropped *expvar.Int
	onSub   func()
}

type Subscription struct {
	C <-chan *Snapshot

	ch      chan *Snapshot
	channel *Channel
	once    sync.Once
}

func newChannel(kind Kind, parser Parser, window time.Duration, now func() time.Time) *Channel {
	if parser == nil {
		parser = RawParser
	}
	self := &Channel{
		kind:   kind,
		parser: parser,
		subs:   make(map[*Subscription]struct{}),
		now:    now,
	}
	if kind.Live() {
		self.cache = new(cacheval.Value)
		self.cache.Init(window)
	}
	return self
}

func NewLiveChannel(kind Kind, parser Parser, window time.Duration) *Channel {
	return newChannel(kind, parser, window, time.Now)
}

func NewPassChannel(kind Kind, parser Parser) *Channel {
	return newChannel(kind, parser, 0, time.Now)
}

func (self *Channel) Kind() Kind { return self.kind }

// Active reports whether anyone listens, hooks included.
func (self *Channel) Active() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.subs)+len(self.hooks) > 0
}

func (self *Channel) Subscribers() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.subs)
}

// Last returns cached snapshot regardless of age, nil for passthrough.
func (self *Channel) Last() (*Snapshot, time.Time) {
	if self.cache == nil {
		return nil, time.Time{}
	}
	v, at := self.cache.Get()
	s, _ := v.(*Snapshot)
	return s, at
}

// Subscribe with buffer size, <=0 means default.
// Fresh cached snapshot, if any, is already in C on return.
// After session termination returns subscription with closed C.
func (self *Channel) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan *Snapshot, buffer)
	sub := &Subscription{C: ch, ch: ch, channel: self}

	self.mu.Lock()
	if self.closed {
		self.mu.Unlock()
		close(ch)
		return sub
	}
	self.subs[sub] = struct{}{}
	if self.cache != nil {
		if v, ok := self.cache.GetFresh(self.now()); ok {
			ch <- v.(*Snapshot)
		}
	}
	onSub := self.onSub
	self.mu.Unlock()

	if onSub != nil {
		onSub()
	}
	return sub
}

// Close detaches subscriber and closes C. Safe to call many times.
func (self *Subscription) Close() {
	self.once.Do(func() {
		self.channel.unsubscribe(self)
	})
}

func (self *Channel) unsubscribe(sub *Subscription) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if _, ok := self.subs[sub]; ok {
		delete(self.subs, sub)
		close(sub.ch)
	}
}

// hook is internal subscriber called synchronously on session goroutine.
func (self *Channel) hook(f func(*Snapshot)) {
	self.mu.Lock()
	self.hooks = append(self.hooks, f)
	self.mu.Unlock()
}

// Hooks run before subscribers so aggregated state is updated
// by the time any subscriber sees the snapshot.
func (self *Channel) publish(s *Snapshot) {
	self.mu.Lock()
	hooks := self.hooks
	self.mu.Unlock()
	for _, f := range hooks {
		f(s)
	}

	self.mu.Lock()
	defer self.mu.Unlock()
	if self.closed {
		return
	}
	if self.cache != nil {
		self.cache.Set(s, s.At)
	}
	for sub := range self.subs {
		select {
		case sub.ch <- s:
		default:
			if self.dropped != nil {
				self.dropped.Add(1)
			}
		}
	}
}

func (self *Channel) closeAll() {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.closed {
		return
	}
	self.closed = true
	for sub := range self.subs {
		delete(self.subs, sub)
		close(sub.ch)
	}
}
