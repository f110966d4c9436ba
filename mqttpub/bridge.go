// Package mqttpub republishes session telemetry to MQTT broker
// for home automation consumers.
package mqttpub

import (
	"encoding/json"
	"expvar"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/efstat/log2"
	"github.com/temoto/efstat/telemetry"
)

const Manufacturer = "EcoFlow"

const DefaultPublishTimeout = 10 * time.Second

// Publisher is the part of mqtt.Client used by Bridge.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type Options struct {
	Log            *log2.Log
	Session        *telemetry.Session
	Publisher      Publisher
	TopicPrefix    string
	Qos            byte
	Retain         bool
	Product        string
	PublishTimeout time.Duration
}

type DeviceInfo struct {
	Manufacturer string `json:"manufacturer"`
	Product      string `json:"product,omitempty"`
	Model        int    `json:"model,omitempty"`
}

type Stat struct {
	Published expvar.Int
	Error     expvar.Int
}

type Bridge struct {
	alive  *alive.Alive
	log    *log2.Log
	opt    Options
	topics Topics
	in     chan *telemetry.Snapshot
	exited chan struct{}
	subs   []*telemetry.Subscription
	stat   Stat

	mu     sync.Mutex
	online bool
	extra  bool
	model  int
}

var ErrStopped = errors.New("mqtt bridge stopped")

// NewBridge subscribes to every channel of session immediately,
// so call before session Start to publish first snapshots.
func NewBridge(opt Options) (*Bridge, error) {
	if opt.Session == nil {
		return nil, errors.NotValidf("mqtt bridge Session=nil")
	}
	if opt.Publisher == nil {
		return nil, errors.NotValidf("mqtt bridge Publisher=nil")
	}
	if opt.TopicPrefix == "" {
		return nil, errors.NotValidf("mqtt bridge TopicPrefix=empty")
	}
	if opt.PublishTimeout == 0 {
		opt.PublishTimeout = DefaultPublishTimeout
	}
	kinds := append(append([]telemetry.Kind{}, telemetry.LiveKinds...), telemetry.PassKinds...)
	self := &Bridge{
		alive:  alive.NewAlive(),
		log:    opt.Log,
		opt:    opt,
		topics: Topics{Prefix: opt.TopicPrefix},
		in:     make(chan *telemetry.Snapshot),
		exited: make(chan struct{}, len(kinds)),
	}
	for _, k := range kinds {
		sub := opt.Session.Channel(k).Subscribe(0)
		self.subs = append(self.subs, sub)
		go self.forward(sub)
	}
	return self, nil
}

func (self *Bridge) Stat() *Stat { return &self.stat }

// Run publishes snapshots until session terminates or Stop().
// Offline status is published on exit.
func (self *Bridge) Run() error {
	if !self.alive.Add(1) {
		return ErrStopped
	}
	defer self.alive.Done()
	defer self.closeSubs()
	stopch := self.alive.StopChan()
	for n := 0; n < len(self.subs); {
		select {
		case s := <-self.in:
			self.handleSnapshot(s)
		case <-self.exited:
			n++
		case <-stopch:
			return self.setOffline()
		}
	}
	self.log.Debugf("mqtt bridge: session terminated")
	self.alive.Stop()
	return self.setOffline()
}

func (self *Bridge) Stop() {
	self.alive.Stop()
	self.alive.Wait()
}

// OnEvent handles session lifecycle event.
func (self *Bridge) OnEvent(e telemetry.Event) {
	switch e.Kind {
	case telemetry.EventDisconnected, telemetry.EventTerminated:
		_ = self.setOffline()
	case telemetry.EventExtraModuleLost:
		// snapshot path may have published it already
		self.mu.Lock()
		was := self.extra
		self.extra = false
		self.mu.Unlock()
		if was {
			_ = self.publish(self.topics.Extra(), true, StatusOffline)
		}
	}
}

func (self *Bridge) forward(sub *telemetry.Subscription) {
	stopch := self.alive.StopChan()
	for s := range sub.C {
		select {
		case self.in <- s:
		case <-stopch:
			return
		}
	}
	self.exited <- struct{}{}
}

func (self *Bridge) closeSubs() {
	for _, sub := range self.subs {
		sub.Close()
	}
}

func (self *Bridge) handleSnapshot(s *telemetry.Snapshot) {
	self.mu.Lock()
	wasOnline := self.online
	self.online = true
	var deviceChanged, extraChanged bool
	if s.Kind == telemetry.KindMainUnit {
		deviceChanged = !wasOnline || s.Model != self.model
		self.model = s.Model
		extra := self.opt.Session.ExtraPresent()
		extraChanged = !wasOnline || extra != self.extra
		self.extra = extra
	}
	extra := self.extra
	self.mu.Unlock()

	if !wasOnline {
		_ = self.publish(self.topics.Status(), true, StatusOnline)
	}
	if deviceChanged {
		_ = self.publishJSON(self.topics.Device(), true, DeviceInfo{
			Manufacturer: Manufacturer,
			Product:      self.opt.Product,
			Model:        s.Model,
		})
	}
	if extraChanged {
		status := StatusOffline
		if extra {
			status = StatusOnline
		}
		_ = self.publish(self.topics.Extra(), true, status)
	}
	_ = self.publishJSON(self.topics.Snapshot(s), self.opt.Retain, s)
}

func (self *Bridge) setOffline() error {
	self.mu.Lock()
	was := self.online
	self.online = false
	self.mu.Unlock()
	if !was {
		return nil
	}
	return self.publish(self.topics.Status(), true, StatusOffline)
}

func (self *Bridge) publishJSON(topic string, retain bool, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		self.stat.Error.Add(1)
		self.log.Errorf("mqtt json topic=%s err=%v", topic, err)
		return errors.Annotate(err, "json")
	}
	return self.publish(topic, retain, b)
}

func (self *Bridge) publish(topic string, retain bool, payload interface{}) error {
	t := self.opt.Publisher.Publish(topic, self.opt.Qos, retain, payload)
	if err := tokenWait(t, self.opt.PublishTimeout, "publish "+topic); err != nil {
		self.stat.Error.Add(1)
		self.log.Errorf("mqtt %v", err)
		return err
	}
	self.stat.Published.Add(1)
	return nil
}

func tokenWait(t mqtt.Token, timeout time.Duration, tag string) error {
	if !t.WaitTimeout(timeout) {
		return errors.Timeoutf(tag)
	}
	if err := t.Error(); err != nil {
		return errors.Annotate(err, tag)
	}
	return nil
}
