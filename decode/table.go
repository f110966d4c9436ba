// Package decode classifies frames into telemetry kinds and parses payloads
// with declarative field layouts.
package decode

import (
	"fmt"

	"github.com/juju/errors"
	"github.com/temoto/efstat/telemetry"
	"github.com/temoto/efstat/transport"
)

// Route identifies frame by sender and command.
type Route struct {
	Src    byte
	CmdSet byte
	CmdID  byte
}

func (r Route) String() string { return fmt.Sprintf("%02x:%02x:%02x", r.Src, r.CmdSet, r.CmdID) }

// Table maps route to kind. Zero Table classifies everything as unrecognized.
type Table struct {
	routes map[Route]telemetry.Kind
}

// Built-in routes for River family units: main unit (pd), ems, inverter,
// mppt, battery packs on both bms addresses and four settings replies.
var DefaultRoutes = map[Route]telemetry.Kind{
	{0x02, 0x20, 0x02}: telemetry.KindMainUnit,
	{0x03, 0x20, 0x02}: telemetry.KindEnergyManagement,
	{0x04, 0x20, 0x02}: telemetry.KindInverter,
	{0x05, 0x20, 0x02}: telemetry.KindMPPT,
	{0x03, 0x20, 0x32}: telemetry.KindBatteryPack,
	{0x06, 0x20, 0x32}: telemetry.KindBatteryPack,
	{0x05, 0x20, 0x72}: telemetry.KindDcInCurrentConfig,
	{0x05, 0x20, 0x52}: telemetry.KindDcInType,
	{0x04, 0x20, 0x4a}: telemetry.KindFanAuto,
	{0x02, 0x20, 0x28}: telemetry.KindLcdTimeout,
}

func NewTable(routes map[Route]telemetry.Kind) *Table {
	self := &Table{routes: make(map[Route]telemetry.Kind, len(routes))}
	for r, k := range routes {
		self.routes[r] = k
	}
	return self
}

func NewDefaultTable() *Table { return NewTable(DefaultRoutes) }

// Set overrides route, kind must be valid.
func (self *Table) Set(r Route, k telemetry.Kind) error {
	if !k.Valid() {
		return errors.NotValidf("route=%s kind=%d", r, k)
	}
	if self.routes == nil {
		self.routes = make(map[Route]telemetry.Kind)
	}
	self.routes[r] = k
	return nil
}

func (self *Table) Classify(r Route) telemetry.Kind {
	if k, ok := self.routes[r]; ok {
		return k
	}
	return telemetry.KindUnrecognized
}

func (self *Table) Len() int { return len(self.routes) }

// Decoder splits frame header into Message. Unknown routes are not errors.
type Decoder struct {
	table *Table
}

var _ telemetry.Decoder = &Decoder{}

func NewDecoder(t *Table) *Decoder {
	if t == nil {
		t = NewDefaultTable()
	}
	return &Decoder{table: t}
}

func (self *Decoder) Decode(f transport.Frame) (telemetry.Message, error) {
	h := f.Header
	r := Route{Src: h.Src, CmdSet: h.CmdSet, CmdID: h.CmdID}
	return telemetry.Message{
		Kind:    self.table.Classify(r),
		Src:     h.Src,
		CmdSet:  h.CmdSet,
		CmdID:   h.CmdID,
		Payload: f.Payload,
	}, nil
}
