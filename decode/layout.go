package decode

import (
	"encoding/binary"
	"math"

	"github.com/juju/errors"
	"github.com/temoto/efstat/telemetry"
)

type FieldType uint8

const (
	FieldInvalid FieldType = iota
	FieldU8
	FieldI8
	FieldU16
	FieldI16
	FieldU32
	FieldI32
)

func (t FieldType) Size() int {
	switch t {
	case FieldU8, FieldI8:
		return 1
	case FieldU16, FieldI16:
		return 2
	case FieldU32, FieldI32:
		return 4
	}
	return 0
}

func ParseFieldType(s string) (FieldType, error) {
	switch s {
	case "u8":
		return FieldU8, nil
	case "i8":
		return FieldI8, nil
	case "u16":
		return FieldU16, nil
	case "i16":
		return FieldI16, nil
	case "u32":
		return FieldU32, nil
	case "i32":
		return FieldI32, nil
	}
	return FieldInvalid, errors.NotValidf("field type=%q", s)
}

// Field is little endian integer at Offset, multiplied by Scale (0 means 1).
type Field struct {
	Name   string
	Offset int
	Type   FieldType
	Scale  float64
}

func (f Field) read(b []byte) (float64, error) {
	size := f.Type.Size()
	if size == 0 {
		return 0, errors.NotValidf("field=%s type", f.Name)
	}
	if f.Offset < 0 || f.Offset+size > len(b) {
		return 0, errors.NotValidf("field=%s offset=%d size=%d payload length=%d", f.Name, f.Offset, size, len(b))
	}
	b = b[f.Offset:]
	var v float64
	switch f.Type {
	case FieldU8:
		v = float64(b[0])
	case FieldI8:
		v = float64(int8(b[0]))
	case FieldU16:
		v = float64(binary.LittleEndian.Uint16(b))
	case FieldI16:
		v = float64(int16(binary.LittleEndian.Uint16(b)))
	case FieldU32:
		v = float64(binary.LittleEndian.Uint32(b))
	case FieldI32:
		v = float64(int32(binary.LittleEndian.Uint32(b)))
	}
	if f.Scale != 0 {
		v *= f.Scale
	}
	return v, nil
}

const (
	FieldModel = "model"
	FieldPack  = "pack"
)

// Battery packs without explicit "pack" field are numbered by bms address:
// internal bms is pack 0, extra battery is pack 1, unknown address as is.
var packBySrc = map[byte]int{0x03: 0, 0x06: 1}

// LayoutParser reads declared fields. Special names: "model" also fills
// Snapshot.Model, "pack" fills Snapshot.Pack.
type LayoutParser struct {
	Kind   telemetry.Kind
	Fields []Field
}

var _ telemetry.Parser = &LayoutParser{}

func (self *LayoutParser) Parse(m telemetry.Message) (*telemetry.Snapshot, error) {
	s := &telemetry.Snapshot{
		Kind:    m.Kind,
		Fields:  make(map[string]float64, len(self.Fields)),
		Payload: m.Payload,
	}
	hasPack := false
	for _, f := range self.Fields {
		v, err := f.read(m.Payload)
		if err != nil {
			return nil, errors.Annotatef(err, "kind=%s", m.Kind)
		}
		s.Fields[f.Name] = v
		switch f.Name {
		case FieldModel:
			s.Model = int(math.Round(v))
		case FieldPack:
			s.Pack = int(math.Round(v))
			hasPack = true
		}
	}
	if m.Kind == telemetry.KindBatteryPack && !hasPack {
		if ix, ok := packBySrc[m.Src]; ok {
			s.Pack = ix
		} else {
			s.Pack = int(m.Src)
		}
	}
	return s, nil
}

// DefaultLayouts describe fields common to River family. Everything else
// stays in Snapshot.Payload.
var DefaultLayouts = map[telemetry.Kind][]Field{
	telemetry.KindMainUnit: {
		{Name: FieldModel, Offset: 0, Type: FieldU8},
		{Name: "soc", Offset: 14, Type: FieldU8},
		{Name: "watts_out", Offset: 15, Type: FieldU16},
		{Name: "watts_in", Offset: 17, Type: FieldU16},
		{Name: "remain_minutes", Offset: 19, Type: FieldU32},
	},
	telemetry.KindEnergyManagement: {
		{Name: "charge_state", Offset: 0, Type: FieldU8},
		{Name: "soc_max", Offset: 10, Type: FieldU8},
	},
	telemetry.KindInverter: {
		{Name: "ac_in_volts", Offset: 8, Type: FieldU32, Scale: 0.001},
		{Name: "ac_out_volts", Offset: 20, Type: FieldU32, Scale: 0.001},
		{Name: "ac_out_watts", Offset: 17, Type: FieldU16},
	},
	telemetry.KindMPPT: {
		{Name: "dc_in_volts", Offset: 4, Type: FieldU32, Scale: 0.1},
		{Name: "dc_in_amps", Offset: 8, Type: FieldU32, Scale: 0.01},
		{Name: "dc_in_watts", Offset: 12, Type: FieldU16, Scale: 0.1},
	},
	telemetry.KindBatteryPack: {
		{Name: "soc", Offset: 11, Type: FieldU8},
		{Name: "volts", Offset: 12, Type: FieldU32, Scale: 0.001},
		{Name: "temp", Offset: 20, Type: FieldU8},
	},
	telemetry.KindDcInCurrentConfig: {{Name: "amps", Offset: 0, Type: FieldU32, Scale: 0.001}},
	telemetry.KindDcInType:          {{Name: "type", Offset: 0, Type: FieldU8}},
	telemetry.KindFanAuto:           {{Name: "auto", Offset: 0, Type: FieldU8}},
	telemetry.KindLcdTimeout:        {{Name: "seconds", Offset: 0, Type: FieldU16}},
}

// Parsers builds parser per kind from layouts, kinds without layout fall back to RawParser.
func Parsers(layouts map[telemetry.Kind][]Field) map[telemetry.Kind]telemetry.Parser {
	ps := make(map[telemetry.Kind]telemetry.Parser, len(layouts))
	for k, fields := range layouts {
		if len(fields) == 0 {
			ps[k] = telemetry.RawParser
			continue
		}
		ps[k] = &LayoutParser{Kind: k, Fields: fields}
	}
	return ps
}
