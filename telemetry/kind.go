package telemetry

import (
	"github.com/juju/errors"
)

type Kind uint8

const (
	KindUnrecognized Kind = iota
	KindMainUnit
	KindEnergyManagement
	KindInverter
	KindMPPT
	KindBatteryPack
	KindDcInCurrentConfig
	KindDcInType
	KindFanAuto
	KindLcdTimeout
	kindCount
)

var kindNames = [kindCount]string{
	KindUnrecognized:      "unrecognized",
	KindMainUnit:          "main_unit",
	KindEnergyManagement:  "energy_management",
	KindInverter:          "inverter",
	KindMPPT:              "mppt",
	KindBatteryPack:       "battery_pack",
	KindDcInCurrentConfig: "dc_in_current_config",
	KindDcInType:          "dc_in_type",
	KindFanAuto:           "fan_auto",
	KindLcdTimeout:        "lcd_timeout",
}

// Cached and aggregated kinds, in diagnostics order.
var LiveKinds = []Kind{KindMainUnit, KindEnergyManagement, KindInverter, KindMPPT, KindBatteryPack}

// Settings kinds, forwarded without cache.
var PassKinds = []Kind{KindDcInCurrentConfig, KindDcInType, KindFanAuto, KindLcdTimeout}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return "unrecognized"
}

func (k Kind) Valid() bool { return k > KindUnrecognized && k < kindCount }

func (k Kind) Live() bool { return k >= KindMainUnit && k <= KindBatteryPack }

func (k Kind) Passthrough() bool { return k >= KindDcInCurrentConfig && k <= KindLcdTimeout }

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	x, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = x
	return nil
}

func ParseKind(s string) (Kind, error) {
	for k := KindMainUnit; k < kindCount; k++ {
		if kindNames[k] == s {
			return k, nil
		}
	}
	return KindUnrecognized, errors.NotValidf("telemetry kind=%q", s)
}
