package mqttpub

import (
	"strconv"

	"github.com/temoto/efstat/telemetry"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Topics layout:
//
//	<prefix>/<kind>              live telemetry
//	<prefix>/battery_pack/<n>    battery pack n
//	<prefix>/settings/<kind>     settings replies
//	<prefix>/status              device availability, also mqtt will
//	<prefix>/extra               extra module availability
//	<prefix>/device              device info, retained
type Topics struct{ Prefix string }

func (t Topics) Snapshot(s *telemetry.Snapshot) string {
	switch {
	case s.Kind == telemetry.KindBatteryPack:
		return t.Prefix + "/" + s.Kind.String() + "/" + strconv.Itoa(s.Pack)
	case s.Kind.Passthrough():
		return t.Prefix + "/settings/" + s.Kind.String()
	}
	return t.Prefix + "/" + s.Kind.String()
}

func (t Topics) Status() string { return t.Prefix + "/status" }
func (t Topics) Extra() string  { return t.Prefix + "/extra" }
func (t Topics) Device() string { return t.Prefix + "/device" }
