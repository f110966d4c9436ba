// Package telemetry demultiplexes device frames into per-kind channels and
// tracks device liveness.
//
// One Session goroutine consumes the frame source: every frame resets the
// liveness countdown, is decoded exactly once and routed to the channel of
// its kind. Live channels (main unit, energy management, inverter, MPPT,
// battery pack) cache the latest snapshot and replay it to late subscribers
// within the disconnect window. Passthrough channels (settings) only forward.
// Diagnostics keeps the latest snapshot per live kind and is cleared in full
// when the device goes silent or the source terminates.
package telemetry
