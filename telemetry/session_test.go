package telemetry

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionConfig(t *testing.T) {
	t.Parallel()
	_, err := NewSession(Options{})
	require.Error(t, err)
	_, err = NewSession(Options{Source: newFakeSource()})
	require.Error(t, err)
	s, err := NewSession(Options{Source: newFakeSource(), Decoder: new(countDecoder)})
	require.NoError(t, err)
	assert.Equal(t, DefaultDisconnectWindow, s.window)
	assert.Nil(t, s.Channel(KindUnrecognized))
	assert.Same(t, s.LcdTimeout(), s.Channel(KindLcdTimeout))
	require.NoError(t, s.Close())
}

// Decode runs once per frame however many subscribers are attached.
func TestSessionDecodeOnce(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	defer env.close()
	subs := []*Subscription{
		env.s.MainUnit().Subscribe(16),
		env.s.MainUnit().Subscribe(16),
		env.s.BatteryPack().Subscribe(16),
		env.s.FanAuto().Subscribe(16),
		env.s.FanAuto().Subscribe(16),
	}
	env.s.Start()

	for i := 0; i < 5; i++ {
		env.source.send(t, KindMainUnit, 1, 0)
		env.source.send(t, KindBatteryPack, 1, byte(i))
		env.source.send(t, KindFanAuto, 1, 0)
	}
	env.sync()
	// last sync frame may still be in flight
	require.Eventually(t, func() bool { return env.decoder.Calls() == 15+2 }, time.Second, time.Millisecond)
	assert.Equal(t, 15, env.parser.Calls())

	// every subscriber of same channel sees same instance
	a, b := expectSnapshot(t, subs[0]), expectSnapshot(t, subs[1])
	assert.Same(t, a, b)
	assert.Equal(t, KindMainUnit, a.Kind)
	require.Eventually(t, func() bool { return env.s.Stat().Unrecognized.Value() == 2 }, time.Second, time.Millisecond)
}

// Passthrough without subscribers does not parse; live kinds are always
// parsed because diagnostics listens to them.
func TestSessionActivation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	defer env.close()
	env.s.Start()

	env.source.send(t, KindLcdTimeout, 1, 0)
	env.source.send(t, KindEnergyManagement, 1, 0)
	env.sync()
	assert.Equal(t, 1, env.parser.Calls())

	sub := env.s.LcdTimeout().Subscribe(0)
	env.source.send(t, KindLcdTimeout, 2, 0)
	env.sync()
	assert.Equal(t, 2, expectSnapshot(t, sub).Model)
	sub.Close()

	env.source.send(t, KindLcdTimeout, 3, 0)
	env.sync()
	assert.Equal(t, 2, env.parser.Calls())
	_, ok := <-sub.C
	assert.False(t, ok)
}

func TestSessionReplay(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	defer env.close()
	env.s.Start()

	env.source.send(t, KindMainUnit, 3, 0)
	env.sync()
	env.clock.Add(10 * time.Second)
	first := env.s.MainUnit().Subscribe(0)
	cached := expectSnapshot(t, first)
	assert.Equal(t, 3, cached.Model)

	second := env.s.MainUnit().Subscribe(0)
	assert.Same(t, cached, expectSnapshot(t, second))

	env.clock.Add(6 * time.Second)
	late := env.s.MainUnit().Subscribe(0)
	expectNoSnapshot(t, late)

	env.source.send(t, KindMainUnit, 4, 0)
	env.sync()
	assert.Equal(t, 4, expectSnapshot(t, late).Model)

	// settings never replay
	fan := env.s.FanAuto().Subscribe(0)
	env.source.send(t, KindFanAuto, 1, 0)
	env.sync()
	expectSnapshot(t, fan)
	expectNoSnapshot(t, env.s.FanAuto().Subscribe(0))
}

// Main unit, two battery packs, then silence.
func TestSessionSilenceScenario(t *testing.T) {
	t.Parallel()
	const window = 200 * time.Millisecond
	env := newTestEnv(t, func(opt *Options) { opt.DisconnectWindow = window })
	defer env.close()
	env.s.Start()

	env.source.send(t, KindMainUnit, 7, 0)
	env.source.send(t, KindBatteryPack, 7, 0)
	env.source.send(t, KindBatteryPack, 7, 1)
	env.sync()

	d := env.s.Diagnostics()
	require.NotNil(t, d.Get(KindMainUnit))
	assert.Equal(t, 7, d.Get(KindMainUnit).Model)
	assert.Equal(t, []int{0, 1}, d.PackIndexes())
	assert.True(t, env.s.ExtraPresent())

	e := expectEvent(t, env.s, 5*time.Second)
	assert.Equal(t, EventDisconnected, e.Kind)
	assert.True(t, env.s.Diagnostics().Empty())
	assert.Equal(t, 1, env.source.Reconnects())
	assert.False(t, env.s.ExtraPresent(), "reset without ExtraModuleLost")
	expectNoEvent(t, env.s, 3*window)
	assert.Equal(t, 1, env.source.Reconnects())
	assert.Equal(t, int64(1), env.s.Stat().Disconnect.Value())

	// next frame starts fresh session
	env.source.send(t, KindBatteryPack, 7, 2)
	env.sync()
	assert.Equal(t, []int{2}, env.s.Diagnostics().PackIndexes())
	assert.Equal(t, EventDisconnected, expectEvent(t, env.s, 5*time.Second).Kind)
	assert.Equal(t, 2, env.source.Reconnects())
}

func TestSessionUnrecognizedKeepsAlive(t *testing.T) {
	t.Parallel()
	const window = 200 * time.Millisecond
	env := newTestEnv(t, func(opt *Options) { opt.DisconnectWindow = window })
	defer env.close()
	env.s.Start()

	env.source.send(t, KindInverter, 1, 0)
	for i := 0; i < 8; i++ {
		time.Sleep(window / 4)
		env.source.sendUnknown(t)
	}
	expectNoEvent(t, env.s, 0)
	assert.NotNil(t, env.s.Diagnostics().Get(KindInverter))
	assert.Equal(t, EventDisconnected, expectEvent(t, env.s, 5*time.Second).Kind)
}

func TestSessionSubscribeRefreshesCountdown(t *testing.T) {
	t.Parallel()
	const window = 500 * time.Millisecond
	env := newTestEnv(t, func(opt *Options) { opt.DisconnectWindow = window })
	defer env.close()
	env.s.Start()

	env.source.send(t, KindMPPT, 1, 0)
	time.Sleep(window * 7 / 10)
	sub := env.s.MPPT().Subscribe(0)
	defer sub.Close()
	time.Sleep(window * 6 / 10)
	expectNoEvent(t, env.s, 0)
	assert.Equal(t, EventDisconnected, expectEvent(t, env.s, 5*time.Second).Kind)
}

func TestSessionExtraModule(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	defer env.close()
	env.s.Start()

	env.source.send(t, KindMainUnit, 7, 0)
	env.sync()
	assert.True(t, env.s.ExtraPresent())
	expectNoEvent(t, env.s, 0)

	env.source.send(t, KindMainUnit, 1, 0)
	env.sync()
	e := expectEvent(t, env.s, time.Second)
	assert.Equal(t, EventExtraModuleLost, e.Kind)
	assert.Equal(t, 1, env.s.Diagnostics().Get(KindMainUnit).Model)

	env.source.send(t, KindMainUnit, 1, 0)
	env.source.send(t, KindMainUnit, 7, 0)
	env.sync()
	expectNoEvent(t, env.s, 50*time.Millisecond)
	assert.Equal(t, 0, env.source.Reconnects())
}

func TestSessionParseErrorIsolated(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	defer env.close()
	sub := env.s.EnergyManagement().Subscribe(0)
	env.s.Start()

	env.source.frames <- badPayloadFrame(KindEnergyManagement)
	env.source.frames <- decodeErrorFrame()
	env.source.send(t, KindEnergyManagement, 2, 0)
	env.sync()
	assert.Equal(t, 2, expectSnapshot(t, sub).Model)
	assert.Equal(t, int64(1), env.s.Stat().ParseError.Value())
	assert.Equal(t, int64(1), env.s.Stat().DecodeError.Value())
	expectNoEvent(t, env.s, 0)
}

func TestSessionTerminate(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	sub := env.s.MainUnit().Subscribe(0)
	env.s.Start()
	env.source.send(t, KindMainUnit, 7, 0)
	env.sync()
	expectSnapshot(t, sub)

	boom := fmt.Errorf("connection reset")
	env.source.terminate(boom)
	env.s.Wait()

	assert.Equal(t, EventDisconnected, expectEvent(t, env.s, time.Second).Kind)
	e := expectEvent(t, env.s, time.Second)
	assert.Equal(t, EventTerminated, e.Kind)
	assert.Equal(t, boom, e.Err)
	_, ok := <-env.s.Events()
	assert.False(t, ok)
	_, ok = <-sub.C
	assert.False(t, ok)
	assert.True(t, env.s.Diagnostics().Empty())
	assert.NoError(t, env.s.Close())
}

// Terminal event must reach consumer even when nobody drained earlier events.
func TestSessionTerminateFullEvents(t *testing.T) {
	t.Parallel()
	const window = 50 * time.Millisecond
	env := newTestEnv(t, func(opt *Options) {
		opt.DisconnectWindow = window
		opt.EventBuffer = 1
	})
	env.s.Start()
	env.source.send(t, KindMainUnit, 7, 0)
	env.sync()
	require.Eventually(t, func() bool { return env.s.Stat().Disconnect.Value() == 1 }, 5*time.Second, 5*time.Millisecond)

	boom := fmt.Errorf("connection reset")
	env.source.terminate(boom)
	env.s.Wait()

	events := []Event{}
	for e := range env.s.Events() {
		events = append(events, e)
	}
	require.Len(t, events, 1)
	assert.Equal(t, EventTerminated, events[0].Kind)
	assert.Equal(t, boom, events[0].Err)
	assert.Equal(t, boom, env.s.Err())
	assert.Equal(t, int64(2), env.s.Stat().EventDropped.Value())
}

func TestSessionClose(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.s.Start()
	require.NoError(t, env.s.Close())
	assert.Equal(t, EventDisconnected, expectEvent(t, env.s, time.Second).Kind)
	e := expectEvent(t, env.s, time.Second)
	assert.Equal(t, EventTerminated, e.Kind)
	assert.NoError(t, e.Err)
	assert.NoError(t, env.s.Err())
}
