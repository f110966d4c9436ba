package config

import (
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/efstat/decode"
	"github.com/temoto/efstat/log2"
	"github.com/temoto/efstat/telemetry"
	"github.com/temoto/efstat/transport"
)

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		input     string
		check     func(testing.TB, *Config)
		expectErr string
	}
	cases := []Case{
		{"empty", "", func(t testing.TB, c *Config) {
			assert.Equal(t, telemetry.DefaultDisconnectWindow, c.DisconnectWindow())
			assert.Equal(t, DefaultTopicPrefix, c.Mqtt.TopicPrefix)
			assert.Equal(t, DefaultProduct, c.Product())
			assert.Nil(t, c.HasExtra())
			assert.True(t, errors.IsNotValid(c.Validate()))
		}, ""},

		{"device", `
device {
	address = "10.0.0.5"
	disconnect_sec = 20
	network_timeout_sec = 7
	retry_delay_ms = 300
	frame_limit = 1024
}`,
			func(t testing.TB, c *Config) {
				assert.NoError(t, c.Validate())
				assert.Equal(t, 20*time.Second, c.DisconnectWindow())
				opt := c.ClientOptions(nil)
				assert.Equal(t, "10.0.0.5", opt.Address)
				assert.Equal(t, 7*time.Second, opt.NetworkTimeout)
				assert.Equal(t, 300*time.Millisecond, opt.RetryDelay)
				assert.Equal(t, 1024, opt.FrameLimit)
			}, ""},

		{"device-defaults", `device { address = "ef" }`, func(t testing.TB, c *Config) {
			opt := c.ClientOptions(nil)
			assert.Equal(t, transport.DefaultNetworkTimeout, opt.NetworkTimeout)
			assert.Equal(t, transport.DefaultRetryDelay, opt.RetryDelay)
		}, ""},

		{"extra-models", `extra_models = [5, 14]`, func(t testing.TB, c *Config) {
			has := c.HasExtra()
			require.NotNil(t, has)
			assert.True(t, has(14))
			assert.False(t, has(1))
		}, ""},

		{"kind-override", `
device { address = "ef" }
kind "inverter" {
	route { src = 11 cmd_set = 32 cmd_id = 2 }
	field "watts" { offset = 1 type = "u16" scale = 0.5 }
}`,
			func(t testing.TB, c *Config) {
				require.NoError(t, c.Validate())
				table, err := c.Table()
				require.NoError(t, err)
				assert.Equal(t, telemetry.KindInverter, table.Classify(decode.Route{Src: 11, CmdSet: 32, CmdID: 2}))
				assert.Equal(t, telemetry.KindMainUnit, table.Classify(decode.Route{Src: 2, CmdSet: 0x20, CmdID: 2}))

				ps, err := c.Parsers()
				require.NoError(t, err)
				s, err := ps[telemetry.KindInverter].Parse(telemetry.Message{Kind: telemetry.KindInverter, Payload: []byte{0, 0x10, 0}})
				require.NoError(t, err)
				assert.Equal(t, map[string]float64{"watts": 8}, s.Fields)
			}, ""},

		{"no-defaults", `
no_defaults = true
kind "fan_auto" { route { src = 4 cmd_set = 32 cmd_id = 74 } }`,
			func(t testing.TB, c *Config) {
				table, err := c.Table()
				require.NoError(t, err)
				assert.Equal(t, 1, table.Len())
				ps, err := c.Parsers()
				require.NoError(t, err)
				assert.Empty(t, ps)
			}, ""},

		{"kind-invalid", `
device { address = "ef" }
kind "toaster" { route { src = 1 cmd_set = 2 cmd_id = 3 } }
kind "mppt" { route { src = 300 cmd_set = 2 cmd_id = 3 } }
kind "mppt" { field "x" { offset = 0 type = "f64" } }`,
			func(t testing.TB, c *Config) {
				err := c.Validate()
				require.Error(t, err)
				assert.Contains(t, err.Error(), "toaster")
				assert.Contains(t, err.Error(), "src=300")
				assert.Contains(t, err.Error(), "f64")
			}, ""},

		{"mqtt", `
device { address = "ef" }
mqtt {
	enable = true
	broker = "tcp://broker:1883"
	topic_prefix = "home/river"
	qos = 1
}`,
			func(t testing.TB, c *Config) {
				require.NoError(t, c.Validate())
				assert.Equal(t, "home/river", c.Mqtt.TopicPrefix)
				assert.Equal(t, 1, c.Mqtt.Qos)
			}, ""},

		{"mqtt-invalid", `
device { address = "ef" }
mqtt { enable = true }`,
			func(t testing.TB, c *Config) {
				err := c.Validate()
				require.Error(t, err)
				assert.Contains(t, err.Error(), "mqtt.broker")
			}, ""},

		{"include-optional", `
include "address" {}
include "non-exist" { optional = true }`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, "included", c.Device.Address)
			}, ""},

		{"include-overwrites", `
device { address = "first" }
include "address" {}`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, "included", c.Device.Address)
			}, ""},

		{"include-diamond", `
include "diamond-a" {}
include "diamond-b" {}`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, "included", c.Device.Address)
				assert.Equal(t, []int{1, 2}, c.ExtraModels)
			}, ""},

		{"topic-prefix-slash", `mqtt { topic_prefix = "home/ef/" }`, func(t testing.TB, c *Config) {
			assert.Equal(t, "home/ef", c.Mqtt.TopicPrefix)
			assert.Equal(t, DefaultProduct, c.Device.Product)
		}, ""},

		{"include-required", `include "non-exist" {}`, nil, "config required name=non-exist"},
		{"include-loop-chain", `include "loop-a" {}`, nil, "test-inline -> loop-a -> test-inline"},
		{"include-loop", `include "test-inline" {}`, nil, "config include loop"},
		{"syntax", `device {`, nil, "config unmarshal source=test-inline"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LDebug)
			fs := NewMockFullReader(map[string]string{
				"test-inline": c.input,
				"address":     `device { address = "included" }`,
				"diamond-a":   `include "address" {}` + "\nextra_models = [1, 2]",
				"diamond-b":   `include "address" {}`,
				"loop-a":      `include "test-inline" {}`,
			})
			cfg, err := ReadConfig(log, fs, "test-inline")
			if c.expectErr == "" {
				require.NoError(t, err, errors.ErrorStack(err))
				if c.check != nil {
					c.check(t, cfg)
				}
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), c.expectErr)
			}
		})
	}
}

func TestReadConfigNoNames(t *testing.T) {
	t.Parallel()
	_, err := ReadConfig(log2.NewTest(t, log2.LDebug), NewMockFullReader(nil))
	assert.True(t, errors.IsNotValid(err))
}

func TestMustReadConfig(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	fs := NewMockFullReader(map[string]string{"main": `device { address = "ef" }`})
	c := MustReadConfig(log, fs, "main")
	assert.Equal(t, "ef", c.Device.Address)
}
