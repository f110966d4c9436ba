// Package config reads daemon configuration from HCL files.
//
//	device { address = "192.168.1.50" disconnect_sec = 15 }
//	extra_models = [5, 14]
//	kind "main_unit" {
//	  route { src = 2 cmd_set = 32 cmd_id = 2 }
//	  field "soc" { offset = 14 type = "u8" }
//	}
//	mqtt { enable = true broker = "tcp://localhost:1883" }
//	include "local.hcl" { optional = true }
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/efstat/decode"
	"github.com/temoto/efstat/helpers"
	"github.com/temoto/efstat/log2"
	"github.com/temoto/efstat/telemetry"
	"github.com/temoto/efstat/transport"
)

const (
	DefaultTopicPrefix = "efstat"
	DefaultProduct     = "RIVER 600 Pro"
)

type Config struct {
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	Device struct {
		Address           string `hcl:"address"`
		Product           string `hcl:"product"`
		DisconnectSec     int    `hcl:"disconnect_sec"`
		NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
		RetryDelayMs      int    `hcl:"retry_delay_ms"`
		FrameLimit        int    `hcl:"frame_limit"`
	} `hcl:"device"`

	LogDebug bool `hcl:"log_debug"`
	// Device models with extra battery module attached.
	ExtraModels []int `hcl:"extra_models"`
	// Ignore built-in routes and layouts, use only kind blocks.
	NoDefaults bool         `hcl:"no_defaults"`
	Kinds      []KindConfig `hcl:"kind"`

	Mqtt MqttConfig `hcl:"mqtt"`
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

type KindConfig struct {
	Name   string        `hcl:"name,key"`
	Routes []RouteConfig `hcl:"route"`
	Fields []FieldConfig `hcl:"field"`
}

type RouteConfig struct {
	Src    int `hcl:"src"`
	CmdSet int `hcl:"cmd_set"`
	CmdID  int `hcl:"cmd_id"`
}

type FieldConfig struct {
	Name   string  `hcl:"name,key"`
	Offset int     `hcl:"offset"`
	Type   string  `hcl:"type"`
	Scale  float64 `hcl:"scale"`
}

type MqttConfig struct {
	Enable       bool   `hcl:"enable"`
	Broker       string `hcl:"broker"`
	ClientID     string `hcl:"client_id"`
	Username     string `hcl:"username"`
	Password     string `hcl:"password"`
	TopicPrefix  string `hcl:"topic_prefix"`
	KeepaliveSec int    `hcl:"keepalive_sec"`
	Qos          int    `hcl:"qos"`
	Retain       bool   `hcl:"retain"`
}

func (c *Config) DisconnectWindow() time.Duration {
	return helpers.IntSecondDefault(c.Device.DisconnectSec, telemetry.DefaultDisconnectWindow)
}

func (c *Config) ClientOptions(log *log2.Log) transport.ClientOptions {
	return transport.ClientOptions{
		Log:            log,
		Address:        c.Device.Address,
		NetworkTimeout: helpers.IntSecondDefault(c.Device.NetworkTimeoutSec, transport.DefaultNetworkTimeout),
		RetryDelay:     helpers.IntMillisecondDefault(c.Device.RetryDelayMs, transport.DefaultRetryDelay),
		FrameLimit:     c.Device.FrameLimit,
	}
}

// HasExtra returns nil when no models are configured.
func (c *Config) HasExtra() telemetry.ExtraFunc {
	if len(c.ExtraModels) == 0 {
		return nil
	}
	return telemetry.ExtraModels(c.ExtraModels...)
}

func (c *Config) Product() string {
	if c.Device.Product == "" {
		return DefaultProduct
	}
	return c.Device.Product
}

// Table merges kind routes over built-in ones.
func (c *Config) Table() (*decode.Table, error) {
	var t *decode.Table
	if c.NoDefaults {
		t = decode.NewTable(nil)
	} else {
		t = decode.NewDefaultTable()
	}
	errs := make([]error, 0)
	for _, kc := range c.Kinds {
		k, err := telemetry.ParseKind(kc.Name)
		if err != nil {
			errs = append(errs, errors.Annotate(err, "config kind"))
			continue
		}
		for _, rc := range kc.Routes {
			if err := rc.validate(); err != nil {
				errs = append(errs, errors.Annotatef(err, "config kind=%s", kc.Name))
				continue
			}
			_ = t.Set(decode.Route{Src: byte(rc.Src), CmdSet: byte(rc.CmdSet), CmdID: byte(rc.CmdID)}, k)
		}
	}
	return t, helpers.FoldErrors(errs)
}

// Parsers from built-in layouts, kind with field blocks replaces whole layout.
func (c *Config) Parsers() (map[telemetry.Kind]telemetry.Parser, error) {
	layouts := make(map[telemetry.Kind][]decode.Field)
	if !c.NoDefaults {
		for k, fs := range decode.DefaultLayouts {
			layouts[k] = fs
		}
	}
	errs := make([]error, 0)
	for _, kc := range c.Kinds {
		k, err := telemetry.ParseKind(kc.Name)
		if err != nil {
			errs = append(errs, errors.Annotate(err, "config kind"))
			continue
		}
		if len(kc.Fields) == 0 {
			continue
		}
		fs := make([]decode.Field, 0, len(kc.Fields))
		for _, fc := range kc.Fields {
			ft, err := decode.ParseFieldType(fc.Type)
			if err != nil {
				errs = append(errs, errors.Annotatef(err, "config kind=%s field=%s", kc.Name, fc.Name))
				continue
			}
			if fc.Offset < 0 {
				errs = append(errs, errors.NotValidf("config kind=%s field=%s offset=%d", kc.Name, fc.Name, fc.Offset))
				continue
			}
			fs = append(fs, decode.Field{Name: fc.Name, Offset: fc.Offset, Type: ft, Scale: fc.Scale})
		}
		layouts[k] = fs
	}
	return decode.Parsers(layouts), helpers.FoldErrors(errs)
}

func (rc RouteConfig) validate() error {
	for _, x := range []int{rc.Src, rc.CmdSet, rc.CmdID} {
		if x < 0 || x > 0xff {
			return errors.NotValidf("route src=%d cmd_set=%d cmd_id=%d", rc.Src, rc.CmdSet, rc.CmdID)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	errs := make([]error, 0)
	if c.Device.Address == "" {
		errs = append(errs, errors.NotValidf("config device.address=empty"))
	}
	if _, err := c.Table(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Parsers(); err != nil {
		errs = append(errs, err)
	}
	if c.Mqtt.Enable && c.Mqtt.Broker == "" {
		errs = append(errs, errors.NotValidf("config mqtt.broker=empty"))
	}
	if c.Mqtt.Qos < 0 || c.Mqtt.Qos > 2 {
		errs = append(errs, errors.NotValidf("config mqtt.qos=%d", c.Mqtt.Qos))
	}
	return helpers.FoldErrors(errs)
}

// loader reads sources and their includes into one Config.
// Scalars of later sources override earlier ones, kind blocks accumulate.
// Same file reached twice (diamond include) is read once; a cycle is an error.
type loader struct {
	log   *log2.Log
	fs    FullReader
	seen  map[string]string // path -> source name that read it first
	chain []string          // include stack of paths
	errs  []error
}

func (l *loader) load(c *Config, source ConfigSource) {
	path := l.fs.Normalize(source.Name)
	for _, p := range l.chain {
		if p == path {
			l.errs = append(l.errs, errors.NotValidf("config include loop %s",
				strings.Join(append(l.chain, path), " -> ")))
			return
		}
	}
	if first, ok := l.seen[path]; ok {
		l.log.Debugf("config skip source=%s path=%s, already read as %s", source.Name, path, first)
		return
	}
	l.seen[path] = source.Name

	b, err := l.fs.ReadAll(path)
	switch {
	case err != nil:
		l.errs = append(l.errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	case b == nil && source.Optional:
		l.log.Debugf("config optional source=%s path=%s not found", source.Name, path)
		return
	case b == nil:
		l.errs = append(l.errs, errors.NotFoundf("config required name=%s path=%s", source.Name, path))
		return
	}
	l.log.Debugf("config reading source=%s path=%s", source.Name, path)

	if err := hcl.Unmarshal(b, c); err != nil {
		l.errs = append(l.errs, errors.Annotatef(err, "config unmarshal source=%s", source.Name))
		return
	}
	includes := c.XXX_Include
	c.XXX_Include = nil
	l.chain = append(l.chain, path)
	for _, include := range includes {
		l.load(c, include)
	}
	l.chain = l.chain[:len(l.chain)-1]
}

// Defaults that builders do not cover.
func (c *Config) applyDefaults() {
	c.Mqtt.TopicPrefix = strings.TrimRight(c.Mqtt.TopicPrefix, "/")
	if c.Mqtt.TopicPrefix == "" {
		c.Mqtt.TopicPrefix = DefaultTopicPrefix
	}
	if c.Device.Product == "" {
		c.Device.Product = DefaultProduct
	}
}

// ReadConfig merges sources in order. With OsFullReader, relative
// includes resolve against directory of the first name.
func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.NotValidf("config ReadConfig without names")
	}
	first := names[0]
	if osfs, ok := fs.(*OsFullReader); ok {
		var dir string
		dir, first = filepath.Split(first)
		osfs.SetBase(dir)
	}

	l := &loader{log: log, fs: fs, seen: make(map[string]string)}
	c := &Config{}
	l.load(c, ConfigSource{Name: first})
	for _, name := range names[1:] {
		l.load(c, ConfigSource{Name: name})
	}
	c.applyDefaults()
	return c, helpers.FoldErrors(l.errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
