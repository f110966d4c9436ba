// Support sub-commands in efstat application.
package subcmd

import (
	"context"
	"expvar"
	"fmt"
	"log"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/efstat/config"
	"github.com/temoto/efstat/decode"
	"github.com/temoto/efstat/log2"
	"github.com/temoto/efstat/telemetry"
	"github.com/temoto/efstat/transport"
)

type Mod struct {
	Name  string
	Usage string
	Main  func(ctx context.Context, log *log2.Log, cfg *config.Config, args []string) error
}

// Errors logged by any component, see log2.SetErrorFunc.
var LogErrors expvar.Int

func Parse(command string, modules []Mod) (*Mod, error) {
	if command == "" {
		return nil, fmt.Errorf("empty command")
	}

	var found *Mod
	for i := range modules {
		m := &modules[i]
		if m.Name == "" {
			panic(fmt.Sprintf("code error Name='' module=%#v", m))
		}
		if command == m.Name {
			found = m
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("unknown command='%s'", command)
	}
	return found, nil
}

func SdNotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}

// OpenSession connects to device from config. Session is not started.
func OpenSession(log *log2.Log, cfg *config.Config) (*telemetry.Session, *transport.Client, error) {
	table, err := cfg.Table()
	if err != nil {
		return nil, nil, errors.Annotate(err, "config routes")
	}
	parsers, err := cfg.Parsers()
	if err != nil {
		return nil, nil, errors.Annotate(err, "config layouts")
	}

	clientLog := log.Clone(log.Level())
	clientLog.SetPrefix("transport: ")
	client, err := transport.NewClient(cfg.ClientOptions(clientLog))
	if err != nil {
		return nil, nil, errors.Annotate(err, "transport")
	}
	s, err := telemetry.NewSession(telemetry.Options{
		Log:              log,
		Source:           client,
		Decoder:          decode.NewDecoder(table),
		Parsers:          parsers,
		HasExtra:         cfg.HasExtra(),
		DisconnectWindow: cfg.DisconnectWindow(),
	})
	if err != nil {
		_ = client.Close()
		return nil, nil, errors.Annotate(err, "session")
	}
	return s, client, nil
}
