package diag

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/efstat/cmd/efstat/subcmd"
	"github.com/temoto/efstat/config"
	"github.com/temoto/efstat/log2"
	"github.com/temoto/efstat/telemetry"
	"gopkg.in/yaml.v3"
)

var Mod = subcmd.Mod{Name: "diag", Usage: "collect telemetry for a while, print diagnostics as yaml", Main: Main}

func Main(ctx context.Context, log *log2.Log, cfg *config.Config, args []string) error {
	cmdline := flag.NewFlagSet("diag", flag.ExitOnError)
	wait := cmdline.Duration("wait", 5*time.Second, "collect duration")
	_ = cmdline.Parse(args)

	if err := cfg.Validate(); err != nil {
		return errors.Annotate(err, "config")
	}
	s, _, err := subcmd.OpenSession(log, cfg)
	if err != nil {
		return err
	}
	d, err := Collect(ctx, log, s, *wait)
	if err != nil {
		return err
	}
	b, err := Marshal(d)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(b)
	return errors.Annotate(err, "stdout")
}

// Collect runs session for duration and closes it.
func Collect(ctx context.Context, log *log2.Log, s *telemetry.Session, wait time.Duration) (telemetry.Diagnostics, error) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range s.Events() {
			log.Debugf("event: %s", e.String())
		}
	}()
	s.Start()

	tmr := time.NewTimer(wait)
	defer tmr.Stop()
	select {
	case <-tmr.C:
	case <-ctx.Done():
	}
	d := s.Diagnostics()
	err := s.Close()
	<-done
	return d, errors.Annotate(err, "session close")
}

func Marshal(d telemetry.Diagnostics) ([]byte, error) {
	b, err := yaml.Marshal(d.Map())
	return b, errors.Annotate(err, "yaml")
}
