package run

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/efstat/cmd/efstat/subcmd"
	"github.com/temoto/efstat/config"
	"github.com/temoto/efstat/log2"
	"github.com/temoto/efstat/mqttpub"
	"golang.org/x/sync/errgroup"
)

var Mod = subcmd.Mod{Name: "run", Usage: "keep device session, publish to mqtt if enabled", Main: Main}

func Main(ctx context.Context, log *log2.Log, cfg *config.Config, args []string) error {
	cmdline := flag.NewFlagSet("run", flag.ExitOnError)
	statInterval := cmdline.Duration("stat-interval", 5*time.Minute, "log counters period, 0 disables")
	_ = cmdline.Parse(args)

	if err := cfg.Validate(); err != nil {
		return errors.Annotate(err, "config")
	}
	s, client, err := subcmd.OpenSession(log, cfg)
	if err != nil {
		return err
	}

	var bridge *mqttpub.Bridge
	if cfg.Mqtt.Enable {
		m, err := mqttpub.Connect(log, cfg.Mqtt)
		if err != nil {
			_ = s.Close()
			return errors.Annotate(err, "mqtt")
		}
		defer m.Disconnect(uint(time.Second / time.Millisecond))
		bridge, err = mqttpub.NewBridge(mqttpub.Options{
			Log:         log,
			Session:     s,
			Publisher:   m,
			TopicPrefix: cfg.Mqtt.TopicPrefix,
			Qos:         byte(cfg.Mqtt.Qos),
			Retain:      cfg.Mqtt.Retain,
			Product:     cfg.Product(),
		})
		if err != nil {
			_ = s.Close()
			return errors.Annotate(err, "mqtt bridge")
		}
	}

	ctx, stopSignal := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignal()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	s.Start()
	subcmd.SdNotify(daemon.SdNotifyReady)
	log.Infof("session started address=%s", cfg.Device.Address)

	g.Go(func() error {
		defer cancel()
		for e := range s.Events() {
			log.Infof("event: %s", e.String())
			if bridge != nil {
				bridge.OnEvent(e)
			}
		}
		return s.Err()
	})
	if bridge != nil {
		g.Go(bridge.Run)
	}
	if *statInterval > 0 {
		g.Go(func() error {
			t := time.NewTicker(*statInterval)
			defer t.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-t.C:
					log.Infof("stat transport=%s session=%s log_errors=%d last_recv=%v",
						client.Stat().String(), s.Stat().String(), subcmd.LogErrors.Value(), client.SinceLastRecv())
				}
			}
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		subcmd.SdNotify(daemon.SdNotifyStopping)
		log.Infof("stopping")
		return s.Close()
	})

	if err := g.Wait(); err != nil && errors.Cause(err) != context.Canceled {
		return err
	}
	return nil
}
