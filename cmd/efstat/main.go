package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/temoto/efstat/cmd/efstat/diag"
	"github.com/temoto/efstat/cmd/efstat/run"
	"github.com/temoto/efstat/cmd/efstat/subcmd"
	"github.com/temoto/efstat/config"
	"github.com/temoto/efstat/log2"
)

var log = log2.NewStderr(log2.LDebug)

var modules = []subcmd.Mod{
	run.Mod,
	diag.Mod,
}

func main() {
	flagConfig := flag.String("config", "efstat.hcl", "")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config path] command [flags]\ncommands:\n", os.Args[0])
		for _, m := range modules {
			fmt.Fprintf(flag.CommandLine.Output(), "  %-6s %s\n", m.Name, m.Usage)
		}
		flag.PrintDefaults()
	}
	flag.Parse()

	if subcmd.SdNotify("start") || !isatty.IsTerminal(os.Stderr.Fd()) {
		// systemd journal or pipe, no timestamps
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}
	log.SetErrorFunc(func(error) { subcmd.LogErrors.Add(1) })

	command := flag.Arg(0)
	if command == "" {
		command = run.Mod.Name
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		flag.Usage()
		log.Fatal(err)
	}

	cfg := config.MustReadConfig(log, config.NewOsFullReader(), *flagConfig)
	if !cfg.LogDebug {
		log.SetLevel(log2.LInfo)
	}
	log.Debugf("config=%+v", cfg)

	var args []string
	if flag.NArg() > 1 {
		args = flag.Args()[1:]
	}
	if err := mod.Main(context.Background(), log, cfg, args); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}
