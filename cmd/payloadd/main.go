package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"
	"io"
	"log"

	"github.com/golang/glog"

	"github.com/robotalks/payload.go/pkg/cli/sh"
	"github.com/robotalks/payload.go/pkg/env"
	fx "github.com/robotalks/payload.go/pkg/framework"
	"github.com/robotalks/payload.go/pkg/payload"

	_ "github.com/robotalks/payload.go/pkg/cli/cmds/flash"
)

var console bool

func init() {
	env.SetupFlags()
	flag.BoolVar(&console, "console", console, "Run the command console on stdin.")
}

func main() {
	flag.Parse()
	defer glog.Flush()

	conf := env.NewConfig().MustLoad()
	var opts payload.Options
	if console {
		// the shell prints the replies
		opts.Console = io.Discard
	}
	p, err := payload.New(conf, opts)
	if err != nil {
		log.Fatalln(err)
	}
	glog.Infof("payload %s starting", conf.ID)

	runner := fx.NewRunner().HandleSignals()
	runner.Go(fx.NamedRun("payload", p))
	if console {
		runner.Go(fx.NamedRun("console", fx.RunnableFunc(func(ctx context.Context) error {
			sh.NewLocal(sh.NewConfig(), conf.ID, p.Local).Run()
			glog.Info("console closed")
			return nil
		})))
	}
	if err := runner.Wait(); err != nil {
		log.Fatalln(err)
	}
}
