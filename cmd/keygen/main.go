// Package main implements the key generator node.
//
// A node is started with the start command, which runs the daemon until it
// receives a signal. The other commands talk to the daemon of the node that
// owns the config folder.
//
//	keygen params --out params.json
//	keygen --config /tmp/node1 start --identity A --leader \
//	    --listen tcp://127.0.0.1:2000 --peer B=127.0.0.1:2001
//	keygen --config /tmp/node1 round latest
package main

import (
	"fmt"
	"io"
	"os"

	"go.dedis.ch/keygen/cli/node"

	db "go.dedis.ch/keygen/core/store/kv/controller"
	generator "go.dedis.ch/keygen/generator/controller"
	mino "go.dedis.ch/keygen/mino/minogrpc/controller"
	proxy "go.dedis.ch/keygen/mino/proxy/http/controller"
)

func main() {
	err := run(os.Args)
	if err != nil {
		fmt.Printf("%+v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	return runWithCfg(args, config{Writer: os.Stdout})
}

type config struct {
	Channel chan os.Signal
	Writer  io.Writer
}

func runWithCfg(args []string, cfg config) error {
	builder := node.NewBuilderWithCfg(
		cfg.Channel,
		cfg.Writer,
		db.NewMinimal(),
		mino.NewController(),
		generator.NewController(),
		proxy.NewController(),
	)

	app := builder.Build()

	err := app.Run(args)
	if err != nil {
		return err
	}

	return nil
}
