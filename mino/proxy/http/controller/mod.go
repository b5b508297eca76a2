// Package controller implements the daemon actions of the HTTP proxy.
package controller

import (
	"go.dedis.ch/keygen/cli"
	"go.dedis.ch/keygen/cli/node"
	"go.dedis.ch/keygen/mino/proxy/http"
)

const defaultAddr = "127.0.0.1:8080"

const defaultProm = "/metrics"

const defaultRounds = "/rounds/"

// NewController returns a new minimal initializer
func NewController() node.Initializer {
	return minimal{}
}

// minimal is an initializer with the minimum set of commands. Indeed it only
// creates and injects a new client proxy
//
// - implements node.Initializer
type minimal struct{}

// SetCommands implements node.Initializer. It registers the commands to start
// the proxy and to register its handlers.
func (m minimal) SetCommands(builder node.Builder) {
	cmd := builder.SetCommand("proxy")
	cmd.SetDescription("manage the http proxy of the node")

	sub := cmd.SetSubCommand("start")
	sub.SetDescription("start the proxy http server")
	sub.SetFlags(cli.StringFlag{
		Name:     "clientaddr",
		Required: false,
		Usage:    "the address of the http client",
		Value:    defaultAddr,
	})
	sub.SetAction(builder.MakeAction(startAction{}))

	sub = cmd.SetSubCommand("prom")
	sub.SetDescription("registers the collectors and starts a prometheus handler. " +
		"Will panic if the path is used more than once.")
	sub.SetFlags(cli.StringFlag{
		Name:     "path",
		Required: false,
		Usage:    "the handler path",
		Value:    defaultProm,
	})
	sub.SetAction(builder.MakeAction(promAction{}))

	sub = cmd.SetSubCommand("rounds")
	sub.SetDescription("starts the handler to look up the rounds by id. " +
		"Will panic if the path is used more than once.")
	sub.SetFlags(cli.StringFlag{
		Name:     "path",
		Required: false,
		Usage:    "the handler path",
		Value:    defaultRounds,
	})
	sub.SetAction(builder.MakeAction(roundsAction{}))
}

// OnStart implements node.Initializer. The proxy is started on demand by the
// start action.
func (m minimal) OnStart(flags cli.Flags, inj node.Injector) error {
	return nil
}

// OnStop implements node.Initializer. It stops the http server if it was
// started.
func (m minimal) OnStop(inj node.Injector) error {
	var proxy *http.HTTP
	err := inj.Resolve(&proxy)
	if err == nil {
		proxy.Stop()
	}

	return nil
}
