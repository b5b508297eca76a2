// Package controller implements a controller for minogrpc.
//
// The controller starts the overlay of the node on the listening address and
// injects it so that the other components can create their RPCs.
package controller

import (
	"net"
	"net/url"
	"time"

	"go.dedis.ch/keygen/cli"
	"go.dedis.ch/keygen/cli/node"
	"go.dedis.ch/keygen/mino/minogrpc"
	"go.dedis.ch/keygen/mino/minogrpc/tracing"
	"golang.org/x/xerrors"
)

const (
	defaultListen      = "tcp://127.0.0.1:2000"
	defaultCallTimeout = 10 * time.Second
)

// miniController is an initializer with the minimum set of commands.
//
// - implements node.Initializer
type miniController struct{}

// NewController creates a new minimal controller for minogrpc.
func NewController() node.Initializer {
	return miniController{}
}

// SetCommands implements node.Initializer. It sets the flags to configure the
// overlay.
func (m miniController) SetCommands(builder node.Builder) {
	builder.SetStartFlags(
		cli.StringFlag{
			Name:     "listen",
			Usage:    "set the address to listen on",
			EnvVar:   "KEYGEN_LISTEN",
			Required: false,
			Value:    defaultListen,
		},
		cli.StringFlag{
			Name: "public",
			Usage: "set the address announced to the participants, " +
				"which defaults to the listening one",
			EnvVar:   "KEYGEN_PUBLIC",
			Required: false,
		},
		cli.DurationFlag{
			Name:     "call-timeout",
			Usage:    "set the maximum duration of a call to a participant",
			Required: false,
			Value:    defaultCallTimeout,
		},
	)
}

// OnStart implements node.Initializer. It starts the overlay and injects it.
func (m miniController) OnStart(flags cli.Flags, inj node.Injector) error {
	listen, err := url.Parse(flags.String("listen"))
	if err != nil {
		return xerrors.Errorf("failed to parse listen URL: %v", err)
	}

	addr, err := net.ResolveTCPAddr(listen.Scheme, listen.Host)
	if err != nil {
		return xerrors.Errorf("failed to resolve listen address: %v", err)
	}

	opts := []minogrpc.Option{}

	if flags.String("public") != "" {
		opts = append(opts, minogrpc.WithPublicAddress(flags.String("public")))
	}

	if flags.Duration("call-timeout") > 0 {
		opts = append(opts, minogrpc.WithCallTimeout(flags.Duration("call-timeout")))
	}

	o, err := minogrpc.NewMinogrpc(addr, opts...)
	if err != nil {
		return xerrors.Errorf("couldn't make overlay: %v", err)
	}

	inj.Inject(o)

	return nil
}

// OnStop implements node.Initializer. It stops the overlay and closes the
// tracers.
func (m miniController) OnStop(inj node.Injector) error {
	var o *minogrpc.Minogrpc
	err := inj.Resolve(&o)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	err = o.GracefulStop()
	if err != nil {
		return xerrors.Errorf("while stopping mino: %v", err)
	}

	err = tracing.CloseAll()
	if err != nil {
		return xerrors.Errorf("failed to close tracers: %v", err)
	}

	return nil
}
