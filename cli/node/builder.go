package node

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	urfave "github.com/urfave/cli/v2"
	"go.dedis.ch/keygen"
	"go.dedis.ch/keygen/cli"
	"go.dedis.ch/keygen/cli/ucli"
	"golang.org/x/xerrors"
)

// CLIBuilder is an application builder that will build a CLI to start and
// control a key generator node.
//
// - implements node.Builder
// - implements cli.Builder
type CLIBuilder struct {
	cli.Builder

	daemonFactory DaemonFactory
	injector      Injector
	actions       *actionMap
	startFlags    []cli.Flag
	inits         []Initializer

	// The daemon is stopped with SIGTERM in production. Tests provide their
	// own channel instead.
	enableSignal bool
	sigs         chan os.Signal
}

// NewBuilder returns a new empty builder.
func NewBuilder(inits ...Initializer) *CLIBuilder {
	return NewBuilderWithCfg(nil, nil, inits...)
}

// NewBuilderWithCfg returns a new empty builder with a custom signal channel
// and output.
func NewBuilderWithCfg(sigs chan os.Signal, out io.Writer, inits ...Initializer) *CLIBuilder {
	if out == nil {
		out = os.Stdout
	}

	enabled := false

	if sigs == nil {
		sigs = make(chan os.Signal, 1)
		enabled = true
	}

	injector := NewInjector()
	actions := &actionMap{}

	factory := socketFactory{
		injector: injector,
		actions:  actions,
		out:      out,
	}

	builder := ucli.NewBuilder("keygen", nil, cli.StringFlag{
		Name:   "config",
		Usage:  "path to the config folder",
		EnvVar: "KEYGEN_CONFIG",
		Value:  ".keygen",
	})

	return &CLIBuilder{
		Builder:       builder,
		injector:      injector,
		actions:       actions,
		daemonFactory: factory,
		enableSignal:  enabled,
		sigs:          sigs,
		inits:         inits,
	}
}

// SetStartFlags implements node.Builder.
func (b *CLIBuilder) SetStartFlags(flags ...cli.Flag) {
	b.startFlags = append(b.startFlags, flags...)
}

// MakeAction implements node.Builder. It creates a CLI action that forwards
// the flags to the daemon, which executes the template.
func (b *CLIBuilder) MakeAction(tmpl ActionTemplate) cli.Action {
	index := b.actions.Set(tmpl)

	return func(c cli.Flags) error {
		client, err := b.daemonFactory.ClientFromContext(c)
		if err != nil {
			return xerrors.Errorf("couldn't make client: %v", err)
		}

		id := make([]byte, 2)
		binary.LittleEndian.PutUint16(id, index)

		fset := make(FlagSet)

		ctx, ok := c.(*urfave.Context)
		if ok {
			lookupFlags(fset, ctx)
		}

		buf, err := json.Marshal(fset)
		if err != nil {
			return xerrors.Errorf("failed to marshal flag set: %v", err)
		}

		err = client.Send(append(id, buf...))
		if err != nil {
			return xerrors.Opaque(err)
		}

		return nil
	}
}

// Build implements cli.Builder. It lets the initializers declare their
// commands before adding the start command.
func (b *CLIBuilder) Build() cli.Application {
	for _, initializer := range b.inits {
		initializer.SetCommands(b)
	}

	cmd := b.SetCommand("start")
	cmd.SetDescription("start the daemon")
	cmd.SetFlags(b.startFlags...)
	cmd.SetAction(b.start)

	return b.Builder.Build()
}

func (b *CLIBuilder) start(flags cli.Flags) error {
	if b.enableSignal {
		signal.Notify(b.sigs, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(b.sigs)
	}

	dir := flags.Path("config")
	if dir != "" {
		err := os.MkdirAll(dir, 0700)
		if err != nil {
			return xerrors.Errorf("couldn't make path: %v", err)
		}
	}

	daemon, err := b.daemonFactory.DaemonFromContext(flags)
	if err != nil {
		return xerrors.Errorf("couldn't make daemon: %v", err)
	}

	for _, initializer := range b.inits {
		err = initializer.OnStart(flags, b.injector)
		if err != nil {
			return xerrors.Errorf("couldn't run the controller: %v", err)
		}
	}

	// The daemon only accepts commands once every component is running.
	err = daemon.Listen()
	if err != nil {
		return xerrors.Errorf("couldn't start the daemon: %v", err)
	}

	defer daemon.Close()

	<-b.sigs

	// Reverse order so that the generator stops before its storage.
	for i := len(b.inits) - 1; i >= 0; i-- {
		err = b.inits[i].OnStop(b.injector)
		if err != nil {
			return xerrors.Errorf("couldn't stop controller: %v", err)
		}
	}

	keygen.Logger.Trace().Msg("daemon has been stopped")

	return nil
}

func lookupFlags(fset FlagSet, ctx *urfave.Context) {
	for _, ancestor := range ctx.Lineage() {
		if ancestor.Command != nil {
			fill(fset, ancestor.Command.Flags, ancestor)
		}

		if ancestor.App != nil {
			fill(fset, ancestor.App.Flags, ancestor)
		}
	}
}

func fill(fset FlagSet, flags []urfave.Flag, ctx *urfave.Context) {
	for _, flag := range flags {
		names := flag.Names()
		if len(names) == 0 {
			continue
		}

		// The closest context wins as the lineage starts from the command.
		_, found := fset[names[0]]
		if !found {
			fset[names[0]] = valueOf(flag, names[0], ctx)
		}
	}
}

// valueOf reads the value with the typed getters that walk the lineage of the
// context. String slices are returned as []string so that they serialize.
func valueOf(flag urfave.Flag, name string, ctx *urfave.Context) interface{} {
	switch flag.(type) {
	case *urfave.StringSliceFlag:
		return ctx.StringSlice(name)
	case *urfave.DurationFlag:
		return ctx.Duration(name)
	case *urfave.IntFlag:
		return ctx.Int(name)
	case *urfave.BoolFlag:
		return ctx.Bool(name)
	default:
		return ctx.String(name)
	}
}

// actionMap stores the action templates and assigns a unique index to each.
type actionMap struct {
	list []ActionTemplate
}

func (m *actionMap) Set(a ActionTemplate) uint16 {
	m.list = append(m.list, a)
	return uint16(len(m.list) - 1)
}

func (m *actionMap) Get(index uint16) ActionTemplate {
	if int(index) >= len(m.list) {
		return nil
	}

	return m.list[index]
}
