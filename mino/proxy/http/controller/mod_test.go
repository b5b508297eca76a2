package controller

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/keygen/cli"
	"go.dedis.ch/keygen/cli/node"
	"go.dedis.ch/keygen/mino/proxy/http"
)

func TestMinimal_SetCommands(t *testing.T) {
	ctrl := NewController()

	builder := &fakeBuilder{}
	ctrl.SetCommands(builder)

	require.Equal(t, []string{"proxy"}, builder.commands)
	require.Equal(t, []string{"start", "prom", "rounds"}, builder.cmd.subs)
	require.Equal(t, 3, builder.actions)
}

func TestMinimal_OnStart(t *testing.T) {
	ctrl := NewController()

	require.NoError(t, ctrl.OnStart(node.FlagSet{}, node.NewInjector()))
}

func TestMinimal_OnStop(t *testing.T) {
	ctrl := NewController()

	// Nothing to stop.
	require.NoError(t, ctrl.OnStop(node.NewInjector()))

	srv := http.NewHTTP("127.0.0.1:0")
	go srv.Listen()

	waitAddr(t, srv)

	inj := node.NewInjector()
	inj.Inject(srv)

	require.NoError(t, ctrl.OnStop(inj))
}

// -----------------------------------------------------------------------------
// Utility functions

type fakeBuilder struct {
	node.Builder

	commands []string
	actions  int
	cmd      *fakeCommandBuilder
}

func (b *fakeBuilder) SetCommand(name string) cli.CommandBuilder {
	b.commands = append(b.commands, name)
	b.cmd = &fakeCommandBuilder{}

	return b.cmd
}

func (b *fakeBuilder) MakeAction(node.ActionTemplate) cli.Action {
	b.actions++
	return nil
}

type fakeCommandBuilder struct {
	cli.CommandBuilder

	subs []string
}

func (b *fakeCommandBuilder) SetDescription(string) {}

func (b *fakeCommandBuilder) SetFlags(...cli.Flag) {}

func (b *fakeCommandBuilder) SetAction(cli.Action) {}

func (b *fakeCommandBuilder) SetSubCommand(name string) cli.CommandBuilder {
	b.subs = append(b.subs, name)
	return b
}
