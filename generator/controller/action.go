package controller

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"strings"

	"go.dedis.ch/keygen/cli"
	"go.dedis.ch/keygen/cli/node"
	"go.dedis.ch/keygen/crypto/tlp"
	"go.dedis.ch/keygen/generator"
	"go.dedis.ch/keygen/generator/roundstore"
	"go.dedis.ch/keygen/membership"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"
)

const resolveGeneratorFailed = "failed to resolve generator, is the node started?: %v"

// paramsAction generates the parameters of the scheme. It runs in the CLI and
// does not need a daemon.
type paramsAction struct {
	out io.Writer
}

func (a paramsAction) Execute(flags cli.Flags) error {
	if flags.Int("delay") <= 0 {
		return xerrors.New("delay must be positive")
	}

	params, err := tlp.GenerateParams(rand.Reader, flags.Int("bits"), uint64(flags.Int("delay")))
	if err != nil {
		return xerrors.Errorf("failed to generate: %v", err)
	}

	data, err := tlp.EncodeParams(params)
	if err != nil {
		return xerrors.Errorf("failed to encode: %v", err)
	}

	path := flags.String("out")
	if path == "" {
		fmt.Fprintln(a.out, string(data))
		return nil
	}

	err = os.WriteFile(path, data, 0600)
	if err != nil {
		return xerrors.Errorf("failed to write file: %v", err)
	}

	fmt.Fprintf(a.out, "Parameters written in %s\n", path)

	return nil
}

// roundInfoAction is an action to print the state of a round.
//
// - implements node.ActionTemplate
type roundInfoAction struct{}

// Execute implements node.ActionTemplate.
func (roundInfoAction) Execute(ctx node.Context) error {
	var store *roundstore.Store
	err := ctx.Injector.Resolve(&store)
	if err != nil {
		return xerrors.Errorf("failed to resolve store: %v", err)
	}

	round, err := roundID(ctx.Flags)
	if err != nil {
		return err
	}

	info, err := store.GetRoundInfo(round)
	if err != nil {
		return xerrors.Errorf("failed to read round: %v", err)
	}

	fmt.Fprintf(ctx.Out, "Round: %d\n", info.Round)
	fmt.Fprintf(ctx.Out, "Open: %t\n", info.Open)
	fmt.Fprintf(ctx.Out, "Empty: %t\n", info.Empty)
	fmt.Fprintf(ctx.Out, "Contributors: %s\n", strings.Join(info.Contributors, ", "))

	if info.AggregatedKey != nil {
		fmt.Fprintf(ctx.Out, "Encryption key: %s\n", info.AggregatedKey.EncryptionKey())
	}

	fmt.Fprintf(ctx.Out, "Decryption key: %t\n", info.DecryptionKey != nil)

	return nil
}

// aggregateAction is an action to aggregate a round now. With the force flag,
// a round already aggregated is aggregated again with the contributions
// received since.
//
// - implements node.ActionTemplate
type aggregateAction struct{}

// Execute implements node.ActionTemplate.
func (aggregateAction) Execute(ctx node.Context) error {
	var gen *generator.Generator
	err := ctx.Injector.Resolve(&gen)
	if err != nil {
		return xerrors.Errorf(resolveGeneratorFailed, err)
	}

	round, err := roundID(ctx.Flags)
	if err != nil {
		return err
	}

	aggregate := gen.Aggregate
	if ctx.Flags.Bool("force") {
		aggregate = gen.Reaggregate
	}

	dec, err := aggregate(context.Background(), round)
	if err != nil {
		return xerrors.Errorf("failed to aggregate: %v", err)
	}

	fmt.Fprintf(ctx.Out, "Round %d aggregated, public key: %s\n", round, dec.PublicKey())

	return nil
}

func roundID(flags cli.Flags) (uint64, error) {
	id := flags.Int("id")
	if id < 0 {
		return 0, xerrors.Errorf("invalid round id %d", id)
	}

	return uint64(id), nil
}

// latestAction is an action to print the id of the latest round.
//
// - implements node.ActionTemplate
type latestAction struct{}

// Execute implements node.ActionTemplate.
func (latestAction) Execute(ctx node.Context) error {
	var store *roundstore.Store
	err := ctx.Injector.Resolve(&store)
	if err != nil {
		return xerrors.Errorf("failed to resolve store: %v", err)
	}

	round, err := store.CurrentRoundID()
	if xerrors.Is(err, roundstore.ErrNotFound) {
		fmt.Fprintln(ctx.Out, "No round yet")
		return nil
	}
	if err != nil {
		return xerrors.Errorf("failed to read round: %v", err)
	}

	fmt.Fprintf(ctx.Out, "Latest round: %d\n", round)

	return nil
}

// addMemberAction is an action to add or update a member.
//
// - implements node.ActionTemplate
type addMemberAction struct{}

// Execute implements node.ActionTemplate.
func (addMemberAction) Execute(ctx node.Context) error {
	var members *membership.Registry
	err := ctx.Injector.Resolve(&members)
	if err != nil {
		return xerrors.Errorf("failed to resolve registry: %v", err)
	}

	entry := membership.Entry{
		Contributor: ctx.Flags.String("identity"),
		Endpoint:    ctx.Flags.String("endpoint"),
	}

	err = members.Add(entry)
	if err != nil {
		return xerrors.Errorf("failed to add member: %v", err)
	}

	fmt.Fprintf(ctx.Out, "Member %s added\n", entry.Contributor)

	return nil
}

// removeMemberAction is an action to remove a member.
//
// - implements node.ActionTemplate
type removeMemberAction struct{}

// Execute implements node.ActionTemplate.
func (removeMemberAction) Execute(ctx node.Context) error {
	var members *membership.Registry
	err := ctx.Injector.Resolve(&members)
	if err != nil {
		return xerrors.Errorf("failed to resolve registry: %v", err)
	}

	identity := ctx.Flags.String("identity")

	err = members.Remove(identity)
	if err != nil {
		return xerrors.Errorf("failed to remove member: %v", err)
	}

	fmt.Fprintf(ctx.Out, "Member %s removed\n", identity)

	return nil
}

// listMembersAction is an action to print the members in the format of the
// configuration file.
//
// - implements node.ActionTemplate
type listMembersAction struct{}

// Execute implements node.ActionTemplate.
func (listMembersAction) Execute(ctx node.Context) error {
	var members *membership.Registry
	err := ctx.Injector.Resolve(&members)
	if err != nil {
		return xerrors.Errorf("failed to resolve registry: %v", err)
	}

	entries, err := members.GetAll()
	if err != nil {
		return xerrors.Errorf("failed to read members: %v", err)
	}

	out := struct {
		Peers []membership.Entry `yaml:"peers"`
	}{Peers: entries}

	data, err := yaml.Marshal(out)
	if err != nil {
		return xerrors.Errorf("failed to encode members: %v", err)
	}

	fmt.Fprint(ctx.Out, string(data))

	return nil
}
