// Package controller implements a controller for the key generator.
//
// It reads the configuration of the node from the keygen.yml file of the
// configuration folder, which the start flags can override, and it creates
// the key generator on top of the overlay and the database of the node.
package controller

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.dedis.ch/keygen/cli"
	"go.dedis.ch/keygen/cli/node"
	"go.dedis.ch/keygen/core/store/kv"
	"go.dedis.ch/keygen/crypto/tlp"
	"go.dedis.ch/keygen/generator"
	"go.dedis.ch/keygen/generator/roundstore"
	"go.dedis.ch/keygen/membership"
	"go.dedis.ch/keygen/mino"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"
)

const (
	// ConfigFile is the name of the configuration file in the configuration
	// folder.
	ConfigFile = "keygen.yml"

	// ParamsFile is the default name of the file of the scheme parameters.
	ParamsFile = "params.json"

	peerSeparator = "="
)

// FileConfig is the content of the configuration file.
type FileConfig struct {
	Identity            string             `yaml:"identity"`
	GenerationCycle     time.Duration      `yaml:"generation_cycle"`
	AggregationCycle    time.Duration      `yaml:"aggregation_cycle"`
	Params              string             `yaml:"params"`
	Leader              bool               `yaml:"leader"`
	FollowerAggregation bool               `yaml:"follower_aggregation"`
	Workers             int                `yaml:"workers"`
	Peers               []membership.Entry `yaml:"peers"`
}

// NewController returns a new controller initializer.
func NewController() node.Initializer {
	return controller{}
}

// controller is an initializer that creates the key generator of the node.
//
// - implements node.Initializer
type controller struct{}

// SetCommands implements node.Initializer. It sets the start flags and the
// commands to inspect the rounds and manage the members.
func (controller) SetCommands(builder node.Builder) {
	builder.SetStartFlags(
		cli.StringFlag{
			Name:   "identity",
			Usage:  "contributor identity of the node",
			EnvVar: "KEYGEN_IDENTITY",
		},
		cli.DurationFlag{
			Name:  "generation-cycle",
			Usage: "delay between two rounds",
			Value: generator.DefaultGenerationCycle,
		},
		cli.DurationFlag{
			Name:  "aggregation-cycle",
			Usage: "delay between the start of a round and its aggregation",
			Value: generator.DefaultAggregationCycle,
		},
		cli.StringFlag{
			Name:   "params",
			Usage:  "path to the file of the scheme parameters",
			EnvVar: "KEYGEN_PARAMS",
			Value:  ParamsFile,
		},
		cli.BoolFlag{
			Name:  "leader",
			Usage: "start a new round every generation cycle",
		},
		cli.BoolFlag{
			Name:  "follower-aggregation",
			Usage: "aggregate the rounds started by the leader",
		},
		cli.IntFlag{
			Name:  "workers",
			Usage: "number of units running concurrently",
			Value: generator.DefaultWorkers,
		},
		cli.StringSliceFlag{
			Name:  "peer",
			Usage: "member of the cluster in the form <identity>=<endpoint>",
		},
	)

	cmd := builder.SetCommand("params")
	cmd.SetDescription("generate the parameters of the time-lock puzzle")
	cmd.SetFlags(
		cli.IntFlag{
			Name:  "bits",
			Usage: "size of the modulus",
			Value: 2048,
		},
		cli.IntFlag{
			Name:     "delay",
			Usage:    "number of sequential squarings to solve a puzzle",
			Required: true,
		},
		cli.StringFlag{
			Name:  "out",
			Usage: "output file, or the standard output if empty",
		},
	)
	cmd.SetAction(paramsAction{out: os.Stdout}.Execute)

	cmd = builder.SetCommand("round")
	cmd.SetDescription("inspect the rounds")

	sub := cmd.SetSubCommand("info")
	sub.SetDescription("show the state of a round")
	sub.SetFlags(cli.IntFlag{
		Name:     "id",
		Usage:    "round id",
		Required: true,
	})
	sub.SetAction(builder.MakeAction(roundInfoAction{}))

	sub = cmd.SetSubCommand("aggregate")
	sub.SetDescription("aggregate a round and derive its decryption key")
	sub.SetFlags(cli.IntFlag{
		Name:     "id",
		Usage:    "round id",
		Required: true,
	}, cli.BoolFlag{
		Name:  "force",
		Usage: "aggregate again a round already aggregated",
	})
	sub.SetAction(builder.MakeAction(aggregateAction{}))

	sub = cmd.SetSubCommand("latest")
	sub.SetDescription("show the id of the latest round")
	sub.SetAction(builder.MakeAction(latestAction{}))

	cmd = builder.SetCommand("member")
	cmd.SetDescription("manage the members of the cluster")

	sub = cmd.SetSubCommand("add")
	sub.SetDescription("add or update a member")
	sub.SetFlags(
		cli.StringFlag{
			Name:     "identity",
			Usage:    "contributor identity of the member",
			Required: true,
		},
		cli.StringFlag{
			Name:     "endpoint",
			Usage:    "address of the member",
			Required: true,
		},
	)
	sub.SetAction(builder.MakeAction(addMemberAction{}))

	sub = cmd.SetSubCommand("remove")
	sub.SetDescription("remove a member")
	sub.SetFlags(cli.StringFlag{
		Name:     "identity",
		Usage:    "contributor identity of the member",
		Required: true,
	})
	sub.SetAction(builder.MakeAction(removeMemberAction{}))

	sub = cmd.SetSubCommand("list")
	sub.SetDescription("list the members")
	sub.SetAction(builder.MakeAction(listMembersAction{}))
}

// OnStart implements node.Initializer. It creates the key generator, seeds the
// membership and starts the scheduler when the node is a leader.
func (controller) OnStart(flags cli.Flags, inj node.Injector) error {
	var m mino.Mino
	err := inj.Resolve(&m)
	if err != nil {
		return xerrors.Errorf("failed to resolve mino: %v", err)
	}

	var db kv.DB
	err = inj.Resolve(&db)
	if err != nil {
		return xerrors.Errorf("failed to resolve db: %v", err)
	}

	folder := flags.Path("config")

	cfg, err := LoadConfig(filepath.Join(folder, ConfigFile))
	if err != nil {
		return xerrors.Errorf("failed to load config: %v", err)
	}

	err = mergeFlags(&cfg, flags)
	if err != nil {
		return xerrors.Errorf("invalid flags: %v", err)
	}

	if cfg.Identity == "" {
		return xerrors.New("missing identity")
	}

	params, err := loadParams(folder, cfg.Params)
	if err != nil {
		return xerrors.Errorf("failed to load params: %v", err)
	}

	endpoint, err := m.GetAddress().MarshalText()
	if err != nil {
		return xerrors.Errorf("failed to marshal address: %v", err)
	}

	members := membership.NewRegistry(db)

	self := membership.Entry{Contributor: cfg.Identity, Endpoint: string(endpoint)}

	err = members.Seed(append(cfg.Peers, self)...)
	if err != nil {
		return xerrors.Errorf("failed to seed members: %v", err)
	}

	store := roundstore.NewStore(db)

	gen, err := generator.NewGenerator(m, store, members, params, generator.Config{
		Identity:            cfg.Identity,
		GenerationCycle:     cfg.GenerationCycle,
		AggregationCycle:    cfg.AggregationCycle,
		Leader:              cfg.Leader,
		FollowerAggregation: cfg.FollowerAggregation,
		Workers:             cfg.Workers,
	})
	if err != nil {
		return xerrors.Errorf("failed to create generator: %v", err)
	}

	if cfg.Leader {
		err = gen.Start()
		if err != nil {
			return xerrors.Errorf("failed to start scheduler: %v", err)
		}
	}

	inj.Inject(gen)
	inj.Inject(store)
	inj.Inject(members)

	return nil
}

// OnStop implements node.Initializer. It closes the key generator.
func (controller) OnStop(inj node.Injector) error {
	var gen *generator.Generator
	err := inj.Resolve(&gen)
	if err != nil {
		return xerrors.Errorf("failed to resolve generator: %v", err)
	}

	err = gen.Close()
	if err != nil {
		return xerrors.Errorf("failed to close generator: %v", err)
	}

	return nil
}

// LoadConfig reads the configuration file. A missing file is an empty
// configuration.
func LoadConfig(path string) (FileConfig, error) {
	cfg := FileConfig{}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, xerrors.Errorf("failed to read file: %v", err)
	}

	err = yaml.UnmarshalStrict(data, &cfg)
	if err != nil {
		return cfg, xerrors.Errorf("failed to decode file: %v", err)
	}

	return cfg, nil
}

// mergeFlags overrides the configuration with the flags explicitly set, and
// uses the default value of the flags for the missing values.
func mergeFlags(cfg *FileConfig, flags cli.Flags) error {
	if flags.IsSet("identity") || cfg.Identity == "" {
		cfg.Identity = flags.String("identity")
	}

	if flags.IsSet("generation-cycle") || cfg.GenerationCycle == 0 {
		cfg.GenerationCycle = flags.Duration("generation-cycle")
	}

	if flags.IsSet("aggregation-cycle") || cfg.AggregationCycle == 0 {
		cfg.AggregationCycle = flags.Duration("aggregation-cycle")
	}

	if flags.IsSet("params") || cfg.Params == "" {
		cfg.Params = flags.String("params")
	}

	if flags.IsSet("leader") {
		cfg.Leader = flags.Bool("leader")
	}

	if flags.IsSet("follower-aggregation") {
		cfg.FollowerAggregation = flags.Bool("follower-aggregation")
	}

	if flags.IsSet("workers") || cfg.Workers == 0 {
		cfg.Workers = flags.Int("workers")
	}

	for _, peer := range flags.StringSlice("peer") {
		parts := strings.SplitN(peer, peerSeparator, 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return xerrors.Errorf("malformed peer '%s'", peer)
		}

		cfg.Peers = append(cfg.Peers, membership.Entry{
			Contributor: parts[0],
			Endpoint:    parts[1],
		})
	}

	return nil
}

func loadParams(folder, path string) (*tlp.Params, error) {
	if path == "" {
		path = ParamsFile
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(folder, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("failed to read file: %v", err)
	}

	return tlp.DecodeParams(data)
}
