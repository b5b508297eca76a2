// Package generator implements the engine of a key generator.
//
// A leader starts a new round every generation cycle. It generates its own
// partial key, pushes it to the other members, and asks them to generate and
// push theirs. Every node merges the contributions it receives in its round
// store, and one aggregation cycle after the start of the round, the
// contributions that arrived are aggregated and the decryption key is derived
// by solving the time-lock puzzle.
//
// Every piece of work runs as an independent unit on a worker pool. The units
// only communicate through the round store, and the calls to the other members
// are fire-and-forget: a member that cannot be reached only produces a log.
package generator

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gammazero/workerpool"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"go.dedis.ch/keygen"
	"go.dedis.ch/keygen/crypto"
	"go.dedis.ch/keygen/crypto/tlp"
	"go.dedis.ch/keygen/generator/roundstore"
	"go.dedis.ch/keygen/generator/types"
	"go.dedis.ch/keygen/membership"
	"go.dedis.ch/keygen/mino"
	"golang.org/x/xerrors"

	// Register the JSON format of the messages.
	_ "go.dedis.ch/keygen/generator/json"
)

const (
	// RPCGenerateName is the name of the RPC that asks a member to generate
	// its partial key.
	RPCGenerateName = "run_generate_partial_key"

	// RPCSyncName is the name of the RPC that delivers a contribution.
	RPCSyncName = "sync_partial_key"

	// DefaultGenerationCycle is the default delay between two rounds.
	DefaultGenerationCycle = 5 * time.Second

	// DefaultAggregationCycle is the default delay between the start of a
	// round and its aggregation.
	DefaultAggregationCycle = 4 * time.Second

	// DefaultWorkers is the default number of units running concurrently.
	DefaultWorkers = 8

	// scheduledWindow is the number of rounds remembered to ignore a second
	// request to follow the same round.
	scheduledWindow = 1024
)

// Config is the configuration of a key generator.
type Config struct {
	// Identity is the contributor identity of the node.
	Identity string

	// GenerationCycle is the delay between two rounds started by a leader.
	GenerationCycle time.Duration

	// AggregationCycle is the delay between the start of a round and its
	// aggregation.
	AggregationCycle time.Duration

	// Leader enables the scheduler of rounds.
	Leader bool

	// FollowerAggregation makes a follower aggregate the rounds it is asked to
	// contribute to.
	FollowerAggregation bool

	// Workers is the size of the worker pool.
	Workers int
}

func (c *Config) setDefaults() {
	if c.GenerationCycle <= 0 {
		c.GenerationCycle = DefaultGenerationCycle
	}

	if c.AggregationCycle <= 0 {
		c.AggregationCycle = DefaultAggregationCycle
	}

	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
}

// Option is the type of the options to create a generator.
type Option func(*Generator)

// WithClock sets the clock used by the scheduler.
func WithClock(c clock.Clock) Option {
	return func(g *Generator) {
		g.clock = c
	}
}

// WithRandom sets the source of randomness of the partial keys.
func WithRandom(r crypto.RandGenerator) Option {
	return func(g *Generator) {
		g.rand = r
	}
}

// WithLogger sets the logger of the generator.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Generator) {
		g.logger = l
	}
}

// Generator is a key generator of the cluster.
type Generator struct {
	sync.Mutex

	logger  zerolog.Logger
	cfg     Config
	params  *tlp.Params
	store   *roundstore.Store
	members *membership.Registry
	addrFac mino.AddressFactory
	clock   clock.Clock
	rand    crypto.RandGenerator

	rpcGenerate mino.RPC
	rpcSync     mino.RPC

	pool *workerpool.WorkerPool

	// genLock serializes the local generation so that a round never gets two
	// contributions from this node.
	genLock sync.Mutex

	closing   chan struct{}
	closed    bool
	ticker    *clock.Ticker
	stop      chan struct{}
	timers    map[uint64]*clock.Timer
	scheduled map[uint64]struct{}
	loop      sync.WaitGroup
}

// NewGenerator creates a key generator and registers its RPCs on the overlay.
func NewGenerator(m mino.Mino, store *roundstore.Store, members *membership.Registry,
	params *tlp.Params, cfg Config, opts ...Option) (*Generator, error) {

	if cfg.Identity == "" {
		return nil, xerrors.New("missing identity")
	}

	if params == nil {
		return nil, xerrors.New("missing parameters")
	}

	cfg.setDefaults()

	g := &Generator{
		logger:    keygen.Logger.With().Str("contributor", cfg.Identity).Logger(),
		cfg:       cfg,
		params:    params,
		store:     store,
		members:   members,
		addrFac:   m.GetAddressFactory(),
		clock:     clock.New(),
		rand:      crypto.CryptographicRandomGenerator{},
		closing:   make(chan struct{}),
		timers:    make(map[uint64]*clock.Timer),
		scheduled: make(map[uint64]struct{}),
	}

	for _, opt := range opts {
		opt(g)
	}

	factory := types.NewMessageFactory()

	var err error

	g.rpcGenerate, err = m.CreateRPC(RPCGenerateName, generateHandler{Generator: g}, factory)
	if err != nil {
		return nil, xerrors.Errorf("failed to create rpc: %v", err)
	}

	g.rpcSync, err = m.CreateRPC(RPCSyncName, syncHandler{Generator: g}, factory)
	if err != nil {
		return nil, xerrors.Errorf("failed to create rpc: %v", err)
	}

	g.pool = workerpool.New(cfg.Workers)

	return g, nil
}

// GetConfig returns the configuration of the generator with the defaults
// applied.
func (g *Generator) GetConfig() Config {
	return g.cfg
}

// GetStore returns the round store of the generator.
func (g *Generator) GetStore() *roundstore.Store {
	return g.store
}

// Close stops the scheduler and the pending aggregations, then waits for the
// running units.
func (g *Generator) Close() error {
	g.Lock()

	if g.closed {
		g.Unlock()
		return xerrors.New("generator already closed")
	}

	g.closed = true
	close(g.closing)

	g.stopScheduler()

	for round, timer := range g.timers {
		timer.Stop()
		delete(g.timers, round)
	}

	g.Unlock()

	g.loop.Wait()
	g.pool.StopWait()

	return nil
}

// submit runs the work as a unit of the pool. It returns false when the
// generator is closed.
func (g *Generator) submit(name string, round uint64, fn func(zerolog.Logger)) bool {
	g.Lock()
	defer g.Unlock()

	return g.submitLocked(name, round, fn)
}

// submitLocked must be called with the lock held.
func (g *Generator) submitLocked(name string, round uint64, fn func(zerolog.Logger)) bool {
	if g.closed {
		return false
	}

	logger := g.logger.With().
		Stringer("unit", xid.New()).
		Str("work", name).
		Uint64("round", round).
		Logger()

	g.pool.Submit(func() {
		fn(logger)
	})

	return true
}
