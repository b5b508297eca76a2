package generator

import (
	"context"
	"crypto/rand"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/keygen/core/store/kv"
	"go.dedis.ch/keygen/crypto/tlp"
	"go.dedis.ch/keygen/generator/roundstore"
	"go.dedis.ch/keygen/generator/types"
	"go.dedis.ch/keygen/internal/testing/fake"
	"go.dedis.ch/keygen/membership"
	"go.dedis.ch/keygen/mino"
	"go.dedis.ch/keygen/mino/minoch"
	"golang.org/x/xerrors"
)

const waitTimeout = 10 * time.Second

func TestNewGenerator(t *testing.T) {
	params := makeParams(t)
	store := roundstore.NewStore(makeDB(t))
	members := membership.NewRegistry(makeDB(t))

	gen, err := NewGenerator(fake.NewMino(0), store, members, params, Config{Identity: "A"})
	require.NoError(t, err)
	require.Equal(t, DefaultGenerationCycle, gen.GetConfig().GenerationCycle)
	require.Equal(t, DefaultAggregationCycle, gen.GetConfig().AggregationCycle)
	require.Equal(t, DefaultWorkers, gen.GetConfig().Workers)
	require.Equal(t, store, gen.GetStore())
	require.NoError(t, gen.Close())

	err = gen.Close()
	require.EqualError(t, err, "generator already closed")

	_, err = NewGenerator(fake.NewMino(0), store, members, params, Config{})
	require.EqualError(t, err, "missing identity")

	_, err = NewGenerator(fake.NewMino(0), store, members, nil, Config{Identity: "A"})
	require.EqualError(t, err, "missing parameters")

	_, err = NewGenerator(fake.NewBadMino(), store, members, params, Config{Identity: "A"})
	require.EqualError(t, err, fake.Err("failed to create rpc"))
}

func TestGenerator_TriggerRound(t *testing.T) {
	gen := makeFakeGenerator(t, Config{Identity: "A"}, "A", "B", "C")

	rpcSync := fake.NewRPC()
	rpcGenerate := fake.NewRPC()
	gen.rpcSync = rpcSync
	gen.rpcGenerate = rpcGenerate

	err := gen.TriggerRound(2)
	require.NoError(t, err)

	contrib, err := gen.store.GetContribution(2, "A")
	require.NoError(t, err)

	require.Equal(t, 1, rpcSync.Calls.Len())
	msg := rpcSync.Calls.Get(0, 1).(types.SyncPartialKey)
	require.Equal(t, "A", msg.GetSender())
	require.Equal(t, uint64(2), msg.GetRound())
	require.Equal(t, 2, rpcSync.Calls.Get(0, 2).(mino.Players).Len())

	err = tlp.VerifyPartialKey(gen.params, msg.GetPartialKey(), msg.GetProof(),
		types.ProofLabel("A", 2))
	require.NoError(t, err)

	require.Equal(t, 1, rpcGenerate.Calls.Len())
	require.Equal(t, types.NewRunGeneratePartialKey(2), rpcGenerate.Calls.Get(0, 1))

	// A second trigger pushes the same contribution again.
	err = gen.TriggerRound(2)
	require.NoError(t, err)

	again, err := gen.store.GetContribution(2, "A")
	require.NoError(t, err)
	require.True(t, contrib.PartialKey.U.Cmp(again.PartialKey.U) == 0)
	require.True(t, contrib.PartialKey.Y.Equal(again.PartialKey.Y))

	msg = rpcSync.Calls.Get(1, 1).(types.SyncPartialKey)
	require.True(t, contrib.PartialKey.U.Cmp(msg.GetPartialKey().U) == 0)
}

func TestGenerator_Alone_TriggerRound(t *testing.T) {
	gen := makeFakeGenerator(t, Config{Identity: "A"}, "A")

	rpc := fake.NewRPC()
	gen.rpcSync = rpc

	err := gen.TriggerRound(0)
	require.NoError(t, err)
	require.Equal(t, 0, rpc.Calls.Len())

	set, err := gen.store.GetPartialKeySet(0)
	require.NoError(t, err)
	require.Len(t, set, 1)
}

func TestGenerator_FailedCalls_TriggerRound(t *testing.T) {
	gen := makeFakeGenerator(t, Config{Identity: "A"}, "A", "B")

	gen.rpcSync = fake.NewBadRPC()

	err := gen.TriggerRound(0)
	require.EqualError(t, err, fake.Err("failed to call sync_partial_key"))

	gen.rpcSync = fake.NewRPC()
	gen.rpcGenerate = fake.NewBadRPC()

	err = gen.TriggerRound(0)
	require.EqualError(t, err, fake.Err("failed to call run_generate_partial_key"))

	// A member that fails only produces a log.
	logger, wait := fake.WaitLog("member failed to process the call", waitTimeout)
	gen.logger = logger

	rpc := fake.NewRPC()
	rpc.SetResponses(mino.NewResponseWithError(fake.NewAddress(1), fake.GetError()))
	gen.rpcSync = rpc
	gen.rpcGenerate = fake.NewRPC()

	err = gen.TriggerRound(0)
	require.NoError(t, err)

	wait(t)
}

func TestGenerator_BadStore_TriggerRound(t *testing.T) {
	params := makeParams(t)

	gen, err := NewGenerator(fake.NewMino(0), roundstore.NewStore(fake.NewBadDB()),
		membership.NewRegistry(makeDB(t)), params, Config{Identity: "A"})
	require.NoError(t, err)

	defer gen.Close()

	err = gen.TriggerRound(0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to generate contribution: failed to read store: ")

	gen.store = roundstore.NewStore(makeDB(t))
	gen.members = membership.NewRegistry(fake.NewBadDB())

	err = gen.TriggerRound(0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to read members: ")
}

func TestGenerator_BadRandom_TriggerRound(t *testing.T) {
	gen := makeFakeGenerator(t, Config{Identity: "A"}, "A", WithRandom(badReader{}))

	err := gen.TriggerRound(0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to generate contribution: ")
	require.Contains(t, err.Error(), fake.GetError().Error())
}

func TestGenerator_Aggregate(t *testing.T) {
	gen := makeFakeGenerator(t, Config{Identity: "A"}, "A")

	keys := make([]tlp.PartialKey, 3)

	for i, contributor := range []string{"A", "B", "C"} {
		contrib := makeContribution(t, gen.params, contributor, 1)
		keys[i] = contrib.PartialKey

		_, err := gen.store.PutContribution(contrib)
		require.NoError(t, err)
	}

	dec, err := gen.Aggregate(context.Background(), 1)
	require.NoError(t, err)

	expected, err := tlp.AggregateKeys(gen.params, keys)
	require.NoError(t, err)
	require.True(t, dec.PublicKey().Equal(expected.EncryptionKey()))

	agg, err := gen.store.GetAggregatedKey(1)
	require.NoError(t, err)
	require.True(t, agg.Y.Equal(expected.Y))

	stored, err := gen.store.GetDecryptionKey(1)
	require.NoError(t, err)
	require.True(t, stored.Scalar.Equal(dec.Scalar))

	// A late contribution does not change the outcome of the round.
	_, err = gen.store.PutContribution(makeContribution(t, gen.params, "D", 1))
	require.NoError(t, err)

	again, err := gen.Aggregate(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, again.Scalar.Equal(dec.Scalar))

	agg, err = gen.store.GetAggregatedKey(1)
	require.NoError(t, err)
	require.True(t, agg.Y.Equal(expected.Y))
}

func TestGenerator_Reaggregate(t *testing.T) {
	gen := makeFakeGenerator(t, Config{Identity: "A"}, "A")

	keys := make([]tlp.PartialKey, 0, 3)

	for _, contributor := range []string{"A", "B"} {
		contrib := makeContribution(t, gen.params, contributor, 2)
		keys = append(keys, contrib.PartialKey)

		_, err := gen.store.PutContribution(contrib)
		require.NoError(t, err)
	}

	dec, err := gen.Aggregate(context.Background(), 2)
	require.NoError(t, err)

	late := makeContribution(t, gen.params, "C", 2)
	keys = append(keys, late.PartialKey)

	_, err = gen.store.PutContribution(late)
	require.NoError(t, err)

	again, err := gen.Reaggregate(context.Background(), 2)
	require.NoError(t, err)
	require.False(t, again.Scalar.Equal(dec.Scalar))

	expected, err := tlp.AggregateKeys(gen.params, keys)
	require.NoError(t, err)
	require.True(t, again.PublicKey().Equal(expected.EncryptionKey()))

	agg, err := gen.store.GetAggregatedKey(2)
	require.NoError(t, err)
	require.True(t, agg.Y.Equal(expected.Y))

	stored, err := gen.store.GetDecryptionKey(2)
	require.NoError(t, err)
	require.True(t, stored.Scalar.Equal(again.Scalar))

	_, err = gen.Reaggregate(context.Background(), 3)
	require.True(t, xerrors.Is(err, tlp.ErrEmptyKeySet))
}

func TestGenerator_OrderIndependence_Aggregate(t *testing.T) {
	params := makeParams(t)

	contribs := []roundstore.Contribution{
		makeContribution(t, params, "A", 0),
		makeContribution(t, params, "B", 0),
		makeContribution(t, params, "C", 0),
	}

	first := makeFakeGenerator(t, Config{Identity: "A"}, "A")
	second := makeFakeGenerator(t, Config{Identity: "B"}, "B")

	for i := range contribs {
		_, err := first.store.PutContribution(contribs[i])
		require.NoError(t, err)

		_, err = second.store.PutContribution(contribs[len(contribs)-1-i])
		require.NoError(t, err)
	}

	dec1, err := first.Aggregate(context.Background(), 0)
	require.NoError(t, err)

	dec2, err := second.Aggregate(context.Background(), 0)
	require.NoError(t, err)

	require.True(t, dec1.Scalar.Equal(dec2.Scalar))
}

func TestGenerator_EmptyRound_Aggregate(t *testing.T) {
	gen := makeFakeGenerator(t, Config{Identity: "A"}, "A")

	_, err := gen.Aggregate(context.Background(), 5)
	require.True(t, xerrors.Is(err, tlp.ErrEmptyKeySet))

	info, err := gen.store.GetRoundInfo(5)
	require.NoError(t, err)
	require.True(t, info.Empty)
	require.Nil(t, info.AggregatedKey)
	require.Nil(t, info.DecryptionKey)
}

func TestGenerator_BadContribution_Aggregate(t *testing.T) {
	gen := makeFakeGenerator(t, Config{Identity: "A"}, "A")

	good := makeContribution(t, gen.params, "A", 0)
	bad := makeContribution(t, gen.params, "B", 0)
	bad.PartialKey.Y = good.PartialKey.Y

	for _, c := range []roundstore.Contribution{good, bad} {
		_, err := gen.store.PutContribution(c)
		require.NoError(t, err)
	}

	_, err := gen.Aggregate(context.Background(), 0)

	var derr *tlp.DerivationError
	require.True(t, xerrors.As(err, &derr))

	// The aggregated key is kept but the round has no decryption key.
	_, err = gen.store.GetAggregatedKey(0)
	require.NoError(t, err)

	_, err = gen.store.GetDecryptionKey(0)
	require.True(t, xerrors.Is(err, roundstore.ErrNotFound))
}

func TestGenerator_Interrupted_Aggregate(t *testing.T) {
	gen := makeFakeGenerator(t, Config{Identity: "A"}, "A")

	_, err := gen.store.PutContribution(makeContribution(t, gen.params, "A", 0))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = gen.Aggregate(ctx, 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "interrupted after 0 squarings")

	_, err = gen.store.GetDecryptionKey(0)
	require.True(t, xerrors.Is(err, roundstore.ErrNotFound))
}

func TestGenerator_BadStore_Aggregate(t *testing.T) {
	gen := makeFakeGenerator(t, Config{Identity: "A"}, "A")
	gen.store = roundstore.NewStore(fake.NewBadDB())

	_, err := gen.Aggregate(context.Background(), 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to read store: ")
}

func TestGenerator_Start(t *testing.T) {
	mock := clock.NewMock()

	gen := makeFakeGenerator(t, Config{
		Identity:         "A",
		Leader:           true,
		GenerationCycle:  5 * time.Second,
		AggregationCycle: 4 * time.Second,
	}, "A", WithClock(mock))

	require.NoError(t, gen.Start())

	err := gen.Start()
	require.EqualError(t, err, "scheduler already started")

	// The first round starts right away.
	waitRound(t, gen.store, 0)

	_, err = gen.store.GetAggregatedKey(0)
	require.True(t, xerrors.Is(err, roundstore.ErrNotFound))

	mock.Add(4 * time.Second)
	waitDecryptionKey(t, gen.store, 0)

	// The next round starts after the generation cycle.
	mock.Add(time.Second)
	waitRound(t, gen.store, 1)

	require.NoError(t, gen.Stop())

	err = gen.Stop()
	require.EqualError(t, err, "scheduler not started")

	// No round starts once stopped.
	mock.Add(5 * time.Second)

	current, err := gen.store.CurrentRoundID()
	require.NoError(t, err)
	require.Equal(t, uint64(1), current)

	require.NoError(t, gen.Close())

	err = gen.Start()
	require.EqualError(t, err, "generator is closed")
}

func TestGenerator_NotLeader_Start(t *testing.T) {
	gen := makeFakeGenerator(t, Config{Identity: "A"}, "A")

	err := gen.Start()
	require.EqualError(t, err, "only a leader schedules rounds")
}

func TestGenerator_Follow(t *testing.T) {
	mock := clock.NewMock()

	gen := makeFakeGenerator(t, Config{Identity: "A", AggregationCycle: time.Second},
		"A", WithClock(mock))

	_, err := gen.store.PutContribution(makeContribution(t, gen.params, "B", 3))
	require.NoError(t, err)

	gen.Follow(3)
	gen.Follow(3)

	gen.Lock()
	require.Len(t, gen.timers, 1)
	gen.Unlock()

	mock.Add(time.Second)
	waitDecryptionKey(t, gen.store, 3)

	// A round already followed is never scheduled twice.
	gen.Follow(3)

	gen.Lock()
	require.Len(t, gen.timers, 0)
	gen.Unlock()
}

func TestGenerator_Elapsed_Follow(t *testing.T) {
	mock := clock.NewMock()

	gen := makeFakeGenerator(t, Config{Identity: "A", AggregationCycle: time.Second},
		"A", WithClock(mock))

	_, err := gen.store.PutContribution(makeContribution(t, gen.params, "B", 4))
	require.NoError(t, err)

	start := mock.Now()
	mock.Add(2 * time.Second)

	// The cycle is over so the aggregation runs without waiting.
	gen.scheduleAggregation(4, start)

	gen.Lock()
	require.Len(t, gen.timers, 0)
	gen.Unlock()

	waitDecryptionKey(t, gen.store, 4)
}

func TestGenerator_Close(t *testing.T) {
	mock := clock.NewMock()

	gen := makeFakeGenerator(t, Config{Identity: "A"}, "A", WithClock(mock))

	gen.Follow(1)
	require.NoError(t, gen.Close())

	gen.Lock()
	require.Len(t, gen.timers, 0)
	gen.Unlock()

	require.False(t, gen.submit("test", 0, nil))

	// Nothing happens once closed.
	gen.Follow(2)
	mock.Add(time.Hour)

	_, err := gen.store.GetRoundInfo(1)
	require.True(t, xerrors.Is(err, roundstore.ErrNotFound))
}

func TestGenerator_Scenario_Cluster(t *testing.T) {
	mock := clock.NewMock()
	manager := minoch.NewManager()

	ids := []string{"A", "B", "C"}
	nodes := make([]testNode, len(ids))

	for i, id := range ids {
		cfg := Config{
			Identity:            id,
			Leader:              i == 0,
			FollowerAggregation: true,
			GenerationCycle:     5 * time.Second,
			AggregationCycle:    4 * time.Second,
		}

		nodes[i] = makeNode(t, manager, cfg, ids, WithClock(mock))
	}

	require.NoError(t, nodes[0].gen.Start())

	for _, node := range nodes {
		waitContributions(t, node.store, 0, ids...)
	}

	mock.Add(4 * time.Second)

	keys := make([]tlp.DecryptionKey, len(nodes))
	for i, node := range nodes {
		keys[i] = waitDecryptionKey(t, node.store, 0)
	}

	require.True(t, keys[0].Scalar.Equal(keys[1].Scalar))
	require.True(t, keys[0].Scalar.Equal(keys[2].Scalar))
}

func TestGenerator_Scenario_FilteredMember(t *testing.T) {
	mock := clock.NewMock()
	manager := minoch.NewManager()

	ids := []string{"A", "B", "C", "D"}
	nodes := make([]testNode, len(ids))

	for i, id := range ids {
		cfg := Config{
			Identity:         id,
			Leader:           i == 0,
			GenerationCycle:  5 * time.Second,
			AggregationCycle: 4 * time.Second,
		}

		nodes[i] = makeNode(t, manager, cfg, ids, WithClock(mock))
	}

	leader := nodes[0]

	// The leader drops everything coming from D.
	leader.mino.AddFilter(func(req mino.Request) bool {
		return req.Address.String() != "D"
	})

	require.NoError(t, leader.gen.Start())

	waitContributions(t, leader.store, 0, "A", "B", "C")
	waitContributions(t, nodes[3].store, 0, ids...)

	// Nothing is derived before the aggregation cycle.
	mock.Add(3 * time.Second)

	_, err := leader.store.GetAggregatedKey(0)
	require.True(t, xerrors.Is(err, roundstore.ErrNotFound))

	mock.Add(time.Second)

	dec := waitDecryptionKey(t, leader.store, 0)

	set, err := leader.store.GetPartialKeySet(0)
	require.NoError(t, err)
	require.Len(t, set, 3)

	keys := make([]tlp.PartialKey, len(set))
	for i, c := range set {
		keys[i] = c.PartialKey
	}

	expected, err := tlp.AggregateKeys(leader.gen.params, keys)
	require.NoError(t, err)
	require.True(t, dec.PublicKey().Equal(expected.EncryptionKey()))

	// Followers do not aggregate by default.
	_, err = nodes[1].store.GetAggregatedKey(0)
	require.True(t, xerrors.Is(err, roundstore.ErrNotFound))

	// D finally gets through but the round is already aggregated.
	late, err := nodes[3].store.GetContribution(0, "D")
	require.NoError(t, err)

	handler := syncHandler{Generator: leader.gen}

	_, err = handler.Process(mino.Request{
		Address: fake.NewAddress(3),
		Message: types.NewSyncPartialKey("D", 0, late.PartialKey, late.Proof),
	})
	require.NoError(t, err)

	waitContributions(t, leader.store, 0, ids...)

	agg, err := leader.store.GetAggregatedKey(0)
	require.NoError(t, err)
	require.True(t, agg.Y.Equal(expected.Y))

	stored, err := leader.store.GetDecryptionKey(0)
	require.NoError(t, err)
	require.True(t, stored.Scalar.Equal(dec.Scalar))
}

// -----------------------------------------------------------------------------
// Utility functions

var (
	testParams *tlp.Params
	paramsOnce sync.Once
)

func makeParams(t *testing.T) *tlp.Params {
	paramsOnce.Do(func() {
		params, err := tlp.GenerateParams(rand.Reader, tlp.MinModulusBits, 32)
		require.NoError(t, err)

		testParams = params
	})

	require.NotNil(t, testParams)

	return testParams
}

func makeDB(t *testing.T) kv.DB {
	db, err := kv.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return db
}

func makeContribution(t *testing.T, params *tlp.Params, contributor string,
	round uint64) roundstore.Contribution {

	key, secret, err := tlp.GeneratePartialKey(params, rand.Reader)
	require.NoError(t, err)

	proof, err := tlp.ProvePartialKey(params, rand.Reader, key, secret,
		types.ProofLabel(contributor, round))
	require.NoError(t, err)

	return roundstore.Contribution{
		Contributor: contributor,
		Round:       round,
		PartialKey:  key,
		Proof:       proof,
	}
}

func makeEntries(ids ...string) []membership.Entry {
	entries := make([]membership.Entry, len(ids))
	for i, id := range ids {
		entries[i] = membership.Entry{Contributor: id, Endpoint: id}
	}

	return entries
}

// makeFakeGenerator returns a generator on a fake overlay whose membership
// contains the given contributors.
func makeFakeGenerator(t *testing.T, cfg Config, args ...interface{}) *Generator {
	var ids []string
	var opts []Option

	for _, arg := range args {
		switch v := arg.(type) {
		case string:
			ids = append(ids, v)
		case Option:
			opts = append(opts, v)
		}
	}

	members := membership.NewRegistry(makeDB(t))
	require.NoError(t, members.Seed(makeEntries(ids...)...))

	gen, err := NewGenerator(fake.NewMino(0), roundstore.NewStore(makeDB(t)),
		members, makeParams(t), cfg, opts...)
	require.NoError(t, err)

	t.Cleanup(func() { gen.Close() })

	return gen
}

type testNode struct {
	mino  *minoch.Minoch
	gen   *Generator
	store *roundstore.Store
}

func makeNode(t *testing.T, manager *minoch.Manager, cfg Config, ids []string,
	opts ...Option) testNode {

	m := minoch.MustCreate(manager, cfg.Identity)

	members := membership.NewRegistry(makeDB(t))
	require.NoError(t, members.Seed(makeEntries(ids...)...))

	store := roundstore.NewStore(makeDB(t))

	gen, err := NewGenerator(m, store, members, makeParams(t), cfg, opts...)
	require.NoError(t, err)

	t.Cleanup(func() { gen.Close() })

	return testNode{mino: m, gen: gen, store: store}
}

func waitRound(t *testing.T, store *roundstore.Store, round uint64) {
	require.Eventually(t, func() bool {
		current, err := store.CurrentRoundID()
		if err != nil || current < round {
			return false
		}

		_, err = store.GetContribution(round, "A")
		return err == nil
	}, waitTimeout, 10*time.Millisecond)
}

func waitContributions(t *testing.T, store *roundstore.Store, round uint64, ids ...string) {
	expected := append([]string{}, ids...)
	sort.Strings(expected)

	require.Eventually(t, func() bool {
		info, err := store.GetRoundInfo(round)
		if err != nil {
			return false
		}

		contributors := append([]string{}, info.Contributors...)
		sort.Strings(contributors)

		return len(contributors) == len(expected) &&
			fmtList(contributors) == fmtList(expected)
	}, waitTimeout, 10*time.Millisecond)
}

func waitDecryptionKey(t *testing.T, store *roundstore.Store, round uint64) tlp.DecryptionKey {
	var key tlp.DecryptionKey

	require.Eventually(t, func() bool {
		var err error
		key, err = store.GetDecryptionKey(round)

		return err == nil
	}, waitTimeout, 10*time.Millisecond)

	return key
}

func fmtList(list []string) string {
	out := ""
	for _, s := range list {
		out += s + ","
	}

	return out
}

type badReader struct{}

func (badReader) Read([]byte) (int, error) {
	return 0, fake.GetError()
}
