package generator

import (
	"context"

	"github.com/rs/zerolog"
	"go.dedis.ch/keygen/crypto/tlp"
	"go.dedis.ch/keygen/generator/roundstore"
	"golang.org/x/xerrors"
)

// Aggregate aggregates the partial keys received for the round and derives
// the decryption key. A round that is already aggregated keeps its aggregated
// key, so that a late contribution only counts with Reaggregate.
func (g *Generator) Aggregate(ctx context.Context, round uint64) (tlp.DecryptionKey, error) {
	dec, err := g.store.GetDecryptionKey(round)
	if err == nil {
		return dec, nil
	}

	if !xerrors.Is(err, roundstore.ErrNotFound) {
		return dec, xerrors.Errorf("failed to read store: %w", err)
	}

	agg, err := g.store.GetAggregatedKey(round)
	if xerrors.Is(err, roundstore.ErrNotFound) {
		agg, err = g.aggregateKeys(round)
	}
	if err != nil {
		return dec, err
	}

	return g.derive(ctx, round, agg)
}

// Reaggregate aggregates the partial keys currently known for the round, even
// when the round was already aggregated, and derives the decryption key again.
// The previous keys of the round are replaced.
func (g *Generator) Reaggregate(ctx context.Context, round uint64) (tlp.DecryptionKey, error) {
	agg, err := g.aggregateKeys(round)
	if err != nil {
		return tlp.DecryptionKey{}, err
	}

	g.logger.Info().
		Uint64("round", round).
		Str("encryption key", agg.EncryptionKey().String()).
		Msg("round aggregated again")

	return g.derive(ctx, round, agg)
}

func (g *Generator) derive(ctx context.Context, round uint64,
	agg tlp.AggregatedKey) (tlp.DecryptionKey, error) {

	dec, err := tlp.SolvePuzzle(ctx, g.params, agg)
	if err != nil {
		promAggregations.WithLabelValues("failed").Inc()
		return dec, xerrors.Errorf("round %d: %w", round, err)
	}

	err = g.store.PutDecryptionKey(round, dec)
	if err != nil {
		return dec, xerrors.Errorf("failed to store decryption key: %w", err)
	}

	promAggregations.WithLabelValues("derived").Inc()

	return dec, nil
}

func (g *Generator) aggregateKeys(round uint64) (tlp.AggregatedKey, error) {
	set, err := g.store.GetPartialKeySet(round)
	if err != nil {
		return tlp.AggregatedKey{}, xerrors.Errorf("failed to read partial keys: %w", err)
	}

	if len(set) == 0 {
		promAggregations.WithLabelValues("empty").Inc()

		err = g.store.MarkEmpty(round)
		if err != nil {
			return tlp.AggregatedKey{}, xerrors.Errorf("failed to mark round: %w", err)
		}

		return tlp.AggregatedKey{}, xerrors.Errorf("round %d: %w", round, tlp.ErrEmptyKeySet)
	}

	keys := make([]tlp.PartialKey, len(set))
	for i, contrib := range set {
		keys[i] = contrib.PartialKey
	}

	agg, err := tlp.AggregateKeys(g.params, keys)
	if err != nil {
		return agg, xerrors.Errorf("failed to aggregate: %v", err)
	}

	err = g.store.PutAggregatedKey(round, agg)
	if err != nil {
		return agg, xerrors.Errorf("failed to store aggregated key: %w", err)
	}

	return agg, nil
}

// aggregate runs the aggregation of a round as a unit. The derivation is
// interrupted when the generator closes.
func (g *Generator) aggregate(logger zerolog.Logger, round uint64) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-g.closing:
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Debug().Msg("aggregation started")

	dec, err := g.Aggregate(ctx, round)
	if xerrors.Is(err, tlp.ErrEmptyKeySet) {
		logger.Warn().Msg("no contribution to aggregate")
		return
	}

	if err != nil {
		logger.Err(err).Msg("aggregation failed")
		return
	}

	logger.Info().
		Str("public key", dec.PublicKey().String()).
		Msg("decryption key derived")
}
