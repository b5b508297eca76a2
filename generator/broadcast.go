package generator

import (
	"context"

	"github.com/rs/zerolog"
	"go.dedis.ch/keygen/crypto/tlp"
	"go.dedis.ch/keygen/generator/roundstore"
	"go.dedis.ch/keygen/generator/types"
	"go.dedis.ch/keygen/membership"
	"go.dedis.ch/keygen/mino"
	"go.dedis.ch/keygen/serde"
	"golang.org/x/xerrors"
)

// TriggerRound generates the contribution of the node for the round, pushes it
// to the other members and asks them to do the same. It returns once the calls
// are issued.
func (g *Generator) TriggerRound(round uint64) error {
	return g.broadcast(g.logger.With().Uint64("round", round).Logger(), round, true)
}

func (g *Generator) broadcast(logger zerolog.Logger, round uint64, notify bool) error {
	contrib, err := g.localContribution(round)
	if err != nil {
		return xerrors.Errorf("failed to generate contribution: %v", err)
	}

	entries, err := g.members.GetAll()
	if err != nil {
		return xerrors.Errorf("failed to read members: %v", err)
	}

	players := membership.Players(g.addrFac, entries, g.cfg.Identity)
	if players.Len() == 0 {
		logger.Warn().Msg("no other member to contact")
		return nil
	}

	msg := types.NewSyncPartialKey(g.cfg.Identity, round, contrib.PartialKey, contrib.Proof)

	err = g.send(logger, g.rpcSync, RPCSyncName, msg, players)
	if err != nil {
		return err
	}

	if notify {
		err = g.send(logger, g.rpcGenerate, RPCGenerateName,
			types.NewRunGeneratePartialKey(round), players)
		if err != nil {
			return err
		}
	}

	return nil
}

// localContribution returns the contribution of the node for the round. It is
// generated and stored the first time, and read from the store afterwards.
func (g *Generator) localContribution(round uint64) (roundstore.Contribution, error) {
	g.genLock.Lock()
	defer g.genLock.Unlock()

	contrib, err := g.store.GetContribution(round, g.cfg.Identity)
	if err == nil {
		return contrib, nil
	}

	if !xerrors.Is(err, roundstore.ErrNotFound) {
		return contrib, xerrors.Errorf("failed to read store: %w", err)
	}

	key, secret, err := tlp.GeneratePartialKey(g.params, g.rand)
	if err != nil {
		return contrib, err
	}

	proof, err := tlp.ProvePartialKey(g.params, g.rand, key, secret,
		types.ProofLabel(g.cfg.Identity, round))
	if err != nil {
		return contrib, err
	}

	contrib = roundstore.Contribution{
		Contributor: g.cfg.Identity,
		Round:       round,
		PartialKey:  key,
		Proof:       proof,
	}

	_, err = g.store.PutContribution(contrib)
	if err != nil {
		return contrib, xerrors.Errorf("failed to store contribution: %w", err)
	}

	return contrib, nil
}

// send issues the call and drains the responses in the background. A member
// that fails only produces a log.
func (g *Generator) send(logger zerolog.Logger, rpc mino.RPC, name string,
	msg serde.Message, players mino.Players) error {

	resps, err := rpc.Call(context.Background(), msg, players)
	if err != nil {
		return xerrors.Errorf("failed to call %s: %v", name, err)
	}

	go func() {
		for resp := range resps {
			_, err := resp.GetMessageOrError()
			if err != nil {
				promBroadcastFailures.WithLabelValues(name).Inc()

				logger.Warn().
					Err(err).
					Str("rpc", name).
					Stringer("to", resp.GetFrom()).
					Msg("member failed to process the call")
			}
		}
	}()

	return nil
}
