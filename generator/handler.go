package generator

import (
	"github.com/rs/zerolog"
	"go.dedis.ch/keygen/crypto/tlp"
	"go.dedis.ch/keygen/generator/roundstore"
	"go.dedis.ch/keygen/generator/types"
	"go.dedis.ch/keygen/mino"
	"go.dedis.ch/keygen/serde"
	"golang.org/x/xerrors"
)

// generateHandler processes the requests to generate the partial key of a
// round.
//
// - implements mino.Handler
type generateHandler struct {
	mino.UnsupportedHandler

	*Generator
}

// Process implements mino.Handler. It schedules the generation and the push of
// the contribution, and acknowledges the request right away. When the node
// aggregates as a follower, the aggregation is scheduled once its own
// contribution is stored, one cycle after the arrival of the request.
func (h generateHandler) Process(req mino.Request) (serde.Message, error) {
	msg, ok := req.Message.(types.RunGeneratePartialKey)
	if !ok {
		return nil, xerrors.Errorf("unexpected message of type '%T'", req.Message)
	}

	round := msg.GetRound()

	h.logger.Debug().
		Stringer("from", req.Address).
		Uint64("round", round).
		Msg("asked to generate")

	arrival := h.clock.Now()

	ok = h.submit("generate", round, func(logger zerolog.Logger) {
		err := h.broadcast(logger, round, false)
		if err != nil {
			logger.Err(err).Msg("generation failed")
		}

		if h.cfg.FollowerAggregation {
			h.scheduleAggregation(round, arrival)
		}
	})
	if !ok {
		return nil, xerrors.New("generator is closed")
	}

	return nil, nil
}

// syncHandler processes the contributions pushed by the other members.
//
// - implements mino.Handler
type syncHandler struct {
	mino.UnsupportedHandler

	*Generator
}

// Process implements mino.Handler. It verifies the proof of the contribution
// before merging it in the partial key set of the round.
func (h syncHandler) Process(req mino.Request) (serde.Message, error) {
	msg, ok := req.Message.(types.SyncPartialKey)
	if !ok {
		return nil, xerrors.Errorf("unexpected message of type '%T'", req.Message)
	}

	logger := h.logger.With().
		Stringer("from", req.Address).
		Str("sender", msg.GetSender()).
		Uint64("round", msg.GetRound()).
		Logger()

	err := tlp.VerifyPartialKey(h.params, msg.GetPartialKey(), msg.GetProof(),
		types.ProofLabel(msg.GetSender(), msg.GetRound()))
	if err != nil {
		promContributions.WithLabelValues("rejected").Inc()
		logger.Warn().Err(err).Msg("contribution rejected")

		return nil, xerrors.Errorf("contribution of %s rejected: %v", msg.GetSender(), err)
	}

	changed, err := h.store.PutContribution(roundstore.Contribution{
		Contributor: msg.GetSender(),
		Round:       msg.GetRound(),
		PartialKey:  msg.GetPartialKey(),
		Proof:       msg.GetProof(),
	})
	if err != nil {
		logger.Err(err).Msg("failed to store contribution")
		return nil, xerrors.Errorf("failed to store contribution: %v", err)
	}

	if changed {
		promContributions.WithLabelValues("accepted").Inc()
		logger.Debug().Msg("contribution accepted")
	} else {
		promContributions.WithLabelValues("duplicate").Inc()
		logger.Trace().Msg("contribution already known")
	}

	return nil, nil
}
