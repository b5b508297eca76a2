// Package types defines the messages exchanged by the key generators.
package types

import (
	"strconv"

	"go.dedis.ch/keygen/crypto/tlp"
	"go.dedis.ch/keygen/serde"
	"go.dedis.ch/keygen/serde/registry"
	"golang.org/x/xerrors"
)

var msgFormats = registry.NewSimpleRegistry()

// RegisterMessageFormat registers the engine for the provided format.
func RegisterMessageFormat(f serde.Format, e serde.FormatEngine) {
	msgFormats.Register(f, e)
}

// ProofLabel returns the label that binds the proof of a partial key to its
// contributor and its round.
func ProofLabel(contributor string, round uint64) []byte {
	label := append([]byte(contributor), '/')
	return strconv.AppendUint(label, round, 10)
}

// RunGeneratePartialKey is the message that asks a key generator to produce
// and broadcast its partial key for a round.
//
// - implements serde.Message
type RunGeneratePartialKey struct {
	round uint64
}

// NewRunGeneratePartialKey returns a new message for the round.
func NewRunGeneratePartialKey(round uint64) RunGeneratePartialKey {
	return RunGeneratePartialKey{round: round}
}

// GetRound returns the round id.
func (m RunGeneratePartialKey) GetRound() uint64 {
	return m.round
}

// Serialize implements serde.Message.
func (m RunGeneratePartialKey) Serialize(ctx serde.Context) ([]byte, error) {
	format := msgFormats.Get(ctx.GetFormat())

	data, err := format.Encode(ctx, m)
	if err != nil {
		return nil, xerrors.Errorf("couldn't encode message: %v", err)
	}

	return data, nil
}

// SyncPartialKey is the message that delivers the contribution of a key
// generator for a round.
//
// - implements serde.Message
type SyncPartialKey struct {
	sender string
	round  uint64
	key    tlp.PartialKey
	proof  tlp.Proof
}

// NewSyncPartialKey returns a new message with the contribution of the sender.
func NewSyncPartialKey(sender string, round uint64, key tlp.PartialKey,
	proof tlp.Proof) SyncPartialKey {

	return SyncPartialKey{
		sender: sender,
		round:  round,
		key:    key,
		proof:  proof,
	}
}

// GetSender returns the identity of the contributor.
func (m SyncPartialKey) GetSender() string {
	return m.sender
}

// GetRound returns the round id.
func (m SyncPartialKey) GetRound() uint64 {
	return m.round
}

// GetPartialKey returns the partial key.
func (m SyncPartialKey) GetPartialKey() tlp.PartialKey {
	return m.key
}

// GetProof returns the proof of the partial key.
func (m SyncPartialKey) GetProof() tlp.Proof {
	return m.proof
}

// Serialize implements serde.Message.
func (m SyncPartialKey) Serialize(ctx serde.Context) ([]byte, error) {
	format := msgFormats.Get(ctx.GetFormat())

	data, err := format.Encode(ctx, m)
	if err != nil {
		return nil, xerrors.Errorf("couldn't encode message: %v", err)
	}

	return data, nil
}

// MessageFactory is the factory of the messages of the key generators.
//
// - implements serde.Factory
type MessageFactory struct{}

// NewMessageFactory returns a new message factory.
func NewMessageFactory() MessageFactory {
	return MessageFactory{}
}

// Deserialize implements serde.Factory.
func (f MessageFactory) Deserialize(ctx serde.Context, data []byte) (serde.Message, error) {
	format := msgFormats.Get(ctx.GetFormat())

	msg, err := format.Decode(ctx, data)
	if err != nil {
		return nil, xerrors.Errorf("couldn't decode message: %v", err)
	}

	return msg, nil
}
