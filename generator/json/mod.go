// Package json implements the JSON format of the messages of the key
// generators.
package json

import (
	"go.dedis.ch/keygen/crypto/tlp"
	"go.dedis.ch/keygen/generator/types"
	"go.dedis.ch/keygen/serde"
	"golang.org/x/xerrors"
)

func init() {
	types.RegisterMessageFormat(serde.FormatJSON, msgFormat{})
}

// RunGenerate is the JSON message to ask for the partial key of a round.
type RunGenerate struct {
	Round uint64
}

// Sync is the JSON message to deliver a contribution.
type Sync struct {
	Sender     string
	Round      uint64
	PartialKey tlp.PartialKey
	Proof      tlp.Proof
}

// Message is the container of the JSON messages.
type Message struct {
	RunGenerate *RunGenerate `json:",omitempty"`
	Sync        *Sync        `json:",omitempty"`
}

// msgFormat is the engine to encode and decode the messages in JSON format.
//
// - implements serde.FormatEngine
type msgFormat struct{}

// Encode implements serde.FormatEngine.
func (f msgFormat) Encode(ctx serde.Context, msg serde.Message) ([]byte, error) {
	var m Message

	switch in := msg.(type) {
	case types.RunGeneratePartialKey:
		m.RunGenerate = &RunGenerate{Round: in.GetRound()}
	case types.SyncPartialKey:
		m.Sync = &Sync{
			Sender:     in.GetSender(),
			Round:      in.GetRound(),
			PartialKey: in.GetPartialKey(),
			Proof:      in.GetProof(),
		}
	default:
		return nil, xerrors.Errorf("unsupported message of type '%T'", msg)
	}

	data, err := ctx.Marshal(m)
	if err != nil {
		return nil, xerrors.Errorf("couldn't marshal: %v", err)
	}

	return data, nil
}

// Decode implements serde.FormatEngine.
func (f msgFormat) Decode(ctx serde.Context, data []byte) (serde.Message, error) {
	m := Message{}

	err := ctx.Unmarshal(data, &m)
	if err != nil {
		return nil, xerrors.Errorf("couldn't unmarshal message: %v", err)
	}

	switch {
	case m.RunGenerate != nil:
		return types.NewRunGeneratePartialKey(m.RunGenerate.Round), nil
	case m.Sync != nil:
		if m.Sync.Sender == "" {
			return nil, xerrors.New("sync message without sender")
		}

		msg := types.NewSyncPartialKey(m.Sync.Sender, m.Sync.Round,
			m.Sync.PartialKey, m.Sync.Proof)

		return msg, nil
	}

	return nil, xerrors.New("message is empty")
}
