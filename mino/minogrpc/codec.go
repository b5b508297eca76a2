package minogrpc

import (
	"encoding/json"

	"golang.org/x/xerrors"
	"google.golang.org/grpc/encoding"
)

// codecName is the content subtype of the calls between the participants.
const codecName = "keygen-json"

func init() {
	encoding.RegisterCodec(envelopeCodec{})
}

// Envelope is the message transmitted by the overlay. The payload is the
// message serialized by the RPC.
type Envelope struct {
	Payload []byte `json:",omitempty"`
}

// envelopeCodec encodes the envelopes in JSON, so that the overlay does not
// depend on generated protobuf messages.
//
// - implements encoding.Codec
type envelopeCodec struct{}

// Marshal implements encoding.Codec.
func (envelopeCodec) Marshal(v interface{}) ([]byte, error) {
	env, ok := v.(*Envelope)
	if !ok {
		return nil, xerrors.Errorf("unsupported message of type '%T'", v)
	}

	return json.Marshal(env)
}

// Unmarshal implements encoding.Codec.
func (envelopeCodec) Unmarshal(data []byte, v interface{}) error {
	env, ok := v.(*Envelope)
	if !ok {
		return xerrors.Errorf("unsupported message of type '%T'", v)
	}

	return json.Unmarshal(data, env)
}

// Name implements encoding.Codec.
func (envelopeCodec) Name() string {
	return codecName
}
