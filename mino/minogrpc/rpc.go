package minogrpc

import (
	"context"
	"sync"

	"go.dedis.ch/keygen/mino"
	"go.dedis.ch/keygen/serde"
	"golang.org/x/xerrors"
	"google.golang.org/grpc/metadata"
)

// RPC represents an RPC that has been registered by a client, which allows
// clients to call an RPC that will execute the provided handler.
//
// - implements mino.RPC
type RPC struct {
	overlay *Minogrpc
	factory serde.Factory
	uri     string
}

// Call implements mino.RPC. It calls the RPC on each provided address in
// parallel. Each participant yields a response, or an error if it cannot be
// reached in time. The channel is closed once every call is done.
func (rpc *RPC) Call(ctx context.Context, req serde.Message,
	players mino.Players) (<-chan mino.Response, error) {

	data, err := req.Serialize(rpc.overlay.context)
	if err != nil {
		return nil, xerrors.Errorf("failed to serialize: %v", err)
	}

	from, err := rpc.overlay.myAddr.MarshalText()
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal address: %v", err)
	}

	header := metadata.Pairs(headerURIKey, rpc.uri, headerAddressKey, string(from))

	out := make(chan mino.Response, players.Len())

	wg := sync.WaitGroup{}
	wg.Add(players.Len())

	iter := players.AddressIterator()
	for iter.HasNext() {
		addr := iter.GetNext()

		go func() {
			defer wg.Done()

			out <- rpc.unicast(ctx, header, addr, data)
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

func (rpc *RPC) unicast(ctx context.Context, header metadata.MD, to mino.Address,
	data []byte) mino.Response {

	conn, err := rpc.overlay.getConnection(to)
	if err != nil {
		return mino.NewResponseWithError(to, xerrors.Errorf("failed to get connection: %v", err))
	}

	ctx, cancel := rpc.overlay.callContext(ctx)
	defer cancel()

	ctx = metadata.NewOutgoingContext(ctx, header)

	reply := &Envelope{}

	err = conn.Invoke(ctx, callMethod, &Envelope{Payload: data}, reply)
	if err != nil {
		return mino.NewResponseWithError(to, xerrors.Errorf("failed to call client '%s': %v", to, err))
	}

	if len(reply.Payload) == 0 {
		return mino.NewResponse(to, nil)
	}

	msg, err := rpc.factory.Deserialize(rpc.overlay.context, reply.Payload)
	if err != nil {
		return mino.NewResponseWithError(to, xerrors.Errorf("couldn't unmarshal reply: %v", err))
	}

	return mino.NewResponse(to, msg)
}
