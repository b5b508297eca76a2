package minoch

import (
	"context"
	"sync"

	"go.dedis.ch/keygen/mino"
	"go.dedis.ch/keygen/serde"
	"golang.org/x/xerrors"
)

// RPC is an implementation of the mino.RPC interface.
//
// - implements mino.RPC
type RPC struct {
	manager *Manager
	addr    mino.Address
	name    string
	h       mino.Handler
	context serde.Context
	factory serde.Factory
}

// Call implements mino.RPC. It sends the message to all participants and
// gathers their replies. Each participant processes the request in its own
// goroutine so that the caller never blocks. A request dropped by a filter of
// the recipient produces no response at all.
func (c *RPC) Call(ctx context.Context, req serde.Message,
	players mino.Players) (<-chan mino.Response, error) {

	data, err := req.Serialize(c.context)
	if err != nil {
		return nil, xerrors.Errorf("failed to serialize: %v", err)
	}

	out := make(chan mino.Response, players.Len())

	wg := sync.WaitGroup{}
	wg.Add(players.Len())

	iter := players.AddressIterator()
	for iter.HasNext() {
		addr := iter.GetNext()

		go func() {
			defer wg.Done()

			resp := c.process(addr, data)
			if resp == nil {
				return
			}

			select {
			case out <- resp:
			case <-ctx.Done():
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

func (c *RPC) process(to mino.Address, data []byte) mino.Response {
	peer, err := c.manager.get(to)
	if err != nil {
		return mino.NewResponseWithError(to,
			xerrors.Errorf("couldn't find peer: %v", err))
	}

	rpc, found := peer.getRPC(c.name)
	if !found {
		return mino.NewResponseWithError(to, xerrors.Errorf("unknown rpc %s", c.name))
	}

	msg, err := rpc.factory.Deserialize(rpc.context, data)
	if err != nil {
		return mino.NewResponseWithError(to,
			xerrors.Errorf("couldn't deserialize: %v", err))
	}

	req := mino.Request{
		Address: c.addr,
		Message: msg,
	}

	if !peer.accept(req) {
		return nil
	}

	resp, err := rpc.h.Process(req)
	if err != nil {
		return mino.NewResponseWithError(to,
			xerrors.Errorf("couldn't process request: %v", err))
	}

	return mino.NewResponse(to, resp)
}
