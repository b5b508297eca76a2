package minogrpc

import (
	"context"
	"sync"

	"go.dedis.ch/keygen/mino"
	"go.dedis.ch/keygen/serde"
	"golang.org/x/xerrors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const (
	headerURIKey     = "apiuri"
	headerAddressKey = "addr"

	serviceName = "minogrpc.Overlay"
	callMethod  = "/" + serviceName + "/Call"
)

// overlayServer is the gRPC service of the overlay.
type overlayServer interface {
	Call(context.Context, *Envelope) (*Envelope, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*overlayServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Call",
			Handler:    callHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "overlay",
}

func callHandler(srv interface{}, ctx context.Context, dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor) (interface{}, error) {

	in := new(Envelope)

	err := dec(in)
	if err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(overlayServer).Call(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: callMethod,
	}

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(overlayServer).Call(ctx, req.(*Envelope))
	}

	return interceptor(ctx, in, info, handler)
}

// Endpoint is the handler of an RPC with the factory of its messages.
type Endpoint struct {
	Handler mino.Handler
	Factory serde.Factory
}

// overlayService is the implementation of the gRPC service. It dispatches the
// calls to the endpoint registered for the URI in the header.
//
// - implements overlayServer
type overlayService struct {
	sync.RWMutex

	endpoints map[string]*Endpoint
	addrFac   mino.AddressFactory
	context   serde.Context
}

// Call implements overlayServer. It processes the message with the handler of
// the endpoint, and returns the reply if any.
func (o *overlayService) Call(ctx context.Context, msg *Envelope) (*Envelope, error) {
	// We fetch the uri that identifies the handler in the handlers map with the
	// grpc metadata api. Using context.Value won't work.
	uri, err := getHeader(ctx, headerURIKey)
	if err != nil {
		return nil, err
	}

	from, err := getHeader(ctx, headerAddressKey)
	if err != nil {
		return nil, err
	}

	o.RLock()
	endpoint, found := o.endpoints[uri]
	o.RUnlock()

	if !found {
		return nil, xerrors.Errorf("handler '%s' is not registered", uri)
	}

	message, err := endpoint.Factory.Deserialize(o.context, msg.Payload)
	if err != nil {
		return nil, xerrors.Errorf("couldn't deserialize: %v", err)
	}

	req := mino.Request{
		Address: o.addrFac.FromText([]byte(from)),
		Message: message,
	}

	result, err := endpoint.Handler.Process(req)
	if err != nil {
		return nil, xerrors.Errorf("couldn't process request: %v", err)
	}

	if result == nil {
		return &Envelope{}, nil
	}

	data, err := result.Serialize(o.context)
	if err != nil {
		return nil, xerrors.Errorf("failed to serialize result: %v", err)
	}

	return &Envelope{Payload: data}, nil
}

func getHeader(ctx context.Context, key string) (string, error) {
	headers, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", xerrors.New("header not found in provided context")
	}

	values := headers.Get(key)
	if len(values) != 1 {
		return "", xerrors.Errorf("unexpected number of elements in %s "+
			"header. Expected 1, found %d", key, len(values))
	}

	return values[0], nil
}
