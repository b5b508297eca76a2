// Package minogrpc implements a network overlay using gRPC.
//
// Every call is a unary gRPC request to the participant. The messages are
// wrapped in an envelope encoded in JSON, and the headers carry the URI of the
// RPC alongside with the address of the sender. Both the client and the server
// sides are traced with opentracing.
package minogrpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	otgrpc "github.com/opentracing-contrib/go-grpc"
	opentracing "github.com/opentracing/opentracing-go"
	"go.dedis.ch/keygen"
	"go.dedis.ch/keygen/mino"
	"go.dedis.ch/keygen/mino/minogrpc/tracing"
	"go.dedis.ch/keygen/serde"
	"go.dedis.ch/keygen/serde/json"
	"golang.org/x/xerrors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
)

var (
	// defaultMinConnectTimeout is the minimum amount of time we are willing to
	// wait for a grpc connection to complete
	defaultMinConnectTimeout = 7 * time.Second

	// defaultCallTimeout is the maximum amount of time for a call to a
	// participant.
	defaultCallTimeout = 10 * time.Second

	getTracerForAddr = tracing.GetTracerForAddr
)

// ParseAddress is a helper to create a TCP network address.
func ParseAddress(ip string, port uint16) net.Addr {
	return &net.TCPAddr{
		IP:   net.ParseIP(ip),
		Port: int(port),
	}
}

// Minogrpc is an implementation of a minimalist network overlay using gRPC
// internally to communicate with distant peers.
//
// - implements mino.Mino
// - implements fmt.Stringer
type Minogrpc struct {
	sync.Mutex

	myAddr      mino.Address
	server      *grpc.Server
	service     *overlayService
	tracer      opentracing.Tracer
	context     serde.Context
	conns       map[string]*grpc.ClientConn
	callTimeout time.Duration
	started     chan struct{}
	closing     chan error
}

type minoTemplate struct {
	public      mino.Address
	callTimeout time.Duration
}

// Option is the type to set some fields when instantiating an overlay.
type Option func(*minoTemplate)

// WithPublicAddress sets the address announced to the other participants when
// it differs from the listening one.
func WithPublicAddress(addr string) Option {
	return func(tmpl *minoTemplate) {
		tmpl.public = address{host: addr}
	}
}

// WithCallTimeout sets the maximum amount of time of a call to a participant.
func WithCallTimeout(d time.Duration) Option {
	return func(tmpl *minoTemplate) {
		tmpl.callTimeout = d
	}
}

// NewMinogrpc creates and starts a new instance. It will try to listen for the
// address and returns an error if it fails.
func NewMinogrpc(addr net.Addr, opts ...Option) (*Minogrpc, error) {
	socket, err := net.Listen(addr.Network(), addr.String())
	if err != nil {
		return nil, xerrors.Errorf("failed to bind: %v", err)
	}

	tmpl := minoTemplate{
		public:      address{host: socket.Addr().String()},
		callTimeout: defaultCallTimeout,
	}

	for _, opt := range opts {
		opt(&tmpl)
	}

	tracer, err := getTracerForAddr(tmpl.public.String())
	if err != nil {
		socket.Close()

		return nil, xerrors.Errorf("failed to get tracer: %v", err)
	}

	service := &overlayService{
		endpoints: make(map[string]*Endpoint),
		addrFac:   AddressFactory{},
		context:   json.NewContext(),
	}

	server := grpc.NewServer(
		grpc.Creds(insecure.NewCredentials()),
		grpc.UnaryInterceptor(otgrpc.OpenTracingServerInterceptor(tracer)),
	)

	server.RegisterService(&serviceDesc, service)

	m := &Minogrpc{
		myAddr:      tmpl.public,
		server:      server,
		service:     service,
		tracer:      tracer,
		context:     json.NewContext(),
		conns:       make(map[string]*grpc.ClientConn),
		callTimeout: tmpl.callTimeout,
		started:     make(chan struct{}),
		closing:     make(chan error, 1),
	}

	m.listen(socket)

	keygen.Logger.Info().Stringer("addr", m.myAddr).Msg("overlay started")

	return m, nil
}

// GetAddressFactory implements mino.Mino. It returns the address factory.
func (m *Minogrpc) GetAddressFactory() mino.AddressFactory {
	return AddressFactory{}
}

// GetAddress implements mino.Mino. It returns the address of the server.
func (m *Minogrpc) GetAddress() mino.Address {
	return m.myAddr
}

// CreateRPC implements mino.Mino. It returns a newly created rpc with the
// provided name. When contacting distant peers, it will only talk to mirrored
// RPCs with the same name.
func (m *Minogrpc) CreateRPC(name string, h mino.Handler, f serde.Factory) (mino.RPC, error) {
	m.service.Lock()
	defer m.service.Unlock()

	_, found := m.service.endpoints[name]
	if found {
		return nil, xerrors.Errorf("rpc %s already exists", name)
	}

	m.service.endpoints[name] = &Endpoint{
		Handler: h,
		Factory: f,
	}

	rpc := &RPC{
		uri:     name,
		overlay: m,
		factory: f,
	}

	return rpc, nil
}

// GracefulStop first stops the grpc server then waits for the remaining
// handlers to close.
func (m *Minogrpc) GracefulStop() error {
	m.server.GracefulStop()

	return m.postCheckClose()
}

// Stop stops the server immediately.
func (m *Minogrpc) Stop() error {
	m.server.Stop()

	return m.postCheckClose()
}

// String implements fmt.Stringer. It prints a short description of the
// instance.
func (m *Minogrpc) String() string {
	return fmt.Sprintf("mino[%v]", m.myAddr)
}

func (m *Minogrpc) postCheckClose() error {
	err := <-m.closing
	if err != nil {
		return xerrors.Errorf("server stopped unexpectedly: %v", err)
	}

	m.Lock()
	defer m.Unlock()

	for addr, conn := range m.conns {
		err = conn.Close()
		if err != nil {
			return xerrors.Errorf("failed to close connection to %s: %v", addr, err)
		}

		delete(m.conns, addr)
	}

	return nil
}

// getConnection returns the connection to the participant. Connections are
// opened once and kept until the overlay stops.
func (m *Minogrpc) getConnection(to mino.Address) (*grpc.ClientConn, error) {
	addr, ok := to.(address)
	if !ok {
		return nil, xerrors.Errorf("invalid address type '%T'", to)
	}

	if addr.host == "" {
		return nil, xerrors.New("empty address is not allowed")
	}

	m.Lock()
	defer m.Unlock()

	conn, found := m.conns[addr.host]
	if found {
		return conn, nil
	}

	conn, err := grpc.Dial(addr.GetDialAddress(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff:           backoff.DefaultConfig,
			MinConnectTimeout: defaultMinConnectTimeout,
		}),
		grpc.WithUnaryInterceptor(otgrpc.OpenTracingClientInterceptor(m.tracer)),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, xerrors.Errorf("failed to create a dial connection: %v", err)
	}

	m.conns[addr.host] = conn

	return conn, nil
}

// listen starts the server. It waits for the go routine to start before
// returning.
func (m *Minogrpc) listen(socket net.Listener) {
	go func() {
		close(m.started)

		err := m.server.Serve(socket)
		if err != nil {
			m.closing <- xerrors.Errorf("failed to serve: %v", err)
		}

		close(m.closing)
	}()

	// Force the go routine to be executed before returning which means the
	// server has well started after that point.
	<-m.started
}

func (m *Minogrpc) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.callTimeout)
}
