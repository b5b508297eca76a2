// Package tracing provides the tracers of the overlay.
//
// The tracers are created from the Jaeger environment variables, one per
// address, and cached so that every overlay of the process shares them.
package tracing

import (
	"io"
	"sync"

	opentracing "github.com/opentracing/opentracing-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	"golang.org/x/xerrors"
)

type tracerCatalog struct {
	sync.Mutex
	tracerByAddr map[string]closableTracer
}

type closableTracer struct {
	tracer opentracing.Tracer
	closer io.Closer
}

var catalog = tracerCatalog{
	tracerByAddr: make(map[string]closableTracer),
}

// GetTracerForAddr returns an `opentracing.Tracer` instance for the given
// address. Since the tracers are cached, it returns an existing one if it
// has been initialized before.
func GetTracerForAddr(addr string) (opentracing.Tracer, error) {
	catalog.Lock()
	defer catalog.Unlock()

	tc, ok := catalog.tracerByAddr[addr]
	if ok {
		return tc.tracer, nil
	}

	cfg, err := jaegercfg.FromEnv()
	if err != nil {
		return nil, xerrors.Errorf("error parsing jaeger configuration from environment: %v", err)
	}

	cfg.ServiceName = addr

	tracer, closer, err := cfg.NewTracer()
	if err != nil {
		return nil, xerrors.Errorf("error creating new tracer: %v", err)
	}

	catalog.tracerByAddr[addr] = closableTracer{
		tracer: tracer,
		closer: closer,
	}

	return tracer, nil
}

// CloseAll closes all the tracer instances.
func CloseAll() error {
	catalog.Lock()
	defer catalog.Unlock()

	for addr, tc := range catalog.tracerByAddr {
		err := tc.closer.Close()
		if err != nil {
			return xerrors.Errorf("failed to close tracer of %s: %v", addr, err)
		}

		delete(catalog.tracerByAddr, addr)
	}

	return nil
}
