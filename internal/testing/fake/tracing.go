package fake

import opentracing "github.com/opentracing/opentracing-go"

// GetTracerForAddrWithError is used to mock the tracer lookup with an error.
func GetTracerForAddrWithError(string) (opentracing.Tracer, error) {
	return nil, fakeErr
}

// GetTracerForAddrEmpty is used to mock the tracer lookup with a no-op
// tracer.
func GetTracerForAddrEmpty(string) (opentracing.Tracer, error) {
	return opentracing.NoopTracer{}, nil
}
