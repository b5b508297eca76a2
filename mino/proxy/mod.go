// Package proxy defines the HTTP surface of a node.
package proxy

import (
	"net"
	"net/http"
)

// Proxy defines the primitives to implement an http client that handles
// client side requests
type Proxy interface {
	// Listen starts the proxy server. This call is assumed to be blocking
	Listen()

	// Stop stops the proxy server
	Stop()

	// GetAddr returns the address the server listens on, or nil if it is not
	// listening yet.
	GetAddr() net.Addr

	// RegisterHandler registers a new handler
	RegisterHandler(path string, handler func(http.ResponseWriter, *http.Request))
}
