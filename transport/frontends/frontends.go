package frontends

import (
	"net"

	"github.com/omlserver/oml/transport"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Options define standard options
// passed to frontends during initialization
type Options struct {
	Server transport.ModelServer
	Logger *zap.Logger
	// Gatherer is optional. Frontends that expose
	// metrics serve what it gathers.
	Gatherer prometheus.Gatherer
	// Options holds frontend specific options
	Options map[string]interface{}
}

// Frontend describes an interface
// that every oml frontend must
// implement.
type Frontend interface {
	// Init initializes the frontend. Use this
	// to pass configuration options to the frontend
	Init(options Options) error
	// Listen tells this frontend to start listening
	// using this listener. A frontend may be asked
	// to listen on different interfaces, such as a TCP
	// socket and a Unix socket. It must accept
	// one or more calls to Listen. Listen must block
	// as long as it is actively accepting connections
	// from this listener. If the listener returns an
	// error Listen must return an error and return. If
	// Listen returns as a result of Stop being called it
	// must return nil.
	Listen(listener net.Listener) error
	// Stop tells this frontend to stop processing
	// requests and stop listening to all listeners.
	// Requests already being handled are allowed
	// to finish. Listeners are closed.
	Stop() error
}

// ZapLogger returns options.Logger or the
// global logger if none was set
func (options Options) ZapLogger() *zap.Logger {
	if options.Logger == nil {
		return zap.L()
	}

	return options.Logger
}
