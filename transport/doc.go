// Package transport contains descriptions of the operations
// exposed by an oml server and the interfaces shared by the
// protocol specific frontends and clients. Some clients may
// prefer gRPC, others REST. Adding a new protocol means
// adding a frontend that serves a ModelServer and, optionally,
// a client that implements ModelClient.
package transport
