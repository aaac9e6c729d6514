// Package backend declares the capability surface the datapath servicer
// dispatches requests to. Implementations own object storage and runtime
// environment preparation; the servicer treats them as opaque calls that
// either return a response or fail.
//
// Implementations
//
//	memstore   : in-memory reference store used for tests and single-process setups
//	redisstore : Redis-backed store for setups where object data must outlive the process
package backend

import (
	"context"
	"errors"

	"github.com/datapath-io/datapath/wire"
)

// ErrObjectNotFound is reported inside Get/Put response payloads (via the
// Error field) rather than as a call error; it is exported so backends can
// share the message text.
var ErrObjectNotFound = errors.New("object not found")

// Backend executes datapath requests on behalf of connected clients.
//
// Application-level failures (missing object, rejected put) must be encoded
// inside the returned response payload so they reach the client through the
// normal response flow and replay consistently from the response cache. An
// error return is reserved for faults that should terminate the session.
type Backend interface {
	// Init establishes backend-side state for a client session.
	Init(ctx context.Context, req *wire.InitRequest) (*wire.InitResponse, error)

	// GetObject performs a synchronous read.
	GetObject(ctx context.Context, clientID string, req *wire.GetRequest) (*wire.GetResponse, error)

	// AsyncGetObject performs a read that may be deferred. If the object is
	// immediately available the response is returned and deliver is never
	// called. Otherwise it returns (nil, nil) and the backend later invokes
	// deliver exactly once with a complete response (ReqID already set).
	// deliver must be safe to call from any goroutine.
	AsyncGetObject(ctx context.Context, clientID string, reqID uint64, req *wire.GetRequest, deliver func(*wire.Response)) (*wire.GetResponse, error)

	// PutObject stores an object and returns its id.
	PutObject(ctx context.Context, clientID string, req *wire.PutRequest) (*wire.PutResponse, error)

	// Release drops the client's reference to a single object id, reporting
	// whether the client actually held one.
	Release(ctx context.Context, clientID string, id string) bool

	// ReleaseAll drops every resource owned by the client. Invoked during
	// session teardown.
	ReleaseAll(ctx context.Context, clientID string)

	// PrepRuntimeEnv prepares a runtime environment described by the request.
	PrepRuntimeEnv(ctx context.Context, req *wire.PrepRuntimeEnvRequest) (*wire.PrepRuntimeEnvResponse, error)

	// Shutdown releases process-wide backend resources. The servicer invokes
	// it (through its shutdown hook) when the last client session ends.
	Shutdown(ctx context.Context) error
}
