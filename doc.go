// Package datapath implements a bidirectional streaming data-plane servicer.
// It multiplexes client object requests (init, get, put, release, connection
// info, runtime-env preparation, cleanup, acknowledge) over one long-lived
// stream per client, caches responses for idempotent replay across client
// reconnects, and manages per-client lifecycle including graceful shutdown
// and a reconnection grace period after ungraceful disconnects.
//
// Layers & Roles
//
//	Servicer.Datapath -> per-connection intake reader + dispatch loop
//	internal/registry -> admission, last-seen tracking, teardown, client counter
//	internal/respcache-> per-client ordered response cache for replay
//	backend           -> opaque request-execution capability (object store etc.)
//
// A transport adapter supplies the Stream: any bidirectional channel of
// wire.Request/wire.Response whose context carries gRPC-style metadata with
// the client id and a stringified "reconnecting" flag. Admission rejections
// and terminal session failures are returned as google.golang.org/grpc status
// errors so a gRPC transport can surface them unchanged.
package datapath
