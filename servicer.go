package datapath

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/datapath-io/datapath/auth"
	"github.com/datapath-io/datapath/backend"
	"github.com/datapath-io/datapath/internal/logctx"
	"github.com/datapath-io/datapath/internal/queue"
	"github.com/datapath-io/datapath/internal/registry"
	"github.com/datapath-io/datapath/internal/respcache"
	"github.com/datapath-io/datapath/wire"
)

const (
	// ProtocolVersion is reported in connection-info responses; clients
	// refuse to talk to a server whose protocol version they don't know.
	ProtocolVersion = "2025-10-01"

	// Version identifies this server build.
	Version = "0.3.0"
)

// Stream is the externally-provided bidirectional message channel for one
// client connection. Its context must carry gRPC-style incoming metadata with
// at least a "client_id" value; "reconnecting" and "authorization" are
// optional. Recv returns io.EOF (or a transport error) when the inbound side
// ends.
type Stream interface {
	Context() context.Context
	Recv() (*wire.Request, error)
	Send(*wire.Response) error
}

// Servicer multiplexes datapath request streams onto a backend, one dispatch
// loop per connection, sharing a process-wide session registry.
type Servicer struct {
	backend backend.Backend
	reg     *registry.Registry
	log     *slog.Logger
	id      string

	maxClients       int
	queueJoinTimeout time.Duration
	authorizer       auth.Authorizer
	shutdownHook     func()
}

// New constructs a Servicer over the given backend with default limits
// (see DefaultConfig).
func New(b backend.Backend, opts ...Option) *Servicer {
	cfg := DefaultConfig()
	s := &Servicer{
		backend:          b,
		log:              slog.Default(),
		id:               uuid.NewString(),
		maxClients:       cfg.maxClients(),
		queueJoinTimeout: cfg.QueueJoinTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	// Every connection-scoped log line picks up client/request context.
	s.log = slog.New(logctx.NewHandler(s.log.Handler()))
	if s.shutdownHook == nil {
		s.shutdownHook = func() {
			if err := s.backend.Shutdown(context.Background()); err != nil {
				s.log.Error("backend shutdown failed", "err", err)
			}
		}
	}
	s.reg = registry.New(s.maxClients, s.shutdownHook, s.log)
	return s
}

// NewFromEnv constructs a Servicer with limits decoded from the environment.
func NewFromEnv(b backend.Backend, opts ...Option) (*Servicer, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return New(b, append([]Option{WithConfig(cfg)}, opts...)...), nil
}

// Stop signals server shutdown: pending grace-period waits finish early so
// in-flight teardowns can complete promptly.
func (s *Servicer) Stop() {
	s.reg.Stop()
}

// NumClients reports the current active-client count.
func (s *Servicer) NumClients() int {
	return s.reg.NumClients()
}

// Datapath serves one client connection until its inbound stream ends or an
// unrecoverable fault terminates the session. The returned error is the
// status communicated to the transport; nil means a clean close.
//
// Teardown runs on every exit path: the intake reader is joined (bounded by
// the queue-join timeout), then the session is cleaned up immediately if the
// client requested cleanup or the session holds no grace period, otherwise
// after the reconnect window elapses without the client coming back.
func (s *Servicer) Datapath(stream Stream) (retErr error) {
	ctx := stream.Context()
	start := time.Now()

	md, _ := metadata.FromIncomingContext(ctx)
	clientID := metadataValue(md, "client_id")
	if clientID == "" {
		s.log.ErrorContext(ctx, "client connecting with no client_id")
		return status.Error(codes.InvalidArgument, "missing client_id metadata")
	}
	reconnecting := s.reconnectingFromMetadata(ctx, md)
	ctx = logctx.WithConnData(ctx, &logctx.ConnData{
		ClientID:     clientID,
		ConnectionID: uuid.NewString(),
		Reconnecting: reconnecting,
	})
	s.log.DebugContext(ctx, "new data connection")

	if s.authorizer != nil {
		if err := s.authorizer.CheckConnect(ctx, bearerToken(md)); err != nil {
			s.log.WarnContext(ctx, "connection token rejected", "err", err)
			return status.Error(codes.Unauthenticated, "connection token rejected")
		}
	}

	cache, err := s.reg.Admit(clientID, reconnecting, start)
	if err != nil {
		return err
	}

	// Set when the client gracefully shuts down (connection_cleanup) or when
	// an unrecoverable fault makes the session non-resumable; either way the
	// reconnect window is skipped.
	cleanupRequested := false

	q := queue.New()
	readerDone := make(chan struct{})

	defer func() {
		s.log.DebugContext(ctx, "lost data connection")
		select {
		case <-readerDone:
		case <-time.After(s.queueJoinTimeout):
			s.log.ErrorContext(ctx, "intake reader failed to exit before timeout",
				"timeout", s.queueJoinTimeout)
		}
		s.reg.Teardown(clientID, start, cleanupRequested, func(id string) {
			s.backend.ReleaseAll(context.Background(), id)
		})
	}()

	go s.fillQueue(ctx, stream, q, readerDone)

	if err := s.serve(ctx, stream, q, clientID, cache, &cleanupRequested); err != nil {
		s.log.ErrorContext(ctx, "error in data channel", "err", err)
		recoverable := communicableFault(err)
		refused := cache.Invalidate(err)
		if !recoverable || refused {
			// The session cannot be resumed; tell the client so rather than
			// letting a reconnect silently replay partial state.
			cleanupRequested = true
			return status.Error(codes.FailedPrecondition, "data stream is not resumable")
		}
		return err
	}
	return nil
}

// fillQueue drains the inbound stream into the shared queue, decoupling
// network reads from dispatch. It always pushes the end-of-stream sentinel on
// exit so the dispatch loop can tell "empty" apart from "finished".
func (s *Servicer) fillQueue(ctx context.Context, stream Stream, q *queue.Queue, done chan<- struct{}) {
	defer close(done)
	defer q.PushEndOfStream()
	for {
		req, err := stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.DebugContext(ctx, "closing intake reader", "err", err)
			}
			return
		}
		q.PushRequest(req)
	}
}

// serve is the per-connection dispatch loop. It drains the intake queue until
// the end-of-stream sentinel, replaying cached responses, invoking the
// backend for everything else, and emitting responses in dequeue order.
// Asynchronous get completions arrive as pre-built responses on the same
// queue and are emitted as-is.
func (s *Servicer) serve(ctx context.Context, stream Stream, q *queue.Queue, clientID string, cache *respcache.Cache, cleanupRequested *bool) error {
	// Disabled for the rest of the session if the client inits with a zero
	// grace period; no caching happens for such sessions.
	reconnectEnabled := true

	for {
		item := q.Pop()
		var req *wire.Request
		switch item.Kind {
		case queue.ItemEndOfStream:
			return nil
		case queue.ItemResponse:
			// Result of an async get; already complete, emit directly.
			if err := stream.Send(item.Resp); err != nil {
				return fmt.Errorf("send async get completion: %w", err)
			}
			continue
		case queue.ItemRequest:
			req = item.Req
		}

		rctx := logctx.WithRequestData(ctx, &logctx.RequestData{
			ReqID: req.ReqID,
			Kind:  req.Kind().String(),
		})

		if shouldCache(req) && reconnectEnabled {
			cached, err := cache.Check(req.ReqID)
			if err != nil {
				// Cache state is invalid; the session must terminate.
				return err
			}
			if cached != nil {
				s.log.DebugContext(rctx, "replaying cached response")
				if err := stream.Send(cached); err != nil {
					return fmt.Errorf("send cached response: %w", err)
				}
				continue
			}
		}

		var resp *wire.Response
		switch req.Kind() {
		case wire.KindInit:
			initResp, err := s.backend.Init(rctx, req.Init)
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}
			resp = &wire.Response{Init: initResp}
			grace := time.Duration(req.Init.ReconnectGracePeriodSeconds) * time.Second
			s.reg.SetGracePeriod(clientID, grace)
			if grace == 0 {
				reconnectEnabled = false
			}

		case wire.KindGet:
			if req.Get.Asynchronous {
				getResp, err := s.backend.AsyncGetObject(rctx, clientID, req.ReqID, req.Get, q.PushResponse)
				if err != nil {
					return fmt.Errorf("async get object: %w", err)
				}
				if getResp == nil {
					// No result yet; the completion lands on the queue later.
					continue
				}
				resp = &wire.Response{Get: getResp}
			} else {
				getResp, err := s.backend.GetObject(rctx, clientID, req.Get)
				if err != nil {
					return fmt.Errorf("get object: %w", err)
				}
				resp = &wire.Response{Get: getResp}
			}

		case wire.KindPut:
			putResp, err := s.backend.PutObject(rctx, clientID, req.Put)
			if err != nil {
				return fmt.Errorf("put object: %w", err)
			}
			resp = &wire.Response{Put: putResp}

		case wire.KindRelease:
			ok := make([]bool, 0, len(req.Release.IDs))
			for _, id := range req.Release.IDs {
				ok = append(ok, s.backend.Release(rctx, clientID, id))
			}
			resp = &wire.Response{Release: &wire.ReleaseResponse{OK: ok}}

		case wire.KindConnectionInfo:
			resp = &wire.Response{ConnectionInfo: s.connectionInfo()}

		case wire.KindPrepRuntimeEnv:
			var prepResp *wire.PrepRuntimeEnvResponse
			var prepErr error
			// Runtime-env preparation mutates shared backend state; serialize
			// it against admission and teardown.
			s.reg.Locked(func() {
				prepResp, prepErr = s.backend.PrepRuntimeEnv(rctx, req.PrepRuntimeEnv)
			})
			if prepErr != nil {
				return fmt.Errorf("prep runtime env: %w", prepErr)
			}
			resp = &wire.Response{PrepRuntimeEnv: prepResp}

		case wire.KindConnectionCleanup:
			*cleanupRequested = true
			resp = &wire.Response{ConnectionCleanup: &wire.ConnectionCleanupResponse{}}

		case wire.KindAcknowledge:
			// Acks only trim the replay cache; no response goes out.
			cache.Cleanup(req.Acknowledge.ReqID)
			continue

		default:
			return fmt.Errorf("unhandled request kind %q in datapath", req.Kind())
		}

		resp.ReqID = req.ReqID
		if shouldCache(req) && reconnectEnabled {
			cache.Update(req.ReqID, resp)
		}
		if err := stream.Send(resp); err != nil {
			return fmt.Errorf("send response: %w", err)
		}
	}
}

func (s *Servicer) connectionInfo() *wire.ConnectionInfoResponse {
	return &wire.ConnectionInfoResponse{
		NumClients:      s.reg.NumClients(),
		RuntimeVersion:  runtime.Version(),
		ServerVersion:   Version,
		ProtocolVersion: ProtocolVersion,
	}
}

// reconnectingFromMetadata reads the stringified "reconnecting" flag.
// A missing or malformed value is treated as false: that usually means a
// mismatched client and server version, so it is logged.
func (s *Servicer) reconnectingFromMetadata(ctx context.Context, md metadata.MD) bool {
	val := metadataValue(md, "reconnecting")
	b, err := strconv.ParseBool(val)
	if err != nil {
		s.log.WarnContext(ctx, "client connected with invalid reconnecting flag, assuming false",
			"value", val)
		return false
	}
	return b
}

func metadataValue(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func bearerToken(md metadata.MD) string {
	raw := metadataValue(md, "authorization")
	return strings.TrimPrefix(raw, "Bearer ")
}

// shouldCache reports whether the response to req is recorded for replay.
// Gets are idempotent (and can be large), and repeating acks or cleanup
// requests is harmless, so none of those are cached.
func shouldCache(req *wire.Request) bool {
	switch req.Kind() {
	case wire.KindGet, wire.KindAcknowledge, wire.KindConnectionCleanup:
		return false
	}
	return true
}

// communicableFault reports whether err carries a status the client can act
// on. Anything else is an internal fault; the session is terminated with
// failed-precondition instead of replaying it.
func communicableFault(err error) bool {
	var se interface{ GRPCStatus() *status.Status }
	return errors.As(err, &se)
}
