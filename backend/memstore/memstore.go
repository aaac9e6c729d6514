// Package memstore is the in-memory reference implementation of
// backend.Backend. Objects are content-addressed by xxhash digest and
// reference-counted per client; an object is dropped when the last client
// reference to it is released. Deferred (asynchronous) gets register waiters
// that are completed by the put that stores the object.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/datapath-io/datapath/backend"
	"github.com/datapath-io/datapath/wire"
)

// ErrClosed is returned by calls made after Shutdown.
var ErrClosed = errors.New("memstore: store is shut down")

type waiter struct {
	reqID   uint64
	deliver func(*wire.Response)
}

// Store is an in-memory object store backend.
type Store struct {
	mu      sync.Mutex
	closed  bool
	objects map[string][]byte
	refs    map[string]map[string]int // clientID -> object id -> refcount
	waiters map[string][]waiter       // object id -> deferred gets
}

func New() *Store {
	return &Store{
		objects: make(map[string][]byte),
		refs:    make(map[string]map[string]int),
		waiters: make(map[string][]waiter),
	}
}

// ObjectID returns the content-addressed id for a payload.
func ObjectID(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

func (s *Store) Init(ctx context.Context, req *wire.InitRequest) (*wire.InitResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return &wire.InitResponse{OK: true}, nil
}

func (s *Store) GetObject(ctx context.Context, clientID string, req *wire.GetRequest) (*wire.GetResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	data, ok := s.objects[req.ID]
	if !ok {
		return &wire.GetResponse{Error: fmt.Sprintf("%v: %s", backend.ErrObjectNotFound, req.ID)}, nil
	}
	return &wire.GetResponse{Valid: true, Data: data}, nil
}

func (s *Store) AsyncGetObject(ctx context.Context, clientID string, reqID uint64, req *wire.GetRequest, deliver func(*wire.Response)) (*wire.GetResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if data, ok := s.objects[req.ID]; ok {
		return &wire.GetResponse{Valid: true, Data: data}, nil
	}
	s.waiters[req.ID] = append(s.waiters[req.ID], waiter{reqID: reqID, deliver: deliver})
	return nil, nil
}

func (s *Store) PutObject(ctx context.Context, clientID string, req *wire.PutRequest) (*wire.PutResponse, error) {
	id := ObjectID(req.Data)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.objects[id] = req.Data
	refs, ok := s.refs[clientID]
	if !ok {
		refs = make(map[string]int)
		s.refs[clientID] = refs
	}
	refs[id]++
	woken := s.waiters[id]
	delete(s.waiters, id)
	s.mu.Unlock()

	// Deliver outside the lock; callbacks feed dispatch queues.
	for _, w := range woken {
		w.deliver(&wire.Response{
			ReqID: w.reqID,
			Get:   &wire.GetResponse{Valid: true, Data: req.Data},
		})
	}
	return &wire.PutResponse{ID: id, Valid: true}, nil
}

func (s *Store) Release(ctx context.Context, clientID string, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return s.releaseLocked(clientID, id)
}

func (s *Store) releaseLocked(clientID, id string) bool {
	refs := s.refs[clientID]
	if refs[id] == 0 {
		return false
	}
	refs[id]--
	if refs[id] == 0 {
		delete(refs, id)
	}
	s.collectLocked(id)
	return true
}

// collectLocked drops the object once no client holds a reference to it.
func (s *Store) collectLocked(id string) {
	for _, refs := range s.refs {
		if refs[id] > 0 {
			return
		}
	}
	delete(s.objects, id)
}

func (s *Store) ReleaseAll(ctx context.Context, clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	refs := s.refs[clientID]
	delete(s.refs, clientID)
	for id := range refs {
		s.collectLocked(id)
	}
}

func (s *Store) PrepRuntimeEnv(ctx context.Context, req *wire.PrepRuntimeEnvRequest) (*wire.PrepRuntimeEnvResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return &wire.PrepRuntimeEnvResponse{}, nil
}

func (s *Store) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.objects = nil
	s.refs = nil
	s.waiters = nil
	return nil
}

var _ backend.Backend = (*Store)(nil)
