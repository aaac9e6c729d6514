// Package backendtest provides a scripted in-memory backend.Backend fake for
// servicer tests. Every invocation is counted so tests can assert whether the
// backend was hit or a cached response was replayed.
package backendtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/datapath-io/datapath/backend"
	"github.com/datapath-io/datapath/wire"
)

type pendingGet struct {
	clientID string
	reqID    uint64
	deliver  func(*wire.Response)
}

// Backend is a fake backend. The zero value is not usable; construct with New.
type Backend struct {
	mu       sync.Mutex
	calls    map[string]int
	objects  map[string][]byte
	nextID   int
	released map[string][]string // clientID -> released object ids
	pending  map[string][]pendingGet

	// DeferGets makes AsyncGetObject always defer, even for stored objects.
	// Completions are triggered with CompleteGet.
	DeferGets bool

	// FailPut, when set, is returned as a call error from PutObject to
	// simulate an unrecoverable backend fault.
	FailPut error

	// PutGate, when non-nil, makes PutObject block until a value is sent on
	// it, parking the calling dispatch loop mid-request.
	PutGate chan struct{}
}

func New() *Backend {
	return &Backend{
		calls:    make(map[string]int),
		objects:  make(map[string][]byte),
		released: make(map[string][]string),
		pending:  make(map[string][]pendingGet),
	}
}

// Calls reports how many times the named method ran.
func (b *Backend) Calls(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method]
}

// Released reports the object ids the client has released.
func (b *Backend) Released(clientID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.released[clientID]...)
}

// Seed stores an object under the given id without counting a call.
func (b *Backend) Seed(id string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[id] = data
}

// CompleteGet resolves every deferred get for the object id, invoking each
// deliver callback with a complete response.
func (b *Backend) CompleteGet(id string, data []byte) {
	b.mu.Lock()
	waiters := b.pending[id]
	delete(b.pending, id)
	b.objects[id] = data
	b.mu.Unlock()

	for _, w := range waiters {
		w.deliver(&wire.Response{
			ReqID: w.reqID,
			Get:   &wire.GetResponse{Valid: true, Data: data},
		})
	}
}

func (b *Backend) count(method string) {
	b.mu.Lock()
	b.calls[method]++
	b.mu.Unlock()
}

func (b *Backend) Init(ctx context.Context, req *wire.InitRequest) (*wire.InitResponse, error) {
	b.count("Init")
	return &wire.InitResponse{OK: true}, nil
}

func (b *Backend) GetObject(ctx context.Context, clientID string, req *wire.GetRequest) (*wire.GetResponse, error) {
	b.count("GetObject")
	b.mu.Lock()
	data, ok := b.objects[req.ID]
	b.mu.Unlock()
	if !ok {
		return &wire.GetResponse{Error: fmt.Sprintf("%v: %s", backend.ErrObjectNotFound, req.ID)}, nil
	}
	return &wire.GetResponse{Valid: true, Data: data}, nil
}

func (b *Backend) AsyncGetObject(ctx context.Context, clientID string, reqID uint64, req *wire.GetRequest, deliver func(*wire.Response)) (*wire.GetResponse, error) {
	b.count("AsyncGetObject")
	b.mu.Lock()
	data, ok := b.objects[req.ID]
	if b.DeferGets || !ok {
		b.pending[req.ID] = append(b.pending[req.ID], pendingGet{clientID: clientID, reqID: reqID, deliver: deliver})
		b.mu.Unlock()
		return nil, nil
	}
	b.mu.Unlock()
	return &wire.GetResponse{Valid: true, Data: data}, nil
}

func (b *Backend) PutObject(ctx context.Context, clientID string, req *wire.PutRequest) (*wire.PutResponse, error) {
	b.count("PutObject")
	if b.FailPut != nil {
		return nil, b.FailPut
	}
	if b.PutGate != nil {
		<-b.PutGate
	}
	b.mu.Lock()
	b.nextID++
	id := fmt.Sprintf("obj-%d", b.nextID)
	b.objects[id] = req.Data
	b.mu.Unlock()
	return &wire.PutResponse{ID: id, Valid: true}, nil
}

func (b *Backend) Release(ctx context.Context, clientID string, id string) bool {
	b.count("Release")
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[id]; !ok {
		return false
	}
	b.released[clientID] = append(b.released[clientID], id)
	return true
}

func (b *Backend) ReleaseAll(ctx context.Context, clientID string) {
	b.count("ReleaseAll")
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released[clientID] = append(b.released[clientID], "*")
}

func (b *Backend) PrepRuntimeEnv(ctx context.Context, req *wire.PrepRuntimeEnvRequest) (*wire.PrepRuntimeEnvResponse, error) {
	b.count("PrepRuntimeEnv")
	return &wire.PrepRuntimeEnvResponse{}, nil
}

func (b *Backend) Shutdown(ctx context.Context) error {
	b.count("Shutdown")
	return nil
}

var _ backend.Backend = (*Backend)(nil)
