// Package queue implements the shared intake queue between a connection's
// stream reader and its dispatch loop. The queue is unbounded so that slow
// backend calls can never block network reads, and it carries both raw
// inbound requests and pre-built responses injected by asynchronous backend
// completions, plus an end-of-stream sentinel.
package queue

import (
	"sync"

	ring "github.com/eapache/queue"

	"github.com/datapath-io/datapath/wire"
)

// ItemKind discriminates the queue's sum type.
type ItemKind int

const (
	// ItemRequest is a raw inbound request from the stream reader.
	ItemRequest ItemKind = iota
	// ItemResponse is a pre-built outbound response injected by an
	// asynchronous backend completion.
	ItemResponse
	// ItemEndOfStream is the sentinel pushed when the producer finishes; it
	// distinguishes "empty, more coming" from "producer done".
	ItemEndOfStream
)

// Item is one element of the intake queue. Exactly one of Req or Resp is set
// for the request/response kinds; both are nil for the sentinel.
type Item struct {
	Kind ItemKind
	Req  *wire.Request
	Resp *wire.Response
}

// Queue is an unbounded multi-producer, single-consumer FIFO with a blocking
// Pop.
type Queue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items *ring.Queue
}

func New() *Queue {
	q := &Queue{items: ring.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// PushRequest enqueues a raw inbound request.
func (q *Queue) PushRequest(req *wire.Request) {
	q.push(Item{Kind: ItemRequest, Req: req})
}

// PushResponse enqueues a completed response for direct emission.
func (q *Queue) PushResponse(resp *wire.Response) {
	q.push(Item{Kind: ItemResponse, Resp: resp})
}

// PushEndOfStream enqueues the producer-finished sentinel.
func (q *Queue) PushEndOfStream() {
	q.push(Item{Kind: ItemEndOfStream})
}

func (q *Queue) push(it Item) {
	q.mu.Lock()
	q.items.Add(it)
	q.mu.Unlock()
	q.cond.Signal()
}

// Pop blocks until an item is available and returns it in FIFO order.
func (q *Queue) Pop() Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Length() == 0 {
		q.cond.Wait()
	}
	return q.items.Remove().(Item)
}

// Len reports the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}
