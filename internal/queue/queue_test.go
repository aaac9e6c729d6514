package queue

import (
	"testing"
	"time"

	"github.com/datapath-io/datapath/wire"
)

func TestFIFOOrder(t *testing.T) {
	q := New()
	for i := uint64(1); i <= 3; i++ {
		q.PushRequest(&wire.Request{ReqID: i})
	}

	for i := uint64(1); i <= 3; i++ {
		it := q.Pop()
		if it.Kind != ItemRequest {
			t.Fatalf("Pop() kind = %v, want ItemRequest", it.Kind)
		}
		if it.Req.ReqID != i {
			t.Fatalf("Pop() req id = %d, want %d", it.Req.ReqID, i)
		}
	}
}

func TestMixedItems(t *testing.T) {
	q := New()
	q.PushRequest(&wire.Request{ReqID: 1})
	q.PushResponse(&wire.Response{ReqID: 9})
	q.PushEndOfStream()

	if it := q.Pop(); it.Kind != ItemRequest || it.Resp != nil {
		t.Fatalf("first item = %+v, want request", it)
	}
	if it := q.Pop(); it.Kind != ItemResponse || it.Resp.ReqID != 9 {
		t.Fatalf("second item = %+v, want injected response 9", it)
	}
	if it := q.Pop(); it.Kind != ItemEndOfStream || it.Req != nil || it.Resp != nil {
		t.Fatalf("third item = %+v, want end-of-stream sentinel", it)
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New()
	got := make(chan Item, 1)

	go func() { got <- q.Pop() }()

	select {
	case it := <-got:
		t.Fatalf("Pop() returned %+v before any push", it)
	case <-time.After(50 * time.Millisecond):
	}

	q.PushRequest(&wire.Request{ReqID: 42})

	select {
	case it := <-got:
		if it.Req.ReqID != 42 {
			t.Fatalf("Pop() req id = %d, want 42", it.Req.ReqID)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop() did not wake after push")
	}
}

func TestConcurrentProducers(t *testing.T) {
	q := New()
	const perProducer = 100

	for p := 0; p < 4; p++ {
		go func() {
			for i := 0; i < perProducer; i++ {
				q.PushRequest(&wire.Request{ReqID: 1})
			}
		}()
	}

	deadline := time.After(5 * time.Second)
	for n := 0; n < 4*perProducer; n++ {
		done := make(chan struct{})
		go func() {
			q.Pop()
			close(done)
		}()
		select {
		case <-done:
		case <-deadline:
			t.Fatalf("stalled after %d items", n)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("Len() = %d after draining, want 0", q.Len())
	}
}
