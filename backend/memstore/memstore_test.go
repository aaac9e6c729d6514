package memstore

import (
	"context"
	"strings"
	"testing"

	"github.com/datapath-io/datapath/wire"
)

func TestPutGetRoundtrip(t *testing.T) {
	s := New()
	ctx := context.Background()
	data := []byte("payload")

	putResp, err := s.PutObject(ctx, "c1", &wire.PutRequest{Data: data})
	if err != nil {
		t.Fatalf("PutObject() failed: %v", err)
	}
	if !putResp.Valid {
		t.Fatalf("PutObject() invalid: %s", putResp.Error)
	}
	if putResp.ID != ObjectID(data) {
		t.Fatalf("PutObject() id = %s, want content id %s", putResp.ID, ObjectID(data))
	}

	getResp, err := s.GetObject(ctx, "c1", &wire.GetRequest{ID: putResp.ID})
	if err != nil {
		t.Fatalf("GetObject() failed: %v", err)
	}
	if !getResp.Valid || string(getResp.Data) != string(data) {
		t.Fatalf("GetObject() = %+v, want stored payload", getResp)
	}
}

func TestGetMissingReportsInPayload(t *testing.T) {
	s := New()

	resp, err := s.GetObject(context.Background(), "c1", &wire.GetRequest{ID: "nope"})
	if err != nil {
		t.Fatalf("GetObject() returned a call error for a missing object: %v", err)
	}
	if resp.Valid {
		t.Fatal("GetObject() reported a missing object as valid")
	}
	if !strings.Contains(resp.Error, "not found") {
		t.Fatalf("GetObject() error = %q, want a not-found message", resp.Error)
	}
}

func TestReleaseDropsUnreferencedObject(t *testing.T) {
	s := New()
	ctx := context.Background()

	putResp, err := s.PutObject(ctx, "c1", &wire.PutRequest{Data: []byte("x")})
	if err != nil {
		t.Fatalf("PutObject() failed: %v", err)
	}

	if ok := s.Release(ctx, "c1", putResp.ID); !ok {
		t.Fatal("Release() = false for a held reference")
	}
	if ok := s.Release(ctx, "c1", putResp.ID); ok {
		t.Fatal("Release() = true for an already-released reference")
	}

	resp, err := s.GetObject(ctx, "c1", &wire.GetRequest{ID: putResp.ID})
	if err != nil {
		t.Fatalf("GetObject() failed: %v", err)
	}
	if resp.Valid {
		t.Fatal("object survived release of its last reference")
	}
}

func TestObjectSharedAcrossClients(t *testing.T) {
	s := New()
	ctx := context.Background()
	data := []byte("shared")

	putResp, _ := s.PutObject(ctx, "c1", &wire.PutRequest{Data: data})
	if _, err := s.PutObject(ctx, "c2", &wire.PutRequest{Data: data}); err != nil {
		t.Fatalf("second PutObject() failed: %v", err)
	}

	s.ReleaseAll(ctx, "c1")

	resp, err := s.GetObject(ctx, "c2", &wire.GetRequest{ID: putResp.ID})
	if err != nil {
		t.Fatalf("GetObject() failed: %v", err)
	}
	if !resp.Valid {
		t.Fatal("object vanished while another client still held a reference")
	}
}

func TestAsyncGetDeferredUntilPut(t *testing.T) {
	s := New()
	ctx := context.Background()
	data := []byte("later")
	id := ObjectID(data)

	delivered := make(chan *wire.Response, 1)
	resp, err := s.AsyncGetObject(ctx, "c1", 5, &wire.GetRequest{ID: id, Asynchronous: true},
		func(r *wire.Response) { delivered <- r })
	if err != nil {
		t.Fatalf("AsyncGetObject() failed: %v", err)
	}
	if resp != nil {
		t.Fatalf("AsyncGetObject() = %+v for an absent object, want deferred", resp)
	}

	if _, err := s.PutObject(ctx, "c2", &wire.PutRequest{Data: data}); err != nil {
		t.Fatalf("PutObject() failed: %v", err)
	}

	select {
	case r := <-delivered:
		if r.ReqID != 5 {
			t.Fatalf("completion req id = %d, want 5", r.ReqID)
		}
		if r.Get == nil || !r.Get.Valid || string(r.Get.Data) != string(data) {
			t.Fatalf("completion payload = %+v, want stored data", r.Get)
		}
	default:
		t.Fatal("put did not complete the deferred get")
	}
}

func TestAsyncGetImmediateWhenPresent(t *testing.T) {
	s := New()
	ctx := context.Background()
	data := []byte("now")

	putResp, _ := s.PutObject(ctx, "c1", &wire.PutRequest{Data: data})

	resp, err := s.AsyncGetObject(ctx, "c1", 1, &wire.GetRequest{ID: putResp.ID, Asynchronous: true},
		func(*wire.Response) { t.Fatal("deliver called for an immediately-available object") })
	if err != nil {
		t.Fatalf("AsyncGetObject() failed: %v", err)
	}
	if resp == nil || !resp.Valid {
		t.Fatalf("AsyncGetObject() = %+v, want immediate response", resp)
	}
}

func TestShutdownClosesStore(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() failed: %v", err)
	}
	if _, err := s.PutObject(ctx, "c1", &wire.PutRequest{Data: []byte("x")}); err != ErrClosed {
		t.Fatalf("PutObject() after Shutdown = %v, want ErrClosed", err)
	}
}
