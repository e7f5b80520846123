package server

import (
	"context"
	"sync"
	"testing"
)

func TestDispatchQueuePreservesOrder(t *testing.T) {
	q := NewDispatchQueue(8)
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)

	const n = 200
	var mu sync.Mutex
	var got []int
	done := make(chan struct{})

	for i := 0; i < n; i++ {
		i := i
		q.Submit(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == n-1 {
				close(done)
			}
		})
	}

	<-done
	cancel()
	q.Stop()

	if len(got) != n {
		t.Fatalf("ran %d tasks, want %d", len(got), n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran out of order (got %d)", i, v)
		}
	}
}

func TestRegistryBindingSemantics(t *testing.T) {
	r := NewRegistry()
	a := &fakeEndpoint{id: 1}
	b := &fakeEndpoint{id: 2}

	r.Bind("u1", a)
	if got, ok := r.Lookup("u1"); !ok || got != a {
		t.Fatal("first bind not visible")
	}

	// Re-binding supersedes silently.
	r.Bind("u1", b)
	if got, _ := r.Lookup("u1"); got != b {
		t.Fatal("second bind did not supersede")
	}

	// Unbinding with the stale session is a no-op.
	r.Unbind("u1", a)
	if got, ok := r.Lookup("u1"); !ok || got != b {
		t.Fatal("stale unbind removed the live binding")
	}

	r.Unbind("u1", b)
	if _, ok := r.Lookup("u1"); ok {
		t.Fatal("binding survived owner unbind")
	}
}

type fakeEndpoint struct {
	id uint64
}

func (f *fakeEndpoint) ConnID() uint64               { return f.id }
func (f *fakeEndpoint) UserID() string               { return "" }
func (f *fakeEndpoint) Username() string             { return "" }
func (f *fakeEndpoint) Bind(userID, username string) {}
func (f *fakeEndpoint) Send(v any) bool              { return true }
