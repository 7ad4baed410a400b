package bridge

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestPublishWithoutCallback(t *testing.T) {
	b := New(0)
	if err := b.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer b.Close()

	if b.Publish("typingPaused", "{}") {
		t.Error("expected publish to drop with no callback bound")
	}
}

func TestStartTwice(t *testing.T) {
	b := New(0)
	if err := b.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer b.Close()

	if err := b.Start(); err != ErrAlreadyRunning {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestDeliveryOrder(t *testing.T) {
	b := New(0)
	if err := b.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer b.Close()

	var mu sync.Mutex
	var got []string
	allDone := make(chan struct{})
	b.Bind(func(event, payload string) {
		mu.Lock()
		got = append(got, payload)
		n := len(got)
		mu.Unlock()
		if n == 5 {
			close(allDone)
		}
	})

	for i := 0; i < 5; i++ {
		if !b.Publish("typingPaused", fmt.Sprintf("%d", i)) {
			t.Fatalf("publish %d dropped", i)
		}
	}

	select {
	case <-allDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, p := range got {
		if p != fmt.Sprintf("%d", i) {
			t.Errorf("event %d: got payload %q", i, p)
		}
	}
	if b.Delivered() != 5 {
		t.Errorf("expected 5 delivered, got %d", b.Delivered())
	}
}

func TestRebindDiscardsQueued(t *testing.T) {
	b := New(4)
	if err := b.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer b.Close()

	gate := make(chan struct{})
	firstStarted := make(chan struct{})
	var firstMu sync.Mutex
	var firstGot []string
	b.Bind(func(event, payload string) {
		firstMu.Lock()
		firstGot = append(firstGot, payload)
		firstMu.Unlock()
		close(firstStarted)
		<-gate
	})

	// First event occupies the dispatcher inside the old callback.
	if !b.Publish("typingPaused", "e0") {
		t.Fatal("publish e0 dropped")
	}
	select {
	case <-firstStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("first callback never ran")
	}

	// Second event sits in the queue under the old registration.
	if !b.Publish("typingPaused", "e1") {
		t.Fatal("publish e1 dropped")
	}

	secondGot := make(chan string, 4)
	b.Bind(func(event, payload string) {
		secondGot <- payload
	})

	// Queued under the new registration.
	if !b.Publish("typingPaused", "e2") {
		t.Fatal("publish e2 dropped")
	}

	close(gate)

	select {
	case p := <-secondGot:
		if p != "e2" {
			t.Errorf("new callback got stale payload %q", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("new callback never ran")
	}

	// e1 must not surface anywhere.
	select {
	case p := <-secondGot:
		t.Errorf("unexpected extra delivery %q", p)
	case <-time.After(100 * time.Millisecond):
	}
	firstMu.Lock()
	defer firstMu.Unlock()
	if len(firstGot) != 1 || firstGot[0] != "e0" {
		t.Errorf("old callback received %v, want [e0]", firstGot)
	}
}

func TestCallbackPanicContained(t *testing.T) {
	b := New(0)
	if err := b.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer b.Close()

	got := make(chan string, 1)
	b.Bind(func(event, payload string) {
		if payload == "boom" {
			panic("host fault")
		}
		got <- payload
	})

	b.Publish("typingPaused", "boom")
	b.Publish("typingPaused", "ok")

	select {
	case p := <-got:
		if p != "ok" {
			t.Errorf("got payload %q, want ok", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher died after callback panic")
	}
	if b.Delivered() != 1 {
		t.Errorf("expected 1 delivered, got %d", b.Delivered())
	}
}

func TestOverflowEvictsOldest(t *testing.T) {
	b := New(2)

	var mu sync.Mutex
	var got []string
	b.Bind(func(event, payload string) {
		mu.Lock()
		got = append(got, payload)
		mu.Unlock()
	})

	// Dispatcher not started: the queue fills, then the third publish
	// evicts the first event instead of dropping itself.
	if !b.Publish("typingPaused", "a") {
		t.Fatal("publish a dropped")
	}
	if !b.Publish("typingPaused", "b") {
		t.Fatal("publish b dropped")
	}
	if !b.Publish("typingPaused", "c") {
		t.Fatal("publish c not queued")
	}
	if b.Dropped() != 1 {
		t.Errorf("expected 1 dropped, got %d", b.Dropped())
	}
	if b.Depth() != 2 {
		t.Errorf("expected depth 2, got %d", b.Depth())
	}

	if err := b.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer b.Close()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for delivery")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("delivered %v, want [b c]", got)
	}
}

func TestCloseIdempotent(t *testing.T) {
	b := New(0)
	if err := b.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}

	// Callback is unbound on close.
	if b.Publish("typingPaused", "{}") {
		t.Error("expected publish to drop after close")
	}
}

func TestUnbind(t *testing.T) {
	b := New(0)
	if err := b.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer b.Close()

	b.Bind(func(event, payload string) {})
	b.Unbind()
	if b.Publish("typingPaused", "{}") {
		t.Error("expected publish to drop after unbind")
	}
}
