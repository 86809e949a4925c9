package raft

import (
	"testing"
	"time"
)

func TestTransportCircuitBreakerMarksAndClearsDown(t *testing.T) {
	tr, err := NewTransport(4)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	defer tr.Close()

	if tr.IsDown("peer1") {
		t.Fatalf("peer1 should not be down initially")
	}

	tr.markDown("peer1")
	if !tr.IsDown("peer1") {
		t.Fatalf("peer1 should be down after markDown")
	}

	tr.clearDown("peer1")
	if tr.IsDown("peer1") {
		t.Fatalf("peer1 should not be down after clearDown")
	}
}

func TestTransportCircuitBreakerExpires(t *testing.T) {
	tr, err := NewTransport(4)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	defer tr.Close()

	tr.mu.Lock()
	tr.downUntil["peer1"] = time.Now().Add(-time.Second)
	tr.mu.Unlock()

	if tr.IsDown("peer1") {
		t.Fatalf("a circuit break whose deadline has passed should report not-down")
	}
}

func TestTransportDispatchRunsTask(t *testing.T) {
	tr, err := NewTransport(2)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	defer tr.Close()

	done := make(chan struct{})
	tr.Dispatch(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatched task did not run")
	}
}

func TestTransportCallRetriesThenMarksDown(t *testing.T) {
	tr, err := NewTransport(2)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	defer tr.Close()

	origBackoff := retryBackoff
	retryBackoff = time.Millisecond
	defer func() { retryBackoff = origBackoff }()

	attempts := 0
	err = tr.call("peer1", func() error {
		attempts++
		return errTransportTest
	})

	if err == nil {
		t.Fatalf("expected call to return the last error after exhausting retries")
	}
	if attempts != maxRetryAttempts {
		t.Fatalf("attempts = %d, want %d", attempts, maxRetryAttempts)
	}
	if !tr.IsDown("peer1") {
		t.Fatalf("peer1 should be circuit-broken after exhausting retries")
	}
}

var errTransportTest = &testError{"simulated dial failure"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
