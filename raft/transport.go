package raft

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kartikbazzad/docraft/internal/applog"
	"github.com/kartikbazzad/docraft/wire"
)

const (
	maxRetryAttempts = 5
	rpcTimeout       = 5 * time.Second
	circuitBreakFor  = 30 * time.Second
	outboundPoolSize = 64
)

// retryBackoff is a var rather than a const so tests can shrink it; callers
// never change it at runtime.
var retryBackoff = 1 * time.Second

// Transport is the outbound RPC client used by a Node to reach its peers. A
// single bounded ants.Pool dispatches every outbound call — vote requests
// and heartbeats alike — so a node with many peers never spawns an unbounded
// number of goroutines per election/heartbeat round.
type Transport struct {
	pool *ants.Pool

	mu        sync.Mutex
	downUntil map[string]time.Time
}

// NewTransport builds a Transport with a pool of the given size (0 selects
// the default).
func NewTransport(poolSize int) (*Transport, error) {
	if poolSize <= 0 {
		poolSize = outboundPoolSize
	}
	pool, err := ants.NewPool(poolSize, ants.WithPanicHandler(func(v interface{}) {
		applog.Error("raft transport worker panic", "panic", v)
	}))
	if err != nil {
		return nil, fmt.Errorf("raft: create outbound pool: %w", err)
	}
	return &Transport{pool: pool, downUntil: make(map[string]time.Time)}, nil
}

// Close releases the underlying pool.
func (t *Transport) Close() {
	t.pool.Release()
}

// Dispatch submits task to the pool; while every worker is busy, Submit
// waits for one to free up. If the pool rejects the task (for example after
// Close), the task runs on its own goroutine rather than being dropped — an
// outbound RPC that never fires can stall an election.
func (t *Transport) Dispatch(task func()) {
	if err := t.pool.Submit(task); err != nil {
		go task()
	}
}

// IsDown reports whether peer is presently circuit-broken.
func (t *Transport) IsDown(peer string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	until, ok := t.downUntil[peer]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(t.downUntil, peer)
		return false
	}
	return true
}

func (t *Transport) markDown(peer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.downUntil[peer] = time.Now().Add(circuitBreakFor)
}

func (t *Transport) clearDown(peer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.downUntil, peer)
}

// SendRequestVote dials peer and performs the RequestVote RPC, making up to
// maxRetryAttempts attempts in total with a fixed 1s back-off between them
// and a 5s per-attempt timeout. Exhausting all attempts marks the peer
// circuit-broken.
func (t *Transport) SendRequestVote(peer string, req wire.RequestVoteRequest) (wire.RequestVoteReply, error) {
	var reply wire.RequestVoteReply
	err := t.call(peer, func() error {
		r, err := dialAndCall(peer, wire.OpRequestVote, req)
		if err != nil {
			return err
		}
		reply = r.(wire.RequestVoteReply)
		return nil
	})
	return reply, err
}

// SendAppendEntries dials peer and performs the AppendEntries RPC (heartbeat
// or log replication), with the same retry/circuit-break policy as
// SendRequestVote.
func (t *Transport) SendAppendEntries(peer string, req wire.AppendEntriesRequest) (wire.AppendEntriesReply, error) {
	var reply wire.AppendEntriesReply
	err := t.call(peer, func() error {
		r, err := dialAndCall(peer, wire.OpAppendEntries, req)
		if err != nil {
			return err
		}
		reply = r.(wire.AppendEntriesReply)
		return nil
	})
	return reply, err
}

// call runs attempt up to maxRetryAttempts times total, with retryBackoff
// between attempts, clearing/marking the circuit breaker on
// success/exhaustion.
func (t *Transport) call(peer string, attempt func() error) error {
	var lastErr error
	for i := 0; i < maxRetryAttempts; i++ {
		lastErr = attempt()
		if lastErr == nil {
			t.clearDown(peer)
			return nil
		}
		if i < maxRetryAttempts-1 {
			time.Sleep(retryBackoff)
		}
	}
	t.markDown(peer)
	return lastErr
}

// dialAndCall is a one-shot TCP round trip: dial, write the framed request,
// read the framed reply. It returns the decoded reply as the dynamic type
// matching op (wire.RequestVoteReply or wire.AppendEntriesReply) so the two
// SendXxx methods above share one implementation.
func dialAndCall(peer string, op wire.OpCode, req interface{}) (interface{}, error) {
	conn, err := net.DialTimeout("tcp", peer, rpcTimeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(rpcTimeout))

	if err := wire.WriteMessage(conn, op, req); err != nil {
		return nil, err
	}

	header, err := wire.ReadHeader(conn)
	if err != nil {
		return nil, err
	}
	if header.OpCode == wire.OpError {
		var errReply wire.Reply
		if err := wire.ReadBody(conn, header.Length, &errReply); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("raft: rpc error from %s: %s", peer, errReply.Error)
	}

	switch req.(type) {
	case wire.RequestVoteRequest:
		var reply wire.RequestVoteReply
		if err := wire.ReadBody(conn, header.Length, &reply); err != nil {
			return nil, err
		}
		return reply, nil
	case wire.AppendEntriesRequest:
		var reply wire.AppendEntriesReply
		if err := wire.ReadBody(conn, header.Length, &reply); err != nil {
			return nil, err
		}
		return reply, nil
	default:
		return nil, fmt.Errorf("raft: unsupported request type %T", req)
	}
}
