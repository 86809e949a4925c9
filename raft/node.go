// Package raft implements the consensus engine that replicates commands
// across docraft server replicas: role state machine, leader election,
// heartbeat/log replication, and the apply loop that drives a deterministic
// state machine from the committed log.
package raft

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/kartikbazzad/docraft/internal/applog"
	"github.com/kartikbazzad/docraft/internal/apperrors"
	"github.com/kartikbazzad/docraft/wire"
)

// State is the role of a Node.
type State int

const (
	Follower State = iota
	Candidate
	Leader
)

func (s State) String() string {
	switch s {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	}
	return "unknown"
}

const (
	electionTimeoutMinMs = 2000
	electionTimeoutMaxMs = 4000
	heartbeatIntervalMs  = 500
	applyLoopIntervalMs  = 10
)

// StateMachine is the interface the apply loop drives with committed
// commands. fsm.StateMachine satisfies it.
type StateMachine interface {
	Apply(cmd wire.Command) (interface{}, error)
}

// RPCClient is what Node needs from the outbound transport. Transport
// satisfies it; tests substitute a fake.
type RPCClient interface {
	SendRequestVote(peer string, req wire.RequestVoteRequest) (wire.RequestVoteReply, error)
	SendAppendEntries(peer string, req wire.AppendEntriesRequest) (wire.AppendEntriesReply, error)
	IsDown(peer string) bool
	Dispatch(task func())
}

// Config controls one Node's behavior.
type Config struct {
	ServerID string
	Peers    []string

	// AllowAllDownPromotion implements the liveness shortcut observed in the
	// source: when every peer is circuit-broken and the cluster is not a
	// singleton, a candidate promotes itself to leader without a quorum.
	// This trades strict majority safety for availability during a total
	// partition. The zero value leaves it off; docraftd sets it to true to
	// match the source's observed behavior.
	AllowAllDownPromotion bool
}

// pendingWaiter is parked by Submit until its entry's index is applied.
type pendingWaiter struct {
	index  int64
	result chan applyOutcome
}

type applyOutcome struct {
	value interface{}
	err   error
}

// Node is one replica's consensus participant. All consensus fields are
// guarded by a single, never-reentered mutex (mu); every method that must
// call another locking method releases the lock first.
type Node struct {
	mu sync.Mutex

	id    string
	peers []string
	cfg   Config

	currentTerm   uint64
	votedFor      string
	log           raftLog
	commitIndex   int64
	lastApplied   int64
	state         State
	leaderID      string
	votesReceived int

	nextIndex  map[string]int64
	matchIndex map[string]int64

	rpc RPCClient
	fsm StateMachine

	electionTimer *time.Timer
	running       bool
	stopCh        chan struct{}

	waiters []*pendingWaiter
}

// NewNode builds a Node in the Follower state. Start must be called to begin
// running its timers and apply loop.
func NewNode(cfg Config, rpc RPCClient, fsm StateMachine) *Node {
	return &Node{
		id:          cfg.ServerID,
		peers:       cfg.Peers,
		cfg:         cfg,
		state:       Follower,
		rpc:         rpc,
		fsm:         fsm,
		commitIndex: -1,
		lastApplied: -1,
		nextIndex:   make(map[string]int64),
		matchIndex:  make(map[string]int64),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the election timer and the apply loop.
func (n *Node) Start() {
	n.mu.Lock()
	n.running = true
	n.resetElectionTimerLocked()
	n.mu.Unlock()

	go n.applyLoop()
}

// Stop halts the node. Background tasks observe it at their next tick.
func (n *Node) Stop() {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	n.running = false
	if n.electionTimer != nil {
		n.electionTimer.Stop()
	}
	n.mu.Unlock()
	close(n.stopCh)
}

func (n *Node) resetElectionTimerLocked() {
	if n.electionTimer != nil {
		n.electionTimer.Stop()
	}
	span := electionTimeoutMaxMs - electionTimeoutMinMs
	d := time.Duration(electionTimeoutMinMs+rand.Intn(span)) * time.Millisecond
	n.electionTimer = time.AfterFunc(d, n.onElectionTimeout)
}

func (n *Node) onElectionTimeout() {
	n.mu.Lock()
	if !n.running || n.state == Leader {
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()
	n.startElection()
}

// Submit appends command to the log (leader only), then blocks until it is
// committed and applied, returning the state machine's result. On a
// singleton cluster (no configured peers), the entry commits immediately.
func (n *Node) Submit(command wire.Command) (interface{}, error) {
	n.mu.Lock()
	if n.state != Leader {
		leaderID := n.leaderID
		n.mu.Unlock()
		return nil, apperrors.NotLeader(leaderID)
	}

	entry := n.log.append(n.currentTerm, command)

	if len(n.peers) == 0 {
		n.commitIndex = entry.Index
	}

	waiter := &pendingWaiter{index: entry.Index, result: make(chan applyOutcome, 1)}
	n.waiters = append(n.waiters, waiter)
	running := n.running
	n.mu.Unlock()

	if !running {
		return nil, fmt.Errorf("raft: node stopped before submit completed")
	}

	select {
	case outcome := <-waiter.result:
		return outcome.value, outcome.err
	case <-n.stopCh:
		return nil, fmt.Errorf("raft: node stopped while awaiting commit")
	}
}

// applyLoop is the dedicated task that advances lastApplied as commitIndex
// grows, handing each newly committed command to the state machine exactly
// once, in log order, and waking any Submit callers parked on that index.
func (n *Node) applyLoop() {
	ticker := time.NewTicker(applyLoopIntervalMs * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.applyReady()
		}
	}
}

func (n *Node) applyReady() {
	for {
		n.mu.Lock()
		if n.lastApplied >= n.commitIndex {
			n.mu.Unlock()
			return
		}
		n.lastApplied++
		entry, ok := n.log.get(n.lastApplied)
		n.mu.Unlock()
		if !ok {
			continue
		}

		value, err := n.fsm.Apply(entry.Command)
		if err != nil {
			applog.Error("command apply failed", "server_id", n.id, "index", entry.Index, "error", err)
		}

		n.mu.Lock()
		remaining := n.waiters[:0]
		for _, w := range n.waiters {
			if w.index == entry.Index {
				w.result <- applyOutcome{value: value, err: err}
				continue
			}
			remaining = append(remaining, w)
		}
		n.waiters = remaining
		n.mu.Unlock()
	}
}

// ServerStatus returns the fields documented for the status surface.
type ServerStatus struct {
	ServerID    string `json:"server_id"`
	State       string `json:"state"`
	CurrentTerm uint64 `json:"current_term"`
	LeaderID    string `json:"leader_id"`
	CommitIndex int64  `json:"commit_index"`
	LastApplied int64  `json:"last_applied"`
	LogLength   int    `json:"log_length"`
}

// Status reports this node's current consensus state.
func (n *Node) Status() ServerStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return ServerStatus{
		ServerID:    n.id,
		State:       n.state.String(),
		CurrentTerm: n.currentTerm,
		LeaderID:    n.leaderID,
		CommitIndex: n.commitIndex,
		LastApplied: n.lastApplied,
		LogLength:   n.log.length(),
	}
}

func (n *Node) getLastLogInfoLocked() (int64, uint64) {
	return n.log.lastIndexAndTerm()
}
