package raft

import (
	"time"

	"github.com/kartikbazzad/docraft/wire"
)

// AppendEntries handles a heartbeat/log-replication request from the
// current leader.
func (n *Node) AppendEntries(req wire.AppendEntriesRequest) wire.AppendEntriesReply {
	n.mu.Lock()
	defer n.mu.Unlock()

	reply := wire.AppendEntriesReply{ServerID: n.id, Term: n.currentTerm}

	if req.Term < n.currentTerm {
		return reply
	}

	// A valid leader for our term (or newer): reset the election timer and
	// adopt the leader's term if it is ahead of ours.
	n.resetElectionTimerLocked()
	if req.Term > n.currentTerm {
		n.currentTerm = req.Term
		n.votedFor = ""
	}
	n.state = Follower
	n.leaderID = req.LeaderID

	if req.PrevLogIndex >= 0 {
		lastIdx, _ := n.getLastLogInfoLocked()
		if lastIdx < req.PrevLogIndex {
			reply.Term = n.currentTerm
			return reply
		}
		if n.log.termAt(req.PrevLogIndex) != req.PrevLogTerm {
			reply.Term = n.currentTerm
			return reply
		}
	}

	n.log.truncateAndAppend(req.Entries)

	if req.CommitIndex > n.commitIndex {
		lastIdx, _ := n.getLastLogInfoLocked()
		if req.CommitIndex < lastIdx {
			n.commitIndex = req.CommitIndex
		} else {
			n.commitIndex = lastIdx
		}
	}

	reply.Success = true
	reply.Term = n.currentTerm
	reply.LastApplied = n.lastApplied
	return reply
}

// heartbeatLoop fires AppendEntries to every peer every heartbeatIntervalMs
// while this node remains leader of term. It exits as soon as the node
// steps down from that term.
func (n *Node) heartbeatLoop(term uint64) {
	ticker := time.NewTicker(heartbeatIntervalMs * time.Millisecond)
	defer ticker.Stop()

	n.broadcastAppendEntries(term)
	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.mu.Lock()
			stillLeader := n.state == Leader && n.currentTerm == term
			n.mu.Unlock()
			if !stillLeader {
				return
			}
			n.broadcastAppendEntries(term)
		}
	}
}

func (n *Node) broadcastAppendEntries(term uint64) {
	n.mu.Lock()
	peers := append([]string(nil), n.peers...)
	n.mu.Unlock()

	for _, peer := range peers {
		peer := peer
		n.rpc.Dispatch(func() {
			n.sendAppendEntriesTo(peer, term)
		})
	}
}

func (n *Node) sendAppendEntriesTo(peer string, term uint64) {
	n.mu.Lock()
	if n.state != Leader || n.currentTerm != term {
		n.mu.Unlock()
		return
	}
	nextIdx := n.nextIndex[peer]
	prevLogIndex := nextIdx - 1
	prevLogTerm := n.log.termAt(prevLogIndex)
	entries := n.log.slice(nextIdx)
	commitIndex := n.commitIndex
	n.mu.Unlock()

	req := wire.AppendEntriesRequest{
		Term:         term,
		LeaderID:     n.id,
		PrevLogIndex: prevLogIndex,
		PrevLogTerm:  prevLogTerm,
		Entries:      entries,
		CommitIndex:  commitIndex,
	}

	reply, err := n.rpc.SendAppendEntries(peer, req)
	if err != nil {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != Leader || n.currentTerm != term {
		return
	}
	if reply.Term > n.currentTerm {
		n.stepDownLocked(reply.Term)
		return
	}

	if reply.Success {
		if len(entries) > 0 {
			last := entries[len(entries)-1]
			n.matchIndex[peer] = last.Index
			n.nextIndex[peer] = last.Index + 1
			n.updateCommitIndexLocked()
		}
		return
	}

	if n.nextIndex[peer] > 0 {
		n.nextIndex[peer]--
	}
}

// updateCommitIndexLocked advances commitIndex to the largest N greater
// than the current value such that log[N].term == currentTerm and N is
// replicated on a majority (counting self). Caller must hold n.mu.
func (n *Node) updateCommitIndexLocked() {
	lastIdx, _ := n.getLastLogInfoLocked()
	for N := lastIdx; N > n.commitIndex; N-- {
		if n.log.termAt(N) != n.currentTerm {
			continue
		}
		count := 1
		for _, peer := range n.peers {
			if n.matchIndex[peer] >= N {
				count++
			}
		}
		if count > (len(n.peers)+1)/2 {
			n.commitIndex = N
			return
		}
	}
}
