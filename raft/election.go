package raft

import (
	"github.com/kartikbazzad/docraft/internal/applog"
	"github.com/kartikbazzad/docraft/wire"
)

// startElection transitions to Candidate, votes for self, and solicits
// votes from every peer that isn't currently circuit-broken.
func (n *Node) startElection() {
	n.mu.Lock()
	if !n.running || n.state == Leader {
		n.mu.Unlock()
		return
	}

	n.state = Candidate
	n.currentTerm++
	n.votedFor = n.id
	n.votesReceived = 1
	n.leaderID = ""
	n.resetElectionTimerLocked()

	term := n.currentTerm
	lastIdx, lastTerm := n.getLastLogInfoLocked()
	peers := append([]string(nil), n.peers...)

	allDown := n.cfg.AllowAllDownPromotion && len(peers) > 0
	for _, p := range peers {
		if !n.rpc.IsDown(p) {
			allDown = false
			break
		}
	}
	n.mu.Unlock()

	if len(peers) == 0 {
		// Singleton cluster: the candidate's own vote is already a
		// majority of one.
		n.becomeLeader(term)
		return
	}

	if allDown {
		// Liveness shortcut: every peer is known-down and promotion is
		// allowed by config. Violates strict majority safety by design —
		// see Config.AllowAllDownPromotion.
		applog.Warn("all peers circuit-broken, promoting without quorum", "server_id", n.id, "term", term)
		n.becomeLeader(term)
		return
	}

	req := wire.RequestVoteRequest{
		Term:         term,
		CandidateID:  n.id,
		LastLogIndex: lastIdx,
		LastLogTerm:  lastTerm,
	}

	for _, peer := range peers {
		peer := peer
		if n.rpc.IsDown(peer) {
			continue
		}
		n.rpc.Dispatch(func() {
			n.sendVoteRequest(peer, req, term)
		})
	}
}

func (n *Node) sendVoteRequest(peer string, req wire.RequestVoteRequest, term uint64) {
	reply, err := n.rpc.SendRequestVote(peer, req)
	if err != nil {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != Candidate || n.currentTerm != term {
		return
	}
	if reply.Term > n.currentTerm {
		n.stepDownLocked(reply.Term)
		return
	}
	if !reply.VoteGranted {
		return
	}

	n.votesReceived++
	majority := (len(n.peers)+1)/2 + 1
	if n.votesReceived >= majority {
		n.mu.Unlock()
		n.becomeLeader(term)
		n.mu.Lock()
	}
}

// becomeLeader transitions to Leader for the given term, if the node is
// still a candidate in that term, and starts the heartbeat loop.
func (n *Node) becomeLeader(term uint64) {
	n.mu.Lock()
	if n.state != Candidate || n.currentTerm != term {
		n.mu.Unlock()
		return
	}
	n.state = Leader
	n.leaderID = n.id
	if n.electionTimer != nil {
		n.electionTimer.Stop()
	}

	lastIdx, _ := n.getLastLogInfoLocked()
	n.nextIndex = make(map[string]int64, len(n.peers))
	n.matchIndex = make(map[string]int64, len(n.peers))
	for _, p := range n.peers {
		n.nextIndex[p] = lastIdx + 1
		n.matchIndex[p] = -1
	}
	n.mu.Unlock()

	applog.Info("became leader", "server_id", n.id, "term", term)
	go n.heartbeatLoop(term)
}

// stepDownLocked adopts a higher term seen from an RPC reply or request and
// reverts to Follower. Caller must hold n.mu.
func (n *Node) stepDownLocked(term uint64) {
	n.currentTerm = term
	n.state = Follower
	n.votedFor = ""
	n.resetElectionTimerLocked()
}

// RequestVote handles an incoming vote request from a candidate.
func (n *Node) RequestVote(req wire.RequestVoteRequest) wire.RequestVoteReply {
	n.mu.Lock()
	defer n.mu.Unlock()

	reply := wire.RequestVoteReply{ServerID: n.id, Term: n.currentTerm}

	if req.Term < n.currentTerm {
		return reply
	}
	if req.Term > n.currentTerm {
		n.stepDownLocked(req.Term)
		reply.Term = n.currentTerm
	}

	lastIdx, lastTerm := n.getLastLogInfoLocked()
	upToDate := req.LastLogTerm > lastTerm || (req.LastLogTerm == lastTerm && req.LastLogIndex >= lastIdx)

	if (n.votedFor == "" || n.votedFor == req.CandidateID) && upToDate {
		n.votedFor = req.CandidateID
		n.resetElectionTimerLocked()
		reply.VoteGranted = true
		reply.Term = n.currentTerm
	}
	return reply
}
