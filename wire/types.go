package wire

// RequestVoteRequest is invoked by candidates to gather votes. LastLogIndex
// is -1 for a candidate whose log is still empty.
type RequestVoteRequest struct {
	Term         uint64 `json:"term"`
	CandidateID  string `json:"candidate_id"`
	LastLogIndex int64  `json:"last_log_index"`
	LastLogTerm  uint64 `json:"last_log_term"`
}

// RequestVoteReply is the response to RequestVoteRequest.
type RequestVoteReply struct {
	ServerID    string `json:"server_id"`
	Term        uint64 `json:"term"`
	VoteGranted bool   `json:"vote_granted"`
}

// AppendEntriesRequest is the heartbeat/log-replication RPC sent by the
// leader. PrevLogIndex is -1 when the leader's log is still empty (no prior
// entry to check consistency against).
type AppendEntriesRequest struct {
	Term         uint64     `json:"term"`
	LeaderID     string     `json:"leader_id"`
	PrevLogIndex int64      `json:"prev_log_index"`
	PrevLogTerm  uint64     `json:"prev_log_term"`
	Entries      []LogEntry `json:"entries"`
	CommitIndex  int64      `json:"commit_index"`
}

// AppendEntriesReply is the response to AppendEntriesRequest.
type AppendEntriesReply struct {
	ServerID    string `json:"server_id"`
	Term        uint64 `json:"term"`
	Success     bool   `json:"success"`
	LastApplied int64  `json:"last_applied"`
}

// ReplicateCommandRequest is reserved for follower-to-leader forwarding of
// writes. Forwarding is not implemented (spec defers this to future work);
// the RPC exists so the wire contract is complete and callers get a typed
// "not implemented" reply instead of silence.
type ReplicateCommandRequest struct {
	Command Command `json:"command"`
}

// ReplicateCommandReply carries the forwarding outcome, or Implemented=false
// when the receiving node does not support forwarding.
type ReplicateCommandReply struct {
	Implemented bool   `json:"implemented"`
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	LeaderID    string `json:"leader_id,omitempty"`
}
