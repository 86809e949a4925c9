package raft

import "github.com/kartikbazzad/docraft/wire"

// raftLog is the in-memory replicated log: 0-based and dense, matching
// spec.md §3's literal definition of index (the first entry ever appended
// is index 0). An empty log has no last entry, reported as index -1. Only
// the leader appends directly; followers append/truncate in response to
// AppendEntries, per the standard Raft consistency check
// (truncateAndAppend).
type raftLog struct {
	entries []wire.LogEntry
}

// lastIndexAndTerm returns (-1, 0) for an empty log.
func (l *raftLog) lastIndexAndTerm() (int64, uint64) {
	if len(l.entries) == 0 {
		return -1, 0
	}
	last := l.entries[len(l.entries)-1]
	return last.Index, last.Term
}

// get returns the entry at the given 0-based index, if present.
func (l *raftLog) get(index int64) (wire.LogEntry, bool) {
	if index < 0 || index >= int64(len(l.entries)) {
		return wire.LogEntry{}, false
	}
	return l.entries[index], true
}

// termAt returns 0 for an out-of-range index, including -1, the sentinel
// for "no previous entry".
func (l *raftLog) termAt(index int64) uint64 {
	e, ok := l.get(index)
	if !ok {
		return 0
	}
	return e.Term
}

// append adds entry to the end of the log, assigning it the next 0-based
// index. Only called by the leader.
func (l *raftLog) append(term uint64, command wire.Command) wire.LogEntry {
	e := wire.LogEntry{
		Term:      term,
		Index:     int64(len(l.entries)),
		Command:   command,
		Timestamp: command.Timestamp,
	}
	l.entries = append(l.entries, e)
	return e
}

// truncateAndAppend drops any entry at or after the first conflicting index
// in newEntries (same index, different term) and appends the rest, per
// standard AppendEntries handling (spec.md §9's redesign flag: followers
// truncate the conflicting suffix and append).
func (l *raftLog) truncateAndAppend(newEntries []wire.LogEntry) {
	for _, e := range newEntries {
		existing, ok := l.get(e.Index)
		switch {
		case ok && existing.Term == e.Term:
			continue
		case ok:
			l.entries = l.entries[:e.Index]
			l.entries = append(l.entries, e)
		default:
			l.entries = append(l.entries, e)
		}
	}
}

func (l *raftLog) length() int {
	return len(l.entries)
}

// slice returns entries with 0-based index >= from.
func (l *raftLog) slice(from int64) []wire.LogEntry {
	if from < 0 {
		from = 0
	}
	if from >= int64(len(l.entries)) {
		return nil
	}
	out := make([]wire.LogEntry, len(l.entries)-int(from))
	copy(out, l.entries[from:])
	return out
}
