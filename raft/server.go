package raft

import (
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/kartikbazzad/docraft/internal/applog"
	"github.com/kartikbazzad/docraft/wire"
)

// Server is the inbound TCP listener that dispatches peer RPCs (RequestVote,
// AppendEntries, and the reserved ReplicateCommand) to a Node.
type Server struct {
	addr string
	node *Node

	ln   net.Listener
	wg   sync.WaitGroup
	quit chan struct{}
}

// NewServer returns a Server that will dispatch incoming peer RPCs to node.
func NewServer(addr string, node *Node) *Server {
	return &Server{addr: addr, node: node, quit: make(chan struct{})}
}

// Start begins accepting connections in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("raft: listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	applog.Info("raft peer listener started", "addr", s.addr)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and waits for in-flight connections to finish.
func (s *Server) Stop() error {
	close(s.quit)
	if s.ln != nil {
		s.ln.Close()
	}
	s.wg.Wait()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				applog.Warn("raft accept error", "error", err)
				continue
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		header, err := wire.ReadHeader(conn)
		if err != nil {
			if err != io.EOF {
				applog.Warn("raft read header error", "error", err)
			}
			return
		}

		switch header.OpCode {
		case wire.OpRequestVote:
			var req wire.RequestVoteRequest
			if err := wire.ReadBody(conn, header.Length, &req); err != nil {
				s.sendError(conn, err)
				continue
			}
			reply := s.node.RequestVote(req)
			wire.WriteMessage(conn, wire.OpReply, reply)

		case wire.OpAppendEntries:
			var req wire.AppendEntriesRequest
			if err := wire.ReadBody(conn, header.Length, &req); err != nil {
				s.sendError(conn, err)
				continue
			}
			reply := s.node.AppendEntries(req)
			wire.WriteMessage(conn, wire.OpReply, reply)

		case wire.OpReplicateCommand:
			var req wire.ReplicateCommandRequest
			if err := wire.ReadBody(conn, header.Length, &req); err != nil {
				s.sendError(conn, err)
				continue
			}
			reply := wire.ReplicateCommandReply{
				Implemented: false,
				Message:     "leader forwarding is not implemented; submit directly to the leader",
			}
			wire.WriteMessage(conn, wire.OpReply, reply)

		default:
			io.CopyN(io.Discard, conn, int64(header.Length))
			s.sendErrorMsg(conn, fmt.Sprintf("unknown opcode %d", header.OpCode))
		}
	}
}

func (s *Server) sendError(w io.Writer, err error) {
	s.sendErrorMsg(w, err.Error())
}

func (s *Server) sendErrorMsg(w io.Writer, msg string) {
	wire.WriteMessage(w, wire.OpError, wire.Reply{Error: msg})
}
