package agent

import (
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/mirrorfs/go-mirrorfs/channel"
	"github.com/mirrorfs/go-mirrorfs/pkg/unixsocket"
	"github.com/mirrorfs/go-mirrorfs/proto"
)

// Agent accepts client connections and serves each one as an isolated
// session
type Agent struct {
	resolver *Resolver
	readOnly bool
	log      *zap.Logger
}

// New creates an Agent serving files under the given mapping
func New(mapping PathMapping, readOnly bool, log *zap.Logger) *Agent {
	return &Agent{
		resolver: NewResolver(mapping),
		readOnly: readOnly,
		log:      log,
	}
}

// Serve accepts connections until the listener closes
func (a *Agent) Serve(l *unixsocket.Listener) error {
	for {
		s, err := l.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("serve: accept %w", err)
		}
		srv := a.newSessionServer(channel.NewConn(s))
		go srv.serve()
	}
}

// ServeConn serves a single established connection; used directly in
// tests and by socketpair bootstraps
func (a *Agent) ServeConn(conn *channel.Conn) {
	a.newSessionServer(conn).serve()
}

// sessionServer pumps one session's channel: a receive loop dispatches
// requests, handlers run concurrently (per-handle serialization lives in
// the session), and a single send loop writes replies back
type sessionServer struct {
	conn    *channel.Conn
	session *Session
	log     *zap.Logger

	sendCh   chan *proto.Reply
	done     chan struct{}
	doneOnce sync.Once

	wg sync.WaitGroup
}

func (a *Agent) newSessionServer(conn *channel.Conn) *sessionServer {
	session := NewSession(a.resolver, a.readOnly, a.log)
	return &sessionServer{
		conn:    conn,
		session: session,
		log:     a.log.With(zap.String("session", session.ID)),
		sendCh:  make(chan *proto.Reply, 1),
		done:    make(chan struct{}),
	}
}

func (s *sessionServer) serve() {
	s.log.Info("session started")
	go s.sendLoop()
	s.recvLoop()

	// all in-flight handlers finish before handles are released
	s.wg.Wait()
	s.session.Teardown()
	s.conn.Close()
	s.log.Info("session closed")
}

func (s *sessionServer) recvLoop() {
	for {
		var req proto.Request
		if err := s.conn.Recv(&req); err != nil {
			s.channelError(err)
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.send(s.handle(&req))
		}()
	}
}

func (s *sessionServer) sendLoop() {
	for {
		select {
		case <-s.done:
			return
		case reply := <-s.sendCh:
			if err := s.conn.Send(reply); err != nil {
				s.channelError(err)
				return
			}
		}
	}
}

func (s *sessionServer) send(reply *proto.Reply) {
	select {
	case s.sendCh <- reply:
	case <-s.done:
	}
}

func (s *sessionServer) channelError(err error) {
	s.doneOnce.Do(func() {
		s.log.Debug("session channel closed", zap.Error(err))
		close(s.done)
	})
}

// handle dispatches one request to the session and shapes the reply
func (s *sessionServer) handle(req *proto.Request) *proto.Reply {
	reply := &proto.Reply{Seq: req.Seq}
	switch req.Op {
	case proto.OpPing:
		// liveness only

	case proto.OpOpen:
		if req.Open == nil {
			return s.malformed(reply, req.Op)
		}
		r, err := s.session.Open(req.Open.Path, req.Open.Flags, req.Open.Perm)
		reply.Open, reply.Error = r, wireError(err)

	case proto.OpRead:
		if req.Read == nil {
			return s.malformed(reply, req.Op)
		}
		r, err := s.session.Read(req.Read.Handle, req.Read.MaxBytes)
		reply.Read, reply.Error = r, wireError(err)

	case proto.OpWrite:
		if req.Write == nil {
			return s.malformed(reply, req.Op)
		}
		r, err := s.session.Write(req.Write.Handle, req.Write.Data)
		reply.Write, reply.Error = r, wireError(err)

	case proto.OpSeek:
		if req.Seek == nil {
			return s.malformed(reply, req.Op)
		}
		r, err := s.session.Seek(req.Seek.Handle, req.Seek.Offset, req.Seek.Whence)
		reply.Seek, reply.Error = r, wireError(err)

	case proto.OpStat:
		if req.Stat == nil {
			return s.malformed(reply, req.Op)
		}
		r, err := s.session.Stat(req.Stat)
		reply.Stat, reply.Error = r, wireError(err)

	case proto.OpList:
		if req.List == nil {
			return s.malformed(reply, req.Op)
		}
		r, err := s.session.List(req.List.Handle, req.List.MaxEntries)
		reply.List, reply.Error = r, wireError(err)

	case proto.OpClose:
		if req.Close == nil {
			return s.malformed(reply, req.Op)
		}
		reply.Close = s.session.Close(req.Close.Handle)

	default:
		reply.Error = proto.NewError(proto.KindUnsupported, "unknown op %d", req.Op)
	}
	return reply
}

func (s *sessionServer) malformed(reply *proto.Reply, op proto.Op) *proto.Reply {
	reply.Error = proto.NewError(proto.KindUnsupported, "%s: missing argument", op)
	return reply
}

// wireError narrows an operation error to the wire shape
func wireError(err error) *proto.Error {
	if err == nil {
		return nil
	}
	return proto.WrapError("agent", err)
}
