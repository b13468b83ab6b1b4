package channel

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mirrorfs/go-mirrorfs/pkg/unixsocket"
	"github.com/mirrorfs/go-mirrorfs/proto"
)

// echoServer answers ping and read requests over the peer socket;
// replies for even sequences are delayed behind the next request to
// force out-of-order delivery
type echoServer struct {
	conn *Conn
}

func startEchoServer(t *testing.T) *Client {
	t.Helper()
	ins, outs, err := unixsocket.NewSocketPair()
	require.NoError(t, err)

	srv := &echoServer{conn: NewConn(outs)}
	go srv.run()
	client := NewClient(NewConn(ins), zap.NewNop())
	t.Cleanup(func() { client.Close() })
	return client
}

func (s *echoServer) run() {
	defer s.conn.Close()
	var held *proto.Reply
	for {
		var req proto.Request
		if err := s.conn.Recv(&req); err != nil {
			return
		}
		reply := &proto.Reply{Seq: req.Seq}
		switch req.Op {
		case proto.OpPing:
		case proto.OpRead:
			reply.Read = &proto.ReadReply{Data: []byte{byte(req.Seq)}}
		default:
			reply.Error = proto.NewError(proto.KindUnsupported, "echo")
		}

		if held != nil {
			// deliver the delayed reply after this one
			s.conn.Send(reply)
			s.conn.Send(held)
			held = nil
			continue
		}
		if req.Seq%2 == 0 {
			held = reply
			continue
		}
		s.conn.Send(reply)
	}
}

func TestClientCorrelatesConcurrentRequests(t *testing.T) {
	client := startEchoServer(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := client.Read(1, 1)
			if assert.NoError(t, err) {
				// each caller gets the reply built for its own seq
				assert.Len(t, reply.Data, 1)
			}
		}()
	}
	wg.Wait()
}

func TestClientOutOfOrderReplies(t *testing.T) {
	client := startEchoServer(t)

	// sequential calls still complete even though even-seq replies are
	// delivered after the following request's reply
	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() { done <- client.Ping() }()
	}
	for i := 0; i < 4; i++ {
		assert.NoError(t, <-done)
	}
}

func TestClientErrorReply(t *testing.T) {
	client := startEchoServer(t)

	_, err := client.Seek(1, 0, 0)
	var pe *proto.Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, proto.KindUnsupported, pe.Kind)
}

func TestClientConnectionLost(t *testing.T) {
	ins, outs, err := unixsocket.NewSocketPair()
	require.NoError(t, err)

	client := NewClient(NewConn(ins), zap.NewNop())

	// server side never answers; in-flight calls complete with a
	// connection-lost error once the peer closes
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- client.Ping()
		}()
	}
	// drain the requests so they are actually in flight
	srvConn := NewConn(outs)
	for i := 0; i < 8; i++ {
		var req proto.Request
		require.NoError(t, srvConn.Recv(&req))
	}
	srvConn.Close()
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.ErrorIs(t, err, ErrConnectionLost)
	}

	// later calls fail immediately
	assert.ErrorIs(t, client.Ping(), ErrConnectionLost)
}
