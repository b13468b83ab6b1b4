package channel

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mirrorfs/go-mirrorfs/pkg/unixsocket"
	"github.com/mirrorfs/go-mirrorfs/proto"
)

// ErrConnectionLost reports that the channel closed or failed while a
// request was in flight. The hook layer maps it to the generic I/O error
// the native call would report on an unavailable resource.
var ErrConnectionLost = errors.New("channel: connection lost")

// Client is the hook layer's end of the protocol channel. Multiple
// threads may have requests in flight at once; each blocks only on its
// own reply, matched by sequence number.
type Client struct {
	conn *Conn
	log  *zap.Logger

	sendMu sync.Mutex // serializes packet writes

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]chan *proto.Reply
	err     error // set once the reader loop exits
}

// Dial connects to the agent socket and starts the reply reader
func Dial(path string, log *zap.Logger) (*Client, error) {
	s, err := unixsocket.Dial(path)
	if err != nil {
		return nil, err
	}
	return NewClient(NewConn(s), log), nil
}

// NewClient starts a client over an established conn
func NewClient(conn *Conn, log *zap.Logger) *Client {
	c := &Client{
		conn:    conn,
		log:     log,
		pending: make(map[uint64]chan *proto.Reply),
	}
	go c.recvLoop()
	return c
}

// Close shuts the channel down; every waiter completes with
// ErrConnectionLost
func (c *Client) Close() error {
	return c.conn.Close()
}

// recvLoop delivers each reply to the waiter that issued its request.
// On any receive error the channel is dead: fail all waiters.
func (c *Client) recvLoop() {
	for {
		var reply proto.Reply
		if err := c.conn.Recv(&reply); err != nil {
			c.fail(err)
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[reply.Seq]
		delete(c.pending, reply.Seq)
		c.mu.Unlock()

		if !ok {
			c.log.Warn("reply with unknown sequence", zap.Uint64("seq", reply.Seq))
			continue
		}
		ch <- &reply
	}
}

// fail marks the channel dead and wakes every pending waiter
func (c *Client) fail(cause error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = fmt.Errorf("%w: %v", ErrConnectionLost, cause)
	}
	pending := c.pending
	c.pending = make(map[uint64]chan *proto.Reply)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	if len(pending) > 0 {
		c.log.Warn("channel lost with requests in flight",
			zap.Int("pending", len(pending)), zap.Error(cause))
	}
}

// roundTrip sends one request and blocks the calling thread until its
// own reply arrives or the channel dies
func (c *Client) roundTrip(req *proto.Request) (*proto.Reply, error) {
	ch := make(chan *proto.Reply, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.seq++
	req.Seq = c.seq
	c.pending[req.Seq] = ch
	c.mu.Unlock()

	c.sendMu.Lock()
	err := c.conn.Send(req)
	c.sendMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, req.Seq)
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	reply, ok := <-ch
	if !ok {
		c.mu.Lock()
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	if reply.Error != nil {
		return nil, reply.Error
	}
	return reply, nil
}

// Ping checks channel liveness
func (c *Client) Ping() error {
	_, err := c.roundTrip(&proto.Request{Op: proto.OpPing})
	return err
}

// Open opens path on the agent side and returns the allocated handle
func (c *Client) Open(path string, flags int, perm uint32) (*proto.OpenReply, error) {
	reply, err := c.roundTrip(&proto.Request{
		Op:   proto.OpOpen,
		Open: &proto.OpenRequest{Path: path, Flags: flags, Perm: perm},
	})
	if err != nil {
		return nil, err
	}
	if reply.Open == nil {
		return nil, fmt.Errorf("%w: malformed open reply", ErrConnectionLost)
	}
	return reply.Open, nil
}

// Read reads up to max bytes from the remote handle cursor
func (c *Client) Read(handle uint64, max int) (*proto.ReadReply, error) {
	reply, err := c.roundTrip(&proto.Request{
		Op:   proto.OpRead,
		Read: &proto.ReadRequest{Handle: handle, MaxBytes: max},
	})
	if err != nil {
		return nil, err
	}
	if reply.Read == nil {
		return nil, fmt.Errorf("%w: malformed read reply", ErrConnectionLost)
	}
	return reply.Read, nil
}

// Write writes data at the remote handle cursor
func (c *Client) Write(handle uint64, data []byte) (*proto.WriteReply, error) {
	reply, err := c.roundTrip(&proto.Request{
		Op:    proto.OpWrite,
		Write: &proto.WriteRequest{Handle: handle, Data: data},
	})
	if err != nil {
		return nil, err
	}
	if reply.Write == nil {
		return nil, fmt.Errorf("%w: malformed write reply", ErrConnectionLost)
	}
	return reply.Write, nil
}

// Seek repositions the remote handle cursor
func (c *Client) Seek(handle uint64, offset int64, whence int) (*proto.SeekReply, error) {
	reply, err := c.roundTrip(&proto.Request{
		Op:   proto.OpSeek,
		Seek: &proto.SeekRequest{Handle: handle, Offset: offset, Whence: whence},
	})
	if err != nil {
		return nil, err
	}
	if reply.Seek == nil {
		return nil, fmt.Errorf("%w: malformed seek reply", ErrConnectionLost)
	}
	return reply.Seek, nil
}

// StatPath queries metadata for a path
func (c *Client) StatPath(path string) (*proto.StatReply, error) {
	return c.stat(&proto.StatRequest{Path: path})
}

// StatHandle queries metadata for an open handle
func (c *Client) StatHandle(handle uint64) (*proto.StatReply, error) {
	return c.stat(&proto.StatRequest{ByHandle: true, Handle: handle})
}

func (c *Client) stat(req *proto.StatRequest) (*proto.StatReply, error) {
	reply, err := c.roundTrip(&proto.Request{Op: proto.OpStat, Stat: req})
	if err != nil {
		return nil, err
	}
	if reply.Stat == nil {
		return nil, fmt.Errorf("%w: malformed stat reply", ErrConnectionLost)
	}
	return reply.Stat, nil
}

// List pulls the next batch of directory entries
func (c *Client) List(handle uint64, maxEntries int) (*proto.ListReply, error) {
	reply, err := c.roundTrip(&proto.Request{
		Op:   proto.OpList,
		List: &proto.ListRequest{Handle: handle, MaxEntries: maxEntries},
	})
	if err != nil {
		return nil, err
	}
	if reply.List == nil {
		return nil, fmt.Errorf("%w: malformed list reply", ErrConnectionLost)
	}
	return reply.List, nil
}

// CloseHandle releases the remote handle; always succeeds on a live
// channel
func (c *Client) CloseHandle(handle uint64) error {
	_, err := c.roundTrip(&proto.Request{
		Op:    proto.OpClose,
		Close: &proto.CloseRequest{Handle: handle},
	})
	return err
}
