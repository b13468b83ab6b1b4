// Package channel implements the protocol channel between the hook
// layer and the agent: a gob codec over a SEQPACKET unix socket plus a
// client that correlates concurrent outstanding requests to replies by
// sequence number.
package channel

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/mirrorfs/go-mirrorfs/pkg/unixsocket"
	"github.com/mirrorfs/go-mirrorfs/proto"
)

// Messages are carried in fixed-size frames: one flag byte (1 = more
// frames follow) then payload. A single oversized packet would be
// truncated by the receiver's buffer, or rejected outright by the
// socket send buffer, so large messages are split on send and
// reassembled on recv. Frames of one message never interleave: senders
// are serialized by the client's send mutex and the server's send loop.
const (
	frameSize = 16 << 10

	// maxMessageSize bounds reassembly. Both sides clamp transfers to
	// proto.MaxDataSize, so anything larger is a protocol violation,
	// not a legitimate message.
	maxMessageSize = proto.MaxDataSize + 64<<10
)

var bufferPool = sync.Pool{
	New: func() any {
		return make([]byte, frameSize)
	},
}

// Conn is a message-oriented gob codec over one socket. Safe for one
// concurrent sender and one concurrent receiver; callers serialize
// writers themselves.
type Conn struct {
	socket *unixsocket.Socket
}

// NewConn wraps an established socket
func NewConn(s *unixsocket.Socket) *Conn {
	return &Conn{socket: s}
}

// Send gob-encodes e and writes it as one or more frames
func (c *Conn) Send(e any) error {
	buf := bufferPool.Get().([]byte)
	defer bufferPool.Put(buf)
	frame := bufferPool.Get().([]byte)
	defer bufferPool.Put(frame)

	// use buf pool to reduce allocation
	b := bytes.NewBuffer(buf[:0])
	if err := gob.NewEncoder(b).Encode(e); err != nil {
		return fmt.Errorf("send: failed to encode %w", err)
	}
	msg := b.Bytes()
	for {
		n := copy(frame[1:], msg)
		msg = msg[n:]
		frame[0] = 0
		if len(msg) > 0 {
			frame[0] = 1
		}
		if err := c.socket.Send(frame[:1+n]); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		if len(msg) == 0 {
			return nil
		}
	}
}

// Recv reassembles one message from its frames and gob-decodes it into e
func (c *Conn) Recv(e any) error {
	frame := bufferPool.Get().([]byte)
	defer bufferPool.Put(frame)

	n, err := c.socket.Recv(frame)
	if err != nil {
		return fmt.Errorf("recv: %w", err)
	}
	if n < 1 {
		return fmt.Errorf("recv: empty frame")
	}
	if frame[0] == 0 {
		// single-frame message, decode in place
		if err := gob.NewDecoder(bytes.NewReader(frame[1:n])).Decode(e); err != nil {
			return fmt.Errorf("recv: failed to decode %w", err)
		}
		return nil
	}

	var msg bytes.Buffer
	msg.Write(frame[1:n])
	for frame[0] == 1 {
		n, err = c.socket.Recv(frame)
		if err != nil {
			return fmt.Errorf("recv: %w", err)
		}
		if n < 1 {
			return fmt.Errorf("recv: empty frame")
		}
		if msg.Len()+n-1 > maxMessageSize {
			return fmt.Errorf("recv: message exceeds %d bytes", maxMessageSize)
		}
		msg.Write(frame[1:n])
	}
	if err := gob.NewDecoder(&msg).Decode(e); err != nil {
		return fmt.Errorf("recv: failed to decode %w", err)
	}
	return nil
}

// Close closes the underlying socket
func (c *Conn) Close() error {
	return c.socket.Close()
}
