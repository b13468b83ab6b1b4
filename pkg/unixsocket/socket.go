// Package unixsocket wraps SOCK_SEQPACKET unix sockets. Packet
// boundaries are preserved so one message is always one send / recv,
// which keeps the gob codec above it framing-free.
package unixsocket

import (
	"fmt"
	"net"
	"os"
	"syscall"
	"time"
)

// Socket wraps a SEQPACKET unix socket connection
type Socket struct {
	*net.UnixConn
}

// NewSocket creates a Socket from an existing unix socket fd and marks
// it close_on_exec to avoid fd leaks to child processes
func NewSocket(fd int) (*Socket, error) {
	syscall.SetNonblock(fd, true)
	syscall.CloseOnExec(fd)

	file := os.NewFile(uintptr(fd), "unix-socket")
	if file == nil {
		return nil, fmt.Errorf("new socket: %d is not a valid fd", fd)
	}
	defer file.Close()

	conn, err := net.FileConn(file)
	if err != nil {
		return nil, fmt.Errorf("new socket: %w", err)
	}
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("new socket: %d is not a unix socket", fd)
	}
	return &Socket{unixConn}, nil
}

// NewSocketPair creates a connected SOCK_SEQPACKET socket pair
func NewSocketPair() (*Socket, *Socket, error) {
	fd, err := syscall.Socketpair(syscall.AF_LOCAL, syscall.SOCK_SEQPACKET|syscall.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	ins, err := NewSocket(fd[0])
	if err != nil {
		syscall.Close(fd[0])
		syscall.Close(fd[1])
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	outs, err := NewSocket(fd[1])
	if err != nil {
		ins.Close()
		syscall.Close(fd[1])
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	return ins, outs, nil
}

// Listener accepts SEQPACKET connections on a filesystem socket path
type Listener struct {
	*net.UnixListener
	path string
}

// Listen binds a SEQPACKET listener at path, replacing a stale socket
// file left behind by a previous run
func Listen(path string) (*Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("listen: remove stale socket: %w", err)
	}
	l, err := net.ListenUnix("unixpacket", &net.UnixAddr{Name: path, Net: "unixpacket"})
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	return &Listener{UnixListener: l, path: path}, nil
}

// Accept waits for the next client connection
func (l *Listener) Accept() (*Socket, error) {
	conn, err := l.AcceptUnix()
	if err != nil {
		return nil, err
	}
	return &Socket{conn}, nil
}

// Dial connects to a SEQPACKET listener at path
func Dial(path string) (*Socket, error) {
	conn, err := net.DialUnix("unixpacket", nil, &net.UnixAddr{Name: path, Net: "unixpacket"})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &Socket{conn}, nil
}

// Send writes one message as a single packet
func (s *Socket) Send(b []byte) error {
	_, err := s.Write(b)
	return err
}

// Recv reads one packet into b and returns its length
func (s *Socket) Recv(b []byte) (int, error) {
	return s.Read(b)
}

// SetTimeout applies a deadline to both directions; zero clears it
func (s *Socket) SetTimeout(d time.Duration) error {
	if d == 0 {
		return s.SetDeadline(time.Time{})
	}
	return s.SetDeadline(time.Now().Add(d))
}
