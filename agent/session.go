package agent

import (
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mirrorfs/go-mirrorfs/proto"
)

// fileHandle is one open remote file or directory. All operations on
// the same handle are serialized by mu so the cursor stays consistent
// under interleaved read / write / seek.
type fileHandle struct {
	id     uint64
	file   *os.File
	path   string // canonical host path
	flags  int
	dir    bool
	append bool // opened with O_APPEND; writes go through the fd offset

	mu     sync.Mutex
	pos    int64 // logical cursor
	stream *dirStream
}

// Session holds the state of one connected client: the handle table and
// the id allocator. Sessions are fully isolated from each other and torn
// down when their channel closes.
type Session struct {
	ID  string
	log *zap.Logger

	resolver *Resolver
	readOnly bool

	mu      sync.Mutex
	handles map[uint64]*fileHandle
	nextID  uint64 // monotonically increasing, ids are never reused
	closed  bool
}

// NewSession creates an empty session bound to the given resolver
func NewSession(resolver *Resolver, readOnly bool, log *zap.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		ID:       id,
		log:      log.With(zap.String("session", id)),
		resolver: resolver,
		readOnly: readOnly,
		handles:  make(map[uint64]*fileHandle),
	}
}

// Open resolves path via the session resolver, opens the backing file on
// the agent host and allocates a fresh handle id
func (s *Session) Open(path string, flags int, perm uint32) (*proto.OpenReply, error) {
	if s.readOnly && writeFlags(flags) {
		return nil, proto.NewError(proto.KindPermissionDenied, "open %q: session is read-only", path)
	}
	resolved, err := s.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(resolved, flags, os.FileMode(perm))
	if err != nil {
		return nil, proto.WrapError("open", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, proto.WrapError("open", err)
	}

	h := &fileHandle{
		file:   f,
		path:   resolved,
		flags:  flags,
		dir:    fi.IsDir(),
		append: flags&os.O_APPEND != 0,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		f.Close()
		return nil, proto.NewError(proto.KindBadHandle, "session closed")
	}
	s.nextID++
	h.id = s.nextID
	s.handles[h.id] = h
	return &proto.OpenReply{Handle: h.id, Dir: h.dir}, nil
}

// Read reads up to max bytes at the handle cursor and advances it
func (s *Session) Read(handle uint64, max int) (*proto.ReadReply, error) {
	h, err := s.lookup(handle)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if max > proto.MaxDataSize {
		max = proto.MaxDataSize
	}
	buf := make([]byte, max)
	n, rerr := h.file.ReadAt(buf, h.pos)
	h.pos += int64(n)
	if rerr != nil && rerr != io.EOF {
		return nil, proto.WrapError("read", rerr)
	}
	return &proto.ReadReply{Data: buf[:n]}, nil
}

// Write writes data at the handle cursor and advances it. Payloads
// beyond the transfer cap are clamped to a short write.
func (s *Session) Write(handle uint64, data []byte) (*proto.WriteReply, error) {
	h, err := s.lookup(handle)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(data) > proto.MaxDataSize {
		data = data[:proto.MaxDataSize]
	}
	if h.append {
		// WriteAt refuses O_APPEND files; go through the fd offset so
		// the kernel keeps the append atomic, then track the cursor
		n, werr := h.file.Write(data)
		if n > 0 {
			if end, serr := h.file.Seek(0, io.SeekCurrent); serr == nil {
				h.pos = end
			}
		}
		if werr != nil {
			return nil, proto.WrapError("write", werr)
		}
		return &proto.WriteReply{Written: n}, nil
	}
	n, werr := h.file.WriteAt(data, h.pos)
	h.pos += int64(n)
	if werr != nil {
		return nil, proto.WrapError("write", werr)
	}
	return &proto.WriteReply{Written: n}, nil
}

// Seek repositions the handle cursor. Rewinding a directory handle to
// the start restarts its listing.
func (s *Session) Seek(handle uint64, offset int64, whence int) (*proto.SeekReply, error) {
	h, err := s.lookup(handle)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = h.pos + offset
	case io.SeekEnd:
		fi, serr := h.file.Stat()
		if serr != nil {
			return nil, proto.WrapError("seek", serr)
		}
		pos = fi.Size() + offset
	default:
		return nil, proto.NewError(proto.KindUnsupported, "seek: whence %d", whence)
	}
	if pos < 0 {
		return nil, proto.NewError(proto.KindUnsupported, "seek: negative position %d", pos)
	}
	h.pos = pos
	if h.dir && pos == 0 && h.stream != nil {
		if serr := h.stream.reset(); serr != nil {
			return nil, proto.WrapError("seek", serr)
		}
	}
	return &proto.SeekReply{Position: pos}, nil
}

// Stat queries metadata by open handle or by path. Metadata reflects the
// backing file as seen inside the agent's mount namespace.
func (s *Session) Stat(req *proto.StatRequest) (*proto.StatReply, error) {
	if req.ByHandle {
		h, err := s.lookup(req.Handle)
		if err != nil {
			return nil, err
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		fi, serr := h.file.Stat()
		if serr != nil {
			return nil, proto.WrapError("stat", serr)
		}
		return statReply(fi), nil
	}

	resolved, err := s.resolver.Resolve(req.Path)
	if err != nil {
		return nil, err
	}
	fi, serr := os.Stat(resolved)
	if serr != nil {
		return nil, proto.WrapError("stat", serr)
	}
	return statReply(fi), nil
}

// List pulls the next batch of directory entries from the handle's
// listing cursor
func (s *Session) List(handle uint64, maxEntries int) (*proto.ListReply, error) {
	h, err := s.lookup(handle)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dir {
		return nil, proto.NewError(proto.KindNotADirectory, "list: handle %d is not a directory", handle)
	}
	if h.stream == nil {
		h.stream = newDirStream(h.file, h.path, s.log)
	}
	entries, end, lerr := h.stream.next(maxEntries)
	if lerr != nil {
		return nil, proto.WrapError("list", lerr)
	}
	return &proto.ListReply{Entries: entries, End: end}, nil
}

// Close releases the handle. Closing an unknown or already closed handle
// is a no-op success to tolerate duplicate teardown racing session close.
func (s *Session) Close(handle uint64) *proto.CloseReply {
	s.mu.Lock()
	h, ok := s.handles[handle]
	delete(s.handles, handle)
	s.mu.Unlock()

	if ok {
		h.mu.Lock()
		h.file.Close()
		h.mu.Unlock()
	}
	return &proto.CloseReply{}
}

// Teardown releases every handle owned by the session; called when the
// session channel closes
func (s *Session) Teardown() {
	s.mu.Lock()
	handles := s.handles
	s.handles = make(map[uint64]*fileHandle)
	s.closed = true
	s.mu.Unlock()

	for _, h := range handles {
		h.mu.Lock()
		h.file.Close()
		h.mu.Unlock()
	}
	if len(handles) > 0 {
		s.log.Debug("session handles released", zap.Int("count", len(handles)))
	}
}

// lookup finds an open handle; unknown or closed ids are BadHandle
func (s *Session) lookup(handle uint64) (*fileHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[handle]
	if !ok {
		return nil, proto.NewError(proto.KindBadHandle, "unknown handle %d", handle)
	}
	return h, nil
}

func statReply(fi os.FileInfo) *proto.StatReply {
	reply := &proto.StatReply{
		Size:    fi.Size(),
		ModTime: fi.ModTime().UnixNano(),
		Dir:     fi.IsDir(),
	}
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		reply.Mode = st.Mode
		reply.Inode = st.Ino
		reply.Nlink = uint64(st.Nlink)
		reply.Uid = st.Uid
		reply.Gid = st.Gid
		reply.BlockSize = int64(st.Blksize)
		reply.Blocks = st.Blocks
		reply.AccessTime = st.Atim.Nano()
		reply.ChangeTime = st.Ctim.Nano()
	}
	return reply
}

// writeFlags reports whether flags request any form of write access
func writeFlags(flags int) bool {
	if flags&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return true
	}
	return false
}
