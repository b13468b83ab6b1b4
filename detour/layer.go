package detour

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/mirrorfs/go-mirrorfs/pathset"
	"github.com/mirrorfs/go-mirrorfs/proto"
)

// RemoteClient is the layer's view of the protocol channel. Calls block
// the issuing thread until the matching reply arrives or the channel
// reports an error.
type RemoteClient interface {
	Open(path string, flags int, perm uint32) (*proto.OpenReply, error)
	Read(handle uint64, max int) (*proto.ReadReply, error)
	Write(handle uint64, data []byte) (*proto.WriteReply, error)
	Seek(handle uint64, offset int64, whence int) (*proto.SeekReply, error)
	StatPath(path string) (*proto.StatReply, error)
	StatHandle(handle uint64) (*proto.StatReply, error)
	List(handle uint64, maxEntries int) (*proto.ListReply, error)
	CloseHandle(handle uint64) error
}

// listFetch is how many directory entries one remote List round trip
// asks for while draining a getdents buffer
const listFetch = 64

// remoteFile is the client-side bookkeeping for one managed descriptor:
// the local placeholder fd keyed in Layer.files maps to the remote
// handle. Directory reads buffer fetched entries locally so a batch
// that does not fit the caller's buffer is never dropped.
type remoteFile struct {
	handle uint64
	path   string
	dir    bool

	mu       sync.Mutex // serializes listing cursor access
	pending  []proto.DirEntry
	consumed int64
	listEnd  bool
}

// Config assembles a Layer
type Config struct {
	Client RemoteClient
	Filter *pathset.Filter
	// Resolve binds symbols to original implementations; nil uses the
	// raw syscall trampoline
	Resolve  ResolveFunc
	Logger   *zap.Logger
	Disabled bool
}

// Layer holds the hook bodies for the intercepted file entry points.
// Every body follows the same shape: reentrancy check, applicability
// check, then either bypass to the original implementation or a
// blocking forward over the channel with the reply mapped back to the
// native return convention.
type Layer struct {
	registry *Registry
	guard    *Guard
	filter   *pathset.Filter
	client   RemoteClient
	log      *zap.Logger
	enabled  atomic.Bool

	mu    sync.Mutex
	files map[int]*remoteFile
}

// NewLayer creates a Layer from cfg
func NewLayer(cfg Config) *Layer {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	l := &Layer{
		registry: NewRegistry(cfg.Resolve),
		guard:    NewGuard(),
		filter:   cfg.Filter,
		client:   cfg.Client,
		log:      log,
		files:    make(map[int]*remoteFile),
	}
	l.enabled.Store(!cfg.Disabled)
	return l
}

// SetEnabled toggles interception of new path-based calls; descriptors
// already managed keep forwarding so their data stays consistent
func (l *Layer) SetEnabled(on bool) {
	l.enabled.Store(on)
}

// Open intercepts the open/openat entry point
func (l *Layer) Open(path string, flags int, perm uint32) (int, syscall.Errno) {
	tok, ok := l.guard.Enter()
	if !ok {
		return l.bypassOpen(path, flags, perm)
	}
	defer tok.Exit()

	d := l.openDecision(path, flags, perm)
	if reason, bypassed := d.Bypassed(); bypassed {
		l.log.Debug("open bypass", zap.String("path", path), zap.Stringer("reason", reason))
		return l.bypassOpen(path, flags, perm)
	}
	reply, errno := d.Result()
	if errno != 0 {
		return -1, errno
	}

	fd, errno := l.placeholderFd()
	if errno != 0 {
		// local half failed; release the remote handle so the agent
		// table stays consistent
		l.client.CloseHandle(reply.Handle)
		return -1, errno
	}

	l.mu.Lock()
	l.files[fd] = &remoteFile{handle: reply.Handle, path: path, dir: reply.Dir}
	l.mu.Unlock()

	l.log.Debug("open forwarded", zap.String("path", path),
		zap.Int("fd", fd), zap.Uint64("handle", reply.Handle))
	return fd, 0
}

// openDecision evaluates applicability and performs the remote open
func (l *Layer) openDecision(path string, flags int, perm uint32) Decision[*proto.OpenReply] {
	if !l.enabled.Load() {
		return Bypass[*proto.OpenReply](ReasonDisabled)
	}
	if !filepath.IsAbs(path) {
		return Bypass[*proto.OpenReply](ReasonRelativePath)
	}
	if !l.filter.IsManaged(path) {
		return Bypass[*proto.OpenReply](ReasonNotManaged)
	}
	reply, err := l.client.Open(path, flags, perm)
	if err != nil {
		return ForwardErr[*proto.OpenReply](errnoFor(err))
	}
	return Forward(reply)
}

// Read intercepts the read entry point
func (l *Layer) Read(fd int, buf []byte) (int, syscall.Errno) {
	tok, ok := l.guard.Enter()
	if !ok {
		return l.bypassRead(fd, buf)
	}
	defer tok.Exit()

	rf, managed := l.remote(fd)
	if !managed {
		return l.bypassRead(fd, buf)
	}
	max := len(buf)
	if max > proto.MaxDataSize {
		// short read; the caller loops like it would on the kernel
		max = proto.MaxDataSize
	}
	reply, err := l.client.Read(rf.handle, max)
	if err != nil {
		return -1, errnoFor(err)
	}
	return copy(buf, reply.Data), 0
}

// Write intercepts the write entry point
func (l *Layer) Write(fd int, buf []byte) (int, syscall.Errno) {
	tok, ok := l.guard.Enter()
	if !ok {
		return l.bypassWrite(fd, buf)
	}
	defer tok.Exit()

	rf, managed := l.remote(fd)
	if !managed {
		return l.bypassWrite(fd, buf)
	}
	if len(buf) > proto.MaxDataSize {
		// short write keeps the request within the transfer cap
		buf = buf[:proto.MaxDataSize]
	}
	reply, err := l.client.Write(rf.handle, buf)
	if err != nil {
		return -1, errnoFor(err)
	}
	return reply.Written, 0
}

// Lseek intercepts the lseek entry point
func (l *Layer) Lseek(fd int, offset int64, whence int) (int64, syscall.Errno) {
	tok, ok := l.guard.Enter()
	if !ok {
		return l.bypassLseek(fd, offset, whence)
	}
	defer tok.Exit()

	rf, managed := l.remote(fd)
	if !managed {
		return l.bypassLseek(fd, offset, whence)
	}
	reply, err := l.client.Seek(rf.handle, offset, whence)
	if err != nil {
		return -1, errnoFor(err)
	}
	if rf.dir && reply.Position == 0 {
		// restarted listing: discard the local cursor too
		rf.mu.Lock()
		rf.pending = nil
		rf.consumed = 0
		rf.listEnd = false
		rf.mu.Unlock()
	}
	return reply.Position, 0
}

// Stat intercepts the stat-family entry points that take a path
func (l *Layer) Stat(path string, st *unix.Stat_t) syscall.Errno {
	tok, ok := l.guard.Enter()
	if !ok {
		return l.bypassStat(path, st)
	}
	defer tok.Exit()

	d := l.statDecision(path)
	if reason, bypassed := d.Bypassed(); bypassed {
		l.log.Debug("stat bypass", zap.String("path", path), zap.Stringer("reason", reason))
		return l.bypassStat(path, st)
	}
	reply, errno := d.Result()
	if errno != 0 {
		return errno
	}
	fillStat(st, reply)
	return 0
}

func (l *Layer) statDecision(path string) Decision[*proto.StatReply] {
	if !l.enabled.Load() {
		return Bypass[*proto.StatReply](ReasonDisabled)
	}
	if !filepath.IsAbs(path) {
		return Bypass[*proto.StatReply](ReasonRelativePath)
	}
	if !l.filter.IsManaged(path) {
		return Bypass[*proto.StatReply](ReasonNotManaged)
	}
	reply, err := l.client.StatPath(path)
	if err != nil {
		return ForwardErr[*proto.StatReply](errnoFor(err))
	}
	return Forward(reply)
}

// Fstat intercepts the fstat entry point
func (l *Layer) Fstat(fd int, st *unix.Stat_t) syscall.Errno {
	tok, ok := l.guard.Enter()
	if !ok {
		return l.bypassFstat(fd, st)
	}
	defer tok.Exit()

	rf, managed := l.remote(fd)
	if !managed {
		return l.bypassFstat(fd, st)
	}
	reply, err := l.client.StatHandle(rf.handle)
	if err != nil {
		return errnoFor(err)
	}
	fillStat(st, reply)
	return 0
}

// Getdents intercepts the getdents64 entry point. Entries fetched from
// the agent but not yet fitting the caller's buffer stay queued on the
// descriptor, so repeated calls drain the directory with no duplicates
// and no omissions.
func (l *Layer) Getdents(fd int, buf []byte) (int, syscall.Errno) {
	tok, ok := l.guard.Enter()
	if !ok {
		return l.bypassGetdents(fd, buf)
	}
	defer tok.Exit()

	rf, managed := l.remote(fd)
	if !managed {
		return l.bypassGetdents(fd, buf)
	}
	if !rf.dir {
		return -1, syscall.ENOTDIR
	}

	rf.mu.Lock()
	defer rf.mu.Unlock()

	off := 0
	for {
		for len(rf.pending) > 0 {
			next, fits := putDirent(buf, off, &rf.pending[0], rf.consumed+1)
			if !fits {
				if off == 0 {
					// native getdents64 rejects a buffer too small
					// for a single record
					return -1, syscall.EINVAL
				}
				return off, 0
			}
			off = next
			rf.pending = rf.pending[1:]
			rf.consumed++
		}
		if rf.listEnd {
			return off, 0
		}
		reply, err := l.client.List(rf.handle, listFetch)
		if err != nil {
			if off > 0 {
				return off, 0
			}
			return -1, errnoFor(err)
		}
		rf.pending = append(rf.pending, reply.Entries...)
		rf.listEnd = reply.End
	}
}

// Close intercepts the close entry point. The remote handle is released
// first; channel errors do not keep the local descriptor open.
func (l *Layer) Close(fd int) syscall.Errno {
	tok, ok := l.guard.Enter()
	if !ok {
		return l.bypassClose(fd)
	}
	defer tok.Exit()

	l.mu.Lock()
	rf, managed := l.files[fd]
	delete(l.files, fd)
	l.mu.Unlock()

	if !managed {
		return l.bypassClose(fd)
	}
	if err := l.client.CloseHandle(rf.handle); err != nil {
		l.log.Debug("remote close failed", zap.Uint64("handle", rf.handle), zap.Error(err))
	}
	return l.bypassClose(fd)
}

// remote finds the bookkeeping for a managed descriptor
func (l *Layer) remote(fd int) (*remoteFile, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rf, ok := l.files[fd]
	return rf, ok
}

// placeholderFd reserves a slot in the native descriptor space for a
// forwarded open, so managed fds never collide with real ones. Uses the
// original entry point: the calling thread already holds the guard.
func (l *Layer) placeholderFd() (int, syscall.Errno) {
	fn, err := l.registry.Resolve(SymbolOpenat)
	if err != nil {
		return -1, syscall.ENOSYS
	}
	return originalOpen(fn, os.DevNull, os.O_RDONLY, 0)
}

func (l *Layer) bypassOpen(path string, flags int, perm uint32) (int, syscall.Errno) {
	fn, err := l.registry.Resolve(SymbolOpenat)
	if err != nil {
		return -1, syscall.ENOSYS
	}
	return originalOpen(fn, path, flags, perm)
}

func (l *Layer) bypassRead(fd int, buf []byte) (int, syscall.Errno) {
	fn, err := l.registry.Resolve(SymbolRead)
	if err != nil {
		return -1, syscall.ENOSYS
	}
	return originalRead(fn, fd, buf)
}

func (l *Layer) bypassWrite(fd int, buf []byte) (int, syscall.Errno) {
	fn, err := l.registry.Resolve(SymbolWrite)
	if err != nil {
		return -1, syscall.ENOSYS
	}
	return originalWrite(fn, fd, buf)
}

func (l *Layer) bypassLseek(fd int, offset int64, whence int) (int64, syscall.Errno) {
	fn, err := l.registry.Resolve(SymbolLseek)
	if err != nil {
		return -1, syscall.ENOSYS
	}
	return originalLseek(fn, fd, offset, whence)
}

func (l *Layer) bypassStat(path string, st *unix.Stat_t) syscall.Errno {
	fn, err := l.registry.Resolve(SymbolStat)
	if err != nil {
		return syscall.ENOSYS
	}
	return originalStat(fn, path, st, 0)
}

func (l *Layer) bypassFstat(fd int, st *unix.Stat_t) syscall.Errno {
	fn, err := l.registry.Resolve(SymbolFstat)
	if err != nil {
		return syscall.ENOSYS
	}
	return originalFstat(fn, fd, st)
}

func (l *Layer) bypassGetdents(fd int, buf []byte) (int, syscall.Errno) {
	fn, err := l.registry.Resolve(SymbolGetdents)
	if err != nil {
		return -1, syscall.ENOSYS
	}
	return originalGetdents(fn, fd, buf)
}

func (l *Layer) bypassClose(fd int) syscall.Errno {
	fn, err := l.registry.Resolve(SymbolClose)
	if err != nil {
		return syscall.ENOSYS
	}
	return originalClose(fn, fd)
}

// fillStat copies remote metadata into the native stat buffer
func fillStat(st *unix.Stat_t, reply *proto.StatReply) {
	*st = unix.Stat_t{
		Size:    reply.Size,
		Mode:    reply.Mode,
		Ino:     reply.Inode,
		Nlink:   reply.Nlink,
		Uid:     reply.Uid,
		Gid:     reply.Gid,
		Blksize: reply.BlockSize,
		Blocks:  reply.Blocks,
		Mtim:    unix.NsecToTimespec(reply.ModTime),
		Atim:    unix.NsecToTimespec(reply.AccessTime),
		Ctim:    unix.NsecToTimespec(reply.ChangeTime),
	}
}
