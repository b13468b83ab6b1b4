package agent

import (
	"io"
	"os"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/mirrorfs/go-mirrorfs/proto"
)

// readdirChunk is how many names are pulled from the directory fd at a
// time; independent of the caller-declared batch capacity
const readdirChunk = 128

// dirStream is the resumable directory listing for one open directory
// handle. It emits synthetic "." and ".." entries first, then the real
// listing in the order the underlying storage returns it. The cursor
// survives across calls so repeated bounded reads never duplicate or
// drop an entry. Entries whose metadata cannot be read are skipped and
// recorded, never failing the listing as a whole.
type dirStream struct {
	file *os.File
	path string // resolved directory path, for per-entry lstat
	log  *zap.Logger

	synthetic int      // synthetic entries already emitted (0..2)
	pending   []string // names fetched from the fd but not yet emitted
	exhausted bool
	skipped   int // entries dropped by per-entry failures
}

func newDirStream(file *os.File, path string, log *zap.Logger) *dirStream {
	return &dirStream{file: file, path: path, log: log}
}

// next returns up to max entries and whether the listing is exhausted.
// Once exhausted it keeps returning an empty batch with end set.
func (d *dirStream) next(max int) ([]proto.DirEntry, bool, error) {
	if max <= 0 {
		return nil, d.done(), nil
	}
	entries := make([]proto.DirEntry, 0, max)

	for d.synthetic < 2 && len(entries) < max {
		name := "."
		if d.synthetic == 1 {
			name = ".."
		}
		entries = append(entries, proto.DirEntry{Name: name, Inode: d.dirInode(), Type: syscall.DT_DIR})
		d.synthetic++
	}

	for len(entries) < max {
		if len(d.pending) == 0 {
			if d.exhausted {
				break
			}
			if err := d.fetch(); err != nil {
				return entries, d.done(), err
			}
			continue
		}
		name := d.pending[0]
		d.pending = d.pending[1:]

		ent, err := d.entry(name)
		if err != nil {
			// per-entry failure: skip and keep going
			d.skipped++
			d.log.Warn("directory entry skipped",
				zap.String("dir", d.path),
				zap.String("name", name),
				zap.Error(err))
			continue
		}
		entries = append(entries, ent)
	}
	return entries, d.done(), nil
}

// done reports end of directory: synthetic entries emitted and the real
// listing drained
func (d *dirStream) done() bool {
	return d.synthetic == 2 && d.exhausted && len(d.pending) == 0
}

// fetch pulls the next chunk of names from the directory fd
func (d *dirStream) fetch() error {
	names, err := d.file.Readdirnames(readdirChunk)
	d.pending = append(d.pending, names...)
	if err == io.EOF {
		d.exhausted = true
		return nil
	}
	return err
}

// entry builds the wire entry for one name
func (d *dirStream) entry(name string) (proto.DirEntry, error) {
	var st unix.Stat_t
	if err := unix.Lstat(filepath.Join(d.path, name), &st); err != nil {
		return proto.DirEntry{}, err
	}
	return proto.DirEntry{Name: name, Inode: st.Ino, Type: direntType(st.Mode)}, nil
}

// dirInode returns the inode of the directory itself for the synthetic
// entries; 0 when it cannot be read
func (d *dirStream) dirInode() uint64 {
	var st unix.Stat_t
	if err := unix.Fstat(int(d.file.Fd()), &st); err != nil {
		return 0
	}
	return st.Ino
}

// reset rewinds the stream; a seek to offset 0 on the directory handle
// restarts the listing
func (d *dirStream) reset() error {
	if _, err := d.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	d.synthetic = 0
	d.pending = nil
	d.exhausted = false
	return nil
}

// direntType converts st_mode bits to the d_type value of linux_dirent64
func direntType(mode uint32) uint8 {
	switch mode & unix.S_IFMT {
	case unix.S_IFREG:
		return syscall.DT_REG
	case unix.S_IFDIR:
		return syscall.DT_DIR
	case unix.S_IFLNK:
		return syscall.DT_LNK
	case unix.S_IFCHR:
		return syscall.DT_CHR
	case unix.S_IFBLK:
		return syscall.DT_BLK
	case unix.S_IFIFO:
		return syscall.DT_FIFO
	case unix.S_IFSOCK:
		return syscall.DT_SOCK
	default:
		return syscall.DT_UNKNOWN
	}
}
