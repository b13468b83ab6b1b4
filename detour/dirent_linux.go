package detour

import (
	"encoding/binary"

	"github.com/mirrorfs/go-mirrorfs/proto"
)

// linux_dirent64 layout: d_ino u64, d_off i64, d_reclen u16, d_type u8,
// then the NUL-terminated name, record padded to 8 bytes
const direntFixed = 8 + 8 + 2 + 1

// direntLen is the record length entry would occupy in a getdents64
// buffer
func direntLen(entry *proto.DirEntry) int {
	return (direntFixed + len(entry.Name) + 1 + 7) &^ 7
}

// putDirent encodes entry at buf[off:] in linux_dirent64 format and
// returns the next offset; ok is false when the record does not fit
func putDirent(buf []byte, off int, entry *proto.DirEntry, dOff int64) (int, bool) {
	recLen := direntLen(entry)
	if off+recLen > len(buf) {
		return off, false
	}
	b := buf[off:]
	binary.LittleEndian.PutUint64(b[0:], entry.Inode)
	binary.LittleEndian.PutUint64(b[8:], uint64(dOff))
	binary.LittleEndian.PutUint16(b[16:], uint16(recLen))
	b[18] = entry.Type
	n := copy(b[direntFixed:], entry.Name)
	b[direntFixed+n] = 0
	for i := direntFixed + n + 1; i < recLen; i++ {
		b[i] = 0
	}
	return off + recLen, true
}
