// Package proto defines the messages exchanged between the client hook
// layer and the agent file manager. Messages are encoded with gob over a
// SOCK_SEQPACKET unix socket, one message per packet, and carry a sequence
// number so that concurrent outstanding requests can be correlated to
// their replies.
package proto

// MaxDataSize caps the payload of a single transfer in either
// direction: read replies and write requests never carry more. Both
// sides clamp to it, so message size stays bounded; oversized
// transfers complete as short reads and short writes, never as
// channel failures.
const MaxDataSize = 1 << 20

// Op is the type of a file operation request.
type Op int8

// Op defines the operations served by the agent file manager.
// default value 0 is invalid
const (
	OpPing Op = iota + 1
	OpOpen
	OpRead
	OpWrite
	OpSeek
	OpStat
	OpList
	OpClose
)

var opNames = [...]string{"invalid", "ping", "open", "read", "write", "seek", "stat", "list", "close"}

func (o Op) String() string {
	if o < 1 || int(o) >= len(opNames) {
		return "invalid"
	}
	return opNames[o]
}

// Request is the message sent from the hook layer into the agent
type Request struct {
	Seq uint64 // correlates the reply
	Op  Op     // type of the request

	Open  *OpenRequest  // open argument
	Read  *ReadRequest  // read argument
	Write *WriteRequest // write argument
	Seek  *SeekRequest  // seek argument
	Stat  *StatRequest  // stat argument
	List  *ListRequest  // directory listing argument
	Close *CloseRequest // close argument
}

// OpenRequest opens a path as seen from the mirrored container view
type OpenRequest struct {
	Path  string
	Flags int
	Perm  uint32
}

// ReadRequest reads up to MaxBytes from the handle cursor
type ReadRequest struct {
	Handle   uint64
	MaxBytes int
}

// WriteRequest writes Data at the handle cursor
type WriteRequest struct {
	Handle uint64
	Data   []byte
}

// SeekRequest repositions the handle cursor
type SeekRequest struct {
	Handle uint64
	Offset int64
	Whence int
}

// StatRequest queries metadata by path or by open handle. ByHandle
// selects which of the two fields is meaningful.
type StatRequest struct {
	ByHandle bool
	Handle   uint64
	Path     string
}

// ListRequest pulls up to MaxEntries directory entries from the handle's
// listing cursor
type ListRequest struct {
	Handle     uint64
	MaxEntries int
}

// CloseRequest releases the handle. Closing an unknown or already closed
// handle is a no-op success.
type CloseRequest struct {
	Handle uint64
}

// Reply is the message sent back from the agent to the hook layer
type Reply struct {
	Seq   uint64
	Error *Error // nil if no error

	Open  *OpenReply
	Read  *ReadReply
	Write *WriteReply
	Seek  *SeekReply
	Stat  *StatReply
	List  *ListReply
	Close *CloseReply
}

// OpenReply returns the allocated handle id, unique within the session
// and never reused
type OpenReply struct {
	Handle uint64
	Dir    bool // opened path is a directory
}

// ReadReply returns the bytes read; a short or empty Data indicates
// end of file, not an error
type ReadReply struct {
	Data []byte
}

// WriteReply returns the number of bytes written
type WriteReply struct {
	Written int
}

// SeekReply returns the new cursor position
type SeekReply struct {
	Position int64
}

// StatReply returns metadata as seen inside the agent's mount namespace.
// Timestamps are unix nanoseconds.
type StatReply struct {
	Size       int64
	Mode       uint32 // raw st_mode bits
	Inode      uint64
	Nlink      uint64
	Uid        uint32
	Gid        uint32
	BlockSize  int64
	Blocks     int64
	ModTime    int64
	AccessTime int64
	ChangeTime int64
	Dir        bool
}

// ListReply returns a batch of directory entries. End reports that the
// listing is exhausted; once set, further List calls return an empty
// batch with End still set.
type ListReply struct {
	Entries []DirEntry
	End     bool
}

// CloseReply is empty; close always succeeds
type CloseReply struct{}

// DirEntry is a single directory entry in storage order. The synthetic
// "." and ".." entries are emitted by the agent before the real listing.
type DirEntry struct {
	Name  string
	Inode uint64
	Type  uint8 // DT_* constant as in linux_dirent64
}
