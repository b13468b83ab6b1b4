// Package agent implements the remote file manager: it resolves paths
// supplied by the hook layer across the container/host boundary and
// serves file and directory operations over a session-scoped handle
// table.
//
// # Overview
//
// Each client connection becomes one Session with its own handle table;
// sessions share nothing. Requests arrive gob-encoded over a
// SOCK_SEQPACKET unix socket, tagged with a sequence number that is
// echoed on the reply.
//
// # Protocol
//
// Operations on different handles of one session run concurrently;
// operations on the same handle are serialized.
//
// ## ping (alive check)
//
//   - send: ping
//   - reply:
//
// ## open (resolve path under the mapping and allocate a handle)
//
//   - send: path, flags, perm
//   - reply: handle id, is-directory / error
//
// ## read / write / seek (cursor operations on one handle)
//
//   - send: handle id, argument
//   - reply: data / written count / new position / error
//
// ## stat (metadata by path or handle, as seen on the agent host)
//
//   - send: path or handle id
//   - reply: size, mode, inode, mtime / error
//
// ## list (resumable directory listing, bounded per call)
//
//   - send: handle id, max entries
//   - reply: entries batch, end-of-directory flag / error
//
// ## close (release handle, idempotent)
//
//   - send: handle id
//   - reply:
//
// Any socket error tears the session down and releases all its handles.
package agent
