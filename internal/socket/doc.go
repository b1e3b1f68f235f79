// Package socket owns the byte + file-descriptor transport over a local
// stream socket.
//
// Ownership boundary:
// - raw sendmsg/recvmsg with SCM_RIGHTS ancillary data
// - read/write buffering and partial-message reassembly
// - closed-state tracking after peer hangup
package socket
