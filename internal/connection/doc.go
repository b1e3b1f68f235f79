// Package connection owns one protocol connection: its transport, its
// object map and the event queues that deliver messages to handlers.
//
// Ownership boundary:
// - one mutex guards transport, object map, queues and the last error
// - inbound decode + routing onto queues, outbound encode + id allocation
// - deferred destruction and id reclamation (delete_id)
//
// No goroutines are started here. Callers poll FD() and drive ReadEvents,
// DispatchPending and Flush from their own loop.
package connection
