// Package display is the convenience layer over a protocol connection.
//
// Ownership boundary:
// - connecting, listening and accepting on unix stream sockets
// - blocking flush/read/dispatch loops built on poll(2)
// - the sync round trip and the registry of advertised globals
// - a minimal server for the core objects
package display
