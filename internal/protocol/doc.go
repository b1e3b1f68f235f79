// Package protocol owns the bootstrap interfaces every connection needs
// before any generated protocol code is involved.
//
// Ownership boundary:
// - wl_display, wl_registry and wl_callback descriptors and opcodes
// - typed readers for their messages
// - wire/ holds the codec and descriptor types
package protocol
