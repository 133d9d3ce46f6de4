// Package autosave is the client side of the versioned save protocol.
//
// A Session owns an edit buffer for one document. Edits are merged into the
// buffer synchronously; a debounce timer coalesces bursts of edits into a
// single save, and a single-flight guard keeps at most one save request in
// flight. Every save carries the version the client last saw, so the store
// can reject writes based on stale state. A rejected write puts the session
// into the conflict state, where nothing is saved until ResolveConflict is
// called.
//
// Failures never escape as errors from the background machinery; they are
// reported as State transitions.
package autosave
