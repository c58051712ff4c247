// Package handle exposes the database through opaque numeric handles and
// error codes, the surface a C ABI or foreign-runtime binding needs.
//
// A handle is an index into a process-wide registry of live databases,
// never a pointer. Closing a handle atomically invalidates the index;
// handle values are never reused within a process, so a stale handle
// from a closed database fails with CodeAlreadyClosed instead of
// touching another database's state.
//
// Every fallible operation returns a Code plus, on failure, a message
// retrievable via LastError, so callers without native error types still
// get structured errors. Keys and values cross the boundary as
// length-prefixed byte buffers (see AppendBuffer/NextBuffer); all buffers
// returned to the caller are freshly allocated and caller-owned.
package handle
