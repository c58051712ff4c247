// Package engine contains the storage core of kivo: the sharded entry
// store, the write batcher, the durability controller and the tiered read
// cache.
//
// The package is consumed by the root kivo package, which wires the
// components together and exposes the public API. Components here are
// individually testable and hold no global state.
package engine
