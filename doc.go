// Package gocrdt implements an operation-based replicated document engine.
//
// Unlike a state-based CRDT, which converges by merging two full snapshots
// together, this engine converges by exchanging and replaying operations:
// every insert or delete is assigned a unique (client, clock) ID, and a
// YATA-style integration algorithm places concurrently-created operations
// into the same total order on every replica regardless of the order they
// arrive in (see integrate.go). A Document owns a StructStore of Items and
// GCStructs, batches mutations into Transactions, and exchanges its state
// with other replicas as binary update messages (codec.go) addressed by
// state vector rather than by comparing whole documents.
//
// Document is the package's entry point; Transact is the only supported
// way to mutate one.
package gocrdt
