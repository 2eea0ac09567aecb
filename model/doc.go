// Package model holds the parameter store shared by every
// inference and training request on a server.
//
// A Store owns an ordered sequence of float64 parameters whose
// length is fixed when the store is created. Access follows a
// copy-on-write discipline:
//
//   - Readers load the current Snapshot with a single atomic pointer
//     load. They never block, not even while a writer is active, and a
//     Snapshot never changes once it has been published.
//   - Writers are serialized by a mutex. A write copies the current
//     parameters, hands the copy to a mutator, then publishes the
//     result as a new Snapshot with the next revision number.
//
// Every reader therefore observes either the complete pre-write or
// the complete post-write sequence, and racing writers are applied
// one after the other so no update is lost.
//
// Revisions start at 1 for the initial parameters and increase by
// one with every successful write. A store may retain a bounded
// window of older snapshots which can be read back by revision,
// in the same spirit as the revisions of an mvcc store.
//
// If a mutator panics while the writer holds exclusive access the
// store is poisoned. The last published snapshot is still intact but
// the store refuses all further reads and writes with ErrLockFailure
// so that the failure is reported instead of silently ignored.
package model
