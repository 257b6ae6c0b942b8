// Package store is the persistence layer for scheduled posts.
//
// Two drivers exist behind the Store interface: "sqlite" for durable
// single-node storage and "memory" for tests and ephemeral runs. Both
// enforce the same contract: batch creates are all-or-nothing, Claim is an
// atomic scheduled->posting compare-and-swap, and status updates follow the
// post lifecycle table.
package store
