// Package sync implements the offline synchronization protocol: stateless
// bootstrap and pull reads plus a batched push of queued client mutations.
//
// Push replays actions sequentially through the same scope-guarded write
// paths as the online API. Each action carries an idempotency key so retried
// batches return the recorded outcome instead of re-executing, and
// update-class actions carry the client's last known updated_at so a
// concurrent server-side edit is detected, persisted as a conflict record
// and reported per action instead of silently overwritten.
package sync
