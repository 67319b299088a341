// Package broadcast propagates cache mutation events between independent
// cache instances ("tabs") that share no memory.
//
// # Protocol
//
// StorageChannel implements the write-then-delete pattern over a shared
// Storage. Publishing writes the encoded event under a single well-known
// key (DefaultKey) and removes it RemoveDelay later:
//
//	SetItem("app_cache_mutation", `{"type":"delete","payload":{"id":"rev-9","to_id":"u7"},...}`)
//	... 100ms ...
//	RemoveItem("app_cache_mutation")
//
// Removing the item makes the next write an absent-to-present change, which
// every watcher observes even if the new event is byte-identical to the last.
// Receivers only act on change notifications for the well-known key that
// carry a value; the remove notification is ignored.
//
// Each channel has an Origin. Events are stamped with it on publish and, by
// default, receivers drop events carrying their own origin. A publisher is
// expected to invalidate locally before it broadcasts.
//
// # Transports
//
//   - MemoryStorage: process local, synchronous watchers; good for tests and
//     for several caches inside one process
//   - RedisStorage: the same protocol over redis strings plus a pub/sub
//     channel announcing every change
//   - RedisChannel: skips the mailbox and publishes events directly on a
//     redis pub/sub channel, msgpack encoded by default
//
// # Failure Policy
//
// Delivery is best effort and unordered. Encoding and decoding failures are
// logged and skipped. A missing or failing transport makes Publish and
// Subscribe return errors wrapping ErrUnavailable; callers are expected to
// log them and carry on with local caching only.
package broadcast
