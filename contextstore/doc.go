// Package contextstore provides the shared context store: key-addressed,
// access-controlled, expiring blobs used for cross-agent information
// exchange.
//
// Two backends are provided. MemoryStore is the default for development,
// testing and single-process deployments; RedisStore serves distributed
// deployments. Both enforce the same access model and optimistic
// versioning, so callers depend only on the Store interface.
package contextstore
