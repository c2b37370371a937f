// Package conversation tracks ordered multi-agent message logs keyed by
// conversation id.
//
// Logs are append-only: messages are never edited or removed except by
// whole-conversation expiry, which is delegated to the backing store.
// A memory store and a GORM-backed store are provided.
package conversation
