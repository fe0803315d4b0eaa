// Package store persists posts and platform credentials.
//
// All drivers expose the same per-record atomic read-modify-write API; see
// the Store interface. Concurrent executors and token refreshes therefore
// never clobber each other's writes, no matter which backend is configured.
package store
