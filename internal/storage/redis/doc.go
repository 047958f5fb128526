// Package redis provides the Redis-backed wizard session store. Sessions are
// stored as JSON under a configurable key prefix with a sliding TTL, and
// writes are guarded by WATCH/MULTI so that concurrent requests for the same
// session cannot silently overwrite each other.
package redis
