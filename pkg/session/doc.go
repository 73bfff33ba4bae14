// Package session stores per-browser state for the admin backend.
//
// A session holds the authenticated user id, the current tenant pointer and,
// while impersonating, the original user id. Multi-key changes go through
// Update so that the pair user_id/original_user_id is never observed half
// written.
//
// Two stores are provided: RedisStore (one hash per session, MULTI/EXEC for
// updates, TTL refreshed on write) and MemoryStore for tests and single-node
// setups.
package session
