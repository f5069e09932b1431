// Package board provides type-safe Go definitions and Redis schema patterns
// for the Drover work board. The board is the shared durable store through
// which all Drover agent processes coordinate: work items, claims, agent
// instance registrations, handoff records and the activity audit trail all
// live here.
//
// All Redis keys and channels are namespaced by pipeline name so that multiple
// Drover pipelines can safely coexist on a single Redis server.
//
// The orchestration layer holds no in-memory source of truth: every read is a
// snapshot that may be stale by the time a write is attempted, and the only
// cross-instance coordination point is the atomic claim primitive (Claim /
// Release), implemented as server-side Lua scripts.
package board
