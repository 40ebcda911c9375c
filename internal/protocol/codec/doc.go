// Package codec owns the incremental BER decoding engine.
//
// Ownership boundary:
// - grammar tables: immutable (state, tag) -> transition maps, built once
// - decode sessions: per-connection cursor, length stack and frame stack
// - the driver loop that advances a session over newly arrived bytes
//
// A protocol describes each message type as a Grammar. The engine never
// interprets message semantics; grammar actions do, against the typed target
// the active frame is building.
//
// Sessions are owned by exactly one goroutine. Grammars are shared by all
// sessions and never mutated after Build.
package codec
