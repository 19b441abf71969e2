// Package state implements per-correspondent conversational state machines.
//
// Every correspondent owns at most one Envelope: the current State plus an
// application-defined global value. A Machine maps state kinds to handlers,
// settles transitions (a handler entering a new state immediately enters it)
// and routes incoming messages and callbacks to the handler of the current
// state. Envelopes are kept in a Store; MemoryStore is the default, durable
// backends live in the sqlstore and redisstore subpackages.
package state
