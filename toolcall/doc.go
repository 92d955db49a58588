// Package toolcall dispatches an agent's tool calls through a per-session
// result cache and single-flight registry.
//
// A Runtime serves one session. Every call is keyed by its tool, canonical
// arguments, session and (for turn-scoped tools) turn. Calls to cacheable
// tools are answered from the cache when possible; identical concurrent
// calls to dedupeable tools share one real dispatch; everything else goes
// straight to the Dispatcher.
//
// A Manager hosts many sessions, captures the allowlist snapshot each
// session runs under, and emits turn and session end events to subscribers.
package toolcall
