// Package inflight coalesces concurrent identical tool calls.
//
// The first caller for a key becomes the Leader and performs the real
// dispatch; every other caller becomes a Follower and waits on the same Slot.
// Resolve broadcasts one immutable result to all waiters by closing the slot's
// done channel, then removes the slot from the registry.
//
// A Follower bounds its wait. When the bound elapses it can Abandon the stale
// slot and join again, becoming the Leader of a fresh attempt.
package inflight
