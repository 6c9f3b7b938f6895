// Package engine keeps a client's view of one organization in step with
// the server.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Broker deliveries, fetch completions and caller requests (Open, Close,
// ViewChannel) all go through one FIFO queue, drained by Engine.Run in a
// single goroutine. No two dispatches run in parallel, and events are
// handled in broker delivery order.
//
// Event Processing Flow:
//  1. ConnectionManager subscribes to "organisation-<id>" and binds a
//     fresh Router to every event on it
//  2. The broker calls the Router from its own goroutine; the Router
//     enqueues
//  3. Run dequeues and calls Router.Handle: decode, self-origin filter,
//     name parsing, scope check, then the dispatch table
//  4. Channel events patch ChannelListCache in place; organization and
//     message events start a fetch
//  5. Fetches run off the loop; the result is enqueued as a completion
//     and applied on the loop if its organization is still active
//
// Messages are never patched from a notification: the list is always
// re-fetched whole, so overlapping refreshes converge on server state
// whichever finishes last.
//
// Every processed event yields an Outcome (applied, or a DropReason)
// which is logged and, when configured, written to the journal.
package engine
