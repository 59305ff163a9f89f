// Package bridge converts one reasoning engine invocation into an ordered,
// liveness-checked stream of outbound frames.
//
// # Run Lifecycle
//
// A run starts from a validated client request and moves through a fixed
// state machine:
//
//	IDLE → RUNNING → (THINKING ⇄ TOOL_CALL ⇄ TOOL_RESULT)* → FINALIZING → DONE
//	                                                       ↘ ERROR → DONE
//
// Every engine event maps 1:1 to an outbound frame in production order.
// A heartbeat timer runs concurrently for the life of the run and writes
// heartbeat frames onto the same stream; it is always stopped and awaited
// before the terminal frame, so the stream contains exactly one terminal
// frame (final or error) and nothing after it.
//
// # Persistence
//
// After the final frame is queued, the run's user turn, tool turns, and
// assistant turn are appended to the session store exactly once. The append
// uses a detached context so a client disconnect immediately after the
// final frame does not lose history. Append failures are retried once and
// then logged; they never re-open the frame stream.
//
// # Cancellation
//
// Cancelling the run context (connection loss, client disconnect) stops the
// heartbeat, abandons the engine invocation, and closes the frame channel
// without emitting further frames.
package bridge
