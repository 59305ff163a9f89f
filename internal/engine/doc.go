// Package engine defines the client interface to the external reasoning
// engine and its event model.
//
// An invocation is one-shot and finite: Process returns a receive channel
// that yields Events in production order and is closed after exactly one
// terminal event (final or error). The sequence is not restartable; callers
// wanting a retry issue a new Process call.
//
// Two implementations are provided:
//
//   - HTTPEngine: talks to a real engine over HTTP, decoding a
//     newline-delimited JSON stream from the /process endpoint and probing
//     /health for readiness.
//   - ScriptedEngine: replays a fixed sequence, for tests and local dry runs.
package engine
