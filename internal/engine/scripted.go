// ABOUTME: Scripted in-memory engine for tests and local development
// ABOUTME: Replays a fixed event sequence with optional per-event delay

package engine

import (
	"context"
	"time"
)

// ScriptedEngine replays a predefined event sequence in tests.
type ScriptedEngine struct {
	Script []Event
	Delay  time.Duration // Pause before each event, zero for immediate
	Err    error         // Returned from Process instead of running the script
	Down   bool          // Makes Ready report false
}

// Process replays the script on a fresh channel. Context cancellation stops
// replay at the next event boundary.
func (s *ScriptedEngine) Process(ctx context.Context, req Request) (<-chan Event, error) {
	if s.Err != nil {
		return nil, s.Err
	}

	events := make(chan Event)
	script := make([]Event, len(s.Script))
	copy(script, s.Script)

	go func() {
		defer close(events)
		for _, ev := range script {
			if s.Delay > 0 {
				select {
				case <-time.After(s.Delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Terminal() {
				return
			}
		}
	}()

	return events, nil
}

// Ready reports the scripted availability flag
func (s *ScriptedEngine) Ready(ctx context.Context) bool {
	return !s.Down
}
