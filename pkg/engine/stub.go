package engine

import (
	"context"
	"sync"
)

// StubCall records one Stream invocation made against a StubStreamer.
type StubCall struct {
	Prompt string
	Opts   StreamOptions
}

// StubStreamer replays a scripted event sequence instead of launching the
// engine. Used by hub and API tests to exercise streaming behavior without
// a CLI on the machine.
type StubStreamer struct {
	// Script is emitted in order on every Stream call.
	Script []Event

	// FinishErr terminates the stream after the script (nil = normal end).
	FinishErr error

	// StartErr, when set, fails Stream immediately.
	StartErr error

	// Hold keeps the stream open after the script until the caller's
	// context is cancelled; the stream then ends with ErrCancelled.
	Hold bool

	mu    sync.Mutex
	calls []StubCall
}

// Stream implements Streamer.
func (f *StubStreamer) Stream(ctx context.Context, prompt string, opts StreamOptions) (*Stream, error) {
	f.mu.Lock()
	f.calls = append(f.calls, StubCall{Prompt: prompt, Opts: opts})
	f.mu.Unlock()

	if f.StartErr != nil {
		return nil, f.StartErr
	}

	s := newStream(len(f.Script) + 1)
	go func() {
		for _, ev := range f.Script {
			if !s.emit(ctx, ev) {
				s.finish(ErrCancelled)
				return
			}
		}
		if f.Hold {
			<-ctx.Done()
			s.finish(ErrCancelled)
			return
		}
		s.finish(f.FinishErr)
	}()
	return s, nil
}

// Calls returns a copy of the recorded invocations.
func (f *StubStreamer) Calls() []StubCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]StubCall, len(f.calls))
	copy(out, f.calls)
	return out
}
