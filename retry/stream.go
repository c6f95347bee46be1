package retry

import (
	"context"

	"github.com/vinayprograms/bookshelf/llm"
)

// StreamSpec describes one streaming agent call.
type StreamSpec struct {
	Name      string
	Request   llm.ChatRequest
	Policy    Policy
	OnAttempt func(Attempt)
}

// Stream runs spec and delivers its output to emit as Text events, waiting
// and degradation notices as Notice events and a final Stats event. An
// error returned by emit stops the stream and is returned unchanged.
func (c *Caller) Stream(ctx context.Context, spec StreamSpec, emit func(llm.Event) error) (llm.Statistics, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		emitted bool
		emitErr error
	)
	invoke := func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		resp, err := c.provider.ChatStream(ctx, req, func(delta string) error {
			if delta == "" {
				return nil
			}
			emitted = true
			if err := emit(llm.TextEvent(delta)); err != nil {
				emitErr = err
				cancel()
				return err
			}
			return nil
		})
		if err != nil && emitted {
			return nil, &partialError{err: err}
		}
		return resp, err
	}

	stats, _, err := run(ctx, c, Spec[struct{}]{
		Name:    spec.Name,
		Request: spec.Request,
		Policy:  spec.Policy,
		Parse:   func(string) (struct{}, error) { return struct{}{}, nil },
		Notify: func(msg string) {
			if emitErr == nil {
				if emitErr = emit(llm.NoticeEvent(msg)); emitErr != nil {
					cancel()
				}
			}
		},
		OnAttempt: spec.OnAttempt,
	}, invoke)
	if emitErr != nil {
		return stats, emitErr
	}
	if err != nil {
		return stats, err
	}
	if err := emit(llm.StatsEvent(stats)); err != nil {
		return stats, err
	}
	return stats, nil
}
