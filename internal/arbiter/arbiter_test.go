package arbiter

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MouseAndKeyboard/tabanywhere/internal/provider"
	"github.com/MouseAndKeyboard/tabanywhere/internal/source"
)

// blockingClient answers requests when released, or fails on demand.
type blockingClient struct {
	calls   atomic.Int64
	answer  string
	err     error
	release chan struct{}
}

func newBlockingClient(answer string) *blockingClient {
	return &blockingClient{answer: answer, release: make(chan struct{}, 16)}
}

func (c *blockingClient) RequestCompletion(ctx context.Context, req provider.Request) (provider.Completion, error) {
	c.calls.Add(1)
	select {
	case <-c.release:
	case <-ctx.Done():
		return provider.Completion{}, ctx.Err()
	}
	if c.err != nil {
		return provider.Completion{}, c.err
	}
	return provider.Completion{Text: c.answer}, nil
}

func newArbiter(client provider.Client) (*Arbiter, chan Result) {
	results := make(chan Result, 16)
	a := New(client, time.Second, func(r Result) { results <- r }, nil)
	return a, results
}

func TestTriggerAndResponse(t *testing.T) {
	client := newBlockingClient("Hello world!")
	a, results := newArbiter(client)

	a.Trigger(1, 1, "Hello wor", source.FieldContext{Label: "Message"})
	client.release <- struct{}{}

	r := <-results
	require.Equal(t, uint64(1), r.Generation)
	require.NoError(t, r.Err)

	completion, ok := a.HandleResult(r, 1)
	require.True(t, ok)
	require.Equal(t, "Hello world!", completion.Text)
}

func TestTriggerDroppedWhenSessionMovedOn(t *testing.T) {
	client := newBlockingClient("x")
	a, _ := newArbiter(client)

	a.Trigger(3, 4, "text", source.FieldContext{})
	require.EqualValues(t, 0, client.calls.Load(), "provider must not be called for a stale trigger")

	_, pending := a.PendingGeneration()
	require.False(t, pending)
}

func TestSupersededResponseDiscarded(t *testing.T) {
	client := newBlockingClient("answer")
	a, results := newArbiter(client)

	a.Trigger(1, 1, "first", source.FieldContext{})
	a.Trigger(1, 1, "second", source.FieldContext{})

	// Release both in-flight calls; both results arrive.
	client.release <- struct{}{}
	client.release <- struct{}{}
	r1 := <-results
	r2 := <-results

	shown := 0
	for _, r := range []Result{r1, r2} {
		if _, ok := a.HandleResult(r, 1); ok {
			shown++
		}
	}
	require.Equal(t, 1, shown, "exactly one response may be displayed")
}

func TestStaleGenerationResponseDiscarded(t *testing.T) {
	client := newBlockingClient("late answer")
	a, results := newArbiter(client)

	a.Trigger(3, 3, "text", source.FieldContext{})
	// Session moves to generation 4 before the response arrives.
	client.release <- struct{}{}
	r := <-results

	_, ok := a.HandleResult(r, 4)
	require.False(t, ok, "generation-3 response must be discarded at generation 4")
}

func TestProviderErrorNotDisplayed(t *testing.T) {
	client := newBlockingClient("")
	client.err = errors.New("transport down")
	a, results := newArbiter(client)

	a.Trigger(1, 1, "text", source.FieldContext{})
	client.release <- struct{}{}
	r := <-results

	_, ok := a.HandleResult(r, 1)
	require.False(t, ok)

	// The failure is terminal for this request: no pending work remains
	// and no retry is scheduled.
	_, pending := a.PendingGeneration()
	require.False(t, pending)
}

func TestInvalidateSupersedesPending(t *testing.T) {
	client := newBlockingClient("answer")
	a, results := newArbiter(client)

	a.Trigger(1, 1, "text", source.FieldContext{})
	a.Invalidate()

	client.release <- struct{}{}
	r := <-results

	_, ok := a.HandleResult(r, 1)
	require.False(t, ok, "invalidated request's response must be discarded")
}

func TestSinglePendingPerGeneration(t *testing.T) {
	client := newBlockingClient("answer")
	a, _ := newArbiter(client)

	a.Trigger(1, 1, "a", source.FieldContext{})
	a.Trigger(1, 1, "ab", source.FieldContext{})
	a.Trigger(1, 1, "abc", source.FieldContext{})

	gen, pending := a.PendingGeneration()
	require.True(t, pending)
	require.Equal(t, uint64(1), gen)
	require.EqualValues(t, 3, client.calls.Load())
}
