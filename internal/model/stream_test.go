package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// FakeClient replays a fixed event sequence, for exercising the turn
// engine and streaming controller without a real model backend.
type FakeClient struct {
	Events []StreamEvent
}

func (f *FakeClient) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	ch := make(chan StreamEvent, len(f.Events))
	for _, e := range f.Events {
		select {
		case <-ctx.Done():
			close(ch)
			return ch, ctx.Err()
		default:
		}
		ch <- e
	}
	close(ch)
	return ch, nil
}

func TestFakeClient_ReplaysEventsInOrder(t *testing.T) {
	fc := &FakeClient{Events: []StreamEvent{
		{Kind: EventTextDelta, TextDelta: "hello "},
		{Kind: EventTextDelta, TextDelta: "world"},
		{Kind: EventDone},
	}}

	ch, err := fc.Stream(context.Background(), Request{Model: "test-model"})
	require.NoError(t, err)

	var got []EventKind
	for e := range ch {
		got = append(got, e.Kind)
	}
	assert.Equal(t, []EventKind{EventTextDelta, EventTextDelta, EventDone}, got)
}

func TestFakeClient_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fc := &FakeClient{Events: []StreamEvent{{Kind: EventTextDelta, TextDelta: "x"}}}
	_, err := fc.Stream(ctx, Request{})
	assert.Error(t, err)
}
