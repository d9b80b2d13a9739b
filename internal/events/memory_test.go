package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus_DeliversOncePerGroup(t *testing.T) {
	bus := NewMemoryBus(3, nil)
	ctx := context.Background()

	var a, b, other atomic.Int32
	for _, counter := range []*atomic.Int32{&a, &b} {
		c := counter
		_, err := bus.Subscribe(ctx, SubjectInteractionFinished, "evaluators", func(_ context.Context, msg Message) error {
			var ev InteractionFinished
			assert.NoError(t, msg.Decode(&ev))
			assert.Equal(t, sampleInteraction.InteractionID, ev.Interaction.InteractionID)
			c.Add(1)
			return nil
		})
		require.NoError(t, err)
	}
	_, err := bus.Subscribe(ctx, SubjectInteractionFinished, "auditors", func(context.Context, Message) error {
		other.Add(1)
		return nil
	})
	require.NoError(t, err)

	for _, id := range []string{"1", "2", "2", "3", "4"} {
		require.NoError(t, bus.Publish(ctx, SubjectInteractionFinished, "evaluate-"+id, InteractionFinished{Interaction: sampleInteraction}))
	}
	bus.Wait()

	assert.EqualValues(t, 4, a.Load()+b.Load())
	assert.EqualValues(t, 2, a.Load())
	assert.EqualValues(t, 4, other.Load())
}

func TestMemoryBus_Redelivery(t *testing.T) {
	bus := NewMemoryBus(3, nil)
	ctx := context.Background()

	var transient, permanent atomic.Int32
	_, err := bus.Subscribe(ctx, SubjectEvaluationFinished, "enrichers", func(_ context.Context, msg Message) error {
		transient.Add(1)
		if msg.Delivery < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, SubjectInteractionFinished, "evaluators", func(context.Context, Message) error {
		permanent.Add(1)
		return Permanent(errors.New("bad"))
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, SubjectEvaluationFinished, "", EvaluationFinished{}))
	require.NoError(t, bus.Publish(ctx, SubjectInteractionFinished, "", InteractionFinished{}))
	bus.Wait()

	assert.EqualValues(t, 2, transient.Load())
	assert.EqualValues(t, 1, permanent.Load())
}

func TestMemoryBus_CloseAndUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(0, nil)
	ctx := context.Background()

	var calls atomic.Int32
	sub, err := bus.Subscribe(ctx, SubjectInteractionFinished, "g", func(context.Context, Message) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	require.NoError(t, bus.Publish(ctx, SubjectInteractionFinished, "x", InteractionFinished{}))
	bus.Wait()
	assert.Zero(t, calls.Load())

	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(ctx, SubjectInteractionFinished, "y", nil), ErrBusClosed)
	_, err = bus.Subscribe(ctx, SubjectInteractionFinished, "g", nil)
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestMessage_DecodeIsPermanent(t *testing.T) {
	var v InteractionFinished
	err := Message{Subject: "s", Data: []byte("{not json")}.Decode(&v)
	assert.True(t, IsPermanent(err))
	assert.Nil(t, Permanent(nil))
}
