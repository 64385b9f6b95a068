package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendStartAcknowledged(t *testing.T) {
	ch := make(chan ModuleAction)

	go func() {
		action := <-ch
		assert.Equal(t, ActionStart, action.Kind)
		assert.Equal(t, "edgeAgent", action.Module)
		assert.NotNil(t, action.Ready)
		close(action.Ready)
	}()

	start := time.Now()
	err := SendStart(context.Background(), ch, "edgeAgent")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), StartAckTimeout,
		"acknowledged start should not wait out the ack timeout")
}

func TestSendStartCancelledBeforeSend(t *testing.T) {
	// No consumer: the send itself blocks until the context ends.
	ch := make(chan ModuleAction)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := SendStart(ctx, ch, "edgeAgent")
	require.ErrorIs(t, err, context.Canceled)
}

func TestSendStartCancelledWhileWaitingForAck(t *testing.T) {
	ch := make(chan ModuleAction, 1)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- SendStart(ctx, ch, "edgeAgent")
	}()

	// The buffered send succeeds immediately; the sender is now waiting
	// on an acknowledgement that never comes.
	select {
	case action := <-ch:
		assert.Equal(t, ActionStart, action.Kind)
	case <-time.After(time.Second):
		t.Fatal("action was never sent")
	}

	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("SendStart did not return after cancellation")
	}
}

func TestSendNotifyDelivers(t *testing.T) {
	ch := make(chan ModuleAction, 1)

	SendNotify(ch, ActionRemove, "tempSensor")

	select {
	case action := <-ch:
		assert.Equal(t, ActionRemove, action.Kind)
		assert.Equal(t, "tempSensor", action.Module)
		assert.Nil(t, action.Ready)
	default:
		t.Fatal("notification was not delivered")
	}
}

func TestSendNotifyDropsWhenConsumerGone(t *testing.T) {
	ch := make(chan ModuleAction) // nobody receiving

	done := make(chan struct{})
	go func() {
		SendNotify(ch, ActionStop, "tempSensor")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SendNotify blocked on a missing consumer")
	}
}

func TestActionKindString(t *testing.T) {
	assert.Equal(t, "start", ActionStart.String())
	assert.Equal(t, "stop", ActionStop.String())
	assert.Equal(t, "remove", ActionRemove.String())
	assert.Equal(t, "action(42)", ActionKind(42).String())
}
