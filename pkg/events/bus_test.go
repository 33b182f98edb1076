package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe()
	b := bus.Subscribe()
	defer bus.Unsubscribe(a)
	defer bus.Unsubscribe(b)

	bus.Emit(BusEvent{Type: "task_update", TaskID: "t1"})

	for _, ch := range []chan BusEvent{a, b} {
		select {
		case evt := <-ch:
			assert.Equal(t, "task_update", evt.Type)
			assert.Equal(t, "t1", evt.TaskID)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBusEmitNeverBlocksOnFullQueue(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	// Overfill the queue; the extra events are dropped, not blocked on.
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultQueueSize+50; i++ {
			bus.Emit(BusEvent{Type: "step_update"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full subscriber queue")
	}
	assert.Len(t, ch, defaultQueueSize)
}

func TestBusUnsubscribeClosesAndForgets(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	require.Equal(t, 1, bus.SubscriberCount())

	bus.Unsubscribe(ch)
	assert.Equal(t, 0, bus.SubscriberCount())
	_, open := <-ch
	assert.False(t, open)

	// Double unsubscribe is a no-op, not a double close.
	bus.Unsubscribe(ch)
}

func TestFormatSSE(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 500_000_000, time.UTC)
	out := string(FormatSSE(BusEvent{
		Type: "chat_message",
		Seq:  42,
		Data: json.RawMessage(`{"role":"user","content":"hi"}`),
		TS:   ts,
	}))

	assert.Contains(t, out, "event: chat_message\n")
	assert.Contains(t, out, `"seq":42`)
	assert.Contains(t, out, `"role":"user"`)
	assert.True(t, len(out) > 4 && out[len(out)-2:] == "\n\n", "record must end with a blank line")

	var record struct {
		Type string  `json:"type"`
		TS   float64 `json:"ts"`
	}
	payload := out[len("event: chat_message\ndata: ") : len(out)-2]
	require.NoError(t, json.Unmarshal([]byte(payload), &record))
	assert.Equal(t, "chat_message", record.Type)
	assert.InDelta(t, float64(ts.UnixNano())/1e9, record.TS, 0.001)
}
