package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-friendchat/internal/presence"
)

func receive(t *testing.T, r Relay) Delivery {
	t.Helper()
	select {
	case d := <-r.Deliveries():
		return d
	case <-time.After(time.Second):
		t.Fatal("no delivery")
		return Delivery{}
	}
}

func TestBusFansOutToEverySubscriberInOrder(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe()
	b := bus.Subscribe()
	defer a.Close()
	defer b.Close()

	ctx := context.Background()
	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, a.Publish(ctx, Delivery{Group: presence.UserGroup("u1"), Payload: []byte(id)}))
	}

	for _, sub := range []Relay{a, b} {
		for _, want := range []string{"1", "2", "3"} {
			assert.Equal(t, want, string(receive(t, sub).Payload))
		}
	}
}

func TestLoopbackPublishNeverBlocksOnItsOwnConsumer(t *testing.T) {
	bus := NewBus()
	l := bus.Subscribe()
	defer l.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5000; i++ {
			_ = l.Publish(context.Background(), Delivery{Group: presence.UserGroup("u1")})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked")
	}
}

func TestLoopbackClose(t *testing.T) {
	bus := NewBus()
	l := bus.Subscribe()
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.ErrorIs(t, l.Publish(context.Background(), Delivery{}), ErrClosed)
	_, ok := <-l.Deliveries()
	assert.False(t, ok)
}

func TestDeliveryWireFormat(t *testing.T) {
	d := Delivery{
		Group:     presence.ConversationGroup("a-b"),
		Except:    "c1",
		Payload:   []byte(`{"event":"user-typing"}`),
		AddFriend: "u9",
	}
	data, err := json.Marshal(d)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, map[string]interface{}{"kind": "conversation", "id": "a-b"}, m["group"])
	assert.Equal(t, "c1", m["except"])
	assert.Equal(t, "u9", m["addFriend"])
}
