package hub

import (
	"testing"
	"time"

	"github.com/nyumbanilabs/nyumbani/internal/paymentstatus/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func update(checkoutRequestID string, status domain.Status, at time.Time) domain.Update {
	return domain.Update{CheckoutRequestID: checkoutRequestID, Status: status, At: at}
}

func TestPublishSubscribe(t *testing.T) {
	h := NewHub()

	sub, snapshot, err := h.Subscribe("ws_CO_1")
	require.NoError(t, err)
	defer sub.Close()
	assert.Nil(t, snapshot)

	sent := update("ws_CO_1", domain.StatusCompleted, time.Now())
	h.Publish([]string{"ws_CO_1"}, sent)

	select {
	case got := <-sub.Updates():
		assert.Equal(t, domain.StatusCompleted, got.Status)
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}
}

func TestSubscribeReturnsLastState(t *testing.T) {
	h := NewHub()

	h.Publish([]string{"ws_CO_1"}, update("ws_CO_1", domain.StatusPending, time.Now()))

	// The pre-subscribe publish created the stream, so a late subscriber
	// still sees the current state as its snapshot.
	sub, snapshot, err := h.Subscribe("ws_CO_1")
	require.NoError(t, err)
	defer sub.Close()
	require.NotNil(t, snapshot)
	assert.Equal(t, domain.StatusPending, snapshot.Status)
}

func TestConsecutiveIdenticalStatesAreDropped(t *testing.T) {
	h := NewHub()

	sub, _, err := h.Subscribe("ws_CO_1")
	require.NoError(t, err)
	defer sub.Close()

	at := time.Now()
	h.Publish([]string{"ws_CO_1"}, update("ws_CO_1", domain.StatusCompleted, at))
	h.Publish([]string{"ws_CO_1"}, update("ws_CO_1", domain.StatusCompleted, at.Add(time.Second)))

	<-sub.Updates()
	select {
	case got := <-sub.Updates():
		t.Fatalf("duplicate state delivered: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberNeverBlocksPublish(t *testing.T) {
	h := NewHub()

	sub, _, err := h.Subscribe("ws_CO_1")
	require.NoError(t, err)
	defer sub.Close()

	// Nobody drains the channel; publishes beyond the buffer are dropped,
	// not blocked on.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < DefaultSubscriberBuffer*4; i++ {
			code := i
			h.Publish([]string{"ws_CO_1"}, domain.Update{
				CheckoutRequestID: "ws_CO_1",
				Status:            domain.StatusPending,
				ResultCode:        &code,
			})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestPublishFansOutToAllKeys(t *testing.T) {
	h := NewHub()

	byCheckout, _, err := h.Subscribe("ws_CO_1")
	require.NoError(t, err)
	defer byCheckout.Close()
	byInvoice, _, err := h.Subscribe("invoice:123")
	require.NoError(t, err)
	defer byInvoice.Close()

	h.Publish([]string{"ws_CO_1", "invoice:123"}, update("ws_CO_1", domain.StatusCompleted, time.Now()))

	for _, sub := range []*Subscription{byCheckout, byInvoice} {
		select {
		case got := <-sub.Updates():
			assert.Equal(t, domain.StatusCompleted, got.Status)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed the fan-out")
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	h := NewHub()

	sub, _, err := h.Subscribe("ws_CO_1")
	require.NoError(t, err)
	sub.Close()
	sub.Close()

	// The stream is gone once its last subscriber leaves.
	h.mu.RLock()
	_, exists := h.streams["ws_CO_1"]
	h.mu.RUnlock()
	assert.False(t, exists)
}
