package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/odvcencio/inteldesk/pkg/bus"
	"github.com/odvcencio/inteldesk/pkg/intel"
	"github.com/odvcencio/inteldesk/pkg/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type pushes struct {
	mu   sync.Mutex
	seen [][]intel.OpenIntelDelivery
}

func (p *pushes) handle(operationID string, deliveries []intel.OpenIntelDelivery) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, deliveries)
}

func (p *pushes) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

func controlRecorder(t *testing.T, b bus.MessageBus, subject string) chan string {
	t.Helper()
	ch := make(chan string, 8)
	sub, err := b.Subscribe(context.Background(), subject, func(msg *bus.Message) []byte {
		var ctl wire.ControlMessage
		if err := wire.Decode(msg.Data, &ctl); err == nil {
			ch <- ctl.OperationID
		}
		return nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	return ch
}

func publishPush(t *testing.T, b bus.MessageBus, operationID string, ids ...string) {
	t.Helper()
	push := wire.OpenDeliveriesPush{OperationID: operationID}
	for _, id := range ids {
		push.Deliveries = append(push.Deliveries, intel.OpenIntelDelivery{
			Delivery: intel.Delivery{ID: id},
			Intel:    intel.IntelSummary{OperationID: operationID},
		})
	}
	data, err := wire.Encode(push)
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), wire.OpenDeliveriesSubject(operationID), data))
}

func TestFeed_SubscribeAnnouncesAndDelivers(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()
	subscribed := controlRecorder(t, b, wire.ControlSubscribe)
	unsubscribed := controlRecorder(t, b, wire.ControlUnsubscribe)

	f := New(b, nil)
	var got pushes
	h, err := f.SubscribeOpenDeliveries(context.Background(), "op-1", got.handle)
	require.NoError(t, err)

	select {
	case op := <-subscribed:
		assert.Equal(t, "op-1", op)
	case <-time.After(time.Second):
		t.Fatal("no subscribe announcement")
	}

	publishPush(t, b, "op-1", "d-1", "d-2")
	publishPush(t, b, "op-2", "d-9")
	require.Eventually(t, func() bool { return got.count() == 1 }, time.Second, 5*time.Millisecond)

	got.mu.Lock()
	require.Len(t, got.seen[0], 2)
	assert.Equal(t, "d-1", got.seen[0][0].ID())
	got.mu.Unlock()

	require.NoError(t, h.Unsubscribe())
	require.NoError(t, h.Unsubscribe())
	select {
	case op := <-unsubscribed:
		assert.Equal(t, "op-1", op)
	case <-time.After(time.Second):
		t.Fatal("no unsubscribe announcement")
	}

	publishPush(t, b, "op-1", "d-3")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, got.count())
	assert.Empty(t, unsubscribed, "unsubscribe announced once")
}

func TestFeed_DropsUndecodablePush(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()

	f := New(b, nil)
	var got pushes
	h, err := f.SubscribeOpenDeliveries(context.Background(), "op-1", got.handle)
	require.NoError(t, err)
	defer h.Unsubscribe()

	require.NoError(t, b.Publish(context.Background(), wire.OpenDeliveriesSubject("op-1"), []byte("not json")))
	publishPush(t, b, "op-1", "d-1")

	require.Eventually(t, func() bool { return got.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestFeed_PushesArriveInOrder(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()

	f := New(b, nil)
	var got pushes
	h, err := f.SubscribeOpenDeliveries(context.Background(), "op-1", got.handle)
	require.NoError(t, err)
	defer h.Unsubscribe()

	for i := 0; i < 20; i++ {
		ids := make([]string, i)
		for j := range ids {
			ids[j] = "d"
		}
		publishPush(t, b, "op-1", ids...)
	}
	require.Eventually(t, func() bool { return got.count() == 20 }, time.Second, 5*time.Millisecond)

	got.mu.Lock()
	defer got.mu.Unlock()
	for i, seen := range got.seen {
		assert.Len(t, seen, i)
	}
}

func TestFeed_ClosedBus(t *testing.T) {
	b := bus.NewMemoryBus()
	require.NoError(t, b.Close())

	_, err := New(b, nil).SubscribeOpenDeliveries(context.Background(), "op-1", func(string, []intel.OpenIntelDelivery) {})
	assert.Error(t, err)
}
