package bus

import (
	"sync"
	"testing"
	"time"
)

func TestEventBusBroadcastReachesAllSubscribers(t *testing.T) {
	b := NewEventBus()
	var mu sync.Mutex
	var got []string

	for _, name := range []string{"a", "b"} {
		name := name
		b.Subscribe(TypeWorkerHealth, "", func(msg Message) {
			mu.Lock()
			got = append(got, name)
			mu.Unlock()
		})
	}

	b.Publish(Message{Envelope: NewEnvelope(TypeWorkerHealth, "worker-1")})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})
}

func TestEventBusTargetedDeliveryIsScoped(t *testing.T) {
	b := NewEventBus()
	var mu sync.Mutex
	var gotTargeted, gotOther bool

	b.Subscribe(TypeCreditReturn, "worker-1", func(msg Message) {
		mu.Lock()
		gotTargeted = true
		mu.Unlock()
	})
	b.Subscribe(TypeCreditReturn, "worker-2", func(msg Message) {
		mu.Lock()
		gotOther = true
		mu.Unlock()
	})

	env := NewEnvelope(TypeCreditReturn, "timing-manager")
	env.TargetServiceID = "worker-1"
	b.Publish(Message{Envelope: env})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotTargeted
	})

	mu.Lock()
	defer mu.Unlock()
	if gotOther {
		t.Fatal("handler scoped to worker-2 should not have received a worker-1-targeted message")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition was not satisfied within timeout")
}
