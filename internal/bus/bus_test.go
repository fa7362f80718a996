package bus

import (
	"sync"
	"testing"
	"time"
)

func TestPublishReachesSubscriber(t *testing.T) {
	d := New()
	_, ch := d.Subscribe(SignalNotificationReceived)

	d.Publish(SignalNotificationReceived, "payload")
	select {
	case got := <-ch:
		if got != "payload" {
			t.Fatalf("unexpected payload: %v", got)
		}
	default:
		t.Fatalf("expected delivery")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	d := New()
	id, ch := d.Subscribe(SignalListenerReady)
	d.Unsubscribe(SignalListenerReady, id)

	if _, open := <-ch; open {
		t.Fatalf("expected channel closed")
	}
	// Publish to a signal with no subscribers must not panic.
	d.Publish(SignalListenerReady, nil)
}

func TestPublishRacingUnsubscribeDoesNotPanic(t *testing.T) {
	d := New()
	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				d.Publish(SignalNotificationReceived, "n")
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				id, _ := d.Subscribe(SignalNotificationReceived)
				d.Unsubscribe(SignalNotificationReceived, id)
			}
		}
	}()

	time.Sleep(200 * time.Millisecond)
	close(stop)
	wg.Wait()
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	d := New()
	_, ch := d.Subscribe(SignalNotificationReceived)
	for i := 0; i < 20; i++ {
		d.Publish(SignalNotificationReceived, i)
	}
	// The buffer holds the first deliveries; the rest are dropped.
	if got := <-ch; got != 0 {
		t.Fatalf("expected first payload, got %v", got)
	}
}
