package eventbus

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	b := New(WithClock(clockwork.NewFakeClockAt(at)))

	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: JobSucceeded, Data: JobEvent{Job: "feed"}})

	for i, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != JobSucceeded || !e.Time.Equal(at) {
			t.Fatalf("sub %d got %+v", i, e)
		}
		if d, ok := e.Data.(JobEvent); !ok || d.Job != "feed" {
			t.Fatalf("sub %d data = %#v", i, e.Data)
		}
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatalf("channel not closed after unsubscribe")
	}
	b.Publish(Event{Type: JobFailed})
	if e := <-c; e.Type != JobFailed {
		t.Fatalf("remaining sub got %+v", e)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: JobScheduled})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Publish blocked on a full subscriber")
	}
	if len(ch) != 1 {
		t.Fatalf("buffered = %d, want 1", len(ch))
	}
}
