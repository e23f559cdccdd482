package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("directory.", 10)
	defer unsub()

	b.Publish(Event{Kind: "directory.updated", At: time.Now(), Data: 3})

	select {
	case evt := <-ch:
		if evt.Kind != "directory.updated" {
			t.Errorf("got kind %q, want directory.updated", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPrefixFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	b.Publish(Event{Kind: "directory.updated"})
	b.Publish(Event{Kind: "message.upserted"})

	select {
	case evt := <-ch:
		if evt.Kind != "message.upserted" {
			t.Errorf("got kind %q, want message.upserted", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected second event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	unsub()

	b.Publish(Event{Kind: "message.upserted"})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropWhenBufferFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("upload.", 1)
	defer unsub()

	b.Publish(Event{Kind: "upload.progress", Data: 10})
	b.Publish(Event{Kind: "upload.progress", Data: 90})

	evt := <-ch
	if evt.Data != 10 {
		t.Errorf("got %v, want first published event", evt.Data)
	}
	select {
	case evt := <-ch:
		t.Errorf("second event should have been dropped, got %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}
