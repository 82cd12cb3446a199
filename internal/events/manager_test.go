package events

import (
	"sync"
	"testing"
	"time"
)

func TestPublishReachesSubscriber(t *testing.T) {
	m := NewManager(16)
	ch := m.Subscribe("conv-1", 8)
	defer m.Unsubscribe("conv-1", ch)

	m.Publish("conv-1", Event{ConversationID: "conv-1", Type: TypeFragmentAppended, Fragment: "hello"})

	select {
	case ev := <-ch:
		if ev.Type != TypeFragmentAppended || ev.Fragment != "hello" {
			t.Errorf("event = %+v", ev)
		}
		if ev.Seq != 0 {
			t.Errorf("first Seq = %d, want 0", ev.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestPublishIsolatesConversations(t *testing.T) {
	m := NewManager(16)
	ch := m.Subscribe("conv-a", 8)
	defer m.Unsubscribe("conv-a", ch)

	m.Publish("conv-b", Event{ConversationID: "conv-b", Type: TypeMessageCompleted})

	select {
	case ev := <-ch:
		t.Errorf("leaked event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReplaySince(t *testing.T) {
	m := NewManager(16)
	for i := 0; i < 5; i++ {
		m.Publish("conv-1", Event{ConversationID: "conv-1", Type: TypeFragmentAppended})
	}

	replayed := m.ReplaySince("conv-1", 2)
	if len(replayed) != 2 {
		t.Fatalf("got %d events, want 2", len(replayed))
	}
	if replayed[0].Seq != 3 || replayed[1].Seq != 4 {
		t.Errorf("seqs = %d,%d, want 3,4", replayed[0].Seq, replayed[1].Seq)
	}
}

func TestReplayBoundedByCapacity(t *testing.T) {
	m := NewManager(4)
	for i := 0; i < 10; i++ {
		m.Publish("conv-1", Event{ConversationID: "conv-1"})
	}
	replayed := m.ReplaySince("conv-1", 0)
	if len(replayed) != 4 {
		t.Fatalf("got %d events, want ring capacity 4", len(replayed))
	}
	if replayed[0].Seq != 6 {
		t.Errorf("oldest retained Seq = %d, want 6", replayed[0].Seq)
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	m := NewManager(16)
	ch := m.Subscribe("conv-1", 1)
	defer m.Unsubscribe("conv-1", ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			m.Publish("conv-1", Event{ConversationID: "conv-1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

// Publishers racing subscriber churn on the same conversation must not
// trip concurrent map access or send on a closed channel. Run with
// -race to verify delivery synchronization.
func TestConcurrentPublishAndSubscriberChurn(t *testing.T) {
	m := NewManager(32)
	const conversationID = "conv-1"

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					m.Publish(conversationID, Event{ConversationID: conversationID, Type: TypeFragmentAppended})
				}
			}
		}()
	}

	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				ch := m.Subscribe(conversationID, 1)
				// Drain at most one event, then disconnect mid-traffic.
				select {
				case <-ch:
				default:
				}
				m.Unsubscribe(conversationID, ch)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		time.Sleep(200 * time.Millisecond)
		close(stop)
	}()
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("publishers and churners did not finish")
	}
}

func TestForgetDropsHistory(t *testing.T) {
	m := NewManager(16)
	m.Publish("conv-1", Event{ConversationID: "conv-1"})
	m.Forget("conv-1")
	if replayed := m.ReplaySince("conv-1", 0); replayed != nil {
		t.Errorf("replay after Forget = %+v", replayed)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	m := NewManager(16)
	ch := m.Subscribe("conv-1", 1)
	m.Unsubscribe("conv-1", ch)
	if _, open := <-ch; open {
		t.Error("channel still open after Unsubscribe")
	}
	// Second unsubscribe of the same channel is a no-op.
	m.Unsubscribe("conv-1", ch)
}
