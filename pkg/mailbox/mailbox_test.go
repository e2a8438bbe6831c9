package mailbox

import (
	"context"
	"testing"
	"time"

	"github.com/kadirpekel/agentcore/pkg/action"
)

func TestBus_DeliverAndDrain(t *testing.T) {
	b := NewBus(4, time.Second)
	ctx := context.Background()

	msg := action.AgentMessage{From: "a", To: "b", Kind: action.MessageKindPeer, Payload: "hi"}
	if err := b.Deliver(ctx, msg); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	got := b.Drain("b")
	if len(got) != 1 || got[0].Payload != "hi" {
		t.Fatalf("Drain() = %+v, want one message with payload hi", got)
	}

	if more := b.Drain("b"); len(more) != 0 {
		t.Errorf("second Drain() = %+v, want empty", more)
	}
}

func TestBus_OrderingPerSenderReceiverPair(t *testing.T) {
	b := NewBus(8, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		msg := action.AgentMessage{From: "a", To: "b", Kind: action.MessageKindPeer, Payload: string(rune('0' + i))}
		if err := b.Deliver(ctx, msg); err != nil {
			t.Fatalf("Deliver() error = %v", err)
		}
	}

	got := b.Drain("b")
	if len(got) != 3 {
		t.Fatalf("len(Drain()) = %d, want 3", len(got))
	}
	for i, msg := range got {
		want := string(rune('0' + i))
		if msg.Payload != want {
			t.Errorf("got[%d].Payload = %q, want %q", i, msg.Payload, want)
		}
	}
}

func TestBus_WaitForAny_WakesOnDeliver(t *testing.T) {
	b := NewBus(4, time.Second)
	ctx := context.Background()

	done := make(chan []action.AgentMessage, 1)
	go func() {
		msgs, err := b.WaitForAny(ctx, "b")
		if err != nil {
			t.Errorf("WaitForAny() error = %v", err)
		}
		done <- msgs
	}()

	time.Sleep(20 * time.Millisecond)
	if err := b.Deliver(ctx, action.AgentMessage{From: "a", To: "b", Payload: "wake up"}); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	select {
	case msgs := <-done:
		if len(msgs) != 1 || msgs[0].Payload != "wake up" {
			t.Errorf("got %+v", msgs)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForAny() did not return after delivery")
	}
}

func TestBus_WaitForAny_TimesOut(t *testing.T) {
	b := NewBus(4, 20*time.Millisecond)
	_, err := b.WaitForAny(context.Background(), "nobody")
	if err == nil {
		t.Fatal("WaitForAny() error = nil, want timeout error")
	}
}

func TestBus_WaitForAny_RespectsContextCancel(t *testing.T) {
	b := NewBus(4, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.WaitForAny(ctx, "anyone")
	if err != context.Canceled {
		t.Errorf("WaitForAny() error = %v, want context.Canceled", err)
	}
}

func TestBus_Deliver_BackpressureTimesOut(t *testing.T) {
	b := NewBus(1, 20*time.Millisecond)
	ctx := context.Background()

	if err := b.Deliver(ctx, action.AgentMessage{From: "a", To: "b"}); err != nil {
		t.Fatalf("first Deliver() error = %v", err)
	}

	err := b.Deliver(ctx, action.AgentMessage{From: "a", To: "b"})
	if err == nil {
		t.Fatal("second Deliver() error = nil, want backpressure timeout")
	}
}

func TestBus_Pending(t *testing.T) {
	b := NewBus(4, time.Second)
	ctx := context.Background()
	_ = b.Deliver(ctx, action.AgentMessage{From: "a", To: "b"})
	_ = b.Deliver(ctx, action.AgentMessage{From: "a", To: "b"})

	if got := b.Pending("b"); got != 2 {
		t.Errorf("Pending() = %d, want 2", got)
	}
}
