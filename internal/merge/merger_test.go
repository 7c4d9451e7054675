package merge

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

func newTestMerger(window time.Duration) *Merger {
	logger := zerolog.Nop()
	return NewMerger(window, &logger)
}

func TestInboundDeduplicatesByID(t *testing.T) {
	m := newTestMerger(5 * time.Second)

	p := proto.MessagePayload{
		ChatRoomID: "r1",
		ID:         "srv-1",
		SenderID:   "u2",
		Content:    "hello",
		CreatedAt:  1000,
	}
	m.ApplyInbound("r1", p)
	m.ApplyInbound("r1", p) // reconnect replay

	msgs := m.Messages("r1")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message after duplicate apply, got %d", len(msgs))
	}
}

func TestOptimisticReconciliationByCorrelationID(t *testing.T) {
	m := newTestMerger(5 * time.Second)

	sent := m.SendOptimistic("r1", "hi", "text", "me", "Me")
	if sent.Confirmed {
		t.Fatal("optimistic message must start unconfirmed")
	}

	m.ApplyInbound("r1", proto.MessagePayload{
		ChatRoomID:  "r1",
		ID:          "srv-9",
		SenderID:    "me",
		Content:     "hi",
		ClientMsgID: sent.ClientMsgID,
		CreatedAt:   time.Now().UnixMilli(),
	})

	msgs := m.Messages("r1")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message after echo, got %d", len(msgs))
	}
	if msgs[0].ID != "srv-9" || !msgs[0].Confirmed {
		t.Fatalf("echo not reconciled: %+v", msgs[0])
	}
}

func TestOptimisticReconciliationByContentFallback(t *testing.T) {
	m := newTestMerger(5 * time.Second)

	m.SendOptimistic("r1", "hi", "text", "me", "Me")

	// Server that does not echo client_msg_id.
	m.ApplyInbound("r1", proto.MessagePayload{
		ChatRoomID: "r1",
		ID:         "srv-1",
		SenderID:   "me",
		Content:    "hi",
		CreatedAt:  time.Now().UnixMilli(),
	})

	msgs := m.Messages("r1")
	if len(msgs) != 1 || msgs[0].ID != "srv-1" || !msgs[0].Confirmed {
		t.Fatalf("content fallback failed: %+v", msgs)
	}
}

func TestContentMatchOutsideWindowAppends(t *testing.T) {
	m := newTestMerger(50 * time.Millisecond)

	base := time.Now()
	m.now = func() time.Time { return base }
	m.SendOptimistic("r1", "hi", "text", "me", "Me")

	// Echo arrives after the reconciliation window has elapsed.
	m.now = func() time.Time { return base.Add(100 * time.Millisecond) }
	m.ApplyInbound("r1", proto.MessagePayload{
		ChatRoomID: "r1",
		ID:         "srv-1",
		SenderID:   "me",
		Content:    "hi",
		CreatedAt:  base.Add(100 * time.Millisecond).UnixMilli(),
	})

	msgs := m.Messages("r1")
	if len(msgs) != 2 {
		t.Fatalf("expected append outside window, got %d entries", len(msgs))
	}
}

func TestUnrelatedInboundAppends(t *testing.T) {
	m := newTestMerger(5 * time.Second)

	m.SendOptimistic("r1", "hi", "text", "me", "Me")
	m.ApplyInbound("r1", proto.MessagePayload{
		ChatRoomID: "r1",
		ID:         "srv-2",
		SenderID:   "u2",
		Content:    "yo",
		CreatedAt:  time.Now().UnixMilli(),
	})

	msgs := m.Messages("r1")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
}

func TestHistoryPaginationKeepsAscendingOrder(t *testing.T) {
	m := newTestMerger(5 * time.Second)

	t0 := time.UnixMilli(1000)
	page1 := []Message{
		{ID: "m3", RoomID: "r1", Content: "c", CreatedAt: t0.Add(3 * time.Second)},
		{ID: "m4", RoomID: "r1", Content: "d", CreatedAt: t0.Add(4 * time.Second)},
	}
	page2 := []Message{
		{ID: "m1", RoomID: "r1", Content: "a", CreatedAt: t0.Add(1 * time.Second)},
		{ID: "m2", RoomID: "r1", Content: "b", CreatedAt: t0.Add(2 * time.Second)},
		{ID: "m3", RoomID: "r1", Content: "c", CreatedAt: t0.Add(3 * time.Second)}, // overlap
	}

	m.ApplyHistory("r1", 1, page1)
	m.ApplyHistory("r1", 2, page2)

	msgs := m.Messages("r1")
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	want := []string{"m1", "m2", "m3", "m4"}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Fatalf("order wrong at %d: got %s want %s (%v)", i, msgs[i].ID, id, msgs)
		}
		if !msgs[i].Confirmed {
			t.Fatalf("history message %s not confirmed", id)
		}
	}
}

func TestFirstPageReplacesButKeepsPendingOptimistic(t *testing.T) {
	m := newTestMerger(5 * time.Second)

	m.ApplyHistory("r1", 1, []Message{{ID: "old", RoomID: "r1", CreatedAt: time.UnixMilli(1)}})
	sent := m.SendOptimistic("r1", "hi", "text", "me", "Me")

	m.ApplyHistory("r1", 1, []Message{{ID: "m1", RoomID: "r1", CreatedAt: time.UnixMilli(2)}})

	msgs := m.Messages("r1")
	if len(msgs) != 2 {
		t.Fatalf("expected fresh page plus pending entry, got %+v", msgs)
	}
	for _, msg := range msgs {
		if msg.ID == "old" {
			t.Fatal("stale entry survived page-1 replace")
		}
	}
	last := msgs[len(msgs)-1]
	if last.ID != sent.ID || last.Confirmed {
		t.Fatalf("pending optimistic entry lost: %+v", msgs)
	}
}

func TestEndToEndOptimisticScenario(t *testing.T) {
	m := newTestMerger(5 * time.Second)

	sent := m.SendOptimistic("r1", "hi", "text", "me", "Me")
	if got := m.Messages("r1"); len(got) != 1 || got[0].Confirmed {
		t.Fatalf("unexpected state after send: %+v", got)
	}

	m.ApplyInbound("r1", proto.MessagePayload{
		ChatRoomID:  "r1",
		ID:          "srv-9",
		SenderID:    "me",
		SenderName:  "Me",
		Content:     "hi",
		ClientMsgID: sent.ClientMsgID,
		CreatedAt:   time.Now().UnixMilli(),
	})

	msgs := m.Messages("r1")
	if len(msgs) != 1 {
		t.Fatalf("expected length 1, got %d", len(msgs))
	}
	if msgs[0].ID != "srv-9" || !msgs[0].Confirmed || msgs[0].Content != "hi" {
		t.Fatalf("unexpected final entry: %+v", msgs[0])
	}
}

func TestRoomsAreIndependent(t *testing.T) {
	m := newTestMerger(5 * time.Second)

	m.ApplyInbound("r1", proto.MessagePayload{ID: "a", SenderID: "u", Content: "1", CreatedAt: 1})
	m.ApplyInbound("r2", proto.MessagePayload{ID: "a", SenderID: "u", Content: "1", CreatedAt: 1})

	if len(m.Messages("r1")) != 1 || len(m.Messages("r2")) != 1 {
		t.Fatal("same id in different rooms must coexist")
	}

	m.Unload("r1")
	if m.Messages("r1") != nil {
		t.Fatal("unloaded room still has messages")
	}
	if len(m.Messages("r2")) != 1 {
		t.Fatal("unload leaked across rooms")
	}
}
