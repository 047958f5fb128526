package outcome

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"SonicPilot/internal/config"
	xerrors "SonicPilot/internal/errors"
)

func sampleEvent() Event {
	event := NewEvent("launch", KindSuccess, "create", time.Unix(1700000000, 0))
	event.SessionKey = "session-1"
	event.UserID = "user-1"
	event.Data = map[string]string{"contract_address": "0xabc"}
	return event
}

func TestNewEventAssignsID(t *testing.T) {
	a := sampleEvent()
	b := sampleEvent()
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected unique ids, got %q and %q", a.ID, b.ID)
	}
	if a.OccurredAt != 1700000000 {
		t.Fatalf("unexpected timestamp %d", a.OccurredAt)
	}
}

func TestMemoryQueueDropsOldestWhenFull(t *testing.T) {
	q := NewMemoryQueue(2)
	ctx := context.Background()
	for _, flow := range []string{"launch", "sell", "swap"} {
		event := sampleEvent()
		event.Flow = flow
		if err := q.Publish(ctx, event); err != nil {
			t.Fatalf("Publish returned error: %v", err)
		}
	}
	events := q.Drain()
	if len(events) != 2 || events[0].Flow != "sell" || events[1].Flow != "swap" {
		t.Fatalf("unexpected events: %+v", events)
	}

	q.Close()
	if err := q.Publish(ctx, sampleEvent()); !xerrors.IsCode(err, xerrors.CodePublishFailure) {
		t.Fatalf("expected publish failure after close, got %v", err)
	}
}

func TestMemoryQueueConsume(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Publish(ctx, sampleEvent()); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	var got Event
	err := q.Consume(ctx, func(_ context.Context, event Event) error {
		got = event
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got.Flow != "launch" {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestRedisQueuePublishAndConsume(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	q, err := NewRedisQueue(ctx, RedisQueueConfig{Address: mr.Addr(), Queue: "test.outcomes", BlockWait: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewRedisQueue returned error: %v", err)
	}
	defer q.Close()

	event := sampleEvent()
	if err := q.Publish(ctx, event); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	items, err := mr.List("test.outcomes")
	if err != nil || len(items) != 1 {
		t.Fatalf("expected one queued item, got %v, %v", items, err)
	}
	var stored Event
	if err := json.Unmarshal([]byte(items[0]), &stored); err != nil || stored.ID != event.ID {
		t.Fatalf("unexpected stored event %q: %v", items[0], err)
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var got Event
	err = q.Consume(consumeCtx, func(_ context.Context, e Event) error {
		got = e
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got.ID != event.ID || got.Data["contract_address"] != "0xabc" {
		t.Fatalf("unexpected consumed event: %+v", got)
	}
}

func TestNewRedisQueueRequiresAddress(t *testing.T) {
	if _, err := NewRedisQueue(context.Background(), RedisQueueConfig{}); !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	q, err := Open(context.Background(), config.OutcomeConfig{Driver: "memory"})
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if _, ok := q.(*MemoryQueue); !ok {
		t.Fatalf("expected memory queue, got %T", q)
	}
	if _, err := Open(context.Background(), config.OutcomeConfig{Driver: "kafka"}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}
