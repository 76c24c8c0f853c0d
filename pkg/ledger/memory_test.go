package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/relaymesh/go-rmc/pkg/identity"
)

func TestMemoryLedger_RecordSent(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	msg := New("c1", 0, []byte("hello"), identity.Outbound)
	if err := l.RecordSent(ctx, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := l.Get(ctx, msg.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.State != StateSent {
		t.Errorf("expected StateSent, got %q", got.State)
	}
	if got.Direction != identity.Outbound {
		t.Errorf("expected Outbound, got %q", got.Direction)
	}
}

func TestMemoryLedger_RecordSent_DuplicateID(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	msg := New("c1", 0, []byte("hello"), identity.Outbound)
	if err := l.RecordSent(ctx, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := l.RecordSent(ctx, New("c1", 0, []byte("hello"), identity.Outbound))
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}
}

func TestMemoryLedger_RecordReceived_AlreadyExists(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	msg := New("c1", 0, []byte("hello"), identity.Inbound)
	if err := l.RecordReceived(ctx, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := l.RecordReceived(ctx, New("c1", 0, []byte("hello"), identity.Inbound))
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMemoryLedger_Transition_SentLifecycle(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	msg := New("c1", 0, []byte("hello"), identity.Outbound)
	l.RecordSent(ctx, msg)

	got, err := l.Transition(ctx, msg.ID, Transition{
		Event:      EventAcknowledged,
		Ack:        []byte("ok"),
		AckSuccess: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.State != StateAcknowledged {
		t.Errorf("expected StateAcknowledged, got %q", got.State)
	}
	if string(got.Ack) != "ok" {
		t.Errorf("expected ack 'ok', got %q", got.Ack)
	}

	// Acknowledged is terminal: timing out afterwards is invalid.
	_, err = l.Transition(ctx, msg.ID, Transition{Event: EventTimedOut})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestMemoryLedger_Transition_TimedOut(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	msg := New("c1", 0, []byte("hello"), identity.Outbound)
	l.RecordSent(ctx, msg)

	got, err := l.Transition(ctx, msg.ID, Transition{Event: EventTimedOut, Reason: "no acknowledgment"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.State != StateTimedOut {
		t.Errorf("expected StateTimedOut, got %q", got.State)
	}
	if got.Reason != "no acknowledgment" {
		t.Errorf("expected reason to be stored, got %q", got.Reason)
	}
}

func TestMemoryLedger_Transition_ReceivedLifecycle(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	msg := New("c1", 0, []byte("GET_TIME"), identity.Inbound)
	l.RecordReceived(ctx, msg)

	got, err := l.Transition(ctx, msg.ID, Transition{Event: EventProcessed, Ack: []byte("1234")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.State != StateProcessed {
		t.Errorf("expected StateProcessed, got %q", got.State)
	}

	// Processed is terminal.
	_, err = l.Transition(ctx, msg.ID, Transition{Event: EventRejected, Reason: "nope"})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestMemoryLedger_Transition_AcknowledgeReceived(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	msg := New("c1", 0, []byte("hello"), identity.Inbound)
	l.RecordReceived(ctx, msg)

	// Acknowledging an inbound message is a caller error.
	_, err := l.Transition(ctx, msg.ID, Transition{Event: EventAcknowledged})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestMemoryLedger_Transition_NotFound(t *testing.T) {
	l := NewMemoryLedger()

	_, err := l.Transition(context.Background(), identity.Derive("c1", 0, nil, identity.Outbound), Transition{Event: EventAcknowledged})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryLedger_Get_ReturnsCopy(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	msg := New("c1", 0, []byte("hello"), identity.Outbound)
	l.RecordSent(ctx, msg)

	got, _ := l.Get(ctx, msg.ID)
	got.Payload[0] = 'X'
	got.State = StateTimedOut

	again, _ := l.Get(ctx, msg.ID)
	if string(again.Payload) != "hello" {
		t.Error("expected stored payload to be isolated from caller mutation")
	}
	if again.State != StateSent {
		t.Error("expected stored state to be isolated from caller mutation")
	}
}

func TestMemoryLedger_ConcurrentRecordReceived(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.RecordReceived(ctx, New("c1", 0, []byte("hello"), identity.Inbound))
		}()
	}
	wg.Wait()
	close(errs)

	inserted := 0
	for err := range errs {
		if err == nil {
			inserted++
		} else if !errors.Is(err, ErrAlreadyExists) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if inserted != 1 {
		t.Errorf("expected exactly one successful insert, got %d", inserted)
	}
}

func TestNextState_Table(t *testing.T) {
	cases := []struct {
		from    State
		event   TransitionEvent
		want    State
		wantErr bool
	}{
		{StateSent, EventAcknowledged, StateAcknowledged, false},
		{StateSent, EventTimedOut, StateTimedOut, false},
		{StateReceived, EventProcessed, StateProcessed, false},
		{StateReceived, EventRejected, StateRejected, false},
		{StateSent, EventProcessed, "", true},
		{StateReceived, EventAcknowledged, "", true},
		{StateAcknowledged, EventAcknowledged, "", true},
		{StateProcessed, EventProcessed, "", true},
		{StateSent, TransitionEvent("bogus"), "", true},
	}

	for _, tc := range cases {
		got, err := NextState(tc.from, tc.event)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("NextState(%s, %s): expected ErrInvalidTransition, got %v", tc.from, tc.event, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("NextState(%s, %s): unexpected error: %v", tc.from, tc.event, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NextState(%s, %s): expected %s, got %s", tc.from, tc.event, tc.want, got)
		}
	}
}
