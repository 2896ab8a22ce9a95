package registry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/google/uuid"

	"github.com/courierclub/courier/internal/kv"
	"github.com/courierclub/courier/internal/resilience"
	"github.com/courierclub/courier/internal/verification"
	"github.com/courierclub/courier/pkg"
	"github.com/courierclub/courier/pkg/event"
)

type fakeBackend struct {
	mu        sync.Mutex
	pending   []*Entry
	decisions map[uuid.UUID]bool
	listErr   error
	submitErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{decisions: make(map[uuid.UUID]bool)}
}

func (f *fakeBackend) ListPending(ctx context.Context) ([]*Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]*Entry, len(f.pending))
	copy(out, f.pending)
	return out, nil
}

func (f *fakeBackend) SubmitDecision(ctx context.Context, id uuid.UUID, approved bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.decisions[id] = approved
	return nil
}

func (f *fakeBackend) decision(id uuid.UUID) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	approved, ok := f.decisions[id]
	return approved, ok
}

func testEntry(orderID uuid.UUID, priority verification.Priority, createdAt time.Time) *Entry {
	return &Entry{
		ID:            apt.GenerateNewID(),
		OrderID:       orderID,
		OrderKind:     verification.OrderKindRegular,
		OriginalItems: []verification.Item{{Name: "Coffee", Quantity: 1, Price: 3.50}},
		UpdatedItems:  []verification.Item{{Name: "Coffee", Quantity: 2, Price: 3.50}},
		Status:        verification.StatusPending,
		Priority:      priority,
		PriceChange:   3.50,
		CreatedAt:     createdAt,
		ExpiresAt:     createdAt.Add(verification.DefaultTTL),
	}
}

func testRegistry(t *testing.T, backend BackendClient) *Registry {
	t.Helper()
	if backend == nil {
		backend = newFakeBackend()
	}
	return New(Deps{
		Store:   kv.NewMemory(),
		Backend: backend,
	})
}

func TestRegistryAddPendingValidation(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		entry *Entry
		field string
	}{
		{
			name:  "nil entry",
			entry: nil,
			field: "entry",
		},
		{
			name: "missing id",
			entry: &Entry{
				OrderID:       apt.GenerateNewID(),
				OriginalItems: []verification.Item{},
				UpdatedItems:  []verification.Item{},
				ExpiresAt:     now.Add(time.Hour),
			},
			field: "id",
		},
		{
			name: "missing updated items",
			entry: &Entry{
				ID:            apt.GenerateNewID(),
				OrderID:       apt.GenerateNewID(),
				OriginalItems: []verification.Item{},
				ExpiresAt:     now.Add(time.Hour),
			},
			field: "updated_items",
		},
		{
			name: "missing original items on regular order",
			entry: &Entry{
				ID:           apt.GenerateNewID(),
				OrderID:      apt.GenerateNewID(),
				OrderKind:    verification.OrderKindRegular,
				UpdatedItems: []verification.Item{},
				ExpiresAt:    now.Add(time.Hour),
			},
			field: "original_items",
		},
		{
			name: "negative quantity",
			entry: &Entry{
				ID:            apt.GenerateNewID(),
				OrderID:       apt.GenerateNewID(),
				OriginalItems: []verification.Item{},
				UpdatedItems:  []verification.Item{{Name: "Tea", Quantity: -1, Price: 2}},
				ExpiresAt:     now.Add(time.Hour),
			},
			field: "items",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRegistry(t, nil)
			_, err := r.AddPending(context.Background(), tt.entry)

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("AddPending() error = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("ValidationError.Field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestRegistryAddPendingQuickPickupWithoutOriginals(t *testing.T) {
	r := testRegistry(t, nil)
	e := &Entry{
		ID:           apt.GenerateNewID(),
		OrderID:      apt.GenerateNewID(),
		OrderKind:    verification.OrderKindQuickPickup,
		UpdatedItems: []verification.Item{{Name: "Parcel", Quantity: 1, Price: 12}},
		Status:       verification.StatusPending,
		Priority:     verification.PriorityHigh,
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(time.Hour),
	}

	id, err := r.AddPending(context.Background(), e)
	if err != nil {
		t.Fatalf("AddPending() error = %v", err)
	}
	if id != e.ID {
		t.Errorf("AddPending() id = %v, want %v", id, e.ID)
	}
}

func TestRegistryAddPendingDuplicateOrder(t *testing.T) {
	r := testRegistry(t, nil)
	orderID := apt.GenerateNewID()
	first := testEntry(orderID, verification.PriorityHigh, time.Now())
	second := testEntry(orderID, verification.PriorityHigh, time.Now())

	firstID, err := r.AddPending(context.Background(), first)
	if err != nil {
		t.Fatalf("AddPending() first error = %v", err)
	}
	secondID, err := r.AddPending(context.Background(), second)
	if err != nil {
		t.Fatalf("AddPending() second error = %v", err)
	}
	if secondID != firstID {
		t.Errorf("AddPending() duplicate order id = %v, want existing %v", secondID, firstID)
	}
	if got := len(r.Pending(time.Now())); got != 1 {
		t.Errorf("Pending() len = %d, want 1", got)
	}
}

func TestRegistryPendingOrdering(t *testing.T) {
	r := testRegistry(t, nil)
	base := time.Now()

	a := testEntry(apt.GenerateNewID(), verification.PriorityLow, base)
	b := testEntry(apt.GenerateNewID(), verification.PriorityHigh, base.Add(2*time.Minute))
	c := testEntry(apt.GenerateNewID(), verification.PriorityHigh, base.Add(time.Minute))

	for _, e := range []*Entry{a, b, c} {
		if _, err := r.AddPending(context.Background(), e); err != nil {
			t.Fatalf("AddPending() error = %v", err)
		}
	}

	pending := r.Pending(base.Add(3 * time.Minute))
	if len(pending) != 3 {
		t.Fatalf("Pending() len = %d, want 3", len(pending))
	}
	want := []uuid.UUID{c.ID, b.ID, a.ID}
	for i, e := range pending {
		if e.ID != want[i] {
			t.Errorf("Pending()[%d] = %v, want %v", i, e.ID, want[i])
		}
	}
	if next := r.Next(base.Add(3 * time.Minute)); next == nil || next.ID != c.ID {
		t.Errorf("Next() = %v, want %v", next, c.ID)
	}
}

func TestRegistryPendingExcludesExpired(t *testing.T) {
	r := testRegistry(t, nil)
	now := time.Now()
	stale := testEntry(apt.GenerateNewID(), verification.PriorityHigh, now.Add(-25*time.Hour))
	fresh := testEntry(apt.GenerateNewID(), verification.PriorityMedium, now)

	for _, e := range []*Entry{stale, fresh} {
		if _, err := r.AddPending(context.Background(), e); err != nil {
			t.Fatalf("AddPending() error = %v", err)
		}
	}

	pending := r.Pending(now)
	if len(pending) != 1 {
		t.Fatalf("Pending() len = %d, want 1", len(pending))
	}
	if pending[0].ID != fresh.ID {
		t.Errorf("Pending()[0] = %v, want %v", pending[0].ID, fresh.ID)
	}
}

func TestRegistryProcess(t *testing.T) {
	backend := newFakeBackend()
	r := testRegistry(t, backend)
	e := testEntry(apt.GenerateNewID(), verification.PriorityHigh, time.Now())
	if _, err := r.AddPending(context.Background(), e); err != nil {
		t.Fatalf("AddPending() error = %v", err)
	}

	result, err := r.Process(context.Background(), e.ID, true)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !result.Approved {
		t.Error("Process() Approved = false, want true")
	}
	if result.Queued {
		t.Error("Process() Queued = true, want false")
	}
	if approved, ok := backend.decision(e.ID); !ok || !approved {
		t.Errorf("backend decision = (%v, %v), want (true, true)", approved, ok)
	}
	if got := len(r.Pending(time.Now())); got != 0 {
		t.Errorf("Pending() len after decision = %d, want 0", got)
	}
}

func TestRegistryProcessIdempotent(t *testing.T) {
	backend := newFakeBackend()
	r := testRegistry(t, backend)
	e := testEntry(apt.GenerateNewID(), verification.PriorityHigh, time.Now())
	if _, err := r.AddPending(context.Background(), e); err != nil {
		t.Fatalf("AddPending() error = %v", err)
	}

	if _, err := r.Process(context.Background(), e.ID, false); err != nil {
		t.Fatalf("Process() first error = %v", err)
	}
	result, err := r.Process(context.Background(), e.ID, true)
	if err != nil {
		t.Fatalf("Process() second error = %v", err)
	}
	if result.Message != "Verification already processed" {
		t.Errorf("Process() Message = %q, want already processed", result.Message)
	}
	if result.Approved {
		t.Error("Process() second call reports Approved = true, want first outcome false")
	}
	if approved, _ := backend.decision(e.ID); approved {
		t.Error("backend decision flipped by second Process()")
	}
}

func TestRegistryProcessUnknown(t *testing.T) {
	r := testRegistry(t, nil)
	if _, err := r.Process(context.Background(), apt.GenerateNewID(), true); !errors.Is(err, ErrNotFound) {
		t.Errorf("Process() error = %v, want ErrNotFound", err)
	}
}

func TestRegistryProcessExpired(t *testing.T) {
	r := testRegistry(t, nil)
	e := testEntry(apt.GenerateNewID(), verification.PriorityHigh, time.Now().Add(-25*time.Hour))
	if _, err := r.AddPending(context.Background(), e); err != nil {
		t.Fatalf("AddPending() error = %v", err)
	}
	if _, err := r.Process(context.Background(), e.ID, true); !errors.Is(err, ErrExpired) {
		t.Errorf("Process() error = %v, want ErrExpired", err)
	}
}

func TestRegistryProcessQueuedWhenDegraded(t *testing.T) {
	backend := newFakeBackend()
	backend.submitErr = &resilience.DegradedError{Cause: errors.New("connection refused")}
	r := testRegistry(t, backend)
	e := testEntry(apt.GenerateNewID(), verification.PriorityHigh, time.Now())
	if _, err := r.AddPending(context.Background(), e); err != nil {
		t.Fatalf("AddPending() error = %v", err)
	}

	result, err := r.Process(context.Background(), e.ID, true)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !result.Queued {
		t.Error("Process() Queued = false, want true when backend is unreachable")
	}
	if got := len(r.Pending(time.Now())); got != 0 {
		t.Errorf("Pending() len = %d, want 0 even when queued", got)
	}

	// Connectivity returns; the backend still reports the entry pending.
	backend.mu.Lock()
	backend.submitErr = nil
	backend.pending = []*Entry{e}
	backend.mu.Unlock()

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if approved, ok := backend.decision(e.ID); !ok || !approved {
		t.Errorf("backend decision after refresh = (%v, %v), want (true, true)", approved, ok)
	}
	if got := len(r.Pending(time.Now())); got != 0 {
		t.Errorf("Pending() len after refresh = %d, want 0", got)
	}
}

func TestRegistryRefreshBackendWins(t *testing.T) {
	backend := newFakeBackend()
	r := testRegistry(t, backend)

	local := testEntry(apt.GenerateNewID(), verification.PriorityHigh, time.Now())
	if _, err := r.AddPending(context.Background(), local); err != nil {
		t.Fatalf("AddPending() error = %v", err)
	}

	remote := testEntry(apt.GenerateNewID(), verification.PriorityMedium, time.Now())
	invalid := &Entry{ID: apt.GenerateNewID()}
	backend.pending = []*Entry{remote, invalid}

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	pending := r.Pending(time.Now())
	if len(pending) != 1 {
		t.Fatalf("Pending() len = %d, want 1", len(pending))
	}
	if pending[0].ID != remote.ID {
		t.Errorf("Pending()[0] = %v, want backend entry %v", pending[0].ID, remote.ID)
	}
}

func TestRegistryLoadRestoresState(t *testing.T) {
	store := kv.NewMemory()
	backend := newFakeBackend()
	first := New(Deps{Store: store, Backend: backend})

	decided := testEntry(apt.GenerateNewID(), verification.PriorityHigh, time.Now())
	open := testEntry(apt.GenerateNewID(), verification.PriorityMedium, time.Now())
	for _, e := range []*Entry{decided, open} {
		if _, err := first.AddPending(context.Background(), e); err != nil {
			t.Fatalf("AddPending() error = %v", err)
		}
	}
	if _, err := first.Process(context.Background(), decided.ID, true); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	second := New(Deps{Store: store, Backend: backend})
	if err := second.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	pending := second.Pending(time.Now())
	if len(pending) != 1 {
		t.Fatalf("Pending() len = %d, want 1", len(pending))
	}
	if pending[0].ID != open.ID {
		t.Errorf("Pending()[0] = %v, want %v", pending[0].ID, open.ID)
	}
	result, err := second.Process(context.Background(), decided.ID, false)
	if err != nil {
		t.Fatalf("Process() on restored id error = %v", err)
	}
	if result.Message != "Verification already processed" {
		t.Errorf("Process() Message = %q, want already processed after reload", result.Message)
	}
}

func TestRegistryLoadToleratesCorruptStorage(t *testing.T) {
	store := kv.NewMemory()
	if err := store.Set(context.Background(), pendingKey, []byte("{not json")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	r := New(Deps{Store: store, Backend: newFakeBackend()})
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v, want corrupt storage dropped silently", err)
	}
	if got := len(r.Pending(time.Now())); got != 0 {
		t.Errorf("Pending() len = %d, want 0", got)
	}
}

func TestRegistryClearAll(t *testing.T) {
	store := kv.NewMemory()
	r := New(Deps{Store: store, Backend: newFakeBackend()})
	e := testEntry(apt.GenerateNewID(), verification.PriorityHigh, time.Now())
	if _, err := r.AddPending(context.Background(), e); err != nil {
		t.Fatalf("AddPending() error = %v", err)
	}

	if err := r.ClearAll(context.Background()); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	if got := len(r.Pending(time.Now())); got != 0 {
		t.Errorf("Pending() len = %d, want 0", got)
	}
	if _, ok, _ := store.Get(context.Background(), pendingKey); ok {
		t.Error("pending key still persisted after ClearAll()")
	}
}

type fakeStream struct {
	messages [][]byte
	fetchErr error
}

func (f *fakeStream) Fetch(ctx context.Context, limit int) ([]events.StreamMessage, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make([]events.StreamMessage, 0, len(f.messages))
	for i, m := range f.messages {
		out = append(out, events.StreamMessage{Data: m, Sequence: uint64(i + 1)})
	}
	return out, nil
}

func (f *fakeStream) SubscribeStream(ctx context.Context, handler events.HandlerFunc) error {
	return nil
}

func submittedEvent(t *testing.T, e *Entry, customerID uuid.UUID, supersededID uuid.UUID) []byte {
	t.Helper()
	ev := event.ProposalSubmittedEvent{
		EventType:   event.EventProposalSubmitted,
		OccurredAt:  time.Now(),
		ProposalID:  e.ID.String(),
		OrderID:     e.OrderID.String(),
		OrderKind:   string(e.OrderKind),
		CustomerID:  customerID.String(),
		PriceChange: e.PriceChange,
		Priority:    string(e.Priority),
		ExpiresAt:   e.ExpiresAt,
	}
	if supersededID != uuid.Nil {
		ev.SupersededID = supersededID.String()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal submitted event: %v", err)
	}
	return payload
}

func decidedEvent(t *testing.T, id uuid.UUID, customerID uuid.UUID, approved bool) []byte {
	t.Helper()
	payload, err := json.Marshal(event.ProposalDecidedEvent{
		EventType:  event.EventProposalDecided,
		OccurredAt: time.Now(),
		ProposalID: id.String(),
		CustomerID: customerID.String(),
		Approved:   approved,
	})
	if err != nil {
		t.Fatalf("marshal decided event: %v", err)
	}
	return payload
}

func TestSubscriberSupersededReplacement(t *testing.T) {
	bus := pkg.NewBus(nil)
	backend := newFakeBackend()
	customerID := apt.GenerateNewID()
	r := testRegistry(t, backend)

	old := testEntry(apt.GenerateNewID(), verification.PriorityHigh, time.Now())
	if _, err := r.AddPending(context.Background(), old); err != nil {
		t.Fatalf("AddPending() error = %v", err)
	}

	// The rider resubmits: the backend now reports only the replacement.
	replacement := testEntry(old.OrderID, verification.PriorityHigh, time.Now())
	backend.mu.Lock()
	backend.pending = []*Entry{replacement}
	backend.mu.Unlock()

	sub := NewSubscriber(r, customerID)
	if err := sub.Start(context.Background(), bus); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := bus.Publish(context.Background(), event.VerificationsTopic, submittedEvent(t, replacement, customerID, old.ID)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	pending := r.Pending(time.Now())
	if len(pending) != 1 {
		t.Fatalf("Pending() len = %d, want only the replacement", len(pending))
	}
	if pending[0].ID != replacement.ID {
		t.Errorf("Pending()[0] = %v, want replacement %v", pending[0].ID, replacement.ID)
	}
}

func TestSubscriberMirrorsSiblingDecision(t *testing.T) {
	bus := pkg.NewBus(nil)
	backend := newFakeBackend()
	customerID := apt.GenerateNewID()
	r := testRegistry(t, backend)

	e := testEntry(apt.GenerateNewID(), verification.PriorityHigh, time.Now())
	if _, err := r.AddPending(context.Background(), e); err != nil {
		t.Fatalf("AddPending() error = %v", err)
	}

	sub := NewSubscriber(r, customerID)
	if err := sub.Start(context.Background(), bus); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := bus.Publish(context.Background(), event.VerificationsTopic, decidedEvent(t, e.ID, customerID, true)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if got := len(r.Pending(time.Now())); got != 0 {
		t.Errorf("Pending() len = %d, want 0 after decided event", got)
	}
	result, err := r.Process(context.Background(), e.ID, false)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.Message != "Verification already processed" {
		t.Errorf("Process() Message = %q, want already processed", result.Message)
	}
	if !result.Approved {
		t.Error("Process() Approved = false, want the mirrored outcome")
	}
	// The device that decided already told the backend.
	if _, ok := backend.decision(e.ID); ok {
		t.Error("mirrored decision reached the backend again")
	}
}

func TestSubscriberIgnoresForeignCustomer(t *testing.T) {
	bus := pkg.NewBus(nil)
	customerID := apt.GenerateNewID()
	r := testRegistry(t, newFakeBackend())

	e := testEntry(apt.GenerateNewID(), verification.PriorityHigh, time.Now())
	if _, err := r.AddPending(context.Background(), e); err != nil {
		t.Fatalf("AddPending() error = %v", err)
	}

	sub := NewSubscriber(r, customerID)
	if err := sub.Start(context.Background(), bus); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := bus.Publish(context.Background(), event.VerificationsTopic, decidedEvent(t, e.ID, apt.GenerateNewID(), true)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if got := len(r.Pending(time.Now())); got != 1 {
		t.Errorf("Pending() len = %d, want 1: another customer's event must not apply", got)
	}
}

func TestSubscriberReplay(t *testing.T) {
	backend := newFakeBackend()
	customerID := apt.GenerateNewID()
	r := testRegistry(t, backend)

	// State before the gap: two open verifications.
	superseded := testEntry(apt.GenerateNewID(), verification.PriorityHigh, time.Now())
	decided := testEntry(apt.GenerateNewID(), verification.PriorityMedium, time.Now())
	for _, e := range []*Entry{superseded, decided} {
		if _, err := r.AddPending(context.Background(), e); err != nil {
			t.Fatalf("AddPending() error = %v", err)
		}
	}

	// During the gap one was superseded by a replacement and the other was
	// decided from another device. The backend now has only the replacement.
	replacement := testEntry(superseded.OrderID, verification.PriorityHigh, time.Now())
	backend.mu.Lock()
	backend.pending = []*Entry{replacement}
	backend.mu.Unlock()

	stream := &fakeStream{messages: [][]byte{
		submittedEvent(t, replacement, customerID, superseded.ID),
		decidedEvent(t, decided.ID, customerID, false),
	}}

	sub := NewSubscriber(r, customerID)
	if err := sub.Replay(context.Background(), stream, 1000); err != nil {
		t.Fatalf("Replay() error = %v", err)
	}

	pending := r.Pending(time.Now())
	if len(pending) != 1 {
		t.Fatalf("Pending() len = %d, want only the replacement", len(pending))
	}
	if pending[0].ID != replacement.ID {
		t.Errorf("Pending()[0] = %v, want %v", pending[0].ID, replacement.ID)
	}
	result, err := r.Process(context.Background(), decided.ID, true)
	if err != nil {
		t.Fatalf("Process() on replayed decision error = %v", err)
	}
	if result.Message != "Verification already processed" {
		t.Errorf("Process() Message = %q, want already processed", result.Message)
	}
	if result.Approved {
		t.Error("Process() Approved = true, want the replayed rejection to stand")
	}
}

func TestSubscriberReplayFetchError(t *testing.T) {
	r := testRegistry(t, newFakeBackend())
	sub := NewSubscriber(r, apt.GenerateNewID())

	stream := &fakeStream{fetchErr: errors.New("no stream")}
	if err := sub.Replay(context.Background(), stream, 100); err == nil {
		t.Error("Replay() error = nil, want fetch failure propagated")
	}
}

func TestRegistryTabDecisionPropagates(t *testing.T) {
	bus := pkg.NewBus(nil)
	backend := newFakeBackend()
	store := kv.NewMemory()

	deciding := New(Deps{Store: store, Backend: backend, Publisher: bus})
	observing := New(Deps{Store: kv.NewMemory(), Backend: newFakeBackend()})

	e := testEntry(apt.GenerateNewID(), verification.PriorityHigh, time.Now())
	for _, r := range []*Registry{deciding, observing} {
		copied := *e
		if _, err := r.AddPending(context.Background(), &copied); err != nil {
			t.Fatalf("AddPending() error = %v", err)
		}
	}

	if err := observing.SubscribeTabDecisions(context.Background(), bus); err != nil {
		t.Fatalf("SubscribeTabDecisions() error = %v", err)
	}
	if err := deciding.SubscribeTabDecisions(context.Background(), bus); err != nil {
		t.Fatalf("SubscribeTabDecisions() error = %v", err)
	}

	if _, err := deciding.Process(context.Background(), e.ID, true); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if got := len(observing.Pending(time.Now())); got != 0 {
		t.Errorf("observing Pending() len = %d, want 0 after sibling decision", got)
	}
	result, err := observing.Process(context.Background(), e.ID, false)
	if err != nil {
		t.Fatalf("Process() in observing tab error = %v", err)
	}
	if result.Message != "Verification already processed" {
		t.Errorf("Process() Message = %q, want already processed", result.Message)
	}
	// Only the deciding tab talked to the backend.
	if _, ok := backend.decision(e.ID); !ok {
		t.Error("deciding tab never reached the backend")
	}
}
