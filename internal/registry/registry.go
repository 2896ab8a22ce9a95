package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/google/uuid"

	"github.com/courierclub/courier/internal/kv"
	"github.com/courierclub/courier/internal/resilience"
	"github.com/courierclub/courier/internal/verification"
	"github.com/courierclub/courier/pkg/event"
)

const (
	pendingKey   = "verifications.pending"
	processedKey = "verifications.processed"
)

var (
	ErrNotFound = errors.New("verification not found")
	ErrExpired  = errors.New("verification expired")
)

// ProcessResult reports what a local decision did. Queued means the backend
// could not be reached and the decision will be resubmitted on the next
// refresh; the local decision stands either way.
type ProcessResult struct {
	Approved bool
	Queued   bool
	Message  string
}

// Registry holds the pending verifications known to one customer device. It
// is the local source of truth while offline: entries and the set of already
// decided ids are persisted through the kv store, decisions are applied
// locally before any network call, and a backend refresh replaces local
// state wholesale. All methods are safe for concurrent use.
type Registry struct {
	logger    apt.Logger
	store     kv.Store
	backend   BackendClient
	publisher events.Publisher
	tabID     string

	mu        sync.Mutex
	entries   map[uuid.UUID]*Entry
	processed map[uuid.UUID]bool // id -> approved
}

type Deps struct {
	Logger    apt.Logger
	Store     kv.Store
	Backend   BackendClient
	Publisher events.Publisher // optional, carries decisions to sibling tabs
}

func New(deps Deps) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Registry{
		logger:    logger,
		store:     deps.Store,
		backend:   deps.Backend,
		publisher: deps.Publisher,
		tabID:     apt.GenerateNewID().String(),
		entries:   make(map[uuid.UUID]*Entry),
		processed: make(map[uuid.UUID]bool),
	}
}

// TabID identifies this registry instance on the tab decisions topic.
func (r *Registry) TabID() string {
	return r.tabID
}

// Load restores persisted state. Damaged persistence is logged and dropped
// rather than propagated: a device that cannot parse its own storage starts
// empty and repopulates from the backend.
func (r *Registry) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if raw, ok, err := r.store.Get(ctx, pendingKey); err != nil {
		return fmt.Errorf("failed to read pending verifications: %w", err)
	} else if ok {
		var stored []*Entry
		if err := json.Unmarshal(raw, &stored); err != nil {
			r.logger.Error("dropping unreadable pending verifications", "error", err)
		} else {
			for _, e := range stored {
				if err := Validate(e); err != nil {
					r.logger.Error("skipping invalid stored verification", "error", err)
					continue
				}
				r.entries[e.ID] = e
			}
		}
	}

	if raw, ok, err := r.store.Get(ctx, processedKey); err != nil {
		return fmt.Errorf("failed to read processed verifications: %w", err)
	} else if ok {
		var stored map[string]bool
		if err := json.Unmarshal(raw, &stored); err != nil {
			r.logger.Error("dropping unreadable processed set", "error", err)
		} else {
			for key, approved := range stored {
				id, err := uuid.Parse(key)
				if err != nil {
					continue
				}
				r.processed[id] = approved
			}
		}
	}
	return nil
}

// AddPending registers a verification for decision. Adding is idempotent on
// the order: while a pending verification exists for an order, further adds
// for that order return the existing id unchanged. Already decided ids are
// likewise no-ops.
func (r *Registry) AddPending(ctx context.Context, e *Entry) (uuid.UUID, error) {
	if err := Validate(e); err != nil {
		return uuid.Nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, done := r.processed[e.ID]; done {
		return e.ID, nil
	}
	if existing, ok := r.entries[e.ID]; ok {
		return existing.ID, nil
	}
	for _, other := range r.entries {
		if other.OrderID == e.OrderID && r.decidableLocked(other, time.Now()) {
			return other.ID, nil
		}
	}

	r.entries[e.ID] = e
	if err := r.persistLocked(ctx); err != nil {
		return uuid.Nil, err
	}
	return e.ID, nil
}

// Pending returns the verifications still awaiting a decision at now,
// highest priority first and oldest first within a priority. Expired and
// already decided entries are excluded.
func (r *Registry) Pending(now time.Time) []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if r.decidableLocked(e, now) {
			pending = append(pending, e)
		}
	}
	sortEntries(pending)
	return pending
}

// Next returns the verification that should be surfaced first, or nil.
func (r *Registry) Next(now time.Time) *Entry {
	pending := r.Pending(now)
	if len(pending) == 0 {
		return nil
	}
	return pending[0]
}

// Get returns the entry with the given id, decided or not.
func (r *Registry) Get(id uuid.UUID) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[id]
}

// Process applies the customer's decision. The decision is recorded locally
// and persisted before the backend is told, so a crash or network loss after
// this point can only delay synchronization, never undo the decision.
// Deciding an id twice returns the first outcome without side effects.
func (r *Registry) Process(ctx context.Context, id uuid.UUID, approved bool) (*ProcessResult, error) {
	r.mu.Lock()

	if prior, done := r.processed[id]; done {
		r.mu.Unlock()
		return &ProcessResult{Approved: prior, Message: "Verification already processed"}, nil
	}
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotFound
	}
	if e.Expired(time.Now()) {
		r.mu.Unlock()
		return nil, ErrExpired
	}

	if approved {
		e.Status = verification.StatusApproved
	} else {
		e.Status = verification.StatusRejected
	}
	r.processed[id] = approved
	if err := r.persistLocked(ctx); err != nil {
		delete(r.processed, id)
		e.Status = verification.StatusPending
		r.mu.Unlock()
		return nil, err
	}
	r.mu.Unlock()

	result := &ProcessResult{Approved: approved}
	if approved {
		result.Message = "Verification approved"
	} else {
		result.Message = "Verification rejected"
	}

	if err := r.backend.SubmitDecision(ctx, id, approved); err != nil {
		result.Queued = true
		if resilience.IsDegraded(err) {
			r.logger.Info("backend unreachable, decision queued", "verification_id", id)
		} else {
			r.logger.Error("failed to submit decision, will retry on refresh", "verification_id", id, "error", err)
		}
	}

	r.publishDecision(ctx, id, approved)
	return result, nil
}

// Refresh replaces local pending state with the backend's. The backend wins
// every conflict except one: ids this device already decided stay decided,
// and any such id the backend still reports pending gets its decision
// resubmitted.
func (r *Registry) Refresh(ctx context.Context) error {
	remote, err := r.backend.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh verifications: %w", err)
	}

	type retry struct {
		id       uuid.UUID
		approved bool
	}
	var retries []retry

	r.mu.Lock()
	r.entries = make(map[uuid.UUID]*Entry, len(remote))
	for _, e := range remote {
		if err := Validate(e); err != nil {
			r.logger.Error("skipping invalid verification from backend", "error", err)
			continue
		}
		r.entries[e.ID] = e
		if approved, done := r.processed[e.ID]; done {
			retries = append(retries, retry{id: e.ID, approved: approved})
		}
	}
	err = r.persistLocked(ctx)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	for _, rt := range retries {
		if err := r.backend.SubmitDecision(ctx, rt.id, rt.approved); err != nil {
			r.logger.Error("failed to resubmit queued decision", "verification_id", rt.id, "error", err)
		}
	}
	return nil
}

// ClearAll wipes local verification state, including the processed set. Used
// on logout.
func (r *Registry) ClearAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[uuid.UUID]*Entry)
	r.processed = make(map[uuid.UUID]bool)
	if err := r.store.Delete(ctx, pendingKey); err != nil {
		return fmt.Errorf("failed to clear pending verifications: %w", err)
	}
	if err := r.store.Delete(ctx, processedKey); err != nil {
		return fmt.Errorf("failed to clear processed set: %w", err)
	}
	return nil
}

// SubscribeTabDecisions mirrors decisions made in sibling tabs into this
// registry. The originating tab's own broadcasts are ignored by TabID.
func (r *Registry) SubscribeTabDecisions(ctx context.Context, sub events.Subscriber) error {
	return sub.Subscribe(ctx, event.TabDecisionsTopic, func(ctx context.Context, msg []byte) error {
		var decision event.TabDecisionEvent
		if err := json.Unmarshal(msg, &decision); err != nil {
			return fmt.Errorf("failed to parse tab decision: %w", err)
		}
		if decision.TabID == r.tabID {
			return nil
		}
		id, err := uuid.Parse(decision.VerificationID)
		if err != nil {
			return fmt.Errorf("failed to parse tab decision id: %w", err)
		}
		r.applyRemoteDecision(ctx, id, decision.Approved)
		return nil
	})
}

// applyRemoteDecision records a decision made elsewhere (another tab) so
// this registry stops surfacing the entry. No broadcast, no backend call:
// the deciding side owns both.
func (r *Registry) applyRemoteDecision(ctx context.Context, id uuid.UUID, approved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, done := r.processed[id]; done {
		return
	}
	r.processed[id] = approved
	if e, ok := r.entries[id]; ok {
		if approved {
			e.Status = verification.StatusApproved
		} else {
			e.Status = verification.StatusRejected
		}
	}
	if err := r.persistLocked(ctx); err != nil {
		r.logger.Error("failed to persist remote decision", "verification_id", id, "error", err)
	}
}

func (r *Registry) decidableLocked(e *Entry, now time.Time) bool {
	if _, done := r.processed[e.ID]; done {
		return false
	}
	return e.Status == verification.StatusPending && !e.Expired(now)
}

func (r *Registry) persistLocked(ctx context.Context) error {
	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	sortEntries(entries)

	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode pending verifications: %w", err)
	}
	if err := r.store.Set(ctx, pendingKey, raw); err != nil {
		return fmt.Errorf("failed to persist pending verifications: %w", err)
	}

	processed := make(map[string]bool, len(r.processed))
	for id, approved := range r.processed {
		processed[id.String()] = approved
	}
	raw, err = json.Marshal(processed)
	if err != nil {
		return fmt.Errorf("failed to encode processed set: %w", err)
	}
	if err := r.store.Set(ctx, processedKey, raw); err != nil {
		return fmt.Errorf("failed to persist processed set: %w", err)
	}
	return nil
}

func (r *Registry) publishDecision(ctx context.Context, id uuid.UUID, approved bool) {
	if r.publisher == nil {
		return
	}
	msg, err := json.Marshal(event.TabDecisionEvent{
		TabID:          r.tabID,
		VerificationID: id.String(),
		Approved:       approved,
	})
	if err != nil {
		r.logger.Error("failed to encode tab decision", "error", err)
		return
	}
	if err := r.publisher.Publish(ctx, event.TabDecisionsTopic, msg); err != nil {
		r.logger.Error("failed to broadcast tab decision", "error", err)
	}
}
