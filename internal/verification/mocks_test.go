package verification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/courierclub/courier/internal/notification"
)

// mockProposalRepo hands out copies on reads and checks stored state on
// conditional writes, the way the real repo's decode-and-match does. The
// hooks let tests hold concurrent requests at a known interleaving.
type mockProposalRepo struct {
	mu                sync.Mutex
	proposals         map[uuid.UUID]*Proposal
	createErr         error
	saveErr           error
	afterGet          func()
	afterPendingCheck func()
	afterList         func()
}

func newMockProposalRepo() *mockProposalRepo {
	return &mockProposalRepo{proposals: make(map[uuid.UUID]*Proposal)}
}

func (m *mockProposalRepo) Create(ctx context.Context, p *Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, stored := range m.proposals {
		if stored.OrderID == p.OrderID && stored.Status == StatusPending {
			return ErrDuplicatePending
		}
	}
	cp := *p
	m.proposals[p.ID] = &cp
	return nil
}

func (m *mockProposalRepo) Get(ctx context.Context, id uuid.UUID) (*Proposal, error) {
	m.mu.Lock()
	p, ok := m.proposals[id]
	var cp *Proposal
	if ok {
		c := *p
		cp = &c
	}
	m.mu.Unlock()
	if m.afterGet != nil {
		m.afterGet()
	}
	return cp, nil
}

func (m *mockProposalRepo) PendingByOrder(ctx context.Context, orderID uuid.UUID) (*Proposal, error) {
	m.mu.Lock()
	var cp *Proposal
	for _, p := range m.proposals {
		if p.OrderID == orderID && p.Status == StatusPending {
			c := *p
			cp = &c
			break
		}
	}
	m.mu.Unlock()
	if m.afterPendingCheck != nil {
		m.afterPendingCheck()
	}
	return cp, nil
}

func (m *mockProposalRepo) ListPendingByCustomer(ctx context.Context, customerID uuid.UUID) ([]*Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Proposal
	for _, p := range m.proposals {
		if p.CustomerID == customerID && p.Status == StatusPending {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockProposalRepo) ListPendingExpiredBefore(ctx context.Context, t time.Time) ([]*Proposal, error) {
	m.mu.Lock()
	var out []*Proposal
	for _, p := range m.proposals {
		if p.Status == StatusPending && p.ExpiresAt.Before(t) {
			cp := *p
			out = append(out, &cp)
		}
	}
	m.mu.Unlock()
	if m.afterList != nil {
		m.afterList()
	}
	return out, nil
}

func (m *mockProposalRepo) SaveFromPending(ctx context.Context, p *Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	stored, ok := m.proposals[p.ID]
	if !ok || stored.Status != StatusPending {
		return ErrNotPending
	}
	cp := *p
	m.proposals[p.ID] = &cp
	return nil
}

func (m *mockProposalRepo) setStatus(id uuid.UUID, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.proposals[id]; ok {
		p.Status = status
	}
}

type mockNotificationRepo struct {
	mu            sync.Mutex
	notifications map[uuid.UUID]*notification.Notification
	createErr     error
}

func newMockNotificationRepo() *mockNotificationRepo {
	return &mockNotificationRepo{notifications: make(map[uuid.UUID]*notification.Notification)}
}

func (m *mockNotificationRepo) Create(ctx context.Context, n *notification.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.notifications[n.ID] = n
	return nil
}

func (m *mockNotificationRepo) Get(ctx context.Context, id uuid.UUID) (*notification.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notifications[id], nil
}

func (m *mockNotificationRepo) ListByCustomer(ctx context.Context, customerID uuid.UUID, includeRead bool, now time.Time) ([]*notification.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*notification.Notification
	for _, n := range m.notifications {
		if n.CustomerID != customerID || n.Expired(now) {
			continue
		}
		if !includeRead && n.Read {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (m *mockNotificationRepo) CountUnread(ctx context.Context, customerID uuid.UUID, now time.Time) (int64, error) {
	list, _ := m.ListByCustomer(ctx, customerID, false, now)
	return int64(len(list)), nil
}

func (m *mockNotificationRepo) Save(ctx context.Context, n *notification.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[n.ID] = n
	return nil
}

func (m *mockNotificationRepo) MarkAllRead(ctx context.Context, customerID uuid.UUID, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, n := range m.notifications {
		if n.CustomerID == customerID && !n.Read {
			n.MarkRead()
			count++
		}
	}
	return count, nil
}

func (m *mockNotificationRepo) DeleteByVerification(ctx context.Context, verificationID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, n := range m.notifications {
		if n.Data["verification_id"] == verificationID.String() {
			delete(m.notifications, id)
		}
	}
	return nil
}

func (m *mockNotificationRepo) DeleteExpiredBefore(ctx context.Context, t time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for id, n := range m.notifications {
		if n.ExpiresAt.Before(t) {
			delete(m.notifications, id)
			count++
		}
	}
	return count, nil
}

func (m *mockNotificationRepo) all() []*notification.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*notification.Notification, 0, len(m.notifications))
	for _, n := range m.notifications {
		out = append(out, n)
	}
	return out
}

type mockRiderNotificationRepo struct {
	mu            sync.Mutex
	notifications map[uuid.UUID]*notification.RiderNotification
}

func newMockRiderNotificationRepo() *mockRiderNotificationRepo {
	return &mockRiderNotificationRepo{notifications: make(map[uuid.UUID]*notification.RiderNotification)}
}

func (m *mockRiderNotificationRepo) Create(ctx context.Context, n *notification.RiderNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[n.ID] = n
	return nil
}

func (m *mockRiderNotificationRepo) Get(ctx context.Context, id uuid.UUID) (*notification.RiderNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notifications[id], nil
}

func (m *mockRiderNotificationRepo) ListByRider(ctx context.Context, riderID uuid.UUID, includeRead bool, now time.Time) ([]*notification.RiderNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*notification.RiderNotification
	for _, n := range m.notifications {
		if n.RiderID != riderID || n.Expired(now) {
			continue
		}
		if !includeRead && n.Read {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (m *mockRiderNotificationRepo) CountUnread(ctx context.Context, riderID uuid.UUID, now time.Time) (int64, error) {
	list, _ := m.ListByRider(ctx, riderID, false, now)
	return int64(len(list)), nil
}

func (m *mockRiderNotificationRepo) Save(ctx context.Context, n *notification.RiderNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[n.ID] = n
	return nil
}

func (m *mockRiderNotificationRepo) MarkAllRead(ctx context.Context, riderID uuid.UUID, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, n := range m.notifications {
		if n.RiderID == riderID && !n.Read {
			n.MarkRead()
			count++
		}
	}
	return count, nil
}

func (m *mockRiderNotificationRepo) DeleteExpiredBefore(ctx context.Context, t time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for id, n := range m.notifications {
		if n.ExpiresAt.Before(t) {
			delete(m.notifications, id)
			count++
		}
	}
	return count, nil
}

func (m *mockRiderNotificationRepo) all() []*notification.RiderNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*notification.RiderNotification, 0, len(m.notifications))
	for _, n := range m.notifications {
		out = append(out, n)
	}
	return out
}

type capturePublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{messages: make(map[string][][]byte)}
}

func (p *capturePublisher) Publish(ctx context.Context, topic string, msg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages[topic] = append(p.messages[topic], msg)
	return nil
}

func (p *capturePublisher) published(topic string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.messages[topic]
}
