package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type mockRepo struct {
	mu            sync.Mutex
	notifications map[uuid.UUID]*Notification
	deleteCalls   int
	deleteErr     error
}

func newMockRepo() *mockRepo {
	return &mockRepo{notifications: make(map[uuid.UUID]*Notification)}
}

func (m *mockRepo) Create(ctx context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[n.ID] = n
	return nil
}

func (m *mockRepo) Get(ctx context.Context, id uuid.UUID) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notifications[id], nil
}

func (m *mockRepo) ListByCustomer(ctx context.Context, customerID uuid.UUID, includeRead bool, now time.Time) ([]*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Notification
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

func (m *mockRepo) CountUnread(ctx context.Context, customerID uuid.UUID, now time.Time) (int64, error) {
	list, _ := m.ListByCustomer(ctx, customerID, false, now)
	return int64(len(list)), nil
}

func (m *mockRepo) Save(ctx context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[n.ID] = n
	return nil
}

func (m *mockRepo) MarkAllRead(ctx context.Context, customerID uuid.UUID, at time.Time) (int64, error) {
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

func (m *mockRepo) DeleteByVerification(ctx context.Context, verificationID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, n := range m.notifications {
		if n.Data["verification_id"] == verificationID.String() {
			delete(m.notifications, id)
		}
	}
	return nil
}

func (m *mockRepo) DeleteExpiredBefore(ctx context.Context, t time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	var count int64
	for id, n := range m.notifications {
		if n.ExpiresAt.Before(t) {
			delete(m.notifications, id)
			count++
		}
	}
	return count, nil
}

func (m *mockRepo) deleteCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteCalls
}

type mockRiderRepo struct {
	mu            sync.Mutex
	notifications map[uuid.UUID]*RiderNotification
	deleteCalls   int
}

func newMockRiderRepo() *mockRiderRepo {
	return &mockRiderRepo{notifications: make(map[uuid.UUID]*RiderNotification)}
}

func (m *mockRiderRepo) Create(ctx context.Context, n *RiderNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[n.ID] = n
	return nil
}

func (m *mockRiderRepo) Get(ctx context.Context, id uuid.UUID) (*RiderNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notifications[id], nil
}

func (m *mockRiderRepo) ListByRider(ctx context.Context, riderID uuid.UUID, includeRead bool, now time.Time) ([]*RiderNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*RiderNotification
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

func (m *mockRiderRepo) CountUnread(ctx context.Context, riderID uuid.UUID, now time.Time) (int64, error) {
	list, _ := m.ListByRider(ctx, riderID, false, now)
	return int64(len(list)), nil
}

func (m *mockRiderRepo) Save(ctx context.Context, n *RiderNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[n.ID] = n
	return nil
}

func (m *mockRiderRepo) MarkAllRead(ctx context.Context, riderID uuid.UUID, at time.Time) (int64, error) {
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

func (m *mockRiderRepo) DeleteExpiredBefore(ctx context.Context, t time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	var count int64
	for id, n := range m.notifications {
		if n.ExpiresAt.Before(t) {
			delete(m.notifications, id)
			count++
		}
	}
	return count, nil
}

func (m *mockRiderRepo) deleteCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteCalls
}
