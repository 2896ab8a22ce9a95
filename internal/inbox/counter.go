package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/appetiteclub/apt"

	"github.com/courierclub/courier/internal/kv"
	"github.com/courierclub/courier/internal/resilience"
	"github.com/courierclub/courier/internal/sched"
)

const lastFetchKey = "notifications.last_fetch"

// DefaultPollInterval paces the badge poller. It matches the rider cadence;
// customer apps pass CustomerPollInterval to Start instead.
const DefaultPollInterval = 30 * time.Second

// DefaultMinFetchGap is the shortest allowed distance between two fetches,
// shared across tabs through the kv store so opening five tabs does not
// mean five times the request rate.
const DefaultMinFetchGap = 10 * time.Second

// CustomerPollInterval and CustomerMinFetchGap slow the customer badge down:
// unread counts matter less there, and several tabs commonly share a device.
const (
	CustomerPollInterval = 5 * time.Minute
	CustomerMinFetchGap  = 2 * time.Minute
)

// CountClient fetches the unread notification count for the bound recipient.
type CountClient interface {
	UnreadCount(ctx context.Context) (int, error)
}

// HTTPCount reads the count over the resilient HTTP client. Recipient
// identity travels on the client's standing headers.
type HTTPCount struct {
	baseURL string
	client  *resilience.Client
}

func NewHTTPCount(baseURL string, client *resilience.Client) *HTTPCount {
	return &HTTPCount{baseURL: baseURL, client: client}
}

func (c *HTTPCount) UnreadCount(ctx context.Context) (int, error) {
	resp, err := c.client.Do(ctx, http.MethodGet, c.baseURL+"/notifications/unread-count", nil)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unread count returned status %d", resp.StatusCode)
	}
	var payload struct {
		Data struct {
			UnreadCount int `json:"unread_count"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return 0, fmt.Errorf("failed to decode unread count: %w", err)
	}
	return payload.Data.UnreadCount, nil
}

// Counter keeps the notification badge current. It polls on an interval,
// rate limits fetches through a shared timestamp in the kv store, and holds
// the last known count through outages so the badge degrades to stale
// rather than to zero.
type Counter struct {
	logger apt.Logger
	client CountClient
	store  kv.Store
	minGap time.Duration

	mu    sync.Mutex
	count int
	known bool
	task  *sched.Task
}

func NewCounter(client CountClient, store kv.Store, logger apt.Logger) *Counter {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Counter{
		logger: logger,
		client: client,
		store:  store,
		minGap: DefaultMinFetchGap,
	}
}

// WithMinFetchGap overrides the shared rate limit window. Customer tabs use
// CustomerMinFetchGap; the default suits the rider cadence.
func (c *Counter) WithMinFetchGap(gap time.Duration) *Counter {
	if gap > 0 {
		c.minGap = gap
	}
	return c
}

// Count returns the last known unread count. False means no fetch has ever
// succeeded and the badge should not render a number.
func (c *Counter) Count() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count, c.known
}

// Refresh fetches the unread count unless another fetch ran within the
// minimum gap. On any failure the previous count is kept and returned.
func (c *Counter) Refresh(ctx context.Context) (int, error) {
	stamp, hadStamp, ok := c.claimFetch(ctx)
	if !ok {
		count, _ := c.Count()
		return count, nil
	}

	count, err := c.client.UnreadCount(ctx)
	if err != nil {
		c.logger.Info("unread count fetch failed, keeping last known", "error", err)
		c.releaseFetch(ctx, stamp, hadStamp)
		prev, _ := c.Count()
		return prev, nil
	}

	c.mu.Lock()
	c.count = count
	c.known = true
	c.mu.Unlock()
	return count, nil
}

// Start begins polling. Stop the returned counter with Stop.
func (c *Counter) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	c.task = sched.Every(interval, func(ctx context.Context) {
		if _, err := c.Refresh(ctx); err != nil {
			c.logger.Error("unread count refresh failed", "error", err)
		}
	})
}

// Pause suspends polling while a dialog needs the device's full attention.
func (c *Counter) Pause() {
	if c.task != nil {
		c.task.Pause()
	}
}

func (c *Counter) Resume() {
	if c.task != nil {
		c.task.Resume()
	}
}

func (c *Counter) Stop() {
	if c.task != nil {
		c.task.Stop()
		c.task = nil
	}
}

// claimFetch consults the shared last-fetch timestamp and advances it when
// this caller is allowed to fetch, returning the previous stamp so a failed
// fetch can hand the claim back. Storage errors never block a fetch.
func (c *Counter) claimFetch(ctx context.Context) (prev []byte, hadPrev bool, ok bool) {
	raw, found, err := c.store.Get(ctx, lastFetchKey)
	if err != nil {
		c.logger.Debug("cannot read last fetch timestamp", "error", err)
	} else if found {
		if last, perr := time.Parse(time.RFC3339Nano, string(raw)); perr == nil {
			if time.Since(last) < c.minGap {
				return nil, false, false
			}
		}
		prev, hadPrev = raw, true
	}

	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	if err := c.store.Set(ctx, lastFetchKey, []byte(stamp)); err != nil {
		c.logger.Debug("cannot record fetch timestamp", "error", err)
	}
	return prev, hadPrev, true
}

// releaseFetch restores the previous timestamp after a failed fetch so a
// sibling tab is not locked out for the full gap by a fetch that returned
// nothing.
func (c *Counter) releaseFetch(ctx context.Context, prev []byte, hadPrev bool) {
	var err error
	if hadPrev {
		err = c.store.Set(ctx, lastFetchKey, prev)
	} else {
		err = c.store.Delete(ctx, lastFetchKey)
	}
	if err != nil {
		c.logger.Debug("cannot restore fetch timestamp", "error", err)
	}
}
