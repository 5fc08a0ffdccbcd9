package audit

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zenithcms/sentinel/model"
)

// memoryEventRepository implements EventRepository over a slice so service
// behavior can be exercised without a database.
type memoryEventRepository struct {
	mu        sync.Mutex
	events    []*model.AuditEvent
	createErr error
}

func (r *memoryEventRepository) Create(ctx context.Context, event *model.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	clone := *event
	clone.ID = uint64(len(r.events) + 1)
	r.events = append(r.events, &clone)
	return nil
}

func (r *memoryEventRepository) matches(e *model.AuditEvent, f Filter) bool {
	if f.UserID != nil && e.UserID != *f.UserID {
		return false
	}
	if f.Username != "" && !strings.Contains(e.Username, f.Username) {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Resource != "" && e.Resource != f.Resource {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if f.IP != "" && e.IP != f.IP {
		return false
	}
	if f.DeviceID != "" && e.DeviceID != f.DeviceID {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.IsAnomaly != nil && e.IsAnomaly != *f.IsAnomaly {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	return true
}

func (r *memoryEventRepository) Find(ctx context.Context, filter Filter, page Page) ([]*model.AuditEvent, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*model.AuditEvent
	for _, e := range r.events {
		if r.matches(e, filter) {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	total := int64(len(matched))
	start := page.offset()
	if start > len(matched) {
		start = len(matched)
	}
	end := start + page.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (r *memoryEventRepository) FindByTraceID(ctx context.Context, traceID string) ([]*model.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*model.AuditEvent
	for _, e := range r.events {
		if e.TraceID == traceID {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})
	return matched, nil
}

func (r *memoryEventRepository) Count(ctx context.Context, filter Filter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, e := range r.events {
		if r.matches(e, filter) {
			count++
		}
	}
	return count, nil
}

func (r *memoryEventRepository) RecentLoginIPs(ctx context.Context, userID uint, since time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var recent []*model.AuditEvent
	for _, e := range r.events {
		if e.UserID == userID && e.Action == ActionLogin && !e.Timestamp.Before(since) && e.IP != "" {
			recent = append(recent, e)
		}
	}
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].Timestamp.After(recent[j].Timestamp)
	})
	if len(recent) > limit {
		recent = recent[:limit]
	}
	seen := map[string]bool{}
	var ips []string
	for _, e := range recent {
		if !seen[e.IP] {
			seen[e.IP] = true
			ips = append(ips, e.IP)
		}
	}
	return ips, nil
}

func (r *memoryEventRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []*model.AuditEvent
	var removed int64
	for _, e := range r.events {
		if e.Timestamp.Before(cutoff) {
			removed++
		} else {
			kept = append(kept, e)
		}
	}
	r.events = kept
	return removed, nil
}

func newTestService(repo *memoryEventRepository, now time.Time) *Service {
	svc := NewService(repo)
	svc.now = func() time.Time { return now }
	return svc
}

func TestRecordSetsServerTimestamp(t *testing.T) {
	repo := &memoryEventRepository{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(repo, now)

	clientSupplied := now.Add(-time.Hour)
	svc.Record(context.Background(), &model.AuditEvent{
		Action:    ActionLogin,
		Status:    StatusSuccess,
		Severity:  SeverityLow,
		Timestamp: clientSupplied,
	})

	require.Len(t, repo.events, 1)
	require.Equal(t, now, repo.events[0].Timestamp)
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	repo := &memoryEventRepository{createErr: errors.New("mysql down")}
	svc := newTestService(repo, time.Now())

	require.NotPanics(t, func() {
		svc.Record(context.Background(), &model.AuditEvent{Action: ActionLogin})
	})
	require.Empty(t, repo.events)
}

func TestPurgeOlderThanStrictBoundary(t *testing.T) {
	repo := &memoryEventRepository{}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc := newTestService(repo, now)
	ctx := context.Background()

	boundary := now.AddDate(0, 0, -90)
	for _, ts := range []time.Time{
		boundary.Add(-time.Second), // purged
		boundary,                   // retained, exactly at the boundary
		boundary.Add(time.Second),  // retained
		now,                        // retained
	} {
		repo.events = append(repo.events, &model.AuditEvent{Action: ActionLogin, Timestamp: ts})
	}

	removed, err := svc.PurgeOlderThan(ctx, 90)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
	require.Len(t, repo.events, 3)
	for _, e := range repo.events {
		require.False(t, e.Timestamp.Before(boundary))
	}
}

func TestQueryPaginationDefaults(t *testing.T) {
	repo := &memoryEventRepository{}
	now := time.Now()
	svc := newTestService(repo, now)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		repo.events = append(repo.events, &model.AuditEvent{
			Action:    ActionLogin,
			Status:    StatusSuccess,
			Timestamp: now.Add(-time.Duration(i) * time.Minute),
		})
	}

	events, total, err := svc.Query(ctx, Filter{}, Page{})
	require.NoError(t, err)
	require.EqualValues(t, 25, total)
	require.Len(t, events, 20)
	// timestamp descending
	require.True(t, events[0].Timestamp.After(events[1].Timestamp))

	events, _, err = svc.Query(ctx, Filter{}, Page{Page: 2})
	require.NoError(t, err)
	require.Len(t, events, 5)
}

func TestFindByTraceIDAscending(t *testing.T) {
	repo := &memoryEventRepository{}
	now := time.Now()
	svc := newTestService(repo, now)

	for i := 2; i >= 0; i-- {
		repo.events = append(repo.events, &model.AuditEvent{
			TraceID:   "trace-1",
			Action:    ActionLogin,
			Timestamp: now.Add(time.Duration(i) * time.Second),
		})
	}
	repo.events = append(repo.events, &model.AuditEvent{TraceID: "trace-2", Timestamp: now})

	events, err := svc.FindByTraceID(context.Background(), "trace-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.True(t, events[0].Timestamp.Before(events[1].Timestamp))
	require.True(t, events[1].Timestamp.Before(events[2].Timestamp))
}

func TestRecentLoginIPsWindowAndSample(t *testing.T) {
	repo := &memoryEventRepository{}
	now := time.Now()
	svc := newTestService(repo, now)

	repo.events = append(repo.events,
		&model.AuditEvent{UserID: 1, Action: ActionLogin, IP: "10.0.0.1", Timestamp: now.Add(-time.Hour)},
		&model.AuditEvent{UserID: 1, Action: ActionLogin, IP: "10.0.0.1", Timestamp: now.Add(-2 * time.Hour)},
		&model.AuditEvent{UserID: 1, Action: ActionLogin, IP: "10.0.0.2", Timestamp: now.Add(-24 * time.Hour)},
		// outside the 30 day lookback
		&model.AuditEvent{UserID: 1, Action: ActionLogin, IP: "10.0.0.9", Timestamp: now.Add(-31 * 24 * time.Hour)},
		// different user
		&model.AuditEvent{UserID: 2, Action: ActionLogin, IP: "10.0.0.3", Timestamp: now.Add(-time.Hour)},
	)

	ips, err := svc.RecentLoginIPs(context.Background(), 1)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"10.0.0.1", "10.0.0.2"}, ips)
}

func TestSeenDevice(t *testing.T) {
	repo := &memoryEventRepository{}
	svc := newTestService(repo, time.Now())
	ctx := context.Background()

	repo.events = append(repo.events, &model.AuditEvent{
		UserID: 1, Action: ActionLogin, DeviceID: "dev-1", Timestamp: time.Now(),
	})

	seen, err := svc.SeenDevice(ctx, 1, "dev-1")
	require.NoError(t, err)
	require.True(t, seen)

	seen, err = svc.SeenDevice(ctx, 1, "dev-2")
	require.NoError(t, err)
	require.False(t, seen)

	seen, err = svc.SeenDevice(ctx, 1, "")
	require.NoError(t, err)
	require.False(t, seen)
}
