package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"
)

type fakeRepository struct {
	mu    sync.Mutex
	items map[string]Notification
	clock time.Time
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{items: make(map[string]Notification), clock: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeRepository) Create(ctx context.Context, n Notification) (Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(time.Second)
	n.CreatedAt = f.clock
	f.items[n.ID] = n
	return n, nil
}

func (f *fakeRepository) Get(ctx context.Context, id string) (Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.items[id]
	if !ok {
		return Notification{}, ErrNotFound
	}
	return n, nil
}

func (f *fakeRepository) List(ctx context.Context, filter Filter) ([]Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Notification, 0)
	for _, n := range f.items {
		if n.UserID == filter.UserID && (!filter.UnreadOnly || !n.Read) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	items, _ := f.List(ctx, Filter{UserID: userID, UnreadOnly: true})
	return len(items), nil
}

func (f *fakeRepository) MarkRead(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.items[id]
	if !ok {
		return ErrNotFound
	}
	n.Read = true
	f.items[id] = n
	return nil
}

func (f *fakeRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var changed int64
	for id, n := range f.items {
		if n.UserID == userID && !n.Read {
			n.Read = true
			f.items[id] = n
			changed++
		}
	}
	return changed, nil
}

func newTestService() (*Service, *fakeRepository) {
	repo := newFakeRepository()
	seq := 0
	svc := NewService(repo).WithIDGenerator(func() string {
		seq++
		return fmt.Sprintf("n-%d", seq)
	})
	return svc, repo
}

func TestService_NotifyAndList(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if err := svc.Notify(ctx, "u1", "dispute_filed", "New Dispute", "first", "/dispute/d1"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if err := svc.Notify(ctx, "u1", "new_message", "New Message", "second", "/dispute/d1"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if err := svc.Notify(ctx, "u2", "new_message", "New Message", "other", "/dispute/d1"); err != nil {
		t.Fatalf("notify: %v", err)
	}

	items, err := svc.List(ctx, "u1", false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 notifications got %d", len(items))
	}
	if items[0].Message != "second" {
		t.Fatalf("expected newest first, got %q", items[0].Message)
	}
}

func TestService_NotifyRequiresRecipient(t *testing.T) {
	svc, _ := newTestService()
	if err := svc.Notify(context.Background(), "", "x", "t", "m", ""); err == nil {
		t.Fatal("expected error for empty recipient")
	}
}

func TestService_MarkReadOwnerOnly(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	_ = svc.Notify(ctx, "u1", "dispute_filed", "t", "m", "")

	if err := svc.MarkRead(ctx, "u2", "n-1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden got %v", err)
	}
	if err := svc.MarkRead(ctx, "u1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
	if err := svc.MarkRead(ctx, "u1", "n-1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	count, _ := svc.UnreadCount(ctx, "u1")
	if count != 0 {
		t.Fatalf("expected 0 unread got %d", count)
	}
}

func TestService_MarkAllRead(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = svc.Notify(ctx, "u1", "new_message", "t", fmt.Sprintf("m%d", i), "")
	}
	_ = svc.Notify(ctx, "u2", "new_message", "t", "other", "")

	changed, err := svc.MarkAllRead(ctx, "u1")
	if err != nil {
		t.Fatalf("mark all read: %v", err)
	}
	if changed != 3 {
		t.Fatalf("expected 3 changed got %d", changed)
	}

	unread, _ := svc.List(ctx, "u1", true)
	if len(unread) != 0 {
		t.Fatalf("expected no unread got %d", len(unread))
	}
	other, _ := svc.UnreadCount(ctx, "u2")
	if other != 1 {
		t.Fatalf("expected u2 untouched, got %d unread", other)
	}
}
