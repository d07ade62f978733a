package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/and161185/keypad-relay/internal/cache"
	"github.com/and161185/keypad-relay/internal/errs"
	"github.com/and161185/keypad-relay/internal/model"
	"github.com/and161185/keypad-relay/internal/repository"
)

type fakeUsers struct {
	mu    sync.Mutex
	users []model.User

	createErr error
	getErr    error
	listErr   error

	getCalls  int
	listCalls int
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.users = append(f.users, *u)
	return nil
}

func (f *fakeUsers) GetUserKey(_ context.Context, account string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return "", f.getErr
	}
	for _, u := range f.users {
		if u.Account == account {
			return u.UserKey, nil
		}
	}
	return "", errs.ErrNotFound
}

func (f *fakeUsers) ListUserKeys(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := []string{}
	for _, u := range f.users {
		out = append(out, u.UserKey)
	}
	return out, nil
}

// flakyCache wraps a cache and injects per-operation failures.
type flakyCache struct {
	cache.Cache
	getErr error
	setErr error
	delErr error
}

func (c *flakyCache) Get(ctx context.Context, key string) ([]byte, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	return c.Cache.Get(ctx, key)
}

func (c *flakyCache) Set(ctx context.Context, key string, v []byte, ttl time.Duration) error {
	if c.setErr != nil {
		return c.setErr
	}
	return c.Cache.Set(ctx, key, v, ttl)
}

func (c *flakyCache) Del(ctx context.Context, key string) error {
	if c.delErr != nil {
		return c.delErr
	}
	return c.Cache.Del(ctx, key)
}

func newFlaky() *flakyCache { return &flakyCache{Cache: cache.NewMemoryCache(0)} }

// memEvents mimics the SQL query: exact match, newest first, limited.
type memEvents struct {
	mu        sync.Mutex
	events    []model.Event
	appendErr error
	recentErr error
	lastLimit int
}

var _ repository.EventRepository = (*memEvents)(nil)

func (m *memEvents) Append(_ context.Context, e model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memEvents) Recent(_ context.Context, component, userKey string, limit int) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	if m.recentErr != nil {
		return nil, m.recentErr
	}
	out := []model.Event{}
	for _, e := range m.events {
		if e.Component == component && e.UserKey == userKey {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EventTime.After(out[j].EventTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
