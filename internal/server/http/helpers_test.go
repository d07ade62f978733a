package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/keypad-relay/internal/cache"
	"github.com/and161185/keypad-relay/internal/model"
	"github.com/and161185/keypad-relay/internal/notify"
	"github.com/and161185/keypad-relay/internal/service"
)

var testSignKey = []byte("test-secret")

type fakeIdentity struct {
	mu       sync.Mutex
	valid    map[string]bool
	accounts map[string]string
	enrolled []string
	validErr error
}

func (f *fakeIdentity) Enroll(_ context.Context, account string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enrolled = append(f.enrolled, account)
	return "new-key", nil
}

func (f *fakeIdentity) Resolve(_ context.Context, account string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, found := f.accounts[account]
	return k, found
}

func (f *fakeIdentity) IsValid(_ context.Context, userKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.validErr != nil {
		return false, f.validErr
	}
	return f.valid[userKey], nil
}

type fakeEvents struct {
	mu      sync.Mutex
	tracked []model.Event
	queried []string
	out     []map[string]any
	err     error
}

func (f *fakeEvents) Track(_ context.Context, userKey, component, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.tracked = append(f.tracked, model.Event{UserKey: userKey, Component: component, Value: value})
	return nil
}

func (f *fakeEvents) Recent(_ context.Context, component, userKey string, limit int) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if limit != service.DefaultRecentLimit {
		return nil, errors.New("unexpected limit")
	}
	f.queried = append(f.queried, component+"/"+userKey)
	if f.out == nil {
		return []map[string]any{}, nil
	}
	return f.out, nil
}

type fixture struct {
	srv      *Server
	h        http.Handler
	identity *fakeIdentity
	events   *fakeEvents
	mailbox  *service.MailboxServiceImpl
	hub      *notify.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	f := &fixture{
		identity: &fakeIdentity{
			valid:    map[string]bool{"k": true},
			accounts: map[string]string{"acc-1": "k"},
		},
		events:  &fakeEvents{},
		mailbox: service.NewMailboxService(cache.NewMemoryCache(0), log),
		hub:     notify.NewHub(4),
	}
	f.srv = New(f.identity, f.mailbox, f.events, f.hub, testSignKey, log)
	f.h = f.srv.Routes()
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string, hdr ...string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec.Result()
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func requireSentinel(t *testing.T, resp *http.Response, status int, body string) {
	t.Helper()
	require.Equal(t, status, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	require.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
	require.Equal(t, body, readBody(t, resp))
}

func jwtFor(t *testing.T, sub string, key []byte, ttl time.Duration) string {
	t.Helper()
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}
