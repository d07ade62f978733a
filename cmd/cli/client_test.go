package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method, path, query, auth string
	body                      string
}

type fakeRelay struct {
	mu   sync.Mutex
	reqs []recorded
	srv  *httptest.Server
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	f := &fakeRelay{}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.reqs = append(f.reqs, recorded{r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("Authorization"), string(b)})
		f.mu.Unlock()

		switch {
		case r.URL.Path == "/session":
			_, _ = w.Write([]byte(`{"user_key":"k","session_id":"s1","initial_status":null,"channel":"/channel/k"}`))
		case r.URL.Path == "/get/missing":
			w.WriteHeader(http.StatusNotFound)
		case strings.HasPrefix(r.URL.Path, "/get/"):
			_, _ = w.Write([]byte(`{"user_key":"k","armed":true}`))
		case r.URL.Path == "/door":
			_, _ = w.Write([]byte(`[{"component":"FRONT_DOOR","value":"open"}]`))
		case r.URL.Path == "/cmds/get":
			_, _ = w.Write([]byte(`[{"command":"a"},{"command":"b"}]`))
		case string(b) == "bad":
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("NO"))
		default:
			_, _ = w.Write([]byte("OK"))
		}
	})
	mux.HandleFunc("/channel/k", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ready"}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"armed":true}`))
		_ = conn.Close(websocket.StatusNormalClosure, "done")
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRelay) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func TestClient_SessionAndAddUser(t *testing.T) {
	t.Parallel()
	f := newFakeRelay(t)
	ctx := context.Background()

	anon := newClient(f.srv.URL, f.srv.Client(), "")
	require.Error(t, anon.addUser(ctx))
	_, err := anon.session(ctx)
	require.Error(t, err)

	cl := newClient(f.srv.URL+"/", f.srv.Client(), "jwt")
	require.NoError(t, cl.addUser(ctx))
	require.Equal(t, recorded{method: http.MethodGet, path: "/adduser", auth: "Bearer jwt"}, f.last())

	info, err := cl.session(ctx)
	require.NoError(t, err)
	require.Equal(t, "k", info.UserKey)
	require.Equal(t, "s1", info.SessionID)
	require.Equal(t, "/channel/k", info.Channel)
}

func TestClient_MailboxCalls(t *testing.T) {
	t.Parallel()
	f := newFakeRelay(t)
	cl := newClient(f.srv.URL, f.srv.Client(), "")
	ctx := context.Background()

	require.NoError(t, cl.set(ctx, "status", []byte(`{"user_key":"k"}`)))
	require.Equal(t, "/set/status", f.last().path)
	require.Equal(t, `{"user_key":"k"}`, f.last().body)

	b, found, err := cl.get(ctx, "k", "status", true)
	require.NoError(t, err)
	require.True(t, found)
	require.JSONEq(t, `{"user_key":"k","armed":true}`, string(b))
	require.Equal(t, "clear=true", f.last().query)
	require.Equal(t, "k", f.last().body)

	_, found, err = cl.get(ctx, "k", "missing", false)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, cl.addCommand(ctx, []byte(`{"user_key":"k","command":"a"}`)))
	require.Equal(t, "/cmds/add", f.last().path)

	cmds, err := cl.commands(ctx, "k", false)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	require.Empty(t, f.last().query)
}

func TestClient_EventCalls(t *testing.T) {
	t.Parallel()
	f := newFakeRelay(t)
	cl := newClient(f.srv.URL, f.srv.Client(), "")
	ctx := context.Background()

	require.NoError(t, cl.track(ctx, "k", "FRONT_DOOR", "open"))
	require.Equal(t, "/track/front_door", f.last().path)
	require.JSONEq(t, `{"user_key":"k","component":"FRONT_DOOR","value":"open"}`, f.last().body)

	out, err := cl.history(ctx, "/door", "k")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "open", out[0]["value"])
}

func TestClient_StatusErrors(t *testing.T) {
	t.Parallel()
	f := newFakeRelay(t)
	cl := newClient(f.srv.URL, f.srv.Client(), "")

	err := cl.set(context.Background(), "status", []byte("bad"))
	var se *statusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusUnauthorized, se.Code)
	require.Equal(t, "NO", se.Body)
	require.Contains(t, se.Error(), "401")
}

func TestClient_Watch(t *testing.T) {
	t.Parallel()
	f := newFakeRelay(t)
	cl := newClient(f.srv.URL, f.srv.Client(), "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out bytes.Buffer
	require.NoError(t, cl.watch(ctx, "k", &out))
	require.Equal(t, "{\"type\":\"ready\"}\n{\"armed\":true}\n", out.String())
}

func Test_buildPayload(t *testing.T) {
	t.Parallel()

	b, err := buildPayload("k", []string{"command=unlock", "count=3", "flags={\"x\":true}", "user_key=spoof"})
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	require.Equal(t, map[string]any{
		"user_key": "k",
		"command":  "unlock",
		"count":    float64(3),
		"flags":    map[string]any{"x": true},
	}, got)

	_, err = buildPayload("k", []string{"novalue"})
	require.Error(t, err)
	_, err = buildPayload("k", []string{"=v"})
	require.Error(t, err)
}

func Test_withUserKey(t *testing.T) {
	t.Parallel()

	b, err := withUserKey([]byte(`{"armed":true,"user_key":"old"}`), "k")
	require.NoError(t, err)
	require.JSONEq(t, `{"armed":true,"user_key":"k"}`, string(b))

	_, err = withUserKey([]byte(`[1]`), "k")
	require.Error(t, err)
	_, err = withUserKey([]byte(`null`), "k")
	require.Error(t, err)
}
