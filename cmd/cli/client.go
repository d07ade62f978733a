package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
)

// statusError is a non-2xx answer from the relay.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

type sessionInfo struct {
	UserKey       string          `json:"user_key"`
	SessionID     string          `json:"session_id"`
	InitialStatus json.RawMessage `json:"initial_status"`
	Channel       string          `json:"channel"`
}

type client struct {
	base  string
	http  *http.Client
	token string
}

func newClient(base string, hc *http.Client, token string) *client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &client{base: strings.TrimRight(base, "/"), http: hc, token: token}
}

func (c *client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{Code: resp.StatusCode, Body: string(b)}
	}
	return b, nil
}

func (c *client) addUser(ctx context.Context) error {
	if c.token == "" {
		return errors.New("no session token (login required)")
	}
	_, err := c.do(ctx, http.MethodGet, "/adduser", nil)
	return err
}

func (c *client) session(ctx context.Context) (sessionInfo, error) {
	var info sessionInfo
	if c.token == "" {
		return info, errors.New("no session token (login required)")
	}
	b, err := c.do(ctx, http.MethodGet, "/session", nil)
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(b, &info); err != nil {
		return info, fmt.Errorf("decode session: %w", err)
	}
	return info, nil
}

func (c *client) set(ctx context.Context, itemType string, payload []byte) error {
	_, err := c.do(ctx, http.MethodPost, "/set/"+url.PathEscape(itemType), payload)
	return err
}

// get returns found=false when the relay has no entry.
func (c *client) get(ctx context.Context, userKey, itemType string, clear bool) ([]byte, bool, error) {
	path := "/get/" + url.PathEscape(itemType)
	if clear {
		path += "?clear=true"
	}
	b, err := c.do(ctx, http.MethodPost, path, []byte(userKey))
	var se *statusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *client) track(ctx context.Context, userKey, component, value string) error {
	body, err := json.Marshal(map[string]string{
		"user_key":  userKey,
		"component": component,
		"value":     value,
	})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, "/track/"+url.PathEscape(strings.ToLower(component)), body)
	return err
}

func (c *client) history(ctx context.Context, path, userKey string) ([]map[string]any, error) {
	b, err := c.do(ctx, http.MethodPost, path, []byte(userKey))
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return out, nil
}

func (c *client) addCommand(ctx context.Context, cmd []byte) error {
	_, err := c.do(ctx, http.MethodPost, "/cmds/add", cmd)
	return err
}

func (c *client) commands(ctx context.Context, userKey string, clear bool) ([]json.RawMessage, error) {
	path := "/cmds/get"
	if clear {
		path += "?clear=true"
	}
	b, err := c.do(ctx, http.MethodPost, path, []byte(userKey))
	if err != nil {
		return nil, err
	}
	var out []json.RawMessage
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode commands: %w", err)
	}
	return out, nil
}

// watch prints every message of the user's push channel, one per line, until ctx ends.
func (c *client) watch(ctx context.Context, userKey string, out io.Writer) error {
	wsURL := "ws" + strings.TrimPrefix(c.base, "http") + "/channel/" + url.PathEscape(userKey)
	// The stream outlives any per-request client timeout.
	hc := *c.http
	hc.Timeout = 0
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPClient: &hc})
	if err != nil {
		return fmt.Errorf("dial channel: %w", err)
	}
	defer conn.CloseNow()

	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		if _, err := fmt.Fprintln(out, string(msg)); err != nil {
			return err
		}
	}
}

// ---- payload builders ----

// buildPayload turns k=v pairs into a JSON object carrying user_key.
// Values that parse as JSON keep their type; anything else is a string.
func buildPayload(userKey string, kv []string) ([]byte, error) {
	obj := map[string]any{}
	for _, pair := range kv {
		k, v, found := strings.Cut(pair, "=")
		if !found || k == "" {
			return nil, fmt.Errorf("bad pair %q, want key=value", pair)
		}
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err == nil {
			obj[k] = parsed
		} else {
			obj[k] = v
		}
	}
	obj["user_key"] = userKey
	return json.Marshal(obj)
}

// withUserKey sets user_key on a JSON object payload.
func withUserKey(raw []byte, userKey string) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, errors.New("payload must be a JSON object")
	}
	k, err := json.Marshal(userKey)
	if err != nil {
		return nil, err
	}
	obj["user_key"] = k
	return json.Marshal(obj)
}
