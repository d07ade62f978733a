// Package httpserver exposes the keypad relay HTTP API.
package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/keypad-relay/internal/errs"
	"github.com/and161185/keypad-relay/internal/model"
	"github.com/and161185/keypad-relay/internal/notify"
	"github.com/and161185/keypad-relay/internal/service"
)

// DefaultMaxBodyBytes caps request bodies when no explicit limit is set.
const DefaultMaxBodyBytes = 1 << 20

const (
	contentText = "text/plain; charset=utf-8"
	contentJSON = "application/json"

	statusItem = "status"
	maxLogged  = 4096
)

// Hub is the push session registry the channel endpoint serves from.
type Hub interface {
	notify.Notifier
	CreateSession(userKey string) (*notify.Session, error)
	Close(s *notify.Session)
}

// Server wires services into HTTP handlers.
type Server struct {
	identity service.IdentityService
	mailbox  service.MailboxService
	events   service.EventLogService
	hub      Hub
	signKey  []byte
	log      *zap.Logger

	// MaxBodyBytes caps request bodies; 0 means DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// New constructs an HTTP server with injected services.
func New(identity service.IdentityService, mailbox service.MailboxService, events service.EventLogService, hub Hub, signKey []byte, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		identity: identity,
		mailbox:  mailbox,
		events:   events,
		hub:      hub,
		signKey:  signKey,
		log:      log,
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	maxBody := s.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	r := chi.NewRouter()
	r.Use(Logging(s.log))
	r.Use(Recover(s.log))
	r.Use(CORS)
	r.Use(LimitBody(maxBody))

	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeReply(w, reply{status: http.StatusOK, contentType: contentJSON, body: []byte(`{"status":"ok"}`)})
	})

	r.Post("/set/{item_type}", s.handle("set", s.setState))
	r.Post("/get/{item_type}", s.handle("get", s.getState))
	r.Post("/track/*", s.handle("track", s.track))
	r.Post("/door", s.handle("door", s.history(model.ComponentFrontDoor)))
	r.Post("/door/*", s.handle("door", s.history(model.ComponentFrontDoor)))
	r.Post("/state", s.handle("state", s.history(model.ComponentState)))
	r.Post("/state/*", s.handle("state", s.history(model.ComponentState)))
	r.Post("/cmds/get", s.handle("cmds.get", s.drainCommands))
	r.Post("/cmds/add", s.handle("cmds.add", s.appendCommand))
	r.Get("/channel/{user_key}", s.channel)

	r.Group(func(r chi.Router) {
		r.Use(s.platformSession)
		r.Get("/adduser", s.handle("adduser", s.addUser))
		r.Get("/session", s.handle("session", s.session))
	})
	return r
}

// reply is what an operation hands back to the boundary for writing.
type reply struct {
	status      int
	contentType string
	body        []byte
}

func ok(text string) reply {
	return reply{status: http.StatusOK, contentType: contentText, body: []byte(text)}
}

func rawJSON(b []byte) reply {
	return reply{status: http.StatusOK, contentType: contentJSON, body: b}
}

func jsonOf(v any) (reply, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return reply{}, fmt.Errorf("encode response: %w", err)
	}
	return rawJSON(b), nil
}

func rejected() reply {
	return reply{status: http.StatusUnauthorized, contentType: contentText, body: []byte("NO")}
}

func absent() reply {
	return reply{status: http.StatusNotFound, contentType: contentJSON}
}

func faulted() reply {
	return reply{status: http.StatusInternalServerError, contentType: contentText, body: []byte("ERROR")}
}

func writeReply(w http.ResponseWriter, rep reply) {
	w.Header().Set("Content-Type", rep.contentType)
	w.WriteHeader(rep.status)
	_, _ = w.Write(rep.body)
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeReply(w, reply{status: http.StatusNotFound, contentType: contentText, body: []byte("Not found.")})
}

type operation func(r *http.Request, body []byte) (reply, error)

// handle reads the body, runs fn and translates its error kind into a response.
func (s *Server) handle(op string, fn operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			s.fail(w, op, body, fmt.Errorf("%w: read body: %v", errs.ErrValidation, err))
			return
		}
		rep, err := fn(r, body)
		if err != nil {
			s.fail(w, op, body, err)
			return
		}
		writeReply(w, rep)
	}
}

func (s *Server) fail(w http.ResponseWriter, op string, payload []byte, err error) {
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		s.log.Warn("rejected", zap.String("op", op), zap.Error(err))
		writeReply(w, rejected())
	case errors.Is(err, errs.ErrNotFound):
		writeReply(w, absent())
	default:
		if len(payload) > maxLogged {
			payload = payload[:maxLogged]
		}
		s.log.Error("request failed",
			zap.String("op", op),
			zap.ByteString("payload", payload),
			zap.Error(err),
		)
		writeReply(w, faulted())
	}
}

// authorize maps an unknown user key to errs.ErrUnauthorized.
func (s *Server) authorize(ctx context.Context, userKey string) error {
	valid, err := s.identity.IsValid(ctx, userKey)
	if err != nil {
		return fmt.Errorf("validate user key: %w", err)
	}
	if !valid {
		return fmt.Errorf("%w: unknown user key", errs.ErrUnauthorized)
	}
	return nil
}

// --- Mailbox ---

func (s *Server) setState(r *http.Request, body []byte) (reply, error) {
	fields, err := decodeObject(body)
	if err != nil {
		return reply{}, err
	}
	userKey, err := userKeyField(fields)
	if err != nil {
		return reply{}, err
	}
	if err := s.authorize(r.Context(), userKey); err != nil {
		return reply{}, err
	}
	if err := s.mailbox.PutState(r.Context(), userKey, chi.URLParam(r, "item_type"), body); err != nil {
		return reply{}, err
	}
	s.hub.Notify(r.Context(), userKey, body)
	return ok("OK"), nil
}

func (s *Server) getState(r *http.Request, body []byte) (reply, error) {
	userKey := rawUserKey(body)
	if err := s.authorize(r.Context(), userKey); err != nil {
		return reply{}, err
	}
	b, err := s.mailbox.GetState(r.Context(), userKey, chi.URLParam(r, "item_type"), clearRequested(r))
	if err != nil {
		return reply{}, err
	}
	return rawJSON(b), nil
}

func (s *Server) drainCommands(r *http.Request, body []byte) (reply, error) {
	userKey := rawUserKey(body)
	if err := s.authorize(r.Context(), userKey); err != nil {
		return reply{}, err
	}
	cmds, err := s.mailbox.DrainCommands(r.Context(), userKey, clearRequested(r))
	if err != nil {
		return reply{}, err
	}
	return jsonOf(cmds)
}

func (s *Server) appendCommand(r *http.Request, body []byte) (reply, error) {
	fields, err := decodeObject(body)
	if err != nil {
		return reply{}, err
	}
	userKey, err := userKeyField(fields)
	if err != nil {
		return reply{}, err
	}
	if err := s.authorize(r.Context(), userKey); err != nil {
		return reply{}, err
	}
	if err := s.mailbox.AppendCommand(r.Context(), userKey, json.RawMessage(body)); err != nil {
		return reply{}, err
	}
	return ok("OK"), nil
}

// --- Event log ---

func (s *Server) track(r *http.Request, body []byte) (reply, error) {
	fields, err := decodeObject(body)
	if err != nil {
		return reply{}, err
	}
	userKey, err := userKeyField(fields)
	if err != nil {
		return reply{}, err
	}
	component, err := textField(fields, "component")
	if err != nil {
		return reply{}, err
	}
	value, err := textField(fields, "value")
	if err != nil {
		return reply{}, err
	}
	if err := s.authorize(r.Context(), userKey); err != nil {
		return reply{}, err
	}
	if err := s.events.Track(r.Context(), userKey, component, value); err != nil {
		return reply{}, err
	}
	return ok("OK"), nil
}

func (s *Server) history(component string) operation {
	return func(r *http.Request, body []byte) (reply, error) {
		userKey := rawUserKey(body)
		if err := s.authorize(r.Context(), userKey); err != nil {
			return reply{}, err
		}
		out, err := s.events.Recent(r.Context(), component, userKey, service.DefaultRecentLimit)
		if err != nil {
			return reply{}, err
		}
		return jsonOf(out)
	}
}

// --- Platform session ---

func (s *Server) addUser(r *http.Request, _ []byte) (reply, error) {
	account, found := AccountFromCtx(r.Context())
	if !found {
		return reply{}, errs.ErrUnauthorized
	}
	if _, err := s.identity.Enroll(r.Context(), account); err != nil {
		return reply{}, err
	}
	return ok("Added"), nil
}

type sessionInfo struct {
	UserKey       string          `json:"user_key"`
	SessionID     string          `json:"session_id"`
	InitialStatus json.RawMessage `json:"initial_status"`
	Channel       string          `json:"channel"`
}

// session returns what a panel page needs to start: its user key, the last
// known status and where to open the push channel.
func (s *Server) session(r *http.Request, _ []byte) (reply, error) {
	account, found := AccountFromCtx(r.Context())
	if !found {
		return reply{}, errs.ErrUnauthorized
	}
	userKey, found := s.identity.Resolve(r.Context(), account)
	if !found {
		return reply{}, fmt.Errorf("%w: no user key for account", errs.ErrUnauthorized)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return reply{}, err
	}

	info := sessionInfo{
		UserKey:       userKey,
		SessionID:     id.String(),
		InitialStatus: json.RawMessage("null"),
		Channel:       "/channel/" + userKey,
	}
	status, err := s.mailbox.GetState(r.Context(), userKey, statusItem, false)
	switch {
	case err == nil && json.Valid(status):
		info.InitialStatus = status
	case err == nil:
		s.log.Warn("initial status is not JSON", zap.String("user_key", userKey))
	case !errors.Is(err, errs.ErrNotFound):
		return reply{}, err
	}
	return jsonOf(info)
}

// --- body helpers ---

func decodeObject(body []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: body is not a JSON object: %v", errs.ErrValidation, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: body is not a JSON object", errs.ErrValidation)
	}
	return fields, nil
}

// userKeyField requires user_key to be present. A non-string value comes back
// empty and fails authorization.
func userKeyField(fields map[string]json.RawMessage) (string, error) {
	raw, found := fields["user_key"]
	if !found {
		return "", fmt.Errorf("%w: missing user_key", errs.ErrValidation)
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", nil
	}
	return v, nil
}

// textField returns a string field as is and any other JSON value as compact text.
func textField(fields map[string]json.RawMessage, name string) (string, error) {
	raw, found := fields[name]
	if !found {
		return "", fmt.Errorf("%w: missing %s", errs.ErrValidation, name)
	}
	var v string
	if err := json.Unmarshal(raw, &v); err == nil {
		return v, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", fmt.Errorf("%w: %s: %v", errs.ErrValidation, name, err)
	}
	return buf.String(), nil
}

func rawUserKey(body []byte) string { return strings.TrimSpace(string(body)) }

func clearRequested(r *http.Request) bool { return r.URL.Query().Get("clear") == "true" }
