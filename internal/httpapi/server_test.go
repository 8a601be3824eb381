package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tiritolabs/tirito/internal/auth"
	"github.com/tiritolabs/tirito/internal/config"
	"github.com/tiritolabs/tirito/internal/engage"
	"github.com/tiritolabs/tirito/internal/market"
	"github.com/tiritolabs/tirito/internal/notify"
	"github.com/tiritolabs/tirito/internal/rating"
	"github.com/tiritolabs/tirito/internal/realtime"
)

type testEnv struct {
	router http.Handler
	tokens *auth.Tokens
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := market.NewInMemoryStore()
	hub := realtime.NewHub(nil, 0)
	notifier := notify.NewDispatcher(store, hub, nil)
	tokens := auth.NewTokens("test-secret", time.Hour)

	srv := New(
		config.Config{AllowAnyOrigin: true},
		tokens,
		engage.NewTasks(store, notifier, nil),
		engage.NewRequests(store, notifier, nil),
		engage.NewChats(store, notifier, nil, 0),
		notifier,
		rating.NewService(store),
		hub,
		nil,
	)
	return &testEnv{router: srv.Router(), tokens: tokens}
}

func (e *testEnv) do(t *testing.T, user market.UserID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		raw, err := e.tokens.Mint(user, "member")
		if err != nil {
			t.Fatalf("Mint() error = %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+raw)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestAuthRequired(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, "", http.MethodGet, "/api/tasks", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	rec2 := httptest.NewRecorder()
	e.router.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusUnauthorized {
		t.Fatalf("bogus token status = %d, want 401", rec2.Code)
	}
}

func TestHealthIsPublic(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, "", http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestTaskEndpoints(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, "alice", http.MethodPost, "/api/tasks", map[string]any{
		"title":       "Armar un mueble",
		"description": "Placard de melamina, viene en cajas",
		"location":    "Caballito",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var task market.Task
	decodeBody(t, rec, &task)
	if task.Status != market.TaskStatusOpen || task.CreatedBy != "alice" {
		t.Fatalf("task = %+v, want open task by alice", task)
	}

	// A second active task is refused with the stable code.
	rec = e.do(t, "alice", http.MethodPost, "/api/tasks", map[string]any{
		"title": "Otro", "description": "x",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", rec.Code)
	}
	var errBody errorResponse
	decodeBody(t, rec, &errBody)
	if errBody.Code != "active_task_exists" {
		t.Fatalf("code = %q, want active_task_exists", errBody.Code)
	}

	// Missing title is a 400.
	rec = e.do(t, "bob", http.MethodPost, "/api/tasks", map[string]any{"description": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid status = %d, want 400", rec.Code)
	}

	rec = e.do(t, "bob", http.MethodGet, "/api/tasks/"+task.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}
	rec = e.do(t, "bob", http.MethodGet, "/api/tasks/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing task status = %d, want 404", rec.Code)
	}

	// Non-creator may not change status.
	rec = e.do(t, "bob", http.MethodPatch, "/api/tasks/"+task.ID+"/status", map[string]any{"status": "closed"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign patch status = %d, want 403", rec.Code)
	}
	rec = e.do(t, "alice", http.MethodPatch, "/api/tasks/"+task.ID+"/status", map[string]any{"status": "closed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("close status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestRequestAndNotificationFlow(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, "alice", http.MethodPost, "/api/tasks", map[string]any{
		"title": "Pasear al perro", "description": "Una hora por la tarde",
	})
	var task market.Task
	decodeBody(t, rec, &task)

	rec = e.do(t, "bob", http.MethodPost, "/api/requests", map[string]any{
		"task_id": task.ID, "message": "Me encantan los perros",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("request status = %d, body %s", rec.Code, rec.Body.String())
	}
	var req market.Request
	decodeBody(t, rec, &req)

	// Requesting your own task is a 400 with own_task.
	rec = e.do(t, "alice", http.MethodPost, "/api/requests", map[string]any{"task_id": task.ID})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("own-task status = %d, want 400", rec.Code)
	}

	// The creator sees the pending request and its badge count.
	rec = e.do(t, "alice", http.MethodGet, "/api/requests/count", nil)
	var count struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &count)
	if count.Count != 1 {
		t.Fatalf("pending count = %d, want 1", count.Count)
	}

	// Only the creator can accept.
	rec = e.do(t, "bob", http.MethodPatch, "/api/requests/"+req.ID+"/accept", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign accept status = %d, want 403", rec.Code)
	}
	rec = e.do(t, "alice", http.MethodPatch, "/api/requests/"+req.ID+"/accept", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("accept status = %d, body %s", rec.Code, rec.Body.String())
	}
	var accepted struct {
		Request market.Request `json:"request"`
		Task    market.Task    `json:"task"`
	}
	decodeBody(t, rec, &accepted)
	if accepted.Task.Status != market.TaskStatusInProgress || accepted.Task.AssignedTo != "bob" {
		t.Fatalf("task = %+v, want in_progress assigned to bob", accepted.Task)
	}

	// A second accept hits the terminal-state guard.
	rec = e.do(t, "alice", http.MethodPatch, "/api/requests/"+req.ID+"/accept", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("re-accept status = %d, want 409", rec.Code)
	}

	// Bob got a durable notification for the acceptance.
	rec = e.do(t, "bob", http.MethodGet, "/api/notifications", nil)
	var notifs struct {
		Notifications []market.Notification `json:"notifications"`
		Unread        int                   `json:"unread"`
	}
	decodeBody(t, rec, &notifs)
	found := false
	for _, n := range notifs.Notifications {
		if n.Type == market.NotifRequestAccepted {
			found = true
			rec = e.do(t, "bob", http.MethodPut, fmt.Sprintf("/api/notifications/%s/read", n.ID), nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("mark-read status = %d", rec.Code)
			}
			// Another user cannot touch it.
			rec = e.do(t, "alice", http.MethodDelete, "/api/notifications/"+n.ID, nil)
			if rec.Code != http.StatusNotFound {
				t.Fatalf("foreign delete status = %d, want 404", rec.Code)
			}
		}
	}
	if !found {
		t.Fatalf("no request_accepted notification for bob in %+v", notifs.Notifications)
	}
}

func TestChatEndpoints(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, "alice", http.MethodPost, "/api/tasks", map[string]any{
		"title": "Mudanza chica", "description": "Unas diez cajas",
	})
	var task market.Task
	decodeBody(t, rec, &task)
	rec = e.do(t, "bob", http.MethodPost, "/api/requests", map[string]any{"task_id": task.ID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("request status = %d", rec.Code)
	}

	// Pending requester cannot open the conversation.
	rec = e.do(t, "bob", http.MethodPost, "/api/chats/"+task.ID+"/message", map[string]any{"content": "hola"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("gated send status = %d, want 403", rec.Code)
	}
	var denial errorResponse
	decodeBody(t, rec, &denial)
	if denial.Code != string(market.DenyWaitingCreatorMessage) {
		t.Fatalf("denial code = %q, want waiting_creator_message", denial.Code)
	}

	rec = e.do(t, "alice", http.MethodPost, "/api/chats/"+task.ID+"/message", map[string]any{
		"content": "hola bob", "to": "bob",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("creator send status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, "bob", http.MethodGet, "/api/chats/"+task.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d, body %s", rec.Code, rec.Body.String())
	}
	var history struct {
		Channel  market.Channel   `json:"channel"`
		Messages []market.Message `json:"messages"`
	}
	decodeBody(t, rec, &history)
	if len(history.Messages) != 1 {
		t.Fatalf("history = %d messages, want 1", len(history.Messages))
	}

	rec = e.do(t, "bob", http.MethodGet, "/api/chats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list chats status = %d", rec.Code)
	}
}

func TestRatingEndpoints(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, "alice", http.MethodPost, "/api/tasks", map[string]any{
		"title": "Colgar cuadros", "description": "Cinco cuadros con fischer",
	})
	var task market.Task
	decodeBody(t, rec, &task)
	rec = e.do(t, "bob", http.MethodPost, "/api/requests", map[string]any{"task_id": task.ID})
	var req market.Request
	decodeBody(t, rec, &req)
	e.do(t, "alice", http.MethodPatch, "/api/requests/"+req.ID+"/accept", nil)

	// Ratings only open once the task closes.
	rec = e.do(t, "alice", http.MethodPost, "/api/ratings", map[string]any{"task_id": task.ID, "score": 5})
	if rec.Code != http.StatusConflict {
		t.Fatalf("pre-close rating status = %d, want 409", rec.Code)
	}

	e.do(t, "alice", http.MethodPatch, "/api/tasks/"+task.ID+"/status", map[string]any{"status": "closed"})
	rec = e.do(t, "alice", http.MethodPost, "/api/ratings", map[string]any{"task_id": task.ID, "score": 5, "comment": "Genio"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("rating status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, "bob", http.MethodGet, "/api/ratings/summary/bob", nil)
	var summary rating.Summary
	decodeBody(t, rec, &summary)
	if summary.Count != 1 || summary.Average != 5 {
		t.Fatalf("summary = %+v, want one 5-star rating", summary)
	}
}
