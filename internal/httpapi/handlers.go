package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tiritolabs/tirito/internal/engage"
	"github.com/tiritolabs/tirito/internal/market"
)

type createTaskRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Images      []string `json:"images"`
	Location    string   `json:"location"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	task, err := s.tasks.Create(r.Context(), userFrom(r), engage.CreateTaskInput{
		Title:       req.Title,
		Description: req.Description,
		Images:      req.Images,
		Location:    req.Location,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := market.TaskFilter{
		Status: market.TaskStatus(strings.TrimSpace(q.Get("status"))),
		Search: strings.TrimSpace(q.Get("search")),
		Limit:  intQuery(q.Get("limit"), 20),
		Skip:   intQuery(q.Get("skip"), 0),
	}
	if q.Get("all") == "true" {
		filter.All = true
	}
	tasks, total, err := s.tasks.List(r.Context(), filter)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "total": total})
}

func (s *Server) handleListMyTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tasks.ListMine(r.Context(), userFrom(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleCanCreateTask(w http.ResponseWriter, r *http.Request) {
	ok, err := s.tasks.CanCreate(r.Context(), userFrom(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"can_create": ok})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

type taskStatusRequest struct {
	Status market.TaskStatus `json:"status"`
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req taskStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	task, err := s.tasks.TransitionStatus(r.Context(), userFrom(r), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

type createRequestRequest struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var req createRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	created, err := s.requests.Create(r.Context(), userFrom(r), req.TaskID, req.Message)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListMyRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.requests.ListForCreator(r.Context(), userFrom(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"requests": reqs})
}

func (s *Server) handleListSentRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.requests.ListSent(r.Context(), userFrom(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"requests": reqs})
}

func (s *Server) handlePendingRequestCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.requests.PendingCount(r.Context(), userFrom(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"count": n})
}

func (s *Server) handleAcceptRequest(w http.ResponseWriter, r *http.Request) {
	req, task, err := s.requests.Accept(r.Context(), userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"request": req, "task": task})
}

func (s *Server) handleRejectRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.requests.Reject(r.Context(), userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.chats.ListMine(r.Context(), userFrom(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	with := market.UserID(strings.TrimSpace(r.URL.Query().Get("with")))
	ch, msgs, err := s.chats.History(r.Context(), userFrom(r), chi.URLParam(r, "taskID"), with)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"channel": ch, "messages": msgs})
}

type sendMessageRequest struct {
	Content string        `json:"content"`
	To      market.UserID `json:"to"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	msg, err := s.chats.Send(r.Context(), userFrom(r), chi.URLParam(r, "taskID"), req.To, req.Content)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	unreadOnly := q.Get("unread") == "true"
	limit := intQuery(q.Get("limit"), 20)
	skip := intQuery(q.Get("skip"), 0)

	items, total, unread, err := s.notifications.List(r.Context(), userFrom(r), unreadOnly, limit, skip)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"notifications": items,
		"total":         total,
		"unread":        unread,
	})
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.notifications.UnreadCount(r.Context(), userFrom(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"count": n})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.notifications.MarkRead(r.Context(), userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	if err := s.notifications.MarkAllRead(r.Context(), userFrom(r)); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := s.notifications.Delete(r.Context(), userFrom(r), chi.URLParam(r, "id")); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type createRatingRequest struct {
	TaskID  string `json:"task_id"`
	Score   int    `json:"score"`
	Comment string `json:"comment"`
}

func (s *Server) handleCreateRating(w http.ResponseWriter, r *http.Request) {
	var req createRatingRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	rated, err := s.ratings.Rate(r.Context(), userFrom(r), req.TaskID, req.Score, req.Comment)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, rated)
}

func (s *Server) handleListRatings(w http.ResponseWriter, r *http.Request) {
	ratings, err := s.ratings.ListFor(r.Context(), market.UserID(chi.URLParam(r, "userID")), intQuery(r.URL.Query().Get("limit"), 0))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ratings": ratings})
}

func (s *Server) handleRatingSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.ratings.SummaryFor(r.Context(), market.UserID(chi.URLParam(r, "userID")))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func intQuery(raw string, fallback int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
