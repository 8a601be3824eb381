// Package httpapi exposes the engagement core over HTTP and a push-only
// websocket. Handlers stay thin: decode, call a service, map the domain error
// to a status.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/tiritolabs/tirito/internal/auth"
	"github.com/tiritolabs/tirito/internal/config"
	"github.com/tiritolabs/tirito/internal/engage"
	"github.com/tiritolabs/tirito/internal/market"
	"github.com/tiritolabs/tirito/internal/notify"
	"github.com/tiritolabs/tirito/internal/observability"
	"github.com/tiritolabs/tirito/internal/rating"
	"github.com/tiritolabs/tirito/internal/realtime"
)

type Server struct {
	cfg           config.Config
	tokens        *auth.Tokens
	tasks         *engage.Tasks
	requests      *engage.Requests
	chats         *engage.Chats
	notifications *notify.Dispatcher
	ratings       *rating.Service
	hub           *realtime.Hub
	metrics       *observability.Metrics
	upgrader      websocket.Upgrader
}

func New(
	cfg config.Config,
	tokens *auth.Tokens,
	tasks *engage.Tasks,
	requests *engage.Requests,
	chats *engage.Chats,
	notifications *notify.Dispatcher,
	ratings *rating.Service,
	hub *realtime.Hub,
	metrics *observability.Metrics,
) *Server {
	return &Server{
		cfg:           cfg,
		tokens:        tokens,
		tasks:         tasks,
		requests:      requests,
		chats:         chats,
		notifications: notifications,
		ratings:       ratings,
		hub:           hub,
		metrics:       metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/ws", s.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.handleCreateTask)
			r.Get("/", s.handleListTasks)
			r.Get("/my", s.handleListMyTasks)
			r.Get("/can-create", s.handleCanCreateTask)
			r.Get("/{id}", s.handleGetTask)
			r.Patch("/{id}/status", s.handleTaskStatus)
		})

		r.Route("/requests", func(r chi.Router) {
			r.Post("/", s.handleCreateRequest)
			r.Get("/my", s.handleListMyRequests)
			r.Get("/sent", s.handleListSentRequests)
			r.Get("/count", s.handlePendingRequestCount)
			r.Patch("/{id}/accept", s.handleAcceptRequest)
			r.Patch("/{id}/reject", s.handleRejectRequest)
		})

		r.Route("/chats", func(r chi.Router) {
			r.Get("/", s.handleListChats)
			r.Get("/{taskID}", s.handleChatHistory)
			r.Post("/{taskID}/message", s.handleSendMessage)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", s.handleListNotifications)
			r.Get("/unread-count", s.handleUnreadCount)
			r.Put("/read-all", s.handleMarkAllRead)
			r.Put("/{id}/read", s.handleMarkRead)
			r.Delete("/{id}", s.handleDeleteNotification)
		})

		r.Route("/ratings", func(r chi.Router) {
			r.Post("/", s.handleCreateRating)
			r.Get("/user/{userID}", s.handleListRatings)
			r.Get("/summary/{userID}", s.handleRatingSummary)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleWS upgrades and parks the connection in the hub until it dies. The
// token travels in the query string because browsers cannot set headers on
// websocket handshakes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("token"))
	if raw == "" {
		respondError(w, http.StatusUnauthorized, "missing_token", "query parameter token is required")
		return
	}
	claims, err := s.tokens.Verify(raw)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid_token", "token is invalid or expired")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.hub.Attach(claims.Subject, conn)
}

type ctxKey int

const claimsKey ctxKey = 1

// requireAuth validates the Bearer token and stashes the claims in the
// request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			respondError(w, http.StatusUnauthorized, "missing_token", "Authorization header required")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			respondError(w, http.StatusUnauthorized, "invalid_authorization", "expected Bearer token")
			return
		}
		claims, err := s.tokens.Verify(strings.TrimSpace(parts[1]))
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid_token", "token is invalid or expired")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func userFrom(r *http.Request) market.UserID {
	claims, _ := r.Context().Value(claimsKey).(auth.Claims)
	return claims.Subject
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondDomainError maps a domain error kind to its HTTP status. Anything
// untyped is a 500.
func respondDomainError(w http.ResponseWriter, err error) {
	var domainErr *market.Error
	if !errors.As(err, &domainErr) {
		respondError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	status := http.StatusInternalServerError
	switch domainErr.Kind {
	case market.KindValidation, market.KindSelfReference:
		status = http.StatusBadRequest
	case market.KindNotFound:
		status = http.StatusNotFound
	case market.KindPermission:
		status = http.StatusForbidden
	case market.KindConflict, market.KindInvalidState:
		status = http.StatusConflict
	}
	respondError(w, status, domainErr.Code, domainErr.Message)
}
