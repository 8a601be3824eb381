package engage

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tiritolabs/tirito/internal/market"
	"github.com/tiritolabs/tirito/internal/notify"
	"github.com/tiritolabs/tirito/internal/observability"
)

// Requests arbitrates competing offers for a task: at most one request per
// (task, requester), and exactly one winner per task.
type Requests struct {
	store    market.Store
	notifier *notify.Dispatcher
	metrics  *observability.Metrics
}

func NewRequests(store market.Store, notifier *notify.Dispatcher, metrics *observability.Metrics) *Requests {
	return &Requests{store: store, notifier: notifier, metrics: metrics}
}

// Create files a pending request by requester against an open task. The
// open-state check, the self-request check and the uniqueness check all
// happen atomically in the store.
func (s *Requests) Create(ctx context.Context, requester market.UserID, taskID, message string) (market.Request, error) {
	if requester.IsZero() {
		return market.Request{}, market.NewError(market.KindValidation, "missing_user", "requester is required")
	}
	if utf8.RuneCountInString(message) > market.MaxRequestMessageLen {
		return market.Request{}, market.NewError(market.KindValidation, "message_too_long",
			fmt.Sprintf("message exceeds %d characters", market.MaxRequestMessageLen))
	}

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return market.Request{}, err
	}

	req := market.Request{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Requester: requester,
		Message:   message,
		Status:    market.RequestStatusPending,
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		return market.Request{}, err
	}
	if s.metrics != nil {
		s.metrics.RequestDecisions.WithLabelValues("created").Inc()
	}

	if err := s.dispatch(ctx, market.Notification{
		UserID:     task.CreatedBy,
		Type:       market.NotifTaskRequest,
		Title:      "Nueva solicitud de tirito",
		Body:       fmt.Sprintf("Tenés una nueva solicitud para tu tirito %q", task.Title),
		FromUserID: requester,
		TaskID:     task.ID,
		ActionURL:  "/solicitudes",
	}); err != nil {
		return market.Request{}, err
	}
	return s.store.GetRequest(ctx, req.ID)
}

// Accept picks the winner. The store performs the three mutations in one
// atomic transition: request accepted, task in_progress with the requester
// assigned, every sibling pending request rejected. A concurrent accept loses
// with ErrRequestNotPending.
func (s *Requests) Accept(ctx context.Context, actor market.UserID, requestID string) (market.Request, market.Task, error) {
	req, task, err := s.guard(ctx, actor, requestID)
	if err != nil {
		return market.Request{}, market.Task{}, err
	}

	updatedReq, updatedTask, err := s.store.AcceptRequest(ctx, req.ID)
	if err != nil {
		return market.Request{}, market.Task{}, err
	}
	if s.metrics != nil {
		s.metrics.RequestDecisions.WithLabelValues("accepted").Inc()
		s.metrics.TaskTransitions.WithLabelValues(string(market.TaskStatusInProgress)).Inc()
	}

	if err := s.dispatch(ctx, market.Notification{
		UserID:     updatedReq.Requester,
		Type:       market.NotifRequestAccepted,
		Title:      "¡Solicitud aceptada!",
		Body:       fmt.Sprintf("Tu solicitud para %q fue aceptada. ¡A trabajar!", task.Title),
		FromUserID: actor,
		TaskID:     task.ID,
		ActionURL:  "/tiritos/" + task.ID,
	}); err != nil {
		return market.Request{}, market.Task{}, err
	}
	return updatedReq, updatedTask, nil
}

// Reject declines one pending request without touching the task.
func (s *Requests) Reject(ctx context.Context, actor market.UserID, requestID string) (market.Request, error) {
	req, task, err := s.guard(ctx, actor, requestID)
	if err != nil {
		return market.Request{}, err
	}

	updated, err := s.store.RejectRequest(ctx, req.ID)
	if err != nil {
		return market.Request{}, err
	}
	if s.metrics != nil {
		s.metrics.RequestDecisions.WithLabelValues("rejected").Inc()
	}

	if err := s.dispatch(ctx, market.Notification{
		UserID:     updated.Requester,
		Type:       market.NotifRequestRejected,
		Title:      "Solicitud rechazada",
		Body:       fmt.Sprintf("Tu solicitud para %q fue rechazada.", task.Title),
		FromUserID: actor,
		TaskID:     task.ID,
		ActionURL:  "/tiritos",
	}); err != nil {
		return market.Request{}, err
	}
	return updated, nil
}

// guard loads the request and its task and verifies the actor is the task
// creator. The pending check is left to the store so it runs inside the same
// atomic operation as the mutation.
func (s *Requests) guard(ctx context.Context, actor market.UserID, requestID string) (market.Request, market.Task, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return market.Request{}, market.Task{}, err
	}
	task, err := s.store.GetTask(ctx, req.TaskID)
	if err != nil {
		return market.Request{}, market.Task{}, err
	}
	if actor != task.CreatedBy {
		return market.Request{}, market.Task{}, market.ErrNotTaskCreator
	}
	return req, task, nil
}

// dispatch persists and pushes a notification. The durable write is part of
// the operation's contract: its failure is the caller's failure.
func (s *Requests) dispatch(ctx context.Context, n market.Notification) error {
	if s.notifier == nil {
		return nil
	}
	_, err := s.notifier.Dispatch(ctx, n)
	return err
}

// ListForCreator returns the pending requests against the creator's open
// tasks, newest first.
func (s *Requests) ListForCreator(ctx context.Context, creator market.UserID) ([]market.Request, error) {
	return s.store.ListPendingRequestsForCreator(ctx, creator)
}

// ListSent returns every request the user has filed, newest first.
func (s *Requests) ListSent(ctx context.Context, requester market.UserID) ([]market.Request, error) {
	return s.store.ListRequestsByRequester(ctx, requester)
}

// PendingCount backs the inbox badge.
func (s *Requests) PendingCount(ctx context.Context, creator market.UserID) (int, error) {
	return s.store.CountPendingRequestsForCreator(ctx, creator)
}
