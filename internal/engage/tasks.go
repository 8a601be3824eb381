// Package engage implements the engagement state machine: task lifecycle,
// request arbitration and the chat channel manager. Services hold no state of
// their own; every invariant lives in the store so concurrent writers cannot
// bypass it.
package engage

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tiritolabs/tirito/internal/market"
	"github.com/tiritolabs/tirito/internal/notify"
	"github.com/tiritolabs/tirito/internal/observability"
)

type Tasks struct {
	store    market.Store
	notifier *notify.Dispatcher
	metrics  *observability.Metrics
}

func NewTasks(store market.Store, notifier *notify.Dispatcher, metrics *observability.Metrics) *Tasks {
	return &Tasks{store: store, notifier: notifier, metrics: metrics}
}

type CreateTaskInput struct {
	Title       string
	Description string
	Images      []string
	Location    string
}

// Create posts a new open task. A creator may own at most one open or
// in_progress task at a time; the store enforces that atomically.
func (s *Tasks) Create(ctx context.Context, creator market.UserID, in CreateTaskInput) (market.Task, error) {
	title := strings.TrimSpace(in.Title)
	description := strings.TrimSpace(in.Description)
	location := strings.TrimSpace(in.Location)

	switch {
	case creator.IsZero():
		return market.Task{}, market.NewError(market.KindValidation, "missing_user", "creator is required")
	case title == "":
		return market.Task{}, market.NewError(market.KindValidation, "missing_title", "title is required")
	case utf8.RuneCountInString(title) > market.MaxTitleLen:
		return market.Task{}, market.NewError(market.KindValidation, "title_too_long",
			fmt.Sprintf("title exceeds %d characters", market.MaxTitleLen))
	case description == "":
		return market.Task{}, market.NewError(market.KindValidation, "missing_description", "description is required")
	case utf8.RuneCountInString(description) > market.MaxDescriptionLen:
		return market.Task{}, market.NewError(market.KindValidation, "description_too_long",
			fmt.Sprintf("description exceeds %d characters", market.MaxDescriptionLen))
	case utf8.RuneCountInString(location) > market.MaxLocationLen:
		return market.Task{}, market.NewError(market.KindValidation, "location_too_long",
			fmt.Sprintf("location exceeds %d characters", market.MaxLocationLen))
	case len(in.Images) > market.MaxImages:
		return market.Task{}, market.NewError(market.KindValidation, "too_many_images",
			fmt.Sprintf("at most %d images are allowed", market.MaxImages))
	}

	task := market.Task{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Images:      in.Images,
		Location:    location,
		Status:      market.TaskStatusOpen,
		CreatedBy:   creator,
	}
	if task.Images == nil {
		task.Images = []string{}
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return market.Task{}, err
	}
	if s.metrics != nil {
		s.metrics.TaskTransitions.WithLabelValues(string(market.TaskStatusOpen)).Inc()
	}
	return s.store.GetTask(ctx, task.ID)
}

// TransitionStatus applies a creator-driven lifecycle change. Only the task
// creator may move a task; assignment happens exclusively through request
// acceptance, so there is no direct path from open to in_progress here.
func (s *Tasks) TransitionStatus(ctx context.Context, actor market.UserID, taskID string, newStatus market.TaskStatus) (market.Task, error) {
	if !market.ValidTaskStatus(newStatus) {
		return market.Task{}, market.NewError(market.KindValidation, "invalid_status",
			fmt.Sprintf("unknown status %q", newStatus))
	}

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return market.Task{}, err
	}
	if actor != task.CreatedBy {
		return market.Task{}, market.ErrNotTaskCreator
	}
	if task.Status == market.TaskStatusClosed {
		return market.Task{}, market.ErrTaskAlreadyClosed
	}
	if newStatus == task.Status {
		return task, nil
	}

	switch newStatus {
	case market.TaskStatusClosed:
		wasInProgress := task.Status == market.TaskStatusInProgress
		assignee := task.AssignedTo
		updated, err := s.store.CloseTask(ctx, taskID)
		if err != nil {
			return market.Task{}, err
		}
		if s.metrics != nil {
			s.metrics.TaskTransitions.WithLabelValues(string(market.TaskStatusClosed)).Inc()
		}
		if wasInProgress {
			s.requestRatings(ctx, updated, assignee)
		}
		return updated, nil

	case market.TaskStatusOpen:
		updated, err := s.store.ReopenTask(ctx, taskID)
		if err != nil {
			return market.Task{}, err
		}
		if s.metrics != nil {
			s.metrics.TaskTransitions.WithLabelValues(string(market.TaskStatusOpen)).Inc()
		}
		return updated, nil

	case market.TaskStatusInProgress:
		return market.Task{}, market.NewError(market.KindInvalidState, "assign_via_accept",
			"a task enters in_progress only by accepting a request")

	default:
		return market.Task{}, market.NewError(market.KindValidation, "invalid_status",
			fmt.Sprintf("unknown status %q", newStatus))
	}
}

// requestRatings invites both parties of a finished task to rate each other.
func (s *Tasks) requestRatings(ctx context.Context, task market.Task, assignee market.UserID) {
	if s.notifier == nil || assignee.IsZero() {
		return
	}
	pairs := []struct {
		to   market.UserID
		from market.UserID
	}{
		{to: task.CreatedBy, from: assignee},
		{to: assignee, from: task.CreatedBy},
	}
	for _, p := range pairs {
		// The close already committed; a failed invitation only loses the nudge.
		if _, err := s.notifier.Dispatch(ctx, market.Notification{
			UserID:     p.to,
			Type:       market.NotifRatingRequest,
			Title:      "Calificá tu experiencia",
			Body:       fmt.Sprintf("El tirito %q se cerró. Contanos cómo te fue.", task.Title),
			FromUserID: p.from,
			TaskID:     task.ID,
			ActionURL:  "/tiritos/" + task.ID,
		}); err != nil {
			log.Printf("rating request notification failed: %v", err)
		}
	}
}

func (s *Tasks) Get(ctx context.Context, id string) (market.Task, error) {
	return s.store.GetTask(ctx, id)
}

func (s *Tasks) List(ctx context.Context, filter market.TaskFilter) ([]market.Task, int, error) {
	return s.store.ListTasks(ctx, filter)
}

func (s *Tasks) ListMine(ctx context.Context, creator market.UserID) ([]market.Task, error) {
	return s.store.ListTasksByCreator(ctx, creator)
}

// CanCreate reports whether creator is currently allowed to post a task.
func (s *Tasks) CanCreate(ctx context.Context, creator market.UserID) (bool, error) {
	n, err := s.store.CountActiveTasks(ctx, creator)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}
