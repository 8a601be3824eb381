// Package rating records post-completion scores between the two parties of a
// finished task.
package rating

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tiritolabs/tirito/internal/market"
)

// MaxCommentLen bounds the optional free-text comment.
const MaxCommentLen = 500

type Service struct {
	store market.Store
}

func NewService(store market.Store) *Service {
	return &Service{store: store}
}

// Summary aggregates a user's received ratings.
type Summary struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

// Rate scores the counterpart of a closed task. Only the creator and the
// final assignee may rate, only each other, and only once per task.
func (s *Service) Rate(ctx context.Context, rater market.UserID, taskID string, score int, comment string) (market.Rating, error) {
	if rater.IsZero() {
		return market.Rating{}, market.NewError(market.KindValidation, "missing_user", "rater is required")
	}
	if score < 1 || score > 5 {
		return market.Rating{}, market.NewError(market.KindValidation, "invalid_score", "score must be between 1 and 5")
	}
	comment = strings.TrimSpace(comment)
	if utf8.RuneCountInString(comment) > MaxCommentLen {
		return market.Rating{}, market.NewError(market.KindValidation, "comment_too_long",
			fmt.Sprintf("comment exceeds %d characters", MaxCommentLen))
	}

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return market.Rating{}, err
	}
	if task.Status != market.TaskStatusClosed {
		return market.Rating{}, market.ErrTaskNotClosed
	}
	if task.AssignedTo.IsZero() {
		return market.Rating{}, market.NewError(market.KindInvalidState, "task_unassigned",
			"the task closed without an assignee; there is nobody to rate")
	}

	var target market.UserID
	switch rater {
	case task.CreatedBy:
		target = task.AssignedTo
	case task.AssignedTo:
		target = task.CreatedBy
	default:
		return market.Rating{}, market.NewError(market.KindPermission, "not_participant",
			"only the task creator and the assignee may rate")
	}
	if target == rater {
		return market.Rating{}, market.ErrSelfRating
	}

	r := market.Rating{
		ID:      uuid.NewString(),
		TaskID:  task.ID,
		Rater:   rater,
		Target:  target,
		Score:   score,
		Comment: comment,
	}
	if err := s.store.CreateRating(ctx, r); err != nil {
		return market.Rating{}, err
	}
	return r, nil
}

// ListFor returns the ratings a user has received, newest first. limit <= 0
// means no cap.
func (s *Service) ListFor(ctx context.Context, target market.UserID, limit int) ([]market.Rating, error) {
	return s.store.ListRatingsForUser(ctx, target, limit)
}

// SummaryFor returns the average score and rating count for a user.
func (s *Service) SummaryFor(ctx context.Context, target market.UserID) (Summary, error) {
	avg, count, err := s.store.RatingSummary(ctx, target)
	if err != nil {
		return Summary{}, err
	}
	return Summary{Average: avg, Count: count}, nil
}
