package market

import "context"

// Default page sizes applied by every Store implementation when the caller
// passes a non-positive limit, so backends page identically.
const (
	DefaultTaskPageLimit         = 20
	DefaultNotificationPageLimit = 20
	DefaultRatingPageLimit       = 100
)

// TaskFilter narrows ListTasks. Closed tasks are excluded unless Status names
// them explicitly or All is set. A non-positive Limit falls back to
// DefaultTaskPageLimit.
type TaskFilter struct {
	Status TaskStatus
	All    bool
	Search string
	Limit  int
	Skip   int
}

type TaskStore interface {
	// CreateTask persists a new open task. It fails with ErrActiveTaskExists
	// when the creator already owns an open or in_progress task; the check and
	// the insert are atomic.
	CreateTask(ctx context.Context, task Task) error
	GetTask(ctx context.Context, id string) (Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]Task, int, error)
	ListTasksByCreator(ctx context.Context, creator UserID) ([]Task, error)
	CountActiveTasks(ctx context.Context, creator UserID) (int, error)

	// CloseTask moves an open or in_progress task to closed, guarding the
	// status check and the write as one atomic operation. An already closed
	// task fails with ErrTaskAlreadyClosed.
	CloseTask(ctx context.Context, id string) (Task, error)

	// ReopenTask moves an in_progress task back to open, clears the assignee
	// and flips the previously accepted request to rejected, all in one
	// atomic operation.
	ReopenTask(ctx context.Context, id string) (Task, error)
}

type RequestStore interface {
	// CreateRequest persists a pending request. Inside one atomic operation it
	// verifies the task exists and is open, that the requester is not the
	// creator, and that no request from this requester exists for the task.
	CreateRequest(ctx context.Context, req Request) error
	GetRequest(ctx context.Context, id string) (Request, error)
	FindRequest(ctx context.Context, taskID string, requester UserID) (Request, error)
	ListRequestsByTask(ctx context.Context, taskID string) ([]Request, error)
	ListRequestsByRequester(ctx context.Context, requester UserID) ([]Request, error)
	ListPendingRequestsForCreator(ctx context.Context, creator UserID) ([]Request, error)
	CountPendingRequestsForCreator(ctx context.Context, creator UserID) (int, error)

	// AcceptRequest performs the single-winner transition atomically: the
	// request becomes accepted, the task becomes in_progress with the
	// requester assigned, and every sibling pending request becomes rejected.
	// Fails with ErrRequestNotPending when the request was already processed
	// (including a concurrent accept) and ErrTaskNotOpen when the task left
	// the open state.
	AcceptRequest(ctx context.Context, id string) (Request, Task, error)

	// RejectRequest flips one pending request to rejected. The task is
	// untouched.
	RejectRequest(ctx context.Context, id string) (Request, error)
}

type ChatStore interface {
	FindChannel(ctx context.Context, taskID string, a, b UserID) (Channel, error)
	GetOrCreateChannel(ctx context.Context, taskID string, a, b UserID) (Channel, bool, error)
	ListChannelsByUser(ctx context.Context, user UserID) ([]Channel, error)
	ListMessages(ctx context.Context, channelID string) ([]Message, error)

	// CreatorHasMessaged reports whether the task creator has sent at least
	// one message to user in a channel for taskID.
	CreatorHasMessaged(ctx context.Context, taskID string, user UserID) (bool, error)

	// AppendMessage re-evaluates CanChat for the sender against the current
	// task and request state, creates the (task, pair) channel when absent,
	// and appends the message — all within the same atomic operation, so a
	// request status flip racing the send cannot land a message the final
	// state forbids. Returns the stored message, its channel and whether the
	// channel was newly created. A denial surfaces as ChatDenied(reason).
	AppendMessage(ctx context.Context, taskID string, sender, recipient UserID, content string) (Message, Channel, bool, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n Notification) error
	// ListNotifications returns a page plus the total for the query and the
	// recipient's unread count.
	ListNotifications(ctx context.Context, user UserID, unreadOnly bool, limit, skip int) ([]Notification, int, int, error)
	CountUnreadNotifications(ctx context.Context, user UserID) (int, error)
	MarkNotificationRead(ctx context.Context, user UserID, id string) (Notification, error)
	MarkAllNotificationsRead(ctx context.Context, user UserID) error
	DeleteNotification(ctx context.Context, user UserID, id string) error
}

type RatingStore interface {
	// CreateRating persists a rating, failing with ErrDuplicateRating when the
	// (task, rater, target) triple already exists.
	CreateRating(ctx context.Context, r Rating) error
	ListRatingsForUser(ctx context.Context, target UserID, limit int) ([]Rating, error)
	RatingSummary(ctx context.Context, target UserID) (float64, int, error)
}

// Store is the durable state backing the engagement core.
type Store interface {
	TaskStore
	RequestStore
	ChatStore
	NotificationStore
	RatingStore
	Close() error
}
