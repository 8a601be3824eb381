package market

import "time"

// UserID is an opaque identifier handed to the core by the identity provider.
// Equality is plain == on UserID; ids are never compared through other types.
type UserID string

func (u UserID) IsZero() bool { return u == "" }

type TaskStatus string

const (
	TaskStatusOpen       TaskStatus = "open"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusClosed     TaskStatus = "closed"
)

func ValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskStatusOpen, TaskStatusInProgress, TaskStatusClosed:
		return true
	default:
		return false
	}
}

type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusAccepted RequestStatus = "accepted"
	RequestStatusRejected RequestStatus = "rejected"
)

// Field limits shared by validation and the storage schema.
const (
	MaxTitleLen          = 100
	MaxDescriptionLen    = 1000
	MaxLocationLen       = 200
	MaxImages            = 5
	MaxRequestMessageLen = 500
	MaxNotifTitleLen     = 100
	MaxNotifBodyLen      = 500

	// DefaultMaxMessageLen bounds chat message content; overridable via config.
	DefaultMaxMessageLen = 2000
)

// Task is a posted job. AssignedTo is set exactly while Status is in_progress.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Images      []string   `json:"images"`
	Location    string     `json:"location,omitempty"`
	Status      TaskStatus `json:"status"`
	CreatedBy   UserID     `json:"created_by"`
	AssignedTo  UserID     `json:"assigned_to,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Active reports whether the task counts against its creator's
// one-active-task allowance.
func (t Task) Active() bool {
	return t.Status == TaskStatusOpen || t.Status == TaskStatusInProgress
}

// Request is one user's offer to perform a task. At most one request per
// (task, requester) pair exists, and at most one per task ever reaches
// accepted.
type Request struct {
	ID        string        `json:"id"`
	TaskID    string        `json:"task_id"`
	Requester UserID        `json:"requester"`
	Message   string        `json:"message,omitempty"`
	Status    RequestStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Channel is the chat room for one (task, participant pair). A creator with
// several concurrent requesters has one channel per requester.
type Channel struct {
	ID           string    `json:"id"`
	TaskID       string    `json:"task_id"`
	Participants [2]UserID `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

func (c Channel) Has(u UserID) bool {
	return c.Participants[0] == u || c.Participants[1] == u
}

// Counterpart returns the other participant, or the zero UserID when u is not
// in the channel.
func (c Channel) Counterpart(u UserID) UserID {
	switch u {
	case c.Participants[0]:
		return c.Participants[1]
	case c.Participants[1]:
		return c.Participants[0]
	default:
		return ""
	}
}

// Message is immutable once created and ordered by CreatedAt within a channel.
type Message struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	Sender    UserID    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type NotificationType string

const (
	NotifChatNew         NotificationType = "chat_new"
	NotifChatMessage     NotificationType = "chat_message"
	NotifTaskRequest     NotificationType = "tirito_request"
	NotifRequestAccepted NotificationType = "request_accepted"
	NotifRequestRejected NotificationType = "request_rejected"
	NotifRatingRequest   NotificationType = "rating_request"
)

// Notification is owned exclusively by its recipient; only the recipient may
// mark it read or delete it.
type Notification struct {
	ID         string           `json:"id"`
	UserID     UserID           `json:"user_id"`
	Type       NotificationType `json:"type"`
	Title      string           `json:"title"`
	Body       string           `json:"body"`
	FromUserID UserID           `json:"from_user_id"`
	TaskID     string           `json:"task_id,omitempty"`
	ChannelID  string           `json:"channel_id,omitempty"`
	ActionURL  string           `json:"action_url"`
	Read       bool             `json:"read"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Rating scores the counterpart of a closed task, 1 through 5.
type Rating struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Rater     UserID    `json:"rater"`
	Target    UserID    `json:"target"`
	Score     int       `json:"score"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
