package engage

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/tiritolabs/tirito/internal/market"
	"github.com/tiritolabs/tirito/internal/notify"
	"github.com/tiritolabs/tirito/internal/observability"
)

// newContactBody is the fixed phrasing for a first-contact notification; the
// actual message content is only revealed inside the chat.
const newContactBody = "¡Alguien está interesado en tu tirito!"

// previewLen bounds how much of a message the chat_message notification shows.
const previewLen = 100

// Chats finds-or-creates one channel per (task, participant pair) and appends
// messages behind the chat authorization policy.
type Chats struct {
	store    market.Store
	notifier *notify.Dispatcher
	metrics  *observability.Metrics
	maxLen   int
}

func NewChats(store market.Store, notifier *notify.Dispatcher, metrics *observability.Metrics, maxMessageLen int) *Chats {
	if maxMessageLen <= 0 {
		maxMessageLen = market.DefaultMaxMessageLen
	}
	return &Chats{store: store, notifier: notifier, metrics: metrics, maxLen: maxMessageLen}
}

// ChannelSummary annotates a channel with its parent task for listings.
type ChannelSummary struct {
	Channel    market.Channel    `json:"channel"`
	TaskTitle  string            `json:"task_title"`
	TaskStatus market.TaskStatus `json:"task_status"`
}

// Send appends a message from sender on the task's channel with `to`,
// creating the channel on first permitted contact. The policy check runs
// inside the same store operation as the append. The recipient is implied for
// everyone except a creator messaging on an open task, who must name one of
// the requesters explicitly.
func (s *Chats) Send(ctx context.Context, sender market.UserID, taskID string, to market.UserID, content string) (market.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return market.Message{}, market.NewError(market.KindValidation, "empty_message", "message content is required")
	}
	if utf8.RuneCountInString(content) > s.maxLen {
		return market.Message{}, market.NewError(market.KindValidation, "message_too_long",
			fmt.Sprintf("message exceeds %d characters", s.maxLen))
	}

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return market.Message{}, err
	}
	recipient, err := s.resolveRecipient(ctx, sender, task, to)
	if err != nil {
		return market.Message{}, err
	}

	msg, ch, isNewChat, err := s.store.AppendMessage(ctx, taskID, sender, recipient, content)
	if err != nil {
		if s.metrics != nil && market.KindOf(err) == market.KindPermission {
			s.metrics.ChatDenials.WithLabelValues(market.CodeOf(err)).Inc()
		}
		return market.Message{}, err
	}

	n := market.Notification{
		UserID:     recipient,
		Type:       market.NotifChatMessage,
		Title:      "Nuevo mensaje",
		Body:       preview(content),
		FromUserID: sender,
		TaskID:     task.ID,
		ChannelID:  ch.ID,
		ActionURL:  "/chats/" + task.ID,
	}
	if isNewChat {
		n.Type = market.NotifChatNew
		n.Title = "Nuevo contacto"
		n.Body = newContactBody
	}
	if s.notifier != nil {
		// The append already committed; a failed notification only loses the nudge.
		if _, err := s.notifier.Dispatch(ctx, n); err != nil {
			log.Printf("chat notification failed: %v", err)
		}
	}
	return msg, nil
}

// resolveRecipient determines the other participant. Senders who are not the
// creator always talk to the creator. The creator of an in_progress task
// talks to the assignee. A creator on an open task may have one channel per
// requester, so the caller must name the recipient; guessing a channel would
// be non-deterministic.
func (s *Chats) resolveRecipient(ctx context.Context, sender market.UserID, task market.Task, to market.UserID) (market.UserID, error) {
	if sender != task.CreatedBy {
		return task.CreatedBy, nil
	}
	if task.Status == market.TaskStatusInProgress && !task.AssignedTo.IsZero() {
		return task.AssignedTo, nil
	}
	if to.IsZero() {
		return "", market.NewError(market.KindValidation, "recipient_required",
			"an explicit recipient is required when messaging on an open task")
	}
	if to == sender {
		return "", market.NewError(market.KindValidation, "self_chat", "cannot open a chat with yourself")
	}
	if _, err := s.store.FindRequest(ctx, task.ID, to); err != nil {
		if market.KindOf(err) == market.KindNotFound {
			return "", market.NewError(market.KindValidation, "recipient_not_requester",
				"recipient has no request for this task")
		}
		return "", err
	}
	return to, nil
}

// History returns the channel between user and the implied (or named)
// counterpart plus its ordered messages. Participants of an existing channel
// keep read access even after the policy starts denying writes; a channel is
// created lazily only when the policy currently allows contact.
//
// Reads resolve by channel membership, so an explicit counterpart always wins
// over the implied one: a creator can still open a pre-screen channel with a
// requester who was not the one eventually assigned.
func (s *Chats) History(ctx context.Context, user market.UserID, taskID string, with market.UserID) (market.Channel, []market.Message, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return market.Channel{}, nil, err
	}
	counterpart := with
	if counterpart.IsZero() {
		counterpart, err = s.resolveRecipient(ctx, user, task, "")
		if err != nil {
			return market.Channel{}, nil, err
		}
	} else if counterpart == user {
		return market.Channel{}, nil, market.NewError(market.KindValidation, "self_chat", "cannot open a chat with yourself")
	}

	ch, err := s.store.FindChannel(ctx, taskID, user, counterpart)
	if err == nil {
		msgs, err := s.store.ListMessages(ctx, ch.ID)
		if err != nil {
			return market.Channel{}, nil, err
		}
		return ch, msgs, nil
	}
	if market.KindOf(err) != market.KindNotFound {
		return market.Channel{}, nil, err
	}

	// No channel yet: creating one follows the same pairing rules as a first
	// send, so a named counterpart outside the implied pairing stays a miss.
	resolved, err := s.resolveRecipient(ctx, user, task, with)
	if err != nil {
		return market.Channel{}, nil, err
	}
	if resolved != counterpart {
		return market.Channel{}, nil, market.ErrChannelNotFound
	}

	decision, err := s.canChat(ctx, user, task)
	if err != nil {
		return market.Channel{}, nil, err
	}
	if !decision.Allowed {
		if s.metrics != nil {
			s.metrics.ChatDenials.WithLabelValues(string(decision.Reason)).Inc()
		}
		return market.Channel{}, nil, market.ChatDenied(decision.Reason)
	}
	ch, _, err = s.store.GetOrCreateChannel(ctx, taskID, user, counterpart)
	if err != nil {
		return market.Channel{}, nil, err
	}
	return ch, []market.Message{}, nil
}

// CanChat evaluates the authorization policy for user on taskID against
// current state.
func (s *Chats) CanChat(ctx context.Context, user market.UserID, taskID string) (market.ChatDecision, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return market.ChatDecision{}, err
	}
	return s.canChat(ctx, user, task)
}

func (s *Chats) canChat(ctx context.Context, user market.UserID, task market.Task) (market.ChatDecision, error) {
	requests, err := s.store.ListRequestsByTask(ctx, task.ID)
	if err != nil {
		return market.ChatDecision{}, err
	}
	return market.CanChat(user, task, requests, func(u market.UserID) (bool, error) {
		return s.store.CreatorHasMessaged(ctx, task.ID, u)
	})
}

// ListMine returns the user's channels annotated with their parent task,
// most recent first.
func (s *Chats) ListMine(ctx context.Context, user market.UserID) ([]ChannelSummary, error) {
	channels, err := s.store.ListChannelsByUser(ctx, user)
	if err != nil {
		return nil, err
	}
	out := make([]ChannelSummary, 0, len(channels))
	for _, ch := range channels {
		task, err := s.store.GetTask(ctx, ch.TaskID)
		if err != nil {
			if market.KindOf(err) == market.KindNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, ChannelSummary{Channel: ch, TaskTitle: task.Title, TaskStatus: task.Status})
	}
	return out, nil
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLen {
		return content
	}
	return string(runes[:previewLen])
}
