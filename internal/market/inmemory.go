package market

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is the in-process store for local/dev use and tests. A single
// mutex serializes every operation, which is what makes the multi-entity
// transitions (accept, reopen, gated append) atomic here.
type InMemoryStore struct {
	mu            sync.RWMutex
	tasks         map[string]*Task
	requests      map[string]*Request
	channels      map[string]*Channel
	messages      map[string][]Message // channelID -> ordered messages
	notifications map[string]*Notification
	ratings       map[string]*Rating
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		tasks:         make(map[string]*Task),
		requests:      make(map[string]*Request),
		channels:      make(map[string]*Channel),
		messages:      make(map[string][]Message),
		notifications: make(map[string]*Notification),
		ratings:       make(map[string]*Rating),
	}
}

func (s *InMemoryStore) Close() error { return nil }

func now() time.Time { return time.Now().UTC() }

// --- tasks ---

func (s *InMemoryStore) CreateTask(_ context.Context, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.CreatedBy == task.CreatedBy && t.Active() {
			return ErrActiveTaskExists
		}
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now()
	}
	task.UpdatedAt = task.CreatedAt
	s.tasks[task.ID] = &task
	return nil
}

func (s *InMemoryStore) GetTask(_ context.Context, id string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return *t, nil
}

func (s *InMemoryStore) ListTasks(_ context.Context, filter TaskFilter) ([]Task, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]Task, 0, len(s.tasks))
	needle := strings.ToLower(strings.TrimSpace(filter.Search))
	for _, t := range s.tasks {
		if filter.Status != "" {
			if t.Status != filter.Status {
				continue
			}
		} else if !filter.All && t.Status == TaskStatusClosed {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(t.Title), needle) &&
			!strings.Contains(strings.ToLower(t.Description), needle) {
			continue
		}
		matched = append(matched, *t)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	if filter.Skip > 0 {
		if filter.Skip >= total {
			return []Task{}, total, nil
		}
		matched = matched[filter.Skip:]
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultTaskPageLimit
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (s *InMemoryStore) ListTasksByCreator(_ context.Context, creator UserID) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0, 4)
	for _, t := range s.tasks {
		if t.CreatedBy == creator {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) CountActiveTasks(_ context.Context, creator UserID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.tasks {
		if t.CreatedBy == creator && t.Active() {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) CloseTask(_ context.Context, id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	if t.Status == TaskStatusClosed {
		return Task{}, ErrTaskAlreadyClosed
	}
	t.Status = TaskStatusClosed
	t.UpdatedAt = now()
	return *t, nil
}

func (s *InMemoryStore) ReopenTask(_ context.Context, id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	if t.Status != TaskStatusInProgress {
		return Task{}, ErrTaskNotInProgress
	}
	for _, r := range s.requests {
		if r.TaskID == id && r.Status == RequestStatusAccepted {
			r.Status = RequestStatusRejected
			r.UpdatedAt = now()
		}
	}
	t.Status = TaskStatusOpen
	t.AssignedTo = ""
	t.UpdatedAt = now()
	return *t, nil
}

// --- requests ---

func (s *InMemoryStore) CreateRequest(_ context.Context, req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[req.TaskID]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status != TaskStatusOpen {
		return ErrTaskNotOpen
	}
	if t.CreatedBy == req.Requester {
		return ErrOwnTask
	}
	for _, r := range s.requests {
		if r.TaskID == req.TaskID && r.Requester == req.Requester {
			return ErrDuplicateRequest
		}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now()
	}
	req.UpdatedAt = req.CreatedAt
	req.Status = RequestStatusPending
	s.requests[req.ID] = &req
	return nil
}

func (s *InMemoryStore) GetRequest(_ context.Context, id string) (Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return Request{}, ErrRequestNotFound
	}
	return *r, nil
}

func (s *InMemoryStore) FindRequest(_ context.Context, taskID string, requester UserID) (Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.requests {
		if r.TaskID == taskID && r.Requester == requester {
			return *r, nil
		}
	}
	return Request{}, ErrRequestNotFound
}

func (s *InMemoryStore) ListRequestsByTask(_ context.Context, taskID string) ([]Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requestsByTaskLocked(taskID), nil
}

func (s *InMemoryStore) requestsByTaskLocked(taskID string) []Request {
	out := make([]Request, 0, 4)
	for _, r := range s.requests {
		if r.TaskID == taskID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *InMemoryStore) ListRequestsByRequester(_ context.Context, requester UserID) ([]Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Request, 0, 4)
	for _, r := range s.requests {
		if r.Requester == requester {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) ListPendingRequestsForCreator(_ context.Context, creator UserID) ([]Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Request, 0, 4)
	for _, r := range s.requests {
		if r.Status != RequestStatusPending {
			continue
		}
		t, ok := s.tasks[r.TaskID]
		if ok && t.CreatedBy == creator && t.Status == TaskStatusOpen {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) CountPendingRequestsForCreator(ctx context.Context, creator UserID) (int, error) {
	reqs, err := s.ListPendingRequestsForCreator(ctx, creator)
	if err != nil {
		return 0, err
	}
	return len(reqs), nil
}

func (s *InMemoryStore) AcceptRequest(_ context.Context, id string) (Request, Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return Request{}, Task{}, ErrRequestNotFound
	}
	if r.Status != RequestStatusPending {
		return Request{}, Task{}, ErrRequestNotPending
	}
	t, ok := s.tasks[r.TaskID]
	if !ok {
		return Request{}, Task{}, ErrTaskNotFound
	}
	if t.Status != TaskStatusOpen {
		return Request{}, Task{}, ErrTaskNotOpen
	}

	ts := now()
	r.Status = RequestStatusAccepted
	r.UpdatedAt = ts
	t.Status = TaskStatusInProgress
	t.AssignedTo = r.Requester
	t.UpdatedAt = ts
	for _, sib := range s.requests {
		if sib.TaskID == r.TaskID && sib.ID != r.ID && sib.Status == RequestStatusPending {
			sib.Status = RequestStatusRejected
			sib.UpdatedAt = ts
		}
	}
	return *r, *t, nil
}

func (s *InMemoryStore) RejectRequest(_ context.Context, id string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return Request{}, ErrRequestNotFound
	}
	if r.Status != RequestStatusPending {
		return Request{}, ErrRequestNotPending
	}
	r.Status = RequestStatusRejected
	r.UpdatedAt = now()
	return *r, nil
}

// --- chat ---

func (s *InMemoryStore) FindChannel(_ context.Context, taskID string, a, b UserID) (Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c := s.findChannelLocked(taskID, a, b); c != nil {
		return *c, nil
	}
	return Channel{}, ErrChannelNotFound
}

func (s *InMemoryStore) findChannelLocked(taskID string, a, b UserID) *Channel {
	for _, c := range s.channels {
		if c.TaskID == taskID && c.Has(a) && c.Has(b) {
			return c
		}
	}
	return nil
}

func (s *InMemoryStore) GetOrCreateChannel(_ context.Context, taskID string, a, b UserID) (Channel, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateChannelLocked(taskID, a, b)
}

func (s *InMemoryStore) getOrCreateChannelLocked(taskID string, a, b UserID) (Channel, bool, error) {
	if c := s.findChannelLocked(taskID, a, b); c != nil {
		return *c, false, nil
	}
	c := &Channel{
		ID:           uuid.NewString(),
		TaskID:       taskID,
		Participants: [2]UserID{a, b},
		CreatedAt:    now(),
	}
	s.channels[c.ID] = c
	return *c, true, nil
}

func (s *InMemoryStore) ListChannelsByUser(_ context.Context, user UserID) ([]Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Channel, 0, 4)
	for _, c := range s.channels {
		if c.Has(user) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) ListMessages(_ context.Context, channelID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[channelID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *InMemoryStore) CreatorHasMessaged(_ context.Context, taskID string, user UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creatorHasMessagedLocked(taskID, user), nil
}

func (s *InMemoryStore) creatorHasMessagedLocked(taskID string, user UserID) bool {
	t, ok := s.tasks[taskID]
	if !ok {
		return false
	}
	for _, c := range s.channels {
		if c.TaskID != taskID || !c.Has(t.CreatedBy) || !c.Has(user) {
			continue
		}
		for _, m := range s.messages[c.ID] {
			if m.Sender == t.CreatedBy {
				return true
			}
		}
	}
	return false
}

func (s *InMemoryStore) AppendMessage(_ context.Context, taskID string, sender, recipient UserID, content string) (Message, Channel, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return Message{}, Channel{}, false, ErrTaskNotFound
	}
	decision, err := CanChat(sender, *t, s.requestsByTaskLocked(taskID), func(u UserID) (bool, error) {
		return s.creatorHasMessagedLocked(taskID, u), nil
	})
	if err != nil {
		return Message{}, Channel{}, false, err
	}
	if !decision.Allowed {
		return Message{}, Channel{}, false, ChatDenied(decision.Reason)
	}

	ch, created, err := s.getOrCreateChannelLocked(taskID, sender, recipient)
	if err != nil {
		return Message{}, Channel{}, false, err
	}
	msg := Message{
		ID:        uuid.NewString(),
		ChannelID: ch.ID,
		Sender:    sender,
		Content:   content,
		CreatedAt: now(),
	}
	s.messages[ch.ID] = append(s.messages[ch.ID], msg)
	return msg, ch, created, nil
}

// --- notifications ---

func (s *InMemoryStore) CreateNotification(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now()
	}
	s.notifications[n.ID] = &n
	return nil
}

func (s *InMemoryStore) ListNotifications(_ context.Context, user UserID, unreadOnly bool, limit, skip int) ([]Notification, int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]Notification, 0, 8)
	unread := 0
	for _, n := range s.notifications {
		if n.UserID != user {
			continue
		}
		if !n.Read {
			unread++
		}
		if unreadOnly && n.Read {
			continue
		}
		matched = append(matched, *n)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	if skip > 0 {
		if skip >= total {
			return []Notification{}, total, unread, nil
		}
		matched = matched[skip:]
	}
	if limit <= 0 {
		limit = DefaultNotificationPageLimit
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, unread, nil
}

func (s *InMemoryStore) CountUnreadNotifications(_ context.Context, user UserID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, notif := range s.notifications {
		if notif.UserID == user && !notif.Read {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) MarkNotificationRead(_ context.Context, user UserID, id string) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != user {
		return Notification{}, ErrNotificationNotFound
	}
	n.Read = true
	return *n, nil
}

func (s *InMemoryStore) MarkAllNotificationsRead(_ context.Context, user UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notifications {
		if n.UserID == user {
			n.Read = true
		}
	}
	return nil
}

func (s *InMemoryStore) DeleteNotification(_ context.Context, user UserID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != user {
		return ErrNotificationNotFound
	}
	delete(s.notifications, id)
	return nil
}

// --- ratings ---

func (s *InMemoryStore) CreateRating(_ context.Context, r Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.ratings {
		if existing.TaskID == r.TaskID && existing.Rater == r.Rater && existing.Target == r.Target {
			return ErrDuplicateRating
		}
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now()
	}
	s.ratings[r.ID] = &r
	return nil
}

func (s *InMemoryStore) ListRatingsForUser(_ context.Context, target UserID, limit int) ([]Rating, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Rating, 0, 8)
	for _, r := range s.ratings {
		if r.Target == target {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit <= 0 {
		limit = DefaultRatingPageLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) RatingSummary(_ context.Context, target UserID) (float64, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, count := 0, 0
	for _, r := range s.ratings {
		if r.Target == target {
			sum += r.Score
			count++
		}
	}
	if count == 0 {
		return 0, 0, nil
	}
	return float64(sum) / float64(count), count, nil
}
