package market

import "testing"

func never(UserID) (bool, error)  { return false, nil }
func always(UserID) (bool, error) { return true, nil }

func TestCanChat(t *testing.T) {
	const (
		creator   UserID = "creator"
		assignee  UserID = "assignee"
		requester UserID = "requester"
		stranger  UserID = "stranger"
	)

	openTask := Task{ID: "t1", Status: TaskStatusOpen, CreatedBy: creator}
	progressTask := Task{ID: "t1", Status: TaskStatusInProgress, CreatedBy: creator, AssignedTo: assignee}
	closedTask := Task{ID: "t1", Status: TaskStatusClosed, CreatedBy: creator, AssignedTo: assignee}

	pending := Request{ID: "r1", TaskID: "t1", Requester: requester, Status: RequestStatusPending}
	accepted := Request{ID: "r1", TaskID: "t1", Requester: requester, Status: RequestStatusAccepted}
	rejected := Request{ID: "r1", TaskID: "t1", Requester: requester, Status: RequestStatusRejected}

	tests := []struct {
		name       string
		user       UserID
		task       Task
		requests   []Request
		contacted  CreatorContacted
		want       bool
		wantReason ChatDenialReason
	}{
		{name: "closed denies creator", user: creator, task: closedTask, contacted: never, wantReason: DenyTaskClosed},
		{name: "closed denies assignee", user: assignee, task: closedTask, contacted: never, wantReason: DenyTaskClosed},

		{name: "in_progress allows creator", user: creator, task: progressTask, contacted: never, want: true},
		{name: "in_progress allows assignee", user: assignee, task: progressTask, contacted: never, want: true},
		{name: "in_progress denies others", user: stranger, task: progressTask, contacted: never, wantReason: DenyNotAssigned},
		{
			name: "in_progress denies rejected sibling", user: requester, task: progressTask,
			requests: []Request{rejected}, contacted: never, wantReason: DenyNotAssigned,
		},

		{
			name: "open creator with pending request", user: creator, task: openTask,
			requests: []Request{pending}, contacted: never, want: true,
		},
		{name: "open creator without requests", user: creator, task: openTask, contacted: never, wantReason: DenyNoRequests},
		{
			name: "open creator with only rejected requests", user: creator, task: openTask,
			requests: []Request{rejected}, contacted: never, wantReason: DenyNoRequests,
		},

		{name: "open stranger", user: stranger, task: openTask, requests: []Request{pending}, contacted: never, wantReason: DenyNoRequest},
		{
			name: "open accepted requester", user: requester, task: openTask,
			requests: []Request{accepted}, contacted: never, want: true,
		},
		{
			name: "open rejected requester", user: requester, task: openTask,
			requests: []Request{rejected}, contacted: always, wantReason: DenyRequestRejected,
		},
		{
			name: "open pending requester before creator speaks", user: requester, task: openTask,
			requests: []Request{pending}, contacted: never, wantReason: DenyWaitingCreatorMessage,
		},
		{
			name: "open pending requester after creator speaks", user: requester, task: openTask,
			requests: []Request{pending}, contacted: always, want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanChat(tt.user, tt.task, tt.requests, tt.contacted)
			if err != nil {
				t.Fatalf("CanChat() error = %v", err)
			}
			if got.Allowed != tt.want {
				t.Fatalf("Allowed = %v, want %v (reason %q)", got.Allowed, tt.want, got.Reason)
			}
			if !tt.want && got.Reason != tt.wantReason {
				t.Fatalf("Reason = %q, want %q", got.Reason, tt.wantReason)
			}
			if tt.want && got.Reason != "" {
				t.Fatalf("Reason = %q, want empty on allow", got.Reason)
			}
		})
	}
}

func TestCanChatPropagatesContactError(t *testing.T) {
	task := Task{ID: "t1", Status: TaskStatusOpen, CreatedBy: "creator"}
	reqs := []Request{{ID: "r1", TaskID: "t1", Requester: "requester", Status: RequestStatusPending}}

	_, err := CanChat("requester", task, reqs, func(UserID) (bool, error) {
		return false, ErrChannelNotFound
	})
	if err == nil {
		t.Fatalf("CanChat() error = nil, want contact lookup error")
	}
}
