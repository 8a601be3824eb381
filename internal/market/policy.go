package market

// ChatDenialReason is the closed set of reasons chat access can be refused.
// Values double as the stable error codes surfaced to clients.
type ChatDenialReason string

const (
	DenyTaskClosed            ChatDenialReason = "task_closed"
	DenyNotAssigned           ChatDenialReason = "not_assigned"
	DenyNoRequests            ChatDenialReason = "no_requests"
	DenyNoRequest             ChatDenialReason = "no_request"
	DenyRequestRejected       ChatDenialReason = "request_rejected"
	DenyWaitingCreatorMessage ChatDenialReason = "waiting_creator_message"
	DenyUnknownStatus         ChatDenialReason = "unknown_status"
)

// ChatDecision is the outcome of the chat authorization policy. Reason is set
// only when Allowed is false.
type ChatDecision struct {
	Allowed bool
	Reason  ChatDenialReason
}

func allow() ChatDecision                  { return ChatDecision{Allowed: true} }
func deny(r ChatDenialReason) ChatDecision { return ChatDecision{Reason: r} }

// CreatorContacted reports whether the task creator has already sent at least
// one message to the given user in a channel for this task. It is only
// consulted for pending requesters on an open task, so implementations may be
// a live storage lookup.
type CreatorContacted func(user UserID) (bool, error)

// CanChat decides whether user may exchange messages on task. It is a pure
// function of the task, its request set and the creator-contact predicate,
// evaluated fresh on every chat write; nothing here is cached.
//
// While the task is open, a pending requester may only reply after the
// creator has spoken first: reply rights are earned either by formal
// acceptance or by the creator initiating contact.
func CanChat(user UserID, task Task, requests []Request, contacted CreatorContacted) (ChatDecision, error) {
	switch task.Status {
	case TaskStatusClosed:
		return deny(DenyTaskClosed), nil

	case TaskStatusInProgress:
		if user == task.CreatedBy || user == task.AssignedTo {
			return allow(), nil
		}
		return deny(DenyNotAssigned), nil

	case TaskStatusOpen:
		if user == task.CreatedBy {
			for _, r := range requests {
				if r.Status == RequestStatusPending || r.Status == RequestStatusAccepted {
					return allow(), nil
				}
			}
			return deny(DenyNoRequests), nil
		}

		var own *Request
		for i := range requests {
			if requests[i].Requester == user {
				own = &requests[i]
				break
			}
		}
		if own == nil {
			return deny(DenyNoRequest), nil
		}
		switch own.Status {
		case RequestStatusAccepted:
			return allow(), nil
		case RequestStatusRejected:
			return deny(DenyRequestRejected), nil
		case RequestStatusPending:
			ok, err := contacted(user)
			if err != nil {
				return ChatDecision{}, err
			}
			if ok {
				return allow(), nil
			}
			return deny(DenyWaitingCreatorMessage), nil
		default:
			return deny(DenyUnknownStatus), nil
		}

	default:
		return deny(DenyUnknownStatus), nil
	}
}
