package events

import "github.com/tbourn/go-groupchat-backend/internal/domain"

// ReplyObserver is the four-event view of a group's reply progress.
type ReplyObserver interface {
	MemberReplyStarted(groupID, providerID string)
	MemberReplyProgress(groupID, providerID, delta string)
	MemberReplyTerminal(groupID string, r domain.ReplyResult)
	AllRepliesSettled(groupID, sessionID string, results map[string]domain.ReplyResult)
}

// Replies adapts a ReplyObserver to Observer, ignoring other event types.
func Replies(o ReplyObserver) Observer {
	return ObserverFunc(func(e Event) {
		switch e.Type {
		case ReplyStarted:
			o.MemberReplyStarted(e.GroupID, e.ProviderID)
		case ReplyProgress:
			o.MemberReplyProgress(e.GroupID, e.ProviderID, e.Delta)
		case ReplyTerminal:
			if e.Result != nil {
				o.MemberReplyTerminal(e.GroupID, *e.Result)
			}
		case RepliesSettled:
			o.AllRepliesSettled(e.GroupID, e.SessionID, e.Results)
		}
	})
}
