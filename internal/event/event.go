// Package event names the websocket events exchanged with clients and
// defines their envelope.
package event

// Event is the wire envelope: {"event": "...", "data": {...}}.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// Server to client.
const (
	OnlineUsers = "getOnlineUsers"

	NewMessage      = "newMessage"
	MessageUpdated  = "messageUpdated"
	MessageRead     = "messageRead"
	MessageReaction = "messageReaction"
	MessagePinned   = "messagePinned"
	MessageUnpinned = "messageUnpinned"
	MessageDeleted  = "messageDeleted"
	MessageExpired  = "messageExpired"
	ChatDeleted     = "chatDeleted"

	NewGroupMessage      = "newGroupMessage"
	GroupMessageUpdated  = "groupMessageUpdated"
	GroupMessageRead     = "groupMessageRead"
	GroupMessageReaction = "groupMessageReaction"
	GroupMessagePinned   = "groupMessagePinned"
	GroupMessageUnpinned = "groupMessageUnpinned"
	GroupMessageDeleted  = "groupMessageDeleted"

	NewGroupCreated         = "newGroupCreated"
	GroupUpdated            = "groupUpdated"
	GroupAdminsUpdated      = "groupAdminsUpdated"
	MembersAddedToGroup     = "membersAddedToGroup"
	UserAddedToGroup        = "userAddedToGroup"
	MembersRemovedFromGroup = "membersRemovedFromGroup"
	UserRemovedFromGroup    = "userRemovedFromGroup"
	GroupDeleted            = "groupDeleted"
)

// Client to server, relayed by the hub.
const (
	Typing      = "typing"
	GroupTyping = "groupTyping"
)

// ForConversation picks the direct or group flavour of a message event.
func ForConversation(isGroup bool, direct, group string) string {
	if isGroup {
		return group
	}
	return direct
}
