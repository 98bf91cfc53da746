package ledger

import (
	"time"

	"github.com/iliyamo/echosecure-chat/internal/model"
)

// Target names the conversation a message is sent into.
type Target struct {
	ReceiverID string
	GroupID    string
}

func ToUser(id string) Target  { return Target{ReceiverID: id} }
func ToGroup(id string) Target { return Target{GroupID: id} }

func (t Target) IsGroup() bool { return t.GroupID != "" }

func (t Target) id() string {
	if t.IsGroup() {
		return t.GroupID
	}
	return t.ReceiverID
}

// View is a message as clients see it: text decrypted, reactions as a
// plain emoji -> users map.
type View struct {
	ID         string `json:"_id"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName,omitempty"`
	ReceiverID string `json:"receiverId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
	model.Content
	Reactions map[string][]string `json:"reactions"`
	Pinned    bool                `json:"pinned"`
	IsEdited  bool                `json:"isEdited"`
	ReadBy    []string            `json:"readBy"`
	ExpiresAt *time.Time          `json:"expiresAt,omitempty"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

func (s *Service) view(m model.Message) View {
	v := View{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		GroupID:    m.GroupID,
		Content:    m.Content,
		Reactions:  m.Reactions.Map(),
		Pinned:     m.Pinned,
		IsEdited:   m.IsEdited,
		ReadBy:     m.ReadBy,
		ExpiresAt:  m.ExpiresAt,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
	v.Text = s.cipher.Decrypt(m.Text)
	if v.ReadBy == nil {
		v.ReadBy = []string{}
	}
	return v
}

func (s *Service) views(ms []model.Message) []View {
	out := make([]View, 0, len(ms))
	for _, m := range ms {
		out = append(out, s.view(m))
	}
	return out
}

// ReactionChange is the payload of reaction events.
type ReactionChange struct {
	MessageID string              `json:"messageId"`
	GroupID   string              `json:"groupId,omitempty"`
	UserID    string              `json:"userId"`
	Emoji     string              `json:"emoji"`
	Removed   bool                `json:"removed"`
	Reactions map[string][]string `json:"reactions"`
}

// ReadReceipt is the payload of read events.
type ReadReceipt struct {
	MessageID string `json:"messageId"`
	GroupID   string `json:"groupId,omitempty"`
	ReadBy    string `json:"readBy"`
}

// Removal is the payload of delete and expiry events.
type Removal struct {
	MessageID  string `json:"messageId"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
}

func removalOf(m model.Message) Removal {
	return Removal{MessageID: m.ID, SenderID: m.SenderID, ReceiverID: m.ReceiverID, GroupID: m.GroupID}
}
