package model

import (
	"slices"
	"time"
)

// Location is a GeoJSON-style point attached to a message.
type Location struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// Contact is a shared user card resolved at send time.
type Contact struct {
	UserID     string `json:"userId"`
	FullName   string `json:"fullName"`
	ProfilePic string `json:"profilePic"`
}

// Content holds the optional payload fields. Text is ciphertext once the
// message is persisted.
type Content struct {
	Text         string    `json:"text,omitempty"`
	Image        string    `json:"image,omitempty"`
	Voice        string    `json:"voice,omitempty"`
	Video        string    `json:"video,omitempty"`
	Document     string    `json:"document,omitempty"`
	OriginalName string    `json:"originalName,omitempty"`
	GIF          string    `json:"gif,omitempty"`
	Location     *Location `json:"location,omitempty"`
	Contact      *Contact  `json:"contact,omitempty"`
	RepliedTo    string    `json:"repliedTo,omitempty"`
}

// Empty reports whether no displayable field is set. OriginalName and
// RepliedTo only qualify another field.
func (c Content) Empty() bool {
	return c.Text == "" && c.Image == "" && c.Voice == "" && c.Video == "" &&
		c.Document == "" && c.GIF == "" && c.Location == nil && c.Contact == nil
}

// Message mirrors the `messages` table. Exactly one of ReceiverID and
// GroupID is set.
type Message struct {
	ID         string
	SenderID   string
	ReceiverID string
	GroupID    string
	Content
	Reactions Reactions
	Pinned    bool
	IsEdited  bool
	ReadBy    []string
	ExpiresAt *time.Time
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (m Message) IsGroup() bool { return m.GroupID != "" }

// Conversation returns the conversation the message belongs to.
func (m Message) Conversation() Conversation {
	if m.IsGroup() {
		return GroupConversation(m.GroupID)
	}
	return DirectConversation(m.SenderID, m.ReceiverID)
}

func (m Message) ExpiredAt(now time.Time) bool {
	return m.ExpiresAt != nil && !now.Before(*m.ExpiresAt)
}

// MarkRead adds userID to ReadBy and reports whether it was absent.
func (m *Message) MarkRead(userID string) bool {
	if slices.Contains(m.ReadBy, userID) {
		return false
	}
	m.ReadBy = append(m.ReadBy, userID)
	return true
}

// Clone deep-copies the mutable parts.
func (m Message) Clone() Message {
	m.ReadBy = slices.Clone(m.ReadBy)
	m.Reactions = m.Reactions.Clone()
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		m.ExpiresAt = &t
	}
	if m.Location != nil {
		l := *m.Location
		l.Coordinates = slices.Clone(l.Coordinates)
		m.Location = &l
	}
	if m.Contact != nil {
		c := *m.Contact
		m.Contact = &c
	}
	return m
}

// Conversation identifies either a peer pair or a group. A and B of a
// direct conversation are stored in sorted order so both sides compare equal.
type Conversation struct {
	A, B    string
	GroupID string
}

func DirectConversation(u1, u2 string) Conversation {
	if u2 < u1 {
		u1, u2 = u2, u1
	}
	return Conversation{A: u1, B: u2}
}

func GroupConversation(groupID string) Conversation { return Conversation{GroupID: groupID} }

func (c Conversation) IsGroup() bool { return c.GroupID != "" }

// Key is a stable identifier used for logging and event payloads.
func (c Conversation) Key() string {
	if c.IsGroup() {
		return "group:" + c.GroupID
	}
	return "direct:" + c.A + ":" + c.B
}

// Peer returns the other side of a direct conversation.
func (c Conversation) Peer(userID string) string {
	if c.A == userID {
		return c.B
	}
	return c.A
}
