package model

import (
	"slices"
	"time"
)

// Group is the aggregate persisted across `chat_groups` and `group_members`.
// Admins is always a subset of Members.
type Group struct {
	ID          string    `json:"_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ProfilePic  string    `json:"profilePic"`
	CreatedBy   string    `json:"createdBy"`
	Members     []string  `json:"members"`
	Admins      []string  `json:"admin"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (g Group) IsMember(userID string) bool { return slices.Contains(g.Members, userID) }

func (g Group) IsAdmin(userID string) bool { return slices.Contains(g.Admins, userID) }

// Clone returns a deep copy so callers can mutate membership speculatively.
func (g Group) Clone() Group {
	g.Members = slices.Clone(g.Members)
	g.Admins = slices.Clone(g.Admins)
	return g
}
